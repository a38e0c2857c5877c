package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lucianocrossaniell/Agent-Orch/internal/history"
	"github.com/lucianocrossaniell/Agent-Orch/internal/observability"
	metrics "github.com/lucianocrossaniell/Agent-Orch/pkg/observability"
)

// Workflow terminal statuses.
const (
	WorkflowCompleted      = "completed"
	WorkflowPartialFailure = "partial_failure"
)

// Step terminal statuses.
const (
	StepSuccess = "success"
	StepError   = "error"
)

// StepResult is the outcome of one workflow step.
type StepResult struct {
	AgentID  string `json:"agent_id"`
	Step     int    `json:"step"`
	Query    string `json:"query"`
	Response string `json:"response,omitempty"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

// WorkflowResult is the outcome of a sequential workflow run.
type WorkflowResult struct {
	WorkflowID     string       `json:"workflow_id"`
	InitialMessage string       `json:"initial_message"`
	Agents         []string     `json:"agents"`
	Steps          []StepResult `json:"steps"`
	FinalResult    string       `json:"final_result"`
	Status         string       `json:"status"`
	StartedAt      time.Time    `json:"started_at"`
	FinishedAt     time.Time    `json:"finished_at"`
}

// ExecuteWorkflow queries each agent in order, feeding every agent the
// previous step's response as its query. A failed step does not abort
// the run: the last successful response carries forward to the next
// agent and the workflow finishes with status partial_failure.
func (r *Router) ExecuteWorkflow(ctx context.Context, agents []string, initialMessage string, extra map[string]any) (*WorkflowResult, error) {
	if len(agents) == 0 {
		return nil, errors.New("workflow requires at least one agent")
	}

	workflowID := uuid.New().String()

	ctx, span := observability.StartSpan(ctx, "router.workflow",
		trace.WithAttributes(
			attribute.String("workflow.id", workflowID),
			attribute.Int("workflow.agents", len(agents)),
		),
	)
	defer span.End()

	result := &WorkflowResult{
		WorkflowID:     workflowID,
		InitialMessage: initialMessage,
		Agents:         agents,
		Steps:          make([]StepResult, 0, len(agents)),
		Status:         WorkflowCompleted,
		StartedAt:      time.Now(),
	}

	log.WithFields(log.Fields{
		"workflow": workflowID,
		"agents":   agents,
	}).Info("starting workflow")

	current := initialMessage
	stepCtx := mergeContext(extra, map[string]any{"workflow_id": workflowID})

	for i, id := range agents {
		step := StepResult{
			AgentID: id,
			Step:    i + 1,
			Query:   current,
		}

		queryCtx := mergeContext(stepCtx, map[string]any{
			"workflow_step": i + 1,
			"total_steps":   len(agents),
		})

		resp, err := r.gateway.SendQuery(ctx, id, current, queryCtx)
		if err != nil {
			step.Status = StepError
			step.Error = err.Error()
			result.Status = WorkflowPartialFailure
			log.WithFields(log.Fields{
				"workflow": workflowID,
				"agent":    id,
				"step":     i + 1,
			}).Errorf("workflow step failed: %v", err)
		} else {
			step.Status = StepSuccess
			step.Response = resp.Response
			if _, ok := resp.Raw["response"]; ok {
				current = resp.Response
			}
			stepCtx["previous_agent"] = id
		}
		// The next step always sees this step's record, failed or not;
		// previous_agent tracks the last success only.
		stepCtx["previous_result"] = step
		metrics.RecordWorkflowStep(step.Status)
		result.Steps = append(result.Steps, step)

		if i < len(agents)-1 {
			if conn, ok := r.graph.FindRoute(id, agents[i+1]); !ok || !conn.Enabled {
				log.WithFields(log.Fields{
					"workflow": workflowID,
					"from":     id,
					"to":       agents[i+1],
				}).Warn("no enabled connection between workflow steps, continuing anyway")
			}
		}
	}

	last := result.Steps[len(result.Steps)-1]
	result.FinalResult = last.Response
	result.FinishedAt = time.Now()

	r.record(ctx, history.Message{
		ID:        workflowID,
		FromAgent: "workflow",
		ToAgent:   fmt.Sprintf("%d agents", len(agents)),
		Message:   initialMessage,
		Context:   extra,
		Timestamp: result.FinishedAt,
		Status:    workflowHistoryStatus(result.Status),
		Response:  result.FinalResult,
	})

	span.SetAttributes(attribute.String("workflow.status", result.Status))
	log.WithFields(log.Fields{
		"workflow": workflowID,
		"status":   result.Status,
	}).Info("workflow finished")

	return result, nil
}

func workflowHistoryStatus(status string) history.Status {
	if status == WorkflowCompleted {
		return history.StatusDelivered
	}
	return history.StatusError
}
