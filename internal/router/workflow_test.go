package router

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucianocrossaniell/Agent-Orch/internal/graph"
	"github.com/lucianocrossaniell/Agent-Orch/internal/history"
)

func chain(g *graph.ConnectionGraph, agents ...string) {
	for i := 0; i < len(agents)-1; i++ {
		g.Add(graph.Connection{FromAgent: agents[i], ToAgent: agents[i+1], Enabled: true})
	}
}

func TestExecuteWorkflowCompleted(t *testing.T) {
	r, g, gw, store := newTestRouter()
	chain(g, "alpha", "beta", "gamma")
	gw.responses["alpha"] = "summary"
	gw.responses["beta"] = "translation"
	gw.responses["gamma"] = "final report"

	result, err := r.ExecuteWorkflow(context.Background(), []string{"alpha", "beta", "gamma"}, "raw notes", map[string]any{"tenant": "acme"})
	require.NoError(t, err)

	assert.Equal(t, WorkflowCompleted, result.Status)
	assert.Equal(t, "final report", result.FinalResult)
	assert.Equal(t, "raw notes", result.InitialMessage)
	require.Len(t, result.Steps, 3)

	// Each step consumes the previous step's response.
	assert.Equal(t, "raw notes", result.Steps[0].Query)
	assert.Equal(t, "summary", result.Steps[1].Query)
	assert.Equal(t, "translation", result.Steps[2].Query)
	for i, step := range result.Steps {
		assert.Equal(t, StepSuccess, step.Status)
		assert.Equal(t, i+1, step.Step)
	}

	require.Len(t, gw.calls, 3)
	first := gw.calls[0].Context
	assert.Equal(t, result.WorkflowID, first["workflow_id"])
	assert.Equal(t, 1, first["workflow_step"])
	assert.Equal(t, 3, first["total_steps"])
	assert.Equal(t, "acme", first["tenant"])
	assert.NotContains(t, first, "previous_agent")

	second := gw.calls[1].Context
	assert.Equal(t, 2, second["workflow_step"])
	assert.Equal(t, "alpha", second["previous_agent"])
	prev, ok := second["previous_result"].(StepResult)
	require.True(t, ok)
	assert.Equal(t, "summary", prev.Response)

	recent, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, result.WorkflowID, recent[0].ID)
	assert.Equal(t, history.StatusDelivered, recent[0].Status)
	assert.Equal(t, "final report", recent[0].Response)
}

func TestExecuteWorkflowCarriesForwardPastFailure(t *testing.T) {
	r, g, gw, _ := newTestRouter()
	chain(g, "alpha", "beta", "gamma")
	gw.responses["alpha"] = "stage one"
	gw.failing["beta"] = errors.New("agent beta is not running (status: error)")
	gw.responses["gamma"] = "stage three"

	result, err := r.ExecuteWorkflow(context.Background(), []string{"alpha", "beta", "gamma"}, "start", nil)
	require.NoError(t, err)

	assert.Equal(t, WorkflowPartialFailure, result.Status)
	require.Len(t, result.Steps, 3)

	assert.Equal(t, StepSuccess, result.Steps[0].Status)
	assert.Equal(t, StepError, result.Steps[1].Status)
	assert.Contains(t, result.Steps[1].Error, "not running")
	assert.Equal(t, StepSuccess, result.Steps[2].Status)

	// The failed step's input skips ahead to the next agent.
	assert.Equal(t, "stage one", result.Steps[1].Query)
	assert.Equal(t, "stage one", result.Steps[2].Query)
	assert.Equal(t, "stage three", result.FinalResult)

	// The failed step is still what the next step sees as its
	// predecessor, while previous_agent names the last success.
	third := gw.calls[2].Context
	assert.Equal(t, "alpha", third["previous_agent"])
	prev, ok := third["previous_result"].(StepResult)
	require.True(t, ok)
	assert.Equal(t, "beta", prev.AgentID)
	assert.Equal(t, StepError, prev.Status)
	assert.Contains(t, prev.Error, "not running")
}

func TestExecuteWorkflowSingleAgent(t *testing.T) {
	r, _, gw, _ := newTestRouter()
	gw.responses["solo"] = "ok"

	result, err := r.ExecuteWorkflow(context.Background(), []string{"solo"}, "go", nil)
	require.NoError(t, err)

	assert.Equal(t, WorkflowCompleted, result.Status)
	assert.Equal(t, "ok", result.FinalResult)
	require.Len(t, result.Steps, 1)
	assert.Equal(t, "go", result.Steps[0].Query)
}

func TestExecuteWorkflowLastStepFails(t *testing.T) {
	r, g, gw, _ := newTestRouter()
	chain(g, "alpha", "beta")
	gw.responses["alpha"] = "almost there"
	gw.failing["beta"] = errors.New("connection refused")

	result, err := r.ExecuteWorkflow(context.Background(), []string{"alpha", "beta"}, "start", nil)
	require.NoError(t, err)

	assert.Equal(t, WorkflowPartialFailure, result.Status)
	assert.Empty(t, result.FinalResult)
}

func TestExecuteWorkflowNoAgents(t *testing.T) {
	r, _, _, _ := newTestRouter()

	result, err := r.ExecuteWorkflow(context.Background(), nil, "start", nil)
	assert.Error(t, err)
	assert.Nil(t, result)
}

func TestExecuteWorkflowRunsWithoutConnections(t *testing.T) {
	// Workflows are driven by the agent list, not the graph; missing
	// edges only produce a warning.
	r, _, gw, _ := newTestRouter()
	gw.responses["alpha"] = "one"
	gw.responses["beta"] = "two"

	result, err := r.ExecuteWorkflow(context.Background(), []string{"alpha", "beta"}, "start", nil)
	require.NoError(t, err)

	assert.Equal(t, WorkflowCompleted, result.Status)
	assert.Equal(t, "two", result.FinalResult)
}
