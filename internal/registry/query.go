package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/lucianocrossaniell/Agent-Orch/internal/agent"
	"github.com/lucianocrossaniell/Agent-Orch/pkg/config"
	"github.com/lucianocrossaniell/Agent-Orch/pkg/observability"
)

// QueryResponse is a worker's answer to one query.
type QueryResponse struct {
	// Response is the worker's primary response text.
	Response string
	// Raw is the full decoded response body.
	Raw map[string]any
}

// Gateway is the registry's query capability: the single path through
// which the router (or API layer) reaches a worker's query endpoint.
// Failures propagate verbatim; retrying is the prober's concern, not
// the gateway's.
type Gateway struct {
	reg    *Registry
	client *http.Client

	rps   float64
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewGateway creates a query gateway over the registry.
func NewGateway(reg *Registry, cfg config.QueryConfig) *Gateway {
	return &Gateway{
		reg:      reg,
		client:   &http.Client{Timeout: cfg.Timeout.Duration},
		rps:      cfg.RequestsPerSecond,
		burst:    cfg.Burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiter returns the per-agent rate limiter, creating it on first use.
func (g *Gateway) limiter(id string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.limiters[id]
	if !ok {
		l = rate.NewLimiter(rate.Limit(g.rps), g.burst)
		g.limiters[id] = l
	}
	return l
}

// SendQuery sends a query to the agent's query endpoint. It fails fast
// when the agent is unknown or not running.
func (g *Gateway) SendQuery(ctx context.Context, id, query string, extra map[string]any) (*QueryResponse, error) {
	rec, ok := g.reg.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", agent.ErrAgentNotFound, id)
	}
	if rec.Status != agent.StatusRunning {
		return nil, fmt.Errorf("%w: %s (status: %s)", agent.ErrAgentNotRunning, id, rec.Status)
	}
	if g.rps > 0 && !g.limiter(id).Allow() {
		return nil, fmt.Errorf("query rate limit exceeded for agent %s", id)
	}

	if extra == nil {
		extra = map[string]any{}
	}
	payload, err := json.Marshal(map[string]any{
		"query":      query,
		"session_id": "orch-" + id,
		"context":    extra,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		rec.URL+"/agent/query", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build query request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		observability.ObserveQueryDuration("error", time.Since(start))
		log.WithFields(log.Fields{"agent": id}).Errorf("failed to query agent: %v", err)
		return nil, fmt.Errorf("query agent %s: %w", id, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		observability.ObserveQueryDuration("error", time.Since(start))
		return nil, fmt.Errorf("read query response from %s: %w", id, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observability.ObserveQueryDuration("error", time.Since(start))
		return nil, fmt.Errorf("agent %s query returned %d: %s", id, resp.StatusCode, truncate(string(body), 200))
	}
	observability.ObserveQueryDuration("ok", time.Since(start))

	raw := map[string]any{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode query response from %s: %w", id, err)
	}

	text, _ := raw["response"].(string)
	return &QueryResponse{Response: text, Raw: raw}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
