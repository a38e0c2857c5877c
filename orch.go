// Package orch wires the agent orchestrator together: the process
// supervisor, health prober, agent registry, connection graph, message
// router and background monitor, plus the observability surface.
package orch

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/lucianocrossaniell/Agent-Orch/internal/agent"
	"github.com/lucianocrossaniell/Agent-Orch/internal/graph"
	"github.com/lucianocrossaniell/Agent-Orch/internal/history"
	"github.com/lucianocrossaniell/Agent-Orch/internal/monitor"
	"github.com/lucianocrossaniell/Agent-Orch/internal/observability"
	"github.com/lucianocrossaniell/Agent-Orch/internal/process"
	"github.com/lucianocrossaniell/Agent-Orch/internal/registry"
	"github.com/lucianocrossaniell/Agent-Orch/internal/router"
	"github.com/lucianocrossaniell/Agent-Orch/pkg/config"
	obsserver "github.com/lucianocrossaniell/Agent-Orch/pkg/observability"
)

// monitorDisabled turns the background health sweep off.
const monitorDisabled = "off"

// Orchestrator owns every subsystem and exposes the public API the CLI
// and embedding programs use.
type Orchestrator struct {
	cfg      *config.Config
	registry *registry.Registry
	gateway  *registry.Gateway
	graph    *graph.ConnectionGraph
	store    history.Store
	router   *router.Router
	monitor  *monitor.Monitor
	obs      *obsserver.Server
}

// New builds an orchestrator from configuration. A nil spawner selects
// real process execution.
func New(cfg *config.Config, spawner process.Spawner) (*Orchestrator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := newHistoryStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New(cfg, spawner)
	gateway := registry.NewGateway(reg, cfg.Query)
	connGraph := graph.New()

	o := &Orchestrator{
		cfg:      cfg,
		registry: reg,
		gateway:  gateway,
		graph:    connGraph,
		store:    store,
		router:   router.New(connGraph, gateway, store),
	}

	if cfg.MonitorSchedule != monitorDisabled {
		o.monitor = monitor.New(reg, cfg.MonitorSchedule)
	}

	checker := obsserver.NewHealthChecker()
	checker.RegisterCheck(&obsserver.HealthCheck{
		Name:     "history",
		Critical: true,
		CheckFunc: func(ctx context.Context) error {
			_, err := store.Count(ctx)
			return err
		},
	})
	checker.RegisterCheck(&obsserver.HealthCheck{
		Name: "agents",
		CheckFunc: func(context.Context) error {
			for _, rec := range reg.Snapshot() {
				if rec.Status == agent.StatusError {
					return fmt.Errorf("agent %s is in error: %s", rec.ID, rec.ErrorMessage)
				}
			}
			return nil
		},
	})
	o.obs = obsserver.NewServer(cfg.Host, cfg.Port, checker)

	return o, nil
}

func newHistoryStore(cfg *config.Config) (history.Store, error) {
	switch cfg.History.Backend {
	case "redis":
		store, err := history.NewRedisStore(history.RedisConfig{
			Addr:     cfg.History.Redis.Addr,
			Password: cfg.History.Redis.Password,
			DB:       cfg.History.Redis.DB,
			Prefix:   cfg.History.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("history backend: %w", err)
		}
		return store, nil
	default:
		return history.NewMemoryStore(), nil
	}
}

// Run starts the background monitor and serves the observability
// endpoints until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := observability.InitFromEnv(); err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	obsserver.InitMetrics()

	if o.monitor != nil {
		if err := o.monitor.Start(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{
			"host": o.cfg.Host,
			"port": o.cfg.Port,
		}).Info("orchestrator listening")
		errCh <- o.obs.Start()
	}()

	select {
	case <-ctx.Done():
		return o.Shutdown(context.Background())
	case err := <-errCh:
		shutdownErr := o.Shutdown(context.Background())
		return multierror.Append(err, shutdownErr).ErrorOrNil()
	}
}

// Shutdown stops the monitor, every agent, the observability server
// and the history store.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var result *multierror.Error

	if o.monitor != nil {
		o.monitor.Stop()
	}
	if err := o.registry.StopAll(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := o.obs.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := o.store.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := observability.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	log.Info("orchestrator stopped")
	return result.ErrorOrNil()
}

// CreateAgent registers an agent and tries to start it. The record is
// returned even when the start fails so the caller can inspect the
// error state.
func (o *Orchestrator) CreateAgent(ctx context.Context, cfg agent.Config) (agent.Record, error) {
	return o.registry.CreateAgent(ctx, cfg)
}

// StartAgent starts a stopped or errored agent.
func (o *Orchestrator) StartAgent(ctx context.Context, id string) error {
	return o.registry.StartAgent(ctx, id)
}

// StopAgent stops an agent. Unknown ids report false.
func (o *Orchestrator) StopAgent(ctx context.Context, id string) bool {
	return o.registry.StopAgent(ctx, id)
}

// DeleteAgent stops and removes an agent along with every connection
// that touches it.
func (o *Orchestrator) DeleteAgent(ctx context.Context, id string) bool {
	if !o.registry.DeleteAgent(ctx, id) {
		return false
	}
	removed := o.graph.RemoveForAgent(id)
	if len(removed) > 0 {
		log.WithFields(log.Fields{
			"agent":       id,
			"connections": len(removed),
		}).Info("removed connections for deleted agent")
	}
	return true
}

// UpdateAgent applies a partial config update, restarting a running
// agent so the change takes effect.
func (o *Orchestrator) UpdateAgent(ctx context.Context, id string, upd agent.Update) (agent.Record, error) {
	return o.registry.UpdateAgent(ctx, id, upd)
}

// GetAgent returns an agent record with its health refreshed.
func (o *Orchestrator) GetAgent(ctx context.Context, id string) (agent.Record, bool) {
	return o.registry.GetStatus(ctx, id)
}

// ListAgents returns all agent records with running agents re-probed.
func (o *Orchestrator) ListAgents(ctx context.Context) []agent.Record {
	return o.registry.ListAgents(ctx)
}

// QueryAgent sends a query straight to a running agent, bypassing the
// connection graph.
func (o *Orchestrator) QueryAgent(ctx context.Context, id, query string, extra map[string]any) (*registry.QueryResponse, error) {
	return o.gateway.SendQuery(ctx, id, query, extra)
}

// AddConnection registers a directed edge between two agents. The
// endpoints are not checked against the registry: an edge may name an
// unknown or since-deleted agent, and routing over it fails at use
// time instead.
func (o *Orchestrator) AddConnection(conn graph.Connection) graph.Connection {
	return o.graph.Add(conn)
}

// RemoveConnection deletes an edge by id.
func (o *Orchestrator) RemoveConnection(id string) bool {
	return o.graph.Remove(id)
}

// GetConnection returns an edge by id.
func (o *Orchestrator) GetConnection(id string) (graph.Connection, bool) {
	return o.graph.Get(id)
}

// ListConnections returns every edge in insertion order.
func (o *Orchestrator) ListConnections() []graph.Connection {
	return o.graph.List()
}

// ConnectionsFrom returns the enabled outbound edges of an agent.
func (o *Orchestrator) ConnectionsFrom(agentID string) []graph.Connection {
	return o.graph.From(agentID)
}

// ConnectionsTo returns the enabled inbound edges of an agent.
func (o *Orchestrator) ConnectionsTo(agentID string) []graph.Connection {
	return o.graph.To(agentID)
}

// RouteMessage routes one message over the connection graph.
func (o *Orchestrator) RouteMessage(ctx context.Context, from, to, text string, extra map[string]any) history.Message {
	return o.router.RouteMessage(ctx, from, to, text, extra)
}

// Broadcast fans a message out over every enabled outbound edge.
func (o *Orchestrator) Broadcast(ctx context.Context, from, text string, extra map[string]any) []history.Message {
	return o.router.Broadcast(ctx, from, text, extra)
}

// ExecuteWorkflow runs agents in sequence, chaining responses.
func (o *Orchestrator) ExecuteWorkflow(ctx context.Context, agents []string, initialMessage string, extra map[string]any) (*router.WorkflowResult, error) {
	return o.router.ExecuteWorkflow(ctx, agents, initialMessage, extra)
}

// History returns up to limit recorded messages, most recent first.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]history.Message, error) {
	return o.router.History(ctx, limit)
}
