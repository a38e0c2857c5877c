// Package router delivers application messages between agents over the
// connection graph: single-hop routing, broadcast fan-out and ordered
// workflow execution. Every attempt is recorded in the message history
// whatever its outcome; routing failures become recorded state, not
// returned errors.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lucianocrossaniell/Agent-Orch/internal/graph"
	"github.com/lucianocrossaniell/Agent-Orch/internal/history"
	"github.com/lucianocrossaniell/Agent-Orch/internal/observability"
	"github.com/lucianocrossaniell/Agent-Orch/internal/registry"
	metrics "github.com/lucianocrossaniell/Agent-Orch/pkg/observability"
)

// maxBroadcastWorkers bounds concurrent per-edge routing calls during
// a broadcast.
const maxBroadcastWorkers = 8

// QueryGateway is the registry capability the router needs: reaching a
// running agent's query endpoint.
type QueryGateway interface {
	SendQuery(ctx context.Context, id, query string, extra map[string]any) (*registry.QueryResponse, error)
}

// Router routes messages between agents using the connection graph for
// permission and the gateway for delivery.
type Router struct {
	graph   *graph.ConnectionGraph
	gateway QueryGateway
	store   history.Store
}

// New creates a router.
func New(g *graph.ConnectionGraph, gateway QueryGateway, store history.Store) *Router {
	return &Router{graph: g, gateway: gateway, store: store}
}

// RouteMessage routes one message from -> to. The returned record
// carries the terminal status; a missing or disabled edge fails the
// message without contacting any agent.
func (r *Router) RouteMessage(ctx context.Context, from, to, text string, extra map[string]any) history.Message {
	ctx, span := observability.StartSpan(ctx, "router.route",
		trace.WithAttributes(
			attribute.String("message.from", from),
			attribute.String("message.to", to),
		),
	)
	defer span.End()

	msg := history.Message{
		ID:        uuid.New().String(),
		FromAgent: from,
		ToAgent:   to,
		Message:   text,
		Context:   extra,
		Timestamp: time.Now(),
		Status:    history.StatusPending,
	}
	r.record(ctx, msg)

	conn, found := r.graph.FindRoute(from, to)
	switch {
	case !found:
		msg.Status = history.StatusError
		msg.Error = fmt.Sprintf("no connection from %s to %s", from, to)
	case !conn.Enabled:
		msg.Status = history.StatusError
		msg.Error = fmt.Sprintf("connection from %s to %s is disabled", from, to)
	default:
		msg.Status = history.StatusSent
		r.record(ctx, msg)

		queryCtx := mergeContext(extra, map[string]any{
			"from_agent": from,
			"message_id": msg.ID,
			"routing_info": map[string]any{
				"connection_id": conn.ID,
				"from_handle":   conn.FromHandle,
				"to_handle":     conn.ToHandle,
			},
		})

		resp, err := r.gateway.SendQuery(ctx, to, text, queryCtx)
		if err != nil {
			msg.Status = history.StatusError
			msg.Error = err.Error()
			log.WithFields(log.Fields{"from": from, "to": to}).
				Errorf("failed to route message: %v", err)
		} else {
			msg.Status = history.StatusDelivered
			msg.Response = resp.Response
			log.WithFields(log.Fields{"from": from, "to": to}).
				Info("message routed")
		}
	}

	r.record(ctx, msg)
	metrics.RecordRoutedMessage(string(msg.Status))
	span.SetAttributes(attribute.String("message.status", string(msg.Status)))
	return msg
}

// Broadcast routes the message over every enabled outbound edge of
// from. Edges are routed concurrently; per-edge failures never abort
// the siblings. Results follow edge insertion order.
func (r *Router) Broadcast(ctx context.Context, from, text string, extra map[string]any) []history.Message {
	edges := r.graph.From(from)

	ctx, span := observability.StartSpan(ctx, "router.broadcast",
		trace.WithAttributes(
			attribute.String("message.from", from),
			attribute.Int("edges.count", len(edges)),
		),
	)
	defer span.End()

	results := make([]history.Message, len(edges))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxBroadcastWorkers)
	for i, edge := range edges {
		i, edge := i, edge
		g.Go(func() error {
			results[i] = r.RouteMessage(gctx, from, edge.ToAgent, text, extra)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// record writes the message to history; a store failure is logged but
// never fails the routing call.
func (r *Router) record(ctx context.Context, msg history.Message) {
	if err := r.store.Record(ctx, msg); err != nil {
		log.WithFields(log.Fields{"message": msg.ID}).
			Warnf("failed to record message history: %v", err)
	}
}

// History returns up to limit recorded messages, most recent first.
func (r *Router) History(ctx context.Context, limit int) ([]history.Message, error) {
	return r.store.Recent(ctx, limit)
}

// mergeContext copies base and lays overlay keys on top.
func mergeContext(base, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
