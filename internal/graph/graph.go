// Package graph maintains the directed connection multigraph between
// agents that the message router consults for permitted routes.
package graph

import (
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Connection is a directional routing edge between two agents. The
// handle labels are opaque metadata passed through to the destination.
// Connections are not validated against the agent registry; an edge may
// reference a since-deleted agent and fails at routing time instead.
type Connection struct {
	ID         string `json:"id"`
	FromAgent  string `json:"from_agent"`
	ToAgent    string `json:"to_agent"`
	FromHandle string `json:"from_handle"`
	ToHandle   string `json:"to_handle"`
	Enabled    bool   `json:"enabled"`
}

// ConnectionGraph is an in-memory directed multigraph keyed by
// connection id. Parallel edges between the same ordered pair are
// allowed; lookups that must pick one edge use insertion order.
type ConnectionGraph struct {
	conns map[string]*Connection
	order []string // insertion order of connection ids
	mu    sync.RWMutex
}

// New creates an empty connection graph.
func New() *ConnectionGraph {
	return &ConnectionGraph{
		conns: make(map[string]*Connection),
	}
}

// Add inserts a connection, assigning an id if unset. Re-adding an
// existing id replaces the edge in place without changing its position
// in insertion order.
func (g *ConnectionGraph) Add(conn Connection) Connection {
	g.mu.Lock()
	defer g.mu.Unlock()

	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	if _, exists := g.conns[conn.ID]; !exists {
		g.order = append(g.order, conn.ID)
	}
	c := conn
	g.conns[conn.ID] = &c

	log.WithFields(log.Fields{
		"connection": conn.ID,
		"from":       conn.FromAgent,
		"to":         conn.ToAgent,
	}).Info("added connection")

	return conn
}

// Remove deletes a connection by id, reporting whether it existed.
func (g *ConnectionGraph) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.removeLocked(id)
}

func (g *ConnectionGraph) removeLocked(id string) bool {
	if _, exists := g.conns[id]; !exists {
		return false
	}
	delete(g.conns, id)
	for i, other := range g.order {
		if other == id {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	log.WithFields(log.Fields{"connection": id}).Info("removed connection")
	return true
}

// RemoveForAgent deletes every connection where the agent is source or
// destination and returns the removed ids. Used when an agent is
// deleted from the registry.
func (g *ConnectionGraph) RemoveForAgent(agentID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var removed []string
	for _, id := range append([]string(nil), g.order...) {
		conn := g.conns[id]
		if conn.FromAgent == agentID || conn.ToAgent == agentID {
			g.removeLocked(id)
			removed = append(removed, id)
		}
	}
	return removed
}

// Get returns a connection by id.
func (g *ConnectionGraph) Get(id string) (Connection, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	conn, exists := g.conns[id]
	if !exists {
		return Connection{}, false
	}
	return *conn, true
}

// List returns all connections in insertion order.
func (g *ConnectionGraph) List() []Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Connection, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, *g.conns[id])
	}
	return out
}

// From returns the enabled outbound edges of an agent in insertion
// order.
func (g *ConnectionGraph) From(agentID string) []Connection {
	return g.filter(func(c *Connection) bool {
		return c.FromAgent == agentID && c.Enabled
	})
}

// To returns the enabled inbound edges of an agent in insertion order.
func (g *ConnectionGraph) To(agentID string) []Connection {
	return g.filter(func(c *Connection) bool {
		return c.ToAgent == agentID && c.Enabled
	})
}

// FindRoute returns the first edge for the ordered pair (from, to) in
// insertion order, enabled or not; the router distinguishes a missing
// edge from a disabled one. Ties between parallel edges always resolve
// to the earliest-added connection.
func (g *ConnectionGraph) FindRoute(from, to string) (Connection, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, id := range g.order {
		conn := g.conns[id]
		if conn.FromAgent == from && conn.ToAgent == to {
			return *conn, true
		}
	}
	return Connection{}, false
}

// Len returns the number of connections.
func (g *ConnectionGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

func (g *ConnectionGraph) filter(keep func(*Connection) bool) []Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Connection
	for _, id := range g.order {
		if conn := g.conns[id]; keep(conn) {
			out = append(out, *conn)
		}
	}
	return out
}
