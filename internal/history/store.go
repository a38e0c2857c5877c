// Package history records routed messages. The store is append-only
// from the router's point of view: a message is recorded when routing
// begins and re-recorded once it reaches its terminal status; nothing
// mutates it afterwards.
package history

import (
	"context"
	"errors"
	"time"
)

// Status tracks a routed message through its lifecycle. It only moves
// forward: pending -> sent -> delivered, or pending/sent -> error.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusError     Status = "error"
)

// Message is one recorded attempt to deliver text between two agents.
type Message struct {
	ID        string         `json:"id"`
	FromAgent string         `json:"from_agent"`
	ToAgent   string         `json:"to_agent"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Status    Status         `json:"status"`
	Response  string         `json:"response,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// ErrStoreClosed is returned when operating on a closed store.
var ErrStoreClosed = errors.New("history store is closed")

// Store abstracts routed-message history persistence. Implementations
// must be safe for concurrent record plus snapshot reads.
type Store interface {
	// Record inserts the message, or replaces it when the id is
	// already present (the routing call updating its own record).
	Record(ctx context.Context, msg Message) error

	// Recent returns up to limit messages, most recent first.
	// limit <= 0 yields an empty slice.
	Recent(ctx context.Context, limit int) ([]Message, error)

	// Count returns the number of recorded messages.
	Count(ctx context.Context) (int, error)

	// Close releases any resources held by the store.
	Close() error
}
