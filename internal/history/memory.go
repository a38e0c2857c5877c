package history

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps message history in process memory. It is the
// default backend; history does not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]Message
	order    []string // ids in first-record order
	closed   bool
}

// NewMemoryStore creates an empty in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]Message),
	}
}

// Record inserts or replaces a message by id.
func (s *MemoryStore) Record(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.messages[msg.ID]; !exists {
		s.order = append(s.order, msg.ID)
	}
	s.messages[msg.ID] = msg
	return nil
}

// Recent returns up to limit messages, most recent first.
func (s *MemoryStore) Recent(_ context.Context, limit int) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		return []Message{}, nil
	}

	out := make([]Message, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.messages[id])
	}
	// Stable sort keeps record order for identical timestamps.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Count returns the number of recorded messages.
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.messages), nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
