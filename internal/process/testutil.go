package process

import (
	"context"
	"sync"
	"time"
)

// FakeHandle is an in-memory Handle for tests.
type FakeHandle struct {
	Pid        int
	Stdout     string
	Stderr     string
	ExitOnTerm bool // exit when Terminate is called
	ExitOnKill bool // exit when Kill is called

	mu     sync.Mutex
	exited bool
	termed bool
	killed bool
}

// Exit marks the fake process as exited.
func (h *FakeHandle) Exit() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exited = true
}

// Terminated reports whether Terminate was called.
func (h *FakeHandle) Terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.termed
}

// Killed reports whether Kill was called.
func (h *FakeHandle) Killed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.killed
}

func (h *FakeHandle) PID() int { return h.Pid }

func (h *FakeHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.exited
}

func (h *FakeHandle) Terminate() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.termed = true
	if h.ExitOnTerm {
		h.exited = true
	}
	return nil
}

func (h *FakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.killed = true
	if h.ExitOnKill {
		h.exited = true
	}
	return nil
}

func (h *FakeHandle) WaitExit(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !h.Alive() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *FakeHandle) Output() (string, string) { return h.Stdout, h.Stderr }

// FakeSpawner hands out pre-configured handles and records specs.
type FakeSpawner struct {
	Err error // returned instead of spawning when set

	mu      sync.Mutex
	next    []*FakeHandle
	Specs   []Spec
	nextPID int
}

// QueueHandle schedules a handle to be returned by the next Spawn.
func (s *FakeSpawner) QueueHandle(h *FakeHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = append(s.next, h)
}

// Spawn returns the next queued handle, or a fresh alive one.
func (s *FakeSpawner) Spawn(_ context.Context, spec Spec) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	s.Specs = append(s.Specs, spec)

	if len(s.next) > 0 {
		h := s.next[0]
		s.next = s.next[1:]
		return h, nil
	}

	s.nextPID++
	return &FakeHandle{Pid: 1000 + s.nextPID, ExitOnTerm: true, ExitOnKill: true}, nil
}
