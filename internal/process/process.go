// Package process wraps OS process management behind a narrow handle
// interface so the supervisor's lifecycle logic stays independent of
// os/exec and can run against fakes in tests.
package process

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// Spec describes a process to spawn.
type Spec struct {
	// Command is the argv, Command[0] being the executable.
	Command []string
	// Dir is the working directory.
	Dir string
	// Env is the full environment for the child.
	Env []string
}

// Handle is the supervisor's view of a spawned process.
type Handle interface {
	// PID returns the OS process id.
	PID() int
	// Alive reports whether the process has not exited yet.
	Alive() bool
	// Terminate sends the graceful termination signal.
	Terminate() error
	// Kill forcibly ends the process.
	Kill() error
	// WaitExit blocks until the process exits or the timeout elapses,
	// reporting whether it exited in time.
	WaitExit(timeout time.Duration) bool
	// Output returns captured stdout and stderr. Only meaningful once
	// the process has exited.
	Output() (stdout, stderr string)
}

// Spawner starts processes. The exec-backed implementation is used in
// production; tests substitute fakes.
type Spawner interface {
	Spawn(ctx context.Context, spec Spec) (Handle, error)
}

// ExecSpawner spawns real OS processes via os/exec.
type ExecSpawner struct{}

// Spawn starts the process described by spec with captured output.
func (ExecSpawner) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env

	h := &execHandle{done: make(chan struct{})}
	cmd.Stdout = &h.stdout
	cmd.Stderr = &h.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", spec.Command[0], err)
	}
	h.cmd = cmd

	go func() {
		h.waitErr = cmd.Wait()
		close(h.done)
	}()

	return h, nil
}

type execHandle struct {
	cmd     *exec.Cmd
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	done    chan struct{}
	waitErr error
}

func (h *execHandle) PID() int {
	return h.cmd.Process.Pid
}

func (h *execHandle) Alive() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *execHandle) Terminate() error {
	if !h.Alive() {
		return nil
	}
	return h.cmd.Process.Signal(syscall.SIGTERM)
}

func (h *execHandle) Kill() error {
	if !h.Alive() {
		return nil
	}
	return h.cmd.Process.Kill()
}

func (h *execHandle) WaitExit(timeout time.Duration) bool {
	select {
	case <-h.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (h *execHandle) Output() (string, string) {
	// Buffers are flushed by cmd.Wait before done is closed.
	return h.stdout.String(), h.stderr.String()
}
