package process

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// EarlyExitError is returned when a worker dies during the settle
// window right after spawn. It carries the captured output verbatim.
type EarlyExitError struct {
	PID    int
	Stdout string
	Stderr string
}

func (e *EarlyExitError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		detail = strings.TrimSpace(e.Stdout)
	}
	return fmt.Sprintf("agent process died: %s", detail)
}

// Supervisor spawns worker processes and tears them down with a
// graceful-then-forced escalation.
type Supervisor struct {
	spawner Spawner
	settle  time.Duration
	grace   time.Duration
}

// NewSupervisor creates a supervisor. settle is the post-spawn window
// in which an exit counts as a launch failure; grace is the time a
// terminated process gets before it is killed.
func NewSupervisor(spawner Spawner, settle, grace time.Duration) *Supervisor {
	if spawner == nil {
		spawner = ExecSpawner{}
	}
	return &Supervisor{spawner: spawner, settle: settle, grace: grace}
}

// Launch spawns the process and waits out the settle window. If the
// process exits within it, the handle's captured output is wrapped in
// an EarlyExitError and the handle is returned alongside it so the
// caller can still inspect it.
func (s *Supervisor) Launch(ctx context.Context, spec Spec) (Handle, error) {
	h, err := s.spawner.Spawn(ctx, spec)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"pid": h.PID(),
		"cmd": spec.Command[0],
		"dir": spec.Dir,
	}).Debug("spawned worker process")

	if h.WaitExit(s.settle) {
		stdout, stderr := h.Output()
		return h, &EarlyExitError{PID: h.PID(), Stdout: stdout, Stderr: stderr}
	}

	return h, nil
}

// Shutdown terminates the process, waits out the grace period and
// kills it if still alive. A process that is already gone is success.
func (s *Supervisor) Shutdown(h Handle) error {
	if h == nil || !h.Alive() {
		return nil
	}

	if err := h.Terminate(); err != nil {
		// Signal delivery can race the exit; treat a dead process as done.
		if !h.Alive() {
			return nil
		}
		return fmt.Errorf("terminate pid %d: %w", h.PID(), err)
	}

	if h.WaitExit(s.grace) {
		return nil
	}

	log.WithFields(log.Fields{"pid": h.PID(), "grace": s.grace}).
		Warn("process ignored termination signal, killing")

	if err := h.Kill(); err != nil && h.Alive() {
		return fmt.Errorf("kill pid %d: %w", h.PID(), err)
	}
	h.WaitExit(s.grace)
	return nil
}
