// Package monitor runs the periodic health sweep over registered
// agents. Agents that stop answering are demoted to error; agents that
// recover are promoted back to running.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"github.com/lucianocrossaniell/Agent-Orch/internal/agent"
)

// sweepTimeout bounds one full pass over the registry.
const sweepTimeout = 30 * time.Second

// Registry is the slice of the agent registry the monitor probes.
type Registry interface {
	Snapshot() []agent.Record
	RefreshHealth(ctx context.Context, id string)
}

// Monitor schedules recurring health sweeps.
type Monitor struct {
	reg      Registry
	schedule string
	cron     *cron.Cron
}

// New creates a monitor with a cron schedule such as "@every 30s".
func New(reg Registry, schedule string) *Monitor {
	return &Monitor{reg: reg, schedule: schedule}
}

// Start begins the sweep schedule. The first sweep runs after one full
// schedule interval, not immediately.
func (m *Monitor) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(m.schedule, m.Sweep); err != nil {
		return fmt.Errorf("invalid monitor schedule %q: %w", m.schedule, err)
	}
	c.Start()
	m.cron = c
	log.WithFields(log.Fields{"schedule": m.schedule}).Info("health monitor started")
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (m *Monitor) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
	m.cron = nil
	log.Info("health monitor stopped")
}

// Sweep probes every agent that claims to be running or is parked in
// error. Stopped agents are left alone; agents mid-transition are
// skipped by the registry itself.
func (m *Monitor) Sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	for _, rec := range m.reg.Snapshot() {
		switch rec.Status {
		case agent.StatusRunning, agent.StatusError:
			m.reg.RefreshHealth(ctx, rec.ID)
		}
	}
}
