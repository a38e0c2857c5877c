package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucianocrossaniell/Agent-Orch/internal/agent"
)

type fakeRegistry struct {
	mu      sync.Mutex
	records []agent.Record
	probed  []string
}

func (f *fakeRegistry) Snapshot() []agent.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agent.Record(nil), f.records...)
}

func (f *fakeRegistry) RefreshHealth(_ context.Context, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, id)
}

func (f *fakeRegistry) probedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probed...)
}

func TestSweepProbesRunningAndErrorOnly(t *testing.T) {
	reg := &fakeRegistry{records: []agent.Record{
		{ID: "a", Status: agent.StatusRunning},
		{ID: "b", Status: agent.StatusStopped},
		{ID: "c", Status: agent.StatusError},
		{ID: "d", Status: agent.StatusStarting},
		{ID: "e", Status: agent.StatusStopping},
	}}

	New(reg, "@every 30s").Sweep()

	assert.Equal(t, []string{"a", "c"}, reg.probedIDs())
}

func TestSweepEmptyRegistry(t *testing.T) {
	reg := &fakeRegistry{}
	New(reg, "@every 30s").Sweep()
	assert.Empty(t, reg.probedIDs())
}

func TestStartRejectsBadSchedule(t *testing.T) {
	m := New(&fakeRegistry{}, "not a schedule")
	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid monitor schedule")
}

func TestStartAndStop(t *testing.T) {
	reg := &fakeRegistry{records: []agent.Record{
		{ID: "a", Status: agent.StatusRunning},
	}}
	m := New(reg, "@every 10ms")
	require.NoError(t, m.Start())

	assert.Eventually(t, func() bool {
		return len(reg.probedIDs()) > 0
	}, time.Second, 5*time.Millisecond)

	m.Stop()
	m.Stop() // idempotent
}
