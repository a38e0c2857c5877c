package registry

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucianocrossaniell/Agent-Orch/internal/agent"
	"github.com/lucianocrossaniell/Agent-Orch/internal/process"
)

func TestCreateAgentStartsAndRuns(t *testing.T) {
	ctx := context.Background()
	reg, spawner, cfg := newTestRegistry(t)
	_, port := healthyWorker(t)

	rec, err := reg.CreateAgent(ctx, agent.Config{ID: "a1", Name: "writer", Port: port, APIKey: "sk-test"})
	require.NoError(t, err)

	assert.Equal(t, agent.StatusRunning, rec.Status)
	assert.Empty(t, rec.ErrorMessage)
	assert.NotZero(t, rec.PID)
	assert.NotNil(t, rec.LastHealthCheck)
	assert.Equal(t, cfg.DefaultModel, rec.Config.Model)

	// The spawn carried the agent contract environment.
	require.Len(t, spawner.Specs, 1)
	env := spawner.Specs[0].Env
	assert.Contains(t, env, "AGENT_NAME=writer")
	assert.Contains(t, env, "OPENAI_API_KEY=sk-test")
	assert.Contains(t, env, "OMP_NUM_THREADS=1")

	// The env file mirrors it.
	data, err := os.ReadFile(filepath.Join(cfg.Workers["SingleAgent"].Dir, ".env.a1"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "AGENT_NAME=writer")
}

func TestCreateAgentDuplicateID(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry(t)
	_, port := healthyWorker(t)

	_, err := reg.CreateAgent(ctx, agent.Config{ID: "a1", Port: port})
	require.NoError(t, err)

	_, err = reg.CreateAgent(ctx, agent.Config{ID: "a1"})
	assert.ErrorIs(t, err, agent.ErrAgentExists)
}

func TestCreateAgentStartFailureRetainsRecord(t *testing.T) {
	ctx := context.Background()
	reg, _, cfg := newTestRegistry(t)
	cfg.Lifecycle.ProbeMaxAttempts = 1

	// No worker listens on the allocated port, so readiness fails.
	rec, err := reg.CreateAgent(ctx, agent.Config{ID: "a1"})
	require.Error(t, err)

	assert.Equal(t, agent.StatusError, rec.Status)
	assert.NotEmpty(t, rec.ErrorMessage)

	// The record is kept for inspection.
	got, ok := reg.Get("a1")
	require.True(t, ok)
	assert.Equal(t, agent.StatusError, got.Status)
}

func TestPortAllocationPairwiseDistinct(t *testing.T) {
	ctx := context.Background()
	reg, _, cfg := newTestRegistry(t)
	cfg.Lifecycle.ProbeMaxAttempts = 1

	ids := []string{"a1", "a2", "a3", "a4"}
	for _, id := range ids {
		_, _ = reg.CreateAgent(ctx, agent.Config{ID: id}) // start fails; ports still assigned
	}

	seen := map[int]bool{}
	for _, rec := range reg.ListAgents(ctx) {
		assert.False(t, seen[rec.Config.Port], "port %d assigned twice", rec.Config.Port)
		assert.GreaterOrEqual(t, rec.Config.Port, cfg.BasePort)
		seen[rec.Config.Port] = true
	}
	assert.Len(t, seen, len(ids))
}

func TestCreateAgentExplicitPortConflict(t *testing.T) {
	ctx := context.Background()
	reg, _, cfg := newTestRegistry(t)
	cfg.Lifecycle.ProbeMaxAttempts = 1

	_, _ = reg.CreateAgent(ctx, agent.Config{ID: "a1", Port: 9001})
	_, err := reg.CreateAgent(ctx, agent.Config{ID: "a2", Port: 9001})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already assigned")
}

func TestStartAlreadyRunningIsNoop(t *testing.T) {
	ctx := context.Background()
	reg, spawner, _ := newTestRegistry(t)
	_, port := healthyWorker(t)

	_, err := reg.CreateAgent(ctx, agent.Config{ID: "a1", Port: port})
	require.NoError(t, err)
	require.Len(t, spawner.Specs, 1)

	// No second process is spawned.
	require.NoError(t, reg.StartAgent(ctx, "a1"))
	assert.Len(t, spawner.Specs, 1)
}

func TestStartUnknownAgent(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	err := reg.StartAgent(context.Background(), "nope")
	assert.ErrorIs(t, err, agent.ErrAgentNotFound)
}

func TestStartEarlyExitCapturesOutput(t *testing.T) {
	ctx := context.Background()
	reg, spawner, _ := newTestRegistry(t)

	dead := &process.FakeHandle{Pid: 42, Stderr: "Traceback: boom"}
	dead.Exit()
	spawner.QueueHandle(dead)

	rec, err := reg.CreateAgent(ctx, agent.Config{ID: "a1"})
	require.Error(t, err)
	assert.Equal(t, agent.StatusError, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "Traceback: boom")
	// Never left in starting.
	assert.NotEqual(t, agent.StatusStarting, rec.Status)
}

func TestStopAgent(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry(t)
	_, port := healthyWorker(t)

	_, err := reg.CreateAgent(ctx, agent.Config{ID: "a1", Port: port})
	require.NoError(t, err)

	assert.True(t, reg.StopAgent(ctx, "a1"))
	rec, _ := reg.Get("a1")
	assert.Equal(t, agent.StatusStopped, rec.Status)
	assert.Zero(t, rec.PID)
	assert.Empty(t, rec.ErrorMessage)

	// Stopping again is a no-op success; unknown ids report false.
	assert.True(t, reg.StopAgent(ctx, "a1"))
	assert.False(t, reg.StopAgent(ctx, "nope"))
}

func TestDeleteAgentRemovesRecordAndEnvFile(t *testing.T) {
	ctx := context.Background()
	reg, _, cfg := newTestRegistry(t)
	_, port := healthyWorker(t)

	_, err := reg.CreateAgent(ctx, agent.Config{ID: "a1", Port: port})
	require.NoError(t, err)

	envFile := filepath.Join(cfg.Workers["SingleAgent"].Dir, ".env.a1")
	_, statErr := os.Stat(envFile)
	require.NoError(t, statErr)

	assert.True(t, reg.DeleteAgent(ctx, "a1"))
	assert.False(t, reg.DeleteAgent(ctx, "a1"))

	_, ok := reg.Get("a1")
	assert.False(t, ok)
	assert.Empty(t, reg.ListAgents(ctx))

	_, statErr = os.Stat(envFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestGetStatusDemotesUnhealthyAgent(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry(t)

	var healthy atomic.Bool
	healthy.Store(true)
	_, port := fakeWorker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))

	_, err := reg.CreateAgent(ctx, agent.Config{ID: "a1", Port: port})
	require.NoError(t, err)

	healthy.Store(false)
	rec, ok := reg.GetStatus(ctx, "a1")
	require.True(t, ok)
	assert.Equal(t, agent.StatusError, rec.Status)
	assert.NotEmpty(t, rec.ErrorMessage)

	// A succeeding probe restores the record to running.
	healthy.Store(true)
	reg.RefreshHealth(ctx, "a1")
	rec, _ = reg.Get("a1")
	assert.Equal(t, agent.StatusRunning, rec.Status)
	assert.Empty(t, rec.ErrorMessage)
}

func TestUpdateAgentRestartsRunning(t *testing.T) {
	ctx := context.Background()
	reg, spawner, _ := newTestRegistry(t)
	_, port := healthyWorker(t)

	_, err := reg.CreateAgent(ctx, agent.Config{ID: "a1", Port: port, Model: "gpt-4o-mini"})
	require.NoError(t, err)
	require.Len(t, spawner.Specs, 1)

	rec, err := reg.UpdateAgent(ctx, "a1", agent.Update{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", rec.Config.Model)
	assert.Equal(t, agent.StatusRunning, rec.Status)

	// The restart spawned a fresh process with the new model.
	require.Len(t, spawner.Specs, 2)
	assert.Contains(t, spawner.Specs[1].Env, "OPENAI_MODEL=gpt-4o")
}

func TestUpdateAgentNoChangeNoRestart(t *testing.T) {
	ctx := context.Background()
	reg, spawner, _ := newTestRegistry(t)
	_, port := healthyWorker(t)

	_, err := reg.CreateAgent(ctx, agent.Config{ID: "a1", Port: port})
	require.NoError(t, err)

	_, err = reg.UpdateAgent(ctx, "a1", agent.Update{})
	require.NoError(t, err)
	assert.Len(t, spawner.Specs, 1)
}

func TestStopAll(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry(t)
	_, port1 := healthyWorker(t)
	_, port2 := healthyWorker(t)

	_, err := reg.CreateAgent(ctx, agent.Config{ID: "a1", Port: port1})
	require.NoError(t, err)
	_, err = reg.CreateAgent(ctx, agent.Config{ID: "a2", Port: port2})
	require.NoError(t, err)

	require.NoError(t, reg.StopAll(ctx))
	for _, rec := range reg.ListAgents(ctx) {
		assert.Equal(t, agent.StatusStopped, rec.Status)
	}
}

func TestErrorStateIsRecoverableByStart(t *testing.T) {
	ctx := context.Background()
	reg, _, cfg := newTestRegistry(t)
	cfg.Lifecycle.ProbeMaxAttempts = 1

	// First start fails: nothing listens yet.
	rec, err := reg.CreateAgent(ctx, agent.Config{ID: "a1"})
	require.Error(t, err)
	require.Equal(t, agent.StatusError, rec.Status)

	// Point the record's port at a live worker and start again.
	_, port := healthyWorker(t)
	reg.mu.Lock()
	e := reg.agents["a1"]
	reg.mu.Unlock()
	e.recMu.Lock()
	e.record.Config.Port = port
	e.record.URL = e.record.Config.URL()
	e.recMu.Unlock()

	require.NoError(t, reg.StartAgent(ctx, "a1"))
	rec, _ = reg.Get("a1")
	assert.Equal(t, agent.StatusRunning, rec.Status)
	assert.Empty(t, rec.ErrorMessage)
}
