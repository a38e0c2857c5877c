package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8001, cfg.BasePort)
	assert.Equal(t, "gpt-3.5-turbo", cfg.DefaultModel)
	assert.Equal(t, 2*time.Second, cfg.Lifecycle.SettleDelay.Duration)
	assert.Equal(t, 30, cfg.Lifecycle.ProbeMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Query.Timeout.Duration)
	assert.Equal(t, "memory", cfg.History.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	raw := `
base_port: 9100
log_level: debug
workers:
  SingleAgent:
    dir: ./workers/single
    command: ["python", "main.py"]
lifecycle:
  settle_delay: 100ms
  probe_timeout: 250ms
  probe_max_attempts: 3
history:
  backend: redis
  redis:
    addr: localhost:6379
`
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.BasePort)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 100*time.Millisecond, cfg.Lifecycle.SettleDelay.Duration)
	assert.Equal(t, 250*time.Millisecond, cfg.Lifecycle.ProbeTimeout.Duration)
	assert.Equal(t, 3, cfg.Lifecycle.ProbeMaxAttempts)
	// Unset durations still get defaults.
	assert.Equal(t, 5*time.Second, cfg.Lifecycle.StopGrace.Duration)
	assert.Equal(t, "redis", cfg.History.Backend)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.History.Backend = "redis"
	cfg.History.Redis.Addr = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Workers["broken"] = WorkerKind{}
	assert.Error(t, cfg.Validate())
}
