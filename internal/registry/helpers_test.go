package registry

import (
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lucianocrossaniell/Agent-Orch/internal/process"
	"github.com/lucianocrossaniell/Agent-Orch/pkg/config"
)

// testConfig returns a config with short timeouts and a temp worker dir.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Lifecycle.SettleDelay.Duration = 5 * time.Millisecond
	cfg.Lifecycle.StopGrace.Duration = 50 * time.Millisecond
	cfg.Lifecycle.ProbeTimeout.Duration = 200 * time.Millisecond
	cfg.Lifecycle.ProbeInterval.Duration = time.Millisecond
	cfg.Lifecycle.ProbeMaxAttempts = 3
	cfg.Query.Timeout.Duration = time.Second
	cfg.Workers = map[string]config.WorkerKind{
		"SingleAgent": {Dir: t.TempDir(), Command: []string{"worker"}},
	}
	return cfg
}

// fakeWorker serves an agent's health and query endpoints on a real
// port, standing in for a spawned worker process.
func fakeWorker(t *testing.T, handler http.Handler) (srv *httptest.Server, port int) {
	t.Helper()

	srv = httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err = strconv.Atoi(portStr)
	require.NoError(t, err)
	return srv, port
}

// healthyWorker is a fakeWorker that always reports healthy.
func healthyWorker(t *testing.T) (srv *httptest.Server, port int) {
	t.Helper()
	return fakeWorker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func newTestRegistry(t *testing.T) (*Registry, *process.FakeSpawner, *config.Config) {
	t.Helper()
	cfg := testConfig(t)
	spawner := &process.FakeSpawner{}
	return New(cfg, spawner), spawner, cfg
}
