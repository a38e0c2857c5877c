// Package registry is the single source of truth for agent lifecycle
// state. It owns the agent records, allocates ports, drives the process
// supervisor and health prober through the state machine
// stopped -> starting -> running -> stopping -> stopped (with error as
// the failure state, recoverable by another start), and provides the
// query gateway used by the message router.
package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/lucianocrossaniell/Agent-Orch/internal/agent"
	"github.com/lucianocrossaniell/Agent-Orch/internal/health"
	"github.com/lucianocrossaniell/Agent-Orch/internal/process"
	"github.com/lucianocrossaniell/Agent-Orch/pkg/config"
	"github.com/lucianocrossaniell/Agent-Orch/pkg/observability"
)

// threadPins caps the worker's numeric runtimes at one thread each so a
// fleet of agents does not oversubscribe the CPU. Passed through to the
// child environment verbatim.
var threadPins = []string{
	"OMP_NUM_THREADS=1",
	"OPENBLAS_NUM_THREADS=1",
	"MKL_NUM_THREADS=1",
	"VECLIB_MAXIMUM_THREADS=1",
	"NUMEXPR_NUM_THREADS=1",
}

// entry pairs an agent record with its process handle. opMu serializes
// lifecycle operations for this agent; recMu guards record field access
// so reads never wait on a multi-second start or stop.
type entry struct {
	opMu   sync.Mutex
	recMu  sync.Mutex
	record agent.Record
	handle process.Handle
}

func (e *entry) snapshot() agent.Record {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	return e.record
}

func (e *entry) status() agent.Status {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	return e.record.Status
}

func (e *entry) config() agent.Config {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	return e.record.Config
}

func (e *entry) setStatus(s agent.Status) {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	e.record.Status = s
	observability.RecordTransition(string(s))
}

func (e *entry) fail(err error) {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	e.record.Status = agent.StatusError
	e.record.ErrorMessage = err.Error()
	observability.RecordTransition(string(agent.StatusError))
}

func (e *entry) markRunning() {
	now := time.Now()
	e.recMu.Lock()
	defer e.recMu.Unlock()
	e.record.Status = agent.StatusRunning
	e.record.ErrorMessage = ""
	e.record.LastHealthCheck = &now
	observability.RecordTransition(string(agent.StatusRunning))
}

func (e *entry) markStopped() {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	e.handle = nil
	e.record.PID = 0
	e.record.Status = agent.StatusStopped
	e.record.ErrorMessage = ""
	observability.RecordTransition(string(agent.StatusStopped))
}

func (e *entry) setHandle(h process.Handle) {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	e.handle = h
	if h != nil {
		e.record.PID = h.PID()
	}
}

func (e *entry) getHandle() process.Handle {
	e.recMu.Lock()
	defer e.recMu.Unlock()
	return e.handle
}

// Registry owns all agent records and their lifecycle transitions.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]*entry
	nextPort int

	cfg        *config.Config
	supervisor *process.Supervisor
	prober     *health.Prober
}

// New creates a registry. A nil spawner means real OS processes.
func New(cfg *config.Config, spawner process.Spawner) *Registry {
	return &Registry{
		agents:   make(map[string]*entry),
		nextPort: cfg.BasePort,
		cfg:      cfg,
		supervisor: process.NewSupervisor(spawner,
			cfg.Lifecycle.SettleDelay.Duration,
			cfg.Lifecycle.StopGrace.Duration),
		prober: health.NewProber(
			cfg.Lifecycle.ProbeTimeout.Duration,
			cfg.Lifecycle.ProbeInterval.Duration),
	}
}

// CreateAgent registers a new agent and immediately starts it. On start
// failure the record is kept in the error state so the caller can
// inspect the failure; the record and the error are both returned.
func (r *Registry) CreateAgent(ctx context.Context, cfg agent.Config) (agent.Record, error) {
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	if cfg.Kind == "" {
		cfg.Kind = "SingleAgent"
	}
	if cfg.Model == "" {
		cfg.Model = r.cfg.DefaultModel
	}
	if cfg.Name == "" {
		cfg.Name = cfg.ID
	}

	r.mu.Lock()
	if _, exists := r.agents[cfg.ID]; exists {
		r.mu.Unlock()
		return agent.Record{}, fmt.Errorf("%w: %s", agent.ErrAgentExists, cfg.ID)
	}
	if cfg.Port == 0 {
		cfg.Port = r.allocatePortLocked()
	} else if r.portInUseLocked(cfg.Port) {
		r.mu.Unlock()
		return agent.Record{}, fmt.Errorf("port %d is already assigned", cfg.Port)
	}

	e := &entry{record: agent.Record{
		ID:     cfg.ID,
		Config: cfg,
		Status: agent.StatusStopped,
		URL:    cfg.URL(),
	}}
	r.agents[cfg.ID] = e
	r.mu.Unlock()

	log.WithFields(log.Fields{
		"agent": cfg.ID,
		"name":  cfg.Name,
		"port":  cfg.Port,
	}).Info("created agent")

	if err := r.StartAgent(ctx, cfg.ID); err != nil {
		return e.snapshot(), err
	}
	return e.snapshot(), nil
}

// allocatePortLocked hands out the next unused port at or above the
// base port. Caller must hold r.mu.
func (r *Registry) allocatePortLocked() int {
	for r.portInUseLocked(r.nextPort) {
		r.nextPort++
	}
	port := r.nextPort
	r.nextPort++
	return port
}

func (r *Registry) portInUseLocked(port int) bool {
	for _, e := range r.agents {
		if e.config().Port == port {
			return true
		}
	}
	return false
}

func (r *Registry) lookup(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.agents[id]
	return e, ok
}

// StartAgent starts the agent's worker process and waits for it to
// become ready. Starting an already running agent is a no-op success.
// All launch failures are captured into the record's error state.
func (r *Registry) StartAgent(ctx context.Context, id string) error {
	e, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", agent.ErrAgentNotFound, id)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()
	return r.startLocked(ctx, e)
}

func (r *Registry) startLocked(ctx context.Context, e *entry) error {
	if e.status() == agent.StatusRunning {
		return nil
	}

	cfg := e.config()
	e.setStatus(agent.StatusStarting)

	worker, ok := r.cfg.Workers[cfg.Kind]
	if !ok {
		err := fmt.Errorf("unknown worker kind %q", cfg.Kind)
		e.fail(err)
		return err
	}

	r.writeEnvFile(worker.Dir, cfg)

	h, err := r.supervisor.Launch(ctx, process.Spec{
		Command: worker.Command,
		Dir:     worker.Dir,
		Env:     buildEnv(cfg, r.cfg.LogLevel),
	})
	if err != nil {
		if h != nil {
			e.setHandle(h)
		}
		e.fail(err)
		log.WithFields(log.Fields{"agent": cfg.ID}).Errorf("failed to start agent: %v", err)
		return err
	}
	e.setHandle(h)

	if err := r.prober.WaitUntilReady(ctx, cfg.URL(), r.cfg.Lifecycle.ProbeMaxAttempts); err != nil {
		observability.RecordProbe("failed")
		e.fail(err)
		log.WithFields(log.Fields{"agent": cfg.ID, "pid": h.PID()}).
			Errorf("agent never became ready: %v", err)
		return err
	}
	observability.RecordProbe("ok")
	e.markRunning()

	log.WithFields(log.Fields{
		"agent": cfg.ID,
		"pid":   h.PID(),
		"port":  cfg.Port,
	}).Info("agent started")
	return nil
}

// StopAgent stops the agent's process, escalating from the graceful
// signal to a kill. Stopping an already stopped agent is a no-op
// success; an unknown id reports false.
func (r *Registry) StopAgent(ctx context.Context, id string) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()
	return r.stopLocked(ctx, e)
}

func (r *Registry) stopLocked(_ context.Context, e *entry) bool {
	if e.status() == agent.StatusStopped {
		return true
	}

	id := e.snapshot().ID
	e.setStatus(agent.StatusStopping)

	if h := e.getHandle(); h != nil {
		if err := r.supervisor.Shutdown(h); err != nil {
			e.fail(err)
			log.WithFields(log.Fields{"agent": id}).Errorf("failed to stop agent: %v", err)
			return false
		}
	}

	e.markStopped()
	log.WithFields(log.Fields{"agent": id}).Info("agent stopped")
	return true
}

// DeleteAgent stops the agent best-effort, removes its record and
// cleans up its env file. Cleanup failures are logged, never fatal.
func (r *Registry) DeleteAgent(ctx context.Context, id string) bool {
	e, ok := r.lookup(id)
	if !ok {
		return false
	}

	e.opMu.Lock()
	r.stopLocked(ctx, e)
	e.opMu.Unlock()

	r.mu.Lock()
	delete(r.agents, id)
	r.mu.Unlock()

	r.removeEnvFile(e.config())

	log.WithFields(log.Fields{"agent": id}).Info("agent deleted")
	return true
}

// UpdateAgent merges a partial config change and restarts a running
// agent so the change takes effect.
func (r *Registry) UpdateAgent(ctx context.Context, id string, upd agent.Update) (agent.Record, error) {
	e, ok := r.lookup(id)
	if !ok {
		return agent.Record{}, fmt.Errorf("%w: %s", agent.ErrAgentNotFound, id)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.recMu.Lock()
	changed := upd.Apply(&e.record.Config)
	e.recMu.Unlock()

	if changed && e.status() == agent.StatusRunning {
		r.stopLocked(ctx, e)
		if err := r.startLocked(ctx, e); err != nil {
			return e.snapshot(), err
		}
	}
	return e.snapshot(), nil
}

// Get returns a record without touching the agent's health.
func (r *Registry) Get(id string) (agent.Record, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return agent.Record{}, false
	}
	return e.snapshot(), true
}

// GetStatus returns a record, re-probing a running agent's health
// first so stale state is caught on read.
func (r *Registry) GetStatus(ctx context.Context, id string) (agent.Record, bool) {
	e, ok := r.lookup(id)
	if !ok {
		return agent.Record{}, false
	}
	if e.status() == agent.StatusRunning {
		r.RefreshHealth(ctx, id)
	}
	return e.snapshot(), true
}

// Snapshot returns all records sorted by id without touching agent
// health.
func (r *Registry) Snapshot() []agent.Record {
	r.mu.RLock()
	out := make([]agent.Record, 0, len(r.agents))
	for _, e := range r.agents {
		out = append(out, e.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListAgents returns all records sorted by id, re-probing every
// running agent first.
func (r *Registry) ListAgents(ctx context.Context) []agent.Record {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.agents))
	for _, e := range r.agents {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	counts := map[agent.Status]int{}
	out := make([]agent.Record, 0, len(entries))
	for _, e := range entries {
		if e.status() == agent.StatusRunning {
			r.RefreshHealth(ctx, e.snapshot().ID)
		}
		rec := e.snapshot()
		counts[rec.Status]++
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	for _, s := range []agent.Status{agent.StatusStopped, agent.StatusStarting,
		agent.StatusRunning, agent.StatusStopping, agent.StatusError} {
		observability.SetAgentCount(string(s), counts[s])
	}
	return out
}

// RefreshHealth issues a single health probe and folds the result into
// the record: a failure demotes the agent to error, a success restores
// a non-running record to running. Skipped when a lifecycle operation
// is in flight for the agent.
func (r *Registry) RefreshHealth(ctx context.Context, id string) {
	e, ok := r.lookup(id)
	if !ok {
		return
	}
	if !e.opMu.TryLock() {
		return // a start or stop owns this agent right now
	}
	defer e.opMu.Unlock()

	if e.status() == agent.StatusStopped || e.status() == agent.StatusStopping {
		return
	}

	if err := r.prober.Probe(ctx, e.config().URL()); err != nil {
		observability.RecordProbe("failed")
		e.fail(err)
		log.WithFields(log.Fields{"agent": id}).Warnf("health check failed: %v", err)
		return
	}
	observability.RecordProbe("ok")
	e.markRunning()
}

// StopAll stops every agent concurrently, aggregating failures. Used
// at orchestrator shutdown.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var (
		wg   sync.WaitGroup
		errM sync.Mutex
		merr *multierror.Error
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if !r.StopAgent(ctx, id) {
				errM.Lock()
				merr = multierror.Append(merr, fmt.Errorf("failed to stop agent %s", id))
				errM.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return merr.ErrorOrNil()
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// buildEnv assembles the child process environment: the parent's
// environment plus the agent contract variables and the thread pins.
func buildEnv(cfg agent.Config, logLevel string) []string {
	env := append(os.Environ(),
		"AGENT_NAME="+cfg.Name,
		fmt.Sprintf("AGENT_DESCRIPTION=Agent %s", cfg.Name),
		fmt.Sprintf("PORT=%d", cfg.Port),
		"OPENAI_API_KEY="+cfg.APIKey,
		"OPENAI_MODEL="+cfg.Model,
		"LOG_LEVEL="+logLevel,
	)
	return append(env, threadPins...)
}

func envFilePath(dir string, cfg agent.Config) string {
	return filepath.Join(dir, ".env."+cfg.ID)
}

// writeEnvFile mirrors the spawn environment into a per-agent env file
// in the worker directory, for the worker's own tooling. Best effort.
func (r *Registry) writeEnvFile(dir string, cfg agent.Config) {
	content := fmt.Sprintf(
		"AGENT_NAME=%s\nAGENT_DESCRIPTION=Agent %s\nPORT=%d\nOPENAI_API_KEY=%s\nOPENAI_MODEL=%s\nLOG_LEVEL=%s\n",
		cfg.Name, cfg.Name, cfg.Port, cfg.APIKey, cfg.Model, r.cfg.LogLevel)

	if err := os.WriteFile(envFilePath(dir, cfg), []byte(content), 0600); err != nil {
		log.WithFields(log.Fields{"agent": cfg.ID}).Warnf("failed to write env file: %v", err)
	}
}

func (r *Registry) removeEnvFile(cfg agent.Config) {
	worker, ok := r.cfg.Workers[cfg.Kind]
	if !ok {
		return
	}
	path := envFilePath(worker.Dir, cfg)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.WithFields(log.Fields{"agent": cfg.ID}).Warnf("failed to clean up env file: %v", err)
	}
}
