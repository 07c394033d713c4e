// Package agent owns the monitoring lifecycle: configuration, one-time
// registration, collector management, the scheduler and the uploader.
// State machine: Uninitialized → Initialized → Running → Stopped.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hostsentry/agent/config"
	"github.com/hostsentry/agent/internal/models"
	"github.com/hostsentry/agent/pkg/backend"
	"github.com/hostsentry/agent/pkg/classify"
	"github.com/hostsentry/agent/pkg/collector"
	"github.com/hostsentry/agent/pkg/queue"
	"github.com/hostsentry/agent/pkg/scheduler"
	"github.com/hostsentry/agent/pkg/sysinfo"
)

// State is the lifecycle phase of the agent.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateStopped
)

var (
	ErrNotInitialized     = errors.New("agent is not initialized")
	ErrAlreadyInitialized = errors.New("agent is already initialized")
	ErrNoCollectors       = errors.New("no collector could be started")
)

// uploadBatchSize is how many events one upload request carries at most;
// it is also the batch-size trigger for draining ahead of the interval.
const uploadBatchSize = 100

// Backend is the subset of the central-service client the agent needs.
// Satisfied by *backend.Client; substituted in tests.
type Backend interface {
	Register(ctx context.Context, info sysinfo.HostInfo) (backend.RegistrationResponse, error)
	Heartbeat(ctx context.Context, metrics sysinfo.Metrics) error
	UploadEvents(ctx context.Context, events []models.Event) error
	SetIdentity(agentID, token string)
	AgentID() string
}

// identity is the registration result persisted across restarts.
type identity struct {
	AgentID string `json:"agent_id"`
	Token   string `json:"token"`
}

// Agent is the lifecycle controller.
type Agent struct {
	cfg        *config.Config
	logger     *zap.Logger
	backend    Backend
	provider   sysinfo.Provider
	classifier *classify.Classifier
	events     *queue.Queue
	sched      *scheduler.Scheduler

	// instanceID distinguishes restarts of the same registered agent in
	// the logs.
	instanceID string

	// identityPath is where the registration result is persisted; empty
	// disables persistence.
	identityPath string

	mu         sync.Mutex
	state      State
	collectors []collector.Collector
	active     []collector.Collector
	cancel     context.CancelFunc
}

// Option customizes construction; used by tests and by third-party
// integrations registering their own collectors.
type Option func(*Agent)

// WithBackend substitutes the central-service client.
func WithBackend(b Backend) Option {
	return func(a *Agent) { a.backend = b }
}

// WithProvider substitutes the platform probe implementation.
func WithProvider(p sysinfo.Provider) Option {
	return func(a *Agent) { a.provider = p }
}

// WithCollector registers an additional collector ahead of the built-in
// set. May be used for arbitrary third-party collectors.
func WithCollector(c collector.Collector) Option {
	return func(a *Agent) { a.collectors = append(a.collectors, c) }
}

// WithIdentityPath sets where the registration identity is persisted.
func WithIdentityPath(path string) Option {
	return func(a *Agent) { a.identityPath = path }
}

// New creates an agent in the Uninitialized state.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Agent{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		events:     queue.New(cfg.MaxStorageSize, logger),
		classifier: classify.New(cfg.Detection),
	}
	a.logger = logger.With(zap.String("instance", a.instanceID))
	a.sched = scheduler.New(a.logger)
	for _, opt := range opts {
		opt(a)
	}
	if a.backend == nil {
		a.backend = backend.New(cfg, a.logger)
	}
	if a.provider == nil {
		a.provider = sysinfo.NewSystem()
	}
	return a
}

// State returns the current lifecycle phase.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Queue exposes the event queue to push collectors and tests.
func (a *Agent) Queue() *queue.Queue { return a.events }

// Initialize validates configuration, registers with the central service
// if no identity is known yet, and instantiates all enabled collectors.
// Failure leaves the agent Uninitialized; the caller decides whether to
// retry or exit.
func (a *Agent) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateUninitialized {
		return ErrAlreadyInitialized
	}

	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	if err := a.ensureRegistered(ctx); err != nil {
		return err
	}

	a.collectors = append(a.collectors, a.buildCollectors()...)
	a.state = StateInitialized
	a.logger.Info("agent initialized",
		zap.String("agent_id", a.backend.AgentID()),
		zap.Int("collectors", len(a.collectors)))
	return nil
}

// ensureRegistered restores a persisted identity or performs the
// registration handshake.
func (a *Agent) ensureRegistered(ctx context.Context) error {
	if id, err := a.loadIdentity(); err == nil && id.AgentID != "" {
		a.backend.SetIdentity(id.AgentID, id.Token)
		a.logger.Debug("restored persisted identity", zap.String("agent_id", id.AgentID))
		return nil
	}

	info, err := a.provider.HostInfo(ctx)
	if err != nil {
		return fmt.Errorf("cannot describe host for registration: %w", err)
	}
	resp, err := a.backend.Register(ctx, info)
	if err != nil {
		return err
	}
	if err := a.saveIdentity(identity{AgentID: resp.AgentID, Token: resp.Token}); err != nil {
		a.logger.Warn("could not persist identity, will re-register on restart", zap.Error(err))
	}
	a.logger.Info("registered with central service", zap.String("agent_id", resp.AgentID))
	return nil
}

// buildCollectors instantiates the built-in collectors enabled by the
// capability flags.
func (a *Agent) buildCollectors() []collector.Collector {
	caps := a.cfg.Capabilities
	var cols []collector.Collector

	if caps.ProcessMonitoring {
		cols = append(cols, collector.NewProcessCollector(a.cfg.OsquerySocketPath, a.logger))
	}
	if caps.NetworkMonitoring {
		nc, err := collector.NewNetworkCollector(a.cfg.GeoIPDBPath, a.logger)
		if err != nil {
			a.logger.Error("network collector unavailable", zap.Error(err))
		} else {
			cols = append(cols, nc)
		}
	}
	if caps.RegistryMonitoring {
		cols = append(cols, collector.NewPersistenceCollector(a.cfg.PersistencePaths, a.logger))
	}
	if caps.FileSystemMonitoring {
		cols = append(cols, collector.NewFilesystemCollector(
			a.cfg.DirectoriesToScan,
			a.cfg.Detection.SuspiciousExtensions,
			caps.MalwareScanning,
			a.logger))
	}
	if caps.SecurityLogsMonitoring {
		cols = append(cols, collector.NewLogWatchCollector(a.cfg.SecurityLogPaths, a.logger))
	}
	return cols
}

// Start starts every collector and the scheduler, and begins heartbeat
// and upload cycles. A collector that fails to start is excluded from
// scheduling; Start succeeds as long as at least one collector runs.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateInitialized {
		return ErrNotInitialized
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	for _, col := range a.collectors {
		if pusher, ok := col.(collector.Pusher); ok {
			pusher.RegisterPush(a.events.Enqueue)
		}
		if err := col.Start(runCtx); err != nil {
			a.logger.Error("collector failed to start, excluded from scheduling",
				zap.String("collector", col.Name()), zap.Error(err))
			// Stop is still owed even after a partial start.
			if stopErr := col.Stop(); stopErr != nil {
				a.logger.Debug("collector stop after failed start",
					zap.String("collector", col.Name()), zap.Error(stopErr))
			}
			continue
		}
		a.active = append(a.active, col)
	}
	if len(a.active) == 0 {
		cancel()
		return ErrNoCollectors
	}

	scanInterval := time.Duration(a.cfg.ScanInterval) * time.Second
	for _, col := range a.active {
		a.sched.Add(scheduler.Task{
			Name:     col.Name(),
			Interval: scanInterval,
			Run:      a.cycle(col),
		})
	}
	a.sched.Add(scheduler.Task{
		Name:     "heartbeat",
		Interval: time.Duration(a.cfg.HeartbeatInterval) * time.Second,
		Run:      a.heartbeat,
	})
	a.sched.Add(scheduler.Task{
		Name:     "upload",
		Interval: time.Duration(a.cfg.DataUploadInterval) * time.Second,
		Run:      a.upload,
	})
	a.sched.Start(runCtx)

	a.state = StateRunning
	a.logger.Info("agent running", zap.Int("collectors", len(a.active)))
	return nil
}

// Stop halts the scheduler first so no new cycles begin, then stops the
// collectors in reverse start order, then flushes the queue best-effort.
// Safe to call multiple times; bounded by the configured grace period.
func (a *Agent) Stop() error {
	a.mu.Lock()
	if a.state != StateRunning {
		a.mu.Unlock()
		return nil
	}
	a.state = StateStopped
	active := a.active
	cancel := a.cancel
	a.mu.Unlock()

	grace := time.Duration(a.cfg.StopGracePeriod) * time.Second
	cancel()

	stopped := make(chan struct{})
	go func() {
		a.sched.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(grace):
		a.logger.Warn("scheduler did not drain within grace period")
	}

	for i := len(active) - 1; i >= 0; i-- {
		if err := active[i].Stop(); err != nil {
			a.logger.Error("collector stop failed",
				zap.String("collector", active[i].Name()), zap.Error(err))
		}
	}

	flushCtx, flushCancel := context.WithTimeout(context.Background(), grace)
	defer flushCancel()
	a.flush(flushCtx)

	a.logger.Info("agent stopped",
		zap.Uint64("events_dropped", a.events.Dropped()),
		zap.Uint64("events_expired", a.events.Expired()))
	return nil
}

// RunOnce performs a single detection pass over every enabled collector
// followed by one upload attempt. Used by --scan mode.
func (a *Agent) RunOnce(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateInitialized {
		a.mu.Unlock()
		return ErrNotInitialized
	}
	collectors := a.collectors
	a.mu.Unlock()

	for _, col := range collectors {
		if err := col.Start(ctx); err != nil {
			a.logger.Error("collector failed to start",
				zap.String("collector", col.Name()), zap.Error(err))
			continue
		}
		run := a.cycle(col)
		// Two passes: the first primes the baseline, the second surfaces
		// what differs from it during the scan window.
		run(ctx)
		run(ctx)
		if err := col.Stop(); err != nil {
			a.logger.Debug("collector stop", zap.String("collector", col.Name()), zap.Error(err))
		}
	}
	a.upload(ctx)
	return nil
}

// heartbeat samples system metrics and posts the liveness payload.
func (a *Agent) heartbeat(ctx context.Context) {
	metrics, err := a.provider.Metrics(ctx)
	if err != nil {
		a.logger.Error("metrics collection failed", zap.Error(err))
		return
	}
	if err := a.backend.Heartbeat(ctx, metrics); err != nil {
		a.logger.Error("heartbeat delivery failed", zap.Error(err))
	}
}

// upload drains batches until the queue holds less than one full batch.
// A failed batch is re-queued at the head in original order.
func (a *Agent) upload(ctx context.Context) {
	for {
		batch := a.events.DrainBatch(uploadBatchSize)
		if len(batch) == 0 {
			return
		}
		if err := a.backend.UploadEvents(ctx, batch); err != nil {
			a.logger.Error("event upload failed, re-queueing batch",
				zap.Int("batch", len(batch)), zap.Error(err))
			a.events.RequeueFront(batch)
			return
		}
		a.logger.Debug("event batch delivered", zap.Int("batch", len(batch)))
		if len(batch) < uploadBatchSize {
			return
		}
	}
}

// flush makes one last delivery attempt for whatever is still queued.
func (a *Agent) flush(ctx context.Context) {
	for {
		batch := a.events.DrainBatch(uploadBatchSize)
		if len(batch) == 0 {
			return
		}
		if err := a.backend.UploadEvents(ctx, batch); err != nil {
			a.logger.Warn("final flush failed, events lost",
				zap.Int("remaining", len(batch)+a.events.Len()), zap.Error(err))
			return
		}
	}
}

// loadIdentity reads the persisted registration identity.
func (a *Agent) loadIdentity() (identity, error) {
	var id identity
	if a.identityPath == "" {
		return id, os.ErrNotExist
	}
	data, err := os.ReadFile(a.identityPath)
	if err != nil {
		return id, err
	}
	if err := json.Unmarshal(data, &id); err != nil {
		return id, err
	}
	return id, nil
}

// saveIdentity persists the registration identity.
func (a *Agent) saveIdentity(id identity) error {
	if a.identityPath == "" {
		return nil
	}
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return os.WriteFile(a.identityPath, data, 0600)
}
