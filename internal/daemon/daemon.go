// Package daemon wires the orchestration services together, enforces
// single-instance execution, and exposes them over HTTP and IPC.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"dispatch/internal/api"
	"dispatch/internal/config"
	"dispatch/internal/dlq"
	"dispatch/internal/logging"
	"dispatch/internal/payload"
	"dispatch/internal/pipeline"
	"dispatch/internal/registry"
	"dispatch/internal/scheduler"
	"dispatch/internal/session"
	"dispatch/internal/store"
)

// Daemon coordinates the background scheduler and enforces single-instance
// execution via a lock file.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	scheduler *scheduler.Scheduler
	agents    *registry.Service
	sessions  *session.Tracker
	workflows *pipeline.Tracker
	dlq       *dlq.Service
	payloads  *payload.Registry
	queueSvc  *api.QueueService

	logPath  string
	lockPath string
	lock     *flock.Flock

	apiSrv *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	Scheduler    scheduler.StatusSummary
	DatabasePath string
	LockFilePath string
	TaskTypes    []string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	payloads := payload.NewRegistry()
	payload.RegisterBuiltins(payloads)

	agents := registry.NewService(cfg, st, logger)
	sessions := session.NewTracker(st, logger)
	workflows := pipeline.NewTracker(st, logger)
	deadLetter := dlq.NewService(st, logger)
	sched := scheduler.New(cfg, st, agents, sessions, deadLetter, payloads, logger)

	lockPath := filepath.Join(cfg.Paths.LogDir, "dispatchd.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		scheduler: sched,
		agents:    agents,
		sessions:  sessions,
		workflows: workflows,
		dlq:       deadLetter,
		payloads:  payloads,
		queueSvc:  api.NewQueueService(st),
		logPath:   filepath.Join(cfg.Paths.LogDir, "dispatchd.log"),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}

	srv, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.apiSrv = srv
	return d, nil
}

// Start acquires the daemon lock and launches the scheduler and API server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another dispatch daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.scheduler.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start scheduler: %w", err)
	}
	if d.apiSrv != nil {
		if err := d.apiSrv.start(runCtx); err != nil {
			d.scheduler.Stop()
			cancel()
			_ = d.lock.Unlock()
			return err
		}
	}
	d.cancel = cancel

	d.running.Store(true)
	d.logger.Info("dispatch daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.cfg.DatabasePath()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.scheduler.Stop()
	d.apiSrv.stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("dispatch daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Scheduler:    d.scheduler.Status(ctx),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		TaskTypes:    d.payloads.TaskTypes(),
	}
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Scheduler exposes the scheduler for enqueue and report operations.
func (d *Daemon) Scheduler() *scheduler.Scheduler { return d.scheduler }

// Agents exposes the agent registry.
func (d *Daemon) Agents() *registry.Service { return d.agents }

// Sessions exposes the session tracker.
func (d *Daemon) Sessions() *session.Tracker { return d.sessions }

// Workflows exposes the workflow tracker.
func (d *Daemon) Workflows() *pipeline.Tracker { return d.workflows }

// DLQ exposes the dead letter queue service.
func (d *Daemon) DLQ() *dlq.Service { return d.dlq }

// Queue exposes read-only work item queries.
func (d *Daemon) Queue() *api.QueueService { return d.queueSvc }

// AgentViews returns registered agents with their current loads attached.
func (d *Daemon) AgentViews(ctx context.Context) ([]api.Agent, error) {
	agents, err := d.agents.List(ctx)
	if err != nil {
		return nil, err
	}
	loads, err := d.store.AgentLoads(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]api.Agent, 0, len(agents))
	for _, agent := range agents {
		out = append(out, api.FromAgent(agent, loads[agent.AgentID]))
	}
	return out, nil
}

// SessionProgressView projects one session's aggregate progress.
func (d *Daemon) SessionProgressView(ctx context.Context, sessionID string, includeItems bool) (*api.SessionProgress, error) {
	progress, err := d.sessions.Progress(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	view := &api.SessionProgress{
		Session:   api.FromSession(progress.Session),
		Total:     progress.Counts.Total,
		Completed: progress.Counts.Completed,
		Failed:    progress.Counts.Failed,
		Cancelled: progress.Counts.Cancelled,
		Percent:   progress.Counts.Percent(),
	}
	if includeItems {
		view.Items = api.FromWorkItems(progress.Items)
	}
	return view, nil
}

// PhaseSummaryView projects transition statistics over a trailing window.
func (d *Daemon) PhaseSummaryView(ctx context.Context, window time.Duration) (api.PhaseSummary, error) {
	summary, err := d.workflows.Summarize(ctx, window)
	if err != nil {
		return api.PhaseSummary{}, err
	}
	return api.FromPhaseSummary(summary), nil
}
