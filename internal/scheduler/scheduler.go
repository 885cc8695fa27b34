// Package scheduler matches pending work items to capable agents, drives the
// retry and backoff policy, and routes exhausted items to the dead letter
// queue.
//
// Multiple scheduler instances may run against the same store; correctness
// rests on the store's conditional claim update, not on in-process locks.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/dlq"
	"dispatch/internal/logging"
	"dispatch/internal/payload"
	"dispatch/internal/registry"
	"dispatch/internal/services"
	"dispatch/internal/session"
	"dispatch/internal/store"
)

// Dispatcher delivers a claimed work item to its agent. Dispatch is
// fire-and-forget from the scheduler's perspective: completion or failure
// arrives later through the report methods. A dispatch error releases the
// claim so another pass can retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, item *store.WorkItem, agent *store.Agent) error
}

// NopDispatcher accepts every dispatch without delivering anywhere. Agents
// polling the API for their assignments use this mode.
type NopDispatcher struct{}

// Dispatch implements Dispatcher.
func (NopDispatcher) Dispatch(context.Context, *store.WorkItem, *store.Agent) error { return nil }

// Scheduler runs the assignment loop and owns work item status transitions.
type Scheduler struct {
	cfg        *config.Config
	store      *store.Store
	agents     *registry.Service
	sessions   *session.Tracker
	deadLetter *dlq.Service
	payloads   *payload.Registry
	dispatcher Dispatcher
	logger     *slog.Logger

	pollInterval time.Duration

	mu       sync.RWMutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	lastErr  error
	lastItem *store.WorkItem
}

// Option configures optional Scheduler behavior.
type Option func(*Scheduler)

// WithDispatcher replaces the default no-op dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Scheduler) {
		if d != nil {
			s.dispatcher = d
		}
	}
}

// New constructs a scheduler over the given services.
func New(cfg *config.Config, st *store.Store, agents *registry.Service, sessions *session.Tracker, deadLetter *dlq.Service, payloads *payload.Registry, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Scheduler{
		cfg:          cfg,
		store:        st,
		agents:       agents,
		sessions:     sessions,
		deadLetter:   deadLetter,
		payloads:     payloads,
		dispatcher:   NopDispatcher{},
		logger:       logging.NewComponentLogger(logger, "scheduler"),
		pollInterval: time.Duration(cfg.Scheduler.PollInterval) * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueueRequest describes a new unit of work.
type EnqueueRequest struct {
	SessionID        string
	WorkflowID       string
	TaskType         string
	Capabilities     []string
	Priority         int
	Deadline         *time.Time
	Payload          string
	CreatedByAgentID string
}

// Enqueue validates and persists a new pending work item. The payload is
// decoded against the task type's schema before anything touches the store;
// an unknown task type or malformed payload never enters the queue. The
// owning session is created on first use.
func (s *Scheduler) Enqueue(ctx context.Context, req EnqueueRequest) (*store.WorkItem, error) {
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" {
		return nil, services.Wrap(services.ErrValidation, "scheduler", "enqueue", "session id is required", nil)
	}
	if _, err := s.payloads.Resolve(req.TaskType, req.Payload); err != nil {
		return nil, err
	}

	sess, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		if _, err := s.sessions.Create(ctx, req.SessionID, "", req.CreatedByAgentID); err != nil && !errors.Is(err, services.ErrConflict) {
			return nil, err
		}
	}

	item, err := s.store.CreateItem(ctx, &store.WorkItem{
		SessionID:        req.SessionID,
		WorkflowID:       strings.TrimSpace(req.WorkflowID),
		TaskType:         strings.TrimSpace(req.TaskType),
		Capabilities:     req.Capabilities,
		Payload:          req.Payload,
		Priority:         req.Priority,
		Deadline:         req.Deadline,
		CreatedByAgentID: strings.TrimSpace(req.CreatedByAgentID),
		CanRetry:         true,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "scheduler", "enqueue", "persist work item", err)
	}
	if err := s.sessions.Touch(ctx, req.SessionID); err != nil {
		s.logger.Warn("session touch failed", logging.Error(err))
	}

	s.logger.Info("work item enqueued",
		logging.Int64(logging.FieldItemID, item.ID),
		logging.String(logging.FieldSessionID, item.SessionID),
		logging.String(logging.FieldTaskType, item.TaskType),
		logging.Int("priority", item.Priority),
		logging.String(logging.FieldEventType, "item_enqueued"),
	)
	return item, nil
}

// ReportStarted records that the assigned agent began executing the item.
func (s *Scheduler) ReportStarted(ctx context.Context, itemID int64, agentID string) error {
	ok, err := s.store.StartItem(ctx, itemID, agentID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "scheduler", "report started", "start work item", err)
	}
	if !ok {
		return services.Wrap(services.ErrConflict, "scheduler", "report started", fmt.Sprintf("work item %d is not assigned to %q", itemID, agentID), nil)
	}
	return nil
}

// ReportCompletion finishes an in-flight item with its result. A late report
// for an item that already reached a terminal status (e.g. cancelled) is a
// silent no-op.
func (s *Scheduler) ReportCompletion(ctx context.Context, itemID int64, result string) error {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "scheduler", "report completion", "load work item", err)
	}
	if item == nil {
		return services.Wrap(services.ErrNotFound, "scheduler", "report completion", fmt.Sprintf("work item %d not found", itemID), nil)
	}

	ok, err := s.store.CompleteItem(ctx, itemID, result)
	if err != nil {
		return services.Wrap(services.ErrTransient, "scheduler", "report completion", "complete work item", err)
	}
	if !ok {
		s.logger.Debug("late completion report ignored",
			logging.Int64(logging.FieldItemID, itemID),
			logging.String("status", string(item.Status)),
		)
		return nil
	}

	s.logger.Info("work item completed",
		logging.Int64(logging.FieldItemID, itemID),
		logging.String(logging.FieldSessionID, item.SessionID),
		logging.String(logging.FieldEventType, "item_completed"),
	)
	s.afterTerminal(ctx, item.SessionID)
	return nil
}

// ReportFailure records a failed attempt and applies the retry policy:
// requeue with exponential backoff while budget remains, otherwise dead
// letter. Late reports for terminal items are silent no-ops.
func (s *Scheduler) ReportFailure(ctx context.Context, itemID int64, errMsg string) error {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "scheduler", "report failure", "load work item", err)
	}
	if item == nil {
		return services.Wrap(services.ErrNotFound, "scheduler", "report failure", fmt.Sprintf("work item %d not found", itemID), nil)
	}
	if !item.Status.IsActive() {
		// Terminal items take no further reports, and a pending item means
		// the previous failure was already counted; a redelivered report
		// must not burn retry budget without a real execution.
		s.logger.Debug("late failure report ignored",
			logging.Int64(logging.FieldItemID, itemID),
			logging.String("status", string(item.Status)),
		)
		return nil
	}

	retries := item.Retries + 1
	limit := s.cfg.RetryLimitFor(item.TaskType)

	if item.CanRetry && retries < limit {
		delay := s.backoffDelay(retries)
		nextRetryAt := time.Now().UTC().Add(delay)
		ok, err := s.store.RequeueForRetry(ctx, itemID, retries, nextRetryAt, errMsg)
		if err != nil {
			return services.Wrap(services.ErrTransient, "scheduler", "report failure", "requeue work item", err)
		}
		if ok {
			s.logger.Warn("work item failed, retrying",
				logging.Int64(logging.FieldItemID, itemID),
				logging.Int("retries", retries),
				logging.Duration("backoff", delay),
				logging.String("error", errMsg),
				logging.String(logging.FieldEventType, "item_retry_scheduled"),
			)
		}
		return nil
	}

	ok, err := s.store.MarkDeadLettered(ctx, itemID, retries, errMsg)
	if err != nil {
		return services.Wrap(services.ErrTransient, "scheduler", "report failure", "dead letter work item", err)
	}
	if !ok {
		return nil
	}
	if _, err := s.deadLetter.Create(ctx, itemID, errMsg); err != nil {
		return err
	}
	s.logger.Error("work item exhausted retries",
		logging.Int64(logging.FieldItemID, itemID),
		logging.Int("retries", retries),
		logging.String("error", errMsg),
		logging.String(logging.FieldEventType, "item_dead_lettered"),
	)
	s.afterTerminal(ctx, item.SessionID)
	return nil
}

// Cancel stops a work item. Pending items cancel immediately; in-flight
// items get a cancel flag for the owning agent to observe, and any late
// completion or failure report afterwards is tolerated.
func (s *Scheduler) Cancel(ctx context.Context, itemID int64) error {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "scheduler", "cancel", "load work item", err)
	}
	if item == nil {
		return services.Wrap(services.ErrNotFound, "scheduler", "cancel", fmt.Sprintf("work item %d not found", itemID), nil)
	}

	if item.Status == store.ItemPending {
		ok, err := s.store.CancelPending(ctx, itemID)
		if err != nil {
			return services.Wrap(services.ErrTransient, "scheduler", "cancel", "cancel pending item", err)
		}
		if ok {
			s.logger.Info("work item cancelled",
				logging.Int64(logging.FieldItemID, itemID),
				logging.String(logging.FieldEventType, "item_cancelled"),
			)
			s.afterTerminal(ctx, item.SessionID)
			return nil
		}
		// lost the race; fall through to the in-flight path
	}

	if item.Status.IsTerminal() {
		return nil
	}
	if _, err := s.store.RequestCancel(ctx, itemID); err != nil {
		return services.Wrap(services.ErrTransient, "scheduler", "cancel", "request cancel", err)
	}
	s.logger.Info("cancel requested for in-flight item",
		logging.Int64(logging.FieldItemID, itemID),
		logging.String(logging.FieldAgentID, item.AssignedAgentID),
		logging.String(logging.FieldEventType, "item_cancel_requested"),
	)
	return nil
}

// backoffDelay computes the retry delay for the given attempt number: base
// doubled per attempt, capped.
func (s *Scheduler) backoffDelay(attempt int) time.Duration {
	base := time.Duration(s.cfg.Scheduler.RetryBaseDelay) * time.Second
	if base <= 0 {
		return 0
	}
	max := time.Duration(s.cfg.Scheduler.RetryMaxDelay) * time.Second
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if max > 0 && delay >= max {
			return max
		}
	}
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// afterTerminal runs the bookkeeping shared by every terminal transition:
// session activity plus quiescence check.
func (s *Scheduler) afterTerminal(ctx context.Context, sessionID string) {
	if err := s.sessions.Touch(ctx, sessionID); err != nil {
		s.logger.Warn("session touch failed", logging.Error(err))
	}
	if _, err := s.sessions.CompleteIfQuiescent(ctx, sessionID); err != nil {
		s.logger.Warn("session quiescence check failed",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Error(err),
		)
	}
}
