// Package pipeline drives long-running multi-phase workflows and keeps their
// append-only transition history.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/logging"
	"dispatch/internal/services"
	"dispatch/internal/store"
)

// Tracker manages workflow state and phase transitions.
//
// Transition log writes for one workflow are serialized through a
// per-workflow mutex so the duration computed from the previous transition
// stays consistent. The store keeps rows durable; the mutex only guards the
// read-compute-append window inside this process.
type Tracker struct {
	store  *store.Store
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker constructs a workflow tracker.
func NewTracker(st *store.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{
		store:  st,
		logger: logging.NewComponentLogger(logger, "pipeline"),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (t *Tracker) workflowLock(workflowID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lock, ok := t.locks[workflowID]
	if !ok {
		lock = &sync.Mutex{}
		t.locks[workflowID] = lock
	}
	return lock
}

// Start creates a new workflow in its initial phase. A blank workflow id
// gets a generated one.
func (t *Tracker) Start(ctx context.Context, workflowID, name, initialPhase string) (*store.Workflow, error) {
	workflowID = strings.TrimSpace(workflowID)
	if workflowID == "" {
		workflowID = uuid.NewString()
	}
	initialPhase = strings.TrimSpace(initialPhase)
	if initialPhase == "" {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "start", "initial phase is required", nil)
	}

	existing, err := t.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "start", "load workflow", err)
	}
	if existing != nil {
		return nil, services.Wrap(services.ErrConflict, "pipeline", "start", fmt.Sprintf("workflow %q already exists", workflowID), nil)
	}

	wf, err := t.store.CreateWorkflow(ctx, &store.Workflow{
		WorkflowID:   workflowID,
		Name:         strings.TrimSpace(name),
		CurrentPhase: initialPhase,
		Status:       store.WorkflowActive,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "start", "persist workflow", err)
	}
	t.logger.Info("workflow started",
		logging.String(logging.FieldWorkflowID, wf.WorkflowID),
		logging.String("phase", wf.CurrentPhase),
		logging.String(logging.FieldEventType, "workflow_started"),
	)
	return wf, nil
}

// Get returns one workflow, nil when unknown.
func (t *Tracker) Get(ctx context.Context, workflowID string) (*store.Workflow, error) {
	wf, err := t.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "get", "load workflow", err)
	}
	return wf, nil
}

// History returns the workflow's transitions in append order.
func (t *Tracker) History(ctx context.Context, workflowID string) ([]*store.PhaseTransition, error) {
	transitions, err := t.store.TransitionsForWorkflow(ctx, workflowID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "history", "list transitions", err)
	}
	return transitions, nil
}

// Advance moves an active workflow to the next phase.
func (t *Tracker) Advance(ctx context.Context, workflowID, toPhase string) (*store.Workflow, error) {
	toPhase = strings.TrimSpace(toPhase)
	if toPhase == "" {
		return nil, services.Wrap(services.ErrValidation, "pipeline", "advance", "target phase is required", nil)
	}
	return t.transition(ctx, workflowID, "advance", toPhase, store.WorkflowActive, store.WorkflowActive)
}

// Suspend pauses an active workflow in its current phase.
func (t *Tracker) Suspend(ctx context.Context, workflowID string) (*store.Workflow, error) {
	return t.transition(ctx, workflowID, "suspend", "", store.WorkflowSuspended, store.WorkflowActive)
}

// Resume reactivates a suspended workflow. Suspension is revisitable; a
// workflow may bounce between active and suspended any number of times.
func (t *Tracker) Resume(ctx context.Context, workflowID string) (*store.Workflow, error) {
	return t.transition(ctx, workflowID, "resume", "", store.WorkflowActive, store.WorkflowSuspended)
}

// Complete finishes an active workflow. Terminal.
func (t *Tracker) Complete(ctx context.Context, workflowID string) (*store.Workflow, error) {
	return t.transition(ctx, workflowID, "complete", "", store.WorkflowCompleted, store.WorkflowActive)
}

// Fail marks an active workflow failed. Terminal.
func (t *Tracker) Fail(ctx context.Context, workflowID string) (*store.Workflow, error) {
	return t.transition(ctx, workflowID, "fail", "", store.WorkflowFailed, store.WorkflowActive)
}

// transition performs one legal state change and appends its history row with
// the elapsed duration since the previous transition (or since workflow start
// for the first one).
func (t *Tracker) transition(ctx context.Context, workflowID, op, toPhase string, toStatus store.WorkflowStatus, requiredStatus store.WorkflowStatus) (*store.Workflow, error) {
	lock := t.workflowLock(workflowID)
	lock.Lock()
	defer lock.Unlock()

	wf, err := t.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", op, "load workflow", err)
	}
	if wf == nil {
		return nil, services.Wrap(services.ErrNotFound, "pipeline", op, fmt.Sprintf("workflow %q not found", workflowID), nil)
	}
	if wf.Status != requiredStatus {
		return nil, services.Wrap(services.ErrConflict, "pipeline", op, fmt.Sprintf("workflow %q is %s, expected %s", workflowID, wf.Status, requiredStatus), nil)
	}

	fromPhase := wf.CurrentPhase
	if toPhase == "" {
		toPhase = fromPhase
	}

	previous, err := t.store.LastTransitionTime(ctx, workflowID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", op, "read transition log", err)
	}
	since := wf.StartedAt
	if previous != nil {
		since = *previous
	}
	duration := time.Since(since)
	if duration < 0 {
		duration = 0
	}

	if _, err := t.store.AppendTransition(ctx, &store.PhaseTransition{
		WorkflowID: workflowID,
		FromPhase:  fromPhase,
		ToPhase:    toPhase,
		ToStatus:   string(toStatus),
		Duration:   duration,
	}); err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", op, "append transition", err)
	}
	if ok, err := t.store.UpdateWorkflowState(ctx, workflowID, toPhase, toStatus); err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", op, "update workflow", err)
	} else if !ok {
		return nil, services.Wrap(services.ErrConflict, "pipeline", op, fmt.Sprintf("workflow %q vanished mid-transition", workflowID), nil)
	}

	t.logger.Info("workflow transition",
		logging.String(logging.FieldWorkflowID, workflowID),
		logging.String("from_phase", fromPhase),
		logging.String("to_phase", toPhase),
		logging.String("to_status", string(toStatus)),
		logging.Duration("phase_duration", duration),
		logging.String(logging.FieldEventType, "workflow_transition"),
	)
	return t.store.GetWorkflow(ctx, workflowID)
}
