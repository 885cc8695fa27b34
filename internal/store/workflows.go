package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const workflowColumns = "workflow_id, name, current_phase, status, started_at, updated_at, completed_at"

const transitionColumns = "id, workflow_id, from_phase, to_phase, to_status, duration_ms, created_at"

// CreateWorkflow inserts a new active workflow.
func (s *Store) CreateWorkflow(ctx context.Context, wf *Workflow) (*Workflow, error) {
	if wf == nil {
		return nil, errors.New("workflow is nil")
	}
	if wf.WorkflowID == "" {
		return nil, errors.New("workflow id must not be empty")
	}
	now := time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO workflows (workflow_id, name, current_phase, status, started_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		wf.WorkflowID,
		nullableString(wf.Name),
		nullableString(wf.CurrentPhase),
		WorkflowActive,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert workflow: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert workflow: %w", err)
	}
	return s.GetWorkflow(ctx, wf.WorkflowID)
}

// GetWorkflow fetches a workflow by identifier; nil when missing.
func (s *Store) GetWorkflow(ctx context.Context, workflowID string) (*Workflow, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+workflowColumns+` FROM workflows WHERE workflow_id = ?`, workflowID)
	wf, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return wf, nil
}

// UpdateWorkflowState persists a phase/status change for a workflow.
// Terminal statuses also record the completion timestamp.
func (s *Store) UpdateWorkflowState(ctx context.Context, workflowID, currentPhase string, status WorkflowStatus) (bool, error) {
	now := time.Now().UTC()
	var completedAt any
	if status == WorkflowCompleted || status == WorkflowFailed {
		completedAt = formatTime(now)
	}
	res, err := s.execWithRetry(
		ctx,
		`UPDATE workflows SET current_phase = ?, status = ?, updated_at = ?, completed_at = ? WHERE workflow_id = ?`,
		nullableString(currentPhase),
		status,
		formatTime(now),
		completedAt,
		workflowID,
	)
	if err != nil {
		return false, fmt.Errorf("update workflow state: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// AppendTransition records an immutable phase transition row.
func (s *Store) AppendTransition(ctx context.Context, t *PhaseTransition) (*PhaseTransition, error) {
	if t == nil {
		return nil, errors.New("transition is nil")
	}
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO phase_transitions (workflow_id, from_phase, to_phase, to_status, duration_ms, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		t.WorkflowID,
		nullableString(t.FromPhase),
		t.ToPhase,
		t.ToStatus,
		t.Duration.Milliseconds(),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("append transition: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("transition insert id: %w", err)
	}
	stored := *t
	stored.ID = id
	stored.CreatedAt = now
	return &stored, nil
}

// TransitionsForWorkflow returns a workflow's transition log in append order.
func (s *Store) TransitionsForWorkflow(ctx context.Context, workflowID string) ([]*PhaseTransition, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+transitionColumns+` FROM phase_transitions WHERE workflow_id = ? ORDER BY id`,
		workflowID,
	)
	if err != nil {
		return nil, fmt.Errorf("transitions for workflow: %w", err)
	}
	defer rows.Close()
	return collectTransitions(rows)
}

// TransitionsSince returns every transition recorded at or after the given
// instant, in append order, for rolling-window summaries.
func (s *Store) TransitionsSince(ctx context.Context, since time.Time) ([]*PhaseTransition, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+transitionColumns+` FROM phase_transitions WHERE created_at >= ? ORDER BY id`,
		formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("transitions since: %w", err)
	}
	defer rows.Close()
	return collectTransitions(rows)
}

// LastTransitionTime returns when the workflow last changed phase, or nil for
// a workflow with no recorded transitions.
func (s *Store) LastTransitionTime(ctx context.Context, workflowID string) (*time.Time, error) {
	row := s.db.QueryRowContext(
		ensureContext(ctx),
		`SELECT created_at FROM phase_transitions WHERE workflow_id = ? ORDER BY id DESC LIMIT 1`,
		workflowID,
	)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("last transition time: %w", err)
	}
	t, err := parseTimeString(raw)
	if err != nil {
		return nil, fmt.Errorf("parse transition time: %w", err)
	}
	return &t, nil
}

func collectTransitions(rows *sql.Rows) ([]*PhaseTransition, error) {
	var transitions []*PhaseTransition
	for rows.Next() {
		t, err := scanTransition(rows)
		if err != nil {
			return nil, err
		}
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

func scanTransition(scanner interface{ Scan(dest ...any) error }) (*PhaseTransition, error) {
	var (
		id         int64
		workflowID string
		fromPhase  sql.NullString
		toPhase    string
		toStatus   string
		durationMs int64
		createdRaw sql.NullString
	)
	if err := scanner.Scan(&id, &workflowID, &fromPhase, &toPhase, &toStatus, &durationMs, &createdRaw); err != nil {
		return nil, err
	}

	t := &PhaseTransition{
		ID:         id,
		WorkflowID: workflowID,
		FromPhase:  fromPhase.String,
		ToPhase:    toPhase,
		ToStatus:   toStatus,
		Duration:   time.Duration(durationMs) * time.Millisecond,
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		t.CreatedAt = created
	}
	return t, nil
}

func scanWorkflow(scanner interface{ Scan(dest ...any) error }) (*Workflow, error) {
	var (
		workflowID   string
		name         sql.NullString
		currentPhase sql.NullString
		statusStr    string
		startedRaw   sql.NullString
		updatedRaw   sql.NullString
		completedRaw sql.NullString
	)
	if err := scanner.Scan(&workflowID, &name, &currentPhase, &statusStr, &startedRaw, &updatedRaw, &completedRaw); err != nil {
		return nil, err
	}

	wf := &Workflow{
		WorkflowID:   workflowID,
		Name:         name.String,
		CurrentPhase: currentPhase.String,
		Status:       WorkflowStatus(statusStr),
	}
	if started, err := parseTimeString(startedRaw.String); err == nil {
		wf.StartedAt = started
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		wf.UpdatedAt = updated
	}
	wf.CompletedAt = parseNullableTime(completedRaw)
	return wf, nil
}
