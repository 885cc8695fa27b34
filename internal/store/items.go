package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const itemColumns = "id, session_id, workflow_id, task_type, capabilities, payload, status, priority, deadline, assigned_agent_id, created_by_agent_id, retries, can_retry, next_retry_at, dlq, cancel_requested, result, error_message, created_at, updated_at"

// CreateItem inserts a new pending work item and returns the stored record.
func (s *Store) CreateItem(ctx context.Context, item *WorkItem) (*WorkItem, error) {
	if item == nil {
		return nil, errors.New("item is nil")
	}
	caps, err := marshalCapabilities(item.Capabilities)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	status := item.Status
	if status == "" {
		status = ItemPending
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO work_items (
            session_id, workflow_id, task_type, capabilities, payload, status,
            priority, deadline, created_by_agent_id, retries, can_retry,
            created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.SessionID,
		nullableString(item.WorkflowID),
		item.TaskType,
		caps,
		nullableString(item.Payload),
		status,
		item.Priority,
		nullableTime(item.Deadline),
		nullableString(item.CreatedByAgentID),
		item.Retries,
		boolToInt(item.CanRetry),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("insert work item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetItem(ctx, id)
}

// GetItem fetches a work item by identifier; nil when missing.
func (s *Store) GetItem(ctx context.Context, id int64) (*WorkItem, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get work item: %w", err)
	}
	return item, nil
}

// ListItems returns work items filtered by status set (or all items when no
// status is provided), oldest first.
func (s *Store) ListItems(ctx context.Context, statuses ...ItemStatus) ([]*WorkItem, error) {
	baseQuery := `SELECT ` + itemColumns + ` FROM work_items`
	orderClause := ` ORDER BY id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ensureContext(ctx), baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ensureContext(ctx), baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ItemsBySession returns every work item owned by a session, oldest first.
func (s *Store) ItemsBySession(ctx context.Context, sessionID string) ([]*WorkItem, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+itemColumns+` FROM work_items WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("items by session: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ItemsByAgent returns the items currently held by an agent, meaning those
// assigned to it that have not reached a terminal status. Pull-based
// executors poll this to discover their outstanding work.
func (s *Store) ItemsByAgent(ctx context.Context, agentID string) ([]*WorkItem, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+itemColumns+` FROM work_items
         WHERE assigned_agent_id = ? AND status IN (?, ?)
         ORDER BY id`,
		agentID,
		ItemAssigned,
		ItemInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("items by agent: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// PendingReady returns pending items eligible for assignment at the given
// instant in the scheduler's deterministic total order: priority descending,
// deadline ascending with NULL deadlines last, then creation order. Two
// schedulers walking this order never disagree on the next item.
func (s *Store) PendingReady(ctx context.Context, now time.Time) ([]*WorkItem, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+itemColumns+` FROM work_items
         WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)
         ORDER BY priority DESC,
                  CASE WHEN deadline IS NULL THEN 1 ELSE 0 END,
                  deadline ASC,
                  id ASC`,
		ItemPending,
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("pending ready items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ClaimItem assigns a pending item to an agent. The status predicate makes
// the claim atomic: of N concurrent claims on one item exactly one sees a
// row affected.
func (s *Store) ClaimItem(ctx context.Context, id int64, agentID string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = ?, assigned_agent_id = ?, next_retry_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		ItemAssigned,
		agentID,
		formatTime(time.Now().UTC()),
		id,
		ItemPending,
	)
	if err != nil {
		return false, fmt.Errorf("claim work item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReleaseClaim returns an assigned item to pending, e.g. when dispatch to the
// claimed agent fails before execution starts.
func (s *Store) ReleaseClaim(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = ?, assigned_agent_id = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		ItemPending,
		formatTime(time.Now().UTC()),
		id,
		ItemAssigned,
	)
	if err != nil {
		return false, fmt.Errorf("release claim: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// StartItem moves an assigned item to in_progress on behalf of its agent.
func (s *Store) StartItem(ctx context.Context, id int64, agentID string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = ?, updated_at = ?
         WHERE id = ? AND status = ? AND assigned_agent_id = ?`,
		ItemInProgress,
		formatTime(time.Now().UTC()),
		id,
		ItemAssigned,
		agentID,
	)
	if err != nil {
		return false, fmt.Errorf("start work item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CompleteItem finishes an in-flight item with its result payload. Returns
// false when the item was not assigned or in progress (a late report).
func (s *Store) CompleteItem(ctx context.Context, id int64, result string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = ?, result = ?, error_message = NULL, assigned_agent_id = NULL,
             next_retry_at = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		ItemCompleted,
		nullableString(result),
		formatTime(time.Now().UTC()),
		id,
		ItemAssigned,
		ItemInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("complete work item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RequeueForRetry returns an in-flight item to pending with an updated retry
// count and backoff deadline. Returns false for late reports.
func (s *Store) RequeueForRetry(ctx context.Context, id int64, retries int, nextRetryAt time.Time, errMsg string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = ?, retries = ?, next_retry_at = ?, error_message = ?,
             assigned_agent_id = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		ItemPending,
		retries,
		formatTime(nextRetryAt),
		nullableString(errMsg),
		formatTime(time.Now().UTC()),
		id,
		ItemAssigned,
		ItemInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("requeue work item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkDeadLettered records terminal failure after retry exhaustion: status
// failed, dlq flagged, retries frozen.
func (s *Store) MarkDeadLettered(ctx context.Context, id int64, retries int, errMsg string) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = ?, dlq = 1, can_retry = 0, retries = ?, error_message = ?,
             assigned_agent_id = NULL, next_retry_at = NULL, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		ItemFailed,
		retries,
		nullableString(errMsg),
		formatTime(time.Now().UTC()),
		id,
		ItemAssigned,
		ItemInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("mark dead lettered: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CancelPending cancels an item that has not been assigned yet.
func (s *Store) CancelPending(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = ?, next_retry_at = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		ItemCancelled,
		formatTime(time.Now().UTC()),
		id,
		ItemPending,
	)
	if err != nil {
		return false, fmt.Errorf("cancel pending item: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RequestCancel flags an in-flight item for best-effort cancellation by its
// agent. The item stays assigned; a late completion or failure report is
// tolerated.
func (s *Store) RequestCancel(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status IN (?, ?)`,
		formatTime(time.Now().UTC()),
		id,
		ItemAssigned,
		ItemInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("request cancel: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ResetForReprocess re-enqueues a dead-lettered item as a fresh attempt:
// pending, retries zeroed, dlq flag cleared.
func (s *Store) ResetForReprocess(ctx context.Context, id int64) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE work_items
         SET status = ?, retries = 0, can_retry = 1, dlq = 0, next_retry_at = NULL,
             error_message = NULL, assigned_agent_id = NULL, updated_at = ?
         WHERE id = ? AND dlq = 1 AND status = ?`,
		ItemPending,
		formatTime(time.Now().UTC()),
		id,
		ItemFailed,
	)
	if err != nil {
		return false, fmt.Errorf("reset for reprocess: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// AgentLoads returns the number of assigned or in-progress items per agent.
// Computed fresh on every call; the scheduler must not cache this across
// passes.
func (s *Store) AgentLoads(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT assigned_agent_id, COUNT(1)
         FROM work_items
         WHERE status IN (?, ?) AND assigned_agent_id IS NOT NULL
         GROUP BY assigned_agent_id`,
		ItemAssigned,
		ItemInProgress,
	)
	if err != nil {
		return nil, fmt.Errorf("agent loads: %w", err)
	}
	defer rows.Close()

	loads := make(map[string]int)
	for rows.Next() {
		var agentID string
		var count int
		if err := rows.Scan(&agentID, &count); err != nil {
			return nil, err
		}
		loads[agentID] = count
	}
	return loads, rows.Err()
}

// AbandonedItems returns in-flight items whose agent has not heartbeated
// since the cutoff, or whose agent row no longer exists.
func (s *Store) AbandonedItems(ctx context.Context, cutoff time.Time) ([]*WorkItem, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+prefixedItemColumns("w")+`
         FROM work_items w
         LEFT JOIN agents a ON a.agent_id = w.assigned_agent_id
         WHERE w.status IN (?, ?)
           AND (a.agent_id IS NULL OR a.last_heartbeat IS NULL OR a.last_heartbeat < ?)
         ORDER BY w.id`,
		ItemAssigned,
		ItemInProgress,
		formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("abandoned items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// SessionCounts aggregates terminal/total progress for one session.
func (s *Store) SessionCounts(ctx context.Context, sessionID string) (SessionCounts, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT status, COUNT(1) FROM work_items WHERE session_id = ? GROUP BY status`,
		sessionID,
	)
	if err != nil {
		return SessionCounts{}, fmt.Errorf("session counts: %w", err)
	}
	defer rows.Close()

	var counts SessionCounts
	for rows.Next() {
		var status ItemStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return SessionCounts{}, err
		}
		counts.Total += count
		switch status {
		case ItemCompleted:
			counts.Completed += count
		case ItemFailed:
			counts.Failed += count
		case ItemCancelled:
			counts.Cancelled += count
		}
	}
	return counts, rows.Err()
}

// Stats returns a count of work items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[ItemStatus]int, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT status, COUNT(1) FROM work_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("work item stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[ItemStatus]int)
	for rows.Next() {
		var status ItemStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func prefixedItemColumns(alias string) string {
	cols := []string{"id", "session_id", "workflow_id", "task_type", "capabilities", "payload", "status", "priority", "deadline", "assigned_agent_id", "created_by_agent_id", "retries", "can_retry", "next_retry_at", "dlq", "cancel_requested", "result", "error_message", "created_at", "updated_at"}
	out := make([]byte, 0, 256)
	for i, col := range cols {
		if i > 0 {
			out = append(out, ", "...)
		}
		out = append(out, alias...)
		out = append(out, '.')
		out = append(out, col...)
	}
	return string(out)
}

func collectItems(rows *sql.Rows) ([]*WorkItem, error) {
	var items []*WorkItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (*WorkItem, error) {
	var (
		id              int64
		sessionID       string
		workflowID      sql.NullString
		taskType        string
		capabilities    sql.NullString
		payload         sql.NullString
		statusStr       string
		priority        int
		deadlineRaw     sql.NullString
		assignedAgent   sql.NullString
		createdByAgent  sql.NullString
		retries         int
		canRetry        sql.NullInt64
		nextRetryRaw    sql.NullString
		dlq             sql.NullInt64
		cancelRequested sql.NullInt64
		result          sql.NullString
		errorMessage    sql.NullString
		createdRaw      sql.NullString
		updatedRaw      sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&sessionID,
		&workflowID,
		&taskType,
		&capabilities,
		&payload,
		&statusStr,
		&priority,
		&deadlineRaw,
		&assignedAgent,
		&createdByAgent,
		&retries,
		&canRetry,
		&nextRetryRaw,
		&dlq,
		&cancelRequested,
		&result,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	item := &WorkItem{
		ID:               id,
		SessionID:        sessionID,
		WorkflowID:       workflowID.String,
		TaskType:         taskType,
		Capabilities:     unmarshalCapabilities(capabilities.String),
		Payload:          payload.String,
		Status:           ItemStatus(statusStr),
		Priority:         priority,
		AssignedAgentID:  assignedAgent.String,
		CreatedByAgentID: createdByAgent.String,
		Retries:          retries,
		Result:           result.String,
		ErrorMessage:     errorMessage.String,
	}
	if canRetry.Valid {
		item.CanRetry = canRetry.Int64 != 0
	}
	if dlq.Valid {
		item.DLQ = dlq.Int64 != 0
	}
	if cancelRequested.Valid {
		item.CancelRequested = cancelRequested.Int64 != 0
	}
	item.Deadline = parseNullableTime(deadlineRaw)
	item.NextRetryAt = parseNullableTime(nextRetryRaw)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		item.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		item.UpdatedAt = updated
	}
	return item, nil
}
