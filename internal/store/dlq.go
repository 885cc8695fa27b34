package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const dlqColumns = "id, work_item_id, reason, last_failure_at, reprocess_attempts, can_be_reprocessed, escalated_at, resolution, created_at"

// CreateDLQEntry records retry exhaustion for a work item. The UNIQUE
// constraint on work_item_id enforces exactly one entry per item; a second
// insert returns ErrDuplicate so crash-recovery paths can treat it as done.
func (s *Store) CreateDLQEntry(ctx context.Context, entry *DLQEntry) (*DLQEntry, error) {
	if entry == nil {
		return nil, errors.New("entry is nil")
	}
	if entry.ID == "" {
		return nil, errors.New("entry id must not be empty")
	}
	now := time.Now().UTC()
	lastFailure := entry.LastFailureAt
	if lastFailure == nil {
		lastFailure = &now
	}
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO dlq_entries (id, work_item_id, reason, last_failure_at, reprocess_attempts, can_be_reprocessed, created_at)
         VALUES (?, ?, ?, ?, 0, 1, ?)`,
		entry.ID,
		entry.WorkItemID,
		nullableString(entry.Reason),
		nullableTime(lastFailure),
		formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert dlq entry: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert dlq entry: %w", err)
	}
	return s.GetDLQEntry(ctx, entry.ID)
}

// RefreshDLQEntry updates the existing entry for a work item with the reason
// and timestamp of a fresh exhaustion. Used when an item dead-letters again
// after reprocessing. Returns false when the item has no entry.
func (s *Store) RefreshDLQEntry(ctx context.Context, workItemID int64, reason string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE dlq_entries SET reason = ?, last_failure_at = ? WHERE work_item_id = ?`,
		nullableString(reason),
		formatTime(now),
		workItemID,
	)
	if err != nil {
		return false, fmt.Errorf("refresh dlq entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetDLQEntry fetches an entry by identifier; nil when missing.
func (s *Store) GetDLQEntry(ctx context.Context, id string) (*DLQEntry, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+dlqColumns+` FROM dlq_entries WHERE id = ?`, id)
	entry, err := scanDLQEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dlq entry: %w", err)
	}
	return entry, nil
}

// GetDLQEntryByItem fetches the entry for a work item; nil when the item was
// never dead-lettered.
func (s *Store) GetDLQEntryByItem(ctx context.Context, workItemID int64) (*DLQEntry, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+dlqColumns+` FROM dlq_entries WHERE work_item_id = ?`, workItemID)
	entry, err := scanDLQEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dlq entry by item: %w", err)
	}
	return entry, nil
}

// ListDLQEntries returns entries newest first.
func (s *Store) ListDLQEntries(ctx context.Context) ([]*DLQEntry, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+dlqColumns+` FROM dlq_entries ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list dlq entries: %w", err)
	}
	defer rows.Close()
	return collectDLQEntries(rows)
}

// MarkReprocessed increments the reprocess counter and records the failure
// timestamp the reprocess is responding to. The entry itself is kept; the
// queue history must survive reprocessing.
func (s *Store) MarkReprocessed(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE dlq_entries SET reprocess_attempts = reprocess_attempts + 1, last_failure_at = ? WHERE id = ?`,
		formatTime(now),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("mark reprocessed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// EscalateDLQEntry hands the entry to a human: automatic reprocessing stops
// permanently. Returns false when the entry is unknown or already escalated.
func (s *Store) EscalateDLQEntry(ctx context.Context, id, reason string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE dlq_entries
         SET escalated_at = ?, resolution = ?, can_be_reprocessed = 0
         WHERE id = ? AND escalated_at IS NULL`,
		formatTime(now),
		nullableString(reason),
		id,
	)
	if err != nil {
		return false, fmt.Errorf("escalate dlq entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ReprocessableEntries returns unescalated, reprocessable entries whose last
// failure is older than the cutoff. Escalated entries never appear here; only
// an explicit operator action may touch them.
func (s *Store) ReprocessableEntries(ctx context.Context, olderThan time.Time) ([]*DLQEntry, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+dlqColumns+` FROM dlq_entries
         WHERE escalated_at IS NULL AND can_be_reprocessed = 1
           AND (last_failure_at IS NULL OR last_failure_at < ?)
         ORDER BY created_at`,
		formatTime(olderThan),
	)
	if err != nil {
		return nil, fmt.Errorf("reprocessable entries: %w", err)
	}
	defer rows.Close()
	return collectDLQEntries(rows)
}

func collectDLQEntries(rows *sql.Rows) ([]*DLQEntry, error) {
	var entries []*DLQEntry
	for rows.Next() {
		entry, err := scanDLQEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanDLQEntry(scanner interface{ Scan(dest ...any) error }) (*DLQEntry, error) {
	var (
		id             string
		workItemID     int64
		reason         sql.NullString
		lastFailureRaw sql.NullString
		attempts       int
		reprocessable  sql.NullInt64
		escalatedRaw   sql.NullString
		resolution     sql.NullString
		createdRaw     sql.NullString
	)
	if err := scanner.Scan(&id, &workItemID, &reason, &lastFailureRaw, &attempts, &reprocessable, &escalatedRaw, &resolution, &createdRaw); err != nil {
		return nil, err
	}

	entry := &DLQEntry{
		ID:                id,
		WorkItemID:        workItemID,
		Reason:            reason.String,
		ReprocessAttempts: attempts,
		Resolution:        resolution.String,
	}
	if reprocessable.Valid {
		entry.CanBeReprocessed = reprocessable.Int64 != 0
	}
	entry.LastFailureAt = parseNullableTime(lastFailureRaw)
	entry.EscalatedAt = parseNullableTime(escalatedRaw)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		entry.CreatedAt = created
	}
	return entry, nil
}
