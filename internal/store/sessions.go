package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = "session_id, user_id, orchestrator_agent_id, status, created_at, last_activity"

// CreateSession inserts a new active session.
func (s *Store) CreateSession(ctx context.Context, session *Session) (*Session, error) {
	if session == nil {
		return nil, errors.New("session is nil")
	}
	if session.SessionID == "" {
		return nil, errors.New("session id must not be empty")
	}
	now := time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`INSERT INTO sessions (session_id, user_id, orchestrator_agent_id, status, created_at, last_activity)
         VALUES (?, ?, ?, ?, ?, ?)`,
		session.SessionID,
		nullableString(session.UserID),
		nullableString(session.OrchestratorAgentID),
		SessionActive,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert session: %w", ErrDuplicate)
		}
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return s.GetSession(ctx, session.SessionID)
}

// GetSession fetches a session by identifier; nil when missing.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns sessions newest first.
func (s *Store) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// TouchSession refreshes a session's last activity timestamp.
func (s *Store) TouchSession(ctx context.Context, sessionID string) error {
	now := time.Now().UTC()
	_, err := s.execWithRetry(
		ctx,
		`UPDATE sessions SET last_activity = ? WHERE session_id = ?`,
		formatTime(now),
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// CompleteSession transitions a session to completed. Returns false when the
// session was already completed or unknown.
func (s *Store) CompleteSession(ctx context.Context, sessionID string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE sessions SET status = ?, last_activity = ? WHERE session_id = ? AND status = ?`,
		SessionCompleted,
		formatTime(now),
		sessionID,
		SessionActive,
	)
	if err != nil {
		return false, fmt.Errorf("complete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		sessionID    string
		userID       sql.NullString
		orchestrator sql.NullString
		statusStr    string
		createdRaw   sql.NullString
		activityRaw  sql.NullString
	)
	if err := scanner.Scan(&sessionID, &userID, &orchestrator, &statusStr, &createdRaw, &activityRaw); err != nil {
		return nil, err
	}

	session := &Session{
		SessionID:           sessionID,
		UserID:              userID.String,
		OrchestratorAgentID: orchestrator.String,
		Status:              SessionStatus(statusStr),
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		session.CreatedAt = created
	}
	if activity, err := parseTimeString(activityRaw.String); err == nil {
		session.LastActivity = activity
	}
	return session, nil
}
