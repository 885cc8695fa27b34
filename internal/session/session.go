// Package session groups work items under the end-to-end request that
// spawned them and projects aggregate progress.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"dispatch/internal/logging"
	"dispatch/internal/services"
	"dispatch/internal/store"
)

// Tracker exposes session lifecycle operations over the store.
type Tracker struct {
	store  *store.Store
	logger *slog.Logger
}

// NewTracker constructs a session tracker.
func NewTracker(st *store.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{store: st, logger: logging.NewComponentLogger(logger, "session")}
}

// Create opens a new session. A blank session id gets a generated one; a
// caller-supplied id that already exists is a conflict.
func (t *Tracker) Create(ctx context.Context, sessionID, userID, orchestratorAgentID string) (*store.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	sess, err := t.store.CreateSession(ctx, &store.Session{
		SessionID:           sessionID,
		UserID:              strings.TrimSpace(userID),
		OrchestratorAgentID: strings.TrimSpace(orchestratorAgentID),
		Status:              store.SessionActive,
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, services.Wrap(services.ErrConflict, "session", "create", fmt.Sprintf("session %q already exists", sessionID), err)
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "session", "create", "persist session", err)
	}
	t.logger.Info("session created",
		logging.String(logging.FieldSessionID, sess.SessionID),
		logging.String(logging.FieldEventType, "session_created"),
	)
	return sess, nil
}

// Get returns one session, nil when unknown.
func (t *Tracker) Get(ctx context.Context, sessionID string) (*store.Session, error) {
	sess, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "session", "get", "load session", err)
	}
	return sess, nil
}

// List returns all sessions, newest first.
func (t *Tracker) List(ctx context.Context) ([]*store.Session, error) {
	sessions, err := t.store.ListSessions(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "session", "list", "list sessions", err)
	}
	return sessions, nil
}

// Touch records activity against a session, keeping it visibly alive while
// its items churn.
func (t *Tracker) Touch(ctx context.Context, sessionID string) error {
	if err := t.store.TouchSession(ctx, sessionID); err != nil {
		return services.Wrap(services.ErrTransient, "session", "touch", "touch session", err)
	}
	return nil
}

// Progress is the aggregate item view of one session.
type Progress struct {
	Session *store.Session
	Counts  store.SessionCounts
	Items   []*store.WorkItem
}

// Progress returns the session with its item counts and full item list. An
// unknown session is a not-found error.
func (t *Tracker) Progress(ctx context.Context, sessionID string) (*Progress, error) {
	sess, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "session", "progress", "load session", err)
	}
	if sess == nil {
		return nil, services.Wrap(services.ErrNotFound, "session", "progress", fmt.Sprintf("session %q not found", sessionID), nil)
	}
	counts, err := t.store.SessionCounts(ctx, sessionID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "session", "progress", "count items", err)
	}
	items, err := t.store.ItemsBySession(ctx, sessionID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "session", "progress", "list items", err)
	}
	return &Progress{Session: sess, Counts: counts, Items: items}, nil
}

// Complete marks a session finished regardless of item state. Used when the
// orchestrator explicitly closes out a request.
func (t *Tracker) Complete(ctx context.Context, sessionID string) error {
	ok, err := t.store.CompleteSession(ctx, sessionID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "session", "complete", "complete session", err)
	}
	if !ok {
		return services.Wrap(services.ErrNotFound, "session", "complete", fmt.Sprintf("session %q not active", sessionID), nil)
	}
	t.logger.Info("session completed",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldEventType, "session_completed"),
	)
	return nil
}

// CompleteIfQuiescent closes the session when every item reached a terminal
// status. Returns true when the session flipped to completed on this call.
// Safe to invoke repeatedly from the scheduler loop.
func (t *Tracker) CompleteIfQuiescent(ctx context.Context, sessionID string) (bool, error) {
	counts, err := t.store.SessionCounts(ctx, sessionID)
	if err != nil {
		return false, services.Wrap(services.ErrTransient, "session", "complete if quiescent", "count items", err)
	}
	if counts.Total == 0 || counts.Terminal() < counts.Total {
		return false, nil
	}
	ok, err := t.store.CompleteSession(ctx, sessionID)
	if err != nil {
		return false, services.Wrap(services.ErrTransient, "session", "complete if quiescent", "complete session", err)
	}
	if ok {
		t.logger.Info("session quiesced",
			logging.String(logging.FieldSessionID, sessionID),
			logging.Int("items", counts.Total),
			logging.String(logging.FieldEventType, "session_completed"),
		)
	}
	return ok, nil
}
