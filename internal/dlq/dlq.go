// Package dlq manages the dead letter queue: durable holding for work items
// that exhausted their retry budget, with reprocessing and human escalation.
package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/logging"
	"dispatch/internal/services"
	"dispatch/internal/store"
)

// Service exposes DLQ operations over the store.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService constructs a DLQ service.
func NewService(st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{store: st, logger: logging.NewComponentLogger(logger, "dlq")}
}

// Create records a dead-lettered work item. One entry per work item; a
// second exhaustion of the same item after reprocessing refreshes the
// existing entry's reason and failure timestamp instead of duplicating it.
func (s *Service) Create(ctx context.Context, workItemID int64, reason string) (*store.DLQEntry, error) {
	entry, err := s.store.CreateDLQEntry(ctx, &store.DLQEntry{
		ID:         uuid.NewString(),
		WorkItemID: workItemID,
		Reason:     reason,
	})
	if errors.Is(err, store.ErrDuplicate) {
		if _, refreshErr := s.store.RefreshDLQEntry(ctx, workItemID, reason); refreshErr != nil {
			return nil, services.Wrap(services.ErrTransient, "dlq", "create", "refresh existing entry", refreshErr)
		}
		existing, getErr := s.store.GetDLQEntryByItem(ctx, workItemID)
		if getErr != nil {
			return nil, services.Wrap(services.ErrTransient, "dlq", "create", "load existing entry", getErr)
		}
		s.logger.Warn("work item dead-lettered again",
			logging.Int64(logging.FieldItemID, workItemID),
			logging.String("reason", reason),
			logging.String(logging.FieldEventType, "dlq_entry_refreshed"),
		)
		return existing, nil
	}
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dlq", "create", "persist entry", err)
	}
	s.logger.Warn("work item dead-lettered",
		logging.Int64(logging.FieldItemID, workItemID),
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "dlq_entry_created"),
	)
	return entry, nil
}

// Get returns one entry, nil when unknown.
func (s *Service) Get(ctx context.Context, entryID string) (*store.DLQEntry, error) {
	entry, err := s.store.GetDLQEntry(ctx, entryID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dlq", "get", "load entry", err)
	}
	return entry, nil
}

// List returns all entries, newest first.
func (s *Service) List(ctx context.Context) ([]*store.DLQEntry, error) {
	entries, err := s.store.ListDLQEntries(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dlq", "list", "list entries", err)
	}
	return entries, nil
}

// Reprocess re-enqueues the original work item as a fresh attempt: pending,
// retries reset to zero. The entry survives as history with its attempt
// counter bumped. Operators may reprocess escalated entries explicitly;
// only the automatic sweep refuses them.
func (s *Service) Reprocess(ctx context.Context, entryID, triggeredBy string) (*store.DLQEntry, error) {
	entry, err := s.store.GetDLQEntry(ctx, entryID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dlq", "reprocess", "load entry", err)
	}
	if entry == nil {
		return nil, services.Wrap(services.ErrNotFound, "dlq", "reprocess", fmt.Sprintf("dlq entry %q not found", entryID), nil)
	}

	reset, err := s.store.ResetForReprocess(ctx, entry.WorkItemID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dlq", "reprocess", "reset work item", err)
	}
	if !reset {
		return nil, services.Wrap(services.ErrConflict, "dlq", "reprocess", fmt.Sprintf("work item %d is not dead-lettered", entry.WorkItemID), nil)
	}
	if _, err := s.store.MarkReprocessed(ctx, entryID); err != nil {
		return nil, services.Wrap(services.ErrTransient, "dlq", "reprocess", "record reprocess attempt", err)
	}

	s.logger.Info("dlq entry reprocessed",
		logging.String("entry_id", entryID),
		logging.Int64(logging.FieldItemID, entry.WorkItemID),
		logging.String("triggered_by", triggeredBy),
		logging.String(logging.FieldEventType, "dlq_reprocessed"),
	)
	return s.store.GetDLQEntry(ctx, entryID)
}

// Escalate hands the entry to a human and permanently removes it from
// automatic reprocessing.
func (s *Service) Escalate(ctx context.Context, entryID, reason string) (*store.DLQEntry, error) {
	ok, err := s.store.EscalateDLQEntry(ctx, entryID, reason)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "dlq", "escalate", "escalate entry", err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrConflict, "dlq", "escalate", fmt.Sprintf("dlq entry %q unknown or already escalated", entryID), nil)
	}
	s.logger.Warn("dlq entry escalated",
		logging.String("entry_id", entryID),
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "dlq_escalated"),
	)
	return s.store.GetDLQEntry(ctx, entryID)
}

// SweepReprocess automatically reprocesses entries whose last failure is
// older than the cutoff age. Escalated entries are never touched. Returns
// the number of entries re-enqueued.
func (s *Service) SweepReprocess(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	entries, err := s.store.ReprocessableEntries(ctx, cutoff)
	if err != nil {
		return 0, services.Wrap(services.ErrTransient, "dlq", "sweep", "list reprocessable entries", err)
	}

	swept := 0
	for _, entry := range entries {
		if _, err := s.Reprocess(ctx, entry.ID, "sweep"); err != nil {
			s.logger.Warn("sweep reprocess failed",
				logging.String("entry_id", entry.ID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "dlq_sweep_failed"),
			)
			continue
		}
		swept++
	}
	return swept, nil
}
