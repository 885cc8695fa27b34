package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"dispatch/internal/dlq"
	"dispatch/internal/logging"
	"dispatch/internal/services"
	"dispatch/internal/store"
	"dispatch/internal/testsupport"
)

func newService(t *testing.T) (*dlq.Service, *store.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return dlq.NewService(st, logging.NewNop()), st
}

func deadLetter(t *testing.T, st *store.Store, svc *dlq.Service, sessionID string) (*store.WorkItem, *store.DLQEntry) {
	t.Helper()
	ctx := context.Background()
	item := testsupport.SeedItem(t, st, sessionID, "draft_section", nil, 5)
	if ok, err := st.ClaimItem(ctx, item.ID, "agent-1"); err != nil || !ok {
		t.Fatalf("ClaimItem: ok=%v err=%v", ok, err)
	}
	if ok, err := st.MarkDeadLettered(ctx, item.ID, 3, "exhausted"); err != nil || !ok {
		t.Fatalf("MarkDeadLettered: ok=%v err=%v", ok, err)
	}
	entry, err := svc.Create(ctx, item.ID, "retry budget exhausted")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return item, entry
}

func TestCreateIsIdempotentPerItem(t *testing.T) {
	svc, st := newService(t)
	testsupport.SeedSession(t, st, "sess-1")
	item, entry := deadLetter(t, st, svc, "sess-1")

	again, err := svc.Create(context.Background(), item.ID, "second exhaustion")
	if err != nil {
		t.Fatalf("second Create failed: %v", err)
	}
	if again.ID != entry.ID {
		t.Fatalf("expected the original entry back, got %s vs %s", again.ID, entry.ID)
	}
	if again.Reason != "second exhaustion" {
		t.Fatalf("expected refreshed reason, got %q", again.Reason)
	}
	if again.LastFailureAt == nil || entry.LastFailureAt == nil || !again.LastFailureAt.After(*entry.LastFailureAt) {
		t.Fatalf("expected refreshed failure timestamp, got %v then %v", entry.LastFailureAt, again.LastFailureAt)
	}

	entries, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
}

func TestReprocessResetsItem(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	testsupport.SeedSession(t, st, "sess-1")
	item, entry := deadLetter(t, st, svc, "sess-1")

	updated, err := svc.Reprocess(ctx, entry.ID, "operator")
	if err != nil {
		t.Fatalf("Reprocess failed: %v", err)
	}
	if updated.ReprocessAttempts != 1 {
		t.Fatalf("expected 1 reprocess attempt, got %d", updated.ReprocessAttempts)
	}

	fresh, err := st.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem failed: %v", err)
	}
	if fresh.Status != store.ItemPending || fresh.Retries != 0 || fresh.DLQ || !fresh.CanRetry {
		t.Fatalf("expected a fresh pending item, got %#v", fresh)
	}

	// reprocessing again without a new exhaustion is a conflict
	if _, err := svc.Reprocess(ctx, entry.ID, "operator"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestReprocessUnknownEntry(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.Reprocess(context.Background(), "ghost", "operator"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestEscalateStopsSweep(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	testsupport.SeedSession(t, st, "sess-1")
	_, plain := deadLetter(t, st, svc, "sess-1")
	_, escalated := deadLetter(t, st, svc, "sess-1")

	if _, err := svc.Escalate(ctx, escalated.ID, "needs human review"); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	// escalation is one-way
	if _, err := svc.Escalate(ctx, escalated.ID, "again"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict re-escalating, got %v", err)
	}

	swept, err := svc.SweepReprocess(ctx, 0)
	if err != nil {
		t.Fatalf("SweepReprocess failed: %v", err)
	}
	if swept != 1 {
		t.Fatalf("expected exactly the non-escalated entry swept, got %d", swept)
	}

	untouched, err := svc.Get(ctx, escalated.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if untouched.ReprocessAttempts != 0 {
		t.Fatal("sweep must not touch escalated entries")
	}
	sweptEntry, _ := svc.Get(ctx, plain.ID)
	if sweptEntry.ReprocessAttempts != 1 {
		t.Fatalf("expected swept entry attempt count 1, got %d", sweptEntry.ReprocessAttempts)
	}
}

func TestOperatorMayReprocessEscalatedEntry(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	testsupport.SeedSession(t, st, "sess-1")
	item, entry := deadLetter(t, st, svc, "sess-1")

	if _, err := svc.Escalate(ctx, entry.ID, "stuck"); err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	// explicit operator action still works on escalated entries
	if _, err := svc.Reprocess(ctx, entry.ID, "operator"); err != nil {
		t.Fatalf("Reprocess failed: %v", err)
	}
	fresh, _ := st.GetItem(ctx, item.ID)
	if fresh.Status != store.ItemPending {
		t.Fatalf("expected pending item, got %s", fresh.Status)
	}
}

func TestSweepRespectsAgeCutoff(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()
	testsupport.SeedSession(t, st, "sess-1")
	deadLetter(t, st, svc, "sess-1")

	swept, err := svc.SweepReprocess(ctx, time.Hour)
	if err != nil {
		t.Fatalf("SweepReprocess failed: %v", err)
	}
	if swept != 0 {
		t.Fatalf("expected young entries to be skipped, got %d swept", swept)
	}
}
