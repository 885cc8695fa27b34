package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"dispatch/internal/logging"
	"dispatch/internal/pipeline"
	"dispatch/internal/services"
	"dispatch/internal/store"
	"dispatch/internal/testsupport"
)

func newTracker(t *testing.T) *pipeline.Tracker {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return pipeline.NewTracker(st, logging.NewNop())
}

func TestStartAndAdvance(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()

	wf, err := tracker.Start(ctx, "", "submission", "preflight")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if wf.WorkflowID == "" {
		t.Fatal("expected generated workflow id")
	}
	if wf.Status != store.WorkflowActive || wf.CurrentPhase != "preflight" {
		t.Fatalf("unexpected workflow: %#v", wf)
	}

	for _, phase := range []string{"authenticate", "fill_form", "upload", "submit", "verify"} {
		if wf, err = tracker.Advance(ctx, wf.WorkflowID, phase); err != nil {
			t.Fatalf("Advance(%s) failed: %v", phase, err)
		}
	}
	if wf.CurrentPhase != "verify" {
		t.Fatalf("expected verify phase, got %s", wf.CurrentPhase)
	}

	history, err := tracker.History(ctx, wf.WorkflowID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("expected 5 transitions, got %d", len(history))
	}
	if history[0].FromPhase != "preflight" || history[0].ToPhase != "authenticate" {
		t.Fatalf("unexpected first transition: %#v", history[0])
	}
	for _, tr := range history {
		if tr.Duration < 0 {
			t.Fatalf("negative transition duration: %v", tr.Duration)
		}
		if !tr.Successful() {
			t.Fatalf("active transition classified unsuccessful: %#v", tr)
		}
	}
}

func TestStartDuplicateIsConflict(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()

	if _, err := tracker.Start(ctx, "wf-1", "submission", "preflight"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := tracker.Start(ctx, "wf-1", "submission", "preflight"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestSuspendResumeCycle(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()

	wf, err := tracker.Start(ctx, "wf-1", "submission", "upload")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// suspension is revisitable
	for i := 0; i < 2; i++ {
		if wf, err = tracker.Suspend(ctx, wf.WorkflowID); err != nil {
			t.Fatalf("Suspend failed: %v", err)
		}
		if wf.Status != store.WorkflowSuspended {
			t.Fatalf("expected suspended, got %s", wf.Status)
		}
		// advancing a suspended workflow is illegal
		if _, err := tracker.Advance(ctx, wf.WorkflowID, "submit"); !errors.Is(err, services.ErrConflict) {
			t.Fatalf("expected conflict advancing a suspended workflow, got %v", err)
		}
		if wf, err = tracker.Resume(ctx, wf.WorkflowID); err != nil {
			t.Fatalf("Resume failed: %v", err)
		}
		if wf.Status != store.WorkflowActive || wf.CurrentPhase != "upload" {
			t.Fatalf("resume must restore the phase: %#v", wf)
		}
	}

	history, err := tracker.History(ctx, wf.WorkflowID)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 transitions, got %d", len(history))
	}
	if history[0].Successful() {
		t.Fatal("suspend transition must classify unsuccessful")
	}
	if !history[1].Successful() {
		t.Fatal("resume transition must classify successful")
	}
}

func TestTerminalStatesRejectFurtherTransitions(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()

	wf, err := tracker.Start(ctx, "wf-done", "submission", "verify")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if wf, err = tracker.Complete(ctx, wf.WorkflowID); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if wf.Status != store.WorkflowCompleted || wf.CompletedAt == nil {
		t.Fatalf("unexpected completed workflow: %#v", wf)
	}
	if _, err := tracker.Resume(ctx, wf.WorkflowID); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict resuming completed workflow, got %v", err)
	}

	failed, err := tracker.Start(ctx, "wf-fail", "submission", "upload")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if failed, err = tracker.Fail(ctx, failed.WorkflowID); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if failed.Status != store.WorkflowFailed || failed.CompletedAt == nil {
		t.Fatalf("unexpected failed workflow: %#v", failed)
	}
	if _, err := tracker.Advance(ctx, failed.WorkflowID, "verify"); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict advancing failed workflow, got %v", err)
	}
}

func TestTransitionUnknownWorkflow(t *testing.T) {
	tracker := newTracker(t)
	if _, err := tracker.Advance(context.Background(), "ghost", "anywhere"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	tracker := newTracker(t)
	ctx := context.Background()

	wf, err := tracker.Start(ctx, "wf-1", "submission", "preflight")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := tracker.Advance(ctx, wf.WorkflowID, "authenticate"); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if _, err := tracker.Advance(ctx, wf.WorkflowID, "upload"); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if _, err := tracker.Fail(ctx, wf.WorkflowID); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	summary, err := tracker.Summarize(ctx, time.Hour)
	if err != nil {
		t.Fatalf("Summarize failed: %v", err)
	}
	if summary.Total != 3 || summary.Successful != 2 || summary.Unsuccessful != 1 {
		t.Fatalf("unexpected summary: %#v", summary)
	}
	if summary.ByPhase["authenticate"].Count != 1 || summary.ByPhase["upload"].Count != 2 {
		t.Fatalf("unexpected per-phase counts: %#v", summary.ByPhase)
	}
}
