package store_test

import (
	"context"
	"testing"
	"time"

	"dispatch/internal/store"
	"dispatch/internal/testsupport"
)

func seedWorkflow(t *testing.T, st *store.Store, workflowID string) *store.Workflow {
	t.Helper()
	wf, err := st.CreateWorkflow(context.Background(), &store.Workflow{
		WorkflowID:   workflowID,
		Name:         "proposal",
		CurrentPhase: "drafting",
		Status:       store.WorkflowActive,
	})
	if err != nil {
		t.Fatalf("CreateWorkflow failed: %v", err)
	}
	return wf
}

func TestWorkflowStateUpdate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seedWorkflow(t, st, "wf-1")
	if ok, err := st.UpdateWorkflowState(ctx, "wf-1", "review", store.WorkflowActive); err != nil || !ok {
		t.Fatalf("UpdateWorkflowState: ok=%v err=%v", ok, err)
	}

	wf, err := st.GetWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("GetWorkflow failed: %v", err)
	}
	if wf.CurrentPhase != "review" || wf.Status != store.WorkflowActive {
		t.Fatalf("unexpected workflow state: %#v", wf)
	}
	if wf.CompletedAt != nil {
		t.Fatal("completed_at must stay unset while active")
	}

	if ok, err := st.UpdateWorkflowState(ctx, "wf-1", "done", store.WorkflowCompleted); err != nil || !ok {
		t.Fatalf("UpdateWorkflowState: ok=%v err=%v", ok, err)
	}
	wf, _ = st.GetWorkflow(ctx, "wf-1")
	if wf.CompletedAt == nil {
		t.Fatal("expected completed_at on terminal status")
	}
}

func TestAppendTransitionOrder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seedWorkflow(t, st, "wf-1")
	for _, hop := range [][2]string{{"drafting", "review"}, {"review", "compliance"}, {"compliance", "done"}} {
		if _, err := st.AppendTransition(ctx, &store.PhaseTransition{
			WorkflowID: "wf-1",
			FromPhase:  hop[0],
			ToPhase:    hop[1],
			ToStatus:   "active",
			Duration:   250 * time.Millisecond,
		}); err != nil {
			t.Fatalf("AppendTransition failed: %v", err)
		}
	}

	transitions, err := st.TransitionsForWorkflow(ctx, "wf-1")
	if err != nil {
		t.Fatalf("TransitionsForWorkflow failed: %v", err)
	}
	if len(transitions) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(transitions))
	}
	if transitions[0].ToPhase != "review" || transitions[2].ToPhase != "done" {
		t.Fatalf("unexpected transition order: %v", transitions)
	}
	if transitions[1].Duration != 250*time.Millisecond {
		t.Fatalf("duration round-trip failed: %v", transitions[1].Duration)
	}
}

func TestLastTransitionTime(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seedWorkflow(t, st, "wf-1")
	last, err := st.LastTransitionTime(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LastTransitionTime failed: %v", err)
	}
	if last != nil {
		t.Fatalf("expected nil before any transition, got %v", last)
	}

	stored, err := st.AppendTransition(ctx, &store.PhaseTransition{
		WorkflowID: "wf-1", FromPhase: "drafting", ToPhase: "review", ToStatus: "active",
	})
	if err != nil {
		t.Fatalf("AppendTransition failed: %v", err)
	}

	last, err = st.LastTransitionTime(ctx, "wf-1")
	if err != nil {
		t.Fatalf("LastTransitionTime failed: %v", err)
	}
	if last == nil || !last.Equal(stored.CreatedAt) {
		t.Fatalf("expected %v, got %v", stored.CreatedAt, last)
	}
}

func TestTransitionsSince(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	seedWorkflow(t, st, "wf-1")
	if _, err := st.AppendTransition(ctx, &store.PhaseTransition{
		WorkflowID: "wf-1", FromPhase: "drafting", ToPhase: "review", ToStatus: "active",
	}); err != nil {
		t.Fatalf("AppendTransition failed: %v", err)
	}

	recent, err := st.TransitionsSince(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("TransitionsSince failed: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("expected 1 recent transition, got %d", len(recent))
	}

	recent, err = st.TransitionsSince(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("TransitionsSince failed: %v", err)
	}
	if len(recent) != 0 {
		t.Fatalf("expected no transitions after a future cutoff, got %d", len(recent))
	}
}
