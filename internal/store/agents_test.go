package store_test

import (
	"context"
	"testing"
	"time"

	"dispatch/internal/store"
	"dispatch/internal/testsupport"
)

func TestUpsertAgentIdempotent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first, err := st.UpsertAgent(ctx, &store.Agent{
		AgentID:        "agent-1",
		Tier:           "specialist",
		Capabilities:   []string{"draft", "review"},
		MaxConcurrency: 2,
	})
	if err != nil {
		t.Fatalf("UpsertAgent failed: %v", err)
	}
	if first.Status != store.AgentActive {
		t.Fatalf("expected active status by default, got %s", first.Status)
	}
	if first.LastHeartbeat == nil {
		t.Fatal("expected registration to set a heartbeat")
	}

	// re-registration with a new capability set replaces, never duplicates
	second, err := st.UpsertAgent(ctx, &store.Agent{
		AgentID:        "agent-1",
		Tier:           "generalist",
		Capabilities:   []string{"compliance"},
		MaxConcurrency: 4,
	})
	if err != nil {
		t.Fatalf("re-register failed: %v", err)
	}
	if len(second.Capabilities) != 1 || second.Capabilities[0] != "compliance" {
		t.Fatalf("expected latest capabilities to win, got %v", second.Capabilities)
	}
	if second.MaxConcurrency != 4 || second.Tier != "generalist" {
		t.Fatalf("unexpected updated agent: %#v", second)
	}

	agents, err := st.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents failed: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected a single agent row after re-registration, got %d", len(agents))
	}
}

func TestTouchAgentHeartbeat(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	if ok, err := st.TouchAgentHeartbeat(ctx, "unknown"); err != nil || ok {
		t.Fatalf("heartbeat for unknown agent: ok=%v err=%v", ok, err)
	}

	testsupport.SeedAgent(t, st, "agent-1", []string{"draft"}, 1)
	if ok, err := st.TouchAgentHeartbeat(ctx, "agent-1"); err != nil || !ok {
		t.Fatalf("TouchAgentHeartbeat: ok=%v err=%v", ok, err)
	}

	agent, err := st.GetAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if agent.LastHeartbeat == nil {
		t.Fatal("expected heartbeat timestamp")
	}
	if time.Since(*agent.LastHeartbeat) > time.Minute {
		t.Fatalf("heartbeat not refreshed: %v", agent.LastHeartbeat)
	}
}

func TestFreshActiveAgents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.SeedAgent(t, st, "agent-a", []string{"draft"}, 1)
	time.Sleep(5 * time.Millisecond)
	testsupport.SeedAgent(t, st, "agent-b", []string{"draft"}, 1)
	testsupport.SeedAgent(t, st, "agent-off", []string{"draft"}, 1)
	if ok, err := st.UpdateAgentStatus(ctx, "agent-off", store.AgentInactive); err != nil || !ok {
		t.Fatalf("UpdateAgentStatus: ok=%v err=%v", ok, err)
	}

	fresh, err := st.FreshActiveAgents(ctx, time.Now().UTC().Add(-time.Minute))
	if err != nil {
		t.Fatalf("FreshActiveAgents failed: %v", err)
	}
	if len(fresh) != 2 {
		t.Fatalf("expected 2 fresh agents, got %d", len(fresh))
	}
	// oldest heartbeat first
	if fresh[0].AgentID != "agent-a" || fresh[1].AgentID != "agent-b" {
		t.Fatalf("unexpected freshness order: %s, %s", fresh[0].AgentID, fresh[1].AgentID)
	}

	fresh, err = st.FreshActiveAgents(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("FreshActiveAgents failed: %v", err)
	}
	if len(fresh) != 0 {
		t.Fatalf("expected no agents fresh against a future cutoff, got %d", len(fresh))
	}
}

func TestDeleteAgent(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	testsupport.SeedAgent(t, st, "agent-1", []string{"draft"}, 1)
	if ok, err := st.DeleteAgent(ctx, "agent-1"); err != nil || !ok {
		t.Fatalf("DeleteAgent: ok=%v err=%v", ok, err)
	}
	if ok, err := st.DeleteAgent(ctx, "agent-1"); err != nil || ok {
		t.Fatalf("second delete should report no row: ok=%v err=%v", ok, err)
	}
	agent, err := st.GetAgent(ctx, "agent-1")
	if err != nil {
		t.Fatalf("GetAgent failed: %v", err)
	}
	if agent != nil {
		t.Fatalf("expected agent gone, got %#v", agent)
	}
}
