package registry_test

import (
	"context"
	"errors"
	"testing"

	"dispatch/internal/logging"
	"dispatch/internal/registry"
	"dispatch/internal/services"
	"dispatch/internal/store"
	"dispatch/internal/testsupport"
)

func newService(t *testing.T) (*registry.Service, *store.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	return registry.NewService(cfg, st, logging.NewNop()), st
}

func TestRegisterValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, registry.Registration{MaxConcurrency: 1}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for missing agent id, got %v", err)
	}
	if _, err := svc.Register(ctx, registry.Registration{AgentID: "a", MaxConcurrency: 0}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for zero concurrency, got %v", err)
	}
}

func TestRegisterNormalizesCapabilities(t *testing.T) {
	svc, _ := newService(t)

	agent, err := svc.Register(context.Background(), registry.Registration{
		AgentID:        "agent-1",
		Capabilities:   []string{" Draft ", "draft", "REVIEW", ""},
		MaxConcurrency: 2,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if len(agent.Capabilities) != 2 || agent.Capabilities[0] != "draft" || agent.Capabilities[1] != "review" {
		t.Fatalf("unexpected capabilities: %v", agent.Capabilities)
	}
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	svc, _ := newService(t)
	err := svc.Heartbeat(context.Background(), "ghost")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatal("unknown agent heartbeat must not be retryable")
	}
}

func TestDeregister(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, registry.Registration{AgentID: "agent-1", MaxConcurrency: 1}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := svc.Deregister(ctx, "agent-1"); err != nil {
		t.Fatalf("Deregister failed: %v", err)
	}
	if err := svc.Deregister(ctx, "agent-1"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found on second deregister, got %v", err)
	}
}

func TestFindAvailableFilters(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	register := func(id, tier string, caps []string, budget int) {
		t.Helper()
		if _, err := svc.Register(ctx, registry.Registration{
			AgentID: id, Tier: tier, Capabilities: caps, MaxConcurrency: budget,
		}); err != nil {
			t.Fatalf("Register(%s) failed: %v", id, err)
		}
	}

	register("idle", "specialist", []string{"draft", "review"}, 2)
	register("busy", "specialist", []string{"draft", "review"}, 1)
	register("wrong-tier", "generalist", []string{"draft", "review"}, 2)
	register("missing-cap", "specialist", []string{"draft"}, 2)
	register("offline", "specialist", []string{"draft", "review"}, 2)
	if ok, err := st.UpdateAgentStatus(ctx, "offline", store.AgentInactive); err != nil || !ok {
		t.Fatalf("UpdateAgentStatus: ok=%v err=%v", ok, err)
	}

	loads := map[string]int{"busy": 1}
	available, err := svc.FindAvailable(ctx, []string{"draft", "review"}, "specialist", loads)
	if err != nil {
		t.Fatalf("FindAvailable failed: %v", err)
	}
	if len(available) != 1 || available[0].AgentID != "idle" {
		t.Fatalf("expected only the idle specialist, got %v", available)
	}
}

func TestFindAvailableEmptyIsNotError(t *testing.T) {
	svc, _ := newService(t)
	available, err := svc.FindAvailable(context.Background(), []string{"draft"}, "", nil)
	if err != nil {
		t.Fatalf("FindAvailable failed: %v", err)
	}
	if len(available) != 0 {
		t.Fatalf("expected no agents, got %v", available)
	}
}

func TestFindAvailableOldestHeartbeatFirst(t *testing.T) {
	svc, st := newService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, registry.Registration{AgentID: "first", Capabilities: []string{"draft"}, MaxConcurrency: 1}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := svc.Register(ctx, registry.Registration{AgentID: "second", Capabilities: []string{"draft"}, MaxConcurrency: 1}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if ok, err := st.TouchAgentHeartbeat(ctx, "first"); err != nil || !ok {
		t.Fatalf("TouchAgentHeartbeat: ok=%v err=%v", ok, err)
	}

	available, err := svc.FindAvailable(ctx, []string{"draft"}, "", nil)
	if err != nil {
		t.Fatalf("FindAvailable failed: %v", err)
	}
	if len(available) != 2 || available[0].AgentID != "second" {
		t.Fatalf("expected the least recently heartbeated agent first, got %v", available)
	}
}
