package testsupport

import (
	"context"
	"testing"

	"dispatch/internal/config"
	"dispatch/internal/store"
)

// MustOpenStore opens a store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// SeedAgent registers a test agent with the given capabilities.
func SeedAgent(t testing.TB, st *store.Store, agentID string, caps []string, maxConcurrency int) *store.Agent {
	t.Helper()

	agent, err := st.UpsertAgent(context.Background(), &store.Agent{
		AgentID:        agentID,
		Capabilities:   caps,
		Status:         store.AgentActive,
		MaxConcurrency: maxConcurrency,
	})
	if err != nil {
		t.Fatalf("UpsertAgent: %v", err)
	}
	return agent
}

// SeedSession creates a test session.
func SeedSession(t testing.TB, st *store.Store, sessionID string) *store.Session {
	t.Helper()

	session, err := st.CreateSession(context.Background(), &store.Session{
		SessionID: sessionID,
		UserID:    "test-user",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return session
}

// SeedItem enqueues a pending work item for tests.
func SeedItem(t testing.TB, st *store.Store, sessionID, taskType string, caps []string, priority int) *store.WorkItem {
	t.Helper()

	item, err := st.CreateItem(context.Background(), &store.WorkItem{
		SessionID:    sessionID,
		TaskType:     taskType,
		Capabilities: caps,
		Priority:     priority,
		CanRetry:     true,
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	return item
}
