package api_test

import (
	"encoding/json"
	"testing"
	"time"

	"dispatch/internal/api"
	"dispatch/internal/store"
)

func TestFromWorkItem(t *testing.T) {
	deadline := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	item := &store.WorkItem{
		ID:              42,
		SessionID:       "sess-1",
		TaskType:        "draft_section",
		Capabilities:    []string{"draft"},
		Status:          store.ItemAssigned,
		Priority:        9,
		Deadline:        &deadline,
		AssignedAgentID: "a1",
		Payload:         `{"section":"body"}`,
		Result:          "plain text result",
		CreatedAt:       time.Date(2026, 2, 1, 8, 30, 0, 0, time.UTC),
	}

	dto := api.FromWorkItem(item)
	if dto.ID != 42 || dto.Status != "assigned" || dto.AssignedAgentID != "a1" {
		t.Fatalf("unexpected dto: %#v", dto)
	}
	if dto.Deadline != "2026-03-01T12:00:00.000Z" {
		t.Fatalf("unexpected deadline: %q", dto.Deadline)
	}
	if string(dto.Payload) != `{"section":"body"}` {
		t.Fatalf("json payload must pass through untouched: %s", dto.Payload)
	}
	// non-JSON results get quoted so the envelope stays valid
	if !json.Valid(dto.Result) {
		t.Fatalf("result is not valid json: %s", dto.Result)
	}

	encoded, err := json.Marshal(dto)
	if err != nil {
		t.Fatalf("marshal dto: %v", err)
	}
	if !json.Valid(encoded) {
		t.Fatal("encoded dto is not valid json")
	}
}

func TestFromWorkItemNil(t *testing.T) {
	dto := api.FromWorkItem(nil)
	if dto.ID != 0 || dto.Status != "" {
		t.Fatalf("expected zero dto, got %#v", dto)
	}
}

func TestMergeQueueStatsFillsZeroes(t *testing.T) {
	merged := api.MergeQueueStats(map[store.ItemStatus]int{store.ItemPending: 3})
	if merged["pending"] != 3 {
		t.Fatalf("expected pending=3, got %d", merged["pending"])
	}
	for _, status := range store.AllItemStatuses() {
		if _, ok := merged[string(status)]; !ok {
			t.Fatalf("missing status %s in merged stats", status)
		}
	}
}

func TestFromDLQEntryTimestamps(t *testing.T) {
	failedAt := time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC)
	entry := &store.DLQEntry{
		ID:            "e1",
		WorkItemID:    7,
		Reason:        "exhausted",
		LastFailureAt: &failedAt,
	}
	dto := api.FromDLQEntry(entry)
	if dto.LastFailureAt == "" || dto.EscalatedAt != "" {
		t.Fatalf("unexpected timestamps: %#v", dto)
	}
}
