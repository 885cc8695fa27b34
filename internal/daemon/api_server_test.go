package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"dispatch/internal/api"
	"dispatch/internal/logging"
	"dispatch/internal/payload"
	"dispatch/internal/testsupport"
)

func testAPIServer(t *testing.T) *apiServer {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	d, err := New(cfg, st, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() {
		d.Close()
	})
	return &apiServer{daemon: d}
}

func TestAPIServerHandleStatus(t *testing.T) {
	srv := testAPIServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	srv.handleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.DaemonStatus
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Running {
		t.Fatal("expected daemon to report not running before start")
	}
	if len(resp.TaskTypes) == 0 {
		t.Fatal("expected registered task types")
	}
	if resp.Scheduler.QueueStats["pending"] != 0 {
		t.Fatalf("unexpected pending count: %d", resp.Scheduler.QueueStats["pending"])
	}
}

func TestAPIServerEnqueueAndDescribe(t *testing.T) {
	srv := testAPIServer(t)

	body := `{
		"sessionId": "sess-1",
		"taskType": "` + payload.TaskDraftSection + `",
		"capabilities": ["draft"],
		"priority": 5,
		"payload": "{\"section\":\"intro\"}"
	}`
	req := httptest.NewRequest(http.MethodPost, "/api/work", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleWorkEnqueue(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 Created, got %d: %s", w.Code, w.Body.String())
	}
	var created api.WorkItem
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if created.Status != "pending" {
		t.Fatalf("unexpected status: %q", created.Status)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/work/"+strconv.FormatInt(created.ID, 10), nil)
	req.SetPathValue("id", strconv.FormatInt(created.ID, 10))
	w = httptest.NewRecorder()
	srv.handleWorkDescribe(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.WorkItemResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Item.ID != created.ID || resp.Item.SessionID != "sess-1" {
		t.Fatalf("unexpected item: %+v", resp.Item)
	}
}

func TestAPIServerEnqueueRejectsBadPayload(t *testing.T) {
	srv := testAPIServer(t)

	body := `{"sessionId":"sess-1","taskType":"draft_section","payload":"{}"}`
	req := httptest.NewRequest(http.MethodPost, "/api/work", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleWorkEnqueue(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 Bad Request, got %d", w.Code)
	}
}

func TestAPIServerDescribeMissingItem(t *testing.T) {
	srv := testAPIServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/work/999", nil)
	req.SetPathValue("id", "999")
	w := httptest.NewRecorder()
	srv.handleWorkDescribe(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 Not Found, got %d", w.Code)
	}
}

func TestAPIServerAgentLifecycle(t *testing.T) {
	srv := testAPIServer(t)

	body := `{"agentId":"worker-1","tier":"standard","capabilities":["Draft"],"maxConcurrency":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/agents", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleAgentRegister(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 Created, got %d: %s", w.Code, w.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/agents/worker-1/heartbeat", nil)
	req.SetPathValue("id", "worker-1")
	w = httptest.NewRecorder()
	srv.handleAgentHeartbeat(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	w = httptest.NewRecorder()
	srv.handleAgentList(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.AgentListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Agents) != 1 || resp.Agents[0].Capabilities[0] != "draft" {
		t.Fatalf("unexpected agents: %+v", resp.Agents)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/agents/ghost/heartbeat", nil)
	req.SetPathValue("id", "ghost")
	w = httptest.NewRecorder()
	srv.handleAgentHeartbeat(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown agent, got %d", w.Code)
	}
}

func TestAPIServerAgentWork(t *testing.T) {
	srv := testAPIServer(t)
	ctx := context.Background()

	body := `{"agentId":"worker-1","tier":"standard","capabilities":["draft"],"maxConcurrency":2}`
	req := httptest.NewRequest(http.MethodPost, "/api/agents", strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleAgentRegister(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 Created, got %d: %s", w.Code, w.Body.String())
	}

	body = `{
		"sessionId": "sess-1",
		"taskType": "` + payload.TaskDraftSection + `",
		"capabilities": ["draft"],
		"priority": 5,
		"payload": "{\"section\":\"intro\"}"
	}`
	req = httptest.NewRequest(http.MethodPost, "/api/work", strings.NewReader(body))
	w = httptest.NewRecorder()
	srv.handleWorkEnqueue(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201 Created, got %d: %s", w.Code, w.Body.String())
	}
	var created api.WorkItem
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if err := srv.daemon.Scheduler().Pass(ctx); err != nil {
		t.Fatalf("Pass failed: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/agents/worker-1/work", nil)
	req.SetPathValue("id", "worker-1")
	w = httptest.NewRecorder()
	srv.handleAgentWork(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp api.WorkItemListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != created.ID {
		t.Fatalf("expected the assigned item, got %+v", resp.Items)
	}
	if resp.Items[0].AssignedAgentID != "worker-1" {
		t.Fatalf("unexpected assignee: %+v", resp.Items[0])
	}

	// another agent holds nothing
	req = httptest.NewRequest(http.MethodGet, "/api/agents/worker-2/work", nil)
	req.SetPathValue("id", "worker-2")
	w = httptest.NewRecorder()
	srv.handleAgentWork(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	resp = api.WorkItemListResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Items) != 0 {
		t.Fatalf("expected no items for idle agent, got %+v", resp.Items)
	}
}

func TestAuthMiddleware(t *testing.T) {
	handler := authMiddleware("secret", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", w.Code)
	}

	open := authMiddleware("", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w = httptest.NewRecorder()
	open(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with empty token requirement, got %d", w.Code)
	}
}
