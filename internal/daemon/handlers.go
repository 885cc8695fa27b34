package daemon

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"dispatch/internal/api"
	"dispatch/internal/registry"
	"dispatch/internal/scheduler"
	"dispatch/internal/store"
)

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, statusView(status))
}

// statusView maps daemon runtime state onto the API projection.
func statusView(status Status) api.DaemonStatus {
	view := api.DaemonStatus{
		Running:      status.Running,
		PID:          status.PID,
		DatabasePath: status.DatabasePath,
		LockFilePath: status.LockFilePath,
		TaskTypes:    status.TaskTypes,
		Scheduler: api.SchedulerStatus{
			Running:    status.Scheduler.Running,
			QueueStats: api.MergeQueueStats(status.Scheduler.QueueStats),
			LastError:  status.Scheduler.LastError,
		},
	}
	if status.Scheduler.LastItem != nil {
		item := api.FromWorkItem(status.Scheduler.LastItem)
		view.Scheduler.LastItem = &item
	}
	return view
}

func (s *apiServer) handleAgentList(w http.ResponseWriter, r *http.Request) {
	agents, err := s.daemon.AgentViews(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.AgentListResponse{Agents: agents})
}

func (s *apiServer) handleAgentRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID        string   `json:"agentId"`
		Tier           string   `json:"tier"`
		Capabilities   []string `json:"capabilities"`
		MaxConcurrency int      `json:"maxConcurrency"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	agent, err := s.daemon.Agents().Register(r.Context(), registry.Registration{
		AgentID:        req.AgentID,
		Tier:           req.Tier,
		Capabilities:   req.Capabilities,
		MaxConcurrency: req.MaxConcurrency,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromAgent(agent, 0))
}

func (s *apiServer) handleAgentWork(w http.ResponseWriter, r *http.Request) {
	items, err := s.daemon.Queue().AssignedTo(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.WorkItemListResponse{Items: items})
}

func (s *apiServer) handleAgentHeartbeat(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Agents().Heartbeat(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleAgentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	status, ok := store.ParseAgentStatus(req.Status)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "unknown agent status: "+req.Status)
		return
	}
	if err := s.daemon.Agents().SetStatus(r.Context(), r.PathValue("id"), status); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleAgentDeregister(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Agents().Deregister(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *apiServer) handleWorkList(w http.ResponseWriter, r *http.Request) {
	var statuses []store.ItemStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		for _, value := range strings.Split(raw, ",") {
			status, ok := store.ParseItemStatus(strings.TrimSpace(value))
			if !ok {
				s.writeError(w, http.StatusBadRequest, "unknown work item status: "+value)
				return
			}
			statuses = append(statuses, status)
		}
	}
	items, err := s.daemon.Queue().List(r.Context(), statuses...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.WorkItemListResponse{Items: items})
}

func (s *apiServer) handleWorkEnqueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID        string   `json:"sessionId"`
		WorkflowID       string   `json:"workflowId"`
		TaskType         string   `json:"taskType"`
		Capabilities     []string `json:"capabilities"`
		Priority         int      `json:"priority"`
		Deadline         string   `json:"deadline"`
		Payload          string   `json:"payload"`
		CreatedByAgentID string   `json:"createdByAgentId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	enqueue := scheduler.EnqueueRequest{
		SessionID:        req.SessionID,
		WorkflowID:       req.WorkflowID,
		TaskType:         req.TaskType,
		Capabilities:     req.Capabilities,
		Priority:         req.Priority,
		Payload:          req.Payload,
		CreatedByAgentID: req.CreatedByAgentID,
	}
	if req.Deadline != "" {
		deadline, err := time.Parse(time.RFC3339, req.Deadline)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid deadline: "+err.Error())
			return
		}
		enqueue.Deadline = &deadline
	}
	item, err := s.daemon.Scheduler().Enqueue(r.Context(), enqueue)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromWorkItem(item))
}

func (s *apiServer) handleWorkDescribe(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	item, err := s.daemon.Queue().Describe(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if item == nil {
		s.writeError(w, http.StatusNotFound, "work item not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.WorkItemResponse{Item: *item})
}

func (s *apiServer) handleWorkStart(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	var req struct {
		AgentID string `json:"agentId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.daemon.Scheduler().ReportStarted(r.Context(), id, req.AgentID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

func (s *apiServer) handleWorkComplete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	var req struct {
		Result string `json:"result"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.daemon.Scheduler().ReportCompletion(r.Context(), id, req.Result); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *apiServer) handleWorkFail(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	var req struct {
		Error string `json:"error"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.daemon.Scheduler().ReportFailure(r.Context(), id, req.Error); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reported"})
}

func (s *apiServer) handleWorkCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := s.itemID(w, r)
	if !ok {
		return
	}
	if err := s.daemon.Scheduler().Cancel(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *apiServer) handleSessionList(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.daemon.Sessions().List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]api.Session, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, api.FromSession(sess))
	}
	s.writeJSON(w, http.StatusOK, api.SessionListResponse{Sessions: out})
}

func (s *apiServer) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID           string `json:"sessionId"`
		UserID              string `json:"userId"`
		OrchestratorAgentID string `json:"orchestratorAgentId"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	sess, err := s.daemon.Sessions().Create(r.Context(), req.SessionID, req.UserID, req.OrchestratorAgentID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromSession(sess))
}

func (s *apiServer) handleSessionProgress(w http.ResponseWriter, r *http.Request) {
	includeItems := r.URL.Query().Get("items") == "true"
	progress, err := s.daemon.SessionProgressView(r.Context(), r.PathValue("id"), includeItems)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, progress)
}

func (s *apiServer) handleSessionComplete(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Sessions().Complete(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (s *apiServer) handleDLQList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.daemon.DLQ().List(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.DLQListResponse{Entries: api.FromDLQEntries(entries)})
}

func (s *apiServer) handleDLQReprocess(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TriggeredBy string `json:"triggeredBy"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.TriggeredBy == "" {
		req.TriggeredBy = "api"
	}
	entry, err := s.daemon.DLQ().Reprocess(r.Context(), r.PathValue("id"), req.TriggeredBy)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromDLQEntry(entry))
}

func (s *apiServer) handleDLQEscalate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	entry, err := s.daemon.DLQ().Escalate(r.Context(), r.PathValue("id"), req.Reason)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromDLQEntry(entry))
}

func (s *apiServer) handleWorkflowStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkflowID   string `json:"workflowId"`
		Name         string `json:"name"`
		InitialPhase string `json:"initialPhase"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	wf, err := s.daemon.Workflows().Start(r.Context(), req.WorkflowID, req.Name, req.InitialPhase)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromWorkflow(wf))
}

func (s *apiServer) handleWorkflowDescribe(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	wf, err := s.daemon.Workflows().Get(r.Context(), workflowID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	transitions, err := s.daemon.Workflows().History(r.Context(), workflowID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.WorkflowResponse{
		Workflow:    api.FromWorkflow(wf),
		Transitions: api.FromTransitions(transitions),
	})
}

func (s *apiServer) handleWorkflowAdvance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phase string `json:"phase"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	wf, err := s.daemon.Workflows().Advance(r.Context(), r.PathValue("id"), req.Phase)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromWorkflow(wf))
}

func (s *apiServer) handleWorkflowSuspend(w http.ResponseWriter, r *http.Request) {
	wf, err := s.daemon.Workflows().Suspend(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromWorkflow(wf))
}

func (s *apiServer) handleWorkflowResume(w http.ResponseWriter, r *http.Request) {
	wf, err := s.daemon.Workflows().Resume(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromWorkflow(wf))
}

func (s *apiServer) handleWorkflowComplete(w http.ResponseWriter, r *http.Request) {
	wf, err := s.daemon.Workflows().Complete(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromWorkflow(wf))
}

func (s *apiServer) handleWorkflowFail(w http.ResponseWriter, r *http.Request) {
	wf, err := s.daemon.Workflows().Fail(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromWorkflow(wf))
}

func (s *apiServer) handlePhaseSummary(w http.ResponseWriter, r *http.Request) {
	window := time.Duration(0)
	if raw := strings.TrimSpace(r.URL.Query().Get("window")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid window: "+err.Error())
			return
		}
		window = parsed
	}
	summary, err := s.daemon.PhaseSummaryView(r.Context(), window)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *apiServer) itemID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid work item id")
		return 0, false
	}
	return id, true
}
