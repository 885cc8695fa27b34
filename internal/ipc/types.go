package ipc

import "dispatch/internal/api"

// WorkItem mirrors the HTTP API work item DTO for internal IPC callers.
type WorkItem = api.WorkItem

// Agent mirrors the HTTP API agent DTO.
type Agent = api.Agent

// Session mirrors the HTTP API session DTO.
type Session = api.Session

// SessionProgress mirrors the HTTP API session progress projection.
type SessionProgress = api.SessionProgress

// Workflow mirrors the HTTP API workflow DTO.
type Workflow = api.Workflow

// PhaseTransition mirrors the HTTP API transition DTO.
type PhaseTransition = api.PhaseTransition

// PhaseSummary mirrors the HTTP API summary DTO.
type PhaseSummary = api.PhaseSummary

// DLQEntry mirrors the HTTP API dead letter DTO.
type DLQEntry = api.DLQEntry

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the daemon.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon/scheduler status information.
type StatusResponse struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	QueueStats   map[string]int `json:"queue_stats"`
	LastError    string         `json:"last_error"`
	LastItem     *WorkItem      `json:"last_item"`
	LockPath     string         `json:"lock_path"`
	DatabasePath string         `json:"database_path"`
	TaskTypes    []string       `json:"task_types"`
}

// EnqueueRequest submits a new work item.
type EnqueueRequest struct {
	SessionID        string   `json:"session_id"`
	WorkflowID       string   `json:"workflow_id"`
	TaskType         string   `json:"task_type"`
	Capabilities     []string `json:"capabilities"`
	Priority         int      `json:"priority"`
	Deadline         string   `json:"deadline"`
	Payload          string   `json:"payload"`
	CreatedByAgentID string   `json:"created_by_agent_id"`
}

// EnqueueResponse returns the persisted work item.
type EnqueueResponse struct {
	Item WorkItem `json:"item"`
}

// QueueListRequest filters work item listing by status.
type QueueListRequest struct {
	Statuses []string `json:"statuses"`
}

// QueueListResponse contains work items.
type QueueListResponse struct {
	Items []WorkItem `json:"items"`
}

// QueueDescribeRequest fetches a single work item by id.
type QueueDescribeRequest struct {
	ID int64 `json:"id"`
}

// QueueDescribeResponse contains a single work item.
type QueueDescribeResponse struct {
	Item WorkItem `json:"item"`
}

// QueueCancelRequest cancels work items. Empty list is invalid.
type QueueCancelRequest struct {
	IDs []int64 `json:"ids"`
}

// QueueCancelResponse reports the number of items cancelled or flagged.
type QueueCancelResponse struct {
	Updated int64 `json:"updated"`
}

// AgentListRequest fetches registered agents.
type AgentListRequest struct{}

// AgentListResponse contains agents with current loads.
type AgentListResponse struct {
	Agents []Agent `json:"agents"`
}

// SessionListRequest fetches known sessions.
type SessionListRequest struct{}

// SessionListResponse contains sessions, newest first.
type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
}

// SessionProgressRequest fetches aggregate progress for one session.
type SessionProgressRequest struct {
	SessionID    string `json:"session_id"`
	IncludeItems bool   `json:"include_items"`
}

// SessionProgressResponse contains the progress projection.
type SessionProgressResponse struct {
	Progress SessionProgress `json:"progress"`
}

// DLQListRequest fetches dead letter entries.
type DLQListRequest struct{}

// DLQListResponse contains dead letter entries, newest first.
type DLQListResponse struct {
	Entries []DLQEntry `json:"entries"`
}

// DLQReprocessRequest requeues a dead lettered item.
type DLQReprocessRequest struct {
	EntryID     string `json:"entry_id"`
	TriggeredBy string `json:"triggered_by"`
}

// DLQReprocessResponse contains the updated entry.
type DLQReprocessResponse struct {
	Entry DLQEntry `json:"entry"`
}

// DLQEscalateRequest marks an entry for human attention.
type DLQEscalateRequest struct {
	EntryID string `json:"entry_id"`
	Reason  string `json:"reason"`
}

// DLQEscalateResponse contains the updated entry.
type DLQEscalateResponse struct {
	Entry DLQEntry `json:"entry"`
}

// WorkflowDescribeRequest fetches a workflow with its transition history.
type WorkflowDescribeRequest struct {
	WorkflowID string `json:"workflow_id"`
}

// WorkflowDescribeResponse contains the workflow and ordered transitions.
type WorkflowDescribeResponse struct {
	Workflow    Workflow          `json:"workflow"`
	Transitions []PhaseTransition `json:"transitions"`
}

// WorkflowSummaryRequest fetches transition statistics over a window.
type WorkflowSummaryRequest struct {
	WindowSeconds int `json:"window_seconds"`
}

// WorkflowSummaryResponse contains aggregate phase statistics.
type WorkflowSummaryResponse struct {
	Summary PhaseSummary `json:"summary"`
}

// LogTailRequest fetches log lines based on offset and follow semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}
