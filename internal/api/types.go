// Package api defines the transport DTOs shared by the HTTP surface and the
// IPC control socket, plus read-only services that project store records
// into them.
package api

import "encoding/json"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// WorkItem describes a work item in a transport-friendly format.
type WorkItem struct {
	ID               int64           `json:"id"`
	SessionID        string          `json:"sessionId"`
	WorkflowID       string          `json:"workflowId,omitempty"`
	TaskType         string          `json:"taskType"`
	Capabilities     []string        `json:"capabilities,omitempty"`
	Status           string          `json:"status"`
	Priority         int             `json:"priority"`
	Deadline         string          `json:"deadline,omitempty"`
	AssignedAgentID  string          `json:"assignedAgentId,omitempty"`
	CreatedByAgentID string          `json:"createdByAgentId,omitempty"`
	Retries          int             `json:"retries"`
	CanRetry         bool            `json:"canRetry"`
	NextRetryAt      string          `json:"nextRetryAt,omitempty"`
	DLQ              bool            `json:"dlq"`
	CancelRequested  bool            `json:"cancelRequested"`
	Payload          json.RawMessage `json:"payload,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	CreatedAt        string          `json:"createdAt,omitempty"`
	UpdatedAt        string          `json:"updatedAt,omitempty"`
}

// Agent describes a registered worker agent.
type Agent struct {
	AgentID        string   `json:"agentId"`
	Tier           string   `json:"tier,omitempty"`
	Capabilities   []string `json:"capabilities"`
	Status         string   `json:"status"`
	MaxConcurrency int      `json:"maxConcurrency"`
	Load           int      `json:"load"`
	LastHeartbeat  string   `json:"lastHeartbeat,omitempty"`
	RegisteredAt   string   `json:"registeredAt,omitempty"`
}

// Session describes an agent session.
type Session struct {
	SessionID           string `json:"sessionId"`
	UserID              string `json:"userId,omitempty"`
	OrchestratorAgentID string `json:"orchestratorAgentId,omitempty"`
	Status              string `json:"status"`
	CreatedAt           string `json:"createdAt,omitempty"`
	LastActivity        string `json:"lastActivity,omitempty"`
}

// SessionProgress is the aggregate progress projection for one session.
type SessionProgress struct {
	Session   Session    `json:"session"`
	Total     int        `json:"total"`
	Completed int        `json:"completed"`
	Failed    int        `json:"failed"`
	Cancelled int        `json:"cancelled"`
	Percent   float64    `json:"percent"`
	Items     []WorkItem `json:"items,omitempty"`
}

// Workflow describes a multi-phase workflow.
type Workflow struct {
	WorkflowID   string `json:"workflowId"`
	Name         string `json:"name,omitempty"`
	CurrentPhase string `json:"currentPhase"`
	Status       string `json:"status"`
	StartedAt    string `json:"startedAt,omitempty"`
	CompletedAt  string `json:"completedAt,omitempty"`
}

// PhaseTransition describes one row of a workflow's transition history.
type PhaseTransition struct {
	WorkflowID string `json:"workflowId"`
	FromPhase  string `json:"fromPhase"`
	ToPhase    string `json:"toPhase"`
	ToStatus   string `json:"toStatus"`
	DurationMS int64  `json:"durationMs"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// PhaseSummary aggregates transition activity over a rolling window.
type PhaseSummary struct {
	WindowSeconds int64                      `json:"windowSeconds"`
	Total         int                        `json:"total"`
	Successful    int                        `json:"successful"`
	Unsuccessful  int                        `json:"unsuccessful"`
	AvgDurationMS int64                      `json:"avgDurationMs"`
	ByPhase       map[string]PhaseStatsEntry `json:"byPhase,omitempty"`
}

// PhaseStatsEntry is the per-phase slice of a PhaseSummary.
type PhaseStatsEntry struct {
	Count         int   `json:"count"`
	AvgDurationMS int64 `json:"avgDurationMs"`
}

// DLQEntry describes a dead letter queue entry.
type DLQEntry struct {
	ID                string `json:"id"`
	WorkItemID        int64  `json:"workItemId"`
	Reason            string `json:"reason,omitempty"`
	LastFailureAt     string `json:"lastFailureAt,omitempty"`
	ReprocessAttempts int    `json:"reprocessAttempts"`
	CanBeReprocessed  bool   `json:"canBeReprocessed"`
	EscalatedAt       string `json:"escalatedAt,omitempty"`
	Resolution        string `json:"resolution,omitempty"`
	CreatedAt         string `json:"createdAt,omitempty"`
}

// SchedulerStatus summarizes scheduler execution state.
type SchedulerStatus struct {
	Running    bool           `json:"running"`
	QueueStats map[string]int `json:"queueStats"`
	LastError  string         `json:"lastError,omitempty"`
	LastItem   *WorkItem      `json:"lastItem,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool            `json:"running"`
	PID          int             `json:"pid"`
	DatabasePath string          `json:"databasePath"`
	LockFilePath string          `json:"lockFilePath"`
	Scheduler    SchedulerStatus `json:"scheduler"`
	TaskTypes    []string        `json:"taskTypes,omitempty"`
}

// WorkItemListResponse wraps a collection of work items for API responses.
type WorkItemListResponse struct {
	Items []WorkItem `json:"items"`
}

// WorkItemResponse wraps a single work item payload.
type WorkItemResponse struct {
	Item WorkItem `json:"item"`
}

// AgentListResponse wraps a collection of agents.
type AgentListResponse struct {
	Agents []Agent `json:"agents"`
}

// SessionListResponse wraps a collection of sessions.
type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
}

// DLQListResponse wraps a collection of dead letter entries.
type DLQListResponse struct {
	Entries []DLQEntry `json:"entries"`
}

// WorkflowResponse wraps a workflow with its transition history.
type WorkflowResponse struct {
	Workflow    Workflow          `json:"workflow"`
	Transitions []PhaseTransition `json:"transitions,omitempty"`
}
