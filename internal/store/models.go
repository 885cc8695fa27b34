package store

import (
	"strings"
	"time"
)

// ItemStatus represents the lifecycle of a work item.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemAssigned   ItemStatus = "assigned"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
	ItemCancelled  ItemStatus = "cancelled"
)

var allItemStatuses = []ItemStatus{
	ItemPending,
	ItemAssigned,
	ItemInProgress,
	ItemCompleted,
	ItemFailed,
	ItemCancelled,
}

var itemStatusSet = func() map[ItemStatus]struct{} {
	set := make(map[ItemStatus]struct{}, len(allItemStatuses))
	for _, status := range allItemStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllItemStatuses returns the ordered list of known work item statuses.
func AllItemStatuses() []ItemStatus {
	cp := make([]ItemStatus, len(allItemStatuses))
	copy(cp, allItemStatuses)
	return cp
}

// ParseItemStatus converts a string into a known ItemStatus.
func ParseItemStatus(value string) (ItemStatus, bool) {
	normalized := ItemStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := itemStatusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status ends the item's lifecycle.
func (s ItemStatus) IsTerminal() bool {
	switch s {
	case ItemCompleted, ItemFailed, ItemCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether an agent currently holds the item.
func (s ItemStatus) IsActive() bool {
	return s == ItemAssigned || s == ItemInProgress
}

// AgentStatus represents the registration state of a worker agent.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentBusy     AgentStatus = "busy"
	AgentInactive AgentStatus = "inactive"
)

// ParseAgentStatus converts a string into a known AgentStatus.
func ParseAgentStatus(value string) (AgentStatus, bool) {
	switch AgentStatus(strings.ToLower(strings.TrimSpace(value))) {
	case AgentActive:
		return AgentActive, true
	case AgentBusy:
		return AgentBusy, true
	case AgentInactive:
		return AgentInactive, true
	default:
		return "", false
	}
}

// SessionStatus represents the lifecycle of an agent session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// WorkflowStatus represents the lifecycle of a multi-phase workflow.
type WorkflowStatus string

const (
	WorkflowActive    WorkflowStatus = "active"
	WorkflowSuspended WorkflowStatus = "suspended"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// ParseWorkflowStatus converts a string into a known WorkflowStatus.
func ParseWorkflowStatus(value string) (WorkflowStatus, bool) {
	switch WorkflowStatus(strings.ToLower(strings.TrimSpace(value))) {
	case WorkflowActive:
		return WorkflowActive, true
	case WorkflowSuspended:
		return WorkflowSuspended, true
	case WorkflowCompleted:
		return WorkflowCompleted, true
	case WorkflowFailed:
		return WorkflowFailed, true
	default:
		return "", false
	}
}

// Agent is a registered worker with declared capabilities and a concurrency
// budget.
type Agent struct {
	AgentID        string
	Tier           string
	Capabilities   []string
	Status         AgentStatus
	MaxConcurrency int
	LastHeartbeat  *time.Time
	RegisteredAt   time.Time
	UpdatedAt      time.Time
}

// HasCapabilities reports whether the agent's capability set covers every
// requested tag.
func (a *Agent) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	owned := make(map[string]struct{}, len(a.Capabilities))
	for _, cap := range a.Capabilities {
		owned[cap] = struct{}{}
	}
	for _, cap := range required {
		if _, ok := owned[cap]; !ok {
			return false
		}
	}
	return true
}

// WorkItem is the atomic unit of schedulable work persisted in SQLite.
type WorkItem struct {
	ID               int64
	SessionID        string
	WorkflowID       string
	TaskType         string
	Capabilities     []string
	Payload          string
	Status           ItemStatus
	Priority         int
	Deadline         *time.Time
	AssignedAgentID  string
	CreatedByAgentID string
	Retries          int
	CanRetry         bool
	NextRetryAt      *time.Time
	DLQ              bool
	CancelRequested  bool
	Result           string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ReadyAt reports whether the item is eligible for assignment at the given
// instant (pending and not waiting out a retry delay).
func (w *WorkItem) ReadyAt(now time.Time) bool {
	if w.Status != ItemPending {
		return false
	}
	return w.NextRetryAt == nil || !w.NextRetryAt.After(now)
}

// Session groups the work items created by one end-to-end caller request.
type Session struct {
	SessionID           string
	UserID              string
	OrchestratorAgentID string
	Status              SessionStatus
	CreatedAt           time.Time
	LastActivity        time.Time
}

// Workflow is a long-running multi-phase process spanning several work items.
type Workflow struct {
	WorkflowID   string
	Name         string
	CurrentPhase string
	Status       WorkflowStatus
	StartedAt    time.Time
	UpdatedAt    time.Time
	CompletedAt  *time.Time
}

// PhaseTransition is an immutable append-only record of a workflow phase
// change. Rows are never updated after creation.
type PhaseTransition struct {
	ID         int64
	WorkflowID string
	FromPhase  string
	ToPhase    string
	ToStatus   string
	Duration   time.Duration
	CreatedAt  time.Time
}

// Successful reports the reporting classification of the transition. This is
// a convention for summaries, not a constraint on legal transitions.
func (t *PhaseTransition) Successful() bool {
	switch strings.ToLower(strings.TrimSpace(t.ToStatus)) {
	case "failed", "error", "cancelled", "suspended":
		return false
	default:
		return true
	}
}

// DLQEntry holds a work item that exhausted its retry budget.
type DLQEntry struct {
	ID                string
	WorkItemID        int64
	Reason            string
	LastFailureAt     *time.Time
	ReprocessAttempts int
	CanBeReprocessed  bool
	EscalatedAt       *time.Time
	Resolution        string
	CreatedAt         time.Time
}

// Escalated reports whether a human has pulled the entry out of automatic
// reprocessing.
func (e *DLQEntry) Escalated() bool {
	return e.EscalatedAt != nil
}

// SessionCounts is the aggregate progress projection for one session.
type SessionCounts struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
}

// Terminal returns the number of items that reached a terminal status.
func (c SessionCounts) Terminal() int {
	return c.Completed + c.Failed + c.Cancelled
}

// Percent returns the terminal share in the 0-100 range.
func (c SessionCounts) Percent() float64 {
	if c.Total == 0 {
		return 0
	}
	return float64(c.Terminal()) / float64(c.Total) * 100
}
