package api

import (
	"encoding/json"
	"time"

	"dispatch/internal/pipeline"
	"dispatch/internal/store"
)

// FromWorkItem converts a store work item into its transport representation.
func FromWorkItem(item *store.WorkItem) WorkItem {
	if item == nil {
		return WorkItem{}
	}
	dto := WorkItem{
		ID:               item.ID,
		SessionID:        item.SessionID,
		WorkflowID:       item.WorkflowID,
		TaskType:         item.TaskType,
		Capabilities:     item.Capabilities,
		Status:           string(item.Status),
		Priority:         item.Priority,
		AssignedAgentID:  item.AssignedAgentID,
		CreatedByAgentID: item.CreatedByAgentID,
		Retries:          item.Retries,
		CanRetry:         item.CanRetry,
		DLQ:              item.DLQ,
		CancelRequested:  item.CancelRequested,
		ErrorMessage:     item.ErrorMessage,
		Payload:          rawJSON(item.Payload),
		Result:           rawJSON(item.Result),
		CreatedAt:        formatTimestamp(item.CreatedAt),
		UpdatedAt:        formatTimestamp(item.UpdatedAt),
	}
	if item.Deadline != nil {
		dto.Deadline = formatTimestamp(*item.Deadline)
	}
	if item.NextRetryAt != nil {
		dto.NextRetryAt = formatTimestamp(*item.NextRetryAt)
	}
	return dto
}

// FromWorkItems converts a slice of store work items.
func FromWorkItems(items []*store.WorkItem) []WorkItem {
	out := make([]WorkItem, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		out = append(out, FromWorkItem(item))
	}
	return out
}

// FromAgent converts a store agent with its current load.
func FromAgent(agent *store.Agent, load int) Agent {
	if agent == nil {
		return Agent{}
	}
	dto := Agent{
		AgentID:        agent.AgentID,
		Tier:           agent.Tier,
		Capabilities:   agent.Capabilities,
		Status:         string(agent.Status),
		MaxConcurrency: agent.MaxConcurrency,
		Load:           load,
		RegisteredAt:   formatTimestamp(agent.RegisteredAt),
	}
	if agent.LastHeartbeat != nil {
		dto.LastHeartbeat = formatTimestamp(*agent.LastHeartbeat)
	}
	return dto
}

// FromSession converts a store session.
func FromSession(sess *store.Session) Session {
	if sess == nil {
		return Session{}
	}
	return Session{
		SessionID:           sess.SessionID,
		UserID:              sess.UserID,
		OrchestratorAgentID: sess.OrchestratorAgentID,
		Status:              string(sess.Status),
		CreatedAt:           formatTimestamp(sess.CreatedAt),
		LastActivity:        formatTimestamp(sess.LastActivity),
	}
}

// FromWorkflow converts a store workflow.
func FromWorkflow(wf *store.Workflow) Workflow {
	if wf == nil {
		return Workflow{}
	}
	dto := Workflow{
		WorkflowID:   wf.WorkflowID,
		Name:         wf.Name,
		CurrentPhase: wf.CurrentPhase,
		Status:       string(wf.Status),
		StartedAt:    formatTimestamp(wf.StartedAt),
	}
	if wf.CompletedAt != nil {
		dto.CompletedAt = formatTimestamp(*wf.CompletedAt)
	}
	return dto
}

// FromTransition converts a store phase transition.
func FromTransition(tr *store.PhaseTransition) PhaseTransition {
	if tr == nil {
		return PhaseTransition{}
	}
	return PhaseTransition{
		WorkflowID: tr.WorkflowID,
		FromPhase:  tr.FromPhase,
		ToPhase:    tr.ToPhase,
		ToStatus:   tr.ToStatus,
		DurationMS: tr.Duration.Milliseconds(),
		Timestamp:  formatTimestamp(tr.CreatedAt),
	}
}

// FromTransitions converts a slice of phase transitions.
func FromTransitions(transitions []*store.PhaseTransition) []PhaseTransition {
	out := make([]PhaseTransition, 0, len(transitions))
	for _, tr := range transitions {
		if tr == nil {
			continue
		}
		out = append(out, FromTransition(tr))
	}
	return out
}

// FromPhaseSummary converts a pipeline summary.
func FromPhaseSummary(summary *pipeline.Summary) PhaseSummary {
	if summary == nil {
		return PhaseSummary{}
	}
	dto := PhaseSummary{
		WindowSeconds: int64(summary.Window / time.Second),
		Total:         summary.Total,
		Successful:    summary.Successful,
		Unsuccessful:  summary.Unsuccessful,
		AvgDurationMS: summary.AvgDuration.Milliseconds(),
	}
	if len(summary.ByPhase) > 0 {
		dto.ByPhase = make(map[string]PhaseStatsEntry, len(summary.ByPhase))
		for phase, stats := range summary.ByPhase {
			dto.ByPhase[phase] = PhaseStatsEntry{
				Count:         stats.Count,
				AvgDurationMS: stats.AvgDuration.Milliseconds(),
			}
		}
	}
	return dto
}

// FromDLQEntry converts a store dead letter entry.
func FromDLQEntry(entry *store.DLQEntry) DLQEntry {
	if entry == nil {
		return DLQEntry{}
	}
	dto := DLQEntry{
		ID:                entry.ID,
		WorkItemID:        entry.WorkItemID,
		Reason:            entry.Reason,
		ReprocessAttempts: entry.ReprocessAttempts,
		CanBeReprocessed:  entry.CanBeReprocessed,
		Resolution:        entry.Resolution,
		CreatedAt:         formatTimestamp(entry.CreatedAt),
	}
	if entry.LastFailureAt != nil {
		dto.LastFailureAt = formatTimestamp(*entry.LastFailureAt)
	}
	if entry.EscalatedAt != nil {
		dto.EscalatedAt = formatTimestamp(*entry.EscalatedAt)
	}
	return dto
}

// FromDLQEntries converts a slice of dead letter entries.
func FromDLQEntries(entries []*store.DLQEntry) []DLQEntry {
	out := make([]DLQEntry, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		out = append(out, FromDLQEntry(entry))
	}
	return out
}

// MergeQueueStats normalizes a status-keyed stat map so every known status
// is present, including zero counts.
func MergeQueueStats(stats map[store.ItemStatus]int) map[string]int {
	merged := make(map[string]int, len(stats))
	for _, status := range store.AllItemStatuses() {
		merged[string(status)] = 0
	}
	for status, count := range stats {
		merged[string(status)] = count
	}
	return merged
}

func formatTimestamp(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(dateTimeFormat)
}

// rawJSON passes well-formed JSON through untouched and quotes anything
// else so the response stays valid.
func rawJSON(value string) json.RawMessage {
	if value == "" {
		return nil
	}
	if json.Valid([]byte(value)) {
		return json.RawMessage(value)
	}
	quoted, err := json.Marshal(value)
	if err != nil {
		return nil
	}
	return json.RawMessage(quoted)
}
