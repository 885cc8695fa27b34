package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"dispatch/internal/api"
)

var statusTitleCaser = cases.Title(language.English)

func buildQueueStatusRows(stats map[string]int) [][]string {
	if len(stats) == 0 {
		return nil
	}
	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{formatStatusLabel(key), fmt.Sprintf("%d", stats[key])})
	}
	return rows
}

func buildWorkItemRows(items []api.WorkItem) [][]string {
	if len(items) == 0 {
		return nil
	}
	sorted := make([]api.WorkItem, len(items))
	copy(sorted, items)

	sort.Slice(sorted, func(i, j int) bool {
		ti := parseDisplayTime(sorted[i].CreatedAt)
		tj := parseDisplayTime(sorted[j].CreatedAt)
		if ti.Equal(tj) {
			return sorted[i].ID > sorted[j].ID
		}
		return ti.After(tj)
	})

	rows := make([][]string, 0, len(sorted))
	for _, item := range sorted {
		agent := strings.TrimSpace(item.AssignedAgentID)
		if agent == "" {
			agent = "-"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", item.ID),
			item.SessionID,
			item.TaskType,
			formatStatusLabel(item.Status),
			fmt.Sprintf("%d", item.Priority),
			agent,
			fmt.Sprintf("%d", item.Retries),
			formatDisplayTime(item.CreatedAt),
		})
	}
	return rows
}

func buildAgentRows(agents []api.Agent) [][]string {
	if len(agents) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(agents))
	for _, agent := range agents {
		tier := strings.TrimSpace(agent.Tier)
		if tier == "" {
			tier = "-"
		}
		rows = append(rows, []string{
			agent.AgentID,
			tier,
			strings.Join(agent.Capabilities, ", "),
			formatStatusLabel(agent.Status),
			fmt.Sprintf("%d/%d", agent.Load, agent.MaxConcurrency),
			formatDisplayTime(agent.LastHeartbeat),
		})
	}
	return rows
}

func buildSessionRows(sessions []api.Session) [][]string {
	if len(sessions) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(sessions))
	for _, session := range sessions {
		orchestrator := strings.TrimSpace(session.OrchestratorAgentID)
		if orchestrator == "" {
			orchestrator = "-"
		}
		rows = append(rows, []string{
			session.SessionID,
			orchestrator,
			formatStatusLabel(session.Status),
			formatDisplayTime(session.CreatedAt),
			formatDisplayTime(session.LastActivity),
		})
	}
	return rows
}

func buildDLQRows(entries []api.DLQEntry) [][]string {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		reason := strings.TrimSpace(entry.Reason)
		if len(reason) > 48 {
			reason = reason[:45] + "..."
		}
		escalated := "no"
		if entry.EscalatedAt != "" {
			escalated = "yes"
		}
		rows = append(rows, []string{
			entry.ID,
			fmt.Sprintf("%d", entry.WorkItemID),
			reason,
			fmt.Sprintf("%d", entry.ReprocessAttempts),
			yesNo(entry.CanBeReprocessed),
			escalated,
			formatDisplayTime(entry.LastFailureAt),
		})
	}
	return rows
}

func buildTransitionRows(transitions []api.PhaseTransition) [][]string {
	if len(transitions) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(transitions))
	for _, tr := range transitions {
		from := strings.TrimSpace(tr.FromPhase)
		if from == "" {
			from = "-"
		}
		rows = append(rows, []string{
			from,
			tr.ToPhase,
			formatStatusLabel(tr.ToStatus),
			formatDurationMS(tr.DurationMS),
			formatDisplayTime(tr.Timestamp),
		})
	}
	return rows
}

func buildPhaseSummaryRows(summary api.PhaseSummary) [][]string {
	if len(summary.ByPhase) == 0 {
		return nil
	}
	phases := make([]string, 0, len(summary.ByPhase))
	for phase := range summary.ByPhase {
		phases = append(phases, phase)
	}
	sort.Strings(phases)

	rows := make([][]string, 0, len(phases))
	for _, phase := range phases {
		entry := summary.ByPhase[phase]
		rows = append(rows, []string{
			phase,
			fmt.Sprintf("%d", entry.Count),
			formatDurationMS(entry.AvgDurationMS),
		})
	}
	return rows
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	return statusTitleCaser.String(strings.ReplaceAll(status, "_", " "))
}

func formatDisplayTime(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	if t := parseDisplayTime(value); !t.IsZero() {
		return t.UTC().Format("2006-01-02 15:04")
	}
	return value
}

func parseDisplayTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

func formatDurationMS(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.Duration(ms * int64(time.Millisecond)).Truncate(time.Millisecond).String()
}
