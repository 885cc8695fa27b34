package pipeline

import (
	"context"
	"time"

	"dispatch/internal/services"
)

// Summary aggregates transition activity over a rolling window.
type Summary struct {
	Window       time.Duration
	Total        int
	Successful   int
	Unsuccessful int
	AvgDuration  time.Duration
	ByPhase      map[string]PhaseStats
}

// PhaseStats is the per-target-phase slice of a Summary.
type PhaseStats struct {
	Count       int
	AvgDuration time.Duration
}

// Summarize folds every transition recorded within the trailing window into
// counts and average durations, overall and per target phase.
func (t *Tracker) Summarize(ctx context.Context, window time.Duration) (*Summary, error) {
	if window <= 0 {
		window = 24 * time.Hour
	}
	since := time.Now().UTC().Add(-window)
	transitions, err := t.store.TransitionsSince(ctx, since)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "pipeline", "summarize", "list transitions", err)
	}

	summary := &Summary{Window: window, ByPhase: make(map[string]PhaseStats)}
	var totalDuration time.Duration
	phaseDurations := make(map[string]time.Duration)
	for _, tr := range transitions {
		summary.Total++
		if tr.Successful() {
			summary.Successful++
		} else {
			summary.Unsuccessful++
		}
		totalDuration += tr.Duration

		stats := summary.ByPhase[tr.ToPhase]
		stats.Count++
		summary.ByPhase[tr.ToPhase] = stats
		phaseDurations[tr.ToPhase] += tr.Duration
	}
	if summary.Total > 0 {
		summary.AvgDuration = totalDuration / time.Duration(summary.Total)
	}
	for phase, stats := range summary.ByPhase {
		stats.AvgDuration = phaseDurations[phase] / time.Duration(stats.Count)
		summary.ByPhase[phase] = stats
	}
	return summary, nil
}
