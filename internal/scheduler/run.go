package scheduler

import (
	"context"
	"errors"
	"time"

	"dispatch/internal/logging"
	"dispatch/internal/store"
)

// Start begins background scheduling.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(runCtx)
	return nil
}

// Stop terminates background scheduling and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.Pass(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.setLastError(err)
			s.logger.Error("scheduler pass failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "pass_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(s.cfg.Scheduler.ErrorRetryInterval) * time.Second):
			}
			continue
		}
		s.setLastError(nil)

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.pollInterval):
		}
	}
}

// Pass executes one full scheduling pass: reclaim work abandoned by stale
// agents, sweep the dead letter queue when auto-reprocessing is configured,
// then walk the pending queue in deterministic order and assign what
// capacity allows.
func (s *Scheduler) Pass(ctx context.Context) error {
	if err := s.reclaimAbandoned(ctx); err != nil {
		return err
	}
	if after := s.cfg.Scheduler.DLQAutoReprocessAfter; after > 0 {
		if _, err := s.deadLetter.SweepReprocess(ctx, time.Duration(after)*time.Second); err != nil {
			s.logger.Warn("dlq sweep failed", logging.Error(err))
		}
	}
	return s.assignPending(ctx)
}

// reclaimAbandoned treats items whose agent missed the freshness window plus
// a grace period as transient failures: they re-enter the retry policy
// rather than hanging on a dead agent forever.
func (s *Scheduler) reclaimAbandoned(ctx context.Context) error {
	grace := time.Duration(s.cfg.Scheduler.AgentFreshness+s.cfg.Scheduler.AgentGracePeriod) * time.Second
	cutoff := time.Now().UTC().Add(-grace)

	items, err := s.store.AbandonedItems(ctx, cutoff)
	if err != nil {
		return err
	}
	for _, item := range items {
		s.logger.Warn("reclaiming item from stale agent",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String(logging.FieldAgentID, item.AssignedAgentID),
			logging.String(logging.FieldEventType, "item_reclaimed"),
		)
		if err := s.ReportFailure(ctx, item.ID, "agent heartbeat lost"); err != nil {
			s.logger.Error("reclaim failed",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.Error(err),
			)
		}
	}
	return nil
}

// assignPending walks pending items in priority order and claims one agent
// slot per item. Loads come fresh from the store at pass start and are
// advanced locally per claim, never cached across passes.
func (s *Scheduler) assignPending(ctx context.Context) error {
	now := time.Now().UTC()
	items, err := s.store.PendingReady(ctx, now)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	loads, err := s.store.AgentLoads(ctx)
	if err != nil {
		return err
	}

	for _, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		candidates, err := s.agents.FindAvailable(ctx, item.Capabilities, "", loads)
		if err != nil {
			return err
		}
		if len(candidates) == 0 {
			// intentional backpressure: the item stays pending
			continue
		}
		agent := candidates[0]

		claimed, err := s.store.ClaimItem(ctx, item.ID, agent.AgentID)
		if err != nil {
			return err
		}
		if !claimed {
			// another scheduler won the race
			continue
		}
		loads[agent.AgentID]++
		s.setLastItem(item)

		s.logger.Info("work item assigned",
			logging.Int64(logging.FieldItemID, item.ID),
			logging.String(logging.FieldAgentID, agent.AgentID),
			logging.String(logging.FieldTaskType, item.TaskType),
			logging.Int("priority", item.Priority),
			logging.String(logging.FieldEventType, "item_assigned"),
		)

		if err := s.dispatcher.Dispatch(ctx, item, agent); err != nil {
			loads[agent.AgentID]--
			if released, relErr := s.store.ReleaseClaim(ctx, item.ID); relErr != nil || !released {
				s.logger.Error("failed to release claim after dispatch error",
					logging.Int64(logging.FieldItemID, item.ID),
					logging.Error(relErr),
				)
			}
			s.logger.Warn("dispatch failed, claim released",
				logging.Int64(logging.FieldItemID, item.ID),
				logging.String(logging.FieldAgentID, agent.AgentID),
				logging.Error(err),
				logging.String(logging.FieldEventType, "dispatch_failed"),
			)
		}
	}
	return nil
}

// StatusSummary is the scheduler's lightweight diagnostic view.
type StatusSummary struct {
	Running    bool
	LastError  string
	LastItem   *store.WorkItem
	QueueStats map[store.ItemStatus]int
}

// Status returns the latest scheduler information.
func (s *Scheduler) Status(ctx context.Context) StatusSummary {
	s.mu.RLock()
	running := s.running
	lastErr := s.lastErr
	lastItem := s.lastItem
	s.mu.RUnlock()

	stats, err := s.store.Stats(ctx)
	if err != nil {
		s.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	summary := StatusSummary{Running: running, QueueStats: stats}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastItem != nil {
		copy := *lastItem
		summary.LastItem = &copy
	}
	return summary
}

func (s *Scheduler) setLastError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Scheduler) setLastItem(item *store.WorkItem) {
	s.mu.Lock()
	if item != nil {
		copy := *item
		s.lastItem = &copy
	} else {
		s.lastItem = nil
	}
	s.mu.Unlock()
}
