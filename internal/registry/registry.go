// Package registry tracks worker agents: who exists, what they can do, and
// whether they are alive enough to receive work.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dispatch/internal/config"
	"dispatch/internal/logging"
	"dispatch/internal/services"
	"dispatch/internal/store"
)

// Service exposes agent lifecycle operations over the store.
type Service struct {
	cfg    *config.Config
	store  *store.Store
	logger *slog.Logger
}

// NewService constructs an agent registry backed by the given store.
func NewService(cfg *config.Config, st *store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{cfg: cfg, store: st, logger: logging.NewComponentLogger(logger, "registry")}
}

// Registration carries the agent-declared identity and abilities.
type Registration struct {
	AgentID        string
	Tier           string
	Capabilities   []string
	MaxConcurrency int
}

// Register creates or refreshes an agent record. Re-registration replaces the
// capability set and concurrency budget; the call is idempotent.
func (s *Service) Register(ctx context.Context, reg Registration) (*store.Agent, error) {
	reg.AgentID = strings.TrimSpace(reg.AgentID)
	if reg.AgentID == "" {
		return nil, services.Wrap(services.ErrValidation, "registry", "register", "agent id is required", nil)
	}
	if reg.MaxConcurrency < 1 {
		return nil, services.Wrap(services.ErrValidation, "registry", "register", fmt.Sprintf("max concurrency must be at least 1, got %d", reg.MaxConcurrency), nil)
	}

	agent, err := s.store.UpsertAgent(ctx, &store.Agent{
		AgentID:        reg.AgentID,
		Tier:           strings.TrimSpace(reg.Tier),
		Capabilities:   normalizeCapabilities(reg.Capabilities),
		Status:         store.AgentActive,
		MaxConcurrency: reg.MaxConcurrency,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "registry", "register", "persist agent", err)
	}

	s.logger.Info("agent registered",
		logging.String(logging.FieldAgentID, agent.AgentID),
		logging.String("tier", agent.Tier),
		logging.Int("max_concurrency", agent.MaxConcurrency),
		logging.Any("capabilities", agent.Capabilities),
		logging.String(logging.FieldEventType, "agent_registered"),
	)
	return agent, nil
}

// Heartbeat refreshes the agent's liveness timestamp. An unknown agent id is
// a not-found error; the caller should re-register rather than retry.
func (s *Service) Heartbeat(ctx context.Context, agentID string) error {
	ok, err := s.store.TouchAgentHeartbeat(ctx, agentID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "registry", "heartbeat", "touch heartbeat", err)
	}
	if !ok {
		return services.Wrap(services.ErrNotFound, "registry", "heartbeat", fmt.Sprintf("agent %q not registered", agentID), nil)
	}
	return nil
}

// SetStatus updates an agent's availability state.
func (s *Service) SetStatus(ctx context.Context, agentID string, status store.AgentStatus) error {
	parsed, ok := store.ParseAgentStatus(string(status))
	if !ok {
		return services.Wrap(services.ErrValidation, "registry", "set status", fmt.Sprintf("unknown agent status %q", status), nil)
	}
	updated, err := s.store.UpdateAgentStatus(ctx, agentID, parsed)
	if err != nil {
		return services.Wrap(services.ErrTransient, "registry", "set status", "update agent status", err)
	}
	if !updated {
		return services.Wrap(services.ErrNotFound, "registry", "set status", fmt.Sprintf("agent %q not registered", agentID), nil)
	}
	return nil
}

// Deregister removes the agent record. In-flight items claimed by the agent
// are not touched here; the scheduler reclaims them once the agent goes
// stale.
func (s *Service) Deregister(ctx context.Context, agentID string) error {
	removed, err := s.store.DeleteAgent(ctx, agentID)
	if err != nil {
		return services.Wrap(services.ErrTransient, "registry", "deregister", "delete agent", err)
	}
	if !removed {
		return services.Wrap(services.ErrNotFound, "registry", "deregister", fmt.Sprintf("agent %q not registered", agentID), nil)
	}
	s.logger.Info("agent deregistered",
		logging.String(logging.FieldAgentID, agentID),
		logging.String(logging.FieldEventType, "agent_deregistered"),
	)
	return nil
}

// Get returns one agent record, nil when unknown.
func (s *Service) Get(ctx context.Context, agentID string) (*store.Agent, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "registry", "get", "load agent", err)
	}
	return agent, nil
}

// List returns all registered agents.
func (s *Service) List(ctx context.Context) ([]*store.Agent, error) {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "registry", "list", "list agents", err)
	}
	return agents, nil
}

// FindAvailable returns agents eligible for new work: active, heartbeated
// within the freshness window, covering every required capability, matching
// the tier when one is given, and below their concurrency budget per the
// supplied load snapshot. Ordered by oldest heartbeat, which spreads work
// across equally idle agents. An empty result is not an error.
func (s *Service) FindAvailable(ctx context.Context, required []string, tier string, loads map[string]int) ([]*store.Agent, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(s.cfg.Scheduler.AgentFreshness) * time.Second)
	fresh, err := s.store.FreshActiveAgents(ctx, cutoff)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "registry", "find available", "query fresh agents", err)
	}

	required = normalizeCapabilities(required)
	tier = strings.TrimSpace(tier)

	available := make([]*store.Agent, 0, len(fresh))
	for _, agent := range fresh {
		if tier != "" && agent.Tier != tier {
			continue
		}
		if !agent.HasCapabilities(required) {
			continue
		}
		if loads[agent.AgentID] >= agent.MaxConcurrency {
			continue
		}
		available = append(available, agent)
	}
	return available, nil
}

func normalizeCapabilities(caps []string) []string {
	out := make([]string, 0, len(caps))
	seen := make(map[string]struct{}, len(caps))
	for _, cap := range caps {
		cap = strings.ToLower(strings.TrimSpace(cap))
		if cap == "" {
			continue
		}
		if _, ok := seen[cap]; ok {
			continue
		}
		seen[cap] = struct{}{}
		out = append(out, cap)
	}
	return out
}
