package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const agentColumns = "agent_id, tier, capabilities, status, max_concurrency, last_heartbeat, registered_at, updated_at"

// UpsertAgent registers an agent or updates an existing registration in
// place. The operation is idempotent: re-registering an existing id refreshes
// its fields and heartbeat rather than erroring.
func (s *Store) UpsertAgent(ctx context.Context, agent *Agent) (*Agent, error) {
	if agent == nil {
		return nil, errors.New("agent is nil")
	}
	if agent.AgentID == "" {
		return nil, errors.New("agent id must not be empty")
	}
	caps, err := marshalCapabilities(agent.Capabilities)
	if err != nil {
		return nil, err
	}
	status := agent.Status
	if status == "" {
		status = AgentActive
	}
	maxConcurrency := agent.MaxConcurrency
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	now := time.Now().UTC()

	_, err = s.execWithRetry(
		ctx,
		`INSERT INTO agents (agent_id, tier, capabilities, status, max_concurrency, last_heartbeat, registered_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(agent_id) DO UPDATE SET
             tier = excluded.tier,
             capabilities = excluded.capabilities,
             status = excluded.status,
             max_concurrency = excluded.max_concurrency,
             last_heartbeat = excluded.last_heartbeat,
             updated_at = excluded.updated_at`,
		agent.AgentID,
		nullableString(agent.Tier),
		caps,
		status,
		maxConcurrency,
		formatTime(now),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert agent: %w", err)
	}
	return s.GetAgent(ctx, agent.AgentID)
}

// GetAgent fetches an agent by identifier; nil when missing.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*Agent, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+agentColumns+` FROM agents WHERE agent_id = ?`, agentID)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns every registered agent ordered by identifier.
func (s *Store) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT `+agentColumns+` FROM agents ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// TouchAgentHeartbeat refreshes an agent's heartbeat. Returns false when the
// agent is unknown, signaling the caller to re-register.
func (s *Store) TouchAgentHeartbeat(ctx context.Context, agentID string) (bool, error) {
	now := time.Now().UTC()
	res, err := s.execWithRetry(
		ctx,
		`UPDATE agents SET last_heartbeat = ?, updated_at = ? WHERE agent_id = ?`,
		formatTime(now),
		formatTime(now),
		agentID,
	)
	if err != nil {
		return false, fmt.Errorf("touch agent heartbeat: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateAgentStatus sets an agent's registration status.
func (s *Store) UpdateAgentStatus(ctx context.Context, agentID string, status AgentStatus) (bool, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE agents SET status = ?, updated_at = ? WHERE agent_id = ?`,
		status,
		formatTime(time.Now().UTC()),
		agentID,
	)
	if err != nil {
		return false, fmt.Errorf("update agent status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// DeleteAgent removes an agent registration.
func (s *Store) DeleteAgent(ctx context.Context, agentID string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM agents WHERE agent_id = ?`, agentID)
	if err != nil {
		return false, fmt.Errorf("delete agent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// FreshActiveAgents returns active agents whose heartbeat is at or after the
// cutoff, ordered by oldest heartbeat first. Freshness is evaluated at query
// time; there is no background sweep marking agents stale.
func (s *Store) FreshActiveAgents(ctx context.Context, cutoff time.Time) ([]*Agent, error) {
	rows, err := s.db.QueryContext(
		ensureContext(ctx),
		`SELECT `+agentColumns+` FROM agents
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat >= ?
         ORDER BY last_heartbeat ASC`,
		AgentActive,
		formatTime(cutoff),
	)
	if err != nil {
		return nil, fmt.Errorf("fresh active agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

func scanAgent(scanner interface{ Scan(dest ...any) error }) (*Agent, error) {
	var (
		agentID        string
		tier           sql.NullString
		capabilities   sql.NullString
		statusStr      string
		maxConcurrency int
		heartbeatRaw   sql.NullString
		registeredRaw  sql.NullString
		updatedRaw     sql.NullString
	)
	if err := scanner.Scan(
		&agentID,
		&tier,
		&capabilities,
		&statusStr,
		&maxConcurrency,
		&heartbeatRaw,
		&registeredRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	agent := &Agent{
		AgentID:        agentID,
		Tier:           tier.String,
		Capabilities:   unmarshalCapabilities(capabilities.String),
		Status:         AgentStatus(statusStr),
		MaxConcurrency: maxConcurrency,
	}
	agent.LastHeartbeat = parseNullableTime(heartbeatRaw)
	if registered, err := parseTimeString(registeredRaw.String); err == nil {
		agent.RegisteredAt = registered
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		agent.UpdatedAt = updated
	}
	return agent, nil
}
