/*
 * Copyright 2025 Verdant Operations, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/verdantops/soilwatch/pkg/models"
)

const agentColumns = `agent_id, hostname, hardware, token_hash, status,
	desired_config_version, applied_config_version, registered_at, last_heartbeat, last_sync_at`

// UpsertAgent inserts or refreshes an agent row. Re-registration
// replaces the credential and reactivates the agent without touching
// its config versions.
func (db *DB) UpsertAgent(ctx context.Context, agent *models.Agent) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO agents (agent_id, hostname, hardware, token_hash, status, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent_id) DO UPDATE SET
			hostname   = EXCLUDED.hostname,
			hardware   = EXCLUDED.hardware,
			token_hash = EXCLUDED.token_hash,
			status     = EXCLUDED.status`,
		agent.AgentID, agent.Hostname, agent.Hardware, agent.TokenHash,
		string(agent.Status), agent.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to upsert agent %s: %w", agent.AgentID, err)
	}

	return nil
}

// GetAgent fetches one agent by id.
func (db *DB) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE agent_id = $1`, agentID)

	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAgentNotFound
		}

		return nil, fmt.Errorf("failed to query agent %s: %w", agentID, err)
	}

	return agent, nil
}

// ListAgents returns all agents, most recently registered first.
func (db *DB) ListAgents(ctx context.Context) ([]models.Agent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents ORDER BY registered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	return collectAgents(rows)
}

// UpdateAgentStatus sets the lifecycle state of an agent.
func (db *DB) UpdateAgentStatus(ctx context.Context, agentID string, status models.AgentStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE agents SET status = $2 WHERE agent_id = $1`, agentID, string(status))
	if err != nil {
		return fmt.Errorf("failed to update agent %s status: %w", agentID, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrAgentNotFound
	}

	return nil
}

// RecordHeartbeat stores the heartbeat time and the agent's reported
// applied config version, reactivating an agent marked offline.
func (db *DB) RecordHeartbeat(ctx context.Context, agentID string, appliedVersion int, at time.Time) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE agents SET
			last_heartbeat = $2,
			applied_config_version = $3,
			status = CASE WHEN status = 'offline' THEN 'active' ELSE status END
		WHERE agent_id = $1`, agentID, at, appliedVersion)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat for %s: %w", agentID, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrAgentNotFound
	}

	return nil
}

// RecordSync stores the time of the last successful readings batch.
func (db *DB) RecordSync(ctx context.Context, agentID string, at time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE agents SET last_sync_at = $2 WHERE agent_id = $1`, agentID, at)
	if err != nil {
		return fmt.Errorf("failed to record sync for %s: %w", agentID, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrAgentNotFound
	}

	return nil
}

// AgentsSilentSince returns active agents that have not heartbeat since
// the cutoff. Agents that never heartbeat count from registration.
func (db *DB) AgentsSilentSince(ctx context.Context, cutoff time.Time) ([]models.Agent, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT `+agentColumns+` FROM agents
		WHERE status = 'active'
		  AND COALESCE(last_heartbeat, registered_at) < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list silent agents: %w", err)
	}
	defer rows.Close()

	return collectAgents(rows)
}

func scanAgent(row pgx.Row) (*models.Agent, error) {
	agent := &models.Agent{}

	var status string

	err := row.Scan(
		&agent.AgentID,
		&agent.Hostname,
		&agent.Hardware,
		&agent.TokenHash,
		&status,
		&agent.DesiredConfigVersion,
		&agent.AppliedConfigVersion,
		&agent.RegisteredAt,
		&agent.LastHeartbeat,
		&agent.LastSyncAt,
	)
	if err != nil {
		return nil, err
	}

	agent.Status = models.AgentStatus(status)

	return agent, nil
}

func collectAgents(rows pgx.Rows) ([]models.Agent, error) {
	var agents []models.Agent

	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}

		agents = append(agents, *agent)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate agents: %w", err)
	}

	return agents, nil
}
