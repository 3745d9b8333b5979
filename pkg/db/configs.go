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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/verdantops/soilwatch/pkg/models"
)

// StoreDesiredConfig appends a new config version for the agent and
// bumps its desired version, both in one transaction. The version
// counter is per agent and only ever grows.
func (db *DB) StoreDesiredConfig(ctx context.Context, agentID string, sensors []models.SensorSpec) (int, error) {
	payload, err := json.Marshal(sensors)
	if err != nil {
		return 0, fmt.Errorf("failed to encode config payload: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin config transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var version int

	err = tx.QueryRow(ctx, `
		INSERT INTO agent_configs (agent_id, version, payload)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2
		FROM agent_configs WHERE agent_id = $1
		RETURNING version`, agentID, payload).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("failed to store config for %s: %w", agentID, err)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE agents SET desired_config_version = $2 WHERE agent_id = $1`, agentID, version)
	if err != nil {
		return 0, fmt.Errorf("failed to bump desired version for %s: %w", agentID, err)
	}

	if tag.RowsAffected() == 0 {
		return 0, ErrAgentNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit config for %s: %w", agentID, err)
	}

	return version, nil
}

// GetDesiredConfig returns the agent's current desired configuration.
func (db *DB) GetDesiredConfig(ctx context.Context, agentID string) (*models.SensorSet, error) {
	var (
		version int
		payload []byte
	)

	err := db.pool.QueryRow(ctx, `
		SELECT c.version, c.payload
		FROM agent_configs c
		JOIN agents a ON a.agent_id = c.agent_id AND a.desired_config_version = c.version
		WHERE c.agent_id = $1`, agentID).Scan(&version, &payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConfigNotFound
		}

		return nil, fmt.Errorf("failed to query config for %s: %w", agentID, err)
	}

	var sensors []models.SensorSpec

	if err := json.Unmarshal(payload, &sensors); err != nil {
		return nil, fmt.Errorf("failed to decode config payload for %s: %w", agentID, err)
	}

	return &models.SensorSet{Version: version, Sensors: sensors}, nil
}
