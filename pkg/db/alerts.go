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

const alertColumns = `id, agent_id, sensor_channel, alert_type, state, triggered_at,
	resolved_at, acknowledged, moisture_percent, threshold, location, plant_type, sensor_name`

// CreateAlert inserts a new open alert row. The partial unique index on
// open (agent, channel, kind) slots rejects double-triggering.
func (db *DB) CreateAlert(ctx context.Context, alert *models.ActiveAlert) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO alerts
			(id, agent_id, sensor_channel, alert_type, state, triggered_at,
			 acknowledged, moisture_percent, threshold, location, plant_type, sensor_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		alert.ID, alert.AgentID, alert.SensorChannel, string(alert.Kind), string(alert.State),
		alert.TriggeredAt, alert.Acknowledged, alert.MoisturePercent, alert.Threshold,
		alert.Location, alert.PlantType, alert.SensorName)
	if err != nil {
		return fmt.Errorf("failed to create alert for %s: %w", alert.AgentID, err)
	}

	return nil
}

// ResolveAlert closes an open alert.
func (db *DB) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE alerts SET state = $2, resolved_at = $3
		WHERE id = $1 AND resolved_at IS NULL`,
		id, string(models.AlertStateResolved), at)
	if err != nil {
		return fmt.Errorf("failed to resolve alert %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}

	return nil
}

// AcknowledgeAlert marks an open alert as seen by an operator.
func (db *DB) AcknowledgeAlert(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE alerts SET acknowledged = true, state = $2
		WHERE id = $1 AND resolved_at IS NULL`,
		id, string(models.AlertStateAcknowledged))
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return ErrAlertNotFound
	}

	return nil
}

// GetOpenAlert returns the unresolved alert occupying a slot, or
// ErrAlertNotFound when the slot is clear.
func (db *DB) GetOpenAlert(ctx context.Context, agentID string, channel int, kind models.AlertKind) (*models.ActiveAlert, error) {
	row := db.pool.QueryRow(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE agent_id = $1 AND sensor_channel = $2 AND alert_type = $3 AND resolved_at IS NULL`,
		agentID, channel, string(kind))

	alert, err := scanAlert(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAlertNotFound
		}

		return nil, fmt.Errorf("failed to query open alert: %w", err)
	}

	return alert, nil
}

// ListOpenAlerts returns every unresolved alert, newest first.
func (db *DB) ListOpenAlerts(ctx context.Context) ([]models.ActiveAlert, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE resolved_at IS NULL ORDER BY triggered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open alerts: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ListAlertHistory returns open and resolved alerts, newest first.
func (db *DB) ListAlertHistory(ctx context.Context, limit int) ([]models.ActiveAlert, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.pool.Query(ctx, `
		SELECT `+alertColumns+` FROM alerts
		ORDER BY triggered_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert history: %w", err)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

func scanAlert(row pgx.Row) (*models.ActiveAlert, error) {
	alert := &models.ActiveAlert{}

	var kind, state string

	err := row.Scan(
		&alert.ID,
		&alert.AgentID,
		&alert.SensorChannel,
		&kind,
		&state,
		&alert.TriggeredAt,
		&alert.ResolvedAt,
		&alert.Acknowledged,
		&alert.MoisturePercent,
		&alert.Threshold,
		&alert.Location,
		&alert.PlantType,
		&alert.SensorName,
	)
	if err != nil {
		return nil, err
	}

	alert.Kind = models.AlertKind(kind)
	alert.State = models.AlertState(state)

	return alert, nil
}

func collectAlerts(rows pgx.Rows) ([]models.ActiveAlert, error) {
	var alerts []models.ActiveAlert

	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		alerts = append(alerts, *alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}
