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
	"fmt"
	"strings"

	"github.com/verdantops/soilwatch/pkg/models"
)

const defaultReadingLimit = 1000

// InsertReading stores a reading in the time-series sink. The unique
// index on (agent_id, sensor_channel, timestamp) makes replays
// harmless; a conflict reports false without error.
func (db *DB) InsertReading(ctx context.Context, agentID string, reading *models.Reading) (bool, error) {
	tag, err := db.pool.Exec(ctx, `
		INSERT INTO readings
			(agent_id, timestamp, sensor_channel, sensor_type, raw_value,
			 moisture_percent, location, plant_type, sensor_name)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (agent_id, sensor_channel, timestamp) DO NOTHING`,
		agentID, reading.Timestamp, reading.SensorChannel, string(reading.SensorType),
		reading.RawValue, reading.MoisturePercent,
		reading.Location, reading.PlantType, reading.SensorName)
	if err != nil {
		return false, fmt.Errorf("failed to insert reading for %s: %w", agentID, err)
	}

	return tag.RowsAffected() > 0, nil
}

// ListReadings returns an agent's readings, newest first.
func (db *DB) ListReadings(ctx context.Context, agentID string, filter ReadingFilter) ([]models.Reading, error) {
	var sb strings.Builder

	sb.WriteString(`SELECT id, timestamp, sensor_channel, sensor_type, raw_value,
		moisture_percent, location, plant_type, sensor_name
		FROM readings WHERE agent_id = $1`)

	args := []any{agentID}

	if filter.Channel >= 0 {
		args = append(args, filter.Channel)
		fmt.Fprintf(&sb, " AND sensor_channel = $%d", len(args))
	}

	if filter.Since > 0 {
		args = append(args, filter.Since)
		fmt.Fprintf(&sb, " AND timestamp >= $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultReadingLimit
	}

	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := db.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list readings for %s: %w", agentID, err)
	}
	defer rows.Close()

	var readings []models.Reading

	for rows.Next() {
		var (
			reading    models.Reading
			sensorType string
		)

		err := rows.Scan(&reading.ID, &reading.Timestamp, &reading.SensorChannel,
			&sensorType, &reading.RawValue, &reading.MoisturePercent,
			&reading.Location, &reading.PlantType, &reading.SensorName)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}

		reading.SensorType = models.SensorType(sensorType)
		readings = append(readings, reading)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}

	return readings, nil
}
