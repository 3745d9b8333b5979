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

package core

import (
	"context"

	"github.com/verdantops/soilwatch/pkg/models"
)

// validateReading returns a rejection reason, or "" for a good reading.
func validateReading(r *models.Reading) string {
	switch {
	case r.Timestamp <= 0:
		return "invalid timestamp"
	case r.SensorChannel != 0 && r.SensorChannel != 2 && r.SensorChannel != 4 && r.SensorChannel != 6:
		return "invalid sensor channel"
	case r.SensorType != models.SensorTypeCapacitive && r.SensorType != models.SensorTypeResistive:
		return "invalid sensor type"
	case r.RawValue < 0 || r.RawValue > models.ADCMaxValue:
		return "raw value out of range"
	case r.MoisturePercent < 0 || r.MoisturePercent > 100:
		return "moisture percent out of range"
	default:
		return ""
	}
}

// IngestReadings processes one sync batch under the agent's lock, so a
// given reading is stored and evaluated exactly once even if the agent
// retries the batch concurrently. Each reading gets its own outcome;
// one bad reading never fails the batch.
func (s *Server) IngestReadings(ctx context.Context, agentID string, req *models.ReadingsRequest) (*models.ReadingsResponse, error) {
	unlock := s.locks.lock(agentID)
	defer unlock()

	resp := &models.ReadingsResponse{
		AcceptedIDs:  make([]int64, 0, len(req.Readings)),
		DuplicateIDs: make([]int64, 0),
	}

	for i := range req.Readings {
		reading := &req.Readings[i]

		if reason := validateReading(reading); reason != "" {
			resp.Rejected = append(resp.Rejected, models.RejectedReading{ID: reading.ID, Reason: reason})
			continue
		}

		inserted, err := s.store.InsertReading(ctx, agentID, reading)
		if err != nil {
			return nil, err
		}

		if !inserted {
			resp.DuplicateIDs = append(resp.DuplicateIDs, reading.ID)
			continue
		}

		resp.AcceptedIDs = append(resp.AcceptedIDs, reading.ID)

		s.markSensorSeen(agentID, reading)

		if err := s.engine.Evaluate(ctx, agentID, reading); err != nil {
			return nil, err
		}
	}

	if len(resp.AcceptedIDs) > 0 {
		if err := s.store.RecordSync(ctx, agentID, s.now().UTC()); err != nil {
			return nil, err
		}
	}

	s.logger.Debug().Str("agent_id", agentID).
		Int("accepted", len(resp.AcceptedIDs)).
		Int("duplicates", len(resp.DuplicateIDs)).
		Int("rejected", len(resp.Rejected)).
		Msg("Ingested readings batch")

	return resp, nil
}

func (s *Server) markSensorSeen(agentID string, reading *models.Reading) {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()

	channels, ok := s.lastSeen[agentID]
	if !ok {
		channels = make(map[int]sensorObservation)
		s.lastSeen[agentID] = channels
	}

	channels[reading.SensorChannel] = sensorObservation{
		at: s.now(),
		labels: models.SensorLabels{
			Location:   reading.Location,
			PlantType:  reading.PlantType,
			SensorName: reading.SensorName,
		},
	}
}

// RecordHealth stores the agent's latest health snapshot. Snapshots
// are operational telemetry, kept in memory only.
func (s *Server) RecordHealth(agentID string, health *models.AgentHealth) {
	s.healthMu.Lock()
	s.health[agentID] = *health
	s.healthMu.Unlock()
}

// GetHealth returns the last reported snapshot for an agent.
func (s *Server) GetHealth(agentID string) (models.AgentHealth, bool) {
	s.healthMu.RLock()
	defer s.healthMu.RUnlock()

	health, ok := s.health[agentID]

	return health, ok
}
