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
	"time"

	"github.com/verdantops/soilwatch/pkg/models"
)

func (s *Server) sweepLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(s.config.SweepInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

func (s *Server) runSweep(ctx context.Context) {
	if err := s.sweepAgents(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Agent offline sweep failed")
	}

	if err := s.sweepSensors(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Sensor offline sweep failed")
	}
}

// sweepAgents marks agents that have stopped heartbeating as offline
// and raises an agent_offline alert for each. Recovery is handled at
// heartbeat time, not here.
func (s *Server) sweepAgents(ctx context.Context) error {
	cutoff := s.now().UTC().Add(-time.Duration(s.config.AgentOfflineAfter))

	silent, err := s.store.AgentsSilentSince(ctx, cutoff)
	if err != nil {
		return err
	}

	for i := range silent {
		agentID := silent[i].AgentID

		unlock := s.locks.lock(agentID)

		err := s.store.UpdateAgentStatus(ctx, agentID, models.AgentStatusOffline)
		if err == nil {
			err = s.engine.TriggerAgentOffline(ctx, agentID)
		}

		unlock()

		if err != nil {
			s.logger.Error().Err(err).Str("agent_id", agentID).Msg("Failed to mark agent offline")
			continue
		}

		s.logger.Warn().Str("agent_id", agentID).Time("cutoff", cutoff).Msg("Agent went offline")
	}

	return nil
}

// sweepSensors raises sensor_offline alerts for channels whose newest
// accepted reading is older than the configured window. The engine
// resolves the slot when the channel reports again.
func (s *Server) sweepSensors(ctx context.Context) error {
	cutoff := s.now().Add(-time.Duration(s.config.SensorOfflineAfter))

	type staleSensor struct {
		agentID string
		channel int
		labels  models.SensorLabels
	}

	var stale []staleSensor

	s.seenMu.Lock()

	for agentID, channels := range s.lastSeen {
		for channel, obs := range channels {
			if obs.at.Before(cutoff) {
				stale = append(stale, staleSensor{agentID: agentID, channel: channel, labels: obs.labels})
			}
		}
	}

	s.seenMu.Unlock()

	for _, sensor := range stale {
		unlock := s.locks.lock(sensor.agentID)
		err := s.engine.TriggerSensorOffline(ctx, sensor.agentID, sensor.channel, sensor.labels)
		unlock()

		if err != nil {
			s.logger.Error().Err(err).Str("agent_id", sensor.agentID).
				Int("sensor_channel", sensor.channel).Msg("Failed to raise sensor offline alert")
		}
	}

	return nil
}
