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

// Heartbeat records a liveness ping, clears any open agent_offline
// alert, and returns the desired config version so the agent knows
// whether to pull.
func (s *Server) Heartbeat(ctx context.Context, agentID string, req *models.HeartbeatRequest) (*models.HeartbeatResponse, error) {
	unlock := s.locks.lock(agentID)
	defer unlock()

	now := s.now().UTC()

	if err := s.store.RecordHeartbeat(ctx, agentID, req.AppliedConfigVersion, now); err != nil {
		return nil, err
	}

	if err := s.engine.AgentSeen(ctx, agentID); err != nil {
		s.logger.Error().Err(err).Str("agent_id", agentID).Msg("Failed to resolve agent offline alert")
	}

	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}

	return &models.HeartbeatResponse{
		Status:               "ok",
		DesiredConfigVersion: agent.DesiredConfigVersion,
		ServerTime:           now.Format(time.RFC3339),
	}, nil
}
