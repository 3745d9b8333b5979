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
	"errors"

	"github.com/verdantops/soilwatch/pkg/models"
)

// ErrConfigNotModified signals the agent's applied version already
// matches the desired one; the transport maps it to 304.
var ErrConfigNotModified = errors.New("core: config not modified")

// UpdateDesiredConfig validates and stores a new sensor configuration
// for the agent. The store assigns the next version; rules take effect
// on the server immediately, the agent converges on its next pull.
func (s *Server) UpdateDesiredConfig(ctx context.Context, agentID string, req *models.UpdateConfigRequest) (*models.UpdateConfigResponse, error) {
	candidate := &models.SensorSet{Sensors: req.Sensors}
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(agentID)
	defer unlock()

	version, err := s.store.StoreDesiredConfig(ctx, agentID, req.Sensors)
	if err != nil {
		return nil, err
	}

	s.engine.SetRules(agentID, candidate.Rules())

	s.logger.Info().Str("agent_id", agentID).Int("version", version).
		Int("sensors", len(req.Sensors)).Msg("Stored desired configuration")

	return &models.UpdateConfigResponse{Version: version, Status: "stored"}, nil
}

// GetConfigForAgent returns the desired configuration, or
// ErrConfigNotModified when the agent has already applied it.
func (s *Server) GetConfigForAgent(ctx context.Context, agentID string, appliedVersion int) (*models.SensorSet, error) {
	set, err := s.store.GetDesiredConfig(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if appliedVersion >= set.Version {
		return nil, ErrConfigNotModified
	}

	return set, nil
}
