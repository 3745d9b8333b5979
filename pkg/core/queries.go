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

	"github.com/verdantops/soilwatch/pkg/db"
	"github.com/verdantops/soilwatch/pkg/models"
)

// Read-side operations backing the operator API.

func (s *Server) ListAgents(ctx context.Context) ([]models.Agent, error) {
	return s.store.ListAgents(ctx)
}

func (s *Server) GetAgentDetail(ctx context.Context, agentID string) (*models.Agent, error) {
	return s.store.GetAgent(ctx, agentID)
}

func (s *Server) ListBootstrapTokens(ctx context.Context) ([]models.BootstrapToken, error) {
	return s.store.ListTokens(ctx)
}

func (s *Server) ListOpenAlerts(ctx context.Context) ([]models.ActiveAlert, error) {
	return s.store.ListOpenAlerts(ctx)
}

func (s *Server) ListAlertHistory(ctx context.Context, limit int) ([]models.ActiveAlert, error) {
	return s.store.ListAlertHistory(ctx, limit)
}

// AcknowledgeAlert silences notifications for an open alert without
// resolving it.
func (s *Server) AcknowledgeAlert(ctx context.Context, id string) error {
	return s.engine.Acknowledge(ctx, id)
}

func (s *Server) ListReadings(ctx context.Context, agentID string, filter db.ReadingFilter) ([]models.Reading, error) {
	return s.store.ListReadings(ctx, agentID, filter)
}
