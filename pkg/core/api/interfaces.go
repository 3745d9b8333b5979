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

package api

import (
	"context"

	"github.com/verdantops/soilwatch/pkg/db"
	"github.com/verdantops/soilwatch/pkg/models"
)

// CoreService is the domain surface the HTTP handlers depend on,
// implemented by core.Server.
type CoreService interface {
	// Agent-facing operations.
	RegisterAgent(ctx context.Context, bootstrapToken string, req *models.RegisterRequest) (*models.RegisterResponse, error)
	AuthenticateAgent(ctx context.Context, agentID, token string) error
	Heartbeat(ctx context.Context, agentID string, req *models.HeartbeatRequest) (*models.HeartbeatResponse, error)
	IngestReadings(ctx context.Context, agentID string, req *models.ReadingsRequest) (*models.ReadingsResponse, error)
	GetConfigForAgent(ctx context.Context, agentID string, appliedVersion int) (*models.SensorSet, error)
	RecordHealth(agentID string, health *models.AgentHealth)

	// Operator operations.
	AdminToken() string
	MintBootstrapToken(ctx context.Context, req *models.CreateTokenRequest) (*models.CreateTokenResponse, error)
	ListBootstrapTokens(ctx context.Context) ([]models.BootstrapToken, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	GetAgentDetail(ctx context.Context, agentID string) (*models.Agent, error)
	GetHealth(agentID string) (models.AgentHealth, bool)
	DecommissionAgent(ctx context.Context, agentID string) error
	UpdateDesiredConfig(ctx context.Context, agentID string, req *models.UpdateConfigRequest) (*models.UpdateConfigResponse, error)
	ListReadings(ctx context.Context, agentID string, filter db.ReadingFilter) ([]models.Reading, error)
	ListOpenAlerts(ctx context.Context) ([]models.ActiveAlert, error)
	ListAlertHistory(ctx context.Context, limit int) ([]models.ActiveAlert, error)
	AcknowledgeAlert(ctx context.Context, id string) error
}
