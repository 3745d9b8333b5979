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

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/verdantops/soilwatch/pkg/models"
)

const clientTimeout = 30 * time.Second

// AdminClient calls the orchestrator's operator API.
type AdminClient struct {
	serverURL  string
	adminToken string
	httpClient *http.Client
}

// NewAdminClient targets the orchestrator at serverURL.
func NewAdminClient(serverURL, adminToken string) *AdminClient {
	return &AdminClient{
		serverURL:  serverURL,
		adminToken: adminToken,
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

func (c *AdminClient) do(ctx context.Context, method, path string, body, dst interface{}) error {
	var buf bytes.Buffer

	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.serverURL+path, &buf)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.adminToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var apiErr models.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Message)
		}

		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if dst == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func (c *AdminClient) MintToken(ctx context.Context, req *models.CreateTokenRequest) (*models.CreateTokenResponse, error) {
	var resp models.CreateTokenResponse
	if err := c.do(ctx, http.MethodPost, "/api/bootstrap-tokens", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *AdminClient) ListAgents(ctx context.Context) ([]models.Agent, error) {
	var agents []models.Agent
	if err := c.do(ctx, http.MethodGet, "/api/agents", nil, &agents); err != nil {
		return nil, err
	}

	return agents, nil
}

func (c *AdminClient) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	var agent models.Agent
	if err := c.do(ctx, http.MethodGet, "/api/agents/"+agentID, nil, &agent); err != nil {
		return nil, err
	}

	return &agent, nil
}

func (c *AdminClient) DecommissionAgent(ctx context.Context, agentID string) error {
	return c.do(ctx, http.MethodDelete, "/api/agents/"+agentID, nil, nil)
}

func (c *AdminClient) PushConfig(ctx context.Context, agentID string, req *models.UpdateConfigRequest) (*models.UpdateConfigResponse, error) {
	var resp models.UpdateConfigResponse
	if err := c.do(ctx, http.MethodPut, "/api/agents/"+agentID+"/config", req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *AdminClient) ListAlerts(ctx context.Context) ([]models.ActiveAlert, error) {
	var alerts []models.ActiveAlert
	if err := c.do(ctx, http.MethodGet, "/api/alerts", nil, &alerts); err != nil {
		return nil, err
	}

	return alerts, nil
}

func (c *AdminClient) AlertHistory(ctx context.Context, limit int) ([]models.ActiveAlert, error) {
	path := "/api/alerts/history"
	if limit > 0 {
		path = fmt.Sprintf("%s?limit=%d", path, limit)
	}

	var alerts []models.ActiveAlert
	if err := c.do(ctx, http.MethodGet, path, nil, &alerts); err != nil {
		return nil, err
	}

	return alerts, nil
}

func (c *AdminClient) AcknowledgeAlert(ctx context.Context, alertID string) error {
	return c.do(ctx, http.MethodPost, "/api/alerts/"+alertID+"/acknowledge", nil, nil)
}
