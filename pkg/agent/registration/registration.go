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

// Package registration manages the agent's credential lifecycle against
// the orchestrator: a one-time bootstrap token is exchanged for a
// permanent agent token, which is persisted locally and attached to
// every subsequent request.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/verdantops/soilwatch/pkg/agent/queue"
	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

const defaultHTTPTimeout = 30 * time.Second

// State is the credential lifecycle state.
type State string

const (
	// StateUnregistered means no usable agent token exists yet.
	StateUnregistered State = "unregistered"
	// StateRegistering means a registration exchange is in flight.
	StateRegistering State = "registering"
	// StateRegistered means a persisted agent token is in use.
	StateRegistered State = "registered"
	// StateRevoked means the orchestrator rejected the agent token;
	// only a fresh bootstrap exchange leaves this state.
	StateRevoked State = "revoked"
)

var (
	// ErrBootstrapRejected reports that the orchestrator refused the
	// bootstrap token. The attempt is over; operators must mint a new
	// token.
	ErrBootstrapRejected = errors.New("registration: bootstrap token rejected")

	// ErrTokenRevoked reports that the agent token no longer
	// authenticates. The caller should re-register.
	ErrTokenRevoked = errors.New("registration: agent token revoked")

	// ErrNoBootstrapToken reports that registration is needed but no
	// bootstrap token was configured.
	ErrNoBootstrapToken = errors.New("registration: no bootstrap token configured")
)

// Config holds the registration client settings.
type Config struct {
	ServerURL      string `json:"server_url" yaml:"server_url"`
	AgentID        string `json:"agent_id" yaml:"agent_id"`
	Hostname       string `json:"hostname" yaml:"hostname"`
	Hardware       string `json:"hardware" yaml:"hardware"`
	BootstrapToken string `json:"bootstrap_token" yaml:"bootstrap_token"`
}

// Manager owns the agent token. It restores a persisted token at
// construction and moves through the credential lifecycle as Register
// and MarkRevoked are called. Safe for concurrent use.
type Manager struct {
	config     Config
	store      *queue.Queue
	httpClient *http.Client
	logger     logger.Logger

	mu    sync.Mutex
	state State
	token string
}

// NewManager creates a manager, restoring any token persisted in the
// queue's metadata store from an earlier run.
func NewManager(ctx context.Context, config Config, store *queue.Queue, log logger.Logger) (*Manager, error) {
	m := &Manager{
		config:     config,
		store:      store,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     log.WithComponent("registration"),
		state:      StateUnregistered,
	}

	token, err := store.GetMeta(ctx, queue.MetaAgentToken)
	if err != nil {
		return nil, fmt.Errorf("registration: restore token: %w", err)
	}

	if token != "" {
		m.token = token
		m.state = StateRegistered

		m.logger.Info().Str("agent_id", config.AgentID).Msg("Restored persisted agent token")
	}

	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state
}

// Token returns the current agent token, or "" when unregistered.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.token
}

// MarkRevoked records that the orchestrator rejected the agent token.
// The token is kept in memory for diagnostics but is no longer offered.
func (m *Manager) MarkRevoked() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateRegistered {
		m.state = StateRevoked
		m.logger.Warn().Str("agent_id", m.config.AgentID).Msg("Agent token revoked by orchestrator")
	}
}

// Register performs the bootstrap exchange. It is a no-op when already
// registered. On success the new token is persisted before Register
// returns, and any initial sensor configuration from the orchestrator
// is handed back to the caller.
func (m *Manager) Register(ctx context.Context) (*models.SensorSet, error) {
	m.mu.Lock()

	if m.state == StateRegistered {
		m.mu.Unlock()
		return nil, nil
	}

	if m.config.BootstrapToken == "" {
		m.mu.Unlock()
		return nil, ErrNoBootstrapToken
	}

	prev := m.state
	m.state = StateRegistering
	m.mu.Unlock()

	resp, err := m.exchange(ctx)
	if err != nil {
		m.mu.Lock()
		m.state = prev
		m.mu.Unlock()

		return nil, err
	}

	if err := m.store.SetMeta(ctx, queue.MetaAgentToken, resp.AgentToken); err != nil {
		m.mu.Lock()
		m.state = prev
		m.mu.Unlock()

		return nil, fmt.Errorf("registration: persist token: %w", err)
	}

	m.mu.Lock()
	m.token = resp.AgentToken
	m.state = StateRegistered
	m.mu.Unlock()

	m.logger.Info().Str("agent_id", m.config.AgentID).Msg("Registered with orchestrator")

	return resp.Config, nil
}

func (m *Manager) exchange(ctx context.Context) (*models.RegisterResponse, error) {
	body, err := json.Marshal(&models.RegisterRequest{
		AgentID:  m.config.AgentID,
		Hostname: m.config.Hostname,
		Hardware: m.config.Hardware,
	})
	if err != nil {
		return nil, fmt.Errorf("registration: encode request: %w", err)
	}

	url := m.config.ServerURL + "/agents/register"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("registration: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.config.BootstrapToken)

	httpResp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration: post register: %w", err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return nil, ErrBootstrapRejected
	case httpResp.StatusCode < 200 || httpResp.StatusCode >= 300:
		var errResp models.ErrorResponse

		_ = json.NewDecoder(httpResp.Body).Decode(&errResp)

		return nil, fmt.Errorf("registration: server returned %d: %s", httpResp.StatusCode, errResp.Message)
	}

	var resp models.RegisterResponse

	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("registration: decode response: %w", err)
	}

	if resp.AgentToken == "" {
		return nil, errors.New("registration: server returned an empty agent token")
	}

	return &resp, nil
}

// Heartbeat reports liveness and the applied config version, returning
// the orchestrator's desired version as a pull hint. A credential
// rejection moves the manager to StateRevoked and returns
// ErrTokenRevoked.
func (m *Manager) Heartbeat(ctx context.Context, appliedConfigVersion int) (*models.HeartbeatResponse, error) {
	token := m.Token()
	if token == "" {
		return nil, ErrTokenRevoked
	}

	body, err := json.Marshal(&models.HeartbeatRequest{AppliedConfigVersion: appliedConfigVersion})
	if err != nil {
		return nil, fmt.Errorf("registration: encode heartbeat: %w", err)
	}

	url := fmt.Sprintf("%s/agents/%s/heartbeat", m.config.ServerURL, m.config.AgentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("registration: build heartbeat: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registration: post heartbeat: %w", err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		m.MarkRevoked()
		return nil, ErrTokenRevoked
	case httpResp.StatusCode < 200 || httpResp.StatusCode >= 300:
		var errResp models.ErrorResponse

		_ = json.NewDecoder(httpResp.Body).Decode(&errResp)

		return nil, fmt.Errorf("registration: heartbeat returned %d: %s", httpResp.StatusCode, errResp.Message)
	}

	var resp models.HeartbeatResponse

	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("registration: decode heartbeat: %w", err)
	}

	return &resp, nil
}
