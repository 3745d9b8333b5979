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

// Package confsync converges the agent on the orchestrator's desired
// sensor configuration. Convergence is pull based: the agent polls,
// validates the payload, and swaps its whole configuration atomically.
package confsync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/verdantops/soilwatch/pkg/agent/queue"
	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

const defaultHTTPTimeout = 30 * time.Second

// ErrAuthRevoked reports that the orchestrator rejected the agent token
// during a config pull.
var ErrAuthRevoked = errors.New("confsync: agent credentials rejected by orchestrator")

// TokenSource supplies the current agent token.
type TokenSource interface {
	Token() string
}

// Config holds the puller settings.
type Config struct {
	ServerURL string `json:"server_url" yaml:"server_url"`
	AgentID   string `json:"agent_id" yaml:"agent_id"`
}

// Puller owns the agent's applied sensor configuration. Readers get a
// consistent snapshot via Current; Pull and Apply swap the whole set
// under the puller's mutex and persist it before it takes effect on the
// next collection cycle.
type Puller struct {
	config     Config
	store      *queue.Queue
	tokens     TokenSource
	httpClient *http.Client
	logger     logger.Logger

	mu      sync.RWMutex
	current *models.SensorSet
	onApply func(*models.SensorSet)
}

// NewPuller creates a puller, restoring the configuration persisted by
// an earlier run so the agent can collect before its first pull.
func NewPuller(ctx context.Context, config Config, store *queue.Queue, tokens TokenSource, log logger.Logger) (*Puller, error) {
	p := &Puller{
		config:     config,
		store:      store,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		logger:     log.WithComponent("confsync"),
	}

	raw, err := store.GetMeta(ctx, queue.MetaSensorConfig)
	if err != nil {
		return nil, fmt.Errorf("confsync: restore config: %w", err)
	}

	if raw != "" {
		var set models.SensorSet

		if err := json.Unmarshal([]byte(raw), &set); err != nil {
			p.logger.Warn().Err(err).Msg("Persisted sensor config unreadable, waiting for next pull")
		} else {
			p.current = &set
		}
	}

	return p, nil
}

// OnApply registers a callback invoked after every successful swap,
// with the new set. Used to relabel queued readings and rebuild the
// collector's channel map. Must be set before the puller is shared.
func (p *Puller) OnApply(fn func(*models.SensorSet)) {
	p.onApply = fn
}

// Current returns the applied configuration, or nil before the first
// registration or pull succeeds.
func (p *Puller) Current() *models.SensorSet {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.current
}

// AppliedVersion returns the version of the applied configuration, or 0.
func (p *Puller) AppliedVersion() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.current == nil {
		return 0
	}

	return p.current.Version
}

// Apply validates and installs a configuration payload, persisting it
// so a restart resumes from the same version. An invalid payload is
// rejected and the applied configuration stays in place.
func (p *Puller) Apply(ctx context.Context, set *models.SensorSet) error {
	if err := set.Validate(); err != nil {
		return fmt.Errorf("confsync: invalid config version %d: %w", set.Version, err)
	}

	raw, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("confsync: encode config: %w", err)
	}

	if err := p.store.SetMeta(ctx, queue.MetaSensorConfig, string(raw)); err != nil {
		return fmt.Errorf("confsync: persist config: %w", err)
	}

	if err := p.store.SetMeta(ctx, queue.MetaAppliedConfigVersion, strconv.Itoa(set.Version)); err != nil {
		return fmt.Errorf("confsync: persist version: %w", err)
	}

	p.mu.Lock()
	p.current = set
	p.mu.Unlock()

	p.logger.Info().Int("version", set.Version).Int("sensors", len(set.Sensors)).
		Msg("Applied sensor configuration")

	if p.onApply != nil {
		p.onApply(set)
	}

	return nil
}

// Pull asks the orchestrator for a newer configuration than the applied
// version. Returns true when a new version was applied; a 304 reply
// means the agent is already converged.
func (p *Puller) Pull(ctx context.Context) (bool, error) {
	endpoint := fmt.Sprintf("%s/agents/%s/config?applied_version=%s",
		p.config.ServerURL, p.config.AgentID, url.QueryEscape(strconv.Itoa(p.AppliedVersion())))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("confsync: build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.tokens.Token())

	httpResp, err := p.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("confsync: get config: %w", err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	switch {
	case httpResp.StatusCode == http.StatusNotModified:
		return false, nil
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return false, ErrAuthRevoked
	case httpResp.StatusCode < 200 || httpResp.StatusCode >= 300:
		var errResp models.ErrorResponse

		_ = json.NewDecoder(httpResp.Body).Decode(&errResp)

		return false, fmt.Errorf("confsync: server returned %d: %s", httpResp.StatusCode, errResp.Message)
	}

	var set models.SensorSet

	if err := json.NewDecoder(httpResp.Body).Decode(&set); err != nil {
		return false, fmt.Errorf("confsync: decode config: %w", err)
	}

	if set.Version <= p.AppliedVersion() {
		return false, nil
	}

	if err := p.Apply(ctx, &set); err != nil {
		p.logger.Error().Err(err).Int("version", set.Version).
			Msg("Rejected config payload, keeping applied version")

		return false, err
	}

	return true, nil
}
