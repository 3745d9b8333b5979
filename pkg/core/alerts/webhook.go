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

package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/verdantops/soilwatch/pkg/models"
)

const defaultWebhookTimeout = 10 * time.Second

// Header is one custom header attached to webhook requests.
type Header struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// WebhookConfig configures one webhook destination.
type WebhookConfig struct {
	Enabled  bool            `json:"enabled" yaml:"enabled"`
	URL      string          `json:"url" yaml:"url"`
	Headers  []Header        `json:"headers,omitempty" yaml:"headers,omitempty"`
	Cooldown models.Duration `json:"cooldown,omitempty" yaml:"cooldown,omitempty"`
	Timeout  models.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// WebhookAlerter posts alerts to a single webhook URL, suppressing
// repeats of the same title inside the cooldown window.
type WebhookAlerter struct {
	config     WebhookConfig
	httpClient *http.Client

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewWebhookAlerter builds an alerter from its configuration.
func NewWebhookAlerter(config WebhookConfig) *WebhookAlerter {
	timeout := time.Duration(config.Timeout)
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	return &WebhookAlerter{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
		lastSent:   make(map[string]time.Time),
		now:        time.Now,
	}
}

// Alert posts the payload, or returns ErrWebhookCooldown when the same
// title fired too recently.
func (w *WebhookAlerter) Alert(ctx context.Context, alert *WebhookAlert) error {
	if !w.config.Enabled {
		return nil
	}

	if cooldown := time.Duration(w.config.Cooldown); cooldown > 0 {
		w.mu.Lock()

		if last, ok := w.lastSent[alert.Title]; ok && w.now().Sub(last) < cooldown {
			w.mu.Unlock()
			return ErrWebhookCooldown
		}

		w.lastSent[alert.Title] = w.now()
		w.mu.Unlock()
	}

	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("webhook: encode alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for _, header := range w.config.Headers {
		req.Header.Set(header.Name, header.Value)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post alert: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s returned %d", w.config.URL, resp.StatusCode)
	}

	return nil
}
