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
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantops/soilwatch/pkg/models"
)

func testAlert(title string) *WebhookAlert {
	return &WebhookAlert{
		Level:     Warning,
		Title:     title,
		Message:   "moisture below threshold",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		AgentID:   "agent-1",
	}
}

func TestWebhookAlerterPostsPayload(t *testing.T) {
	var (
		received  WebhookAlert
		gotHeader string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Auth")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	alerter := NewWebhookAlerter(WebhookConfig{
		Enabled: true,
		URL:     server.URL,
		Headers: []Header{{Name: "X-Auth", Value: "secret"}},
	})

	require.NoError(t, alerter.Alert(context.Background(), testAlert("Too dry")))
	assert.Equal(t, "Too dry", received.Title)
	assert.Equal(t, "secret", gotHeader)
}

func TestWebhookAlerterCooldown(t *testing.T) {
	var calls int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	alerter := NewWebhookAlerter(WebhookConfig{
		Enabled:  true,
		URL:      server.URL,
		Cooldown: models.Duration(time.Minute),
	})

	require.NoError(t, alerter.Alert(context.Background(), testAlert("Too dry")))
	require.ErrorIs(t, alerter.Alert(context.Background(), testAlert("Too dry")), ErrWebhookCooldown)

	// A different title is a different slot, no suppression.
	require.NoError(t, alerter.Alert(context.Background(), testAlert("Too wet")))
	assert.Equal(t, 2, calls)
}

func TestWebhookAlerterCooldownExpiry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	alerter := NewWebhookAlerter(WebhookConfig{
		Enabled:  true,
		URL:      server.URL,
		Cooldown: models.Duration(time.Minute),
	})

	current := time.Now()
	alerter.now = func() time.Time { return current }

	require.NoError(t, alerter.Alert(context.Background(), testAlert("Too dry")))

	current = current.Add(2 * time.Minute)

	require.NoError(t, alerter.Alert(context.Background(), testAlert("Too dry")))
}

func TestWebhookAlerterDisabled(t *testing.T) {
	alerter := NewWebhookAlerter(WebhookConfig{Enabled: false, URL: "http://unused.invalid"})

	require.NoError(t, alerter.Alert(context.Background(), testAlert("Too dry")))
}

func TestWebhookAlerterServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	alerter := NewWebhookAlerter(WebhookConfig{Enabled: true, URL: server.URL})

	require.Error(t, alerter.Alert(context.Background(), testAlert("Too dry")))
}
