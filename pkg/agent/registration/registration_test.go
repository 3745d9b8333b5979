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

package registration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantops/soilwatch/pkg/agent/queue"
	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

func newTestStore(t *testing.T) *queue.Queue {
	t.Helper()

	q, err := queue.Open(filepath.Join(t.TempDir(), "readings.db"), logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, q.Close())
	})

	return q
}

func TestRegisterExchangesBootstrapToken(t *testing.T) {
	store := newTestStore(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agents/register", r.URL.Path)
		assert.Equal(t, "Bearer boot_abc", r.Header.Get("Authorization"))

		var req models.RegisterRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "agent-1", req.AgentID)
		assert.Equal(t, "greenhouse-pi", req.Hostname)

		require.NoError(t, json.NewEncoder(w).Encode(&models.RegisterResponse{
			AgentToken: "agt_fresh",
			Config: &models.SensorSet{
				Version: 3,
				Sensors: []models.SensorSpec{{
					Channel:     0,
					Type:        models.SensorTypeCapacitive,
					Calibration: models.SensorCalibration{Min: 200, Max: 800},
					Labels:      models.SensorLabels{Location: "bed-1", PlantType: "basil", SensorName: "basil-1"},
					Thresholds:  models.SensorThresholds{DryPercent: 30, WetPercent: 80, Hysteresis: 5},
				}},
			},
		}))
	}))
	defer server.Close()

	m, err := NewManager(context.Background(), Config{
		ServerURL:      server.URL,
		AgentID:        "agent-1",
		Hostname:       "greenhouse-pi",
		Hardware:       "raspberry-pi-4",
		BootstrapToken: "boot_abc",
	}, store, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, StateUnregistered, m.State())

	cfg, err := m.Register(context.Background())
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 3, cfg.Version)
	assert.Equal(t, StateRegistered, m.State())
	assert.Equal(t, "agt_fresh", m.Token())

	// The token survived into the metadata store.
	persisted, err := store.GetMeta(context.Background(), queue.MetaAgentToken)
	require.NoError(t, err)
	assert.Equal(t, "agt_fresh", persisted)
}

func TestNewManagerRestoresPersistedToken(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetMeta(context.Background(), queue.MetaAgentToken, "agt_old"))

	m, err := NewManager(context.Background(), Config{AgentID: "agent-1"}, store, logger.NewTestLogger())
	require.NoError(t, err)

	assert.Equal(t, StateRegistered, m.State())
	assert.Equal(t, "agt_old", m.Token())

	// Register is a no-op once registered.
	cfg, err := m.Register(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestRegisterRejectedBootstrapToken(t *testing.T) {
	store := newTestStore(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	m, err := NewManager(context.Background(), Config{
		ServerURL:      server.URL,
		AgentID:        "agent-1",
		BootstrapToken: "boot_expired",
	}, store, logger.NewTestLogger())
	require.NoError(t, err)

	_, err = m.Register(context.Background())
	require.ErrorIs(t, err, ErrBootstrapRejected)
	assert.Equal(t, StateUnregistered, m.State())
}

func TestRegisterWithoutBootstrapToken(t *testing.T) {
	store := newTestStore(t)

	m, err := NewManager(context.Background(), Config{AgentID: "agent-1"}, store, logger.NewTestLogger())
	require.NoError(t, err)

	_, err = m.Register(context.Background())
	require.ErrorIs(t, err, ErrNoBootstrapToken)
}

func TestHeartbeatReturnsDesiredVersion(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetMeta(context.Background(), queue.MetaAgentToken, "agt_tok"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agents/agent-1/heartbeat", r.URL.Path)
		assert.Equal(t, "Bearer agt_tok", r.Header.Get("Authorization"))

		var req models.HeartbeatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 4, req.AppliedConfigVersion)

		require.NoError(t, json.NewEncoder(w).Encode(&models.HeartbeatResponse{
			Status:               "ok",
			DesiredConfigVersion: 7,
		}))
	}))
	defer server.Close()

	m, err := NewManager(context.Background(), Config{
		ServerURL: server.URL,
		AgentID:   "agent-1",
	}, store, logger.NewTestLogger())
	require.NoError(t, err)

	resp, err := m.Heartbeat(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 7, resp.DesiredConfigVersion)
}

func TestHeartbeatRevocationMovesStateToRevoked(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.SetMeta(context.Background(), queue.MetaAgentToken, "agt_tok"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	m, err := NewManager(context.Background(), Config{
		ServerURL: server.URL,
		AgentID:   "agent-1",
	}, store, logger.NewTestLogger())
	require.NoError(t, err)

	_, err = m.Heartbeat(context.Background(), 1)
	require.ErrorIs(t, err, ErrTokenRevoked)
	assert.Equal(t, StateRevoked, m.State())
}
