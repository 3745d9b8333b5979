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

package confsync

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

type staticToken string

func (s staticToken) Token() string { return string(s) }

func newTestStore(t *testing.T) *queue.Queue {
	t.Helper()

	q, err := queue.Open(filepath.Join(t.TempDir(), "readings.db"), logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, q.Close())
	})

	return q
}

func validSet(version int) *models.SensorSet {
	return &models.SensorSet{
		Version: version,
		Sensors: []models.SensorSpec{{
			Channel:     0,
			Type:        models.SensorTypeCapacitive,
			Calibration: models.SensorCalibration{Min: 200, Max: 800},
			Labels:      models.SensorLabels{Location: "bed-1", PlantType: "basil", SensorName: "basil-1"},
			Thresholds:  models.SensorThresholds{DryPercent: 30, WetPercent: 80, Hysteresis: 5},
		}},
	}
}

func newPuller(t *testing.T, serverURL string, store *queue.Queue) *Puller {
	t.Helper()

	p, err := NewPuller(context.Background(), Config{ServerURL: serverURL, AgentID: "agent-1"},
		store, staticToken("agt_tok"), logger.NewTestLogger())
	require.NoError(t, err)

	return p
}

func TestPullAppliesNewVersion(t *testing.T) {
	store := newTestStore(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/agents/agent-1/config", r.URL.Path)
		assert.Equal(t, "0", r.URL.Query().Get("applied_version"))
		assert.Equal(t, "Bearer agt_tok", r.Header.Get("Authorization"))

		require.NoError(t, json.NewEncoder(w).Encode(validSet(2)))
	}))
	defer server.Close()

	p := newPuller(t, server.URL, store)

	var applied *models.SensorSet

	p.OnApply(func(set *models.SensorSet) { applied = set })

	changed, err := p.Pull(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)

	require.NotNil(t, p.Current())
	assert.Equal(t, 2, p.AppliedVersion())
	require.NotNil(t, applied)
	assert.Equal(t, 2, applied.Version)

	version, err := store.GetMeta(context.Background(), queue.MetaAppliedConfigVersion)
	require.NoError(t, err)
	assert.Equal(t, "2", version)
}

func TestPullConvergedOn304(t *testing.T) {
	store := newTestStore(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	p := newPuller(t, server.URL, store)
	require.NoError(t, p.Apply(context.Background(), validSet(3)))

	changed, err := p.Pull(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, 3, p.AppliedVersion())
}

func TestPullRejectsInvalidPayload(t *testing.T) {
	store := newTestStore(t)

	bad := validSet(5)
	bad.Sensors[0].Channel = 3 // not an analog port

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(bad))
	}))
	defer server.Close()

	p := newPuller(t, server.URL, store)
	require.NoError(t, p.Apply(context.Background(), validSet(1)))

	changed, err := p.Pull(context.Background())
	require.Error(t, err)
	assert.False(t, changed)

	// The working configuration stayed in place.
	assert.Equal(t, 1, p.AppliedVersion())
}

func TestPullAuthRevoked(t *testing.T) {
	store := newTestStore(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	p := newPuller(t, server.URL, store)

	_, err := p.Pull(context.Background())
	require.ErrorIs(t, err, ErrAuthRevoked)
}

func TestNewPullerRestoresPersistedConfig(t *testing.T) {
	store := newTestStore(t)

	first, err := NewPuller(context.Background(), Config{AgentID: "agent-1"},
		store, staticToken("agt_tok"), logger.NewTestLogger())
	require.NoError(t, err)
	require.NoError(t, first.Apply(context.Background(), validSet(4)))

	second, err := NewPuller(context.Background(), Config{AgentID: "agent-1"},
		store, staticToken("agt_tok"), logger.NewTestLogger())
	require.NoError(t, err)

	require.NotNil(t, second.Current())
	assert.Equal(t, 4, second.AppliedVersion())
	assert.Equal(t, "basil-1", second.Current().Sensors[0].Labels.SensorName)
}

func TestApplyRejectsStaleOrBrokenSets(t *testing.T) {
	store := newTestStore(t)

	p, err := NewPuller(context.Background(), Config{AgentID: "agent-1"},
		store, staticToken("agt_tok"), logger.NewTestLogger())
	require.NoError(t, err)

	empty := &models.SensorSet{Version: 9}
	require.ErrorIs(t, p.Apply(context.Background(), empty), models.ErrNoSensors)
	assert.Nil(t, p.Current())
}
