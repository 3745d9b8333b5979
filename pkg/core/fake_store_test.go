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
	"sync"
	"time"

	"github.com/verdantops/soilwatch/pkg/db"
	"github.com/verdantops/soilwatch/pkg/models"
)

type readingKey struct {
	agentID   string
	channel   int
	timestamp int64
}

// fakeStore is an in-memory db.Service with the same semantics as the
// Postgres implementation: dedup on (agent, channel, timestamp),
// atomic token consumption, append-only config versions.
type fakeStore struct {
	mu sync.Mutex

	agents   map[string]*models.Agent
	tokens   map[string]*models.BootstrapToken
	configs  map[string]*models.SensorSet
	readings map[readingKey]models.Reading
	alerts   map[string]*models.ActiveAlert
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		agents:   make(map[string]*models.Agent),
		tokens:   make(map[string]*models.BootstrapToken),
		configs:  make(map[string]*models.SensorSet),
		readings: make(map[readingKey]models.Reading),
		alerts:   make(map[string]*models.ActiveAlert),
	}
}

func (f *fakeStore) UpsertAgent(_ context.Context, agent *models.Agent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.agents[agent.AgentID]; ok {
		existing.Hostname = agent.Hostname
		existing.Hardware = agent.Hardware
		existing.TokenHash = agent.TokenHash
		existing.Status = agent.Status

		return nil
	}

	clone := *agent
	f.agents[agent.AgentID] = &clone

	return nil
}

func (f *fakeStore) GetAgent(_ context.Context, agentID string) (*models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	agent, ok := f.agents[agentID]
	if !ok {
		return nil, db.ErrAgentNotFound
	}

	clone := *agent

	return &clone, nil
}

func (f *fakeStore) ListAgents(_ context.Context) ([]models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.Agent, 0, len(f.agents))
	for _, agent := range f.agents {
		out = append(out, *agent)
	}

	return out, nil
}

func (f *fakeStore) UpdateAgentStatus(_ context.Context, agentID string, status models.AgentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	agent, ok := f.agents[agentID]
	if !ok {
		return db.ErrAgentNotFound
	}

	agent.Status = status

	return nil
}

func (f *fakeStore) RecordHeartbeat(_ context.Context, agentID string, appliedVersion int, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	agent, ok := f.agents[agentID]
	if !ok {
		return db.ErrAgentNotFound
	}

	ts := at
	agent.LastHeartbeat = &ts
	agent.AppliedConfigVersion = appliedVersion

	if agent.Status == models.AgentStatusOffline {
		agent.Status = models.AgentStatusActive
	}

	return nil
}

func (f *fakeStore) RecordSync(_ context.Context, agentID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	agent, ok := f.agents[agentID]
	if !ok {
		return db.ErrAgentNotFound
	}

	ts := at
	agent.LastSyncAt = &ts

	return nil
}

func (f *fakeStore) AgentsSilentSince(_ context.Context, cutoff time.Time) ([]models.Agent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Agent

	for _, agent := range f.agents {
		if agent.Status != models.AgentStatusActive {
			continue
		}

		last := agent.RegisteredAt
		if agent.LastHeartbeat != nil {
			last = *agent.LastHeartbeat
		}

		if last.Before(cutoff) {
			out = append(out, *agent)
		}
	}

	return out, nil
}

func (f *fakeStore) CreateToken(_ context.Context, token *models.BootstrapToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := *token
	f.tokens[token.TokenHash] = &clone

	return nil
}

func (f *fakeStore) ConsumeToken(_ context.Context, tokenHash string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	token, ok := f.tokens[tokenHash]
	if !ok || !token.Valid(now) {
		return false, nil
	}

	token.UsedCount++
	ts := now
	token.LastUsed = &ts

	return true, nil
}

func (f *fakeStore) ListTokens(_ context.Context) ([]models.BootstrapToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.BootstrapToken, 0, len(f.tokens))
	for _, token := range f.tokens {
		out = append(out, *token)
	}

	return out, nil
}

func (f *fakeStore) StoreDesiredConfig(_ context.Context, agentID string, sensors []models.SensorSpec) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	agent, ok := f.agents[agentID]
	if !ok {
		return 0, db.ErrAgentNotFound
	}

	version := 1
	if current, ok := f.configs[agentID]; ok {
		version = current.Version + 1
	}

	f.configs[agentID] = &models.SensorSet{Version: version, Sensors: sensors}
	agent.DesiredConfigVersion = version

	return version, nil
}

func (f *fakeStore) GetDesiredConfig(_ context.Context, agentID string) (*models.SensorSet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	set, ok := f.configs[agentID]
	if !ok {
		return nil, db.ErrConfigNotFound
	}

	clone := *set

	return &clone, nil
}

func (f *fakeStore) InsertReading(_ context.Context, agentID string, reading *models.Reading) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := readingKey{agentID: agentID, channel: reading.SensorChannel, timestamp: reading.Timestamp}
	if _, dup := f.readings[key]; dup {
		return false, nil
	}

	f.readings[key] = *reading

	return true, nil
}

func (f *fakeStore) ListReadings(_ context.Context, agentID string, filter db.ReadingFilter) ([]models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.Reading

	for key, reading := range f.readings {
		if key.agentID != agentID {
			continue
		}

		if filter.Channel >= 0 && key.channel != filter.Channel {
			continue
		}

		if filter.Since > 0 && key.timestamp < filter.Since {
			continue
		}

		out = append(out, reading)
	}

	return out, nil
}

func (f *fakeStore) CreateAlert(_ context.Context, alert *models.ActiveAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	clone := *alert
	f.alerts[alert.ID] = &clone

	return nil
}

func (f *fakeStore) ResolveAlert(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	alert, ok := f.alerts[id]
	if !ok || alert.ResolvedAt != nil {
		return db.ErrAlertNotFound
	}

	ts := at
	alert.ResolvedAt = &ts
	alert.State = models.AlertStateResolved

	return nil
}

func (f *fakeStore) AcknowledgeAlert(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	alert, ok := f.alerts[id]
	if !ok || alert.ResolvedAt != nil {
		return db.ErrAlertNotFound
	}

	alert.Acknowledged = true
	alert.State = models.AlertStateAcknowledged

	return nil
}

func (f *fakeStore) GetOpenAlert(_ context.Context, agentID string, channel int, kind models.AlertKind) (*models.ActiveAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, alert := range f.alerts {
		if alert.AgentID == agentID && alert.SensorChannel == channel && alert.Kind == kind && alert.ResolvedAt == nil {
			clone := *alert
			return &clone, nil
		}
	}

	return nil, db.ErrAlertNotFound
}

func (f *fakeStore) ListOpenAlerts(_ context.Context) ([]models.ActiveAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []models.ActiveAlert

	for _, alert := range f.alerts {
		if alert.ResolvedAt == nil {
			out = append(out, *alert)
		}
	}

	return out, nil
}

func (f *fakeStore) ListAlertHistory(_ context.Context, limit int) ([]models.ActiveAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]models.ActiveAlert, 0, len(f.alerts))
	for _, alert := range f.alerts {
		out = append(out, *alert)
	}

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (f *fakeStore) openAlerts() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0

	for _, alert := range f.alerts {
		if alert.ResolvedAt == nil {
			count++
		}
	}

	return count
}

func (f *fakeStore) Close() {}
