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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantops/soilwatch/pkg/db"
	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

type fakeAlertStore struct {
	mu     sync.Mutex
	alerts map[string]*models.ActiveAlert
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{alerts: make(map[string]*models.ActiveAlert)}
}

func (f *fakeAlertStore) CreateAlert(_ context.Context, alert *models.ActiveAlert) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored := *alert
	f.alerts[alert.ID] = &stored

	return nil
}

func (f *fakeAlertStore) ResolveAlert(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	alert, ok := f.alerts[id]
	if !ok || alert.ResolvedAt != nil {
		return db.ErrAlertNotFound
	}

	alert.ResolvedAt = &at
	alert.State = models.AlertStateResolved

	return nil
}

func (f *fakeAlertStore) AcknowledgeAlert(_ context.Context, id string) error {
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

func (f *fakeAlertStore) GetOpenAlert(_ context.Context, agentID string, channel int, kind models.AlertKind) (*models.ActiveAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, alert := range f.alerts {
		if alert.AgentID == agentID && alert.SensorChannel == channel &&
			alert.Kind == kind && alert.ResolvedAt == nil {
			return alert, nil
		}
	}

	return nil, db.ErrAlertNotFound
}

func (f *fakeAlertStore) ListOpenAlerts(context.Context) ([]models.ActiveAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var open []models.ActiveAlert

	for _, alert := range f.alerts {
		if alert.ResolvedAt == nil {
			open = append(open, *alert)
		}
	}

	return open, nil
}

func (f *fakeAlertStore) ListAlertHistory(context.Context, int) ([]models.ActiveAlert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var all []models.ActiveAlert

	for _, alert := range f.alerts {
		all = append(all, *alert)
	}

	return all, nil
}

func (f *fakeAlertStore) openCount() int {
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

func (f *fakeAlertStore) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.alerts)
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []*WebhookAlert
}

func (r *recordingNotifier) Alert(_ context.Context, alert *WebhookAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.alerts = append(r.alerts, alert)

	return nil
}

func reading(channel int, moisture float64) *models.Reading {
	return &models.Reading{
		Timestamp:       time.Now().Unix(),
		SensorChannel:   channel,
		SensorType:      models.SensorTypeCapacitive,
		MoisturePercent: moisture,
		Location:        "bed-1",
		PlantType:       "basil",
		SensorName:      "basil-1",
	}
}

func dryRule(channel int) models.AlertRule {
	return models.AlertRule{
		SensorChannel: channel,
		DryThreshold:  30,
		WetThreshold:  80,
		Hysteresis:    5,
		Enabled:       true,
	}
}

func newTestEngine(store db.AlertStore, notifiers ...AlertService) *Engine {
	return NewEngine(store, logger.NewTestLogger(), notifiers...)
}

func TestEngineHysteresisSingleAlertPerExcursion(t *testing.T) {
	store := newFakeAlertStore()
	engine := newTestEngine(store)
	engine.SetRules("agent-1", []models.AlertRule{dryRule(0)})

	ctx := context.Background()

	// 40: normal. 28: breach. 32: inside the hysteresis band, still
	// open. 35: exactly 30+5, resolves.
	for _, moisture := range []float64{40, 28, 32, 35} {
		require.NoError(t, engine.Evaluate(ctx, "agent-1", reading(0, moisture)))
	}

	assert.Equal(t, 1, store.total(), "oscillation around the threshold must produce exactly one alert")
	assert.Zero(t, store.openCount())
}

func TestEngineThresholdTimesComeFromReadings(t *testing.T) {
	store := newFakeAlertStore()
	engine := newTestEngine(store)
	engine.SetRules("agent-1", []models.AlertRule{dryRule(0)})

	ctx := context.Background()

	// A batch drained after a connectivity gap carries capture times
	// well behind the ingest clock.
	collected := time.Now().Add(-45 * time.Minute).UTC().Truncate(time.Second)

	breach := reading(0, 25)
	breach.Timestamp = collected.Unix()
	require.NoError(t, engine.Evaluate(ctx, "agent-1", breach))

	open, err := store.GetOpenAlert(ctx, "agent-1", 0, models.AlertKindTooDry)
	require.NoError(t, err)
	assert.Equal(t, collected, open.TriggeredAt, "trigger time is the reading's capture time")

	recovered := reading(0, 50)
	recovered.Timestamp = collected.Add(10 * time.Minute).Unix()
	require.NoError(t, engine.Evaluate(ctx, "agent-1", recovered))

	history, err := store.ListAlertHistory(ctx, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.NotNil(t, history[0].ResolvedAt)
	assert.Equal(t, collected.Add(10*time.Minute), *history[0].ResolvedAt,
		"resolve time is the clearing reading's capture time")
}

func TestEngineDryAlertLifecycle(t *testing.T) {
	store := newFakeAlertStore()
	notifier := &recordingNotifier{}
	engine := newTestEngine(store, notifier)
	engine.SetRules("agent-1", []models.AlertRule{dryRule(0)})

	ctx := context.Background()

	require.NoError(t, engine.Evaluate(ctx, "agent-1", reading(0, 25)))

	open, err := store.GetOpenAlert(ctx, "agent-1", 0, models.AlertKindTooDry)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStateTriggered, open.State)
	require.NotNil(t, open.Threshold)
	assert.InDelta(t, 30.0, *open.Threshold, 0.01)

	// A repeat breach does not open a second alert.
	require.NoError(t, engine.Evaluate(ctx, "agent-1", reading(0, 20)))
	assert.Equal(t, 1, store.total())

	require.NoError(t, engine.Evaluate(ctx, "agent-1", reading(0, 50)))
	assert.Zero(t, store.openCount())

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.alerts, 2)
	assert.Equal(t, Warning, notifier.alerts[0].Level)
	assert.Equal(t, Info, notifier.alerts[1].Level)
}

func TestEngineCriticalSeverityNotification(t *testing.T) {
	store := newFakeAlertStore()
	notifier := &recordingNotifier{}
	engine := newTestEngine(store, notifier)
	engine.SetRules("agent-1", []models.AlertRule{dryRule(0)})

	// Breach of more than 20 points below the threshold is critical.
	require.NoError(t, engine.Evaluate(context.Background(), "agent-1", reading(0, 5)))

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.alerts, 1)
	assert.Equal(t, Error, notifier.alerts[0].Level)
}

func TestEngineWetAlert(t *testing.T) {
	store := newFakeAlertStore()
	engine := newTestEngine(store)
	engine.SetRules("agent-1", []models.AlertRule{dryRule(0)})

	ctx := context.Background()

	require.NoError(t, engine.Evaluate(ctx, "agent-1", reading(0, 85)))

	_, err := store.GetOpenAlert(ctx, "agent-1", 0, models.AlertKindTooWet)
	require.NoError(t, err)

	// 78 is inside the band (80-5); 70 clears it.
	require.NoError(t, engine.Evaluate(ctx, "agent-1", reading(0, 78)))
	assert.Equal(t, 1, store.openCount())

	require.NoError(t, engine.Evaluate(ctx, "agent-1", reading(0, 70)))
	assert.Zero(t, store.openCount())
}

func TestEngineIgnoresChannelsWithoutRules(t *testing.T) {
	store := newFakeAlertStore()
	engine := newTestEngine(store)
	engine.SetRules("agent-1", []models.AlertRule{dryRule(0)})

	require.NoError(t, engine.Evaluate(context.Background(), "agent-1", reading(2, 1)))
	assert.Zero(t, store.total())
}

func TestEngineSensorOfflineResolvedByReading(t *testing.T) {
	store := newFakeAlertStore()
	engine := newTestEngine(store)
	engine.SetRules("agent-1", []models.AlertRule{dryRule(0)})

	ctx := context.Background()

	labels := models.SensorLabels{Location: "bed-1", PlantType: "basil", SensorName: "basil-1"}

	require.NoError(t, engine.TriggerSensorOffline(ctx, "agent-1", 0, labels))
	// Second trigger is a no-op while the slot is occupied.
	require.NoError(t, engine.TriggerSensorOffline(ctx, "agent-1", 0, labels))
	assert.Equal(t, 1, store.total())

	require.NoError(t, engine.Evaluate(ctx, "agent-1", reading(0, 50)))

	_, err := store.GetOpenAlert(ctx, "agent-1", 0, models.AlertKindSensorOffline)
	require.ErrorIs(t, err, db.ErrAlertNotFound)
}

func TestEngineAgentOfflineLifecycle(t *testing.T) {
	store := newFakeAlertStore()
	engine := newTestEngine(store)

	ctx := context.Background()

	require.NoError(t, engine.TriggerAgentOffline(ctx, "agent-1"))

	open, err := store.GetOpenAlert(ctx, "agent-1", models.AgentOfflineChannel, models.AlertKindAgentOffline)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, open.Severity())

	require.NoError(t, engine.AgentSeen(ctx, "agent-1"))
	assert.Zero(t, store.openCount())
}

func TestEngineAcknowledge(t *testing.T) {
	store := newFakeAlertStore()
	engine := newTestEngine(store)
	engine.SetRules("agent-1", []models.AlertRule{dryRule(0)})

	ctx := context.Background()

	require.NoError(t, engine.Evaluate(ctx, "agent-1", reading(0, 25)))

	open, err := store.GetOpenAlert(ctx, "agent-1", 0, models.AlertKindTooDry)
	require.NoError(t, err)

	require.NoError(t, engine.Acknowledge(ctx, open.ID))

	acked, err := store.GetOpenAlert(ctx, "agent-1", 0, models.AlertKindTooDry)
	require.NoError(t, err)
	assert.True(t, acked.Acknowledged)
	assert.Equal(t, models.AlertStateAcknowledged, acked.State)

	// Acknowledged alerts still resolve on recovery.
	require.NoError(t, engine.Evaluate(ctx, "agent-1", reading(0, 60)))
	assert.Zero(t, store.openCount())
}

func TestEngineLoadRestoresOpenSlots(t *testing.T) {
	store := newFakeAlertStore()

	first := newTestEngine(store)
	first.SetRules("agent-1", []models.AlertRule{dryRule(0)})
	require.NoError(t, first.Evaluate(context.Background(), "agent-1", reading(0, 25)))

	second := newTestEngine(store)
	second.SetRules("agent-1", []models.AlertRule{dryRule(0)})
	require.NoError(t, second.Load(context.Background()))

	// The restored slot resolves instead of re-triggering.
	require.NoError(t, second.Evaluate(context.Background(), "agent-1", reading(0, 60)))
	assert.Equal(t, 1, store.total())
	assert.Zero(t, store.openCount())
}
