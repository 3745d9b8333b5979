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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verdantops/soilwatch/pkg/db"
	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

type slotKey struct {
	agentID string
	channel int
	kind    models.AlertKind
}

// Engine owns the alert state machine. At most one open alert exists
// per (agent, channel, kind) slot; thresholds trigger on crossing and
// resolve only once the value clears the threshold by the hysteresis
// margin, so values oscillating around a threshold produce one alert.
type Engine struct {
	store     db.AlertStore
	notifiers []AlertService
	logger    logger.Logger
	now       func() time.Time

	mu    sync.Mutex
	open  map[slotKey]*models.ActiveAlert
	rules map[string]map[int]models.AlertRule
}

// NewEngine builds an engine over the alert store. Notifiers receive a
// message whenever a slot opens or closes.
func NewEngine(store db.AlertStore, log logger.Logger, notifiers ...AlertService) *Engine {
	return &Engine{
		store:     store,
		notifiers: notifiers,
		logger:    log.WithComponent("alerts"),
		now:       time.Now,
		open:      make(map[slotKey]*models.ActiveAlert),
		rules:     make(map[string]map[int]models.AlertRule),
	}
}

// Load rebuilds the open-slot index from the store, for restart
// continuity.
func (e *Engine) Load(ctx context.Context) error {
	alerts, err := e.store.ListOpenAlerts(ctx)
	if err != nil {
		return fmt.Errorf("alerts: load open alerts: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.open = make(map[slotKey]*models.ActiveAlert, len(alerts))

	for i := range alerts {
		alert := alerts[i]
		e.open[slotKey{alert.AgentID, alert.SensorChannel, alert.Kind}] = &alert
	}

	e.logger.Info().Int("open", len(alerts)).Msg("Restored open alerts")

	return nil
}

// SetRules installs the threshold rules in effect for an agent,
// replacing any previous set.
func (e *Engine) SetRules(agentID string, rules []models.AlertRule) {
	byChannel := make(map[int]models.AlertRule, len(rules))

	for _, rule := range rules {
		byChannel[rule.SensorChannel] = rule
	}

	e.mu.Lock()
	e.rules[agentID] = byChannel
	e.mu.Unlock()
}

// Evaluate runs one accepted reading through the state machine. Any
// reading also clears a sensor_offline slot for its channel.
func (e *Engine) Evaluate(ctx context.Context, agentID string, reading *models.Reading) error {
	if err := e.resolveSlot(ctx, slotKey{agentID, reading.SensorChannel, models.AlertKindSensorOffline},
		reading.MoisturePercent, e.now().UTC()); err != nil {
		return err
	}

	e.mu.Lock()
	rule, ok := e.rules[agentID][reading.SensorChannel]
	e.mu.Unlock()

	if !ok || !rule.Enabled {
		return nil
	}

	moisture := reading.MoisturePercent

	if err := e.evaluateThreshold(ctx, agentID, reading, &rule, models.AlertKindTooDry,
		moisture < rule.DryThreshold, moisture >= rule.DryThreshold+rule.Hysteresis, rule.DryThreshold); err != nil {
		return err
	}

	return e.evaluateThreshold(ctx, agentID, reading, &rule, models.AlertKindTooWet,
		moisture > rule.WetThreshold, moisture <= rule.WetThreshold-rule.Hysteresis, rule.WetThreshold)
}

// evaluateThreshold advances one threshold slot: breach opens it,
// clearing past the hysteresis margin closes it, anything in between
// leaves it untouched.
func (e *Engine) evaluateThreshold(ctx context.Context, agentID string, reading *models.Reading,
	rule *models.AlertRule, kind models.AlertKind, breached, cleared bool, threshold float64) error {
	key := slotKey{agentID, reading.SensorChannel, kind}

	// Threshold transitions carry the time the sensor observed the
	// value, not the time the batch reached the orchestrator. Queued
	// readings can arrive long after collection.
	observedAt := time.Unix(reading.Timestamp, 0).UTC()

	e.mu.Lock()
	current, isOpen := e.open[key]
	e.mu.Unlock()

	switch {
	case isOpen && cleared:
		return e.resolveSlot(ctx, key, reading.MoisturePercent, observedAt)
	case isOpen:
		// Still breached or inside the hysteresis band; refresh the
		// observation so severity tracks the latest value.
		e.mu.Lock()
		moisture := reading.MoisturePercent
		current.MoisturePercent = &moisture
		e.mu.Unlock()

		return nil
	case breached:
		moisture := reading.MoisturePercent

		alert := &models.ActiveAlert{
			ID:              uuid.NewString(),
			AgentID:         agentID,
			SensorChannel:   reading.SensorChannel,
			Kind:            kind,
			State:           models.AlertStateTriggered,
			TriggeredAt:     observedAt,
			MoisturePercent: &moisture,
			Threshold:       &threshold,
			Location:        reading.Location,
			PlantType:       reading.PlantType,
			SensorName:      reading.SensorName,
		}

		return e.trigger(ctx, key, alert)
	default:
		return nil
	}
}

// TriggerSensorOffline opens a sensor_offline slot. Re-triggering an
// occupied slot is a no-op.
func (e *Engine) TriggerSensorOffline(ctx context.Context, agentID string, channel int, labels models.SensorLabels) error {
	key := slotKey{agentID, channel, models.AlertKindSensorOffline}

	e.mu.Lock()
	_, isOpen := e.open[key]
	e.mu.Unlock()

	if isOpen {
		return nil
	}

	return e.trigger(ctx, key, &models.ActiveAlert{
		ID:            uuid.NewString(),
		AgentID:       agentID,
		SensorChannel: channel,
		Kind:          models.AlertKindSensorOffline,
		State:         models.AlertStateTriggered,
		TriggeredAt:   e.now().UTC(),
		Location:      labels.Location,
		PlantType:     labels.PlantType,
		SensorName:    labels.SensorName,
	})
}

// TriggerAgentOffline opens the agent_offline slot for a silent agent.
func (e *Engine) TriggerAgentOffline(ctx context.Context, agentID string) error {
	key := slotKey{agentID, models.AgentOfflineChannel, models.AlertKindAgentOffline}

	e.mu.Lock()
	_, isOpen := e.open[key]
	e.mu.Unlock()

	if isOpen {
		return nil
	}

	return e.trigger(ctx, key, &models.ActiveAlert{
		ID:            uuid.NewString(),
		AgentID:       agentID,
		SensorChannel: models.AgentOfflineChannel,
		Kind:          models.AlertKindAgentOffline,
		State:         models.AlertStateTriggered,
		TriggeredAt:   e.now().UTC(),
	})
}

// AgentSeen clears the agent_offline slot after a heartbeat.
func (e *Engine) AgentSeen(ctx context.Context, agentID string) error {
	return e.resolveSlot(ctx, slotKey{agentID, models.AgentOfflineChannel, models.AlertKindAgentOffline}, 0, e.now().UTC())
}

// Acknowledge marks an open alert as seen without closing its slot.
func (e *Engine) Acknowledge(ctx context.Context, id string) error {
	if err := e.store.AcknowledgeAlert(ctx, id); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, alert := range e.open {
		if alert.ID == id {
			alert.Acknowledged = true
			alert.State = models.AlertStateAcknowledged

			break
		}
	}

	return nil
}

func (e *Engine) trigger(ctx context.Context, key slotKey, alert *models.ActiveAlert) error {
	if err := e.store.CreateAlert(ctx, alert); err != nil {
		return fmt.Errorf("alerts: create alert: %w", err)
	}

	e.mu.Lock()
	e.open[key] = alert
	e.mu.Unlock()

	e.logger.Warn().Str("agent_id", alert.AgentID).Int("channel", alert.SensorChannel).
		Str("kind", string(alert.Kind)).Str("severity", string(alert.Severity())).
		Msg("Alert triggered")

	e.notify(ctx, alert, false)

	return nil
}

func (e *Engine) resolveSlot(ctx context.Context, key slotKey, moisture float64, at time.Time) error {
	e.mu.Lock()
	alert, isOpen := e.open[key]
	e.mu.Unlock()

	if !isOpen {
		return nil
	}

	if err := e.store.ResolveAlert(ctx, alert.ID, at); err != nil && !errors.Is(err, db.ErrAlertNotFound) {
		return fmt.Errorf("alerts: resolve alert: %w", err)
	}

	e.mu.Lock()
	delete(e.open, key)
	e.mu.Unlock()

	alert.State = models.AlertStateResolved
	alert.ResolvedAt = &at

	if key.kind == models.AlertKindTooDry || key.kind == models.AlertKindTooWet {
		alert.MoisturePercent = &moisture
	}

	e.logger.Info().Str("agent_id", alert.AgentID).Int("channel", alert.SensorChannel).
		Str("kind", string(alert.Kind)).Msg("Alert resolved")

	e.notify(ctx, alert, true)

	return nil
}

// notify fans the transition out to every webhook. Failures and
// cooldown suppressions never fail the evaluation that caused them.
func (e *Engine) notify(ctx context.Context, alert *models.ActiveAlert, resolved bool) {
	if len(e.notifiers) == 0 {
		return
	}

	payload := buildNotification(alert, resolved)

	for _, notifier := range e.notifiers {
		if err := notifier.Alert(ctx, payload); err != nil {
			if errors.Is(err, ErrWebhookCooldown) {
				continue
			}

			e.logger.Error().Err(err).Str("title", payload.Title).Msg("Failed to send alert notification")
		}
	}
}

func buildNotification(alert *models.ActiveAlert, resolved bool) *WebhookAlert {
	subject := alert.SensorName
	if subject == "" {
		subject = fmt.Sprintf("channel %d", alert.SensorChannel)
	}

	var (
		level AlertLevel
		title string
	)

	switch {
	case resolved:
		level = Info
		title = fmt.Sprintf("Resolved: %s on %s (%s)", alert.Kind, alert.AgentID, subject)
	case alert.Severity() == models.SeverityCritical:
		level = Error
		title = fmt.Sprintf("%s on %s (%s)", alert.Kind, alert.AgentID, subject)
	default:
		level = Warning
		title = fmt.Sprintf("%s on %s (%s)", alert.Kind, alert.AgentID, subject)
	}

	details := map[string]any{
		"alert_id": alert.ID,
		"state":    string(alert.State),
		"severity": string(alert.Severity()),
	}

	message := fmt.Sprintf("Alert %s for agent %s", alert.Kind, alert.AgentID)

	if alert.MoisturePercent != nil && alert.Threshold != nil {
		details["moisture_percent"] = *alert.MoisturePercent
		details["threshold"] = *alert.Threshold
		message = fmt.Sprintf("%s: moisture %.1f%% against threshold %.1f%%",
			message, *alert.MoisturePercent, *alert.Threshold)
	}

	return &WebhookAlert{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		AgentID:   alert.AgentID,
		Details:   details,
	}
}
