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

// Package alerts evaluates incoming readings against per-channel
// threshold rules with hysteresis and notifies webhooks when alert
// slots open or close.
package alerts

import (
	"context"
	"errors"
)

// AlertLevel indicates the notification severity.
type AlertLevel string

const (
	Info    AlertLevel = "info"
	Warning AlertLevel = "warning"
	Error   AlertLevel = "error"
)

// ErrWebhookCooldown reports that a notification was suppressed because
// an identical one fired within the cooldown window.
var ErrWebhookCooldown = errors.New("alert notification suppressed by cooldown")

// WebhookAlert is the notification payload posted to webhooks.
type WebhookAlert struct {
	Level     AlertLevel     `json:"level"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Timestamp string         `json:"timestamp"`
	AgentID   string         `json:"agent_id"`
	Details   map[string]any `json:"details,omitempty"`
}

// AlertService sends notifications to an external channel.
type AlertService interface {
	Alert(ctx context.Context, alert *WebhookAlert) error
}
