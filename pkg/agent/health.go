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

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/verdantops/soilwatch/pkg/agent/queue"
	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

// ErrHealthAuthRevoked reports a credential rejection on the health
// endpoint.
var ErrHealthAuthRevoked = errors.New("agent: health report rejected, credentials revoked")

// TokenSource supplies the current agent token.
type TokenSource interface {
	Token() string
}

// HealthReporter gathers a host and queue snapshot and posts it to the
// orchestrator.
type HealthReporter struct {
	serverURL  string
	agentID    string
	queue      *queue.Queue
	tokens     TokenSource
	httpClient *http.Client
	logger     logger.Logger
	startedAt  time.Time
}

// NewHealthReporter wires a reporter. Uptime counts from construction.
func NewHealthReporter(serverURL, agentID string, q *queue.Queue, tokens TokenSource, log logger.Logger) *HealthReporter {
	return &HealthReporter{
		serverURL:  serverURL,
		agentID:    agentID,
		queue:      q,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.WithComponent("health"),
		startedAt:  time.Now(),
	}
}

// Snapshot gathers the current health sample. Host metric failures are
// logged and reported as zero rather than failing the snapshot; queue
// failures are real errors.
func (h *HealthReporter) Snapshot(ctx context.Context) (*models.AgentHealth, error) {
	size, err := h.queue.SizeBytes()
	if err != nil {
		return nil, err
	}

	unsynced, err := h.queue.UnsyncedCount(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := &models.AgentHealth{
		UptimeSeconds:    time.Since(h.startedAt).Seconds(),
		QueueSizeBytes:   size,
		UnsyncedReadings: unsynced,
	}

	if percents, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		h.logger.Warn().Err(err).Msg("cpu.PercentWithContext failed; usage will be zero")
	} else if len(percents) > 0 {
		snapshot.CPUPercent = percents[0]
	}

	if vmStats, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("mem.VirtualMemoryWithContext failed; usage will be zero")
	} else {
		snapshot.MemoryPercent = vmStats.UsedPercent
	}

	if usage, err := disk.UsageWithContext(ctx, "/"); err != nil {
		h.logger.Warn().Err(err).Msg("disk.UsageWithContext failed; usage will be zero")
	} else {
		snapshot.DiskPercent = usage.UsedPercent
	}

	return snapshot, nil
}

// Report posts a fresh snapshot to the orchestrator.
func (h *HealthReporter) Report(ctx context.Context) error {
	snapshot, err := h.Snapshot(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("agent: encode health: %w", err)
	}

	url := fmt.Sprintf("%s/agents/%s/health", h.serverURL, h.agentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("agent: build health request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.tokens.Token())

	httpResp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent: post health: %w", err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return ErrHealthAuthRevoked
	case httpResp.StatusCode < 200 || httpResp.StatusCode >= 300:
		var errResp models.ErrorResponse

		_ = json.NewDecoder(httpResp.Body).Decode(&errResp)

		return fmt.Errorf("agent: health report returned %d: %s", httpResp.StatusCode, errResp.Message)
	}

	return nil
}
