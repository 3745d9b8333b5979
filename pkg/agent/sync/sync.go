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

// Package sync pushes queued readings to the orchestrator in batches and
// marks the acknowledged rows as synced.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/verdantops/soilwatch/pkg/agent/queue"
	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

const (
	defaultBatchSize   = 100
	defaultHTTPTimeout = 30 * time.Second

	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	maxElapsed     = 2 * time.Minute
)

// ErrAuthRevoked reports that the orchestrator rejected the agent token.
// Sync must stop until the agent re-registers; retrying cannot help.
var ErrAuthRevoked = errors.New("sync: agent credentials rejected by orchestrator")

// TokenSource supplies the current agent token. The registration manager
// implements this; the token can rotate between batches.
type TokenSource interface {
	Token() string
}

// Result summarizes one sync pass over the queue.
type Result struct {
	Synced     int
	Duplicates int
	Rejected   int
	Batches    int
}

// Config holds the sync client settings.
type Config struct {
	ServerURL string          `json:"server_url" yaml:"server_url"`
	AgentID   string          `json:"agent_id" yaml:"agent_id"`
	BatchSize int             `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Timeout   models.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Client drains the durable queue toward the orchestrator.
type Client struct {
	config     Config
	queue      *queue.Queue
	tokens     TokenSource
	httpClient *http.Client
	logger     logger.Logger
}

// NewClient creates a sync client over an opened queue.
func NewClient(config Config, q *queue.Queue, tokens TokenSource, log logger.Logger) *Client {
	if config.BatchSize <= 0 {
		config.BatchSize = defaultBatchSize
	}

	timeout := time.Duration(config.Timeout)
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	return &Client{
		config:     config,
		queue:      q,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.WithComponent("sync"),
	}
}

// SyncOnce pushes every unsynced reading, oldest first, in batches.
// Each batch is retried with exponential backoff; a batch that still
// fails after the retry budget ends the pass, and the untouched rows
// wait for the next pass. ErrAuthRevoked is returned unwrapped so the
// caller can halt syncing until re-registration.
func (c *Client) SyncOnce(ctx context.Context) (*Result, error) {
	result := &Result{}

	for {
		readings, err := c.queue.Unsynced(ctx, c.config.BatchSize)
		if err != nil {
			return result, err
		}

		if len(readings) == 0 {
			return result, nil
		}

		resp, err := c.pushBatch(ctx, readings)
		if err != nil {
			if errors.Is(err, ErrAuthRevoked) {
				return result, ErrAuthRevoked
			}

			c.logger.Warn().Err(err).Int("batch_size", len(readings)).
				Msg("Sync batch failed, leaving rows queued")

			return result, err
		}

		if err := c.acknowledge(ctx, resp, result); err != nil {
			return result, err
		}

		result.Batches++

		if len(readings) < c.config.BatchSize {
			return result, nil
		}
	}
}

// acknowledge marks the server-acknowledged rows synced. Rejected rows
// are marked too: a reading the orchestrator refuses once will be
// refused forever, so retrying it only wedges the queue.
func (c *Client) acknowledge(ctx context.Context, resp *models.ReadingsResponse, result *Result) error {
	done := make([]int64, 0, len(resp.AcceptedIDs)+len(resp.DuplicateIDs)+len(resp.Rejected))
	done = append(done, resp.AcceptedIDs...)
	done = append(done, resp.DuplicateIDs...)

	for _, rejected := range resp.Rejected {
		c.logger.Warn().Int64("reading_id", rejected.ID).Str("reason", rejected.Reason).
			Msg("Orchestrator rejected reading, dropping it")

		done = append(done, rejected.ID)
	}

	if err := c.queue.MarkSynced(ctx, done); err != nil {
		return fmt.Errorf("sync: mark synced: %w", err)
	}

	result.Synced += len(resp.AcceptedIDs)
	result.Duplicates += len(resp.DuplicateIDs)
	result.Rejected += len(resp.Rejected)

	return nil
}

func (c *Client) pushBatch(ctx context.Context, readings []models.Reading) (*models.ReadingsResponse, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.MaxInterval = maxBackoff
	bo.Multiplier = 1.6
	bo.RandomizationFactor = 0.2

	operation := func() (*models.ReadingsResponse, error) {
		resp, err := c.postReadings(ctx, readings)
		if err == nil {
			return resp, nil
		}

		if errors.Is(err, ErrAuthRevoked) || !isRetryable(err) {
			return nil, backoff.Permanent(err)
		}

		return nil, err
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(maxElapsed))
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// httpStatusError marks server replies that are safe to retry (5xx) or
// not (other non-2xx).
type httpStatusError struct {
	status  int
	message string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("sync: server returned %d: %s", e.status, e.message)
}

func isRetryable(err error) bool {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		return statusErr.status >= http.StatusInternalServerError
	}

	// Network level failures are always worth retrying.
	return true
}

func (c *Client) postReadings(ctx context.Context, readings []models.Reading) (*models.ReadingsResponse, error) {
	body, err := json.Marshal(&models.ReadingsRequest{Readings: readings})
	if err != nil {
		return nil, fmt.Errorf("sync: encode batch: %w", err)
	}

	url := fmt.Sprintf("%s/agents/%s/readings", c.config.ServerURL, c.config.AgentID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("sync: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.tokens.Token())

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync: post readings: %w", err)
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	switch {
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		return nil, ErrAuthRevoked
	case httpResp.StatusCode < 200 || httpResp.StatusCode >= 300:
		var errResp models.ErrorResponse

		_ = json.NewDecoder(httpResp.Body).Decode(&errResp)

		return nil, &httpStatusError{status: httpResp.StatusCode, message: errResp.Message}
	}

	var resp models.ReadingsResponse

	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("sync: decode response: %w", err)
	}

	return &resp, nil
}
