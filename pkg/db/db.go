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

// Package db implements the orchestrator's durable state on
// Postgres/Timescale: the agent registry, the bootstrap token ledger,
// versioned agent configurations, alerts, and the readings sink.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

var (
	ErrAgentNotFound  = errors.New("db: agent not found")
	ErrConfigNotFound = errors.New("db: config not found")
	ErrAlertNotFound  = errors.New("db: alert not found")
)

// AgentStore is the durable agent registry.
type AgentStore interface {
	UpsertAgent(ctx context.Context, agent *models.Agent) error
	GetAgent(ctx context.Context, agentID string) (*models.Agent, error)
	ListAgents(ctx context.Context) ([]models.Agent, error)
	UpdateAgentStatus(ctx context.Context, agentID string, status models.AgentStatus) error
	RecordHeartbeat(ctx context.Context, agentID string, appliedVersion int, at time.Time) error
	RecordSync(ctx context.Context, agentID string, at time.Time) error
	// AgentsSilentSince returns active agents whose last heartbeat
	// predates the cutoff (or who never heartbeat at all).
	AgentsSilentSince(ctx context.Context, cutoff time.Time) ([]models.Agent, error)
}

// TokenStore is the bootstrap token ledger.
type TokenStore interface {
	CreateToken(ctx context.Context, token *models.BootstrapToken) error
	// ConsumeToken atomically validates and increments the use count
	// of a token, returning false when the token is unknown, expired,
	// or exhausted.
	ConsumeToken(ctx context.Context, tokenHash string, now time.Time) (bool, error)
	ListTokens(ctx context.Context) ([]models.BootstrapToken, error)
}

// ConfigStore holds the versioned desired configurations.
type ConfigStore interface {
	// StoreDesiredConfig appends a new config version for the agent
	// and bumps its desired version, returning the assigned version.
	StoreDesiredConfig(ctx context.Context, agentID string, sensors []models.SensorSpec) (int, error)
	GetDesiredConfig(ctx context.Context, agentID string) (*models.SensorSet, error)
}

// ReadingStore is the time-series sink for accepted readings.
type ReadingStore interface {
	// InsertReading stores a reading, reporting false when the dedup
	// key (agent, channel, timestamp) already exists.
	InsertReading(ctx context.Context, agentID string, reading *models.Reading) (bool, error)
	ListReadings(ctx context.Context, agentID string, filter ReadingFilter) ([]models.Reading, error)
}

// ReadingFilter narrows a reading query.
type ReadingFilter struct {
	// Channel filters to one sensor channel when >= 0.
	Channel int
	// Since drops readings with an older timestamp when > 0.
	Since int64
	Limit int
}

// AlertStore persists alert rows; open and resolved alerts share one
// table, distinguished by resolved_at.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.ActiveAlert) error
	ResolveAlert(ctx context.Context, id string, at time.Time) error
	AcknowledgeAlert(ctx context.Context, id string) error
	GetOpenAlert(ctx context.Context, agentID string, channel int, kind models.AlertKind) (*models.ActiveAlert, error)
	ListOpenAlerts(ctx context.Context) ([]models.ActiveAlert, error)
	ListAlertHistory(ctx context.Context, limit int) ([]models.ActiveAlert, error)
}

// Service is the full store surface the orchestrator depends on.
type Service interface {
	AgentStore
	TokenStore
	ConfigStore
	ReadingStore
	AlertStore

	Close()
}

// DB implements Service on a pgx pool.
type DB struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// New connects, migrates, and returns the store.
func New(ctx context.Context, cfg *Config, log logger.Logger) (*DB, error) {
	pool, err := NewPool(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(ctx, pool, log); err != nil {
		pool.Close()
		return nil, err
	}

	return &DB{pool: pool, logger: log.WithComponent("db")}, nil
}

// NewWithPool wraps an existing pool, for tests against a live database.
func NewWithPool(pool *pgxpool.Pool, log logger.Logger) *DB {
	return &DB{pool: pool, logger: log.WithComponent("db")}
}

// Close releases the underlying pool.
func (db *DB) Close() {
	db.pool.Close()
}
