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

// Package core is the orchestrator's domain layer: agent registry,
// bootstrap token ledger, reading ingestion with dedup, pull-based
// config versioning, and the offline sweeps feeding the alert engine.
package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/verdantops/soilwatch/pkg/core/alerts"
	"github.com/verdantops/soilwatch/pkg/db"
	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

const (
	defaultAgentOfflineAfter  = 5 * time.Minute
	defaultSensorOfflineAfter = 10 * time.Minute
	defaultSweepInterval      = time.Minute
)

var (
	// ErrInvalidBootstrapToken covers unknown, expired, and exhausted
	// bootstrap tokens; callers must not learn which.
	ErrInvalidBootstrapToken = errors.New("core: invalid bootstrap token")

	// ErrAgentAuth covers every agent credential failure, including
	// decommissioned agents.
	ErrAgentAuth = errors.New("core: agent authentication failed")

	// ErrInvalidAgentID rejects empty or oversized agent identifiers.
	ErrInvalidAgentID = errors.New("core: invalid agent_id")
)

// Config holds the orchestrator settings.
type Config struct {
	ListenAddr string     `json:"listen_addr" yaml:"listen_addr"`
	Database   *db.Config `json:"database" yaml:"database"`

	// AdminToken authorizes the operator API surface.
	AdminToken string `json:"admin_token" yaml:"admin_token"`

	Webhooks []alerts.WebhookConfig `json:"webhooks,omitempty" yaml:"webhooks,omitempty"`

	AgentOfflineAfter  models.Duration `json:"agent_offline_after,omitempty" yaml:"agent_offline_after,omitempty"`
	SensorOfflineAfter models.Duration `json:"sensor_offline_after,omitempty" yaml:"sensor_offline_after,omitempty"`
	SweepInterval      models.Duration `json:"sweep_interval,omitempty" yaml:"sweep_interval,omitempty"`

	Logging *logger.Config `json:"logging,omitempty" yaml:"logging,omitempty"`
}

type sensorObservation struct {
	at     time.Time
	labels models.SensorLabels
}

// Server is the orchestrator's domain service. HTTP handlers call into
// it; it serializes all work for one agent behind a keyed mutex.
type Server struct {
	config Config
	store  db.Service
	engine *alerts.Engine
	logger logger.Logger
	locks  *agentLocks
	now    func() time.Time

	healthMu sync.RWMutex
	health   map[string]models.AgentHealth

	// lastSeen tracks the newest accepted reading per sensor for the
	// offline sweep. Populated at ingest; a sensor that never reported
	// is not swept.
	seenMu   sync.Mutex
	lastSeen map[string]map[int]sensorObservation

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer builds the domain service, restores the alert engine's
// open slots, and installs the threshold rules of every registered
// agent.
func NewServer(ctx context.Context, config Config, store db.Service, log logger.Logger) (*Server, error) {
	if time.Duration(config.AgentOfflineAfter) <= 0 {
		config.AgentOfflineAfter = models.Duration(defaultAgentOfflineAfter)
	}

	if time.Duration(config.SensorOfflineAfter) <= 0 {
		config.SensorOfflineAfter = models.Duration(defaultSensorOfflineAfter)
	}

	if time.Duration(config.SweepInterval) <= 0 {
		config.SweepInterval = models.Duration(defaultSweepInterval)
	}

	var notifiers []alerts.AlertService

	for _, webhookConfig := range config.Webhooks {
		if webhookConfig.Enabled {
			notifiers = append(notifiers, alerts.NewWebhookAlerter(webhookConfig))

			log.Info().Str("url", webhookConfig.URL).Msg("Added webhook alerter")
		}
	}

	s := &Server{
		config:   config,
		store:    store,
		engine:   alerts.NewEngine(store, log, notifiers...),
		logger:   log.WithComponent("core"),
		locks:    newAgentLocks(),
		now:      time.Now,
		health:   make(map[string]models.AgentHealth),
		lastSeen: make(map[string]map[int]sensorObservation),
	}

	if err := s.engine.Load(ctx); err != nil {
		return nil, err
	}

	if err := s.loadRules(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Server) loadRules(ctx context.Context) error {
	agents, err := s.store.ListAgents(ctx)
	if err != nil {
		return err
	}

	for i := range agents {
		set, err := s.store.GetDesiredConfig(ctx, agents[i].AgentID)
		if err != nil {
			if errors.Is(err, db.ErrConfigNotFound) {
				continue
			}

			return err
		}

		s.engine.SetRules(agents[i].AgentID, set.Rules())
	}

	return nil
}

// Start launches the offline sweep loop.
func (s *Server) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)

	go s.sweepLoop(ctx)

	s.logger.Info().Msg("Core service started")

	return nil
}

// Stop halts the sweeps and closes the store.
func (s *Server) Stop(_ context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	s.wg.Wait()
	s.store.Close()

	s.logger.Info().Msg("Core service stopped")

	return nil
}

// Engine exposes the alert engine to the API layer.
func (s *Server) Engine() *alerts.Engine {
	return s.engine
}

// Store exposes the read side of the store to the API layer.
func (s *Server) Store() db.Service {
	return s.store
}

// AdminToken returns the configured operator credential.
func (s *Server) AdminToken() string {
	return s.config.AdminToken
}

// agentLocks serializes all server-side work for one agent while
// letting different agents proceed concurrently. Lock entries are
// never removed; the fleet is small and ids stable.
type agentLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newAgentLocks() *agentLocks {
	return &agentLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the agent's mutex and returns its unlock.
func (l *agentLocks) lock(agentID string) func() {
	l.mu.Lock()

	m, ok := l.locks[agentID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[agentID] = m
	}

	l.mu.Unlock()

	m.Lock()

	return m.Unlock
}
