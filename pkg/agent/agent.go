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

// Package agent runs the edge side of the fleet: it samples moisture
// probes into a durable local queue and keeps the device converged
// with the orchestrator through sync, heartbeat, and config pulls.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/verdantops/soilwatch/pkg/agent/confsync"
	"github.com/verdantops/soilwatch/pkg/agent/queue"
	"github.com/verdantops/soilwatch/pkg/agent/registration"
	"github.com/verdantops/soilwatch/pkg/agent/scheduler"
	syncer "github.com/verdantops/soilwatch/pkg/agent/sync"
	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

const registrationMaxElapsed = 5 * time.Minute

// Service is the agent process. It satisfies lifecycle.Service.
type Service struct {
	config Config
	logger logger.Logger

	queue        *queue.Queue
	registration *registration.Manager
	puller       *confsync.Puller
	syncClient   *syncer.Client
	collector    *Collector
	health       *HealthReporter
	scheduler    *scheduler.Scheduler
}

// New builds the agent from its configuration. The queue is opened (and
// recovered if damaged) and persisted state restored; nothing talks to
// the orchestrator until Start.
func New(ctx context.Context, config Config, reader SensorReader, clock scheduler.Clock, log logger.Logger) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if config.Hardware == "" {
		if hostname, err := os.Hostname(); err == nil {
			config.Hardware = hostname
		}
	}

	q, err := queue.OpenWithRecovery(config.DatabasePath, log)
	if err != nil {
		return nil, err
	}

	hostname, _ := os.Hostname()

	reg, err := registration.NewManager(ctx, registration.Config{
		ServerURL:      config.ServerURL,
		AgentID:        config.AgentID,
		Hostname:       hostname,
		Hardware:       config.Hardware,
		BootstrapToken: config.BootstrapToken,
	}, q, log)
	if err != nil {
		_ = q.Close()
		return nil, err
	}

	puller, err := confsync.NewPuller(ctx, confsync.Config{
		ServerURL: config.ServerURL,
		AgentID:   config.AgentID,
	}, q, reg, log)
	if err != nil {
		_ = q.Close()
		return nil, err
	}

	s := &Service{
		config:       config,
		logger:       log.WithComponent("agent"),
		queue:        q,
		registration: reg,
		puller:       puller,
		syncClient: syncer.NewClient(syncer.Config{
			ServerURL: config.ServerURL,
			AgentID:   config.AgentID,
			BatchSize: config.SyncBatchSize,
		}, q, reg, log),
		collector: NewCollector(reader, q, puller, log),
		health:    NewHealthReporter(config.ServerURL, config.AgentID, q, reg, log),
		scheduler: scheduler.New(clock, log),
	}

	// A config swap relabels queued rows so unsynced readings carry
	// the labels in effect when they ship, not when they were taken.
	puller.OnApply(func(set *models.SensorSet) {
		for i := range set.Sensors {
			spec := &set.Sensors[i]

			if err := q.UpdateLabels(ctx, spec.Channel, spec.Labels); err != nil {
				s.logger.Warn().Err(err).Int("channel", spec.Channel).
					Msg("Failed to relabel queued readings")
			}
		}
	})

	return s, nil
}

// Start registers with the orchestrator if needed and launches the
// periodic tasks.
func (s *Service) Start(ctx context.Context) error {
	if err := s.ensureRegistered(ctx); err != nil {
		return err
	}

	s.scheduler.Add(&scheduler.Task{
		Name:      "collect",
		Interval:  time.Duration(s.config.CollectInterval),
		Immediate: true,
		Run:       s.collector.CollectOnce,
	})
	s.scheduler.Add(&scheduler.Task{
		Name:     "sync",
		Interval: time.Duration(s.config.SyncInterval),
		Run:      s.runSync,
	})
	s.scheduler.Add(&scheduler.Task{
		Name:      "heartbeat",
		Interval:  time.Duration(s.config.HeartbeatInterval),
		Immediate: true,
		Run:       s.runHeartbeat,
	})
	s.scheduler.Add(&scheduler.Task{
		Name:     "config-pull",
		Interval: time.Duration(s.config.ConfigPullInterval),
		Run:      s.runConfigPull,
	})
	s.scheduler.Add(&scheduler.Task{
		Name:     "health",
		Interval: time.Duration(s.config.HealthInterval),
		Run:      s.runHealth,
	})
	s.scheduler.Add(&scheduler.Task{
		Name:     "purge",
		Interval: time.Duration(s.config.PurgeInterval),
		Run:      s.runPurge,
	})

	if err := s.scheduler.Start(ctx); err != nil {
		return err
	}

	s.logger.Info().Str("agent_id", s.config.AgentID).Msg("Agent started")

	return nil
}

// Stop halts the periodic tasks and closes the queue. In-flight
// durable writes finish; network calls are abandoned, which is safe
// because every server operation is idempotent.
func (s *Service) Stop(_ context.Context) error {
	s.scheduler.Stop()

	if err := s.queue.Close(); err != nil {
		return fmt.Errorf("agent: close queue: %w", err)
	}

	s.logger.Info().Msg("Agent stopped")

	return nil
}

// ensureRegistered performs the bootstrap exchange with retries. An
// agent with a persisted token skips this entirely.
func (s *Service) ensureRegistered(ctx context.Context) error {
	if s.registration.State() == registration.StateRegistered {
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * time.Second
	bo.MaxInterval = 60 * time.Second

	operation := func() (struct{}, error) {
		set, err := s.registration.Register(ctx)
		if err != nil {
			if errors.Is(err, registration.ErrBootstrapRejected) ||
				errors.Is(err, registration.ErrNoBootstrapToken) {
				return struct{}{}, backoff.Permanent(err)
			}

			return struct{}{}, err
		}

		if set != nil {
			if applyErr := s.puller.Apply(ctx, set); applyErr != nil {
				s.logger.Error().Err(applyErr).Msg("Initial configuration from registration rejected")
			}
		}

		return struct{}{}, nil
	}

	if _, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(bo), backoff.WithMaxElapsedTime(registrationMaxElapsed)); err != nil {
		return fmt.Errorf("agent: register: %w", err)
	}

	return nil
}

func (s *Service) runSync(ctx context.Context) error {
	if s.registration.State() != registration.StateRegistered {
		s.logger.Debug().Msg("Not registered, skipping sync")
		return nil
	}

	result, err := s.syncClient.SyncOnce(ctx)
	if err != nil {
		if errors.Is(err, syncer.ErrAuthRevoked) {
			s.registration.MarkRevoked()
		}

		return err
	}

	if result.Synced > 0 || result.Rejected > 0 {
		s.logger.Info().Int("synced", result.Synced).Int("duplicates", result.Duplicates).
			Int("rejected", result.Rejected).Msg("Sync cycle completed")
	}

	return nil
}

// runHeartbeat reports liveness and chases the desired config version.
// A revoked credential triggers a re-registration attempt on the same
// tick when a bootstrap token is available.
func (s *Service) runHeartbeat(ctx context.Context) error {
	if s.registration.State() != registration.StateRegistered {
		return s.ensureRegistered(ctx)
	}

	resp, err := s.registration.Heartbeat(ctx, s.puller.AppliedVersion())
	if err != nil {
		if errors.Is(err, registration.ErrTokenRevoked) {
			return s.ensureRegistered(ctx)
		}

		return err
	}

	if resp.DesiredConfigVersion > s.puller.AppliedVersion() {
		s.logger.Info().Int("desired", resp.DesiredConfigVersion).
			Int("applied", s.puller.AppliedVersion()).Msg("Heartbeat hinted at a newer configuration")

		if _, err := s.puller.Pull(ctx); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) runConfigPull(ctx context.Context) error {
	if s.registration.State() != registration.StateRegistered {
		return nil
	}

	changed, err := s.puller.Pull(ctx)
	if err != nil {
		if errors.Is(err, confsync.ErrAuthRevoked) {
			s.registration.MarkRevoked()
		}

		return err
	}

	if changed {
		s.logger.Info().Int("version", s.puller.AppliedVersion()).Msg("Converged on new configuration")
	}

	return nil
}

func (s *Service) runHealth(ctx context.Context) error {
	if s.registration.State() != registration.StateRegistered {
		return nil
	}

	if err := s.health.Report(ctx); err != nil {
		if errors.Is(err, ErrHealthAuthRevoked) {
			s.registration.MarkRevoked()
		}

		return err
	}

	return nil
}

// runPurge drops synced readings past retention, with an early full
// purge of synced rows when the queue file outgrows its ceiling.
func (s *Service) runPurge(ctx context.Context) error {
	removed, err := s.queue.Purge(ctx, time.Duration(s.config.Retention))
	if err != nil {
		return err
	}

	size, err := s.queue.SizeBytes()
	if err != nil {
		return err
	}

	if size > s.config.QueueSizeLimit {
		extra, purgeErr := s.queue.Purge(ctx, 0)
		if purgeErr != nil {
			return purgeErr
		}

		removed += extra

		if err := s.queue.Vacuum(ctx); err != nil {
			return err
		}

		s.logger.Warn().Int64("size_bytes", size).Int64("limit", s.config.QueueSizeLimit).
			Msg("Queue over size ceiling, purged all synced readings")
	}

	if removed > 0 {
		s.logger.Info().Int64("removed", removed).Msg("Purged synced readings")
	}

	return nil
}
