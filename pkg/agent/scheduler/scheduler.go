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

// Package scheduler runs the agent's periodic tasks. Each task ticks on
// its own goroutine; a tick that arrives while the previous run is
// still in flight is skipped rather than queued.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/verdantops/soilwatch/pkg/logger"
)

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("scheduler: already started")

// Task is one periodic unit of work. Run errors are logged, never
// fatal; the task keeps its schedule.
type Task struct {
	Name     string
	Interval time.Duration
	// Immediate runs the task once at start instead of waiting a full
	// interval for the first tick.
	Immediate bool
	Run       func(ctx context.Context) error

	inFlight atomic.Bool
}

// Scheduler drives a fixed set of tasks until Stop.
type Scheduler struct {
	clock  Clock
	logger logger.Logger
	tasks  []*Task

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a scheduler. A nil clock uses the real one.
func New(clock Clock, log logger.Logger) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}

	return &Scheduler{
		clock:  clock,
		logger: log.WithComponent("scheduler"),
	}
}

// Add registers a task. Must be called before Start.
func (s *Scheduler) Add(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = append(s.tasks, task)
}

// Start launches one goroutine per task and returns.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	for _, task := range s.tasks {
		s.wg.Add(1)

		go s.loop(ctx, task)
	}

	return nil
}

// Stop cancels all task contexts and waits for in-flight runs to
// return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, task *Task) {
	defer s.wg.Done()

	if task.Immediate {
		s.runOnce(ctx, task)
	}

	ticker := s.clock.Ticker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.runOnce(ctx, task)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, task *Task) {
	if !task.inFlight.CompareAndSwap(false, true) {
		s.logger.Debug().Str("task", task.Name).Msg("Previous run still in flight, skipping tick")
		return
	}
	defer task.inFlight.Store(false)

	start := s.clock.Now()

	if err := task.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}

		s.logger.Error().Err(err).Str("task", task.Name).
			Dur("elapsed", s.clock.Now().Sub(start)).Msg("Task run failed")

		return
	}

	s.logger.Debug().Str("task", task.Name).
		Dur("elapsed", s.clock.Now().Sub(start)).Msg("Task run completed")
}
