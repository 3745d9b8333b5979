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

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantops/soilwatch/pkg/logger"
)

type fakeTicker struct {
	ch chan time.Time
}

func (f *fakeTicker) Chan() <-chan time.Time { return f.ch }
func (f *fakeTicker) Stop()                  {}

type fakeClock struct {
	ticker *fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{ticker: &fakeTicker{ch: make(chan time.Time)}}
}

func (f *fakeClock) Now() time.Time              { return time.Unix(1700000000, 0) }
func (f *fakeClock) Ticker(time.Duration) Ticker { return f.ticker }
func (f *fakeClock) tick()                       { f.ticker.ch <- time.Now() }

func TestSchedulerRunsTaskOnTick(t *testing.T) {
	clock := newFakeClock()
	s := New(clock, logger.NewTestLogger())

	ran := make(chan struct{}, 4)

	s.Add(&Task{
		Name:     "collect",
		Interval: time.Minute,
		Run: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	clock.tick()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run on tick")
	}
}

func TestSchedulerRunsImmediateTaskAtStart(t *testing.T) {
	clock := newFakeClock()
	s := New(clock, logger.NewTestLogger())

	ran := make(chan struct{}, 1)

	s.Add(&Task{
		Name:      "collect",
		Interval:  time.Minute,
		Immediate: true,
		Run: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("immediate task did not run at start")
	}
}

func TestSchedulerSkipsOverlappingTicks(t *testing.T) {
	clock := newFakeClock()
	s := New(clock, logger.NewTestLogger())

	var runs atomic.Int32

	started := make(chan struct{})
	release := make(chan struct{})

	s.Add(&Task{
		Name:     "sync",
		Interval: time.Minute,
		Run: func(context.Context) error {
			runs.Add(1)
			started <- struct{}{}
			<-release
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	clock.tick()
	<-started

	// Second tick arrives while the first run is blocked; it must be
	// dropped, not queued.
	clock.tick()

	close(release)

	assert.Eventually(t, func() bool {
		return runs.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerStopWaitsForInFlightRun(t *testing.T) {
	clock := newFakeClock()
	s := New(clock, logger.NewTestLogger())

	var finished atomic.Bool

	started := make(chan struct{})

	s.Add(&Task{
		Name:     "purge",
		Interval: time.Minute,
		Run: func(context.Context) error {
			started <- struct{}{}
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	require.NoError(t, s.Start(context.Background()))

	clock.tick()
	<-started

	s.Stop()

	assert.True(t, finished.Load(), "Stop returned before the in-flight run finished")
}

func TestSchedulerStartTwice(t *testing.T) {
	s := New(newFakeClock(), logger.NewTestLogger())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestSchedulerTaskErrorKeepsSchedule(t *testing.T) {
	clock := newFakeClock()
	s := New(clock, logger.NewTestLogger())

	ran := make(chan struct{}, 2)

	s.Add(&Task{
		Name:     "heartbeat",
		Interval: time.Minute,
		Run: func(context.Context) error {
			ran <- struct{}{}
			return errors.New("connection refused")
		},
	})

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	clock.tick()
	<-ran

	clock.tick()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task stopped running after an error")
	}
}
