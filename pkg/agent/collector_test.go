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
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verdantops/soilwatch/pkg/agent/queue"
	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

type fixedReader struct {
	values map[int]int
	errs   map[int]error
}

func (f *fixedReader) ReadChannel(_ context.Context, channel int) (int, error) {
	if err := f.errs[channel]; err != nil {
		return 0, err
	}

	return f.values[channel], nil
}

type staticConfig struct {
	set *models.SensorSet
}

func (s *staticConfig) Current() *models.SensorSet { return s.set }

func capacitiveSpec(channel int) models.SensorSpec {
	return models.SensorSpec{
		Channel:     channel,
		Type:        models.SensorTypeCapacitive,
		Calibration: models.SensorCalibration{Min: 200, Max: 800},
		Labels:      models.SensorLabels{Location: "bed-1", PlantType: "basil", SensorName: "basil-1"},
		Thresholds:  models.SensorThresholds{DryPercent: 30, WetPercent: 80, Hysteresis: 5},
	}
}

func newCollectorQueue(t *testing.T) *queue.Queue {
	t.Helper()

	q, err := queue.Open(filepath.Join(t.TempDir(), "readings.db"), logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, q.Close())
	})

	return q
}

func TestMoisturePercent(t *testing.T) {
	capacitive := capacitiveSpec(0)

	resistive := capacitiveSpec(0)
	resistive.Type = models.SensorTypeResistive

	tests := []struct {
		name string
		spec models.SensorSpec
		raw  int
		want float64
	}{
		{"capacitive dry end", capacitive, 800, 0},
		{"capacitive wet end", capacitive, 200, 100},
		{"capacitive midpoint", capacitive, 500, 50},
		{"capacitive clamps above calibration", capacitive, 1000, 0},
		{"capacitive clamps below calibration", capacitive, 100, 100},
		{"resistive dry end", resistive, 200, 0},
		{"resistive wet end", resistive, 800, 100},
		{"resistive midpoint", resistive, 500, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, MoisturePercent(tt.raw, &tt.spec), 0.01)
		})
	}
}

func TestCollectOnceAppendsReadings(t *testing.T) {
	q := newCollectorQueue(t)

	spec0 := capacitiveSpec(0)
	spec2 := capacitiveSpec(2)
	spec2.Labels.SensorName = "mint-1"

	collector := NewCollector(
		&fixedReader{values: map[int]int{0: 500, 2: 350}},
		q,
		&staticConfig{set: &models.SensorSet{Version: 1, Sensors: []models.SensorSpec{spec0, spec2}}},
		logger.NewTestLogger(),
	)

	require.NoError(t, collector.CollectOnce(context.Background()))

	rows, err := q.Unsynced(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 500, rows[0].RawValue)
	assert.InDelta(t, 50.0, rows[0].MoisturePercent, 0.01)
	assert.Equal(t, "basil-1", rows[0].SensorName)
	assert.InDelta(t, 75.0, rows[1].MoisturePercent, 0.01)
	assert.Equal(t, "mint-1", rows[1].SensorName)
}

func TestCollectOnceSkipsFailedChannel(t *testing.T) {
	q := newCollectorQueue(t)

	collector := NewCollector(
		&fixedReader{
			values: map[int]int{2: 400},
			errs:   map[int]error{0: errors.New("i2c timeout")},
		},
		q,
		&staticConfig{set: &models.SensorSet{Version: 1, Sensors: []models.SensorSpec{
			capacitiveSpec(0), capacitiveSpec(2),
		}}},
		logger.NewTestLogger(),
	)

	require.NoError(t, collector.CollectOnce(context.Background()))

	rows, err := q.Unsynced(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].SensorChannel)
}

func TestCollectOnceWithoutConfigIsNoOp(t *testing.T) {
	q := newCollectorQueue(t)

	collector := NewCollector(&fixedReader{}, q, &staticConfig{}, logger.NewTestLogger())

	require.NoError(t, collector.CollectOnce(context.Background()))

	count, err := q.UnsyncedCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSimulatedReaderStaysInRange(t *testing.T) {
	reader := NewSimulatedReader(42)

	for i := 0; i < 200; i++ {
		value, err := reader.ReadChannel(context.Background(), 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, value, 0)
		assert.LessOrEqual(t, value, models.ADCMaxValue)
	}
}
