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
	"time"

	"github.com/verdantops/soilwatch/pkg/agent/queue"
	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

// SensorReader abstracts the ADC hat. Implementations talk to real
// hardware; tests supply fixed values.
type SensorReader interface {
	// ReadChannel samples one analog channel and returns the raw
	// 10-bit value.
	ReadChannel(ctx context.Context, channel int) (int, error)
}

// ConfigSource yields the sensor configuration a collection cycle
// should run against. Nil means no configuration has arrived yet.
type ConfigSource interface {
	Current() *models.SensorSet
}

// Collector samples every configured channel and appends the readings
// to the durable queue. A failed channel is skipped; the cycle
// continues with the rest.
type Collector struct {
	reader  SensorReader
	queue   *queue.Queue
	configs ConfigSource
	logger  logger.Logger
}

// NewCollector wires a collector over an opened queue.
func NewCollector(reader SensorReader, q *queue.Queue, configs ConfigSource, log logger.Logger) *Collector {
	return &Collector{
		reader:  reader,
		queue:   q,
		configs: configs,
		logger:  log.WithComponent("collector"),
	}
}

// CollectOnce runs one collection cycle against the current
// configuration snapshot. Collecting with no configuration is a no-op.
func (c *Collector) CollectOnce(ctx context.Context) error {
	set := c.configs.Current()
	if set == nil || len(set.Sensors) == 0 {
		c.logger.Debug().Msg("No sensor configuration yet, skipping collection")
		return nil
	}

	now := time.Now().Unix()

	for i := range set.Sensors {
		spec := &set.Sensors[i]

		raw, err := c.reader.ReadChannel(ctx, spec.Channel)
		if err != nil {
			c.logger.Warn().Err(err).Int("channel", spec.Channel).
				Msg("Sensor read failed, skipping channel")

			continue
		}

		if raw < 0 {
			raw = 0
		} else if raw > models.ADCMaxValue {
			raw = models.ADCMaxValue
		}

		reading := &models.Reading{
			Timestamp:       now,
			SensorChannel:   spec.Channel,
			SensorType:      spec.Type,
			RawValue:        raw,
			MoisturePercent: MoisturePercent(raw, spec),
			Location:        spec.Labels.Location,
			PlantType:       spec.Labels.PlantType,
			SensorName:      spec.Labels.SensorName,
		}

		if _, err := c.queue.Append(ctx, reading); err != nil {
			return err
		}

		c.logger.Debug().Int("channel", spec.Channel).Int("raw", raw).
			Float64("moisture", reading.MoisturePercent).Msg("Collected reading")
	}

	return nil
}

// MoisturePercent converts a raw ADC value to a moisture percentage
// using the channel's calibration. Capacitive probes read high when
// dry, so their scale is inverted; resistive probes read high when
// wet. The result is clamped to 0..100.
func MoisturePercent(raw int, spec *models.SensorSpec) float64 {
	span := float64(spec.Calibration.Max - spec.Calibration.Min)
	if span <= 0 {
		return 0
	}

	var percent float64

	if spec.Type == models.SensorTypeCapacitive {
		percent = float64(spec.Calibration.Max-raw) / span * 100
	} else {
		percent = float64(raw-spec.Calibration.Min) / span * 100
	}

	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}
