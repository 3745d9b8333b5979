package models

import (
	"errors"
	"fmt"
)

const (
	// ADCMaxValue is the largest raw value the 10-bit ADC can produce.
	ADCMaxValue = 1023

	maxHysteresis = 20.0
)

var (
	ErrInvalidChannel     = errors.New("sensor channel must be one of 0, 2, 4, 6")
	ErrInvalidSensorType  = errors.New("sensor type must be capacitive or resistive")
	ErrInvalidCalibration = errors.New("calibration bounds invalid")
	ErrInvalidThresholds  = errors.New("thresholds invalid")
	ErrMissingLabels      = errors.New("sensor labels must not be empty")
	ErrNoSensors          = errors.New("configuration has no sensors")
	ErrDuplicateChannel   = errors.New("duplicate sensor channel")
)

// analogChannels are the ADC ports wired to analog probes on the Grove hat.
var analogChannels = map[int]struct{}{0: {}, 2: {}, 4: {}, 6: {}}

// SensorCalibration holds the raw ADC values observed fully dry and fully wet.
type SensorCalibration struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// SensorThresholds configures the alert bands for a channel.
type SensorThresholds struct {
	DryPercent float64 `json:"dry_percent" yaml:"dry_percent"`
	WetPercent float64 `json:"wet_percent" yaml:"wet_percent"`
	Hysteresis float64 `json:"hysteresis" yaml:"hysteresis"`
}

// SensorSpec is the full configuration of a single sensor channel.
type SensorSpec struct {
	Channel     int               `json:"channel" yaml:"channel"`
	Type        SensorType        `json:"type" yaml:"type"`
	Calibration SensorCalibration `json:"calibration" yaml:"calibration"`
	Labels      SensorLabels      `json:"labels" yaml:"labels"`
	Thresholds  SensorThresholds  `json:"thresholds" yaml:"thresholds"`
}

// Validate checks a single sensor spec.
func (s *SensorSpec) Validate() error {
	if _, ok := analogChannels[s.Channel]; !ok {
		return fmt.Errorf("%w: got %d", ErrInvalidChannel, s.Channel)
	}

	if s.Type != SensorTypeCapacitive && s.Type != SensorTypeResistive {
		return fmt.Errorf("%w: got %q", ErrInvalidSensorType, s.Type)
	}

	if s.Calibration.Min < 0 || s.Calibration.Max > ADCMaxValue || s.Calibration.Min >= s.Calibration.Max {
		return fmt.Errorf("%w: min=%d max=%d", ErrInvalidCalibration, s.Calibration.Min, s.Calibration.Max)
	}

	t := s.Thresholds
	if t.DryPercent < 0 || t.DryPercent > 100 || t.WetPercent < 0 || t.WetPercent > 100 ||
		t.DryPercent >= t.WetPercent || t.Hysteresis < 0 || t.Hysteresis > maxHysteresis {
		return fmt.Errorf("%w: dry=%.1f wet=%.1f hysteresis=%.1f", ErrInvalidThresholds,
			t.DryPercent, t.WetPercent, t.Hysteresis)
	}

	if s.Labels.Location == "" || s.Labels.PlantType == "" || s.Labels.SensorName == "" {
		return ErrMissingLabels
	}

	return nil
}

// SensorSet is the versioned configuration payload an agent converges on.
// It is always swapped as a whole, never patched field by field.
type SensorSet struct {
	Version int          `json:"version" yaml:"version"`
	Sensors []SensorSpec `json:"sensors" yaml:"sensors"`
}

// Validate checks the whole payload; an invalid payload must never
// replace a working configuration.
func (c *SensorSet) Validate() error {
	if len(c.Sensors) == 0 {
		return ErrNoSensors
	}

	seen := make(map[int]struct{}, len(c.Sensors))

	for i := range c.Sensors {
		if err := c.Sensors[i].Validate(); err != nil {
			return fmt.Errorf("sensor %d: %w", c.Sensors[i].Channel, err)
		}

		if _, dup := seen[c.Sensors[i].Channel]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateChannel, c.Sensors[i].Channel)
		}

		seen[c.Sensors[i].Channel] = struct{}{}
	}

	return nil
}

// Rules derives the alert rules in effect for this configuration.
func (c *SensorSet) Rules() []AlertRule {
	rules := make([]AlertRule, 0, len(c.Sensors))

	for i := range c.Sensors {
		s := &c.Sensors[i]
		rules = append(rules, AlertRule{
			SensorChannel: s.Channel,
			DryThreshold:  s.Thresholds.DryPercent,
			WetThreshold:  s.Thresholds.WetPercent,
			Hysteresis:    s.Thresholds.Hysteresis,
			Enabled:       true,
		})
	}

	return rules
}
