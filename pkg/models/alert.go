package models

import "time"

// AlertKind identifies what condition an alert tracks.
type AlertKind string

const (
	AlertKindTooDry        AlertKind = "too_dry"
	AlertKindTooWet        AlertKind = "too_wet"
	AlertKindSensorOffline AlertKind = "sensor_offline"
	AlertKindAgentOffline  AlertKind = "agent_offline"
)

// AlertState is the lifecycle state of an alert instance. Resolved is
// terminal; the (agent, channel, kind) slot implicitly returns to Normal.
type AlertState string

const (
	AlertStateNormal       AlertState = "normal"
	AlertStateTriggered    AlertState = "triggered"
	AlertStateAcknowledged AlertState = "acknowledged"
	AlertStateResolved     AlertState = "resolved"
)

// AlertSeverity is derived from the magnitude of the threshold breach,
// never stored.
type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AgentOfflineChannel is the sensor channel recorded for alerts that are
// not tied to a specific sensor.
const AgentOfflineChannel = -1

// ActiveAlert is one open or historical alert instance. At most one
// unresolved row exists per (agent, channel, kind).
type ActiveAlert struct {
	ID              string     `json:"id"`
	AgentID         string     `json:"agent_id"`
	SensorChannel   int        `json:"sensor_channel"`
	Kind            AlertKind  `json:"alert_type"`
	State           AlertState `json:"state"`
	TriggeredAt     time.Time  `json:"triggered_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	Acknowledged    bool       `json:"acknowledged"`
	MoisturePercent *float64   `json:"moisture_percent,omitempty"`
	Threshold       *float64   `json:"threshold,omitempty"`
	Location        string     `json:"location,omitempty"`
	PlantType       string     `json:"plant_type,omitempty"`
	SensorName      string     `json:"sensor_name,omitempty"`
}

// Open reports whether the alert slot is still occupied.
func (a *ActiveAlert) Open() bool {
	return a.ResolvedAt == nil
}

// warningBandPercent is the breach magnitude beyond which a threshold
// alert escalates from warning to critical.
const warningBandPercent = 20.0

// Severity derives the alert severity from the current observation.
// Offline alerts are always critical.
func (a *ActiveAlert) Severity() AlertSeverity {
	if a.Kind == AlertKindSensorOffline || a.Kind == AlertKindAgentOffline {
		return SeverityCritical
	}

	if a.MoisturePercent == nil || a.Threshold == nil {
		return SeverityWarning
	}

	breach := *a.Threshold - *a.MoisturePercent
	if a.Kind == AlertKindTooWet {
		breach = *a.MoisturePercent - *a.Threshold
	}

	if breach > warningBandPercent {
		return SeverityCritical
	}

	return SeverityWarning
}

// AlertRule is the per-channel threshold configuration. Rules are owned
// by the agent's configuration and replaced wholesale on version change.
type AlertRule struct {
	SensorChannel int     `json:"sensor_channel" yaml:"sensor_channel"`
	DryThreshold  float64 `json:"dry_percent" yaml:"dry_percent"`
	WetThreshold  float64 `json:"wet_percent" yaml:"wet_percent"`
	Hysteresis    float64 `json:"hysteresis" yaml:"hysteresis"`
	Enabled       bool    `json:"enabled" yaml:"enabled"`
}
