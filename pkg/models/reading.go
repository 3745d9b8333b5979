package models

// SensorType identifies the moisture probe technology on a channel.
type SensorType string

const (
	SensorTypeCapacitive SensorType = "capacitive"
	SensorTypeResistive  SensorType = "resistive"
)

// Reading is one moisture observation. Rows are owned by the agent's
// durable queue until synced; only the synced flag and the label triple
// are ever mutated after creation.
type Reading struct {
	ID              int64      `json:"id,omitempty"`
	Timestamp       int64      `json:"timestamp"`
	SensorChannel   int        `json:"sensor_channel"`
	SensorType      SensorType `json:"sensor_type"`
	RawValue        int        `json:"raw_value"`
	MoisturePercent float64    `json:"moisture_percent"`
	Location        string     `json:"location"`
	PlantType       string     `json:"plant_type"`
	SensorName      string     `json:"sensor_name"`
	Synced          bool       `json:"-"`
}

// SensorLabels is the mutable label triple attached to a channel.
type SensorLabels struct {
	Location   string `json:"location" yaml:"location"`
	PlantType  string `json:"plant_type" yaml:"plant_type"`
	SensorName string `json:"sensor_name" yaml:"sensor_name"`
}
