package models

import "time"

// AgentStatus represents the lifecycle state of a registered agent.
type AgentStatus string

const (
	AgentStatusActive         AgentStatus = "active"
	AgentStatusOffline        AgentStatus = "offline"
	AgentStatusDecommissioned AgentStatus = "decommissioned"
)

// Agent is the orchestrator's durable record of one edge device.
type Agent struct {
	AgentID              string      `json:"agent_id"`
	Hostname             string      `json:"hostname"`
	Hardware             string      `json:"hardware"`
	TokenHash            string      `json:"-"`
	Status               AgentStatus `json:"status"`
	DesiredConfigVersion int         `json:"desired_config_version"`
	AppliedConfigVersion int         `json:"applied_config_version"`
	RegisteredAt         time.Time   `json:"registered_at"`
	LastHeartbeat        *time.Time  `json:"last_heartbeat,omitempty"`
	LastSyncAt           *time.Time  `json:"last_sync_at,omitempty"`
}

// AgentHealth is the periodic health snapshot reported by an agent.
type AgentHealth struct {
	UptimeSeconds    float64 `json:"uptime_seconds"`
	QueueSizeBytes   int64   `json:"queue_size_bytes"`
	UnsyncedReadings int64   `json:"unsynced_readings"`
	CPUPercent       float64 `json:"cpu_percent"`
	MemoryPercent    float64 `json:"memory_percent"`
	DiskPercent      float64 `json:"disk_percent"`
}
