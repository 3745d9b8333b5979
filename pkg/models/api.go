package models

// Wire types for the agent-facing and admin HTTP surfaces.

// RegisterRequest is posted with a bootstrap bearer token.
type RegisterRequest struct {
	AgentID  string `json:"agent_id"`
	Hostname string `json:"hostname"`
	Hardware string `json:"hardware"`
}

// RegisterResponse carries the permanent credential and current config.
type RegisterResponse struct {
	AgentToken string     `json:"agent_token"`
	Config     *SensorSet `json:"config,omitempty"`
}

// HeartbeatRequest reports the applied config version alongside the ping.
type HeartbeatRequest struct {
	AppliedConfigVersion int `json:"applied_config_version"`
}

// HeartbeatResponse returns the desired config version as a pull hint.
type HeartbeatResponse struct {
	Status               string `json:"status"`
	DesiredConfigVersion int    `json:"desired_config_version"`
	ServerTime           string `json:"server_time"`
}

// ReadingsRequest is one sync batch.
type ReadingsRequest struct {
	Readings []Reading `json:"readings"`
}

// RejectedReading explains why one reading in a batch was refused.
type RejectedReading struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

// ReadingsResponse reports the per-reading outcome of a batch. The sync
// client marks accepted and duplicate ids as synced; rejected rows are
// logged and never retried.
type ReadingsResponse struct {
	AcceptedIDs  []int64           `json:"accepted_ids"`
	DuplicateIDs []int64           `json:"duplicate_ids"`
	Rejected     []RejectedReading `json:"rejected,omitempty"`
}

// CreateTokenRequest is the admin request to mint a bootstrap token.
type CreateTokenRequest struct {
	ExpiresInHours int  `json:"expires_in_hours"`
	MaxUses        *int `json:"max_uses,omitempty"`
}

// CreateTokenResponse returns the token material exactly once.
type CreateTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// UpdateConfigRequest replaces an agent's desired sensor configuration.
type UpdateConfigRequest struct {
	Sensors []SensorSpec `json:"sensors"`
}

// UpdateConfigResponse reports the version assigned to the new payload.
type UpdateConfigResponse struct {
	Version int    `json:"version"`
	Status  string `json:"status"`
}

// ErrorResponse is the structured error body for non-2xx replies.
type ErrorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}
