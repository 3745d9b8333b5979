package models

import "time"

// BootstrapToken tracks a limited-use credential for first-time agent
// registration. Only the SHA-256 hash of the token material is stored.
type BootstrapToken struct {
	TokenHash string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedCount int        `json:"used_count"`
	MaxUses   *int       `json:"max_uses,omitempty"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
}

// Valid reports whether the token can still authorize a registration.
func (t *BootstrapToken) Valid(now time.Time) bool {
	if !now.Before(t.ExpiresAt) {
		return false
	}

	if t.MaxUses != nil && t.UsedCount >= *t.MaxUses {
		return false
	}

	return true
}
