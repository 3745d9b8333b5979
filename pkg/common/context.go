package common

import (
	"context"
)

// contextKey is a private type for context keys used in this package
type contextKey string

// agentIDKey carries the authenticated agent identity.
const agentIDKey contextKey = "agent_id"

// WithAgentID returns a new context with the given agent ID
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// GetAgentID retrieves the agent ID from the context
// Returns the agent ID and a boolean indicating if it was found
func GetAgentID(ctx context.Context) (string, bool) {
	agentID, ok := ctx.Value(agentIDKey).(string)
	return agentID, ok
}
