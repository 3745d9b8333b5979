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

package core

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/verdantops/soilwatch/pkg/db"
	"github.com/verdantops/soilwatch/pkg/models"
)

const (
	tokenBytes              = 32
	defaultTokenExpiryHours = 24
	maxAgentIDLength        = 64
)

// newToken returns fresh random token material, hex encoded.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)

	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("core: generate token: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

// hashToken is the deterministic digest used to look bootstrap tokens
// up in the ledger. Agent credentials use bcrypt instead; those are
// verified per agent, never looked up by hash.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MintBootstrapToken creates a limited-use registration credential.
// The token material is returned exactly once; only its hash persists.
func (s *Server) MintBootstrapToken(ctx context.Context, req *models.CreateTokenRequest) (*models.CreateTokenResponse, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	hours := req.ExpiresInHours
	if hours <= 0 {
		hours = defaultTokenExpiryHours
	}

	now := s.now().UTC()
	expiresAt := now.Add(time.Duration(hours) * time.Hour)

	err = s.store.CreateToken(ctx, &models.BootstrapToken{
		TokenHash: hashToken(token),
		CreatedAt: now,
		ExpiresAt: expiresAt,
		MaxUses:   req.MaxUses,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Time("expires_at", expiresAt).Msg("Minted bootstrap token")

	return &models.CreateTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
	}, nil
}

// RegisterAgent exchanges a bootstrap token for a permanent agent
// credential. Registration is idempotent on agent_id: re-registering
// replaces the credential and reactivates the agent, it never
// duplicates or errors.
func (s *Server) RegisterAgent(ctx context.Context, bootstrapToken string, req *models.RegisterRequest) (*models.RegisterResponse, error) {
	if req.AgentID == "" || len(req.AgentID) > maxAgentIDLength {
		return nil, ErrInvalidAgentID
	}

	ok, err := s.store.ConsumeToken(ctx, hashToken(bootstrapToken), s.now().UTC())
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, ErrInvalidBootstrapToken
	}

	agentToken, err := newToken()
	if err != nil {
		return nil, err
	}

	credentialHash, err := bcrypt.GenerateFromPassword([]byte(agentToken), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("core: hash agent credential: %w", err)
	}

	unlock := s.locks.lock(req.AgentID)
	defer unlock()

	err = s.store.UpsertAgent(ctx, &models.Agent{
		AgentID:      req.AgentID,
		Hostname:     req.Hostname,
		Hardware:     req.Hardware,
		TokenHash:    string(credentialHash),
		Status:       models.AgentStatusActive,
		RegisteredAt: s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	resp := &models.RegisterResponse{AgentToken: agentToken}

	set, err := s.store.GetDesiredConfig(ctx, req.AgentID)
	if err != nil && !errors.Is(err, db.ErrConfigNotFound) {
		return nil, err
	}

	if set != nil {
		resp.Config = set
		s.engine.SetRules(req.AgentID, set.Rules())
	}

	s.logger.Info().Str("agent_id", req.AgentID).Str("hostname", req.Hostname).
		Msg("Agent registered")

	return resp, nil
}

// AuthenticateAgent verifies an agent bearer token. Unknown agents,
// decommissioned agents, and credential mismatches all yield the same
// ErrAgentAuth.
func (s *Server) AuthenticateAgent(ctx context.Context, agentID, token string) error {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, db.ErrAgentNotFound) {
			return ErrAgentAuth
		}

		return err
	}

	if agent.Status == models.AgentStatusDecommissioned {
		return ErrAgentAuth
	}

	if bcrypt.CompareHashAndPassword([]byte(agent.TokenHash), []byte(token)) != nil {
		return ErrAgentAuth
	}

	return nil
}

// DecommissionAgent permanently retires an agent. Its credential stops
// authenticating immediately; queued data on the device is abandoned.
func (s *Server) DecommissionAgent(ctx context.Context, agentID string) error {
	unlock := s.locks.lock(agentID)
	defer unlock()

	if err := s.store.UpdateAgentStatus(ctx, agentID, models.AgentStatusDecommissioned); err != nil {
		return err
	}

	s.logger.Info().Str("agent_id", agentID).Msg("Agent decommissioned")

	return nil
}
