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

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/verdantops/soilwatch/pkg/common"
	"github.com/verdantops/soilwatch/pkg/core"
	"github.com/verdantops/soilwatch/pkg/db"
	"github.com/verdantops/soilwatch/pkg/models"
)

func (s *APIServer) handleRegister(w http.ResponseWriter, r *http.Request) {
	bootstrapToken := bearerToken(r)
	if bootstrapToken == "" {
		writeError(w, "Bootstrap token required", http.StatusUnauthorized)
		return
	}

	var req models.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	resp, err := s.service.RegisterAgent(ctx, bootstrapToken, &req)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrInvalidBootstrapToken):
			writeError(w, "Invalid bootstrap token", http.StatusUnauthorized)
		case errors.Is(err, core.ErrInvalidAgentID):
			writeError(w, "Invalid agent_id", http.StatusBadRequest)
		default:
			s.logger.Error().Err(err).Str("agent_id", req.AgentID).Msg("Registration failed")
			writeError(w, "Internal server error", http.StatusInternalServerError)
		}

		return
	}

	writeJSONResponse(w, http.StatusCreated, resp)
}

func (s *APIServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	agentID, _ := common.GetAgentID(r.Context())

	var req models.HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	resp, err := s.service.Heartbeat(ctx, agentID, &req)
	if err != nil {
		s.logger.Error().Err(err).Str("agent_id", agentID).Msg("Heartbeat failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *APIServer) handleReadings(w http.ResponseWriter, r *http.Request) {
	agentID, _ := common.GetAgentID(r.Context())

	var req models.ReadingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if len(req.Readings) == 0 {
		writeError(w, "Empty readings batch", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	resp, err := s.service.IngestReadings(ctx, agentID, &req)
	if err != nil {
		s.logger.Error().Err(err).Str("agent_id", agentID).Msg("Reading ingestion failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	agentID, _ := common.GetAgentID(r.Context())

	var health models.AgentHealth
	if err := decodeJSON(r, &health); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.service.RecordHealth(agentID, &health)

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *APIServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	agentID, _ := common.GetAgentID(r.Context())

	appliedVersion := 0

	if raw := r.URL.Query().Get("applied_version"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, "Invalid applied_version", http.StatusBadRequest)
			return
		}

		appliedVersion = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	set, err := s.service.GetConfigForAgent(ctx, agentID, appliedVersion)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrConfigNotModified):
			w.WriteHeader(http.StatusNotModified)
		case errors.Is(err, db.ErrConfigNotFound):
			writeError(w, "No configuration for agent", http.StatusNotFound)
		default:
			s.logger.Error().Err(err).Str("agent_id", agentID).Msg("Config fetch failed")
			writeError(w, "Internal server error", http.StatusInternalServerError)
		}

		return
	}

	writeJSONResponse(w, http.StatusOK, set)
}
