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

	"github.com/gorilla/mux"

	"github.com/verdantops/soilwatch/pkg/db"
	"github.com/verdantops/soilwatch/pkg/models"
)

func (s *APIServer) handleMintToken(w http.ResponseWriter, r *http.Request) {
	var req models.CreateTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	resp, err := s.service.MintBootstrapToken(ctx, &req)
	if err != nil {
		s.logger.Error().Err(err).Msg("Token mint failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSONResponse(w, http.StatusCreated, resp)
}

func (s *APIServer) handleListTokens(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	tokens, err := s.service.ListBootstrapTokens(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Token list failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSONResponse(w, http.StatusOK, tokens)
}

// agentSummary augments the durable agent record with the in-memory
// health snapshot.
type agentSummary struct {
	models.Agent
	Health *models.AgentHealth `json:"health,omitempty"`
}

func (s *APIServer) summarize(agent *models.Agent) *agentSummary {
	summary := &agentSummary{Agent: *agent}

	if health, ok := s.service.GetHealth(agent.AgentID); ok {
		summary.Health = &health
	}

	return summary
}

func (s *APIServer) handleListAgents(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	agents, err := s.service.ListAgents(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Agent list failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	summaries := make([]*agentSummary, 0, len(agents))
	for i := range agents {
		summaries = append(summaries, s.summarize(&agents[i]))
	}

	writeJSONResponse(w, http.StatusOK, summaries)
}

func (s *APIServer) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]

	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	agent, err := s.service.GetAgentDetail(ctx, agentID)
	if err != nil {
		if errors.Is(err, db.ErrAgentNotFound) {
			writeError(w, "Agent not found", http.StatusNotFound)
			return
		}

		s.logger.Error().Err(err).Str("agent_id", agentID).Msg("Agent fetch failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSONResponse(w, http.StatusOK, s.summarize(agent))
}

func (s *APIServer) handleDecommission(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]

	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	if err := s.service.DecommissionAgent(ctx, agentID); err != nil {
		if errors.Is(err, db.ErrAgentNotFound) {
			writeError(w, "Agent not found", http.StatusNotFound)
			return
		}

		s.logger.Error().Err(err).Str("agent_id", agentID).Msg("Decommission failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "decommissioned"})
}

func (s *APIServer) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]

	var req models.UpdateConfigRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	resp, err := s.service.UpdateDesiredConfig(ctx, agentID, &req)
	if err != nil {
		switch {
		case errors.Is(err, db.ErrAgentNotFound):
			writeError(w, "Agent not found", http.StatusNotFound)
		case errors.Is(err, models.ErrNoSensors),
			errors.Is(err, models.ErrInvalidChannel),
			errors.Is(err, models.ErrInvalidSensorType),
			errors.Is(err, models.ErrInvalidCalibration),
			errors.Is(err, models.ErrInvalidThresholds),
			errors.Is(err, models.ErrMissingLabels),
			errors.Is(err, models.ErrDuplicateChannel):
			writeError(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error().Err(err).Str("agent_id", agentID).Msg("Config update failed")
			writeError(w, "Internal server error", http.StatusInternalServerError)
		}

		return
	}

	writeJSONResponse(w, http.StatusOK, resp)
}

func (s *APIServer) handleListReadings(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agent_id"]
	query := r.URL.Query()

	filter := db.ReadingFilter{Channel: -1}

	if raw := query.Get("channel"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, "Invalid channel", http.StatusBadRequest)
			return
		}

		filter.Channel = v
	}

	if raw := query.Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, "Invalid since timestamp", http.StatusBadRequest)
			return
		}

		filter.Since = v
	}

	if raw := query.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}

		filter.Limit = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	readings, err := s.service.ListReadings(ctx, agentID, filter)
	if err != nil {
		s.logger.Error().Err(err).Str("agent_id", agentID).Msg("Reading list failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSONResponse(w, http.StatusOK, readings)
}

func (s *APIServer) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	alerts, err := s.service.ListOpenAlerts(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Alert list failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSONResponse(w, http.StatusOK, alerts)
}

func (s *APIServer) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0

	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, "Invalid limit", http.StatusBadRequest)
			return
		}

		limit = v
	}

	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	alerts, err := s.service.ListAlertHistory(ctx, limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Alert history failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSONResponse(w, http.StatusOK, alerts)
}

func (s *APIServer) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	ctx, cancel := context.WithTimeout(r.Context(), defaultRequestTimeout)
	defer cancel()

	if err := s.service.AcknowledgeAlert(ctx, id); err != nil {
		if errors.Is(err, db.ErrAlertNotFound) {
			writeError(w, "Alert not found", http.StatusNotFound)
			return
		}

		s.logger.Error().Err(err).Str("alert_id", id).Msg("Acknowledge failed")
		writeError(w, "Internal server error", http.StatusInternalServerError)

		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}
