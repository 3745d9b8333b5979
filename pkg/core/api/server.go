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

// Package api provides the orchestrator's HTTP surface: the agent
// endpoints under /agents and the operator endpoints under /api.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/verdantops/soilwatch/pkg/common"
	"github.com/verdantops/soilwatch/pkg/core"
	swHttp "github.com/verdantops/soilwatch/pkg/http"
	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

const (
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 120 * time.Second

	defaultRequestTimeout = 10 * time.Second

	maxRequestBody = 4 << 20
)

// APIServer serves the orchestrator's HTTP API.
type APIServer struct {
	service CoreService
	router  *mux.Router
	logger  logger.Logger
	httpSrv *http.Server
}

// NewAPIServer creates the HTTP surface on top of a CoreService.
func NewAPIServer(service CoreService, options ...func(*APIServer)) *APIServer {
	s := &APIServer{
		service: service,
		router:  mux.NewRouter(),
		logger:  logger.NewTestLogger(),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithLogger sets the request logger.
func WithLogger(log logger.Logger) func(*APIServer) {
	return func(server *APIServer) {
		server.logger = log.WithComponent("api")
	}
}

// Router exposes the handler tree, mainly for tests.
func (s *APIServer) Router() http.Handler {
	return s.router
}

func (s *APIServer) setupRoutes() {
	s.router.Use(func(next http.Handler) http.Handler {
		return swHttp.CommonMiddleware(next, s.logger)
	})

	s.setupAgentRoutes()
	s.setupAdminRoutes()
}

// setupAgentRoutes wires the device-facing surface. Registration
// authenticates with a bootstrap token; everything else with the
// agent's permanent credential.
func (s *APIServer) setupAgentRoutes() {
	s.router.HandleFunc("/agents/register", s.handleRegister).Methods("POST")

	agents := s.router.PathPrefix("/agents/{agent_id}").Subrouter()
	agents.Use(s.agentAuthMiddleware)

	agents.HandleFunc("/heartbeat", s.handleHeartbeat).Methods("POST")
	agents.HandleFunc("/readings", s.handleReadings).Methods("POST")
	agents.HandleFunc("/health", s.handleHealth).Methods("POST")
	agents.HandleFunc("/config", s.handleGetConfig).Methods("GET")
}

// setupAdminRoutes wires the operator surface behind the admin token.
func (s *APIServer) setupAdminRoutes() {
	admin := s.router.PathPrefix("/api").Subrouter()
	admin.Use(s.adminAuthMiddleware)

	admin.HandleFunc("/bootstrap-tokens", s.handleMintToken).Methods("POST")
	admin.HandleFunc("/bootstrap-tokens", s.handleListTokens).Methods("GET")
	admin.HandleFunc("/agents", s.handleListAgents).Methods("GET")
	admin.HandleFunc("/agents/{agent_id}", s.handleGetAgent).Methods("GET")
	admin.HandleFunc("/agents/{agent_id}", s.handleDecommission).Methods("DELETE")
	admin.HandleFunc("/agents/{agent_id}/config", s.handleUpdateConfig).Methods("PUT")
	admin.HandleFunc("/agents/{agent_id}/readings", s.handleListReadings).Methods("GET")
	admin.HandleFunc("/alerts", s.handleListAlerts).Methods("GET")
	admin.HandleFunc("/alerts/history", s.handleAlertHistory).Methods("GET")
	admin.HandleFunc("/alerts/{id}/acknowledge", s.handleAcknowledgeAlert).Methods("POST")
}

// bearerToken extracts the credential from the Authorization header.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}

	return strings.TrimPrefix(header, "Bearer ")
}

// agentAuthMiddleware verifies the agent credential for the agent_id
// in the path. A token for one agent never authorizes another.
func (s *APIServer) agentAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := mux.Vars(r)["agent_id"]

		token := bearerToken(r)
		if token == "" {
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := s.service.AuthenticateAgent(r.Context(), agentID, token); err != nil {
			if errors.Is(err, core.ErrAgentAuth) {
				writeError(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			s.logger.Error().Err(err).Str("agent_id", agentID).Msg("Agent authentication failed")
			writeError(w, "Internal server error", http.StatusInternalServerError)

			return
		}

		next.ServeHTTP(w, r.WithContext(common.WithAgentID(r.Context(), agentID)))
	})
}

func (s *APIServer) adminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := s.service.AdminToken()
		token := bearerToken(r)

		if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			writeError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start runs the HTTP server until the context is canceled.
func (s *APIServer) Start(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info().Str("addr", addr).Msg("HTTP API listening")

	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown drains in-flight requests.
func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}

	return s.httpSrv.Shutdown(ctx)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	return decoder.Decode(dst)
}

func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSONResponse(w, status, &models.ErrorResponse{Message: message, Status: status})
}
