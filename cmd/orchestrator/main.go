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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/verdantops/soilwatch/pkg/config"
	"github.com/verdantops/soilwatch/pkg/core"
	"github.com/verdantops/soilwatch/pkg/core/api"
	"github.com/verdantops/soilwatch/pkg/db"
	"github.com/verdantops/soilwatch/pkg/lifecycle"
	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/version"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/soilwatch/orchestrator.yaml", "Path to orchestrator config file")
	flag.Parse()

	ctx := context.Background()

	var cfg core.Config
	if err := config.LoadFile(*configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Database == nil {
		return errors.New("database configuration is required")
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{
			Level:  "info",
			Output: "stdout",
		}
	}

	coreLogger, err := lifecycle.CreateComponentLogger("orchestrator", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	coreLogger.Info().Str("version", version.GetFullVersion()).Msg("Starting soilwatch orchestrator")

	store, err := db.New(ctx, cfg.Database, coreLogger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	coreServer, err := core.NewServer(ctx, cfg, store, coreLogger)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create core service: %w", err)
	}

	apiServer := api.NewAPIServer(coreServer, api.WithLogger(coreLogger))

	svc := &orchestratorService{
		core:       coreServer,
		api:        apiServer,
		listenAddr: cfg.ListenAddr,
	}

	return lifecycle.RunService(ctx, svc, coreLogger)
}

// orchestratorService runs the domain service and its HTTP surface as
// one lifecycle unit.
type orchestratorService struct {
	core       *core.Server
	api        *api.APIServer
	listenAddr string
}

func (s *orchestratorService) Start(ctx context.Context) error {
	if err := s.core.Start(ctx); err != nil {
		return err
	}

	return s.api.Start(ctx, s.listenAddr)
}

func (s *orchestratorService) Stop(ctx context.Context) error {
	if err := s.api.Shutdown(ctx); err != nil {
		return err
	}

	return s.core.Stop(ctx)
}
