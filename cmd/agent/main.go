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
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/verdantops/soilwatch/pkg/agent"
	"github.com/verdantops/soilwatch/pkg/config"
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
	configPath := flag.String("config", "/etc/soilwatch/agent.yaml", "Path to agent config file")
	flag.Parse()

	ctx := context.Background()

	var cfg agent.Config
	if err := config.LoadFile(*configPath, &cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logConfig := cfg.Logging
	if logConfig == nil {
		logConfig = &logger.Config{
			Level:  "info",
			Output: "stdout",
		}
	}

	agentLogger, err := lifecycle.CreateComponentLogger("agent", logConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	agentLogger.Info().Str("version", version.GetFullVersion()).Msg("Starting soilwatch agent")

	var reader agent.SensorReader
	if cfg.Simulate {
		reader = agent.NewSimulatedReader(time.Now().UnixNano())

		agentLogger.Warn().Msg("Running with a simulated ADC")
	} else {
		reader = agent.NewIIOReader(cfg.IIODevicePath)
	}

	svc, err := agent.New(ctx, cfg, reader, nil, agentLogger)
	if err != nil {
		return fmt.Errorf("failed to create agent: %w", err)
	}

	return lifecycle.RunService(ctx, svc, agentLogger)
}
