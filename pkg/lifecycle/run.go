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

// Package lifecycle provides service startup and shutdown helpers.
package lifecycle

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/verdantops/soilwatch/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

// Service is the contract run by RunService. Start blocks until the
// context is canceled or the service fails; Stop releases resources and
// lets in-flight durable writes complete.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// RunService runs a service until SIGINT/SIGTERM or failure, then stops it
// with a bounded shutdown window.
func RunService(ctx context.Context, svc Service, log logger.Logger) error {
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)

	go func() {
		errCh <- svc.Start(sigCtx)
	}()

	var runErr error

	select {
	case <-sigCtx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
			log.Error().Err(err).Msg("Service failed")
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := svc.Stop(stopCtx); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")

		if runErr == nil {
			runErr = err
		}
	}

	return runErr
}
