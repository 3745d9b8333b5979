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

package db

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

// Config describes the orchestrator's Postgres/Timescale cluster.
type Config struct {
	Host            string          `json:"host" yaml:"host"`
	Port            int             `json:"port,omitempty" yaml:"port,omitempty"`
	Database        string          `json:"database" yaml:"database"`
	Username        string          `json:"username,omitempty" yaml:"username,omitempty"`
	Password        string          `json:"password,omitempty" yaml:"password,omitempty"`
	SSLMode         string          `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`
	ApplicationName string          `json:"application_name,omitempty" yaml:"application_name,omitempty"`
	MaxConnections  int32           `json:"max_connections,omitempty" yaml:"max_connections,omitempty"`
	MinConnections  int32           `json:"min_connections,omitempty" yaml:"min_connections,omitempty"`
	MaxConnLifetime models.Duration `json:"max_conn_lifetime,omitempty" yaml:"max_conn_lifetime,omitempty"`
}

// NewPool dials the configured cluster and returns a pgx pool.
func NewPool(ctx context.Context, cfg *Config, log logger.Logger) (*pgxpool.Pool, error) {
	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	connURL := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", cfg.Host, port),
		Path:   "/" + cfg.Database,
	}

	if cfg.Username != "" {
		if cfg.Password != "" {
			connURL.User = url.UserPassword(cfg.Username, cfg.Password)
		} else {
			connURL.User = url.User(cfg.Username)
		}
	}

	query := connURL.Query()

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	query.Set("sslmode", sslMode)

	if cfg.ApplicationName != "" {
		query.Set("application_name", cfg.ApplicationName)
	}

	connURL.RawQuery = query.Encode()

	poolConfig, err := pgxpool.ParseConfig(connURL.String())
	if err != nil {
		return nil, fmt.Errorf("db: failed to parse connection string: %w", err)
	}

	if cfg.MaxConnections > 0 {
		poolConfig.MaxConns = cfg.MaxConnections
	}

	if cfg.MinConnections > 0 {
		poolConfig.MinConns = cfg.MinConnections
	}

	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = time.Duration(cfg.MaxConnLifetime)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("db: failed to initialize pool: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Int("port", port).
		Int32("max_conns", poolConfig.MaxConns).
		Msg("Connected to Postgres cluster")

	return pool, nil
}
