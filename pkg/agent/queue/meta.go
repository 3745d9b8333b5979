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

package queue

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// Well-known metadata keys.
const (
	MetaAgentToken           = "agent_token"
	MetaAppliedConfigVersion = "applied_config_version"
	MetaSensorConfig         = "sensor_config"
)

// GetMeta returns the value for a metadata key, or "" when unset.
func (q *Queue) GetMeta(ctx context.Context, key string) (string, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return "", fmt.Errorf("queue: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	var value string

	err = sqlitex.Execute(conn, `SELECT value FROM agent_metadata WHERE key = ?`,
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				value = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return "", fmt.Errorf("queue: get metadata %q: %w", key, err)
	}

	return value, nil
}

// SetMeta durably stores a metadata key-value pair.
func (q *Queue) SetMeta(ctx context.Context, key, value string) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("queue: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT OR REPLACE INTO agent_metadata (key, value) VALUES (?, ?)`,
		&sqlitex.ExecOptions{Args: []any{key, value}})
	if err != nil {
		return fmt.Errorf("queue: set metadata %q: %w", key, err)
	}

	return nil
}
