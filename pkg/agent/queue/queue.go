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

// Package queue implements the agent's durable local reading queue and
// metadata store on SQLite.
package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

const (
	defaultPoolSize = 4

	schema = `
CREATE TABLE IF NOT EXISTS readings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp INTEGER NOT NULL,
	sensor_channel INTEGER NOT NULL,
	sensor_type TEXT NOT NULL,
	raw_value INTEGER NOT NULL,
	moisture_percent REAL NOT NULL,
	location TEXT,
	plant_type TEXT,
	sensor_name TEXT,
	synced INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER DEFAULT (strftime('%s','now'))
);
CREATE INDEX IF NOT EXISTS idx_readings_timestamp ON readings(timestamp);
CREATE INDEX IF NOT EXISTS idx_readings_synced ON readings(synced);
CREATE INDEX IF NOT EXISTS idx_readings_channel ON readings(sensor_channel);
CREATE TABLE IF NOT EXISTS agent_metadata (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
)

// ErrIntegrity reports that the underlying database failed its integrity
// check at open time. The owning process should attempt OpenWithRecovery
// once before giving up.
var ErrIntegrity = errors.New("queue: database integrity check failed")

// Queue is the append-only durable store for readings plus a small
// key-value metadata table. Safe for concurrent use; SQLite serializes
// writes internally.
type Queue struct {
	pool   *sqlitex.Pool
	path   string
	logger logger.Logger
}

// Open opens (creating if necessary) the queue database at path and
// verifies its integrity. A corrupted file returns ErrIntegrity without
// touching the data.
func Open(path string, log logger.Logger) (*Queue, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("queue: create data dir: %w", err)
	}

	pool, err := sqlitex.NewPool(path, sqlitex.PoolOptions{
		PoolSize: defaultPoolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return err
				}
			}

			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue: open %s: %w", path, err)
	}

	q := &Queue{pool: pool, path: path, logger: log}

	ctx := context.Background()

	if err := q.checkIntegrity(ctx); err != nil {
		_ = pool.Close()
		return nil, err
	}

	if err := q.migrate(ctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("queue: migrate: %w", err)
	}

	return q, nil
}

// OpenWithRecovery opens the queue, and on an integrity failure removes
// the damaged file (and its WAL sidecars) and starts with an empty
// queue. Availability is preferred over durability at the edge.
func OpenWithRecovery(path string, log logger.Logger) (*Queue, error) {
	q, err := Open(path, log)
	if err == nil {
		return q, nil
	}

	if !errors.Is(err, ErrIntegrity) {
		return nil, err
	}

	log.Warn().Str("path", path).Msg("Queue database corrupted, resetting to an empty queue")

	for _, suffix := range []string{"", "-wal", "-shm"} {
		if rmErr := os.Remove(path + suffix); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("queue: remove damaged database: %w", rmErr)
		}
	}

	return Open(path, log)
}

func (q *Queue) checkIntegrity(ctx context.Context) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("queue: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	var result string

	err = sqlitex.ExecuteTransient(conn, "PRAGMA integrity_check", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if result == "" {
				result = stmt.ColumnText(0)
			}
			return nil
		},
	})
	if err != nil {
		return classifyIntegrityErr(err)
	}

	if result != "ok" {
		return fmt.Errorf("%w: %s", ErrIntegrity, result)
	}

	return nil
}

// classifyIntegrityErr maps an integrity_check execution failure. Only
// corruption result codes become ErrIntegrity; busy or I/O errors stay
// plain so recovery never deletes a healthy database over a transient
// failure.
func classifyIntegrityErr(err error) error {
	switch sqlite.ErrCode(err).ToPrimary() {
	case sqlite.ResultCorrupt, sqlite.ResultNotADB:
		return fmt.Errorf("%w: %v", ErrIntegrity, err)
	default:
		return fmt.Errorf("queue: integrity check: %w", err)
	}
}

func (q *Queue) migrate(ctx context.Context) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer q.pool.Put(conn)

	return sqlitex.ExecuteScript(conn, schema, nil)
}

// Append durably stores a reading and returns its id. The row is
// committed before Append returns.
func (q *Queue) Append(ctx context.Context, r *models.Reading) (int64, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	err = sqlitex.Execute(conn, `INSERT INTO readings
		(timestamp, sensor_channel, sensor_type, raw_value, moisture_percent,
		 location, plant_type, sensor_name, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`, &sqlitex.ExecOptions{
		Args: []any{
			r.Timestamp,
			r.SensorChannel,
			string(r.SensorType),
			r.RawValue,
			r.MoisturePercent,
			r.Location,
			r.PlantType,
			r.SensorName,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("queue: append reading: %w", err)
	}

	return conn.LastInsertRowID(), nil
}

// Unsynced returns up to limit readings whose synced flag is unset,
// oldest first. The scan is restartable: rows stay visible until
// MarkSynced is called for them.
func (q *Queue) Unsynced(ctx context.Context, limit int) ([]models.Reading, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	var readings []models.Reading

	err = sqlitex.Execute(conn, `SELECT id, timestamp, sensor_channel, sensor_type,
		raw_value, moisture_percent, location, plant_type, sensor_name
		FROM readings WHERE synced = 0 ORDER BY timestamp ASC, id ASC LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				readings = append(readings, models.Reading{
					ID:              stmt.ColumnInt64(0),
					Timestamp:       stmt.ColumnInt64(1),
					SensorChannel:   stmt.ColumnInt(2),
					SensorType:      models.SensorType(stmt.ColumnText(3)),
					RawValue:        stmt.ColumnInt(4),
					MoisturePercent: stmt.ColumnFloat(5),
					Location:        stmt.ColumnText(6),
					PlantType:       stmt.ColumnText(7),
					SensorName:      stmt.ColumnText(8),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("queue: list unsynced: %w", err)
	}

	return readings, nil
}

// UnsyncedCount returns the number of rows still waiting for sync.
func (q *Queue) UnsyncedCount(ctx context.Context) (int64, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	var count int64

	err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM readings WHERE synced = 0`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("queue: count unsynced: %w", err)
	}

	return count, nil
}

// MarkSynced sets the synced flag for the given ids. Marking an already
// synced or unknown id is a no-op, not an error.
func (q *Queue) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("queue: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))

	for i, id := range ids {
		args[i] = id
	}

	query := fmt.Sprintf("UPDATE readings SET synced = 1 WHERE id IN (%s)", placeholders)

	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("queue: mark synced: %w", err)
	}

	return nil
}

// Purge removes synced readings older than the retention horizon and
// returns the number of rows deleted. Unsynced rows are never purged.
func (q *Queue) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	cutoff := time.Now().Add(-olderThan).Unix()

	err = sqlitex.Execute(conn, `DELETE FROM readings WHERE synced = 1 AND timestamp < ?`,
		&sqlitex.ExecOptions{Args: []any{cutoff}})
	if err != nil {
		return 0, fmt.Errorf("queue: purge: %w", err)
	}

	return int64(conn.Changes()), nil
}

// UpdateLabels relabels unsynced rows for a channel. Rows already synced
// keep the labels they were captured with.
func (q *Queue) UpdateLabels(ctx context.Context, channel int, labels models.SensorLabels) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("queue: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	err = sqlitex.Execute(conn, `UPDATE readings
		SET location = ?, plant_type = ?, sensor_name = ?
		WHERE sensor_channel = ? AND synced = 0`, &sqlitex.ExecOptions{
		Args: []any{labels.Location, labels.PlantType, labels.SensorName, channel},
	})
	if err != nil {
		return fmt.Errorf("queue: update labels: %w", err)
	}

	return nil
}

// SizeBytes returns the approximate on-disk footprint of the queue so
// the owner can trigger an early purge under a configured ceiling.
func (q *Queue) SizeBytes() (int64, error) {
	var total int64

	for _, suffix := range []string{"", "-wal"} {
		info, err := os.Stat(q.path + suffix)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}

			return 0, fmt.Errorf("queue: stat: %w", err)
		}

		total += info.Size()
	}

	return total, nil
}

// Vacuum reclaims space after large purges.
func (q *Queue) Vacuum(ctx context.Context) error {
	conn, err := q.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("queue: take conn: %w", err)
	}
	defer q.pool.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, "VACUUM", nil); err != nil {
		return fmt.Errorf("queue: vacuum: %w", err)
	}

	return nil
}

// Close closes the underlying pool, waiting for borrowed connections so
// in-flight durable writes complete.
func (q *Queue) Close() error {
	return q.pool.Close()
}
