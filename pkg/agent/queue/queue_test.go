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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zombiezen.com/go/sqlite"

	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()

	q, err := Open(filepath.Join(t.TempDir(), "readings.db"), logger.NewTestLogger())
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, q.Close())
	})

	return q
}

func testReading(ts int64, channel int) *models.Reading {
	return &models.Reading{
		Timestamp:       ts,
		SensorChannel:   channel,
		SensorType:      models.SensorTypeCapacitive,
		RawValue:        512,
		MoisturePercent: 42.5,
		Location:        "kitchen",
		PlantType:       "basil",
		SensorName:      "basil-1",
	}
}

func TestQueueAppendAndUnsynced(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	id1, err := q.Append(ctx, testReading(100, 0))
	require.NoError(t, err)

	id2, err := q.Append(ctx, testReading(50, 2))
	require.NoError(t, err)

	rows, err := q.Unsynced(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Oldest first regardless of insert order.
	assert.Equal(t, id2, rows[0].ID)
	assert.Equal(t, id1, rows[1].ID)
	assert.Equal(t, models.SensorTypeCapacitive, rows[0].SensorType)
	assert.Equal(t, "basil", rows[0].PlantType)
}

func TestQueueUnsyncedLimit(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	for i := int64(0); i < 5; i++ {
		_, err := q.Append(ctx, testReading(100+i, 0))
		require.NoError(t, err)
	}

	rows, err := q.Unsynced(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	assert.Equal(t, int64(100), rows[0].Timestamp)
}

func TestQueueMarkSyncedIsIdempotent(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Append(ctx, testReading(100, 0))
	require.NoError(t, err)

	require.NoError(t, q.MarkSynced(ctx, []int64{id}))

	rows, err := q.Unsynced(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, rows, "synced rows must never be returned again")

	// Marking again, or marking unknown ids, is a no-op.
	require.NoError(t, q.MarkSynced(ctx, []int64{id, 9999}))
	require.NoError(t, q.MarkSynced(ctx, nil))

	count, err := q.UnsyncedCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestQueuePurgeOnlyRemovesOldSyncedRows(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	old := time.Now().Add(-48 * time.Hour).Unix()
	fresh := time.Now().Unix()

	oldSynced, err := q.Append(ctx, testReading(old, 0))
	require.NoError(t, err)

	_, err = q.Append(ctx, testReading(old, 2)) // old but unsynced
	require.NoError(t, err)

	freshSynced, err := q.Append(ctx, testReading(fresh, 4))
	require.NoError(t, err)

	require.NoError(t, q.MarkSynced(ctx, []int64{oldSynced, freshSynced}))

	removed, err := q.Purge(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// The unsynced old row survived.
	rows, err := q.Unsynced(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].SensorChannel)
}

func TestQueueUpdateLabelsSkipsSyncedRows(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	syncedID, err := q.Append(ctx, testReading(100, 0))
	require.NoError(t, err)
	require.NoError(t, q.MarkSynced(ctx, []int64{syncedID}))

	_, err = q.Append(ctx, testReading(200, 0))
	require.NoError(t, err)

	err = q.UpdateLabels(ctx, 0, models.SensorLabels{
		Location:   "balcony",
		PlantType:  "mint",
		SensorName: "mint-1",
	})
	require.NoError(t, err)

	rows, err := q.Unsynced(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "balcony", rows[0].Location)
	assert.Equal(t, "mint", rows[0].PlantType)
}

func TestQueueMetadataRoundTrip(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	value, err := q.GetMeta(ctx, MetaAgentToken)
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, q.SetMeta(ctx, MetaAgentToken, "agt_secret"))
	require.NoError(t, q.SetMeta(ctx, MetaAgentToken, "agt_rotated"))

	value, err = q.GetMeta(ctx, MetaAgentToken)
	require.NoError(t, err)
	assert.Equal(t, "agt_rotated", value)
}

func TestQueueSizeBytes(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	_, err := q.Append(ctx, testReading(100, 0))
	require.NoError(t, err)

	size, err := q.SizeBytes()
	require.NoError(t, err)
	assert.Positive(t, size)
}

func TestOpenWithRecoveryResetsCorruptDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readings.db")

	require.NoError(t, os.WriteFile(path, []byte("not a sqlite database at all"), 0o600))

	q, err := OpenWithRecovery(path, logger.NewTestLogger())
	require.NoError(t, err)

	defer func() {
		require.NoError(t, q.Close())
	}()

	count, err := q.UnsyncedCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count, "recovered queue starts empty")
}

func TestClassifyIntegrityErrKeepsTransientFailuresPlain(t *testing.T) {
	for _, code := range []sqlite.ResultCode{sqlite.ResultBusy, sqlite.ResultIOErr} {
		err := classifyIntegrityErr(code.ToError())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrIntegrity, "%v must not trigger a queue reset", code)
	}

	for _, code := range []sqlite.ResultCode{sqlite.ResultCorrupt, sqlite.ResultNotADB} {
		assert.ErrorIs(t, classifyIntegrityErr(code.ToError()), ErrIntegrity)
	}
}
