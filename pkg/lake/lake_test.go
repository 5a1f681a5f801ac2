// Copyright 2026 Metis Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lake

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/metiserr"
)

func testService(t *testing.T, storage, format string, batchSize int) (*Service, *FSStore) {
	t.Helper()

	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		Schemas: []config.SchemaConfig{
			{Name: "User", Schema: map[string]interface{}{"type": "object"}},
		},
		DataLakes: []config.DataLakeConfig{{
			Name:        "users",
			Schemas:     []string{"User"},
			Storage:     storage,
			Format:      format,
			BatchSize:   batchSize,
			DatabaseURL: filepath.Join(t.TempDir(), "lake.db"),
		}},
	}
	snap, err := config.Validate(cfg)
	require.NoError(t, err)

	svc := NewService(config.NewProvider(snap), WithObjectStore(store))
	t.Cleanup(func() { svc.Close() })
	return svc, store
}

func payload(data string) DataRecord {
	return DataRecord{Data: json.RawMessage(data)}
}

func TestWriteAndReadActive_FileLake(t *testing.T) {
	svc, _ := testService(t, config.LakeStorageFile, config.LakeFormatJSONL, 0)
	ctx := context.Background()

	written, err := svc.WriteRecords(ctx, "users", "User", []DataRecord{
		payload(`{"name":"ada"}`),
		payload(`{"name":"grace"}`),
	})
	require.NoError(t, err)
	require.Len(t, written, 2)
	assert.NotEmpty(t, written[0].ID)
	assert.Equal(t, "users", written[0].DataLake)
	assert.Equal(t, "User", written[0].SchemaName)
	assert.False(t, written[0].CreatedAt.IsZero())

	active, err := svc.ReadActiveRecords(ctx, "users", "User")
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestWriteAndReadActive_ParquetLake(t *testing.T) {
	svc, store := testService(t, config.LakeStorageFile, config.LakeFormatParquet, 0)
	ctx := context.Background()

	_, err := svc.WriteRecords(ctx, "users", "User", []DataRecord{payload(`{"name":"ada"}`)})
	require.NoError(t, err)

	keys, err := store.List(ctx, "data-lakes/users/User")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.True(t, strings.HasSuffix(keys[0], ".parquet"))

	active, err := svc.ReadActiveRecords(ctx, "users", "User")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.JSONEq(t, `{"name":"ada"}`, string(active[0].Data))
}

func TestUpdateRecord_ReplacesActiveVersion(t *testing.T) {
	svc, store := testService(t, config.LakeStorageBoth, config.LakeFormatJSONL, 0)
	ctx := context.Background()

	written, err := svc.WriteRecords(ctx, "users", "User", []DataRecord{payload(`{"name":"old"}`)})
	require.NoError(t, err)
	oldID := written[0].ID

	dataKeysBefore, err := store.List(ctx, "data-lakes/users/User")
	require.NoError(t, err)

	updated, err := svc.UpdateRecord(ctx, "users", "User", oldID, payload(`{"name":"new"}`))
	require.NoError(t, err)
	assert.NotEqual(t, oldID, updated.ID)

	// Exactly one active version remains, under the new id.
	active, err := svc.ReadActiveRecords(ctx, "users", "User")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, updated.ID, active[0].ID)
	assert.JSONEq(t, `{"name":"new"}`, string(active[0].Data))

	_, err = svc.FindRecord(ctx, "users", "User", oldID)
	require.Error(t, err)
	assert.Equal(t, metiserr.KindNotFound, metiserr.KindOf(err))

	found, err := svc.FindRecord(ctx, "users", "User", updated.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.ID, found.ID)

	// The file holding the old record was not rewritten.
	for _, key := range dataKeysBefore {
		_, err := store.Get(ctx, key)
		require.NoError(t, err)
	}
}

func TestDeleteRecord_TombstonesFileTarget(t *testing.T) {
	svc, store := testService(t, config.LakeStorageFile, config.LakeFormatJSONL, 0)
	ctx := context.Background()

	written, err := svc.WriteRecords(ctx, "users", "User", []DataRecord{
		payload(`{"name":"ada"}`),
		payload(`{"name":"grace"}`),
	})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRecord(ctx, "users", "User", written[0].ID))

	active, err := svc.ReadActiveRecords(ctx, "users", "User")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, written[1].ID, active[0].ID)

	tombKeys, err := store.List(ctx, "data-lakes/users/_tombstones/User")
	require.NoError(t, err)
	assert.Len(t, tombKeys, 1)
}

func TestDeleteRecord_UnknownID(t *testing.T) {
	svc, _ := testService(t, config.LakeStorageFile, config.LakeFormatJSONL, 0)

	err := svc.DeleteRecord(context.Background(), "users", "User", "ghost")
	require.Error(t, err)
	assert.Equal(t, metiserr.KindNotFound, metiserr.KindOf(err))
}

func TestDatabaseLake_CRUD(t *testing.T) {
	svc, _ := testService(t, config.LakeStorageDatabase, config.LakeFormatJSONL, 0)
	ctx := context.Background()

	written, err := svc.WriteRecords(ctx, "users", "User", []DataRecord{payload(`{"name":"ada"}`)})
	require.NoError(t, err)
	id := written[0].ID

	found, err := svc.FindRecord(ctx, "users", "User", id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ada"}`, string(found.Data))

	updated, err := svc.UpdateRecord(ctx, "users", "User", id, payload(`{"name":"new"}`))
	require.NoError(t, err)
	assert.NotEqual(t, id, updated.ID)

	_, err = svc.FindRecord(ctx, "users", "User", id)
	require.Error(t, err)
	assert.Equal(t, metiserr.KindNotFound, metiserr.KindOf(err))

	require.NoError(t, svc.DeleteRecord(ctx, "users", "User", updated.ID))

	active, err := svc.ReadActiveRecords(ctx, "users", "User")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestSyncToFiles_Batches(t *testing.T) {
	svc, store := testService(t, config.LakeStorageDatabase, config.LakeFormatJSONL, 2)
	ctx := context.Background()

	records := make([]DataRecord, 5)
	for i := range records {
		records[i] = payload(`{"n":` + string(rune('0'+i)) + `}`)
	}
	_, err := svc.WriteRecords(ctx, "users", "User", records)
	require.NoError(t, err)

	files, err := svc.SyncToFiles(ctx, "users", "User")
	require.NoError(t, err)
	assert.Equal(t, 3, files)

	keys, err := store.List(ctx, "data-lakes/users/User")
	require.NoError(t, err)
	require.Len(t, keys, 3)

	total := 0
	for _, key := range keys {
		data, err := store.Get(ctx, key)
		require.NoError(t, err)
		decoded, err := decodeJSONL(data)
		require.NoError(t, err)
		total += len(decoded)
	}
	assert.Equal(t, 5, total)
}

func TestPurge_CompactsFiles(t *testing.T) {
	svc, store := testService(t, config.LakeStorageFile, config.LakeFormatJSONL, 2)
	ctx := context.Background()

	var ids []string
	for _, doc := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
		written, err := svc.WriteRecords(ctx, "users", "User", []DataRecord{payload(doc)})
		require.NoError(t, err)
		ids = append(ids, written[0].ID)
	}
	require.NoError(t, svc.DeleteRecord(ctx, "users", "User", ids[0]))

	require.NoError(t, svc.Purge(ctx, "users", "User"))

	dataKeys, err := store.List(ctx, "data-lakes/users/User")
	require.NoError(t, err)
	assert.Len(t, dataKeys, 1)

	tombKeys, err := store.List(ctx, "data-lakes/users/_tombstones/User")
	require.NoError(t, err)
	assert.Empty(t, tombKeys)

	active, err := svc.ReadActiveRecords(ctx, "users", "User")
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, r := range active {
		assert.NotEqual(t, ids[0], r.ID)
	}
}

func TestUnknownLakeAndSchema(t *testing.T) {
	svc, _ := testService(t, config.LakeStorageFile, config.LakeFormatJSONL, 0)
	ctx := context.Background()

	_, err := svc.ReadActiveRecords(ctx, "ghost", "User")
	require.Error(t, err)
	assert.Equal(t, metiserr.KindNotFound, metiserr.KindOf(err))

	_, err = svc.ReadActiveRecords(ctx, "users", "Order")
	require.Error(t, err)
	assert.Equal(t, metiserr.KindNotFound, metiserr.KindOf(err))
}
