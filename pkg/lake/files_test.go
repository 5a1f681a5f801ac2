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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metis-labs/metis/pkg/metiserr"
)

func TestFSStore_PutGetDelete(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "data-lakes/users/User/a.jsonl", []byte("hello")))

	data, err := store.Get(ctx, "data-lakes/users/User/a.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, store.Delete(ctx, "data-lakes/users/User/a.jsonl"))

	_, err = store.Get(ctx, "data-lakes/users/User/a.jsonl")
	require.Error(t, err)
	assert.Equal(t, metiserr.KindNotFound, metiserr.KindOf(err))
}

func TestFSStore_ListReturnsEncodedKeys(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	// A key with a space must come back percent-encoded and still be
	// usable verbatim.
	require.NoError(t, store.Put(ctx, "data-lakes/users/User/file one.jsonl", []byte("x")))
	require.NoError(t, store.Put(ctx, "data-lakes/users/User/plain.jsonl", []byte("y")))
	require.NoError(t, store.Put(ctx, "data-lakes/orders/Order/other.jsonl", []byte("z")))

	keys, err := store.List(ctx, "data-lakes/users/User")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"data-lakes/users/User/file%20one.jsonl",
		"data-lakes/users/User/plain.jsonl",
	}, keys)

	data, err := store.Get(ctx, "data-lakes/users/User/file%20one.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestFSStore_ListMissingPrefix(t *testing.T) {
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)

	keys, err := store.List(context.Background(), "data-lakes/ghost")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func sampleRecords(t *testing.T) []DataRecord {
	t.Helper()
	base := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	return []DataRecord{
		{
			ID:         "r1",
			DataLake:   "users",
			SchemaName: "User",
			Data:       json.RawMessage(`{"name":"ada"}`),
			CreatedAt:  base,
			UpdatedAt:  base,
			CreatedBy:  "importer",
			Metadata:   json.RawMessage(`{"source":"csv"}`),
		},
		{
			ID:         "r2",
			DataLake:   "users",
			SchemaName: "User",
			Data:       json.RawMessage(`{"name":"grace"}`),
			CreatedAt:  base.Add(time.Minute),
			UpdatedAt:  base.Add(time.Minute),
		},
	}
}

func TestParquetRoundTrip(t *testing.T) {
	records := sampleRecords(t)

	data, err := encodeParquet(records)
	require.NoError(t, err)

	decoded, err := decodeParquet(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)

	assert.Equal(t, "r1", decoded[0].ID)
	assert.Equal(t, "users", decoded[0].DataLake)
	assert.Equal(t, "User", decoded[0].SchemaName)
	assert.JSONEq(t, `{"name":"ada"}`, string(decoded[0].Data))
	assert.Equal(t, "importer", decoded[0].CreatedBy)
	assert.JSONEq(t, `{"source":"csv"}`, string(decoded[0].Metadata))
	assert.True(t, decoded[0].CreatedAt.Equal(records[0].CreatedAt))

	assert.Equal(t, "r2", decoded[1].ID)
	assert.Empty(t, decoded[1].CreatedBy)
	assert.Nil(t, decoded[1].Metadata)
}

func TestJSONLRoundTrip(t *testing.T) {
	records := sampleRecords(t)

	data, err := encodeJSONL(records)
	require.NoError(t, err)

	decoded, err := decodeJSONL(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, "r1", decoded[0].ID)
	assert.JSONEq(t, `{"name":"grace"}`, string(decoded[1].Data))
}

func TestTombstoneKindJSON(t *testing.T) {
	del := DeleteTombstone("users", "User", "r1")
	data, err := json.Marshal(del)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"delete"`)

	upd := UpdateTombstone("users", "User", "r1", "r2")
	data, err = json.Marshal(upd)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":{"update":{"new_id":"r2"}}`)

	var decoded Tombstone
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "r2", decoded.Kind.NewID)
	assert.False(t, decoded.Kind.IsDelete())

	var decodedDel Tombstone
	data, _ = json.Marshal(del)
	require.NoError(t, json.Unmarshal(data, &decodedDel))
	assert.True(t, decodedDel.Kind.IsDelete())
}

func TestTombstoneKind_RejectsUnknown(t *testing.T) {
	var k TombstoneKind
	require.Error(t, json.Unmarshal([]byte(`"archive"`), &k))
	require.Error(t, json.Unmarshal([]byte(`{"update":{}}`), &k))
}

func TestKeyCodec(t *testing.T) {
	encoded := encodeKey("data-lakes/my lake/User/a b.jsonl")
	assert.Equal(t, "data-lakes/my%20lake/User/a%20b.jsonl", encoded)

	decoded, err := decodeKey(encoded)
	require.NoError(t, err)
	assert.Equal(t, "data-lakes/my lake/User/a b.jsonl", decoded)

	plain, err := decodeKey("data-lakes/users/User/a.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "data-lakes/users/User/a.jsonl", plain)
}
