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

package query

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/lake"
	"github.com/metis-labs/metis/pkg/metiserr"
)

func testEngine(t *testing.T) (*Engine, *lake.Service) {
	t.Helper()

	store, err := lake.NewFSStore(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		Schemas: []config.SchemaConfig{
			{Name: "User", Schema: map[string]interface{}{"type": "object"}},
		},
		DataLakes: []config.DataLakeConfig{{
			Name:       "user-data",
			Schemas:    []string{"User"},
			Storage:    config.LakeStorageFile,
			Format:     config.LakeFormatJSONL,
			SQLQueries: true,
		}},
	}
	snap, err := config.Validate(cfg)
	require.NoError(t, err)

	svc := lake.NewService(config.NewProvider(snap), lake.WithObjectStore(store))
	t.Cleanup(func() { svc.Close() })

	engine, err := NewEngine(svc)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine, svc
}

func writeUsers(t *testing.T, svc *lake.Service, docs ...string) []lake.DataRecord {
	t.Helper()
	records := make([]lake.DataRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, lake.DataRecord{Data: json.RawMessage(doc)})
	}
	written, err := svc.WriteRecords(context.Background(), "user-data", "User", records)
	require.NoError(t, err)
	return written
}

func TestTableName(t *testing.T) {
	assert.Equal(t, "user_data.User", TableName("user-data", "User"))
	assert.Equal(t, "my_lake.Order_v2", TableName("my lake", "Order v2"))
}

func TestRegisterAndQuery(t *testing.T) {
	engine, svc := testEngine(t)
	ctx := context.Background()

	writeUsers(t, svc,
		`{"name":"ada","address":{"city":"Oslo"}}`,
		`{"name":"grace","address":{"city":"Bergen"}}`,
	)

	table, err := engine.Register(ctx, "user-data", "User")
	require.NoError(t, err)
	assert.Equal(t, "user_data.User", table)

	rows, err := engine.Query(ctx,
		`SELECT json_extract(data, '$.name') AS name,
		        json_extract(data, '$.address.city') AS city
		 FROM "user_data.User" ORDER BY name`)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "ada", rows[0]["name"])
	assert.Equal(t, "Oslo", rows[0]["city"])
	assert.Equal(t, "grace", rows[1]["name"])
	assert.Equal(t, "Bergen", rows[1]["city"])
}

func TestRegister_RefreshesSnapshot(t *testing.T) {
	engine, svc := testEngine(t)
	ctx := context.Background()

	writeUsers(t, svc, `{"name":"ada"}`)
	_, err := engine.Register(ctx, "user-data", "User")
	require.NoError(t, err)

	rows, err := engine.Query(ctx, `SELECT count(*) AS n FROM "user_data.User"`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows[0]["n"])

	// New writes are invisible until re-registration.
	writeUsers(t, svc, `{"name":"grace"}`)
	rows, err = engine.Query(ctx, `SELECT count(*) AS n FROM "user_data.User"`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, rows[0]["n"])

	_, err = engine.Register(ctx, "user-data", "User")
	require.NoError(t, err)
	rows, err = engine.Query(ctx, `SELECT count(*) AS n FROM "user_data.User"`)
	require.NoError(t, err)
	assert.EqualValues(t, 2, rows[0]["n"])
}

func TestRegister_ExcludesTombstonedRecords(t *testing.T) {
	engine, svc := testEngine(t)
	ctx := context.Background()

	written := writeUsers(t, svc, `{"name":"ada"}`, `{"name":"grace"}`)
	require.NoError(t, svc.DeleteRecord(ctx, "user-data", "User", written[0].ID))

	_, err := engine.Register(ctx, "user-data", "User")
	require.NoError(t, err)

	rows, err := engine.Query(ctx, `SELECT id FROM "user_data.User"`)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, written[1].ID, rows[0]["id"])
}

func TestQuery_RejectsWrites(t *testing.T) {
	engine, _ := testEngine(t)
	ctx := context.Background()

	for _, statement := range []string{
		`INSERT INTO "user_data.User" (id) VALUES ('x')`,
		`DROP TABLE "user_data.User"`,
		`DELETE FROM "user_data.User"`,
		`SELECT * FROM "user_data.User"; DROP TABLE "user_data.User"`,
		`UPDATE "user_data.User" SET id = 'x'`,
		`PRAGMA journal_mode`,
	} {
		_, err := engine.Query(ctx, statement)
		require.Error(t, err, statement)
		assert.Equal(t, metiserr.KindInvalidRequest, metiserr.KindOf(err), statement)
	}
}

func TestQuery_UnknownTable(t *testing.T) {
	engine, _ := testEngine(t)

	_, err := engine.Query(context.Background(), `SELECT * FROM "ghost.Table"`)
	require.Error(t, err)
	assert.Equal(t, metiserr.KindInvalidRequest, metiserr.KindOf(err))
}
