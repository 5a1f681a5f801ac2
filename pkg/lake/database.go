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
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	// Drivers for the supported database URLs.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/mock"
)

const createRecordsTable = `CREATE TABLE IF NOT EXISTS data_records (
	id TEXT NOT NULL,
	data_lake TEXT NOT NULL,
	schema_name TEXT NOT NULL,
	data TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	created_by TEXT,
	metadata TEXT,
	PRIMARY KEY (data_lake, schema_name, id)
)`

// dbTarget is the database side of a lake: one row per record, hard
// deletes.
type dbTarget struct {
	db     *sql.DB
	driver string
}

// openDatabase connects to the lake's database URL and ensures the
// records table exists.
func openDatabase(ctx context.Context, url string) (*dbTarget, error) {
	driver, dsn, err := mock.ResolveDriver(url)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to open %s connection", driver)
	}
	if _, err := db.ExecContext(ctx, createRecordsTable); err != nil {
		db.Close()
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to create data_records table")
	}
	return &dbTarget{db: db, driver: driver}, nil
}

func (t *dbTarget) Close() error { return t.db.Close() }

// rebind rewrites ? placeholders for drivers that use numbered ones.
func (t *dbTarget) rebind(query string) string {
	if t.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (t *dbTarget) insert(ctx context.Context, records []DataRecord) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	query := t.rebind(`INSERT INTO data_records
		(id, data_lake, schema_name, data, created_at, updated_at, created_by, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, query,
			r.ID, r.DataLake, r.SchemaName, string(r.Data),
			r.CreatedAt.UTC().Format(time.RFC3339Nano),
			r.UpdatedAt.UTC().Format(time.RFC3339Nano),
			nullable(r.CreatedBy), nullable(string(r.Metadata)),
		); err != nil {
			return metiserr.Wrap(metiserr.KindStorage, err, "failed to insert record %q", r.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to commit inserts")
	}
	return nil
}

func (t *dbTarget) selectAll(ctx context.Context, lake, schema string) ([]DataRecord, error) {
	query := t.rebind(`SELECT id, data, created_at, updated_at, created_by, metadata
		FROM data_records WHERE data_lake = ? AND schema_name = ? ORDER BY created_at, id`)
	rows, err := t.db.QueryContext(ctx, query, lake, schema)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to query records")
	}
	defer rows.Close()

	records := []DataRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows, lake, schema)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to iterate records")
	}
	return records, nil
}

func (t *dbTarget) find(ctx context.Context, lake, schema, id string) (*DataRecord, error) {
	query := t.rebind(`SELECT id, data, created_at, updated_at, created_by, metadata
		FROM data_records WHERE data_lake = ? AND schema_name = ? AND id = ?`)
	rows, err := t.db.QueryContext(ctx, query, lake, schema, id)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to query record %q", id)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to read record %q", id)
		}
		return nil, nil
	}
	rec, err := scanRecord(rows, lake, schema)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (t *dbTarget) delete(ctx context.Context, lake, schema, id string) (bool, error) {
	query := t.rebind(`DELETE FROM data_records WHERE data_lake = ? AND schema_name = ? AND id = ?`)
	result, err := t.db.ExecContext(ctx, query, lake, schema, id)
	if err != nil {
		return false, metiserr.Wrap(metiserr.KindStorage, err, "failed to delete record %q", id)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, metiserr.Wrap(metiserr.KindStorage, err, "failed to count deleted rows")
	}
	return affected > 0, nil
}

// replace deletes the old row and inserts the new record in one
// transaction.
func (t *dbTarget) replace(ctx context.Context, oldID string, record DataRecord) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	del := t.rebind(`DELETE FROM data_records WHERE data_lake = ? AND schema_name = ? AND id = ?`)
	if _, err := tx.ExecContext(ctx, del, record.DataLake, record.SchemaName, oldID); err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to delete record %q", oldID)
	}

	ins := t.rebind(`INSERT INTO data_records
		(id, data_lake, schema_name, data, created_at, updated_at, created_by, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, ins,
		record.ID, record.DataLake, record.SchemaName, string(record.Data),
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
		record.UpdatedAt.UTC().Format(time.RFC3339Nano),
		nullable(record.CreatedBy), nullable(string(record.Metadata)),
	); err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to insert record %q", record.ID)
	}

	if err := tx.Commit(); err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to commit replace")
	}
	return nil
}

func scanRecord(rows *sql.Rows, lake, schema string) (DataRecord, error) {
	var (
		rec                  DataRecord
		data                 string
		createdAt, updatedAt string
		createdBy, metadata  sql.NullString
	)
	if err := rows.Scan(&rec.ID, &data, &createdAt, &updatedAt, &createdBy, &metadata); err != nil {
		return DataRecord{}, metiserr.Wrap(metiserr.KindStorage, err, "failed to scan record")
	}
	rec.DataLake = lake
	rec.SchemaName = schema
	rec.Data = json.RawMessage(data)
	rec.CreatedBy = createdBy.String
	if metadata.Valid && metadata.String != "" {
		rec.Metadata = json.RawMessage(metadata.String)
	}
	var err error
	if rec.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return DataRecord{}, err
	}
	if rec.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return DataRecord{}, err
	}
	return rec, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
