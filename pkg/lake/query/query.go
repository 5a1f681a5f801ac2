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

// Package query exposes data-lake schemas as read-only SQL tables in
// an in-memory SQLite database. Registering a (lake, schema) pair
// loads its active set into a logical table named
// "{lake}.{schema}"; the data and metadata columns hold serialized
// JSON and nested fields are reached with json_extract.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/metis-labs/metis/pkg/lake"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/mock"
)

// writeKeyword is a first-pass guard, not a SQL parser. Statements are
// additionally required to start with SELECT or WITH.
var writeKeyword = regexp.MustCompile(`\b(drop|delete|truncate|alter|insert|update)\b`)

// Engine runs read-only queries over registered lake tables.
type Engine struct {
	db     *sql.DB
	lakes  *lake.Service
	logger *zap.Logger

	mu     sync.Mutex
	tables map[string]*sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a query engine backed by a fresh in-memory SQLite
// database.
func NewEngine(lakes *lake.Service, opts ...Option) (*Engine, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to open query database")
	}
	// A second pool connection would see its own empty :memory:
	// database, so the pool is pinned to one.
	db.SetMaxOpenConns(1)

	e := &Engine{
		db:     db,
		lakes:  lakes,
		logger: zap.NewNop(),
		tables: map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Close releases the query database.
func (e *Engine) Close() error { return e.db.Close() }

// Register publishes the schema's active set as a logical table and
// returns its name. Re-registering re-reads the active set, so callers
// always query a fresh snapshot. Registrations for the same
// (lake, schema) are serialized.
func (e *Engine) Register(ctx context.Context, lakeName, schema string) (string, error) {
	table := TableName(lakeName, schema)
	lock := e.tableLock(lakeName, schema)
	lock.Lock()
	defer lock.Unlock()

	records, err := e.lakes.ReadActiveRecords(ctx, lakeName, schema)
	if err != nil {
		return "", err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return "", metiserr.Wrap(metiserr.KindStorage, err, "failed to begin registration")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %q`, table)); err != nil {
		return "", metiserr.Wrap(metiserr.KindStorage, err, "failed to drop table %q", table)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE %q (
		id TEXT NOT NULL,
		data_lake TEXT NOT NULL,
		schema_name TEXT NOT NULL,
		data TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		created_by TEXT,
		metadata TEXT
	)`, table)); err != nil {
		return "", metiserr.Wrap(metiserr.KindStorage, err, "failed to create table %q", table)
	}

	insert := fmt.Sprintf(`INSERT INTO %q
		(id, data_lake, schema_name, data, created_at, updated_at, created_by, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, table)
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, insert,
			r.ID, r.DataLake, r.SchemaName, string(r.Data),
			r.CreatedAt.UTC().Format(time.RFC3339Nano),
			r.UpdatedAt.UTC().Format(time.RFC3339Nano),
			r.CreatedBy, string(r.Metadata),
		); err != nil {
			return "", metiserr.Wrap(metiserr.KindStorage, err, "failed to load record %q into %q", r.ID, table)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", metiserr.Wrap(metiserr.KindStorage, err, "failed to commit registration")
	}

	e.logger.Debug("registered lake table",
		zap.String("table", table),
		zap.Int("records", len(records)))
	return table, nil
}

// Query executes a read-only statement and returns the rows as
// column-keyed objects.
func (e *Engine) Query(ctx context.Context, statement string) ([]map[string]interface{}, error) {
	if err := checkReadOnly(statement); err != nil {
		return nil, err
	}
	rows, err := e.db.QueryContext(ctx, statement)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindInvalidRequest, err, "query failed")
	}
	defer rows.Close()
	return mock.ScanRows(rows)
}

// checkReadOnly rejects statements that are not plain reads.
func checkReadOnly(statement string) error {
	folded := strings.ToLower(strings.TrimSpace(statement))
	if !strings.HasPrefix(folded, "select") && !strings.HasPrefix(folded, "with") {
		return metiserr.New(metiserr.KindInvalidRequest, "only SELECT statements are allowed")
	}
	if match := writeKeyword.FindString(folded); match != "" {
		return metiserr.New(metiserr.KindInvalidRequest, "statement contains forbidden keyword %q", match)
	}
	return nil
}

// TableName is the logical table for a (lake, schema) pair:
// non-identifier characters are replaced with underscores and the
// parts joined with a dot.
func TableName(lakeName, schema string) string {
	return sanitize(lakeName) + "." + sanitize(schema)
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func (e *Engine) tableLock(lakeName, schema string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := lakeName + "\x00" + schema
	lock, ok := e.tables[key]
	if !ok {
		lock = &sync.Mutex{}
		e.tables[key] = lock
	}
	return lock
}
