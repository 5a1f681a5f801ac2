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

package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/metis-labs/metis/pkg/metiserr"
)

// SQLiteStore persists sessions in a single sessions table with the
// message list serialized as JSON. Suitable for a single-process server
// that must survive restarts.
type SQLiteStore struct {
	db *sql.DB
}

const sessionSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	agent_name TEXT NOT NULL,
	messages   TEXT NOT NULL DEFAULT '[]',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

// NewSQLiteStore opens (creating if needed) a session database at path.
// Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to open session database %s", path)
	}
	// modernc.org/sqlite serializes writes itself; a single connection
	// avoids SQLITE_BUSY under concurrent appends.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sessionSchema); err != nil {
		db.Close()
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to create sessions table")
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetOrCreate implements Store.
func (s *SQLiteStore) GetOrCreate(ctx context.Context, id, agentName string) (*Session, error) {
	if id != "" {
		sess, err := s.Get(ctx, id)
		if err == nil {
			return sess, nil
		}
		if !metiserr.Is(err, metiserr.KindNotFound) {
			return nil, err
		}
	} else {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	sess := &Session{ID: id, AgentName: agentName, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, agent_name, messages, created_at, updated_at) VALUES (?, ?, '[]', ?, ?)`,
		sess.ID, sess.AgentName, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to create session")
	}
	return sess, nil
}

// Append implements Store. The read-modify-write runs in a transaction.
func (s *SQLiteStore) Append(ctx context.Context, id string, messages ...Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to begin transaction")
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT messages FROM sessions WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return metiserr.New(metiserr.KindNotFound, "session %q not found", id)
	}
	if err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to load session")
	}

	var existing []Message
	if err := json.Unmarshal([]byte(raw), &existing); err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "corrupt session %q", id)
	}

	now := time.Now().UTC()
	for _, msg := range messages {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		existing = append(existing, msg)
	}
	updated, err := json.Marshal(existing)
	if err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to encode messages")
	}

	_, err = tx.ExecContext(ctx, `UPDATE sessions SET messages = ?, updated_at = ? WHERE id = ?`,
		string(updated), now.Format(time.RFC3339Nano), id)
	if err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to update session")
	}
	return tx.Commit()
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	var (
		sess         Session
		raw          string
		created, upd string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_name, messages, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.AgentName, &raw, &created, &upd)
	if err == sql.ErrNoRows {
		return nil, metiserr.New(metiserr.KindNotFound, "session %q not found", id)
	}
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to load session")
	}

	if err := json.Unmarshal([]byte(raw), &sess.Messages); err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "corrupt session %q", id)
	}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, upd)
	return &sess, nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to list sessions")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to scan session id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to delete session")
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
