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

// Package session persists multi-turn agent conversations. Sessions are
// append-only: messages are added, never edited, and a session disappears
// only through explicit deletion.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metis-labs/metis/pkg/metiserr"
)

// Message is one conversation turn.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a conversation history owned by one agent.
type Session struct {
	ID        string    `json:"id"`
	AgentName string    `json:"agent_name"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can read without holding store
// locks.
func (s *Session) Clone() *Session {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return &out
}

// Store persists sessions.
type Store interface {
	// GetOrCreate returns the session with the given id, creating it if
	// missing. An empty id creates a session with a fresh UUID.
	GetOrCreate(ctx context.Context, id, agentName string) (*Session, error)

	// Append adds messages to an existing session.
	Append(ctx context.Context, id string, messages ...Message) error

	// Get returns a session or KindNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// List returns all session ids.
	List(ctx context.Context) ([]string, error)

	// Delete removes a session. Deleting a missing session is not an
	// error.
	Delete(ctx context.Context, id string) error
}

// MemoryStore is the default in-process backend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*Session)}
}

// GetOrCreate implements Store.
func (m *MemoryStore) GetOrCreate(_ context.Context, id, agentName string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id != "" {
		if s, ok := m.sessions[id]; ok {
			return s.Clone(), nil
		}
	} else {
		id = uuid.NewString()
	}

	now := time.Now().UTC()
	s := &Session{ID: id, AgentName: agentName, CreatedAt: now, UpdatedAt: now}
	m.sessions[id] = s
	return s.Clone(), nil
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, id string, messages ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return metiserr.New(metiserr.KindNotFound, "session %q not found", id)
	}
	now := time.Now().UTC()
	for _, msg := range messages {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = now
		}
		s.Messages = append(s.Messages, msg)
	}
	s.UpdatedAt = now
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, metiserr.New(metiserr.KindNotFound, "session %q not found", id)
	}
	return s.Clone(), nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
