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

// Package secrets implements the secret oracle: an opaque key to value
// lookup backed by the configured secrets section with process-environment
// fallback.
package secrets

import (
	"context"
	"os"
	"sync"
)

// Oracle resolves secret values by key. Implementations must be safe for
// concurrent use.
type Oracle interface {
	// Lookup returns the value for key, or false if the key is unknown to
	// both the configured store and the process environment.
	Lookup(ctx context.Context, key string) (string, bool)
}

// Store is the default Oracle: configured values first, environment second.
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStore creates a Store seeded with the given values. A nil map is valid.
func NewStore(values map[string]string) *Store {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Store{values: copied}
}

// Lookup implements Oracle.
func (s *Store) Lookup(_ context.Context, key string) (string, bool) {
	s.mu.RLock()
	v, ok := s.values[key]
	s.mu.RUnlock()
	if ok && v != "" {
		return v, true
	}
	if env := os.Getenv(key); env != "" {
		return env, true
	}
	return "", false
}

// Replace swaps the configured values, typically on config reload.
func (s *Store) Replace(values map[string]string) {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	s.mu.Lock()
	s.values = copied
	s.mu.Unlock()
}

var _ Oracle = (*Store)(nil)
