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

// Package state provides the process-local key/value store used by stateful
// mock strategies and the sequential file-selection cursor.
package state

import (
	"encoding/json"
	"sync"
)

// Store is a concurrency-safe string-keyed value store.
// Increment holds the write lock for the full read-modify-write cycle so
// concurrent increments never observe the same value.
type Store struct {
	mu   sync.RWMutex
	data map[string]interface{}
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]interface{}),
	}
}

// Get returns the value stored at key.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value at key, replacing any previous value.
func (s *Store) Set(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Delete removes the value at key.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Increment atomically adds 1 to the integer stored at key and returns the
// new value. A missing or non-integer value is treated as 0.
func (s *Store) Increment(key string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := asInt64(s.data[key])
	n++
	s.data[key] = n
	return n
}

// Keys returns a snapshot of the stored keys.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}

// asInt64 coerces the stored value to an integer. Values arriving through
// JSON decoding may be float64 or json.Number.
func asInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		if n == float64(int64(n)) {
			return int64(n)
		}
		return 0
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i
		}
		return 0
	default:
		return 0
	}
}
