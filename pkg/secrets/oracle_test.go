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

package secrets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_LookupConfiguredValue(t *testing.T) {
	s := NewStore(map[string]string{"MY_KEY": "configured"})

	v, ok := s.Lookup(context.Background(), "MY_KEY")
	assert.True(t, ok)
	assert.Equal(t, "configured", v)
}

func TestStore_LookupFallsBackToEnvironment(t *testing.T) {
	t.Setenv("METIS_TEST_SECRET", "from-env")
	s := NewStore(nil)

	v, ok := s.Lookup(context.Background(), "METIS_TEST_SECRET")
	assert.True(t, ok)
	assert.Equal(t, "from-env", v)
}

func TestStore_ConfiguredValueWinsOverEnvironment(t *testing.T) {
	t.Setenv("METIS_TEST_SECRET", "from-env")
	s := NewStore(map[string]string{"METIS_TEST_SECRET": "configured"})

	v, ok := s.Lookup(context.Background(), "METIS_TEST_SECRET")
	assert.True(t, ok)
	assert.Equal(t, "configured", v)
}

func TestStore_LookupUnknownKey(t *testing.T) {
	s := NewStore(nil)

	_, ok := s.Lookup(context.Background(), "METIS_DEFINITELY_NOT_SET")
	assert.False(t, ok)
}

func TestStore_Replace(t *testing.T) {
	s := NewStore(map[string]string{"A": "1"})
	s.Replace(map[string]string{"B": "2"})

	_, ok := s.Lookup(context.Background(), "A")
	assert.False(t, ok)
	v, ok := s.Lookup(context.Background(), "B")
	assert.True(t, ok)
	assert.Equal(t, "2", v)
}
