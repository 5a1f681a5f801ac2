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

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metis-labs/metis/pkg/metiserr"
)

func schemaMap(schemas ...SchemaConfig) map[string]*SchemaConfig {
	m := make(map[string]*SchemaConfig, len(schemas))
	for i := range schemas {
		m[schemas[i].Name] = &schemas[i]
	}
	return m
}

func TestResolveRefs_ReplacesReference(t *testing.T) {
	schemas := schemaMap(SchemaConfig{
		Name: "User",
		Schema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"name": map[string]interface{}{"type": "string"},
			},
		},
	})

	in := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"user": map[string]interface{}{"$ref": "User"},
		},
	}

	out, err := ResolveRefs(in, schemas)
	require.NoError(t, err)

	user := out.(map[string]interface{})["properties"].(map[string]interface{})["user"].(map[string]interface{})
	assert.Equal(t, "object", user["type"])
	assert.Contains(t, user["properties"], "name")
}

func TestResolveRefs_NestedReferences(t *testing.T) {
	schemas := schemaMap(
		SchemaConfig{
			Name: "Address",
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"city": map[string]interface{}{"type": "string"},
				},
			},
		},
		SchemaConfig{
			Name: "User",
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"address": map[string]interface{}{"$ref": "Address"},
				},
			},
		},
	)

	out, err := ResolveRefs(map[string]interface{}{"$ref": "User"}, schemas)
	require.NoError(t, err)

	addr := out.(map[string]interface{})["properties"].(map[string]interface{})["address"].(map[string]interface{})
	assert.Equal(t, "object", addr["type"])
}

func TestResolveRefs_UnknownReference(t *testing.T) {
	_, err := ResolveRefs(map[string]interface{}{"$ref": "Nope"}, schemaMap())
	require.Error(t, err)
	assert.True(t, metiserr.Is(err, metiserr.KindConfiguration))
}

func TestResolveRefs_CycleRejected(t *testing.T) {
	schemas := schemaMap(
		SchemaConfig{Name: "A", Schema: map[string]interface{}{"items": map[string]interface{}{"$ref": "B"}}},
		SchemaConfig{Name: "B", Schema: map[string]interface{}{"items": map[string]interface{}{"$ref": "A"}}},
	)

	_, err := ResolveRefs(map[string]interface{}{"$ref": "A"}, schemas)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

// Resolution must be idempotent: a resolved value contains no further
// resolvable references.
func TestResolveRefs_Idempotent(t *testing.T) {
	schemas := schemaMap(SchemaConfig{
		Name:   "Thing",
		Schema: map[string]interface{}{"type": "string"},
	})

	in := map[string]interface{}{
		"properties": map[string]interface{}{
			"a": map[string]interface{}{"$ref": "Thing"},
			"b": []interface{}{map[string]interface{}{"$ref": "Thing"}},
		},
	}

	once, err := ResolveRefs(in, schemas)
	require.NoError(t, err)
	twice, err := ResolveRefs(once, schemas)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}
