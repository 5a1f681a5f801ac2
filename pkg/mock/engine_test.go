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

package mock

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"unicode"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/state"
)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	engine, err := NewEngine(state.NewStore(), opts...)
	require.NoError(t, err)
	return engine
}

func TestGenerate_Template(t *testing.T) {
	engine := newTestEngine(t)

	out, err := engine.Generate(context.Background(), &config.MockConfig{
		Strategy: config.StrategyTemplate,
		Template: "Hello, {{name}}!",
	}, map[string]interface{}{"name": "World"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", out)
}

func TestGenerate_TemplatePromotesJSON(t *testing.T) {
	engine := newTestEngine(t)

	out, err := engine.Generate(context.Background(), &config.MockConfig{
		Strategy: config.StrategyTemplate,
		Template: `{"id": {{id}}, "ok": true}`,
	}, map[string]interface{}{"id": 7})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"id": float64(7), "ok": true}, out)
}

func TestGenerate_Static(t *testing.T) {
	engine := newTestEngine(t)

	out, err := engine.Generate(context.Background(), &config.MockConfig{
		Strategy: config.StrategyStatic,
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGenerate_Random(t *testing.T) {
	engine := newTestEngine(t, WithFakerSeed(11))

	out, err := engine.Generate(context.Background(), &config.MockConfig{
		Strategy:  config.StrategyRandom,
		FakerKind: "email",
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "@")

	out, err = engine.Generate(context.Background(), &config.MockConfig{
		Strategy:  config.StrategyRandom,
		FakerKind: "nope",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, `unknown faker kind: nope`, out)
}

func TestGenerate_StatefulCounter(t *testing.T) {
	engine := newTestEngine(t)
	cfg := &config.MockConfig{
		Strategy: config.StrategyStateful,
		State:    &config.StateConfig{Op: config.StateOpIncrement, Key: "ctr"},
	}

	for want := int64(1); want <= 3; want++ {
		out, err := engine.Generate(context.Background(), cfg, map[string]interface{}{})
		require.NoError(t, err)
		assert.Equal(t, want, out)
	}
}

func TestGenerate_StatefulSetAndGet(t *testing.T) {
	engine := newTestEngine(t)
	args := map[string]interface{}{"color": "green"}

	_, err := engine.Generate(context.Background(), &config.MockConfig{
		Strategy: config.StrategyStateful,
		State:    &config.StateConfig{Op: config.StateOpSet, Key: "prefs"},
	}, args)
	require.NoError(t, err)

	out, err := engine.Generate(context.Background(), &config.MockConfig{
		Strategy: config.StrategyStateful,
		State:    &config.StateConfig{Op: config.StateOpGet, Key: "prefs"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, args, out)

	// Missing key reads as null.
	out, err = engine.Generate(context.Background(), &config.MockConfig{
		Strategy: config.StrategyStateful,
		State:    &config.StateConfig{Op: config.StateOpGet, Key: "absent"},
	}, nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGenerate_Script(t *testing.T) {
	engine := newTestEngine(t)

	out, err := engine.Generate(context.Background(), &config.MockConfig{
		Strategy: config.StrategyScript,
		Script:   &config.ScriptConfig{Code: `{"double": input.n * 2}`},
	}, map[string]interface{}{"n": 21})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"double": float64(42)}, out)
}

func TestGenerate_ScriptError(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Generate(context.Background(), &config.MockConfig{
		Strategy: config.StrategyScript,
		Script:   &config.ScriptConfig{Code: `input.missing.deep`},
	}, map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, metiserr.Is(err, metiserr.KindStrategyFailure))
}

func TestGenerate_FileSequentialWraps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.json")
	require.NoError(t, os.WriteFile(path, []byte(`["a", "b", "c"]`), 0o644))

	engine := newTestEngine(t)
	cfg := &config.MockConfig{
		Strategy: config.StrategyFile,
		File:     &config.FileConfig{Path: path, Selection: config.FileSelectionSequential},
	}

	var got []interface{}
	for i := 0; i < 4; i++ {
		out, err := engine.Generate(context.Background(), cfg, nil)
		require.NoError(t, err)
		got = append(got, out)
	}
	assert.Equal(t, []interface{}{"a", "b", "c", "a"}, got)
}

func TestGenerate_FileRandom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1, 2]`), 0o644))

	engine := newTestEngine(t)
	out, err := engine.Generate(context.Background(), &config.MockConfig{
		Strategy: config.StrategyFile,
		File:     &config.FileConfig{Path: path},
	}, nil)
	require.NoError(t, err)
	assert.Contains(t, []interface{}{float64(1), float64(2)}, out)
}

func TestGenerate_UnknownStrategy(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.Generate(context.Background(), &config.MockConfig{Strategy: "telepathy"}, nil)
	require.Error(t, err)
	assert.True(t, metiserr.Is(err, metiserr.KindInvalidRequest))
}

func TestExpandPattern(t *testing.T) {
	out, err := ExpandPattern(`ID-\d\d\d`)
	require.NoError(t, err)
	require.Len(t, out, 6)
	assert.Equal(t, "ID-", out[:3])
	for _, r := range out[3:] {
		assert.True(t, unicode.IsDigit(r))
	}

	out, err = ExpandPattern(`\w\w`)
	require.NoError(t, err)
	for _, r := range out {
		assert.True(t, unicode.IsLetter(r))
	}

	// Escaped characters are literal.
	out, err = ExpandPattern(`\\d`)
	require.NoError(t, err)
	assert.Equal(t, `\d`, out)

	_, err = ExpandPattern(`oops\`)
	require.Error(t, err)
}

func TestResolveDriver(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantDSN    string
	}{
		{"postgres://u:p@localhost/db", "postgres", "postgres://u:p@localhost/db"},
		{"mysql://u:p@tcp(localhost:3306)/db", "mysql", "u:p@tcp(localhost:3306)/db"},
		{"sqlite:///tmp/test.db", "sqlite", "/tmp/test.db"},
		{"fixtures/data.db", "sqlite", "fixtures/data.db"},
		{":memory:", "sqlite", ":memory:"},
	}
	for _, tt := range tests {
		driver, dsn, err := ResolveDriver(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.wantDriver, driver)
		assert.Equal(t, tt.wantDSN, dsn)
	}

	_, _, err := ResolveDriver("redis://localhost")
	require.Error(t, err)
}

func TestGenerate_Database_SQLite(t *testing.T) {
	engine := newTestEngine(t)

	path := filepath.Join(t.TempDir(), "mock.db")
	seed, err := engine.Generate(context.Background(), &config.MockConfig{
		Strategy: config.StrategyDatabase,
		Database: &config.DatabaseMockConfig{
			URL:   "sqlite://" + path,
			Query: `SELECT 'alice' AS name, 30 AS age`,
		},
	}, nil)
	require.NoError(t, err)

	rows, ok := seed.([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["name"])
}
