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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlConfig = `
server:
  name: metis-test
  version: "1.0.0"
tools:
  - name: greet
    description: Greets the caller
    input_schema:
      type: object
      properties:
        name:
          type: string
    mock:
      strategy: template
      template: "Hello, {{name}}!"
workflows:
  - name: pipeline
    steps:
      - id: a
        tool: greet
        arguments:
          name: "{{input.who}}"
`

func TestLoadBytes_YAML(t *testing.T) {
	cfg, err := LoadBytes([]byte(yamlConfig), "yaml")
	require.NoError(t, err)

	assert.Equal(t, "metis-test", cfg.Server.Name)
	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "template", cfg.Tools[0].Mock.Strategy)
	require.Len(t, cfg.Workflows, 1)
	assert.Equal(t, "{{input.who}}", cfg.Workflows[0].Steps[0].Arguments["name"])
}

func TestLoadBytes_JSON(t *testing.T) {
	data := []byte(`{
		"server": {"name": "metis-json", "version": "2"},
		"tools": [{"name": "t", "response": {"camelCaseKey": 1}}]
	}`)

	cfg, err := LoadBytes(data, "json")
	require.NoError(t, err)
	assert.Equal(t, "metis-json", cfg.Server.Name)

	// Property-name case must survive decoding.
	resp := cfg.Tools[0].Response.(map[string]interface{})
	assert.Contains(t, resp, "camelCaseKey")
}

func TestLoadBytes_TOML(t *testing.T) {
	data := []byte(`
[server]
name = "metis-toml"
version = "3"

[[tools]]
name = "t"
response = "ok"
`)

	cfg, err := LoadBytes(data, "toml")
	require.NoError(t, err)
	assert.Equal(t, "metis-toml", cfg.Server.Name)
	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "ok", cfg.Tools[0].Response)
}

func TestLoadBytes_UnsupportedFormat(t *testing.T) {
	_, err := LoadBytes([]byte("x"), "ini")
	require.Error(t, err)
}

func TestLoad_FileEndToEnd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "metis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlConfig), 0o600))

	snap, err := Load(path)
	require.NoError(t, err)

	_, ok := snap.Tool("greet")
	assert.True(t, ok)
	_, ok = snap.Workflow("pipeline")
	assert.True(t, ok)
}

func TestProvider_PublishAndLoad(t *testing.T) {
	snap1, err := Validate(validConfig())
	require.NoError(t, err)

	p := NewProvider(snap1)
	assert.Same(t, snap1, p.Load())

	cfg2 := validConfig()
	cfg2.Server.Name = "second"
	snap2, err := Validate(cfg2)
	require.NoError(t, err)

	p.Publish(snap2)
	assert.Same(t, snap2, p.Load())
}
