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

package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/mock"
	"github.com/metis-labs/metis/pkg/state"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Name: "metis-test", Version: "0.0.1"},
		Tools: []config.ToolConfig{
			{
				Name:        "echo",
				Description: "Returns its input verbatim",
				InputSchema: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{"value": map[string]interface{}{"type": "string"}},
					"required":   []interface{}{"value"},
				},
				Response: map[string]interface{}{"ok": true},
			},
			{
				Name: "greet",
				Mock: &config.MockConfig{
					Strategy: config.StrategyTemplate,
					Template: "Hello, {{name}}!",
				},
			},
		},
		Resources: []config.ResourceConfig{
			{
				Name:    "catalog",
				URI:     "file:///catalog.json",
				Content: map[string]interface{}{"items": []interface{}{"a", "b"}},
			},
		},
		ResourceTemplates: []config.ResourceTemplateConfig{
			{
				Name:        "user",
				URITemplate: "users://{id}/profile",
				Mock: &config.MockConfig{
					Strategy: config.StrategyTemplate,
					Template: `{"id": "{{id}}", "plan": "free"}`,
				},
			},
		},
		Prompts: []config.PromptConfig{
			{
				Name:      "summarize",
				Arguments: []config.PromptArgument{{Name: "text", Required: true}},
				Template:  "Summarize this: {{text}}",
			},
		},
		Workflows: []config.WorkflowConfig{
			{
				Name:  "pipeline",
				Steps: []config.StepConfig{{ID: "s1", Tool: "greet"}},
			},
		},
		Agents: []config.AgentConfig{
			{
				Name:     "helper",
				Kind:     config.AgentSingleTurn,
				Provider: config.ProviderBinding{Kind: config.ProviderOllama},
				Tools:    []string{"greet"},
			},
		},
	}
	snap, err := config.Validate(cfg)
	require.NoError(t, err)

	engine, err := mock.NewEngine(state.NewStore())
	require.NoError(t, err)
	return New(config.NewProvider(snap), engine)
}

func TestRegistry_ListTools_Merged(t *testing.T) {
	r := testRegistry(t)

	tools, err := r.ListTools(context.Background())
	require.NoError(t, err)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"echo",
		"greet",
		"agent_helper",
		"workflow_pipeline",
		"resource_catalog",
		"resource_template_user",
	}, names)
}

func TestRegistry_CallTool_StaticResponse(t *testing.T) {
	r := testRegistry(t)

	out, err := r.CallTool(context.Background(), "echo", map[string]interface{}{"value": "hi"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"ok": true}, out)
}

func TestRegistry_CallTool_SchemaRejectsBadArguments(t *testing.T) {
	r := testRegistry(t)

	_, err := r.CallTool(context.Background(), "echo", map[string]interface{}{"value": 7})
	require.Error(t, err)
	assert.Equal(t, metiserr.KindInvalidRequest, metiserr.KindOf(err))

	_, err = r.CallTool(context.Background(), "echo", nil)
	require.Error(t, err)
	assert.Equal(t, metiserr.KindInvalidRequest, metiserr.KindOf(err))
}

func TestRegistry_CallTool_MockTemplate(t *testing.T) {
	r := testRegistry(t)

	out, err := r.CallTool(context.Background(), "greet", map[string]interface{}{"name": "World"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", out)
}

func TestRegistry_CallTool_Unknown(t *testing.T) {
	r := testRegistry(t)

	_, err := r.CallTool(context.Background(), "nonexistent", nil)
	require.Error(t, err)
	assert.Equal(t, metiserr.KindNotFound, metiserr.KindOf(err))
}

func TestRegistry_CallTool_AgentWithoutRuntime(t *testing.T) {
	r := testRegistry(t)

	_, err := r.CallTool(context.Background(), "agent_helper", nil)
	require.Error(t, err)
	assert.Equal(t, metiserr.KindConfiguration, metiserr.KindOf(err))
}

func TestRegistry_CallTool_RunnerRouting(t *testing.T) {
	r := testRegistry(t)

	r.SetAgentRunner(func(_ context.Context, name string, args map[string]interface{}) (interface{}, error) {
		return "agent:" + name, nil
	})
	r.SetWorkflowRunner(func(_ context.Context, name string, args map[string]interface{}) (interface{}, error) {
		return "workflow:" + name, nil
	})

	out, err := r.CallTool(context.Background(), "agent_helper", nil)
	require.NoError(t, err)
	assert.Equal(t, "agent:helper", out)

	out, err = r.CallTool(context.Background(), "workflow_pipeline", nil)
	require.NoError(t, err)
	assert.Equal(t, "workflow:pipeline", out)
}

func TestRegistry_ReadResource_Exact(t *testing.T) {
	r := testRegistry(t)

	contents, err := r.ReadResource(context.Background(), "file:///catalog.json")
	require.NoError(t, err)
	assert.Equal(t, "file:///catalog.json", contents.URI)
	assert.Equal(t, "application/json", contents.MimeType)
	assert.JSONEq(t, `{"items":["a","b"]}`, contents.Text)
}

func TestRegistry_ReadResource_TemplateMatch(t *testing.T) {
	r := testRegistry(t)

	contents, err := r.ReadResource(context.Background(), "users://42/profile")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"42","plan":"free"}`, contents.Text)
}

func TestRegistry_ReadResource_NotFound(t *testing.T) {
	r := testRegistry(t)

	_, err := r.ReadResource(context.Background(), "users://42/missing")
	require.Error(t, err)
	assert.Equal(t, metiserr.KindNotFound, metiserr.KindOf(err))
}

func TestRegistry_ResourceTemplateTool(t *testing.T) {
	r := testRegistry(t)

	out, err := r.CallTool(context.Background(), "resource_template_user", map[string]interface{}{"id": "7"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"id": "7", "plan": "free"}, out)

	_, err = r.CallTool(context.Background(), "resource_template_user", nil)
	require.Error(t, err)
	assert.Equal(t, metiserr.KindInvalidRequest, metiserr.KindOf(err))
}

func TestRegistry_ResourceTool(t *testing.T) {
	r := testRegistry(t)

	out, err := r.CallTool(context.Background(), "resource_catalog", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"items": []interface{}{"a", "b"}}, out)
}

func TestRegistry_GetPrompt(t *testing.T) {
	r := testRegistry(t)

	result, err := r.GetPrompt(context.Background(), "summarize", map[string]interface{}{"text": "a long document"})
	require.NoError(t, err)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "user", result.Messages[0].Role)
	assert.Equal(t, "Summarize this: a long document", result.Messages[0].Content.Text)
}

func TestRegistry_GetPrompt_MissingRequiredArgument(t *testing.T) {
	r := testRegistry(t)

	_, err := r.GetPrompt(context.Background(), "summarize", nil)
	require.Error(t, err)
	assert.Equal(t, metiserr.KindInvalidRequest, metiserr.KindOf(err))
}

func TestRegistry_AllowedTools(t *testing.T) {
	r := testRegistry(t)

	agent := &config.AgentConfig{
		Name:      "helper",
		Tools:     []string{"greet", "does_not_exist"},
		Resources: []string{"catalog"},
	}
	tools, err := r.AllowedTools(context.Background(), agent)
	require.NoError(t, err)

	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"greet", "resource_catalog"}, names)
}

func TestRegistry_AllowedTools_EmptyListsGrantNothing(t *testing.T) {
	r := testRegistry(t)

	tools, err := r.AllowedTools(context.Background(), &config.AgentConfig{Name: "locked"})
	require.NoError(t, err)
	assert.Empty(t, tools)
}

func TestMatchURITemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		uri      string
		want     map[string]interface{}
		ok       bool
	}{
		{"trailing param", "users://{id}", "users://42", map[string]interface{}{"id": "42"}, true},
		{"middle param", "users://{id}/profile", "users://42/profile", map[string]interface{}{"id": "42"}, true},
		{"two params", "db://{lake}/{schema}", "db://sales/orders", map[string]interface{}{"lake": "sales", "schema": "orders"}, true},
		{"literal mismatch", "users://{id}/profile", "users://42/settings", nil, false},
		{"empty value", "users://{id}/profile", "users:///profile", nil, false},
		{"no params exact", "static://x", "static://x", map[string]interface{}{}, true},
		{"no params mismatch", "static://x", "static://y", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params, ok := matchURITemplate(tt.template, tt.uri)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, params)
			}
		})
	}
}
