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

// Package registry is the dispatch hub between the MCP surface and the
// execution subsystems. It serves the merged tool/resource/prompt views
// over the current config snapshot and routes tool calls by name prefix
// to the mock engine, the agent runtime, the workflow engine, or the
// outbound MCP aggregator.
package registry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/mcp/client"
	"github.com/metis-labs/metis/pkg/mcp/protocol"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/mock"
)

// Runner executes a named agent, workflow, or orchestration with the
// given arguments. The runtimes register themselves after construction
// because they call back into the registry for their own tool access.
type Runner func(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)

// Registry routes tool, resource, and prompt operations.
type Registry struct {
	provider *config.Provider
	engine   *mock.Engine
	logger   *zap.Logger

	mu             sync.RWMutex
	mcp            *client.Aggregator
	agentRunner    Runner
	workflowRunner Runner
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithAggregator wires the outbound MCP aggregator.
func WithAggregator(agg *client.Aggregator) Option {
	return func(r *Registry) { r.mcp = agg }
}

// New creates a registry over the snapshot provider and mock engine.
func New(provider *config.Provider, engine *mock.Engine, opts ...Option) *Registry {
	r := &Registry{
		provider: provider,
		engine:   engine,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetAgentRunner installs the agent runtime's execution entry point.
func (r *Registry) SetAgentRunner(run Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agentRunner = run
}

// SetWorkflowRunner installs the workflow engine's execution entry point.
func (r *Registry) SetWorkflowRunner(run Runner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflowRunner = run
}

func (r *Registry) snapshot() (*config.Snapshot, error) {
	snap := r.provider.Load()
	if snap == nil {
		return nil, metiserr.New(metiserr.KindConfiguration, "no configuration loaded")
	}
	return snap, nil
}

// ListTools returns the merged tool view: local tools, agents, workflows,
// resource readers, and every tool aggregated from external MCP servers.
func (r *Registry) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}

	var tools []protocol.Tool
	for i := range snap.Config.Tools {
		t := &snap.Config.Tools[i]
		tools = append(tools, protocol.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: orEmptySchema(t.InputSchema),
		})
	}
	for i := range snap.Config.Agents {
		a := &snap.Config.Agents[i]
		tools = append(tools, protocol.Tool{
			Name:        config.PrefixAgent + a.Name,
			Description: describe(a.Description, "Invoke the "+a.Name+" agent"),
			InputSchema: agentInputSchema(a),
		})
	}
	for i := range snap.Config.Orchestrations {
		o := &snap.Config.Orchestrations[i]
		if _, taken := snap.Agent(o.Name); taken {
			continue
		}
		tools = append(tools, protocol.Tool{
			Name:        config.PrefixAgent + o.Name,
			Description: "Run the " + o.Name + " orchestration",
			InputSchema: orEmptySchema(nil),
		})
	}
	for i := range snap.Config.Workflows {
		w := &snap.Config.Workflows[i]
		tools = append(tools, protocol.Tool{
			Name:        config.PrefixWorkflow + w.Name,
			Description: describe(w.Description, "Execute the "+w.Name+" workflow"),
			InputSchema: orEmptySchema(nil),
		})
	}
	for i := range snap.Config.Resources {
		res := &snap.Config.Resources[i]
		tools = append(tools, protocol.Tool{
			Name:        config.PrefixResource + res.Name,
			Description: describe(res.Description, "Read the "+res.Name+" resource"),
			InputSchema: orEmptySchema(nil),
		})
	}
	for i := range snap.Config.ResourceTemplates {
		rt := &snap.Config.ResourceTemplates[i]
		tools = append(tools, protocol.Tool{
			Name:        config.PrefixResourceTemplate + rt.Name,
			Description: describe(rt.Description, "Read the "+rt.Name+" resource template"),
			InputSchema: templateInputSchema(rt.URITemplate),
		})
	}

	r.mu.RLock()
	agg := r.mcp
	r.mu.RUnlock()
	if agg != nil {
		tools = append(tools, agg.Tools()...)
	}
	return tools, nil
}

// CallTool routes a tool call by prefix. Local tool arguments are checked
// against the tool's input schema before execution.
func (r *Registry) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	switch {
	case strings.HasPrefix(name, config.PrefixAgent):
		return r.runAgent(ctx, strings.TrimPrefix(name, config.PrefixAgent), args)

	case strings.HasPrefix(name, config.PrefixMCP):
		r.mu.RLock()
		agg := r.mcp
		r.mu.RUnlock()
		if agg == nil {
			return nil, metiserr.New(metiserr.KindConfiguration, "no MCP servers configured")
		}
		return agg.Call(ctx, name, args)

	case strings.HasPrefix(name, config.PrefixWorkflow):
		return r.runWorkflow(ctx, strings.TrimPrefix(name, config.PrefixWorkflow), args)

	// resource_template_ shares the resource_ prefix; check it first.
	case strings.HasPrefix(name, config.PrefixResourceTemplate):
		return r.readTemplateByName(ctx, strings.TrimPrefix(name, config.PrefixResourceTemplate), args)

	case strings.HasPrefix(name, config.PrefixResource):
		return r.readResourceByName(ctx, strings.TrimPrefix(name, config.PrefixResource))

	default:
		return r.callLocal(ctx, name, args)
	}
}

func (r *Registry) runAgent(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	run := r.agentRunner
	r.mu.RUnlock()
	if run == nil {
		return nil, metiserr.New(metiserr.KindConfiguration, "agent runtime not attached")
	}
	return run(ctx, name, args)
}

func (r *Registry) runWorkflow(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	r.mu.RLock()
	run := r.workflowRunner
	r.mu.RUnlock()
	if run == nil {
		return nil, metiserr.New(metiserr.KindConfiguration, "workflow engine not attached")
	}
	return run(ctx, name, args)
}

func (r *Registry) callLocal(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	tool, ok := snap.Tool(name)
	if !ok {
		return nil, metiserr.New(metiserr.KindNotFound, "tool %q not found", name)
	}

	if tool.InputSchema != nil {
		if err := checkArguments(tool.InputSchema, args); err != nil {
			return nil, err
		}
	}

	if tool.Response != nil {
		return tool.Response, nil
	}
	if tool.Mock != nil {
		return r.engine.Generate(ctx, tool.Mock, args)
	}
	// Validation guarantees one of the two is set.
	return nil, metiserr.New(metiserr.KindConfiguration, "tool %q has no response or mock", name)
}

// checkArguments validates the call arguments against the tool's resolved
// input schema.
func checkArguments(schema map[string]interface{}, args map[string]interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(args))
	if err != nil {
		return metiserr.Wrap(metiserr.KindInvalidRequest, err, "argument validation failed")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return metiserr.New(metiserr.KindInvalidRequest, "invalid arguments: %s", strings.Join(msgs, "; "))
	}
	return nil
}

func orEmptySchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object"}
	}
	return schema
}

func describe(description, fallback string) string {
	if description != "" {
		return description
	}
	return fallback
}

// agentInputSchema describes the agent tool surface: free-form named
// arguments plus the reserved session_id.
func agentInputSchema(a *config.AgentConfig) map[string]interface{} {
	props := map[string]interface{}{
		"session_id": map[string]interface{}{
			"type":        "string",
			"description": "Conversation session to continue",
		},
	}
	if a.PromptTemplate == "" {
		props["prompt"] = map[string]interface{}{
			"type":        "string",
			"description": "User prompt",
		}
	}
	return map[string]interface{}{"type": "object", "properties": props}
}

// templateInputSchema derives one required string property per {param}
// placeholder in the URI template.
func templateInputSchema(uriTemplate string) map[string]interface{} {
	params := templateParams(uriTemplate)
	props := make(map[string]interface{}, len(params))
	for _, p := range params {
		props[p] = map[string]interface{}{"type": "string"}
	}
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(params) > 0 {
		required := make([]interface{}, len(params))
		for i, p := range params {
			required[i] = p
		}
		schema["required"] = required
	}
	return schema
}

// templateParams extracts {param} names in order of appearance.
func templateParams(uriTemplate string) []string {
	var params []string
	rest := uriTemplate
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			return params
		}
		closing := strings.Index(rest[open:], "}")
		if closing < 0 {
			return params
		}
		params = append(params, rest[open+1:open+closing])
		rest = rest[open+closing+1:]
	}
}

// encodeJSON renders a value for text transport. Strings pass through.
func encodeJSON(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", metiserr.Wrap(metiserr.KindParse, err, "failed to encode value")
	}
	return string(data), nil
}
