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
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/metis-labs/metis/pkg/metiserr"
)

// Provider kinds accepted in ProviderBinding.Kind.
const (
	ProviderOpenAI      = "openai"
	ProviderAnthropic   = "anthropic"
	ProviderGemini      = "gemini"
	ProviderOllama      = "ollama"
	ProviderAzureOpenAI = "azure_openai"
)

// Tool-name prefixes that route to other subsystems. A workflow or agent
// may reference a prefixed name even when the target is resolved lazily
// (external MCP tools are only enumerable after connecting).
const (
	PrefixAgent            = "agent_"
	PrefixMCP              = "mcp__"
	PrefixWorkflow         = "workflow_"
	PrefixResource         = "resource_"
	PrefixResourceTemplate = "resource_template_"
)

// Validate checks cross-entity invariants, resolves every schema reference,
// applies defaults, and returns the immutable snapshot. The config must not
// be used directly after a successful Validate; use the snapshot.
func Validate(cfg *Config) (*Snapshot, error) {
	if cfg == nil {
		return nil, metiserr.New(metiserr.KindConfiguration, "nil configuration")
	}

	applyDefaults(cfg)

	schemas := make(map[string]*SchemaConfig, len(cfg.Schemas))
	if err := checkUnique("schemas", len(cfg.Schemas), func(i int) string { return cfg.Schemas[i].Name }); err != nil {
		return nil, err
	}
	for i := range cfg.Schemas {
		schemas[cfg.Schemas[i].Name] = &cfg.Schemas[i]
	}

	// Resolve $refs inside the reusable schemas first so cycles surface
	// with the shortest path.
	for i := range cfg.Schemas {
		resolved, err := ResolveRefs(cfg.Schemas[i].Schema, schemas)
		if err != nil {
			return nil, err
		}
		cfg.Schemas[i].Schema = resolved.(map[string]interface{})
	}

	if err := validateTools(cfg, schemas); err != nil {
		return nil, err
	}
	if err := validateResources(cfg, schemas); err != nil {
		return nil, err
	}
	if err := validatePrompts(cfg); err != nil {
		return nil, err
	}
	if err := validateWorkflows(cfg); err != nil {
		return nil, err
	}
	if err := validateAgents(cfg); err != nil {
		return nil, err
	}
	if err := validateOrchestrations(cfg); err != nil {
		return nil, err
	}
	if err := validateDataLakes(cfg, schemas); err != nil {
		return nil, err
	}
	if err := validateMCPServers(cfg); err != nil {
		return nil, err
	}

	return newSnapshot(cfg), nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Name == "" {
		cfg.Server.Name = "metis"
	}
	if cfg.Server.Version == "" {
		cfg.Server.Version = "dev"
	}
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.Kind == "" {
			a.Kind = AgentSingleTurn
		}
		if a.MaxIterations == 0 {
			a.MaxIterations = 10
		}
		if a.TimeoutSeconds == 0 {
			a.TimeoutSeconds = 120
		}
		if a.Memory.Backend == "" {
			a.Memory.Backend = "memory"
		}
		if a.Memory.Strategy == "" {
			a.Memory.Strategy = MemoryFull
		}
		if a.Memory.MaxMessages == 0 {
			a.Memory.MaxMessages = 100
		}
	}
	for i := range cfg.DataLakes {
		d := &cfg.DataLakes[i]
		if d.Storage == "" {
			d.Storage = LakeStorageDatabase
		}
		if d.Format == "" {
			d.Format = LakeFormatJSONL
		}
		if d.BatchSize == 0 {
			d.BatchSize = 1000
		}
	}
	for i := range cfg.Workflows {
		for j := range cfg.Workflows[i].Steps {
			step := &cfg.Workflows[i].Steps[j]
			if step.LoopOver != "" && step.LoopVar == "" {
				step.LoopVar = "item"
			}
			if step.LoopOver != "" && step.LoopConcurrency <= 0 {
				step.LoopConcurrency = 1
			}
		}
	}
}

func validateTools(cfg *Config, schemas map[string]*SchemaConfig) error {
	if err := checkUnique("tools", len(cfg.Tools), func(i int) string { return cfg.Tools[i].Name }); err != nil {
		return err
	}
	for i := range cfg.Tools {
		t := &cfg.Tools[i]
		if t.Name == "" {
			return metiserr.New(metiserr.KindConfiguration, "tool at index %d has no name", i)
		}

		if t.InputSchema != nil {
			resolved, err := ResolveRefs(t.InputSchema, schemas)
			if err != nil {
				return metiserr.Wrap(metiserr.KindConfiguration, err, "tool %q input schema", t.Name)
			}
			t.InputSchema = resolved.(map[string]interface{})
			if err := compileSchema(t.InputSchema); err != nil {
				return metiserr.Wrap(metiserr.KindConfiguration, err, "tool %q input schema is not a valid JSON schema", t.Name)
			}
		}
		if t.OutputSchema != nil {
			resolved, err := ResolveRefs(t.OutputSchema, schemas)
			if err != nil {
				return metiserr.Wrap(metiserr.KindConfiguration, err, "tool %q output schema", t.Name)
			}
			t.OutputSchema = resolved.(map[string]interface{})
			if err := compileSchema(t.OutputSchema); err != nil {
				return metiserr.Wrap(metiserr.KindConfiguration, err, "tool %q output schema is not a valid JSON schema", t.Name)
			}
		}

		hasResponse := t.Response != nil
		hasMock := t.Mock != nil && t.Mock.Strategy != "" && t.Mock.Strategy != StrategyStatic
		if hasResponse && hasMock {
			return metiserr.New(metiserr.KindConfiguration, "tool %q sets both response and mock", t.Name)
		}
		if !hasResponse && !hasMock {
			return metiserr.New(metiserr.KindConfiguration, "tool %q sets neither response nor mock", t.Name)
		}
		if t.Mock != nil {
			if err := validateMock(t.Mock, fmt.Sprintf("tool %q", t.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateMock(m *MockConfig, owner string) error {
	switch m.Strategy {
	case StrategyStatic:
		return nil
	case StrategyTemplate:
		if m.Template == "" {
			return metiserr.New(metiserr.KindConfiguration, "%s: template strategy requires a template", owner)
		}
	case StrategyRandom:
		if m.FakerKind == "" {
			return metiserr.New(metiserr.KindConfiguration, "%s: random strategy requires faker_kind", owner)
		}
	case StrategyStateful:
		if m.State == nil || m.State.Key == "" {
			return metiserr.New(metiserr.KindConfiguration, "%s: stateful strategy requires state.key", owner)
		}
		switch m.State.Op {
		case StateOpGet, StateOpSet, StateOpIncrement:
		default:
			return metiserr.New(metiserr.KindConfiguration, "%s: unknown state op %q", owner, m.State.Op)
		}
	case StrategyScript:
		if m.Script == nil || m.Script.Code == "" {
			return metiserr.New(metiserr.KindConfiguration, "%s: script strategy requires script.code", owner)
		}
	case StrategyFile:
		if m.File == nil || m.File.Path == "" {
			return metiserr.New(metiserr.KindConfiguration, "%s: file strategy requires file.path", owner)
		}
		switch m.File.Selection {
		case "", FileSelectionRandom, FileSelectionSequential:
		default:
			return metiserr.New(metiserr.KindConfiguration, "%s: unknown file selection %q", owner, m.File.Selection)
		}
	case StrategyPattern:
		if m.Pattern == "" {
			return metiserr.New(metiserr.KindConfiguration, "%s: pattern strategy requires a pattern", owner)
		}
	case StrategyLLM:
		if m.LLM == nil {
			return metiserr.New(metiserr.KindConfiguration, "%s: llm strategy requires llm config", owner)
		}
		if err := validateProviderBinding(&m.LLM.Provider, owner); err != nil {
			return err
		}
	case StrategyDatabase:
		if m.Database == nil || m.Database.URL == "" || m.Database.Query == "" {
			return metiserr.New(metiserr.KindConfiguration, "%s: database strategy requires url and query", owner)
		}
	default:
		return metiserr.New(metiserr.KindConfiguration, "%s: unknown strategy %q", owner, m.Strategy)
	}
	return nil
}

func validateResources(cfg *Config, schemas map[string]*SchemaConfig) error {
	if err := checkUnique("resources", len(cfg.Resources), func(i int) string { return cfg.Resources[i].Name }); err != nil {
		return err
	}
	for i := range cfg.Resources {
		r := &cfg.Resources[i]
		if r.Name == "" || r.URI == "" {
			return metiserr.New(metiserr.KindConfiguration, "resource at index %d requires name and uri", i)
		}
		if r.Schema != nil {
			resolved, err := ResolveRefs(r.Schema, schemas)
			if err != nil {
				return metiserr.Wrap(metiserr.KindConfiguration, err, "resource %q schema", r.Name)
			}
			r.Schema = resolved.(map[string]interface{})
		}
		if r.Mock != nil {
			if err := validateMock(r.Mock, fmt.Sprintf("resource %q", r.Name)); err != nil {
				return err
			}
		}
	}

	if err := checkUnique("resource_templates", len(cfg.ResourceTemplates), func(i int) string { return cfg.ResourceTemplates[i].Name }); err != nil {
		return err
	}
	for i := range cfg.ResourceTemplates {
		rt := &cfg.ResourceTemplates[i]
		if rt.Name == "" || rt.URITemplate == "" {
			return metiserr.New(metiserr.KindConfiguration, "resource template at index %d requires name and uri_template", i)
		}
		if rt.Schema != nil {
			resolved, err := ResolveRefs(rt.Schema, schemas)
			if err != nil {
				return metiserr.Wrap(metiserr.KindConfiguration, err, "resource template %q schema", rt.Name)
			}
			rt.Schema = resolved.(map[string]interface{})
		}
		if rt.Mock != nil {
			if err := validateMock(rt.Mock, fmt.Sprintf("resource template %q", rt.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validatePrompts(cfg *Config) error {
	if err := checkUnique("prompts", len(cfg.Prompts), func(i int) string { return cfg.Prompts[i].Name }); err != nil {
		return err
	}
	for i := range cfg.Prompts {
		if cfg.Prompts[i].Name == "" {
			return metiserr.New(metiserr.KindConfiguration, "prompt at index %d has no name", i)
		}
		if cfg.Prompts[i].Template == "" {
			return metiserr.New(metiserr.KindConfiguration, "prompt %q has no template", cfg.Prompts[i].Name)
		}
	}
	return nil
}

func validateWorkflows(cfg *Config) error {
	if err := checkUnique("workflows", len(cfg.Workflows), func(i int) string { return cfg.Workflows[i].Name }); err != nil {
		return err
	}
	for i := range cfg.Workflows {
		w := &cfg.Workflows[i]
		if w.Name == "" {
			return metiserr.New(metiserr.KindConfiguration, "workflow at index %d has no name", i)
		}
		if len(w.Steps) == 0 {
			return metiserr.New(metiserr.KindConfiguration, "workflow %q has no steps", w.Name)
		}

		ids := make(map[string]bool, len(w.Steps))
		for j := range w.Steps {
			step := &w.Steps[j]
			if step.ID == "" {
				return metiserr.New(metiserr.KindConfiguration, "workflow %q step %d has no id", w.Name, j)
			}
			if ids[step.ID] {
				return metiserr.New(metiserr.KindConfiguration, "workflow %q has duplicate step id %q", w.Name, step.ID)
			}
			ids[step.ID] = true
			if step.Tool == "" {
				return metiserr.New(metiserr.KindConfiguration, "workflow %q step %q has no tool", w.Name, step.ID)
			}
			if err := checkToolReference(cfg, step.Tool); err != nil {
				return metiserr.Wrap(metiserr.KindConfiguration, err, "workflow %q step %q", w.Name, step.ID)
			}
			if step.OnError != nil {
				switch step.OnError.Policy {
				case ErrorPolicyFail, ErrorPolicyContinue, ErrorPolicyRetry, ErrorPolicyFallback:
				default:
					return metiserr.New(metiserr.KindConfiguration, "workflow %q step %q: unknown error policy %q", w.Name, step.ID, step.OnError.Policy)
				}
			}
		}
		for j := range w.Steps {
			for _, dep := range w.Steps[j].DependsOn {
				if !ids[dep] {
					return metiserr.New(metiserr.KindConfiguration, "workflow %q step %q depends on unknown step %q", w.Name, w.Steps[j].ID, dep)
				}
			}
		}
		if err := checkAcyclic(w); err != nil {
			return err
		}
	}
	return nil
}

// checkAcyclic rejects dependency cycles with a depth-first walk.
func checkAcyclic(w *WorkflowConfig) error {
	deps := make(map[string][]string, len(w.Steps))
	for i := range w.Steps {
		deps[w.Steps[i].ID] = w.Steps[i].DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(deps))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return metiserr.New(metiserr.KindConfiguration, "workflow %q has a dependency cycle through step %q", w.Name, dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for id := range deps {
		if color[id] == white {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkToolReference verifies a referenced tool name resolves to a local
// tool, a prefixed pattern that could exist (agents, workflows, resources,
// external MCP tools), or fails.
func checkToolReference(cfg *Config, name string) error {
	switch {
	case strings.HasPrefix(name, PrefixMCP):
		rest := strings.TrimPrefix(name, PrefixMCP)
		for i := range cfg.MCPServers {
			if strings.HasPrefix(rest, cfg.MCPServers[i].Name+"_") {
				return nil
			}
		}
		return fmt.Errorf("tool %q references no configured MCP server", name)
	case strings.HasPrefix(name, PrefixAgent):
		target := strings.TrimPrefix(name, PrefixAgent)
		for i := range cfg.Agents {
			if cfg.Agents[i].Name == target {
				return nil
			}
		}
		return fmt.Errorf("tool %q references unknown agent %q", name, target)
	case strings.HasPrefix(name, PrefixWorkflow):
		target := strings.TrimPrefix(name, PrefixWorkflow)
		for i := range cfg.Workflows {
			if cfg.Workflows[i].Name == target {
				return nil
			}
		}
		return fmt.Errorf("tool %q references unknown workflow %q", name, target)
	case strings.HasPrefix(name, PrefixResourceTemplate):
		target := strings.TrimPrefix(name, PrefixResourceTemplate)
		for i := range cfg.ResourceTemplates {
			if cfg.ResourceTemplates[i].Name == target {
				return nil
			}
		}
		return fmt.Errorf("tool %q references unknown resource template %q", name, target)
	case strings.HasPrefix(name, PrefixResource):
		target := strings.TrimPrefix(name, PrefixResource)
		for i := range cfg.Resources {
			if cfg.Resources[i].Name == target {
				return nil
			}
		}
		return fmt.Errorf("tool %q references unknown resource %q", name, target)
	default:
		for i := range cfg.Tools {
			if cfg.Tools[i].Name == name {
				return nil
			}
		}
		return fmt.Errorf("unknown tool %q", name)
	}
}

func validateAgents(cfg *Config) error {
	if err := checkUnique("agents", len(cfg.Agents), func(i int) string { return cfg.Agents[i].Name }); err != nil {
		return err
	}
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.Name == "" {
			return metiserr.New(metiserr.KindConfiguration, "agent at index %d has no name", i)
		}
		switch a.Kind {
		case AgentSingleTurn, AgentMultiTurn, AgentReAct:
		default:
			return metiserr.New(metiserr.KindConfiguration, "agent %q has unknown kind %q", a.Name, a.Kind)
		}
		if err := validateProviderBinding(&a.Provider, fmt.Sprintf("agent %q", a.Name)); err != nil {
			return err
		}
		switch a.Memory.Strategy {
		case MemoryFull, MemorySlidingWindow, MemoryFirstLast:
		default:
			return metiserr.New(metiserr.KindConfiguration, "agent %q has unknown memory strategy %q", a.Name, a.Memory.Strategy)
		}
		for _, tool := range a.Tools {
			if err := checkToolReference(cfg, tool); err != nil {
				return metiserr.Wrap(metiserr.KindConfiguration, err, "agent %q", a.Name)
			}
		}
		for _, spec := range a.MCPServers {
			server := spec
			if idx := strings.Index(spec, ":"); idx >= 0 {
				server = spec[:idx]
			}
			found := false
			for j := range cfg.MCPServers {
				if cfg.MCPServers[j].Name == server {
					found = true
					break
				}
			}
			if !found {
				return metiserr.New(metiserr.KindConfiguration, "agent %q references unknown MCP server %q", a.Name, server)
			}
		}
		for _, sub := range a.Agents {
			found := false
			for j := range cfg.Agents {
				if cfg.Agents[j].Name == sub {
					found = true
					break
				}
			}
			if !found {
				return metiserr.New(metiserr.KindConfiguration, "agent %q references unknown agent %q", a.Name, sub)
			}
		}
		for _, res := range a.Resources {
			if _, err := findResource(cfg, res); err != nil {
				return metiserr.Wrap(metiserr.KindConfiguration, err, "agent %q", a.Name)
			}
		}
		for _, rt := range a.ResourceTemplates {
			if _, err := findResourceTemplate(cfg, rt); err != nil {
				return metiserr.Wrap(metiserr.KindConfiguration, err, "agent %q", a.Name)
			}
		}
	}
	return nil
}

func validateProviderBinding(b *ProviderBinding, owner string) error {
	switch b.Kind {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama, ProviderAzureOpenAI:
	default:
		return metiserr.New(metiserr.KindConfiguration, "%s: unknown provider kind %q", owner, b.Kind)
	}
	if b.Kind == ProviderAzureOpenAI && b.Deployment == "" {
		return metiserr.New(metiserr.KindConfiguration, "%s: azure_openai requires a deployment", owner)
	}
	return nil
}

func validateOrchestrations(cfg *Config) error {
	if err := checkUnique("orchestrations", len(cfg.Orchestrations), func(i int) string { return cfg.Orchestrations[i].Name }); err != nil {
		return err
	}
	for i := range cfg.Orchestrations {
		o := &cfg.Orchestrations[i]
		switch o.Kind {
		case OrchestrationSequential, OrchestrationHierarchical, OrchestrationCollaborative:
		default:
			return metiserr.New(metiserr.KindConfiguration, "orchestration %q has unknown kind %q", o.Name, o.Kind)
		}
		if len(o.Agents) == 0 {
			return metiserr.New(metiserr.KindConfiguration, "orchestration %q has no agents", o.Name)
		}
		names := o.Agents
		if o.Kind == OrchestrationHierarchical {
			if o.Coordinator == "" {
				return metiserr.New(metiserr.KindConfiguration, "orchestration %q requires a coordinator", o.Name)
			}
			names = append(append([]string{}, names...), o.Coordinator)
		}
		for _, name := range names {
			found := false
			for j := range cfg.Agents {
				if cfg.Agents[j].Name == name {
					found = true
					break
				}
			}
			if !found {
				return metiserr.New(metiserr.KindConfiguration, "orchestration %q references unknown agent %q", o.Name, name)
			}
		}
	}
	return nil
}

func validateDataLakes(cfg *Config, schemas map[string]*SchemaConfig) error {
	if err := checkUnique("data_lakes", len(cfg.DataLakes), func(i int) string { return cfg.DataLakes[i].Name }); err != nil {
		return err
	}
	for i := range cfg.DataLakes {
		d := &cfg.DataLakes[i]
		if d.Name == "" {
			return metiserr.New(metiserr.KindConfiguration, "data lake at index %d has no name", i)
		}
		if len(d.Schemas) == 0 {
			return metiserr.New(metiserr.KindConfiguration, "data lake %q declares no schemas", d.Name)
		}
		for _, name := range d.Schemas {
			if _, ok := schemas[name]; !ok {
				return metiserr.New(metiserr.KindConfiguration, "data lake %q references unknown schema %q", d.Name, name)
			}
		}
		switch d.Storage {
		case LakeStorageDatabase, LakeStorageFile, LakeStorageBoth:
		default:
			return metiserr.New(metiserr.KindConfiguration, "data lake %q has unknown storage mode %q", d.Name, d.Storage)
		}
		switch d.Format {
		case LakeFormatParquet, LakeFormatJSONL:
		default:
			return metiserr.New(metiserr.KindConfiguration, "data lake %q has unknown format %q", d.Name, d.Format)
		}
	}
	return nil
}

func validateMCPServers(cfg *Config) error {
	if err := checkUnique("mcp_servers", len(cfg.MCPServers), func(i int) string { return cfg.MCPServers[i].Name }); err != nil {
		return err
	}
	for i := range cfg.MCPServers {
		if cfg.MCPServers[i].Name == "" || cfg.MCPServers[i].URL == "" {
			return metiserr.New(metiserr.KindConfiguration, "mcp server at index %d requires name and url", i)
		}
	}
	return nil
}

func findResource(cfg *Config, name string) (*ResourceConfig, error) {
	for i := range cfg.Resources {
		if cfg.Resources[i].Name == name {
			return &cfg.Resources[i], nil
		}
	}
	return nil, fmt.Errorf("unknown resource %q", name)
}

func findResourceTemplate(cfg *Config, name string) (*ResourceTemplateConfig, error) {
	for i := range cfg.ResourceTemplates {
		if cfg.ResourceTemplates[i].Name == name {
			return &cfg.ResourceTemplates[i], nil
		}
	}
	return nil, fmt.Errorf("unknown resource template %q", name)
}

// checkUnique rejects duplicate names within one collection.
func checkUnique(collection string, n int, name func(int) string) error {
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		k := name(i)
		if k == "" {
			continue
		}
		if seen[k] {
			return metiserr.New(metiserr.KindConfiguration, "duplicate name %q in %s", k, collection)
		}
		seen[k] = true
	}
	return nil
}

// compileSchema verifies the value compiles as a JSON schema.
func compileSchema(schema map[string]interface{}) error {
	_, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	return err
}
