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
	"sync/atomic"
	"time"
)

// Snapshot is a validated, immutable configuration plus name-indexed views.
// Snapshots are published whole; no field is mutated after construction.
type Snapshot struct {
	Config *Config

	// LoadedAt records when this snapshot was validated and published.
	LoadedAt time.Time

	tools             map[string]*ToolConfig
	resources         map[string]*ResourceConfig
	resourceTemplates map[string]*ResourceTemplateConfig
	prompts           map[string]*PromptConfig
	workflows         map[string]*WorkflowConfig
	agents            map[string]*AgentConfig
	orchestrations    map[string]*OrchestrationConfig
	schemas           map[string]*SchemaConfig
	dataLakes         map[string]*DataLakeConfig
	mcpServers        map[string]*MCPServerConfig
}

// newSnapshot indexes a validated config. Callers must not modify cfg after
// handing it over.
func newSnapshot(cfg *Config) *Snapshot {
	s := &Snapshot{
		Config:            cfg,
		LoadedAt:          time.Now().UTC(),
		tools:             make(map[string]*ToolConfig, len(cfg.Tools)),
		resources:         make(map[string]*ResourceConfig, len(cfg.Resources)),
		resourceTemplates: make(map[string]*ResourceTemplateConfig, len(cfg.ResourceTemplates)),
		prompts:           make(map[string]*PromptConfig, len(cfg.Prompts)),
		workflows:         make(map[string]*WorkflowConfig, len(cfg.Workflows)),
		agents:            make(map[string]*AgentConfig, len(cfg.Agents)),
		orchestrations:    make(map[string]*OrchestrationConfig, len(cfg.Orchestrations)),
		schemas:           make(map[string]*SchemaConfig, len(cfg.Schemas)),
		dataLakes:         make(map[string]*DataLakeConfig, len(cfg.DataLakes)),
		mcpServers:        make(map[string]*MCPServerConfig, len(cfg.MCPServers)),
	}
	for i := range cfg.Tools {
		s.tools[cfg.Tools[i].Name] = &cfg.Tools[i]
	}
	for i := range cfg.Resources {
		s.resources[cfg.Resources[i].Name] = &cfg.Resources[i]
	}
	for i := range cfg.ResourceTemplates {
		s.resourceTemplates[cfg.ResourceTemplates[i].Name] = &cfg.ResourceTemplates[i]
	}
	for i := range cfg.Prompts {
		s.prompts[cfg.Prompts[i].Name] = &cfg.Prompts[i]
	}
	for i := range cfg.Workflows {
		s.workflows[cfg.Workflows[i].Name] = &cfg.Workflows[i]
	}
	for i := range cfg.Agents {
		s.agents[cfg.Agents[i].Name] = &cfg.Agents[i]
	}
	for i := range cfg.Orchestrations {
		s.orchestrations[cfg.Orchestrations[i].Name] = &cfg.Orchestrations[i]
	}
	for i := range cfg.Schemas {
		s.schemas[cfg.Schemas[i].Name] = &cfg.Schemas[i]
	}
	for i := range cfg.DataLakes {
		s.dataLakes[cfg.DataLakes[i].Name] = &cfg.DataLakes[i]
	}
	for i := range cfg.MCPServers {
		s.mcpServers[cfg.MCPServers[i].Name] = &cfg.MCPServers[i]
	}
	return s
}

// Tool returns the tool by name.
func (s *Snapshot) Tool(name string) (*ToolConfig, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// Resource returns the resource by name.
func (s *Snapshot) Resource(name string) (*ResourceConfig, bool) {
	r, ok := s.resources[name]
	return r, ok
}

// ResourceByURI returns the resource with the given URI.
func (s *Snapshot) ResourceByURI(uri string) (*ResourceConfig, bool) {
	for i := range s.Config.Resources {
		if s.Config.Resources[i].URI == uri {
			return &s.Config.Resources[i], true
		}
	}
	return nil, false
}

// ResourceTemplate returns the resource template by name.
func (s *Snapshot) ResourceTemplate(name string) (*ResourceTemplateConfig, bool) {
	r, ok := s.resourceTemplates[name]
	return r, ok
}

// Prompt returns the prompt by name.
func (s *Snapshot) Prompt(name string) (*PromptConfig, bool) {
	p, ok := s.prompts[name]
	return p, ok
}

// Workflow returns the workflow by name.
func (s *Snapshot) Workflow(name string) (*WorkflowConfig, bool) {
	w, ok := s.workflows[name]
	return w, ok
}

// Agent returns the agent by name.
func (s *Snapshot) Agent(name string) (*AgentConfig, bool) {
	a, ok := s.agents[name]
	return a, ok
}

// Orchestration returns the orchestration by name.
func (s *Snapshot) Orchestration(name string) (*OrchestrationConfig, bool) {
	o, ok := s.orchestrations[name]
	return o, ok
}

// Schema returns the reusable schema by name.
func (s *Snapshot) Schema(name string) (*SchemaConfig, bool) {
	sc, ok := s.schemas[name]
	return sc, ok
}

// DataLake returns the data lake by name.
func (s *Snapshot) DataLake(name string) (*DataLakeConfig, bool) {
	d, ok := s.dataLakes[name]
	return d, ok
}

// MCPServer returns the external MCP server by name.
func (s *Snapshot) MCPServer(name string) (*MCPServerConfig, bool) {
	m, ok := s.mcpServers[name]
	return m, ok
}

// Provider publishes snapshots via atomic pointer swap. Readers call Load
// once per request and use the returned snapshot for the request's
// lifetime.
type Provider struct {
	current atomic.Pointer[Snapshot]
}

// NewProvider creates a provider holding the given initial snapshot.
func NewProvider(initial *Snapshot) *Provider {
	p := &Provider{}
	if initial != nil {
		p.current.Store(initial)
	}
	return p
}

// Load returns the current snapshot.
func (p *Provider) Load() *Snapshot {
	return p.current.Load()
}

// Publish atomically replaces the current snapshot.
func (p *Provider) Publish(s *Snapshot) {
	p.current.Store(s)
}
