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

package client

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/metis-labs/metis/pkg/mcp/protocol"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/template"
)

// ToolPrefix marks tools re-exposed from external MCP servers:
// mcp__{server}_{tool}.
const ToolPrefix = "mcp__"

// Aggregator owns the outbound MCP connections and re-exposes every
// remote tool under a prefixed name.
type Aggregator struct {
	logger *zap.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	tools   map[string][]protocol.Tool // server name → cached tool list
}

// NewAggregator creates an empty aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		logger:  logger,
		clients: make(map[string]*Client),
		tools:   make(map[string][]protocol.Tool),
	}
}

// Add registers a client and caches its tool list. Called at startup and
// on config reload; an unreachable server is logged and registered with
// an empty tool list so later refreshes can pick it up.
func (a *Aggregator) Add(ctx context.Context, c *Client) {
	tools, err := c.ListTools(ctx)
	if err != nil {
		a.logger.Warn("failed to list tools from MCP server",
			zap.String("server", c.Name()),
			zap.Error(err))
		tools = nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.clients[c.Name()] = c
	a.tools[c.Name()] = tools
}

// Remove drops a server registration.
func (a *Aggregator) Remove(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.clients, name)
	delete(a.tools, name)
}

// Servers returns the registered server names.
func (a *Aggregator) Servers() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.clients))
	for name := range a.clients {
		out = append(out, name)
	}
	return out
}

// Tools returns every remote tool under its prefixed name.
func (a *Aggregator) Tools() []protocol.Tool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []protocol.Tool
	for server, tools := range a.tools {
		for _, tool := range tools {
			prefixed := tool
			prefixed.Name = ToolPrefix + server + "_" + tool.Name
			out = append(out, prefixed)
		}
	}
	return out
}

// ServerTools returns the prefixed tools of a single server.
func (a *Aggregator) ServerTools(server string) []protocol.Tool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var out []protocol.Tool
	for _, tool := range a.tools[server] {
		prefixed := tool
		prefixed.Name = ToolPrefix + server + "_" + tool.Name
		out = append(out, prefixed)
	}
	return out
}

// Call routes a prefixed tool name to the owning server. The flattened
// text result is re-parsed as JSON when it parses.
func (a *Aggregator) Call(ctx context.Context, prefixedName string, args map[string]interface{}) (interface{}, error) {
	server, tool, err := a.resolve(prefixedName)
	if err != nil {
		return nil, err
	}

	a.mu.RLock()
	c := a.clients[server]
	a.mu.RUnlock()

	text, err := c.CallTool(ctx, tool, args)
	if err != nil {
		return nil, err
	}
	return template.PromoteJSON(text), nil
}

// resolve splits mcp__{server}_{tool} by matching registered server
// names, longest first, since server names may themselves contain
// underscores.
func (a *Aggregator) resolve(prefixedName string) (server, tool string, err error) {
	rest, ok := strings.CutPrefix(prefixedName, ToolPrefix)
	if !ok {
		return "", "", metiserr.New(metiserr.KindInvalidRequest, "not an MCP tool name: %s", prefixedName)
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	bestLen := -1
	for name := range a.clients {
		if strings.HasPrefix(rest, name+"_") && len(name) > bestLen {
			bestLen = len(name)
			server = name
		}
	}
	if bestLen < 0 {
		return "", "", metiserr.New(metiserr.KindNotFound, "no MCP server owns tool %s", prefixedName)
	}
	return server, rest[bestLen+1:], nil
}
