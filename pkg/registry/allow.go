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
	"strings"

	"go.uber.org/zap"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/mcp/protocol"
)

// AllowedTools resolves an agent's allow-lists into concrete tool
// definitions. Empty allow-lists grant nothing; access is explicit
// opt-in. Unknown names are skipped with a warning rather than failing
// the whole agent, since external MCP tools are only enumerable after
// their server connects.
func (r *Registry) AllowedTools(ctx context.Context, agent *config.AgentConfig) ([]protocol.Tool, error) {
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}

	var tools []protocol.Tool

	for _, name := range agent.Tools {
		t, ok := snap.Tool(name)
		if !ok {
			r.warnUnknown("tool", name, agent.Name)
			continue
		}
		tools = append(tools, protocol.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: orEmptySchema(t.InputSchema),
		})
	}

	r.mu.RLock()
	agg := r.mcp
	r.mu.RUnlock()
	for _, spec := range agent.MCPServers {
		if agg == nil {
			r.warnUnknown("mcp spec", spec, agent.Name)
			continue
		}
		server, tool, found := strings.Cut(spec, ":")
		if !found {
			server, tool = spec, "*"
		}
		for _, t := range agg.ServerTools(server) {
			if tool == "*" || t.Name == config.PrefixMCP+server+"_"+tool {
				tools = append(tools, t)
			}
		}
	}

	for _, name := range agent.Agents {
		a, ok := snap.Agent(name)
		if !ok {
			r.warnUnknown("agent", name, agent.Name)
			continue
		}
		tools = append(tools, protocol.Tool{
			Name:        config.PrefixAgent + a.Name,
			Description: describe(a.Description, "Invoke the "+a.Name+" agent"),
			InputSchema: agentInputSchema(a),
		})
	}

	for _, name := range agent.Resources {
		res, ok := snap.Resource(name)
		if !ok {
			r.warnUnknown("resource", name, agent.Name)
			continue
		}
		tools = append(tools, protocol.Tool{
			Name:        config.PrefixResource + res.Name,
			Description: describe(res.Description, "Read the "+res.Name+" resource"),
			InputSchema: orEmptySchema(nil),
		})
	}

	for _, name := range agent.ResourceTemplates {
		rt, ok := snap.ResourceTemplate(name)
		if !ok {
			r.warnUnknown("resource template", name, agent.Name)
			continue
		}
		tools = append(tools, protocol.Tool{
			Name:        config.PrefixResourceTemplate + rt.Name,
			Description: describe(rt.Description, "Read the "+rt.Name+" resource template"),
			InputSchema: templateInputSchema(rt.URITemplate),
		})
	}

	return tools, nil
}

func (r *Registry) warnUnknown(kind, name, agent string) {
	r.logger.Warn("allow-list entry does not resolve",
		zap.String("kind", kind),
		zap.String("name", name),
		zap.String("agent", agent))
}
