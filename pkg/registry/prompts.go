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

	"github.com/metis-labs/metis/pkg/mcp/protocol"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/template"
)

// ListPrompts returns every configured prompt with its argument
// declarations.
func (r *Registry) ListPrompts(ctx context.Context) ([]protocol.Prompt, error) {
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}

	prompts := make([]protocol.Prompt, 0, len(snap.Config.Prompts))
	for i := range snap.Config.Prompts {
		p := &snap.Config.Prompts[i]
		args := make([]protocol.PromptArgument, 0, len(p.Arguments))
		for _, a := range p.Arguments {
			args = append(args, protocol.PromptArgument{
				Name:        a.Name,
				Description: a.Description,
				Required:    a.Required,
			})
		}
		prompts = append(prompts, protocol.Prompt{
			Name:        p.Name,
			Description: p.Description,
			Arguments:   args,
		})
	}
	return prompts, nil
}

// GetPrompt renders a prompt template with the caller's arguments as a
// single user message.
func (r *Registry) GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*protocol.GetPromptResult, error) {
	snap, err := r.snapshot()
	if err != nil {
		return nil, err
	}
	p, ok := snap.Prompt(name)
	if !ok {
		return nil, metiserr.New(metiserr.KindNotFound, "prompt %q not found", name)
	}

	for _, a := range p.Arguments {
		if !a.Required {
			continue
		}
		if _, present := args[a.Name]; !present {
			return nil, metiserr.New(metiserr.KindInvalidRequest, "prompt %q requires argument %q", name, a.Name)
		}
	}

	rendered, err := template.Render(p.Template, args)
	if err != nil {
		return nil, err
	}
	return &protocol.GetPromptResult{
		Description: p.Description,
		Messages: []protocol.PromptMessage{
			{Role: "user", Content: protocol.Content{Type: "text", Text: rendered}},
		},
	}, nil
}
