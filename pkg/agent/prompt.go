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

package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/llm"
	"github.com/metis-labs/metis/pkg/session"
	"github.com/metis-labs/metis/pkg/template"
)

// renderUserPrompt builds the user message. Precedence: the agent's
// prompt_template, then an explicit "prompt" input field, then
// auto-generated "key: value" lines from the remaining input fields.
func renderUserPrompt(agentCfg *config.AgentConfig, input map[string]interface{}) (string, error) {
	if agentCfg.PromptTemplate != "" {
		return template.Render(agentCfg.PromptTemplate, input)
	}
	if prompt, ok := input["prompt"].(string); ok {
		return prompt, nil
	}

	keys := make([]string, 0, len(input))
	for k := range input {
		if k == "session_id" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("%s: %s", k, stringify(input[k])))
	}
	return strings.Join(lines, "\n"), nil
}

// baseMessages assembles [system, ...history, user].
func baseMessages(agentCfg *config.AgentConfig, input map[string]interface{}, history []session.Message) ([]llm.Message, error) {
	var messages []llm.Message

	if agentCfg.SystemPrompt != "" {
		system, err := template.Render(agentCfg.SystemPrompt, input)
		if err != nil {
			return nil, err
		}
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}
	for _, m := range history {
		messages = append(messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}

	user, err := renderUserPrompt(agentCfg, input)
	if err != nil {
		return nil, err
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: user})
	return messages, nil
}

// stringify renders an input value for prompt text: strings pass
// through, everything else is JSON.
func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
