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

package llm

import "strings"

// ModelCaps reports context-window and max-output token caps for a model.
type ModelCaps struct {
	ContextWindow   int
	MaxOutputTokens int
}

// Static capability table. Unknown models fall back to a conservative
// default per provider. Prefix matching covers dated model variants
// (e.g. gpt-4o-2024-08-06).
var modelCaps = map[string]ModelCaps{
	// OpenAI
	"gpt-4o":        {ContextWindow: 128_000, MaxOutputTokens: 16_384},
	"gpt-4o-mini":   {ContextWindow: 128_000, MaxOutputTokens: 16_384},
	"gpt-4.1":       {ContextWindow: 1_047_576, MaxOutputTokens: 32_768},
	"gpt-4.1-mini":  {ContextWindow: 1_047_576, MaxOutputTokens: 32_768},
	"gpt-4-turbo":   {ContextWindow: 128_000, MaxOutputTokens: 4_096},
	"gpt-4":         {ContextWindow: 8_192, MaxOutputTokens: 8_192},
	"gpt-3.5-turbo": {ContextWindow: 16_385, MaxOutputTokens: 4_096},
	"o1":            {ContextWindow: 200_000, MaxOutputTokens: 100_000},
	"o1-mini":       {ContextWindow: 128_000, MaxOutputTokens: 65_536},

	// Anthropic
	"claude-3-5-sonnet": {ContextWindow: 200_000, MaxOutputTokens: 8_192},
	"claude-3-5-haiku":  {ContextWindow: 200_000, MaxOutputTokens: 8_192},
	"claude-3-opus":     {ContextWindow: 200_000, MaxOutputTokens: 4_096},
	"claude-3-haiku":    {ContextWindow: 200_000, MaxOutputTokens: 4_096},

	// Gemini
	"gemini-2.0-flash":  {ContextWindow: 1_048_576, MaxOutputTokens: 8_192},
	"gemini-1.5-pro":    {ContextWindow: 2_097_152, MaxOutputTokens: 8_192},
	"gemini-1.5-flash":  {ContextWindow: 1_048_576, MaxOutputTokens: 8_192},

	// Ollama-hosted open models
	"llama3.1": {ContextWindow: 131_072, MaxOutputTokens: 8_192},
	"llama3.2": {ContextWindow: 131_072, MaxOutputTokens: 8_192},
	"mistral":  {ContextWindow: 32_768, MaxOutputTokens: 8_192},
	"qwen2.5":  {ContextWindow: 131_072, MaxOutputTokens: 8_192},
}

var providerDefaults = map[string]ModelCaps{
	"openai":       {ContextWindow: 128_000, MaxOutputTokens: 4_096},
	"azure_openai": {ContextWindow: 128_000, MaxOutputTokens: 4_096},
	"anthropic":    {ContextWindow: 200_000, MaxOutputTokens: 4_096},
	"gemini":       {ContextWindow: 1_048_576, MaxOutputTokens: 8_192},
	"ollama":       {ContextWindow: 8_192, MaxOutputTokens: 4_096},
}

// CapsFor looks up caps for a model, longest prefix first, falling back to
// the provider default.
func CapsFor(provider, model string) ModelCaps {
	if caps, ok := modelCaps[model]; ok {
		return caps
	}

	bestLen := 0
	var best ModelCaps
	for name, caps := range modelCaps {
		if strings.HasPrefix(model, name) && len(name) > bestLen {
			bestLen = len(name)
			best = caps
		}
	}
	if bestLen > 0 {
		return best
	}

	if caps, ok := providerDefaults[provider]; ok {
		return caps
	}
	return ModelCaps{ContextWindow: 8_192, MaxOutputTokens: 4_096}
}
