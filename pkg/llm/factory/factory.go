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

// Package factory constructs llm.Provider clients from provider
// bindings. It lives outside pkg/llm so provider packages can depend on
// pkg/llm without a cycle.
package factory

import (
	"context"

	"go.uber.org/zap"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/llm"
	"github.com/metis-labs/metis/pkg/llm/anthropic"
	"github.com/metis-labs/metis/pkg/llm/azureopenai"
	"github.com/metis-labs/metis/pkg/llm/gemini"
	"github.com/metis-labs/metis/pkg/llm/ollama"
	"github.com/metis-labs/metis/pkg/llm/openai"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/secrets"
)

// Default environment variables consulted when a binding names neither an
// inline key nor a custom env var.
var defaultKeyEnv = map[string]string{
	config.ProviderOpenAI:      "OPENAI_API_KEY",
	config.ProviderAnthropic:   "ANTHROPIC_API_KEY",
	config.ProviderGemini:      "GEMINI_API_KEY",
	config.ProviderAzureOpenAI: "AZURE_OPENAI_API_KEY",
}

// New builds a provider client from a binding. The API key resolves in
// order: inline api_key, then api_key_env (or the provider default)
// through the secret oracle, which itself falls back to the process
// environment. Ollama needs no key.
func New(binding config.ProviderBinding, oracle secrets.Oracle, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	apiKey, err := resolveAPIKey(binding, oracle)
	if err != nil {
		return nil, err
	}

	logger.Debug("creating LLM provider",
		zap.String("kind", binding.Kind),
		zap.String("model", binding.Model))

	switch binding.Kind {
	case config.ProviderOpenAI:
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			Model:       binding.Model,
			Endpoint:    binding.BaseURL,
			MaxTokens:   binding.MaxTokens,
			Temperature: binding.Temperature,
		}), nil

	case config.ProviderAnthropic:
		return anthropic.NewClient(anthropic.Config{
			APIKey:      apiKey,
			Model:       binding.Model,
			Endpoint:    binding.BaseURL,
			MaxTokens:   binding.MaxTokens,
			Temperature: binding.Temperature,
		}), nil

	case config.ProviderGemini:
		return gemini.NewClient(gemini.Config{
			APIKey:      apiKey,
			Model:       binding.Model,
			BaseURL:     binding.BaseURL,
			MaxTokens:   binding.MaxTokens,
			Temperature: binding.Temperature,
		}), nil

	case config.ProviderOllama:
		return ollama.NewClient(ollama.Config{
			Model:       binding.Model,
			Endpoint:    binding.BaseURL,
			MaxTokens:   binding.MaxTokens,
			Temperature: binding.Temperature,
		}), nil

	case config.ProviderAzureOpenAI:
		return azureopenai.NewClient(azureopenai.Config{
			APIKey:      apiKey,
			BaseURL:     binding.BaseURL,
			Deployment:  binding.Deployment,
			Model:       binding.Model,
			APIVersion:  binding.APIVersion,
			MaxTokens:   binding.MaxTokens,
			Temperature: binding.Temperature,
		}), nil

	default:
		return nil, metiserr.New(metiserr.KindConfiguration, "unknown provider kind %q", binding.Kind)
	}
}

func resolveAPIKey(binding config.ProviderBinding, oracle secrets.Oracle) (string, error) {
	if binding.Kind == config.ProviderOllama {
		return "", nil
	}
	if binding.APIKey != "" {
		return binding.APIKey, nil
	}

	envName := binding.APIKeyEnv
	if envName == "" {
		envName = defaultKeyEnv[binding.Kind]
	}
	if oracle != nil {
		if key, ok := oracle.Lookup(context.Background(), envName); ok && key != "" {
			return key, nil
		}
	}
	return "", metiserr.New(metiserr.KindAuthentication, "no API key for provider %q: set api_key, or provide %s", binding.Kind, envName)
}
