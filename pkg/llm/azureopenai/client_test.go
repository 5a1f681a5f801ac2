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

package azureopenai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metis-labs/metis/pkg/llm"
	"github.com/metis-labs/metis/pkg/llm/openai"
)

func TestClient_EndpointAndAuth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/openai/deployments/gpt4o-prod/chat/completions", r.URL.Path)
		assert.Equal(t, "2024-06-01", r.URL.Query().Get("api-version"))
		assert.Equal(t, "azure-key", r.Header.Get("api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// Azure routes by deployment; the model field stays empty.
		assert.Empty(t, req.Model)

		content := "ok"
		json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.Choice{{
				Message:      openai.ResponseMessage{Role: "assistant", Content: &content},
				FinishReason: "stop",
			}},
		})
	}))
	defer server.Close()

	client := NewClient(Config{
		APIKey:     "azure-key",
		BaseURL:    server.URL,
		Deployment: "gpt4o-prod",
		Model:      "gpt-4o",
	})
	assert.Equal(t, "azure_openai", client.Name())
	assert.Equal(t, "gpt-4o", client.Model())

	resp, err := client.Complete(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestNewClient_ModelDefaultsToDeployment(t *testing.T) {
	client := NewClient(Config{APIKey: "k", BaseURL: "https://r.openai.azure.com", Deployment: "my-dep"})
	assert.Equal(t, "my-dep", client.Model())
}
