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

package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metis-labs/metis/pkg/llm"
	"github.com/metis-labs/metis/pkg/metiserr"
)

func TestNewClient_Defaults(t *testing.T) {
	client := NewClient(Config{APIKey: "test-key"})
	assert.Equal(t, "test-key", client.apiKey)
	assert.Equal(t, DefaultModel, client.model)
	assert.Equal(t, DefaultEndpoint, client.endpoint)
	assert.Equal(t, DefaultMaxTokens, client.maxTokens)
	assert.Equal(t, DefaultTemperature, client.temperature)
	assert.NotNil(t, client.httpClient)
}

func TestClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		content := "Hello there"
		resp := ChatCompletionResponse{
			Choices: []Choice{{
				Message:      ResponseMessage{Role: "assistant", Content: &content},
				FinishReason: "stop",
			}},
			Usage: UsageInfo{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "test-key", Endpoint: server.URL})
	resp, err := client.Complete(context.Background(), &llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are helpful."},
			{Role: llm.RoleUser, Content: "Hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Equal(t, llm.FinishStop, resp.FinishReason)
	assert.Equal(t, 13, resp.Usage.TotalTokens)
}

func TestClient_Complete_ToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := ChatCompletionResponse{
			Choices: []Choice{{
				Message: ResponseMessage{
					Role: "assistant",
					ToolCalls: []ToolCall{{
						ID:       "call_abc",
						Type:     "function",
						Function: FunctionCall{Name: "lookup", Arguments: `{"id": 7}`},
					}},
				},
				FinishReason: "tool_calls",
			}},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: server.URL})
	resp, err := client.Complete(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "look up 7"}},
		Tools:    []llm.ToolDef{{Name: "lookup", Description: "Look up a record"}},
	})
	require.NoError(t, err)
	assert.Equal(t, llm.FinishToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_abc", resp.ToolCalls[0].ID)
	assert.Equal(t, `{"id": 7}`, resp.ToolCalls[0].Arguments)
}

func TestClient_Complete_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"message": "bad key", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "bad", Endpoint: server.URL})
	_, err := client.Complete(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.True(t, metiserr.Is(err, metiserr.KindAPI))
}

func TestClient_CompleteStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		require.NotNil(t, req.StreamOptions)
		assert.True(t, req.StreamOptions.IncludeUsage)

		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: server.URL})
	stream, err := client.CompleteStream(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	resp, err := llm.Drain(stream)
	require.NoError(t, err)
	assert.Equal(t, "Hello", resp.Content)
	assert.Equal(t, llm.FinishStop, resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestClient_CompleteStream_ToolCallDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"search","arguments":""}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":"}}]}}]}`,
			`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`,
			`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		}
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(Config{APIKey: "k", Endpoint: server.URL})
	stream, err := client.CompleteStream(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "search go"}},
	})
	require.NoError(t, err)

	resp, err := llm.Drain(stream)
	require.NoError(t, err)
	assert.Equal(t, llm.FinishToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "search", resp.ToolCalls[0].Name)
	assert.Equal(t, `{"q":"go"}`, resp.ToolCalls[0].Arguments)
}

func TestConvertMessages_ToolRoundTrip(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleUser, Content: "look it up"},
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "lookup", Arguments: `{}`}}},
		{Role: llm.RoleTool, Content: `{"ok":true}`, ToolCallID: "c1", Name: "lookup"},
	}

	out := ConvertMessages(messages)
	require.Len(t, out, 3)
	assert.Equal(t, "user", out[0].Role)
	require.Len(t, out[1].ToolCalls, 1)
	assert.Equal(t, "c1", out[1].ToolCalls[0].ID)
	assert.Equal(t, "tool", out[2].Role)
	assert.Equal(t, "c1", out[2].ToolCallID)
}

func TestNormalizeFinishReason(t *testing.T) {
	assert.Equal(t, llm.FinishStop, NormalizeFinishReason("stop"))
	assert.Equal(t, llm.FinishLength, NormalizeFinishReason("length"))
	assert.Equal(t, llm.FinishToolCalls, NormalizeFinishReason("tool_calls"))
	assert.Equal(t, llm.FinishContentFilter, NormalizeFinishReason("content_filter"))
	assert.Equal(t, llm.FinishStop, NormalizeFinishReason("anything-else"))
}
