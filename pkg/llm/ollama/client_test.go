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

package ollama

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
)

func TestClient_Complete_ToolCalls(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		resp := chatResponse{
			Message: chatMessage{
				Role: "assistant",
				ToolCalls: []toolCall{{
					Function: functionCall{
						Name:      "get_weather",
						Arguments: map[string]interface{}{"city": "Oslo"},
					},
				}},
			},
			Done:            true,
			PromptEvalCount: 30,
			EvalCount:       12,
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL})
	resp, err := client.Complete(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "weather in Oslo?"}},
		Tools:    []llm.ToolDef{{Name: "get_weather"}},
	})
	require.NoError(t, err)
	assert.Equal(t, llm.FinishToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.ToolCalls[0].Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, resp.ToolCalls[0].Arguments)
	assert.Equal(t, 42, resp.Usage.TotalTokens)
}

func TestClient_CompleteStream_NDJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`{"message":{"role":"assistant","content":"It "},"done":false}`,
			`{"message":{"role":"assistant","content":"rains."},"done":false}`,
			`{"message":{"role":"assistant","content":""},"done":true,"prompt_eval_count":8,"eval_count":3}`,
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL})
	stream, err := client.CompleteStream(context.Background(), &llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	resp, err := llm.Drain(stream)
	require.NoError(t, err)
	assert.Equal(t, "It rains.", resp.Content)
	assert.Equal(t, llm.FinishStop, resp.FinishReason)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 11, resp.Usage.TotalTokens)
}

func TestMarshalArgs(t *testing.T) {
	assert.Equal(t, "{}", marshalArgs(nil))
	assert.Equal(t, "{}", marshalArgs(""))
	assert.Equal(t, `{"a":1}`, marshalArgs(`{"a":1}`))
	assert.JSONEq(t, `{"a":1}`, marshalArgs(map[string]interface{}{"a": 1}))
}
