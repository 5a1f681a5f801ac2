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

// Package ollama implements the llm.Provider contract over a local
// Ollama server's /api/chat endpoint. Streaming responses are
// newline-delimited JSON rather than SSE.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/metis-labs/metis/pkg/llm"
	"github.com/metis-labs/metis/pkg/metiserr"
)

// Defaults.
const (
	DefaultModel       = "llama3.1"
	DefaultEndpoint    = "http://localhost:11434"
	DefaultTimeout     = 300 * time.Second
	DefaultTemperature = 1.0
)

// Client implements llm.Provider for a local Ollama server.
type Client struct {
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// Config holds configuration for the Ollama client. No API key: the
// server is local and unauthenticated.
type Config struct {
	Model       string        // Default: llama3.1
	Endpoint    string        // Default: http://localhost:11434
	Timeout     time.Duration // Default: 300s (local models load slowly)
	MaxTokens   int
	Temperature float64 // Default: 1.0
}

// NewClient creates a new Ollama client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultTemperature
	}

	return &Client{
		model:       config.Model,
		endpoint:    strings.TrimSuffix(config.Endpoint, "/"),
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "ollama"
}

// Model returns the model identifier.
func (c *Client) Model() string {
	return c.model
}

// ContextWindow returns the model's context window.
func (c *Client) ContextWindow() int {
	return llm.CapsFor(c.Name(), c.model).ContextWindow
}

// MaxOutputTokens returns the model's output cap.
func (c *Client) MaxOutputTokens() int {
	return llm.CapsFor(c.Name(), c.model).MaxOutputTokens
}

// Complete sends a blocking completion request.
func (c *Client) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	body := c.buildRequest(req, false)

	httpResp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStreaming, err, "failed to read response")
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, metiserr.API(httpResp.StatusCode, "Ollama API error: %s", string(respBody))
	}

	var resp chatResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, metiserr.Wrap(metiserr.KindParse, err, "failed to unmarshal response")
	}
	return convertResponse(&resp), nil
}

// CompleteStream starts a streaming completion over NDJSON.
func (c *Client) CompleteStream(ctx context.Context, req *llm.Request) (<-chan llm.StreamChunk, error) {
	body := c.buildRequest(req, true)

	httpResp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, metiserr.API(httpResp.StatusCode, "Ollama API error: %s", string(respBody))
	}

	ch := make(chan llm.StreamChunk, llm.StreamBufferSize)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()
		streamNDJSON(ctx, httpResp.Body, ch)
	}()
	return ch, nil
}

// buildRequest converts the unified request to the wire format.
func (c *Client) buildRequest(req *llm.Request, stream bool) *chatRequest {
	out := &chatRequest{
		Model:    c.model,
		Messages: convertMessages(req.Messages),
		Stream:   stream,
		Tools:    convertTools(req.Tools),
		Options:  map[string]interface{}{"temperature": c.temperature},
	}
	if req.Temperature > 0 {
		out.Options["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		out.Options["num_predict"] = req.MaxTokens
	} else if c.maxTokens > 0 {
		out.Options["num_predict"] = c.maxTokens
	}
	return out
}

func convertMessages(messages []llm.Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages))
	for _, msg := range messages {
		m := chatMessage{Role: string(msg.Role), Content: msg.Content}
		for _, tc := range msg.ToolCalls {
			var args map[string]interface{}
			if tc.Arguments != "" {
				_ = json.Unmarshal([]byte(tc.Arguments), &args)
			}
			m.ToolCalls = append(m.ToolCalls, toolCall{
				Function: functionCall{Name: tc.Name, Arguments: args},
			})
		}
		out = append(out, m)
	}
	return out
}

func convertTools(tools []llm.ToolDef) []tool {
	out := make([]tool, 0, len(tools))
	for _, t := range tools {
		params := t.InputSchema
		if params == nil {
			params = map[string]interface{}{"type": "object"}
		}
		out = append(out, tool{
			Type: "function",
			Function: functionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// convertResponse converts the wire response to the unified form. Ollama
// emits complete tool calls without IDs, so a synthetic positional ID is
// assigned.
func convertResponse(resp *chatResponse) *llm.Response {
	out := &llm.Response{
		Content: resp.Message.Content,
		Usage: &llm.Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
			TotalTokens:  resp.PromptEvalCount + resp.EvalCount,
		},
	}
	for i, tc := range resp.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        fmt.Sprintf("call_%d", i),
			Name:      tc.Function.Name,
			Arguments: marshalArgs(tc.Function.Arguments),
		})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = llm.FinishToolCalls
	} else if resp.DoneReason == "length" {
		out.FinishReason = llm.FinishLength
	} else {
		out.FinishReason = llm.FinishStop
	}
	return out
}

// marshalArgs normalizes the arguments field, which arrives as an object
// or occasionally as a pre-encoded string.
func marshalArgs(args interface{}) string {
	switch v := args.(type) {
	case nil:
		return "{}"
	case string:
		if v == "" {
			return "{}"
		}
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "{}"
		}
		return string(data)
	}
}

// streamNDJSON reads one JSON object per line and emits normalized
// chunks. Tool calls arrive whole; indices are assigned sequentially.
func streamNDJSON(ctx context.Context, body io.Reader, ch chan<- llm.StreamChunk) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	toolCount := 0

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var resp chatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			continue
		}

		out := llm.StreamChunk{ContentDelta: resp.Message.Content}
		for _, tc := range resp.Message.ToolCalls {
			out.ToolCallDeltas = append(out.ToolCallDeltas, llm.ToolCallDelta{
				Index:          toolCount,
				ID:             fmt.Sprintf("call_%d", toolCount),
				Name:           tc.Function.Name,
				ArgumentsDelta: marshalArgs(tc.Function.Arguments),
			})
			toolCount++
		}
		if resp.Done {
			if toolCount > 0 {
				out.FinishReason = llm.FinishToolCalls
			} else if resp.DoneReason == "length" {
				out.FinishReason = llm.FinishLength
			} else {
				out.FinishReason = llm.FinishStop
			}
			out.Usage = &llm.Usage{
				InputTokens:  resp.PromptEvalCount,
				OutputTokens: resp.EvalCount,
				TotalTokens:  resp.PromptEvalCount + resp.EvalCount,
			}
		}
		if out.ContentDelta == "" && len(out.ToolCallDeltas) == 0 && out.FinishReason == "" && out.Usage == nil {
			continue
		}

		select {
		case ch <- out:
		case <-ctx.Done():
			return
		}
		if resp.Done {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case ch <- llm.StreamChunk{Err: metiserr.Wrap(metiserr.KindStreaming, err, "stream read failed")}:
		case <-ctx.Done():
		}
	}
}

// post sends the request body to /api/chat.
func (c *Client) post(ctx context.Context, body *chatRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindInvalidRequest, err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/chat", bytes.NewReader(data))
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindInvalidRequest, err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStreaming, err, "HTTP request failed")
	}
	return httpResp, nil
}

// Wire types for /api/chat.

type chatRequest struct {
	Model    string                 `json:"model"`
	Messages []chatMessage          `json:"messages"`
	Stream   bool                   `json:"stream"`
	Tools    []tool                 `json:"tools,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	Function functionCall `json:"function"`
}

type functionCall struct {
	Name      string      `json:"name"`
	Arguments interface{} `json:"arguments"`
}

type tool struct {
	Type     string      `json:"type"`
	Function functionDef `json:"function"`
}

type functionDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	CreatedAt       string      `json:"created_at"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count"`
	EvalCount       int         `json:"eval_count"`
}

var _ llm.Provider = (*Client)(nil)
