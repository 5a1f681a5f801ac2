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

// Package openai implements the llm.Provider contract over the OpenAI
// Chat Completions API.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/metis-labs/metis/pkg/llm"
	"github.com/metis-labs/metis/pkg/metiserr"
)

// Client implements llm.Provider for OpenAI's API.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// Config holds configuration for the OpenAI client.
type Config struct {
	APIKey      string
	Model       string        // Default: gpt-4o
	Endpoint    string        // Default: https://api.openai.com/v1/chat/completions
	Timeout     time.Duration // Default: 120s
	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 1.0
}

// Defaults.
const (
	DefaultModel       = "gpt-4o"
	DefaultEndpoint    = "https://api.openai.com/v1/chat/completions"
	DefaultTimeout     = 120 * time.Second
	DefaultMaxTokens   = 4096
	DefaultTemperature = 1.0
)

// NewClient creates a new OpenAI client.
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
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultTemperature
	}

	return &Client{
		apiKey:      config.APIKey,
		model:       config.Model,
		endpoint:    config.Endpoint,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "openai"
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

	resp, err := c.callAPI(ctx, body)
	if err != nil {
		return nil, err
	}
	return ConvertResponse(resp), nil
}

// CompleteStream starts a streaming completion over SSE.
func (c *Client) CompleteStream(ctx context.Context, req *llm.Request) (<-chan llm.StreamChunk, error) {
	body := c.buildRequest(req, true)

	httpResp, err := c.post(ctx, body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, metiserr.API(httpResp.StatusCode, "OpenAI API error: %s", string(respBody))
	}

	ch := make(chan llm.StreamChunk, llm.StreamBufferSize)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()
		StreamSSE(ctx, httpResp.Body, ch)
	}()
	return ch, nil
}

// buildRequest converts the unified request to the wire format, applying
// client defaults where the request leaves fields unset.
func (c *Client) buildRequest(req *llm.Request, stream bool) *ChatCompletionRequest {
	out := &ChatCompletionRequest{
		Model:       c.model,
		Messages:    ConvertMessages(req.Messages),
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Stream:      stream,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		out.Temperature = req.Temperature
	}
	if tools := ConvertTools(req.Tools); len(tools) > 0 {
		out.Tools = tools
		out.ToolChoice = "auto"
	}
	if stream {
		out.StreamOptions = &StreamOptions{IncludeUsage: true}
	}
	return out
}

// ConvertMessages converts unified messages to the chat completions wire
// form. Shared with the azureopenai client.
func ConvertMessages(messages []llm.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleAssistant:
			apiMsg := ChatMessage{Role: "assistant", Content: msg.Content}
			for _, tc := range msg.ToolCalls {
				apiMsg.ToolCalls = append(apiMsg.ToolCalls, ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: FunctionCall{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				})
			}
			out = append(out, apiMsg)
		case llm.RoleTool:
			out = append(out, ChatMessage{
				Role:       "tool",
				Content:    msg.Content,
				ToolCallID: msg.ToolCallID,
				Name:       msg.Name,
			})
		default:
			out = append(out, ChatMessage{Role: string(msg.Role), Content: msg.Content})
		}
	}
	return out
}

// ConvertTools converts unified tool definitions to the wire form.
func ConvertTools(tools []llm.ToolDef) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		params := tool.InputSchema
		if params == nil {
			params = map[string]interface{}{"type": "object"}
		}
		out = append(out, Tool{
			Type: "function",
			Function: FunctionDef{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

// NormalizeFinishReason maps chat-completions finish reasons to the
// unified set.
func NormalizeFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "stop":
		return llm.FinishStop
	case "length":
		return llm.FinishLength
	case "tool_calls", "function_call":
		return llm.FinishToolCalls
	case "content_filter":
		return llm.FinishContentFilter
	default:
		return llm.FinishStop
	}
}

// ConvertResponse converts the wire response to the unified form.
func ConvertResponse(resp *ChatCompletionResponse) *llm.Response {
	out := &llm.Response{
		Usage: &llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	if len(resp.Choices) == 0 {
		out.FinishReason = llm.FinishStop
		return out
	}

	choice := resp.Choices[0]
	out.FinishReason = NormalizeFinishReason(choice.FinishReason)
	if choice.Message.Content != nil {
		out.Content = *choice.Message.Content
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

// StreamSSE reads "data:" lines from the response body and emits
// normalized chunks. Shared with the azureopenai client.
func StreamSSE(ctx context.Context, body io.Reader, ch chan<- llm.StreamChunk) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return
		}

		var chunk ChatCompletionStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Skip malformed keep-alive payloads.
			continue
		}

		out := llm.StreamChunk{}
		if len(chunk.Choices) > 0 {
			choice := chunk.Choices[0]
			out.ContentDelta = choice.Delta.ContentString()
			for _, tc := range choice.Delta.ToolCalls {
				delta := llm.ToolCallDelta{Index: tc.Index, ID: tc.ID}
				if tc.Function != nil {
					delta.Name = tc.Function.Name
					delta.ArgumentsDelta = tc.Function.Arguments
				}
				out.ToolCallDeltas = append(out.ToolCallDeltas, delta)
			}
			if choice.FinishReason != "" {
				out.FinishReason = NormalizeFinishReason(choice.FinishReason)
			}
		}
		if chunk.Usage != nil {
			out.Usage = &llm.Usage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
				TotalTokens:  chunk.Usage.TotalTokens,
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
	}

	if err := scanner.Err(); err != nil {
		select {
		case ch <- llm.StreamChunk{Err: metiserr.Wrap(metiserr.KindStreaming, err, "stream read failed")}:
		case <-ctx.Done():
		}
	}
}

// post sends the request body with bearer auth.
func (c *Client) post(ctx context.Context, body *ChatCompletionRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindInvalidRequest, err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindInvalidRequest, err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStreaming, err, "HTTP request failed")
	}
	return httpResp, nil
}

// callAPI performs the non-streaming round trip.
func (c *Client) callAPI(ctx context.Context, body *ChatCompletionRequest) (*ChatCompletionResponse, error) {
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
		return nil, metiserr.API(httpResp.StatusCode, "OpenAI API error: %s", string(respBody))
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, metiserr.Wrap(metiserr.KindParse, err, "failed to unmarshal response")
	}
	if resp.Error != nil {
		return nil, metiserr.API(httpResp.StatusCode, "OpenAI API error: %s (type: %s)", resp.Error.Message, resp.Error.Type)
	}
	return &resp, nil
}

var _ llm.Provider = (*Client)(nil)
