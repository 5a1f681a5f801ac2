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

// Package anthropic implements the llm.Provider contract over the
// Anthropic Messages API.
package anthropic

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

// Defaults.
const (
	DefaultModel       = "claude-3-5-sonnet-20241022"
	DefaultEndpoint    = "https://api.anthropic.com/v1/messages"
	DefaultTimeout     = 120 * time.Second
	DefaultMaxTokens   = 4096
	DefaultTemperature = 1.0

	apiVersion = "2023-06-01"
)

// Client implements llm.Provider for Anthropic's Claude API.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey      string
	Model       string        // Default: claude-3-5-sonnet-20241022
	Endpoint    string        // Default: https://api.anthropic.com/v1/messages
	Timeout     time.Duration // Default: 120s
	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 1.0
}

// NewClient creates a new Anthropic client.
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
	return "anthropic"
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
		return nil, metiserr.API(httpResp.StatusCode, "Anthropic API error: %s", string(respBody))
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, metiserr.Wrap(metiserr.KindParse, err, "failed to unmarshal response")
	}
	if resp.Error != nil {
		return nil, metiserr.API(httpResp.StatusCode, "Anthropic API error: %s (type: %s)", resp.Error.Message, resp.Error.Type)
	}
	return convertResponse(&resp), nil
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
		return nil, metiserr.API(httpResp.StatusCode, "Anthropic API error: %s", string(respBody))
	}

	ch := make(chan llm.StreamChunk, llm.StreamBufferSize)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()
		streamEvents(ctx, httpResp.Body, ch)
	}()
	return ch, nil
}

// buildRequest converts the unified request to the Messages API wire
// format. System messages are hoisted into the top-level system field.
func (c *Client) buildRequest(req *llm.Request, stream bool) *MessagesRequest {
	system, messages := ConvertMessages(req.Messages)
	out := &MessagesRequest{
		Model:       c.model,
		Messages:    messages,
		System:      system,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Tools:       ConvertTools(req.Tools),
		Stream:      stream,
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		out.Temperature = req.Temperature
	}
	return out
}

// ConvertMessages converts unified messages to the Messages API form.
// The Messages API has no system or tool role: system prompts are joined
// into the returned system string, and tool results become user messages
// carrying tool_result blocks.
func ConvertMessages(messages []llm.Message) (string, []Message) {
	var systemPrompts []string
	var out []Message

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Content)

		case llm.RoleAssistant:
			var content []ContentBlock
			if msg.Content != "" {
				content = append(content, ContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]interface{}
				if tc.Arguments != "" {
					// Malformed argument text degrades to empty input
					// rather than failing the whole request.
					_ = json.Unmarshal([]byte(tc.Arguments), &input)
				}
				content = append(content, ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(content) > 0 {
				out = append(out, Message{Role: "assistant", Content: content})
			}

		case llm.RoleTool:
			out = append(out, Message{
				Role: "user",
				Content: []ContentBlock{
					{
						Type:      "tool_result",
						ToolUseID: msg.ToolCallID,
						Content:   msg.Content,
					},
				},
			})

		default:
			out = append(out, Message{
				Role:    "user",
				Content: []ContentBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}
	return strings.Join(systemPrompts, "\n\n"), out
}

// ConvertTools converts unified tool definitions to the wire form.
func ConvertTools(tools []llm.ToolDef) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, tool := range tools {
		schema := tool.InputSchema
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		out = append(out, Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}
	return out
}

// NormalizeStopReason maps Messages API stop reasons to the unified set.
func NormalizeStopReason(reason string) llm.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return llm.FinishStop
	case "max_tokens":
		return llm.FinishLength
	case "tool_use":
		return llm.FinishToolCalls
	default:
		return llm.FinishStop
	}
}

// convertResponse converts the wire response to the unified form.
func convertResponse(resp *MessagesResponse) *llm.Response {
	out := &llm.Response{
		FinishReason: NormalizeStopReason(resp.StopReason),
		Usage: &llm.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Content += block.Text
		case "tool_use":
			args := "{}"
			if len(block.Input) > 0 {
				if data, err := json.Marshal(block.Input); err == nil {
					args = string(data)
				}
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	return out
}

// streamEvents reads the Messages API event stream and emits normalized
// chunks. Tool-call indices are assigned in tool_use block emission order,
// so delta indices line up with the accumulator's expectations regardless
// of interleaved text blocks.
func streamEvents(ctx context.Context, body io.Reader, ch chan<- llm.StreamChunk) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// Content block index → unified tool-call index.
	blockToTool := make(map[int]int)
	toolCount := 0
	var inputTokens int

	emit := func(chunk llm.StreamChunk) bool {
		select {
		case ch <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event StreamEvent
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				inputTokens = event.Message.Usage.InputTokens
			}

		case "content_block_start":
			if event.ContentBlock == nil || event.ContentBlock.Type != "tool_use" {
				continue
			}
			idx := toolCount
			toolCount++
			blockToTool[event.Index] = idx
			chunk := llm.StreamChunk{ToolCallDeltas: []llm.ToolCallDelta{
				{Index: idx, ID: event.ContentBlock.ID, Name: event.ContentBlock.Name},
			}}
			if !emit(chunk) {
				return
			}

		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if event.Delta.Text == "" {
					continue
				}
				if !emit(llm.StreamChunk{ContentDelta: event.Delta.Text}) {
					return
				}
			case "input_json_delta":
				idx, ok := blockToTool[event.Index]
				if !ok || event.Delta.PartialJSON == "" {
					continue
				}
				chunk := llm.StreamChunk{ToolCallDeltas: []llm.ToolCallDelta{
					{Index: idx, ArgumentsDelta: event.Delta.PartialJSON},
				}}
				if !emit(chunk) {
					return
				}
			}

		case "content_block_stop":
			delete(blockToTool, event.Index)

		case "message_delta":
			chunk := llm.StreamChunk{}
			if event.Delta != nil && event.Delta.StopReason != "" {
				chunk.FinishReason = NormalizeStopReason(event.Delta.StopReason)
			}
			if event.Usage != nil {
				chunk.Usage = &llm.Usage{
					InputTokens:  inputTokens,
					OutputTokens: event.Usage.OutputTokens,
					TotalTokens:  inputTokens + event.Usage.OutputTokens,
				}
			}
			if chunk.FinishReason != "" || chunk.Usage != nil {
				if !emit(chunk) {
					return
				}
			}

		case "message_stop":
			return

		case "error":
			if event.Error != nil {
				emit(llm.StreamChunk{Err: metiserr.New(metiserr.KindStreaming, "Anthropic stream error: %s (type: %s)", event.Error.Message, event.Error.Type)})
			}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		emit(llm.StreamChunk{Err: metiserr.Wrap(metiserr.KindStreaming, err, "stream read failed")})
	}
}

// post sends the request body with Anthropic auth headers.
func (c *Client) post(ctx context.Context, body *MessagesRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindInvalidRequest, err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindInvalidRequest, err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStreaming, err, "HTTP request failed")
	}
	return httpResp, nil
}

var _ llm.Provider = (*Client)(nil)
