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

// Package gemini implements the llm.Provider contract over the Google
// Gemini generateContent API.
package gemini

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
	DefaultModel       = "gemini-2.0-flash"
	DefaultBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	DefaultTimeout     = 120 * time.Second
	DefaultMaxTokens   = 4096
	DefaultTemperature = 1.0
)

// Client implements llm.Provider for the Gemini API.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// Config holds configuration for the Gemini client.
type Config struct {
	APIKey      string
	Model       string        // Default: gemini-2.0-flash
	BaseURL     string        // Default: https://generativelanguage.googleapis.com/v1beta
	Timeout     time.Duration // Default: 120s
	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 1.0
}

// NewClient creates a new Gemini client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
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
		baseURL:     strings.TrimSuffix(config.BaseURL, "/"),
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "gemini"
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
	body := c.buildRequest(req)
	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)

	httpResp, err := c.post(ctx, url, body)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStreaming, err, "failed to read response")
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, metiserr.API(httpResp.StatusCode, "Gemini API error: %s", string(respBody))
	}

	var resp GenerateContentResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, metiserr.Wrap(metiserr.KindParse, err, "failed to unmarshal response")
	}
	if resp.Error != nil {
		return nil, metiserr.API(httpResp.StatusCode, "Gemini API error: %s (status: %s)", resp.Error.Message, resp.Error.Status)
	}
	return convertResponse(&resp), nil
}

// CompleteStream starts a streaming completion. The stream endpoint emits
// SSE data lines each carrying a complete GenerateContentResponse, so
// function calls arrive whole rather than as argument fragments.
func (c *Client) CompleteStream(ctx context.Context, req *llm.Request) (<-chan llm.StreamChunk, error) {
	body := c.buildRequest(req)
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, c.model)

	httpResp, err := c.post(ctx, url, body)
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		return nil, metiserr.API(httpResp.StatusCode, "Gemini API error: %s", string(respBody))
	}

	ch := make(chan llm.StreamChunk, llm.StreamBufferSize)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()
		streamSSE(ctx, httpResp.Body, ch)
	}()
	return ch, nil
}

// buildRequest converts the unified request to the wire format.
func (c *Client) buildRequest(req *llm.Request) *GenerateContentRequest {
	system, contents := ConvertMessages(req.Messages)
	out := &GenerateContentRequest{
		Contents: contents,
		Tools:    ConvertTools(req.Tools),
		GenerationConfig: GenerationConfig{
			Temperature:     c.temperature,
			MaxOutputTokens: c.maxTokens,
		},
	}
	if system != "" {
		out.SystemInstruction = &Content{Parts: []Part{{Text: system}}}
	}
	if req.MaxTokens > 0 {
		out.GenerationConfig.MaxOutputTokens = req.MaxTokens
	}
	if req.Temperature > 0 {
		out.GenerationConfig.Temperature = req.Temperature
	}
	return out
}

// ConvertMessages converts unified messages to Gemini contents. System
// messages are joined into the returned system instruction; assistant
// turns use role "model" and tool results use role "function".
func ConvertMessages(messages []llm.Message) (string, []Content) {
	var systemPrompts []string
	var contents []Content

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			systemPrompts = append(systemPrompts, msg.Content)

		case llm.RoleAssistant:
			var parts []Part
			if msg.Content != "" {
				parts = append(parts, Part{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var args map[string]interface{}
				if tc.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Arguments), &args)
				}
				parts = append(parts, Part{FunctionCall: &FunctionCall{Name: tc.Name, Args: args}})
			}
			if len(parts) > 0 {
				contents = append(contents, Content{Role: "model", Parts: parts})
			}

		case llm.RoleTool:
			name := msg.Name
			if name == "" {
				name = msg.ToolCallID
			}
			contents = append(contents, Content{
				Role: "function",
				Parts: []Part{{
					FunctionResponse: &FunctionResponse{
						Name:     name,
						Response: map[string]interface{}{"result": msg.Content},
					},
				}},
			})

		default:
			contents = append(contents, Content{
				Role:  "user",
				Parts: []Part{{Text: msg.Content}},
			})
		}
	}
	return strings.Join(systemPrompts, "\n\n"), contents
}

// ConvertTools converts unified tool definitions to the wire form.
func ConvertTools(tools []llm.ToolDef) []Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		decls = append(decls, FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
		})
	}
	return []Tool{{FunctionDeclarations: decls}}
}

// NormalizeFinishReason maps Gemini finish reasons to the unified set.
func NormalizeFinishReason(reason string, hasToolCalls bool) llm.FinishReason {
	if hasToolCalls {
		return llm.FinishToolCalls
	}
	switch reason {
	case "STOP":
		return llm.FinishStop
	case "MAX_TOKENS":
		return llm.FinishLength
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return llm.FinishContentFilter
	default:
		return llm.FinishStop
	}
}

// convertResponse converts the wire response to the unified form. Gemini
// provides no call IDs, so the function name stands in.
func convertResponse(resp *GenerateContentResponse) *llm.Response {
	out := &llm.Response{
		Usage: &llm.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:  resp.UsageMetadata.TotalTokenCount,
		},
	}
	if len(resp.Candidates) == 0 {
		out.FinishReason = llm.FinishStop
		return out
	}

	candidate := resp.Candidates[0]
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			args := "{}"
			if len(part.FunctionCall.Args) > 0 {
				if data, err := json.Marshal(part.FunctionCall.Args); err == nil {
					args = string(data)
				}
			}
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				ID:        part.FunctionCall.Name,
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		}
	}
	out.FinishReason = NormalizeFinishReason(candidate.FinishReason, len(out.ToolCalls) > 0)
	return out
}

// streamSSE reads SSE data lines and emits normalized chunks. Each
// function call becomes a single complete tool-call delta with the next
// sequential index.
func streamSSE(ctx context.Context, body io.Reader, ch chan<- llm.StreamChunk) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	toolCount := 0
	sawToolCalls := false

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var resp GenerateContentResponse
		if err := json.Unmarshal([]byte(payload), &resp); err != nil {
			continue
		}
		if resp.Error != nil {
			select {
			case ch <- llm.StreamChunk{Err: metiserr.New(metiserr.KindStreaming, "Gemini stream error: %s (status: %s)", resp.Error.Message, resp.Error.Status)}:
			case <-ctx.Done():
			}
			return
		}

		out := llm.StreamChunk{}
		if len(resp.Candidates) > 0 {
			candidate := resp.Candidates[0]
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					out.ContentDelta += part.Text
				}
				if part.FunctionCall != nil {
					args := "{}"
					if len(part.FunctionCall.Args) > 0 {
						if data, err := json.Marshal(part.FunctionCall.Args); err == nil {
							args = string(data)
						}
					}
					out.ToolCallDeltas = append(out.ToolCallDeltas, llm.ToolCallDelta{
						Index:          toolCount,
						ID:             part.FunctionCall.Name,
						Name:           part.FunctionCall.Name,
						ArgumentsDelta: args,
					})
					toolCount++
					sawToolCalls = true
				}
			}
			if candidate.FinishReason != "" {
				out.FinishReason = NormalizeFinishReason(candidate.FinishReason, sawToolCalls)
			}
		}
		if resp.UsageMetadata.TotalTokenCount > 0 {
			out.Usage = &llm.Usage{
				InputTokens:  resp.UsageMetadata.PromptTokenCount,
				OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
				TotalTokens:  resp.UsageMetadata.TotalTokenCount,
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

// post sends the request body with the API key header.
func (c *Client) post(ctx context.Context, url string, body *GenerateContentRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindInvalidRequest, err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindInvalidRequest, err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStreaming, err, "HTTP request failed")
	}
	return httpResp, nil
}

var _ llm.Provider = (*Client)(nil)
