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

// Package azureopenai implements the llm.Provider contract over an Azure
// OpenAI deployment. The wire format is the Chat Completions format, so
// the conversion and SSE handling come from the openai package; only the
// endpoint shape and auth header differ.
package azureopenai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/metis-labs/metis/pkg/llm"
	"github.com/metis-labs/metis/pkg/llm/openai"
	"github.com/metis-labs/metis/pkg/metiserr"
)

// Defaults.
const (
	DefaultAPIVersion  = "2024-06-01"
	DefaultTimeout     = 120 * time.Second
	DefaultMaxTokens   = 4096
	DefaultTemperature = 1.0
)

// Client implements llm.Provider for Azure OpenAI.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// Config holds configuration for the Azure OpenAI client. BaseURL is the
// resource endpoint (https://{resource}.openai.azure.com) and Deployment
// names the deployed model; both are required.
type Config struct {
	APIKey      string
	BaseURL     string
	Deployment  string
	Model       string        // Display model name; defaults to the deployment name
	APIVersion  string        // Default: 2024-06-01
	Timeout     time.Duration // Default: 120s
	MaxTokens   int           // Default: 4096
	Temperature float64       // Default: 1.0
}

// NewClient creates a new Azure OpenAI client.
func NewClient(config Config) *Client {
	if config.APIVersion == "" {
		config.APIVersion = DefaultAPIVersion
	}
	if config.Model == "" {
		config.Model = config.Deployment
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

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimSuffix(config.BaseURL, "/"), config.Deployment, config.APIVersion)

	return &Client{
		apiKey:      config.APIKey,
		model:       config.Model,
		endpoint:    endpoint,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "azure_openai"
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
		return nil, metiserr.API(httpResp.StatusCode, "Azure OpenAI API error: %s", string(respBody))
	}

	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, metiserr.Wrap(metiserr.KindParse, err, "failed to unmarshal response")
	}
	if resp.Error != nil {
		return nil, metiserr.API(httpResp.StatusCode, "Azure OpenAI API error: %s (type: %s)", resp.Error.Message, resp.Error.Type)
	}
	return openai.ConvertResponse(&resp), nil
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
		return nil, metiserr.API(httpResp.StatusCode, "Azure OpenAI API error: %s", string(respBody))
	}

	ch := make(chan llm.StreamChunk, llm.StreamBufferSize)
	go func() {
		defer close(ch)
		defer httpResp.Body.Close()
		openai.StreamSSE(ctx, httpResp.Body, ch)
	}()
	return ch, nil
}

// buildRequest converts the unified request to the wire format. The model
// field stays empty: Azure routes by deployment, not model name.
func (c *Client) buildRequest(req *llm.Request, stream bool) *openai.ChatCompletionRequest {
	out := &openai.ChatCompletionRequest{
		Messages:    openai.ConvertMessages(req.Messages),
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
	if tools := openai.ConvertTools(req.Tools); len(tools) > 0 {
		out.Tools = tools
		out.ToolChoice = "auto"
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return out
}

// post sends the request body with the api-key header Azure expects.
func (c *Client) post(ctx context.Context, body *openai.ChatCompletionRequest) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindInvalidRequest, err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindInvalidRequest, err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStreaming, err, "HTTP request failed")
	}
	return httpResp, nil
}

var _ llm.Provider = (*Client)(nil)
