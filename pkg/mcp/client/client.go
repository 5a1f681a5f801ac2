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

// Package client talks JSON-RPC to external MCP servers over HTTP and
// aggregates their tools under prefixed names.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/metis-labs/metis/pkg/mcp/protocol"
	"github.com/metis-labs/metis/pkg/metiserr"
)

// Client is an outbound connection to one MCP server speaking JSON-RPC
// over HTTP POST.
type Client struct {
	name       string
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	nextID     atomic.Int64
}

// Config configures an outbound client.
type Config struct {
	Name    string // Server name used in tool prefixes
	URL     string
	APIKey  string        // Optional; attached as Bearer auth
	Timeout time.Duration // Default: 30s
	Logger  *zap.Logger
}

// NewClient creates an outbound MCP client.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Client{
		name:       config.Name,
		url:        config.URL,
		apiKey:     config.APIKey,
		logger:     config.Logger,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Name returns the configured server name.
func (c *Client) Name() string {
	return c.name
}

// Initialize performs the MCP handshake.
func (c *Client) Initialize(ctx context.Context) (*protocol.InitializeResult, error) {
	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.Implementation{Name: "metis", Version: "1.0"},
	}
	var result protocol.InitializeResult
	if err := c.call(ctx, "initialize", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListTools enumerates the server's tools.
func (c *Client) ListTools(ctx context.Context) ([]protocol.Tool, error) {
	var result protocol.ToolListResult
	if err := c.call(ctx, "tools/list", struct{}{}, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a tool by its unprefixed name and flattens the text
// content items into a single string.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	params := protocol.CallToolParams{Name: name, Arguments: args}
	var result protocol.CallToolResult
	if err := c.call(ctx, "tools/call", params, &result); err != nil {
		return "", err
	}

	var text string
	for _, content := range result.Content {
		if content.Type == "text" {
			text += content.Text
		}
	}
	if result.IsError {
		return "", metiserr.New(metiserr.KindAPI, "tool %s failed on server %s: %s", name, c.name, text)
	}
	return text, nil
}

// call performs one JSON-RPC round trip.
func (c *Client) call(ctx context.Context, method string, params, result interface{}) error {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return metiserr.Wrap(metiserr.KindInvalidRequest, err, "failed to marshal params")
	}

	req := protocol.Request{
		JSONRPC: protocol.JSONRPCVersion,
		ID:      protocol.NumericID(c.nextID.Add(1)),
		Method:  method,
		Params:  paramsJSON,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return metiserr.Wrap(metiserr.KindInvalidRequest, err, "failed to marshal request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return metiserr.Wrap(metiserr.KindInvalidRequest, err, "failed to create request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return metiserr.Wrap(metiserr.KindStreaming, err, "request to MCP server %s failed", c.name)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return metiserr.Wrap(metiserr.KindStreaming, err, "failed to read response from %s", c.name)
	}
	if httpResp.StatusCode != http.StatusOK {
		return metiserr.API(httpResp.StatusCode, "MCP server %s: %s", c.name, string(respBody))
	}

	var resp protocol.Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return metiserr.Wrap(metiserr.KindParse, err, "undecodable response from %s", c.name)
	}
	if resp.Error != nil {
		return metiserr.API(httpResp.StatusCode, "MCP server %s: %s", c.name, resp.Error.Message)
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return metiserr.Wrap(metiserr.KindParse, err, "undecodable result from %s", c.name)
		}
	}
	return nil
}
