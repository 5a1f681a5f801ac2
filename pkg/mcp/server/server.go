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

// Package server dispatches MCP JSON-RPC requests to capability
// providers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metis-labs/metis/pkg/mcp/protocol"
	"github.com/metis-labs/metis/pkg/mcp/transport"
)

// ToolProvider serves tools/list and tools/call.
type ToolProvider interface {
	ListTools(ctx context.Context) ([]protocol.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
}

// ResourceProvider serves resources/list and resources/read.
type ResourceProvider interface {
	ListResources(ctx context.Context) ([]protocol.Resource, error)
	ReadResource(ctx context.Context, uri string) (*protocol.ResourceContents, error)
}

// PromptProvider serves prompts/list and prompts/get.
type PromptProvider interface {
	ListPrompts(ctx context.Context) ([]protocol.Prompt, error)
	GetPrompt(ctx context.Context, name string, args map[string]interface{}) (*protocol.GetPromptResult, error)
}

// MethodHandler processes one JSON-RPC method. id is nil for
// notifications.
type MethodHandler func(ctx context.Context, id *protocol.RequestID, params json.RawMessage) (interface{}, error)

// Server dispatches JSON-RPC requests to registered method handlers.
type Server struct {
	info         protocol.Implementation
	capabilities protocol.ServerCapabilities
	logger       *zap.Logger

	mu         sync.RWMutex
	handlers   map[string]MethodHandler
	clientInfo *protocol.Implementation
	active     transport.Transport
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithToolProvider enables the tools capability.
func WithToolProvider(p ToolProvider) Option {
	return func(s *Server) {
		s.capabilities.Tools = &protocol.ToolsCapability{}
		s.RegisterHandler("tools/list", s.toolsListHandler(p))
		s.RegisterHandler("tools/call", s.toolsCallHandler(p))
	}
}

// WithResourceProvider enables the resources capability.
func WithResourceProvider(p ResourceProvider) Option {
	return func(s *Server) {
		s.capabilities.Resources = &protocol.ResourcesCapability{}
		s.RegisterHandler("resources/list", s.resourcesListHandler(p))
		s.RegisterHandler("resources/read", s.resourcesReadHandler(p))
	}
}

// WithPromptProvider enables the prompts capability.
func WithPromptProvider(p PromptProvider) Option {
	return func(s *Server) {
		s.capabilities.Prompts = &protocol.PromptsCapability{}
		s.RegisterHandler("prompts/list", s.promptsListHandler(p))
		s.RegisterHandler("prompts/get", s.promptsGetHandler(p))
	}
}

// New creates an MCP server with the given identity.
func New(name, version string, opts ...Option) *Server {
	s := &Server{
		info:         protocol.Implementation{Name: name, Version: version},
		capabilities: protocol.ServerCapabilities{Logging: &protocol.LoggingCapability{}},
		handlers:     make(map[string]MethodHandler),
		logger:       zap.NewNop(),
	}

	s.RegisterHandler("initialize", s.handleInitialize)
	s.RegisterHandler("ping", s.handlePing)
	s.RegisterHandler("notifications/initialized", s.handleInitialized)
	s.RegisterHandler("notifications/message", s.handleLogMessage)

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandler installs a handler for a method, replacing any existing
// one.
func (s *Server) RegisterHandler(method string, handler MethodHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// HandleMessage processes one JSON-RPC message and returns the encoded
// response, or nil for notifications.
func (s *Server) HandleMessage(ctx context.Context, msg []byte) []byte {
	var req protocol.Request
	if err := json.Unmarshal(msg, &req); err != nil {
		return encode(protocol.NewErrorResponse(nil, protocol.CodeParseError, "invalid JSON"))
	}
	if req.JSONRPC != protocol.JSONRPCVersion || req.Method == "" {
		if req.IsNotification() {
			return nil
		}
		return encode(protocol.NewErrorResponse(req.ID, protocol.CodeInvalidRequest, "invalid JSON-RPC request"))
	}

	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()

	if !ok {
		if req.IsNotification() {
			s.logger.Debug("ignoring unknown notification", zap.String("method", req.Method))
			return nil
		}
		return encode(protocol.NewErrorResponse(req.ID, protocol.CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", req.Method)))
	}

	start := time.Now()
	result, err := handler(ctx, req.ID, req.Params)
	duration := time.Since(start)

	if err != nil {
		s.logger.Warn("handler error",
			zap.String("method", req.Method),
			zap.Duration("duration", duration),
			zap.Error(err))
		if req.IsNotification() {
			return nil
		}
		var rpcErr *protocol.Error
		if errors.As(err, &rpcErr) {
			return encode(&protocol.Response{JSONRPC: protocol.JSONRPCVersion, ID: req.ID, Error: rpcErr})
		}
		return encode(protocol.NewErrorResponse(req.ID, protocol.CodeInternalError, err.Error()))
	}

	s.logger.Debug("request handled",
		zap.String("method", req.Method),
		zap.Duration("duration", duration))

	if req.IsNotification() {
		return nil
	}
	resp, err := protocol.NewResponse(req.ID, result)
	if err != nil {
		return encode(protocol.NewErrorResponse(req.ID, protocol.CodeInternalError, err.Error()))
	}
	return encode(resp)
}

// Serve runs the read loop until the context is canceled or the transport
// closes.
func (s *Server) Serve(ctx context.Context, t transport.Transport) error {
	s.logger.Info("MCP server starting",
		zap.String("name", s.info.Name),
		zap.String("version", s.info.Version))

	s.mu.Lock()
	s.active = t
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
	}()

	msgCh := make(chan []byte)
	errCh := make(chan error, 1)
	go func() {
		for {
			msg, err := t.Receive(ctx)
			if err != nil {
				errCh <- err
				return
			}
			select {
			case msgCh <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("MCP server stopping")
			return ctx.Err()

		case err := <-errCh:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("receive error: %w", err)

		case msg := <-msgCh:
			resp := s.HandleMessage(ctx, msg)
			if resp == nil {
				continue
			}
			if err := t.Send(ctx, resp); err != nil {
				return fmt.Errorf("send error: %w", err)
			}
		}
	}
}

func (s *Server) handleInitialize(_ context.Context, _ *protocol.RequestID, params json.RawMessage) (interface{}, error) {
	var initParams protocol.InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: fmt.Sprintf("invalid initialize params: %v", err)}
		}
	}
	if initParams.ProtocolVersion != "" && initParams.ProtocolVersion != protocol.ProtocolVersion {
		s.logger.Warn("client protocol version mismatch",
			zap.String("client_version", initParams.ProtocolVersion),
			zap.String("server_version", protocol.ProtocolVersion))
	}

	if initParams.ClientInfo.Name != "" {
		s.mu.Lock()
		info := initParams.ClientInfo
		s.clientInfo = &info
		s.mu.Unlock()
		s.logger.Info("client connected",
			zap.String("client_name", info.Name),
			zap.String("client_version", info.Version))
	}

	return protocol.InitializeResult{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities:    s.capabilities,
		ServerInfo:      s.info,
	}, nil
}

func (s *Server) handlePing(_ context.Context, _ *protocol.RequestID, _ json.RawMessage) (interface{}, error) {
	return struct{}{}, nil
}

func (s *Server) handleInitialized(_ context.Context, _ *protocol.RequestID, _ json.RawMessage) (interface{}, error) {
	s.logger.Debug("client initialized")
	return nil, nil
}

// handleLogMessage forwards client log notifications to the local logger.
func (s *Server) handleLogMessage(_ context.Context, _ *protocol.RequestID, params json.RawMessage) (interface{}, error) {
	var notif protocol.LogNotification
	if err := json.Unmarshal(params, &notif); err != nil {
		return nil, nil
	}
	s.logger.Info("client log",
		zap.String("level", notif.Level),
		zap.String("logger", notif.Logger),
		zap.Any("data", notif.Data))
	return nil, nil
}

// NotifyResourceListChanged tells the connected client that the
// resource list changed, typically after a configuration reload. It is
// a no-op when no transport is being served.
func (s *Server) NotifyResourceListChanged(ctx context.Context) error {
	s.mu.RLock()
	t := s.active
	s.mu.RUnlock()
	if t == nil {
		return nil
	}
	msg, err := json.Marshal(&protocol.Request{
		JSONRPC: protocol.JSONRPCVersion,
		Method:  "notifications/resources/list_changed",
	})
	if err != nil {
		return err
	}
	return t.Send(ctx, msg)
}

// ClientInfo returns the connected client's identity, or nil before
// initialize.
func (s *Server) ClientInfo() *protocol.Implementation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientInfo
}

func (s *Server) toolsListHandler(p ToolProvider) MethodHandler {
	return func(ctx context.Context, _ *protocol.RequestID, _ json.RawMessage) (interface{}, error) {
		tools, err := p.ListTools(ctx)
		if err != nil {
			return nil, err
		}
		return protocol.ToolListResult{Tools: tools}, nil
	}
}

func (s *Server) toolsCallHandler(p ToolProvider) MethodHandler {
	return func(ctx context.Context, _ *protocol.RequestID, params json.RawMessage) (interface{}, error) {
		var callParams protocol.CallToolParams
		if err := json.Unmarshal(params, &callParams); err != nil {
			return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: fmt.Sprintf("invalid tools/call params: %v", err)}
		}

		value, err := p.CallTool(ctx, callParams.Name, callParams.Arguments)
		if err != nil {
			return nil, err
		}
		return protocol.CallToolResult{Content: protocol.TextContent(encodeValue(value))}, nil
	}
}

func (s *Server) resourcesListHandler(p ResourceProvider) MethodHandler {
	return func(ctx context.Context, _ *protocol.RequestID, _ json.RawMessage) (interface{}, error) {
		resources, err := p.ListResources(ctx)
		if err != nil {
			return nil, err
		}
		return protocol.ResourceListResult{Resources: resources}, nil
	}
}

func (s *Server) resourcesReadHandler(p ResourceProvider) MethodHandler {
	return func(ctx context.Context, _ *protocol.RequestID, params json.RawMessage) (interface{}, error) {
		var readParams protocol.ReadResourceParams
		if err := json.Unmarshal(params, &readParams); err != nil {
			return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: fmt.Sprintf("invalid resources/read params: %v", err)}
		}

		contents, err := p.ReadResource(ctx, readParams.URI)
		if err != nil {
			return nil, err
		}
		return protocol.ReadResourceResult{Contents: []protocol.ResourceContents{*contents}}, nil
	}
}

func (s *Server) promptsListHandler(p PromptProvider) MethodHandler {
	return func(ctx context.Context, _ *protocol.RequestID, _ json.RawMessage) (interface{}, error) {
		prompts, err := p.ListPrompts(ctx)
		if err != nil {
			return nil, err
		}
		return protocol.PromptListResult{Prompts: prompts}, nil
	}
}

func (s *Server) promptsGetHandler(p PromptProvider) MethodHandler {
	return func(ctx context.Context, _ *protocol.RequestID, params json.RawMessage) (interface{}, error) {
		var getParams protocol.GetPromptParams
		if err := json.Unmarshal(params, &getParams); err != nil {
			return nil, &protocol.Error{Code: protocol.CodeInvalidParams, Message: fmt.Sprintf("invalid prompts/get params: %v", err)}
		}
		return p.GetPrompt(ctx, getParams.Name, getParams.Arguments)
	}
}

// encodeValue renders a tool result as text content: strings pass
// through, everything else is JSON.
func encodeValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func encode(resp *protocol.Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		// A response we constructed always marshals; this is unreachable
		// outside of programmer error.
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"failed to encode response"}}`)
	}
	return data
}
