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

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metis-labs/metis/pkg/mcp/protocol"
	"github.com/metis-labs/metis/pkg/mcp/transport"
	"github.com/metis-labs/metis/pkg/metiserr"
)

type stubTools struct{}

func (stubTools) ListTools(context.Context) ([]protocol.Tool, error) {
	return []protocol.Tool{{Name: "greet", Description: "Greets", InputSchema: map[string]interface{}{"type": "object"}}}, nil
}

func (stubTools) CallTool(_ context.Context, name string, args map[string]interface{}) (interface{}, error) {
	switch name {
	case "greet":
		return "Hello, " + args["name"].(string) + "!", nil
	case "count":
		return map[string]interface{}{"n": 3}, nil
	default:
		return nil, metiserr.New(metiserr.KindNotFound, "tool %q not found", name)
	}
}

func handle(t *testing.T, s *Server, msg string) *protocol.Response {
	t.Helper()
	raw := s.HandleMessage(context.Background(), []byte(msg))
	if raw == nil {
		return nil
	}
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(raw, &resp))
	return &resp
}

func TestServer_Initialize(t *testing.T) {
	s := New("metis", "1.0", WithToolProvider(stubTools{}))

	resp := handle(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test-client","version":"0.1"}}}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result protocol.InitializeResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.Equal(t, protocol.ProtocolVersion, result.ProtocolVersion)
	assert.Equal(t, "metis", result.ServerInfo.Name)
	assert.NotNil(t, result.Capabilities.Tools)
	assert.NotNil(t, result.Capabilities.Logging)

	require.NotNil(t, s.ClientInfo())
	assert.Equal(t, "test-client", s.ClientInfo().Name)
}

func TestServer_Ping(t *testing.T) {
	s := New("metis", "1.0")
	resp := handle(t, s, `{"jsonrpc":"2.0","id":"p1","method":"ping"}`)
	require.NotNil(t, resp)
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `{}`, string(resp.Result))
}

func TestServer_ToolsCall(t *testing.T) {
	s := New("metis", "1.0", WithToolProvider(stubTools{}))

	resp := handle(t, s, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"greet","arguments":{"name":"World"}}}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	var result protocol.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	assert.Equal(t, "Hello, World!", result.Content[0].Text)
}

func TestServer_ToolsCall_StructuredResultSerializesAsJSON(t *testing.T) {
	s := New("metis", "1.0", WithToolProvider(stubTools{}))

	resp := handle(t, s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"count","arguments":{}}}`)
	require.NotNil(t, resp)
	var result protocol.CallToolResult
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	assert.JSONEq(t, `{"n":3}`, result.Content[0].Text)
}

func TestServer_UnknownMethod(t *testing.T) {
	s := New("metis", "1.0")
	resp := handle(t, s, `{"jsonrpc":"2.0","id":4,"method":"tools/uninstall"}`)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeMethodNotFound, resp.Error.Code)
}

func TestServer_HandlerErrorEncodesInternal(t *testing.T) {
	s := New("metis", "1.0", WithToolProvider(stubTools{}))
	resp := handle(t, s, `{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"missing"}}`)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInternalError, resp.Error.Code)
}

func TestServer_NotificationsProduceNoResponse(t *testing.T) {
	s := New("metis", "1.0")

	assert.Nil(t, handle(t, s, `{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	assert.Nil(t, handle(t, s, `{"jsonrpc":"2.0","method":"notifications/message","params":{"level":"info","data":"hi"}}`))
	// Unknown notifications are ignored, not errored.
	assert.Nil(t, handle(t, s, `{"jsonrpc":"2.0","method":"notifications/whatever"}`))
}

func TestServer_ParseError(t *testing.T) {
	s := New("metis", "1.0")
	resp := handle(t, s, `{not json`)
	require.NotNil(t, resp)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeParseError, resp.Error.Code)
}

func TestRequestID_RoundTrip(t *testing.T) {
	var req protocol.Request
	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":"abc","method":"ping"}`), &req))
	require.NotNil(t, req.ID.Str)
	assert.Equal(t, "abc", req.ID.String())

	require.NoError(t, json.Unmarshal([]byte(`{"jsonrpc":"2.0","id":42,"method":"ping"}`), &req))
	require.NotNil(t, req.ID.Num)
	assert.Equal(t, "42", req.ID.String())
}

func TestServer_NotifyResourceListChanged(t *testing.T) {
	s := New("metis", "1.0")
	ctx := context.Background()

	// Without an active transport the notification is a no-op.
	require.NoError(t, s.NotifyResourceListChanged(ctx))

	pr, pw := io.Pipe()
	defer pw.Close()
	var out bytes.Buffer
	tr := transport.NewStdioTransport(pr, &out)
	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Serve(serveCtx, tr)
	}()

	// Wait for Serve to install the transport.
	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.active != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.NotifyResourceListChanged(ctx))
	cancel()
	<-done

	var note protocol.Request
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &note))
	assert.Equal(t, "notifications/resources/list_changed", note.Method)
	assert.Nil(t, note.ID)
}
