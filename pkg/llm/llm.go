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

// Package llm defines the provider-agnostic completion contract. Each
// back-end converts the unified message list to its wire form and
// normalizes streaming deltas so tool-call accumulation upstream is
// identical across providers.
package llm

import (
	"context"
)

// Role identifies a message author.
type Role string

// Message roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a completed tool invocation request from the model.
// Arguments is the raw JSON argument text exactly as the model emitted it.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one entry in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCalls is set on assistant messages that request tool use.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and Name are set on tool-result messages.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// ToolDef describes a callable tool offered to the model.
type ToolDef struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
}

// Request is a unified completion request.
type Request struct {
	Messages    []Message
	Tools       []ToolDef
	Temperature float64
	MaxTokens   int
}

// FinishReason is the normalized reason a completion ended.
type FinishReason string

// Normalized finish reasons.
const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishToolCalls     FinishReason = "tool_calls"
	FinishContentFilter FinishReason = "content_filter"
)

// Usage reports token accounting when the provider supplies it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is a unified non-streaming completion result.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        *Usage
}

// ToolCallDelta is one streamed fragment of a tool call. The first delta
// for an index carries ID and Name; later deltas carry incremental
// argument JSON that must be concatenated in arrival order.
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// StreamChunk is one streamed event. A non-nil Err terminates the stream;
// the channel is closed afterwards.
type StreamChunk struct {
	ContentDelta   string
	ToolCallDeltas []ToolCallDelta
	FinishReason   FinishReason
	Usage          *Usage
	Err            error
}

// Provider is the unified completion contract. Implementations are safe
// for concurrent use.
type Provider interface {
	// Name returns the provider kind ("openai", "anthropic", ...).
	Name() string

	// Model returns the bound model identifier.
	Model() string

	// Complete performs a blocking completion.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// CompleteStream starts a streaming completion. The returned channel
	// is closed when the stream ends; a chunk with Err set signals an
	// upstream failure. Cancelling ctx aborts the stream.
	CompleteStream(ctx context.Context, req *Request) (<-chan StreamChunk, error)

	// ContextWindow returns the model's context window in tokens.
	ContextWindow() int

	// MaxOutputTokens returns the model's output cap in tokens.
	MaxOutputTokens() int
}

// StreamBufferSize is the bound on streaming channels. A full channel
// suspends the producer rather than dropping chunks.
const StreamBufferSize = 64
