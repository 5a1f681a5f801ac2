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

package agent

import (
	"github.com/metis-labs/metis/pkg/llm"
	"github.com/metis-labs/metis/pkg/metiserr"
)

// ChunkKind discriminates streamed agent events.
type ChunkKind string

// Chunk kinds.
const (
	ChunkStatus     ChunkKind = "status"
	ChunkText       ChunkKind = "text"
	ChunkThought    ChunkKind = "thought"
	ChunkToolCall   ChunkKind = "tool_call"
	ChunkToolResult ChunkKind = "tool_result"
	ChunkComplete   ChunkKind = "complete"
	ChunkError      ChunkKind = "error"
)

// ToolResult is the outcome of one executed tool call.
type ToolResult struct {
	ToolCallID string      `json:"tool_call_id"`
	Name       string      `json:"name"`
	Output     interface{} `json:"output,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// ReasoningStep records one ReAct iteration that requested tools.
type ReasoningStep struct {
	Iteration int            `json:"iteration"`
	Thought   string         `json:"thought,omitempty"`
	ToolCalls []llm.ToolCall `json:"tool_calls"`
	Results   []ToolResult   `json:"results"`
}

// Response is the final agent output.
type Response struct {
	Output          string          `json:"output"`
	ToolCalls       []llm.ToolCall  `json:"tool_calls,omitempty"`
	ReasoningSteps  []ReasoningStep `json:"reasoning_steps,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	Iterations      int             `json:"iterations"`
	Usage           *llm.Usage      `json:"usage,omitempty"`
	ExecutionTimeMs int64           `json:"execution_time_ms"`
}

// Chunk is one streamed agent event. Exactly the field matching Kind is
// populated.
type Chunk struct {
	Kind       ChunkKind     `json:"kind"`
	Status     string        `json:"status,omitempty"`
	Text       string        `json:"text,omitempty"`
	Thought    string        `json:"thought,omitempty"`
	ToolCall   *llm.ToolCall `json:"tool_call,omitempty"`
	ToolResult *ToolResult   `json:"tool_result,omitempty"`
	Response   *Response     `json:"response,omitempty"`
	Err        string        `json:"error,omitempty"`
}

// Collect consumes a chunk stream to completion and returns the final
// response, or the stream's terminal error.
func Collect(stream <-chan Chunk) (*Response, error) {
	var resp *Response
	for chunk := range stream {
		switch chunk.Kind {
		case ChunkComplete:
			resp = chunk.Response
		case ChunkError:
			return nil, metiserr.New(metiserr.KindStreaming, "%s", chunk.Err)
		}
	}
	if resp == nil {
		return nil, metiserr.New(metiserr.KindStreaming, "agent stream ended without a completion")
	}
	return resp, nil
}
