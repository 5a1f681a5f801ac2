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
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/llm"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/session"
)

// react runs the iterative reason-act loop: stream a completion with
// tool definitions, execute any requested tools, feed the results back,
// and repeat until the model answers without tools or the iteration cap
// is reached.
func (r *Runtime) react(ctx context.Context, ch chan<- Chunk, agentCfg *config.AgentConfig, provider llm.Provider, input map[string]interface{}) (*Response, error) {
	store, err := r.storeFor(agentCfg.Memory.Backend)
	if err != nil {
		return nil, err
	}
	sess, err := store.GetOrCreate(ctx, sessionID(input), agentCfg.Name)
	if err != nil {
		return nil, err
	}

	allowed, err := r.router.AllowedTools(ctx, agentCfg)
	if err != nil {
		return nil, err
	}
	defs := make([]llm.ToolDef, 0, len(allowed))
	for _, t := range allowed {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	userPrompt, err := renderUserPrompt(agentCfg, input)
	if err != nil {
		return nil, err
	}
	history := session.Window(sess.Messages, agentCfg.Memory)
	base, err := baseMessages(agentCfg, input, history)
	if err != nil {
		return nil, err
	}

	maxIterations := agentCfg.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 10
	}

	var (
		turn     []llm.Message
		steps    []ReasoningStep
		allCalls []llm.ToolCall
		usage    *llm.Usage
		output   string
	)

	iterations := 0
	for iterations < maxIterations {
		iterations++
		emit(ctx, ch, Chunk{Kind: ChunkStatus, Status: "thinking"})

		req := &llm.Request{
			Messages: append(append([]llm.Message{}, base...), turn...),
			Tools:    defs,
		}
		resp, err := r.streamCompletion(ctx, ch, provider, req)
		if err != nil {
			return nil, err
		}
		usage = addUsage(usage, resp.Usage)
		output = resp.Content

		if len(resp.ToolCalls) == 0 {
			break
		}

		if resp.Content != "" {
			emit(ctx, ch, Chunk{Kind: ChunkThought, Thought: resp.Content})
		}
		turn = append(turn, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		allCalls = append(allCalls, resp.ToolCalls...)

		step := ReasoningStep{
			Iteration: iterations,
			Thought:   resp.Content,
			ToolCalls: resp.ToolCalls,
		}
		for _, call := range resp.ToolCalls {
			if !emit(ctx, ch, Chunk{Kind: ChunkToolCall, ToolCall: &call}) {
				return nil, ctx.Err()
			}
			result := r.executeToolCall(ctx, agentCfg, call)
			step.Results = append(step.Results, result)
			if !emit(ctx, ch, Chunk{Kind: ChunkToolResult, ToolResult: &result}) {
				return nil, ctx.Err()
			}

			turn = append(turn, llm.Message{
				Role:       llm.RoleTool,
				Content:    serializeResult(result),
				ToolCallID: call.ID,
				Name:       call.Name,
			})
		}
		steps = append(steps, step)
	}

	if err := store.Append(ctx, sess.ID,
		session.Message{Role: string(llm.RoleUser), Content: userPrompt},
		session.Message{Role: string(llm.RoleAssistant), Content: output},
	); err != nil {
		return nil, err
	}

	return &Response{
		Output:         output,
		ToolCalls:      allCalls,
		ReasoningSteps: steps,
		SessionID:      sess.ID,
		Iterations:     iterations,
		Usage:          usage,
	}, nil
}

// streamCompletion reads one streaming completion, forwarding text
// deltas as chunks and folding everything through the accumulator.
func (r *Runtime) streamCompletion(ctx context.Context, ch chan<- Chunk, provider llm.Provider, req *llm.Request) (*llm.Response, error) {
	stream, err := provider.CompleteStream(ctx, req)
	if err != nil {
		return nil, err
	}

	acc := llm.NewAccumulator()
	for chunk := range stream {
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		acc.Add(chunk)
		if chunk.ContentDelta != "" {
			if !emit(ctx, ch, Chunk{Kind: ChunkText, Text: chunk.ContentDelta}) {
				return nil, ctx.Err()
			}
		}
	}
	if err := acc.Err(); err != nil {
		return nil, err
	}
	return acc.Response(), nil
}

// executeToolCall routes one call through the registry and captures the
// outcome. Tool failures are recorded, not propagated; the model sees
// the error text and can react to it.
func (r *Runtime) executeToolCall(ctx context.Context, agentCfg *config.AgentConfig, call llm.ToolCall) ToolResult {
	result := ToolResult{ToolCallID: call.ID, Name: call.Name}

	args := map[string]interface{}{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			result.Error = metiserr.Wrap(metiserr.KindParse, err, "malformed tool arguments").Error()
			return result
		}
	}

	out, err := r.router.CallTool(ctx, call.Name, args)
	if err != nil {
		r.logger.Debug("tool call failed",
			zap.String("agent", agentCfg.Name),
			zap.String("tool", call.Name),
			zap.Error(err))
		result.Error = err.Error()
		return result
	}
	result.Output = out
	return result
}

// serializeResult encodes a tool outcome for the model.
func serializeResult(result ToolResult) string {
	if result.Error != "" {
		data, _ := json.Marshal(map[string]interface{}{"error": result.Error})
		return string(data)
	}
	if s, ok := result.Output.(string); ok {
		return s
	}
	data, err := json.Marshal(result.Output)
	if err != nil {
		return "null"
	}
	return string(data)
}

// addUsage sums token usage across iterations.
func addUsage(total, add *llm.Usage) *llm.Usage {
	if add == nil {
		return total
	}
	if total == nil {
		out := *add
		return &out
	}
	total.InputTokens += add.InputTokens
	total.OutputTokens += add.OutputTokens
	total.TotalTokens += add.TotalTokens
	return total
}
