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

package llm

import (
	"strings"
)

// Accumulator folds a stream of chunks into a single response. Tool-call
// deltas merge by index: the first delta for an index establishes the call,
// later deltas append argument text in arrival order. The final tool-call
// list preserves first-seen index order, which matches emission order for
// every supported provider.
type Accumulator struct {
	content strings.Builder
	byIndex map[int]*ToolCall
	order   []int
	finish  FinishReason
	usage   *Usage
	err     error
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{
		byIndex: make(map[int]*ToolCall),
	}
}

// Add folds one chunk.
func (a *Accumulator) Add(chunk StreamChunk) {
	if chunk.Err != nil {
		a.err = chunk.Err
		return
	}
	if chunk.ContentDelta != "" {
		a.content.WriteString(chunk.ContentDelta)
	}
	for _, d := range chunk.ToolCallDeltas {
		tc, ok := a.byIndex[d.Index]
		if !ok {
			tc = &ToolCall{}
			a.byIndex[d.Index] = tc
			a.order = append(a.order, d.Index)
		}
		if d.ID != "" {
			tc.ID = d.ID
		}
		if d.Name != "" {
			tc.Name = d.Name
		}
		tc.Arguments += d.ArgumentsDelta
	}
	if chunk.FinishReason != "" {
		a.finish = chunk.FinishReason
	}
	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}
}

// Err returns the stream error, if any chunk carried one.
func (a *Accumulator) Err() error {
	return a.err
}

// Content returns the accumulated text so far.
func (a *Accumulator) Content() string {
	return a.content.String()
}

// Response builds the final unified response.
func (a *Accumulator) Response() *Response {
	resp := &Response{
		Content:      a.content.String(),
		FinishReason: a.finish,
		Usage:        a.usage,
	}
	for _, idx := range a.order {
		resp.ToolCalls = append(resp.ToolCalls, *a.byIndex[idx])
	}
	if resp.FinishReason == "" {
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = FinishToolCalls
		} else {
			resp.FinishReason = FinishStop
		}
	}
	return resp
}

// Drain consumes a stream to completion and returns the folded response.
func Drain(stream <-chan StreamChunk) (*Response, error) {
	acc := NewAccumulator()
	for chunk := range stream {
		acc.Add(chunk)
	}
	if err := acc.Err(); err != nil {
		return nil, err
	}
	return acc.Response(), nil
}
