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

// Package orchestration composes agents: sequentially piping outputs,
// hierarchically under a coordinator, or collaboratively in parallel.
package orchestration

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/metis-labs/metis/pkg/agent"
	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/metiserr"
)

// Executor starts one agent run. The agent runtime satisfies this.
type Executor interface {
	Execute(ctx context.Context, name string, input map[string]interface{}) (<-chan agent.Chunk, error)
}

// AgentOutput is one agent's contribution to an orchestration run.
type AgentOutput struct {
	Agent  string `json:"agent"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result is a completed orchestration run.
type Result struct {
	Output          string        `json:"output"`
	Agents          []AgentOutput `json:"agents"`
	ExecutionTimeMs int64         `json:"execution_time_ms"`
}

// Engine executes configured orchestrations.
type Engine struct {
	provider *config.Provider
	agents   Executor
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an orchestration engine over the snapshot provider
// and agent executor.
func NewEngine(provider *config.Provider, agents Executor, opts ...Option) *Engine {
	e := &Engine{
		provider: provider,
		agents:   agents,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the named orchestration to completion.
func (e *Engine) Execute(ctx context.Context, name string, input map[string]interface{}) (*Result, error) {
	snap := e.provider.Load()
	if snap == nil {
		return nil, metiserr.New(metiserr.KindConfiguration, "no configuration loaded")
	}
	cfg, ok := snap.Orchestration(name)
	if !ok {
		return nil, metiserr.New(metiserr.KindNotFound, "orchestration %q not found", name)
	}

	if cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	start := time.Now()
	var (
		result *Result
		err    error
	)
	switch cfg.Kind {
	case config.OrchestrationSequential:
		result, err = e.sequential(ctx, cfg, input)
	case config.OrchestrationHierarchical:
		result, err = e.hierarchical(ctx, cfg, input)
	case config.OrchestrationCollaborative:
		result, err = e.collaborative(ctx, cfg, input)
	default:
		return nil, metiserr.New(metiserr.KindConfiguration, "orchestration %q has unknown kind %q", name, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// runAgent executes one agent and collects its final output.
func (e *Engine) runAgent(ctx context.Context, name string, input map[string]interface{}) (*agent.Response, error) {
	stream, err := e.agents.Execute(ctx, name, input)
	if err != nil {
		return nil, err
	}
	return agent.Collect(stream)
}

// sequential pipes each agent's output into the next agent's prompt.
func (e *Engine) sequential(ctx context.Context, cfg *config.OrchestrationConfig, input map[string]interface{}) (*Result, error) {
	result := &Result{Agents: make([]AgentOutput, 0, len(cfg.Agents))}

	current := input
	for _, name := range cfg.Agents {
		resp, err := e.runAgent(ctx, name, current)
		if err != nil {
			return nil, metiserr.Wrap(metiserr.KindOf(err), err, "orchestration %q: agent %q", cfg.Name, name)
		}
		result.Agents = append(result.Agents, AgentOutput{Agent: name, Output: resp.Output})
		result.Output = resp.Output
		current = map[string]interface{}{"prompt": resp.Output}
	}
	return result, nil
}

// hierarchical has the coordinator plan the task, fans the plan out to
// the worker agents, then has the coordinator synthesize their outputs.
func (e *Engine) hierarchical(ctx context.Context, cfg *config.OrchestrationConfig, input map[string]interface{}) (*Result, error) {
	coordinator := cfg.Coordinator
	workers := cfg.Agents

	result := &Result{}

	plan, err := e.runAgent(ctx, coordinator, input)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindOf(err), err, "orchestration %q: coordinator %q", cfg.Name, coordinator)
	}
	result.Agents = append(result.Agents, AgentOutput{Agent: coordinator, Output: plan.Output})

	workerOutputs := make([]AgentOutput, len(workers))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range workers {
		g.Go(func() error {
			resp, err := e.runAgent(gctx, name, map[string]interface{}{"prompt": plan.Output})
			if err != nil {
				workerOutputs[i] = AgentOutput{Agent: name, Error: err.Error()}
				return nil
			}
			workerOutputs[i] = AgentOutput{Agent: name, Output: resp.Output}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	result.Agents = append(result.Agents, workerOutputs...)

	summary, err := e.runAgent(ctx, coordinator, map[string]interface{}{
		"prompt": synthesisPrompt(workerOutputs),
	})
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindOf(err), err, "orchestration %q: coordinator synthesis", cfg.Name)
	}
	result.Agents = append(result.Agents, AgentOutput{Agent: coordinator, Output: summary.Output})
	result.Output = summary.Output
	return result, nil
}

// collaborative runs every agent in parallel on the same input and
// merges their outputs. Individual failures are recorded; the run fails
// only when no agent succeeds.
func (e *Engine) collaborative(ctx context.Context, cfg *config.OrchestrationConfig, input map[string]interface{}) (*Result, error) {
	outputs := make([]AgentOutput, len(cfg.Agents))

	var wg sync.WaitGroup
	for i, name := range cfg.Agents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := e.runAgent(ctx, name, input)
			if err != nil {
				e.logger.Warn("collaborative agent failed",
					zap.String("orchestration", cfg.Name),
					zap.String("agent", name),
					zap.Error(err))
				outputs[i] = AgentOutput{Agent: name, Error: err.Error()}
				return
			}
			outputs[i] = AgentOutput{Agent: name, Output: resp.Output}
		}()
	}
	wg.Wait()

	merged := make([]string, 0, len(outputs))
	succeeded := 0
	for _, out := range outputs {
		if out.Error != "" {
			continue
		}
		succeeded++
		merged = append(merged, fmt.Sprintf("### %s\n%s", out.Agent, out.Output))
	}
	if succeeded == 0 {
		return nil, metiserr.New(metiserr.KindStrategyFailure, "orchestration %q: every agent failed", cfg.Name)
	}
	return &Result{
		Output: strings.Join(merged, "\n\n"),
		Agents: outputs,
	}, nil
}

// synthesisPrompt asks the coordinator to combine the worker outputs.
func synthesisPrompt(outputs []AgentOutput) string {
	var b strings.Builder
	b.WriteString("Combine the following results into a single answer.\n")
	for _, out := range outputs {
		b.WriteString("\n### ")
		b.WriteString(out.Agent)
		b.WriteString("\n")
		if out.Error != "" {
			b.WriteString("(failed: " + out.Error + ")")
		} else {
			b.WriteString(out.Output)
		}
		b.WriteString("\n")
	}
	return b.String()
}
