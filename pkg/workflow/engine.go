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

// Package workflow executes configured step DAGs against the tool
// registry. Steps run in dependency order with optional conditions,
// loops, and per-step error policies.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/sandbox"
	"github.com/metis-labs/metis/pkg/template"
)

// ToolInvoker executes one tool call. The registry satisfies this.
type ToolInvoker interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
}

// StepResult records one step's outcome in execution order.
type StepResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Result is a completed workflow run.
type Result struct {
	Success bool                   `json:"success"`
	Steps   map[string]interface{} `json:"steps"`
	Results []StepResult           `json:"results"`
}

// Engine executes workflows.
type Engine struct {
	invoker   ToolInvoker
	evaluator *sandbox.Evaluator
	logger    *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates a workflow engine over a tool invoker and expression
// evaluator.
func NewEngine(invoker ToolInvoker, evaluator *sandbox.Evaluator, opts ...Option) *Engine {
	e := &Engine{
		invoker:   invoker,
		evaluator: evaluator,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs every step of the workflow in topological order and
// returns the per-step outputs. A step failing under the Fail policy
// terminates the run; the partial result is still returned.
func (e *Engine) Execute(ctx context.Context, wf *config.WorkflowConfig, input map[string]interface{}) (*Result, error) {
	order, err := topoOrder(wf.Steps)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Success: true,
		Steps:   make(map[string]interface{}, len(wf.Steps)),
		Results: make([]StepResult, 0, len(wf.Steps)),
	}

	for _, step := range order {
		output, skipped, stepErr := e.runStep(ctx, step, input, result.Steps)

		switch {
		case skipped:
			result.Steps[step.ID] = map[string]interface{}{"skipped": true}
			result.Results = append(result.Results, StepResult{ID: step.ID, Success: true, Skipped: true})

		case stepErr != nil:
			e.logger.Warn("workflow step failed",
				zap.String("workflow", wf.Name),
				zap.String("step", step.ID),
				zap.Error(stepErr))
			result.Success = false
			result.Results = append(result.Results, StepResult{ID: step.ID, Success: false, Error: stepErr.Error()})
			if policyOf(step) == config.ErrorPolicyContinue {
				result.Steps[step.ID] = map[string]interface{}{"error": stepErr.Error()}
				continue
			}
			// Fail terminates the run after recording the failure.
			return result, nil

		default:
			result.Steps[step.ID] = output
			result.Results = append(result.Results, StepResult{ID: step.ID, Success: true})
		}
	}
	return result, nil
}

// runStep evaluates the step's condition and loop, then invokes the tool
// under the step's error policy.
func (e *Engine) runStep(ctx context.Context, step config.StepConfig, input map[string]interface{}, steps map[string]interface{}) (output interface{}, skipped bool, err error) {
	vars := map[string]interface{}{"input": input, "steps": steps}

	if step.Condition != "" {
		ok, condErr := e.evaluator.EvalBool(ctx, step.Condition, vars)
		if condErr != nil {
			return nil, false, condErr
		}
		if !ok {
			return nil, true, nil
		}
	}

	if step.LoopOver != "" {
		out, loopErr := e.runLoop(ctx, step, vars)
		return out, false, loopErr
	}

	out, callErr := e.invokeWithPolicy(ctx, step, vars)
	return out, false, callErr
}

// runLoop executes one tool call per element of the loop expression, up
// to loop_concurrency at a time. Outputs keep the input order regardless
// of completion order.
func (e *Engine) runLoop(ctx context.Context, step config.StepConfig, vars map[string]interface{}) (interface{}, error) {
	items, err := e.evalLoopOver(ctx, step.LoopOver, vars)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []interface{}{}, nil
	}

	loopVar := step.LoopVar
	if loopVar == "" {
		loopVar = "item"
	}
	concurrency := step.LoopConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	outputs := make([]interface{}, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, item := range items {
		g.Go(func() error {
			iterVars := map[string]interface{}{
				"input": vars["input"],
				"steps": vars["steps"],
				loopVar: item,
				"index": i,
			}
			out, iterErr := e.invokeWithPolicy(gctx, step, iterVars)
			if iterErr != nil {
				return iterErr
			}
			mu.Lock()
			outputs[i] = out
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outputs, nil
}

// evalLoopOver resolves the loop expression to a list. A "$."-prefixed
// expression is a JSON path into the run context; anything else is a CEL
// expression.
func (e *Engine) evalLoopOver(ctx context.Context, expr string, vars map[string]interface{}) ([]interface{}, error) {
	var value interface{}
	if strings.HasPrefix(expr, "$.") {
		doc, err := json.Marshal(vars)
		if err != nil {
			return nil, metiserr.Wrap(metiserr.KindStrategyFailure, err, "failed to encode loop context")
		}
		res := gjson.GetBytes(doc, strings.TrimPrefix(expr, "$."))
		if !res.Exists() {
			return nil, metiserr.New(metiserr.KindStrategyFailure, "loop_over path %q not found", expr)
		}
		value = res.Value()
	} else {
		evaluated, err := e.evaluator.Eval(ctx, expr, vars)
		if err != nil {
			return nil, err
		}
		value = evaluated
	}

	items, ok := value.([]interface{})
	if !ok {
		return nil, metiserr.New(metiserr.KindStrategyFailure, "loop_over %q evaluated to %T, want list", expr, value)
	}
	return items, nil
}

// invokeWithPolicy renders the argument template and calls the tool,
// applying the step's error policy.
func (e *Engine) invokeWithPolicy(ctx context.Context, step config.StepConfig, vars map[string]interface{}) (interface{}, error) {
	invoke := func() (interface{}, error) {
		args, err := e.renderArgs(step.Arguments, vars)
		if err != nil {
			return nil, err
		}
		return e.invoker.CallTool(ctx, step.Tool, args)
	}

	policy := step.OnError
	if policy == nil {
		return invoke()
	}

	switch policy.Policy {
	case config.ErrorPolicyRetry:
		return e.invokeWithRetry(ctx, step.ID, policy, invoke)

	case config.ErrorPolicyFallback:
		out, err := invoke()
		if err != nil {
			e.logger.Debug("step falling back",
				zap.String("step", step.ID),
				zap.Error(err))
			return policy.Fallback, nil
		}
		return out, nil

	default: // Fail and Continue are handled by the caller.
		return invoke()
	}
}

// invokeWithRetry retries with exponential backoff: base_delay_ms * 2^attempt.
func (e *Engine) invokeWithRetry(ctx context.Context, stepID string, policy *config.ErrorPolicyConfig, invoke func() (interface{}, error)) (interface{}, error) {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	baseDelay := time.Duration(policy.BaseDelayMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && baseDelay > 0 {
			delay := baseDelay * (1 << (attempt - 1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		out, err := invoke()
		if err == nil {
			return out, nil
		}
		lastErr = err
		e.logger.Debug("step retry",
			zap.String("step", stepID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, metiserr.Wrap(metiserr.KindOf(lastErr), lastErr, "step %s failed after %d attempts", stepID, attempts)
}

// renderArgs renders the argument template recursively. Rendered strings
// that parse as JSON are promoted to structured values.
func (e *Engine) renderArgs(args map[string]interface{}, vars map[string]interface{}) (map[string]interface{}, error) {
	if args == nil {
		return nil, nil
	}
	rendered, err := template.RenderValue(args, vars)
	if err != nil {
		return nil, err
	}
	out, ok := rendered.(map[string]interface{})
	if !ok {
		return nil, metiserr.New(metiserr.KindStrategyFailure, "rendered arguments are %T, want object", rendered)
	}
	return out, nil
}

func policyOf(step config.StepConfig) string {
	if step.OnError == nil {
		return config.ErrorPolicyFail
	}
	return step.OnError.Policy
}

// topoOrder sorts steps by depends_on, preserving config order among
// steps whose dependencies are equally satisfied.
func topoOrder(steps []config.StepConfig) ([]config.StepConfig, error) {
	byID := make(map[string]int, len(steps))
	for i, s := range steps {
		if _, dup := byID[s.ID]; dup {
			return nil, metiserr.New(metiserr.KindConfiguration, "duplicate step id %q", s.ID)
		}
		byID[s.ID] = i
	}

	done := make([]bool, len(steps))
	order := make([]config.StepConfig, 0, len(steps))
	for len(order) < len(steps) {
		progressed := false
		for i, s := range steps {
			if done[i] {
				continue
			}
			ready := true
			for _, dep := range s.DependsOn {
				j, ok := byID[dep]
				if !ok {
					return nil, metiserr.New(metiserr.KindConfiguration, "step %q depends on unknown step %q", s.ID, dep)
				}
				if !done[j] {
					ready = false
					break
				}
			}
			if ready {
				done[i] = true
				order = append(order, s)
				progressed = true
			}
		}
		if !progressed {
			remaining := make([]string, 0)
			for i, s := range steps {
				if !done[i] {
					remaining = append(remaining, s.ID)
				}
			}
			return nil, metiserr.New(metiserr.KindConfiguration,
				"dependency cycle among steps: %s", fmt.Sprintf("%v", remaining))
		}
	}
	return order, nil
}
