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

// Package sandbox wraps CEL as the embedded expression language for script
// mock strategies and workflow conditions. Evaluation is bounded by a cost
// limit and a wall-clock timeout; expressions cannot touch the filesystem,
// the network, or process state.
package sandbox

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/metis-labs/metis/pkg/metiserr"
)

// Variables every expression may reference. Callers bind only the subset
// that makes sense for their site; unbound names evaluate to null.
var declaredVars = []string{"input", "args", "steps", "item", "index", "value"}

// Evaluator compiles and runs CEL expressions with resource limits.
// Compiled programs are cached by expression text.
type Evaluator struct {
	env       *cel.Env
	costLimit uint64
	timeout   time.Duration

	mu    sync.RWMutex
	cache map[string]cel.Program
}

// Config bounds evaluation. Zero values select the defaults.
type Config struct {
	CostLimit uint64        // Default: 1_000_000 abstract cost units
	Timeout   time.Duration // Default: 5s wall clock
}

const (
	defaultCostLimit = 1_000_000
	defaultTimeout   = 5 * time.Second
)

// NewEvaluator creates an evaluator with the standard variable declarations.
func NewEvaluator(cfg Config) (*Evaluator, error) {
	if cfg.CostLimit == 0 {
		cfg.CostLimit = defaultCostLimit
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	opts := make([]cel.EnvOption, 0, len(declaredVars))
	for _, name := range declaredVars {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:       env,
		costLimit: cfg.CostLimit,
		timeout:   cfg.Timeout,
		cache:     make(map[string]cel.Program),
	}, nil
}

// Eval runs expr with the given variable bindings and returns a plain Go
// value (map, slice, string, float64, bool, int64, or nil).
func (e *Evaluator) Eval(ctx context.Context, expr string, vars map[string]interface{}) (interface{}, error) {
	prg, err := e.program(expr)
	if err != nil {
		return nil, err
	}

	activation := make(map[string]interface{}, len(declaredVars))
	for _, name := range declaredVars {
		if v, ok := vars[name]; ok {
			activation[name] = v
		} else {
			activation[name] = nil
		}
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, _, err := prg.ContextEval(evalCtx, activation)
	if err != nil {
		if evalCtx.Err() != nil {
			return nil, metiserr.Wrap(metiserr.KindStrategyFailure, evalCtx.Err(), "script timed out")
		}
		return nil, metiserr.Wrap(metiserr.KindStrategyFailure, err, "script evaluation failed")
	}

	native, err := out.ConvertToNative(reflect.TypeOf((*interface{})(nil)).Elem())
	if err != nil {
		// Fall back to the raw value for types without a native conversion.
		return out.Value(), nil
	}
	return native, nil
}

// EvalBool runs expr and coerces the result to a boolean. Null and a missing
// result are false; non-boolean results are an error.
func (e *Evaluator) EvalBool(ctx context.Context, expr string, vars map[string]interface{}) (bool, error) {
	v, err := e.Eval(ctx, expr, vars)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case nil:
		return false, nil
	default:
		return false, metiserr.New(metiserr.KindStrategyFailure, "condition %q evaluated to %T, want bool", expr, v)
	}
}

// program returns the cached compiled program for expr, compiling on miss.
func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, iss := e.env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, metiserr.Wrap(metiserr.KindStrategyFailure, iss.Err(), "script compilation failed")
	}

	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize, cel.OptTrackCost),
		cel.CostLimit(e.costLimit),
		cel.InterruptCheckFrequency(100),
	)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStrategyFailure, err, "script program construction failed")
	}

	e.mu.Lock()
	e.cache[expr] = prg
	e.mu.Unlock()
	return prg, nil
}
