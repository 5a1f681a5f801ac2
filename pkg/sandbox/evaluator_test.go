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

package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metis-labs/metis/pkg/metiserr"
)

func newEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(Config{})
	require.NoError(t, err)
	return e
}

func TestEvaluator_Eval(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	tests := []struct {
		name string
		expr string
		vars map[string]interface{}
		want interface{}
	}{
		{
			name: "arithmetic",
			expr: "1 + 2",
			want: int64(3),
		},
		{
			name: "input field access",
			expr: "input.count * 2",
			vars: map[string]interface{}{"input": map[string]interface{}{"count": 21}},
			want: int64(42),
		},
		{
			name: "map construction",
			expr: `{"doubled": input.n * 2}`,
			vars: map[string]interface{}{"input": map[string]interface{}{"n": 5}},
			want: map[string]interface{}{"doubled": int64(10)},
		},
		{
			name: "string concatenation",
			expr: `"hello " + input.who`,
			vars: map[string]interface{}{"input": map[string]interface{}{"who": "world"}},
			want: "hello world",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Eval(ctx, tt.expr, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_EvalBool(t *testing.T) {
	e := newEvaluator(t)
	ctx := context.Background()

	ok, err := e.EvalBool(ctx, "input.n > 3", map[string]interface{}{
		"input": map[string]interface{}{"n": 5},
	})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvalBool(ctx, "input.n > 3", map[string]interface{}{
		"input": map[string]interface{}{"n": 1},
	})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.EvalBool(ctx, `"not a bool"`, nil)
	require.Error(t, err)
	assert.True(t, metiserr.Is(err, metiserr.KindStrategyFailure))
}

func TestEvaluator_CompileError(t *testing.T) {
	e := newEvaluator(t)

	_, err := e.Eval(context.Background(), "this is not CEL ((", nil)
	require.Error(t, err)
	assert.True(t, metiserr.Is(err, metiserr.KindStrategyFailure))
}

func TestEvaluator_UnboundVariableIsNull(t *testing.T) {
	e := newEvaluator(t)

	got, err := e.Eval(context.Background(), "steps == null", nil)
	require.NoError(t, err)
	assert.Equal(t, true, got)
}

func TestEvaluator_CostLimit(t *testing.T) {
	e, err := NewEvaluator(Config{CostLimit: 10})
	require.NoError(t, err)

	// Iterating a large list blows through a 10-unit cost budget.
	_, err = e.Eval(context.Background(), "input.xs.map(x, x * 2)", map[string]interface{}{
		"input": map[string]interface{}{"xs": make([]interface{}, 1000)},
	})
	require.Error(t, err)
}
