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

package orchestration

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metis-labs/metis/pkg/agent"
	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/metiserr"
)

// stubExecutor runs fake agents whose outputs are functions of their
// inputs, and records invocations.
type stubExecutor struct {
	mu     sync.Mutex
	calls  []string
	inputs []map[string]interface{}
	fail   map[string]bool
}

func (s *stubExecutor) Execute(_ context.Context, name string, input map[string]interface{}) (<-chan agent.Chunk, error) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.inputs = append(s.inputs, input)
	failing := s.fail[name]
	s.mu.Unlock()

	ch := make(chan agent.Chunk, 2)
	if failing {
		ch <- agent.Chunk{Kind: agent.ChunkError, Err: "agent " + name + " broke"}
	} else {
		prompt, _ := input["prompt"].(string)
		ch <- agent.Chunk{Kind: agent.ChunkComplete, Response: &agent.Response{
			Output: fmt.Sprintf("%s(%s)", name, prompt),
		}}
	}
	close(ch)
	return ch, nil
}

func testEngine(t *testing.T, exec Executor, orchestrations ...config.OrchestrationConfig) *Engine {
	t.Helper()

	agents := map[string]bool{}
	for _, o := range orchestrations {
		for _, a := range o.Agents {
			agents[a] = true
		}
		if o.Coordinator != "" {
			agents[o.Coordinator] = true
		}
	}
	cfg := &config.Config{Orchestrations: orchestrations}
	for name := range agents {
		cfg.Agents = append(cfg.Agents, config.AgentConfig{
			Name:     name,
			Kind:     config.AgentSingleTurn,
			Provider: config.ProviderBinding{Kind: config.ProviderOllama},
		})
	}
	snap, err := config.Validate(cfg)
	require.NoError(t, err)
	return NewEngine(config.NewProvider(snap), exec)
}

func TestSequential_PipesOutputs(t *testing.T) {
	exec := &stubExecutor{}
	e := testEngine(t, exec, config.OrchestrationConfig{
		Name:   "pipeline",
		Kind:   config.OrchestrationSequential,
		Agents: []string{"draft", "review"},
	})

	result, err := e.Execute(context.Background(), "pipeline", map[string]interface{}{"prompt": "topic"})
	require.NoError(t, err)

	assert.Equal(t, []string{"draft", "review"}, exec.calls)
	// The second agent received the first agent's output as its prompt.
	assert.Equal(t, "draft(topic)", exec.inputs[1]["prompt"])
	assert.Equal(t, "review(draft(topic))", result.Output)
	require.Len(t, result.Agents, 2)
}

func TestSequential_AgentFailureAborts(t *testing.T) {
	exec := &stubExecutor{fail: map[string]bool{"draft": true}}
	e := testEngine(t, exec, config.OrchestrationConfig{
		Name:   "pipeline",
		Kind:   config.OrchestrationSequential,
		Agents: []string{"draft", "review"},
	})

	_, err := e.Execute(context.Background(), "pipeline", nil)
	require.Error(t, err)
	assert.Equal(t, []string{"draft"}, exec.calls)
}

func TestHierarchical_PlanFanOutSynthesize(t *testing.T) {
	exec := &stubExecutor{}
	e := testEngine(t, exec, config.OrchestrationConfig{
		Name:        "team",
		Kind:        config.OrchestrationHierarchical,
		Coordinator: "lead",
		Agents:      []string{"worker_a", "worker_b"},
	})

	result, err := e.Execute(context.Background(), "team", map[string]interface{}{"prompt": "task"})
	require.NoError(t, err)

	// Coordinator runs first and last; workers in between.
	assert.Equal(t, "lead", exec.calls[0])
	assert.Equal(t, "lead", exec.calls[len(exec.calls)-1])
	assert.Len(t, exec.calls, 4)

	// Workers received the coordinator's plan.
	assert.Equal(t, "lead(task)", exec.inputs[1]["prompt"])
	assert.Equal(t, "lead(task)", exec.inputs[2]["prompt"])

	// The synthesis prompt carries both worker outputs.
	synthesis := exec.inputs[3]["prompt"].(string)
	assert.Contains(t, synthesis, "worker_a(lead(task))")
	assert.Contains(t, synthesis, "worker_b(lead(task))")

	assert.NotEmpty(t, result.Output)
	assert.Len(t, result.Agents, 4)
}

func TestCollaborative_MergesParallelOutputs(t *testing.T) {
	exec := &stubExecutor{}
	e := testEngine(t, exec, config.OrchestrationConfig{
		Name:   "panel",
		Kind:   config.OrchestrationCollaborative,
		Agents: []string{"optimist", "skeptic"},
	})

	result, err := e.Execute(context.Background(), "panel", map[string]interface{}{"prompt": "idea"})
	require.NoError(t, err)

	assert.Contains(t, result.Output, "### optimist\noptimist(idea)")
	assert.Contains(t, result.Output, "### skeptic\nskeptic(idea)")
	assert.Len(t, result.Agents, 2)
}

func TestCollaborative_PartialFailureSurvives(t *testing.T) {
	exec := &stubExecutor{fail: map[string]bool{"skeptic": true}}
	e := testEngine(t, exec, config.OrchestrationConfig{
		Name:   "panel",
		Kind:   config.OrchestrationCollaborative,
		Agents: []string{"optimist", "skeptic"},
	})

	result, err := e.Execute(context.Background(), "panel", map[string]interface{}{"prompt": "idea"})
	require.NoError(t, err)

	assert.Contains(t, result.Output, "optimist(idea)")
	assert.NotContains(t, result.Output, "skeptic(")
	assert.NotEmpty(t, result.Agents[1].Error)
}

func TestCollaborative_TotalFailure(t *testing.T) {
	exec := &stubExecutor{fail: map[string]bool{"optimist": true, "skeptic": true}}
	e := testEngine(t, exec, config.OrchestrationConfig{
		Name:   "panel",
		Kind:   config.OrchestrationCollaborative,
		Agents: []string{"optimist", "skeptic"},
	})

	_, err := e.Execute(context.Background(), "panel", nil)
	require.Error(t, err)
}

func TestExecute_UnknownOrchestration(t *testing.T) {
	e := testEngine(t, &stubExecutor{})
	_, err := e.Execute(context.Background(), "ghost", nil)
	require.Error(t, err)
	assert.Equal(t, metiserr.KindNotFound, metiserr.KindOf(err))
}
