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

// Package agent runs configured LLM agents: single-turn completions,
// multi-turn conversations with windowed memory, and ReAct tool loops.
// Execution is streamed as chunks over a bounded channel.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/llm"
	"github.com/metis-labs/metis/pkg/mcp/protocol"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/session"
)

// Router resolves and executes tools on behalf of agents. The registry
// satisfies this; prefixed names (agent_, mcp__, workflow_, resource_)
// route to their owning subsystems inside CallTool.
type Router interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error)
	AllowedTools(ctx context.Context, agent *config.AgentConfig) ([]protocol.Tool, error)
}

// ProviderFactory builds an LLM provider from a binding.
type ProviderFactory func(config.ProviderBinding) (llm.Provider, error)

// Runtime executes agents.
type Runtime struct {
	provider    *config.Provider
	router      Router
	newProvider ProviderFactory
	logger      *zap.Logger

	mu        sync.Mutex
	providers map[string]llm.Provider
	stores    map[string]session.Store
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the runtime logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithProviderFactory wires the LLM provider constructor.
func WithProviderFactory(f ProviderFactory) Option {
	return func(r *Runtime) { r.newProvider = f }
}

// WithSessionStore installs the session backend for the given memory
// backend name ("memory", "sqlite").
func WithSessionStore(backend string, store session.Store) Option {
	return func(r *Runtime) { r.stores[backend] = store }
}

// NewRuntime creates an agent runtime over the snapshot provider and
// tool router. An in-memory session store is installed by default.
func NewRuntime(provider *config.Provider, router Router, opts ...Option) *Runtime {
	r := &Runtime{
		provider:  provider,
		router:    router,
		logger:    zap.NewNop(),
		providers: make(map[string]llm.Provider),
		stores:    map[string]session.Store{"memory": session.NewMemoryStore()},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute starts the named agent and returns its chunk stream. The
// channel closes after a Complete or Error chunk.
func (r *Runtime) Execute(ctx context.Context, name string, input map[string]interface{}) (<-chan Chunk, error) {
	snap := r.provider.Load()
	if snap == nil {
		return nil, metiserr.New(metiserr.KindConfiguration, "no configuration loaded")
	}
	agentCfg, ok := snap.Agent(name)
	if !ok {
		return nil, metiserr.New(metiserr.KindNotFound, "agent %q not found", name)
	}

	provider, err := r.providerFor(agentCfg.Provider)
	if err != nil {
		return nil, err
	}

	ch := make(chan Chunk, llm.StreamBufferSize)
	go r.run(ctx, ch, agentCfg, provider, input)
	return ch, nil
}

// Run executes the agent to completion and returns the collected
// response. This is the entry point the registry routes agent_ tool
// calls to.
func (r *Runtime) Run(ctx context.Context, name string, input map[string]interface{}) (interface{}, error) {
	stream, err := r.Execute(ctx, name, input)
	if err != nil {
		return nil, err
	}
	return Collect(stream)
}

func (r *Runtime) run(ctx context.Context, ch chan<- Chunk, agentCfg *config.AgentConfig, provider llm.Provider, input map[string]interface{}) {
	defer close(ch)

	start := time.Now()
	runCtx := ctx
	cancel := context.CancelFunc(func() {})
	if agentCfg.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(agentCfg.TimeoutSeconds)*time.Second)
	}
	defer cancel()

	var (
		resp *Response
		err  error
	)
	switch agentCfg.Kind {
	case config.AgentSingleTurn:
		resp, err = r.singleTurn(runCtx, ch, agentCfg, provider, input)
	case config.AgentMultiTurn:
		resp, err = r.multiTurn(runCtx, ch, agentCfg, provider, input)
	case config.AgentReAct:
		resp, err = r.react(runCtx, ch, agentCfg, provider, input)
	default:
		err = metiserr.New(metiserr.KindConfiguration, "agent %q has unknown kind %q", agentCfg.Name, agentCfg.Kind)
	}

	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.Canceled) {
			msg = "canceled"
		}
		r.logger.Warn("agent run failed",
			zap.String("agent", agentCfg.Name),
			zap.Error(err))
		// Best effort: the receiver may already be gone.
		select {
		case ch <- Chunk{Kind: ChunkError, Err: msg}:
		default:
		}
		return
	}

	resp.ExecutionTimeMs = time.Since(start).Milliseconds()
	emit(runCtx, ch, Chunk{Kind: ChunkComplete, Response: resp})
}

// providerFor caches LLM clients per binding so repeated agent calls
// reuse connections.
func (r *Runtime) providerFor(binding config.ProviderBinding) (llm.Provider, error) {
	if r.newProvider == nil {
		return nil, metiserr.New(metiserr.KindConfiguration, "no LLM provider factory configured")
	}

	key, err := json.Marshal(binding)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindConfiguration, err, "failed to encode provider binding")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.providers[string(key)]; ok {
		return p, nil
	}
	p, err := r.newProvider(binding)
	if err != nil {
		return nil, err
	}
	r.providers[string(key)] = p
	return p, nil
}

// storeFor selects the session backend for an agent's memory config.
func (r *Runtime) storeFor(backend string) (session.Store, error) {
	if backend == "" {
		backend = "memory"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	store, ok := r.stores[backend]
	if !ok {
		return nil, metiserr.New(metiserr.KindConfiguration, "session backend %q not configured", backend)
	}
	return store, nil
}

// emit sends a chunk, giving up when the context ends. Returns false
// when the send did not happen.
func emit(ctx context.Context, ch chan<- Chunk, chunk Chunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// singleTurn performs one completion with no tools and no history.
func (r *Runtime) singleTurn(ctx context.Context, ch chan<- Chunk, agentCfg *config.AgentConfig, provider llm.Provider, input map[string]interface{}) (*Response, error) {
	messages, err := baseMessages(agentCfg, input, nil)
	if err != nil {
		return nil, err
	}

	emit(ctx, ch, Chunk{Kind: ChunkStatus, Status: "completing"})
	resp, err := provider.Complete(ctx, &llm.Request{Messages: messages})
	if err != nil {
		return nil, err
	}
	emit(ctx, ch, Chunk{Kind: ChunkText, Text: resp.Content})

	return &Response{
		Output:     resp.Content,
		Iterations: 1,
		Usage:      resp.Usage,
	}, nil
}

// multiTurn completes against the session history windowed by the
// agent's memory strategy, then persists the new turn.
func (r *Runtime) multiTurn(ctx context.Context, ch chan<- Chunk, agentCfg *config.AgentConfig, provider llm.Provider, input map[string]interface{}) (*Response, error) {
	store, err := r.storeFor(agentCfg.Memory.Backend)
	if err != nil {
		return nil, err
	}
	sess, err := store.GetOrCreate(ctx, sessionID(input), agentCfg.Name)
	if err != nil {
		return nil, err
	}

	userPrompt, err := renderUserPrompt(agentCfg, input)
	if err != nil {
		return nil, err
	}
	history := session.Window(sess.Messages, agentCfg.Memory)
	messages, err := baseMessages(agentCfg, input, history)
	if err != nil {
		return nil, err
	}

	emit(ctx, ch, Chunk{Kind: ChunkStatus, Status: "completing"})
	resp, err := provider.Complete(ctx, &llm.Request{Messages: messages})
	if err != nil {
		return nil, err
	}
	emit(ctx, ch, Chunk{Kind: ChunkText, Text: resp.Content})

	if err := store.Append(ctx, sess.ID,
		session.Message{Role: string(llm.RoleUser), Content: userPrompt},
		session.Message{Role: string(llm.RoleAssistant), Content: resp.Content},
	); err != nil {
		return nil, err
	}

	return &Response{
		Output:     resp.Content,
		SessionID:  sess.ID,
		Iterations: 1,
		Usage:      resp.Usage,
	}, nil
}

// sessionID extracts the caller-supplied session id, if any.
func sessionID(input map[string]interface{}) string {
	if s, ok := input["session_id"].(string); ok {
		return s
	}
	return ""
}
