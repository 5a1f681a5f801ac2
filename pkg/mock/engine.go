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

// Package mock generates tool and resource responses from mock
// strategies. The engine dispatches on the strategy tag of a MockConfig
// and produces a JSON-compatible value from the config plus the caller's
// arguments.
package mock

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"sync"

	"github.com/brianvoe/gofakeit/v7"
	"go.uber.org/zap"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/llm"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/sandbox"
	"github.com/metis-labs/metis/pkg/state"
	"github.com/metis-labs/metis/pkg/template"
)

// ProviderFactory builds an LLM provider from a binding. Injected so the
// engine stays testable without live provider credentials.
type ProviderFactory func(binding config.ProviderBinding) (llm.Provider, error)

// Engine generates mock values. Safe for concurrent use.
type Engine struct {
	state       *state.Store
	evaluator   *sandbox.Evaluator
	faker       *gofakeit.Faker
	newProvider ProviderFactory
	logger      *zap.Logger

	mu        sync.Mutex
	providers map[string]llm.Provider // cached by binding identity
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithProviderFactory wires the LLM strategy to a provider constructor.
func WithProviderFactory(f ProviderFactory) Option {
	return func(e *Engine) { e.newProvider = f }
}

// WithFakerSeed seeds the faker for deterministic random output in tests.
func WithFakerSeed(seed uint64) Option {
	return func(e *Engine) { e.faker = gofakeit.New(seed) }
}

// NewEngine creates a mock engine backed by the given state store.
func NewEngine(store *state.Store, opts ...Option) (*Engine, error) {
	evaluator, err := sandbox.NewEvaluator(sandbox.Config{})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		state:     store,
		evaluator: evaluator,
		faker:     gofakeit.New(0),
		logger:    zap.NewNop(),
		providers: make(map[string]llm.Provider),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Generate produces a value for the given mock config and call arguments.
// The static strategy returns nil: the literal value lives on the owning
// tool or resource and is substituted upstream.
func (e *Engine) Generate(ctx context.Context, cfg *config.MockConfig, args map[string]interface{}) (interface{}, error) {
	if cfg == nil {
		return nil, metiserr.New(metiserr.KindInvalidRequest, "nil mock config")
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	switch cfg.Strategy {
	case config.StrategyStatic:
		return nil, nil
	case config.StrategyTemplate:
		return e.generateTemplate(cfg.Template, args)
	case config.StrategyRandom:
		return e.generateRandom(cfg.FakerKind), nil
	case config.StrategyStateful:
		return e.generateStateful(cfg.State, args)
	case config.StrategyScript:
		return e.generateScript(ctx, cfg.Script, args)
	case config.StrategyFile:
		return e.generateFile(cfg.File)
	case config.StrategyPattern:
		return ExpandPattern(cfg.Pattern)
	case config.StrategyLLM:
		return e.generateLLM(ctx, cfg.LLM, args)
	case config.StrategyDatabase:
		return e.generateDatabase(ctx, cfg.Database, args)
	default:
		return nil, metiserr.New(metiserr.KindInvalidRequest, "unknown strategy %q", cfg.Strategy)
	}
}

func (e *Engine) generateTemplate(tmpl string, args map[string]interface{}) (interface{}, error) {
	rendered, err := template.Render(tmpl, args)
	if err != nil {
		return nil, err
	}
	return template.PromoteJSON(rendered), nil
}

// generateRandom maps a faker kind to gofakeit. Unknown kinds return a
// diagnostic string rather than an error so a typo surfaces in the mock
// output instead of failing the call.
func (e *Engine) generateRandom(kind string) interface{} {
	switch kind {
	case "name":
		return e.faker.Name()
	case "title":
		return e.faker.JobTitle()
	case "email":
		return e.faker.Email()
	case "username":
		return e.faker.Username()
	case "word":
		return e.faker.Word()
	case "sentence":
		return e.faker.Sentence(1 + e.faker.IntRange(0, 9))
	case "paragraph":
		return e.faker.Paragraph(1+e.faker.IntRange(0, 2), 3, 8, " ")
	default:
		return "unknown faker kind: " + kind
	}
}

func (e *Engine) generateStateful(cfg *config.StateConfig, args map[string]interface{}) (interface{}, error) {
	if cfg == nil {
		return nil, metiserr.New(metiserr.KindInvalidRequest, "stateful strategy requires a state block")
	}

	switch cfg.Op {
	case config.StateOpGet:
		value, ok := e.state.Get(cfg.Key)
		if !ok {
			return nil, nil
		}
		return value, nil

	case config.StateOpSet:
		e.state.Set(cfg.Key, args)
		return args, nil

	case config.StateOpIncrement:
		value := e.state.Increment(cfg.Key)
		if cfg.Template == "" {
			return value, nil
		}
		rendered, err := template.Render(cfg.Template, map[string]interface{}{"value": value})
		if err != nil {
			return nil, err
		}
		return template.PromoteJSON(rendered), nil

	default:
		return nil, metiserr.New(metiserr.KindInvalidRequest, "unknown state op %q", cfg.Op)
	}
}

func (e *Engine) generateScript(ctx context.Context, cfg *config.ScriptConfig, args map[string]interface{}) (interface{}, error) {
	if cfg == nil {
		return nil, metiserr.New(metiserr.KindInvalidRequest, "script strategy requires a script block")
	}
	result, err := e.evaluator.Eval(ctx, cfg.Code, map[string]interface{}{"input": args})
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStrategyFailure, err, "script evaluation failed")
	}
	return result, nil
}

// generateFile reads a JSON array file and picks one element. The
// sequential cursor lives in the state store under a per-path key, so it
// survives config reloads and wraps at the end of the list.
func (e *Engine) generateFile(cfg *config.FileConfig) (interface{}, error) {
	if cfg == nil {
		return nil, metiserr.New(metiserr.KindInvalidRequest, "file strategy requires a file block")
	}

	data, err := os.ReadFile(cfg.Path)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStrategyFailure, err, "failed to read mock file %s", cfg.Path)
	}

	var items []interface{}
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, metiserr.Wrap(metiserr.KindStrategyFailure, err, "mock file %s is not a JSON array", cfg.Path)
	}
	if len(items) == 0 {
		return nil, metiserr.New(metiserr.KindStrategyFailure, "mock file %s is empty", cfg.Path)
	}

	switch cfg.Selection {
	case config.FileSelectionSequential:
		cursor := e.state.Increment("file_cursor:" + cfg.Path)
		return items[int((cursor-1)%int64(len(items)))], nil
	default: // random
		return items[rand.Intn(len(items))], nil
	}
}

func (e *Engine) generateLLM(ctx context.Context, cfg *config.LLMMockConfig, args map[string]interface{}) (interface{}, error) {
	if cfg == nil {
		return nil, metiserr.New(metiserr.KindInvalidRequest, "llm strategy requires an llm block")
	}
	if e.newProvider == nil {
		return nil, metiserr.New(metiserr.KindConfiguration, "llm strategy is not wired to a provider factory")
	}

	provider, err := e.provider(cfg.Provider)
	if err != nil {
		return nil, err
	}

	var messages []llm.Message
	if cfg.SystemPrompt != "" {
		system, err := template.Render(cfg.SystemPrompt, args)
		if err != nil {
			return nil, err
		}
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	}

	user := ""
	if cfg.UserTemplate != "" {
		user, err = template.Render(cfg.UserTemplate, args)
		if err != nil {
			return nil, err
		}
	} else {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, metiserr.Wrap(metiserr.KindStrategyFailure, err, "failed to encode arguments")
		}
		user = string(data)
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: user})

	resp, err := provider.Complete(ctx, &llm.Request{Messages: messages})
	if err != nil {
		return nil, err
	}
	return template.PromoteJSON(resp.Content), nil
}

// provider returns a cached client for the binding, constructing it on
// first use. Bindings are keyed by their JSON encoding.
func (e *Engine) provider(binding config.ProviderBinding) (llm.Provider, error) {
	key, err := json.Marshal(binding)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindConfiguration, err, "failed to key provider binding")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.providers[string(key)]; ok {
		return p, nil
	}
	p, err := e.newProvider(binding)
	if err != nil {
		return nil, err
	}
	e.providers[string(key)] = p
	return p, nil
}
