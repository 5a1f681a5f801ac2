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

// Package config defines the typed Metis configuration, its loader,
// validator, and the hot-reload watchers. A validated configuration is
// published as an immutable Snapshot through an atomic pointer; readers
// take the snapshot once at a request boundary and hold it for the
// request's lifetime.
package config

// Config is the full parsed configuration. It is mutable only during
// loading and validation; afterwards it is wrapped in a Snapshot and never
// modified again.
type Config struct {
	Server            ServerConfig             `mapstructure:"server" yaml:"server" json:"server"`
	Auth              *AuthConfig              `mapstructure:"auth" yaml:"auth,omitempty" json:"auth,omitempty"`
	RateLimit         *RateLimitConfig         `mapstructure:"rate_limit" yaml:"rate_limit,omitempty" json:"rate_limit,omitempty"`
	S3                *S3Config                `mapstructure:"s3" yaml:"s3,omitempty" json:"s3,omitempty"`
	Resources         []ResourceConfig         `mapstructure:"resources" yaml:"resources,omitempty" json:"resources,omitempty"`
	ResourceTemplates []ResourceTemplateConfig `mapstructure:"resource_templates" yaml:"resource_templates,omitempty" json:"resource_templates,omitempty"`
	Tools             []ToolConfig             `mapstructure:"tools" yaml:"tools,omitempty" json:"tools,omitempty"`
	Prompts           []PromptConfig           `mapstructure:"prompts" yaml:"prompts,omitempty" json:"prompts,omitempty"`
	Workflows         []WorkflowConfig         `mapstructure:"workflows" yaml:"workflows,omitempty" json:"workflows,omitempty"`
	Agents            []AgentConfig            `mapstructure:"agents" yaml:"agents,omitempty" json:"agents,omitempty"`
	Orchestrations    []OrchestrationConfig    `mapstructure:"orchestrations" yaml:"orchestrations,omitempty" json:"orchestrations,omitempty"`
	Schemas           []SchemaConfig           `mapstructure:"schemas" yaml:"schemas,omitempty" json:"schemas,omitempty"`
	DataLakes         []DataLakeConfig         `mapstructure:"data_lakes" yaml:"data_lakes,omitempty" json:"data_lakes,omitempty"`
	MCPServers        []MCPServerConfig        `mapstructure:"mcp_servers" yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
	Secrets           map[string]string        `mapstructure:"secrets" yaml:"secrets,omitempty" json:"secrets,omitempty"`
}

// ServerConfig holds the server identity and binding. The HTTP binding is
// consumed by the out-of-scope HTTP facade; the MCP stdio server uses only
// Name and Version.
type ServerConfig struct {
	Name    string `mapstructure:"name" yaml:"name" json:"name"`
	Version string `mapstructure:"version" yaml:"version" json:"version"`
	Host    string `mapstructure:"host" yaml:"host,omitempty" json:"host,omitempty"`
	Port    int    `mapstructure:"port" yaml:"port,omitempty" json:"port,omitempty"`
}

// AuthConfig is accepted and validated but consumed by the out-of-scope
// auth middleware.
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Tokens  []string `mapstructure:"tokens" yaml:"tokens,omitempty" json:"tokens,omitempty"`
}

// RateLimitConfig is accepted and validated but consumed by the
// out-of-scope HTTP facade.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute,omitempty" json:"requests_per_minute,omitempty"`
}

// S3Config configures the object-store target for data lakes and the
// object-store config watcher.
type S3Config struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Region          string `mapstructure:"region" yaml:"region,omitempty" json:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix,omitempty" json:"prefix,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty" json:"force_path_style,omitempty"`
}

// ResourceConfig is a static or mocked MCP resource.
type ResourceConfig struct {
	Name        string                 `mapstructure:"name" yaml:"name" json:"name"`
	URI         string                 `mapstructure:"uri" yaml:"uri" json:"uri"`
	Description string                 `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	MimeType    string                 `mapstructure:"mime_type" yaml:"mime_type,omitempty" json:"mime_type,omitempty"`
	Content     interface{}            `mapstructure:"content" yaml:"content,omitempty" json:"content,omitempty"`
	Mock        *MockConfig            `mapstructure:"mock" yaml:"mock,omitempty" json:"mock,omitempty"`
	Schema      map[string]interface{} `mapstructure:"schema" yaml:"schema,omitempty" json:"schema,omitempty"`
}

// ResourceTemplateConfig is a parameterized resource addressed by a URI
// template with {param} placeholders.
type ResourceTemplateConfig struct {
	Name        string                 `mapstructure:"name" yaml:"name" json:"name"`
	URITemplate string                 `mapstructure:"uri_template" yaml:"uri_template" json:"uri_template"`
	Description string                 `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	MimeType    string                 `mapstructure:"mime_type" yaml:"mime_type,omitempty" json:"mime_type,omitempty"`
	Content     interface{}            `mapstructure:"content" yaml:"content,omitempty" json:"content,omitempty"`
	Mock        *MockConfig            `mapstructure:"mock" yaml:"mock,omitempty" json:"mock,omitempty"`
	Schema      map[string]interface{} `mapstructure:"schema" yaml:"schema,omitempty" json:"schema,omitempty"`
}

// ToolConfig is an MCP tool backed by either a static response or a mock
// strategy. Exactly one of Response and Mock must be set.
type ToolConfig struct {
	Name         string                 `mapstructure:"name" yaml:"name" json:"name"`
	Description  string                 `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	InputSchema  map[string]interface{} `mapstructure:"input_schema" yaml:"input_schema,omitempty" json:"input_schema,omitempty"`
	OutputSchema map[string]interface{} `mapstructure:"output_schema" yaml:"output_schema,omitempty" json:"output_schema,omitempty"`
	Response     interface{}            `mapstructure:"response" yaml:"response,omitempty" json:"response,omitempty"`
	Mock         *MockConfig            `mapstructure:"mock" yaml:"mock,omitempty" json:"mock,omitempty"`
}

// Strategy names accepted in MockConfig.Strategy.
const (
	StrategyStatic   = "static"
	StrategyTemplate = "template"
	StrategyRandom   = "random"
	StrategyStateful = "stateful"
	StrategyScript   = "script"
	StrategyFile     = "file"
	StrategyPattern  = "pattern"
	StrategyLLM      = "llm"
	StrategyDatabase = "database"
)

// MockConfig is the tagged union over response-generation strategies.
// Strategy selects the variant; exactly the matching payload field must be
// populated.
type MockConfig struct {
	Strategy string `mapstructure:"strategy" yaml:"strategy" json:"strategy"`

	// Template strategy: a template rendered with the call arguments
	// promoted to top-level variables.
	Template string `mapstructure:"template" yaml:"template,omitempty" json:"template,omitempty"`

	// Random strategy: the faker kind to generate.
	FakerKind string `mapstructure:"faker_kind" yaml:"faker_kind,omitempty" json:"faker_kind,omitempty"`

	// Stateful strategy.
	State *StateConfig `mapstructure:"state" yaml:"state,omitempty" json:"state,omitempty"`

	// Script strategy.
	Script *ScriptConfig `mapstructure:"script" yaml:"script,omitempty" json:"script,omitempty"`

	// File strategy.
	File *FileConfig `mapstructure:"file" yaml:"file,omitempty" json:"file,omitempty"`

	// Pattern strategy: a regex-lite pattern expanded per call.
	Pattern string `mapstructure:"pattern" yaml:"pattern,omitempty" json:"pattern,omitempty"`

	// LLM strategy.
	LLM *LLMMockConfig `mapstructure:"llm" yaml:"llm,omitempty" json:"llm,omitempty"`

	// Database strategy.
	Database *DatabaseMockConfig `mapstructure:"database" yaml:"database,omitempty" json:"database,omitempty"`
}

// State operations for the stateful strategy.
const (
	StateOpGet       = "get"
	StateOpSet       = "set"
	StateOpIncrement = "increment"
)

// StateConfig drives the stateful strategy.
type StateConfig struct {
	Op       string `mapstructure:"op" yaml:"op" json:"op"`
	Key      string `mapstructure:"key" yaml:"key" json:"key"`
	Template string `mapstructure:"template" yaml:"template,omitempty" json:"template,omitempty"`
}

// ScriptConfig drives the script strategy. Language is advisory; the only
// supported evaluator is CEL.
type ScriptConfig struct {
	Language string `mapstructure:"language" yaml:"language,omitempty" json:"language,omitempty"`
	Code     string `mapstructure:"code" yaml:"code" json:"code"`
}

// File selection policies.
const (
	FileSelectionRandom     = "random"
	FileSelectionSequential = "sequential"
)

// FileConfig drives the file strategy: Path must name a JSON array file.
type FileConfig struct {
	Path      string `mapstructure:"path" yaml:"path" json:"path"`
	Selection string `mapstructure:"selection" yaml:"selection,omitempty" json:"selection,omitempty"`
}

// LLMMockConfig drives the LLM strategy.
type LLMMockConfig struct {
	Provider     ProviderBinding `mapstructure:"provider" yaml:"provider" json:"provider"`
	SystemPrompt string          `mapstructure:"system_prompt" yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	UserTemplate string          `mapstructure:"user_template" yaml:"user_template,omitempty" json:"user_template,omitempty"`
}

// DatabaseMockConfig drives the database strategy. Params lists argument
// names bound positionally, in declared order, into the query placeholders.
type DatabaseMockConfig struct {
	URL    string   `mapstructure:"url" yaml:"url" json:"url"`
	Query  string   `mapstructure:"query" yaml:"query" json:"query"`
	Params []string `mapstructure:"params" yaml:"params,omitempty" json:"params,omitempty"`
}

// PromptArgument declares a named prompt parameter.
type PromptArgument struct {
	Name        string `mapstructure:"name" yaml:"name" json:"name"`
	Description string `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	Required    bool   `mapstructure:"required" yaml:"required,omitempty" json:"required,omitempty"`
}

// PromptConfig is an MCP prompt whose template is rendered with the
// caller-supplied arguments.
type PromptConfig struct {
	Name        string           `mapstructure:"name" yaml:"name" json:"name"`
	Description string           `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	Arguments   []PromptArgument `mapstructure:"arguments" yaml:"arguments,omitempty" json:"arguments,omitempty"`
	Template    string           `mapstructure:"template" yaml:"template" json:"template"`
}

// WorkflowConfig is a DAG-ordered composition of tool calls.
type WorkflowConfig struct {
	Name        string       `mapstructure:"name" yaml:"name" json:"name"`
	Description string       `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	Steps       []StepConfig `mapstructure:"steps" yaml:"steps" json:"steps"`
}

// Error policies for workflow steps.
const (
	ErrorPolicyFail     = "fail"
	ErrorPolicyContinue = "continue"
	ErrorPolicyRetry    = "retry"
	ErrorPolicyFallback = "fallback"
)

// ErrorPolicyConfig is the per-step error policy.
type ErrorPolicyConfig struct {
	Policy      string      `mapstructure:"policy" yaml:"policy" json:"policy"`
	MaxAttempts int         `mapstructure:"max_attempts" yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	BaseDelayMs int         `mapstructure:"base_delay_ms" yaml:"base_delay_ms,omitempty" json:"base_delay_ms,omitempty"`
	Fallback    interface{} `mapstructure:"fallback" yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// StepConfig is a single workflow step.
type StepConfig struct {
	ID              string                 `mapstructure:"id" yaml:"id" json:"id"`
	Tool            string                 `mapstructure:"tool" yaml:"tool" json:"tool"`
	Arguments       map[string]interface{} `mapstructure:"arguments" yaml:"arguments,omitempty" json:"arguments,omitempty"`
	DependsOn       []string               `mapstructure:"depends_on" yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Condition       string                 `mapstructure:"condition" yaml:"condition,omitempty" json:"condition,omitempty"`
	LoopOver        string                 `mapstructure:"loop_over" yaml:"loop_over,omitempty" json:"loop_over,omitempty"`
	LoopVar         string                 `mapstructure:"loop_var" yaml:"loop_var,omitempty" json:"loop_var,omitempty"`
	LoopConcurrency int                    `mapstructure:"loop_concurrency" yaml:"loop_concurrency,omitempty" json:"loop_concurrency,omitempty"`
	OnError         *ErrorPolicyConfig     `mapstructure:"on_error" yaml:"on_error,omitempty" json:"on_error,omitempty"`
}

// Agent kinds.
const (
	AgentSingleTurn = "single_turn"
	AgentMultiTurn  = "multi_turn"
	AgentReAct      = "react"
)

// ProviderBinding names an LLM provider and model with optional overrides.
type ProviderBinding struct {
	Kind        string  `mapstructure:"kind" yaml:"kind" json:"kind"`
	Model       string  `mapstructure:"model" yaml:"model,omitempty" json:"model,omitempty"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key,omitempty" json:"api_key,omitempty"`
	APIKeyEnv   string  `mapstructure:"api_key_env" yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Deployment  string  `mapstructure:"deployment" yaml:"deployment,omitempty" json:"deployment,omitempty"`
	APIVersion  string  `mapstructure:"api_version" yaml:"api_version,omitempty" json:"api_version,omitempty"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// Memory strategies for multi-turn agents.
const (
	MemoryFull          = "full"
	MemorySlidingWindow = "sliding_window"
	MemoryFirstLast     = "first_last"
)

// MemoryConfig selects the session backend and history windowing strategy.
type MemoryConfig struct {
	Backend     string `mapstructure:"backend" yaml:"backend,omitempty" json:"backend,omitempty"` // "memory" or "sqlite"
	Strategy    string `mapstructure:"strategy" yaml:"strategy,omitempty" json:"strategy,omitempty"`
	MaxMessages int    `mapstructure:"max_messages" yaml:"max_messages,omitempty" json:"max_messages,omitempty"`
	WindowSize  int    `mapstructure:"window_size" yaml:"window_size,omitempty" json:"window_size,omitempty"`
	FirstN      int    `mapstructure:"first_n" yaml:"first_n,omitempty" json:"first_n,omitempty"`
	LastN       int    `mapstructure:"last_n" yaml:"last_n,omitempty" json:"last_n,omitempty"`
}

// AgentConfig is a configured LLM agent.
type AgentConfig struct {
	Name              string          `mapstructure:"name" yaml:"name" json:"name"`
	Kind              string          `mapstructure:"kind" yaml:"kind" json:"kind"`
	Description       string          `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	Provider          ProviderBinding `mapstructure:"provider" yaml:"provider" json:"provider"`
	SystemPrompt      string          `mapstructure:"system_prompt" yaml:"system_prompt,omitempty" json:"system_prompt,omitempty"`
	PromptTemplate    string          `mapstructure:"prompt_template" yaml:"prompt_template,omitempty" json:"prompt_template,omitempty"`
	Tools             []string        `mapstructure:"tools" yaml:"tools,omitempty" json:"tools,omitempty"`
	MCPServers        []string        `mapstructure:"mcp_servers" yaml:"mcp_servers,omitempty" json:"mcp_servers,omitempty"`
	Agents            []string        `mapstructure:"agents" yaml:"agents,omitempty" json:"agents,omitempty"`
	Resources         []string        `mapstructure:"resources" yaml:"resources,omitempty" json:"resources,omitempty"`
	ResourceTemplates []string        `mapstructure:"resource_templates" yaml:"resource_templates,omitempty" json:"resource_templates,omitempty"`
	Memory            MemoryConfig    `mapstructure:"memory" yaml:"memory,omitempty" json:"memory,omitempty"`
	MaxIterations     int             `mapstructure:"max_iterations" yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`
	TimeoutSeconds    int             `mapstructure:"timeout_seconds" yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Orchestration kinds.
const (
	OrchestrationSequential    = "sequential"
	OrchestrationHierarchical  = "hierarchical"
	OrchestrationCollaborative = "collaborative"
)

// OrchestrationConfig composes agents.
type OrchestrationConfig struct {
	Name           string   `mapstructure:"name" yaml:"name" json:"name"`
	Kind           string   `mapstructure:"kind" yaml:"kind" json:"kind"`
	Description    string   `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	Agents         []string `mapstructure:"agents" yaml:"agents" json:"agents"`
	Coordinator    string   `mapstructure:"coordinator" yaml:"coordinator,omitempty" json:"coordinator,omitempty"`
	MaxRounds      int      `mapstructure:"max_rounds" yaml:"max_rounds,omitempty" json:"max_rounds,omitempty"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds" yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// SchemaConfig is a reusable JSON schema referenced by {"$ref": "Name"}.
type SchemaConfig struct {
	Name   string                 `mapstructure:"name" yaml:"name" json:"name"`
	Schema map[string]interface{} `mapstructure:"schema" yaml:"schema" json:"schema"`
}

// Data lake storage modes and file formats.
const (
	LakeStorageDatabase = "database"
	LakeStorageFile     = "file"
	LakeStorageBoth     = "both"

	LakeFormatParquet = "parquet"
	LakeFormatJSONL   = "jsonl"
)

// DataLakeConfig is a named collection of typed records.
type DataLakeConfig struct {
	Name       string   `mapstructure:"name" yaml:"name" json:"name"`
	Schemas    []string `mapstructure:"schemas" yaml:"schemas" json:"schemas"`
	Storage    string   `mapstructure:"storage" yaml:"storage,omitempty" json:"storage,omitempty"`
	Format     string   `mapstructure:"format" yaml:"format,omitempty" json:"format,omitempty"`
	SQLQueries bool     `mapstructure:"sql_queries" yaml:"sql_queries,omitempty" json:"sql_queries,omitempty"`
	BatchSize  int      `mapstructure:"batch_size" yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	DatabaseURL string  `mapstructure:"database_url" yaml:"database_url,omitempty" json:"database_url,omitempty"`
}

// MCPServerConfig points at an external MCP server whose tools are
// re-exposed with the mcp__{server}_ prefix.
type MCPServerConfig struct {
	Name           string `mapstructure:"name" yaml:"name" json:"name"`
	URL            string `mapstructure:"url" yaml:"url" json:"url"`
	APIKey         string `mapstructure:"api_key" yaml:"api_key,omitempty" json:"api_key,omitempty"`
	APIKeyEnv      string `mapstructure:"api_key_env" yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}
