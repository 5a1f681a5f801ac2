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
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/metis-labs/metis/pkg/agent"
	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/lake"
	"github.com/metis-labs/metis/pkg/llm"
	"github.com/metis-labs/metis/pkg/llm/factory"
	"github.com/metis-labs/metis/pkg/mcp/client"
	"github.com/metis-labs/metis/pkg/mcp/server"
	"github.com/metis-labs/metis/pkg/mcp/transport"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/mock"
	"github.com/metis-labs/metis/pkg/orchestration"
	"github.com/metis-labs/metis/pkg/registry"
	"github.com/metis-labs/metis/pkg/sandbox"
	"github.com/metis-labs/metis/pkg/secrets"
	"github.com/metis-labs/metis/pkg/session"
	"github.com/metis-labs/metis/pkg/state"
	"github.com/metis-labs/metis/pkg/workflow"
)

var (
	sessionsPath  string
	storageDir    string
	s3ConfigKey   string
	watchInterval time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the configuration over MCP stdio",
	Long:  `Serve reads MCP JSON-RPC requests from stdin and writes responses to stdout. Logs go to stderr. The configuration file is watched and republished on change.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&sessionsPath, "sessions", "", "SQLite file for durable agent sessions (enables the sqlite memory backend)")
	serveCmd.Flags().StringVar(&storageDir, "storage-dir", "./data", "Local directory for data-lake files when no s3 section is configured")
	serveCmd.Flags().StringVar(&s3ConfigKey, "s3-config-key", "", "Object-store key to poll for configuration changes")
	serveCmd.Flags().DurationVar(&watchInterval, "s3-watch-interval", 30*time.Second, "Poll interval for --s3-config-key")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Stdout carries the protocol; logs must stay on stderr.
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snap, err := config.Load(configPath)
	if err != nil {
		return err
	}
	provider := config.NewProvider(snap)
	oracle := secrets.NewStore(snap.Config.Secrets)

	var store lake.ObjectStore
	if snap.Config.S3 != nil {
		store, err = lake.NewS3Store(ctx, snap.Config.S3, oracle)
	} else {
		store, err = lake.NewFSStore(storageDir)
	}
	if err != nil {
		return err
	}

	newProvider := func(binding config.ProviderBinding) (llm.Provider, error) {
		return factory.New(binding, oracle, logger)
	}

	engine, err := mock.NewEngine(state.NewStore(),
		mock.WithLogger(logger),
		mock.WithProviderFactory(newProvider))
	if err != nil {
		return err
	}

	agg := client.NewAggregator(logger)
	for _, mc := range snap.Config.MCPServers {
		key := mc.APIKey
		if key == "" && mc.APIKeyEnv != "" {
			key, _ = oracle.Lookup(ctx, mc.APIKeyEnv)
		}
		agg.Add(ctx, client.NewClient(client.Config{
			Name:    mc.Name,
			URL:     mc.URL,
			APIKey:  key,
			Timeout: time.Duration(mc.TimeoutSeconds) * time.Second,
			Logger:  logger,
		}))
	}

	reg := registry.New(provider, engine,
		registry.WithLogger(logger),
		registry.WithAggregator(agg))

	agentOpts := []agent.Option{
		agent.WithLogger(logger),
		agent.WithProviderFactory(newProvider),
	}
	if sessionsPath != "" {
		sessions, err := session.NewSQLiteStore(sessionsPath)
		if err != nil {
			return err
		}
		defer sessions.Close()
		agentOpts = append(agentOpts, agent.WithSessionStore("sqlite", sessions))
	}
	runtime := agent.NewRuntime(provider, reg, agentOpts...)

	orchestrator := orchestration.NewEngine(provider, runtime,
		orchestration.WithLogger(logger))

	// agent_ tool names cover both agents and orchestrations.
	reg.SetAgentRunner(func(ctx context.Context, name string, input map[string]interface{}) (interface{}, error) {
		if snap := provider.Load(); snap != nil {
			if _, ok := snap.Agent(name); ok {
				return runtime.Run(ctx, name, input)
			}
		}
		return orchestrator.Execute(ctx, name, input)
	})

	evaluator, err := sandbox.NewEvaluator(sandbox.Config{})
	if err != nil {
		return err
	}
	workflows := workflow.NewEngine(reg, evaluator, workflow.WithLogger(logger))
	reg.SetWorkflowRunner(func(ctx context.Context, name string, input map[string]interface{}) (interface{}, error) {
		snap := provider.Load()
		if snap == nil {
			return nil, metiserr.New(metiserr.KindConfiguration, "no configuration loaded")
		}
		wf, ok := snap.Workflow(name)
		if !ok {
			return nil, metiserr.New(metiserr.KindNotFound, "workflow %q not found", name)
		}
		return workflows.Execute(ctx, wf, input)
	})

	serverName, serverVersion := snap.Config.Server.Name, snap.Config.Server.Version
	if serverName == "" {
		serverName = "metis"
	}
	if serverVersion == "" {
		serverVersion = version
	}
	srv := server.New(serverName, serverVersion,
		server.WithLogger(logger),
		server.WithToolProvider(reg),
		server.WithResourceProvider(reg),
		server.WithPromptProvider(reg))

	onReload := func(s *config.Snapshot) {
		oracle.Replace(s.Config.Secrets)
		if err := srv.NotifyResourceListChanged(ctx); err != nil {
			logger.Warn("failed to notify resource list change", zap.Error(err))
		}
	}
	watcher := config.NewFileWatcher(configPath, provider, onReload, logger)
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("config watcher stopped", zap.Error(err))
		}
	}()
	if s3ConfigKey != "" {
		poller := config.NewObjectWatcher(store, s3ConfigKey, watchInterval, provider, onReload, logger)
		go func() {
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("object config watcher stopped", zap.Error(err))
			}
		}()
	}

	err = srv.Serve(ctx, transport.Stdio())
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
