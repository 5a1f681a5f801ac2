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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metis-labs/metis/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration file and print a summary",
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	snap, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cfg := snap.Config
	fmt.Printf("%s: configuration is valid\n", configPath)
	for _, section := range []struct {
		name  string
		count int
	}{
		{"resources", len(cfg.Resources)},
		{"resource templates", len(cfg.ResourceTemplates)},
		{"tools", len(cfg.Tools)},
		{"prompts", len(cfg.Prompts)},
		{"workflows", len(cfg.Workflows)},
		{"agents", len(cfg.Agents)},
		{"orchestrations", len(cfg.Orchestrations)},
		{"schemas", len(cfg.Schemas)},
		{"data lakes", len(cfg.DataLakes)},
		{"mcp servers", len(cfg.MCPServers)},
	} {
		if section.count > 0 {
			fmt.Printf("  %-19s %d\n", section.name, section.count)
		}
	}
	return nil
}
