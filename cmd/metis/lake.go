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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/lake"
	"github.com/metis-labs/metis/pkg/lake/query"
	"github.com/metis-labs/metis/pkg/metiserr"
	"github.com/metis-labs/metis/pkg/secrets"
)

var lakeCmd = &cobra.Command{
	Use:   "lake",
	Short: "Data-lake maintenance operations",
}

var lakeSyncCmd = &cobra.Command{
	Use:   "sync <lake> <schema>",
	Short: "Batch database records into data files",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLakeService(func(ctx context.Context, svc *lake.Service) error {
			files, err := svc.SyncToFiles(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("synced %s/%s into %d file(s)\n", args[0], args[1], files)
			return nil
		})
	},
}

var lakePurgeCmd = &cobra.Command{
	Use:   "purge <lake> <schema>",
	Short: "Compact data files down to the active set",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLakeService(func(ctx context.Context, svc *lake.Service) error {
			if err := svc.Purge(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("purged %s/%s\n", args[0], args[1])
			return nil
		})
	},
}

var lakeQueryCmd = &cobra.Command{
	Use:   "query <lake> <schema> <sql>",
	Short: "Run a read-only SQL query over the schema's active set",
	Long:  `Query registers the schema as a logical table named "{lake}.{schema}" in an in-memory SQLite database and executes the statement against it. Use json_extract to reach nested fields of the data column.`,
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withLakeService(func(ctx context.Context, svc *lake.Service) error {
			lakeName, schema := args[0], args[1]
			snap, _ := config.Load(configPath)
			if snap != nil {
				if cfg, ok := snap.DataLake(lakeName); ok && !cfg.SQLQueries {
					return metiserr.New(metiserr.KindInvalidRequest,
						"data lake %q does not enable sql_queries", lakeName)
				}
			}

			engine, err := query.NewEngine(svc)
			if err != nil {
				return err
			}
			defer engine.Close()

			if _, err := engine.Register(ctx, lakeName, schema); err != nil {
				return err
			}
			rows, err := engine.Query(ctx, args[2])
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		})
	},
}

func init() {
	lakeCmd.PersistentFlags().StringVar(&storageDir, "storage-dir", "./data", "Local directory for data-lake files when no s3 section is configured")

	lakeCmd.AddCommand(lakeSyncCmd)
	lakeCmd.AddCommand(lakePurgeCmd)
	lakeCmd.AddCommand(lakeQueryCmd)
}

// withLakeService loads the configuration, builds the configured object
// store, and runs fn against a short-lived lake service.
func withLakeService(fn func(context.Context, *lake.Service) error) error {
	ctx := context.Background()

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

	svc := lake.NewService(provider,
		lake.WithObjectStore(store),
		lake.WithLogger(zap.NewNop()))
	defer svc.Close()

	return fn(ctx, svc)
}
