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

package mock

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/metiserr"
)

// generateDatabase runs the configured query and returns the rows as an
// array of column-keyed objects. Parameters bind positionally: each name
// in Params is looked up in args, in declared order.
func (e *Engine) generateDatabase(ctx context.Context, cfg *config.DatabaseMockConfig, args map[string]interface{}) (interface{}, error) {
	if cfg == nil {
		return nil, metiserr.New(metiserr.KindInvalidRequest, "database strategy requires a database block")
	}

	driver, dsn, err := ResolveDriver(cfg.URL)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStrategyFailure, err, "failed to open %s connection", driver)
	}
	defer db.Close()

	params := make([]interface{}, 0, len(cfg.Params))
	for _, name := range cfg.Params {
		value, ok := args[name]
		if !ok {
			return nil, metiserr.New(metiserr.KindInvalidRequest, "missing query argument %q", name)
		}
		params = append(params, value)
	}

	rows, err := db.QueryContext(ctx, cfg.Query, params...)
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStrategyFailure, err, "query failed")
	}
	defer rows.Close()

	return ScanRows(rows)
}

// ResolveDriver maps a connection URL to a database/sql driver name and
// DSN. Postgres URLs pass through unchanged (lib/pq accepts them); MySQL
// and SQLite URLs are stripped to the DSN the driver expects.
func ResolveDriver(url string) (driver, dsn string, err error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return "postgres", url, nil
	case strings.HasPrefix(url, "mysql://"):
		return "mysql", strings.TrimPrefix(url, "mysql://"), nil
	case strings.HasPrefix(url, "sqlite://"):
		return "sqlite", strings.TrimPrefix(url, "sqlite://"), nil
	case strings.HasSuffix(url, ".db"), strings.HasSuffix(url, ".sqlite"), url == ":memory:":
		return "sqlite", url, nil
	default:
		return "", "", metiserr.New(metiserr.KindConfiguration, "unsupported database URL %q", url)
	}
}

// ScanRows converts a result set into []map[string]interface{} with byte
// slices decoded to strings.
func ScanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStrategyFailure, err, "failed to read columns")
	}

	out := []map[string]interface{}{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, metiserr.Wrap(metiserr.KindStrategyFailure, err, "failed to scan row")
		}

		record := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, metiserr.Wrap(metiserr.KindStrategyFailure, err, "row iteration failed")
	}
	return out, nil
}
