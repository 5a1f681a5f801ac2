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

package lake

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/metis-labs/metis/pkg/metiserr"
)

// parquetRecord is the fixed on-disk column layout. Every column is
// utf8; data and metadata hold serialized JSON.
type parquetRecord struct {
	ID         string `parquet:"id"`
	DataLake   string `parquet:"data_lake"`
	SchemaName string `parquet:"schema_name"`
	Data       string `parquet:"data"`
	CreatedAt  string `parquet:"created_at"`
	UpdatedAt  string `parquet:"updated_at"`
	CreatedBy  string `parquet:"created_by,optional"`
	Metadata   string `parquet:"metadata,optional"`
}

// encodeParquet serializes records into a single parquet file.
func encodeParquet(records []DataRecord) ([]byte, error) {
	rows := make([]parquetRecord, 0, len(records))
	for _, r := range records {
		rows = append(rows, parquetRecord{
			ID:         r.ID,
			DataLake:   r.DataLake,
			SchemaName: r.SchemaName,
			Data:       string(r.Data),
			CreatedAt:  r.CreatedAt.UTC().Format(time.RFC3339Nano),
			UpdatedAt:  r.UpdatedAt.UTC().Format(time.RFC3339Nano),
			CreatedBy:  r.CreatedBy,
			Metadata:   string(r.Metadata),
		})
	}

	var buf bytes.Buffer
	w := parquet.NewGenericWriter[parquetRecord](&buf)
	if _, err := w.Write(rows); err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to encode parquet rows")
	}
	if err := w.Close(); err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to finish parquet file")
	}
	return buf.Bytes(), nil
}

// decodeParquet reads every record from a parquet file.
func decodeParquet(data []byte) ([]DataRecord, error) {
	rows, err := parquet.Read[parquetRecord](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindParse, err, "failed to read parquet file")
	}

	records := make([]DataRecord, 0, len(rows))
	for _, row := range rows {
		rec := DataRecord{
			ID:         row.ID,
			DataLake:   row.DataLake,
			SchemaName: row.SchemaName,
			CreatedBy:  row.CreatedBy,
		}
		if row.Data != "" {
			rec.Data = json.RawMessage(row.Data)
		}
		if row.Metadata != "" {
			rec.Metadata = json.RawMessage(row.Metadata)
		}
		if rec.CreatedAt, err = parseTimestamp(row.CreatedAt); err != nil {
			return nil, err
		}
		if rec.UpdatedAt, err = parseTimestamp(row.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, metiserr.Wrap(metiserr.KindParse, err, "malformed timestamp %q", s)
	}
	return t, nil
}
