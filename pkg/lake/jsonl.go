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
	"bufio"
	"bytes"
	"encoding/json"

	"github.com/metis-labs/metis/pkg/metiserr"
)

// encodeJSONL serializes records one JSON document per line.
func encodeJSONL(records []DataRecord) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to encode record %q", r.ID)
		}
	}
	return buf.Bytes(), nil
}

// decodeJSONL reads records from newline-delimited JSON, skipping blank
// lines.
func decodeJSONL(data []byte) ([]DataRecord, error) {
	records := []DataRecord{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec DataRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, metiserr.Wrap(metiserr.KindParse, err, "malformed record line")
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, metiserr.Wrap(metiserr.KindParse, err, "failed to scan jsonl data")
	}
	return records, nil
}

// encodeTombstones serializes tombstones one per line.
func encodeTombstones(tombstones []Tombstone) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, t := range tombstones {
		if err := enc.Encode(t); err != nil {
			return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to encode tombstone for %q", t.RecordID)
		}
	}
	return buf.Bytes(), nil
}

// decodeTombstones reads tombstones from newline-delimited JSON.
func decodeTombstones(data []byte) ([]Tombstone, error) {
	tombstones := []Tombstone{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var t Tombstone
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, metiserr.Wrap(metiserr.KindParse, err, "malformed tombstone line")
		}
		tombstones = append(tombstones, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, metiserr.Wrap(metiserr.KindParse, err, "failed to scan tombstone data")
	}
	return tombstones, nil
}
