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

// Package lake stores typed records in a database target, an object
// store target, or both. Object-store files are immutable: updates and
// deletes append tombstones, and readers compute the active set by
// subtracting tombstoned ids.
package lake

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/metis-labs/metis/pkg/metiserr"
)

// DataRecord is one stored row. Data and Metadata are JSON documents
// carried opaquely.
type DataRecord struct {
	ID         string          `json:"id"`
	DataLake   string          `json:"data_lake"`
	SchemaName string          `json:"schema_name"`
	Data       json.RawMessage `json:"data"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	CreatedBy  string          `json:"created_by,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// NewRecord creates a record with a fresh UUID and current timestamps.
func NewRecord(lake, schema string, data json.RawMessage) DataRecord {
	now := time.Now().UTC()
	return DataRecord{
		ID:         uuid.NewString(),
		DataLake:   lake,
		SchemaName: schema,
		Data:       data,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// TombstoneKind marks why a record id left the active set: a plain
// delete, or an update pointing at the replacement id.
type TombstoneKind struct {
	NewID string // empty for deletes
}

// IsDelete reports whether this tombstone is a plain delete.
func (k TombstoneKind) IsDelete() bool { return k.NewID == "" }

// MarshalJSON encodes "delete" or {"update":{"new_id":...}}.
func (k TombstoneKind) MarshalJSON() ([]byte, error) {
	if k.IsDelete() {
		return json.Marshal("delete")
	}
	return json.Marshal(map[string]interface{}{
		"update": map[string]interface{}{"new_id": k.NewID},
	})
}

// UnmarshalJSON decodes both encodings of Kind.
func (k *TombstoneKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s != "delete" {
			return metiserr.New(metiserr.KindParse, "unknown tombstone kind %q", s)
		}
		k.NewID = ""
		return nil
	}

	var obj struct {
		Update struct {
			NewID string `json:"new_id"`
		} `json:"update"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return metiserr.Wrap(metiserr.KindParse, err, "undecodable tombstone kind")
	}
	if obj.Update.NewID == "" {
		return metiserr.New(metiserr.KindParse, "update tombstone missing new_id")
	}
	k.NewID = obj.Update.NewID
	return nil
}

// Tombstone suppresses a record id from the active set.
type Tombstone struct {
	RecordID   string        `json:"record_id"`
	DataLake   string        `json:"data_lake"`
	SchemaName string        `json:"schema_name"`
	Kind       TombstoneKind `json:"kind"`
	At         time.Time     `json:"at"`
}

// DeleteTombstone marks a record deleted.
func DeleteTombstone(lake, schema, recordID string) Tombstone {
	return Tombstone{
		RecordID:   recordID,
		DataLake:   lake,
		SchemaName: schema,
		At:         time.Now().UTC(),
	}
}

// UpdateTombstone points an old record id at its replacement.
func UpdateTombstone(lake, schema, oldID, newID string) Tombstone {
	return Tombstone{
		RecordID:   oldID,
		DataLake:   lake,
		SchemaName: schema,
		Kind:       TombstoneKind{NewID: newID},
		At:         time.Now().UTC(),
	}
}
