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
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/metiserr"
)

const defaultBatchSize = 1000

// Service runs data-lake operations against the configured lakes.
type Service struct {
	provider *config.Provider
	store    ObjectStore
	logger   *zap.Logger

	mu  sync.Mutex
	dbs map[string]*dbTarget
}

// Option configures a Service.
type Option func(*Service)

// WithObjectStore sets the file target for lakes with file storage.
func WithObjectStore(store ObjectStore) Option {
	return func(s *Service) { s.store = store }
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService creates a data-lake service over the snapshot provider.
func NewService(provider *config.Provider, opts ...Option) *Service {
	s := &Service{
		provider: provider,
		logger:   zap.NewNop(),
		dbs:      map[string]*dbTarget{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases every cached database connection.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for url, target := range s.dbs {
		if err := target.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.dbs, url)
	}
	return first
}

// WriteRecords stores the payloads as new records and returns them.
// Each payload becomes one record with a fresh id.
func (s *Service) WriteRecords(ctx context.Context, lakeName, schema string, records []DataRecord) ([]DataRecord, error) {
	cfg, err := s.lakeConfig(lakeName, schema)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for i := range records {
		if records[i].ID == "" {
			records[i] = mergeNew(lakeName, schema, records[i])
		} else {
			records[i].DataLake = lakeName
			records[i].SchemaName = schema
			if records[i].CreatedAt.IsZero() {
				records[i].CreatedAt = now
			}
			if records[i].UpdatedAt.IsZero() {
				records[i].UpdatedAt = now
			}
		}
	}

	if usesDatabase(cfg) {
		target, err := s.dbFor(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := target.insert(ctx, records); err != nil {
			return nil, err
		}
	}
	if usesFiles(cfg) {
		if err := s.writeDataFile(ctx, cfg, schema, records); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("wrote records",
		zap.String("lake", lakeName),
		zap.String("schema", schema),
		zap.Int("count", len(records)))
	return records, nil
}

// ReadActiveRecords returns the current active set for the schema. For
// file-backed lakes that is the union of all data files minus
// tombstoned ids; for database-only lakes it is every row.
func (s *Service) ReadActiveRecords(ctx context.Context, lakeName, schema string) ([]DataRecord, error) {
	cfg, err := s.lakeConfig(lakeName, schema)
	if err != nil {
		return nil, err
	}
	if usesFiles(cfg) {
		return s.readActiveFromFiles(ctx, cfg, schema)
	}
	target, err := s.dbFor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return target.selectAll(ctx, cfg.Name, schema)
}

// FindRecord returns the active record with the given id, or a
// NotFound error.
func (s *Service) FindRecord(ctx context.Context, lakeName, schema, id string) (*DataRecord, error) {
	cfg, err := s.lakeConfig(lakeName, schema)
	if err != nil {
		return nil, err
	}

	if usesFiles(cfg) {
		records, err := s.readActiveFromFiles(ctx, cfg, schema)
		if err != nil {
			return nil, err
		}
		for i := range records {
			if records[i].ID == id {
				return &records[i], nil
			}
		}
		return nil, metiserr.New(metiserr.KindNotFound, "record %q not found in %s/%s", id, lakeName, schema)
	}

	target, err := s.dbFor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rec, err := target.find(ctx, cfg.Name, schema, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, metiserr.New(metiserr.KindNotFound, "record %q not found in %s/%s", id, lakeName, schema)
	}
	return rec, nil
}

// UpdateRecord replaces a record: a new record with a new id is
// written, and the old id is tombstoned (file target) or hard-deleted
// (database target). The files holding the old record are never
// touched.
func (s *Service) UpdateRecord(ctx context.Context, lakeName, schema, id string, updated DataRecord) (*DataRecord, error) {
	cfg, err := s.lakeConfig(lakeName, schema)
	if err != nil {
		return nil, err
	}

	old, err := s.FindRecord(ctx, lakeName, schema, id)
	if err != nil {
		return nil, err
	}

	record := mergeNew(lakeName, schema, updated)
	record.CreatedAt = old.CreatedAt
	if record.CreatedBy == "" {
		record.CreatedBy = old.CreatedBy
	}

	if usesDatabase(cfg) {
		target, err := s.dbFor(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := target.replace(ctx, id, record); err != nil {
			return nil, err
		}
	}
	if usesFiles(cfg) {
		if err := s.writeDataFile(ctx, cfg, schema, []DataRecord{record}); err != nil {
			return nil, err
		}
		tomb := UpdateTombstone(lakeName, schema, id, record.ID)
		if err := s.writeTombstoneFile(ctx, cfg, schema, []Tombstone{tomb}); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("updated record",
		zap.String("lake", lakeName),
		zap.String("schema", schema),
		zap.String("old_id", id),
		zap.String("new_id", record.ID))
	return &record, nil
}

// DeleteRecord removes a record from the active set: a delete
// tombstone in the file target, a hard delete in the database target.
func (s *Service) DeleteRecord(ctx context.Context, lakeName, schema, id string) error {
	cfg, err := s.lakeConfig(lakeName, schema)
	if err != nil {
		return err
	}

	if _, err := s.FindRecord(ctx, lakeName, schema, id); err != nil {
		return err
	}

	if usesDatabase(cfg) {
		target, err := s.dbFor(ctx, cfg)
		if err != nil {
			return err
		}
		if _, err := target.delete(ctx, cfg.Name, schema, id); err != nil {
			return err
		}
	}
	if usesFiles(cfg) {
		tomb := DeleteTombstone(lakeName, schema, id)
		if err := s.writeTombstoneFile(ctx, cfg, schema, []Tombstone{tomb}); err != nil {
			return err
		}
	}
	return nil
}

// SyncToFiles batches every database row for the schema into data
// files of at most batch_size records. It returns the number of files
// written.
func (s *Service) SyncToFiles(ctx context.Context, lakeName, schema string) (int, error) {
	cfg, err := s.lakeConfig(lakeName, schema)
	if err != nil {
		return 0, err
	}
	if !usesDatabase(cfg) {
		return 0, metiserr.New(metiserr.KindInvalidRequest, "lake %q has no database target to sync from", lakeName)
	}

	target, err := s.dbFor(ctx, cfg)
	if err != nil {
		return 0, err
	}
	records, err := target.selectAll(ctx, cfg.Name, schema)
	if err != nil {
		return 0, err
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	files := 0
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		if err := s.writeDataFile(ctx, cfg, schema, records[start:end]); err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

// Purge compacts the file target: the active set is rewritten into
// fresh files and every old data and tombstone file is deleted.
func (s *Service) Purge(ctx context.Context, lakeName, schema string) error {
	cfg, err := s.lakeConfig(lakeName, schema)
	if err != nil {
		return err
	}
	if !usesFiles(cfg) {
		return metiserr.New(metiserr.KindInvalidRequest, "lake %q has no file target to purge", lakeName)
	}

	active, err := s.readActiveFromFiles(ctx, cfg, schema)
	if err != nil {
		return err
	}

	dataKeys, err := s.store.List(ctx, dataPrefix(lakeName, schema))
	if err != nil {
		return err
	}
	tombKeys, err := s.store.List(ctx, tombstonePrefix(lakeName, schema))
	if err != nil {
		return err
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	for start := 0; start < len(active); start += batchSize {
		end := min(start+batchSize, len(active))
		if err := s.writeDataFile(ctx, cfg, schema, active[start:end]); err != nil {
			return err
		}
	}

	for _, key := range append(dataKeys, tombKeys...) {
		if err := s.store.Delete(ctx, key); err != nil {
			return err
		}
	}

	s.logger.Info("purged lake schema",
		zap.String("lake", lakeName),
		zap.String("schema", schema),
		zap.Int("active_records", len(active)),
		zap.Int("removed_files", len(dataKeys)+len(tombKeys)))
	return nil
}

// lakeConfig resolves the lake and checks the schema belongs to it.
func (s *Service) lakeConfig(lakeName, schema string) (*config.DataLakeConfig, error) {
	snap := s.provider.Load()
	if snap == nil {
		return nil, metiserr.New(metiserr.KindConfiguration, "no configuration loaded")
	}
	cfg, ok := snap.DataLake(lakeName)
	if !ok {
		return nil, metiserr.New(metiserr.KindNotFound, "data lake %q not found", lakeName)
	}
	for _, name := range cfg.Schemas {
		if name == schema {
			return cfg, nil
		}
	}
	return nil, metiserr.New(metiserr.KindNotFound, "schema %q not part of data lake %q", schema, lakeName)
}

// dbFor returns the cached database target for the lake, opening it on
// first use.
func (s *Service) dbFor(ctx context.Context, cfg *config.DataLakeConfig) (*dbTarget, error) {
	if cfg.DatabaseURL == "" {
		return nil, metiserr.New(metiserr.KindConfiguration, "data lake %q has no database_url", cfg.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if target, ok := s.dbs[cfg.DatabaseURL]; ok {
		return target, nil
	}
	target, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	s.dbs[cfg.DatabaseURL] = target
	return target, nil
}

// readActiveFromFiles unions the data files and subtracts tombstoned
// ids.
func (s *Service) readActiveFromFiles(ctx context.Context, cfg *config.DataLakeConfig, schema string) ([]DataRecord, error) {
	if s.store == nil {
		return nil, metiserr.New(metiserr.KindConfiguration, "no object store configured")
	}

	keys, err := s.store.List(ctx, dataPrefix(cfg.Name, schema))
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	records := []DataRecord{}
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		decoded, err := decodeDataFile(key, data)
		if err != nil {
			return nil, err
		}
		records = append(records, decoded...)
	}

	dead, err := s.tombstonedIDs(ctx, cfg.Name, schema)
	if err != nil {
		return nil, err
	}

	active := records[:0]
	for _, r := range records {
		if !dead[r.ID] {
			active = append(active, r)
		}
	}
	return active, nil
}

// tombstonedIDs collects every record id mentioned by any tombstone
// under the schema.
func (s *Service) tombstonedIDs(ctx context.Context, lakeName, schema string) (map[string]bool, error) {
	keys, err := s.store.List(ctx, tombstonePrefix(lakeName, schema))
	if err != nil {
		return nil, err
	}

	dead := map[string]bool{}
	for _, key := range keys {
		data, err := s.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		tombstones, err := decodeTombstones(data)
		if err != nil {
			return nil, err
		}
		for _, t := range tombstones {
			dead[t.RecordID] = true
		}
	}
	return dead, nil
}

// writeDataFile encodes the records in the lake's format and writes a
// fresh immutable file.
func (s *Service) writeDataFile(ctx context.Context, cfg *config.DataLakeConfig, schema string, records []DataRecord) error {
	if s.store == nil {
		return metiserr.New(metiserr.KindConfiguration, "no object store configured")
	}

	var (
		data []byte
		ext  string
		err  error
	)
	switch cfg.Format {
	case config.LakeFormatParquet:
		data, err = encodeParquet(records)
		ext = "parquet"
	case config.LakeFormatJSONL, "":
		data, err = encodeJSONL(records)
		ext = "jsonl"
	default:
		return metiserr.New(metiserr.KindConfiguration, "data lake %q has unknown format %q", cfg.Name, cfg.Format)
	}
	if err != nil {
		return err
	}

	key := joinKey(dataPrefix(cfg.Name, schema), newFilename(ext))
	return s.store.Put(ctx, key, data)
}

// writeTombstoneFile appends a fresh tombstone file for the schema.
func (s *Service) writeTombstoneFile(ctx context.Context, cfg *config.DataLakeConfig, schema string, tombstones []Tombstone) error {
	if s.store == nil {
		return metiserr.New(metiserr.KindConfiguration, "no object store configured")
	}
	data, err := encodeTombstones(tombstones)
	if err != nil {
		return err
	}
	key := joinKey(tombstonePrefix(cfg.Name, schema), newFilename("jsonl"))
	return s.store.Put(ctx, key, data)
}

// decodeDataFile picks the codec from the file extension.
func decodeDataFile(key string, data []byte) ([]DataRecord, error) {
	switch {
	case strings.HasSuffix(key, ".parquet"):
		return decodeParquet(data)
	case strings.HasSuffix(key, ".jsonl"):
		return decodeJSONL(data)
	default:
		return nil, nil
	}
}

// newFilename builds "{UTC timestamp}_{8 hex chars}.{ext}". Filename
// order does not imply record order.
func newFilename(ext string) string {
	var suffix [4]byte
	rand.Read(suffix[:])
	return fmt.Sprintf("%s_%s.%s",
		time.Now().UTC().Format("20060102_150405"),
		hex.EncodeToString(suffix[:]), ext)
}

func dataPrefix(lakeName, schema string) string {
	return joinKey("data-lakes", lakeName, schema)
}

func tombstonePrefix(lakeName, schema string) string {
	return joinKey("data-lakes", lakeName, "_tombstones", schema)
}

// mergeNew fills identity fields for a caller-supplied record.
func mergeNew(lakeName, schema string, from DataRecord) DataRecord {
	record := NewRecord(lakeName, schema, from.Data)
	record.CreatedBy = from.CreatedBy
	record.Metadata = from.Metadata
	return record
}

func usesDatabase(cfg *config.DataLakeConfig) bool {
	return cfg.Storage == config.LakeStorageDatabase || cfg.Storage == config.LakeStorageBoth
}

func usesFiles(cfg *config.DataLakeConfig) bool {
	return cfg.Storage == config.LakeStorageFile || cfg.Storage == config.LakeStorageBoth
}
