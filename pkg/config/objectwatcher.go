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

package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ObjectGetter fetches one object by key. The data-lake object stores
// satisfy this.
type ObjectGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// ObjectWatcher polls an object store key for configuration changes and
// republishes the snapshot when the content hash changes.
type ObjectWatcher struct {
	store    ObjectGetter
	key      string
	provider *Provider
	onReload ReloadFunc
	logger   *zap.Logger
	interval time.Duration

	lastHash [sha256.Size]byte
	seeded   bool
}

// NewObjectWatcher creates a poller for key in store. Zero interval
// defaults to 30 seconds.
func NewObjectWatcher(store ObjectGetter, key string, interval time.Duration, provider *Provider, onReload ReloadFunc, logger *zap.Logger) *ObjectWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &ObjectWatcher{
		store:    store,
		key:      key,
		provider: provider,
		onReload: onReload,
		logger:   logger,
		interval: interval,
	}
}

// Run polls until the context is cancelled. The first successful fetch
// seeds the hash without republishing, so startup does not double-load.
func (w *ObjectWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.poll(ctx, true)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.poll(ctx, false)
		}
	}
}

func (w *ObjectWatcher) poll(ctx context.Context, seed bool) {
	data, err := w.store.Get(ctx, w.key)
	if err != nil {
		w.logger.Warn("config object fetch failed", zap.String("key", w.key), zap.Error(err))
		return
	}

	hash := sha256.Sum256(data)
	if w.seeded && bytes.Equal(hash[:], w.lastHash[:]) {
		return
	}

	if seed && !w.seeded {
		w.lastHash = hash
		w.seeded = true
		return
	}

	cfg, err := LoadBytes(data, strings.TrimPrefix(filepath.Ext(w.key), "."))
	if err != nil {
		w.logger.Error("remote config parse failed, keeping previous snapshot", zap.String("key", w.key), zap.Error(err))
		return
	}
	snap, err := Validate(cfg)
	if err != nil {
		w.logger.Error("remote config validation failed, keeping previous snapshot", zap.String("key", w.key), zap.Error(err))
		return
	}

	w.lastHash = hash
	w.seeded = true
	w.provider.Publish(snap)
	w.logger.Info("config reloaded from object store", zap.String("key", w.key))
	if w.onReload != nil {
		w.onReload(snap)
	}
}
