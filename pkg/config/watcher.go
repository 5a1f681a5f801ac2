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
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc is invoked after a new snapshot has been published.
type ReloadFunc func(*Snapshot)

// FileWatcher watches a configuration file and republishes the snapshot on
// change. An invalid new configuration is logged and the previous snapshot
// stays in effect.
type FileWatcher struct {
	path     string
	provider *Provider
	onReload ReloadFunc
	logger   *zap.Logger
	debounce time.Duration
}

// NewFileWatcher creates a watcher for path publishing into provider.
// onReload may be nil.
func NewFileWatcher(path string, provider *Provider, onReload ReloadFunc, logger *zap.Logger) *FileWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileWatcher{
		path:     path,
		provider: provider,
		onReload: onReload,
		logger:   logger,
		debounce: 250 * time.Millisecond,
	}
}

// Run blocks watching the file until the context is cancelled. Editors
// replace files with rename+create, so write, create, and rename events all
// trigger a debounced reload.
func (w *FileWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(w.path); err != nil {
		return err
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if event.Op&fsnotify.Rename != 0 {
				// Re-add the path: the watch followed the old inode.
				_ = watcher.Add(w.path)
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))

		case <-reload:
			w.reload()
		}
	}
}

func (w *FileWatcher) reload() {
	snap, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous snapshot",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}
	w.provider.Publish(snap)
	w.logger.Info("config reloaded", zap.String("path", w.path))
	if w.onReload != nil {
		w.onReload(snap)
	}
}
