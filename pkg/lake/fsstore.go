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
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/metis-labs/metis/pkg/metiserr"
)

// FSStore is an ObjectStore over a local directory.
type FSStore struct {
	root string
}

var _ ObjectStore = (*FSStore)(nil)

// NewFSStore creates a filesystem store rooted at dir, creating it if
// needed.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to create store root %q", dir)
	}
	return &FSStore{root: dir}, nil
}

// Put writes the object, creating parent directories as needed.
func (s *FSStore) Put(_ context.Context, key string, data []byte) error {
	decoded, err := decodeKey(key)
	if err != nil {
		return err
	}
	path := filepath.Join(s.root, filepath.FromSlash(decoded))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to create directories for %q", decoded)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to write %q", decoded)
	}
	return nil
}

// Get reads the object.
func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	decoded, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(decoded)))
	if os.IsNotExist(err) {
		return nil, metiserr.New(metiserr.KindNotFound, "object %q not found", decoded)
	}
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to read %q", decoded)
	}
	return data, nil
}

// List returns the URL-encoded keys of every object under prefix.
func (s *FSStore) List(_ context.Context, prefix string) ([]string, error) {
	decoded, err := decodeKey(prefix)
	if err != nil {
		return nil, err
	}
	base := filepath.Join(s.root, filepath.FromSlash(decoded))

	keys := []string{}
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		keys = append(keys, encodeKey(filepath.ToSlash(rel)))
		return nil
	})
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindStorage, err, "failed to list %q", decoded)
	}
	return keys, nil
}

// Delete removes the object.
func (s *FSStore) Delete(_ context.Context, key string) error {
	decoded, err := decodeKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.root, filepath.FromSlash(decoded))); err != nil {
		if os.IsNotExist(err) {
			return metiserr.New(metiserr.KindNotFound, "object %q not found", decoded)
		}
		return metiserr.Wrap(metiserr.KindStorage, err, "failed to delete %q", decoded)
	}
	return nil
}

// joinKey builds a slash-separated key from path segments, skipping
// empties.
func joinKey(parts ...string) string {
	cleaned := parts[:0]
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return strings.Join(cleaned, "/")
}
