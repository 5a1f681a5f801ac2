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
	"net/url"
	"strings"

	"github.com/metis-labs/metis/pkg/metiserr"
)

// ObjectStore is the file target for data lakes. List returns
// URL-encoded keys; callers pass them back verbatim and the store
// decodes exactly once.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// encodeKey escapes each path segment, leaving the separators intact.
func encodeKey(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// decodeKey reverses encodeKey. Keys that were never encoded pass
// through unchanged.
func decodeKey(key string) (string, error) {
	decoded, err := url.PathUnescape(key)
	if err != nil {
		return "", metiserr.Wrap(metiserr.KindInvalidRequest, err, "malformed object key %q", key)
	}
	return decoded, nil
}
