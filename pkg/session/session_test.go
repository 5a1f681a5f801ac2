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

package session

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metis-labs/metis/pkg/config"
	"github.com/metis-labs/metis/pkg/metiserr"
)

// storeUnderTest runs the same contract checks against both backends.
func storeUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestStore_Lifecycle(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			sess, err := store.GetOrCreate(ctx, "", "researcher")
			require.NoError(t, err)
			require.NotEmpty(t, sess.ID)
			assert.Equal(t, "researcher", sess.AgentName)
			assert.Empty(t, sess.Messages)

			// A second call with the same id returns the same session.
			again, err := store.GetOrCreate(ctx, sess.ID, "researcher")
			require.NoError(t, err)
			assert.Equal(t, sess.ID, again.ID)

			require.NoError(t, store.Append(ctx, sess.ID,
				Message{Role: "user", Content: "hi"},
				Message{Role: "assistant", Content: "hello"},
			))

			loaded, err := store.Get(ctx, sess.ID)
			require.NoError(t, err)
			require.Len(t, loaded.Messages, 2)
			assert.Equal(t, "user", loaded.Messages[0].Role)
			assert.False(t, loaded.Messages[0].CreatedAt.IsZero())

			ids, err := store.List(ctx)
			require.NoError(t, err)
			assert.Contains(t, ids, sess.ID)

			require.NoError(t, store.Delete(ctx, sess.ID))
			_, err = store.Get(ctx, sess.ID)
			require.Error(t, err)
			assert.True(t, metiserr.Is(err, metiserr.KindNotFound))

			// Deleting again is a no-op.
			require.NoError(t, store.Delete(ctx, sess.ID))
		})
	}
}

func TestStore_AppendToMissingSession(t *testing.T) {
	for name, store := range storeUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			err := store.Append(context.Background(), "ghost", Message{Role: "user", Content: "x"})
			require.Error(t, err)
			assert.True(t, metiserr.Is(err, metiserr.KindNotFound))
		})
	}
}

func history(n int) []Message {
	out := make([]Message, n)
	for i := range out {
		out[i] = Message{Role: "user", Content: fmt.Sprintf("m%d", i)}
	}
	return out
}

func contents(messages []Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.Content
	}
	return out
}

func TestWindow(t *testing.T) {
	msgs := history(6)

	tests := []struct {
		name string
		cfg  config.MemoryConfig
		want []string
	}{
		{
			name: "full unbounded",
			cfg:  config.MemoryConfig{Strategy: config.MemoryFull},
			want: []string{"m0", "m1", "m2", "m3", "m4", "m5"},
		},
		{
			name: "full capped",
			cfg:  config.MemoryConfig{Strategy: config.MemoryFull, MaxMessages: 4},
			want: []string{"m2", "m3", "m4", "m5"},
		},
		{
			name: "sliding window",
			cfg:  config.MemoryConfig{Strategy: config.MemorySlidingWindow, WindowSize: 2},
			want: []string{"m4", "m5"},
		},
		{
			name: "first last",
			cfg:  config.MemoryConfig{Strategy: config.MemoryFirstLast, FirstN: 2, LastN: 2},
			want: []string{"m0", "m1", "m4", "m5"},
		},
		{
			name: "first last overlapping keeps each message once",
			cfg:  config.MemoryConfig{Strategy: config.MemoryFirstLast, FirstN: 4, LastN: 4},
			want: []string{"m0", "m1", "m2", "m3", "m4", "m5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, contents(Window(msgs, tt.cfg)))
		})
	}
}
