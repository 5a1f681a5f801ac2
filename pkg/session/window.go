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

import "github.com/metis-labs/metis/pkg/config"

// Window selects the slice of history an agent sends to the model,
// according to the memory strategy:
//
//   - full: up to max_messages most recent messages (all when 0)
//   - sliding_window: the last window_size messages
//   - first_last: the first first_n plus the last last_n, deduplicated
//     when the two ranges overlap
func Window(messages []Message, cfg config.MemoryConfig) []Message {
	switch cfg.Strategy {
	case config.MemorySlidingWindow:
		return lastN(messages, cfg.WindowSize)

	case config.MemoryFirstLast:
		first, last := cfg.FirstN, cfg.LastN
		if first+last >= len(messages) {
			return messages
		}
		out := make([]Message, 0, first+last)
		out = append(out, messages[:first]...)
		out = append(out, messages[len(messages)-last:]...)
		return out

	default: // full
		if cfg.MaxMessages > 0 {
			return lastN(messages, cfg.MaxMessages)
		}
		return messages
	}
}

func lastN(messages []Message, n int) []Message {
	if n <= 0 || n >= len(messages) {
		return messages
	}
	return messages[len(messages)-n:]
}
