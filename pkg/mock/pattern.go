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

package mock

import (
	"math/rand"
	"strings"

	"github.com/metis-labs/metis/pkg/metiserr"
)

const (
	patternDigits  = "0123456789"
	patternLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// ExpandPattern expands a regex-lite pattern: \d becomes one random
// digit, \w one random ASCII letter, \\ followed by any character is that
// character literally, and everything else passes through unchanged. A
// trailing lone backslash is an error.
func ExpandPattern(pattern string) (string, error) {
	var sb strings.Builder
	runes := []rune(pattern)

	for i := 0; i < len(runes); i++ {
		if runes[i] != '\\' {
			sb.WriteRune(runes[i])
			continue
		}
		if i+1 >= len(runes) {
			return "", metiserr.New(metiserr.KindStrategyFailure, "pattern ends with a dangling backslash: %q", pattern)
		}
		i++
		switch runes[i] {
		case 'd':
			sb.WriteByte(patternDigits[rand.Intn(len(patternDigits))])
		case 'w':
			sb.WriteByte(patternLetters[rand.Intn(len(patternLetters))])
		default:
			sb.WriteRune(runes[i])
		}
	}
	return sb.String(), nil
}
