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
	"strings"

	"github.com/metis-labs/metis/pkg/metiserr"
)

// ResolveRefs replaces every {"$ref": "Name"} object inside v with the
// schema registered under Name. Resolution is recursive and rejects cycles;
// the result contains no resolvable $ref, so resolving twice is a no-op.
func ResolveRefs(v interface{}, schemas map[string]*SchemaConfig) (interface{}, error) {
	return resolveRefs(v, schemas, nil)
}

func resolveRefs(v interface{}, schemas map[string]*SchemaConfig, stack []string) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		if name, ok := refName(val); ok {
			for _, seen := range stack {
				if seen == name {
					return nil, metiserr.New(metiserr.KindConfiguration,
						"schema reference cycle: %s -> %s", strings.Join(stack, " -> "), name)
				}
			}
			target, ok := schemas[name]
			if !ok {
				return nil, metiserr.New(metiserr.KindConfiguration, "unresolved schema reference %q", name)
			}
			return resolveRefs(deepCopyMap(target.Schema), schemas, append(stack, name))
		}

		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			resolved, err := resolveRefs(item, schemas, stack)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil

	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			resolved, err := resolveRefs(item, schemas, stack)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return v, nil
	}
}

// refName reports whether m is exactly a schema reference object.
func refName(m map[string]interface{}) (string, bool) {
	if len(m) != 1 {
		return "", false
	}
	ref, ok := m["$ref"]
	if !ok {
		return "", false
	}
	name, ok := ref.(string)
	return name, ok && name != ""
}

// deepCopyMap copies a schema so resolution never aliases the registry's
// stored value into a tool's resolved schema.
func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
