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

// Package template renders {{path}} placeholders against a JSON context.
// Paths are dotted gjson paths; scalar values render as their string form,
// objects and arrays render as compact JSON. A rendered string that parses
// as JSON is promoted back to a JSON value by PromoteJSON.
package template

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/metis-labs/metis/pkg/metiserr"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Render substitutes every {{path}} in tmpl with the value at that path in
// ctx. An unresolvable path is a strategy failure, matching template-engine
// semantics of erroring on undefined variables.
func Render(tmpl string, ctx map[string]interface{}) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	doc, err := json.Marshal(ctx)
	if err != nil {
		return "", metiserr.Wrap(metiserr.KindStrategyFailure, err, "template context not serializable")
	}

	var renderErr error
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		path := strings.TrimSpace(m[2 : len(m)-2])
		res := gjson.GetBytes(doc, path)
		if !res.Exists() {
			if renderErr == nil {
				renderErr = metiserr.New(metiserr.KindStrategyFailure, "template variable %q not found", path)
			}
			return m
		}
		return renderResult(res)
	})
	if renderErr != nil {
		return "", renderErr
	}
	return out, nil
}

// RenderValue renders templates recursively through maps, slices, and
// strings. A rendered string that parses as JSON is promoted to the parsed
// value so argument templates can splice structured step outputs.
func RenderValue(v interface{}, ctx map[string]interface{}) (interface{}, error) {
	switch val := v.(type) {
	case string:
		rendered, err := Render(val, ctx)
		if err != nil {
			return nil, err
		}
		if rendered != val || strings.Contains(val, "{{") {
			return PromoteJSON(rendered), nil
		}
		return rendered, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			rendered, err := RenderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			rendered, err := RenderValue(item, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return v, nil
	}
}

// PromoteJSON returns the parsed JSON value of s when s is valid JSON,
// otherwise s unchanged. Bare words like "hello" stay strings because they
// are not valid JSON documents.
func PromoteJSON(s string) interface{} {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return s
	}
	switch trimmed[0] {
	case '{', '[', '"', 't', 'f', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var v interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return s
}

// renderResult formats a gjson result for interpolation into text.
func renderResult(res gjson.Result) string {
	switch res.Type {
	case gjson.String:
		return res.String()
	case gjson.Null:
		return "null"
	default:
		// Numbers, booleans, objects, and arrays interpolate as raw JSON.
		return res.Raw
	}
}
