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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/metis-labs/metis/pkg/metiserr"
)

// LoadFile reads and decodes a configuration file. The format is inferred
// from the extension: .yaml/.yml, .json, or .toml.
//
// Decoding is format-specific rather than routed through a generic config
// facade because JSON-schema property names are case-sensitive and must
// survive decoding byte-for-byte.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- config path comes from trusted CLI flags
	if err != nil {
		return nil, metiserr.Wrap(metiserr.KindConfiguration, err, "failed to read config file %s", path)
	}
	return LoadBytes(data, strings.TrimPrefix(filepath.Ext(path), "."))
}

// LoadBytes decodes configuration bytes in the given format
// ("yaml", "yml", "json", or "toml").
func LoadBytes(data []byte, format string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(format) {
	case "yaml", "yml", "json", "":
		// YAML is a JSON superset, so one decoder covers both.
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, metiserr.Wrap(metiserr.KindConfiguration, err, "failed to parse config")
		}
	case "toml":
		// Decode TOML into a generic tree first, then re-enter through the
		// JSON path so all three formats share one set of field tags.
		var raw map[string]interface{}
		if err := toml.Unmarshal(data, &raw); err != nil {
			return nil, metiserr.Wrap(metiserr.KindConfiguration, err, "failed to parse config")
		}
		jsonBytes, err := json.Marshal(raw)
		if err != nil {
			return nil, metiserr.Wrap(metiserr.KindConfiguration, err, "failed to normalize TOML config")
		}
		if err := yaml.Unmarshal(jsonBytes, &cfg); err != nil {
			return nil, metiserr.Wrap(metiserr.KindConfiguration, err, "failed to decode config")
		}
	default:
		return nil, metiserr.New(metiserr.KindConfiguration, "unsupported config format %q", format)
	}

	normalizeConfig(&cfg)
	return &cfg, nil
}

// Load reads, decodes, and validates a configuration file, returning the
// published snapshot.
func Load(path string) (*Snapshot, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return Validate(cfg)
}

// normalizeConfig converts yaml.v3's map[interface{}]interface{}-free but
// still mixed-type trees into plain map[string]interface{} values so
// downstream JSON marshaling never fails.
func normalizeConfig(cfg *Config) {
	for i := range cfg.Tools {
		cfg.Tools[i].InputSchema = normalizeMap(cfg.Tools[i].InputSchema)
		cfg.Tools[i].OutputSchema = normalizeMap(cfg.Tools[i].OutputSchema)
		cfg.Tools[i].Response = normalizeValue(cfg.Tools[i].Response)
	}
	for i := range cfg.Schemas {
		cfg.Schemas[i].Schema = normalizeMap(cfg.Schemas[i].Schema)
	}
	for i := range cfg.Resources {
		cfg.Resources[i].Schema = normalizeMap(cfg.Resources[i].Schema)
		cfg.Resources[i].Content = normalizeValue(cfg.Resources[i].Content)
	}
	for i := range cfg.ResourceTemplates {
		cfg.ResourceTemplates[i].Schema = normalizeMap(cfg.ResourceTemplates[i].Schema)
		cfg.ResourceTemplates[i].Content = normalizeValue(cfg.ResourceTemplates[i].Content)
	}
	for i := range cfg.Workflows {
		for j := range cfg.Workflows[i].Steps {
			cfg.Workflows[i].Steps[j].Arguments = normalizeMap(cfg.Workflows[i].Steps[j].Arguments)
			if cfg.Workflows[i].Steps[j].OnError != nil {
				cfg.Workflows[i].Steps[j].OnError.Fallback = normalizeValue(cfg.Workflows[i].Steps[j].OnError.Fallback)
			}
		}
	}
}

func normalizeMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return normalizeMap(val)
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[toString(k)] = normalizeValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, _ := json.Marshal(v)
	return strings.Trim(string(b), `"`)
}
