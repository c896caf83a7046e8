package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// isYAMLPath reports whether the file should be decoded as YAML
func isYAMLPath(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// decodeYAMLLayer decodes a YAML document into the map shape the merge
// expects. Keys are normalized to strings so the result round-trips through
// encoding/json the same way a JSON layer does.
func decodeYAMLLayer(data []byte) (map[string]any, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	normalized, err := normalizeYAMLValue(raw)
	if err != nil {
		return nil, err
	}

	m, ok := normalized.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("YAML document must be a mapping, got %T", normalized)
	}
	return m, nil
}

// normalizeYAMLValue rewrites yaml-decoded values so every mapping uses
// string keys. yaml.v3 already does this for string-keyed maps, but nested
// any-keyed mappings can still appear.
func normalizeYAMLValue(v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			norm, err := normalizeYAMLValue(inner)
			if err != nil {
				return nil, err
			}
			out[k] = norm
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string mapping key %v", k)
			}
			norm, err := normalizeYAMLValue(inner)
			if err != nil {
				return nil, err
			}
			out[ks] = norm
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			norm, err := normalizeYAMLValue(inner)
			if err != nil {
				return nil, err
			}
			out[i] = norm
		}
		return out, nil
	default:
		return v, nil
	}
}
