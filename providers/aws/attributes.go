package aws

import (
	"fmt"
	"sort"
	"strings"

	"github.com/varunnarsana/stratus/providers"
)

// Attribute readers. Declarations arrive as YAML-decoded maps and state
// round-trips through JSON, so a number may be int, int64 or float64
// depending on where the map came from.

func has(attrs map[string]any, key string) bool {
	_, ok := attrs[key]
	return ok
}

func attrString(attrs map[string]any, key, def string) string {
	if v, ok := attrs[key].(string); ok {
		return v
	}
	return def
}

func requireString(attrs map[string]any, key string) (string, error) {
	v, ok := attrs[key].(string)
	if !ok || v == "" {
		return "", fmt.Errorf("required attribute %q is missing", key)
	}
	return v, nil
}

func attrInt(attrs map[string]any, key string, def int) int {
	switch v := attrs[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func attrFloat(attrs map[string]any, key string, def float64) float64 {
	switch v := attrs[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	}
	return def
}

func requireFloat(attrs map[string]any, key string) (float64, error) {
	switch v := attrs[key].(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	}
	return 0, fmt.Errorf("required attribute %q is missing", key)
}

func attrBool(attrs map[string]any, key string, def bool) bool {
	if v, ok := attrs[key].(bool); ok {
		return v
	}
	return def
}

func attrStrings(attrs map[string]any, key string) []string {
	switch v := attrs[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func attrStringMap(attrs map[string]any, key string) map[string]string {
	out := map[string]string{}
	switch v := attrs[key].(type) {
	case map[string]string:
		for k, val := range v {
			out[k] = val
		}
	case map[string]any:
		for k, val := range v {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
	}
	return out
}

// Echo converters. Attribute maps that land in state round-trip through
// JSON, so echoes use the same shapes a decoded declaration has: []any
// for lists, map[string]any for maps.

func stringsToAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func mapToAny(values map[string]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}

// checkAttrs rejects declaration keys the kind's API cannot read back.
// A key that is written but never echoed would plan an update forever.
func checkAttrs(op, id string, attrs map[string]any, allowed map[string]bool) error {
	var unknown []string
	for key := range attrs {
		if !allowed[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return providers.NewPermanentError("aws", op, id,
		fmt.Errorf("unsupported attribute(s): %s", strings.Join(unknown, ", ")))
}
