// Package diff compares declared attribute maps against observed ones,
// field by field, without coercing across types.
package diff

import (
	"fmt"
	"sort"
	"strings"
)

// Change is a single differing field. Nested maps are addressed with
// dot paths ("tags.env"); lists compare as whole values at their own
// path.
type Change struct {
	Field    string `json:"field"`
	Previous any    `json:"previous,omitempty"`
	Current  any    `json:"current,omitempty"`
}

func (c Change) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.Field, formatValue(c.Previous), formatValue(c.Current))
}

// Compare returns every field that differs between previous and
// current, sorted by field path so identical inputs always produce
// identical output.
func Compare(previous, current map[string]any) []Change {
	var changes []Change
	collectMapChanges("", previous, current, &changes)
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}

// Equal reports whether two attribute maps are semantically identical.
func Equal(a, b map[string]any) bool {
	return len(Compare(a, b)) == 0
}

// CompareDeclared returns the differences for declared fields only.
// Remote fields the declaration never mentions are unmanaged: providers
// echo computed defaults and server-assigned values that must not force
// an update. Each change reads remote -> declared, the transition an
// apply would make.
func CompareDeclared(declared, remote map[string]any) []Change {
	var changes []Change
	collectDeclaredChanges("", declared, remote, &changes)
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes
}

func collectDeclaredChanges(prefix string, declared, remote map[string]any, changes *[]Change) {
	for key, declVal := range declared {
		path := joinPath(prefix, key)
		remVal, ok := remote[key]
		if !ok {
			*changes = append(*changes, Change{Field: path, Current: declVal})
			continue
		}
		declMap, declIsMap := asMap(declVal)
		remMap, remIsMap := asMap(remVal)
		if declIsMap && remIsMap {
			collectDeclaredChanges(path, declMap, remMap, changes)
			continue
		}
		if !valueEqual(declVal, remVal) {
			*changes = append(*changes, Change{Field: path, Previous: remVal, Current: declVal})
		}
	}
}

func collectMapChanges(prefix string, previous, current map[string]any, changes *[]Change) {
	for key, prevVal := range previous {
		path := joinPath(prefix, key)
		curVal, ok := current[key]
		if !ok {
			*changes = append(*changes, Change{Field: path, Previous: prevVal})
			continue
		}
		collectValueChanges(path, prevVal, curVal, changes)
	}
	for key, curVal := range current {
		if _, ok := previous[key]; !ok {
			*changes = append(*changes, Change{Field: joinPath(prefix, key), Current: curVal})
		}
	}
}

func collectValueChanges(path string, previous, current any, changes *[]Change) {
	prevMap, prevIsMap := asMap(previous)
	curMap, curIsMap := asMap(current)
	if prevIsMap && curIsMap {
		collectMapChanges(path, prevMap, curMap, changes)
		return
	}
	if !valueEqual(previous, current) {
		*changes = append(*changes, Change{Field: path, Previous: previous, Current: current})
	}
}

// valueEqual is the semantic comparison rule: numbers compare as
// numbers regardless of int/float representation, but a number never
// equals a string ("20" != 20) and a type mismatch is a difference.
func valueEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if aNum, aOK := asFloat(a); aOK {
		bNum, bOK := asFloat(b)
		return bOK && aNum == bNum
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case []any:
		bv, ok := asSlice(b)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !valueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := asMap(b)
		if !ok {
			return false
		}
		var nested []Change
		collectMapChanges("", av, bv, &nested)
		return len(nested) == 0
	}

	// Anything else (typed structs smuggled into an attribute map)
	// falls back to interface equality.
	return a == b
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		// yaml.v2 legacy decoding; yaml.v3 produces map[string]any but
		// state written by older builds can still round-trip this way.
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	}
	return nil, false
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func formatValue(v any) string {
	if v == nil {
		return "<absent>"
	}
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return strings.TrimSpace(fmt.Sprintf("%v", v))
}
