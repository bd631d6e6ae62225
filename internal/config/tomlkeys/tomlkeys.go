// Package tomlkeys flattens TOML documents into normalized dotted keys, so
// `[server] open_path = "/"` and `server.open-path = "/"` read the same.
package tomlkeys

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

type Store struct {
	flat map[string]any
}

func (s Store) Flat() map[string]any {
	flat := make(map[string]any, len(s.flat))
	for key, value := range s.flat {
		flat[key] = value
	}
	return flat
}

// Keys returns the sorted keys that start with prefix.
func (s Store) Keys(prefix string) []string {
	prefix = NormalizeKey(prefix)
	keys := make([]string, 0, len(s.flat))
	for key := range s.flat {
		if prefix == "" || key == prefix || strings.HasPrefix(key, prefix+".") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

func DecodeMap(data []byte) (map[string]any, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

func Decode(data []byte) (Store, error) {
	raw, err := DecodeMap(data)
	if err != nil {
		return Store{}, err
	}
	return FromRaw(raw), nil
}

func FromRaw(raw map[string]any) Store {
	return FromFlat(Flatten(raw))
}

// FromFlat builds a store from already flattened values, normalizing keys.
// When two keys normalize to the same value the lexically first one wins.
func FromFlat(flat map[string]any) Store {
	normalized := make(map[string]any, len(flat))
	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		normalizedKey := NormalizeKey(key)
		if normalizedKey == "" {
			continue
		}
		if _, exists := normalized[normalizedKey]; exists {
			continue
		}
		normalized[normalizedKey] = flat[key]
	}
	return Store{flat: normalized}
}

// Flatten turns nested tables into dotted keys.
func Flatten(raw map[string]any) map[string]any {
	flat := make(map[string]any)
	flattenMap("", raw, flat)
	return flat
}

func (s Store) Get(key string) (any, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	return value, ok
}

func (s Store) GetBool(key string) (bool, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return false, false
	}
	typed, ok := value.(bool)
	return typed, ok
}

func (s Store) GetInt(key string) (int64, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return 0, false
	}
	return AsInt64(value)
}

func (s Store) GetString(key string) (string, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return "", false
	}
	typed, ok := value.(string)
	return typed, ok
}

// GetStrings reads an array of strings. A single string is a one-item list.
func (s Store) GetStrings(key string) ([]string, bool) {
	value, ok := s.flat[NormalizeKey(key)]
	if !ok {
		return nil, false
	}
	return AsStrings(value)
}

// ParseValue reads a command-line override value as a TOML value, falling
// back to a plain string: "8080" is an integer, "[\"a\"]" an array, "dist" a
// string.
func ParseValue(text string) any {
	raw := map[string]any{}
	if _, err := toml.Decode("v = "+text, &raw); err == nil {
		return raw["v"]
	}
	return text
}

// ParseAssignment splits "key=value" into a normalized key and parsed value.
func ParseAssignment(assignment string) (string, any, error) {
	key, value, ok := strings.Cut(assignment, "=")
	if !ok {
		return "", nil, fmt.Errorf("tomlkeys: expected key=value, got %q", assignment)
	}
	normalized := NormalizeKey(key)
	if normalized == "" {
		return "", nil, fmt.Errorf("tomlkeys: empty key in %q", assignment)
	}
	return normalized, ParseValue(strings.TrimSpace(value)), nil
}

func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	parts := strings.Split(key, ".")
	for i, part := range parts {
		lowered := strings.ToLower(strings.TrimSpace(part))
		parts[i] = strings.ReplaceAll(lowered, "_", "-")
	}
	return strings.Join(parts, ".")
}

func AsInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int:
		return int64(typed), true
	case int32:
		return int64(typed), true
	case uint32:
		return int64(typed), true
	case uint64:
		return int64(typed), true
	case float64:
		if typed == float64(int64(typed)) {
			return int64(typed), true
		}
	}
	return 0, false
}

func AsStrings(value any) ([]string, bool) {
	switch typed := value.(type) {
	case string:
		return []string{typed}, true
	case []string:
		return append([]string(nil), typed...), true
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			text, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, text)
		}
		return out, true
	}
	return nil, false
}

func flattenMap(prefix string, raw map[string]any, out map[string]any) {
	for key, value := range raw {
		flattenValue(joinKey(prefix, key), value, out)
	}
}

func flattenValue(key string, value any, out map[string]any) {
	switch typed := value.(type) {
	case map[string]any:
		flattenMap(key, typed, out)
	default:
		out[key] = value
	}
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
