package models

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Config carries type-specific parameters of triggers and actions. Values come
// from JSON (float64), YAML (int) or Go callers, so accessors normalize them.
type Config map[string]any

// Has reports whether key is present with a non-nil value.
func (c Config) Has(key string) bool {
	v, ok := c[key]

	return ok && v != nil
}

// String returns the value at key as a string. Numbers are formatted.
func (c Config) String(key string) (string, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return "", false
	}

	switch val := v.(type) {
	case string:
		return val, true
	case fmt.Stringer:
		return val.String(), true
	case float64, float32, int, int64, int32, json.Number, bool:
		return fmt.Sprint(val), true
	default:
		return "", false
	}
}

// Float returns the value at key as a float64.
func (c Config) Float(key string) (float64, bool) {
	v, ok := c[key]
	if !ok || v == nil {
		return 0, false
	}

	return ToFloat(v)
}

// Int returns the value at key truncated to an int.
func (c Config) Int(key string) (int, bool) {
	f, ok := c.Float(key)
	if !ok {
		return 0, false
	}

	return int(f), true
}

// Strings returns the value at key as a string list. A single string becomes a
// one element list.
func (c Config) Strings(key string) []string {
	v, ok := c[key]
	if !ok || v == nil {
		return nil
	}

	return ToStrings(v)
}

// Clone returns a shallow copy.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}

	return out
}

// ToFloat converts numeric values and numeric strings to float64.
func ToFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(val, 64)

		return f, err == nil
	default:
		return 0, false
	}
}

// ToStrings converts list-like values to a string slice.
func ToStrings(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case string:
		return []string{val}
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			out = append(out, fmt.Sprint(item))
		}

		return out
	default:
		return nil
	}
}
