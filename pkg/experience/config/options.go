package config

import (
	"time"
)

// Options wraps a plugin's option map for typed value extraction.
// All accessors return the default when the key is missing or the value
// cannot be converted.
type Options struct {
	data map[string]any
}

// NewOptions creates Options from the given map. A nil map is treated as empty.
func NewOptions(data map[string]any) Options {
	if data == nil {
		data = make(map[string]any)
	}
	return Options{data: data}
}

// String returns the string value for key.
func (o Options) String(key, defaultVal string) string {
	if s, ok := o.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration value for key.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int, int64, float64: interpreted as milliseconds
//   - time.Duration: used directly
func (o Options) Duration(key string, defaultVal time.Duration) time.Duration {
	switch val := o.data[key].(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Millisecond))
	case int:
		return time.Duration(val) * time.Millisecond
	case int64:
		return time.Duration(val) * time.Millisecond
	case time.Duration:
		return val
	}
	return defaultVal
}

// Bool returns the boolean value for key.
func (o Options) Bool(key string, defaultVal bool) bool {
	if b, ok := o.data[key].(bool); ok {
		return b
	}
	return defaultVal
}

// Int returns the integer value for key. Floats are accepted only when they
// have no fractional part.
func (o Options) Int(key string, defaultVal int) int {
	switch val := o.data[key].(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	}
	return defaultVal
}

// Float returns the float64 value for key.
func (o Options) Float(key string, defaultVal float64) float64 {
	switch val := o.data[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	}
	return defaultVal
}

// StringSlice returns the string slice for key. A list holding any
// non-string element yields the default.
func (o Options) StringSlice(key string, defaultVal []string) []string {
	switch val := o.data[key].(type) {
	case []string:
		return val
	case []any:
		result := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			result = append(result, s)
		}
		return result
	}
	return defaultVal
}

// StringMap returns a map of string values for key, such as per-event
// templates. Non-string values are skipped.
func (o Options) StringMap(key string) map[string]string {
	raw, ok := o.data[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// Sub returns the nested options under key.
func (o Options) Sub(key string) Options {
	m, _ := o.data[key].(map[string]any)
	return NewOptions(m)
}

// Has returns true if the key exists.
func (o Options) Has(key string) bool {
	_, ok := o.data[key]
	return ok
}

// Raw returns the underlying map. The returned map should not be modified.
func (o Options) Raw() map[string]any {
	return o.data
}
