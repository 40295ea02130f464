package config

import (
	"fmt"
	"time"
)

// Options are the free-form settings of one interceptor as decoded from YAML.
// Accessors return the default when a key is absent and an error when it holds
// the wrong type.
type Options map[string]any

// String returns a string option
func (o Options) String(key, def string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", typeError(key, "string", v)
	}
	return s, nil
}

// Bool returns a boolean option
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, typeError(key, "bool", v)
	}
	return b, nil
}

// Int returns an integer option
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, typeError(key, "integer", v)
}

// Float returns a numeric option
func (o Options) Float(key string, def float64) (float64, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return 0, typeError(key, "number", v)
}

// Duration returns a duration option written as a Go duration string ("1.5s")
func (o Options) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return 0, typeError(key, "duration", v)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("option %q: %w", key, err)
	}
	return d, nil
}

// Strings returns a list of strings
func (o Options) Strings(key string) ([]string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, typeError(key, "list of strings", v)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, typeError(key, "list of strings", v)
}

// StringMap returns a string to string mapping
func (o Options) StringMap(key string) (map[string]string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := asOptions(v)
	if !ok {
		return nil, typeError(key, "mapping", v)
	}
	out := make(map[string]string, len(m))
	for k, item := range m {
		s, ok := item.(string)
		if !ok {
			return nil, typeError(key+"."+k, "string", item)
		}
		out[k] = s
	}
	return out, nil
}

// Sub returns a nested mapping as Options. The second result is false when the
// key is absent; a present key that is not a mapping is an error.
func (o Options) Sub(key string) (Options, bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return nil, false, nil
	}
	m, ok := asOptions(v)
	if !ok {
		return nil, false, typeError(key, "mapping", v)
	}
	return m, true, nil
}

// asOptions accepts the mapping shapes a nested block can arrive in. yaml.v3
// decodes mappings under Options as Options, while maps built in code are
// usually plain map[string]any or map[string]string.
func asOptions(v any) (Options, bool) {
	switch m := v.(type) {
	case Options:
		return m, true
	case map[string]any:
		return Options(m), true
	case map[string]string:
		out := make(Options, len(m))
		for k, item := range m {
			out[k] = item
		}
		return out, true
	}
	return nil, false
}

func typeError(key, want string, got any) error {
	return fmt.Errorf("option %q: expected %s, got %T", key, want, got)
}
