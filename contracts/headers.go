package contracts

import (
	"net/http"
	"sort"
	"strings"
)

// Headers is an immutable, case-insensitive header multimap.
// Every mutating method returns a new Headers value and leaves the receiver untouched,
// so a Headers value can be shared freely between cloned requests.
type Headers struct {
	// keyed by lower-case name
	values map[string][]string
	// original spelling of each name, keyed by lower-case name
	names map[string]string
}

// NewHeaders creates headers from a single-valued map
func NewHeaders(init map[string]string) Headers {
	h := Headers{
		values: make(map[string][]string, len(init)),
		names:  make(map[string]string, len(init)),
	}
	for name, value := range init {
		key := strings.ToLower(name)
		h.values[key] = []string{value}
		h.names[key] = name
	}
	return h
}

// HeadersFromHTTP copies a net/http header map into Headers
func HeadersFromHTTP(src http.Header) Headers {
	h := Headers{
		values: make(map[string][]string, len(src)),
		names:  make(map[string]string, len(src)),
	}
	for name, values := range src {
		key := strings.ToLower(name)
		h.values[key] = append([]string(nil), values...)
		h.names[key] = name
	}
	return h
}

// Get returns the first value for name, or "" if absent
func (h Headers) Get(name string) string {
	values := h.values[strings.ToLower(name)]
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// Values returns a copy of every value stored for name
func (h Headers) Values(name string) []string {
	values := h.values[strings.ToLower(name)]
	if len(values) == 0 {
		return nil
	}
	return append([]string(nil), values...)
}

// Has reports whether name is present
func (h Headers) Has(name string) bool {
	_, ok := h.values[strings.ToLower(name)]
	return ok
}

// Keys returns header names in their original spelling, sorted
func (h Headers) Keys() []string {
	keys := make([]string, 0, len(h.names))
	for _, name := range h.names {
		keys = append(keys, name)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of distinct header names
func (h Headers) Len() int {
	return len(h.values)
}

// Set returns a copy with name replaced by the given values
func (h Headers) Set(name string, values ...string) Headers {
	out := h.copy()
	key := strings.ToLower(name)
	out.values[key] = append([]string(nil), values...)
	out.names[key] = name
	return out
}

// Append returns a copy with values added after any existing ones for name
func (h Headers) Append(name string, values ...string) Headers {
	out := h.copy()
	key := strings.ToLower(name)
	out.values[key] = append(out.values[key], values...)
	if _, ok := out.names[key]; !ok {
		out.names[key] = name
	}
	return out
}

// Delete returns a copy without name
func (h Headers) Delete(name string) Headers {
	out := h.copy()
	key := strings.ToLower(name)
	delete(out.values, key)
	delete(out.names, key)
	return out
}

// HTTPHeader converts to a net/http header map
func (h Headers) HTTPHeader() http.Header {
	out := make(http.Header, len(h.values))
	for key, values := range h.values {
		for _, v := range values {
			out.Add(h.names[key], v)
		}
	}
	return out
}

// Equal reports whether both header sets hold the same names and values
func (h Headers) Equal(other Headers) bool {
	if len(h.values) != len(other.values) {
		return false
	}
	for key, values := range h.values {
		otherValues, ok := other.values[key]
		if !ok || len(values) != len(otherValues) {
			return false
		}
		for i := range values {
			if values[i] != otherValues[i] {
				return false
			}
		}
	}
	return true
}

func (h Headers) copy() Headers {
	out := Headers{
		values: make(map[string][]string, len(h.values)+1),
		names:  make(map[string]string, len(h.names)+1),
	}
	for key, values := range h.values {
		out.values[key] = append([]string(nil), values...)
	}
	for key, name := range h.names {
		out.names[key] = name
	}
	return out
}
