package toolwire

import (
	"encoding/json"
	"maps"
	"math"
)

// Params is a normalized parameter bag. Values are string, float64, bool, []any or
// map[string]any, the same shapes encoding/json produces.
type Params map[string]any

// String returns the named string value, or "" if absent or not a string.
func (p Params) String(name string) string {
	s, _ := p[name].(string)
	return s
}

// Bool returns the named boolean value, or false.
func (p Params) Bool(name string) bool {
	b, _ := p[name].(bool)
	return b
}

// Float returns the named number, or 0.
func (p Params) Float(name string) float64 {
	f, _ := p[name].(float64)
	return f
}

// Int returns the named number truncated toward zero, or 0.
func (p Params) Int(name string) int {
	return int(math.Trunc(p.Float(name)))
}

// Has reports whether the named value is present.
func (p Params) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Strings returns the named array's string elements.
func (p Params) Strings(name string) []string {
	items, _ := p[name].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Records returns the named array's object elements.
func (p Params) Records(name string) []Params {
	items, _ := p[name].([]any)
	out := make([]Params, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Params(m))
		}
	}
	return out
}

// Decode copies the bag into v (typically a pointer to an argument struct) through JSON.
func (p Params) Decode(v any) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// clone returns a deep copy so a ValidatedCall cannot be changed through the caller's bag.
func (p Params) clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	case map[string]any:
		out := maps.Clone(v)
		for k, item := range out {
			out[k] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}
