package profile

import (
	"encoding/json"
	"strings"
)

// Record is a professional profile as returned by the backend. Every field is
// optional; a freshly registered user typically has little more than a
// username.
type Record map[string]any

// Decode parses a JSON object into a Record. A JSON null decodes to a nil
// Record without error.
func Decode(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}

// String returns the first value among keys that is a non-blank string.
func (r Record) String(keys ...string) string {
	for _, k := range keys {
		if s, ok := r[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// List returns the value at key if it is a JSON array, nil otherwise.
func (r Record) List(key string) []any {
	if l, ok := r[key].([]any); ok {
		return l
	}
	return nil
}

// Username returns the public routing key, or "" when unset.
func (r Record) Username() string {
	return r.String("username")
}

// SelectedTemplate returns the persisted template preference, or "".
func (r Record) SelectedTemplate() string {
	return strings.TrimSpace(r.String("selectedTemplate"))
}

// Text returns v as a label when it is a non-blank string, or the first
// non-blank string among keys when v is an object.
func Text(v any, keys ...string) (string, bool) {
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) != "" {
			return val, true
		}
	case map[string]any:
		if s := Record(val).String(keys...); s != "" {
			return s, true
		}
	}
	return "", false
}
