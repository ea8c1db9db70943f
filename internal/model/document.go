package model

import (
	"encoding/json"
	"strconv"
)

// IDField is the primary key of every document.
const IDField = "_id"

// Document is a schemaless record as stored in the document store.
// Values are JSON-compatible: string, bool, float64/int64, []any, map[string]any.
type Document map[string]any

// ID returns the document's primary key.
func (d Document) ID() string {
	return d.String(IDField)
}

// String returns field as a string, or "" when absent or not a string.
func (d Document) String(field string) string {
	if s, ok := d[field].(string); ok {
		return s
	}
	return ""
}

// Number returns field as a float64 for any numeric representation.
func (d Document) Number(field string) (float64, bool) {
	return toFloat(d[field])
}

// IDs returns field as a list of string ids (back-reference arrays).
func (d Document) IDs(field string) []string {
	switch v := d[field].(type) {
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
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

// Clone returns a deep copy, so snapshots are not aliased with store state.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return cloneValue(map[string]any(d)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case Document:
		return Document(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return v
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// ToFloat converts any numeric value to float64.
func ToFloat(v any) (float64, bool) {
	return toFloat(v)
}
