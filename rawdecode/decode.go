// Package rawdecode normalizes the opaque gateway payload stored on a
// payment record into a JSON tree. Payloads arrive either already decoded or
// as strings that may carry log prefixes or be cut short.
package rawdecode

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Decode returns the payload as a JSON object, or nil when no object can be
// recovered. It never panics and never returns an error: an unreadable
// payload is an ordinary outcome.
func Decode(raw any) map[string]any {
	switch t := raw.(type) {
	case nil:
		return nil
	case map[string]any:
		return t
	case json.RawMessage:
		return decodeText(string(t))
	case []byte:
		return decodeText(string(t))
	case string:
		return decodeText(t)
	default:
		return nil
	}
}

func decodeText(s string) map[string]any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if obj, ok := strict(s); ok {
		return obj
	}
	i := strings.IndexByte(s, '{')
	if i < 0 {
		return nil
	}
	if obj, ok := strict(s[i:]); ok {
		return obj
	}
	return nil
}

func strict(s string) (map[string]any, bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, false
	}
	// trailing garbage after the object is rejected like a strict parse would
	if dec.More() {
		return nil, false
	}
	if _, err := dec.Token(); err == nil {
		return nil, false
	}
	obj, ok := out.(map[string]any)
	return obj, ok
}

// Encode serializes a tree back to compact JSON text. Used for best-effort
// substring scans over structures that failed to parse.
func Encode(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}

// Lookup walks tree by map keys (string) and slice indexes (int). It returns
// nil as soon as a step does not match the shape.
func Lookup(tree any, path ...any) any {
	cur := tree
	for _, step := range path {
		switch key := step.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return nil
			}
			cur = m[key]
		case int:
			arr, ok := cur.([]any)
			if !ok || key < 0 || key >= len(arr) {
				return nil
			}
			cur = arr[key]
		default:
			return nil
		}
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Object is Lookup narrowed to a JSON object.
func Object(tree any, path ...any) map[string]any {
	m, _ := Lookup(tree, path...).(map[string]any)
	return m
}

// Array is Lookup narrowed to a JSON array.
func Array(tree any, path ...any) []any {
	a, _ := Lookup(tree, path...).([]any)
	return a
}
