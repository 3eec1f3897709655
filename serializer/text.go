package serializer

import (
	"bytes"
	"encoding/json"
)

func init() {
	register(ContentTypeText, func() Serializer { return &TextSerializer{} })
}

// TextSerializer is the textual, human-readable encoding (JSON). Extension
// types self-describe via a {"_type": "...", "value": ...} tag, matching the
// shape the binary serializer uses for its ext values, so a reader inspecting
// either wire format recognizes the same convention.
//
// encoding/json decodes all numbers as float64 by default, which would
// silently lose precision on large 64-bit integers. Decode therefore runs
// with json.Number enabled and converts each number back to int64 when it
// parses as one, falling back to float64 otherwise — this is what preserves
// invariant 4 in §8 for integer fields round-tripped through JSON.
type TextSerializer struct{}

func NewText() *TextSerializer { return &TextSerializer{} }

func (s *TextSerializer) Encode(body map[string]any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &SerializationFailure{Cause: err}
	}
	return data, nil
}

func (s *TextSerializer) Decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, &DeserializationFailure{Cause: err}
	}
	normalized := normalizeNumbers(raw)
	return convertExtensions(normalized).(map[string]any), nil
}

func (s *TextSerializer) ContentType() ContentType { return ContentTypeText }

// normalizeNumbers walks a decoded JSON value and replaces json.Number with
// int64 (when the literal has no fractional or exponent part) or float64.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}
