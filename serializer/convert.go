package serializer

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// convertExtensions walks a value tree produced by a generic map/slice
// decode (msgpack.Unmarshal or the JSON decoder in text.go, both landing on
// map[string]any/[]any/primitives) and promotes any {"_type": ..., "value":
// ...} tagged map into the corresponding Go extension type from this
// package. Both serializers produce the same tag shape for their extension
// values, so this single pass serves both Decode implementations.
func convertExtensions(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = convertExtensions(val)
		}
		if len(t) == 2 {
			if kind, ok := t["_type"].(string); ok {
				if converted, ok := convertTagged(kind, t["value"]); ok {
					return converted
				}
			}
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = convertExtensions(val)
		}
		return t
	default:
		return v
	}
}

func convertTagged(kind string, value any) (any, bool) {
	switch kind {
	case "datetime":
		raw, ok := value.(string)
		if !ok {
			return nil, false
		}
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, false
		}
		return NewDateTime(t), true
	case "date":
		raw, ok := value.(string)
		if !ok {
			return nil, false
		}
		var d Date
		if err := d.parse(raw); err != nil {
			return nil, false
		}
		return d, true
	case "time":
		raw, ok := value.(string)
		if !ok {
			return nil, false
		}
		var ct ClockTime
		if err := ct.parse(raw); err != nil {
			return nil, false
		}
		return ct, true
	case "decimal":
		raw, ok := value.(string)
		if !ok {
			return nil, false
		}
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, false
		}
		return NewDecimal(d), true
	case "bytes":
		switch raw := value.(type) {
		case []byte:
			return Bytes(raw), true
		case string:
			// The JSON serializer base64-encodes a []byte Value field; the
			// binary serializer hands back the raw bytes directly above.
			decoded, err := base64.StdEncoding.DecodeString(raw)
			if err != nil {
				return nil, false
			}
			return Bytes(decoded), true
		default:
			return nil, false
		}
	case "currency":
		m, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		code, _ := m["code"].(string)
		units, err := toInt64(m["minor_units"])
		if err != nil {
			return nil, false
		}
		return CurrencyAmount{Code: code, MinorUnits: units}, true
	default:
		return nil, false
	}
}

// toInt64 accepts any of the numeric types a generic msgpack/JSON decode may
// produce for an integer field and normalizes it to int64.
func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int8:
		return int64(n), nil
	case int16:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	case uint:
		return int64(n), nil
	case uint8:
		return int64(n), nil
	case uint16:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case float32:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}
