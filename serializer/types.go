package serializer

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

// DateTime wraps time.Time, always normalized to UTC at microsecond
// precision per §4.1. It implements both the msgpack custom codec hooks and
// json.Marshaler/Unmarshaler so the same Go value round-trips identically
// through either Serializer implementation.
type DateTime struct {
	time.Time
}

// NewDateTime truncates t to microsecond precision in UTC.
func NewDateTime(t time.Time) DateTime {
	return DateTime{t.UTC().Truncate(time.Microsecond)}
}

func (d DateTime) EncodeMsgpack(enc *msgpack.Encoder) error {
	return encodeExtension(enc, "datetime", d.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano))
}

func (d *DateTime) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := decodeExtensionValue(dec, "datetime")
	if err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return err
	}
	*d = NewDateTime(t)
	return nil
}

func (d DateTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(taggedValue{Type: "datetime", Value: d.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)})
}

func (d *DateTime) UnmarshalJSON(data []byte) error {
	var tv taggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return err
	}
	raw, ok := tv.Value.(string)
	if !ok || tv.Type != "datetime" {
		return fmt.Errorf("invalid datetime encoding")
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return err
	}
	*d = NewDateTime(t)
	return nil
}

// Date is a pure calendar date with no time-of-day or zone component.
type Date struct {
	Year  int
	Month int
	Day   int
}

func (d Date) iso() string { return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day) }

func (d Date) EncodeMsgpack(enc *msgpack.Encoder) error {
	return encodeExtension(enc, "date", d.iso())
}

func (d *Date) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := decodeExtensionValue(dec, "date")
	if err != nil {
		return err
	}
	return d.parse(raw)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(taggedValue{Type: "date", Value: d.iso()})
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var tv taggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return err
	}
	raw, ok := tv.Value.(string)
	if !ok || tv.Type != "date" {
		return fmt.Errorf("invalid date encoding")
	}
	return d.parse(raw)
}

func (d *Date) parse(raw string) error {
	var y, m, day int
	if _, err := fmt.Sscanf(raw, "%04d-%02d-%02d", &y, &m, &day); err != nil {
		return err
	}
	d.Year, d.Month, d.Day = y, m, day
	return nil
}

// ClockTime is a pure time-of-day with microsecond precision and no date or
// zone component.
type ClockTime struct {
	Hour        int
	Minute      int
	Second      int
	Microsecond int
}

func (t ClockTime) iso() string {
	return fmt.Sprintf("%02d:%02d:%02d.%06d", t.Hour, t.Minute, t.Second, t.Microsecond)
}

func (t ClockTime) EncodeMsgpack(enc *msgpack.Encoder) error {
	return encodeExtension(enc, "time", t.iso())
}

func (t *ClockTime) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := decodeExtensionValue(dec, "time")
	if err != nil {
		return err
	}
	return t.parse(raw)
}

func (t ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(taggedValue{Type: "time", Value: t.iso()})
}

func (t *ClockTime) UnmarshalJSON(data []byte) error {
	var tv taggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return err
	}
	raw, ok := tv.Value.(string)
	if !ok || tv.Type != "time" {
		return fmt.Errorf("invalid time encoding")
	}
	return t.parse(raw)
}

func (t *ClockTime) parse(raw string) error {
	var h, m, s, us int
	if _, err := fmt.Sscanf(raw, "%02d:%02d:%02d.%06d", &h, &m, &s, &us); err != nil {
		return err
	}
	t.Hour, t.Minute, t.Second, t.Microsecond = h, m, s, us
	return nil
}

// Decimal is an arbitrary-precision, string-backed decimal number.
type Decimal struct {
	decimal.Decimal
}

func NewDecimal(d decimal.Decimal) Decimal { return Decimal{d} }

func (d Decimal) EncodeMsgpack(enc *msgpack.Encoder) error {
	return encodeExtension(enc, "decimal", d.Decimal.String())
}

func (d *Decimal) DecodeMsgpack(dec *msgpack.Decoder) error {
	raw, err := decodeExtensionValue(dec, "decimal")
	if err != nil {
		return err
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return err
	}
	d.Decimal = parsed
	return nil
}

func (d Decimal) MarshalJSON() ([]byte, error) {
	return json.Marshal(taggedValue{Type: "decimal", Value: d.Decimal.String()})
}

func (d *Decimal) UnmarshalJSON(data []byte) error {
	var tv taggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return err
	}
	raw, ok := tv.Value.(string)
	if !ok || tv.Type != "decimal" {
		return fmt.Errorf("invalid decimal encoding")
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return err
	}
	d.Decimal = parsed
	return nil
}

// Bytes is raw binary data. msgpack has a native bin type that round-trips
// through map[string]any as []byte without help, but JSON has no binary
// type — encoding/json already base64-encodes a bare []byte, and decoding
// into map[string]any would hand that back as an opaque string with no way
// to tell it apart from a regular string field. Tagging it the same way as
// the other extension types removes that ambiguity for the textual
// serializer, and costs nothing on the binary side.
type Bytes []byte

func (b Bytes) EncodeMsgpack(enc *msgpack.Encoder) error {
	return encodeExtension(enc, "bytes", []byte(b))
}

func (b *Bytes) DecodeMsgpack(dec *msgpack.Decoder) error {
	var raw []byte
	if err := decodeExtensionInto(dec, "bytes", &raw); err != nil {
		return err
	}
	*b = raw
	return nil
}

func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(taggedValue{Type: "bytes", Value: []byte(b)})
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var tv struct {
		Type  string `json:"_type"`
		Value []byte `json:"value"`
	}
	if err := json.Unmarshal(data, &tv); err != nil {
		return err
	}
	if tv.Type != "bytes" {
		return fmt.Errorf("invalid bytes encoding")
	}
	*b = tv.Value
	return nil
}

// CurrencyAmount is a fixed-precision money value: an ISO 4217-style
// currency code plus an integer count of minor units (cents, pence, ...).
// No third-party money library appears anywhere in the retrieved example
// pack, so this stays a plain struct rather than reaching for one — see
// DESIGN.md.
type CurrencyAmount struct {
	Code       string
	MinorUnits int64
}

type currencyWire struct {
	Code       string `msgpack:"code" json:"code"`
	MinorUnits int64  `msgpack:"minor_units" json:"minor_units"`
}

func (c CurrencyAmount) EncodeMsgpack(enc *msgpack.Encoder) error {
	return encodeExtension(enc, "currency", currencyWire{c.Code, c.MinorUnits})
}

func (c *CurrencyAmount) DecodeMsgpack(dec *msgpack.Decoder) error {
	var wire currencyWire
	if err := decodeExtensionInto(dec, "currency", &wire); err != nil {
		return err
	}
	c.Code, c.MinorUnits = wire.Code, wire.MinorUnits
	return nil
}

func (c CurrencyAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(taggedValue{Type: "currency", Value: currencyWire{c.Code, c.MinorUnits}})
}

func (c *CurrencyAmount) UnmarshalJSON(data []byte) error {
	var tv struct {
		Type  string       `json:"_type"`
		Value currencyWire `json:"value"`
	}
	if err := json.Unmarshal(data, &tv); err != nil {
		return err
	}
	if tv.Type != "currency" {
		return fmt.Errorf("invalid currency encoding")
	}
	c.Code, c.MinorUnits = tv.Value.Code, tv.Value.MinorUnits
	return nil
}

// taggedValue is the self-describing envelope used by the textual
// serializer (and mirrored, structurally, by the binary one) for every
// extension type: {"_type": "<kind>", "value": <payload>}.
type taggedValue struct {
	Type  string `json:"_type"`
	Value any    `json:"value"`
}

func encodeExtension(enc *msgpack.Encoder, kind string, value any) error {
	if err := enc.EncodeMapLen(2); err != nil {
		return err
	}
	if err := enc.EncodeString("_type"); err != nil {
		return err
	}
	if err := enc.EncodeString(kind); err != nil {
		return err
	}
	if err := enc.EncodeString("value"); err != nil {
		return err
	}
	return enc.Encode(value)
}

func decodeExtensionValue(dec *msgpack.Decoder, wantKind string) (string, error) {
	var raw string
	if err := decodeExtensionInto(dec, wantKind, &raw); err != nil {
		return "", err
	}
	return raw, nil
}

func decodeExtensionInto(dec *msgpack.Decoder, wantKind string, out any) error {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return err
	}
	var kind string
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return err
		}
		switch key {
		case "_type":
			if kind, err = dec.DecodeString(); err != nil {
				return err
			}
		case "value":
			if err := dec.Decode(out); err != nil {
				return err
			}
		default:
			if err := dec.Skip(); err != nil {
				return err
			}
		}
	}
	if kind != wantKind {
		return fmt.Errorf("expected extension kind %q, got %q", wantKind, kind)
	}
	return nil
}
