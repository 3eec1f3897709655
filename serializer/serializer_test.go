package serializer

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"
)

func samplePrimitiveBody() map[string]any {
	return map[string]any{
		"name":    "arith",
		"count":   int64(42),
		"ratio":   3.5,
		"ok":      true,
		"missing": nil,
		"nested": map[string]any{
			"list": []any{int64(1), int64(2), int64(3)},
		},
	}
}

func TestBinarySerializerRoundTripsPrimitives(t *testing.T) {
	s := NewBinary()
	data, err := s.Encode(samplePrimitiveBody())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := s.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded["name"] != "arith" {
		t.Errorf("expect name=arith, got %v", decoded["name"])
	}
	if decoded["count"] != int64(42) {
		t.Errorf("expect count=42 (int64), got %v (%T)", decoded["count"], decoded["count"])
	}
	if decoded["ok"] != true {
		t.Errorf("expect ok=true, got %v", decoded["ok"])
	}
}

func TestTextSerializerPreservesInt64(t *testing.T) {
	s := NewText()
	data, err := s.Encode(map[string]any{"big": int64(9223372036854775807)})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := s.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded["big"] != int64(9223372036854775807) {
		t.Fatalf("expect exact int64 round trip, got %v (%T)", decoded["big"], decoded["big"])
	}
}

func TestTextSerializerDoesNotTrimStrings(t *testing.T) {
	s := NewText()
	data, err := s.Encode(map[string]any{"text": "  padded with spaces  "})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := s.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decoded["text"] != "  padded with spaces  " {
		t.Fatalf("whitespace must not be stripped, got %q", decoded["text"])
	}
}

func TestExtensionTypesRoundTripThroughBothSerializers(t *testing.T) {
	dt := NewDateTime(time.Date(2026, 7, 31, 12, 30, 0, 123000, time.UTC))
	dec := NewDecimal(decimal.RequireFromString("19.995"))
	date := Date{Year: 2026, Month: 7, Day: 31}
	clock := ClockTime{Hour: 8, Minute: 5, Second: 1, Microsecond: 250}
	money := CurrencyAmount{Code: "USD", MinorUnits: 1999}
	raw := Bytes("hello")

	body := map[string]any{
		"when":  dt,
		"price": dec,
		"day":   date,
		"at":    clock,
		"cost":  money,
		"raw":   raw,
	}

	for _, s := range []Serializer{NewBinary(), NewText()} {
		data, err := s.Encode(body)
		if err != nil {
			t.Fatalf("%s Encode failed: %v", s.ContentType(), err)
		}
		decoded, err := s.Decode(data)
		if err != nil {
			t.Fatalf("%s Decode failed: %v", s.ContentType(), err)
		}

		gotDT, ok := decoded["when"].(DateTime)
		if !ok || !gotDT.Equal(dt.Time) {
			t.Errorf("%s: expect datetime %v, got %#v", s.ContentType(), dt, decoded["when"])
		}
		gotDec, ok := decoded["price"].(Decimal)
		if !ok || !gotDec.Equal(dec.Decimal) {
			t.Errorf("%s: expect decimal %v, got %#v", s.ContentType(), dec, decoded["price"])
		}
		gotDate, ok := decoded["day"].(Date)
		if !ok || gotDate != date {
			t.Errorf("%s: expect date %v, got %#v", s.ContentType(), date, decoded["day"])
		}
		gotClock, ok := decoded["at"].(ClockTime)
		if !ok || gotClock != clock {
			t.Errorf("%s: expect time %v, got %#v", s.ContentType(), clock, decoded["at"])
		}
		gotMoney, ok := decoded["cost"].(CurrencyAmount)
		if !ok || gotMoney != money {
			t.Errorf("%s: expect currency %v, got %#v", s.ContentType(), money, decoded["cost"])
		}
		gotRaw, ok := decoded["raw"].(Bytes)
		if !ok || string(gotRaw) != string(raw) {
			t.Errorf("%s: expect bytes %v, got %#v", s.ContentType(), raw, decoded["raw"])
		}
	}
}

// typedPayload exercises the extension types' msgpack CustomEncoder/Decoder
// hooks directly (as opposed to through the generic map decode path in
// Decode, which instead goes through convertExtensions). A handler author
// decoding a known sub-shape straight into a typed struct relies on this.
type typedPayload struct {
	When  DateTime `msgpack:"when"`
	Price Decimal  `msgpack:"price"`
}

func TestExtensionTypesRoundTripAsTypedMsgpackFields(t *testing.T) {
	original := typedPayload{
		When:  NewDateTime(time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)),
		Price: NewDecimal(decimal.RequireFromString("100.50")),
	}

	data, err := msgpack.Marshal(&original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded typedPayload
	if err := msgpack.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if !decoded.When.Equal(original.When.Time) {
		t.Errorf("expect when=%v, got %v", original.When, decoded.When)
	}
	if !decoded.Price.Equal(original.Price.Decimal) {
		t.Errorf("expect price=%v, got %v", original.Price, decoded.Price)
	}
}

func TestGetFallsBackToBinaryForUnknownContentType(t *testing.T) {
	s := Get(ContentType("application/unknown"))
	if s.ContentType() != ContentTypeBinary {
		t.Fatalf("expect fallback to binary, got %v", s.ContentType())
	}
}
