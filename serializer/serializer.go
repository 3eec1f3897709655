// Package serializer implements the body encodings for actionrpc messages:
// a self-describing binary packed format (preferred) and a textual format,
// each capable of round-tripping a nested map of primitives plus a small set
// of extension types (datetime, date, time, decimal, currency amount, and
// raw bytes).
//
// Both implementations satisfy the same Serializer interface so the
// envelope layer and the transports never need to know which one is in use
// beyond the content type recorded in the wire preamble.
package serializer

import "fmt"

// ContentType identifies a serializer's wire format, advertised in the
// envelope preamble's content-type header.
type ContentType string

const (
	ContentTypeBinary ContentType = "application/vnd.actionrpc.packed"
	ContentTypeText   ContentType = "application/vnd.actionrpc.text+json"
)

// Serializer encodes and decodes a message body (a map of string keys to
// primitives, nested maps/lists, or one of the extension types in this
// package).
type Serializer interface {
	Encode(body map[string]any) ([]byte, error)
	Decode(data []byte) (map[string]any, error)
	ContentType() ContentType
}

// SerializationFailure wraps any error encountered while encoding a body.
type SerializationFailure struct {
	Cause error
}

func (e *SerializationFailure) Error() string { return fmt.Sprintf("serialization failure: %v", e.Cause) }
func (e *SerializationFailure) Unwrap() error  { return e.Cause }

// DeserializationFailure wraps any error encountered while decoding bytes.
type DeserializationFailure struct {
	Cause error
}

func (e *DeserializationFailure) Error() string {
	return fmt.Sprintf("deserialization failure: %v", e.Cause)
}
func (e *DeserializationFailure) Unwrap() error { return e.Cause }

// registry of known serializers by content type, populated by the files in
// this package (binary.go, text.go). Mirrors the teacher's GetCodec factory.
var registry = map[ContentType]func() Serializer{}

func register(ct ContentType, factory func() Serializer) {
	registry[ct] = factory
}

// Get returns a new Serializer instance for the given content type. An
// unknown content type is treated as the binary packed default, matching
// the envelope rule that absence of a preamble implies a prior agreement.
func Get(ct ContentType) Serializer {
	if factory, ok := registry[ct]; ok {
		return factory()
	}
	return NewBinary()
}

// Default is the preferred serializer when no content type has been
// negotiated: the binary packed encoding.
func Default() Serializer { return NewBinary() }
