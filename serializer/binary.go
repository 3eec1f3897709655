package serializer

import (
	"github.com/vmihailenco/msgpack/v5"
)

func init() {
	register(ContentTypeBinary, func() Serializer { return &BinarySerializer{} })
}

// BinarySerializer is the preferred, self-describing binary packed
// encoding (msgpack). It preserves string keys, nested maps/lists, 64-bit
// signed integers, IEEE-754 doubles, booleans, null, and the extension
// types in this package without any whitespace-stripping of string values —
// msgpack strings are length-prefixed, not delimited, so there is nothing to
// strip.
//
// This replaces the teacher's BinaryCodec, which packed a fixed RPCMessage
// struct by hand; here the body is an open map, so we lean on msgpack's own
// generic map/ext support instead of hand-rolled offsets.
type BinarySerializer struct{}

func NewBinary() *BinarySerializer { return &BinarySerializer{} }

func (s *BinarySerializer) Encode(body map[string]any) ([]byte, error) {
	data, err := msgpack.Marshal(body)
	if err != nil {
		return nil, &SerializationFailure{Cause: err}
	}
	return data, nil
}

func (s *BinarySerializer) Decode(data []byte) (map[string]any, error) {
	var body map[string]any
	if err := msgpack.Unmarshal(data, &body); err != nil {
		return nil, &DeserializationFailure{Cause: err}
	}
	return convertExtensions(body).(map[string]any), nil
}

func (s *BinarySerializer) ContentType() ContentType { return ContentTypeBinary }
