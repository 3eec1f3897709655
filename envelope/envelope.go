// Package envelope implements the wire framing layer between the raw body
// serialization in package serializer and the Redis Gateway transport.
//
// A frame is either bare serialized bytes (protocol version 1, content type
// known by prior agreement) or an ASCII preamble followed by the serialized
// bytes:
//
//	actionrpc-redis/<v>//header:value;[header:value;]*<body bytes>
//
// Version 2 preambles carry only content-type; version 3 additionally
// carries chunk-count/chunk-id for server responses that exceed the
// configured chunking threshold. Requests are never chunked.
//
// This plays the role the teacher's package protocol played (a fixed 14-byte
// binary header in front of a body), generalized to a textual, versioned,
// variable-header preamble because the Redis Gateway frames entire list
// values rather than a byte stream that needs explicit length-prefixing.
package envelope

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"actionrpc/message"
	"actionrpc/serializer"
)

// Version identifies which preamble features apply.
type Version int

const (
	Version1 Version = 1 // no preamble; content type from prior agreement
	Version2 Version = 2 // preamble with content-type
	Version3 Version = 3 // preamble with content-type, chunk-count, chunk-id
)

const preamblePrefix = "actionrpc-redis/"

var preambleRe = regexp.MustCompile(`^actionrpc-redis/([0-9]+)//((?:[a-z-]+:[^;]*;)*)`)

// Frame is a decoded wire frame: its protocol version, any headers carried
// in the preamble, and the serialized envelope bytes (or, for a chunked
// response, one chunk of them).
type Frame struct {
	Version     Version
	ContentType serializer.ContentType
	ChunkCount  int // 0 means "not chunked"
	ChunkID     int // 1-based; valid only when ChunkCount > 0
	Payload     []byte
}

// InvalidMessage is raised by the envelope codec on malformed wire data.
type InvalidMessage struct {
	Reason string
}

func (e *InvalidMessage) Error() string { return fmt.Sprintf("invalid message: %s", e.Reason) }

// EncodeFrame renders a Frame as wire bytes. Version 1 frames never carry a
// preamble; version 2/3 frames always do, even when unchunked, so the
// receiver can tell version 1 and 2+ apart by the presence of the prefix.
func EncodeFrame(f Frame) []byte {
	if f.Version <= Version1 {
		return f.Payload
	}

	var b strings.Builder
	b.WriteString(preamblePrefix)
	b.WriteString(strconv.Itoa(int(f.Version)))
	b.WriteString("//")
	if f.ContentType != "" {
		b.WriteString("content-type:")
		b.WriteString(string(f.ContentType))
		b.WriteByte(';')
	}
	if f.Version >= Version3 && f.ChunkCount > 0 {
		b.WriteString("chunk-count:")
		b.WriteString(strconv.Itoa(f.ChunkCount))
		b.WriteByte(';')
		b.WriteString("chunk-id:")
		b.WriteString(strconv.Itoa(f.ChunkID))
		b.WriteByte(';')
	}
	out := make([]byte, 0, b.Len()+len(f.Payload))
	out = append(out, []byte(b.String())...)
	out = append(out, f.Payload...)
	return out
}

// DecodeFrame parses wire bytes into a Frame. Absence of the preamble is
// treated as version 1; defaultContentType supplies the content type that
// prior agreement establishes for version 1 frames.
func DecodeFrame(data []byte, defaultContentType serializer.ContentType) (Frame, error) {
	match := preambleRe.FindSubmatchIndex(data)
	if match == nil {
		return Frame{Version: Version1, ContentType: defaultContentType, Payload: data}, nil
	}

	versionStr := string(data[match[2]:match[3]])
	headerBlock := string(data[match[4]:match[5]])
	payload := data[match[1]:]

	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return Frame{}, &InvalidMessage{Reason: "unparseable protocol version"}
	}

	f := Frame{Version: Version(version), ContentType: defaultContentType, Payload: payload}
	for _, pair := range strings.Split(headerBlock, ";") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, ":", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "content-type":
			f.ContentType = serializer.ContentType(kv[1])
		case "chunk-count":
			if f.Version < Version3 {
				continue // unknown header at this version: ignored per §4.2
			}
			n, err := strconv.Atoi(kv[1])
			if err != nil {
				return Frame{}, &InvalidMessage{Reason: "invalid chunk-count"}
			}
			f.ChunkCount = n
		case "chunk-id":
			if f.Version < Version3 {
				continue
			}
			n, err := strconv.Atoi(kv[1])
			if err != nil {
				return Frame{}, &InvalidMessage{Reason: "invalid chunk-id"}
			}
			f.ChunkID = n
		default:
			// Unknown header names are ignored, per §4.2.
		}
	}
	return f, nil
}

// Envelope is the decoded payload: {body, meta, request_id}.
type Envelope struct {
	RequestID int
	Meta      Meta
	// Exactly one of JobRequest/JobResponse is set, depending on direction.
	JobRequest  *message.JobRequest
	JobResponse *message.JobResponse
}

// Meta carries the out-of-band routing fields alongside the body.
type Meta struct {
	ReplyTo string // set on requests, absent (empty) on responses
	Expiry  int64  // absolute unix seconds; __expiry__ on the wire
}

// EncodeRequest serializes a JobRequest envelope into a body ready for frame
// wrapping.
func EncodeRequest(s serializer.Serializer, requestID int, meta Meta, jr *message.JobRequest) ([]byte, error) {
	body, err := jobRequestToMap(jr)
	if err != nil {
		return nil, err
	}
	top := map[string]any{
		"request_id": int64(requestID),
		"meta":       metaToMap(meta, true),
		"body":       body,
	}
	return s.Encode(top)
}

// EncodeResponse serializes a JobResponse envelope. Responses never carry
// reply_to in their meta.
func EncodeResponse(s serializer.Serializer, requestID int, meta Meta, jr *message.JobResponse) ([]byte, error) {
	body := jobResponseToMap(jr)
	top := map[string]any{
		"request_id": int64(requestID),
		"meta":       metaToMap(meta, false),
		"body":       body,
	}
	return s.Encode(top)
}

// DecodeRequest deserializes bytes produced by EncodeRequest.
func DecodeRequest(s serializer.Serializer, data []byte) (*Envelope, error) {
	top, err := s.Decode(data)
	if err != nil {
		return nil, err
	}
	requestID, meta, bodyMap, err := splitEnvelope(top)
	if err != nil {
		return nil, err
	}
	jr, err := mapToJobRequest(bodyMap)
	if err != nil {
		return nil, err
	}
	return &Envelope{RequestID: requestID, Meta: meta, JobRequest: jr}, nil
}

// DecodeResponse deserializes bytes produced by EncodeResponse.
func DecodeResponse(s serializer.Serializer, data []byte) (*Envelope, error) {
	top, err := s.Decode(data)
	if err != nil {
		return nil, err
	}
	requestID, meta, bodyMap, err := splitEnvelope(top)
	if err != nil {
		return nil, err
	}
	jr := mapToJobResponse(bodyMap)
	return &Envelope{RequestID: requestID, Meta: meta, JobResponse: jr}, nil
}

func splitEnvelope(top map[string]any) (int, Meta, map[string]any, error) {
	requestID, err := toInt(top["request_id"])
	if err != nil {
		return 0, Meta{}, nil, &InvalidMessage{Reason: "missing or invalid request_id"}
	}
	metaMap, _ := top["meta"].(map[string]any)
	meta := Meta{}
	if metaMap != nil {
		if replyTo, ok := metaMap["reply_to"].(string); ok {
			meta.ReplyTo = replyTo
		}
		if expiry, err := toInt(metaMap["__expiry__"]); err == nil {
			meta.Expiry = int64(expiry)
		}
	}
	bodyMap, _ := top["body"].(map[string]any)
	if bodyMap == nil {
		return 0, Meta{}, nil, &InvalidMessage{Reason: "missing body"}
	}
	return requestID, meta, bodyMap, nil
}

func metaToMap(meta Meta, includeReplyTo bool) map[string]any {
	m := map[string]any{"__expiry__": meta.Expiry}
	if includeReplyTo && meta.ReplyTo != "" {
		m["reply_to"] = meta.ReplyTo
	}
	return m
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("not a number: %T", v)
	}
}
