package transport

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"actionrpc/envelope"
	"actionrpc/message"
	"actionrpc/serializer"
)

// NoMessage is the sentinel ReceiveRequest returns (as the envelope, with a
// nil error) when BLPOP timed out with nothing queued — "no message" in
// §4.3's receive description, distinct from an error.
var NoMessage = &envelope.Envelope{}

// ServerTransport implements the server-side half of §4.3: BLPOP a
// service's ingress list for requests, and RPUSH (optionally chunked)
// responses onto the reply-to key the request's meta named.
type ServerTransport struct {
	backend    Backend
	serializer serializer.Serializer
	cfg        Config
	log        *zap.Logger

	expiredCount uint64 // metric: envelopes discarded for having already expired
}

// NewServerTransport builds a server transport bound to backend, decoding
// request bodies with s and honoring cfg's size/chunk/timeout knobs.
func NewServerTransport(backend Backend, s serializer.Serializer, cfg Config, log *zap.Logger) *ServerTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &ServerTransport{backend: backend, serializer: s, cfg: cfg, log: log}
}

// ExpiredCount reports how many incoming envelopes have been discarded for
// arriving past their __expiry__.
func (t *ServerTransport) ExpiredCount() uint64 { return t.expiredCount }

// ReceiveRequest BLPOPs the service's ingress list. It returns NoMessage
// (no error) if the timeout elapsed with nothing queued, and silently
// discards (looping to the next BLPOP) any envelope whose __expiry__ has
// already passed.
func (t *ServerTransport) ReceiveRequest(ctx context.Context, service string) (*envelope.Envelope, envelope.Version, error) {
	ingress := IngressKey(service)
	for {
		res, err := t.backend.Writer().BLPop(ctx, t.cfg.ReceiveTimeout, ingress).Result()
		if err == redis.Nil {
			return NoMessage, 0, nil
		}
		if err != nil {
			return nil, 0, &MessageSendFailure{Reason: "io", Cause: err}
		}

		raw := []byte(res[1])
		frame, err := envelope.DecodeFrame(raw, t.serializer.ContentType())
		if err != nil {
			return nil, 0, err
		}
		env, err := envelope.DecodeRequest(t.serializer, frame.Payload)
		if err != nil {
			return nil, 0, err
		}
		if env.Meta.Expiry > 0 && env.Meta.Expiry < time.Now().Unix() {
			t.expiredCount++
			continue
		}
		return env, frame.Version, nil
	}
}

// SendResponse frames and enqueues a JobResponse onto replyTo. When the
// serialized response exceeds ChunkMessagesLargerThanBytes and the
// requesting client's clientVersion advertised protocol version >= 3, the
// response is split into chunks; otherwise a response that exceeds
// MaximumMessageSizeBytes is rejected with ResponseTooLarge and never
// enqueued, per §4.3's "Send (server → client)" rule.
func (t *ServerTransport) SendResponse(ctx context.Context, replyTo string, requestID int, meta envelope.Meta, clientVersion envelope.Version, jr *message.JobResponse) error {
	body, err := envelope.EncodeResponse(t.serializer, requestID, meta, jr)
	if err != nil {
		return err
	}

	if len(body) > t.cfg.ChunkMessagesLargerThanBytes && clientVersion >= envelope.Version3 {
		return t.sendChunked(ctx, replyTo, meta, body)
	}

	frame := envelope.EncodeFrame(envelope.Frame{
		Version:     clientVersion,
		ContentType: t.serializer.ContentType(),
		Payload:     body,
	})
	if len(frame) > t.cfg.MaximumMessageSizeBytes {
		return &ResponseTooLarge{SizeBytes: len(frame), LimitBytes: t.cfg.MaximumMessageSizeBytes}
	}
	if len(frame) > t.cfg.LogMessagesLargerThanBytes {
		t.log.Warn("outgoing response exceeds size warning threshold",
			zap.String("reply_to", replyTo), zap.Int("bytes", len(frame)))
	}
	return t.enqueue(ctx, replyTo, meta, frame)
}

func (t *ServerTransport) sendChunked(ctx context.Context, replyTo string, meta envelope.Meta, body []byte) error {
	chunkSize := t.cfg.ChunkMessagesLargerThanBytes
	if chunkSize <= 0 {
		chunkSize = DefaultServerMaxMessageBytes
	}
	chunkCount := (len(body) + chunkSize - 1) / chunkSize

	for i := 0; i < chunkCount; i++ {
		start, end := i*chunkSize, min((i+1)*chunkSize, len(body))
		frame := envelope.EncodeFrame(envelope.Frame{
			Version:     envelope.Version3,
			ContentType: t.serializer.ContentType(),
			ChunkCount:  chunkCount,
			ChunkID:     i + 1,
			Payload:     body[start:end],
		})
		if err := t.enqueue(ctx, replyTo, meta, frame); err != nil {
			return err
		}
	}
	return nil
}

func (t *ServerTransport) enqueue(ctx context.Context, key string, meta envelope.Meta, frame []byte) error {
	pipe := t.backend.Writer().TxPipeline()
	pipe.RPush(ctx, key, frame)
	pipe.Expire(ctx, key, expiryTTL(meta.Expiry))
	_, err := pipe.Exec(ctx)
	if err != nil {
		return &MessageSendFailure{Reason: "io", Cause: err}
	}
	return nil
}
