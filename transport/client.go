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

// ClientTransport implements the client-side half of §4.3: enqueue a
// request onto a service's ingress list, and BLPOP the matching reply-to
// list for the response, reassembling chunks when the server used them.
type ClientTransport struct {
	backend    Backend
	serializer serializer.Serializer
	cfg        Config
	log        *zap.Logger
}

// NewClientTransport builds a client transport bound to backend, encoding
// request bodies with s and honoring cfg's size/retry/timeout knobs.
func NewClientTransport(backend Backend, s serializer.Serializer, cfg Config, log *zap.Logger) *ClientTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &ClientTransport{backend: backend, serializer: s, cfg: cfg, log: log}
}

// Send frames and enqueues a JobRequest onto the service's ingress list.
// It implements the queue-capacity backoff-and-retry loop and the
// too-large check from §4.3's "Send (client → server)" steps 1-3.
func (t *ClientTransport) Send(ctx context.Context, service string, requestID int, meta envelope.Meta, jr *message.JobRequest) error {
	body, err := envelope.EncodeRequest(t.serializer, requestID, meta, jr)
	if err != nil {
		return err
	}
	frame := envelope.EncodeFrame(envelope.Frame{
		Version:     envelope.Version(t.cfg.ProtocolVersion),
		ContentType: t.serializer.ContentType(),
		Payload:     body,
	})

	if len(frame) > t.cfg.MaximumMessageSizeBytes {
		return &MessageTooLarge{SizeBytes: len(frame), LimitBytes: t.cfg.MaximumMessageSizeBytes}
	}
	if len(frame) > t.cfg.LogMessagesLargerThanBytes {
		t.log.Warn("outgoing request exceeds size warning threshold",
			zap.String("service", service), zap.Int("bytes", len(frame)))
	}

	ingress := IngressKey(service)
	for attempt := 0; ; attempt++ {
		n, err := t.backend.Reader().LLen(ctx, ingress).Result()
		if err != nil {
			return &MessageSendFailure{Reason: "io", Cause: err}
		}
		if int(n) < t.cfg.QueueCapacity {
			break
		}
		if attempt >= t.cfg.QueueFullRetries {
			return &MessageSendFailure{Reason: "queue_full"}
		}
		select {
		case <-ctx.Done():
			return &MessageSendFailure{Reason: "io", Cause: ctx.Err()}
		case <-time.After(backoffFor(attempt + 1)):
		}
	}

	pipe := t.backend.Writer().TxPipeline()
	pipe.RPush(ctx, ingress, frame)
	pipe.Expire(ctx, ingress, expiryTTL(meta.Expiry))
	if _, err := pipe.Exec(ctx); err != nil {
		return &MessageSendFailure{Reason: "io", Cause: err}
	}
	return nil
}

// Receive BLPOPs the reply-to key until a response arrives, the context is
// canceled, or timeout elapses, reassembling chunks per §4.2/§4.3.
func (t *ClientTransport) Receive(ctx context.Context, replyTo string, timeout time.Duration) (*envelope.Envelope, error) {
	first, err := t.blpopFrame(ctx, replyTo, timeout)
	if err != nil {
		return nil, err
	}
	if first.ChunkCount <= 1 {
		return envelope.DecodeResponse(t.serializer, first.Payload)
	}

	asm := envelope.NewAssembler(first.ChunkCount)
	if err := asm.Append(first.ChunkCount, first.ChunkID, first.Payload); err != nil {
		return nil, err
	}
	for !asm.Done() {
		if asm.Expired(t.cfg.ChunkWaitWindow) {
			return nil, &envelope.MessageReceiveFailure{Reason: "chunk_gap"}
		}
		next, err := t.blpopFrame(ctx, replyTo, t.cfg.ChunkWaitWindow)
		if err != nil {
			if _, ok := err.(*MessageReceiveTimeout); ok {
				// A BLPOP timeout mid-assembly means the next chunk never
				// arrived within ChunkWaitWindow: the whole response is
				// discarded as a gap, not surfaced as an ordinary timeout
				// (§4.2/§4.3), since a partial response is unusable either way.
				return nil, &envelope.MessageReceiveFailure{Reason: "chunk_gap"}
			}
			return nil, err
		}
		if err := asm.Append(next.ChunkCount, next.ChunkID, next.Payload); err != nil {
			return nil, err
		}
	}
	return envelope.DecodeResponse(t.serializer, asm.Bytes())
}

func (t *ClientTransport) blpopFrame(ctx context.Context, key string, timeout time.Duration) (envelope.Frame, error) {
	res, err := t.backend.Writer().BLPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return envelope.Frame{}, &MessageReceiveTimeout{}
	}
	if err != nil {
		return envelope.Frame{}, &MessageSendFailure{Reason: "io", Cause: err}
	}
	// BLPOP returns [key, value]; res[0] is the key name.
	return envelope.DecodeFrame([]byte(res[1]), t.serializer.ContentType())
}

// expiryTTL turns an absolute unix-seconds expiry into a duration no
// shorter than one second, so a crashed consumer cannot leak an
// indefinitely-lived queue.
func expiryTTL(expiryUnix int64) time.Duration {
	d := time.Until(time.Unix(expiryUnix, 0))
	if d < time.Second {
		return time.Second
	}
	return d
}
