package transport

import "time"

// Defaults for the size and retry knobs named in §4.3.
const (
	DefaultClientMaxMessageBytes = 100 * 1024
	DefaultServerMaxMessageBytes = 250 * 1024

	DefaultQueueCapacity    = 10000
	DefaultQueueFullRetries = 2
	DefaultReceiveTimeout   = 5 * time.Second
	DefaultChunkWaitWindow  = 3 * time.Second

	DefaultSentinelFailoverRetries = 3
)

// Config collects the tunables the Redis Gateway transport reads from
// settings (config.Settings loads these via viper; see package config).
type Config struct {
	// MaximumMessageSizeBytes bounds a single serialized envelope (or, for
	// a server response, a single unchunked envelope). Exceeding it is
	// MessageTooLarge on send, ResponseTooLarge on a response to a client
	// that can't accept chunks.
	MaximumMessageSizeBytes int

	// LogMessagesLargerThanBytes triggers a warning log (not a failure)
	// when a serialized envelope exceeds it.
	LogMessagesLargerThanBytes int

	// ChunkMessagesLargerThanBytes is the threshold above which a server
	// response is split into chunks, for clients that advertised protocol
	// version >= 3.
	ChunkMessagesLargerThanBytes int

	QueueCapacity    int
	QueueFullRetries int

	// ReceiveTimeout bounds a single BLPOP call.
	ReceiveTimeout time.Duration

	// ChunkWaitWindow bounds how long a client assembler waits for the
	// next chunk of a response before giving up with chunk_gap.
	ChunkWaitWindow time.Duration

	// SentinelFailoverRetries is carried with the other tunables but is not
	// read by DialSentinelBackend, which takes its retry bound from
	// SentinelOptions.FailoverRetries.
	SentinelFailoverRetries int

	// ProtocolVersion is the envelope.Version the client transport
	// advertises in the preamble of every request. The server transport
	// answers each request in the version that request carried.
	ProtocolVersion int
}

// ClientDefaults returns the client-side defaults from §4.3.
func ClientDefaults() Config {
	return Config{
		MaximumMessageSizeBytes:      DefaultClientMaxMessageBytes,
		LogMessagesLargerThanBytes:   DefaultClientMaxMessageBytes / 2,
		ChunkMessagesLargerThanBytes: DefaultClientMaxMessageBytes,
		QueueCapacity:                DefaultQueueCapacity,
		QueueFullRetries:             DefaultQueueFullRetries,
		ReceiveTimeout:               DefaultReceiveTimeout,
		ChunkWaitWindow:              DefaultChunkWaitWindow,
		SentinelFailoverRetries:      DefaultSentinelFailoverRetries,
		ProtocolVersion:              3,
	}
}

// ServerDefaults returns the server-side defaults from §4.3.
func ServerDefaults() Config {
	cfg := ClientDefaults()
	cfg.MaximumMessageSizeBytes = DefaultServerMaxMessageBytes
	cfg.LogMessagesLargerThanBytes = DefaultServerMaxMessageBytes / 2
	cfg.ChunkMessagesLargerThanBytes = DefaultServerMaxMessageBytes
	return cfg
}
