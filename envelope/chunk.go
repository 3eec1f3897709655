package envelope

import (
	"bytes"
	"fmt"
	"time"
)

// MessageReceiveFailure is raised when a chunked response cannot be
// reassembled — most commonly a chunk gap (§4.2, §4.3, invariant 7 of §8).
type MessageReceiveFailure struct {
	Reason string
}

func (e *MessageReceiveFailure) Error() string { return fmt.Sprintf("message receive failure: %s", e.Reason) }

// Assembler reassembles a chunked response received as a sequence of Frames
// sharing one reply-to key. Chunks must arrive in order starting at
// chunk-id 1; chunk-count must stay constant across the sequence. A missing
// or out-of-order chunk is a hard failure — the client never silently
// reassembles a reordered response (§5, invariant 7).
type Assembler struct {
	wantCount int
	nextID    int
	buf       bytes.Buffer
	lastChunk time.Time
}

// NewAssembler begins assembling a chunked response whose first chunk
// advertised chunkCount total chunks. lastChunk starts at the assembler's
// creation time so Expired can be checked even before the first Append.
func NewAssembler(chunkCount int) *Assembler {
	return &Assembler{wantCount: chunkCount, nextID: 1, lastChunk: time.Now()}
}

// Done reports whether every expected chunk has been appended.
func (a *Assembler) Done() bool { return a.nextID > a.wantCount }

// Bytes returns the reassembled payload once Done reports true.
func (a *Assembler) Bytes() []byte { return a.buf.Bytes() }

// Append validates and appends one chunk. chunkCount must match the value
// the assembler was created with, and chunkID must equal the next expected
// id (1-based, monotonic).
func (a *Assembler) Append(chunkCount, chunkID int, payload []byte) error {
	if chunkCount != a.wantCount {
		return &MessageReceiveFailure{Reason: "chunk_gap"}
	}
	if chunkID != a.nextID {
		return &MessageReceiveFailure{Reason: "chunk_gap"}
	}
	a.buf.Write(payload)
	a.nextID++
	a.lastChunk = time.Now()
	return nil
}

// Expired reports whether longer than window has passed since the last
// chunk was appended (or since creation, if none has) — the discard rule
// for a stalled chunked response (§4.2).
func (a *Assembler) Expired(window time.Duration) bool {
	return time.Since(a.lastChunk) > window
}
