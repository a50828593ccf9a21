package loop

import (
	"errors"
)

// ErrPendingOverflow is returned by PendingBuffer.Append when buffering the
// additional bytes would exceed the configured limit. The caller is expected
// to drop the connection: truncating the buffer instead would silently
// discard part of the stream and break the echo ordering guarantee.
var ErrPendingOverflow = errors.New("pending output buffer limit exceeded")

// PendingBuffer accumulates output bytes that could not be written to a
// connection yet. It is owned by a single loop goroutine and therefore
// not synchronized.
type PendingBuffer struct {
	buf []byte
	max int
}

// NewPendingBuffer creates a pending buffer with the given hard limit.
// A limit <= 0 means unlimited (only used in tests).
func NewPendingBuffer(max int) *PendingBuffer {
	return &PendingBuffer{max: max}
}

// Append copies p into the buffer. Returns ErrPendingOverflow (leaving the
// buffer unchanged) if the result would exceed the limit.
func (b *PendingBuffer) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if b.max > 0 && len(b.buf)+len(p) > b.max {
		return ErrPendingOverflow
	}
	b.buf = append(b.buf, p...)
	return nil
}

// Consume discards the first n buffered bytes after a successful write.
// The remaining bytes are shifted to the front so Bytes() always returns
// the unsent output in order.
func (b *PendingBuffer) Consume(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.buf) {
		b.buf = b.buf[:0]
		return
	}
	remaining := copy(b.buf, b.buf[n:])
	b.buf = b.buf[:remaining]
}

// Len returns the number of buffered bytes
func (b *PendingBuffer) Len() int {
	return len(b.buf)
}

// Bytes returns the buffered bytes in write order. The slice is only valid
// until the next Append or Consume.
func (b *PendingBuffer) Bytes() []byte {
	return b.buf
}

// Reset discards all buffered bytes but keeps the allocation
func (b *PendingBuffer) Reset() {
	b.buf = b.buf[:0]
}
