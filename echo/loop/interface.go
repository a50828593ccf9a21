package loop

import (
	"context"
	"net"

	"github.com/ValentinKolb/echoloop/echo/common"
)

// --------------------------------------------------------------------------
// Handler
// --------------------------------------------------------------------------

// Handler is called by an event loop with every chunk of bytes read from a
// connection. The returned bytes are queued for write to the same connection.
//
// The input slice is only valid for the duration of the call: it may alias
// the loop's read buffer and is reused for the next read. A handler that
// retains data must copy it. Returning the input slice unchanged is safe,
// the loop copies any bytes it cannot write out immediately.
type Handler func(in []byte) (out []byte)

// EchoHandler is the identity handler: every received chunk is written back
// unchanged. This is the handler the echo server installs.
func EchoHandler(in []byte) []byte { return in }

// --------------------------------------------------------------------------
// Connection states
// --------------------------------------------------------------------------

// ConnState is the lifecycle state of an accepted connection. The listening
// socket itself is not modeled as a ConnState, it only ever accepts.
type ConnState int32

const (
	// StateConnected is the normal duplex state: the loop reads from the
	// connection and echoes output back.
	StateConnected ConnState = iota

	// StateClosing is entered when the peer half-closes (zero-byte read).
	// The loop stops reading, flushes all pending output and then closes
	// the socket. This guarantees that every byte received before the
	// client closed is written back, in order, before the server side ends.
	StateClosing
)

// String returns a human-readable name for the state
func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// --------------------------------------------------------------------------
// Event loop interface
// --------------------------------------------------------------------------

// IEventLoop is the contract all event loop backends fulfill. It replaces
// the usual zoo of hand-written select/poll/epoll accept-read-echo loops
// with one abstraction and one backpressure policy.
//
// The policy, honored by every backend:
//
//  1. Output is written immediately; on a short or would-block write the
//     remainder is buffered per connection.
//  2. While output is pending, the loop flushes it before (or instead of)
//     reading more input.
//  3. When pending output exceeds the configured high watermark the loop
//     stops reading from that connection until it drains below the low
//     watermark.
//  4. A connection whose pending output would exceed MaxPendingBytes is
//     dropped. The loop never buffers unboundedly and never silently
//     discards a prefix of the stream.
//  5. On peer half-close the connection enters StateClosing: pending output
//     is flushed, then the socket is closed.
type IEventLoop interface {
	// Serve binds the configured endpoint and runs the loop until Shutdown
	// is called or a fatal listener error occurs. Listener setup errors are
	// fatal and returned; per-connection errors are logged and the loop
	// continues.
	Serve(config common.ServerConfig, handler Handler) error

	// Addr returns the actual bound address. This is the resolved address
	// when the endpoint was specified with port 0. Returns nil before Serve
	// has bound the listener.
	Addr() net.Addr

	// Shutdown stops accepting, closes all connections and waits for the
	// loop goroutines to finish or the context to expire.
	Shutdown(ctx context.Context) error

	// Stats returns a snapshot of the loop counters.
	Stats() Stats
}
