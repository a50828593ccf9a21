// Package loop defines the event loop abstraction at the heart of echoloop.
// It provides a common contract that all event loop backends fulfill,
// enabling the same echo semantics on top of different I/O models.
//
// The package focuses on:
//   - Defining the IEventLoop interface and the Handler callback type
//   - Specifying the per-connection state machine (connected, closing)
//   - Specifying the single normative partial-write/backpressure policy
//   - Shared building blocks for backends (pending buffer, counters)
//
// Key Components:
//
//   - IEventLoop: Interface for event loop backends. Two implementations
//     exist: loop/epoll (raw epoll on Linux, level- or edge-triggered,
//     SO_REUSEPORT fan-out) and loop/gonet (portable net.Listener with one
//     goroutine per connection).
//
//   - Handler: Callback invoked with each chunk read from a connection;
//     the returned bytes are queued for write to the same connection.
//     EchoHandler is the identity handler used by the echo server.
//
//   - PendingBuffer: Per-connection buffer for output that could not be
//     written yet, with a hard limit that triggers a connection drop
//     instead of unbounded buffering.
//
//   - Counters / Stats: Atomic loop counters and their snapshot form,
//     surfaced by the server as Prometheus metrics.
package loop
