// Package epoll implements the event loop interface on top of raw epoll.
// It is the Linux-only, single-thread-per-loop backend and supports both
// level-triggered and edge-triggered notification.
//
// The package focuses on:
//   - One goroutine per listener loop, each with its own listening socket,
//     epoll instance and connection table (no locks on the hot path)
//   - SO_REUSEPORT fan-out: multiple loops bind the same address and the
//     kernel distributes incoming connections across them
//   - Edge-triggered discipline: accept until EAGAIN, read until EAGAIN,
//     arm EPOLLOUT only after a would-block write
//   - The shared backpressure policy: pending output buffered per
//     connection, reads paused above the high watermark, connections
//     dropped instead of buffering past the hard limit
//   - Half-close handling: a zero-byte read moves the connection to the
//     closing state, pending output is flushed, then the socket closes
//
// A wake pipe is registered in every epoll set so Shutdown can interrupt a
// blocked epoll_wait; idle connections are swept when an idle timeout is
// configured.
package epoll
