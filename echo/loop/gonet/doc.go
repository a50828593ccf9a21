// Package gonet implements the event loop interface with a net.Listener and
// one goroutine per connection. It is the portable backend: the same echo
// contract as the epoll backend, expressed with blocking I/O and deadlines.
//
// The package focuses on:
//   - An accept loop spawning one handler goroutine per connection
//   - Pooled read buffers and read/write deadlines from the idle timeout
//   - Synchronous writes, which enforce the backpressure policy without
//     userspace buffering: the loop does not read ahead of the peer
//   - SO_REUSEADDR on the listener for TIME_WAIT rebinding and the usual
//     TCP options (NODELAY, keep-alive, linger, buffer sizes) on accepted
//     connections
package gonet
