// Package echo contains the echo server and client built on the unified
// event loop abstraction.
//
// The package is organized into several subpackages:
//
//   - common: Configuration structures and logging shared across the
//     application.
//
//   - loop: The event loop contract (IEventLoop, Handler, connection
//     states) and the normative partial-write/backpressure policy, with
//     pluggable backends in loop/epoll (raw epoll, Linux) and loop/gonet
//     (portable net.Listener).
//
//   - server: The echo server wiring a backend to the identity handler,
//     with Prometheus metrics, pprof and graceful shutdown.
//
//   - client: The pooled echo client with round robin endpoint selection
//     and retry, used by the CLI and the benchmark.
package echo
