// Package server wires an event loop backend to the identity echo handler
// and the operational surface of the process.
//
// The package focuses on:
//   - Backend selection (epoll on Linux, gonet everywhere)
//   - Exposing the loop counters as Prometheus metrics together with the
//     pprof handlers on a dedicated HTTP endpoint
//   - Graceful shutdown of the loop and the metrics endpoint
//
// Key Components:
//
//   - EchoServer: Validates the configuration, creates the backend and runs
//     it with loop.EchoHandler. Serve blocks; Shutdown stops everything
//     within a context deadline.
package server
