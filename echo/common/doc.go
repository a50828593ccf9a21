// Package common provides core data structures and utilities shared across
// the echo server and client. It defines configuration structures and the
// logging setup used by the other packages.
//
// The package focuses on:
//   - Configuration structures for the server, the event loop core and the client
//   - Validation of configuration values before any socket is opened
//   - Custom leveled logging with named per-package loggers
//
// Key Components:
//
//   - ServerConfig: Comprehensive configuration for the echo server, including
//     the listen endpoint, event loop backend selection, trigger mode,
//     backpressure watermarks, socket options and the metrics endpoint.
//     Provides a human-readable String() rendering for startup logs.
//
//   - LoopConf: Configuration of the event loop core. Selects the backend
//     (epoll or gonet), the epoll trigger mode (level- or edge-triggered),
//     the number of SO_REUSEPORT listener loops and the backpressure policy
//     parameters (high/low watermark, max pending bytes).
//
//   - ClientConfig: Configuration for the echo client, controlling endpoints,
//     connection counts, timeouts and retry behavior.
//
//   - Logger: Custom logging implementation providing consistent
//     "LEVEL | package | message" formatting across the application.
package common
