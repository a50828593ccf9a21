// Package client implements the echo client used by the CLI commands and
// the benchmark.
//
// The package focuses on:
//   - A connection pool spanning multiple endpoints with a configurable
//     number of connections per endpoint, selected round robin
//   - Exclusive use of a connection per echo exchange, keeping the
//     unframed byte stream unambiguous
//   - Retry with exponential backoff and reconnection after failed
//     exchanges
//
// Key Components:
//
//   - EchoClient: The pooled client. Echo writes a payload and reads the
//     same number of bytes back; Verify additionally compares the contents.
package client
