// Package cmd implements the command-line interface for echoloop. It
// provides a hierarchical command structure for running the server and
// exercising it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Command for starting and configuring the echo server
//   - client: Commands for exercising a running server (ping, bench)
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// See echoloop -help for a list of all commands.
package cmd
