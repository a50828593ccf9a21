package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Shared socket configuration structs
// --------------------------------------------------------------------------

// SocketConf holds kernel socket buffer settings shared by client and server
type SocketConf struct {
	// ReadBufferSize is the SO_RCVBUF size in bytes (0 = kernel default)
	ReadBufferSize int
	// WriteBufferSize is the SO_SNDBUF size in bytes (0 = kernel default)
	WriteBufferSize int
}

// TCPConf holds TCP specific settings shared by client and server
type TCPConf struct {
	// TCPNoDelay disables Nagle's algorithm if true
	TCPNoDelay bool
	// TCPKeepAliveSec is the keep-alive period in seconds (0 = disabled)
	TCPKeepAliveSec int
	// TCPLingerSec is the SO_LINGER timeout in seconds (negative = disabled)
	TCPLingerSec int
}

// --------------------------------------------------------------------------
// Event loop configuration struct
// --------------------------------------------------------------------------

// Supported event loop backends
const (
	BackendEpoll = "epoll"
	BackendGoNet = "gonet"
)

// Supported epoll trigger modes
const (
	TriggerLevel = "lt"
	TriggerEdge  = "et"
)

// LoopConf holds the configuration of the event loop core
type LoopConf struct {
	// Backend selects the event loop implementation (epoll, gonet)
	Backend string
	// TriggerMode selects the epoll notification mode (lt, et).
	// Ignored by the gonet backend.
	TriggerMode string
	// Loops is the number of listener loops. Values above 1 bind the same
	// address multiple times via SO_REUSEPORT so the kernel distributes
	// incoming connections across the loops. Ignored by the gonet backend.
	Loops int
	// MaxPendingBytes is the hard cap for unsent output buffered per
	// connection. A connection that would exceed it is dropped.
	MaxPendingBytes int
	// HighWatermark is the pending-output size above which the loop stops
	// reading from a connection
	HighWatermark int
	// LowWatermark is the pending-output size below which a paused
	// connection becomes readable again
	LowWatermark int
}

// --------------------------------------------------------------------------
// Server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for the echo server
type ServerConfig struct {
	// Endpoint is the TCP address to listen on (e.g. "0.0.0.0:7777" or ":0")
	Endpoint string

	// TimeoutSecond is the per-connection idle timeout in seconds (0 = none)
	TimeoutSecond int64

	// MetricsEndpoint is the HTTP address serving /metrics and /debug/pprof.
	// Empty string disables the endpoint.
	MetricsEndpoint string

	// Loop configuration
	Loop LoopConf

	// Socket settings
	Socket SocketConf
	TCP    TCPConf

	// Logging configuration
	LogLevel string
}

// Validate checks the configuration for invalid or inconsistent values
func (c *ServerConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}

	switch c.Loop.Backend {
	case BackendEpoll, BackendGoNet:
	default:
		return fmt.Errorf("invalid backend %q (expected one of: %s, %s)", c.Loop.Backend, BackendEpoll, BackendGoNet)
	}

	switch c.Loop.TriggerMode {
	case TriggerLevel, TriggerEdge:
	default:
		return fmt.Errorf("invalid trigger mode %q (expected one of: %s, %s)", c.Loop.TriggerMode, TriggerLevel, TriggerEdge)
	}

	if c.Loop.Loops < 1 {
		return fmt.Errorf("loops must be at least 1, got %d", c.Loop.Loops)
	}

	if c.Loop.MaxPendingBytes <= 0 {
		return fmt.Errorf("max-pending-bytes must be positive, got %d", c.Loop.MaxPendingBytes)
	}

	if c.Loop.HighWatermark <= 0 || c.Loop.HighWatermark > c.Loop.MaxPendingBytes {
		return fmt.Errorf("high-watermark must be in (0, %d], got %d", c.Loop.MaxPendingBytes, c.Loop.HighWatermark)
	}

	if c.Loop.LowWatermark < 0 || c.Loop.LowWatermark >= c.Loop.HighWatermark {
		return fmt.Errorf("low-watermark must be in [0, %d), got %d", c.Loop.HighWatermark, c.Loop.LowWatermark)
	}

	if err := validateLogLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// String returns a formatted string representation of the configuration
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	// Listener settings
	addSection("Echo Server")
	addField("Endpoint", c.Endpoint)
	addField("Idle Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	if c.MetricsEndpoint != "" {
		addField("Metrics Endpoint", c.MetricsEndpoint)
	} else {
		addField("Metrics Endpoint", "disabled")
	}

	// Event loop
	addSection("Event Loop")
	addField("Backend", c.Loop.Backend)
	if c.Loop.Backend == BackendEpoll {
		addField("Trigger Mode", c.Loop.TriggerMode)
		addField("Listener Loops", strconv.Itoa(c.Loop.Loops))
	}
	addField("Max Pending", fmt.Sprintf("%d bytes", c.Loop.MaxPendingBytes))
	addField("High Watermark", fmt.Sprintf("%d bytes", c.Loop.HighWatermark))
	addField("Low Watermark", fmt.Sprintf("%d bytes", c.Loop.LowWatermark))

	// Socket settings
	addSection("Socket")
	addField("Read Buffer", fmt.Sprintf("%d bytes", c.Socket.ReadBufferSize))
	addField("Write Buffer", fmt.Sprintf("%d bytes", c.Socket.WriteBufferSize))
	addField("TCP NoDelay", fmt.Sprintf("%t", c.TCP.TCPNoDelay))
	addField("TCP KeepAlive", fmt.Sprintf("%d sec", c.TCP.TCPKeepAliveSec))
	addField("TCP Linger", fmt.Sprintf("%d sec", c.TCP.TCPLingerSec))

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

// --------------------------------------------------------------------------
// Client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds all configuration parameters for the echo client
type ClientConfig struct {
	// Endpoints is the list of server addresses to connect to
	Endpoints []string
	// ConnectionsPerEndpoint is the number of parallel connections per endpoint
	ConnectionsPerEndpoint int
	// TimeoutSecond is the per-request timeout in seconds (0 = none)
	TimeoutSecond int
	// RetryCount is the number of attempts per request
	RetryCount int

	// Socket settings
	Socket SocketConf
	TCP    TCPConf
}

// Validate checks the client configuration for invalid values
func (c *ClientConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("at least one endpoint is required")
	}
	for _, ep := range c.Endpoints {
		if strings.TrimSpace(ep) == "" {
			return fmt.Errorf("empty endpoint in endpoint list")
		}
	}
	if c.ConnectionsPerEndpoint < 1 {
		return fmt.Errorf("connections per endpoint must be at least 1, got %d", c.ConnectionsPerEndpoint)
	}
	if c.RetryCount < 1 {
		return fmt.Errorf("retry count must be at least 1, got %d", c.RetryCount)
	}
	return nil
}

// String returns a formatted string representation of the client configuration
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))
	addField("Connections Per Endpoint", strconv.Itoa(c.ConnectionsPerEndpoint))

	addSection("Endpoints")
	for i, endpoint := range c.Endpoints {
		addField(strconv.Itoa(i), endpoint)
	}

	return sb.String()
}
