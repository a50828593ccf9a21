package client

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/echoloop/echo/common"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("client")

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// clientConnection represents a single net connection. An echo exchange
// (write payload, read it back) owns the connection exclusively, so the
// stream cannot interleave bytes of two requests.
type clientConnection struct {
	conn     net.Conn
	endpoint string
	mu       sync.Mutex
	parent   *EchoClient
}

// EchoClient talks to one or more echo servers over a pool of connections,
// distributing requests round robin and retrying failed exchanges with
// exponential backoff.
type EchoClient struct {
	config        common.ClientConfig
	connections   []*clientConnection
	connectionsMu sync.RWMutex
	nextConnIndex uint64 // Atomic counter for Round Robin
}

// -----------------------------------------------------------
// Factory Method
// -----------------------------------------------------------

// New creates a client and establishes the configured connections. It fails
// only if no endpoint is reachable at all; partially established pools are
// usable and log a warning per missing connection.
func New(config common.ClientConfig) (*EchoClient, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	c := &EchoClient{config: config}

	for _, endpoint := range config.Endpoints {
		for i := 0; i < config.ConnectionsPerEndpoint; i++ {
			clientConn := &clientConnection{
				endpoint: endpoint,
				parent:   c,
			}

			if err := clientConn.reconnect(); err != nil {
				Logger.Warningf("failed to connect to %s (connection %d/%d): %v",
					endpoint, i+1, config.ConnectionsPerEndpoint, err)
				continue
			}

			c.connections = append(c.connections, clientConn)
		}
	}

	if len(c.connections) == 0 {
		return nil, fmt.Errorf("failed to connect to any endpoint")
	}

	Logger.Infof("connected to %d out of %d connections to %d endpoints",
		len(c.connections), len(config.Endpoints)*config.ConnectionsPerEndpoint, len(config.Endpoints))

	return c, nil
}

// --------------------------------------------------------------------------
// Public Methods
// --------------------------------------------------------------------------

// Echo writes the payload and reads the same number of bytes back. The echo
// contract fixes the response length, so no framing is needed on the wire.
func (c *EchoClient) Echo(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("payload must not be empty")
	}

	exchange := func(connection *clientConnection) ([]byte, error) {
		connection.mu.Lock()
		defer connection.mu.Unlock()

		if connection.conn == nil {
			return nil, fmt.Errorf("connection is closed")
		}

		timeout := time.Duration(c.config.TimeoutSecond) * time.Second
		if timeout > 0 {
			if err := connection.conn.SetDeadline(time.Now().Add(timeout)); err != nil {
				return nil, fmt.Errorf("failed to set deadline: %v", err)
			}
		}

		if _, err := connection.conn.Write(payload); err != nil {
			return nil, fmt.Errorf("failed to write payload: %v", err)
		}

		resp := make([]byte, len(payload))
		if _, err := io.ReadFull(connection.conn, resp); err != nil {
			return nil, fmt.Errorf("failed to read echo: %v", err)
		}

		return resp, nil
	}

	// Retry logic with exponential backoff
	var lastErr error
	backoffMs := 50

	for i := 0; i < c.config.RetryCount; i++ {
		connection := c.getNextConnection()
		if connection == nil {
			return nil, fmt.Errorf("no active connections available")
		}

		resp, err := exchange(connection)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// A failed exchange leaves the stream in an unknown state, the
		// connection must be re-established before reuse
		if rerr := connection.reconnect(); rerr != nil {
			Logger.Warningf("failed to reconnect to %s: %v", connection.endpoint, rerr)
		}

		if i < c.config.RetryCount-1 {
			time.Sleep(time.Duration(backoffMs) * time.Millisecond)
			backoffMs *= 2
		}
	}

	return nil, fmt.Errorf("echo failed after %d attempts: %v", c.config.RetryCount, lastErr)
}

// Verify sends the payload and checks that exactly the same bytes come back
func (c *EchoClient) Verify(payload []byte) error {
	resp, err := c.Echo(payload)
	if err != nil {
		return err
	}
	if !bytes.Equal(payload, resp) {
		return fmt.Errorf("echo mismatch: sent %d bytes, received %d different bytes", len(payload), len(resp))
	}
	return nil
}

// Close closes all connections
func (c *EchoClient) Close() error {
	c.connectionsMu.Lock()
	defer c.connectionsMu.Unlock()

	for _, connection := range c.connections {
		connection.mu.Lock()
		if connection.conn != nil {
			connection.conn.Close()
			connection.conn = nil
		}
		connection.mu.Unlock()
	}

	c.connections = nil
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// getNextConnection returns the next connection in Round Robin order
func (c *EchoClient) getNextConnection() *clientConnection {
	c.connectionsMu.RLock()
	defer c.connectionsMu.RUnlock()

	if len(c.connections) == 0 {
		return nil
	}

	// Simple Round Robin algorithm
	var index uint64
	if len(c.connections) == 1 {
		// optimize for single connection
		index = 0
	} else {
		index = atomic.AddUint64(&c.nextConnIndex, 1) % uint64(len(c.connections))
	}
	return c.connections[index]
}

// reconnect establishes or restores a connection to the endpoint
func (cc *clientConnection) reconnect() error {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	// Close the old connection if it exists
	if cc.conn != nil {
		cc.conn.Close()
		cc.conn = nil
	}

	conn, err := net.Dial("tcp", cc.endpoint)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %v", cc.endpoint, err)
	}

	if err := upgradeConnection(conn, cc.parent.config); err != nil {
		conn.Close()
		return fmt.Errorf("failed to upgrade connection to %s: %v", cc.endpoint, err)
	}

	cc.conn = conn
	return nil
}

// upgradeConnection applies the configured socket and TCP options to an
// established connection
func upgradeConnection(conn net.Conn, config common.ClientConfig) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}

	if err := tcpConn.SetNoDelay(config.TCP.TCPNoDelay); err != nil {
		return err
	}

	if config.Socket.WriteBufferSize > 0 {
		if err := tcpConn.SetWriteBuffer(config.Socket.WriteBufferSize); err != nil {
			return err
		}
	}

	if config.Socket.ReadBufferSize > 0 {
		if err := tcpConn.SetReadBuffer(config.Socket.ReadBufferSize); err != nil {
			return err
		}
	}

	if config.TCP.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(config.TCP.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}

	return nil
}
