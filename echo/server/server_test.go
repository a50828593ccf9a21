package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/echoloop/echo/common"
)

// testConfig returns a portable server configuration bound to an ephemeral
// port (the gonet backend runs on every platform the tests run on)
func testConfig() common.ServerConfig {
	return common.ServerConfig{
		Endpoint: "127.0.0.1:0",
		Loop: common.LoopConf{
			Backend:         common.BackendGoNet,
			TriggerMode:     common.TriggerLevel,
			Loops:           1,
			MaxPendingBytes: 8 * 1024 * 1024,
			HighWatermark:   1024 * 1024,
			LowWatermark:    64 * 1024,
		},
		TCP:      common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		LogLevel: "error",
	}
}

// startServer serves in the background and returns the bound address
func startServer(t *testing.T, s *EchoServer) net.Addr {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve()
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-errCh:
			t.Fatalf("server failed to start: %v", err)
		default:
		}
		if addr := s.Addr(); addr != nil {
			t.Cleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := s.Shutdown(ctx); err != nil {
					t.Errorf("shutdown failed: %v", err)
				}
			})
			return addr
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("server did not bind within 5s")
	return nil
}

func TestServerEchoesBytes(t *testing.T) {
	s, err := NewEchoServer(testConfig())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	addr := startServer(t, s)

	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	defer conn.Close()

	payload := []byte("hello echoloop")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	resp := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}

	if !bytes.Equal(payload, resp) {
		t.Errorf("echo mismatch: sent %q, received %q", payload, resp)
	}

	stats := s.Stats()
	if stats.ConnsAccepted != 1 {
		t.Errorf("expected 1 accepted connection, got %d", stats.ConnsAccepted)
	}
}

func TestNewEchoServerValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*common.ServerConfig)
	}{
		{
			name:   "empty endpoint",
			mutate: func(c *common.ServerConfig) { c.Endpoint = "" },
		},
		{
			name:   "unknown backend",
			mutate: func(c *common.ServerConfig) { c.Loop.Backend = "kqueue" },
		},
		{
			name:   "unknown trigger mode",
			mutate: func(c *common.ServerConfig) { c.Loop.TriggerMode = "both" },
		},
		{
			name:   "zero loops",
			mutate: func(c *common.ServerConfig) { c.Loop.Loops = 0 },
		},
		{
			name: "watermarks inverted",
			mutate: func(c *common.ServerConfig) {
				c.Loop.HighWatermark = 100
				c.Loop.LowWatermark = 200
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			tt.mutate(&config)
			if _, err := NewEchoServer(config); err == nil {
				t.Error("expected a configuration error")
			}
		})
	}
}

func TestMetricsEndpointServesCounters(t *testing.T) {
	config := testConfig()
	config.MetricsEndpoint = "127.0.0.1:0"

	s, err := NewEchoServer(config)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	addr := startServer(t, s)

	// Produce some traffic so the counters are non-zero
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	payload := []byte("count me")
	if _, err := conn.Write(payload); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	resp := make([]byte, len(payload))
	if _, err := io.ReadFull(conn, resp); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	conn.Close()

	// Exercise the handler directly, the listening socket is not needed
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	s.metrics.srv.Handler.ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	body := rec.Body.String()
	for _, metric := range []string{
		"echoloop_connections_accepted_total 1",
		"echoloop_bytes_read_total 8",
		"echoloop_bytes_written_total 8",
	} {
		if !strings.Contains(body, metric) {
			t.Errorf("metrics output is missing %q", metric)
		}
	}
}

func TestShutdownUnblocksServe(t *testing.T) {
	s, err := NewEchoServer(testConfig())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve()
	}()

	deadline := time.Now().Add(5 * time.Second)
	for s.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("serve returned an error after shutdown: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("serve did not return after shutdown")
	}
}
