//go:build linux

package epoll

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/echoloop/echo/common"
	"github.com/ValentinKolb/echoloop/echo/loop"
	"golang.org/x/sys/unix"
)

// triggerModes are the notification modes every test property must hold for
var triggerModes = []string{common.TriggerLevel, common.TriggerEdge}

// testConfig returns a server configuration bound to an ephemeral port
func testConfig(triggerMode string) common.ServerConfig {
	return common.ServerConfig{
		Endpoint: "127.0.0.1:0",
		Loop: common.LoopConf{
			Backend:         common.BackendEpoll,
			TriggerMode:     triggerMode,
			Loops:           1,
			MaxPendingBytes: 8 * 1024 * 1024,
			HighWatermark:   1024 * 1024,
			LowWatermark:    64 * 1024,
		},
		TCP:      common.TCPConf{TCPNoDelay: true, TCPLingerSec: -1},
		LogLevel: "error",
	}
}

// startLoop serves the handler in the background and returns the bound
// address. The loop is shut down when the test finishes.
func startLoop(t *testing.T, el loop.IEventLoop, config common.ServerConfig, handler loop.Handler) net.Addr {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- el.Serve(config, handler)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-errCh:
			t.Fatalf("loop failed to start: %v", err)
		default:
		}
		if addr := el.Addr(); addr != nil {
			t.Cleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := el.Shutdown(ctx); err != nil {
					t.Errorf("shutdown failed: %v", err)
				}
			})
			return addr
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatal("loop did not bind within 5s")
	return nil
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatalf("failed to dial %s: %v", addr, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// --------------------------------------------------------------------------
// Tests
// --------------------------------------------------------------------------

func TestEchoRoundTrip(t *testing.T) {
	for _, mode := range triggerModes {
		t.Run(mode, func(t *testing.T) {
			el := NewEventLoop()
			addr := startLoop(t, el, testConfig(mode), loop.EchoHandler)

			conn := dial(t, addr)
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
		})
	}
}

func TestEchoPreservesOrderAcrossChunks(t *testing.T) {
	for _, mode := range triggerModes {
		t.Run(mode, func(t *testing.T) {
			el := NewEventLoop()
			addr := startLoop(t, el, testConfig(mode), loop.EchoHandler)

			conn := dial(t, addr)

			var sent bytes.Buffer
			for i := 0; i < 100; i++ {
				chunk := []byte(fmt.Sprintf("chunk-%03d;", i))
				sent.Write(chunk)
				if _, err := conn.Write(chunk); err != nil {
					t.Fatalf("write %d failed: %v", i, err)
				}
			}

			resp := make([]byte, sent.Len())
			if _, err := io.ReadFull(conn, resp); err != nil {
				t.Fatalf("read failed: %v", err)
			}

			if !bytes.Equal(sent.Bytes(), resp) {
				t.Errorf("echo reordered or corrupted the stream")
			}
		})
	}
}

// TestHalfCloseFlushesAllBytes verifies the core echo property: every byte
// sent before the client closes its side comes back, in order, before the
// server closes. The payload is large enough to exercise the pending buffer
// and the EPOLLOUT flush path.
func TestHalfCloseFlushesAllBytes(t *testing.T) {
	for _, mode := range triggerModes {
		t.Run(mode, func(t *testing.T) {
			config := testConfig(mode)
			// Small watermarks so the transfer crosses them
			config.Loop.HighWatermark = 256 * 1024
			config.Loop.LowWatermark = 32 * 1024

			el := NewEventLoop()
			addr := startLoop(t, el, config, loop.EchoHandler)

			conn := dial(t, addr)
			tcpConn := conn.(*net.TCPConn)

			payload := make([]byte, 4*1024*1024)
			if _, err := rand.Read(payload); err != nil {
				t.Fatalf("failed to create payload: %v", err)
			}

			// Read concurrently so the transfer cannot deadlock on full
			// kernel buffers in either direction
			type readResult struct {
				data []byte
				err  error
			}
			resultCh := make(chan readResult, 1)
			go func() {
				data, err := io.ReadAll(conn)
				resultCh <- readResult{data, err}
			}()

			if _, err := conn.Write(payload); err != nil {
				t.Fatalf("write failed: %v", err)
			}
			if err := tcpConn.CloseWrite(); err != nil {
				t.Fatalf("half-close failed: %v", err)
			}

			select {
			case result := <-resultCh:
				if result.err != nil {
					t.Fatalf("read failed: %v", result.err)
				}
				if !bytes.Equal(payload, result.data) {
					t.Errorf("expected %d echoed bytes back, got %d",
						len(payload), len(result.data))
				}
			case <-time.After(30 * time.Second):
				t.Fatal("echo did not complete within 30s")
			}
		})
	}
}

func TestConcurrentConnections(t *testing.T) {
	for _, mode := range triggerModes {
		t.Run(mode, func(t *testing.T) {
			el := NewEventLoop()
			addr := startLoop(t, el, testConfig(mode), loop.EchoHandler)

			const numConns = 50

			var wg sync.WaitGroup
			errs := make(chan error, numConns)

			for i := 0; i < numConns; i++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()

					conn, err := net.Dial("tcp", addr.String())
					if err != nil {
						errs <- fmt.Errorf("conn %d: dial: %v", id, err)
						return
					}
					defer conn.Close()

					for round := 0; round < 10; round++ {
						payload := []byte(fmt.Sprintf("conn-%d-round-%d", id, round))
						if _, err := conn.Write(payload); err != nil {
							errs <- fmt.Errorf("conn %d: write: %v", id, err)
							return
						}

						resp := make([]byte, len(payload))
						if _, err := io.ReadFull(conn, resp); err != nil {
							errs <- fmt.Errorf("conn %d: read: %v", id, err)
							return
						}

						if !bytes.Equal(payload, resp) {
							errs <- fmt.Errorf("conn %d: echo mismatch in round %d", id, round)
							return
						}
					}
				}(i)
			}

			wg.Wait()
			close(errs)
			for err := range errs {
				t.Error(err)
			}
		})
	}
}

// TestMultipleLoops verifies SO_REUSEPORT fan-out: several loops bind the
// same endpoint and all incoming connections are served.
func TestMultipleLoops(t *testing.T) {
	config := testConfig(common.TriggerEdge)
	config.Loop.Loops = 4

	el := NewEventLoop()
	addr := startLoop(t, el, config, loop.EchoHandler)

	for i := 0; i < 32; i++ {
		conn, err := net.Dial("tcp", addr.String())
		if err != nil {
			t.Fatalf("dial %d failed: %v", i, err)
		}

		payload := []byte(fmt.Sprintf("fan-out-%d", i))
		if _, err := conn.Write(payload); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}

		resp := make([]byte, len(payload))
		if _, err := io.ReadFull(conn, resp); err != nil {
			t.Fatalf("read %d failed: %v", i, err)
		}

		if !bytes.Equal(payload, resp) {
			t.Errorf("echo mismatch on connection %d", i)
		}
		conn.Close()
	}

	// All 32 connections were accepted across the loops
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if el.Stats().ConnsAccepted == 32 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("expected 32 accepted connections, got %d", el.Stats().ConnsAccepted)
}

func TestAddrReportsKernelAssignedPort(t *testing.T) {
	el := NewEventLoop()
	addr := startLoop(t, el, testConfig(common.TriggerEdge), loop.EchoHandler)

	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		t.Fatalf("expected *net.TCPAddr, got %T", addr)
	}
	if tcpAddr.Port == 0 {
		t.Error("expected a kernel-assigned port, got 0")
	}
	if !tcpAddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Errorf("expected 127.0.0.1, got %s", tcpAddr.IP)
	}
}

func TestIdleTimeoutDropsConnection(t *testing.T) {
	config := testConfig(common.TriggerEdge)
	config.TimeoutSecond = 1

	el := NewEventLoop()
	addr := startLoop(t, el, config, loop.EchoHandler)

	conn := dial(t, addr)

	// An idle connection is dropped by the sweep; the read unblocks with
	// EOF or a reset
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected the server to drop the idle connection")
	}

	stats := el.Stats()
	if stats.ConnsDropped < 1 {
		t.Errorf("expected at least one dropped connection, got %d", stats.ConnsDropped)
	}
}

func TestRejectsIPv6Endpoint(t *testing.T) {
	config := testConfig(common.TriggerEdge)
	config.Endpoint = "[::1]:0"

	el := NewEventLoop()
	err := el.Serve(config, loop.EchoHandler)
	if err == nil {
		t.Fatal("expected an error for an IPv6 endpoint")
	}
}

// TestDropConnCountsOnce verifies that dropping a connection twice (a failed
// interest update followed by a read error on the same fd can attempt this)
// counts a single drop and decrements the active gauge once.
func TestDropConnCountsOnce(t *testing.T) {
	el := &eventLoop{config: testConfig(common.TriggerEdge)}

	sa, err := parseEndpoint("127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to resolve endpoint: %v", err)
	}
	pl, err := newPollLoop(el, 1, sa, false)
	if err != nil {
		t.Fatalf("failed to create loop: %v", err)
	}
	defer pl.closeFds()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("failed to create socketpair: %v", err)
	}
	defer unix.Close(fds[1])

	c := &conn{
		fd:         fds[0],
		remote:     "socketpair",
		state:      loop.StateConnected,
		pending:    loop.NewPendingBuffer(1024),
		lastActive: time.Now(),
	}
	event := unix.EpollEvent{Events: pl.interestMask(c), Fd: int32(c.fd)}
	if err := unix.EpollCtl(pl.epfd, unix.EPOLL_CTL_ADD, c.fd, &event); err != nil {
		t.Fatalf("failed to register fd: %v", err)
	}
	pl.conns[c.fd] = c
	el.counters.ConnsActive.Add(1)

	pl.dropConn(c, "write error")
	pl.dropConn(c, "write error")

	if got := el.counters.ConnsDropped.Load(); got != 1 {
		t.Errorf("expected 1 dropped connection, got %d", got)
	}
	if got := el.counters.ConnsActive.Load(); got != 0 {
		t.Errorf("expected 0 active connections, got %d", got)
	}
}

func TestBindErrorIsFatal(t *testing.T) {
	// Occupy a port without SO_REUSEADDR semantics that would allow rebinding
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create blocking listener: %v", err)
	}
	defer blocker.Close()

	config := testConfig(common.TriggerEdge)
	config.Endpoint = blocker.Addr().String()

	el := NewEventLoop()
	if err := el.Serve(config, loop.EchoHandler); err == nil {
		t.Fatal("expected bind failure to be returned from Serve")
	}
}
