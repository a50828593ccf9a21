package gonet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/echoloop/echo/common"
	"github.com/ValentinKolb/echoloop/echo/loop"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("loop")

const (
	// readChunkSize is the size of the pooled per-connection read buffers
	readChunkSize = 64 * 1024
)

// eventLoop implements loop.IEventLoop with a net.Listener and one goroutine
// per connection. It is the portable counterpart of the epoll backend: the
// same contract, expressed with blocking I/O.
//
// The backpressure policy holds trivially here: output is written
// synchronously (with a write deadline) before the next read, so no output
// is ever buffered in userspace and reading stops for exactly as long as the
// peer's receive window keeps the write from completing. A write that does
// not finish within the deadline drops the connection, mirroring the epoll
// backend's hard pending limit.
type eventLoop struct {
	config  common.ServerConfig
	handler loop.Handler

	listenerMu sync.Mutex
	listener   net.Listener
	counters   loop.Counters

	// conns tracks open connections for Shutdown
	conns  *xsync.MapOf[uint64, net.Conn]
	nextID atomic.Uint64

	bufferPool *sync.Pool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventLoop creates an unstarted gonet event loop
func NewEventLoop() loop.IEventLoop {
	return &eventLoop{
		conns: xsync.NewMapOf[uint64, net.Conn](),
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, readChunkSize)
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see loop.IEventLoop)
// --------------------------------------------------------------------------

func (l *eventLoop) Serve(config common.ServerConfig, handler loop.Handler) error {
	l.config = config
	l.handler = handler
	l.ctx, l.cancel = context.WithCancel(context.Background())

	listener, err := newListener(l.ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %v", err)
	}
	l.listenerMu.Lock()
	l.listener = listener
	l.listenerMu.Unlock()

	Logger.Infof("starting gonet event loop on %s", listener.Addr())

	// Accept connections
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || l.ctx.Err() != nil {
				break
			}
			Logger.Errorf("accept error: %v", err)
			continue
		}

		if err := upgradeConnection(conn, config); err != nil {
			Logger.Errorf("failed to configure connection from %s: %v", conn.RemoteAddr(), err)
			conn.Close()
			continue
		}

		id := l.nextID.Add(1)
		l.conns.Store(id, conn)
		l.counters.ConnsAccepted.Add(1)
		l.counters.ConnsActive.Add(1)

		l.wg.Add(1)
		go l.handleConnection(id, conn)
	}

	l.wg.Wait()
	return nil
}

func (l *eventLoop) Addr() net.Addr {
	l.listenerMu.Lock()
	defer l.listenerMu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func (l *eventLoop) Shutdown(ctx context.Context) error {
	if l.cancel == nil {
		return nil
	}
	l.cancel()

	l.listenerMu.Lock()
	if l.listener != nil {
		l.listener.Close()
	}
	l.listenerMu.Unlock()

	// Closing the sockets unblocks any connection goroutine stuck in Read
	l.conns.Range(func(_ uint64, conn net.Conn) bool {
		conn.Close()
		return true
	})

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		Logger.Infof("gonet event loop stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out: %v", ctx.Err())
	}
}

func (l *eventLoop) Stats() loop.Stats {
	return l.counters.Snapshot()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// handleConnection echoes for one connection until the peer closes or an
// error occurs
func (l *eventLoop) handleConnection(id uint64, conn net.Conn) {
	defer l.wg.Done()
	defer func() {
		conn.Close()
		l.conns.Delete(id)
		l.counters.ConnsActive.Add(-1)
	}()

	// Timeout in seconds
	timeout := time.Duration(l.config.TimeoutSecond) * time.Second

	// Get a buffer from the pool
	buf := l.bufferPool.Get().([]byte)
	defer l.bufferPool.Put(buf)

	for {
		if timeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("failed to set read deadline: %v", err)
				return
			}
		}

		n, err := conn.Read(buf)

		if n > 0 {
			l.counters.BytesRead.Add(int64(n))

			out := l.handler(buf[:n])
			if !l.writeAll(conn, out, timeout) {
				l.counters.ConnsDropped.Add(1)
				return
			}
		}

		// Case EOF: all output was already written synchronously, so the
		// close-after-flush guarantee holds without extra bookkeeping
		if err == io.EOF {
			Logger.Debugf("connection %s closed by client", conn.RemoteAddr())
			return
		}

		if err != nil {
			if l.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				Logger.Debugf("dropping idle connection %s", conn.RemoteAddr())
			} else {
				Logger.Errorf("read error on %s: %v", conn.RemoteAddr(), err)
			}
			l.counters.ConnsDropped.Add(1)
			return
		}
	}
}

// writeAll writes out completely or reports failure. net.Conn.Write already
// retries short writes internally, so anything but full success is an error.
func (l *eventLoop) writeAll(conn net.Conn, out []byte, timeout time.Duration) bool {
	if len(out) == 0 {
		return true
	}

	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			Logger.Errorf("failed to set write deadline: %v", err)
			return false
		}
	}

	n, err := conn.Write(out)
	if n > 0 {
		l.counters.BytesWritten.Add(int64(n))
	}
	if err != nil {
		if n > 0 && n < len(out) {
			l.counters.PartialWrites.Add(1)
		}
		if l.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
			Logger.Errorf("write error on %s: %v", conn.RemoteAddr(), err)
		}
		return false
	}
	return true
}
