//go:build linux

package epoll

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/echoloop/echo/common"
	"github.com/ValentinKolb/echoloop/echo/loop"
	"golang.org/x/sys/unix"
)

// pollLoop is one listener loop: a listening socket, an epoll instance and
// the connections accepted on it. All of its state is owned by the single
// goroutine running run().
type pollLoop struct {
	id     int
	parent *eventLoop

	epfd     int
	listenFd int

	// wake pipe registered in the epoll set so Shutdown can interrupt
	// epoll_wait (context based stop alone cannot wake a blocked wait)
	wakeR, wakeW int

	conns   map[int]*conn
	events  []unix.EpollEvent
	readBuf []byte

	// edge selects edge-triggered registration for client sockets
	edge bool
}

// newPollLoop creates the listener socket, epoll instance and wake pipe for
// one loop. Nothing is accepted until run() is started.
func newPollLoop(parent *eventLoop, id int, sa *unix.SockaddrInet4, reusePort bool) (*pollLoop, error) {
	listenFd, err := newListenerSocket(parent.config, sa, reusePort)
	if err != nil {
		return nil, err
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		unix.Close(listenFd)
		return nil, fmt.Errorf("failed to create epoll instance: %v", err)
	}

	var pipeFds [2]int
	if err := unix.Pipe2(pipeFds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		unix.Close(epfd)
		unix.Close(listenFd)
		return nil, fmt.Errorf("failed to create wake pipe: %v", err)
	}

	pl := &pollLoop{
		id:       id,
		parent:   parent,
		epfd:     epfd,
		listenFd: listenFd,
		wakeR:    pipeFds[0],
		wakeW:    pipeFds[1],
		conns:    make(map[int]*conn),
		events:   make([]unix.EpollEvent, maxEvents),
		readBuf:  make([]byte, readChunkSize),
		edge:     parent.config.Loop.TriggerMode == common.TriggerEdge,
	}

	// The listening socket and the wake pipe stay level-triggered: a missed
	// accept edge would strand connections in the backlog
	listenEvent := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(listenFd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, listenFd, &listenEvent); err != nil {
		pl.closeFds()
		return nil, fmt.Errorf("failed to register listener: %v", err)
	}

	wakeEvent := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(pl.wakeR)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, pl.wakeR, &wakeEvent); err != nil {
		pl.closeFds()
		return nil, fmt.Errorf("failed to register wake pipe: %v", err)
	}

	return pl, nil
}

// wake interrupts a blocked epoll_wait. Safe to call from any goroutine.
func (pl *pollLoop) wake() {
	_, _ = unix.Write(pl.wakeW, []byte{0})
}

// closeFds releases all loop file descriptors
func (pl *pollLoop) closeFds() {
	unix.Close(pl.wakeR)
	unix.Close(pl.wakeW)
	unix.Close(pl.epfd)
	unix.Close(pl.listenFd)
}

// --------------------------------------------------------------------------
// Event loop
// --------------------------------------------------------------------------

// run is the loop goroutine. It owns all connections of this loop and exits
// when the parent context is cancelled.
func (pl *pollLoop) run() {
	defer pl.parent.wg.Done()
	defer pl.teardown()

	idle := time.Duration(pl.parent.config.TimeoutSecond) * time.Second

	for {
		// Block indefinitely unless an idle timeout forces periodic sweeps
		timeoutMs := -1
		if idle > 0 {
			timeoutMs = 1000
		}

		n, err := unix.EpollWait(pl.epfd, pl.events, timeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			Logger.Errorf("loop %d: epoll_wait error: %v", pl.id, err)
			return
		}

		for i := 0; i < n; i++ {
			fd := int(pl.events[i].Fd)
			ev := pl.events[i].Events

			switch fd {
			case pl.wakeR:
				pl.drainWakePipe()
			case pl.listenFd:
				pl.acceptReady()
			default:
				pl.connReady(fd, ev)
			}
		}

		if pl.parent.ctx.Err() != nil {
			Logger.Infof("loop %d: received stop signal, shutting down", pl.id)
			return
		}

		if idle > 0 {
			pl.sweepIdle(idle)
		}
	}
}

// teardown closes every connection of this loop and the loop fds
func (pl *pollLoop) teardown() {
	for _, c := range pl.conns {
		pl.closeConn(c, "server shutdown")
	}
	pl.closeFds()
}

// drainWakePipe empties the wake pipe so it does not stay readable
func (pl *pollLoop) drainWakePipe() {
	var buf [8]byte
	for {
		if _, err := unix.Read(pl.wakeR, buf[:]); err != nil {
			return
		}
	}
}

// sweepIdle drops connections that have been inactive longer than the idle
// timeout
func (pl *pollLoop) sweepIdle(idle time.Duration) {
	now := time.Now()
	var stale []*conn
	for _, c := range pl.conns {
		if now.Sub(c.lastActive) > idle {
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		pl.dropConn(c, "idle timeout")
	}
}

// --------------------------------------------------------------------------
// Accept phase
// --------------------------------------------------------------------------

// acceptReady accepts connections until the backlog is drained. Draining is
// required in edge-triggered mode (one notification per state change) and
// harmless in level-triggered mode.
func (pl *pollLoop) acceptReady() {
	for {
		nfd, sa, err := unix.Accept4(pl.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			// Per-connection accept failures (e.g. reset before accept)
			// are not fatal for the loop
			Logger.Errorf("loop %d: accept error: %v", pl.id, err)
			return
		}

		if err := applyConnOptions(nfd, pl.parent.config); err != nil {
			Logger.Errorf("loop %d: failed to configure fd %d: %v", pl.id, nfd, err)
			unix.Close(nfd)
			continue
		}

		c := &conn{
			fd:         nfd,
			remote:     sockaddrString(sa),
			state:      loop.StateConnected,
			pending:    loop.NewPendingBuffer(pl.parent.config.Loop.MaxPendingBytes),
			lastActive: time.Now(),
		}

		event := unix.EpollEvent{Events: pl.interestMask(c), Fd: int32(nfd)}
		if err := unix.EpollCtl(pl.epfd, unix.EPOLL_CTL_ADD, nfd, &event); err != nil {
			Logger.Errorf("loop %d: failed to register fd %d: %v", pl.id, nfd, err)
			unix.Close(nfd)
			continue
		}

		pl.conns[nfd] = c
		pl.parent.counters.ConnsAccepted.Add(1)
		pl.parent.counters.ConnsActive.Add(1)

		Logger.Debugf("loop %d: accepted connection from %s (fd %d)", pl.id, c.remote, nfd)
	}
}

// --------------------------------------------------------------------------
// Read / write phases
// --------------------------------------------------------------------------

// connReady dispatches a readiness event for an accepted connection
func (pl *pollLoop) connReady(fd int, ev uint32) {
	c, ok := pl.conns[fd]
	if !ok {
		// Stale event for a connection closed earlier in this batch
		return
	}

	if ev&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		pl.dropConn(c, "socket error or hangup")
		return
	}

	if ev&unix.EPOLLOUT != 0 {
		if !pl.flush(c) {
			return
		}
	}

	// EPOLLRDHUP is handled through the read path: reading continues until
	// the zero-byte read that marks the half-close
	if ev&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 && c.state == loop.StateConnected && !c.paused {
		pl.readReady(c)
	}
}

// readReady reads from a connection and feeds the handler. In edge-triggered
// mode it reads until the kernel buffer is drained (EAGAIN), since no further
// notification will arrive for data left behind. In level-triggered mode a
// single read per wakeup suffices.
func (pl *pollLoop) readReady(c *conn) {
	for {
		n, err := unix.Read(c.fd, pl.readBuf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			pl.dropConn(c, fmt.Sprintf("read error: %v", err))
			return
		}

		// Zero-byte read: orderly shutdown by the peer
		if n == 0 {
			pl.beginClosing(c)
			return
		}

		pl.parent.counters.BytesRead.Add(int64(n))
		c.lastActive = time.Now()

		out := pl.parent.handler(pl.readBuf[:n])
		if !pl.enqueue(c, out) {
			return
		}

		// Backpressure: the connection paused itself or started closing
		if c.paused || c.state != loop.StateConnected {
			return
		}

		if !pl.edge {
			return
		}
	}
}

// enqueue writes out to the connection, buffering whatever the socket does
// not take. Returns false if the connection was dropped.
func (pl *pollLoop) enqueue(c *conn, out []byte) bool {
	if len(out) == 0 {
		return true
	}

	// Fast path: nothing pending, write directly. Anything else would
	// reorder the stream.
	if c.pending.Len() == 0 {
		written := 0
		for written < len(out) {
			n, err := unix.Write(c.fd, out[written:])
			if err != nil {
				if err == unix.EINTR {
					continue
				}
				if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
					break
				}
				pl.dropConn(c, fmt.Sprintf("write error: %v", err))
				return false
			}
			written += n
			pl.parent.counters.BytesWritten.Add(int64(n))
		}

		if written == len(out) {
			c.lastActive = time.Now()
			return true
		}

		pl.parent.counters.PartialWrites.Add(1)
		out = out[written:]
	}

	if err := c.pending.Append(out); err != nil {
		pl.dropConn(c, fmt.Sprintf("dropping connection: %v", err))
		return false
	}

	if !c.paused && c.pending.Len() > pl.parent.config.Loop.HighWatermark {
		c.paused = true
		Logger.Debugf("loop %d: paused reads on %s (%d bytes pending)", pl.id, c.remote, c.pending.Len())
	}

	return pl.updateInterest(c)
}

// flush writes pending output after a writability event. Returns false if
// the connection was closed or dropped.
func (pl *pollLoop) flush(c *conn) bool {
	for c.pending.Len() > 0 {
		n, err := unix.Write(c.fd, c.pending.Bytes())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				pl.maybeResume(c)
				return pl.updateInterest(c)
			}
			pl.dropConn(c, fmt.Sprintf("write error: %v", err))
			return false
		}
		c.pending.Consume(n)
		c.lastActive = time.Now()
		pl.parent.counters.BytesWritten.Add(int64(n))
	}

	// Fully drained
	if c.state == loop.StateClosing {
		pl.closeConn(c, "closed by client")
		return false
	}

	pl.maybeResume(c)
	return pl.updateInterest(c)
}

// maybeResume lifts the read pause once pending output drained below the
// low watermark
func (pl *pollLoop) maybeResume(c *conn) {
	if c.paused && c.pending.Len() < pl.parent.config.Loop.LowWatermark {
		c.paused = false
		Logger.Debugf("loop %d: resumed reads on %s", pl.id, c.remote)
	}
}

// beginClosing transitions a half-closed connection to StateClosing. If no
// output is pending the socket closes immediately, otherwise it closes once
// flush has drained the buffer. Either way every byte received before the
// peer closed is echoed before the server side ends.
func (pl *pollLoop) beginClosing(c *conn) {
	if c.pending.Len() == 0 {
		pl.closeConn(c, "closed by client")
		return
	}

	c.state = loop.StateClosing
	pl.updateInterest(c)
	Logger.Debugf("loop %d: %s half-closed, flushing %d pending bytes", pl.id, c.remote, c.pending.Len())
}

// --------------------------------------------------------------------------
// Interest management and teardown
// --------------------------------------------------------------------------

// interestMask computes the epoll event mask for the connection's current
// state: readable unless paused or closing, writable while output is pending.
func (pl *pollLoop) interestMask(c *conn) uint32 {
	var ev uint32 = unix.EPOLLRDHUP
	if c.state == loop.StateConnected && !c.paused {
		ev |= unix.EPOLLIN
	}
	if c.pending.Len() > 0 {
		ev |= unix.EPOLLOUT
	}
	if pl.edge {
		ev |= unix.EPOLLET
	}
	return ev
}

// updateInterest re-registers the connection with its current interest mask.
// In edge-triggered mode EPOLL_CTL_MOD rearms the descriptor, so resuming
// reads delivers a fresh edge for data already queued in the kernel buffer.
// Returns false if the connection was dropped because re-registration failed;
// callers must stop touching the fd then.
func (pl *pollLoop) updateInterest(c *conn) bool {
	event := unix.EpollEvent{Events: pl.interestMask(c), Fd: int32(c.fd)}
	if err := unix.EpollCtl(pl.epfd, unix.EPOLL_CTL_MOD, c.fd, &event); err != nil {
		Logger.Errorf("loop %d: failed to update interest for fd %d: %v", pl.id, c.fd, err)
		pl.dropConn(c, "epoll_ctl failure")
		return false
	}
	return true
}

// dropConn closes a connection for an abnormal reason and counts the drop.
// Dropping an already closed connection is a no-op, the drop is counted once.
func (pl *pollLoop) dropConn(c *conn, reason string) {
	if _, ok := pl.conns[c.fd]; !ok {
		return
	}
	pl.parent.counters.ConnsDropped.Add(1)
	pl.closeConn(c, reason)
}

// closeConn removes the connection from the epoll set and closes the socket
func (pl *pollLoop) closeConn(c *conn, reason string) {
	if _, ok := pl.conns[c.fd]; !ok {
		return
	}

	if err := unix.EpollCtl(pl.epfd, unix.EPOLL_CTL_DEL, c.fd, nil); err != nil {
		Logger.Errorf("loop %d: failed to deregister fd %d: %v", pl.id, c.fd, err)
	}
	if err := unix.Close(c.fd); err != nil {
		Logger.Errorf("loop %d: failed to close fd %d: %v", pl.id, c.fd, err)
	}

	delete(pl.conns, c.fd)
	pl.parent.counters.ConnsActive.Add(-1)

	Logger.Debugf("loop %d: closed connection %s (%s)", pl.id, c.remote, reason)
}
