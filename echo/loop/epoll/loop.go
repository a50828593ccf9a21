//go:build linux

package epoll

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/ValentinKolb/echoloop/echo/common"
	"github.com/ValentinKolb/echoloop/echo/loop"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("loop")

const (
	// maxEvents is the number of events retrieved per epoll_wait call
	maxEvents = 1024
	// readChunkSize is the size of the per-loop read buffer
	readChunkSize = 64 * 1024
)

// eventLoop implements loop.IEventLoop on top of raw epoll. It runs one
// goroutine per listener loop; each loop owns its own listening socket,
// epoll instance and connection table, so no lock is taken on the hot path.
type eventLoop struct {
	config  common.ServerConfig
	handler loop.Handler

	loops    []*pollLoop
	counters loop.Counters

	addrMu sync.Mutex
	addr   net.Addr

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventLoop creates an unstarted epoll event loop
func NewEventLoop() loop.IEventLoop {
	return &eventLoop{}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see loop.IEventLoop)
// --------------------------------------------------------------------------

func (l *eventLoop) Serve(config common.ServerConfig, handler loop.Handler) error {
	l.config = config
	l.handler = handler
	l.ctx, l.cancel = context.WithCancel(context.Background())

	numLoops := config.Loop.Loops
	reusePort := numLoops > 1

	sa, err := parseEndpoint(config.Endpoint)
	if err != nil {
		return err
	}

	// Create all listener loops up front so a setup failure is fatal
	// before any traffic is accepted. The first loop resolves a port 0
	// endpoint, the remaining loops share the assigned port via
	// SO_REUSEPORT.
	for i := 0; i < numLoops; i++ {
		pl, err := newPollLoop(l, i+1, sa, reusePort)
		if err != nil {
			l.closeLoops()
			return fmt.Errorf("failed to create loop %d: %v", i+1, err)
		}
		l.loops = append(l.loops, pl)

		if i == 0 {
			addr, err := localAddr(pl.listenFd)
			if err != nil {
				l.closeLoops()
				return err
			}
			sa.Port = addr.(*net.TCPAddr).Port
			l.addrMu.Lock()
			l.addr = addr
			l.addrMu.Unlock()
		}
	}

	Logger.Infof("starting epoll event loop on %s (%d loops, %s mode)",
		l.addr, numLoops, config.Loop.TriggerMode)

	for _, pl := range l.loops {
		l.wg.Add(1)
		go pl.run()
	}

	l.wg.Wait()
	return nil
}

func (l *eventLoop) Addr() net.Addr {
	l.addrMu.Lock()
	defer l.addrMu.Unlock()
	return l.addr
}

func (l *eventLoop) Shutdown(ctx context.Context) error {
	if l.cancel == nil {
		return nil
	}
	l.cancel()

	// Wake every loop out of epoll_wait
	for _, pl := range l.loops {
		pl.wake()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		Logger.Infof("epoll event loop stopped")
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

// closeLoops releases loops created so far after a setup failure
func (l *eventLoop) closeLoops() {
	for _, pl := range l.loops {
		pl.closeFds()
	}
	l.loops = nil
}
