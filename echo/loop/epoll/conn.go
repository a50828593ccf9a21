//go:build linux

package epoll

import (
	"time"

	"github.com/ValentinKolb/echoloop/echo/loop"
)

// conn is the per-connection state owned by exactly one pollLoop goroutine.
// No field is synchronized.
type conn struct {
	fd     int
	remote string

	state loop.ConnState

	// pending holds output that could not be written yet, in stream order
	pending *loop.PendingBuffer

	// paused is true while reads are suspended because pending output
	// crossed the high watermark
	paused bool

	// lastActive is updated on every successful read or write and drives
	// the idle timeout sweep
	lastActive time.Time
}
