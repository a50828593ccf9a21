//go:build !linux

package server

import (
	"fmt"

	"github.com/ValentinKolb/echoloop/echo/common"
	"github.com/ValentinKolb/echoloop/echo/loop"
	"github.com/ValentinKolb/echoloop/echo/loop/gonet"
)

// newEventLoop creates an event loop backend based on configuration.
// The epoll backend requires Linux.
func newEventLoop(config common.ServerConfig) (loop.IEventLoop, error) {
	switch config.Loop.Backend {
	case common.BackendEpoll:
		return nil, fmt.Errorf("the %s backend is only available on linux", common.BackendEpoll)
	case common.BackendGoNet:
		return gonet.NewEventLoop(), nil
	default:
		return nil, fmt.Errorf("invalid backend %s", config.Loop.Backend)
	}
}
