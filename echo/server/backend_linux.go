//go:build linux

package server

import (
	"fmt"

	"github.com/ValentinKolb/echoloop/echo/common"
	"github.com/ValentinKolb/echoloop/echo/loop"
	"github.com/ValentinKolb/echoloop/echo/loop/epoll"
	"github.com/ValentinKolb/echoloop/echo/loop/gonet"
)

// newEventLoop creates an event loop backend based on configuration
func newEventLoop(config common.ServerConfig) (loop.IEventLoop, error) {
	switch config.Loop.Backend {
	case common.BackendEpoll:
		return epoll.NewEventLoop(), nil
	case common.BackendGoNet:
		return gonet.NewEventLoop(), nil
	default:
		return nil, fmt.Errorf("invalid backend %s", config.Loop.Backend)
	}
}
