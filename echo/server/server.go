package server

import (
	"context"
	"fmt"
	"net"

	"github.com/ValentinKolb/echoloop/echo/common"
	"github.com/ValentinKolb/echoloop/echo/loop"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("server")

// EchoServer ties an event loop backend to the identity handler and the
// operational surface: metrics, pprof and graceful shutdown.
//
// Usage:
//
//	s, err := server.NewEchoServer(config)
//	if err != nil {
//		panic(err)
//	}
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
type EchoServer struct {
	config  common.ServerConfig
	loop    loop.IEventLoop
	metrics *metricsServer
}

// NewEchoServer validates the configuration and creates the echo server with
// the configured event loop backend. The epoll backend is only available on
// Linux; selecting it elsewhere returns an error here, before any socket is
// opened.
func NewEchoServer(config common.ServerConfig) (*EchoServer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %v", err)
	}

	el, err := newEventLoop(config)
	if err != nil {
		return nil, err
	}

	s := &EchoServer{
		config: config,
		loop:   el,
	}

	if config.MetricsEndpoint != "" {
		s.metrics = newMetricsServer(config.MetricsEndpoint, el)
	}

	Logger.Infof("created echo server")
	Logger.Infof(config.String())

	return s, nil
}

// Serve starts the metrics endpoint (if configured) and runs the event loop.
// It blocks until Shutdown is called or a fatal listener error occurs.
func (s *EchoServer) Serve() error {
	if s.metrics != nil {
		s.metrics.start()
	}
	return s.loop.Serve(s.config, loop.EchoHandler)
}

// Addr returns the actual bound address of the event loop (nil before Serve)
func (s *EchoServer) Addr() net.Addr {
	return s.loop.Addr()
}

// Stats returns a snapshot of the event loop counters
func (s *EchoServer) Stats() loop.Stats {
	return s.loop.Stats()
}

// Shutdown stops the metrics endpoint and the event loop, waiting for both
// until the context expires
func (s *EchoServer) Shutdown(ctx context.Context) error {
	if s.metrics != nil {
		s.metrics.stop(ctx)
	}
	return s.loop.Shutdown(ctx)
}
