package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ValentinKolb/echoloop/echo/loop"
	"github.com/VictoriaMetrics/metrics"

	_ "net/http/pprof"
)

// metricsServer exposes the event loop counters in Prometheus format plus
// the pprof handlers on a separate HTTP endpoint.
//
// The gauges live in their own metrics.Set so multiple servers in one
// process (tests mostly) do not clash in the global registry.
type metricsServer struct {
	srv *http.Server
	set *metrics.Set
}

func newMetricsServer(endpoint string, el loop.IEventLoop) *metricsServer {
	set := metrics.NewSet()

	stat := func(f func(loop.Stats) int64) func() float64 {
		return func() float64 {
			return float64(f(el.Stats()))
		}
	}

	set.NewGauge(`echoloop_connections_accepted_total`, stat(func(s loop.Stats) int64 { return s.ConnsAccepted }))
	set.NewGauge(`echoloop_connections_active`, stat(func(s loop.Stats) int64 { return s.ConnsActive }))
	set.NewGauge(`echoloop_connections_dropped_total`, stat(func(s loop.Stats) int64 { return s.ConnsDropped }))
	set.NewGauge(`echoloop_bytes_read_total`, stat(func(s loop.Stats) int64 { return s.BytesRead }))
	set.NewGauge(`echoloop_bytes_written_total`, stat(func(s loop.Stats) int64 { return s.BytesWritten }))
	set.NewGauge(`echoloop_partial_writes_total`, stat(func(s loop.Stats) int64 { return s.PartialWrites }))

	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		set.WritePrometheus(w)
		metrics.WriteProcessMetrics(w)
	})
	// The pprof handlers register themselves on the default mux
	mux.Handle("/debug/pprof/", http.DefaultServeMux)

	return &metricsServer{
		srv: &http.Server{
			Addr:              endpoint,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		set: set,
	}
}

// start runs the HTTP endpoint in the background
func (m *metricsServer) start() {
	go func() {
		Logger.Infof("metrics endpoint listening on %s", m.srv.Addr)
		if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			Logger.Errorf("metrics endpoint error: %v", err)
		}
	}()
}

// stop shuts the HTTP endpoint down gracefully
func (m *metricsServer) stop(ctx context.Context) {
	if err := m.srv.Shutdown(ctx); err != nil {
		Logger.Errorf("failed to stop metrics endpoint: %v", err)
	}
}
