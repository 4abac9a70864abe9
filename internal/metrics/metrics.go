// Package metrics exposes engine counters for scan and worker activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScanStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "scan_steps_total", Help: "Bar windows handed to detector workers"},
		[]string{"ticker"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_total", Help: "Signals accepted by the bar feed controller"},
		[]string{"ticker"},
	)
	WorkerTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_timeouts_total", Help: "Scan requests that timed out"},
	)
	WorkerFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "worker_failures_total", Help: "Detector worker processes that exited unexpectedly"},
	)
	UnclosedPositionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "unclosed_positions_total", Help: "Simulations that exhausted bars without closing"},
	)
)

func init() {
	prometheus.MustRegister(ScanStepsTotal, SignalsTotal, WorkerTimeoutsTotal, WorkerFailuresTotal, UnclosedPositionsTotal)
}

// Serve starts a metrics endpoint on addr.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
