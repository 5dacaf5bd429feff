// Package metrics exposes prometheus instrumentation shared across the engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BarsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "bars_ingested_total", Help: "OHLCV bars appended to a series"},
		[]string{"exchange", "symbol"},
	)
	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "signals_emitted_total", Help: "Non-flat signals produced per symbol"},
		[]string{"symbol", "direction"},
	)
	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fills_total", Help: "Simulated fills by exit/entry reason"},
		[]string{"symbol", "side", "reason"},
	)
	SpreadEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spread_events_total", Help: "Cross-exchange spread events detected"},
		[]string{"symbol"},
	)
	Equity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "paper_equity", Help: "Mark-to-market equity per symbol pipeline"},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(BarsIngested, SignalsEmitted, FillsTotal, SpreadEvents, Equity)
}

// Serve starts the /metrics endpoint on addr and returns the server for shutdown.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
