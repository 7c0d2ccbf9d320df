// Package httpserver exposes the engine's operational surface: health,
// Prometheus metrics, and a debug snapshot of every active monitor.
package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MonitorSnapshot is the debug-endpoint view of a single monitor.
type MonitorSnapshot struct {
	Symbol              string  `json:"symbol"`
	Tier                string  `json:"tier"`
	LastPrice            float64 `json:"last_price"`
	Volatility30s        float64 `json:"volatility_30s"`
	LastSignalTriggerMs  int64   `json:"last_signal_trigger_ms"`
}

// SnapshotProvider supplies the current set of monitor snapshots for
// /debug/monitors.
type SnapshotProvider interface {
	Snapshots() []MonitorSnapshot
}

// New builds the router for the engine's operational HTTP surface.
func New(reg *prometheus.Registry, provider SnapshotProvider) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/debug/monitors", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(provider.Snapshots())
	}).Methods(http.MethodGet)

	return r
}
