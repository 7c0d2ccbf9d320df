// Package metrics registers the Prometheus collectors exported by the
// signal engine: per-stage gate outcomes, tick latency, and queue depth.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// GateStage names every guard evaluated by the gate predicate, in
// evaluation order, for the gate_stage_total label.
const (
	StageBaseline       = "baseline"
	StageReturnHistory  = "return_history"
	StageTicker24h      = "ticker_24h_volume"
	StageLiquidity      = "liquidity"
	StageCooldown       = "cooldown"
	StageVolatilityCap  = "tier_volatility_cap"
	StageValidQuotes    = "valid_quotes"
	StageSpread         = "spread"
	StageVolumeSpike    = "volume_spike"
	StagePriceImpulse   = "price_impulse"
	StagePass           = "pass"
)

var (
	// GateStageTotal counts every gate evaluation outcome, labeled by
	// the stage it stopped at ("pass" when every guard cleared).
	GateStageTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microsignal",
		Name:      "gate_stage_total",
		Help:      "Count of gate evaluations by the stage they stopped at.",
	}, []string{"symbol", "stage"})

	// TickDuration measures how long one periodic-recompute-plus-gate
	// pass over every monitor takes.
	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "microsignal",
		Name:      "tick_duration_seconds",
		Help:      "Wall time spent running PerformPeriodicCalculations + CheckSignal across all monitors for one tick.",
		Buckets:   prometheus.DefBuckets,
	})

	// QueueDepth is the gauge for the outstanding task count per delayed
	// queue. It is registered for export, but no component in this module
	// sets it, so it carries no series until a caller does.
	QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "microsignal",
		Name:      "queue_depth",
		Help:      "Outstanding task count per delayed queue.",
	}, []string{"queue"})

	// SignalsEmitted counts signals the gate has passed, per symbol.
	SignalsEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "microsignal",
		Name:      "signals_emitted_total",
		Help:      "Count of signals that passed the gate, by symbol.",
	}, []string{"symbol"})
)

// MustRegister registers every collector on reg. Call once at startup.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(GateStageTotal, TickDuration, QueueDepth, SignalsEmitted)
}
