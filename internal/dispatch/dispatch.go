// Package dispatch implements the single-owner event loop (C4): one
// goroutine exclusively owns every per-symbol Monitor and the shared
// Tape, routes canonical events to the right monitor, and drives the
// fixed-interval periodic recompute + gate check.
package dispatch

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/microsignal/internal/config"
	"github.com/sawpanic/microsignal/internal/event"
	"github.com/sawpanic/microsignal/internal/httpserver"
	"github.com/sawpanic/microsignal/internal/metrics"
	"github.com/sawpanic/microsignal/internal/monitor"
	"github.com/sawpanic/microsignal/internal/tape"
)

// Transport delivers canonical events from an upstream market-data feed.
// Close disconnects and unblocks Events.
type Transport interface {
	Events() <-chan event.Event
	Close() error
}

// SignalSink is handed every gate-passing signal. Implementations own
// persistence and follow-up task scheduling (C5).
type SignalSink interface {
	Handle(ctx context.Context, sig *monitor.Signal) error
}

// Loop is the single-owner dispatch loop.
type Loop struct {
	cfg       *config.Config
	transport Transport
	sink      SignalSink
	tape      *tape.Tape
	log       zerolog.Logger

	monitors map[string]*monitor.Monitor
	order    []string
}

// New constructs a Loop with one Monitor per symbol in symbols, in that
// order. Monitors are never added or removed at runtime: an event for a
// symbol outside this list is dropped silently by routeEvent.
func New(cfg *config.Config, symbols []string, transport Transport, sink SignalSink, tp *tape.Tape, log zerolog.Logger) *Loop {
	l := &Loop{
		cfg:       cfg,
		transport: transport,
		sink:      sink,
		tape:      tp,
		log:       log.With().Str("component", "dispatch").Logger(),
		monitors:  make(map[string]*monitor.Monitor, len(symbols)),
		order:     make([]string, 0, len(symbols)),
	}
	for _, symbol := range symbols {
		l.monitors[symbol] = monitor.New(symbol, cfg.TierFor(symbol), cfg)
		l.order = append(l.order, symbol)
	}
	return l
}

// Run blocks until ctx is cancelled, routing events and driving the
// periodic tick. On return the transport is closed and the tape is
// flushed once more.
func (l *Loop) Run(ctx context.Context) error {
	interval := time.Duration(l.cfg.Gate.CheckSignalIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer l.shutdown(ctx)

	events := l.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				l.log.Warn().Msg("transport event channel closed")
				return nil
			}
			l.routeEvent(ctx, ev)
		case tick := <-ticker.C:
			l.onTick(ctx, tick.UnixMilli())
		}
	}
}

func (l *Loop) shutdown(ctx context.Context) {
	if err := l.transport.Close(); err != nil {
		l.log.Error().Err(err).Msg("transport close failed")
	}
	l.tape.Flush(ctx)
}

// routeEvent looks up the monitor for ev's symbol and drops the event
// silently if the symbol isn't in the configured pair universe.
func (l *Loop) routeEvent(ctx context.Context, ev event.Event) {
	symbol := ev.Sym()
	m, ok := l.monitors[symbol]
	if !ok {
		return
	}

	switch v := ev.(type) {
	case event.AggTrade:
		m.AddAggTrade(v)
		if err := l.tape.OnTrade(ctx, symbol, v.Price, v.Price*v.Qty, v.EventTimeMs); err != nil {
			l.log.Error().Err(err).Str("symbol", symbol).Msg("tape.OnTrade failed")
		}
	case event.Ticker:
		m.ApplyTicker(v)
	case event.BookTicker:
		m.ApplyBookTicker(v)
	case event.DepthSnapshot:
		m.UpdateDepthSnapshot(v)
	default:
		l.log.Warn().Str("symbol", symbol).Msg("unrecognized event type, dropped")
	}
}

// onTick drives the periodic recompute and gate check for every
// monitor, in the order of the symbols list given to New.
func (l *Loop) onTick(ctx context.Context, nowMs int64) {
	start := time.Now()
	for _, symbol := range l.order {
		m := l.monitors[symbol]
		m.PerformPeriodicCalculations(nowMs)

		sig, ok := m.CheckSignal(nowMs)
		if !ok {
			continue
		}
		if err := l.sink.Handle(ctx, sig); err != nil {
			l.log.Error().Err(err).Str("symbol", symbol).Msg("signal sink failed")
		}
	}
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	l.tape.Flush(ctx)
}

// Snapshots implements httpserver.SnapshotProvider.
func (l *Loop) Snapshots() []httpserver.MonitorSnapshot {
	out := make([]httpserver.MonitorSnapshot, 0, len(l.order))
	for _, symbol := range l.order {
		m := l.monitors[symbol]
		out = append(out, httpserver.MonitorSnapshot{
			Symbol:              symbol,
			Tier:                string(m.Tier),
			LastPrice:           m.LastPrice(),
			Volatility30s:       m.Volatility30s(),
			LastSignalTriggerMs: m.LastSignalTriggerTimeMs(),
		})
	}
	return out
}
