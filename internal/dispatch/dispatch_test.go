package dispatch

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sawpanic/microsignal/internal/config"
	"github.com/sawpanic/microsignal/internal/event"
	"github.com/sawpanic/microsignal/internal/monitor"
	"github.com/sawpanic/microsignal/internal/tape"
)

type fakeTransport struct {
	ch     chan event.Event
	closed bool
}

func (f *fakeTransport) Events() <-chan event.Event { return f.ch }
func (f *fakeTransport) Close() error               { f.closed = true; close(f.ch); return nil }

type fakeSink struct {
	signals []*monitor.Signal
}

func (f *fakeSink) Handle(ctx context.Context, sig *monitor.Signal) error {
	f.signals = append(f.signals, sig)
	return nil
}

type memStore struct {
	bars map[string][]tape.Bar
}

func newMemStore() *memStore { return &memStore{bars: make(map[string][]tape.Bar)} }

func (s *memStore) WriteBar(ctx context.Context, pair string, bar tape.Bar) error {
	s.bars[pair] = append(s.bars[pair], bar)
	return nil
}

func (s *memStore) ReadRange(ctx context.Context, pair string, startSec, endSec int64) ([]tape.Bar, error) {
	var out []tape.Bar
	for _, b := range s.bars[pair] {
		if b.TsSec >= startSec && b.TsSec <= endSec {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestRouteEvent_ForwardsTradeToSeededMonitor(t *testing.T) {
	cfg := config.Default()
	tp := tape.New(newMemStore())
	tr := &fakeTransport{ch: make(chan event.Event, 1)}
	sink := &fakeSink{}
	loop := New(cfg, []string{"BTCUSDT"}, tr, sink, tp, zerolog.Nop())

	loop.routeEvent(context.Background(), event.AggTrade{Symbol: "BTCUSDT", Price: 100, Qty: 1, EventTimeMs: 1000})

	if len(loop.monitors) != 1 {
		t.Fatalf("expected exactly the one seeded monitor, got %d", len(loop.monitors))
	}
	if loop.order[0] != "BTCUSDT" {
		t.Fatalf("expected seeded order to record BTCUSDT first, got %v", loop.order)
	}
	if got := loop.monitors["BTCUSDT"].LastPrice(); got != 100 {
		t.Fatalf("expected the trade to reach the seeded monitor, last price = %v", got)
	}
}

func TestRouteEvent_DropsEventForSymbolOutsidePairUniverse(t *testing.T) {
	cfg := config.Default()
	tp := tape.New(newMemStore())
	tr := &fakeTransport{ch: make(chan event.Event, 1)}
	sink := &fakeSink{}
	loop := New(cfg, []string{"BTCUSDT"}, tr, sink, tp, zerolog.Nop())

	loop.routeEvent(context.Background(), event.AggTrade{Symbol: "DOGEUSDT", Price: 1, Qty: 1, EventTimeMs: 1000})

	if len(loop.monitors) != 1 {
		t.Fatalf("expected no monitor to be created for an unconfigured symbol, got %d", len(loop.monitors))
	}
	if _, ok := loop.monitors["DOGEUSDT"]; ok {
		t.Fatalf("expected DOGEUSDT to be dropped, not added to the pair universe")
	}
}

func TestOnTick_NeverCallsSinkWhenGateFails(t *testing.T) {
	cfg := config.Default()
	tp := tape.New(newMemStore())
	tr := &fakeTransport{ch: make(chan event.Event, 1)}
	sink := &fakeSink{}
	loop := New(cfg, []string{"BTCUSDT"}, tr, sink, tp, zerolog.Nop())

	loop.onTick(context.Background(), 0)

	if len(sink.signals) != 0 {
		t.Fatalf("expected no signals from a freshly seeded monitor, got %d", len(sink.signals))
	}
}
