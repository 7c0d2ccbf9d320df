package monitor

import (
	"testing"

	"github.com/sawpanic/microsignal/internal/config"
	"github.com/sawpanic/microsignal/internal/event"
)

func newTestMonitor() *Monitor {
	return New("BTCUSDT", config.TierMega, config.Default())
}

func TestApplyBookTicker_SpreadPctInUnitInterval(t *testing.T) {
	m := newTestMonitor()
	m.ApplyBookTicker(event.BookTicker{Symbol: "BTCUSDT", BestBid: 100, BestAsk: 100.5})
	if m.bestAsk <= m.bestBid || m.bestBid <= 0 {
		t.Fatalf("invalid quotes: bid=%v ask=%v", m.bestBid, m.bestAsk)
	}
	spreadPct := (m.bestAsk - m.bestBid) / m.bestAsk
	if spreadPct <= 0 || spreadPct >= 1 {
		t.Fatalf("spreadPct out of (0,1): %v", spreadPct)
	}
}

func TestApplyBookTicker_RejectsNonPositive(t *testing.T) {
	m := newTestMonitor()
	m.ApplyBookTicker(event.BookTicker{Symbol: "BTCUSDT", BestBid: 0, BestAsk: 100.5})
	if m.bestBid != 0 || m.bestAsk != 0 {
		t.Fatalf("expected quotes to remain unset on invalid update, got bid=%v ask=%v", m.bestBid, m.bestAsk)
	}
}

func TestVolumeEWMA_SeedsOnFirstNonZeroVolume(t *testing.T) {
	m := newTestMonitor()
	m.vol1s = 1000
	m.updateVolumeEWMAs()
	if !m.ewmaSeeded {
		t.Fatalf("expected EWMA stack to seed")
	}
	if m.ewmaFast != 1000 || m.ewma1m != 1000 || m.ewma5m != 1000 {
		t.Fatalf("expected seeded EWMAs to equal first observation, got fast=%v 1m=%v 5m=%v", m.ewmaFast, m.ewma1m, m.ewma5m)
	}
}

func TestVolumeEWMA_FastTracksFasterThanSlow(t *testing.T) {
	m := newTestMonitor()
	m.vol1s = 100
	m.updateVolumeEWMAs()
	for i := 0; i < 5; i++ {
		m.vol1s = 1000
		m.updateVolumeEWMAs()
	}
	if !(m.ewmaFast > m.ewma1m && m.ewma1m > m.ewma5m) {
		t.Fatalf("expected ewmaFast > ewma1m > ewma5m after a sustained step up, got fast=%v 1m=%v 5m=%v", m.ewmaFast, m.ewma1m, m.ewma5m)
	}
}

func TestRealisedVolatility_ZeroForConstantPrice(t *testing.T) {
	m := newTestMonitor()
	now := int64(0)
	for i := 0; i < 40; i++ {
		m.lastPrice = 100
		m.updateRealisedVolatility(now)
		now += 1000
	}
	if m.volatility30s != 0 {
		t.Fatalf("expected zero volatility for a constant price stream, got %v", m.volatility30s)
	}
}

func TestRSI_ConvergesToHundredOnMonotonicRise(t *testing.T) {
	m := newTestMonitor()
	price := 100.0
	for i := 0; i < 30; i++ {
		price += 1
		m.lastPrice = price
		m.updateRSI()
	}
	if m.rsi9 != 100 {
		t.Fatalf("expected RSI to saturate at 100 on a pure uptrend, got %v", m.rsi9)
	}
}

func TestRSI_ConvergesToZeroOnMonotonicFall(t *testing.T) {
	m := newTestMonitor()
	price := 1000.0
	for i := 0; i < 30; i++ {
		price -= 1
		m.lastPrice = price
		m.updateRSI()
	}
	if m.rsi9 != 0 {
		t.Fatalf("expected RSI to saturate at 0 on a pure downtrend, got %v", m.rsi9)
	}
}

func TestRSI_AlternatingStaysMidRange(t *testing.T) {
	m := newTestMonitor()
	price := 100.0
	for i := 0; i < 60; i++ {
		if i%2 == 0 {
			price += 1
		} else {
			price -= 1
		}
		m.lastPrice = price
		m.updateRSI()
	}
	if m.rsi9 <= 30 || m.rsi9 >= 70 {
		t.Fatalf("expected RSI to settle inside (30,70) for an alternating series, got %v", m.rsi9)
	}
}

func TestDepthSnapshot_ImbalanceBoundedUnitInterval(t *testing.T) {
	m := newTestMonitor()
	d := event.DepthSnapshot{
		Symbol: "BTCUSDT",
		Bids:   [5]event.DepthLevel{{Price: 99, Qty: 10}, {Price: 98, Qty: 5}, {Price: 97, Qty: 1}, {Price: 96, Qty: 1}, {Price: 95, Qty: 1}},
		Asks:   [5]event.DepthLevel{{Price: 101, Qty: 2}, {Price: 102, Qty: 2}, {Price: 103, Qty: 1}, {Price: 104, Qty: 1}, {Price: 105, Qty: 1}},
	}
	m.UpdateDepthSnapshot(d)
	if m.depth5ObImbalance <= -1 || m.depth5ObImbalance >= 1 {
		t.Fatalf("expected imbalance inside (-1,1), got %v", m.depth5ObImbalance)
	}
	if m.depth5ObImbalance <= 0 {
		t.Fatalf("expected positive imbalance when bids dominate, got %v", m.depth5ObImbalance)
	}
}

func TestCheckSignal_CooldownSuppressesRepeat(t *testing.T) {
	m := newTestMonitor()
	m.lastSignalTriggerTimeMs = 1_000_000
	m.lastPrice = 100
	m.ewma5m = 1
	// Satisfy the guards evaluated before the cooldown so that the
	// cooldown is the guard that rejects this evaluation.
	for i := 0; i < 30; i++ {
		m.returnHistory.Add(returnPoint{timeMs: int64(i), ret: 0.001})
	}
	m.volatility30s = 1
	m.ticker24hVolumeUsdt = 5_000_000
	m.depth5BidVolume, m.depth5AskVolume, m.mid = 100, 100, 100
	m.vol1s = 1000
	_, ok := m.CheckSignal(1_000_000 + 3000)
	if ok {
		t.Fatalf("expected cooldown to suppress a signal 3s after the last trigger")
	}
}

func TestCheckSignal_FailsBaselineWhenUnset(t *testing.T) {
	m := newTestMonitor()
	_, ok := m.CheckSignal(0)
	if ok {
		t.Fatalf("expected gate to fail on a freshly constructed monitor with no observations")
	}
}
