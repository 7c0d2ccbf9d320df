// Package monitor implements the per-symbol streaming feature engine
// (C3): a state machine of incremental estimators fed by canonical
// events, plus the signal-gate predicate evaluated on a fixed tick.
//
// A Monitor is exclusively owned by the dispatch loop's goroutine; it is
// never accessed concurrently, so no internal locking is performed.
package monitor

import (
	"math"

	"github.com/sawpanic/microsignal/internal/config"
	"github.com/sawpanic/microsignal/internal/event"
	"github.com/sawpanic/microsignal/internal/ring"
)

const epsilon = 1e-8

type tradeRecord struct {
	price        float64
	qty          float64
	eventTimeMs  int64
	buyerIsMaker bool
}

type returnPoint struct {
	timeMs int64
	ret    float64
}

// Monitor holds the per-(symbol, tier) streaming state.
type Monitor struct {
	Symbol string
	Tier   config.Tier
	cfg    *config.Config

	// Book / ticker scalars
	bestBid, bestAsk, mid float64
	lastPrice             float64
	ticker24hVolumeUsdt   float64
	ticker24hChangePct    float64
	ticker24hHigh         float64
	ticker24hLow          float64

	lastSignalTriggerTimeMs int64

	// Volume EWMA stack
	ewmaFast, ewma1m, ewma5m float64
	ewmaSeeded               bool
	prevEwmaFast             float64
	volumeAccel              float64
	accelSigma               float64

	// 1s aggregation window (recomputed every tick)
	vol1s        float64
	tradeCount1s int
	takerBuy1s   float64
	takerSell1s  float64

	// 100ms price buckets, pruned to a ~3s window
	priceBuckets map[int64]float64

	// EMA stack
	ema9, ema21, ema50 float64
	emaSeeded          bool

	// RSI(9), Wilder smoothing
	rsiAvgGain, rsiAvgLoss float64
	rsiSeeded              bool
	rsi9                   float64

	// PPO/MACD
	ppoEmaFast, ppoEmaSlow float64
	ppoSeeded              bool
	ppoLine, signalLine    float64
	ppoHistogram           float64
	ppoSignalSeeded        bool

	// Taker flow
	takerFlowImbalance  float64
	takerFlowMagnitude  float64
	takerFlowRatio      float64
	takerRatioSmoothed  float64
	takerRatioSeeded    bool

	// Price slope
	priceSlope        float64 // smoothed, percent-per-second
	priceSlopeSeeded  bool
	priceSlopeSigma   float64

	// Realised volatility
	lastReturnTimeMs int64
	prevRefPrice     float64
	volatility30s    float64
	volatility5m     float64
	volatilityRatio  float64

	// Depth / imbalance
	depth5BidVolume   float64
	depth5AskVolume   float64
	depth5TotalVolume float64
	depth5VolumeRatio float64
	depth5ObImbalance float64
	imbalanceMA5      float64
	imbalanceMA20     float64
	imbalanceVelocity float64
	imbalanceVolatility float64
	prevImbalance     float64
	hasPrevImbalance  bool

	// Effective spread
	effSpreadMean float64

	// Time cache
	timeCacheAtMs   int64
	timeCacheSet    bool
	cachedHour      int
	cachedDay       int
	cachedIsWeekend bool

	// Histories
	aggTrades        *ring.Buffer[tradeRecord]
	returnHistory    *ring.Buffer[returnPoint]
	effSpreadHistory *ring.Buffer[float64]
	tradeImbalHist   *ring.Buffer[float64]
	imbalanceHistory *ring.Buffer[float64]
	volAccelHistory  *ring.Buffer[float64]
	priceSlopeHist   *ring.Buffer[float64]
	rsiPriceHistory  *ring.Buffer[float64]
}

// New creates a Monitor for symbol/tier with the given configuration.
func New(symbol string, tier config.Tier, cfg *config.Config) *Monitor {
	return &Monitor{
		Symbol:           symbol,
		Tier:             tier,
		cfg:              cfg,
		priceBuckets:     make(map[int64]float64),
		aggTrades:        ring.New[tradeRecord](cfg.Gate.AggTradeBufferSize),
		returnHistory:    ring.New[returnPoint](300),
		effSpreadHistory: ring.New[float64](60),
		tradeImbalHist:   ring.New[float64](60),
		imbalanceHistory: ring.New[float64](20),
		volAccelHistory:  ring.New[float64](60),
		priceSlopeHist:   ring.New[float64](40),
		rsiPriceHistory:  ring.New[float64](20),
	}
}

// ApplyTicker records the rolling 24h ticker snapshot.
func (m *Monitor) ApplyTicker(t event.Ticker) {
	m.ticker24hVolumeUsdt = t.QuoteVol24h
	m.ticker24hChangePct = t.ChangePct24h
	m.ticker24hHigh = t.High24h
	m.ticker24hLow = t.Low24h
}

// ApplyBookTicker updates bestBid/bestAsk and derives mid when both
// quotes are finite and positive.
func (m *Monitor) ApplyBookTicker(b event.BookTicker) {
	if !finitePositive(b.BestBid) || !finitePositive(b.BestAsk) {
		return
	}
	m.bestBid = b.BestBid
	m.bestAsk = b.BestAsk
	m.mid = (b.BestBid + b.BestAsk) / 2
}

// AddAggTrade pushes a trade onto the ring, updates lastPrice, and
// maintains the effective-spread and trade-imbalance histories.
func (m *Monitor) AddAggTrade(tr event.AggTrade) {
	m.aggTrades.Add(tradeRecord{
		price:        tr.Price,
		qty:          tr.Qty,
		eventTimeMs:  tr.EventTimeMs,
		buyerIsMaker: tr.BuyerIsMaker,
	})
	m.lastPrice = tr.Price

	if m.mid > 0 {
		effSpreadBps := math.Abs(tr.Price-m.mid) / m.mid * 1e4
		m.effSpreadHistory.Add(effSpreadBps)
		m.effSpreadMean = meanF(m.effSpreadHistory.ToArray())
	}

	signedSize := tr.Qty
	if tr.BuyerIsMaker {
		signedSize = -tr.Qty
	}
	m.tradeImbalHist.Add(signedSize)
}

// UpdateDepthSnapshot recomputes the top-5 depth aggregates and the
// imbalance moving-average block.
func (m *Monitor) UpdateDepthSnapshot(d event.DepthSnapshot) {
	var bidVol, askVol float64
	for i := 0; i < 5; i++ {
		bidVol += d.Bids[i].Qty
		askVol += d.Asks[i].Qty
	}
	m.depth5BidVolume = bidVol
	m.depth5AskVolume = askVol
	m.depth5TotalVolume = bidVol + askVol
	m.depth5VolumeRatio = bidVol / (askVol + epsilon)
	m.depth5ObImbalance = (bidVol - askVol) / (bidVol + askVol + epsilon)

	m.imbalanceHistory.Add(m.depth5ObImbalance)
	hist := m.imbalanceHistory.ToArray()

	m.imbalanceMA5 = meanLastN(hist, 5)
	m.imbalanceMA20 = meanLastN(hist, 20)

	if m.hasPrevImbalance {
		m.imbalanceVelocity = m.depth5ObImbalance - m.prevImbalance
	}
	m.prevImbalance = m.depth5ObImbalance
	m.hasPrevImbalance = true

	m.imbalanceVolatility = stddevPopulation(lastN(hist, 10))
}

func meanLastN(xs []float64, n int) float64 {
	return meanF(lastN(xs, n))
}

func lastN(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return xs[len(xs)-n:]
}

// LastPrice returns the most recent trade price observed.
func (m *Monitor) LastPrice() float64 { return m.lastPrice }

// Volatility30s returns the current annualised 30s realised volatility.
func (m *Monitor) Volatility30s() float64 { return m.volatility30s }

// LastSignalTriggerTimeMs returns the timestamp of the last emitted
// signal, or zero if none has fired yet.
func (m *Monitor) LastSignalTriggerTimeMs() int64 { return m.lastSignalTriggerTimeMs }

func finitePositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}
