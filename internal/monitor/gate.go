package monitor

import (
	"math"
	"time"

	"github.com/sawpanic/microsignal/internal/metrics"
)

// refreshTimeCache recomputes hour-of-day/day-of-week/weekend at most
// once per TimeCacheDurationMs.
func (m *Monitor) refreshTimeCache(now int64) {
	if m.timeCacheSet && now-m.timeCacheAtMs < m.cfg.Gate.TimeCacheDurationMs {
		return
	}
	t := time.UnixMilli(now).UTC()
	m.cachedHour = t.Hour()
	m.cachedDay = int(t.Weekday())
	m.cachedIsWeekend = t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
	m.timeCacheAtMs = now
	m.timeCacheSet = true
}

// instantVol de-annualizes volatility30s back to per-second scale.
func instantVol(volatility30s float64) float64 {
	return volatility30s / math.Sqrt(secondsPerYear)
}

// regimeModifier classifies the volume-spike threshold regime from the
// volatility ratio.
func regimeModifier(volatilityRatio float64) float64 {
	switch {
	case volatilityRatio > 1.5:
		return 1.25
	case volatilityRatio < 0.8:
		return 0.75
	default:
		return 1.0
	}
}

func sessionFactor(hour int, isWeekend bool) float64 {
	switch {
	case isWeekend:
		return 0.8
	case hour >= 13 && hour < 17:
		return 1.5
	case hour >= 0 && hour < 7:
		return 0.75
	default:
		return 1.0
	}
}

// dynamicVolumeThreshold computes D per spec.md §4.3.
func (m *Monitor) dynamicVolumeThreshold() float64 {
	iv := instantVol(m.volatility30s)
	volFactor := 1 + iv*50*regimeModifier(m.volatilityRatio)
	sf := sessionFactor(m.cachedHour, m.cachedIsWeekend)
	g := m.cfg.Gate
	raw := g.DynVolumeThreshBase * volFactor * sf
	return clamp(g.DynVolumeThreshMin, g.DynVolumeThreshMax, raw)
}

// absoluteVolumeFloor computes the tier floor per spec.md §4.3.
func (m *Monitor) absoluteVolumeFloor() float64 {
	g := m.cfg.Gate
	tierFloor := g.TierFloorUSDT[m.Tier]
	dynamic := m.ticker24hVolumeUsdt / 86400 * 0.25
	return math.Max(tierFloor, dynamic)
}

// CheckSignal evaluates the gate predicate after periodic computation
// for this tick. It returns (signal, true) on a pass, or (nil, false)
// on any guard failure.
func (m *Monitor) CheckSignal(now int64) (*Signal, bool) {
	m.refreshTimeCache(now)
	g := m.cfg.Gate

	fail := func(stage string) (*Signal, bool) {
		metrics.GateStageTotal.WithLabelValues(m.Symbol, stage).Inc()
		return nil, false
	}

	// 1. baseline sanity
	if !(m.lastPrice > 0 && m.ewma5m > 0) {
		return fail(metrics.StageBaseline)
	}

	// 2. return history depth
	if !(m.returnHistory.Size() >= 30 && m.volatility30s > 0) {
		return fail(metrics.StageReturnHistory)
	}

	// 3. liquidity floor (24h)
	if m.ticker24hVolumeUsdt < g.MinTicker24hVolumeUsdt {
		return fail(metrics.StageTicker24h)
	}

	// 4. depth liquidity + current 1s volume
	minDepth := math.Min(m.depth5BidVolume, m.depth5AskVolume) * m.mid
	if minDepth < g.ExpectedTradeSize*g.MinExecutionMultiplier {
		return fail(metrics.StageLiquidity)
	}
	if m.vol1s < g.Min1sVolumeSum {
		return fail(metrics.StageLiquidity)
	}

	// 5. cooldown
	if now-m.lastSignalTriggerTimeMs < g.SignalCooldownMs {
		return fail(metrics.StageCooldown)
	}

	// 6. tier volatility cap
	cap5m, ok := g.TierVolatilityCap[m.Tier]
	if !ok || m.volatility5m > cap5m || m.volatility5m < g.TierVolatilityFloor {
		return fail(metrics.StageVolatilityCap)
	}

	// 7. valid quotes
	if !(finitePositive(m.bestBid) && finitePositive(m.bestAsk) && m.bestAsk > m.bestBid) {
		return fail(metrics.StageValidQuotes)
	}

	// 8. spread guard
	spreadPct := (m.bestAsk - m.bestBid) / m.bestAsk
	iv := instantVol(m.volatility30s)
	normalizedSpread := spreadPct / (iv + 1e-4)
	if spreadPct > g.MaxBidAskSpreadPct || normalizedSpread > g.NormalizedSpreadMax {
		return fail(metrics.StageSpread)
	}

	// 9. volume spike
	dyn := m.dynamicVolumeThreshold()
	volFloor := m.absoluteVolumeFloor()
	volumeRatioFast1m := m.ewmaFast / m.ewma1m
	volumeRatio1m5m := m.ewma1m / m.ewma5m
	volumeAccelZ := 0.0
	if m.accelSigma > 0 {
		volumeAccelZ = m.volumeAccel / m.accelSigma
	}
	if !(volumeRatioFast1m >= dyn &&
		volumeRatio1m5m >= g.MinVolumeSpikeRatio1m5m &&
		volumeAccelZ >= g.VolumeAccelZScore &&
		m.vol1s >= volFloor &&
		m.tradeCount1s >= g.MinTradesIn1s) {
		return fail(metrics.StageVolumeSpike)
	}

	// 10. upward price impulse
	priceThen, ok := m.lookupBucket(now - 2500)
	if !ok || !(m.lastPrice > priceThen) {
		return fail(metrics.StagePriceImpulse)
	}
	slopeZ := 0.0
	if m.priceSlopeSigma > 0 {
		slopeZ = m.priceSlope / m.priceSlopeSigma
	}
	if slopeZ < g.PriceSlopeZScore {
		return fail(metrics.StagePriceImpulse)
	}
	priceChangePct := (m.lastPrice - priceThen) / priceThen
	priceZScore := 0.0
	if iv > 0 {
		priceZScore = priceChangePct / iv
	}
	if priceZScore < 1.5 {
		return fail(metrics.StagePriceImpulse)
	}

	metrics.GateStageTotal.WithLabelValues(m.Symbol, metrics.StagePass).Inc()
	metrics.SignalsEmitted.WithLabelValues(m.Symbol).Inc()
	m.lastSignalTriggerTimeMs = now

	emaSpread1 := (m.ema9 - m.ema21) / m.lastPrice
	emaSpread2 := (m.ema21 - m.ema50) / m.lastPrice
	bullish := m.ema9 > m.ema21 && m.ema21 > m.ema50
	bearish := m.ema9 < m.ema21 && m.ema21 < m.ema50

	sig := &Signal{
		Exchange:          m.cfg.FollowUp.Exchange,
		CreatedAt:         time.UnixMilli(now).UTC(),
		Symbol:            m.Symbol,
		SignalTimestampMs: now,
		TriggerPrice:      m.lastPrice,

		PriceChangePct: priceChangePct,
		PriceSlope:     m.priceSlope,
		SlopeZ:         slopeZ,
		PriceZScore:    priceZScore,

		VolumeRatioFast1m:   volumeRatioFast1m,
		VolumeRatio1m5m:     volumeRatio1m5m,
		VolumeAccelZ:        volumeAccelZ,
		Current1sVolumeUsdt: m.vol1s,
		VolumePerDollar:     m.vol1s / m.lastPrice,
		DynVolumeThresh:     dyn,

		Volatility30s:   m.volatility30s,
		Volatility5m:    m.volatility5m,
		VolatilityRatio: m.volatilityRatio,

		SpreadPct:          spreadPct,
		SpreadBps:          spreadPct * 1e4,
		NormalizedSpread:   normalizedSpread,
		EffectiveSpreadBps: m.effSpreadMean,

		Depth5ObImbalance: m.depth5ObImbalance,
		Depth5BidVolume:   m.depth5BidVolume,
		Depth5AskVolume:   m.depth5AskVolume,
		Depth5TotalVolume: m.depth5TotalVolume,
		Depth5VolumeRatio: m.depth5VolumeRatio,

		ImbalanceMA5:        m.imbalanceMA5,
		ImbalanceMA20:       m.imbalanceMA20,
		ImbalanceVelocity:   m.imbalanceVelocity,
		ImbalanceVolatility: m.imbalanceVolatility,

		TakerRatioSmoothed: m.takerRatioSmoothed,
		TakerBuyVolumeAbs:  m.takerBuy1s,
		TakerFlowImbalance: m.takerFlowImbalance,
		TakerFlowMagnitude: m.takerFlowMagnitude,
		TakerFlowRatio:     m.takerFlowRatio,

		PpoHistogram: m.ppoHistogram,
		PpoLine:      m.ppoLine,
		SignalLine:   m.signalLine,
		Rsi9:         m.rsi9,

		Ema9Over21:           m.ema9 > m.ema21,
		Ema21Over50:          m.ema21 > m.ema50,
		EmaAlignmentStrength: emaSpread1 + emaSpread2,
		EmaStackedBullish:    bullish,
		EmaStackedBearish:    bearish,
		EmaStackedNeutral:    !bullish && !bearish,
		PriceAboveEma9:       m.lastPrice > m.ema9,

		Ticker24hrVolumeUsdt:     m.ticker24hVolumeUsdt,
		Ticker24hrPriceChangePct: m.ticker24hChangePct,
		Ticker24hrHigh:           m.ticker24hHigh,
		Ticker24hrLow:            m.ticker24hLow,

		HourOfDay: m.cachedHour,
		DayOfWeek: m.cachedDay,
		IsWeekend: m.cachedIsWeekend,
	}

	return sig, true
}
