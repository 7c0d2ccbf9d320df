package monitor

import "math"

// priceBucketWindowMs is the retention window for the 100ms price
// buckets; the spec requires lookups at now-2000 and now-2500 to
// succeed, so buckets are kept for a little longer than that.
const priceBucketWindowMs = 3000

// PerformPeriodicCalculations runs the fixed-order estimator update for
// a single tick at timestamp now (ms). It must be called before
// CheckSignal on the same tick.
func (m *Monitor) PerformPeriodicCalculations(now int64) {
	m.updateRealisedVolatility(now)
	m.aggregate1sTrades(now)
	m.updateVolumeEWMAs()
	m.updatePriceBucket(now)
	m.updateEMAStack()
	m.updateRSI()
	m.updatePPO()
	m.updateTakerFlow()
	m.updateAccelSigma()
	m.updatePriceSlope(now)
}

func (m *Monitor) updateRealisedVolatility(now int64) {
	if now-m.lastReturnTimeMs >= 1000 {
		if m.prevRefPrice > 0 && m.lastPrice > 0 {
			ret := math.Log(m.lastPrice / m.prevRefPrice)
			m.returnHistory.Add(returnPoint{timeMs: now, ret: ret})
		}
		m.prevRefPrice = m.lastPrice
		m.lastReturnTimeMs = now
	}

	returns30s := m.returnsSince(now - 30_000)
	if len(returns30s) >= 10 {
		m.volatility30s = annualize(stddevSample(returns30s))
	} else {
		m.volatility30s = 0
	}

	returns5m := m.returnsSince(now - 300_000)
	if len(returns5m) >= 30 {
		m.volatility5m = annualize(stddevSample(returns5m))
	} else {
		m.volatility5m = 0
	}

	if m.volatility5m > 0 {
		m.volatilityRatio = m.volatility30s / m.volatility5m
	} else {
		m.volatilityRatio = 1
	}
}

func (m *Monitor) returnsSince(sinceMs int64) []float64 {
	all := m.returnHistory.ToArray()
	out := make([]float64, 0, len(all))
	for _, p := range all {
		if p.timeMs >= sinceMs {
			out = append(out, p.ret)
		}
	}
	return out
}

func (m *Monitor) aggregate1sTrades(now int64) {
	var vol, buy, sell float64
	var count int
	cutoff := now - 1000

	n := m.aggTrades.Size()
	for i := n - 1; i >= 0; i-- {
		tr := m.aggTrades.Get(i)
		if tr.eventTimeMs < cutoff {
			break
		}
		vol += tr.price * tr.qty
		count++
		if tr.buyerIsMaker {
			sell += tr.qty
		} else {
			buy += tr.qty
		}
	}

	m.vol1s = vol
	m.tradeCount1s = count
	m.takerBuy1s = buy
	m.takerSell1s = sell
}

func (m *Monitor) updateVolumeEWMAs() {
	if !m.ewmaSeeded {
		if m.vol1s > 0 {
			m.ewmaFast = m.vol1s
			m.ewma1m = m.vol1s
			m.ewma5m = m.vol1s
			m.ewmaSeeded = true
		}
		m.volumeAccel = 0
		return
	}

	prevFast := m.ewmaFast
	a := m.cfg.EWMA
	m.ewmaFast = a.VolumeFast*m.vol1s + (1-a.VolumeFast)*m.ewmaFast
	m.ewma1m = a.VolumeMedium*m.vol1s + (1-a.VolumeMedium)*m.ewma1m
	m.ewma5m = a.VolumeSlow*m.vol1s + (1-a.VolumeSlow)*m.ewma5m
	m.volumeAccel = m.ewmaFast - prevFast
	m.prevEwmaFast = prevFast
}

func (m *Monitor) updatePriceBucket(now int64) {
	floor := (now / 100) * 100
	m.priceBuckets[floor] = m.lastPrice

	cutoff := now - priceBucketWindowMs
	for k := range m.priceBuckets {
		if k < cutoff {
			delete(m.priceBuckets, k)
		}
	}
}

func (m *Monitor) lookupBucket(atMs int64) (float64, bool) {
	floor := (atMs / 100) * 100
	v, ok := m.priceBuckets[floor]
	return v, ok
}

func (m *Monitor) updateEMAStack() {
	if !m.emaSeeded {
		m.ema9, m.ema21, m.ema50 = m.lastPrice, m.lastPrice, m.lastPrice
		m.emaSeeded = true
		return
	}
	e := m.cfg.EMA
	m.ema9 = emaStep(m.ema9, m.lastPrice, 2.0/float64(e.Fast+1))
	m.ema21 = emaStep(m.ema21, m.lastPrice, 2.0/float64(e.Mid+1))
	m.ema50 = emaStep(m.ema50, m.lastPrice, 2.0/float64(e.Slow+1))
}

func emaStep(prev, x, alpha float64) float64 {
	return alpha*x + (1-alpha)*prev
}

const rsiPeriod = 9

func (m *Monitor) updateRSI() {
	var prevPrice float64
	hasPrev := m.rsiPriceHistory.Size() > 0
	if hasPrev {
		prevPrice = m.rsiPriceHistory.Get(m.rsiPriceHistory.Newest())
	}
	m.rsiPriceHistory.Add(m.lastPrice)

	if !m.rsiSeeded {
		if m.rsiPriceHistory.Size() >= rsiPeriod+1 {
			prices := m.rsiPriceHistory.ToArray()
			var gainSum, lossSum float64
			for i := 1; i < len(prices); i++ {
				d := prices[i] - prices[i-1]
				if d > 0 {
					gainSum += d
				} else {
					lossSum += -d
				}
			}
			m.rsiAvgGain = gainSum / float64(rsiPeriod)
			m.rsiAvgLoss = lossSum / float64(rsiPeriod)
			m.rsiSeeded = true
			m.rsi9 = computeRSI(m.rsiAvgGain, m.rsiAvgLoss)
		}
		return
	}

	if !hasPrev {
		return
	}
	d := m.lastPrice - prevPrice
	gain, loss := 0.0, 0.0
	if d > 0 {
		gain = d
	} else {
		loss = -d
	}
	m.rsiAvgGain = ((rsiPeriod-1)*m.rsiAvgGain + gain) / rsiPeriod
	m.rsiAvgLoss = ((rsiPeriod-1)*m.rsiAvgLoss + loss) / rsiPeriod
	m.rsi9 = computeRSI(m.rsiAvgGain, m.rsiAvgLoss)
}

func computeRSI(avgGain, avgLoss float64) float64 {
	if avgGain == 0 && avgLoss == 0 {
		return 50
	}
	if avgLoss == 0 {
		return 100
	}
	rs := avgGain / avgLoss
	rsi := 100 - 100/(1+rs)
	return clamp(0, 100, rsi)
}

func (m *Monitor) updatePPO() {
	if !m.ppoSeeded {
		m.ppoEmaFast, m.ppoEmaSlow = m.lastPrice, m.lastPrice
		m.ppoSeeded = true
		return
	}
	p := m.cfg.PPO
	m.ppoEmaFast = emaStep(m.ppoEmaFast, m.lastPrice, 2.0/float64(p.Fast+1))
	m.ppoEmaSlow = emaStep(m.ppoEmaSlow, m.lastPrice, 2.0/float64(p.Slow+1))

	if m.ppoEmaSlow == 0 {
		return
	}
	m.ppoLine = (m.ppoEmaFast - m.ppoEmaSlow) / m.ppoEmaSlow * 100

	alpha := 2.0 / float64(p.Signal+1)
	if !m.ppoSignalSeeded {
		m.signalLine = m.ppoLine
		m.ppoSignalSeeded = true
	} else {
		m.signalLine = emaStep(m.signalLine, m.ppoLine, alpha)
	}
	m.ppoHistogram = m.ppoLine - m.signalLine
}

func (m *Monitor) updateTakerFlow() {
	buy, sell := m.takerBuy1s, m.takerSell1s
	m.takerFlowImbalance = (buy - sell) / (buy + sell + epsilon)
	m.takerFlowMagnitude = buy + sell
	ratio := clamp(0, 100, buy/(sell+epsilon))
	m.takerFlowRatio = ratio

	if !m.takerRatioSeeded {
		m.takerRatioSmoothed = ratio
		m.takerRatioSeeded = true
		return
	}
	m.takerRatioSmoothed = emaStep(m.takerRatioSmoothed, ratio, m.cfg.EWMA.TakerRatio)
}

func (m *Monitor) updateAccelSigma() {
	m.volAccelHistory.Add(m.volumeAccel)
	if m.volAccelHistory.Size() >= 20 {
		m.accelSigma = stddevPopulation(m.volAccelHistory.ToArray())
	}
}

func (m *Monitor) updatePriceSlope(now int64) {
	priceThen, ok := m.lookupBucket(now - 2000)
	if !ok || priceThen == 0 {
		return
	}
	slopePerSec := ((m.lastPrice - priceThen) / priceThen) / 2

	if !m.priceSlopeSeeded {
		m.priceSlope = slopePerSec
		m.priceSlopeSeeded = true
	} else {
		m.priceSlope = emaStep(m.priceSlope, slopePerSec, m.cfg.EWMA.PriceSlope)
	}

	m.priceSlopeHist.Add(m.priceSlope)
	if m.priceSlopeHist.Size() >= 20 {
		m.priceSlopeSigma = stddevPopulation(m.priceSlopeHist.ToArray())
	}
}
