package monitor

import "time"

// Signal is the immutable record emitted on gate success. Every field
// named in the specification's signal document is present; units are
// documented inline.
type Signal struct {
	Exchange          string
	CreatedAt         time.Time
	Symbol            string
	SignalTimestampMs int64
	TriggerPrice      float64

	PriceChangePct float64 // fraction, e.g. 0.003 = 0.3%
	PriceSlope     float64 // smoothed, percent-per-second
	SlopeZ         float64 // priceSlope / priceSlopeSigma
	PriceZScore    float64 // priceChangePct / instantVol

	VolumeRatioFast1m    float64 // ewmaFast / ewma1m
	VolumeRatio1m5m      float64 // ewma1m / ewma5m
	VolumeAccelZ         float64 // volumeAccel / accelSigma
	Current1sVolumeUsdt  float64
	VolumePerDollar      float64 // current1sVolumeUsdt / triggerPrice
	DynVolumeThresh      float64

	Volatility30s   float64
	Volatility5m    float64
	VolatilityRatio float64

	SpreadPct           float64
	SpreadBps           float64
	NormalizedSpread    float64
	EffectiveSpreadBps  float64

	Depth5ObImbalance float64
	Depth5BidVolume   float64
	Depth5AskVolume   float64
	Depth5TotalVolume float64
	Depth5VolumeRatio float64

	ImbalanceMA5        float64
	ImbalanceMA20       float64
	ImbalanceVelocity   float64
	ImbalanceVolatility float64

	TakerRatioSmoothed float64
	TakerBuyVolumeAbs  float64
	TakerFlowImbalance float64
	TakerFlowMagnitude float64
	TakerFlowRatio     float64

	PpoHistogram float64
	PpoLine      float64
	SignalLine   float64
	Rsi9         float64

	Ema9Over21           bool
	Ema21Over50          bool
	EmaAlignmentStrength float64
	EmaStackedBullish    bool
	EmaStackedBearish    bool
	EmaStackedNeutral    bool
	PriceAboveEma9       bool

	Ticker24hrVolumeUsdt      float64
	Ticker24hrPriceChangePct  float64
	Ticker24hrHigh            float64
	Ticker24hrLow             float64

	HourOfDay int
	DayOfWeek int
	IsWeekend bool
}
