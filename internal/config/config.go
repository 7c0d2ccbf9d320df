// Package config holds the typed configuration bag for the signal
// engine. All tunables named in the specification are enumerated here
// with their default values; nothing is read from the environment at
// call sites — components take a *Config explicitly.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier is a coarse market-cap bucket controlling liquidity floors and
// volatility caps.
type Tier string

const (
	TierMega  Tier = "mega"
	TierLarge Tier = "large"
	TierMid   Tier = "mid"
	TierSmall Tier = "small"
	TierMicro Tier = "micro"
)

// EWMAConfig groups the fixed smoothing factors for the volume EWMA
// stack, the taker-ratio smoother, and the price-slope smoother.
type EWMAConfig struct {
	VolumeFast   float64 `yaml:"volume_fast"`   // 0.1175
	VolumeMedium float64 `yaml:"volume_medium"` // 0.00416 (≈ ewma1m)
	VolumeSlow   float64 `yaml:"volume_slow"`   // 0.000833 (≈ ewma5m)
	TakerRatio   float64 `yaml:"taker_ratio"`   // 0.20
	PriceSlope   float64 `yaml:"price_slope"`   // 0.4
}

// EMAConfig groups the EMA-stack periods (§4.3 step 5).
type EMAConfig struct {
	Fast int `yaml:"fast"`   // 9
	Mid  int `yaml:"mid"`    // 21
	Slow int `yaml:"slow"`   // 50
}

// PPOConfig groups the PPO/MACD periods (§4.3 step 7).
type PPOConfig struct {
	Fast   int `yaml:"fast"`   // 3
	Slow   int `yaml:"slow"`   // 10
	Signal int `yaml:"signal"` // 16
}

// GateConfig groups the signal-gate thresholds from spec.md §4.3/§6.
type GateConfig struct {
	CheckSignalIntervalMs   int64              `yaml:"check_signal_interval_ms"`   // 250
	PriceBucketDurationMs   int64              `yaml:"price_bucket_duration_ms"`   // 100
	AggTradeBufferSize      int                `yaml:"agg_trade_buffer_size"`      // 250
	PriceLookbackWindowMs   int64              `yaml:"price_lookback_window_ms"`   // 2500
	PriceSlopeZScore        float64            `yaml:"price_slope_zscore"`         // 1.9
	MinTradesIn1s           int                `yaml:"min_trades_in_1s"`           // 5
	MaxBidAskSpreadPct      float64            `yaml:"max_bid_ask_spread_pct"`     // 0.003
	MinVolumeSpikeRatio1m5m float64            `yaml:"min_volume_spike_ratio_1m5m"` // 1.5
	VolumeAccelZScore       float64            `yaml:"volume_accel_zscore"`        // 2.0
	SignalCooldownMs        int64              `yaml:"signal_cooldown_ms"`         // 6000
	TimeCacheDurationMs     int64              `yaml:"time_cache_duration_ms"`     // 60000
	MinTicker24hVolumeUsdt  float64            `yaml:"min_ticker_24h_volume_usdt"` // 1_000_000
	ExpectedTradeSize       float64            `yaml:"expected_trade_size"`        // 500
	MinExecutionMultiplier  float64            `yaml:"min_execution_multiplier"`   // 5
	Min1sVolumeSum          float64            `yaml:"min_1s_volume_sum"`          // 500
	NormalizedSpreadMax     float64            `yaml:"normalized_spread_max"`      // 3.0
	DynVolumeThreshMin      float64            `yaml:"dyn_volume_thresh_min"`      // 2.5
	DynVolumeThreshMax      float64            `yaml:"dyn_volume_thresh_max"`      // 20.0
	DynVolumeThreshBase     float64            `yaml:"dyn_volume_thresh_base"`     // 4.0
	TierVolatilityCap       map[Tier]float64   `yaml:"tier_volatility_cap"`
	TierVolatilityFloor     float64            `yaml:"tier_volatility_floor"` // 0.05
	TierFloorUSDT           map[Tier]float64   `yaml:"tier_floor_usdt"`
}

// FollowUpConfig groups the C5 follow-up task delays and queue/kind names.
type FollowUpConfig struct {
	Exchange              string `yaml:"exchange"`
	OrderbookOffsetsSec   []int  `yaml:"orderbook_offsets_sec"`   // 3, 10, 30
	TrajectoryDelayMs     int64  `yaml:"trajectory_delay_ms"`     // 31*60*1000
	TrajectoryWindowSec   int64  `yaml:"trajectory_window_sec"`   // 30*60
}

func (f FollowUpConfig) PriceQueue() string     { return f.Exchange + "_price" }
func (f FollowUpConfig) OrderbookQueue() string { return f.Exchange + "_order" }
func (f FollowUpConfig) PriceKind() string      { return f.Exchange + "_price" }
func (f FollowUpConfig) OrderbookKind() string  { return f.Exchange + "_orderbook" }

// RedisConfig configures D1 (bar store) / D2 (delayed queue).
type RedisConfig struct {
	Addr              string `yaml:"addr"`
	DB                int    `yaml:"db"`
	TLS               bool   `yaml:"tls"`
	BarTTLDays        int    `yaml:"bar_ttl_days"` // 45
}

// PostgresConfig configures D3 (signal/orderbook/trajectory documents).
type PostgresConfig struct {
	DSN            string        `yaml:"dsn"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
}

// RESTConfig configures the C7 depth-snapshot REST client's circuit
// breaker and rate limiter.
type RESTConfig struct {
	RPS              float64       `yaml:"rps"`
	Burst            int           `yaml:"burst"`
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

// Config is the full typed configuration bag.
type Config struct {
	EWMA        EWMAConfig     `yaml:"ewma"`
	EMA         EMAConfig      `yaml:"ema"`
	PPO         PPOConfig      `yaml:"ppo"`
	Gate        GateConfig     `yaml:"gate"`
	FollowUp    FollowUpConfig `yaml:"followup"`
	Redis       RedisConfig    `yaml:"redis"`
	Postgres    PostgresConfig `yaml:"postgres"`
	REST        RESTConfig     `yaml:"rest"`
	DefaultTier Tier           `yaml:"default_tier"`
	SymbolTiers map[string]Tier `yaml:"symbol_tiers"`
}

// TierFor returns the configured tier for symbol, falling back to
// DefaultTier when the symbol has no explicit entry.
func (c *Config) TierFor(symbol string) Tier {
	if t, ok := c.SymbolTiers[symbol]; ok {
		return t
	}
	return c.DefaultTier
}

// Default returns the configuration with every default value named in
// spec.md §4 and §6.
func Default() *Config {
	return &Config{
		EWMA: EWMAConfig{
			VolumeFast:   0.1175,
			VolumeMedium: 0.00416,
			VolumeSlow:   0.000833,
			TakerRatio:   0.20,
			PriceSlope:   0.4,
		},
		EMA: EMAConfig{Fast: 9, Mid: 21, Slow: 50},
		PPO: PPOConfig{Fast: 3, Slow: 10, Signal: 16},
		Gate: GateConfig{
			CheckSignalIntervalMs:   250,
			PriceBucketDurationMs:   100,
			AggTradeBufferSize:      250,
			PriceLookbackWindowMs:   2500,
			PriceSlopeZScore:        1.9,
			MinTradesIn1s:           5,
			MaxBidAskSpreadPct:      0.003,
			MinVolumeSpikeRatio1m5m: 1.5,
			VolumeAccelZScore:       2.0,
			SignalCooldownMs:        6000,
			TimeCacheDurationMs:     60000,
			MinTicker24hVolumeUsdt:  1_000_000,
			ExpectedTradeSize:       500,
			MinExecutionMultiplier:  5,
			Min1sVolumeSum:          500,
			NormalizedSpreadMax:     3.0,
			DynVolumeThreshMin:      2.5,
			DynVolumeThreshMax:      20.0,
			DynVolumeThreshBase:     4.0,
			TierVolatilityCap: map[Tier]float64{
				TierMega:  0.50,
				TierLarge: 0.80,
				TierMid:   1.20,
				TierSmall: 2.00,
				TierMicro: 3.00,
			},
			TierVolatilityFloor: 0.05,
			TierFloorUSDT: map[Tier]float64{
				TierMega:  1000,
				TierLarge: 600,
				TierMid:   500,
				TierSmall: 400,
				TierMicro: 300,
			},
		},
		FollowUp: FollowUpConfig{
			Exchange:            "binance",
			OrderbookOffsetsSec: []int{3, 10, 30},
			TrajectoryDelayMs:   31 * 60 * 1000,
			TrajectoryWindowSec: 30 * 60,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			BarTTLDays: 45,
		},
		Postgres: PostgresConfig{
			DSN:          "postgres://localhost:5432/microsignal?sslmode=disable",
			QueryTimeout: 5 * time.Second,
		},
		REST: RESTConfig{
			RPS:              5,
			Burst:            10,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			OpenTimeout:      10 * time.Second,
			RequestTimeout:   3 * time.Second,
		},
		DefaultTier: TierMid,
		SymbolTiers: map[string]Tier{
			"BTCUSDT": TierMega,
			"ETHUSDT": TierMega,
			"BNBUSDT": TierLarge,
		},
	}
}

// Load reads a YAML file and overlays it on Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
