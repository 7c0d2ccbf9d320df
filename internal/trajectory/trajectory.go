// Package trajectory implements C6: the 31-minutes-after worker that
// resamples a signal's 30 minutes of second bars onto a fixed offset
// grid and derives its realised 30-minute volatility.
package trajectory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/sawpanic/microsignal/internal/tape"
)

// Offsets is the fixed second-offset grid sampled relative to the
// signal timestamp: every second for the first 30s, then 45s, then
// every 30s out to 1800s excluding the spec's documented 2100s outlier.
var Offsets = buildOffsets()

func buildOffsets() []int {
	out := make([]int, 0, 64)
	for s := 1; s <= 30; s++ {
		out = append(out, s)
	}
	out = append(out, 45)
	for s := 60; s <= 1800; s += 30 {
		if s == 2100 {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Point is a single resampled (offsetSec, price, volume) observation.
// Price is nil only when the window has no bars at all; otherwise it
// resolves to the first bar at-or-after the offset, falling back to the
// last available bar once the offset runs past the end of the window.
type Point struct {
	OffsetSec int      `json:"offset_sec"`
	Price     *float64 `json:"price"`
	Volume    float64  `json:"volume"`
}

// Document is the persisted trajectory record.
type Document struct {
	SignalID int64   `json:"signal_id"`
	Symbol   string  `json:"symbol"`
	Points   []Point `json:"points"`
	Sigma30m *float64 `json:"sigma_30m"`
}

// Store reads second bars; it is satisfied by *tape.Tape.
type Store interface {
	GetSecBars(ctx context.Context, pair string, startMs, endMs int64) ([]tape.Bar, error)
}

// Repo persists the finished trajectory document.
type Repo interface {
	InsertTrajectory(ctx context.Context, doc *Document) error
}

// Worker resamples and persists trajectory documents.
type Worker struct {
	store Store
	repo  Repo
	log   zerolog.Logger
}

// New constructs a Worker.
func New(store Store, repo Repo, log zerolog.Logger) *Worker {
	return &Worker{store: store, repo: repo, log: log.With().Str("component", "trajectory").Logger()}
}

// Process resamples the 30 minutes of bars following signalTsMs for
// symbol onto Offsets, computes sigma30m, and persists the result. When
// no bars are available it logs a warning and persists a document with
// every price and sigma30m set to null, per the no-data tolerance the
// rest of the pipeline expects.
func (w *Worker) Process(ctx context.Context, signalID int64, symbol string, signalTsMs int64) error {
	endMs := signalTsMs + 1800*1000 - 1000
	bars, err := w.store.GetSecBars(ctx, symbol, signalTsMs, endMs)
	if err != nil {
		return fmt.Errorf("trajectory: read bars for %s: %w", symbol, err)
	}

	if len(bars) == 0 {
		w.log.Warn().Str("symbol", symbol).Int64("signal_id", signalID).Msg("no bars available for trajectory window, persisting null document")
		return w.repo.InsertTrajectory(ctx, &Document{SignalID: signalID, Symbol: symbol, Points: nullPoints()})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].TsSec < bars[j].TsSec })
	lastBar := bars[len(bars)-1]
	baseSec := signalTsMs / 1000

	points := make([]Point, 0, len(Offsets))
	var rets []float64
	var prevPrice float64
	havePrev := false
	idx := 0
	for _, offset := range Offsets {
		target := baseSec + int64(offset)
		for idx < len(bars) && bars[idx].TsSec < target {
			idx++
		}
		bar := lastBar
		if idx < len(bars) {
			bar = bars[idx]
		}

		price := bar.Close
		if havePrev && prevPrice > 0 && price > 0 {
			rets = append(rets, math.Log(price/prevPrice))
		}
		prevPrice = price
		havePrev = true

		points = append(points, Point{OffsetSec: offset, Price: &price, Volume: bar.VolumeQuote})
	}

	doc := &Document{SignalID: signalID, Symbol: symbol, Points: points}
	if len(rets) >= 2 {
		sigma := stddevPopulation(rets)
		doc.Sigma30m = &sigma
	}

	if err := w.repo.InsertTrajectory(ctx, doc); err != nil {
		return fmt.Errorf("trajectory: persist for %s: %w", symbol, err)
	}
	return nil
}

func nullPoints() []Point {
	pts := make([]Point, 0, len(Offsets))
	for _, o := range Offsets {
		pts = append(pts, Point{OffsetSec: o})
	}
	return pts
}

func stddevPopulation(xs []float64) float64 {
	n := len(xs)
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mu := sum / float64(n)
	var ss float64
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(n))
}
