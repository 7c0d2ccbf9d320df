// Package tape maintains per-pair second-resolution OHLCV bars built
// from trade prints, with gap-fill for seconds with no trades, and
// persists completed bars to an external sorted, time-indexed store.
package tape

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Bar is a second-resolution OHLCV bar. VolumeQuote accumulates
// price*qty in quote currency.
type Bar struct {
	TsSec       int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	VolumeQuote float64
}

// Store is the sorted, time-indexed external store backing the tape.
// Implementations (e.g. redisstore.Store) namespace keys per pair and
// refresh TTL on every write.
type Store interface {
	WriteBar(ctx context.Context, pair string, bar Bar) error
	ReadRange(ctx context.Context, pair string, startSec, endSec int64) ([]Bar, error)
}

// Tape owns the per-pair in-progress bar builders. It is mutated only by
// the dispatch loop's goroutine; no internal locking is performed.
type Tape struct {
	store   Store
	current map[string]*Bar
}

// New creates a Tape backed by store.
func New(store Store) *Tape {
	return &Tape{
		store:   store,
		current: make(map[string]*Bar),
	}
}

// OnTrade updates the current second bar for pair. If tsMs falls in a
// later second than the open bucket, the open bucket is flushed, every
// intervening second is filled with a flat bar at the last close with
// zero volume, and a new bucket is opened.
func (t *Tape) OnTrade(ctx context.Context, pair string, price, volumeQuote float64, tsMs int64) error {
	sec := tsMs / 1000
	cur, ok := t.current[pair]
	if !ok {
		t.current[pair] = &Bar{TsSec: sec, Open: price, High: price, Low: price, Close: price, VolumeQuote: volumeQuote}
		return nil
	}

	switch {
	case sec == cur.TsSec:
		if price > cur.High {
			cur.High = price
		}
		if price < cur.Low {
			cur.Low = price
		}
		cur.Close = price
		cur.VolumeQuote += volumeQuote
		return nil

	case sec > cur.TsSec:
		if err := t.flushBar(ctx, pair, *cur); err != nil {
			return err
		}
		prevClose := cur.Close
		for s := cur.TsSec + 1; s < sec; s++ {
			flat := Bar{TsSec: s, Open: prevClose, High: prevClose, Low: prevClose, Close: prevClose, VolumeQuote: 0}
			if err := t.flushBar(ctx, pair, flat); err != nil {
				return err
			}
		}
		t.current[pair] = &Bar{TsSec: sec, Open: price, High: price, Low: price, Close: price, VolumeQuote: volumeQuote}
		return nil

	default:
		// Late trade relative to the open bucket; the tape is not the
		// consumer of strict event-time ordering (the monitor's 1s window
		// is), so it is dropped rather than corrupting an already-open bar.
		return nil
	}
}

// GetSecBars returns every bar with tsSec in
// [floor(startMs/1000), floor(endMs/1000)], ascending by time.
func (t *Tape) GetSecBars(ctx context.Context, pair string, startMs, endMs int64) ([]Bar, error) {
	startSec := startMs / 1000
	endSec := endMs / 1000
	bars, err := t.store.ReadRange(ctx, pair, startSec, endSec)
	if err != nil {
		return nil, fmt.Errorf("tape: read range for %s: %w", pair, err)
	}
	return bars, nil
}

// Flush persists the in-memory current bar for every pair. Best-effort:
// a failure on one pair is logged and flushing continues for the rest.
func (t *Tape) Flush(ctx context.Context) {
	for pair, bar := range t.current {
		if err := t.flushBar(ctx, pair, *bar); err != nil {
			log.Error().Err(err).Str("pair", pair).Msg("tape: flush failed")
		}
	}
}

func (t *Tape) flushBar(ctx context.Context, pair string, bar Bar) error {
	if err := t.store.WriteBar(ctx, pair, bar); err != nil {
		log.Error().Err(err).Str("pair", pair).Int64("ts_sec", bar.TsSec).Msg("tape: write failed, bar remains authoritative in memory only")
		return nil
	}
	return nil
}
