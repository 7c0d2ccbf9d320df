package tape

import (
	"context"
	"sort"
	"testing"
)

// memStore is an in-memory tape.Store used for tests; it mirrors the
// sorted, time-indexed contract without requiring a live Redis.
type memStore struct {
	bars map[string]map[int64]Bar
}

func newMemStore() *memStore {
	return &memStore{bars: make(map[string]map[int64]Bar)}
}

func (m *memStore) WriteBar(ctx context.Context, pair string, bar Bar) error {
	if m.bars[pair] == nil {
		m.bars[pair] = make(map[int64]Bar)
	}
	m.bars[pair][bar.TsSec] = bar
	return nil
}

func (m *memStore) ReadRange(ctx context.Context, pair string, startSec, endSec int64) ([]Bar, error) {
	var out []Bar
	for ts, bar := range m.bars[pair] {
		if ts >= startSec && ts <= endSec {
			out = append(out, bar)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TsSec < out[j].TsSec })
	return out, nil
}

func TestTape_GapFill(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tp := New(store)

	if err := tp.OnTrade(ctx, "BTCUSDT", 100.0, 10.0, 1_000_000); err != nil {
		t.Fatalf("OnTrade: %v", err)
	}
	if err := tp.OnTrade(ctx, "BTCUSDT", 101.0, 20.0, 1_004_000); err != nil {
		t.Fatalf("OnTrade: %v", err)
	}

	bars, err := tp.GetSecBars(ctx, "BTCUSDT", 1_000_000, 1_004_000)
	if err != nil {
		t.Fatalf("GetSecBars: %v", err)
	}

	// Second 1000 is written by the gap-fill flush when the bucket rolls
	// to 1004; second 1004 is still open in memory and only appears in
	// the store after Flush.
	if len(bars) != 4 {
		t.Fatalf("len(bars) = %d, want 4 (seconds 1000-1003)", len(bars))
	}
	if bars[0].TsSec != 1000 || bars[0].Close != 100.0 {
		t.Fatalf("bars[0] = %+v, want ts=1000 close=100", bars[0])
	}
	for i := 1; i < 4; i++ {
		if bars[i].Close != 100.0 || bars[i].VolumeQuote != 0 {
			t.Fatalf("bars[%d] = %+v, want flat fill at close=100 volume=0", i, bars[i])
		}
	}

	tp.Flush(ctx)
	bars, err = tp.GetSecBars(ctx, "BTCUSDT", 1_004_000, 1_004_000)
	if err != nil {
		t.Fatalf("GetSecBars after flush: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 101.0 {
		t.Fatalf("bars after flush = %+v, want one bar close=101", bars)
	}
}

func TestTape_FlushWritesAllPairs(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	tp := New(store)

	tp.OnTrade(ctx, "BTCUSDT", 100, 1, 0)
	tp.OnTrade(ctx, "ETHUSDT", 50, 1, 0)
	tp.Flush(ctx)

	for _, pair := range []string{"BTCUSDT", "ETHUSDT"} {
		bars, err := tp.GetSecBars(ctx, pair, 0, 0)
		if err != nil || len(bars) != 1 {
			t.Fatalf("GetSecBars(%s) = %v, %v", pair, bars, err)
		}
	}
}
