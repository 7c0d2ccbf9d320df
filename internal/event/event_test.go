package event

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParse_AggTrade(t *testing.T) {
	raw := json.RawMessage(`{"p":"100.00","q":"1.5","E":1700000000000,"m":false}`)
	ev, err := Parse("btcusdt@aggTrade", raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	at, ok := ev.(AggTrade)
	if !ok {
		t.Fatalf("Parse() = %T, want AggTrade", ev)
	}
	if at.Symbol != "BTCUSDT" || at.Price != 100.0 || at.Qty != 1.5 || at.BuyerIsMaker {
		t.Fatalf("unexpected AggTrade: %+v", at)
	}
}

func TestParse_BookTicker_RejectsCrossedBook(t *testing.T) {
	raw := json.RawMessage(`{"b":"100.02","a":"100.00"}`)
	_, err := Parse("ethusdt@bookTicker", raw)
	if !errors.Is(err, ErrDropped) {
		t.Fatalf("Parse() error = %v, want ErrDropped", err)
	}
}

func TestParse_UnknownStream(t *testing.T) {
	_, err := Parse("ethusdt@unknownSuffix", json.RawMessage(`{}`))
	if !errors.Is(err, ErrDropped) {
		t.Fatalf("Parse() error = %v, want ErrDropped", err)
	}
}

func TestParse_DepthSnapshot(t *testing.T) {
	raw := json.RawMessage(`{
		"bids":[["100.0","1"],["99.9","2"],["99.8","3"],["99.7","4"],["99.6","5"]],
		"asks":[["100.1","1"],["100.2","2"],["100.3","3"],["100.4","4"],["100.5","5"]]
	}`)
	ev, err := Parse("btcusdt@depth5@100ms", raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	ds, ok := ev.(DepthSnapshot)
	if !ok {
		t.Fatalf("Parse() = %T, want DepthSnapshot", ev)
	}
	if ds.Bids[0].Price != 100.0 || ds.Asks[4].Qty != 5 {
		t.Fatalf("unexpected DepthSnapshot: %+v", ds)
	}
}

func TestParse_NonPositiveRejected(t *testing.T) {
	raw := json.RawMessage(`{"p":"-1","q":"1.5","E":1,"m":false}`)
	_, err := Parse("btcusdt@aggTrade", raw)
	if !errors.Is(err, ErrDropped) {
		t.Fatalf("Parse() error = %v, want ErrDropped", err)
	}
}
