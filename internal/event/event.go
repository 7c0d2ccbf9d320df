// Package event defines the canonical stream event shape that the
// transport (out of scope) delivers to the dispatch loop, and the
// wire-level parsing of the raw {stream, data} frames into it.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrDropped is returned (with the event silently dropped) for malformed
// frames, unknown stream suffixes, or events with non-finite/non-positive
// required fields.
var ErrDropped = errors.New("event: dropped")

// Event is the canonical tagged-variant event routed to a monitor.
type Event interface {
	// Sym is the upper-cased trading pair, e.g. "BTCUSDT".
	Sym() string
}

// AggTrade is an aggregated trade print.
type AggTrade struct {
	Symbol       string
	Price        float64
	Qty          float64
	EventTimeMs  int64
	BuyerIsMaker bool
}

func (e AggTrade) Sym() string { return e.Symbol }

// Ticker is a rolling 24h ticker snapshot.
type Ticker struct {
	Symbol         string
	QuoteVol24h    float64
	ChangePct24h   float64
	High24h        float64
	Low24h         float64
	Last           float64
}

func (e Ticker) Sym() string { return e.Symbol }

// BookTicker is the best bid/ask quote.
type BookTicker struct {
	Symbol   string
	BestBid  float64
	BestAsk  float64
}

func (e BookTicker) Sym() string { return e.Symbol }

// DepthLevel is one price/size level of a depth snapshot.
type DepthLevel struct {
	Price float64
	Qty   float64
}

// DepthSnapshot is a top-5 order-book snapshot per side.
type DepthSnapshot struct {
	Symbol string
	Bids   [5]DepthLevel
	Asks   [5]DepthLevel
}

func (e DepthSnapshot) Sym() string { return e.Symbol }

// wire frame shapes, field names exactly as spec.md §6 documents them.
type aggTradeWire struct {
	Price        string `json:"p"`
	Qty          string `json:"q"`
	EventTimeMs  int64  `json:"E"`
	BuyerIsMaker bool   `json:"m"`
}

type tickerWire struct {
	QuoteVol24h  string `json:"q"`
	ChangePct24h string `json:"P"`
	High24h      string `json:"h"`
	Low24h       string `json:"l"`
	Last         string `json:"c"`
}

type bookTickerWire struct {
	BestBid string `json:"b"`
	BestAsk string `json:"a"`
}

type depthWire struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// Parse decodes a canonical {stream, data} frame into an Event. stream is
// of the form "<symbol_lc>@<suffix>"; symbol is upper-cased and taken up
// to the first '@'. Unknown suffixes and malformed/non-finite payloads
// return ErrDropped.
func Parse(stream string, data json.RawMessage) (Event, error) {
	at := strings.IndexByte(stream, '@')
	if at <= 0 {
		return nil, fmt.Errorf("event: malformed stream %q: %w", stream, ErrDropped)
	}
	symbol := strings.ToUpper(stream[:at])
	suffix := stream[at+1:]

	switch {
	case suffix == "aggTrade":
		return parseAggTrade(symbol, data)
	case suffix == "ticker":
		return parseTicker(symbol, data)
	case suffix == "bookTicker":
		return parseBookTicker(symbol, data)
	case strings.HasPrefix(suffix, "depth5"):
		return parseDepthSnapshot(symbol, data)
	default:
		return nil, fmt.Errorf("event: unknown stream suffix %q: %w", suffix, ErrDropped)
	}
}

func parseAggTrade(symbol string, data json.RawMessage) (Event, error) {
	var w aggTradeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("event: aggTrade: %w", ErrDropped)
	}
	price, err1 := strconv.ParseFloat(w.Price, 64)
	qty, err2 := strconv.ParseFloat(w.Qty, 64)
	if err1 != nil || err2 != nil || !finitePositive(price) || !finitePositive(qty) {
		return nil, fmt.Errorf("event: aggTrade: %w", ErrDropped)
	}
	return AggTrade{
		Symbol:       symbol,
		Price:        price,
		Qty:          qty,
		EventTimeMs:  w.EventTimeMs,
		BuyerIsMaker: w.BuyerIsMaker,
	}, nil
}

func parseTicker(symbol string, data json.RawMessage) (Event, error) {
	var w tickerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("event: ticker: %w", ErrDropped)
	}
	quoteVol, e1 := strconv.ParseFloat(w.QuoteVol24h, 64)
	changePct, e2 := strconv.ParseFloat(w.ChangePct24h, 64)
	high, e3 := strconv.ParseFloat(w.High24h, 64)
	low, e4 := strconv.ParseFloat(w.Low24h, 64)
	last, e5 := strconv.ParseFloat(w.Last, 64)
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil ||
		!finite(quoteVol) || !finite(changePct) || !finitePositive(high) ||
		!finitePositive(low) || !finitePositive(last) {
		return nil, fmt.Errorf("event: ticker: %w", ErrDropped)
	}
	return Ticker{
		Symbol:       symbol,
		QuoteVol24h:  quoteVol,
		ChangePct24h: changePct,
		High24h:      high,
		Low24h:       low,
		Last:         last,
	}, nil
}

func parseBookTicker(symbol string, data json.RawMessage) (Event, error) {
	var w bookTickerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("event: bookTicker: %w", ErrDropped)
	}
	bid, e1 := strconv.ParseFloat(w.BestBid, 64)
	ask, e2 := strconv.ParseFloat(w.BestAsk, 64)
	if e1 != nil || e2 != nil || !finitePositive(bid) || !finitePositive(ask) {
		return nil, fmt.Errorf("event: bookTicker: %w", ErrDropped)
	}
	if ask <= bid {
		return nil, fmt.Errorf("event: bookTicker: ask<=bid: %w", ErrDropped)
	}
	return BookTicker{Symbol: symbol, BestBid: bid, BestAsk: ask}, nil
}

func parseDepthSnapshot(symbol string, data json.RawMessage) (Event, error) {
	var w depthWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("event: depth: %w", ErrDropped)
	}
	if len(w.Bids) < 5 || len(w.Asks) < 5 {
		return nil, fmt.Errorf("event: depth: insufficient levels: %w", ErrDropped)
	}
	var out DepthSnapshot
	out.Symbol = symbol
	for i := 0; i < 5; i++ {
		bp, e1 := strconv.ParseFloat(w.Bids[i][0], 64)
		bq, e2 := strconv.ParseFloat(w.Bids[i][1], 64)
		ap, e3 := strconv.ParseFloat(w.Asks[i][0], 64)
		aq, e4 := strconv.ParseFloat(w.Asks[i][1], 64)
		if e1 != nil || e2 != nil || e3 != nil || e4 != nil ||
			!finitePositive(bp) || !finitePositive(bq) || !finitePositive(ap) || !finitePositive(aq) {
			return nil, fmt.Errorf("event: depth: %w", ErrDropped)
		}
		out.Bids[i] = DepthLevel{Price: bp, Qty: bq}
		out.Asks[i] = DepthLevel{Price: ap, Qty: aq}
	}
	return out, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finitePositive(v float64) bool {
	return finite(v) && v > 0
}
