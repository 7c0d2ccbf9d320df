// Package orderbook implements C7: the depth-5 snapshot worker that
// fires at +3s/+10s/+30s after a signal, fetches a REST snapshot behind
// a circuit breaker and rate limiter, derives the same depth features
// the streaming monitor computes, and appends them to the signal's
// orderbook document.
package orderbook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/microsignal/internal/net/circuit"
	"github.com/sawpanic/microsignal/internal/net/ratelimit"
)

// Snapshot is a depth-5 REST response, already flattened to floats.
type Snapshot struct {
	BidPrices [5]float64
	BidQtys   [5]float64
	AskPrices [5]float64
	AskQtys   [5]float64
}

// Fetcher retrieves a depth-5 snapshot for symbol from an exchange REST
// endpoint.
type Fetcher interface {
	FetchDepth(ctx context.Context, symbol string) (Snapshot, error)
}

// Sample is the derived feature set appended to the signal's orderbook
// document's snapshots array.
type Sample struct {
	OffsetSec          int     `json:"tOffsetSec"`
	TsMs               int64   `json:"tsMs"`
	BidSum             float64 `json:"bidSum"`
	AskSum             float64 `json:"askSum"`
	Imbalance          float64 `json:"imbalance"`
	BidSumUsdt         float64 `json:"bidSumUsdt"`
	AskSumUsdt         float64 `json:"askSumUsdt"`
	TotalLiquidityUsdt float64 `json:"totalLiquidityUsdt"`
	ImbalanceUsdt      float64 `json:"imbalanceUsdt"`
	MidPrice           float64 `json:"midPrice"`
	BestBid            float64 `json:"bestBid"`
	BestAsk            float64 `json:"bestAsk"`
	SpreadBps          float64 `json:"spreadBps"`
}

// Repo appends a sample to symbol's orderbook document, keyed by signal
// id, setting the document's symbol field on first insert.
type Repo interface {
	AppendOrderbookSample(ctx context.Context, signalID int64, symbol string, sample Sample) error
}

// Worker fetches and persists orderbook samples.
type Worker struct {
	fetcher  Fetcher
	repo     Repo
	breaker  *circuit.Breaker
	limiter  *ratelimit.Limiter
	host     string
	log      zerolog.Logger
}

// New constructs a Worker. breaker and limiter are shared with every
// other caller of the same upstream REST endpoint.
func New(fetcher Fetcher, repo Repo, breaker *circuit.Breaker, limiter *ratelimit.Limiter, host string, log zerolog.Logger) *Worker {
	return &Worker{
		fetcher: fetcher,
		repo:    repo,
		breaker: breaker,
		limiter: limiter,
		host:    host,
		log:     log.With().Str("component", "orderbook").Logger(),
	}
}

// Process fetches a depth snapshot for symbol and appends its derived
// sample to signalID's orderbook document. A REST failure (rate-limit
// wait error, circuit-open, or the fetch itself) is logged and the
// sample is skipped rather than surfaced as a fatal error, per the
// tolerant persistence contract the rest of the pipeline expects.
func (w *Worker) Process(ctx context.Context, signalID int64, symbol string, offsetSec int) error {
	if err := w.limiter.Wait(ctx, w.host); err != nil {
		w.log.Warn().Err(err).Str("symbol", symbol).Msg("rate limiter wait failed, skipping orderbook sample")
		return nil
	}

	var snap Snapshot
	err := w.breaker.Call(ctx, func(ctx context.Context) error {
		s, err := w.fetcher.FetchDepth(ctx, symbol)
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	if err != nil {
		w.log.Warn().Err(err).Str("symbol", symbol).Msg("depth fetch failed, skipping orderbook sample")
		return nil
	}

	sample := deriveSample(offsetSec, time.Now().UnixMilli(), snap)
	if err := w.repo.AppendOrderbookSample(ctx, signalID, symbol, sample); err != nil {
		return fmt.Errorf("orderbook: append sample for signal %d: %w", signalID, err)
	}
	return nil
}

func deriveSample(offsetSec int, tsMs int64, s Snapshot) Sample {
	const epsilon = 1e-8

	var bidSum, askSum float64
	for i := 0; i < 5; i++ {
		bidSum += s.BidQtys[i]
		askSum += s.AskQtys[i]
	}

	bestBid, bestAsk := s.BidPrices[0], s.AskPrices[0]
	mid := (bestBid + bestAsk) / 2
	bidSumUsdt := bidSum * mid
	askSumUsdt := askSum * mid
	totalUsdt := bidSumUsdt + askSumUsdt
	spreadBps := 0.0
	if bestAsk > 0 {
		spreadBps = (bestAsk - bestBid) / bestAsk * 1e4
	}

	return Sample{
		OffsetSec:          offsetSec,
		TsMs:               tsMs,
		BidSum:             bidSum,
		AskSum:             askSum,
		Imbalance:          (bidSum - askSum) / (bidSum + askSum + epsilon),
		BidSumUsdt:         bidSumUsdt,
		AskSumUsdt:         askSumUsdt,
		TotalLiquidityUsdt: totalUsdt,
		ImbalanceUsdt:      (bidSumUsdt - askSumUsdt) / (totalUsdt + epsilon),
		MidPrice:           mid,
		BestBid:            bestBid,
		BestAsk:            bestAsk,
		SpreadBps:          spreadBps,
	}
}

// RESTFetcher is the real Fetcher, issuing depth-5 REST calls over
// http.Client.
type RESTFetcher struct {
	client  *http.Client
	baseURL string
}

// NewRESTFetcher constructs a RESTFetcher against baseURL (e.g.
// "https://api.binance.com").
func NewRESTFetcher(client *http.Client, baseURL string) *RESTFetcher {
	return &RESTFetcher{client: client, baseURL: baseURL}
}

type depthRESTResponse struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
}

// FetchDepth issues a GET /api/v3/depth?symbol=...&limit=5 request.
func (f *RESTFetcher) FetchDepth(ctx context.Context, symbol string) (Snapshot, error) {
	url := fmt.Sprintf("%s/api/v3/depth?symbol=%s&limit=5", f.baseURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("orderbook: build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("orderbook: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("orderbook: unexpected status %d for %s", resp.StatusCode, symbol)
	}

	var body depthRESTResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Snapshot{}, fmt.Errorf("orderbook: decode response: %w", err)
	}

	return parseSnapshot(body)
}

func parseSnapshot(body depthRESTResponse) (Snapshot, error) {
	if len(body.Bids) < 5 || len(body.Asks) < 5 {
		return Snapshot{}, fmt.Errorf("orderbook: expected 5 levels per side, got %d bids %d asks", len(body.Bids), len(body.Asks))
	}
	var snap Snapshot
	for i := 0; i < 5; i++ {
		var err error
		if snap.BidPrices[i], err = parseFloat(body.Bids[i][0]); err != nil {
			return Snapshot{}, err
		}
		if snap.BidQtys[i], err = parseFloat(body.Bids[i][1]); err != nil {
			return Snapshot{}, err
		}
		if snap.AskPrices[i], err = parseFloat(body.Asks[i][0]); err != nil {
			return Snapshot{}, err
		}
		if snap.AskQtys[i], err = parseFloat(body.Asks[i][1]); err != nil {
			return Snapshot{}, err
		}
	}
	return snap, nil
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("orderbook: parse float %q: %w", s, err)
	}
	return v, nil
}
