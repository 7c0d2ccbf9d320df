// Package transport implements the reference market-data transport: a
// gorilla/websocket client against Binance's combined stream endpoint,
// normalizing raw frames into event.Event via event.Parse.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sawpanic/microsignal/internal/event"
)

const (
	combinedStreamBaseURL = "wss://stream.binance.com:9443/stream"
	reconnectBackoff      = 2 * time.Second
	pingInterval          = 20 * time.Second
)

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// BinanceTransport maintains a combined-stream websocket connection and
// emits parsed event.Event values on Events().
type BinanceTransport struct {
	streams []string
	events  chan event.Event
	cancel  context.CancelFunc
	done    chan struct{}
	log     zerolog.Logger
}

// NewBinanceTransport builds the combined-stream subscription for every
// symbol, wiring aggTrade, bookTicker, ticker, and depth5@100ms streams.
func NewBinanceTransport(symbols []string, log zerolog.Logger) *BinanceTransport {
	streams := make([]string, 0, len(symbols)*4)
	for _, sym := range symbols {
		lower := strings.ToLower(sym)
		streams = append(streams,
			lower+"@aggTrade",
			lower+"@bookTicker",
			lower+"@ticker",
			lower+"@depth5@100ms",
		)
	}
	return &BinanceTransport{
		streams: streams,
		events:  make(chan event.Event, 1024),
		done:    make(chan struct{}),
		log:     log.With().Str("component", "transport").Logger(),
	}
}

// Events returns the channel events are published on.
func (t *BinanceTransport) Events() <-chan event.Event { return t.events }

// Run connects and reconnects with a fixed backoff until ctx is
// cancelled or Close is called.
func (t *BinanceTransport) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	defer close(t.done)
	defer close(t.events)

	for {
		if ctx.Err() != nil {
			return
		}
		if err := t.connectAndRead(ctx); err != nil {
			t.log.Error().Err(err).Msg("websocket session ended, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectBackoff):
		}
	}
}

// Close cancels the connection loop and waits for it to exit.
func (t *BinanceTransport) Close() error {
	if t.cancel != nil {
		t.cancel()
	}
	<-t.done
	return nil
}

func (t *BinanceTransport) streamURL() string {
	v := url.Values{}
	v.Set("streams", strings.Join(t.streams, "/"))
	return combinedStreamBaseURL + "?" + v.Encode()
}

func (t *BinanceTransport) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, t.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("transport: dial: %w", err)
	}
	defer conn.Close()

	go t.pingLoop(ctx, conn)

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("transport: read: %w", err)
		}

		var frame combinedFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			t.log.Warn().Err(err).Msg("malformed combined-stream frame, dropped")
			continue
		}

		ev, err := event.Parse(frame.Stream, frame.Data)
		if err != nil {
			t.log.Debug().Err(err).Str("stream", frame.Stream).Msg("dropped frame")
			continue
		}

		select {
		case t.events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *BinanceTransport) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
