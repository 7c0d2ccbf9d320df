package transport

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewBinanceTransport_BuildsFourStreamsPerSymbol(t *testing.T) {
	tr := NewBinanceTransport([]string{"BTCUSDT", "ETHUSDT"}, zerolog.Nop())
	if len(tr.streams) != 8 {
		t.Fatalf("expected 4 streams per symbol for 2 symbols, got %d: %v", len(tr.streams), tr.streams)
	}
	if tr.streams[0] != "btcusdt@aggTrade" {
		t.Fatalf("expected lowercase symbol prefix, got %s", tr.streams[0])
	}
}

func TestStreamURL_EncodesCombinedStreamsParam(t *testing.T) {
	tr := NewBinanceTransport([]string{"BTCUSDT"}, zerolog.Nop())
	u := tr.streamURL()
	if !strings.HasPrefix(u, combinedStreamBaseURL+"?streams=") {
		t.Fatalf("expected URL to start with the combined stream base and streams param, got %s", u)
	}
	if !strings.Contains(u, "aggTrade") {
		t.Fatalf("expected URL to reference the aggTrade stream, got %s", u)
	}
}
