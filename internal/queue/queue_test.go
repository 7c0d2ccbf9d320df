package queue

import (
	"encoding/json"
	"testing"
)

func TestTask_JSONRoundTrip(t *testing.T) {
	want := Task{
		ID:           "11111111-1111-1111-1111-111111111111",
		Kind:         "binance_orderbook",
		Payload:      json.RawMessage(`{"symbol":"BTCUSDT"}`),
		EnqueuedAtMs: 1_000_000,
		DispatchAtMs: 1_003_000,
	}
	body, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Task
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != want.ID || got.Kind != want.Kind || got.EnqueuedAtMs != want.EnqueuedAtMs || got.DispatchAtMs != want.DispatchAtMs {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
	if string(got.Payload) != string(want.Payload) {
		t.Fatalf("payload mismatch: got %s want %s", got.Payload, want.Payload)
	}
}

func TestKey_NamespacesByQueueName(t *testing.T) {
	if key("binance_order") != "queue:{binance_order}" {
		t.Fatalf("unexpected key: %s", key("binance_order"))
	}
}
