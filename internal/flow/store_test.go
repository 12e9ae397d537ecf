package flow

import (
	"reflect"
	"testing"

	"uavnetsim/internal/logging"
	"uavnetsim/internal/wire"
)

func TestNewStoreHasBootstrapFlow(t *testing.T) {
	s := NewStore(logging.Discard())
	if s.Len() != 1 || !s.Contains(BootstrapID) {
		t.Fatalf("expected only bootstrap flow, got %+v", s.Snapshot())
	}
	d, _ := s.Get(BootstrapID)
	if d.MeanDelay != 0 || d.MeanJitter != 0 || d.LossProbability() != 0 {
		t.Fatalf("bootstrap flow should carry no impairment: %+v", d)
	}
}

func TestUpsertReplacesWholesale(t *testing.T) {
	s := NewStore(logging.Discard())
	s.Upsert(2, Descriptor{MeanDelay: 100, MeanJitter: 10, PacketLoss: 1, TxPackets: 4, Source: "a"})
	s.Upsert(2, Descriptor{MeanDelay: 50})
	d, ok := s.Get(2)
	if !ok {
		t.Fatalf("flow 2 missing")
	}
	want := Descriptor{FlowID: 2, MeanDelay: 50}
	if d != want {
		t.Fatalf("got %+v, want %+v", d, want)
	}
}

func TestUpsertClampsNegativeDelay(t *testing.T) {
	s := NewStore(logging.Discard())
	s.Upsert(3, Descriptor{MeanDelay: -5})
	if d, _ := s.Get(3); d.MeanDelay != 0 {
		t.Fatalf("MeanDelay = %v, want 0", d.MeanDelay)
	}
}

func TestGetUnknownFlow(t *testing.T) {
	s := NewStore(logging.Discard())
	if _, ok := s.Get(42); ok {
		t.Fatalf("expected miss for unknown flow")
	}
	if s.Contains(42) {
		t.Fatalf("Contains(42) = true")
	}
}

func TestResetIsIdempotent(t *testing.T) {
	s := NewStore(logging.Discard())
	s.Upsert(5, Descriptor{MeanDelay: 1})
	s.Reset()
	first := s.Snapshot()
	s.Reset()
	second := s.Snapshot()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("reset not idempotent: %+v vs %+v", first, second)
	}
	if len(second) != 1 || second[0] != Default(BootstrapID) {
		t.Fatalf("expected single bootstrap flow, got %+v", second)
	}
}

func TestIngestNetworkMessage(t *testing.T) {
	s := NewStore(logging.Discard())
	msg := wire.Message{Topic: wire.TopicNetwork, Payload: `{"meanDelay":5000,"meanJitter":1000,"packetLoss":0}`}
	if err := s.Ingest(msg); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	d, _ := s.Get(BootstrapID)
	if d.MeanDelay != 5000 || d.MeanJitter != 1000 || d.PacketLoss != 0 {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	if d.Source != "10.0.0.1" || d.Destination != "10.0.0.2" {
		t.Fatalf("addresses should be kept: %+v", d)
	}
}

func TestIngestPerFlowExtension(t *testing.T) {
	s := NewStore(logging.Discard())
	msg := wire.Message{Topic: wire.TopicNetwork, Payload: `{"meanDelay":10,"meanJitter":1,"packetLoss":2,"flowId":7,"txPackets":8}`}
	if err := s.Ingest(msg); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	d, ok := s.Get(7)
	if !ok || d.TxPackets != 8 || d.LossProbability() != 0.25 {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	if b, _ := s.Get(BootstrapID); b != Default(BootstrapID) {
		t.Fatalf("bootstrap flow should be untouched, got %+v", b)
	}
}

func TestIngestMalformedLeavesStoreUnchanged(t *testing.T) {
	s := NewStore(logging.Discard())
	s.Upsert(BootstrapID, Descriptor{MeanDelay: 42})
	before := s.Snapshot()
	for _, payload := range []string{`{"meanDelay":`, `{"meanJitter":1}`, `nope`} {
		if err := s.Ingest(wire.Message{Topic: wire.TopicNetwork, Payload: payload}); err == nil {
			t.Errorf("expected error for %q", payload)
		}
	}
	if !reflect.DeepEqual(before, s.Snapshot()) {
		t.Fatalf("store changed after malformed input")
	}
}

func TestLossProbability(t *testing.T) {
	cases := []struct {
		loss float64
		tx   int64
		want float64
	}{
		{0, 0, 0},
		{0.2, 0, 0.2},
		{5, 10, 0.5},
		{30, 10, 1},
		{-1, 1, 0},
	}
	for _, c := range cases {
		d := Descriptor{PacketLoss: c.loss, TxPackets: c.tx}
		if got := d.LossProbability(); got != c.want {
			t.Errorf("LossProbability(%v/%v) = %v, want %v", c.loss, c.tx, got, c.want)
		}
	}
}

func TestDeleteKeepsBootstrap(t *testing.T) {
	s := NewStore(logging.Discard())
	s.Upsert(5, Descriptor{MeanDelay: 10})
	s.Delete(5)
	s.Delete(BootstrapID)
	if s.Contains(5) || !s.Contains(BootstrapID) || s.Len() != 1 {
		t.Fatalf("unexpected flows %+v", s.Snapshot())
	}
}
