package scenario

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"uavnetsim/internal/logging"
	"uavnetsim/internal/wire"
)

type recordPublisher struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func (p *recordPublisher) Publish(topic, payload string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, wire.Message{Topic: topic, Payload: payload})
}

func TestLoadScenario(t *testing.T) {
	sc, err := Load("testdata/simple.yaml")
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	if sc.Name != "example" || sc.Description != "basic test scenario" {
		t.Fatalf("unexpected header %+v", sc)
	}
	if len(sc.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(sc.Phases))
	}
	u := sc.Phases[1].Update()
	if u.FlowID == nil || *u.FlowID != 3 || u.TxPackets == nil || *u.TxPackets != 100 || u.PacketLoss != 25 {
		t.Fatalf("unexpected update %+v", u)
	}
	if sc.Phases[0].Update().FlowID != nil {
		t.Fatalf("phase without flow_id must target the bootstrap flow")
	}
}

func TestScenarioTransition(t *testing.T) {
	s := Scenario{
		Phases: []Phase{
			{Name: "a", Next: "c"},
			{Name: "b"},
			{Name: "c"},
		},
	}
	cases := []struct {
		current, next string
		ok            bool
	}{
		{"a", "c", true},
		{"b", "c", true},
		{"c", "", false},
		{"missing", "", false},
	}
	for _, c := range cases {
		next, ok := s.NextPhase(c.current)
		if next != c.next || ok != c.ok {
			t.Errorf("NextPhase(%q) = %q,%v want %q,%v", c.current, next, ok, c.next, c.ok)
		}
	}
	s.Loop = true
	if next, ok := s.NextPhase("c"); !ok || next != "a" {
		t.Fatalf("looping scenario should restart, got %q", next)
	}
}

func TestValidate(t *testing.T) {
	bad := []Scenario{
		{},
		{Phases: []Phase{{Name: "a"}}},
		{Phases: []Phase{{Name: "a", Duration: secs(1)}, {Name: "a", Duration: secs(1)}}},
		{Phases: []Phase{{Name: "a", Duration: secs(1), Next: "z"}}},
		{Phases: []Phase{{Name: "a", Duration: secs(1), MeanDelay: -1}}},
	}
	for i, s := range bad {
		if err := s.Validate(); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestBuiltInArcs(t *testing.T) {
	for name, arc := range BuiltIn() {
		if arc.Description == "" {
			t.Fatalf("arc %s missing description", name)
		}
		if err := arc.Validate(); err != nil {
			t.Fatalf("arc %s: %v", name, err)
		}
	}
}

func TestPlayPublishesEveryPhase(t *testing.T) {
	sc, err := Load("testdata/simple.yaml")
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	pub := &recordPublisher{}
	var phases []string
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := Play(ctx, sc, pub, 10*time.Millisecond, logging.Discard(), func(p Phase) { phases = append(phases, p.Name) }); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if strings.Join(phases, ",") != "clear,lossy" {
		t.Fatalf("phases = %v", phases)
	}
	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.msgs) < 2 {
		t.Fatalf("published %d updates, want at least 2", len(pub.msgs))
	}
	last := pub.msgs[len(pub.msgs)-1]
	u, err := wire.ParseNetworkUpdate(last.Payload)
	if err != nil || last.Topic != wire.TopicNetwork || u.MeanDelay != 50000 {
		t.Fatalf("unexpected last update %+v (%v)", last, err)
	}
}

func TestPlayStopsOnCancel(t *testing.T) {
	sc := BuiltIn()["urban"]
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Play(ctx, &sc, &recordPublisher{}, time.Millisecond, logging.Discard(), nil); err != context.Canceled {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRecordAndReplay(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	base := time.Unix(1000, 0)
	ts := []time.Time{base, base.Add(40 * time.Millisecond), base.Add(80 * time.Millisecond)}
	i := 0
	rec.now = func() time.Time { at := ts[i]; i++; return at }
	rec.Record(wire.TopicNetwork, `{"meanDelay":1,"meanJitter":0,"packetLoss":0}`)
	rec.Record(wire.TopicHeartbeat, "2024-01-01T00:00:00Z")
	rec.Record(wire.TopicNetwork, `{"meanDelay":2,"meanJitter":0,"packetLoss":0}`)
	if rec.Err() != nil {
		t.Fatalf("record: %v", rec.Err())
	}

	pub := &recordPublisher{}
	start := time.Now()
	n, err := Replay(context.Background(), bytes.NewReader(buf.Bytes()), pub, 2)
	if err != nil || n != 3 {
		t.Fatalf("Replay = %d, %v", n, err)
	}
	if elapsed := time.Since(start); elapsed < 35*time.Millisecond {
		t.Fatalf("replay too fast: %v", elapsed)
	}
	if pub.msgs[1].Topic != wire.TopicHeartbeat || pub.msgs[2].Payload != `{"meanDelay":2,"meanJitter":0,"packetLoss":0}` {
		t.Fatalf("unexpected messages %+v", pub.msgs)
	}
}

func TestReplayRejectsBadRecords(t *testing.T) {
	if _, err := Replay(context.Background(), strings.NewReader(`{"ts":"2024-01-01T00:00:00Z","payload":"x"}`), &recordPublisher{}, 0); err == nil {
		t.Fatalf("record without topic accepted")
	}
	if n, err := Replay(context.Background(), strings.NewReader("{not json"), &recordPublisher{}, 0); err == nil || n != 0 {
		t.Fatalf("malformed record accepted")
	}
}
