package netem

import (
	"math"
	"math/rand"
	"testing"

	"uavnetsim/internal/flow"
	"uavnetsim/internal/logging"
)

func newTestEngine(seed int64) (*Engine, *flow.Store) {
	store := flow.NewStore(logging.Discard())
	return New(store, rand.New(rand.NewSource(seed)), logging.Discard()), store
}

// fixedRand returns the same value on every draw.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func TestDecideUnknownFlow(t *testing.T) {
	dec := Decide(flow.Descriptor{MeanDelay: 5000, PacketLoss: 1}, false, fixedRand(0))
	if dec.Delay != 0 || dec.CanSkip {
		t.Fatalf("unknown flow should be unimpaired, got %+v", dec)
	}
}

func TestDecideBounds(t *testing.T) {
	d := flow.Descriptor{MeanDelay: 10000, MeanJitter: 2000}
	if got := Decide(d, true, fixedRand(0)).Delay; math.Abs(got-0.008) > 1e-12 {
		t.Fatalf("low edge = %v, want 0.008", got)
	}
	if got := Decide(d, true, fixedRand(0.5)).Delay; math.Abs(got-0.010) > 1e-12 {
		t.Fatalf("midpoint = %v, want 0.010", got)
	}
}

func TestDelayDistribution(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	d := flow.Descriptor{MeanDelay: 10000, MeanJitter: 2000}
	const n = 10000
	sum := 0.0
	for i := 0; i < n; i++ {
		dec := Decide(d, true, r)
		if dec.Delay < 0.008 || dec.Delay > 0.012 {
			t.Fatalf("delay %v outside [0.008, 0.012]", dec.Delay)
		}
		sum += dec.Delay
	}
	if mean := sum / n; math.Abs(mean-0.010) > 1e-4 {
		t.Fatalf("mean delay %v, want ~0.010", mean)
	}
}

func TestDelayClampedAtZero(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	d := flow.Descriptor{MeanDelay: 100, MeanJitter: 500}
	zeros := 0
	for i := 0; i < 1000; i++ {
		dec := Decide(d, true, r)
		if dec.Delay < 0 {
			t.Fatalf("negative delay %v", dec.Delay)
		}
		if dec.Delay == 0 {
			zeros++
		}
	}
	if zeros == 0 {
		t.Fatalf("expected some clamped delays")
	}
}

func TestLossFraction(t *testing.T) {
	cases := []struct {
		loss float64
		tx   int64
		want float64
	}{
		{30, 100, 0.3},
		{0.1, 0, 0.1},
		{0, 10, 0},
		{50, 10, 1},
	}
	for _, c := range cases {
		r := rand.New(rand.NewSource(99))
		d := flow.Descriptor{PacketLoss: c.loss, TxPackets: c.tx}
		const n = 10000
		skipped := 0
		for i := 0; i < n; i++ {
			if Decide(d, true, r).CanSkip {
				skipped++
			}
		}
		if got := float64(skipped) / n; math.Abs(got-c.want) > 0.02 {
			t.Errorf("loss %v/%v: skip fraction %v, want ~%v", c.loss, c.tx, got, c.want)
		}
	}
}

func TestZeroDelayDeliveredOnNextTick(t *testing.T) {
	e, _ := newTestEngine(1)
	var got any
	e.EnqueueTelemetry("hello", 1, func(v any) { got = v })
	e.Tick(0)
	if got != "hello" {
		t.Fatalf("callback got %v, want hello", got)
	}
	if e.Len() != 0 {
		t.Fatalf("queue should be empty, has %d", e.Len())
	}
}

func TestUnknownFlowIsImmediate(t *testing.T) {
	e, _ := newTestEngine(1)
	fired := false
	e.EnqueueCommand(77, func() { fired = true })
	e.Tick(0)
	if !fired {
		t.Fatalf("unknown flow should not be delayed")
	}
}

func TestSameKindOrdering(t *testing.T) {
	e, store := newTestEngine(1)
	store.Upsert(1, flow.Descriptor{MeanDelay: 1000})
	var order []string
	e.EnqueueCommand(1, func() { order = append(order, "A") })
	e.EnqueueCommand(1, func() { order = append(order, "B") })
	e.Tick(0.0005)
	if len(order) != 0 {
		t.Fatalf("delivered too early: %v", order)
	}
	e.Tick(0.0005)
	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("order = %v, want [A B]", order)
	}
}

func TestSkippedItemNeverDelivered(t *testing.T) {
	e, store := newTestEngine(1)
	store.Upsert(1, flow.Descriptor{PacketLoss: 1, TxPackets: 1})
	var drops []Drop
	e.SetDropHandler(func(d Drop) { drops = append(drops, d) })
	fired := false
	id := e.EnqueueFrame([]byte{1}, 1, 9, func(Frame) { fired = true })
	for i := 0; i < 10; i++ {
		e.Tick(100)
	}
	if fired {
		t.Fatalf("skipped item was delivered")
	}
	if len(drops) != 1 || drops[0].ID != id || drops[0].Cause != CauseLost || drops[0].Kind != KindFrame {
		t.Fatalf("unexpected drops %+v", drops)
	}
	if s := e.Stats()[KindFrame]; s.Dropped != 1 || s.Delivered != 0 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestCumulativeDelay(t *testing.T) {
	e, store := newTestEngine(1)
	store.Upsert(1, flow.Descriptor{MeanDelay: 10000, MeanJitter: 0, PacketLoss: 0, TxPackets: 1})
	fired := 0
	e.EnqueueTelemetry(struct{}{}, 1, func(any) { fired++ })
	e.Tick(0.005)
	if fired != 0 {
		t.Fatalf("fired after first tick")
	}
	e.Tick(0.006)
	if fired != 1 {
		t.Fatalf("fired = %d after second tick, want 1", fired)
	}
	e.Tick(1)
	if fired != 1 {
		t.Fatalf("callback ran more than once")
	}
}

func TestClearAllDropsWithoutCallbacks(t *testing.T) {
	e, store := newTestEngine(1)
	store.Upsert(1, flow.Descriptor{MeanDelay: 50000})
	calls := 0
	var cleared []Drop
	e.SetDropHandler(func(d Drop) { cleared = append(cleared, d) })
	for i := 0; i < 3; i++ {
		e.EnqueueCommand(1, func() { calls++ })
	}
	e.ClearAll()
	if e.Len() != 0 {
		t.Fatalf("pending = %d, want 0", e.Len())
	}
	for i := 0; i < 5; i++ {
		e.Tick(1)
	}
	if calls != 0 {
		t.Fatalf("callbacks ran %d times after ClearAll", calls)
	}
	if len(cleared) != 3 || cleared[0].Cause != CauseCleared {
		t.Fatalf("unexpected drop notices %+v", cleared)
	}
}

func TestPanickingCallbackIsIsolated(t *testing.T) {
	e, _ := newTestEngine(1)
	second := false
	e.EnqueueCommand(1, func() { panic("boom") })
	e.EnqueueCommand(1, func() { second = true })
	e.Tick(0)
	if !second {
		t.Fatalf("second callback did not run after panic")
	}
	if s := e.Stats()[KindCommand]; s.Panics != 1 || s.Delivered != 2 {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestEnqueueDuringTickWaitsForNextTick(t *testing.T) {
	e, _ := newTestEngine(1)
	inner := false
	e.EnqueueCommand(1, func() {
		e.EnqueueCommand(1, func() { inner = true })
	})
	e.Tick(0)
	if inner {
		t.Fatalf("item enqueued during tick was delivered in the same pass")
	}
	if e.Pending()[KindCommand] != 1 {
		t.Fatalf("expected one pending command")
	}
	e.Tick(0)
	if !inner {
		t.Fatalf("inner item not delivered on next tick")
	}
}

func TestClearAllInsideCallback(t *testing.T) {
	e, store := newTestEngine(1)
	store.Upsert(2, flow.Descriptor{MeanDelay: 1e6})
	later := false
	e.EnqueueCommand(2, func() { later = true })
	e.EnqueueCommand(1, func() { e.ClearAll() })
	e.EnqueueCommand(1, func() { later = true })
	e.Tick(0)
	e.Tick(10)
	if later {
		t.Fatalf("items cleared mid-tick were delivered")
	}
	if e.Len() != 0 {
		t.Fatalf("pending = %d, want 0", e.Len())
	}
}

func TestKindString(t *testing.T) {
	if KindTelemetry.String() != "telemetry" || KindCommand.String() != "command" || KindFrame.String() != "frame" {
		t.Fatalf("unexpected kind names")
	}
}
