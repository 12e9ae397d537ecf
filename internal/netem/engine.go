package netem

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"uavnetsim/internal/flow"
)

// Kind selects one of the engine's queues.
type Kind int

const (
	KindTelemetry Kind = iota
	KindCommand
	KindFrame
	numKinds
)

// Kinds lists every queue kind in drain order.
var Kinds = []Kind{KindTelemetry, KindCommand, KindFrame}

func (k Kind) String() string {
	switch k {
	case KindTelemetry:
		return "telemetry"
	case KindCommand:
		return "command"
	case KindFrame:
		return "frame"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ID identifies one enqueued item for the lifetime of an Engine.
type ID uint64

// Cause explains why an item was discarded without delivery.
type Cause string

const (
	CauseLost    Cause = "lost"
	CauseCleared Cause = "cleared"
)

// Drop reports an item that left the engine without its callback running.
type Drop struct {
	Kind   Kind
	ID     ID
	FlowID int
	Cause  Cause
}

// Frame is a captured video frame waiting for delivery.
type Frame struct {
	Seq        int64
	Data       []byte
	CapturedAt time.Time
}

// Lookup resolves flow descriptors. *flow.Store satisfies it.
type Lookup interface {
	Get(id int) (flow.Descriptor, bool)
}

// KindStats counts item outcomes for one queue.
type KindStats struct {
	Enqueued  uint64 `json:"enqueued"`
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Cleared   uint64 `json:"cleared"`
	Panics    uint64 `json:"panics"`
}

type item struct {
	id        ID
	flowID    int
	remaining float64
	canSkip   bool
	fire      func()
}

// Engine holds delayed items per kind and resolves each of them exactly once,
// either by invoking its callback or by dropping it.
//
// An Engine is not safe for concurrent use; it belongs to the tick goroutine.
type Engine struct {
	flows  Lookup
	rand   Rand
	queues [numKinds][]*item
	stats  [numKinds]KindStats
	nextID ID
	gen    uint64
	onDrop func(Drop)
	log    *slog.Logger
}

// New creates an engine consulting flows for impairment parameters. A nil r
// seeds a source from the clock.
func New(flows Lookup, r Rand, log *slog.Logger) *Engine {
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{flows: flows, rand: r, log: log.With("component", "netem")}
}

// SetDropHandler registers fn to be told about lost and cleared items.
func (e *Engine) SetDropHandler(fn func(Drop)) { e.onDrop = fn }

// EnqueueTelemetry schedules cb(data) after the flow's emulated delay.
func (e *Engine) EnqueueTelemetry(data any, flowID int, cb func(any)) ID {
	return e.enqueue(KindTelemetry, flowID, func() { cb(data) })
}

// EnqueueCommand schedules cb after the flow's emulated delay.
func (e *Engine) EnqueueCommand(flowID int, cb func()) ID {
	return e.enqueue(KindCommand, flowID, cb)
}

// EnqueueFrame schedules cb(frame) after the flow's emulated delay.
func (e *Engine) EnqueueFrame(data []byte, flowID int, seq int64, cb func(Frame)) ID {
	f := Frame{Seq: seq, Data: data, CapturedAt: time.Now()}
	return e.enqueue(KindFrame, flowID, func() { cb(f) })
}

func (e *Engine) enqueue(k Kind, flowID int, fire func()) ID {
	var d flow.Descriptor
	ok := false
	if e.flows != nil {
		d, ok = e.flows.Get(flowID)
	}
	dec := Decide(d, ok, e.rand)
	e.nextID++
	it := &item{
		id:        e.nextID,
		flowID:    flowID,
		remaining: dec.Delay,
		canSkip:   dec.CanSkip,
		fire:      fire,
	}
	e.queues[k] = append(e.queues[k], it)
	e.stats[k].Enqueued++
	e.log.Debug("item enqueued", "kind", k, "id", it.id, "flow_id", flowID,
		"delay_s", dec.Delay, "can_skip", dec.CanSkip)
	return it.id
}

// Tick advances every queue by dt seconds. Items are visited in insertion
// order; skippable items are dropped, others are delivered once their
// remaining delay reaches zero. Items enqueued by a callback during Tick wait
// for the next call.
func (e *Engine) Tick(dt float64) {
	for _, k := range Kinds {
		e.drain(k, dt)
	}
}

func (e *Engine) drain(k Kind, dt float64) {
	items := e.queues[k]
	if len(items) == 0 {
		return
	}
	e.queues[k] = nil
	gen := e.gen
	kept := make([]*item, 0, len(items))
	for i, it := range items {
		if e.gen != gen {
			// ClearAll ran inside a callback; the rest of this pass is stale.
			kept = append(kept, items[i:]...)
			break
		}
		if it.canSkip {
			e.stats[k].Dropped++
			e.drop(Drop{Kind: k, ID: it.id, FlowID: it.flowID, Cause: CauseLost})
			continue
		}
		it.remaining -= dt
		if it.remaining > 0 {
			kept = append(kept, it)
			continue
		}
		e.stats[k].Delivered++
		e.invoke(k, it)
	}
	if e.gen != gen {
		for _, it := range kept {
			e.stats[k].Cleared++
			e.drop(Drop{Kind: k, ID: it.id, FlowID: it.flowID, Cause: CauseCleared})
		}
		return
	}
	e.queues[k] = append(kept, e.queues[k]...)
}

func (e *Engine) invoke(k Kind, it *item) {
	defer func() {
		if r := recover(); r != nil {
			e.stats[k].Panics++
			e.log.Error("delayed item callback panicked", "kind", k, "id", it.id, "flow_id", it.flowID, "panic", r)
		}
	}()
	it.fire()
}

func (e *Engine) drop(d Drop) {
	if e.onDrop == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("drop handler panicked", "kind", d.Kind, "id", d.ID, "panic", r)
		}
	}()
	e.onDrop(d)
}

// ClearAll empties every queue without invoking any callback. The drop
// handler, if set, is told about each discarded item.
func (e *Engine) ClearAll() {
	e.gen++
	for _, k := range Kinds {
		items := e.queues[k]
		e.queues[k] = nil
		for _, it := range items {
			e.stats[k].Cleared++
			e.drop(Drop{Kind: k, ID: it.id, FlowID: it.flowID, Cause: CauseCleared})
		}
	}
	e.log.Info("all delayed items cleared")
}

// Pending returns the number of queued items per kind.
func (e *Engine) Pending() map[Kind]int {
	out := make(map[Kind]int, numKinds)
	for _, k := range Kinds {
		out[k] = len(e.queues[k])
	}
	return out
}

// Len returns the total number of queued items.
func (e *Engine) Len() int {
	n := 0
	for _, k := range Kinds {
		n += len(e.queues[k])
	}
	return n
}

// Stats returns outcome counters per kind.
func (e *Engine) Stats() map[Kind]KindStats {
	out := make(map[Kind]KindStats, numKinds)
	for _, k := range Kinds {
		out[k] = e.stats[k]
	}
	return out
}
