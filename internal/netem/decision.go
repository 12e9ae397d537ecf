// Delay emulation: per-item delay and loss decisions plus tick-driven delivery
package netem

import (
	"math"

	"uavnetsim/internal/flow"
)

// Rand is the random source used for delay and loss rolls.
// *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Decision is the frozen outcome computed for an item at enqueue time.
type Decision struct {
	Delay   float64 // seconds
	CanSkip bool
}

// Decide turns a flow's impairment parameters into a concrete delay and a
// drop decision. An unknown flow (ok == false) means no delay and no loss.
//
// The delay is drawn uniformly from [mean-jitter, mean+jitter] microseconds,
// clamped at zero and converted to seconds. The item is marked skippable when
// a second draw falls below the flow's loss probability.
func Decide(d flow.Descriptor, ok bool, r Rand) Decision {
	if !ok {
		return Decision{}
	}
	jitter := math.Abs(d.MeanJitter)
	lo := d.MeanDelay - jitter
	us := lo + 2*jitter*r.Float64()
	if us < 0 {
		us = 0
	}
	p := d.LossProbability()
	return Decision{
		Delay:   us / 1e6,
		CanSkip: p > 0 && r.Float64() < p,
	}
}
