// Vehicle command orchestration through the delay emulation engine
package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"uavnetsim/internal/netem"
	"uavnetsim/internal/telemetry"
)

// Action names an outward vehicle command.
type Action string

const (
	ActionArm     Action = "arm"
	ActionDisarm  Action = "disarm"
	ActionTakeoff Action = "takeoff"
	ActionMove    Action = "move"
	ActionLand    Action = "land"
	ActionRotate  Action = "rotate"
)

// ParseAction validates s as an Action.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionArm, ActionDisarm, ActionTakeoff, ActionMove, ActionLand, ActionRotate:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Reason is the outcome code carried by every Result.
type Reason string

const (
	ReasonOK              Reason = "ok"
	ReasonTimeout         Reason = "timeout"
	ReasonRemoteError     Reason = "remote_error"
	ReasonPeerUnreachable Reason = "peer_unreachable"
	ReasonShuttingDown    Reason = "shutting_down"
	ReasonLost            Reason = "lost"
	ReasonCleared         Reason = "cleared"
)

var (
	ErrPeerUnreachable = errors.New("command: peer unreachable")
	ErrShuttingDown    = errors.New("command: shutting down")
	ErrUnknownAction   = errors.New("command: unknown action")
	ErrBusy            = errors.New("command: station queue full")
)

// Request describes one command for one vehicle. Only the fields relevant to
// Action are used.
type Request struct {
	Vehicle  string             `json:"vehicle"`
	FlowID   int                `json:"flow_id"`
	Action   Action             `json:"action"`
	Altitude float64            `json:"altitude,omitempty"`
	Target   telemetry.Position `json:"target,omitempty"`
	Speed    float64            `json:"speed,omitempty"`
	Yaw      float64            `json:"yaw,omitempty"`
}

// Validate checks the request shape.
func (r Request) Validate() error {
	if r.Vehicle == "" {
		return errors.New("command: vehicle is required")
	}
	if _, err := ParseAction(string(r.Action)); err != nil {
		return err
	}
	if r.Action == ActionTakeoff && r.Altitude <= 0 {
		return errors.New("command: takeoff altitude must be positive")
	}
	return nil
}

// Result is the outcome of one dispatched command.
type Result struct {
	ID       string        `json:"id"`
	Action   Action        `json:"action"`
	Vehicle  string        `json:"vehicle"`
	FlowID   int           `json:"flow_id"`
	OK       bool          `json:"ok"`
	Reason   Reason        `json:"reason"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Queued   time.Duration `json:"queued_ns"`   // dispatch -> released by the engine
	Duration time.Duration `json:"duration_ns"` // remote call
	Finished time.Time     `json:"finished"`
}

// Pending tracks one dispatched command until its Result is known.
type Pending struct {
	id      string
	item    netem.ID
	req     Request
	created time.Time
	done    chan Result
	once    sync.Once
}

func newPending(id string, req Request) *Pending {
	return &Pending{id: id, req: req, created: time.Now(), done: make(chan Result, 1)}
}

// ID returns the command id.
func (p *Pending) ID() string { return p.id }

// Request returns the dispatched request.
func (p *Pending) Request() Request { return p.req }

// Done delivers the Result exactly once.
func (p *Pending) Done() <-chan Result { return p.done }

// Wait blocks until the Result is available or ctx is done.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-p.done:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// resolve fills in the common fields and publishes r. Only the first call
// has an effect; it returns the published Result and true.
func (p *Pending) resolve(r Result) (Result, bool) {
	first := false
	p.once.Do(func() {
		first = true
		r.ID, r.Action, r.Vehicle, r.FlowID = p.id, p.req.Action, p.req.Vehicle, p.req.FlowID
		r.OK = r.Reason == ReasonOK
		if r.Err != nil {
			r.Error = r.Err.Error()
		}
		r.Finished = time.Now()
		p.done <- r
	})
	return r, first
}
