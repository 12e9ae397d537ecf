package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"uavnetsim/internal/netem"
	"uavnetsim/internal/vehicle"
)

// PeerChecker reports whether the remote end of the transport is alive.
type PeerChecker interface {
	Reachable() bool
}

// Poster runs fn on the tick goroutine. It reports false when fn could not
// be scheduled.
type Poster interface {
	Post(fn func()) bool
}

// Enqueuer is the part of the delay engine the dispatcher needs.
type Enqueuer interface {
	EnqueueCommand(flowID int, cb func()) netem.ID
}

// Options tunes a Dispatcher.
type Options struct {
	Workers        int64
	Timeouts       map[Action]time.Duration
	DefaultTimeout time.Duration
	CancelTimeout  time.Duration // bound on the CancelLastTask call
	History        int           // results kept for Recent
	Log            *slog.Logger
}

// DefaultTimeouts are the per-action remote call bounds.
var DefaultTimeouts = map[Action]time.Duration{
	ActionArm:     5 * time.Second,
	ActionDisarm:  5 * time.Second,
	ActionTakeoff: 15 * time.Second,
	ActionMove:    15 * time.Second,
	ActionLand:    15 * time.Second,
	ActionRotate:  10 * time.Second,
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 10 * time.Second
	}
	if o.CancelTimeout <= 0 {
		o.CancelTimeout = time.Second
	}
	if o.History <= 0 {
		o.History = 100
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return o
}

// Dispatcher turns vehicle commands into delayed engine items and runs the
// remote call on a bounded worker pool once the engine releases them.
type Dispatcher struct {
	opts   Options
	log    *slog.Logger
	client vehicle.Client
	engine Enqueuer
	post   Poster
	peer   PeerChecker
	sem    *semaphore.Weighted

	base     context.Context
	cancel   context.CancelFunc
	shutting atomic.Bool
	inflight sync.WaitGroup

	mu       sync.Mutex
	queued   map[netem.ID]*Pending
	recent   []Result
	onResult []func(Result)
}

// NewDispatcher wires a dispatcher. peer may be nil to skip the reachability
// guard.
func NewDispatcher(client vehicle.Client, engine Enqueuer, post Poster, peer PeerChecker, opts Options) *Dispatcher {
	opts = opts.withDefaults()
	base, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		opts:   opts,
		log:    opts.Log.With("component", "command"),
		client: client,
		engine: engine,
		post:   post,
		peer:   peer,
		sem:    semaphore.NewWeighted(opts.Workers),
		base:   base,
		cancel: cancel,
		queued: make(map[netem.ID]*Pending),
	}
}

// OnResult registers fn to observe every Result. fn runs on whichever
// goroutine resolves the command.
func (d *Dispatcher) OnResult(fn func(Result)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onResult = append(d.onResult, fn)
}

// Dispatch validates req, checks the guards, cancels the vehicle's in-flight
// task and posts the enqueue onto the tick goroutine. The returned Pending
// resolves once the command completes, fails or is discarded.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (*Pending, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if d.shutting.Load() {
		return nil, ErrShuttingDown
	}
	if d.peer != nil && !d.peer.Reachable() {
		return nil, ErrPeerUnreachable
	}

	cctx, cancel := context.WithTimeout(ctx, d.opts.CancelTimeout)
	if err := d.client.CancelLastTask(cctx, req.Vehicle); err != nil {
		d.log.Warn("cancel last task failed", "vehicle", req.Vehicle, "err", err)
	}
	cancel()

	p := newPending(uuid.NewString(), req)
	ok := d.post.Post(func() {
		id := d.engine.EnqueueCommand(req.FlowID, func() { d.release(p) })
		d.mu.Lock()
		p.item = id
		d.queued[id] = p
		d.mu.Unlock()
	})
	if !ok {
		return nil, ErrBusy
	}
	d.log.Debug("command dispatched", "id", p.id, "vehicle", req.Vehicle, "action", req.Action, "flow_id", req.FlowID)
	return p, nil
}

// release runs on the tick goroutine when the engine delivers the command.
// Guards are checked again because the session may have changed while the
// command was delayed.
func (d *Dispatcher) release(p *Pending) {
	d.mu.Lock()
	delete(d.queued, p.item)
	queued := time.Since(p.created)
	if d.shutting.Load() {
		d.mu.Unlock()
		d.finish(p, Result{Reason: ReasonShuttingDown, Err: ErrShuttingDown, Queued: queued})
		return
	}
	if d.peer != nil && !d.peer.Reachable() {
		d.mu.Unlock()
		d.finish(p, Result{Reason: ReasonPeerUnreachable, Err: ErrPeerUnreachable, Queued: queued})
		return
	}
	d.inflight.Add(1)
	d.mu.Unlock()
	go func() {
		defer d.inflight.Done()
		if err := d.sem.Acquire(d.base, 1); err != nil {
			d.finish(p, Result{Reason: ReasonShuttingDown, Err: ErrShuttingDown, Queued: queued})
			return
		}
		defer d.sem.Release(1)
		d.execute(p, queued)
	}()
}

func (d *Dispatcher) execute(p *Pending, queued time.Duration) {
	req := p.req
	timeout, ok := d.opts.Timeouts[req.Action]
	if !ok {
		if timeout, ok = DefaultTimeouts[req.Action]; !ok {
			timeout = d.opts.DefaultTimeout
		}
	}
	ctx, cancel := context.WithTimeout(d.base, timeout)
	defer cancel()

	start := time.Now()
	err := d.call(ctx, req)
	res := Result{Reason: ReasonOK, Err: err, Queued: queued, Duration: time.Since(start)}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		res.Reason = ReasonTimeout
	default:
		res.Reason = ReasonRemoteError
	}
	d.finish(p, res)
}

func (d *Dispatcher) call(ctx context.Context, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("remote call panicked: %v", r)
		}
	}()
	switch req.Action {
	case ActionArm:
		return d.client.Arm(ctx, req.Vehicle)
	case ActionDisarm:
		return d.client.Disarm(ctx, req.Vehicle)
	case ActionTakeoff:
		return d.client.Takeoff(ctx, req.Vehicle, req.Altitude)
	case ActionMove:
		return d.client.MoveTo(ctx, req.Vehicle, req.Target, req.Speed)
	case ActionLand:
		return d.client.Land(ctx, req.Vehicle)
	case ActionRotate:
		return d.client.Rotate(ctx, req.Vehicle, req.Yaw)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
}

// Discarded resolves the command behind a dropped engine item.
func (d *Dispatcher) Discarded(drop netem.Drop) {
	if drop.Kind != netem.KindCommand {
		return
	}
	d.mu.Lock()
	p, ok := d.queued[drop.ID]
	delete(d.queued, drop.ID)
	d.mu.Unlock()
	if !ok {
		return
	}
	reason := ReasonLost
	if drop.Cause == netem.CauseCleared {
		reason = ReasonCleared
	}
	d.finish(p, Result{Reason: reason, Queued: time.Since(p.created)})
}

func (d *Dispatcher) finish(p *Pending, r Result) {
	r, ok := p.resolve(r)
	if !ok {
		return
	}

	d.mu.Lock()
	d.recent = append(d.recent, r)
	if over := len(d.recent) - d.opts.History; over > 0 {
		d.recent = append([]Result(nil), d.recent[over:]...)
	}
	hooks := d.onResult
	d.mu.Unlock()

	lvl := slog.LevelInfo
	if !r.OK {
		lvl = slog.LevelWarn
	}
	d.log.Log(context.Background(), lvl, "command finished",
		"id", r.ID, "vehicle", r.Vehicle, "action", r.Action, "reason", r.Reason,
		"queued", r.Queued, "duration", r.Duration, "err", r.Error)
	for _, fn := range hooks {
		fn(r)
	}
}

// Recent returns the most recent results, oldest first.
func (d *Dispatcher) Recent() []Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Result(nil), d.recent...)
}

// Queued returns the number of commands still inside the engine.
func (d *Dispatcher) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queued)
}

// ShuttingDown reports whether Shutdown has been called.
func (d *Dispatcher) ShuttingDown() bool { return d.shutting.Load() }

// Shutdown rejects new commands, resolves the ones still queued in the engine
// and waits for in-flight remote calls. When ctx expires first the calls are
// cancelled and awaited.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.shutting.Store(true)
	queued := d.queued
	d.queued = make(map[netem.ID]*Pending)
	d.mu.Unlock()
	for _, p := range queued {
		d.finish(p, Result{Reason: ReasonShuttingDown, Err: ErrShuttingDown, Queued: time.Since(p.created)})
	}

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
