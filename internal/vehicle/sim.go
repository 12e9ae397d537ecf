package vehicle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"uavnetsim/internal/telemetry"
)

// Spec describes one simulated vehicle.
type Spec struct {
	ID     string
	Model  string
	FlowID int
	Home   telemetry.Position
}

// SimOptions tunes the simulated flight controller.
type SimOptions struct {
	StepInterval time.Duration // physics step, default 50ms
	CallLatency  time.Duration // added to every call
	ClimbSpeed   float64       // m/s, default 3
	DefaultSpeed float64       // m/s for MoveTo with speed <= 0, default 5
	TurnRate     float64       // deg/s, default 90
	Rand         *rand.Rand
	Log          *slog.Logger
}

func (o SimOptions) withDefaults() SimOptions {
	if o.StepInterval <= 0 {
		o.StepInterval = 50 * time.Millisecond
	}
	if o.ClimbSpeed <= 0 {
		o.ClimbSpeed = 3
	}
	if o.DefaultSpeed <= 0 {
		o.DefaultSpeed = 5
	}
	if o.TurnRate <= 0 {
		o.TurnRate = 90
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return o
}

type simVehicle struct {
	v         *telemetry.Vehicle
	targetYaw *float64
	task      string
	cancel    context.CancelFunc
}

// SimClient is an in-process flight controller. Vehicles fly under a simple
// kinematic model stepped by Run.
type SimClient struct {
	opts SimOptions
	gen  *telemetry.Generator
	log  *slog.Logger

	mu        sync.Mutex
	vehicles  map[string]*simVehicle
	connected bool
	changed   chan struct{}
}

// NewSimClient creates a connected simulated controller for specs.
func NewSimClient(clusterID string, specs []Spec, opts SimOptions) *SimClient {
	opts = opts.withDefaults()
	c := &SimClient{
		opts:      opts,
		gen:       telemetry.NewGenerator(clusterID, opts.Rand),
		log:       opts.Log.With("component", "vehicle_sim"),
		vehicles:  make(map[string]*simVehicle, len(specs)),
		connected: true,
		changed:   make(chan struct{}),
	}
	for _, s := range specs {
		c.vehicles[s.ID] = &simVehicle{v: &telemetry.Vehicle{
			ID:       s.ID,
			Model:    s.Model,
			FlowID:   s.FlowID,
			Position: s.Home,
			Home:     s.Home,
			Battery:  100,
			Status:   telemetry.StatusLanded,
		}}
	}
	return c
}

// Run steps the simulation until ctx is done.
func (c *SimClient) Run(ctx context.Context) {
	t := time.NewTicker(c.opts.StepInterval)
	defer t.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			c.Step(now.Sub(last).Seconds())
			last = now
		}
	}
}

// Step advances every vehicle by dt seconds.
func (c *SimClient) Step(dt float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sv := range c.vehicles {
		c.gen.Step(sv.v, dt)
		if sv.targetYaw != nil {
			sv.v.Yaw = turnToward(sv.v.Yaw, *sv.targetYaw, c.opts.TurnRate*dt)
			if sv.v.Yaw == *sv.targetYaw {
				sv.targetYaw = nil
			}
		}
	}
	close(c.changed)
	c.changed = make(chan struct{})
}

// SetConnected simulates the controller link going up or down.
func (c *SimClient) SetConnected(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = up
}

// Connected reports whether the controller link is up.
func (c *SimClient) Connected(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IDs returns the vehicle ids in sorted order.
func (c *SimClient) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.vehicles))
	for id := range c.vehicles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Sample returns a telemetry row for id.
func (c *SimClient) Sample(id string) (telemetry.TelemetryRow, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sv, ok := c.vehicles[id]
	if !ok {
		return telemetry.TelemetryRow{}, fmt.Errorf("%w: %s", ErrUnknownVehicle, id)
	}
	return c.gen.GenerateTelemetry(sv.v), nil
}

func (c *SimClient) State(ctx context.Context, id string) (State, error) {
	if err := c.latency(ctx); err != nil {
		return State{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sv, err := c.lookup(id)
	if err != nil {
		return State{}, err
	}
	v := sv.v
	return State{
		ID:       v.ID,
		FlowID:   v.FlowID,
		Position: v.Position,
		Yaw:      v.Yaw,
		Battery:  v.Battery,
		Status:   v.Status,
		Armed:    v.Armed,
		Task:     sv.task,
	}, nil
}

func (c *SimClient) Arm(ctx context.Context, id string) error {
	return c.instant(ctx, id, "arm", func(sv *simVehicle) error {
		if sv.v.Status == telemetry.StatusFailure {
			return ErrBatteryFailure
		}
		sv.v.Armed = true
		return nil
	})
}

func (c *SimClient) Disarm(ctx context.Context, id string) error {
	return c.instant(ctx, id, "disarm", func(sv *simVehicle) error {
		sv.v.Armed = false
		sv.v.Target = nil
		return nil
	})
}

func (c *SimClient) Takeoff(ctx context.Context, id string, alt float64) error {
	return c.fly(ctx, id, "takeoff", func(v *telemetry.Vehicle) {
		target := v.Position
		target.Alt = alt
		v.Target = &target
		v.Speed = c.opts.ClimbSpeed
	})
}

func (c *SimClient) MoveTo(ctx context.Context, id string, pos telemetry.Position, speed float64) error {
	if speed <= 0 {
		speed = c.opts.DefaultSpeed
	}
	return c.fly(ctx, id, "move", func(v *telemetry.Vehicle) {
		target := pos
		v.Target = &target
		v.Speed = speed
	})
}

func (c *SimClient) Land(ctx context.Context, id string) error {
	return c.fly(ctx, id, "land", func(v *telemetry.Vehicle) {
		target := v.Position
		target.Alt = 0
		v.Target = &target
		v.Speed = c.opts.ClimbSpeed
	})
}

func (c *SimClient) Rotate(ctx context.Context, id string, yaw float64) error {
	yaw = normalizeYaw(yaw)
	ctx, done, err := c.begin(ctx, id, "rotate", func(sv *simVehicle) error {
		if !sv.v.Armed {
			return ErrNotArmed
		}
		sv.targetYaw = &yaw
		return nil
	})
	if err != nil {
		return err
	}
	defer done()
	return c.wait(ctx, id, func(sv *simVehicle) bool { return sv.targetYaw == nil })
}

// CancelLastTask aborts the vehicle's in-flight task, if any, and stops it
// where it is.
func (c *SimClient) CancelLastTask(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sv, err := c.lookup(id)
	if err != nil {
		return err
	}
	if sv.cancel != nil {
		c.log.Debug("cancelling task", "vehicle", id, "task", sv.task)
		sv.cancel()
		sv.cancel = nil
	}
	sv.v.Target = nil
	sv.targetYaw = nil
	sv.task = ""
	return nil
}

func (c *SimClient) lookup(id string) (*simVehicle, error) {
	sv, ok := c.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVehicle, id)
	}
	return sv, nil
}

func (c *SimClient) latency(ctx context.Context) error {
	c.mu.Lock()
	up := c.connected
	c.mu.Unlock()
	if !up {
		return ErrDisconnected
	}
	if c.opts.CallLatency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.opts.CallLatency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *SimClient) instant(ctx context.Context, id, task string, fn func(*simVehicle) error) error {
	if err := c.latency(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sv, err := c.lookup(id)
	if err != nil {
		return err
	}
	if err := fn(sv); err != nil {
		return fmt.Errorf("%s %s: %w", task, id, err)
	}
	return nil
}

// begin registers task as the vehicle's in-flight task and returns a context
// that CancelLastTask cancels.
func (c *SimClient) begin(ctx context.Context, id, task string, fn func(*simVehicle) error) (context.Context, func(), error) {
	if err := c.latency(ctx); err != nil {
		return nil, nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	sv, err := c.lookup(id)
	if err != nil {
		return nil, nil, err
	}
	if err := fn(sv); err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", task, id, err)
	}
	if sv.cancel != nil {
		sv.cancel()
	}
	tctx, cancel := context.WithCancel(ctx)
	sv.cancel, sv.task = cancel, task
	done := func() {
		cancel()
		c.mu.Lock()
		if sv.task == task {
			sv.task, sv.cancel = "", nil
		}
		c.mu.Unlock()
	}
	return tctx, done, nil
}

func (c *SimClient) fly(ctx context.Context, id, task string, set func(*telemetry.Vehicle)) error {
	ctx, done, err := c.begin(ctx, id, task, func(sv *simVehicle) error {
		if !sv.v.Armed {
			return ErrNotArmed
		}
		set(sv.v)
		return nil
	})
	if err != nil {
		return err
	}
	defer done()
	return c.wait(ctx, id, func(sv *simVehicle) bool { return sv.v.Target == nil })
}

// wait blocks until arrived reports true after a simulation step, or ctx is
// done.
func (c *SimClient) wait(ctx context.Context, id string, arrived func(*simVehicle) bool) error {
	for {
		c.mu.Lock()
		sv := c.vehicles[id]
		ok := arrived(sv)
		failed := sv.v.Status == telemetry.StatusFailure
		changed := c.changed
		c.mu.Unlock()
		// CancelLastTask cancels before it clears the target, so a cancelled
		// task must not be mistaken for an arrival.
		if err := ctx.Err(); err != nil {
			return taskErr(err)
		}
		if ok {
			return nil
		}
		if failed {
			return ErrBatteryFailure
		}
		select {
		case <-ctx.Done():
			return taskErr(ctx.Err())
		case <-changed:
		}
	}
}

func taskErr(err error) error {
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	return err
}

func normalizeYaw(y float64) float64 {
	y = math.Mod(y, 360)
	if y < 0 {
		y += 360
	}
	return y
}

// turnToward rotates from by at most step degrees along the shorter arc.
func turnToward(from, to, step float64) float64 {
	diff := math.Mod(to-from+540, 360) - 180
	if math.Abs(diff) <= step {
		return to
	}
	if diff < 0 {
		step = -step
	}
	return normalizeYaw(from + step)
}
