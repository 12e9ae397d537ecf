// Ground station tick loop owning flow state, delay emulation and producers
package station

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"uavnetsim/internal/command"
	"uavnetsim/internal/detection"
	"uavnetsim/internal/flow"
	"uavnetsim/internal/netem"
	"uavnetsim/internal/sink"
	"uavnetsim/internal/telemetry"
	"uavnetsim/internal/vehicle"
)

var (
	// ErrStopped is returned when work is handed to a station whose loop has
	// exited.
	ErrStopped = errors.New("station: stopped")
	// ErrBusy is returned when the hand-off queue is full.
	ErrBusy = errors.New("station: hand-off queue full")
)

// Fleet is the flight controller plus telemetry sampling.
// *vehicle.SimClient satisfies it.
type Fleet interface {
	vehicle.Client
	IDs() []string
	Sample(id string) (telemetry.TelemetryRow, error)
}

// Publisher sends a topic-tagged payload. *transport.Socket satisfies it.
type Publisher interface {
	Publish(topic, payload string)
}

// Application is a traffic generator announced when the loop starts.
type Application struct {
	App    flow.AppType
	Config string
}

// Options tunes a Station. Zero durations take the defaults below.
type Options struct {
	ClusterID         string
	TickInterval      time.Duration
	TelemetryInterval time.Duration
	FrameInterval     time.Duration
	StateInterval     time.Duration
	DispatchBuffer    int
	FrameSize         int // synthetic video frame bytes, 0 disables video
	VehicleFlows      map[string]int
	Applications      []Application
	Commands          command.Options
	Rand              *rand.Rand
	Log               *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.TickInterval <= 0 {
		o.TickInterval = 10 * time.Millisecond
	}
	if o.TelemetryInterval <= 0 {
		o.TelemetryInterval = 200 * time.Millisecond
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = 100 * time.Millisecond
	}
	if o.StateInterval <= 0 {
		o.StateInterval = time.Second
	}
	if o.DispatchBuffer <= 0 {
		o.DispatchBuffer = 1024
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if o.Log == nil {
		o.Log = slog.Default()
	}
	return o
}

// Station is the tick context. The flow store, the network event manager
// and the delay engine belong to the goroutine running Run; every other
// goroutine reaches them through Dispatch and Post, and reads them through
// Status.
type Station struct {
	opts Options
	log  *slog.Logger

	fleet   Fleet
	pub     Publisher
	peer    command.PeerChecker
	writer  sink.TelemetryWriter
	store   *flow.Store
	events  *flow.Events
	engine  *netem.Engine
	tracker *detection.Tracker
	cmds    *command.Dispatcher

	inbox   chan func()
	postMu  sync.RWMutex
	stopped bool

	// tick goroutine only
	delivered     []telemetry.TelemetryRow
	lastTelemetry time.Time
	lastFrame     time.Time
	lastState     time.Time
	frameSeq      int64
	lastHeartbeat time.Time

	received     atomic.Uint64
	inboxDropped atomic.Uint64
	published    atomic.Uint64

	statusMu sync.RWMutex
	status   Status
}

// New wires a station. pub, peer and writer may be nil.
func New(fleet Fleet, pub Publisher, peer command.PeerChecker, writer sink.TelemetryWriter, opts Options) *Station {
	opts = opts.withDefaults()
	s := &Station{
		opts:    opts,
		log:     opts.Log.With("component", "station"),
		fleet:   fleet,
		pub:     pub,
		peer:    peer,
		writer:  writer,
		inbox:   make(chan func(), opts.DispatchBuffer),
		tracker: detection.NewTracker(opts.Log),
	}
	s.store = flow.NewStore(opts.Log)
	var fp flow.Publisher
	if pub != nil {
		fp = countingPublisher{s}
	}
	s.events = flow.NewEvents(fp, s.store, opts.Log)
	s.engine = netem.New(s.store, opts.Rand, opts.Log)

	copts := opts.Commands
	if copts.Log == nil {
		copts.Log = opts.Log
	}
	s.cmds = command.NewDispatcher(fleet, s.engine, s, peer, copts)
	s.engine.SetDropHandler(s.cmds.Discarded)
	s.refreshStatus(time.Now())
	return s
}

// countingPublisher counts what the station publishes.
type countingPublisher struct{ s *Station }

func (c countingPublisher) Publish(topic, payload string) { c.s.publish(topic, payload) }

func (s *Station) publish(topic, payload string) {
	if s.pub == nil {
		return
	}
	s.pub.Publish(topic, payload)
	s.published.Add(1)
}

// Commands returns the command dispatcher.
func (s *Station) Commands() *command.Dispatcher { return s.cmds }

// Tracker returns the video frame tracker.
func (s *Station) Tracker() *detection.Tracker { return s.tracker }

// Command dispatches req, filling in the vehicle's configured flow when
// req.FlowID is zero.
func (s *Station) Command(ctx context.Context, req command.Request) (*command.Pending, error) {
	if req.FlowID == 0 {
		if id, ok := s.opts.VehicleFlows[req.Vehicle]; ok {
			req.FlowID = id
		} else {
			req.FlowID = flow.BootstrapID
		}
	}
	return s.cmds.Dispatch(ctx, req)
}

// Post schedules fn on the tick goroutine. It reports false when the queue
// is full or the loop has exited.
func (s *Station) Post(fn func()) bool {
	s.postMu.RLock()
	defer s.postMu.RUnlock()
	if s.stopped {
		return false
	}
	select {
	case s.inbox <- fn:
		return true
	default:
		return false
	}
}

// Dispatch hands an inbound transport message to the tick goroutine. When
// the queue is full the message is dropped and counted.
func (s *Station) Dispatch(topic, payload string) {
	s.received.Add(1)
	if !s.Post(func() { s.route(topic, payload) }) {
		s.inboxDropped.Add(1)
		s.log.Warn("inbound message dropped", "topic", topic)
	}
}

// do runs fn on the tick goroutine and waits for it.
func (s *Station) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !s.Post(func() {
		defer close(done)
		fn()
	}) {
		s.postMu.RLock()
		stopped := s.stopped
		s.postMu.RUnlock()
		if stopped {
			return ErrStopped
		}
		return ErrBusy
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset restarts the mission: flows go back to the bootstrap flow, every
// delayed item is discarded (queued commands resolve as cleared) and local
// flow ids start over.
func (s *Station) Reset(ctx context.Context) error {
	return s.do(ctx, func() {
		s.store.Reset()
		s.engine.ClearAll()
		s.events.ResetLocalID()
		s.tracker.Reset()
		s.delivered = s.delivered[:0]
		s.log.Info("station reset")
	})
}

// StartApplication announces a traffic generator to the network simulator.
func (s *Station) StartApplication(ctx context.Context, app flow.AppType, config string) (int, error) {
	var id int
	var err error
	if derr := s.do(ctx, func() { id, err = s.events.StartApplication(app, config) }); derr != nil {
		return -1, derr
	}
	return id, err
}

// StopApplication announces that a traffic generator stopped.
func (s *Station) StopApplication(ctx context.Context, localID int) error {
	var err error
	if derr := s.do(ctx, func() { err = s.events.StopApplication(localID) }); derr != nil {
		return derr
	}
	return err
}

// Shutdown stops accepting commands and waits for in-flight ones.
func (s *Station) Shutdown(ctx context.Context) error {
	return s.cmds.Shutdown(ctx)
}
