package flow

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"uavnetsim/internal/wire"
)

// AppType identifies the kind of traffic a network application generates.
type AppType string

// Application types understood by the network simulator.
const (
	AppTelemetry       AppType = "Telemetry"
	AppVideoStream     AppType = "VideoStream"
	AppControlCommands AppType = "ControlCommands"
	AppSensorData      AppType = "SensorData"
)

// ParseAppType validates s as an AppType.
func ParseAppType(s string) (AppType, error) {
	switch AppType(s) {
	case AppTelemetry, AppVideoStream, AppControlCommands, AppSensorData:
		return AppType(s), nil
	}
	return "", fmt.Errorf("unknown app type %q", s)
}

// localIDLimit separates locally assigned ids from simulator-assigned ones.
const localIDLimit = 1000

// ErrNoPublisher is returned when events cannot be announced.
var ErrNoPublisher = errors.New("flow: no publisher attached")

// Publisher sends a topic-tagged payload.
type Publisher interface {
	Publish(topic, payload string)
}

// ActiveFlow is a running traffic generator registered with the simulator.
type ActiveFlow struct {
	LocalID   int       `json:"local_id"`
	FlowID    int       `json:"flow_id"`
	AppType   AppType   `json:"app_type"`
	StartTime time.Time `json:"start_time"`
}

// Events announces traffic generator lifecycle changes on the
// "network_events" topic and tracks the flows that are running.
// Like Store it belongs to the tick goroutine.
type Events struct {
	pub    Publisher
	store  *Store
	active map[int]ActiveFlow
	lastID int
	now    func() time.Time
	log    *slog.Logger
}

// NewEvents creates an event manager bound to pub and store.
func NewEvents(pub Publisher, store *Store, log *slog.Logger) *Events {
	if log == nil {
		log = slog.Default()
	}
	return &Events{
		pub:    pub,
		store:  store,
		active: make(map[int]ActiveFlow),
		lastID: BootstrapID,
		now:    time.Now,
		log:    log.With("component", "network_events"),
	}
}

// StartApplication allocates a local id, announces the start event and
// registers a default descriptor for the new flow. Video streams reserve two
// ids; the flow id is the second one.
func (e *Events) StartApplication(app AppType, config string) (int, error) {
	if e.pub == nil {
		return -1, ErrNoPublisher
	}
	e.lastID++
	localID := e.lastID
	flowID := localID
	if app == AppVideoStream {
		e.lastID++
		flowID = e.lastID
	}
	e.active[localID] = ActiveFlow{LocalID: localID, FlowID: flowID, AppType: app, StartTime: e.now()}

	ev := wire.NetworkEvent{EventType: wire.EventStart, AppType: string(app), Config: config, LocalID: localID}
	e.pub.Publish(wire.TopicNetworkEvents, ev.Marshal())
	e.log.Info("published network event", "event", ev.EventType, "app_type", app, "local_id", localID)

	if e.store != nil {
		e.store.Upsert(flowID, Default(flowID))
	}
	return localID, nil
}

// StopApplication announces the stop event and forgets the flow.
func (e *Events) StopApplication(localID int) error {
	if e.pub == nil {
		return ErrNoPublisher
	}
	af, ok := e.active[localID]
	if !ok {
		return fmt.Errorf("stop application: unknown local id %d", localID)
	}
	ev := wire.NetworkEvent{EventType: wire.EventStop, AppType: string(af.AppType), FlowID: af.FlowID}
	e.pub.Publish(wire.TopicNetworkEvents, ev.Marshal())
	e.log.Info("published network event", "event", ev.EventType, "app_type", af.AppType, "flow_id", af.FlowID)
	delete(e.active, localID)
	return nil
}

// ActiveFlows returns the running flows ordered by local id.
func (e *Events) ActiveFlows() []ActiveFlow {
	out := make([]ActiveFlow, 0, len(e.active))
	for _, af := range e.active {
		out = append(out, af)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LocalID < out[j].LocalID })
	return out
}

// FindFlowIDByType returns the flow id of the first running flow of type app,
// or -1.
func (e *Events) FindFlowIDByType(app AppType) int {
	for _, af := range e.ActiveFlows() {
		if af.AppType == app {
			return af.FlowID
		}
	}
	return -1
}

// ResetLocalID forgets every running flow and restarts id allocation.
func (e *Events) ResetLocalID() {
	e.lastID = BootstrapID
	e.active = make(map[int]ActiveFlow)
}

// Handle processes a "network_events" message coming back from the simulator.
// A start event carrying a flow_id binds the oldest still-local flow of the
// same app type to the simulator-assigned id.
func (e *Events) Handle(msg wire.Message) error {
	ev, err := wire.ParseNetworkEvent(msg.Payload)
	if err != nil {
		e.log.Error("failed to parse network event", "err", err)
		return err
	}
	if ev.EventType != wire.EventStart || ev.FlowID <= 0 {
		return nil
	}
	app, err := ParseAppType(ev.AppType)
	if err != nil {
		e.log.Warn("ignoring network event", "err", err)
		return err
	}
	e.Bind(ev.FlowID, app)
	return nil
}

// Bind re-keys the oldest still-local flow of type app to simFlowID. The
// descriptor moves to the new id and the local one is dropped from the store.
func (e *Events) Bind(simFlowID int, app AppType) {
	for _, af := range e.ActiveFlows() {
		if af.AppType != app || af.FlowID >= localIDLimit {
			continue
		}
		prev := af.FlowID
		af.FlowID = simFlowID
		e.active[af.LocalID] = af
		if e.store != nil && !e.store.Contains(simFlowID) {
			d, ok := e.store.Get(prev)
			if !ok {
				d = Default(simFlowID)
			}
			e.store.Upsert(simFlowID, d)
		}
		if e.store != nil && prev != simFlowID {
			e.store.Delete(prev)
		}
		e.log.Info("flow bound to simulator id", "local_id", af.LocalID, "flow_id", simFlowID, "app_type", app)
		return
	}
}
