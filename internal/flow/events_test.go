package flow

import (
	"encoding/json"
	"testing"

	"uavnetsim/internal/logging"
	"uavnetsim/internal/wire"
)

type recordingPublisher struct {
	msgs []wire.Message
}

func (p *recordingPublisher) Publish(topic, payload string) {
	p.msgs = append(p.msgs, wire.Message{Topic: topic, Payload: payload})
}

func TestStartApplicationAnnouncesAndRegisters(t *testing.T) {
	pub := &recordingPublisher{}
	store := NewStore(logging.Discard())
	ev := NewEvents(pub, store, logging.Discard())

	id, err := ev.StartApplication(AppTelemetry, "rate=10")
	if err != nil {
		t.Fatalf("StartApplication: %v", err)
	}
	if id != 2 {
		t.Fatalf("local id = %d, want 2", id)
	}
	if !store.Contains(2) {
		t.Fatalf("flow 2 should be registered")
	}
	if len(pub.msgs) != 1 || pub.msgs[0].Topic != wire.TopicNetworkEvents {
		t.Fatalf("unexpected published messages %+v", pub.msgs)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(pub.msgs[0].Payload), &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got["event_type"] != "start" || got["app_type"] != "Telemetry" || got["config"] != "rate=10" || got["local_id"] != float64(2) {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestVideoStreamReservesTwoIDs(t *testing.T) {
	pub := &recordingPublisher{}
	ev := NewEvents(pub, NewStore(logging.Discard()), logging.Discard())

	vid, _ := ev.StartApplication(AppVideoStream, "")
	next, _ := ev.StartApplication(AppControlCommands, "")
	if vid != 2 || next != 4 {
		t.Fatalf("ids = %d,%d want 2,4", vid, next)
	}
	if got := ev.FindFlowIDByType(AppVideoStream); got != 3 {
		t.Fatalf("video flow id = %d, want 3", got)
	}
	if got := ev.FindFlowIDByType(AppSensorData); got != -1 {
		t.Fatalf("missing type should return -1, got %d", got)
	}
}

func TestStopApplication(t *testing.T) {
	pub := &recordingPublisher{}
	ev := NewEvents(pub, NewStore(logging.Discard()), logging.Discard())
	id, _ := ev.StartApplication(AppSensorData, "")
	if err := ev.StopApplication(id); err != nil {
		t.Fatalf("StopApplication: %v", err)
	}
	if len(ev.ActiveFlows()) != 0 {
		t.Fatalf("flow should be removed")
	}
	stop, err := wire.ParseNetworkEvent(pub.msgs[1].Payload)
	if err != nil || stop.EventType != wire.EventStop || stop.FlowID != id {
		t.Fatalf("unexpected stop event %+v (%v)", stop, err)
	}
	if err := ev.StopApplication(id); err == nil {
		t.Fatalf("expected error stopping unknown flow")
	}
}

func TestNoPublisher(t *testing.T) {
	ev := NewEvents(nil, nil, logging.Discard())
	if _, err := ev.StartApplication(AppTelemetry, ""); err != ErrNoPublisher {
		t.Fatalf("err = %v, want ErrNoPublisher", err)
	}
}

func TestHandleBindsSimulatorFlowID(t *testing.T) {
	pub := &recordingPublisher{}
	store := NewStore(logging.Discard())
	ev := NewEvents(pub, store, logging.Discard())
	id, _ := ev.StartApplication(AppTelemetry, "")

	msg := wire.Message{Topic: wire.TopicNetworkEvents, Payload: `{"event_type":"start","app_type":"Telemetry","flow_id":1001}`}
	if err := ev.Handle(msg); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	flows := ev.ActiveFlows()
	if len(flows) != 1 || flows[0].LocalID != id || flows[0].FlowID != 1001 {
		t.Fatalf("unexpected flows %+v", flows)
	}
	if !store.Contains(1001) {
		t.Fatalf("simulator flow should be registered in store")
	}
	if store.Contains(id) {
		t.Fatalf("local flow %d should be dropped once bound", id)
	}
	if store.Len() != 2 {
		t.Fatalf("store holds %d flows, want bootstrap and 1001", store.Len())
	}

	if err := ev.Handle(wire.Message{Topic: wire.TopicNetworkEvents, Payload: `{`}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestResetLocalID(t *testing.T) {
	ev := NewEvents(&recordingPublisher{}, NewStore(logging.Discard()), logging.Discard())
	ev.StartApplication(AppTelemetry, "")
	ev.StartApplication(AppTelemetry, "")
	ev.ResetLocalID()
	if len(ev.ActiveFlows()) != 0 {
		t.Fatalf("active flows should be cleared")
	}
	id, _ := ev.StartApplication(AppTelemetry, "")
	if id != 2 {
		t.Fatalf("id after reset = %d, want 2", id)
	}
}
