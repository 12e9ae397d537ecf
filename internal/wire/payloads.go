package wire

import (
	"encoding/json"
	"fmt"
)

// NetworkUpdate is the impairment report published by the network simulator
// on the "network" topic. Delay and jitter are in microseconds.
type NetworkUpdate struct {
	MeanDelay  float64 `json:"meanDelay"`
	MeanJitter float64 `json:"meanJitter"`
	PacketLoss float64 `json:"packetLoss"`
	FlowID     *int    `json:"flowId,omitempty"`
	TxPackets  *int64  `json:"txPackets,omitempty"`
	RxPackets  *int64  `json:"rxPackets,omitempty"`
}

// ParseNetworkUpdate decodes a "network" payload. The three impairment fields
// are required.
func ParseNetworkUpdate(payload string) (NetworkUpdate, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return NetworkUpdate{}, fmt.Errorf("parse network update: %w", err)
	}
	for _, k := range []string{"meanDelay", "meanJitter", "packetLoss"} {
		if _, ok := raw[k]; !ok {
			return NetworkUpdate{}, fmt.Errorf("parse network update: missing field %q", k)
		}
	}
	var u NetworkUpdate
	if err := json.Unmarshal([]byte(payload), &u); err != nil {
		return NetworkUpdate{}, fmt.Errorf("parse network update: %w", err)
	}
	return u, nil
}

// Marshal renders the update as a JSON payload.
func (u NetworkUpdate) Marshal() string {
	b, _ := json.Marshal(u)
	return string(b)
}

// Network event types.
const (
	EventStart = "start"
	EventStop  = "stop"
)

// NetworkEvent announces a traffic generator lifecycle change on the
// "network_events" topic.
type NetworkEvent struct {
	EventType string `json:"event_type"`
	AppType   string `json:"app_type"`
	Config    string `json:"config,omitempty"`
	LocalID   int    `json:"local_id,omitempty"`
	FlowID    int    `json:"flow_id,omitempty"`
}

// ParseNetworkEvent decodes a "network_events" payload.
func ParseNetworkEvent(payload string) (NetworkEvent, error) {
	var ev NetworkEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return NetworkEvent{}, fmt.Errorf("parse network event: %w", err)
	}
	if ev.EventType != EventStart && ev.EventType != EventStop {
		return NetworkEvent{}, fmt.Errorf("parse network event: unknown event_type %q", ev.EventType)
	}
	return ev, nil
}

// Marshal renders the event as a JSON payload.
func (e NetworkEvent) Marshal() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// Box is one detection in AI feedback: confidence and [x1 y1 x2 y2].
type Box struct {
	C float64   `json:"c"`
	B []float64 `json:"b"`
}

// AIFeedback is the detector's result for one video frame ("ai" topic).
type AIFeedback struct {
	Frame       int64 `json:"frame"`
	AILatencyNs int64 `json:"ai_latency_ns"`
	Boxes       []Box `json:"boxes"`
}

// ParseAIFeedback decodes an "ai" payload. Boxes without exactly four
// coordinates are discarded.
func ParseAIFeedback(payload string) (AIFeedback, error) {
	var fb AIFeedback
	if err := json.Unmarshal([]byte(payload), &fb); err != nil {
		return AIFeedback{}, fmt.Errorf("parse ai feedback: %w", err)
	}
	boxes := fb.Boxes[:0]
	for _, b := range fb.Boxes {
		if len(b.B) == 4 {
			boxes = append(boxes, b)
		}
	}
	fb.Boxes = boxes
	return fb, nil
}
