// Topic-tagged wire messages exchanged over the pub/sub transport
package wire

import (
	"errors"
	"strings"
)

// Known topics.
const (
	TopicHeartbeat     = "heartbeat"
	TopicNetwork       = "network"
	TopicNetworkEvents = "network_events"
	TopicAI            = "ai"
	TopicTelemetry     = "telemetry"
	TopicVideo         = "video"
)

// ErrNoTopic is returned when a raw frame has no topic separator.
var ErrNoTopic = errors.New("wire: message has no topic separator")

// Message is the transport unit: a topic and an opaque payload.
type Message struct {
	Topic   string
	Payload string
}

// Encode renders the message as "<topic> <payload>".
func (m Message) Encode() string {
	return m.Topic + " " + m.Payload
}

// Decode splits a raw frame on the first space.
func Decode(raw string) (Message, error) {
	topic, payload, ok := strings.Cut(raw, " ")
	if !ok || topic == "" {
		return Message{}, ErrNoTopic
	}
	return Message{Topic: topic, Payload: payload}, nil
}

// Matches reports whether topic passes a prefix subscription filter.
func Matches(topic string, filters []string) bool {
	for _, f := range filters {
		if strings.HasPrefix(topic, f) {
			return true
		}
	}
	return false
}
