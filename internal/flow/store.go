package flow

import (
	"fmt"
	"log/slog"
	"sort"

	"uavnetsim/internal/wire"
)

// Store maps flow ids to their impairment descriptors.
//
// A Store is not safe for concurrent use. It is owned by the station's tick
// goroutine; messages received on transport goroutines reach it only through
// the station's hand-off queue.
type Store struct {
	flows map[int]Descriptor
	log   *slog.Logger
}

// NewStore returns a store holding only the bootstrap flow.
func NewStore(log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	s := &Store{log: log.With("component", "flow_store")}
	s.Reset()
	return s
}

// Upsert inserts or fully replaces the descriptor for id.
func (s *Store) Upsert(id int, d Descriptor) {
	d.FlowID = id
	if d.MeanDelay < 0 {
		d.MeanDelay = 0
	}
	s.flows[id] = d
}

// Get returns the descriptor for id. Callers treat a miss as zero impairment.
func (s *Store) Get(id int) (Descriptor, bool) {
	d, ok := s.flows[id]
	return d, ok
}

// Contains reports whether id is known.
func (s *Store) Contains(id int) bool {
	_, ok := s.flows[id]
	return ok
}

// Delete forgets id. The bootstrap flow is never removed.
func (s *Store) Delete(id int) {
	if id == BootstrapID {
		return
	}
	delete(s.flows, id)
}

// Len returns the number of known flows.
func (s *Store) Len() int { return len(s.flows) }

// Reset clears every flow and re-inserts the bootstrap flow.
func (s *Store) Reset() {
	s.flows = map[int]Descriptor{BootstrapID: Default(BootstrapID)}
}

// Snapshot returns a copy of all descriptors ordered by flow id.
func (s *Store) Snapshot() []Descriptor {
	out := make([]Descriptor, 0, len(s.flows))
	for _, d := range s.flows {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FlowID < out[j].FlowID })
	return out
}

// Ingest applies a "network" message. Malformed payloads are logged and the
// store is left unchanged.
func (s *Store) Ingest(msg wire.Message) error {
	if msg.Topic != wire.TopicNetwork {
		return fmt.Errorf("ingest: unexpected topic %q", msg.Topic)
	}
	u, err := wire.ParseNetworkUpdate(msg.Payload)
	if err != nil {
		s.log.Error("failed to parse network data", "err", err)
		return err
	}
	id := BootstrapID
	if u.FlowID != nil {
		id = *u.FlowID
	}
	d := Default(id)
	if prev, ok := s.flows[id]; ok {
		d.Source, d.Destination = prev.Source, prev.Destination
	}
	d.MeanDelay = u.MeanDelay
	d.MeanJitter = u.MeanJitter
	d.PacketLoss = u.PacketLoss
	if u.TxPackets != nil {
		d.TxPackets = *u.TxPackets
	}
	if u.RxPackets != nil {
		d.RxPackets = *u.RxPackets
	}
	s.Upsert(id, d)
	s.log.Debug("flow updated",
		"flow_id", id,
		"mean_delay_us", d.MeanDelay,
		"mean_jitter_us", d.MeanJitter,
		"packet_loss", d.PacketLoss,
		"tx_packets", d.TxPackets)
	return nil
}
