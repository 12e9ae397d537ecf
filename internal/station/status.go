package station

import (
	"time"

	"uavnetsim/internal/flow"
	"uavnetsim/internal/netem"
	"uavnetsim/internal/telemetry"
)

// Status is a read-only copy of the tick goroutine's state, refreshed once
// per tick.
type Status struct {
	ClusterID      string                     `json:"cluster_id"`
	Flows          []flow.Descriptor          `json:"flows"`
	ActiveFlows    []flow.ActiveFlow          `json:"active_flows"`
	Pending        map[string]int             `json:"pending"`
	Engine         map[string]netem.KindStats `json:"engine"`
	QueuedCommands int                        `json:"queued_commands"`
	Received       uint64                     `json:"received"`
	InboxDropped   uint64                     `json:"inbox_dropped"`
	Published      uint64                     `json:"published"`
	Frames         int                        `json:"frames"`
	PeerReachable  bool                       `json:"peer_reachable"`
	LastHeartbeat  time.Time                  `json:"last_heartbeat,omitempty"`
	Updated        time.Time                  `json:"updated"`
}

// Row converts the status into a station state row.
func (st Status) Row(now time.Time) telemetry.StationStateRow {
	row := telemetry.StationStateRow{
		ClusterID:        st.ClusterID,
		Flows:            len(st.Flows),
		PendingTelemetry: st.Pending[netem.KindTelemetry.String()],
		PendingCommands:  st.Pending[netem.KindCommand.String()],
		PendingFrames:    st.Pending[netem.KindFrame.String()],
		MessagesSent:     st.Published,
		MessagesDropped:  st.InboxDropped,
		PeerReachable:    st.PeerReachable,
		Timestamp:        now.UTC(),
	}
	for _, ks := range st.Engine {
		row.Delivered += ks.Delivered
		row.Lost += ks.Dropped
	}
	return row
}

func (s *Station) refreshStatus(now time.Time) {
	st := Status{
		ClusterID:      s.opts.ClusterID,
		Flows:          s.store.Snapshot(),
		ActiveFlows:    s.events.ActiveFlows(),
		Pending:        make(map[string]int),
		Engine:         make(map[string]netem.KindStats),
		QueuedCommands: s.cmds.Queued(),
		Received:       s.received.Load(),
		InboxDropped:   s.inboxDropped.Load(),
		Published:      s.published.Load(),
		Frames:         s.tracker.Len(),
		PeerReachable:  s.peer == nil || s.peer.Reachable(),
		LastHeartbeat:  s.lastHeartbeat,
		Updated:        now,
	}
	for k, n := range s.engine.Pending() {
		st.Pending[k.String()] = n
	}
	for k, ks := range s.engine.Stats() {
		st.Engine[k.String()] = ks
	}
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}

// Status returns the snapshot taken at the end of the last tick.
func (s *Station) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}
