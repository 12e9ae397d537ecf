package telemetry

import "time"

// StationStateRow captures per-tick ground station and emulation metrics.
type StationStateRow struct {
	ClusterID        string    `json:"cluster_id"`
	Flows            int       `json:"flows"`
	PendingTelemetry int       `json:"pending_telemetry"`
	PendingCommands  int       `json:"pending_commands"`
	PendingFrames    int       `json:"pending_frames"`
	Delivered        uint64    `json:"delivered"`
	Lost             uint64    `json:"lost"`
	MessagesSent     uint64    `json:"messages_sent"`
	MessagesDropped  uint64    `json:"messages_dropped"`
	PeerReachable    bool      `json:"peer_reachable"`
	Timestamp        time.Time `json:"ts"`
}
