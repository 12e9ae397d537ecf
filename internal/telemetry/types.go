// Telemetry structs with greptime tags
package telemetry

import (
	"os"
	"time"
)

// TelemetryRow is one vehicle telemetry sample as delivered to the ground
// station after network emulation.
type TelemetryRow struct {
	ClusterID string    `json:"cluster_id"` // TAG
	VehicleID string    `json:"vehicle_id"` // TAG
	FlowID    int       `json:"flow_id"`    // FIELD
	Lat       float64   `json:"lat"`        // FIELD
	Lon       float64   `json:"lon"`        // FIELD
	Alt       float64   `json:"alt"`        // FIELD
	Yaw       float64   `json:"yaw"`        // FIELD
	Battery   float64   `json:"battery"`    // FIELD
	Status    string    `json:"status"`     // FIELD
	Armed     bool      `json:"armed"`      // FIELD
	SampledAt time.Time `json:"sampled_at"` // FIELD, when the vehicle produced it
	LatencyMs float64   `json:"latency_ms"` // FIELD, sampled -> delivered
	Timestamp time.Time `json:"ts"`         // TIME INDEX
}

// TelemetryTableName holds the table name used when writing to GreptimeDB.
// It defaults to "uav_telemetry" but can be overridden via the
// GREPTIMEDB_TABLE environment variable.
var TelemetryTableName = func() string {
	if env := os.Getenv("GREPTIMEDB_TABLE"); env != "" {
		return env
	}
	return "uav_telemetry"
}()

func (TelemetryRow) TableName() string {
	return TelemetryTableName
}

// FlowRow is a snapshot of one flow's impairment parameters.
type FlowRow struct {
	ClusterID  string    `json:"cluster_id"`     // TAG
	FlowID     int       `json:"flow_id"`        // TAG
	Source     string    `json:"src"`            // FIELD
	Dest       string    `json:"dst"`            // FIELD
	MeanDelay  float64   `json:"mean_delay_us"`  // FIELD
	MeanJitter float64   `json:"mean_jitter_us"` // FIELD
	LossProb   float64   `json:"loss_prob"`      // FIELD
	TxPackets  int64     `json:"tx_packets"`     // FIELD
	RxPackets  int64     `json:"rx_packets"`     // FIELD
	Timestamp  time.Time `json:"ts"`             // TIME INDEX
}

// FlowTableName is the GreptimeDB table for flow snapshots
// (GREPTIMEDB_FLOW_TABLE).
var FlowTableName = func() string {
	if env := os.Getenv("GREPTIMEDB_FLOW_TABLE"); env != "" {
		return env
	}
	return "uav_flows"
}()

func (FlowRow) TableName() string {
	return FlowTableName
}

// Vehicle holds runtime state for a simulated vehicle.
type Vehicle struct {
	ID       string
	Model    string
	FlowID   int
	Position Position
	Home     Position
	Target   *Position
	Speed    float64 // m/s towards Target
	Yaw      float64 // degrees
	Battery  float64
	Status   string
	Armed    bool
}

// Position holds latitude, longitude, and altitude.
type Position struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
	Alt float64 `json:"alt"`
}

// Vehicle status constants.
const (
	StatusOK         = "ok"
	StatusLowBattery = "low_battery"
	StatusFailure    = "failed"
	StatusLanded     = "landed"
)
