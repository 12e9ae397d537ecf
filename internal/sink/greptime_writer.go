package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"uavnetsim/internal/telemetry"
)

const defaultGreptimePort = 4001

// greptimeClient is the subset of the ingester client the writer uses.
type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeDBWriter writes telemetry, flow snapshots and station state to
// GreptimeDB via the ingester client. Tables are created on first insert.
type GreptimeDBWriter struct {
	client     greptimeClient
	table      string
	flowTable  string
	stateTable string
	timeout    time.Duration
	log        *slog.Logger
}

// NewGreptimeDBWriter connects to endpoint ("host" or "host:port").
// Empty table names select the defaults.
func NewGreptimeDBWriter(endpoint, database, stateTable string, log *slog.Logger) (*GreptimeDBWriter, error) {
	host, port, err := splitGreptimeEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	cfg := greptime.NewConfig(host).WithPort(port).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	if stateTable == "" {
		stateTable = "uav_station_state"
	}
	if log == nil {
		log = slog.Default()
	}
	return &GreptimeDBWriter{
		client:     client,
		table:      telemetry.TelemetryTableName,
		flowTable:  telemetry.FlowTableName,
		stateTable: stateTable,
		timeout:    5 * time.Second,
		log:        log.With("component", "greptime_writer"),
	}, nil
}

func splitGreptimeEndpoint(endpoint string) (string, int, error) {
	if endpoint == "" {
		return "", 0, fmt.Errorf("greptime endpoint is empty")
	}
	host, p, err := net.SplitHostPort(endpoint)
	if err != nil {
		return endpoint, defaultGreptimePort, nil
	}
	port, err := strconv.Atoi(p)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("greptime endpoint %q: invalid port", endpoint)
	}
	return host, port, nil
}

func (w *GreptimeDBWriter) write(tbl *table.Table, rows int) error {
	timeout := w.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	name, _ := tbl.GetName()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		w.logger().Error("write failed", "table", name, "err", err)
		return err
	}
	w.logger().Debug("wrote rows", "table", name, "rows", rows)
	return nil
}

func (w *GreptimeDBWriter) logger() *slog.Logger {
	if w.log == nil {
		return slog.Default()
	}
	return w.log
}

// Write inserts a single telemetry row.
func (w *GreptimeDBWriter) Write(row telemetry.TelemetryRow) error {
	return w.WriteBatch([]telemetry.TelemetryRow{row})
}

// WriteBatch inserts multiple telemetry rows.
func (w *GreptimeDBWriter) WriteBatch(rows []telemetry.TelemetryRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.table)
	if err != nil {
		return err
	}
	for _, c := range []error{
		tbl.AddTagColumn("cluster_id", types.STRING),
		tbl.AddTagColumn("vehicle_id", types.STRING),
		tbl.AddFieldColumn("flow_id", types.INT64),
		tbl.AddFieldColumn("lat", types.FLOAT64),
		tbl.AddFieldColumn("lon", types.FLOAT64),
		tbl.AddFieldColumn("alt", types.FLOAT64),
		tbl.AddFieldColumn("yaw", types.FLOAT64),
		tbl.AddFieldColumn("battery", types.FLOAT64),
		tbl.AddFieldColumn("status", types.STRING),
		tbl.AddFieldColumn("armed", types.BOOLEAN),
		tbl.AddFieldColumn("latency_ms", types.FLOAT64),
		tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND),
	} {
		if c != nil {
			return c
		}
	}
	for _, r := range rows {
		if err := tbl.AddRow(r.ClusterID, r.VehicleID, int64(r.FlowID), r.Lat, r.Lon, r.Alt, r.Yaw,
			r.Battery, r.Status, r.Armed, r.LatencyMs, r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(tbl, len(rows))
}

// WriteFlows inserts a flow table snapshot.
func (w *GreptimeDBWriter) WriteFlows(rows []telemetry.FlowRow) error {
	if len(rows) == 0 {
		return nil
	}
	tbl, err := table.New(w.flowTable)
	if err != nil {
		return err
	}
	for _, c := range []error{
		tbl.AddTagColumn("cluster_id", types.STRING),
		tbl.AddTagColumn("flow_id", types.STRING),
		tbl.AddFieldColumn("src", types.STRING),
		tbl.AddFieldColumn("dst", types.STRING),
		tbl.AddFieldColumn("mean_delay_us", types.FLOAT64),
		tbl.AddFieldColumn("mean_jitter_us", types.FLOAT64),
		tbl.AddFieldColumn("loss_prob", types.FLOAT64),
		tbl.AddFieldColumn("tx_packets", types.INT64),
		tbl.AddFieldColumn("rx_packets", types.INT64),
		tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND),
	} {
		if c != nil {
			return c
		}
	}
	for _, r := range rows {
		if err := tbl.AddRow(r.ClusterID, strconv.Itoa(r.FlowID), r.Source, r.Dest, r.MeanDelay,
			r.MeanJitter, r.LossProb, r.TxPackets, r.RxPackets, r.Timestamp); err != nil {
			return err
		}
	}
	return w.write(tbl, len(rows))
}

// WriteState inserts a station state row.
func (w *GreptimeDBWriter) WriteState(row telemetry.StationStateRow) error {
	tbl, err := table.New(w.stateTable)
	if err != nil {
		return err
	}
	for _, c := range []error{
		tbl.AddTagColumn("cluster_id", types.STRING),
		tbl.AddFieldColumn("flows", types.INT64),
		tbl.AddFieldColumn("pending_telemetry", types.INT64),
		tbl.AddFieldColumn("pending_commands", types.INT64),
		tbl.AddFieldColumn("pending_frames", types.INT64),
		tbl.AddFieldColumn("delivered", types.UINT64),
		tbl.AddFieldColumn("lost", types.UINT64),
		tbl.AddFieldColumn("messages_sent", types.UINT64),
		tbl.AddFieldColumn("messages_dropped", types.UINT64),
		tbl.AddFieldColumn("peer_reachable", types.BOOLEAN),
		tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND),
	} {
		if c != nil {
			return c
		}
	}
	if err := tbl.AddRow(row.ClusterID, int64(row.Flows), int64(row.PendingTelemetry),
		int64(row.PendingCommands), int64(row.PendingFrames), row.Delivered, row.Lost,
		row.MessagesSent, row.MessagesDropped, row.PeerReachable, row.Timestamp); err != nil {
		return err
	}
	return w.write(tbl, 1)
}
