package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"uavnetsim/internal/config"
	"uavnetsim/internal/telemetry"
)

func TestFileWriter(t *testing.T) {
	dir := t.TempDir()
	ts := time.Unix(0, 0).UTC()
	tele := filepath.Join(dir, "telemetry.jsonl")
	flows := filepath.Join(dir, "flows.jsonl")
	state := filepath.Join(dir, "state.jsonl")

	fw, err := NewFileWriter(tele, flows, state)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	rows := []telemetry.TelemetryRow{
		{ClusterID: "c1", VehicleID: "uav-1", FlowID: 1, LatencyMs: 4, Timestamp: ts},
		{ClusterID: "c1", VehicleID: "uav-2", FlowID: 2, Timestamp: ts},
	}
	if err := WriteAll(fw, rows); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if err := fw.WriteFlows([]telemetry.FlowRow{{FlowID: 1, MeanDelay: 5000, Timestamp: ts}}); err != nil {
		t.Fatalf("WriteFlows: %v", err)
	}
	if err := fw.WriteState(telemetry.StationStateRow{ClusterID: "c1", Delivered: 2, Timestamp: ts}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lines := readLines(t, tele)
	if len(lines) != 2 {
		t.Fatalf("telemetry lines = %d, want 2", len(lines))
	}
	var got telemetry.TelemetryRow
	if err := json.Unmarshal([]byte(lines[0]), &got); err != nil {
		t.Fatalf("decode telemetry: %v", err)
	}
	if got.VehicleID != "uav-1" || got.LatencyMs != 4 {
		t.Fatalf("unexpected telemetry: %#v", got)
	}
	var f telemetry.FlowRow
	if err := json.Unmarshal([]byte(readLines(t, flows)[0]), &f); err != nil || f.MeanDelay != 5000 {
		t.Fatalf("unexpected flow row %#v (%v)", f, err)
	}
	var st telemetry.StationStateRow
	if err := json.Unmarshal([]byte(readLines(t, state)[0]), &st); err != nil || st.Delivered != 2 {
		t.Fatalf("unexpected state row %#v (%v)", st, err)
	}
}

func TestFileWriterOptionalLogs(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWriter(filepath.Join(dir, "t.jsonl"), "", "")
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	defer fw.Close()
	if err := fw.WriteFlows([]telemetry.FlowRow{{FlowID: 1}}); err != nil {
		t.Fatalf("WriteFlows without file: %v", err)
	}
	if err := fw.WriteState(telemetry.StationStateRow{}); err != nil {
		t.Fatalf("WriteState without file: %v", err)
	}
	if _, err := NewFileWriter(filepath.Join(dir, "missing", "t.jsonl"), "", ""); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

type recordWriter struct {
	rows   []telemetry.TelemetryRow
	flows  int
	states int
	admin  bool
	err    error
}

func (r *recordWriter) Write(row telemetry.TelemetryRow) error {
	r.rows = append(r.rows, row)
	return r.err
}
func (r *recordWriter) WriteFlows(rows []telemetry.FlowRow) error  { r.flows += len(rows); return nil }
func (r *recordWriter) WriteState(telemetry.StationStateRow) error { r.states++; return nil }
func (r *recordWriter) SetAdminStatus(on bool)                     { r.admin = on }

type plainWriter struct{ n int }

func (p *plainWriter) Write(telemetry.TelemetryRow) error { p.n++; return nil }

func TestMultiWriterFanOut(t *testing.T) {
	failing := &recordWriter{err: errors.New("disk full")}
	healthy := &recordWriter{}
	plain := &plainWriter{}
	mw := NewMultiWriter(failing, healthy, plain)

	err := mw.WriteBatch([]telemetry.TelemetryRow{{VehicleID: "a"}, {VehicleID: "b"}})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(healthy.rows) != 2 || plain.n != 2 {
		t.Fatalf("a failing writer must not starve the others: %d %d", len(healthy.rows), plain.n)
	}
	if err := mw.WriteFlows([]telemetry.FlowRow{{}, {}}); err != nil {
		t.Fatalf("WriteFlows: %v", err)
	}
	if err := mw.WriteState(telemetry.StationStateRow{}); err != nil {
		t.Fatalf("WriteState: %v", err)
	}
	mw.SetAdminStatus(true)
	if healthy.flows != 2 || healthy.states != 1 || !healthy.admin {
		t.Fatalf("optional interfaces not forwarded: %+v", healthy)
	}
}

func TestJSONStdoutWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	w := &JSONStdoutWriter{out: buf}
	if err := w.Write(telemetry.TelemetryRow{VehicleID: "uav-1", Timestamp: time.Unix(0, 0)}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := w.WriteFlows([]telemetry.FlowRow{{FlowID: 1}, {FlowID: 2}}); err != nil {
		t.Fatalf("flows failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "{") {
		t.Fatalf("expected JSON lines, got %q", buf.String())
	}
}

func TestColorStdoutWriterOverviewOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	w := &ColorStdoutWriter{cfg: config.Default(), out: buf}
	row := telemetry.TelemetryRow{ClusterID: "c1", VehicleID: "uav-1", FlowID: 1, Status: telemetry.StatusLowBattery, Timestamp: time.Unix(0, 0)}
	if err := w.Write(row); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Station Configuration:") || !strings.Contains(out, "Vehicles:") {
		t.Fatalf("overview not printed: %q", out)
	}
	if !strings.Contains(out, colorYellow+"status=low_battery") {
		t.Fatalf("expected low battery highlight: %q", out)
	}
	buf.Reset()
	if err := w.WriteState(telemetry.StationStateRow{PeerReachable: true}); err != nil {
		t.Fatalf("state failed: %v", err)
	}
	if strings.Contains(buf.String(), "Station Configuration:") {
		t.Fatalf("overview printed more than once")
	}
}
