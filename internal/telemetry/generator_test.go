package telemetry

import (
	"math/rand"
	"testing"
	"time"
)

func newTestVehicle() *Vehicle {
	return &Vehicle{
		ID:       "uav-001",
		Model:    "small-fpv",
		FlowID:   1,
		Position: Position{Lat: 48.2082, Lon: 16.3738, Alt: 100},
		Battery:  50,
		Status:   StatusOK,
		Armed:    true,
	}
}

func TestGenerateTelemetry(t *testing.T) {
	gen := NewGenerator("cluster-1", rand.New(rand.NewSource(1)))
	v := newTestVehicle()
	gen.Step(v, 1)
	row := gen.GenerateTelemetry(v)

	if row.ClusterID != "cluster-1" {
		t.Errorf("expected cluster-1, got %s", row.ClusterID)
	}
	if row.VehicleID != "uav-001" || row.FlowID != 1 {
		t.Errorf("unexpected identity %+v", row)
	}
	if time.Since(row.Timestamp) > 1*time.Second {
		t.Errorf("timestamp too old: %v", row.Timestamp)
	}
	if row.Lat == 48.2082 && row.Lon == 16.3738 {
		t.Errorf("expected hovering vehicle to drift")
	}
	if row.Battery >= 50 {
		t.Errorf("expected battery decrease, got %f", row.Battery)
	}
}

func TestStepDisarmedDoesNothing(t *testing.T) {
	gen := NewGenerator("c", rand.New(rand.NewSource(1)))
	v := newTestVehicle()
	v.Armed = false
	before := *v
	gen.Step(v, 10)
	if v.Position != before.Position || v.Battery != before.Battery {
		t.Fatalf("disarmed vehicle changed: %+v", v)
	}
}

func TestStepReachesTarget(t *testing.T) {
	gen := NewGenerator("c", rand.New(rand.NewSource(1)))
	v := newTestVehicle()
	target := Position{Lat: v.Position.Lat + 100.0/metersPerDegree, Lon: v.Position.Lon, Alt: 100}
	v.Target = &target
	v.Speed = 20

	gen.Step(v, 1)
	if d := Distance(v.Position, target); d < 79 || d > 81 {
		t.Fatalf("distance after 1s = %f, want ~80", d)
	}
	for i := 0; i < 10 && v.Target != nil; i++ {
		gen.Step(v, 1)
	}
	if v.Target != nil || v.Position != target {
		t.Fatalf("vehicle did not arrive: %+v", v.Position)
	}
}

func TestStatusThresholds(t *testing.T) {
	gen := NewGenerator("c", rand.New(rand.NewSource(1)))
	cases := []struct {
		battery float64
		alt     float64
		want    string
	}{
		{60, 100, StatusOK},
		{15, 100, StatusLowBattery},
		{5, 100, StatusFailure},
	}
	for _, c := range cases {
		v := newTestVehicle()
		v.Model = "unknown"
		v.Battery = c.battery
		v.Position.Alt = c.alt
		gen.Step(v, 0)
		if v.Status != c.want {
			t.Errorf("battery %v: status %q, want %q", c.battery, v.Status, c.want)
		}
	}
}

func TestTableNames(t *testing.T) {
	if (TelemetryRow{}).TableName() == "" || (FlowRow{}).TableName() == "" {
		t.Fatalf("table names must not be empty")
	}
}
