package dashboard

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRenderMissingEnv(t *testing.T) {
	t.Setenv("GREPTIMEDB_DATASOURCE_UID", "")
	t.Setenv("PROMETHEUS_DATASOURCE_UID", "")
	if err := Render(t.TempDir(), DefaultTables()); err == nil {
		t.Fatalf("expected error for missing env vars")
	}
}

func TestRenderSuccess(t *testing.T) {
	t.Setenv("GREPTIMEDB_DATASOURCE_UID", "uid1")
	t.Setenv("PROMETHEUS_DATASOURCE_UID", "uid2")

	dir := t.TempDir()
	tables := Tables{Telemetry: "tele_x", Flows: "flows_x", State: "state_x"}
	if err := Render(dir, tables); err != nil {
		t.Fatalf("render failed: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "uav-network.json"))
	if err != nil {
		t.Fatalf("read dashboard: %v", err)
	}
	if !json.Valid(b) {
		t.Fatalf("network dashboard is not valid JSON")
	}
	for _, want := range []string{"uid1", "FROM tele_x", "FROM flows_x", "FROM state_x"} {
		if !strings.Contains(string(b), want) {
			t.Fatalf("%q not rendered", want)
		}
	}

	b, err = os.ReadFile(filepath.Join(dir, "uav-station-metrics.json"))
	if err != nil {
		t.Fatalf("read metrics dashboard: %v", err)
	}
	if !json.Valid(b) || !strings.Contains(string(b), "uid2") {
		t.Fatalf("metrics dashboard not rendered")
	}
	if !strings.Contains(string(b), `"legendFormat": "{{reason}}"`) {
		t.Fatalf("legend placeholder not preserved")
	}
}
