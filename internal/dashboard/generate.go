// Grafana dashboard rendering for the GreptimeDB tables and station metrics
package dashboard

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"

	"uavnetsim/internal/telemetry"
)

//go:embed templates/*.json.tmpl
var templates embed.FS

// Tables names the GreptimeDB tables the dashboards query.
type Tables struct {
	Telemetry string
	Flows     string
	State     string
}

// DefaultTables returns the table names the sink writes to.
func DefaultTables() Tables {
	return Tables{
		Telemetry: telemetry.TelemetryTableName,
		Flows:     telemetry.FlowTableName,
		State:     "uav_station_state",
	}
}

// Render parses the dashboard templates and writes rendered dashboards to
// outDir. Datasource uids come from the environment
// (GREPTIMEDB_DATASOURCE_UID, PROMETHEUS_DATASOURCE_UID).
func Render(outDir string, tables Tables) error {
	funcMap := template.FuncMap{
		"env": func(key string) (string, error) {
			v := os.Getenv(key)
			if v == "" {
				return "", fmt.Errorf("environment variable %s not set", key)
			}
			return v, nil
		},
	}

	names, err := fs.Glob(templates, "templates/*.json.tmpl")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return err
	}
	for _, name := range names {
		t, err := template.New(path.Base(name)).Funcs(funcMap).ParseFS(templates, name)
		if err != nil {
			return err
		}
		outPath := filepath.Join(outDir, strings.TrimSuffix(path.Base(name), ".tmpl"))
		f, err := os.Create(outPath)
		if err != nil {
			return err
		}
		if err := t.Execute(f, tables); err != nil {
			f.Close()
			return fmt.Errorf("render %s: %w", path.Base(name), err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
