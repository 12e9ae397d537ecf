package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"uavnetsim/internal/telemetry"
)

// JSONStdoutWriter prints telemetry, flows and state as JSON lines.
type JSONStdoutWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

func (w *JSONStdoutWriter) emit(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// Write outputs a telemetry row in JSON format.
func (w *JSONStdoutWriter) Write(row telemetry.TelemetryRow) error {
	return w.emit(row)
}

// WriteBatch outputs multiple telemetry rows in JSON format.
func (w *JSONStdoutWriter) WriteBatch(rows []telemetry.TelemetryRow) error {
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteFlows outputs one JSON line per flow.
func (w *JSONStdoutWriter) WriteFlows(rows []telemetry.FlowRow) error {
	for _, r := range rows {
		if err := w.emit(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteState outputs a station state row in JSON format.
func (w *JSONStdoutWriter) WriteState(row telemetry.StationStateRow) error {
	return w.emit(row)
}
