package sink

import (
	"errors"

	"uavnetsim/internal/telemetry"
)

// MultiWriter fans out rows to multiple writers. Every writer is tried; the
// errors are joined.
type MultiWriter struct {
	writers []TelemetryWriter
}

// NewMultiWriter creates a new MultiWriter.
func NewMultiWriter(ws ...TelemetryWriter) *MultiWriter {
	return &MultiWriter{writers: ws}
}

// Write sends a telemetry row to all writers.
func (mw *MultiWriter) Write(row telemetry.TelemetryRow) error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, w.Write(row))
	}
	return errors.Join(errs...)
}

// WriteBatch sends multiple telemetry rows to all writers, using batch if supported.
func (mw *MultiWriter) WriteBatch(rows []telemetry.TelemetryRow) error {
	var errs []error
	for _, w := range mw.writers {
		errs = append(errs, WriteAll(w, rows))
	}
	return errors.Join(errs...)
}

// WriteFlows forwards flow rows to the writers that accept them.
func (mw *MultiWriter) WriteFlows(rows []telemetry.FlowRow) error {
	var errs []error
	for _, w := range mw.writers {
		if fw, ok := w.(FlowWriter); ok {
			errs = append(errs, fw.WriteFlows(rows))
		}
	}
	return errors.Join(errs...)
}

// WriteState forwards a state row to the writers that accept it.
func (mw *MultiWriter) WriteState(row telemetry.StationStateRow) error {
	var errs []error
	for _, w := range mw.writers {
		if sw, ok := w.(StateWriter); ok {
			errs = append(errs, sw.WriteState(row))
		}
	}
	return errors.Join(errs...)
}

// SetAdminStatus forwards the admin server status.
func (mw *MultiWriter) SetAdminStatus(listening bool) {
	for _, w := range mw.writers {
		if aw, ok := w.(AdminStatusWriter); ok {
			aw.SetAdminStatus(listening)
		}
	}
}
