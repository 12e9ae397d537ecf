// Output writers for delivered telemetry, flow snapshots and station state
package sink

import "uavnetsim/internal/telemetry"

// TelemetryWriter is an interface to support different output writers.
type TelemetryWriter interface {
	Write(telemetry.TelemetryRow) error
}

// Optional: writers may support batch mode
type batchWriter interface {
	WriteBatch([]telemetry.TelemetryRow) error
}

// FlowWriter receives periodic snapshots of the flow table.
type FlowWriter interface {
	WriteFlows([]telemetry.FlowRow) error
}

// StateWriter handles station state rows.
type StateWriter interface {
	WriteState(telemetry.StationStateRow) error
}

// AdminStatusWriter allows writers to receive admin server status updates.
type AdminStatusWriter interface {
	SetAdminStatus(listening bool)
}

// WriteAll writes rows through w, using batch mode when w supports it.
func WriteAll(w TelemetryWriter, rows []telemetry.TelemetryRow) error {
	if len(rows) == 0 {
		return nil
	}
	if bw, ok := w.(batchWriter); ok {
		return bw.WriteBatch(rows)
	}
	for _, r := range rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}
