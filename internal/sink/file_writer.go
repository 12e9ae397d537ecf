package sink

import (
	"encoding/json"
	"os"
	"sync"

	"uavnetsim/internal/telemetry"
)

// FileWriter writes telemetry, flow and state rows to JSONL files.
type FileWriter struct {
	mu        sync.Mutex
	teleFile  *os.File
	flowFile  *os.File
	stateFile *os.File
	teleEnc   *json.Encoder
	flowEnc   *json.Encoder
	stateEnc  *json.Encoder
}

// NewFileWriter creates a FileWriter. flowPath or statePath may be empty to
// skip those logs.
func NewFileWriter(telemetryPath, flowPath, statePath string) (*FileWriter, error) {
	tf, err := os.Create(telemetryPath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{teleFile: tf, teleEnc: json.NewEncoder(tf)}
	if flowPath != "" {
		ff, err := os.Create(flowPath)
		if err != nil {
			fw.Close()
			return nil, err
		}
		fw.flowFile, fw.flowEnc = ff, json.NewEncoder(ff)
	}
	if statePath != "" {
		sf, err := os.Create(statePath)
		if err != nil {
			fw.Close()
			return nil, err
		}
		fw.stateFile, fw.stateEnc = sf, json.NewEncoder(sf)
	}
	return fw, nil
}

// Write logs a single telemetry row.
func (f *FileWriter) Write(row telemetry.TelemetryRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.teleEnc.Encode(row)
}

// WriteBatch logs multiple telemetry rows.
func (f *FileWriter) WriteBatch(rows []telemetry.TelemetryRow) error {
	for _, r := range rows {
		if err := f.Write(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteFlows logs flow snapshot rows, if enabled.
func (f *FileWriter) WriteFlows(rows []telemetry.FlowRow) error {
	if f.flowEnc == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range rows {
		if err := f.flowEnc.Encode(r); err != nil {
			return err
		}
	}
	return nil
}

// WriteState logs a station state row, if enabled.
func (f *FileWriter) WriteState(row telemetry.StationStateRow) error {
	if f.stateEnc == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stateEnc.Encode(row)
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var err error
	for _, file := range []*os.File{f.teleFile, f.flowFile, f.stateFile} {
		if file == nil {
			continue
		}
		if e := file.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
