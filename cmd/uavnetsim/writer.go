package main

import (
	"log/slog"

	"uavnetsim/internal/config"
	"uavnetsim/internal/sink"
)

// newWriters sets up the telemetry writers selected by cfg.Output. When tui
// is true the terminal dashboard is the base writer and is returned so the
// caller can route logs into it. The cleanup function closes every writer
// that holds a resource.
func newWriters(cfg *config.Config, tui bool, log *slog.Logger) (sink.TelemetryWriter, *sink.TUIWriter, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("writer close failed", "err", err)
			}
		}
	}

	var (
		ws []sink.TelemetryWriter
		tw *sink.TUIWriter
	)
	if tui {
		tw = sink.NewTUIWriter(cfg)
		closers = append(closers, tw.Close)
		ws = append(ws, tw)
	}
	base, err := baseWriter(cfg, tui, log)
	if err != nil {
		cleanup()
		return nil, nil, nil, err
	}
	if base != nil {
		ws = append(ws, base)
	}

	if cfg.Output.LogFile != "" {
		lf := cfg.Output.LogFile
		fw, err := sink.NewFileWriter(lf, lf+".flows", lf+".state")
		if err != nil {
			cleanup()
			return nil, nil, nil, err
		}
		closers = append(closers, fw.Close)
		ws = append(ws, fw)
	}

	if len(ws) == 1 {
		return ws[0], tw, cleanup, nil
	}
	return sink.NewMultiWriter(ws...), tw, cleanup, nil
}

// baseWriter chooses GreptimeDB when an endpoint is configured and stdout
// otherwise. With the TUI active stdout belongs to the dashboard, so no
// stdout writer is returned.
func baseWriter(cfg *config.Config, tui bool, log *slog.Logger) (sink.TelemetryWriter, error) {
	out := cfg.Output
	if !out.PrintOnly && out.Greptime.Endpoint != "" {
		return sink.NewGreptimeDBWriter(out.Greptime.Endpoint, out.Greptime.Database, "", log)
	}
	switch {
	case tui:
		return nil, nil
	case out.Color:
		return sink.NewColorStdoutWriter(cfg), nil
	default:
		return sink.NewJSONStdoutWriter(), nil
	}
}
