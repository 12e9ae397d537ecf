// ColorStdoutWriter prints human-friendly, colorized telemetry to STDOUT.
package sink

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"uavnetsim/internal/config"
	"uavnetsim/internal/telemetry"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
	colorWhite   = "\x1b[37m"
)

var flowPalette = []string{colorRed, colorGreen, colorYellow, colorBlue, colorMagenta, colorCyan}

// flowColor picks a stable color per flow id.
func flowColor(id int) string {
	if id < 0 {
		id = -id
	}
	return flowPalette[id%len(flowPalette)]
}

func statusColor(status string) string {
	switch status {
	case telemetry.StatusFailure:
		return colorRed
	case telemetry.StatusLowBattery:
		return colorYellow
	case telemetry.StatusLanded:
		return colorGray
	}
	return colorGreen
}

// ColorStdoutWriter prints telemetry rows using ANSI colors.
type ColorStdoutWriter struct {
	cfg  *config.Config
	out  io.Writer
	once sync.Once
	mu   sync.Mutex
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
func NewColorStdoutWriter(cfg *config.Config) *ColorStdoutWriter {
	return &ColorStdoutWriter{cfg: cfg, out: os.Stdout}
}

func (w *ColorStdoutWriter) printOverview() {
	if w.cfg == nil {
		return
	}
	fmt.Fprintln(w.out, "Station Configuration:")
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Cluster:\t%s\n", w.cfg.Station.ClusterID)
	fmt.Fprintf(tw, "Tick:\t%s\n", w.cfg.Station.TickInterval.D())
	fmt.Fprintf(tw, "Publish:\t%s\n", w.cfg.Transport.PublishAddr)
	fmt.Fprintf(tw, "Subscribe:\t%s\n", w.cfg.Transport.SubscribeAddr)
	tw.Flush()

	fmt.Fprintln(w.out, "\nVehicles:")
	tw = tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Name\tModel\tFlow\n")
	for _, v := range w.cfg.Vehicles {
		fmt.Fprintf(tw, "%s\t%s\t%s%d%s\n", v.Name, v.Model, flowColor(v.FlowID), v.FlowID, colorReset)
	}
	tw.Flush()
	fmt.Fprintln(w.out)
}

// Write outputs a single telemetry row in colorized format.
func (w *ColorStdoutWriter) Write(row telemetry.TelemetryRow) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()

	fmt.Fprintf(w.out, "%s[%s]%s ", colorGray, row.Timestamp.Format(time.RFC3339), colorReset)
	fmt.Fprintf(w.out, "%scluster=%s%s ", colorBlue, row.ClusterID, colorReset)
	fmt.Fprintf(w.out, "%sflow=%d%s ", flowColor(row.FlowID), row.FlowID, colorReset)
	fmt.Fprintf(w.out, "%suav=%s%s ", colorWhite, row.VehicleID, colorReset)
	fmt.Fprintf(w.out, "%slat=%.5f%s ", colorGreen, row.Lat, colorReset)
	fmt.Fprintf(w.out, "%slon=%.5f%s ", colorYellow, row.Lon, colorReset)
	fmt.Fprintf(w.out, "%salt=%.1f%s ", colorMagenta, row.Alt, colorReset)
	fmt.Fprintf(w.out, "%syaw=%.0f%s ", colorCyan, row.Yaw, colorReset)
	fmt.Fprintf(w.out, "%sbatt=%.1f%s ", colorCyan, row.Battery, colorReset)
	fmt.Fprintf(w.out, "%slat_ms=%.1f%s ", colorGray, row.LatencyMs, colorReset)
	fmt.Fprintf(w.out, "%sstatus=%s%s", statusColor(row.Status), row.Status, colorReset)
	if row.Armed {
		fmt.Fprintf(w.out, " %sarmed%s", colorRed, colorReset)
	}
	fmt.Fprintln(w.out)
	return nil
}

// WriteBatch outputs multiple telemetry rows.
func (w *ColorStdoutWriter) WriteBatch(rows []telemetry.TelemetryRow) error {
	for _, r := range rows {
		_ = w.Write(r)
	}
	return nil
}

// WriteFlows prints the current impairment of every flow.
func (w *ColorStdoutWriter) WriteFlows(rows []telemetry.FlowRow) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range rows {
		fmt.Fprintf(w.out, "%s[%s]%s %sFLOW%s %sid=%d%s %s->%s delay=%.0fus jitter=%.0fus loss=%.4f\n",
			colorGray, r.Timestamp.Format(time.RFC3339), colorReset,
			colorBlue, colorReset, flowColor(r.FlowID), r.FlowID, colorReset,
			r.Source, r.Dest, r.MeanDelay, r.MeanJitter, r.LossProb)
	}
	return nil
}

// WriteState prints station metrics to STDOUT.
func (w *ColorStdoutWriter) WriteState(row telemetry.StationStateRow) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()
	peer := colorRed + "down" + colorReset
	if row.PeerReachable {
		peer = colorGreen + "up" + colorReset
	}
	fmt.Fprintf(w.out, "%s[%s]%s %sSTATE%s flows=%d pending=%d/%d/%d delivered=%d lost=%d sent=%d dropped=%d peer=%s\n",
		colorGray, row.Timestamp.Format(time.RFC3339), colorReset,
		colorBlue, colorReset, row.Flows,
		row.PendingTelemetry, row.PendingCommands, row.PendingFrames,
		row.Delivered, row.Lost, row.MessagesSent, row.MessagesDropped, peer)
	return nil
}
