// Per-frame video timing and AI detection feedback
package detection

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"uavnetsim/internal/telemetry"
	"uavnetsim/internal/wire"
)

// ErrNoFrames is returned by WriteCSV when nothing has been tracked.
var ErrNoFrames = errors.New("detection: no frames tracked")

// Track holds the timeline of one video frame. Timestamps are Unix
// nanoseconds; zero means the stage never happened.
type Track struct {
	Frame       int64              `json:"frame"`
	CapturedAt  int64              `json:"captured_at_ns"`
	ReceivedAt  int64              `json:"received_at_ns"`
	AILatencyNs int64              `json:"ai_latency_ns"`
	FeedbackAt  int64              `json:"feedback_at_ns"`
	DrawnAt     int64              `json:"drawn_at_ns"`
	Position    telemetry.Position `json:"position"`
	Yaw         float64            `json:"yaw"`
	Boxes       [][4]float64       `json:"boxes"`
	Confidence  float64            `json:"confidence"`
}

// Tracker records frame timelines keyed by frame number. It is safe for
// concurrent use.
type Tracker struct {
	mu     sync.Mutex
	tracks map[int64]*Track
	log    *slog.Logger
}

// NewTracker returns an empty tracker.
func NewTracker(log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{tracks: make(map[int64]*Track), log: log.With("component", "frame_tracker")}
}

func (t *Tracker) get(frame int64) *Track {
	tr, ok := t.tracks[frame]
	if !ok {
		tr = &Track{Frame: frame}
		t.tracks[frame] = tr
	}
	return tr
}

// Captured records the moment a vehicle produced frame and its pose.
func (t *Tracker) Captured(frame int64, at time.Time, pos telemetry.Position, yaw float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr := t.get(frame)
	tr.CapturedAt = at.UnixNano()
	tr.Position = pos
	tr.Yaw = yaw
}

// Received records the moment the ground station got frame.
func (t *Tracker) Received(frame int64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.get(frame).ReceivedAt = at.UnixNano()
}

// Feedback applies detector output for a frame. Boxes replace any earlier
// ones; the confidence kept is that of the last box.
func (t *Tracker) Feedback(fb wire.AIFeedback, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr := t.get(fb.Frame)
	tr.AILatencyNs = fb.AILatencyNs
	tr.FeedbackAt = at.UnixNano()
	tr.Boxes = tr.Boxes[:0]
	for _, b := range fb.Boxes {
		if len(b.B) != 4 {
			continue
		}
		tr.Confidence = b.C
		tr.Boxes = append(tr.Boxes, [4]float64{b.B[0], b.B[1], b.B[2], b.B[3]})
	}
	t.log.Debug("ai feedback", "frame", fb.Frame, "boxes", len(tr.Boxes), "ai_latency_ns", fb.AILatencyNs)
}

// Drawn records the moment the boxes for frame were rendered.
func (t *Tracker) Drawn(frame int64, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.get(frame).DrawnAt = at.UnixNano()
}

// Get returns a copy of the track for frame.
func (t *Tracker) Get(frame int64) (Track, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tr, ok := t.tracks[frame]
	if !ok {
		return Track{}, false
	}
	cp := *tr
	cp.Boxes = append([][4]float64(nil), tr.Boxes...)
	return cp, true
}

// Len returns the number of tracked frames.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tracks)
}

// Reset forgets every frame.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tracks = make(map[int64]*Track)
}

var csvHeader = []string{
	"FrameNumber", "UavCaptureTime", "GcsReceiveTime", "AIComputingLatency",
	"GcsReceiveAIFeedbackTime", "DetectionBoxDrawnTime",
	"UavLat", "UavLon", "UavAlt", "UavYaw", "BoundingBoxes", "Confidence",
}

// Write renders every track as CSV ordered by frame number. Times are
// seconds relative to the capture time of the lowest frame; stages that
// precede it or never happened are written as null.
func (t *Tracker) Write(w io.Writer) error {
	t.mu.Lock()
	frames := make([]int64, 0, len(t.tracks))
	for f := range t.tracks {
		frames = append(frames, f)
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i] < frames[j] })
	tracks := make([]Track, len(frames))
	for i, f := range frames {
		tracks[i] = *t.tracks[f]
	}
	t.mu.Unlock()

	if len(tracks) == 0 {
		return ErrNoFrames
	}
	base := tracks[0].CapturedAt
	rel := func(ts int64) string {
		if ts < base || ts == 0 {
			return "null"
		}
		return strconv.FormatFloat(float64(ts-base)/1e9, 'f', 9, 64)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, tr := range tracks {
		boxes := make([]string, len(tr.Boxes))
		for i, b := range tr.Boxes {
			boxes[i] = fmt.Sprintf("[%.2f %.2f %.2f %.2f]", b[0], b[1], b[2], b[3])
		}
		rec := []string{
			strconv.FormatInt(tr.Frame, 10),
			rel(tr.CapturedAt),
			rel(tr.ReceivedAt),
			strconv.FormatFloat(float64(tr.AILatencyNs)/1e9, 'f', 9, 64),
			rel(tr.FeedbackAt),
			rel(tr.DrawnAt),
			strconv.FormatFloat(tr.Position.Lat, 'f', 6, 64),
			strconv.FormatFloat(tr.Position.Lon, 'f', 6, 64),
			strconv.FormatFloat(tr.Position.Alt, 'f', 2, 64),
			strconv.FormatFloat(tr.Yaw, 'f', 2, 64),
			strings.Join(boxes, ";"),
			strconv.FormatFloat(tr.Confidence, 'f', 3, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSV writes the tracks to path, creating parent directories.
func (t *Tracker) WriteCSV(path string) error {
	if t.Len() == 0 {
		t.log.Warn("no frames tracked, nothing to write", "path", path)
		return ErrNoFrames
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.Write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	t.log.Info("frame tracks written", "path", path, "frames", t.Len())
	return nil
}
