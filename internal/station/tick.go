package station

import (
	"context"
	"encoding/json"
	"time"

	"uavnetsim/internal/flow"
	"uavnetsim/internal/logging"
	"uavnetsim/internal/netem"
	"uavnetsim/internal/sink"
	"uavnetsim/internal/telemetry"
	"uavnetsim/internal/wire"
)

// Run starts the tick loop and stops when the context is done. Work posted
// before the loop exits is still executed.
func (s *Station) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	log.Info("starting station", "tick_interval", s.opts.TickInterval, "cluster_id", s.opts.ClusterID)

	for _, a := range s.opts.Applications {
		if _, err := s.events.StartApplication(a.App, a.Config); err != nil {
			log.Error("start application failed", "app_type", a.App, "err", err)
		}
	}

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			s.tick(ctx, now, now.Sub(last).Seconds())
			last = now
		case <-ctx.Done():
			s.postMu.Lock()
			s.stopped = true
			s.postMu.Unlock()
			s.drain()
			s.refreshStatus(time.Now())
			log.Info("stopping station")
			return nil
		}
	}
}

// tick advances the station by dt seconds of wall-clock time.
func (s *Station) tick(ctx context.Context, now time.Time, dt float64) {
	s.drain()

	if now.Sub(s.lastTelemetry) >= s.opts.TelemetryInterval {
		s.lastTelemetry = now
		s.pollTelemetry(now)
	}
	if s.opts.FrameSize > 0 && now.Sub(s.lastFrame) >= s.opts.FrameInterval {
		s.lastFrame = now
		s.captureFrame(now)
	}

	s.engine.Tick(dt)
	s.flushTelemetry(ctx)
	s.refreshStatus(now)

	if now.Sub(s.lastState) >= s.opts.StateInterval {
		s.lastState = now
		s.writeState(ctx, now)
	}
}

// drain runs everything queued on the hand-off channel without blocking.
func (s *Station) drain() {
	for {
		select {
		case fn := <-s.inbox:
			fn()
		default:
			return
		}
	}
}

func (s *Station) route(topic, payload string) {
	msg := wire.Message{Topic: topic, Payload: payload}
	switch topic {
	case wire.TopicNetwork:
		s.store.Ingest(msg)
	case wire.TopicNetworkEvents:
		s.events.Handle(msg)
	case wire.TopicAI:
		fb, err := wire.ParseAIFeedback(payload)
		if err != nil {
			s.log.Error("failed to parse ai feedback", "err", err)
			return
		}
		now := time.Now()
		s.tracker.Feedback(fb, now)
		s.tracker.Drawn(fb.Frame, now)
	case wire.TopicHeartbeat:
		s.lastHeartbeat = time.Now()
	default:
		s.log.Debug("unrouted message", "topic", topic)
	}
}

// pollTelemetry samples every vehicle and hands each row to the engine.
func (s *Station) pollTelemetry(now time.Time) {
	if s.fleet == nil {
		return
	}
	for _, id := range s.fleet.IDs() {
		row, err := s.fleet.Sample(id)
		if err != nil {
			s.log.Warn("telemetry sample failed", "vehicle", id, "err", err)
			continue
		}
		s.engine.EnqueueTelemetry(row, row.FlowID, s.deliverTelemetry)
	}
}

func (s *Station) deliverTelemetry(data any) {
	row, ok := data.(telemetry.TelemetryRow)
	if !ok {
		return
	}
	now := time.Now().UTC()
	row.Timestamp = now
	row.LatencyMs = float64(now.Sub(row.SampledAt)) / float64(time.Millisecond)
	s.delivered = append(s.delivered, row)
}

func (s *Station) flushTelemetry(ctx context.Context) {
	if len(s.delivered) == 0 {
		return
	}
	rows := s.delivered
	s.delivered = nil
	if s.writer != nil {
		if err := sink.WriteAll(s.writer, rows); err != nil {
			logging.FromContext(ctx).Error("telemetry write failed", "rows", len(rows), "err", err)
		}
	}
	for _, r := range rows {
		b, err := json.Marshal(r)
		if err != nil {
			continue
		}
		s.publish(wire.TopicTelemetry, string(b))
	}
}

// VideoFrame is the payload published on the video topic when a frame is
// delivered.
type VideoFrame struct {
	Frame      int64     `json:"frame"`
	Vehicle    string    `json:"vehicle"`
	CapturedAt time.Time `json:"captured_at"`
	Data       []byte    `json:"data"`
}

// captureFrame produces one synthetic frame from the first vehicle and
// sends it through the video flow.
func (s *Station) captureFrame(now time.Time) {
	if s.fleet == nil {
		return
	}
	ids := s.fleet.IDs()
	if len(ids) == 0 {
		return
	}
	row, err := s.fleet.Sample(ids[0])
	if err != nil {
		s.log.Warn("frame capture failed", "vehicle", ids[0], "err", err)
		return
	}
	flowID := s.events.FindFlowIDByType(flow.AppVideoStream)
	if flowID < 0 {
		flowID = row.FlowID
	}
	s.frameSeq++
	seq := s.frameSeq
	s.tracker.Captured(seq, now, telemetry.Position{Lat: row.Lat, Lon: row.Lon, Alt: row.Alt}, row.Yaw)

	data := make([]byte, s.opts.FrameSize)
	s.opts.Rand.Read(data)
	vehicleID := row.VehicleID
	s.engine.EnqueueFrame(data, flowID, seq, func(f netem.Frame) {
		s.tracker.Received(f.Seq, time.Now())
		b, err := json.Marshal(VideoFrame{Frame: f.Seq, Vehicle: vehicleID, CapturedAt: f.CapturedAt, Data: f.Data})
		if err != nil {
			return
		}
		s.publish(wire.TopicVideo, string(b))
	})
}

func (s *Station) writeState(ctx context.Context, now time.Time) {
	if s.writer == nil {
		return
	}
	log := logging.FromContext(ctx)
	st := s.Status()
	if fw, ok := s.writer.(sink.FlowWriter); ok {
		rows := make([]telemetry.FlowRow, len(st.Flows))
		for i, d := range st.Flows {
			rows[i] = telemetry.FlowRow{
				ClusterID:  s.opts.ClusterID,
				FlowID:     d.FlowID,
				Source:     d.Source,
				Dest:       d.Destination,
				MeanDelay:  d.MeanDelay,
				MeanJitter: d.MeanJitter,
				LossProb:   d.LossProbability(),
				TxPackets:  d.TxPackets,
				RxPackets:  d.RxPackets,
				Timestamp:  now.UTC(),
			}
		}
		if err := fw.WriteFlows(rows); err != nil {
			log.Error("flow write failed", "err", err)
		}
	}
	if sw, ok := s.writer.(sink.StateWriter); ok {
		if err := sw.WriteState(st.Row(now)); err != nil {
			log.Error("state write failed", "err", err)
		}
	}
}
