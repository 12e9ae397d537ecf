// Prometheus metrics for the ground station
package metrics

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"uavnetsim/internal/command"
	"uavnetsim/internal/station"
	"uavnetsim/internal/transport"
)

// StatusSource provides station snapshots. *station.Station satisfies it.
type StatusSource interface {
	Status() station.Status
}

// TransportSource provides socket counters. *transport.Socket satisfies it.
type TransportSource interface {
	Publisher() *transport.Publisher
	Subscriber() *transport.Subscriber
}

// Collector exposes command outcomes and the station snapshot.
type Collector struct {
	gatherer prometheus.Gatherer

	CommandResults  *prometheus.CounterVec
	CommandDuration *prometheus.HistogramVec
	CommandQueued   prometheus.Histogram
}

// New registers the station metrics against reg. src and tr may be nil.
func New(reg prometheus.Registerer, src StatusSource, tr TransportSource) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &Collector{
		gatherer: gatherer,
		CommandResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uav_command_results_total",
			Help: "Vehicle commands by action and outcome.",
		}, []string{"action", "reason"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "uav_command_duration_seconds",
			Help:    "Duration of the remote flight-control call.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 15},
		}, []string{"action"}),
		CommandQueued: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "uav_command_emulated_delay_seconds",
			Help:    "Time commands spent in the delay emulation engine.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
	}
	cs := []prometheus.Collector{c.CommandResults, c.CommandDuration, c.CommandQueued}
	if src != nil {
		cs = append(cs, &statusCollector{src: src})
	}
	if tr != nil {
		cs = append(cs, &transportCollector{src: tr})
	}
	for _, col := range cs {
		if err := reg.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return nil, err
		}
	}
	return c, nil
}

// ObserveResult records one command outcome. It matches the signature of
// command.Dispatcher.OnResult.
func (c *Collector) ObserveResult(r command.Result) {
	c.CommandResults.WithLabelValues(string(r.Action), string(r.Reason)).Inc()
	if r.Duration > 0 {
		c.CommandDuration.WithLabelValues(string(r.Action)).Observe(r.Duration.Seconds())
	}
	c.CommandQueued.Observe(r.Queued.Seconds())
}

// Gatherer returns the gatherer the collector registered with.
func (c *Collector) Gatherer() prometheus.Gatherer { return c.gatherer }

// Handler serves the registered metrics in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

var (
	flowsDesc = prometheus.NewDesc("uav_flows",
		"Flows known to the flow store.", nil, nil)
	flowDelayDesc = prometheus.NewDesc("uav_flow_mean_delay_microseconds",
		"Mean one-way delay per flow.", []string{"flow_id"}, nil)
	flowLossDesc = prometheus.NewDesc("uav_flow_loss_probability",
		"Per-item loss probability per flow.", []string{"flow_id"}, nil)
	pendingDesc = prometheus.NewDesc("uav_netem_pending_items",
		"Items waiting in the delay emulation engine.", []string{"kind"}, nil)
	itemsDesc = prometheus.NewDesc("uav_netem_items_total",
		"Delay emulation outcomes.", []string{"kind", "outcome"}, nil)
	inboxDesc = prometheus.NewDesc("uav_station_messages_total",
		"Inbound transport messages handed to the tick loop.", []string{"outcome"}, nil)
	peerDesc = prometheus.NewDesc("uav_peer_reachable",
		"1 when the network simulator is reachable.", nil, nil)
	framesDesc = prometheus.NewDesc("uav_video_frames_tracked",
		"Video frames in the frame tracker.", nil, nil)
)

type statusCollector struct{ src StatusSource }

func (c *statusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{flowsDesc, flowDelayDesc, flowLossDesc, pendingDesc, itemsDesc, inboxDesc, peerDesc, framesDesc} {
		ch <- d
	}
}

func (c *statusCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Status()
	ch <- prometheus.MustNewConstMetric(flowsDesc, prometheus.GaugeValue, float64(len(st.Flows)))
	for _, d := range st.Flows {
		id := strconv.Itoa(d.FlowID)
		ch <- prometheus.MustNewConstMetric(flowDelayDesc, prometheus.GaugeValue, d.MeanDelay, id)
		ch <- prometheus.MustNewConstMetric(flowLossDesc, prometheus.GaugeValue, d.LossProbability(), id)
	}
	for kind, n := range st.Pending {
		ch <- prometheus.MustNewConstMetric(pendingDesc, prometheus.GaugeValue, float64(n), kind)
	}
	for kind, ks := range st.Engine {
		ch <- prometheus.MustNewConstMetric(itemsDesc, prometheus.CounterValue, float64(ks.Delivered), kind, "delivered")
		ch <- prometheus.MustNewConstMetric(itemsDesc, prometheus.CounterValue, float64(ks.Dropped), kind, "lost")
		ch <- prometheus.MustNewConstMetric(itemsDesc, prometheus.CounterValue, float64(ks.Cleared), kind, "cleared")
	}
	ch <- prometheus.MustNewConstMetric(inboxDesc, prometheus.CounterValue, float64(st.Received), "received")
	ch <- prometheus.MustNewConstMetric(inboxDesc, prometheus.CounterValue, float64(st.InboxDropped), "dropped")
	peer := 0.0
	if st.PeerReachable {
		peer = 1
	}
	ch <- prometheus.MustNewConstMetric(peerDesc, prometheus.GaugeValue, peer)
	ch <- prometheus.MustNewConstMetric(framesDesc, prometheus.GaugeValue, float64(st.Frames))
}

var (
	publishedDesc = prometheus.NewDesc("uav_transport_published_total",
		"Messages handed to subscriber peers.", nil, nil)
	pubDroppedDesc = prometheus.NewDesc("uav_transport_publish_dropped_total",
		"Messages dropped because no peer was bound or a send buffer was full.", nil, nil)
	peersDesc = prometheus.NewDesc("uav_transport_peers",
		"Connected subscriber peers.", nil, nil)
	receivedDesc = prometheus.NewDesc("uav_transport_received_total",
		"Messages received by the subscriber.", []string{"outcome"}, nil)
	reconnectsDesc = prometheus.NewDesc("uav_transport_reconnects_total",
		"Subscriber reconnect attempts.", nil, nil)
)

type transportCollector struct{ src TransportSource }

func (c *transportCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{publishedDesc, pubDroppedDesc, peersDesc, receivedDesc, reconnectsDesc} {
		ch <- d
	}
}

func (c *transportCollector) Collect(ch chan<- prometheus.Metric) {
	ps := c.src.Publisher().Stats()
	ss := c.src.Subscriber().Stats()
	ch <- prometheus.MustNewConstMetric(publishedDesc, prometheus.CounterValue, float64(ps.Sent))
	ch <- prometheus.MustNewConstMetric(pubDroppedDesc, prometheus.CounterValue, float64(ps.Dropped))
	ch <- prometheus.MustNewConstMetric(peersDesc, prometheus.GaugeValue, float64(ps.Peers))
	ch <- prometheus.MustNewConstMetric(receivedDesc, prometheus.CounterValue, float64(ss.Received), "accepted")
	ch <- prometheus.MustNewConstMetric(receivedDesc, prometheus.CounterValue, float64(ss.Filtered), "filtered")
	ch <- prometheus.MustNewConstMetric(receivedDesc, prometheus.CounterValue, float64(ss.Malformed), "malformed")
	ch <- prometheus.MustNewConstMetric(reconnectsDesc, prometheus.CounterValue, float64(ss.Reconnects))
}
