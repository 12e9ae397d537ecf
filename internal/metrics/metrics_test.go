package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"uavnetsim/internal/command"
	"uavnetsim/internal/flow"
	"uavnetsim/internal/netem"
	"uavnetsim/internal/station"
)

type fakeStatus struct{ st station.Status }

func (f fakeStatus) Status() station.Status { return f.st }

func TestObserveResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.ObserveResult(command.Result{Action: command.ActionArm, Reason: command.ReasonOK, Duration: 20 * time.Millisecond})
	c.ObserveResult(command.Result{Action: command.ActionArm, Reason: command.ReasonLost})
	c.ObserveResult(command.Result{Action: command.ActionArm, Reason: command.ReasonOK})

	if got := testutil.ToFloat64(c.CommandResults.WithLabelValues("arm", "ok")); got != 2 {
		t.Fatalf("ok results = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.CommandResults.WithLabelValues("arm", "lost")); got != 1 {
		t.Fatalf("lost results = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.CommandDuration); n != 1 {
		t.Fatalf("duration series = %d, want 1", n)
	}
}

func TestStatusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := fakeStatus{st: station.Status{
		Flows:         []flow.Descriptor{{FlowID: 1, MeanDelay: 1500, PacketLoss: 0.25}},
		Pending:       map[string]int{"command": 3},
		Engine:        map[string]netem.KindStats{"telemetry": {Delivered: 10, Dropped: 2}},
		Received:      7,
		InboxDropped:  1,
		PeerReachable: true,
	}}
	if _, err := New(reg, src, nil); err != nil {
		t.Fatalf("New: %v", err)
	}
	want := `
# HELP uav_flow_mean_delay_microseconds Mean one-way delay per flow.
# TYPE uav_flow_mean_delay_microseconds gauge
uav_flow_mean_delay_microseconds{flow_id="1"} 1500
# HELP uav_netem_pending_items Items waiting in the delay emulation engine.
# TYPE uav_netem_pending_items gauge
uav_netem_pending_items{kind="command"} 3
# HELP uav_peer_reachable 1 when the network simulator is reachable.
# TYPE uav_peer_reachable gauge
uav_peer_reachable 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want),
		"uav_flow_mean_delay_microseconds", "uav_netem_pending_items", "uav_peer_reachable"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg, fakeStatus{st: station.Status{}}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.ObserveResult(command.Result{Action: command.ActionLand, Reason: command.ReasonTimeout})

	srv := httptest.NewServer(c.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `uav_command_results_total{action="land",reason="timeout"} 1`) {
		t.Fatalf("metric missing from output:\n%s", body)
	}
}
