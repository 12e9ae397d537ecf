package admin

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"uavnetsim/internal/command"
	"uavnetsim/internal/logging"
	"uavnetsim/internal/station"
	"uavnetsim/internal/vehicle"
)

type fakeLink struct {
	interval time.Duration
	addr     string
}

func (l *fakeLink) SetHeartbeatInterval(d time.Duration) { l.interval = d }

func (l *fakeLink) Rebind(addr string) error {
	if !strings.HasPrefix(addr, "tcp://") {
		return errors.New("bad address")
	}
	l.addr = addr
	return nil
}

type nopPublisher struct{}

func (nopPublisher) Publish(topic, payload string) {}

func newTestServer(t *testing.T) (*Server, *fakeLink) {
	t.Helper()
	specs := []vehicle.Spec{{ID: "uav-1", Model: "medium-uav", FlowID: 1}}
	sim := vehicle.NewSimClient("test", specs, vehicle.SimOptions{Rand: rand.New(rand.NewSource(1)), Log: logging.Discard()})
	st := station.New(sim, nopPublisher{}, nil, nil, station.Options{
		ClusterID:         "test",
		TickInterval:      time.Millisecond,
		TelemetryInterval: time.Hour,
		Rand:              rand.New(rand.NewSource(1)),
		Log:               logging.Discard(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		st.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	link := &fakeLink{}
	srv := NewServer(st, logging.Discard())
	srv.Link = link
	return srv, link
}

func do(t *testing.T, srv *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestHandleNetworkUpdatesFlows(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, http.MethodPost, "/network", `{"meanDelay":3000,"meanJitter":0,"packetLoss":0,"flowId":4}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", w.Code)
	}
	eventually(t, func() bool { return len(srv.Station.Status().Flows) == 2 })

	w = do(t, srv, http.MethodGet, "/flows", "")
	var body struct {
		Flows []struct {
			FlowID    int     `json:"flow_id"`
			MeanDelay float64 `json:"mean_delay_us"`
		} `json:"flows"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Flows) != 2 || body.Flows[1].FlowID != 4 || body.Flows[1].MeanDelay != 3000 {
		t.Fatalf("unexpected flows %+v", body.Flows)
	}

	if w := do(t, srv, http.MethodPost, "/network", `{"meanDelay":1}`); w.Code != http.StatusBadRequest {
		t.Fatalf("incomplete update status = %d, want 400", w.Code)
	}
}

func TestHandleCommandWait(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, http.MethodPost, "/commands?wait=true", `{"vehicle":"uav-1","action":"arm"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body %s", w.Code, w.Body)
	}
	var res command.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.OK || res.Reason != command.ReasonOK || res.ID == "" {
		t.Fatalf("unexpected result %+v", res)
	}

	w = do(t, srv, http.MethodGet, "/commands", "")
	var recent []command.Result
	json.NewDecoder(w.Body).Decode(&recent)
	if len(recent) != 1 || recent[0].ID != res.ID {
		t.Fatalf("recent = %+v", recent)
	}
}

func TestHandleCommandRejects(t *testing.T) {
	srv, _ := newTestServer(t)
	if w := do(t, srv, http.MethodPost, "/commands", `{"vehicle":"uav-1","action":"loop"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown action status = %d, want 400", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/commands", `not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad body status = %d, want 400", w.Code)
	}
	srv.Station.Shutdown(context.Background())
	if w := do(t, srv, http.MethodPost, "/commands", `{"vehicle":"uav-1","action":"arm"}`); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("shutdown status = %d, want 503", w.Code)
	}
}

func TestHandleEventsAndReset(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, http.MethodPost, "/events/start", `{"app_type":"VideoStream","config":"fps=30"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("start status = %d body %s", w.Code, w.Body)
	}
	var started struct {
		LocalID int `json:"local_id"`
	}
	json.NewDecoder(w.Body).Decode(&started)
	if started.LocalID != 2 {
		t.Fatalf("local id = %d, want 2", started.LocalID)
	}
	if w := do(t, srv, http.MethodPost, "/events/start", `{"app_type":"Radar"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown app status = %d, want 400", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/reset", ""); w.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d", w.Code)
	}
	// The reset forgot the running flow.
	if w := do(t, srv, http.MethodPost, "/events/stop", `{"local_id":2}`); w.Code != http.StatusNotFound {
		t.Fatalf("stop after reset status = %d, want 404", w.Code)
	}
}

func TestHandleLink(t *testing.T) {
	srv, link := newTestServer(t)
	if w := do(t, srv, http.MethodPost, "/heartbeat", `{"interval":"250ms"}`); w.Code != http.StatusNoContent {
		t.Fatalf("heartbeat status = %d", w.Code)
	}
	if link.interval != 250*time.Millisecond {
		t.Fatalf("interval = %v", link.interval)
	}
	if w := do(t, srv, http.MethodPost, "/heartbeat", `{"interval":"-1s"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("negative interval status = %d, want 400", w.Code)
	}
	if w := do(t, srv, http.MethodPost, "/rebind", `{"addr":"tcp://10.0.0.2:5556"}`); w.Code != http.StatusNoContent || link.addr != "tcp://10.0.0.2:5556" {
		t.Fatalf("rebind status = %d addr %q", w.Code, link.addr)
	}
	if w := do(t, srv, http.MethodPost, "/rebind", `{"addr":"udp://x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad rebind status = %d, want 400", w.Code)
	}
}

func TestIndexAndStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	w := do(t, srv, http.MethodGet, "/", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Ground station test") {
		t.Fatalf("index status = %d body %s", w.Code, w.Body)
	}
	w = do(t, srv, http.MethodGet, "/status", "")
	var st station.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil || st.ClusterID != "test" {
		t.Fatalf("status %+v err %v", st, err)
	}
	if w := do(t, srv, http.MethodGet, "/frames.csv", ""); w.Code != http.StatusNoContent {
		t.Fatalf("frames status = %d, want 204 with no frames", w.Code)
	}
}
