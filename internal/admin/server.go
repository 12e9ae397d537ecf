// HTTP admin API for the ground station
package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"time"

	"uavnetsim/internal/command"
	"uavnetsim/internal/detection"
	"uavnetsim/internal/flow"
	"uavnetsim/internal/sink"
	"uavnetsim/internal/station"
	"uavnetsim/internal/wire"
)

// Link is the part of the transport socket the admin API controls.
// *transport.Socket satisfies it.
type Link interface {
	SetHeartbeatInterval(d time.Duration)
	Rebind(addr string) error
}

type Server struct {
	Station *station.Station
	Link    Link
	Metrics http.Handler
	Status  sink.AdminStatusWriter
	log     *slog.Logger
	tpl     *template.Template
	mux     *http.ServeMux
}

//go:embed templates/index.html
var content embed.FS

// NewServer builds the admin API around st. link, metrics and status may be
// left nil on the returned server.
func NewServer(st *station.Station, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	tpl := template.Must(template.New("index.html").ParseFS(content, "templates/index.html"))
	s := &Server{Station: st, tpl: tpl, log: log.With("component", "admin")}
	return s
}

// Handler returns the admin routes.
func (s *Server) Handler() http.Handler {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /flows", s.handleFlows)
	mux.HandleFunc("POST /network", s.handleNetwork)
	mux.HandleFunc("GET /engine", s.handleEngine)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("GET /commands", s.handleRecent)
	mux.HandleFunc("POST /commands", s.handleCommand)
	mux.HandleFunc("POST /events/start", s.handleEventStart)
	mux.HandleFunc("POST /events/stop", s.handleEventStop)
	mux.HandleFunc("POST /heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /rebind", s.handleRebind)
	mux.HandleFunc("GET /frames.csv", s.handleFrames)
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics)
	}
	s.mux = mux
	return mux
}

// Start serves the admin API on addr until ctx is done.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves the admin API on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	s.log.Info("admin server listening", "addr", ln.Addr().String())
	s.setListening(true)
	defer s.setListening(false)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) setListening(up bool) {
	if s.Status != nil {
		s.Status.SetAdminStatus(up)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Status  station.Status
		Results []command.Result
	}{
		Status:  s.Station.Status(),
		Results: s.Station.Commands().Recent(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.Execute(w, data); err != nil {
		s.log.Error("render index failed", "err", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Station.Status())
}

func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	st := s.Station.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"flows":        st.Flows,
		"active_flows": st.ActiveFlows,
	})
}

// handleNetwork injects a network update as if the simulator had sent it.
func (s *Server) handleNetwork(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := wire.ParseNetworkUpdate(string(raw)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.Station.Dispatch(wire.TopicNetwork, string(raw))
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	st := s.Station.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":         st.Pending,
		"stats":           st.Engine,
		"queued_commands": st.QueuedCommands,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.Station.Reset(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Station.Commands().Recent())
}

// handleCommand dispatches a vehicle command. With ?wait=true the response
// carries the Result; otherwise it returns the command id immediately.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req command.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	p, err := s.Station.Command(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, command.ErrPeerUnreachable), errors.Is(err, command.ErrShuttingDown), errors.Is(err, command.ErrBusy):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	default:
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if r.URL.Query().Get("wait") != "true" {
		writeJSON(w, http.StatusAccepted, map[string]string{"id": p.ID()})
		return
	}
	res, err := p.Wait(r.Context())
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleEventStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AppType string `json:"app_type"`
		Config  string `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	app, err := flow.ParseAppType(body.AppType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.Station.StartApplication(r.Context(), app, body.Config)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"local_id": id})
}

func (s *Server) handleEventStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		LocalID int `json:"local_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Station.StopApplication(r.Context(), body.LocalID); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if s.Link == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no transport attached"))
		return
	}
	var body struct {
		Interval string `json:"interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(body.Interval)
	if err != nil || d <= 0 {
		writeError(w, http.StatusBadRequest, errors.New("interval must be a positive duration"))
		return
	}
	s.Link.SetHeartbeatInterval(d)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRebind(w http.ResponseWriter, r *http.Request) {
	if s.Link == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no transport attached"))
		return
	}
	var body struct {
		Addr string `json:"addr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Link.Rebind(body.Addr); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFrames(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	if err := s.Station.Tracker().Write(w); err != nil {
		if errors.Is(err, detection.ErrNoFrames) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.log.Error("write frame csv failed", "err", err)
	}
}
