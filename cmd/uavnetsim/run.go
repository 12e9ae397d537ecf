package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"uavnetsim/internal/admin"
	"uavnetsim/internal/command"
	"uavnetsim/internal/config"
	"uavnetsim/internal/detection"
	"uavnetsim/internal/flow"
	"uavnetsim/internal/logging"
	"uavnetsim/internal/metrics"
	"uavnetsim/internal/scenario"
	"uavnetsim/internal/sink"
	"uavnetsim/internal/station"
	"uavnetsim/internal/telemetry"
	"uavnetsim/internal/transport"
	"uavnetsim/internal/vehicle"
)

var (
	runPrintOnly bool
	runTUI       bool
	runLogFile   string
	runFrameCSV  string
	runAdminAddr string
	runRecord    string
	runSeed      int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ground station",
	Long: "run starts the simulated fleet, connects to the network simulator and " +
		"passes telemetry, video and commands through the per-flow delay engine.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		applyRunFlags(cmd, cfg)

		tui := cfg.Output.TUI && term.IsTerminal(int(os.Stdout.Fd()))
		bootLog, err := newLogger(nil)
		if err != nil {
			return err
		}
		writer, tw, cleanup, err := newWriters(cfg, tui, bootLog)
		if err != nil {
			return err
		}
		defer cleanup()
		log := bootLog
		if tw != nil {
			if log, err = newLogger(tw.LogWriter()); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, log)

		opts, err := stationOptions(cfg)
		if err != nil {
			return err
		}
		opts.Log = log
		opts.Commands.Log = log

		seed := runSeed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		fleet := vehicle.NewSimClient(cfg.Station.ClusterID, vehicleSpecs(cfg), vehicle.SimOptions{
			Rand: rand.New(rand.NewSource(seed + 1)),
			Log:  log,
		})
		opts.Rand = rand.New(rand.NewSource(seed))

		sock := transport.NewSocket(transportOptions(cfg, log))
		st := station.New(fleet, sock, sock, writer, opts)
		sock.OnMessage(st.Dispatch)

		if runRecord != "" {
			f, err := os.Create(runRecord)
			if err != nil {
				return fmt.Errorf("create record file: %w", err)
			}
			defer f.Close()
			rec := scenario.NewRecorder(f)
			sock.OnMessage(rec.Record)
			defer func() {
				if err := rec.Err(); err != nil {
					log.Warn("recording incomplete", "err", err)
				}
			}()
		}

		if err := sock.Start(cfg.Transport.PublishAddr, cfg.Transport.SubscribeAddr, cfg.Transport.Topics); err != nil {
			return err
		}
		defer sock.Shutdown()

		mc, err := metrics.New(prometheus.NewRegistry(), st, sock)
		if err != nil {
			return err
		}
		st.Commands().OnResult(mc.ObserveResult)

		srv := admin.NewServer(st, log)
		srv.Link = sock
		srv.Metrics = mc.Handler()
		if as, ok := writer.(sink.AdminStatusWriter); ok {
			srv.Status = as
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			fleet.Run(gctx)
			return nil
		})
		g.Go(func() error { return st.Run(gctx) })
		if cfg.Admin.Addr != "" {
			g.Go(func() error {
				if err := srv.Start(gctx, cfg.Admin.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("admin server: %w", err)
				}
				return nil
			})
		}
		log.Info("ground station started", "cluster_id", cfg.Station.ClusterID,
			"publish", cfg.Transport.PublishAddr, "subscribe", cfg.Transport.SubscribeAddr,
			"vehicles", len(cfg.Vehicles), "admin", cfg.Admin.Addr)

		runErr := g.Wait()
		if errors.Is(runErr, context.Canceled) {
			runErr = nil
		}

		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Shutdown(sctx); err != nil {
			log.Warn("command shutdown incomplete", "err", err)
		}
		if cfg.Output.FrameCSV != "" {
			if err := st.Tracker().WriteCSV(cfg.Output.FrameCSV); err != nil && !errors.Is(err, detection.ErrNoFrames) {
				log.Error("frame timeline export failed", "path", cfg.Output.FrameCSV, "err", err)
			} else if err == nil {
				log.Info("frame timeline written", "path", cfg.Output.FrameCSV, "frames", st.Tracker().Len())
			}
		}
		log.Info("ground station stopped")
		return runErr
	},
}

func init() {
	runCmd.Flags().BoolVar(&runPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to GreptimeDB")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show the terminal dashboard (ignored when stdout is not a terminal)")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "Path to export telemetry/flow/state logs (JSONL)")
	runCmd.Flags().StringVar(&runFrameCSV, "frame-csv", "", "Write the video frame timeline CSV here on exit")
	runCmd.Flags().StringVar(&runAdminAddr, "admin-addr", "", "Admin API listen address (overrides config)")
	runCmd.Flags().StringVar(&runRecord, "record", "", "Record every inbound message to this JSONL file for replay")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "Random seed for loss and synthetic video (0 picks one)")
}

// applyRunFlags lets explicitly set flags override the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("print-only") {
		cfg.Output.PrintOnly = runPrintOnly
	}
	if f.Changed("tui") {
		cfg.Output.TUI = runTUI
	}
	if f.Changed("log-file") {
		cfg.Output.LogFile = runLogFile
	}
	if f.Changed("frame-csv") {
		cfg.Output.FrameCSV = runFrameCSV
	}
	if f.Changed("admin-addr") {
		cfg.Admin.Addr = runAdminAddr
	}
}

// stationOptions maps the config onto station options. Unknown command
// actions and application types are rejected.
func stationOptions(cfg *config.Config) (station.Options, error) {
	s := cfg.Station
	opts := station.Options{
		ClusterID:         s.ClusterID,
		TickInterval:      s.TickInterval.D(),
		TelemetryInterval: s.TelemetryInterval.D(),
		FrameInterval:     s.FrameInterval.D(),
		StateInterval:     s.StateInterval.D(),
		DispatchBuffer:    s.DispatchBuffer,
		FrameSize:         s.FrameSize,
		VehicleFlows:      make(map[string]int, len(cfg.Vehicles)),
		Commands: command.Options{
			Workers:       int64(cfg.Commands.Workers),
			CancelTimeout: cfg.Commands.CancelTimeout.D(),
		},
	}
	for _, v := range cfg.Vehicles {
		opts.VehicleFlows[v.Name] = vehicleFlow(v)
	}
	if len(cfg.Commands.Timeouts) > 0 {
		opts.Commands.Timeouts = make(map[command.Action]time.Duration, len(cfg.Commands.Timeouts))
		for name, d := range cfg.Commands.Timeouts {
			a, err := command.ParseAction(name)
			if err != nil {
				return station.Options{}, fmt.Errorf("commands.timeouts: %w", err)
			}
			opts.Commands.Timeouts[a] = d.D()
		}
	}
	for _, app := range cfg.Applications {
		t, err := flow.ParseAppType(app.AppType)
		if err != nil {
			return station.Options{}, fmt.Errorf("applications: %w", err)
		}
		opts.Applications = append(opts.Applications, station.Application{App: t, Config: app.Config})
	}
	return opts, nil
}

func vehicleFlow(v config.Vehicle) int {
	if v.FlowID > 0 {
		return v.FlowID
	}
	return flow.BootstrapID
}

func vehicleSpecs(cfg *config.Config) []vehicle.Spec {
	specs := make([]vehicle.Spec, 0, len(cfg.Vehicles))
	for _, v := range cfg.Vehicles {
		specs = append(specs, vehicle.Spec{
			ID:     v.Name,
			Model:  v.Model,
			FlowID: vehicleFlow(v),
			Home:   telemetry.Position{Lat: v.Home.Lat, Lon: v.Home.Lon, Alt: v.Home.Alt},
		})
	}
	return specs
}

func transportOptions(cfg *config.Config, log *slog.Logger) transport.Options {
	t := cfg.Transport
	return transport.Options{
		RetryBackoff:      t.RetryBackoff.D(),
		PollInterval:      t.PollInterval.D(),
		SendBuffer:        t.SendBuffer,
		PeerTimeout:       t.PeerTimeout.D(),
		HeartbeatInterval: t.HeartbeatInterval.D(),
		Log:               log,
	}
}
