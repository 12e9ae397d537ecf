package main

import (
	"errors"
	"testing"
	"time"

	"uavnetsim/internal/command"
	"uavnetsim/internal/config"
	"uavnetsim/internal/flow"
)

func TestStationOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Vehicles = append(cfg.Vehicles, config.Vehicle{Name: "uav-2"})
	cfg.Commands.Timeouts = map[string]config.Duration{"move": config.Duration(30 * time.Second)}
	cfg.Applications = []config.Application{{AppType: "VideoStream", Config: "rate=2Mbps"}}

	opts, err := stationOptions(cfg)
	if err != nil {
		t.Fatalf("stationOptions: %v", err)
	}
	if opts.VehicleFlows["uav-1"] != 1 || opts.VehicleFlows["uav-2"] != flow.BootstrapID {
		t.Fatalf("vehicle flows = %v", opts.VehicleFlows)
	}
	if opts.Commands.Timeouts[command.ActionMove] != 30*time.Second {
		t.Fatalf("move timeout = %v", opts.Commands.Timeouts[command.ActionMove])
	}
	if len(opts.Applications) != 1 || opts.Applications[0].App != flow.AppVideoStream {
		t.Fatalf("applications = %+v", opts.Applications)
	}
	if got := vehicleSpecs(cfg); len(got) != 2 || got[1].FlowID != flow.BootstrapID {
		t.Fatalf("specs = %+v", got)
	}
}

func TestStationOptionsRejectsUnknownNames(t *testing.T) {
	cfg := config.Default()
	cfg.Commands.Timeouts = map[string]config.Duration{"dance": config.Duration(time.Second)}
	if _, err := stationOptions(cfg); !errors.Is(err, command.ErrUnknownAction) {
		t.Fatalf("err = %v, want ErrUnknownAction", err)
	}
	cfg = config.Default()
	cfg.Applications = []config.Application{{AppType: "Carrier pigeon"}}
	if _, err := stationOptions(cfg); err == nil {
		t.Fatalf("expected error for unknown application type")
	}
}

func TestPickScenario(t *testing.T) {
	sc, err := pickScenario("", "urban")
	if err != nil || len(sc.Phases) == 0 {
		t.Fatalf("pickScenario urban: %v %+v", err, sc)
	}
	if _, err := pickScenario("", "nowhere"); err == nil {
		t.Fatalf("expected error for unknown arc")
	}
}
