package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"uavnetsim/internal/scenario"
	"uavnetsim/internal/transport"
	"uavnetsim/internal/wire"
)

var (
	netsimPublish   string
	netsimSubscribe string
	netsimScenario  string
	netsimArc       string
	netsimInterval  time.Duration
	netsimFirstFlow int
)

var netsimCmd = &cobra.Command{
	Use:   "netsim",
	Short: "Run a stand-in network simulator",
	Long: "netsim publishes scripted link conditions on the network topic and answers " +
		"application start events with simulator flow ids, for running the station " +
		"without a packet-level simulator attached.",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := newLogger(nil)
		if err != nil {
			return err
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		path := netsimScenario
		if path == "" {
			path = cfg.Scenario
		}
		sc, err := pickScenario(path, netsimArc)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sock := transport.NewSocket(transport.Options{Log: log})
		ns := newNetsim(sock, netsimFirstFlow, log)
		sock.OnMessage(ns.handle)
		if err := sock.Start(netsimPublish, netsimSubscribe, []string{wire.TopicNetworkEvents}); err != nil {
			return err
		}
		defer sock.Shutdown()

		log.Info("network simulator started", "publish", netsimPublish, "subscribe", netsimSubscribe,
			"scenario", sc.Name, "phases", len(sc.Phases))
		err = scenario.Play(ctx, sc, ns, netsimInterval, log, nil)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	netsimCmd.Flags().StringVar(&netsimPublish, "publish", "tcp://*:5556", "Address to publish network updates on")
	netsimCmd.Flags().StringVar(&netsimSubscribe, "subscribe", "tcp://127.0.0.1:5555", "Station publisher to read network events from")
	netsimCmd.Flags().StringVar(&netsimScenario, "scenario", "", "Path to a scenario YAML file (defaults to the config's scenario)")
	netsimCmd.Flags().StringVar(&netsimArc, "arc", "degrading-link", "Built-in scenario to play when --scenario is not set")
	netsimCmd.Flags().DurationVar(&netsimInterval, "interval", time.Second, "Interval between network updates")
	netsimCmd.Flags().IntVar(&netsimFirstFlow, "first-flow-id", 1000, "First flow id handed out for started applications")
}

func pickScenario(path, arc string) (*scenario.Scenario, error) {
	if path != "" {
		return scenario.Load(path)
	}
	arcs := scenario.BuiltIn()
	if sc, ok := arcs[arc]; ok {
		return &sc, nil
	}
	names := make([]string, 0, len(arcs))
	for n := range arcs {
		names = append(names, n)
	}
	sort.Strings(names)
	return nil, fmt.Errorf("unknown scenario %q (built-in: %v)", arc, names)
}

// netsim hands out flow ids for started applications and fans every
// flow-less network update out to the flows it has assigned.
type netsim struct {
	pub scenario.Publisher
	log *slog.Logger

	mu    sync.Mutex
	next  int
	flows map[int]string
}

func newNetsim(pub scenario.Publisher, first int, log *slog.Logger) *netsim {
	return &netsim{pub: pub, log: log.With("component", "netsim"), next: first, flows: make(map[int]string)}
}

func (n *netsim) handle(topic, payload string) {
	if topic != wire.TopicNetworkEvents {
		return
	}
	ev, err := wire.ParseNetworkEvent(payload)
	if err != nil {
		n.log.Warn("bad network event", "err", err)
		return
	}
	switch ev.EventType {
	case wire.EventStart:
		if ev.FlowID > 0 {
			return
		}
		n.mu.Lock()
		id := n.next
		n.next++
		n.flows[id] = ev.AppType
		n.mu.Unlock()
		n.log.Info("application started", "app_type", ev.AppType, "local_id", ev.LocalID, "flow_id", id)
		n.pub.Publish(wire.TopicNetworkEvents, wire.NetworkEvent{
			EventType: wire.EventStart,
			AppType:   ev.AppType,
			LocalID:   ev.LocalID,
			FlowID:    id,
		}.Marshal())
	case wire.EventStop:
		n.mu.Lock()
		delete(n.flows, ev.FlowID)
		n.mu.Unlock()
		n.log.Info("application stopped", "app_type", ev.AppType, "flow_id", ev.FlowID)
	}
}

// Publish forwards msg unchanged and, for network updates without a flow
// id, once more per assigned flow.
func (n *netsim) Publish(topic, payload string) {
	n.pub.Publish(topic, payload)
	if topic != wire.TopicNetwork {
		return
	}
	u, err := wire.ParseNetworkUpdate(payload)
	if err != nil || u.FlowID != nil {
		return
	}
	n.mu.Lock()
	ids := make([]int, 0, len(n.flows))
	for id := range n.flows {
		ids = append(ids, id)
	}
	n.mu.Unlock()
	sort.Ints(ids)
	for _, id := range ids {
		u.FlowID = &id
		n.pub.Publish(topic, u.Marshal())
	}
}
