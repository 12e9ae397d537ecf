// Network impairment scenarios and recorded message replay
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"uavnetsim/internal/config"
	"uavnetsim/internal/wire"
)

// Scenario is an ordered list of impairment phases.
type Scenario struct {
	Name        string  `yaml:"name,omitempty"`
	Description string  `yaml:"description,omitempty"`
	Loop        bool    `yaml:"loop,omitempty"`
	Phases      []Phase `yaml:"phases"`
}

// Phase holds one set of link conditions for Duration. Delay and jitter are
// in microseconds; PacketLoss is a loss count over TxPackets, or a
// probability when TxPackets is zero.
type Phase struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description,omitempty"`
	Duration    config.Duration `yaml:"duration"`
	FlowID      *int            `yaml:"flow_id,omitempty"`
	MeanDelay   float64         `yaml:"mean_delay_us"`
	MeanJitter  float64         `yaml:"mean_jitter_us"`
	PacketLoss  float64         `yaml:"packet_loss"`
	TxPackets   int64           `yaml:"tx_packets,omitempty"`
	Next        string          `yaml:"next,omitempty"`
}

// Update renders the phase as a network update.
func (p Phase) Update() wire.NetworkUpdate {
	u := wire.NetworkUpdate{
		MeanDelay:  p.MeanDelay,
		MeanJitter: p.MeanJitter,
		PacketLoss: p.PacketLoss,
		FlowID:     p.FlowID,
	}
	if p.TxPackets > 0 {
		tx := p.TxPackets
		u.TxPackets = &tx
	}
	return u
}

var ErrNoPhases = errors.New("scenario: no phases")

// Load reads a YAML scenario definition from disk.
func Load(path string) (*Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks phase names, durations and transitions.
func (s *Scenario) Validate() error {
	if len(s.Phases) == 0 {
		return ErrNoPhases
	}
	names := make(map[string]bool, len(s.Phases))
	for i, p := range s.Phases {
		if p.Name == "" {
			return fmt.Errorf("scenario: phase %d has no name", i)
		}
		if names[p.Name] {
			return fmt.Errorf("scenario: duplicate phase %q", p.Name)
		}
		names[p.Name] = true
		if p.Duration.D() <= 0 {
			return fmt.Errorf("scenario: phase %q needs a positive duration", p.Name)
		}
		if p.MeanDelay < 0 || p.MeanJitter < 0 || p.PacketLoss < 0 {
			return fmt.Errorf("scenario: phase %q has negative impairment", p.Name)
		}
	}
	for _, p := range s.Phases {
		if p.Next != "" && !names[p.Next] {
			return fmt.Errorf("scenario: phase %q continues to unknown phase %q", p.Name, p.Next)
		}
	}
	return nil
}

func (s *Scenario) index(name string) int {
	for i, p := range s.Phases {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// NextPhase returns the phase that follows current: its explicit Next, the
// following phase, or the first phase again when the scenario loops.
func (s *Scenario) NextPhase(current string) (next string, ok bool) {
	i := s.index(current)
	if i < 0 {
		return "", false
	}
	if n := s.Phases[i].Next; n != "" {
		return n, true
	}
	if i+1 < len(s.Phases) {
		return s.Phases[i+1].Name, true
	}
	if s.Loop {
		return s.Phases[0].Name, true
	}
	return "", false
}

// Publisher sends a topic-tagged payload.
type Publisher interface {
	Publish(topic, payload string)
}

// Play walks the scenario, publishing the current phase's update on the
// network topic every interval. It returns when the last phase ends or ctx
// is done. onPhase, if set, is called on every phase change.
func Play(ctx context.Context, s *Scenario, pub Publisher, interval time.Duration, log *slog.Logger, onPhase func(Phase)) error {
	if len(s.Phases) == 0 {
		return ErrNoPhases
	}
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "scenario", "scenario", s.Name)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	phase := s.Phases[0]
	for {
		log.Info("phase started", "phase", phase.Name, "duration", phase.Duration.D(),
			"mean_delay_us", phase.MeanDelay, "packet_loss", phase.PacketLoss)
		if onPhase != nil {
			onPhase(phase)
		}
		payload := phase.Update().Marshal()
		pub.Publish(wire.TopicNetwork, payload)
		end := time.NewTimer(phase.Duration.D())
	wait:
		for {
			select {
			case <-ctx.Done():
				end.Stop()
				return ctx.Err()
			case <-ticker.C:
				pub.Publish(wire.TopicNetwork, payload)
			case <-end.C:
				break wait
			}
		}
		next, ok := s.NextPhase(phase.Name)
		if !ok {
			log.Info("scenario finished")
			return nil
		}
		phase = s.Phases[s.index(next)]
	}
}
