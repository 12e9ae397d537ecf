// YAML config loader with CUE validation integration
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a Go duration string in YAML.
type Duration time.Duration

// UnmarshalYAML parses values such as "100ms" or "2s".
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Station configures the tick loop and the local producers.
type Station struct {
	ClusterID         string   `yaml:"cluster_id"`
	TickInterval      Duration `yaml:"tick_interval"`
	TelemetryInterval Duration `yaml:"telemetry_interval"`
	FrameInterval     Duration `yaml:"frame_interval"`
	StateInterval     Duration `yaml:"state_interval"`
	DispatchBuffer    int      `yaml:"dispatch_buffer"`
	FrameSize         int      `yaml:"frame_size"` // bytes per synthetic video frame, 0 disables video
}

// Transport configures the pub/sub sockets.
type Transport struct {
	PublishAddr       string   `yaml:"publish_addr"`
	SubscribeAddr     string   `yaml:"subscribe_addr"`
	Topics            []string `yaml:"topics"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	RetryBackoff      Duration `yaml:"retry_backoff"`
	PollInterval      Duration `yaml:"poll_interval"`
	SendBuffer        int      `yaml:"send_buffer"`
	PeerTimeout       Duration `yaml:"peer_timeout"`
}

// Home is a vehicle's start position.
type Home struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
	Alt float64 `yaml:"alt"`
}

// Vehicle describes one simulated UAV.
type Vehicle struct {
	Name   string `yaml:"name"`
	Model  string `yaml:"model"`
	FlowID int    `yaml:"flow_id"`
	Home   Home   `yaml:"home"`
}

// Application is a traffic generator announced to the network simulator on
// startup.
type Application struct {
	AppType string `yaml:"app_type"`
	Config  string `yaml:"config"`
}

// Commands configures the command dispatcher.
type Commands struct {
	Workers       int                 `yaml:"workers"`
	CancelTimeout Duration            `yaml:"cancel_timeout"`
	Timeouts      map[string]Duration `yaml:"timeouts"`
}

// Greptime holds the GreptimeDB connection.
type Greptime struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
}

// Output selects the writers.
type Output struct {
	PrintOnly bool     `yaml:"print_only"`
	Color     bool     `yaml:"color"`
	TUI       bool     `yaml:"tui"`
	LogFile   string   `yaml:"log_file"`
	FrameCSV  string   `yaml:"frame_csv"`
	Greptime  Greptime `yaml:"greptime"`
}

// Admin configures the HTTP admin server.
type Admin struct {
	Addr string `yaml:"addr"`
}

// Config is the root ground station configuration.
type Config struct {
	Station      Station       `yaml:"station"`
	Transport    Transport     `yaml:"transport"`
	Vehicles     []Vehicle     `yaml:"vehicles"`
	Applications []Application `yaml:"applications"`
	Commands     Commands      `yaml:"commands"`
	Output       Output        `yaml:"output"`
	Admin        Admin         `yaml:"admin"`
	Scenario     string        `yaml:"scenario"`
}

// Default returns a runnable single-vehicle configuration.
func Default() *Config {
	return &Config{
		Station: Station{
			ClusterID:         "uav-01",
			TickInterval:      Duration(10 * time.Millisecond),
			TelemetryInterval: Duration(200 * time.Millisecond),
			FrameInterval:     Duration(100 * time.Millisecond),
			StateInterval:     Duration(time.Second),
			DispatchBuffer:    1024,
		},
		Transport: Transport{
			PublishAddr:       "tcp://*:5555",
			SubscribeAddr:     "tcp://127.0.0.1:5556",
			Topics:            []string{"network", "network_events", "ai", "heartbeat"},
			HeartbeatInterval: Duration(time.Second),
			RetryBackoff:      Duration(time.Second),
			PollInterval:      Duration(10 * time.Millisecond),
			SendBuffer:        64,
			PeerTimeout:       Duration(5 * time.Second),
		},
		Vehicles: []Vehicle{
			{Name: "uav-1", Model: "medium-uav", FlowID: 1, Home: Home{Lat: 47.6414, Lon: -122.1401}},
		},
		Commands: Commands{
			Workers:       4,
			CancelTimeout: Duration(time.Second),
		},
		Output: Output{
			Greptime: Greptime{Database: "public"},
		},
		Admin: Admin{Addr: ":8080"},
	}
}

// Load reads configPath over Default(), validates it against the CUE schema
// and applies environment overrides. An empty schemaPath selects the
// embedded schema.
func Load(configPath, schemaPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	if err := ValidateWithCue(configPath, data, schemaPath); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal YAML config: %w", err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CLUSTER_ID, TICK_INTERVAL,
// GREPTIMEDB_ENDPOINT and GREPTIMEDB_DATABASE.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("CLUSTER_ID"); v != "" {
		c.Station.ClusterID = v
	}
	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TICK_INTERVAL: %w", err)
		}
		c.Station.TickInterval = Duration(d)
	}
	if v := os.Getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		c.Output.Greptime.Endpoint = v
	}
	if v := os.Getenv("GREPTIMEDB_DATABASE"); v != "" {
		c.Output.Greptime.Database = v
	}
	return nil
}
