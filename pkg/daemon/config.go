package daemon

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/cuemby/icecream/pkg/discovery"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultStartPort is the first port the daemon tries to listen on
	DefaultStartPort = 10245

	// DefaultPortAttempts is how many consecutive ports are tried
	DefaultPortAttempts = 10
)

// Config holds daemon configuration
type Config struct {
	NodeID string `yaml:"node_id"`

	// SchedulerHost skips discovery when set; may carry a ":port" suffix
	SchedulerHost string `yaml:"scheduler_host"`
	SchedulerPort int    `yaml:"scheduler_port"`
	NetName       string `yaml:"netname"`

	ListenHost   string `yaml:"listen_host"`
	StartPort    int    `yaml:"start_port"`
	PortAttempts int    `yaml:"port_attempts"`

	// MaxKids of zero means one more than the number of CPUs
	MaxKids      int      `yaml:"max_kids"`
	Environments []string `yaml:"environments"`

	// DataDir holds the job history; empty disables it
	DataDir          string        `yaml:"data_dir"`
	HistoryRetention time.Duration `yaml:"history_retention"`

	StatsInterval time.Duration `yaml:"stats_interval"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	AcceptTimeout time.Duration `yaml:"accept_timeout"`
}

// DefaultConfig returns the configuration the daemon runs with when
// nothing is overridden.
func DefaultConfig() Config {
	return Config{
		NetName:          discovery.DefaultNetName,
		ListenHost:       "0.0.0.0",
		StartPort:        DefaultStartPort,
		PortAttempts:     DefaultPortAttempts,
		HistoryRetention: 7 * 24 * time.Hour,
		StatsInterval:    3 * time.Second,
		PollInterval:     2 * time.Second,
		RetryDelay:       time.Second,
		AcceptTimeout:    10 * time.Second,
	}
}

// LoadConfigFile overlays the YAML file at path on cfg. Fields missing
// from the file keep their current value.
func LoadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return nil
}

// withDefaults fills every unset field
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.NodeID == "" {
		c.NodeID = uuid.New().String()
	}
	if c.NetName == "" {
		c.NetName = def.NetName
	}
	if c.ListenHost == "" {
		c.ListenHost = def.ListenHost
	}
	if c.StartPort == 0 {
		c.StartPort = def.StartPort
	}
	if c.PortAttempts <= 0 {
		c.PortAttempts = def.PortAttempts
	}
	if c.MaxKids <= 0 {
		c.MaxKids = runtime.NumCPU() + 1
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = def.HistoryRetention
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = def.StatsInterval
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = def.AcceptTimeout
	}
	return c
}
