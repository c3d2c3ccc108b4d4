package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/ryandielhenn/zephyrgossip/pkg/topology"
)

// Environment variables read by Load.
const (
	EnvConfigFile   = "CONFIG_FILE"
	EnvStride       = "GOSSIP_STRIDE"
	EnvTickInterval = "GOSSIP_TICK_MS"
	EnvTopology     = "GOSSIP_TOPOLOGY"
	EnvLogLevel     = "LOG_LEVEL"
	EnvMetricsAddr  = "METRICS_ADDR"
)

var ErrInvalid = errors.New("invalid config")

// Config holds the per-process parameters. It is immutable once loaded.
type Config struct {
	// Stride controls topology fan-out: each node gets ceil(n/Stride) neighbours.
	Stride int `toml:"stride"`
	// TickIntervalMs is the gossip period in milliseconds.
	TickIntervalMs int `toml:"tick_interval_ms"`
	// TopologyMode is "override" (harness topology wins) or "computed".
	TopologyMode string `toml:"topology_mode"`
	LogLevel     string `toml:"log_level"`
	// MetricsAddr enables the /metrics, /healthz and /info listener when set.
	MetricsAddr string `toml:"metrics_addr"`
}

func Default() Config {
	return Config{
		Stride:         5,
		TickIntervalMs: 200,
		TopologyMode:   string(topology.ModeOverride),
		LogLevel:       "info",
	}
}

func (c Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

func (c Config) Mode() topology.Mode {
	return topology.Mode(c.TopologyMode)
}

func (c Config) Validate() error {
	if c.Stride <= 1 {
		return fmt.Errorf("%w: stride must be > 1, got %d", ErrInvalid, c.Stride)
	}
	if c.TickIntervalMs <= 0 {
		return fmt.Errorf("%w: tick interval must be positive, got %dms", ErrInvalid, c.TickIntervalMs)
	}
	if !c.Mode().Valid() {
		return fmt.Errorf("%w: unknown topology mode %q", ErrInvalid, c.TopologyMode)
	}
	return nil
}

// ReadFile overlays the TOML file at path onto base.
func ReadFile(path string, base Config) (Config, error) {
	cfg := base
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the config from defaults, then the file named by CONFIG_FILE,
// then individual environment variables, and validates the result.
func Load(getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg := Default()
	if path := getenv(EnvConfigFile); path != "" {
		var err error
		if cfg, err = ReadFile(path, cfg); err != nil {
			return Config{}, err
		}
	}

	if v := getenv(EnvStride); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvStride, v, err)
		}
		cfg.Stride = n
	}
	if v := getenv(EnvTickInterval); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q: %v", ErrInvalid, EnvTickInterval, v, err)
		}
		cfg.TickIntervalMs = n
	}
	if v := getenv(EnvTopology); v != "" {
		cfg.TopologyMode = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv(EnvMetricsAddr); v != "" {
		cfg.MetricsAddr = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
