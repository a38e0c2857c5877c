// Package config loads the orchestrator configuration from a YAML file
// with environment variable fallbacks and applied defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for YAML parsing of values like "5s".
type Duration struct{ time.Duration }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// WorkerKind describes how to launch one kind of worker process.
type WorkerKind struct {
	// Dir is the working directory the process is spawned in.
	Dir string `yaml:"dir"`
	// Command is the argv used to launch the worker.
	Command []string `yaml:"command"`
}

// Lifecycle holds supervisor and prober tunables.
type Lifecycle struct {
	// SettleDelay is how long to wait after spawn before checking for
	// an immediate exit.
	SettleDelay Duration `yaml:"settle_delay"`
	// StopGrace is how long a terminated process gets before it is
	// force-killed.
	StopGrace Duration `yaml:"stop_grace"`
	// ProbeTimeout bounds a single health check request.
	ProbeTimeout Duration `yaml:"probe_timeout"`
	// ProbeInterval is the sleep between readiness attempts.
	ProbeInterval Duration `yaml:"probe_interval"`
	// ProbeMaxAttempts bounds the readiness loop after spawn.
	ProbeMaxAttempts int `yaml:"probe_max_attempts"`
}

// RedisConfig holds the optional Redis message history backend settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// History selects the routed-message history backend.
type History struct {
	// Backend is "memory" or "redis".
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// QueryConfig holds agent query gateway tunables.
type QueryConfig struct {
	// Timeout bounds a single query to a worker.
	Timeout Duration `yaml:"timeout"`
	// RequestsPerSecond limits queries per agent (0 = unlimited).
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Burst is the rate limiter burst size.
	Burst int `yaml:"burst"`
}

// Config represents the orchestrator configuration.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// BasePort is where agent port allocation starts.
	BasePort int `yaml:"base_port"`

	// DefaultModel is used for agents created without a model.
	DefaultModel string `yaml:"default_model"`

	LogLevel string `yaml:"log_level"`

	// MonitorSchedule is the cron spec for the background health sweep
	// ("off" disables it).
	MonitorSchedule string `yaml:"monitor_schedule"`

	// Workers maps a worker kind tag to its launch description.
	Workers map[string]WorkerKind `yaml:"workers"`

	Lifecycle Lifecycle   `yaml:"lifecycle"`
	Query     QueryConfig `yaml:"query"`
	History   History     `yaml:"history"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file, then applies environment
// fallbacks and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = envInt("PORT", 8000)
	}
	if c.BasePort == 0 {
		c.BasePort = 8001
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-3.5-turbo"
	}
	if c.LogLevel == "" {
		c.LogLevel = envString("LOG_LEVEL", "info")
	}
	if c.MonitorSchedule == "" {
		c.MonitorSchedule = "@every 30s"
	}
	if c.Workers == nil {
		c.Workers = map[string]WorkerKind{
			"SingleAgent": {
				Dir:     "../single",
				Command: []string{"python", "main.py"},
			},
		}
	}

	if c.Lifecycle.SettleDelay.Duration == 0 {
		c.Lifecycle.SettleDelay.Duration = 2 * time.Second
	}
	if c.Lifecycle.StopGrace.Duration == 0 {
		c.Lifecycle.StopGrace.Duration = 5 * time.Second
	}
	if c.Lifecycle.ProbeTimeout.Duration == 0 {
		c.Lifecycle.ProbeTimeout.Duration = 5 * time.Second
	}
	if c.Lifecycle.ProbeInterval.Duration == 0 {
		c.Lifecycle.ProbeInterval.Duration = time.Second
	}
	if c.Lifecycle.ProbeMaxAttempts == 0 {
		c.Lifecycle.ProbeMaxAttempts = 30
	}

	if c.Query.Timeout.Duration == 0 {
		c.Query.Timeout.Duration = 30 * time.Second
	}
	if c.Query.Burst == 0 {
		c.Query.Burst = 10
	}

	if c.History.Backend == "" {
		c.History.Backend = "memory"
	}
	if c.History.Redis.Prefix == "" {
		c.History.Redis.Prefix = "orch:history:"
	}
	if c.History.Redis.Addr == "" {
		c.History.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
}

// Validate checks if the configuration is usable.
func (c *Config) Validate() error {
	if c.BasePort <= 0 || c.BasePort > 65535 {
		return fmt.Errorf("base_port %d out of range", c.BasePort)
	}
	if c.History.Backend != "memory" && c.History.Backend != "redis" {
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}
	if c.History.Backend == "redis" && c.History.Redis.Addr == "" {
		return fmt.Errorf("history backend is redis but no address is configured")
	}
	for kind, w := range c.Workers {
		if w.Dir == "" || len(w.Command) == 0 {
			return fmt.Errorf("worker kind %q needs a dir and a command", kind)
		}
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
