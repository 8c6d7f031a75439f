// Package config loads and validates the sentinel configuration.
//
// DESIGN: Configuration comes from a YAML file with ${VAR:-default} env
// expansion, so credentials stay in the environment. Unlike thresholds and
// cadences, which all have built-in defaults (the subsystem must come up
// even with an empty file), state file paths are required: if sentinel
// cannot persist its history it must not start.
//
// FILES:
//   - config.go:    Root Config struct, Load(), Validate()
//   - alerting.go:  Alert rules, cooldowns, resource thresholds
//   - scheduler.go: Maintenance task cadences merged over defaults
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for sentinel.
type Config struct {
	Monitoring MonitoringConfig `yaml:"monitoring"` // Logging settings
	History    HistoryConfig    `yaml:"history"`    // Durable log and history store
	Alerts     AlertsConfig     `yaml:"alerts"`     // Alert rules and cooldowns
	Notify     NotifyConfig     `yaml:"notify"`     // SMTP transmission channel
	Recovery   RecoveryConfig   `yaml:"recovery"`   // Self-healing thresholds
	Scheduler  SchedulerConfig  `yaml:"scheduler"`  // Maintenance task cadences
}

// MonitoringConfig contains logging settings.
type MonitoringConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // json, console
	LogOutput string `yaml:"log_output"` // stdout, stderr, or file path
}

// HistoryConfig locates the durable state files.
type HistoryConfig struct {
	EventLogPath string `yaml:"event_log_path"` // JSONL alert log
	DBPath       string `yaml:"db_path"`        // sqlite history store
}

// NotifyConfig contains the SMTP transmission channel options.
// Any absent option disables transmission only, never the durable log write.
type NotifyConfig struct {
	Host      string        `yaml:"host"`
	Port      int           `yaml:"port"`
	Username  string        `yaml:"username"`
	Password  string        `yaml:"password"`
	Recipient string        `yaml:"recipient"`
	Timeout   time.Duration `yaml:"timeout"` // send timeout, default 10s
}

// Enabled reports whether all options required for transmission are set.
func (n NotifyConfig) Enabled() bool {
	return n.Host != "" && n.Port != 0 && n.Username != "" && n.Password != "" && n.Recipient != ""
}

// RecoveryConfig contains self-healing thresholds.
type RecoveryConfig struct {
	HealthEndpoint   string        `yaml:"health_endpoint"`    // external probe URL, empty disables the probe
	ProbeTimeout     time.Duration `yaml:"probe_timeout"`      // default 5s
	ProcessMemoryPct float64       `yaml:"process_memory_pct"` // default 80
	ProcessCPUPct    float64       `yaml:"process_cpu_pct"`    // default 90
	SystemMemoryPct  float64       `yaml:"system_memory_pct"`  // default 90
}

// expandEnvWithDefaults expands environment variables with support for
// default values. Supports both ${VAR} and ${VAR:-default} syntax.
func expandEnvWithDefaults(s string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultValue := ""
		if len(parts) > 2 {
			defaultValue = parts[2]
		}

		if value := os.Getenv(varName); value != "" {
			return value
		}

		return defaultValue
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes.
// Supports ${VAR:-default} env var expansion, applies defaults, validates.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills in every unset threshold, cooldown and cadence.
func (c *Config) applyDefaults() {
	if c.Monitoring.LogLevel == "" {
		c.Monitoring.LogLevel = "info"
	}
	if c.Monitoring.LogFormat == "" {
		c.Monitoring.LogFormat = "json"
	}
	if c.History.EventLogPath == "" {
		c.History.EventLogPath = "data/alerts.jsonl"
	}
	if c.History.DBPath == "" {
		c.History.DBPath = "data/history.db"
	}
	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 10 * time.Second
	}
	if c.Recovery.ProbeTimeout == 0 {
		c.Recovery.ProbeTimeout = 5 * time.Second
	}
	if c.Recovery.ProcessMemoryPct == 0 {
		c.Recovery.ProcessMemoryPct = 80
	}
	if c.Recovery.ProcessCPUPct == 0 {
		c.Recovery.ProcessCPUPct = 90
	}
	if c.Recovery.SystemMemoryPct == 0 {
		c.Recovery.SystemMemoryPct = 90
	}
	c.Alerts.applyDefaults()
	c.Scheduler.applyDefaults()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.History.EventLogPath == "" {
		return fmt.Errorf("history.event_log_path is required")
	}
	if c.History.DBPath == "" {
		return fmt.Errorf("history.db_path is required")
	}

	if c.Notify.Port != 0 && (c.Notify.Port < 1 || c.Notify.Port > 65535) {
		return fmt.Errorf("invalid notify.port: %d (must be 1-65535)", c.Notify.Port)
	}

	if err := c.Alerts.Validate(); err != nil {
		return err
	}
	if err := c.Scheduler.Validate(); err != nil {
		return err
	}

	return nil
}
