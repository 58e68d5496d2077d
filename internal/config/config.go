// ABOUTME: Configuration loading and parsing for the mesh coordinator
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete coordinator configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Agents     AgentsConfig     `yaml:"agents"`
	Router     RouterConfig     `yaml:"router"`
	Completion CompletionConfig `yaml:"completion"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds session token configuration
type AuthConfig struct {
	SessionSecret string        `yaml:"session_secret"`
	SessionTTL    time.Duration `yaml:"-"`

	SessionTTLRaw string `yaml:"session_ttl"`
}

// AgentsConfig holds heartbeat and liveness timing configuration
type AgentsConfig struct {
	HeartbeatPeriod    time.Duration `yaml:"-"`
	HeartbeatThreshold time.Duration `yaml:"-"`
	MissLimit          int           `yaml:"miss_limit"`

	// Raw string values for YAML unmarshaling
	HeartbeatPeriodRaw    string `yaml:"heartbeat_period"`
	HeartbeatThresholdRaw string `yaml:"heartbeat_threshold"`
}

// RouterConfig holds message retention configuration
type RouterConfig struct {
	RetentionWindow time.Duration `yaml:"-"`
	SweepInterval   time.Duration `yaml:"-"`

	RetentionWindowRaw string `yaml:"retention_window"`
	SweepIntervalRaw   string `yaml:"sweep_interval"`
}

// CompletionConfig holds completion service configuration
type CompletionConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with development defaults.
// Used directly when no config file is present.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{HTTPAddr: "127.0.0.1:7420"},
		Database: DatabaseConfig{Path: "data/mesh.db"},
		Auth: AuthConfig{
			SessionTTL: 24 * time.Hour,
		},
		Agents: AgentsConfig{
			HeartbeatPeriod:    10 * time.Second,
			HeartbeatThreshold: 30 * time.Second,
			MissLimit:          3,
		},
		Router: RouterConfig{
			RetentionWindow: 24 * time.Hour,
			SweepInterval:   time.Minute,
		},
		Completion: CompletionConfig{
			BaseURL: "https://api.anthropic.com",
			Model:   "claude-3-haiku-20240307",
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
// Fields not present in the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Agents.MissLimit < 1 {
		return fmt.Errorf("agents.miss_limit must be at least 1")
	}

	// Zero periods would panic the monitor and sweep tickers, so refuse
	// them here rather than at startup.
	if c.Agents.HeartbeatPeriod <= 0 {
		return fmt.Errorf("agents.heartbeat_period must be positive")
	}

	if c.Agents.HeartbeatThreshold < c.Agents.HeartbeatPeriod {
		return fmt.Errorf("agents.heartbeat_threshold must not be shorter than heartbeat_period")
	}

	if c.Router.RetentionWindow <= 0 {
		return fmt.Errorf("router.retention_window must be positive")
	}

	if c.Router.SweepInterval <= 0 {
		return fmt.Errorf("router.sweep_interval must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Auth.SessionTTLRaw, &cfg.Auth.SessionTTL, "session_ttl"},
		{cfg.Agents.HeartbeatPeriodRaw, &cfg.Agents.HeartbeatPeriod, "heartbeat_period"},
		{cfg.Agents.HeartbeatThresholdRaw, &cfg.Agents.HeartbeatThreshold, "heartbeat_threshold"},
		{cfg.Router.RetentionWindowRaw, &cfg.Router.RetentionWindow, "retention_window"},
		{cfg.Router.SweepIntervalRaw, &cfg.Router.SweepInterval, "sweep_interval"},
		{cfg.Completion.TimeoutRaw, &cfg.Completion.Timeout, "timeout"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
