package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel       logrus.Level  `yaml:"log_level" json:"log_level"`
	Adapter        string        `yaml:"adapter" json:"adapter"` // HCI device name on Linux
	ScanTimeout    time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"30s"`
	OutputFormat   string        `yaml:"output_format" json:"output_format" default:"table"` // table, json
	Arm            ArmConfig     `yaml:"arm" json:"arm"`
}

// ArmConfig describes the arm peripheral and how the manager follows it
type ArmConfig struct {
	Name                  string        `yaml:"name" json:"name" default:"RoboticArm"`
	Service               string        `yaml:"service" json:"service" default:"ffe0"`
	CommandChar           string        `yaml:"command_char" json:"command_char" default:"ffe1"`
	StatusChar            string        `yaml:"status_char" json:"status_char" default:"ffe2"`
	WriteResponses        bool          `yaml:"write_responses" json:"write_responses"`
	AllowDuplicates       bool          `yaml:"allow_duplicates" json:"allow_duplicates" default:"true"`
	ReplaceOnAnyDiscovery bool          `yaml:"replace_on_any_discovery" json:"replace_on_any_discovery"`
	PollInterval          time.Duration `yaml:"poll_interval" json:"poll_interval" default:"500ms"`
	IOTimeout             time.Duration `yaml:"io_timeout" json:"io_timeout" default:"5s"`
	DiscoveryBuffer       int           `yaml:"discovery_buffer" json:"discovery_buffer" default:"128"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	defaults.SetDefaults(&cfg.Arm)
	// go-defaults cannot parse level names
	cfg.LogLevel = logrus.InfoLevel
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks values that would make the manager misbehave.
func (c *Config) Validate() error {
	var errs []error
	if c.Arm.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("arm.poll_interval must be positive, got %s", c.Arm.PollInterval))
	}
	if c.Arm.DiscoveryBuffer <= 0 {
		errs = append(errs, fmt.Errorf("arm.discovery_buffer must be positive, got %d", c.Arm.DiscoveryBuffer))
	}
	if c.Arm.Service == "" || c.Arm.CommandChar == "" || c.Arm.StatusChar == "" {
		errs = append(errs, errors.New("arm service and characteristic UUIDs must be set"))
	}
	switch c.OutputFormat {
	case "table", "json":
	default:
		errs = append(errs, fmt.Errorf("unsupported output_format %q (use table or json)", c.OutputFormat))
	}
	return errors.Join(errs...)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
