package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Empty(t, cfg.Adapter)

	assert.Equal(t, "RoboticArm", cfg.Arm.Name)
	assert.Equal(t, "ffe0", cfg.Arm.Service)
	assert.Equal(t, "ffe1", cfg.Arm.CommandChar)
	assert.Equal(t, "ffe2", cfg.Arm.StatusChar)
	assert.True(t, cfg.Arm.AllowDuplicates)
	assert.False(t, cfg.Arm.ReplaceOnAnyDiscovery)
	assert.False(t, cfg.Arm.WriteResponses)
	assert.Equal(t, 500*time.Millisecond, cfg.Arm.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Arm.IOTimeout)
	assert.Equal(t, 128, cfg.Arm.DiscoveryBuffer)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel logrus.Level
	}{
		{
			name:     "creates logger with debug level",
			logLevel: logrus.DebugLevel,
		},
		{
			name:     "creates logger with info level",
			logLevel: logrus.InfoLevel,
		},
		{
			name:     "creates logger with warn level",
			logLevel: logrus.WarnLevel,
		},
		{
			name:     "creates logger with error level",
			logLevel: logrus.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel: tt.logLevel,
			}

			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.logLevel, logger.GetLevel())

			// Verify formatter is set correctly
			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			assert.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "armctl.yaml")
	content := `
log_level: debug
adapter: hci1
connect_timeout: 5s
output_format: json
arm:
  name: Uarm
  allow_duplicates: false
  replace_on_any_discovery: true
  poll_interval: 250ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "hci1", cfg.Adapter)
	assert.Equal(t, 5*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, "json", cfg.OutputFormat)
	assert.Equal(t, "Uarm", cfg.Arm.Name)
	assert.False(t, cfg.Arm.AllowDuplicates)
	assert.True(t, cfg.Arm.ReplaceOnAnyDiscovery)
	assert.Equal(t, 250*time.Millisecond, cfg.Arm.PollInterval)

	// untouched keys keep their defaults
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, "ffe1", cfg.Arm.CommandChar)
	assert.Equal(t, 5*time.Second, cfg.Arm.IOTimeout)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "malformed yaml",
			content: "arm: [",
			errMsg:  "failed to parse config",
		},
		{
			name:    "bad log level",
			content: "log_level: loud",
			errMsg:  "failed to parse config",
		},
		{
			name:    "unknown output format",
			content: "output_format: xml",
			errMsg:  "unsupported output_format",
		},
		{
			name:    "non-positive poll interval",
			content: "arm:\n  poll_interval: 0s",
			errMsg:  "arm.poll_interval must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "armctl.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestConfig_ZeroValues(t *testing.T) {
	cfg := &Config{}

	// Test that zero values don't cause panics
	logger := cfg.NewLogger()
	assert.NotNil(t, logger)

	// Zero log level should default to PanicLevel (0)
	assert.Equal(t, logrus.PanicLevel, logger.GetLevel())
	assert.Error(t, cfg.Validate())
}

func BenchmarkDefaultConfig(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = DefaultConfig()
	}
}
