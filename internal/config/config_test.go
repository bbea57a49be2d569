package config_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/barcodechat/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, config.Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("BARCODECHAT_PORT", "40000")
	t.Setenv("BARCODECHAT_WS_PORT", "40001")
	t.Setenv("BARCODECHAT_FORMAT", "proto")
	t.Setenv("BARCODECHAT_CONNECT_TIMEOUT", "250ms")
	t.Setenv("BARCODECHAT_RATE_LIMIT", "2.5")
	t.Setenv("BARCODECHAT_UPPERCASE", "false")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, 40000, cfg.Port)
	assert.Equal(t, 40001, cfg.WSPort)
	assert.Equal(t, "proto", cfg.Format)
	assert.Equal(t, 250*time.Millisecond, cfg.ConnectTimeout)
	assert.Equal(t, 2.5, cfg.RateLimit)
	assert.False(t, cfg.Uppercase)
	assert.Equal(t, "tcp", cfg.Transport)
}

func TestLoad_EnvFile(t *testing.T) {
	// register cleanup for variables the file will set
	for _, key := range []string{"BARCODECHAT_REMOTE_HOST", "BARCODECHAT_REMOTE_PORT", "BARCODECHAT_LOG_LEVEL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	t.Setenv("BARCODECHAT_LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), ".env")
	content := "BARCODECHAT_REMOTE_HOST=10.0.0.5\nBARCODECHAT_REMOTE_PORT=40000\nBARCODECHAT_LOG_LEVEL=debug\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", cfg.RemoteHost)
	assert.Equal(t, 40000, cfg.RemotePort)
	assert.Equal(t, "warn", cfg.LogLevel, "environment wins over the file")
}

func TestLoad_InvalidValue(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"BARCODECHAT_PORT", "abc"},
		{"BARCODECHAT_UPPERCASE", "maybe"},
		{"BARCODECHAT_WRITE_TIMEOUT", "5"},
		{"BARCODECHAT_RATE_LIMIT", "fast"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := config.Load("")
			assert.ErrorIs(t, err, config.ErrInvalidValue)
		})
	}
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		port    int
		wantErr bool
	}{
		{port: 1024},
		{port: 40000},
		{port: 65535},
		{port: 0, wantErr: true},
		{port: 80, wantErr: true},
		{port: 1023, wantErr: true},
		{port: 65536, wantErr: true},
	}

	for _, tt := range tests {
		err := config.ValidatePort(tt.port)
		if tt.wantErr {
			assert.ErrorIs(t, err, config.ErrInvalidPort, "port %d", tt.port)
		} else {
			assert.NoError(t, err, "port %d", tt.port)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*config.Config)
		target error
	}{
		{name: "privileged port", modify: func(c *config.Config) { c.Port = 80 }, target: config.ErrInvalidPort},
		{name: "remote port too large", modify: func(c *config.Config) { c.RemotePort = 70000 }, target: config.ErrInvalidPort},
		{name: "same ws port", modify: func(c *config.Config) { c.Port, c.WSPort = 40000, 40000 }, target: config.ErrInvalidValue},
		{name: "host and join", modify: func(c *config.Config) { c.Port, c.RemotePort = 40000, 40001 }, target: config.ErrInvalidValue},
		{name: "transport", modify: func(c *config.Config) { c.Transport = "udp" }, target: config.ErrInvalidValue},
		{name: "format", modify: func(c *config.Config) { c.Format = "xml" }, target: config.ErrInvalidValue},
		{name: "log level", modify: func(c *config.Config) { c.LogLevel = "trace" }, target: config.ErrInvalidValue},
		{name: "frame size", modify: func(c *config.Config) { c.MaxFrameSize = 0 }, target: config.ErrInvalidValue},
		{name: "burst", modify: func(c *config.Config) { c.RateBurst = 0 }, target: config.ErrInvalidValue},
		{name: "history", modify: func(c *config.Config) { c.HistorySize = -1 }, target: config.ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), tt.target)
		})
	}
}

func TestConfig_Validate_RateLimitDisabled(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit, cfg.RateBurst = 0, 0
	assert.NoError(t, cfg.Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogFormat = "json"
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "port", 40000)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["msg"])
	assert.Equal(t, float64(40000), entry["port"])
}
