// Package config loads barcodechat settings from a .env file and
// BARCODECHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// MinPort and MaxPort bound the ports a user may host on or join.
	MinPort = 1024
	MaxPort = 65535

	envPrefix = "BARCODECHAT_"
)

var (
	// ErrInvalidPort is returned for a port outside MinPort..MaxPort.
	ErrInvalidPort = errors.New("invalid port")
	// ErrInvalidValue is returned for any other setting that fails validation.
	ErrInvalidValue = errors.New("invalid configuration value")
)

var (
	validTransports = []string{"tcp", "ws"}
	validFormats    = []string{"json", "proto"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

type Config struct {
	// Roles started at launch; zero values mean "do not start".
	Port       int    `env:"PORT"`
	WSPort     int    `env:"WS_PORT"`
	RemoteHost string `env:"REMOTE_HOST"`
	RemotePort int    `env:"REMOTE_PORT"`

	// Wire
	Transport    string `env:"TRANSPORT" default:"tcp"`
	Format       string `env:"FORMAT" default:"json"`
	MaxFrameSize int    `env:"MAX_FRAME_SIZE" default:"1048576"`

	// Timeouts
	ConnectTimeout   time.Duration `env:"CONNECT_TIMEOUT" default:"5s"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT" default:"5s"`
	HandshakeTimeout time.Duration `env:"HANDSHAKE_TIMEOUT" default:"10s"`

	// Inbound flood limit per connection; 0 disables it.
	RateLimit float64 `env:"RATE_LIMIT" default:"10"`
	RateBurst int     `env:"RATE_BURST" default:"20"`

	// Chat
	Uppercase   bool `env:"UPPERCASE" default:"true"`
	HistorySize int  `env:"HISTORY_SIZE" default:"200"`

	// Status API listen address; empty disables it.
	StatusAddr string `env:"STATUS_ADDR"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Transport:        "tcp",
		Format:           "json",
		MaxFrameSize:     1024 * 1024,
		ConnectTimeout:   5 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		RateLimit:        10,
		RateBurst:        20,
		Uppercase:        true,
		HistorySize:      200,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Load reads envFile (if it exists) into the environment and builds a Config
// from BARCODECHAT_* variables. Variables already set win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	d := Default()
	config := &Config{}

	if err := loadEnvInt(&config.Port, "PORT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.WSPort, "WS_PORT", 0); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RemoteHost, "REMOTE_HOST", ""); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RemotePort, "REMOTE_PORT", 0); err != nil {
		return nil, err
	}

	if err := loadEnvString(&config.Transport, "TRANSPORT", d.Transport); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.Format, "FORMAT", d.Format); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.MaxFrameSize, "MAX_FRAME_SIZE", d.MaxFrameSize); err != nil {
		return nil, err
	}

	if err := loadEnvDuration(&config.ConnectTimeout, "CONNECT_TIMEOUT", d.ConnectTimeout); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.WriteTimeout, "WRITE_TIMEOUT", d.WriteTimeout); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.HandshakeTimeout, "HANDSHAKE_TIMEOUT", d.HandshakeTimeout); err != nil {
		return nil, err
	}

	if err := loadEnvFloat(&config.RateLimit, "RATE_LIMIT", d.RateLimit); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RateBurst, "RATE_BURST", d.RateBurst); err != nil {
		return nil, err
	}

	if err := loadEnvBool(&config.Uppercase, "UPPERCASE", d.Uppercase); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.HistorySize, "HISTORY_SIZE", d.HistorySize); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.StatusAddr, "STATUS_ADDR", ""); err != nil {
		return nil, err
	}

	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", d.LogLevel); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", d.LogFormat); err != nil {
		return nil, err
	}
	return config, nil
}

func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(envPrefix + key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(envPrefix + key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s%s is not an integer: %v", ErrInvalidValue, envPrefix, key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(envPrefix + key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s%s is not a number: %v", ErrInvalidValue, envPrefix, key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(envPrefix + key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%w: %s%s is not a boolean: %v", ErrInvalidValue, envPrefix, key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(envPrefix + key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%w: %s%s is not a duration: %v", ErrInvalidValue, envPrefix, key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// ValidatePort checks that port is a non-privileged TCP port.
func ValidatePort(port int) error {
	if port < MinPort || port > MaxPort {
		return fmt.Errorf("%w: %d (must be between %d and %d)", ErrInvalidPort, port, MinPort, MaxPort)
	}
	return nil
}

// Validate performs validation on the loaded configuration.
func (c *Config) Validate() error {
	var errs []error

	for _, p := range []struct {
		name string
		port int
	}{
		{"PORT", c.Port},
		{"WS_PORT", c.WSPort},
		{"REMOTE_PORT", c.RemotePort},
	} {
		if p.port == 0 {
			continue
		}
		if err := ValidatePort(p.port); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
		}
	}
	if c.Port != 0 && c.Port == c.WSPort {
		errs = append(errs, fmt.Errorf("%w: WS_PORT must differ from PORT", ErrInvalidValue))
	}
	if c.Port != 0 && c.RemotePort != 0 {
		errs = append(errs, fmt.Errorf("%w: cannot both host and join", ErrInvalidValue))
	}

	if !slices.Contains(validTransports, c.Transport) {
		errs = append(errs, fmt.Errorf("%w: TRANSPORT must be one of: %s", ErrInvalidValue, strings.Join(validTransports, ", ")))
	}
	if !slices.Contains(validFormats, c.Format) {
		errs = append(errs, fmt.Errorf("%w: FORMAT must be one of: %s", ErrInvalidValue, strings.Join(validFormats, ", ")))
	}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("%w: LOG_LEVEL must be one of: %s", ErrInvalidValue, strings.Join(validLogLevels, ", ")))
	}
	if !slices.Contains(validLogFormats, c.LogFormat) {
		errs = append(errs, fmt.Errorf("%w: LOG_FORMAT must be one of: %s", ErrInvalidValue, strings.Join(validLogFormats, ", ")))
	}

	if c.MaxFrameSize <= 0 {
		errs = append(errs, fmt.Errorf("%w: MAX_FRAME_SIZE must be positive", ErrInvalidValue))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, fmt.Errorf("%w: RATE_LIMIT and RATE_BURST must not be negative", ErrInvalidValue))
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		errs = append(errs, fmt.Errorf("%w: RATE_BURST must be positive when RATE_LIMIT is set", ErrInvalidValue))
	}
	if c.HistorySize < 0 {
		errs = append(errs, fmt.Errorf("%w: HISTORY_SIZE must not be negative", ErrInvalidValue))
	}
	if c.ConnectTimeout < 0 || c.WriteTimeout < 0 || c.HandshakeTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: timeouts must not be negative", ErrInvalidValue))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
