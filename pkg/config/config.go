package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel    string        `yaml:"log_level" default:"info"`
	ScanTimeout time.Duration `yaml:"scan_timeout" default:"10s"`

	// NamePrefix selects desks by advertised name. Address pins a specific desk.
	NamePrefix string `yaml:"name_prefix" default:"Desk"`
	Address    string `yaml:"address"`

	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"10s"`

	// BaseHeightMm is the height the desk reports as position 0.
	BaseHeightMm int `yaml:"base_height_mm" default:"680"`

	Motion MotionConfig `yaml:"motion"`
}

// MotionConfig bounds desk moves.
type MotionConfig struct {
	Mode                   string `yaml:"mode" default:"reference_input"`
	ReferenceMaxIterations int    `yaml:"reference_max_iterations" default:"150"`
	UpDownMaxIterations    int    `yaml:"up_down_max_iterations" default:"500"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "deskctl", "config.yaml"), nil
}

// Load reads the YAML file at path over the defaults. An empty path loads DefaultPath
// and tolerates its absence; an explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return DefaultConfig(), nil
		}
		path = p
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.ScanTimeout <= 0 {
		return fmt.Errorf("scan_timeout must be positive, got %v", c.ScanTimeout)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive, got %v", c.ConnectTimeout)
	}
	if c.BaseHeightMm <= 0 {
		return fmt.Errorf("base_height_mm must be positive, got %d", c.BaseHeightMm)
	}
	if c.Motion.ReferenceMaxIterations <= 0 || c.Motion.UpDownMaxIterations <= 0 {
		return fmt.Errorf("motion iteration limits must be positive")
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
