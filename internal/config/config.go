// Package config loads the gateway configuration from YAML, an optional .env
// file and MESHGATE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rmacdonaldsmith/meshgate/internal/codec"
	"github.com/rmacdonaldsmith/meshgate/internal/pipe"
	"github.com/rmacdonaldsmith/meshgate/internal/sink"
)

// DefaultPath is the configuration file read when none is given
const DefaultPath = "./mesh.yaml"

// Environment variables that override file values
const (
	EnvDevice    = "MESHGATE_DEVICE"
	EnvFIFO      = "MESHGATE_FIFO"
	EnvFIFOCmd   = "MESHGATE_FIFO_CMD"
	EnvDebug     = "MESHGATE_DEBUG"
	EnvBusURL    = "MESHGATE_BUS_URL"
	EnvBusToken  = "MESHGATE_BUS_TOKEN"
	EnvAPISecret = "MESHGATE_API_SECRET"
)

var (
	// ErrEmptyDevice is returned when no radio device is configured
	ErrEmptyDevice = errors.New("meshtastic device cannot be empty")
	// ErrEmptyFIFO is returned when FIFOs are enabled without paths
	ErrEmptyFIFO = errors.New("fifo paths cannot be empty when fifo is enabled")
	// ErrSameFIFO is returned when both pipes share one path
	ErrSameFIFO = errors.New("message and command fifo must differ")
	// ErrEmptyAPISecret is returned when the API requires auth without a secret
	ErrEmptyAPISecret = errors.New("api secret cannot be empty unless no_auth is set")
)

// Meshtastic configures the radio link and the pipes
type Meshtastic struct {
	// Device is a serial path or tcp://host:port
	Device      string        `yaml:"device"`
	Baud        int           `yaml:"baud"`
	FIFOEnabled *bool         `yaml:"fifo_enabled"`
	FIFO        string        `yaml:"fifo"`
	FIFOCmd     string        `yaml:"fifo_cmd"`
	RebootDelay time.Duration `yaml:"reboot_delay"`
	RebootGrace time.Duration `yaml:"reboot_grace"`
}

// PipesEnabled reports whether the FIFO ingestors should run.
func (m Meshtastic) PipesEnabled() bool {
	return m.FIFOEnabled == nil || *m.FIFOEnabled
}

// Bridge configures packet forwarding
type Bridge struct {
	Format         string        `yaml:"format"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	BusBuffer      int           `yaml:"bus_buffer"`
	PacketLogSize  int           `yaml:"packet_log_size"`
}

// Sink configures the publish destination
type Sink struct {
	Type      string        `yaml:"type"`
	URL       string        `yaml:"url"`
	ClientID  string        `yaml:"client_id"`
	Token     string        `yaml:"token"`
	JWTSecret string        `yaml:"jwt_secret"`
	Topic     string        `yaml:"topic"`
	Timeout   time.Duration `yaml:"timeout"`
}

// API configures the local HTTP API
type API struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Secret  string `yaml:"secret"`
	NoAuth  bool   `yaml:"no_auth"`
}

// Health configures the gRPC health endpoint
type Health struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Logging configures log output
type Logging struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Config is the complete gateway configuration
type Config struct {
	Debug      bool       `yaml:"debug"`
	Meshtastic Meshtastic `yaml:"meshtastic"`
	Bridge     Bridge     `yaml:"bridge"`
	Sink       Sink       `yaml:"sink"`
	API        API        `yaml:"api"`
	Health     Health     `yaml:"health"`
	Logging    Logging    `yaml:"logging"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	c := &Config{}
	c.SetDefaults()
	return c
}

// Load reads path, then the .env file in the working directory, then the
// environment. A missing file at the default path is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	c := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := c.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// ApplyEnv overrides fields from MESHGATE_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvDevice); ok {
		c.Meshtastic.Device = v
	}
	if v, ok := lookup(EnvFIFO); ok {
		c.Meshtastic.FIFO = v
	}
	if v, ok := lookup(EnvFIFOCmd); ok {
		c.Meshtastic.FIFOCmd = v
	}
	if v, ok := lookup(EnvDebug); ok {
		debug, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDebug, err)
		}
		c.Debug = debug
	}
	if v, ok := lookup(EnvBusURL); ok {
		c.Sink.URL = v
		if c.Sink.Type == "" {
			c.Sink.Type = "eventmesh"
		}
	}
	if v, ok := lookup(EnvBusToken); ok {
		c.Sink.Token = v
	}
	if v, ok := lookup(EnvAPISecret); ok {
		c.API.Secret = v
	}
	return nil
}

// SetDefaults sets default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Meshtastic.Device == "" {
		c.Meshtastic.Device = "/dev/ttyUSB0"
	}
	if c.Meshtastic.Baud <= 0 {
		c.Meshtastic.Baud = 115200
	}
	if c.Meshtastic.FIFO == "" {
		c.Meshtastic.FIFO = pipe.DefaultMessagePath
	}
	if c.Meshtastic.FIFOCmd == "" {
		c.Meshtastic.FIFOCmd = pipe.DefaultCommandPath
	}
	if c.Meshtastic.RebootDelay <= 0 {
		c.Meshtastic.RebootDelay = 10 * time.Second
	}
	if c.Meshtastic.RebootGrace <= 0 {
		c.Meshtastic.RebootGrace = 20 * time.Second
	}

	if c.Bridge.Format == "" {
		c.Bridge.Format = "json"
	}
	if c.Bridge.PublishTimeout <= 0 {
		c.Bridge.PublishTimeout = 5 * time.Second
	}
	if c.Bridge.BusBuffer <= 0 {
		c.Bridge.BusBuffer = 256
	}
	if c.Bridge.PacketLogSize <= 0 {
		c.Bridge.PacketLogSize = 1000
	}

	if c.Sink.Type == "" {
		c.Sink.Type = "log"
	}
	if c.Sink.Topic == "" {
		c.Sink.Topic = sink.DefaultTopic
	}
	if c.Sink.Timeout <= 0 {
		c.Sink.Timeout = 10 * time.Second
	}

	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:8090"
	}
	if c.Health.Listen == "" {
		c.Health.Listen = "127.0.0.1:9090"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Debug {
		c.Logging.Level = "debug"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.MaxSizeMB <= 0 {
		c.Logging.MaxSizeMB = 100
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Meshtastic.Device == "" {
		return ErrEmptyDevice
	}
	if c.Meshtastic.PipesEnabled() {
		if c.Meshtastic.FIFO == "" || c.Meshtastic.FIFOCmd == "" {
			return ErrEmptyFIFO
		}
		if c.Meshtastic.FIFO == c.Meshtastic.FIFOCmd {
			return ErrSameFIFO
		}
	}
	if _, err := codec.ByName(c.Bridge.Format); err != nil {
		return fmt.Errorf("bridge format: %w", err)
	}

	sinkConfig := c.SinkConfig(codec.JSON{}.ContentType())
	if err := sinkConfig.Validate(); err != nil {
		return fmt.Errorf("sink: %w", err)
	}

	if c.API.Enabled && !c.API.NoAuth && c.API.Secret == "" {
		return ErrEmptyAPISecret
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// SinkConfig converts the sink section for sink.New.
func (c *Config) SinkConfig(contentType string) sink.Config {
	return sink.Config{
		Type:        c.Sink.Type,
		URL:         c.Sink.URL,
		ClientID:    c.Sink.ClientID,
		Token:       c.Sink.Token,
		JWTSecret:   c.Sink.JWTSecret,
		Topic:       c.Sink.Topic,
		Timeout:     c.Sink.Timeout,
		ContentType: contentType,
	}
}
