// Package config loads discnode settings from YAML and converts them to
// discv.Options.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/discv"
	"github.com/opd-ai/discv/crypto"
	"github.com/opd-ai/discv/transport"
)

// EnvPrefix prefixes the environment variables read by ApplyEnv.
const EnvPrefix = "DISCV"

// Config is the on-disk configuration of a discovery node.
type Config struct {
	ListenAddr string   `yaml:"listen_addr"`
	TCPPort    uint16   `yaml:"tcp_port"`
	PrivateKey string   `yaml:"private_key"`
	BootNodes  []string `yaml:"bootnodes"`

	Table   TableConfig   `yaml:"table"`
	Packet  PacketConfig  `yaml:"packet"`
	Reactor ReactorConfig `yaml:"reactor"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TableConfig holds the Kademlia parameters.
type TableConfig struct {
	BucketSize       int           `yaml:"bucket_size"`
	Alpha            int           `yaml:"alpha"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	RefreshInterval  time.Duration `yaml:"refresh_interval"`
	MaxLookupRounds  int           `yaml:"max_lookup_rounds"`
	MinPeers         int           `yaml:"min_peers"`
	DiscoverInterval time.Duration `yaml:"discover_interval"`
}

// PacketConfig holds wire-level limits.
type PacketConfig struct {
	ExpirationWindow time.Duration `yaml:"expiration_window"`
	MaxClockSkew     time.Duration `yaml:"max_clock_skew"`
	MaxDatagramSize  int           `yaml:"max_datagram_size"`
}

// ReactorConfig tunes the worker loop.
type ReactorConfig struct {
	PollTimeout time.Duration `yaml:"poll_timeout"`
	IdleWait    time.Duration `yaml:"idle_wait"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the configuration matching discv.NewOptions.
func Default() *Config {
	o := discv.NewOptions()
	return &Config{
		ListenAddr: o.ListenAddr,
		Table: TableConfig{
			BucketSize:       o.BucketSize,
			Alpha:            o.Alpha,
			PingTimeout:      o.PingTimeout,
			RefreshInterval:  o.RefreshInterval,
			MaxLookupRounds:  o.MaxLookupRounds,
			MinPeers:         o.MinPeers,
			DiscoverInterval: o.DiscoverInterval,
		},
		Packet: PacketConfig{
			ExpirationWindow: o.ExpirationWindow,
			MaxClockSkew:     o.MaxClockSkew,
			MaxDatagramSize:  o.MaxDatagramSize,
		},
		Reactor: ReactorConfig{
			PollTimeout: o.PollTimeout,
			IdleWait:    o.IdleWait,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logrus.WithFields(logrus.Fields{
				"function": "Load",
				"path":     path,
			}).Warn("Config file not found, using defaults")
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides selected fields from DISCV_* environment variables:
// DISCV_LISTEN_ADDR, DISCV_PRIVATE_KEY, DISCV_BOOTNODES (comma separated)
// and DISCV_LOG_LEVEL.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvPrefix + "_LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "_PRIVATE_KEY"); ok {
		c.PrivateKey = v
	}
	if v, ok := os.LookupEnv(EnvPrefix + "_BOOTNODES"); ok {
		c.BootNodes = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				c.BootNodes = append(c.BootNodes, s)
			}
		}
	}
	if v, ok := os.LookupEnv(EnvPrefix + "_LOG_LEVEL"); ok {
		c.Log.Level = v
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return errors.New("listen_addr is required")
	case c.Table.BucketSize <= 0:
		return fmt.Errorf("table.bucket_size must be positive, got %d", c.Table.BucketSize)
	case c.Table.Alpha <= 0:
		return fmt.Errorf("table.alpha must be positive, got %d", c.Table.Alpha)
	case c.Table.PingTimeout <= 0:
		return fmt.Errorf("table.ping_timeout must be positive, got %s", c.Table.PingTimeout)
	case c.Table.RefreshInterval <= 0:
		return fmt.Errorf("table.refresh_interval must be positive, got %s", c.Table.RefreshInterval)
	case c.Table.MaxLookupRounds <= 0:
		return fmt.Errorf("table.max_lookup_rounds must be positive, got %d", c.Table.MaxLookupRounds)
	case c.Table.MinPeers < 0:
		return fmt.Errorf("table.min_peers must not be negative, got %d", c.Table.MinPeers)
	case c.Packet.ExpirationWindow <= 0:
		return fmt.Errorf("packet.expiration_window must be positive, got %s", c.Packet.ExpirationWindow)
	case c.Packet.MaxClockSkew < 0:
		return fmt.Errorf("packet.max_clock_skew must not be negative, got %s", c.Packet.MaxClockSkew)
	case c.Packet.MaxDatagramSize < transport.MinPacketSize:
		return fmt.Errorf("packet.max_datagram_size must be at least %d, got %d", transport.MinPacketSize, c.Packet.MaxDatagramSize)
	case c.Reactor.PollTimeout <= 0:
		return fmt.Errorf("reactor.poll_timeout must be positive, got %s", c.Reactor.PollTimeout)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if _, err := c.Log.formatter(); err != nil {
		return err
	}
	return nil
}

// ToOptions converts the configuration, decoding the key and boot nodes.
// An empty private key leaves the identity to be generated.
func (c *Config) ToOptions() (*discv.Options, error) {
	o := discv.NewOptions()
	o.ListenAddr = c.ListenAddr
	o.TCPPort = c.TCPPort

	if c.PrivateKey != "" {
		key, err := crypto.FromHex(c.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("private_key: %w", err)
		}
		o.KeyPair = key
	}
	bootNodes, err := discv.ParseBootNodes(c.BootNodes)
	if err != nil {
		return nil, fmt.Errorf("bootnodes: %w", err)
	}
	o.BootNodes = bootNodes

	o.BucketSize = c.Table.BucketSize
	o.Alpha = c.Table.Alpha
	o.PingTimeout = c.Table.PingTimeout
	o.RefreshInterval = c.Table.RefreshInterval
	o.MaxLookupRounds = c.Table.MaxLookupRounds
	o.MinPeers = c.Table.MinPeers
	o.DiscoverInterval = c.Table.DiscoverInterval

	o.ExpirationWindow = c.Packet.ExpirationWindow
	o.MaxClockSkew = c.Packet.MaxClockSkew
	o.MaxDatagramSize = c.Packet.MaxDatagramSize

	o.PollTimeout = c.Reactor.PollTimeout
	o.IdleWait = c.Reactor.IdleWait
	return o, nil
}

// Apply configures the standard logrus logger.
func (l LogConfig) Apply() error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	formatter, err := l.formatter()
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter)
	return nil
}

func (l LogConfig) formatter() (logrus.Formatter, error) {
	switch strings.ToLower(l.Format) {
	case "", "text":
		return &logrus.TextFormatter{FullTimestamp: true}, nil
	case "json":
		return &logrus.JSONFormatter{}, nil
	default:
		return nil, fmt.Errorf("log.format must be text or json, got %q", l.Format)
	}
}
