package ops

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors the YAML config layout.
type Config struct {
	Endpoint EndpointConfig `yaml:"endpoint"`
	Backoff  BackoffConfig  `yaml:"backoff"`
	Capture  CaptureConfig  `yaml:"capture"`
	Chaos    ChaosConfig    `yaml:"chaos"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Sink     SinkConfig     `yaml:"sink"`
	Profiler ProfilerConfig `yaml:"profiler"`
}

// EndpointConfig describes the websocket endpoint to hold open.
type EndpointConfig struct {
	URL                 string            `yaml:"url"`
	Codec               string            `yaml:"codec"`
	IdleTimeoutSec      int               `yaml:"idle_timeout_sec"`
	HandshakeTimeoutSec int               `yaml:"handshake_timeout_sec"`
	Headers             map[string]string `yaml:"headers"`
}

func (c EndpointConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

func (c EndpointConfig) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSec) * time.Second
}

// BackoffConfig shapes the reconnect delay curve.
type BackoffConfig struct {
	Base        float64 `yaml:"base"`
	MaxDelaySec int     `yaml:"max_delay_sec"`
}

func (c BackoffConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySec) * time.Second
}

// CaptureConfig controls the on-disk frame capture log.
type CaptureConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Dir              string `yaml:"dir"`
	FilePrefix       string `yaml:"file_prefix"`
	SegmentMaxBytes  int64  `yaml:"segment_max_bytes"`
	QueueSize        int    `yaml:"queue_size"`
	FlushIntervalSec int    `yaml:"flush_interval_sec"`
}

func (c CaptureConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSec) * time.Second
}

// ChaosConfig controls transport fault injection.
type ChaosConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Seed       int64   `yaml:"seed"`
	DropRate   float64 `yaml:"drop_rate"`
	CutRate    float64 `yaml:"cut_rate"`
	MaxDelayMs int     `yaml:"max_delay_ms"`
}

func (c ChaosConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// ArchiveConfig controls frame archival into PostgreSQL.
type ArchiveConfig struct {
	Enabled          bool           `yaml:"enabled"`
	Session          string         `yaml:"session"`
	BatchSize        int            `yaml:"batch_size"`
	FlushIntervalSec int            `yaml:"flush_interval_sec"`
	Postgres         PostgresConfig `yaml:"postgres"`
}

func (c ArchiveConfig) FlushInterval() time.Duration {
	return time.Duration(c.FlushIntervalSec) * time.Second
}

// PostgresConfig holds the archive database coordinates.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// SinkConfig controls mirroring application frames to a local socket.
type SinkConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SocketPath string `yaml:"socket_path"`
}

// ProfilerConfig controls continuous profiling.
type ProfilerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ServerAddress   string `yaml:"server_address"`
	ApplicationName string `yaml:"application_name"`
}

// Load reads a YAML config file, fills defaults and validates it. An
// empty path yields the defaults alone.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) withDefaults() Config {
	if c.Endpoint.Codec == "" {
		c.Endpoint.Codec = "compact"
	}
	if c.Endpoint.IdleTimeoutSec <= 0 {
		c.Endpoint.IdleTimeoutSec = 60
	}
	if c.Endpoint.HandshakeTimeoutSec <= 0 {
		c.Endpoint.HandshakeTimeoutSec = 5
	}
	if c.Backoff.Base <= 0 {
		c.Backoff.Base = 2.0
	}
	if c.Backoff.MaxDelaySec <= 0 {
		c.Backoff.MaxDelaySec = 30
	}
	if c.Capture.FilePrefix == "" {
		c.Capture.FilePrefix = "cap"
	}
	if c.Capture.SegmentMaxBytes <= 0 {
		c.Capture.SegmentMaxBytes = 64 << 20
	}
	if c.Capture.QueueSize <= 0 {
		c.Capture.QueueSize = 4096
	}
	if c.Capture.FlushIntervalSec <= 0 {
		c.Capture.FlushIntervalSec = 1
	}
	if c.Archive.Session == "" {
		c.Archive.Session = "default"
	}
	if c.Archive.BatchSize <= 0 {
		c.Archive.BatchSize = 256
	}
	if c.Archive.FlushIntervalSec <= 0 {
		c.Archive.FlushIntervalSec = 2
	}
	if c.Chaos.MaxDelayMs < 0 {
		c.Chaos.MaxDelayMs = 0
	}
	if c.Profiler.ApplicationName == "" {
		c.Profiler.ApplicationName = "wsline"
	}
	return c
}

// Validate checks cross-field constraints on enabled sections only.
func (c Config) Validate() error {
	switch c.Endpoint.Codec {
	case "compact", "json":
	default:
		return fmt.Errorf("invalid config: endpoint.codec must be compact or json, got %q", c.Endpoint.Codec)
	}
	if c.Capture.Enabled && c.Capture.Dir == "" {
		return fmt.Errorf("invalid config: capture.dir is empty")
	}
	if c.Chaos.Enabled {
		if c.Chaos.DropRate < 0 || c.Chaos.DropRate > 1 {
			return fmt.Errorf("invalid config: chaos.drop_rate must be within [0, 1], got %g", c.Chaos.DropRate)
		}
		if c.Chaos.CutRate < 0 || c.Chaos.CutRate > 1 {
			return fmt.Errorf("invalid config: chaos.cut_rate must be within [0, 1], got %g", c.Chaos.CutRate)
		}
	}
	if c.Archive.Enabled && c.Archive.Postgres.Database == "" {
		return fmt.Errorf("invalid config: archive.postgres.database is empty")
	}
	if c.Sink.Enabled && c.Sink.SocketPath == "" {
		return fmt.Errorf("invalid config: sink.socket_path is empty")
	}
	if c.Profiler.Enabled && c.Profiler.ServerAddress == "" {
		return fmt.Errorf("invalid config: profiler.server_address is empty")
	}
	return nil
}
