package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.teamsync/config.toml.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	Server         Server    `toml:"server"`
	Reconnect      Reconnect `toml:"reconnect"`
	Timeouts       Timeouts  `toml:"timeouts"`
	Metrics        Metrics   `toml:"metrics"`
	Chime          Chime     `toml:"chime"`
	Log            Log       `toml:"log"`
}

// Server holds the REST and realtime endpoints.
type Server struct {
	APIURL    string `toml:"api_url"`
	SocketURL string `toml:"socket_url"`
}

// Reconnect is the automatic reconnection policy applied per channel.
type Reconnect struct {
	InitialDelay Duration `toml:"initial_delay"`
	MaxDelay     Duration `toml:"max_delay"`
	Jitter       float64  `toml:"jitter"`
	MaxAttempts  int      `toml:"max_attempts"`
}

// Timeouts bound the blocking operations of the sync layer.
type Timeouts struct {
	Connect Duration `toml:"connect"`
	Ack     Duration `toml:"ack"`
	HTTP    Duration `toml:"http"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `toml:"addr"`
}

// Chime configures the in-app notification signal.
type Chime struct {
	Enabled bool `toml:"enabled"`
	Desktop bool `toml:"desktop"`
}

// Log configures the daemon log. Level takes zap level names.
type Log struct {
	Level  string `toml:"level"`
	Stderr bool   `toml:"stderr"`
}

// Duration is a time.Duration that round-trips through TOML as "1s", "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Server: Server{
			APIURL:    "http://localhost:3000",
			SocketURL: "ws://localhost:3000",
		},
		Reconnect: Reconnect{
			InitialDelay: Duration{time.Second},
			MaxDelay:     Duration{30 * time.Second},
			Jitter:       0.5,
			MaxAttempts:  10,
		},
		Timeouts: Timeouts{
			Connect: Duration{20 * time.Second},
			Ack:     Duration{10 * time.Second},
			HTTP:    Duration{20 * time.Second},
		},
		Metrics: Metrics{Addr: "127.0.0.1:9464"},
		Chime:   Chime{Enabled: true},
		Log:     Log{Level: "info", Stderr: true},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
// Fields absent from the file keep their Default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that treats a missing file as Default.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
