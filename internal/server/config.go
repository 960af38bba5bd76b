// Package server runs a replica session: the scene state, the interception
// pipeline, the replication sinks, and the transports peers arrive on.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scenesync/scenesync/internal/core/observability/log"
)

// Duration wraps time.Duration so config files can spell values as "30s".
// Plain integers are read as nanoseconds.
type Duration time.Duration

// Std returns the wrapped standard duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return d.decode(v)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var v any
	if err := value.Decode(&v); err != nil {
		return err
	}
	return d.decode(v)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) decode(v any) error {
	switch t := v.(type) {
	case string:
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", t, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(t)
	case int64:
		*d = Duration(t)
	case float64:
		*d = Duration(int64(t))
	default:
		return fmt.Errorf("invalid duration value %v (%T)", v, v)
	}
	return nil
}

// Config controls one session. Zero addresses disable the matching
// transport; an empty journal path disables persistence.
type Config struct {
	QUICAddr string `json:"quicAddr" yaml:"quicAddr"`
	WSAddr   string `json:"wsAddr" yaml:"wsAddr"`

	MaxPeers      int      `json:"maxPeers" yaml:"maxPeers"`
	AcceptTimeout Duration `json:"acceptTimeout" yaml:"acceptTimeout"`

	SnapshotInterval Duration `json:"snapshotInterval" yaml:"snapshotInterval"`

	JournalPath      string   `json:"journalPath" yaml:"journalPath"`
	KeyframeCapacity int      `json:"keyframeCapacity" yaml:"keyframeCapacity"`
	KeyframeMaxAge   Duration `json:"keyframeMaxAge" yaml:"keyframeMaxAge"`

	ReplayEnabled bool `json:"replayEnabled" yaml:"replayEnabled"`

	LogLevel string `json:"logLevel" yaml:"logLevel"`
}

// DefaultConfig returns production defaults: both transports on loopback,
// a journal next to the binary, keyframes every 30 seconds.
func DefaultConfig() Config {
	return Config{
		QUICAddr:         "127.0.0.1:7777",
		WSAddr:           "127.0.0.1:7778",
		MaxPeers:         64,
		AcceptTimeout:    Duration(30 * time.Second),
		SnapshotInterval: Duration(30 * time.Second),
		JournalPath:      "scenesync.journal",
		KeyframeCapacity: 8,
		KeyframeMaxAge:   Duration(10 * time.Minute),
		ReplayEnabled:    false,
		LogLevel:         "info",
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.QUICAddr == "" && c.WSAddr == "" {
		return fmt.Errorf("%w: no transport addresses", ErrInvalidConfig)
	}
	if c.MaxPeers <= 0 {
		return fmt.Errorf("%w: maxPeers %d", ErrInvalidConfig, c.MaxPeers)
	}
	if c.AcceptTimeout <= 0 {
		return fmt.Errorf("%w: acceptTimeout %s", ErrInvalidConfig, c.AcceptTimeout)
	}
	if c.SnapshotInterval < 0 {
		return fmt.Errorf("%w: snapshotInterval %s", ErrInvalidConfig, c.SnapshotInterval)
	}
	if c.KeyframeCapacity < 0 {
		return fmt.Errorf("%w: keyframeCapacity %d", ErrInvalidConfig, c.KeyframeCapacity)
	}
	return nil
}

// Level maps the configured log level name onto the logger's scale.
// Unknown names fall back to info.
func (c Config) Level() log.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return log.LevelDebug
	case "info", "":
		return log.LevelInfo
	case "warn", "warning":
		return log.LevelWarn
	case "error":
		return log.LevelError
	default:
		return log.LevelInfo
	}
}

// LoadJSON decodes a config on top of the defaults, so partial files
// only override what they name.
func LoadJSON(r io.Reader) (Config, error) {
	c := DefaultConfig()
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return Config{}, fmt.Errorf("decode json config: %w", err)
	}
	return c, c.Validate()
}

// LoadYAML decodes a config on top of the defaults, so partial files
// only override what they name.
func LoadYAML(r io.Reader) (Config, error) {
	c := DefaultConfig()
	if err := yaml.NewDecoder(r).Decode(&c); err != nil {
		return Config{}, fmt.Errorf("decode yaml config: %w", err)
	}
	return c, c.Validate()
}

// LoadFile loads a config file, picking the decoder from the extension.
func LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(f)
	case ".json":
		return LoadJSON(f)
	default:
		return Config{}, fmt.Errorf("%w: unsupported config format %q", ErrInvalidConfig, filepath.Ext(path))
	}
}
