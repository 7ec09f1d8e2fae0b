// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/streamreplay/lib/worker"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local runs against sample recordings.
	Development Environment = "development"
	// Production is for lab machines driving real sinks.
	Production Environment = "production"
)

// Config is the master configuration for streamreplay.
type Config struct {
	// Environment selects which override section applies.
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// Read configures how recordings are decoded.
	Read ReadConfig `yaml:"read"`

	// Replay configures playback.
	Replay ReplayConfig `yaml:"replay"`

	// Worker configures the isolated replay process.
	Worker WorkerConfig `yaml:"worker"`

	// Per-environment overrides, applied after the base config.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths  *PathsConfig  `yaml:"paths,omitempty"`
	Read   *ReadConfig   `yaml:"read,omitempty"`
	Replay *ReplayConfig `yaml:"replay,omitempty"`
	Worker *WorkerConfig `yaml:"worker,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for streamreplay data.
	Root string `yaml:"root"`

	// Bin is where the worker binary is looked up first.
	Bin string `yaml:"bin"`

	// Recordings is the default directory for container files.
	Recordings string `yaml:"recordings"`

	// Sockets is where worker control sockets are created. Unix socket
	// paths are limited to 108 bytes, so keep this short.
	Sockets string `yaml:"sockets"`
}

// ReadConfig configures recording decoding.
type ReadConfig struct {
	// Only and Ignore filter streams by name during the read.
	Only   []string `yaml:"only"`
	Ignore []string `yaml:"ignore"`

	// RemoveJitter refits timestamps of regular streams.
	RemoveJitter bool `yaml:"remove_jitter"`

	// IrregularThreshold is the interval coefficient of variation above
	// which a stream is treated as irregular and left untouched.
	// Default: 0.1
	IrregularThreshold float64 `yaml:"irregular_threshold"`

	// ReshapeMap is a JSONC file mapping a stream to its split targets.
	ReshapeMap string `yaml:"reshape_map"`
}

// ReplayConfig configures playback.
type ReplayConfig struct {
	// Speed multiplies the rate at which virtual time advances.
	// Default: 1
	Speed float64 `yaml:"speed"`

	// ChunkSize is how many samples a stream emits at once.
	// Default: 1
	ChunkSize int `yaml:"chunk_size"`

	// Sink is one of log, discard, record.
	// Default: log
	Sink string `yaml:"sink"`

	// RecordPath is the output container for the record sink.
	RecordPath string `yaml:"record_path"`
}

// WorkerConfig configures the replay worker process.
type WorkerConfig struct {
	// Binary is the worker executable name or path.
	// Default: streamreplay-worker
	Binary string `yaml:"binary"`

	// ReadyTimeout bounds the wait for the control socket.
	// Default: 10s
	ReadyTimeout string `yaml:"ready_timeout"`

	// GracePeriod is the wait between shutdown escalation steps.
	// Default: 2s
	GracePeriod string `yaml:"grace_period"`

	// LogLevel is the worker's slog level.
	// Default: INFO
	LogLevel string `yaml:"log_level"`
}

// Default returns the default configuration. The config file is
// required; these values only fill fields the file leaves unset.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "streamreplay")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:       defaultRoot,
			Bin:        filepath.Join(defaultRoot, "bin"),
			Recordings: filepath.Join(defaultRoot, "recordings"),
			Sockets:    "/tmp/streamreplay",
		},
		Read: ReadConfig{
			IrregularThreshold: 0.1,
		},
		Replay: ReplayConfig{
			Speed:     1,
			ChunkSize: 1,
			Sink:      worker.SinkLog,
		},
		Worker: WorkerConfig{
			Binary:       "streamreplay-worker",
			ReadyTimeout: "10s",
			GracePeriod:  "2s",
			LogLevel:     "INFO",
		},
	}
}

// Load loads configuration from the STREAMREPLAY_CONFIG environment
// variable. There is no fallback: if it is unset, Load fails.
func Load() (*Config, error) {
	configPath := os.Getenv("STREAMREPLAY_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("STREAMREPLAY_CONFIG environment variable not set; " +
			"set it to the path of your streamreplay.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The file is the single source of truth. The only expansion performed
// is ${VAR} and ${VAR:-default} in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides merges the section matching Environment.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
		// Production defaults: quieter worker logs.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Worker: &WorkerConfig{LogLevel: "WARN"},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		mergeString(&c.Paths.Root, overrides.Paths.Root)
		mergeString(&c.Paths.Bin, overrides.Paths.Bin)
		mergeString(&c.Paths.Recordings, overrides.Paths.Recordings)
		mergeString(&c.Paths.Sockets, overrides.Paths.Sockets)
	}

	if overrides.Read != nil {
		if overrides.Read.Only != nil {
			c.Read.Only = overrides.Read.Only
		}
		if overrides.Read.Ignore != nil {
			c.Read.Ignore = overrides.Read.Ignore
		}
		// RemoveJitter is a bool, so it is always taken from the section.
		c.Read.RemoveJitter = overrides.Read.RemoveJitter
		if overrides.Read.IrregularThreshold != 0 {
			c.Read.IrregularThreshold = overrides.Read.IrregularThreshold
		}
		mergeString(&c.Read.ReshapeMap, overrides.Read.ReshapeMap)
	}

	if overrides.Replay != nil {
		if overrides.Replay.Speed != 0 {
			c.Replay.Speed = overrides.Replay.Speed
		}
		if overrides.Replay.ChunkSize != 0 {
			c.Replay.ChunkSize = overrides.Replay.ChunkSize
		}
		mergeString(&c.Replay.Sink, overrides.Replay.Sink)
		mergeString(&c.Replay.RecordPath, overrides.Replay.RecordPath)
	}

	if overrides.Worker != nil {
		mergeString(&c.Worker.Binary, overrides.Worker.Binary)
		mergeString(&c.Worker.ReadyTimeout, overrides.Worker.ReadyTimeout)
		mergeString(&c.Worker.GracePeriod, overrides.Worker.GracePeriod)
		mergeString(&c.Worker.LogLevel, overrides.Worker.LogLevel)
	}
}

func mergeString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"STREAMREPLAY_ROOT": c.Paths.Root,
		"HOME":              os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["STREAMREPLAY_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Bin = expandVars(c.Paths.Bin, vars)
	c.Paths.Recordings = expandVars(c.Paths.Recordings, vars)
	c.Paths.Sockets = expandVars(c.Paths.Sockets, vars)
	c.Read.ReshapeMap = expandVars(c.Read.ReshapeMap, vars)
	c.Replay.RecordPath = expandVars(c.Replay.RecordPath, vars)
	c.Worker.Binary = expandVars(c.Worker.Binary, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns. Names in vars
// win over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

var sinkKinds = []string{worker.SinkLog, worker.SinkDiscard, worker.SinkRecord}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Paths.Sockets == "" {
		errs = append(errs, errors.New("paths.sockets is required"))
	}
	if c.Read.IrregularThreshold <= 0 {
		errs = append(errs, fmt.Errorf("read.irregular_threshold must be positive, got %v", c.Read.IrregularThreshold))
	}
	if c.Replay.Speed <= 0 {
		errs = append(errs, fmt.Errorf("replay.speed must be positive, got %v", c.Replay.Speed))
	}
	if c.Replay.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("replay.chunk_size must be at least 1, got %d", c.Replay.ChunkSize))
	}
	if !slices.Contains(sinkKinds, c.Replay.Sink) {
		errs = append(errs, fmt.Errorf("replay.sink must be one of: %v", sinkKinds))
	} else if c.Replay.Sink == worker.SinkRecord && c.Replay.RecordPath == "" {
		errs = append(errs, errors.New("replay.record_path is required for the record sink"))
	}
	if c.Worker.Binary == "" {
		errs = append(errs, errors.New("worker.binary is required"))
	}
	for _, field := range []struct{ name, value string }{
		{"worker.ready_timeout", c.Worker.ReadyTimeout},
		{"worker.grace_period", c.Worker.GracePeriod},
	} {
		if duration, err := time.ParseDuration(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		} else if duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", field.name, field.value))
		}
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Worker.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("worker.log_level: %w", err))
	}

	return errors.Join(errs...)
}

// WorkerSettings renders the replay and read sections as the settings a
// worker listening on socketPath receives.
func (c *Config) WorkerSettings(socketPath string) (worker.Settings, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Worker.LogLevel)); err != nil {
		return worker.Settings{}, fmt.Errorf("worker.log_level: %w", err)
	}
	settings := worker.Settings{
		Socket:             socketPath,
		Speed:              c.Replay.Speed,
		ChunkSize:          c.Replay.ChunkSize,
		Sink:               c.Replay.Sink,
		RecordPath:         c.Replay.RecordPath,
		Only:               c.Read.Only,
		Ignore:             c.Read.Ignore,
		RemoveJitter:       c.Read.RemoveJitter,
		IrregularThreshold: c.Read.IrregularThreshold,
		ReshapeMap:         c.Read.ReshapeMap,
		LogLevel:           level,
	}
	return settings, settings.Validate()
}

// SpawnOptions returns worker spawn options for socketPath with the
// configured binary and timeouts resolved.
func (c *Config) SpawnOptions(socketPath string) (worker.Options, error) {
	settings, err := c.WorkerSettings(socketPath)
	if err != nil {
		return worker.Options{}, err
	}
	binary, err := c.BinaryPath(c.Worker.Binary)
	if err != nil {
		return worker.Options{}, err
	}
	readyTimeout, err := time.ParseDuration(c.Worker.ReadyTimeout)
	if err != nil {
		return worker.Options{}, fmt.Errorf("worker.ready_timeout: %w", err)
	}
	gracePeriod, err := time.ParseDuration(c.Worker.GracePeriod)
	if err != nil {
		return worker.Options{}, fmt.Errorf("worker.grace_period: %w", err)
	}
	return worker.Options{
		Binary:       binary,
		Settings:     settings,
		ReadyTimeout: readyTimeout,
		GracePeriod:  gracePeriod,
	}, nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.Recordings, c.Paths.Sockets} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// BinaryPath returns the full path to a binary. Absolute and relative
// paths are used as given; bare names are looked up in Paths.Bin first,
// then in PATH.
func (c *Config) BinaryPath(name string) (string, error) {
	if filepath.Base(name) != name {
		return name, nil
	}
	if c.Paths.Bin != "" {
		binPath := filepath.Join(c.Paths.Bin, name)
		if _, err := os.Stat(binPath); err == nil {
			return binPath, nil
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		if c.Paths.Bin != "" {
			return "", fmt.Errorf("%s not found in %s or PATH", name, c.Paths.Bin)
		}
		return "", fmt.Errorf("%s not found in PATH", name)
	}
	return path, nil
}
