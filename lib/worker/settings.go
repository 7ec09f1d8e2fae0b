// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Sink kinds a worker can emit to.
const (
	SinkLog     = "log"
	SinkDiscard = "discard"
	SinkRecord  = "record"
)

// Settings is everything a worker process needs, passed from the
// controller through STREAMREPLAY_* environment variables.
type Settings struct {
	Socket string `env:"STREAMREPLAY_SOCKET,required"`

	Speed     float64 `env:"STREAMREPLAY_SPEED"      envDefault:"1"`
	ChunkSize int     `env:"STREAMREPLAY_CHUNK_SIZE" envDefault:"1"`

	// Sink is one of log, discard or record. record re-records the
	// replay into RecordPath.
	Sink       string `env:"STREAMREPLAY_SINK"        envDefault:"log"`
	RecordPath string `env:"STREAMREPLAY_RECORD_PATH"`

	Only   []string `env:"STREAMREPLAY_ONLY"   envSeparator:","`
	Ignore []string `env:"STREAMREPLAY_IGNORE" envSeparator:","`

	RemoveJitter       bool    `env:"STREAMREPLAY_REMOVE_JITTER"`
	IrregularThreshold float64 `env:"STREAMREPLAY_IRREGULAR_THRESHOLD" envDefault:"0.1"`
	ReshapeMap         string  `env:"STREAMREPLAY_RESHAPE_MAP"`

	LogLevel slog.Level `env:"STREAMREPLAY_LOG_LEVEL" envDefault:"INFO"`
}

// ParseSettings reads Settings from the process environment.
func ParseSettings() (Settings, error) {
	var settings Settings
	if err := env.Parse(&settings); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return settings, settings.Validate()
}

// ParseSettingsFrom reads Settings from environ instead of the process
// environment.
func ParseSettingsFrom(environ map[string]string) (Settings, error) {
	var settings Settings
	if err := env.ParseWithOptions(&settings, env.Options{Environment: environ}); err != nil {
		return Settings{}, fmt.Errorf("parse env: %w", err)
	}
	return settings, settings.Validate()
}

// Validate checks field ranges and cross-field requirements.
func (s Settings) Validate() error {
	var errs []error
	if s.Socket == "" {
		errs = append(errs, errors.New("STREAMREPLAY_SOCKET is required"))
	}
	if s.Speed <= 0 {
		errs = append(errs, fmt.Errorf("STREAMREPLAY_SPEED must be positive, got %v", s.Speed))
	}
	if s.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("STREAMREPLAY_CHUNK_SIZE must be at least 1, got %d", s.ChunkSize))
	}
	switch s.Sink {
	case SinkLog, SinkDiscard:
	case SinkRecord:
		if s.RecordPath == "" {
			errs = append(errs, errors.New("STREAMREPLAY_RECORD_PATH is required for the record sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("STREAMREPLAY_SINK %q is not one of log, discard, record", s.Sink))
	}
	if s.IrregularThreshold <= 0 {
		errs = append(errs, fmt.Errorf("STREAMREPLAY_IRREGULAR_THRESHOLD must be positive, got %v", s.IrregularThreshold))
	}
	return errors.Join(errs...)
}

// Environ renders s as KEY=VALUE pairs for a child process. Empty
// optional fields are omitted so the child falls back to defaults.
func (s Settings) Environ() []string {
	environ := []string{
		"STREAMREPLAY_SOCKET=" + s.Socket,
		"STREAMREPLAY_SPEED=" + strconv.FormatFloat(s.Speed, 'g', -1, 64),
		"STREAMREPLAY_CHUNK_SIZE=" + strconv.Itoa(s.ChunkSize),
		"STREAMREPLAY_SINK=" + s.Sink,
		"STREAMREPLAY_REMOVE_JITTER=" + strconv.FormatBool(s.RemoveJitter),
		"STREAMREPLAY_IRREGULAR_THRESHOLD=" + strconv.FormatFloat(s.IrregularThreshold, 'g', -1, 64),
		"STREAMREPLAY_LOG_LEVEL=" + s.LogLevel.String(),
	}
	optional := []struct{ key, value string }{
		{"STREAMREPLAY_RECORD_PATH", s.RecordPath},
		{"STREAMREPLAY_ONLY", strings.Join(s.Only, ",")},
		{"STREAMREPLAY_IGNORE", strings.Join(s.Ignore, ",")},
		{"STREAMREPLAY_RESHAPE_MAP", s.ReshapeMap},
	}
	for _, entry := range optional {
		if entry.value != "" {
			environ = append(environ, entry.key+"="+entry.value)
		}
	}
	return environ
}
