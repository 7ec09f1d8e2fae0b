// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/streamreplay/lib/config"
)

// ConfigParams adds --config to a command. Embed it in a params struct
// and call Resolve in Run.
type ConfigParams struct {
	Path string
}

// AddFlags implements [FlagBinder].
func (p *ConfigParams) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&p.Path, "config", "", "configuration file (default $STREAMREPLAY_CONFIG)")
}

// Resolve loads the file named by --config, else the one named by
// STREAMREPLAY_CONFIG. With neither set, the built-in defaults apply so
// local commands work without a file. The result is validated.
func (p *ConfigParams) Resolve() (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case p.Path != "":
		cfg, err = config.LoadFile(p.Path)
	case os.Getenv("STREAMREPLAY_CONFIG") != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
