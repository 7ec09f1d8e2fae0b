// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/streamreplay/cmd/streamreplay/cli"
	"github.com/bureau-foundation/streamreplay/lib/config"
	"github.com/bureau-foundation/streamreplay/lib/container"
	"github.com/bureau-foundation/streamreplay/lib/stream"
)

// readFilters are the read options shared by read and play. Zero
// values fall back to the configuration's read section.
type readFilters struct {
	Only               []string `flag:"only"                desc:"read only these streams"`
	Ignore             []string `flag:"ignore"              desc:"skip these streams"`
	RemoveJitter       bool     `flag:"remove-jitter"       desc:"replace timestamps with a linear fit"`
	IrregularThreshold float64  `flag:"irregular-threshold" desc:"interval variation above which a stream is reported irregular"`
	ReshapeMap         string   `flag:"reshape-map"         desc:"JSONC file splitting packed channel axes"`
}

// options merges the filters over cfg into container read options.
func (f readFilters) options(cfg *config.Config, logger *slog.Logger) (container.ReadOptions, error) {
	options := container.ReadOptions{
		Only:         cfg.Read.Only,
		Ignore:       cfg.Read.Ignore,
		RemoveJitter: cfg.Read.RemoveJitter || f.RemoveJitter,
		Jitter:       stream.JitterOptions{IrregularThreshold: cfg.Read.IrregularThreshold},
		Logger:       logger,
	}
	if len(f.Only) > 0 {
		options.Only = f.Only
	}
	if len(f.Ignore) > 0 {
		options.Ignore = f.Ignore
	}
	if f.IrregularThreshold > 0 {
		options.Jitter.IrregularThreshold = f.IrregularThreshold
	}
	reshapePath := cfg.Read.ReshapeMap
	if f.ReshapeMap != "" {
		reshapePath = f.ReshapeMap
	}
	if reshapePath != "" {
		mapping, err := stream.LoadReshapeMap(reshapePath)
		if err != nil {
			return container.ReadOptions{}, err
		}
		options.Reshape = mapping
	}
	return options, nil
}

type readParams struct {
	cli.ConfigParams
	cli.JSONOutput
	readFilters
}

type streamSummary struct {
	Name     string  `json:"name"`
	DType    string  `json:"dtype"`
	Channels []int   `json:"channels"`
	Samples  int     `json:"samples"`
	First    float64 `json:"first"`
	Last     float64 `json:"last"`
	Rate     float64 `json:"rate"`
	Parts    [][]int `json:"parts,omitempty"`
}

type readResult struct {
	Path       string          `json:"path"`
	Streams    []streamSummary `json:"streams"`
	Start      float64         `json:"start"`
	End        float64         `json:"end"`
	Incomplete bool            `json:"incomplete"`
	Warnings   []string        `json:"warnings,omitempty"`
}

func readCommand() *cli.Command {
	var params readParams

	return &cli.Command{
		Name:    "read",
		Summary: "Decode a recording and summarize its streams",
		Description: `Decode a container file into per-stream buffers and print one line per
stream: dtype, channel shape, sample count, time span and nominal rate.

--only and --ignore filter streams during the read. --remove-jitter
refits timestamps, and --reshape-map splits packed channel axes into
the sub-shapes the map declares. A channel-count mismatch in the map is
reported as a warning; the stream keeps its flat layout.

A truncated file prints the streams decoded before the damage and fails.`,
		Usage: "streamreplay read [flags] <recording>",
		Examples: []cli.Example{
			{Description: "Summarize every stream", Command: "streamreplay read session.rec"},
			{Description: "Only EEG, dejittered", Command: "streamreplay read --only eeg --remove-jitter session.rec"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("read", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected 1 recording path, got %d arguments", len(args))
			}
			cfg, err := params.Resolve()
			if err != nil {
				return err
			}
			options, err := params.options(cfg, logger)
			if err != nil {
				return err
			}
			return runRead(ctx, stdout, args[0], options, &params.JSONOutput)
		},
	}
}

func runRead(ctx context.Context, w io.Writer, path string, options container.ReadOptions, output *cli.JSONOutput) error {
	buffer, readErr := container.ReadFile(ctx, path, options)
	if buffer == nil {
		return readErr
	}

	var mismatch *stream.ChannelMismatchError
	result := readResult{Path: path, Incomplete: buffer.Incomplete}
	if readErr != nil && errors.As(readErr, &mismatch) {
		result.Warnings = append(result.Warnings, readErr.Error())
		readErr = nil
	}
	result.Start, result.End, _ = buffer.Bounds()

	for _, name := range buffer.Names() {
		s, _ := buffer.Get(name)
		summary := streamSummary{
			Name:     name,
			DType:    s.Data.DType.String(),
			Channels: s.Data.ChannelShape(),
			Samples:  s.Len(),
			Rate:     s.Rate(),
		}
		if s.Len() > 0 {
			summary.First, summary.Last = s.First(), s.Last()
		}
		for _, part := range s.Parts {
			summary.Parts = append(summary.Parts, part.ChannelShape())
		}
		result.Streams = append(result.Streams, summary)
	}

	if done, err := output.EmitJSON(w, result); done {
		return errors.Join(err, readErr)
	}

	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "STREAM\tDTYPE\tCHANNELS\tSAMPLES\tFIRST\tLAST\tRATE\tPARTS\n")
	for _, summary := range result.Streams {
		parts := "-"
		if len(summary.Parts) > 0 {
			parts = fmt.Sprint(summary.Parts)
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%d\t%.6f\t%.6f\t%.3f\t%s\n",
			summary.Name, summary.DType, summary.Channels, summary.Samples,
			summary.First, summary.Last, summary.Rate, parts)
	}
	tw.Flush()
	fmt.Fprintf(w, "\nspan: %.6f .. %.6f (%.3fs)\n", result.Start, result.End, result.End-result.Start)
	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warning)
	}
	return readErr
}
