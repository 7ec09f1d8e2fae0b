// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/streamreplay/cmd/streamreplay/cli"
	"github.com/bureau-foundation/streamreplay/lib/archive"
)

type archiveResult struct {
	Source      string  `json:"source"`
	Destination string  `json:"destination"`
	Algorithm   string  `json:"algorithm"`
	RawSize     int64   `json:"raw_size"`
	PackedSize  int64   `json:"packed_size"`
	Records     int     `json:"records"`
	Digest      string  `json:"digest"`
	Ratio       float64 `json:"ratio"`
}

func newArchiveResult(source, destination string, result archive.Result) archiveResult {
	return archiveResult{
		Source:      source,
		Destination: destination,
		Algorithm:   result.Algorithm.String(),
		RawSize:     result.RawSize,
		PackedSize:  result.PackedSize,
		Records:     result.Records,
		Digest:      result.Digest,
		Ratio:       result.Ratio(),
	}
}

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:    "archive",
		Summary: "Compress and restore recordings",
		Description: `Pack a finished recording into a zstd or LZ4 stream for transfer, and
unpack it again. Both report the BLAKE3 digest of the raw recording,
which matches the digest "inspect" prints and a worker reports on load.`,
		Subcommands: []*cli.Command{
			archivePackCommand(),
			archiveUnpackCommand(),
		},
	}
}

type archivePackParams struct {
	cli.JSONOutput
	Compression string `flag:"compression" desc:"zstd or lz4" default:"zstd"`
	Output      string `flag:"output"      desc:"packed file (default <recording> plus .zst or .lz4)"`
}

func archivePackCommand() *cli.Command {
	var params archivePackParams

	return &cli.Command{
		Name:    "pack",
		Summary: "Compress a recording",
		Usage:   "streamreplay archive pack [flags] <recording>",
		Examples: []cli.Example{
			{Description: "Pack with zstd next to the source", Command: "streamreplay archive pack session.rec"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("pack", &params)
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected 1 recording path, got %d arguments", len(args))
			}
			return runPack(stdout, args[0], params, logger)
		},
	}
}

func runPack(w io.Writer, source string, params archivePackParams, logger *slog.Logger) error {
	algorithm, err := archive.ParseAlgorithm(params.Compression)
	if err != nil {
		return err
	}
	destination := params.Output
	if destination == "" {
		destination = source + algorithm.Extension()
	}
	result, err := archive.Pack(source, destination, algorithm)
	if err != nil {
		return err
	}
	logger.Debug("recording packed", "destination", destination, "ratio", result.Ratio())
	return printArchive(w, newArchiveResult(source, destination, result), &params.JSONOutput)
}

type archiveUnpackParams struct {
	cli.JSONOutput
	Output string `flag:"output" desc:"restored recording (default <archive> without its .zst or .lz4 suffix)"`
}

func archiveUnpackCommand() *cli.Command {
	var params archiveUnpackParams

	return &cli.Command{
		Name:    "unpack",
		Summary: "Restore a packed recording",
		Description: `Decompress a packed recording. The compression is detected from the
file contents. The output appears only after the restored bytes scan as
a valid recording.`,
		Usage: "streamreplay archive unpack [flags] <archive>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("unpack", &params)
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected 1 archive path, got %d arguments", len(args))
			}
			return runUnpack(stdout, args[0], params)
		},
	}
}

func runUnpack(w io.Writer, source string, params archiveUnpackParams) error {
	destination := params.Output
	if destination == "" {
		trimmed := strings.TrimSuffix(strings.TrimSuffix(source, archive.Zstd.Extension()), archive.LZ4.Extension())
		if trimmed == source {
			return fmt.Errorf("cannot derive an output name from %s; pass --output", source)
		}
		destination = trimmed
	}
	result, err := archive.Unpack(source, destination)
	if err != nil {
		return err
	}
	return printArchive(w, newArchiveResult(source, destination, result), &params.JSONOutput)
}

func printArchive(w io.Writer, result archiveResult, output *cli.JSONOutput) error {
	if done, err := output.EmitJSON(w, result); done {
		return err
	}
	fmt.Fprintf(w, "%s -> %s (%s)\n", result.Source, result.Destination, result.Algorithm)
	fmt.Fprintf(w, "%d records, %d bytes raw, %d bytes packed (%.2fx)\n",
		result.Records, result.RawSize, result.PackedSize, result.Ratio)
	fmt.Fprintf(w, "digest: %s\n", result.Digest)
	return nil
}
