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
	"github.com/bureau-foundation/streamreplay/lib/container"
)

type inspectParams struct {
	cli.JSONOutput
	Check bool `flag:"check" desc:"exit 1 if the recording is truncated or corrupt"`
}

type recordEntry struct {
	Offset int64  `json:"offset"`
	Label  string `json:"label"`
	DType  string `json:"dtype"`
	Shape  []int  `json:"shape"`
	Size   int64  `json:"size"`
}

type inspectResult struct {
	Path    string        `json:"path"`
	Streams []string      `json:"streams"`
	Records []recordEntry `json:"records"`
	Digest  string        `json:"digest,omitempty"`
	Error   string        `json:"error,omitempty"`
}

func inspectCommand() *cli.Command {
	var params inspectParams

	return &cli.Command{
		Name:    "inspect",
		Summary: "List the records of a recording",
		Description: `Walk every record header of a container file without decoding
payloads. Prints one line per record, the distinct stream names in order
of first appearance, and the BLAKE3 digest of the file.

A file that ends in a truncated or corrupt record still lists every
record before the damage. With --check that case exits 1.`,
		Usage: "streamreplay inspect [flags] <recording>",
		Examples: []cli.Example{
			{Description: "List records", Command: "streamreplay inspect session.rec"},
			{Description: "Verify a file in a script", Command: "streamreplay inspect --check --json session.rec"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("inspect", &params)
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected 1 recording path, got %d arguments", len(args))
			}
			return runInspect(stdout, args[0], &params)
		},
	}
}

func runInspect(w io.Writer, path string, params *inspectParams) error {
	result := inspectResult{Path: path}

	records, scanErr := container.Scan(path)
	var formatError *container.FormatError
	if scanErr != nil && !errors.As(scanErr, &formatError) {
		return scanErr
	}
	for _, record := range records {
		result.Records = append(result.Records, recordEntry{
			Offset: record.Offset,
			Label:  record.Label,
			DType:  record.DType.String(),
			Shape:  record.Shape,
			Size:   record.Size,
		})
	}
	if scanErr != nil {
		// StreamNames fails on a damaged file; list what the scan reached.
		result.Error = scanErr.Error()
		seen := make(map[string]bool)
		for _, record := range records {
			if !seen[record.Label] {
				seen[record.Label] = true
				result.Streams = append(result.Streams, record.Label)
			}
		}
	} else {
		names, err := container.StreamNames(path)
		if err != nil {
			return err
		}
		result.Streams = names
		digest, err := container.Digest(path)
		if err != nil {
			return err
		}
		result.Digest = digest
	}

	if done, err := params.EmitJSON(w, result); done {
		if err != nil {
			return err
		}
		return checkResult(params.Check, scanErr)
	}

	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "OFFSET\tSTREAM\tDTYPE\tSHAPE\tBYTES\n")
	for _, record := range result.Records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%v\t%d\n", record.Offset, record.Label, record.DType, record.Shape, record.Size)
	}
	tw.Flush()
	fmt.Fprintf(w, "\n%d records, streams: %v\n", len(result.Records), result.Streams)
	if result.Digest != "" {
		fmt.Fprintf(w, "digest: %s\n", result.Digest)
	}
	if result.Error != "" {
		fmt.Fprintf(w, "error: %s\n", result.Error)
	}
	return checkResult(params.Check, scanErr)
}

func checkResult(check bool, scanErr error) error {
	if check && scanErr != nil {
		return &cli.ExitError{Code: 1}
	}
	return nil
}
