// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"

	"github.com/spf13/pflag"
	"github.com/x448/float16"

	"github.com/bureau-foundation/streamreplay/cmd/streamreplay/cli"
	"github.com/bureau-foundation/streamreplay/lib/container"
	"github.com/bureau-foundation/streamreplay/lib/stream"
	"github.com/bureau-foundation/streamreplay/lib/tensor"
)

type generateParams struct {
	Duration       float64 `flag:"duration"        desc:"recording length in seconds" default:"10"`
	Rate           float64 `flag:"rate"            desc:"signal sampling rate in Hz" default:"256"`
	Channels       int     `flag:"channels"        desc:"signal channel count" default:"8"`
	DType          string  `flag:"dtype"           desc:"signal dtype: float16, float32, float64 or int16" default:"float32"`
	Chunk          int     `flag:"chunk"           desc:"signal samples per record" default:"32"`
	MarkerInterval float64 `flag:"marker-interval" desc:"seconds between marker events, 0 for none" default:"1"`
	Jitter         float64 `flag:"jitter"          desc:"standard deviation of timestamp noise in seconds"`
	Start          float64 `flag:"start"           desc:"timestamp of the first sample"`
	Seed           int64   `flag:"seed"            desc:"random seed for timestamp noise" default:"1"`
	Append         bool    `flag:"append"          desc:"append to an existing file instead of failing"`
}

func generateCommand() *cli.Command {
	var params generateParams

	return &cli.Command{
		Name:    "generate",
		Summary: "Write a synthetic recording",
		Description: `Write a demo recording with two streams the way a live recorder would:
interleaved records of a few samples each.

  signal   sine waves at 1 Hz, 2 Hz, ... per channel at --rate
  markers  one int32 event counter every --marker-interval seconds

--jitter adds Gaussian noise to signal timestamps so that
"read --remove-jitter" has something to correct.`,
		Usage: "streamreplay generate [flags] <recording>",
		Examples: []cli.Example{
			{Description: "Ten seconds of 8-channel data", Command: "streamreplay generate demo.rec"},
			{Description: "Noisy float16 timestamps", Command: "streamreplay generate --dtype float16 --jitter 0.0005 noisy.rec"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("generate", &params)
		},
		Run: func(_ context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected 1 output path, got %d arguments", len(args))
			}
			return runGenerate(stdout, args[0], params, logger)
		},
	}
}

func runGenerate(w io.Writer, path string, params generateParams, logger *slog.Logger) error {
	if params.Duration <= 0 || params.Rate <= 0 || params.Channels < 1 || params.Chunk < 1 {
		return fmt.Errorf("--duration, --rate, --channels and --chunk must be positive")
	}
	if params.MarkerInterval < 0 || params.Jitter < 0 {
		return fmt.Errorf("--marker-interval and --jitter must not be negative")
	}
	encode, err := signalEncoder(params.DType)
	if err != nil {
		return err
	}
	if !params.Append {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --append to extend it)", path)
		}
	}

	writer, err := container.OpenWriter(path, logger)
	if err != nil {
		return err
	}
	defer writer.Close()

	random := rand.New(rand.NewPCG(uint64(params.Seed), uint64(params.Seed)^0x9e3779b97f4a7c15))
	period := 1 / params.Rate
	total := int(math.Round(params.Duration * params.Rate))
	nextMarker := 0

	var written, records int
	for from := 0; from < total; from += params.Chunk {
		n := min(params.Chunk, total-from)
		values := make([]float64, params.Channels*n)
		timestamps := make([]float64, n)
		for i := range n {
			t := float64(from+i) * period
			timestamps[i] = params.Start + t + random.NormFloat64()*params.Jitter
			for c := range params.Channels {
				values[c*n+i] = math.Sin(2 * math.Pi * float64(c+1) * t)
			}
		}
		data, err := encode(values, params.Channels, n)
		if err != nil {
			return err
		}
		batch := map[string]stream.Chunk{"signal": {Data: data, Timestamps: timestamps}}

		// Markers due before the end of this chunk go in the same batch.
		if params.MarkerInterval > 0 {
			limit := float64(from+n) * period
			var markerValues []int32
			var markerTimes []float64
			for float64(nextMarker)*params.MarkerInterval < limit {
				markerValues = append(markerValues, int32(nextMarker))
				markerTimes = append(markerTimes, params.Start+float64(nextMarker)*params.MarkerInterval)
				nextMarker++
			}
			if len(markerValues) > 0 {
				markers, err := tensor.FromSlice(markerValues, 1, len(markerValues))
				if err != nil {
					return err
				}
				batch["markers"] = stream.Chunk{Data: markers, Timestamps: markerTimes}
			}
		}

		size, err := writer.Write(batch)
		if err != nil {
			return err
		}
		written += size
		records += len(batch)
	}

	if err := writer.Close(); err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote %s: %d records, %d bytes, %d signal samples, %d markers\n",
		path, records, written, total, nextMarker)
	return nil
}

// signalEncoder returns a function packing row-major float64 values
// into an array of the named dtype.
func signalEncoder(dtype string) (func(values []float64, channels, samples int) (tensor.Array, error), error) {
	switch dtype {
	case "float64":
		return func(values []float64, channels, samples int) (tensor.Array, error) {
			return tensor.FromSlice(values, channels, samples)
		}, nil
	case "float32":
		return func(values []float64, channels, samples int) (tensor.Array, error) {
			narrowed := make([]float32, len(values))
			for i, value := range values {
				narrowed[i] = float32(value)
			}
			return tensor.FromSlice(narrowed, channels, samples)
		}, nil
	case "int16":
		// Microvolt-style fixed point.
		return func(values []float64, channels, samples int) (tensor.Array, error) {
			fixed := make([]int16, len(values))
			for i, value := range values {
				fixed[i] = int16(math.Round(value * 1000))
			}
			return tensor.FromSlice(fixed, channels, samples)
		}, nil
	case "float16":
		return func(values []float64, channels, samples int) (tensor.Array, error) {
			data := make([]byte, 0, 2*len(values))
			for _, value := range values {
				data = binary.LittleEndian.AppendUint16(data, float16.Fromfloat32(float32(value)).Bits())
			}
			return tensor.FromBytes(tensor.Float16, []int{channels, samples}, data)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported --dtype %q (want float16, float32, float64 or int16)", dtype)
	}
}
