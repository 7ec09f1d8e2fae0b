// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/streamreplay/cmd/streamreplay/cli"
	"github.com/bureau-foundation/streamreplay/lib/clock"
	"github.com/bureau-foundation/streamreplay/lib/codec"
	"github.com/bureau-foundation/streamreplay/lib/config"
	"github.com/bureau-foundation/streamreplay/lib/container"
	"github.com/bureau-foundation/streamreplay/lib/control"
	"github.com/bureau-foundation/streamreplay/lib/testutil"
	"github.com/bureau-foundation/streamreplay/lib/worker"
)

var discard = slog.New(slog.DiscardHandler)

// captureStdout redirects command output into a buffer for the rest of
// the test.
func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buffer bytes.Buffer
	previous := stdout
	stdout = &buffer
	t.Cleanup(func() { stdout = previous })
	return &buffer
}

// demoParams is one second of two-channel signal at 100 Hz in records
// of ten samples, with a marker every half second.
func demoParams() generateParams {
	return generateParams{
		Duration:       1,
		Rate:           100,
		Channels:       2,
		DType:          "float32",
		Chunk:          10,
		MarkerInterval: 0.5,
		Seed:           1,
	}
}

func generateDemo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demo.rec")
	var output bytes.Buffer
	if err := runGenerate(&output, path, demoParams(), discard); err != nil {
		t.Fatalf("runGenerate: %v", err)
	}
	return path
}

// truncateCopy copies path without its last few bytes.
func truncateCopy(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	truncated := filepath.Join(t.TempDir(), "truncated.rec")
	if err := os.WriteFile(truncated, data[:len(data)-5], 0644); err != nil {
		t.Fatal(err)
	}
	return truncated
}

func TestGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.rec")
	var output bytes.Buffer
	if err := runGenerate(&output, path, demoParams(), discard); err != nil {
		t.Fatalf("runGenerate: %v", err)
	}
	// Ten signal records plus markers at 0s and 0.5s.
	if !strings.Contains(output.String(), "12 records") || !strings.Contains(output.String(), "100 signal samples, 2 markers") {
		t.Errorf("output = %q", output.String())
	}

	if err := runGenerate(&output, path, demoParams(), discard); err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("second generate error = %v, want already exists", err)
	}

	params := demoParams()
	params.Append = true
	params.Start = 1
	if err := runGenerate(&output, path, params, discard); err != nil {
		t.Fatalf("appending: %v", err)
	}
	buffer, err := container.ReadFile(context.Background(), path, container.ReadOptions{})
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	signal, ok := buffer.Get("signal")
	if !ok || signal.Len() != 200 {
		t.Fatalf("signal = %v, want 200 samples after append", signal)
	}
	if signal.Last() < 1.98 {
		t.Errorf("last timestamp = %v, want the appended second", signal.Last())
	}
}

func TestGenerateDTypes(t *testing.T) {
	for _, dtype := range []string{"float16", "float32", "float64", "int16"} {
		t.Run(dtype, func(t *testing.T) {
			params := demoParams()
			params.DType = dtype
			path := filepath.Join(t.TempDir(), dtype+".rec")
			var output bytes.Buffer
			if err := runGenerate(&output, path, params, discard); err != nil {
				t.Fatalf("runGenerate: %v", err)
			}
			buffer, err := container.ReadFile(context.Background(), path, container.ReadOptions{Only: []string{"signal"}})
			if err != nil {
				t.Fatalf("ReadFile: %v", err)
			}
			signal, ok := buffer.Get("signal")
			if !ok {
				t.Fatal("signal stream missing")
			}
			if got := signal.Data.DType.String(); got != dtype {
				t.Errorf("dtype = %s, want %s", got, dtype)
			}
		})
	}
}

func TestGenerateRejectsBadParams(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*generateParams)
		want   string
	}{
		{"dtype", func(p *generateParams) { p.DType = "complex64" }, "unsupported --dtype"},
		{"duration", func(p *generateParams) { p.Duration = 0 }, "must be positive"},
		{"channels", func(p *generateParams) { p.Channels = 0 }, "must be positive"},
		{"jitter", func(p *generateParams) { p.Jitter = -1 }, "must not be negative"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			params := demoParams()
			test.modify(&params)
			path := filepath.Join(t.TempDir(), "bad.rec")
			var output bytes.Buffer
			err := runGenerate(&output, path, params, discard)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("error = %v, want containing %q", err, test.want)
			}
		})
	}
}

func TestInspect(t *testing.T) {
	path := generateDemo(t)

	var output bytes.Buffer
	if err := runInspect(&output, path, &inspectParams{}); err != nil {
		t.Fatalf("runInspect: %v", err)
	}
	for _, want := range []string{"OFFSET", "12 records", "signal", "markers", "digest: "} {
		if !strings.Contains(output.String(), want) {
			t.Errorf("output missing %q:\n%s", want, output.String())
		}
	}

	output.Reset()
	params := &inspectParams{JSONOutput: cli.JSONOutput{OutputJSON: true}}
	if err := runInspect(&output, path, params); err != nil {
		t.Fatalf("runInspect --json: %v", err)
	}
	var result inspectResult
	if err := json.Unmarshal(output.Bytes(), &result); err != nil {
		t.Fatalf("decoding JSON output: %v", err)
	}
	if len(result.Records) != 12 || len(result.Streams) != 2 || result.Digest == "" || result.Error != "" {
		t.Errorf("result = %+v", result)
	}
	if result.Records[0].Offset != 0 {
		t.Errorf("first record offset = %d", result.Records[0].Offset)
	}
	names, err := container.StreamNames(path)
	if err != nil {
		t.Fatalf("StreamNames: %v", err)
	}
	if strings.Join(result.Streams, ",") != strings.Join(names, ",") {
		t.Errorf("streams = %v, want %v", result.Streams, names)
	}
	if result.Streams[0] != result.Records[0].Label {
		t.Errorf("first stream = %q, want first record label %q", result.Streams[0], result.Records[0].Label)
	}
}

func TestInspectTruncated(t *testing.T) {
	path := truncateCopy(t, generateDemo(t))

	var output bytes.Buffer
	if err := runInspect(&output, path, &inspectParams{}); err != nil {
		t.Fatalf("runInspect without --check: %v", err)
	}
	if !strings.Contains(output.String(), "error: ") || strings.Contains(output.String(), "digest: ") {
		t.Errorf("output = %q", output.String())
	}

	output.Reset()
	params := &inspectParams{JSONOutput: cli.JSONOutput{OutputJSON: true}}
	if err := runInspect(&output, path, params); err != nil {
		t.Fatalf("runInspect --json: %v", err)
	}
	var result inspectResult
	if err := json.Unmarshal(output.Bytes(), &result); err != nil {
		t.Fatalf("decoding JSON output: %v", err)
	}
	if result.Error == "" || len(result.Streams) == 0 {
		t.Errorf("truncated result = %+v, want error and the streams reached", result)
	}

	err := runInspect(&output, path, &inspectParams{Check: true})
	var exitError *cli.ExitError
	if !errors.As(err, &exitError) || exitError.Code != 1 {
		t.Errorf("runInspect --check error = %v, want exit code 1", err)
	}
}

func readJSON(t *testing.T, path string, options container.ReadOptions) (readResult, error) {
	t.Helper()
	var output bytes.Buffer
	err := runRead(context.Background(), &output, path, options, &cli.JSONOutput{OutputJSON: true})
	var result readResult
	if decodeErr := json.Unmarshal(output.Bytes(), &result); decodeErr != nil {
		t.Fatalf("decoding JSON output %q: %v", output.String(), decodeErr)
	}
	return result, err
}

func TestRead(t *testing.T) {
	path := generateDemo(t)

	result, err := readJSON(t, path, container.ReadOptions{})
	if err != nil {
		t.Fatalf("runRead: %v", err)
	}
	if len(result.Streams) != 2 || result.Incomplete {
		t.Fatalf("result = %+v", result)
	}
	for _, summary := range result.Streams {
		switch summary.Name {
		case "signal":
			if summary.DType != "float32" || summary.Samples != 100 || len(summary.Channels) != 1 || summary.Channels[0] != 2 {
				t.Errorf("signal = %+v", summary)
			}
			if summary.Rate < 99 || summary.Rate > 101 {
				t.Errorf("signal rate = %v, want about 100", summary.Rate)
			}
		case "markers":
			if summary.DType != "int32" || summary.Samples != 2 {
				t.Errorf("markers = %+v", summary)
			}
		default:
			t.Errorf("unexpected stream %q", summary.Name)
		}
	}
	if result.Start != 0 || result.End < 0.99 {
		t.Errorf("span = %v .. %v", result.Start, result.End)
	}

	filtered, err := readJSON(t, path, container.ReadOptions{Ignore: []string{"markers"}})
	if err != nil {
		t.Fatalf("runRead --ignore: %v", err)
	}
	if len(filtered.Streams) != 1 || filtered.Streams[0].Name != "signal" {
		t.Errorf("filtered streams = %+v", filtered.Streams)
	}
}

func TestReadTable(t *testing.T) {
	path := generateDemo(t)
	var output bytes.Buffer
	if err := runRead(context.Background(), &output, path, container.ReadOptions{}, &cli.JSONOutput{}); err != nil {
		t.Fatalf("runRead: %v", err)
	}
	for _, want := range []string{"STREAM", "signal", "markers", "span: "} {
		if !strings.Contains(output.String(), want) {
			t.Errorf("output missing %q:\n%s", want, output.String())
		}
	}
}

func TestReadTruncated(t *testing.T) {
	path := truncateCopy(t, generateDemo(t))

	result, err := readJSON(t, path, container.ReadOptions{})
	var formatError *container.FormatError
	if !errors.As(err, &formatError) {
		t.Fatalf("runRead error = %v, want a FormatError", err)
	}
	if !result.Incomplete || len(result.Streams) == 0 {
		t.Errorf("result = %+v, want the streams decoded before the damage", result)
	}
}

func TestReadFiltersOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Read.Ignore = []string{"markers"}
	cfg.Read.IrregularThreshold = 0.3

	options, err := readFilters{}.options(cfg, discard)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if len(options.Ignore) != 1 || options.Jitter.IrregularThreshold != 0.3 || options.RemoveJitter {
		t.Errorf("config options = %+v", options)
	}

	options, err = readFilters{Ignore: []string{"signal"}, RemoveJitter: true, IrregularThreshold: 0.05}.options(cfg, discard)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if options.Ignore[0] != "signal" || options.Jitter.IrregularThreshold != 0.05 || !options.RemoveJitter {
		t.Errorf("flag options = %+v", options)
	}

	if _, err := (readFilters{ReshapeMap: filepath.Join(t.TempDir(), "missing.jsonc")}).options(cfg, discard); err == nil {
		t.Error("options accepted a missing reshape map")
	}
}

func TestPlayRecordSink(t *testing.T) {
	path := generateDemo(t)
	replayed := filepath.Join(t.TempDir(), "replayed.rec")

	var output bytes.Buffer
	options := playback{
		speed:      1000,
		chunkSize:  10,
		sink:       worker.SinkRecord,
		recordPath: replayed,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runPlay(ctx, &output, path, options, clock.Real(), discard); err != nil {
		t.Fatalf("runPlay: %v", err)
	}
	if !strings.Contains(output.String(), "signal: 100 samples, 0 sink failures") {
		t.Errorf("output = %q", output.String())
	}
	if !strings.Contains(output.String(), "markers: 2 samples") {
		t.Errorf("output = %q", output.String())
	}

	buffer, err := container.ReadFile(ctx, replayed, container.ReadOptions{})
	if err != nil {
		t.Fatalf("reading replayed recording: %v", err)
	}
	signal, ok := buffer.Get("signal")
	if !ok || signal.Len() != 100 {
		t.Fatalf("replayed signal = %v, want 100 samples", signal)
	}
}

func TestPlayFiltersAndChunks(t *testing.T) {
	path := generateDemo(t)

	var output bytes.Buffer
	options := playback{
		read:      container.ReadOptions{Only: []string{"markers"}},
		speed:     1000,
		chunkSize: 5,
		sink:      worker.SinkDiscard,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runPlay(ctx, &output, path, options, clock.Real(), discard); err != nil {
		t.Fatalf("runPlay: %v", err)
	}
	if strings.Contains(output.String(), "signal") || !strings.Contains(output.String(), "markers: 2 samples") {
		t.Errorf("output = %q", output.String())
	}

	if err := runPlay(ctx, &output, filepath.Join(t.TempDir(), "missing.rec"), options, clock.Real(), discard); err == nil {
		t.Error("runPlay accepted a missing recording")
	}
}

func TestOrDefault(t *testing.T) {
	if got := orDefault(0.0, 2.5); got != 2.5 {
		t.Errorf("orDefault(0, 2.5) = %v", got)
	}
	if got := orDefault("record", "log"); got != "record" {
		t.Errorf("orDefault(record, log) = %v", got)
	}
}

func TestSelectionBuild(t *testing.T) {
	selectionFile := filepath.Join(t.TempDir(), "selection.jsonc")
	if err := os.WriteFile(selectionFile, []byte(`{
		// play the signal only
		"streams": ["signal"],
		"chunk_sizes": {"signal": 4},
	}`), 0644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		params  selectionParams
		streams []string
		chunks  map[string]int
		wantErr string
	}{
		{name: "empty", params: selectionParams{}},
		{name: "flags", params: selectionParams{Streams: []string{"eeg"}, ChunkSizes: []string{"eeg=8"}}, streams: []string{"eeg"}, chunks: map[string]int{"eeg": 8}},
		{name: "file", params: selectionParams{Selection: selectionFile}, streams: []string{"signal"}, chunks: map[string]int{"signal": 4}},
		{name: "flags override file", params: selectionParams{Selection: selectionFile, Streams: []string{"markers"}, ChunkSizes: []string{"signal=16"}}, streams: []string{"markers"}, chunks: map[string]int{"signal": 16}},
		{name: "missing equals", params: selectionParams{ChunkSizes: []string{"eeg"}}, wantErr: "want name=samples"},
		{name: "zero size", params: selectionParams{ChunkSizes: []string{"eeg=0"}}, wantErr: "want name=samples"},
		{name: "missing file", params: selectionParams{Selection: selectionFile + ".missing"}, wantErr: "reading selection"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			selection, err := test.params.build()
			if test.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), test.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, test.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if strings.Join(selection.Streams, ",") != strings.Join(test.streams, ",") {
				t.Errorf("Streams = %v, want %v", selection.Streams, test.streams)
			}
			if len(selection.ChunkSizes) != len(test.chunks) {
				t.Errorf("ChunkSizes = %v, want %v", selection.ChunkSizes, test.chunks)
			}
			for name, size := range test.chunks {
				if selection.ChunkSizes[name] != size {
					t.Errorf("ChunkSizes[%s] = %d, want %d", name, selection.ChunkSizes[name], size)
				}
			}
		})
	}
}

func TestPrintRaw(t *testing.T) {
	encoded, err := codec.Marshal(map[string]int{"samples": 5})
	if err != nil {
		t.Fatal(err)
	}
	var output bytes.Buffer
	printRaw(&output, control.Response{
		Info:    "ok!",
		Payload: [][]byte{encoded, {0xff, 0x01}},
	})
	lines := strings.Split(strings.TrimSpace(output.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("output = %q", output.String())
	}
	if lines[0] != "ok!" || !strings.Contains(lines[1], `"samples": 5`) || lines[2] != "[1] ff01" {
		t.Errorf("lines = %q", lines)
	}
}

// startWorker serves a session in-process and returns its socket.
func startWorker(t *testing.T) string {
	t.Helper()
	socket := testutil.SocketPath(t, "commands")
	settings := worker.Settings{
		Socket:             socket,
		Speed:              1,
		ChunkSize:          1,
		Sink:               worker.SinkDiscard,
		IrregularThreshold: 0.1,
	}
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- worker.Run(ctx, settings, discard) }()
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive(t, errs, 10*time.Second, "worker did not stop")
	})

	client := control.NewClient(socket)
	deadline := time.Now().Add(5 * time.Second)
	for client.Ping(context.Background()) != nil {
		if time.Now().After(deadline) {
			t.Fatal("worker socket never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return socket
}

func execute(t *testing.T, output *bytes.Buffer, args ...string) (string, error) {
	t.Helper()
	output.Reset()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := Root().Execute(ctx, args)
	return output.String(), err
}

func TestWorkerCommands(t *testing.T) {
	t.Setenv("STREAMREPLAY_CONFIG", "")
	path := generateDemo(t)
	socket := startWorker(t)
	output := captureStdout(t)

	text, err := execute(t, output, "worker", "load", "--socket", socket, path)
	if err != nil {
		t.Fatalf("worker load: %v", err)
	}
	if !strings.Contains(text, "signal") || !strings.Contains(text, "digest") {
		t.Errorf("load output = %q", text)
	}

	if text, err = execute(t, output, "worker", "clock", "--socket", socket); err == nil {
		t.Errorf("clock before go = %q, want an error", text)
	}

	if text, err = execute(t, output, "worker", "go", "--socket", socket, "--streams", "signal", "--chunk", "signal=10"); err != nil {
		t.Fatalf("worker go: %v", err)
	}
	if !strings.HasPrefix(text, "playing ") {
		t.Errorf("go output = %q", text)
	}

	if text, err = execute(t, output, "worker", "pause", "--socket", socket); err != nil || strings.TrimSpace(text) != "paused" {
		t.Errorf("pause = %q, %v", text, err)
	}
	if text, err = execute(t, output, "worker", "clock", "--socket", socket); err != nil || text == "" {
		t.Errorf("clock = %q, %v", text, err)
	}
	if _, err = execute(t, output, "worker", "seek", "--socket", socket, "0.5"); err != nil {
		t.Errorf("seek: %v", err)
	}
	if text, err = execute(t, output, "worker", "pause", "--socket", socket); err != nil || strings.TrimSpace(text) != "playing" {
		t.Errorf("second pause = %q, %v", text, err)
	}

	if text, err = execute(t, output, "worker", "raw", "--socket", socket, "NOT_A_VERB"); err != nil || !strings.HasPrefix(text, "fail!") {
		t.Errorf("raw unknown verb = %q, %v", text, err)
	}
	if text, err = execute(t, output, "worker", "perf", "--socket", socket); err != nil || !strings.Contains(text, "per step") {
		t.Errorf("perf = %q, %v", text, err)
	}
	if _, err = execute(t, output, "worker", "stop", "--socket", socket); err != nil {
		t.Errorf("stop: %v", err)
	}
	if _, err = execute(t, output, "worker", "terminate", "--socket", socket); err != nil {
		t.Errorf("terminate: %v", err)
	}
}

func TestDrive(t *testing.T) {
	path := generateDemo(t)
	socket := startWorker(t)

	var output bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	err := drive(ctx, &output, control.NewClient(socket), path, control.Selection{}, clock.Real(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("drive: %v", err)
	}
	if !strings.Contains(output.String(), "playback finished") {
		t.Errorf("output = %q", output.String())
	}
}

func TestRootRejectsUnknownCommand(t *testing.T) {
	output := captureStdout(t)
	if _, err := execute(t, output, "plya"); err == nil || !strings.Contains(err.Error(), "play") {
		t.Errorf("error = %v, want a suggestion for play", err)
	}
}

func TestArchivePackUnpack(t *testing.T) {
	source := generateDemo(t)
	digest, err := container.Digest(source)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	var output bytes.Buffer
	if err := runPack(&output, source, archivePackParams{Compression: "lz4"}, discard); err != nil {
		t.Fatalf("runPack: %v", err)
	}
	if !strings.Contains(output.String(), "digest: "+digest) || !strings.Contains(output.String(), "12 records") {
		t.Errorf("pack output = %q", output.String())
	}
	if err := os.Remove(source); err != nil {
		t.Fatal(err)
	}

	output.Reset()
	params := archiveUnpackParams{JSONOutput: cli.JSONOutput{OutputJSON: true}}
	if err := runUnpack(&output, source+".lz4", params); err != nil {
		t.Fatalf("runUnpack: %v", err)
	}
	var result archiveResult
	if err := json.Unmarshal(output.Bytes(), &result); err != nil {
		t.Fatalf("decoding JSON output: %v", err)
	}
	if result.Destination != source || result.Digest != digest || result.Algorithm != "lz4" {
		t.Errorf("unpack result = %+v", result)
	}
	if restored, err := container.Digest(source); err != nil || restored != digest {
		t.Errorf("restored digest = %s, %v", restored, err)
	}

	if err := runUnpack(&output, source, archiveUnpackParams{}); err == nil || !strings.Contains(err.Error(), "--output") {
		t.Errorf("unpack without a known suffix: %v", err)
	}
	if err := runPack(&output, source, archivePackParams{Compression: "gzip"}, discard); err == nil {
		t.Error("runPack accepted an unknown compression")
	}
}
