// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bureau-foundation/streamreplay/lib/container"
	"github.com/bureau-foundation/streamreplay/lib/stream"
	"github.com/bureau-foundation/streamreplay/lib/tensor"
)

// writeRecording writes 20 records of a slow ramp, which compresses
// well.
func writeRecording(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ramp.rec")
	writer, err := container.OpenWriter(path, nil)
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	defer writer.Close()
	for record := range 20 {
		values := make([]float32, 4*16)
		timestamps := make([]float64, 16)
		for i := range 16 {
			timestamps[i] = float64(record*16+i) / 256
			for c := range 4 {
				values[c*16+i] = float32(record)
			}
		}
		data, err := tensor.FromSlice(values, 4, 16)
		if err != nil {
			t.Fatalf("FromSlice: %v", err)
		}
		if _, err := writer.Write(map[string]stream.Chunk{"ramp": {Data: data, Timestamps: timestamps}}); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	return path
}

func TestPackUnpackRoundTrip(t *testing.T) {
	source := writeRecording(t)
	original, err := os.ReadFile(source)
	if err != nil {
		t.Fatal(err)
	}
	digest, err := container.Digest(source)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}

	for _, algorithm := range []Algorithm{Zstd, LZ4} {
		t.Run(algorithm.String(), func(t *testing.T) {
			directory := t.TempDir()
			packed := filepath.Join(directory, "ramp.rec"+algorithm.Extension())
			result, err := Pack(source, packed, algorithm)
			if err != nil {
				t.Fatalf("Pack: %v", err)
			}
			if result.Records != 20 || result.RawSize != int64(len(original)) || result.Digest != digest {
				t.Errorf("Pack result = %+v", result)
			}
			if result.PackedSize >= result.RawSize || result.Ratio() <= 1 {
				t.Errorf("packed %d bytes from %d", result.PackedSize, result.RawSize)
			}
			info, err := os.Stat(packed)
			if err != nil {
				t.Fatalf("stat packed file: %v", err)
			}
			if info.Size() != result.PackedSize {
				t.Errorf("packed file is %d bytes, want %d", info.Size(), result.PackedSize)
			}

			restored := filepath.Join(directory, "restored.rec")
			unpacked, err := Unpack(packed, restored)
			if err != nil {
				t.Fatalf("Unpack: %v", err)
			}
			if unpacked.Algorithm != algorithm || unpacked.Digest != digest || unpacked.Records != 20 {
				t.Errorf("Unpack result = %+v", unpacked)
			}
			data, err := os.ReadFile(restored)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(data, original) {
				t.Error("restored recording differs from the source")
			}
		})
	}
}

func TestPackRefusesDamagedRecording(t *testing.T) {
	source := writeRecording(t)
	data, err := os.ReadFile(source)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(source, data[:len(data)-3], 0644); err != nil {
		t.Fatal(err)
	}
	destination := filepath.Join(t.TempDir(), "damaged.zst")
	if _, err := Pack(source, destination, Zstd); err == nil || !strings.Contains(err.Error(), "refusing to pack") {
		t.Fatalf("Pack error = %v", err)
	}
	if _, err := os.Stat(destination); !os.IsNotExist(err) {
		t.Errorf("destination exists after a refused pack: %v", err)
	}
}

func TestUnpackRejectsBadInput(t *testing.T) {
	directory := t.TempDir()
	packed := filepath.Join(directory, "ramp.zst")
	if _, err := Pack(writeRecording(t), packed, Zstd); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	data, err := os.ReadFile(packed)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		content []byte
		want    string
	}{
		{"empty", nil, "not a packed recording"},
		{"raw recording", []byte("0123456789abcdef"), "not a packed recording"},
		{"truncated frame", data[:len(data)/2], "decompressing"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			source := filepath.Join(directory, strings.ReplaceAll(test.name, " ", "-")+".zst")
			if err := os.WriteFile(source, test.content, 0644); err != nil {
				t.Fatal(err)
			}
			destination := filepath.Join(directory, "out-"+strings.ReplaceAll(test.name, " ", "-")+".rec")
			_, err := Unpack(source, destination)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Fatalf("Unpack error = %v, want containing %q", err, test.want)
			}
			if _, err := os.Stat(destination); !os.IsNotExist(err) {
				t.Errorf("destination exists after a failed unpack: %v", err)
			}
		})
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		name    string
		want    Algorithm
		wantErr bool
	}{
		{"zstd", Zstd, false},
		{"zst", Zstd, false},
		{"lz4", LZ4, false},
		{"gzip", 0, true},
	}
	for _, test := range tests {
		got, err := ParseAlgorithm(test.name)
		if (err != nil) != test.wantErr || got != test.want {
			t.Errorf("ParseAlgorithm(%q) = %v, %v", test.name, got, err)
		}
	}
}

func TestDetect(t *testing.T) {
	if algorithm, err := Detect([]byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}); err != nil || algorithm != Zstd {
		t.Errorf("Detect(zstd magic) = %v, %v", algorithm, err)
	}
	if algorithm, err := Detect([]byte{0x04, 0x22, 0x4d, 0x18}); err != nil || algorithm != LZ4 {
		t.Errorf("Detect(lz4 magic) = %v, %v", algorithm, err)
	}
	if _, err := Detect([]byte{0x28}); err == nil {
		t.Error("Detect accepted a one-byte header")
	}
}
