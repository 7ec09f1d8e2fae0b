// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

// controlMessage mirrors the shape of a control request: a verb and
// binary payload frames.
type controlMessage struct {
	Command string   `cbor:"command"`
	Payload [][]byte `cbor:"payload,omitempty"`
}

// selection uses json tags, like types also printed by the CLI.
type selection struct {
	Streams []string `json:"streams"`
	Chunk   int      `json:"chunk,omitempty"`
}

func TestMarshalDeterministic(t *testing.T) {
	message := map[string]any{"zeta": 1, "alpha": 2, "mid": []int{3}}

	first, err := Marshal(message)
	if err != nil {
		t.Fatalf("first Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(message)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("deterministic encoding violated: %x != %x", first, again)
		}
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	messages := []controlMessage{
		{Command: "LOAD:/data/session.rec"},
		{Command: "SEEK", Payload: [][]byte{{0, 0, 0, 0, 0, 0, 0xe0, 0x3f}}},
		{Command: "STOP"},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, message := range messages {
		if err := encoder.Encode(message); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range messages {
		var got controlMessage
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode message %d: %v", i, err)
		}
		if got.Command != want.Command || len(got.Payload) != len(want.Payload) {
			t.Errorf("message %d: got %+v, want %+v", i, got, want)
		}
		for frame := range want.Payload {
			if !bytes.Equal(got.Payload[frame], want.Payload[frame]) {
				t.Errorf("message %d frame %d: got %x, want %x", i, frame, got.Payload[frame], want.Payload[frame])
			}
		}
	}
}

func TestJSONTagFallback(t *testing.T) {
	original := selection{Streams: []string{"eeg", "markers"}, Chunk: 8}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded selection
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(decoded.Streams) != 2 || decoded.Streams[1] != "markers" || decoded.Chunk != 8 {
		t.Errorf("json-tag roundtrip mismatch: got %+v", decoded)
	}

	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"streams"`) {
		t.Errorf("notation %q does not use the json tag name", notation)
	}
}

func TestUnmarshalRejectsInvalid(t *testing.T) {
	var message controlMessage
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &message); err == nil {
		t.Error("Unmarshal accepted invalid CBOR")
	}

	// 17 nested arrays exceed MaxNestedLevels.
	deep := append(bytes.Repeat([]byte{0x81}, 17), 0x00)
	var anything any
	if err := Unmarshal(deep, &anything); err == nil {
		t.Error("Unmarshal accepted nesting beyond the limit")
	}
}

func TestDecodeAnyUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"command": "GO"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		t.Errorf("decoded %T, want map[string]any", decoded)
	}
}
