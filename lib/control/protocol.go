// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"fmt"
	"strings"

	"github.com/bureau-foundation/streamreplay/lib/tensor"
)

// Command verbs. A command is a verb, optionally followed by ':' and a
// text argument ("LOAD:/data/session.rec").
const (
	VerbLoad         = "LOAD"
	VerbCancelLoad   = "CANCEL_LOAD"
	VerbGo           = "GO"
	VerbPlayPause    = "PLAY_PAUSE"
	VerbSeek         = "SEEK"
	VerbVirtualClock = "VIRTUAL_CLOCK"
	VerbStop         = "STOP"
	VerbPerformance  = "PERFORMANCE_REQUEST"
	VerbTerminate    = "TERMINATE"
)

// Info prefixes. Every response's Info starts with one of these; the
// rest is a verb-specific message or the failure reason.
const (
	InfoOK   = "ok!"
	InfoFail = "fail!"
)

// nameSeparator joins stream names in the Info of a LOAD response. The
// Info is for display; clients read names from the final CBOR frame.
const nameSeparator = "|"

// Request is the single message a client sends per connection.
type Request struct {
	Command string   `cbor:"command"`
	Payload [][]byte `cbor:"payload,omitempty"`
}

// Verb splits Command into its verb and argument.
func (r Request) Verb() (verb, argument string) {
	verb, argument, _ = strings.Cut(r.Command, ":")
	return verb, argument
}

// Response is the single message the server sends back.
type Response struct {
	Info    string   `cbor:"info"`
	Payload [][]byte `cbor:"payload,omitempty"`
}

// OK reports whether the command succeeded.
func (r Response) OK() bool { return strings.HasPrefix(r.Info, InfoOK) }

// Message returns Info without its status prefix.
func (r Response) Message() string {
	if rest, ok := strings.CutPrefix(r.Info, InfoOK); ok {
		return rest
	}
	return strings.TrimPrefix(r.Info, InfoFail)
}

// SessionState is the worker's protocol state. Each verb is valid only
// in some states.
type SessionState int

const (
	StateIdle SessionState = iota
	StateLoading
	StateLoaded
	StatePlaying
	StatePaused
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// ProtocolError is returned for a verb sent in a state that does not
// accept it. The session is unchanged.
type ProtocolError struct {
	Verb  string
	State SessionState
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s not valid while %s", e.Verb, e.State)
}

// CommandError is returned by Client when the worker answers fail!.
type CommandError struct {
	Verb    string
	Message string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("worker rejected %s: %s", e.Verb, e.Message)
}

// Selection picks the streams a GO request plays. An empty Streams
// list plays every loaded stream. ChunkSizes overrides the emission
// chunk size per stream.
type Selection struct {
	Streams    []string       `json:"streams,omitempty"`
	ChunkSizes map[string]int `json:"chunk_sizes,omitempty"`
}

// StreamInfo describes one loaded stream in a LOAD response.
type StreamInfo struct {
	Name     string  `json:"name"`
	Channels int     `json:"channels"`
	Samples  int     `json:"samples"`
	Rate     float64 `json:"rate"`
}

// EncodeFloats packs values as consecutive little-endian float64s.
func EncodeFloats(values ...float64) []byte {
	return tensor.AppendFloat64s(make([]byte, 0, 8*len(values)), values)
}

// DecodeFloats unpacks a frame of exactly count float64s.
func DecodeFloats(frame []byte, count int) ([]float64, error) {
	if len(frame) != 8*count {
		return nil, fmt.Errorf("float frame has %d bytes, want %d", len(frame), 8*count)
	}
	return tensor.Float64s(frame), nil
}

// payloadFloats decodes frame index of payload, which must hold count
// floats.
func payloadFloats(payload [][]byte, index, count int) ([]float64, error) {
	if index >= len(payload) {
		return nil, fmt.Errorf("missing payload frame %d", index)
	}
	return DecodeFloats(payload[index], count)
}
