// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/bureau-foundation/streamreplay/lib/codec"
	"github.com/bureau-foundation/streamreplay/lib/replay"
)

// dialTimeout covers only the connect phase.
const dialTimeout = 5 * time.Second

// responseTimeout is the default wait for a response when ctx has no
// deadline. LOAD answers only after the whole recording is read, so
// this is generous.
const responseTimeout = 10 * time.Minute

// maxResponseSize caps one CBOR response.
const maxResponseSize = 16 * 1024 * 1024

// Client talks to a replay worker's control socket. Each call opens a
// new connection, matching the server's one-request-per-connection
// model.
type Client struct {
	socketPath string
}

// NewClient returns a client for the worker listening on socketPath.
func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// SocketPath returns the socket this client dials.
func (c *Client) SocketPath() string { return c.socketPath }

// Call sends request and returns the response. A fail! response is
// returned as a *CommandError; transport errors are returned as plain
// errors.
func (c *Client) Call(ctx context.Context, request Request) (Response, error) {
	verb, _ := request.Verb()
	response, err := c.send(ctx, request)
	if err != nil {
		return Response{}, fmt.Errorf("sending %s to %s: %w", verb, c.socketPath, err)
	}
	if !response.OK() {
		return response, &CommandError{Verb: verb, Message: response.Message()}
	}
	return response, nil
}

func (c *Client) send(ctx context.Context, request Request) (Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return Response{}, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return Response{}, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(responseTimeout)
	}
	conn.SetReadDeadline(deadline)

	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return Response{}, fmt.Errorf("reading response: %w", err)
	}
	return response, nil
}

// Ping connects and closes without sending a request. It succeeds once
// the worker is accepting connections.
func (c *Client) Ping(ctx context.Context) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return err
	}
	return conn.Close()
}

// LoadResult is the decoded reply to LOAD.
type LoadResult struct {
	Timing  replay.Timing
	Streams []StreamInfo
	Digest  string
}

// Load asks the worker to read the recording at path. It blocks until
// the read finishes, fails or is cancelled with CancelLoad.
func (c *Client) Load(ctx context.Context, path string) (LoadResult, error) {
	response, err := c.Call(ctx, Request{Command: VerbLoad + ":" + path})
	if err != nil {
		return LoadResult{}, err
	}
	return decodeLoad(response)
}

func decodeLoad(response Response) (LoadResult, error) {
	// Frames: timing, one per stream, digest, CBOR name list. The Info
	// text repeats the names for people reading raw replies, but a name
	// may itself contain the separator, so only the frame is parsed.
	if len(response.Payload) < 3 {
		return LoadResult{}, fmt.Errorf("LOAD reply carries %d frames, want at least 3", len(response.Payload))
	}
	var names []string
	if err := codec.Unmarshal(response.Payload[len(response.Payload)-1], &names); err != nil {
		return LoadResult{}, fmt.Errorf("LOAD reply stream names: %w", err)
	}
	if len(response.Payload) != len(names)+3 {
		return LoadResult{}, fmt.Errorf("LOAD reply names %d streams but carries %d frames", len(names), len(response.Payload))
	}
	timing, err := decodeTiming(response.Payload, 0)
	if err != nil {
		return LoadResult{}, fmt.Errorf("LOAD reply: %w", err)
	}
	result := LoadResult{Timing: timing, Digest: string(response.Payload[len(names)+1])}
	for i, name := range names {
		values, err := payloadFloats(response.Payload, i+1, 3)
		if err != nil {
			return LoadResult{}, fmt.Errorf("LOAD reply for %q: %w", name, err)
		}
		result.Streams = append(result.Streams, StreamInfo{
			Name:     name,
			Channels: int(values[0]),
			Samples:  int(values[1]),
			Rate:     values[2],
		})
	}
	return result, nil
}

func encodeTiming(timing replay.Timing) []byte {
	return EncodeFloats(timing.Start, timing.End, timing.Total, timing.Offset)
}

func decodeTiming(payload [][]byte, index int) (replay.Timing, error) {
	values, err := payloadFloats(payload, index, 4)
	if err != nil {
		return replay.Timing{}, err
	}
	return replay.Timing{Start: values[0], End: values[1], Total: values[2], Offset: values[3]}, nil
}

// CancelLoad aborts a LOAD in progress.
func (c *Client) CancelLoad(ctx context.Context) error {
	_, err := c.Call(ctx, Request{Command: VerbCancelLoad})
	return err
}

// Go starts playback of the selected streams and returns the timing of
// the selection.
func (c *Client) Go(ctx context.Context, selection Selection) (replay.Timing, error) {
	encoded, err := codec.Marshal(selection)
	if err != nil {
		return replay.Timing{}, fmt.Errorf("encoding selection: %w", err)
	}
	response, err := c.Call(ctx, Request{Command: VerbGo, Payload: [][]byte{encoded}})
	if err != nil {
		return replay.Timing{}, err
	}
	return decodeTiming(response.Payload, 0)
}

// PlayPause toggles playback and reports whether it is now playing.
func (c *Client) PlayPause(ctx context.Context) (bool, error) {
	value, err := c.callFloat(ctx, Request{Command: VerbPlayPause})
	return value == 1, err
}

// Seek moves playback to fraction of its current progress and returns
// the new virtual clock.
func (c *Client) Seek(ctx context.Context, fraction float64) (float64, error) {
	return c.callFloat(ctx, Request{Command: VerbSeek, Payload: [][]byte{EncodeFloats(fraction)}})
}

// VirtualClock returns the playback position in recording seconds.
func (c *Client) VirtualClock(ctx context.Context) (float64, error) {
	return c.callFloat(ctx, Request{Command: VerbVirtualClock})
}

// Performance returns the mean seconds per scheduler step.
func (c *Client) Performance(ctx context.Context) (float64, error) {
	return c.callFloat(ctx, Request{Command: VerbPerformance})
}

// Stop ends playback or an in-progress load.
func (c *Client) Stop(ctx context.Context) error {
	_, err := c.Call(ctx, Request{Command: VerbStop})
	return err
}

// Terminate asks the worker process to exit after replying.
func (c *Client) Terminate(ctx context.Context) error {
	_, err := c.Call(ctx, Request{Command: VerbTerminate})
	return err
}

func (c *Client) callFloat(ctx context.Context, request Request) (float64, error) {
	response, err := c.Call(ctx, request)
	if err != nil {
		return 0, err
	}
	values, err := payloadFloats(response.Payload, 0, 1)
	if err != nil {
		return 0, fmt.Errorf("%s reply: %w", request.Command, err)
	}
	return values[0], nil
}
