// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/streamreplay/lib/codec"
)

// Reply is a successful handler result. Message follows the ok! prefix
// in the response Info.
type Reply struct {
	Message string
	Payload [][]byte
}

// HandlerFunc processes one command. argument is the text after the
// verb's ':' separator, empty when absent. A returned error becomes a
// fail! response carrying the error text.
type HandlerFunc func(ctx context.Context, argument string, payload [][]byte) (Reply, error)

// Server serves the control protocol on a Unix socket. Each connection
// carries exactly one request and one response, then closes.
//
// Verbs are registered with Handle before calling Serve. Unknown verbs
// receive a fail! response.
type Server struct {
	socketPath string
	handlers   map[string]HandlerFunc
	logger     *slog.Logger

	ready chan struct{}

	// activeConnections lets Serve finish writing every in-flight
	// response before it returns, including the reply to TERMINATE.
	activeConnections sync.WaitGroup
}

// NewServer creates a server that will listen on socketPath.
func NewServer(socketPath string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		socketPath: socketPath,
		handlers:   make(map[string]HandlerFunc),
		logger:     logger,
		ready:      make(chan struct{}),
	}
}

// Ready is closed once Serve is accepting connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Handle registers the handler for verb. Panics on a duplicate.
func (s *Server) Handle(verb string, handler HandlerFunc) {
	if _, exists := s.handlers[verb]; exists {
		panic(fmt.Sprintf("control.Server: duplicate handler for verb %q", verb))
	}
	s.handlers[verb] = handler
}

// Serve accepts connections until ctx is cancelled, then stops
// accepting and waits for active handlers to complete.
//
// Any existing socket file at the path is removed before listening.
// The socket file is removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("control socket listening", "path", s.socketPath)
	close(s.ready)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	return nil
}

// readTimeout bounds how long a client may take to send its request.
const readTimeout = 30 * time.Second

// writeTimeout bounds writing the response.
const writeTimeout = 10 * time.Second

// maxRequestSize caps one CBOR request. Requests carry a path, a
// selection or a handful of floats.
const maxRequestSize = 1024 * 1024

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))

	// CBOR is self-delimiting, so no framing is needed.
	var request Request
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&request); err != nil {
		if errors.Is(err, io.EOF) {
			// Readiness probes connect and close without a request.
			return
		}
		s.write(conn, Response{Info: InfoFail + fmt.Sprintf("invalid request: %v", err)})
		return
	}

	verb, argument := request.Verb()
	handler, exists := s.handlers[verb]
	if !exists {
		s.write(conn, Response{Info: InfoFail + fmt.Sprintf("unknown command %q", verb)})
		return
	}

	reply, err := handler(ctx, argument, request.Payload)
	if err != nil {
		s.logger.Debug("command failed", "verb", verb, "error", err)
		s.write(conn, Response{Info: InfoFail + err.Error()})
		return
	}
	s.write(conn, Response{Info: InfoOK + reply.Message, Payload: reply.Payload})
}

// write sends the response. Failures are logged at debug level: the
// connection is closing regardless.
func (s *Server) write(conn net.Conn, response Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}
