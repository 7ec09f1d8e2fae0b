// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/streamreplay/lib/clock"
	"github.com/bureau-foundation/streamreplay/lib/control"
)

// Options configures Spawn.
type Options struct {
	// Binary is the worker executable.
	Binary string

	// Args are passed to Binary.
	Args []string

	Settings Settings

	// Env is appended to the inherited environment after Settings.
	Env []string

	Clock  clock.Clock
	Logger *slog.Logger

	// ReadyTimeout bounds the wait for the control socket to accept
	// connections. Defaults to 10s.
	ReadyTimeout time.Duration

	// PollInterval is the readiness probe period. Defaults to 50ms.
	PollInterval time.Duration

	// GracePeriod is how long Shutdown waits after TERMINATE and
	// again after SIGTERM. Defaults to 2s.
	GracePeriod time.Duration

	// Stdout and Stderr receive the worker's output. Both default to
	// the controller's stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// Worker is a running replay worker process.
type Worker struct {
	cmd    *exec.Cmd
	client *control.Client
	clock  clock.Clock
	logger *slog.Logger
	grace  time.Duration

	exited  chan struct{}
	waitErr error
}

// Spawn starts a worker in its own process group and waits until its
// control socket accepts connections. If the worker exits or the
// readiness wait fails, the process group is killed.
func Spawn(ctx context.Context, options Options) (*Worker, error) {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.ReadyTimeout <= 0 {
		options.ReadyTimeout = 10 * time.Second
	}
	if options.PollInterval <= 0 {
		options.PollInterval = 50 * time.Millisecond
	}
	if options.GracePeriod <= 0 {
		options.GracePeriod = 2 * time.Second
	}
	if options.Stdout == nil {
		options.Stdout = os.Stderr
	}
	if options.Stderr == nil {
		options.Stderr = os.Stderr
	}
	if err := options.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("worker settings: %w", err)
	}

	cmd := exec.Command(options.Binary, options.Args...)
	cmd.Env = append(append(os.Environ(), options.Settings.Environ()...), options.Env...)
	cmd.Stdout = options.Stdout
	cmd.Stderr = options.Stderr

	// Own process group, so escalation signals reach anything the
	// worker starts as well.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting worker %s: %w", options.Binary, err)
	}

	worker := &Worker{
		cmd:    cmd,
		client: control.NewClient(options.Settings.Socket),
		clock:  options.Clock,
		logger: options.Logger.With("pid", cmd.Process.Pid),
		grace:  options.GracePeriod,
		exited: make(chan struct{}),
	}
	go func() {
		worker.waitErr = cmd.Wait()
		close(worker.exited)
	}()

	if err := worker.waitReady(ctx, options.ReadyTimeout, options.PollInterval); err != nil {
		worker.kill()
		return nil, err
	}
	worker.logger.Info("replay worker ready", "socket", options.Settings.Socket)
	return worker, nil
}

func (w *Worker) waitReady(ctx context.Context, timeout, interval time.Duration) error {
	deadline := w.clock.NewTimer(timeout)
	defer deadline.Stop()
	ticker := w.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := w.client.Ping(ctx); err == nil {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("worker socket %s not ready after %v", w.client.SocketPath(), timeout)
		case <-w.exited:
			return fmt.Errorf("worker exited before becoming ready: %v", w.waitErr)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Client returns a control client for the worker's socket.
func (w *Worker) Client() *control.Client { return w.client }

// Pid returns the worker's process ID, which is also its process
// group ID.
func (w *Worker) Pid() int { return w.cmd.Process.Pid }

// Exited is closed when the worker process has exited.
func (w *Worker) Exited() <-chan struct{} { return w.exited }

// Wait blocks until the worker exits and returns its exit status.
func (w *Worker) Wait() error {
	<-w.exited
	return w.waitErr
}

// Shutdown ends the worker, escalating until it is gone: TERMINATE,
// then SIGTERM to the process group after GracePeriod, then SIGKILL
// after another GracePeriod. It returns once the process has exited.
func (w *Worker) Shutdown(ctx context.Context) error {
	select {
	case <-w.exited:
		return nil
	default:
	}

	requestContext, cancel := context.WithTimeout(ctx, w.grace)
	err := w.client.Terminate(requestContext)
	cancel()
	if err != nil {
		w.logger.Debug("terminate request failed", "error", err)
	}
	if w.waitExit(ctx) {
		return nil
	}

	w.logger.Warn("worker ignored terminate, sending SIGTERM")
	if err := unix.Kill(-w.Pid(), unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		w.logger.Debug("SIGTERM failed", "error", err)
	}
	if w.waitExit(ctx) {
		return nil
	}

	w.logger.Warn("worker ignored SIGTERM, sending SIGKILL")
	w.kill()
	return ctx.Err()
}

// waitExit reports whether the worker exits within the grace period.
func (w *Worker) waitExit(ctx context.Context) bool {
	timer := w.clock.NewTimer(w.grace)
	defer timer.Stop()
	select {
	case <-w.exited:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// kill sends SIGKILL to the process group and waits for the exit.
func (w *Worker) kill() {
	if err := unix.Kill(-w.Pid(), unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		w.logger.Debug("SIGKILL failed", "error", err)
	}
	<-w.exited
}
