// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

// recorder captures Fatalf instead of failing. Fatalf panics so the
// helper under test stops like it would after runtime.Goexit.
type recorder struct{ message string }

func (r *recorder) Helper() {}

func (r *recorder) Fatalf(format string, args ...any) {
	r.message = fmt.Sprintf(format, args...)
	panic(r)
}

func expectFatal(t *testing.T, run func(*recorder)) string {
	t.Helper()
	r := &recorder{}
	func() {
		defer func() {
			if recovered := recover(); recovered != r {
				t.Fatalf("recovered %v, want a Fatalf", recovered)
			}
		}()
		run(r)
	}()
	return r.message
}

func TestRequireReceive(t *testing.T) {
	ch := make(chan int, 1)
	ch <- 7
	if got := RequireReceive(t, ch, time.Second); got != 7 {
		t.Errorf("RequireReceive = %d, want 7", got)
	}

	message := expectFatal(t, func(r *recorder) {
		RequireReceive(r, make(chan int), 10*time.Millisecond, "waiting for %s", "exit")
	})
	if !strings.Contains(message, "waiting for exit") {
		t.Errorf("timeout message = %q", message)
	}

	closed := make(chan int)
	close(closed)
	message = expectFatal(t, func(r *recorder) {
		RequireReceive(r, closed, time.Second)
	})
	if !strings.Contains(message, "closed") {
		t.Errorf("closed message = %q", message)
	}
}

func TestRequireClosed(t *testing.T) {
	done := make(chan struct{})
	close(done)
	RequireClosed(t, done, time.Second, "closed channel")

	message := expectFatal(t, func(r *recorder) {
		RequireClosed(r, make(chan struct{}), 10*time.Millisecond)
	})
	if !strings.Contains(message, "(no message)") {
		t.Errorf("message = %q", message)
	}
}

func TestSocketPath(t *testing.T) {
	first := SocketPath(t, "worker")
	second := SocketPath(t, "worker")
	if first == second {
		t.Errorf("SocketPath returned %s twice", first)
	}
	if len(first) >= 108 || !strings.HasPrefix(first, os.TempDir()) && !strings.HasPrefix(first, "/tmp") {
		t.Errorf("SocketPath = %s", first)
	}
	if !strings.HasSuffix(first, ".sock") {
		t.Errorf("SocketPath = %s, want a .sock suffix", first)
	}
}

func TestUniqueID(t *testing.T) {
	if UniqueID("rec") == UniqueID("rec") {
		t.Error("UniqueID repeated")
	}
}
