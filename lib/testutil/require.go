// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"time"
)

// fatalf is the subset of testing.TB the wait helpers need.
type fatalf interface {
	Helper()
	Fatalf(format string, args ...any)
}

// RequireReceive returns the next value from ch, failing the test if
// none arrives within timeout or ch is closed first.
//
//	err := testutil.RequireReceive(t, errs, 10*time.Second, "Run did not return")
func RequireReceive[T any](t fatalf, ch <-chan T, timeout time.Duration, msgAndArgs ...any) T {
	t.Helper()
	deadline := time.NewTimer(timeout) //nolint:realclock test hang prevention
	defer deadline.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed before a value arrived: %s", describe(msgAndArgs))
		}
		return value
	case <-deadline.C:
		t.Fatalf("no value after %v: %s", timeout, describe(msgAndArgs))
	}
	panic("unreachable")
}

// RequireClosed fails the test unless ch is closed (or yields a value)
// within timeout. Exit and readiness channels signal by closing.
func RequireClosed(t fatalf, ch <-chan struct{}, timeout time.Duration, msgAndArgs ...any) {
	t.Helper()
	deadline := time.NewTimer(timeout) //nolint:realclock test hang prevention
	defer deadline.Stop()
	select {
	case <-ch:
	case <-deadline.C:
		t.Fatalf("channel still open after %v: %s", timeout, describe(msgAndArgs))
	}
}

// describe renders the optional message: a plain value, or a format
// string and its arguments.
func describe(msgAndArgs []any) string {
	switch {
	case len(msgAndArgs) == 0:
		return "(no message)"
	case len(msgAndArgs) == 1:
		return fmt.Sprint(msgAndArgs[0])
	}
	if format, ok := msgAndArgs[0].(string); ok {
		return fmt.Sprintf(format, msgAndArgs[1:]...)
	}
	return fmt.Sprint(msgAndArgs...)
}
