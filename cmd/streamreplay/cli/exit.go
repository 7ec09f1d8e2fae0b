// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError signals a non-zero exit code without an extra error line.
// The command has already written its own output; "inspect --check"
// returning 1 for a truncated recording is the typical case.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code. main checks for this method to tell a
// handled non-zero exit from an error to display.
func (e *ExitError) ExitCode() int {
	return e.Code
}
