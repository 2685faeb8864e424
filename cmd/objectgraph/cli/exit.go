// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import "fmt"

// ExitError ends the process with Code. Commands return it when a
// non-zero status is a normal answer, like "has" finding a record
// missing, and they have already written their output. main prints
// Err when it is set and nothing otherwise.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode implements the interface main checks for.
func (e *ExitError) ExitCode() int { return e.Code }
