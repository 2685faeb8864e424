// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"fmt"
	"testing"
	"time"
)

// RequireReceive returns the next value from ch, failing the test if
// none arrives within timeout or ch is closed first. what describes the
// awaited event for the failure message and may carry format arguments.
//
//	err := testutil.RequireReceive(t, done, 5*time.Second, "upload of %s", id)
func RequireReceive[T any](t testing.TB, ch <-chan T, timeout time.Duration, what string, args ...any) T {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case value, ok := <-ch:
		if !ok {
			t.Fatalf("%s: channel closed", describe(what, args))
		}
		return value
	case <-timer.C:
		t.Fatalf("%s: nothing received within %v", describe(what, args), timeout)
	}
	panic("unreachable")
}

// RequireClosed waits until ch is closed or yields a value, failing the
// test after timeout.
func RequireClosed[T any](t testing.TB, ch <-chan T, timeout time.Duration, what string, args ...any) {
	t.Helper()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-timer.C:
		t.Fatalf("%s: still open after %v", describe(what, args), timeout)
	}
}

func describe(what string, args []any) string {
	if len(args) == 0 {
		return what
	}
	return fmt.Sprintf(what, args...)
}
