// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] encapsulate the timeout safety
// valve pattern (select with time.After fallback) so that individual
// tests do not need direct time.After calls. They are the only place in
// the test suite where real wall-clock timeouts are used; everything
// else that waits on time takes a clock.Clock.
//
// [Logger] returns a logger that writes through t.Log, so log output
// from the code under test appears with the failing test and only with
// -v or on failure.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
