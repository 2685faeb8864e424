// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"log/slog"
	"testing"
)

// Logger returns a debug-level text logger whose output goes to t.Log.
// Records logged after the test finishes are dropped.
func Logger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&testWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct {
	t testing.TB
}

func (w *testWriter) Write(p []byte) (int, error) {
	// t.Log after the test completes panics.
	defer func() { _ = recover() }()
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}
