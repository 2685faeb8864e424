// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the objectgraph
// command.
//
// [Version], [GitCommit], [GitDirty], and [BuildTime] are injected at
// build time with -ldflags -X:
//
//	go build -ldflags "-X github.com/bureau-foundation/objectgraph/lib/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/objectgraph
//
// A binary built without them (go install, go run, tests) falls back to
// the VCS stamp the Go toolchain records in the binary, so the commit
// is still known when the module was built from a checkout.
package version
