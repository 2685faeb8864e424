// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package operations is the application-facing entry point to the
// object graph: [Send] stores a node graph in one or more transports,
// and [Receive] rebuilds one, preferring a local cache.
//
// Send decomposes the graph once and writes every record to every
// transport inside a write batch, then waits for each transport's
// WriteComplete. Only the primary transport must succeed; failures of
// the others are logged and returned in the result.
//
// Receive is local-first. When the local transport already holds the
// root and its whole closure, the graph is composed from it without
// touching the remote. Otherwise the missing records are copied from
// the remote into the local transport with
// [graphcopy.CopyObjectAndChildren] and the graph is composed from the
// local copy. Identical subgraphs have identical ids, so receiving a
// new revision of a graph transfers only the branches that changed.
//
// Each call runs in an OpenTelemetry span and logs under an operation
// id so a send or receive can be followed across transports.
package operations
