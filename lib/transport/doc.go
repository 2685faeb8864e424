// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport defines the storage contract for object graph
// records and the in-memory implementation used by tests and as a
// throwaway cache.
//
// A [Transport] is a key-value store of record envelopes keyed by
// [object.ID]. Because keys are content hashes, saving is an idempotent
// upsert: two writers can never disagree about the bytes behind an id,
// so backends never need conflict resolution. Stores only grow.
//
// Writes may be buffered. [Transport.BeginWrite] and
// [Transport.EndWrite] bracket a logical batch; batches nest and may
// interleave across goroutines, and the outermost EndWrite flushes.
// [Transport.WriteComplete] is the durability barrier: when it returns
// nil, every write issued before the call is durable. Reads always see
// the caller's own earlier writes, flushed or not.
//
// Backends live in subpackages: disktransport (one file per record),
// sqlitetransport (indexed local cache), remotetransport (HTTP), and
// redistransport. The shared building blocks for them are here:
// [Batch] for nesting depth, [PendingWrites] for read-your-writes
// buffering, and [OpenObject] for streaming reads from any backend.
package transport
