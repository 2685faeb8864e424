// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package remotetransport stores records on a remote server over HTTP,
// and provides [Handler], the server side, so any local transport can
// be shared with peers.
//
// The protocol has three batched endpoints under
// /api/v1/namespaces/{namespace}/objects/:
//
//	POST has       CBOR {"ids": [...]}        -> CBOR {"present": [...]}
//	POST upload    zstd CBOR sequence of {"id", "data"} -> CBOR {"stored": n}
//	POST download  CBOR {"ids": [...]}        -> zstd CBOR sequence of {"id", "data"}
//
// Downloads stream: the client hands each record to the caller as it
// arrives, and if the stream breaks it asks again for only the records
// it has not seen yet. The server skips ids it does not hold and
// verifies that every uploaded payload hashes to its id.
//
// The client buffers writes and uploads them in the background in
// batches of at most BatchCount records or BatchBytes bytes, with at
// most MaxInflight uploads at once. WriteComplete waits for every
// upload started before the call. Connection failures, 429, and 5xx
// responses are retried with exponential backoff up to MaxAttempts
// times; anything else, or the last failure, is returned as an
// *object.TransportError.
package remotetransport
