// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package object defines the immutable persistence unit of an object
// graph: the [Record]. Everything above this package (serializer,
// transports, copy, send/receive) speaks in records and ids.
//
// A record is the canonical CBOR payload of one decomposed node, its
// [ID], and, when the node has detached descendants, a [Closure]
// mapping every transitively reachable descendant id to its minimum
// depth. The id is a BLAKE3 keyed hash of the payload bytes under a
// fixed domain key, rendered as 64 lowercase hex characters. Identical
// payloads always produce identical ids, so records deduplicate across
// graphs, sends, and machines.
//
// Transports store records as opaque bytes keyed by id. The stored
// form is the record envelope produced by [Record.Encode]: payload
// plus closure. The id is the storage key and is not repeated inside
// the envelope; [DecodeRecord] takes it back from the caller.
//
// The package also owns the error taxonomy shared by every layer:
// [SerializationError], [DeserializationError], [TransportError], and
// [CancellationError], each carrying the operation name and the
// offending id (or property path, when no id exists yet), and each
// unwrapping to a sentinel cause such as [ErrNotFound] or [ErrCycle].
package object
