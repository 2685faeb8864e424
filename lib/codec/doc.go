// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the objectgraph CBOR encoding configuration.
//
// Every byte that participates in a content hash goes through this
// package. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, shortest
// lossless float encoding, no indefinite-length items. The same
// logical value always produces identical bytes, which is what makes
// two structurally identical subgraphs hash to the same record id.
//
// CBOR is used for three things:
//
//   - Record payloads: the canonical form of one decomposed node.
//   - Record envelopes: payload plus closure, as stored by transports.
//   - Remote transport bodies: batched existence, upload, and
//     download messages.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For stream-oriented operations (download streams, upload batches):
//
//	encoder := codec.NewEncoder(w)
//	decoder := codec.NewDecoder(r)
//
// Values decoded into any use map[string]any for maps and keep
// unregistered tags as [Tag] values, so callers that use private tag
// numbers (the serializer's node, reference, and chunk markers) can
// recognize them after a round trip.
//
// Struct types use `cbor` tags. Wire types that may also be printed by
// the CLI as JSON use `json` tags instead; fxamacker/cbor reads json
// tags as a fallback, so one tag controls both formats. Never use both
// on the same field.
package codec
