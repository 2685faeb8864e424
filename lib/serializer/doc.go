// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package serializer converts between node graphs and record sets.
//
// [Decompose] walks a node graph depth first and emits one record per
// detached node and per chunk, children before parents, the root last.
// Each property is stored according to its policy (see package node):
// inline values are encoded in place, detached nodes are replaced by a
// reference to their own record, and chunked lists are split into
// fixed-size DataChunk records referenced in order. A parent is hashed
// only after all of its children, so its payload already contains
// their ids and two structurally identical subgraphs always produce
// the same records.
//
// The payload of a record is deterministic CBOR of
//
//	{"type": <type chain>, "props": {<name>: <value>, ...}}
//
// Values that are not plain data are wrapped in private CBOR tags so
// they can never be confused with user maps:
//
//	51001  inline node        {"type": ..., "props": ...}
//	51002  detached reference {"referencedId": <id>}
//	51003  chunked list       [<51002 reference>, ...]
//
// A [Composer] reverses the process: it fetches the root record from
// one or more sources, verifies its hash, instantiates the node through
// a [node.Registry], and resolves every reference concurrently. In
// tolerant mode a branch that cannot be resolved becomes nil and is
// reported through a callback while its siblings complete normally.
//
// [References] lists the ids a payload points to without building any
// nodes. The copy orchestrator uses it to discover a graph when a root
// record carries no closure.
package serializer
