// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package node is the in-memory object model: the [Node], a property
// bag tagged with a type chain, plus the two pieces of per-kind
// metadata the serializer needs, the [Schema] and the [Registry].
//
// A type chain names the node's kind and its ancestry, most derived
// first, joined with colons:
//
//	Objects.Geometry.Mesh:Objects.Geometry.Base:Base
//
// The chain is part of the canonical payload, so it participates in
// the record id.
//
// A [Schema] declares, per property name, how the serializer stores the
// value: inline in the parent record (the default), detached into a
// record of its own, or chunked into fixed-size detached pieces. Kinds
// declare their schema once with [NewSchema]; nothing is discovered by
// reflection. Properties without a schema entry follow a naming
// convention instead: a name starting with "@" is detached, and a name
// of the form "@(N)name" is chunked with size N.
//
// A [Registry] maps type discriminators to factories and is how the
// composer turns a stored type chain back into a node. Resolution tries
// the most derived segment first and falls back through the ancestry,
// so a reader that only knows a base kind still gets a usable node.
// The composed node keeps the full stored chain, so decomposing it
// again reproduces the original id.
//
// Nodes are not safe for concurrent mutation. The serializer reads a
// node graph from a single goroutine and the composer finishes building
// each node before publishing it.
package node
