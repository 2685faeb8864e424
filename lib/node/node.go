// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"sort"
	"strings"
)

// TypeSeparator joins the segments of a type chain.
const TypeSeparator = ":"

// Node is one unit of an object graph: a type chain and a set of named
// values. Values may be nil, booleans, integers, floats, strings, byte
// slices, lists, string-keyed maps, or other nodes.
type Node struct {
	typeChain string
	schema    *Schema
	props     map[string]any
}

// New creates an empty node of the given type chain. The schema may be
// nil, in which case every property follows the dynamic naming
// convention.
func New(typeChain string, schema *Schema) *Node {
	return &Node{
		typeChain: typeChain,
		schema:    schema,
		props:     make(map[string]any),
	}
}

// Type returns the full type chain.
func (n *Node) Type() string {
	return n.typeChain
}

// TypeChain returns the chain segments, most derived first.
func (n *Node) TypeChain() []string {
	return SplitTypeChain(n.typeChain)
}

// Schema returns the node's schema, or nil.
func (n *Node) Schema() *Schema {
	return n.schema
}

// Set assigns a property. Setting a property to nil keeps the name
// with a nil value; use Delete to remove it.
func (n *Node) Set(name string, value any) {
	n.props[name] = value
}

// Get returns a property value and whether it is present.
func (n *Node) Get(name string) (any, bool) {
	value, ok := n.props[name]
	return value, ok
}

// Delete removes a property.
func (n *Node) Delete(name string) {
	delete(n.props, name)
}

// Len returns the number of properties.
func (n *Node) Len() int {
	return len(n.props)
}

// Names returns the property names in sorted order.
func (n *Node) Names() []string {
	names := make([]string, 0, len(n.props))
	for name := range n.props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Policy returns the storage policy for a property: the schema entry
// if the schema declares one, otherwise the dynamic naming convention.
func (n *Node) Policy(name string) Policy {
	if n.schema != nil {
		if policy, ok := n.schema.fields[name]; ok {
			return policy
		}
	}
	return dynamicPolicy(name)
}

// SplitTypeChain splits a colon-joined type chain into segments. Empty
// segments are dropped.
func SplitTypeChain(chain string) []string {
	parts := strings.Split(chain, TypeSeparator)
	segments := parts[:0]
	for _, part := range parts {
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// JoinTypeChain joins segments, most derived first, into a type chain.
func JoinTypeChain(segments ...string) string {
	return strings.Join(segments, TypeSeparator)
}
