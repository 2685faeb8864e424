// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"fmt"
	"strconv"
	"strings"
)

// Mode selects how the serializer stores a property value.
type Mode uint8

const (
	// Inline stores the value inside the parent record. Nested nodes
	// are embedded, not referenced.
	Inline Mode = iota

	// Detach stores every node found in the value (the value itself,
	// or the nodes inside a list or map value) as a record of its own,
	// referenced from the parent by id.
	Detach

	// Chunk splits a list value into ordered detached chunk records of
	// at most ChunkSize elements each.
	Chunk
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case Inline:
		return "inline"
	case Detach:
		return "detach"
	case Chunk:
		return "chunk"
	default:
		return fmt.Sprintf("unknown(%d)", m)
	}
}

// Policy is the storage policy of one property.
type Policy struct {
	Mode Mode

	// ChunkSize is the maximum number of elements per chunk record.
	// Only meaningful when Mode is Chunk.
	ChunkSize int
}

// Field declares the policy of one named property. Build fields with
// [Inlined], [Detached], and [Chunked].
type Field struct {
	Name   string
	Policy Policy
}

// Inlined declares a property stored inside the parent record. This is
// the default; declaring it explicitly overrides the dynamic naming
// convention for names that start with "@".
func Inlined(name string) Field {
	return Field{Name: name, Policy: Policy{Mode: Inline}}
}

// Detached declares a property whose nodes are stored as separate
// records.
func Detached(name string) Field {
	return Field{Name: name, Policy: Policy{Mode: Detach}}
}

// Chunked declares a list property split into detached chunks of at
// most size elements.
func Chunked(name string, size int) Field {
	return Field{Name: name, Policy: Policy{Mode: Chunk, ChunkSize: size}}
}

// Schema is the serialization schema of one node kind. A Schema is
// immutable once built and may be shared by any number of nodes.
type Schema struct {
	fields map[string]Policy
}

// NewSchema builds a schema from field declarations. It panics on a
// duplicate name or a non-positive chunk size: schemas are declared
// once at package initialization and a bad declaration is a programming
// error.
func NewSchema(fields ...Field) *Schema {
	schema := &Schema{fields: make(map[string]Policy, len(fields))}
	for _, field := range fields {
		if _, exists := schema.fields[field.Name]; exists {
			panic(fmt.Sprintf("node: duplicate schema field %q", field.Name))
		}
		if field.Policy.Mode == Chunk && field.Policy.ChunkSize < 1 {
			panic(fmt.Sprintf("node: field %q chunk size %d must be positive", field.Name, field.Policy.ChunkSize))
		}
		schema.fields[field.Name] = field.Policy
	}
	return schema
}

// Lookup returns the declared policy for a property name.
func (s *Schema) Lookup(name string) (Policy, bool) {
	if s == nil {
		return Policy{}, false
	}
	policy, ok := s.fields[name]
	return policy, ok
}

// dynamicPolicy applies the naming convention for properties the
// schema does not declare: "@name" detaches, "@(N)name" chunks by N.
// A malformed chunk prefix falls back to plain detach.
func dynamicPolicy(name string) Policy {
	if !strings.HasPrefix(name, "@") {
		return Policy{Mode: Inline}
	}
	rest := name[1:]
	if strings.HasPrefix(rest, "(") {
		closing := strings.IndexByte(rest, ')')
		if closing > 1 {
			size, err := strconv.Atoi(rest[1:closing])
			if err == nil && size > 0 {
				return Policy{Mode: Chunk, ChunkSize: size}
			}
		}
	}
	return Policy{Mode: Detach}
}
