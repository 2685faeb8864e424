// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serializer

import (
	"fmt"
	"sort"

	"github.com/bureau-foundation/objectgraph/lib/codec"
	"github.com/bureau-foundation/objectgraph/lib/node"
	"github.com/bureau-foundation/objectgraph/lib/object"
)

// maxNesting bounds how deep inline values may nest, in CBOR levels.
// It stays below the decoder limit so every payload the decomposer
// produces can be read back. Self-referential lists and maps, which
// the identity check cannot see, also stop here.
const maxNesting = codec.MaxNestedLevels - 8

// Result is the output of [Decompose].
type Result struct {
	// RootID is the id of the root node's record.
	RootID object.ID

	// Records holds every record of the graph exactly once, children
	// before the parents that reference them. The root record is last.
	Records []*object.Record
}

// Root returns the root record.
func (r *Result) Root() *object.Record {
	return r.Records[len(r.Records)-1]
}

// Decompose converts the graph rooted at root into records. The graph
// must be acyclic: a node that is its own ancestor fails with an error
// wrapping [object.ErrCycle]. A property value the payload cannot
// represent fails with an error wrapping [object.ErrUnsupportedValue].
// Both are reported as *object.SerializationError naming the property
// path.
//
// The same *node.Node reached through several detached properties is
// decomposed once. Structurally equal but distinct nodes produce the
// same record, which appears once in the result.
func Decompose(root *node.Node) (*Result, error) {
	if root == nil {
		return nil, &object.SerializationError{Op: "decompose", Err: fmt.Errorf("%w: nil root", object.ErrUnsupportedValue)}
	}
	d := &decomposer{
		seen:      make(map[object.ID]bool),
		detached:  make(map[*node.Node]detachedNode),
		ancestors: make(map[*node.Node]bool),
	}
	result, err := d.decomposeNode(root, "")
	if err != nil {
		return nil, err
	}
	return &Result{RootID: result.id, Records: d.records}, nil
}

type detachedNode struct {
	id      object.ID
	closure object.Closure
}

type decomposer struct {
	records []*object.Record
	seen    map[object.ID]bool

	// detached memoizes nodes already written as records of their own,
	// keyed by identity.
	detached map[*node.Node]detachedNode

	// ancestors holds the nodes on the current path from the root.
	// Meeting one again means the graph has a cycle.
	ancestors map[*node.Node]bool
}

// decomposeNode writes n as a record of its own and returns its id and
// closure.
func (d *decomposer) decomposeNode(n *node.Node, path string) (detachedNode, error) {
	if done, ok := d.detached[n]; ok {
		return done, nil
	}
	closure := make(object.Closure)
	body, err := d.encodeNode(n, path, closure, 2)
	if err != nil {
		return detachedNode{}, err
	}
	id, err := d.emit(body, closure, path)
	if err != nil {
		return detachedNode{}, err
	}
	result := detachedNode{id: id, closure: closure}
	d.detached[n] = result
	return result, nil
}

// encodeNode builds the payload body of n. References to detached
// children are added to closure, which belongs to the record the body
// ends up in: n's own record, or the record of the node n is inlined
// into.
func (d *decomposer) encodeNode(n *node.Node, path string, closure object.Closure, level int) (map[string]any, error) {
	if n.Type() == "" {
		return nil, &object.SerializationError{Op: "decompose", Path: path, Err: fmt.Errorf("%w: node has empty type chain", object.ErrUnsupportedValue)}
	}
	if d.ancestors[n] {
		return nil, &object.SerializationError{Op: "decompose", Path: path, Err: fmt.Errorf("%w: %s is its own ancestor", object.ErrCycle, n.Type())}
	}
	d.ancestors[n] = true
	defer delete(d.ancestors, n)

	props := make(map[string]any, n.Len())
	for _, name := range n.Names() {
		value, _ := n.Get(name)
		propertyPath := joinPath(path, name)
		policy := n.Policy(name)

		var encoded any
		var err error
		switch policy.Mode {
		case node.Detach:
			encoded, err = d.encodeDetached(value, propertyPath, closure, level+1)
		case node.Chunk:
			encoded, err = d.encodeChunked(value, policy.ChunkSize, propertyPath, closure)
		default:
			encoded, err = d.encodeValue(value, propertyPath, closure, level+1)
		}
		if err != nil {
			return nil, err
		}
		props[name] = encoded
	}
	return nodeBody(n.Type(), props), nil
}

// encodeValue encodes an inline value.
func (d *decomposer) encodeValue(value any, path string, closure object.Closure, level int) (any, error) {
	if level > maxNesting {
		return nil, &object.SerializationError{Op: "decompose", Path: path, Err: fmt.Errorf("%w: nesting deeper than %d levels", object.ErrUnsupportedValue, maxNesting)}
	}
	canonical, err := node.Canonical(value)
	if err != nil {
		return nil, &object.SerializationError{Op: "decompose", Path: path, Err: err}
	}
	switch v := canonical.(type) {
	case *node.Node:
		body, err := d.encodeNode(v, path, closure, level+2)
		if err != nil {
			return nil, err
		}
		return codec.Tag{Number: tagInlineNode, Content: body}, nil
	case []any:
		list := make([]any, len(v))
		for i, element := range v {
			if list[i], err = d.encodeValue(element, indexPath(path, i), closure, level+1); err != nil {
				return nil, err
			}
		}
		return list, nil
	case map[string]any:
		mapping := make(map[string]any, len(v))
		for _, key := range sortedKeys(v) {
			if mapping[key], err = d.encodeValue(v[key], joinPath(path, key), closure, level+1); err != nil {
				return nil, err
			}
		}
		return mapping, nil
	default:
		return canonical, nil
	}
}

// encodeDetached encodes a value under the Detach policy: every node in
// it, directly or inside lists and maps, becomes a reference.
func (d *decomposer) encodeDetached(value any, path string, closure object.Closure, level int) (any, error) {
	if level > maxNesting {
		return nil, &object.SerializationError{Op: "decompose", Path: path, Err: fmt.Errorf("%w: nesting deeper than %d levels", object.ErrUnsupportedValue, maxNesting)}
	}
	canonical, err := node.Canonical(value)
	if err != nil {
		return nil, &object.SerializationError{Op: "decompose", Path: path, Err: err}
	}
	switch v := canonical.(type) {
	case *node.Node:
		child, err := d.decomposeNode(v, path)
		if err != nil {
			return nil, err
		}
		closure.Add(child.id, 1)
		closure.Merge(child.closure, 1)
		return referenceTag(child.id), nil
	case []any:
		list := make([]any, len(v))
		for i, element := range v {
			if list[i], err = d.encodeDetached(element, indexPath(path, i), closure, level+1); err != nil {
				return nil, err
			}
		}
		return list, nil
	case map[string]any:
		mapping := make(map[string]any, len(v))
		for _, key := range sortedKeys(v) {
			if mapping[key], err = d.encodeDetached(v[key], joinPath(path, key), closure, level+1); err != nil {
				return nil, err
			}
		}
		return mapping, nil
	default:
		return canonical, nil
	}
}

// encodeChunked splits a list into chunk records of at most size
// elements and returns the chunked list marker referencing them in
// order. A nil value stays nil; an empty list produces a marker with
// no chunks.
func (d *decomposer) encodeChunked(value any, size int, path string, closure object.Closure) (any, error) {
	canonical, err := node.Canonical(value)
	if err != nil {
		return nil, &object.SerializationError{Op: "decompose", Path: path, Err: err}
	}
	if canonical == nil {
		return nil, nil
	}
	list, ok := canonical.([]any)
	if !ok {
		return nil, &object.SerializationError{Op: "decompose", Path: path, Err: fmt.Errorf("%w: chunked property holds %T, want a list", object.ErrUnsupportedValue, value)}
	}

	references := make([]any, 0, (len(list)+size-1)/size)
	for start := 0; start < len(list); start += size {
		end := min(start+size, len(list))
		chunkPath := fmt.Sprintf("%s[%d:%d]", path, start, end)

		chunkClosure := make(object.Closure)
		data := make([]any, end-start)
		for i := start; i < end; i++ {
			if data[i-start], err = d.encodeValue(list[i], indexPath(path, i), chunkClosure, 4); err != nil {
				return nil, err
			}
		}
		id, err := d.emit(nodeBody(ChunkType, map[string]any{fieldData: data}), chunkClosure, chunkPath)
		if err != nil {
			return nil, err
		}
		closure.Add(id, 1)
		closure.Merge(chunkClosure, 1)
		references = append(references, referenceTag(id))
	}
	return codec.Tag{Number: tagChunkList, Content: references}, nil
}

// emit encodes and hashes a record body and appends the record unless
// an identical one was already emitted.
func (d *decomposer) emit(body map[string]any, closure object.Closure, path string) (object.ID, error) {
	payload, err := codec.Marshal(body)
	if err != nil {
		return "", &object.SerializationError{Op: "encode payload", Path: path, Err: err}
	}
	id := object.HashPayload(payload)
	if d.seen[id] {
		return id, nil
	}
	d.seen[id] = true
	if len(closure) == 0 {
		closure = nil
	}
	d.records = append(d.records, &object.Record{ID: id, Payload: payload, Closure: closure})
	return id, nil
}

func joinPath(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}

func indexPath(path string, index int) string {
	return fmt.Sprintf("%s[%d]", path, index)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
