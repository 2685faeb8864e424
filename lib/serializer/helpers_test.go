// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serializer

import (
	"context"
	"sync"
	"testing"

	"github.com/bureau-foundation/objectgraph/lib/codec"
	"github.com/bureau-foundation/objectgraph/lib/node"
	"github.com/bureau-foundation/objectgraph/lib/object"
)

var (
	meshSchema       = node.NewSchema(node.Chunked("vertices", 4), node.Detached("material"))
	collectionSchema = node.NewSchema(node.Detached("elements"))
)

func testRegistry(t *testing.T) *node.Registry {
	t.Helper()
	registry := node.NewRegistry()
	kinds := []struct {
		chain  string
		schema *node.Schema
	}{
		{"Objects.Mesh:Base", meshSchema},
		{"Objects.Collection:Base", collectionSchema},
		{"Objects.Material:Base", nil},
		{"Base", nil},
	}
	for _, kind := range kinds {
		if err := registry.RegisterKind(kind.chain, kind.schema); err != nil {
			t.Fatalf("RegisterKind(%q): %v", kind.chain, err)
		}
	}
	return registry
}

func newMaterial(name string) *node.Node {
	material := node.New("Objects.Material:Base", nil)
	material.Set("name", name)
	material.Set("opacity", 0.75)
	return material
}

func newMesh(name string, vertexCount int, material *node.Node) *node.Node {
	mesh := node.New("Objects.Mesh:Base", meshSchema)
	mesh.Set("name", name)
	vertices := make([]float64, vertexCount)
	for i := range vertices {
		vertices[i] = float64(i) * 0.5
	}
	mesh.Set("vertices", vertices)
	mesh.Set("material", material)
	return mesh
}

// sampleGraph exercises every storage policy: inline nodes, detached
// nodes and lists, a shared detached node, schema and dynamic chunking,
// and assorted leaf types.
func sampleGraph() *node.Node {
	concrete := newMaterial("concrete")

	origin := node.New("Objects.Point:Base", nil)
	origin.Set("x", -1.5)
	origin.Set("y", 0.0)
	origin.Set("z", 12)

	note := node.New("Objects.Note:Base", nil)
	note.Set("text", "check clearance")

	root := node.New("Objects.Collection:Base", collectionSchema)
	root.Set("name", "level 1")
	root.Set("elements", []*node.Node{
		newMesh("slab", 10, concrete),
		newMesh("beam", 3, concrete),
	})
	root.Set("origin", origin)
	root.Set("metadata", map[string]any{
		"author":   "ada",
		"revision": 7,
		"tags":     []string{"structural", "draft"},
		"blob":     []byte{0, 1, 2},
		"huge":     uint64(1) << 63,
	})
	root.Set("@annotations", []any{note, "plain"})
	root.Set("@(2)history", []int{1, 2, 3, 4, 5})
	root.Set("missing", nil)
	return root
}

func mustDecompose(t *testing.T, root *node.Node) *Result {
	t.Helper()
	result, err := Decompose(root)
	if err != nil {
		t.Fatalf("Decompose: %v", err)
	}
	return result
}

// recordSource is an in-memory Source with per-id failure injection.
type recordSource struct {
	mu          sync.Mutex
	records     map[object.ID][]byte
	failures    map[object.ID]error
	gets        int
	inflight    int
	maxInflight int
}

func newRecordSource(t *testing.T, records ...*object.Record) *recordSource {
	t.Helper()
	source := &recordSource{
		records:  make(map[object.ID][]byte),
		failures: make(map[object.ID]error),
	}
	for _, record := range records {
		data, err := record.Encode()
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		source.records[record.ID] = data
	}
	return source
}

func (s *recordSource) GetObject(ctx context.Context, id object.ID) ([]byte, error) {
	s.mu.Lock()
	s.gets++
	s.inflight++
	s.maxInflight = max(s.maxInflight, s.inflight)
	data, present := s.records[id]
	failure := s.failures[id]
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inflight--
		s.mu.Unlock()
	}()

	if failure != nil {
		return nil, failure
	}
	if !present {
		return nil, &object.TransportError{Op: "get", Transport: "test", ID: id, Err: object.ErrNotFound}
	}
	return data, nil
}

// payloadType decodes a payload and returns its type chain and props.
func payloadType(t *testing.T, payload []byte) (string, map[string]any) {
	t.Helper()
	var tree any
	if err := codec.Unmarshal(payload, &tree); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	typeChain, props, err := parseBody(tree)
	if err != nil {
		t.Fatalf("parsing payload: %v", err)
	}
	return typeChain, props
}
