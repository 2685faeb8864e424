// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serializer

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bureau-foundation/objectgraph/lib/node"
	"github.com/bureau-foundation/objectgraph/lib/object"
)

func TestDecomposeChunkedList(t *testing.T) {
	bigList := make([]int, 2500)
	for i := range bigList {
		bigList[i] = i + 1
	}
	root := node.New("Base", node.NewSchema(node.Chunked("bigList", 1000)))
	root.Set("name", "root")
	root.Set("bigList", bigList)

	result := mustDecompose(t, root)
	if len(result.Records) != 4 {
		t.Fatalf("got %d records, want 3 chunks + 1 parent", len(result.Records))
	}

	parent := result.Root()
	if parent.ID != result.RootID {
		t.Fatalf("last record %s is not the root %s", parent.ID.Short(), result.RootID.Short())
	}

	references, err := References(parent.Payload)
	if err != nil {
		t.Fatalf("References: %v", err)
	}
	if len(references) != 3 {
		t.Fatalf("parent references %d records, want 3", len(references))
	}

	byID := make(map[object.ID]*object.Record)
	for _, record := range result.Records {
		byID[record.ID] = record
	}
	wantSizes := []int{1000, 1000, 500}
	next := int64(1)
	for i, id := range references {
		chunk, ok := byID[id]
		if !ok {
			t.Fatalf("chunk %d (%s) not among emitted records", i, id.Short())
		}
		if chunk.Closure != nil {
			t.Errorf("chunk %d has closure %v, want none", i, chunk.Closure)
		}
		typeChain, props := payloadType(t, chunk.Payload)
		if typeChain != ChunkType {
			t.Errorf("chunk %d type = %q, want %q", i, typeChain, ChunkType)
		}
		data, _ := props["data"].([]any)
		if len(data) != wantSizes[i] {
			t.Fatalf("chunk %d holds %d items, want %d", i, len(data), wantSizes[i])
		}
		for _, item := range data {
			if got, ok := item.(uint64); !ok || int64(got) != next {
				t.Fatalf("chunk %d: got item %v, want %d", i, item, next)
			}
			next++
		}
		if depth := parent.Closure[id]; depth != 1 {
			t.Errorf("closure depth of chunk %d = %d, want 1", i, depth)
		}
	}
}

func TestDecomposeIsDeterministic(t *testing.T) {
	first := mustDecompose(t, sampleGraph())
	second := mustDecompose(t, sampleGraph())

	if first.RootID != second.RootID {
		t.Fatalf("root ids differ: %s vs %s", first.RootID, second.RootID)
	}
	if len(first.Records) != len(second.Records) {
		t.Fatalf("record counts differ: %d vs %d", len(first.Records), len(second.Records))
	}
	payloads := make(map[object.ID]string)
	for _, record := range first.Records {
		payloads[record.ID] = string(record.Payload)
	}
	for _, record := range second.Records {
		if payloads[record.ID] != string(record.Payload) {
			t.Errorf("record %s differs between runs", record.ID.Short())
		}
	}
}

func TestDecomposeContentAddressing(t *testing.T) {
	base := mustDecompose(t, sampleGraph()).RootID

	changes := map[string]func(root *node.Node){
		"deep leaf": func(root *node.Node) {
			elements, _ := root.Get("elements")
			material, _ := elements.([]*node.Node)[1].Get("material")
			material.(*node.Node).Set("opacity", 0.8)
		},
		"chunked element": func(root *node.Node) {
			elements, _ := root.Get("elements")
			vertices, _ := elements.([]*node.Node)[0].Get("vertices")
			vertices.([]float64)[9] = 100
		},
		"inline node": func(root *node.Node) {
			origin, _ := root.Get("origin")
			origin.(*node.Node).Set("z", 13)
		},
		"type chain": func(root *node.Node) {
			renamed := node.New("Objects.Remark:Base", nil)
			renamed.Set("text", "check clearance")
			root.Set("@annotations", []any{renamed, "plain"})
		},
		"integer vs float": func(root *node.Node) {
			origin, _ := root.Get("origin")
			origin.(*node.Node).Set("z", 12.0)
		},
		"nil vs absent": func(root *node.Node) {
			root.Delete("missing")
		},
	}
	for name, change := range changes {
		t.Run(name, func(t *testing.T) {
			root := sampleGraph()
			change(root)
			if got := mustDecompose(t, root).RootID; got == base {
				t.Errorf("root id unchanged after modifying %s", name)
			}
		})
	}
}

func TestDecomposeSharedNodeStoredOnce(t *testing.T) {
	result := mustDecompose(t, sampleGraph())

	materials := 0
	for _, record := range result.Records {
		if typeChain, _ := payloadType(t, record.Payload); typeChain == "Objects.Material:Base" {
			materials++
		}
	}
	if materials != 1 {
		t.Errorf("got %d material records, want 1", materials)
	}

	// Distinct but equal nodes hash identically and are also stored once.
	root := node.New("Objects.Collection:Base", collectionSchema)
	root.Set("elements", []*node.Node{newMaterial("steel"), newMaterial("steel")})
	result = mustDecompose(t, root)
	if len(result.Records) != 2 {
		t.Errorf("got %d records for two equal children, want 2", len(result.Records))
	}
}

func TestDecomposeRecordsAreOrderedChildrenFirst(t *testing.T) {
	result := mustDecompose(t, sampleGraph())
	emitted := make(map[object.ID]bool)
	for _, record := range result.Records {
		if emitted[record.ID] {
			t.Fatalf("record %s emitted twice", record.ID.Short())
		}
		references, err := References(record.Payload)
		if err != nil {
			t.Fatal(err)
		}
		for _, id := range references {
			if !emitted[id] {
				t.Errorf("record %s emitted before its child %s", record.ID.Short(), id.Short())
			}
		}
		emitted[record.ID] = true
	}
}

// TestClosureMatchesReachability checks every record's closure against a
// breadth-first walk of the references: same ids, shortest depths.
func TestClosureMatchesReachability(t *testing.T) {
	// A diamond: the material is a direct child of the root and also a
	// grandchild through the mesh.
	shared := newMaterial("glass")
	root := node.New("Objects.Collection:Base", collectionSchema)
	root.Set("elements", []any{newMesh("pane", 6, shared), shared})

	for name, graph := range map[string]*node.Node{"sample": sampleGraph(), "diamond": root} {
		t.Run(name, func(t *testing.T) {
			result := mustDecompose(t, graph)
			payloads := make(map[object.ID][]byte)
			for _, record := range result.Records {
				payloads[record.ID] = record.Payload
			}
			for _, record := range result.Records {
				want := make(object.Closure)
				frontier := []object.ID{record.ID}
				for depth := 1; len(frontier) > 0; depth++ {
					var next []object.ID
					for _, id := range frontier {
						children, err := References(payloads[id])
						if err != nil {
							t.Fatal(err)
						}
						for _, child := range children {
							if _, seen := want[child]; !seen {
								want[child] = depth
								next = append(next, child)
							}
						}
					}
					frontier = next
				}
				if len(want) == 0 && record.Closure != nil {
					t.Errorf("leaf record %s has closure %v", record.ID.Short(), record.Closure)
				}
				if len(want) == 0 {
					continue
				}
				if diff := cmp.Diff(want, record.Closure); diff != "" {
					t.Errorf("record %s closure mismatch (-want +got):\n%s", record.ID.Short(), diff)
				}
			}
		})
	}

	diamond := mustDecompose(t, root).Root()
	materialID := mustDecompose(t, shared).RootID
	if depth := diamond.Closure[materialID]; depth != 1 {
		t.Errorf("shared material depth = %d, want the shorter path 1", depth)
	}
}

func TestDecomposeRejectsCycles(t *testing.T) {
	detachedCycle := func() *node.Node {
		a := node.New("A", nil)
		b := node.New("B", nil)
		a.Set("@child", b)
		b.Set("@parent", a)
		return a
	}
	inlineCycle := func() *node.Node {
		a := node.New("A", nil)
		a.Set("self", a)
		return a
	}
	mixedCycle := func() *node.Node {
		a := node.New("A", nil)
		b := node.New("B", nil)
		a.Set("children", []any{b})
		b.Set("@back", []any{a})
		return a
	}

	for name, build := range map[string]func() *node.Node{
		"detached": detachedCycle,
		"inline":   inlineCycle,
		"mixed":    mixedCycle,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decompose(build())
			if !errors.Is(err, object.ErrCycle) {
				t.Fatalf("error = %v, want ErrCycle", err)
			}
			var serializationErr *object.SerializationError
			if !errors.As(err, &serializationErr) {
				t.Fatalf("error %T is not a *SerializationError", err)
			}
			if serializationErr.Path == "" {
				t.Error("cycle error does not name the property path")
			}
		})
	}
}

func TestDecomposeAllowsSharedNonCyclicNodes(t *testing.T) {
	leaf := newMaterial("shared")
	root := node.New("A", nil)
	root.Set("first", leaf)
	root.Set("second", leaf)
	root.Set("@third", leaf)
	if _, err := Decompose(root); err != nil {
		t.Fatalf("a node reused by siblings is not a cycle: %v", err)
	}
}

func TestDecomposeRejectsUnsupportedValues(t *testing.T) {
	selfContaining := []any{nil}
	selfContaining[0] = selfContaining

	tests := []struct {
		name     string
		property string
		value    any
		schema   *node.Schema
	}{
		{name: "channel", property: "events", value: make(chan int)},
		{name: "struct", property: "point", value: struct{ X int }{1}},
		{name: "chunked scalar", property: "values", value: 42, schema: node.NewSchema(node.Chunked("values", 10))},
		{name: "nested function", property: "list", value: []any{1, func() {}}},
		{name: "self-containing list", property: "loop", value: selfContaining},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			root := node.New("Base", test.schema)
			root.Set(test.property, test.value)
			_, err := Decompose(root)
			if !errors.Is(err, object.ErrUnsupportedValue) {
				t.Fatalf("error = %v, want ErrUnsupportedValue", err)
			}
			if !strings.Contains(err.Error(), test.property) {
				t.Errorf("error %q does not name property %q", err, test.property)
			}
		})
	}
}

func TestDecomposeRejectsUntypedNodes(t *testing.T) {
	if _, err := Decompose(node.New("", nil)); !errors.Is(err, object.ErrUnsupportedValue) {
		t.Errorf("error = %v, want ErrUnsupportedValue", err)
	}
	if _, err := Decompose(nil); err == nil {
		t.Error("Decompose(nil) succeeded")
	}
}

func TestDecomposeNilChunkedList(t *testing.T) {
	root := node.New("Base", node.NewSchema(node.Chunked("values", 10)))
	root.Set("values", nil)
	result := mustDecompose(t, root)
	if len(result.Records) != 1 || result.Root().Closure != nil {
		t.Errorf("nil chunked list produced %d records, closure %v", len(result.Records), result.Root().Closure)
	}
}
