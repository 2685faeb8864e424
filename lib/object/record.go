// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"fmt"
	"sort"

	"github.com/bureau-foundation/objectgraph/lib/codec"
)

// Record is one immutable, hash-identified persistence unit.
type Record struct {
	// ID is the hash of Payload.
	ID ID

	// Payload is the canonical CBOR form of one decomposed node with
	// detached children replaced by reference placeholders.
	Payload []byte

	// Closure maps every descendant id reachable through detached
	// references to its minimum depth. Nil for records without
	// detached children.
	Closure Closure
}

// envelope is the stored form of a record.
type envelope struct {
	Payload []byte  `cbor:"payload"`
	Closure Closure `cbor:"closure,omitempty"`
}

// Encode returns the stored form of the record: a deterministic CBOR
// envelope holding the payload and closure.
func (r *Record) Encode() ([]byte, error) {
	data, err := codec.Marshal(envelope{Payload: r.Payload, Closure: r.Closure})
	if err != nil {
		return nil, fmt.Errorf("encoding record %s: %w", r.ID.Short(), err)
	}
	return data, nil
}

// DecodeRecord parses the stored form of the record with the given
// id. It does not verify the payload hash; callers that need integrity
// call [ID.Verify] on the returned payload.
func DecodeRecord(id ID, data []byte) (*Record, error) {
	var decoded envelope
	if err := codec.Unmarshal(data, &decoded); err != nil {
		return nil, &DeserializationError{Op: "decode record", ID: id, Err: fmt.Errorf("%w: %v", ErrCorrupt, err)}
	}
	if len(decoded.Payload) == 0 {
		return nil, &DeserializationError{Op: "decode record", ID: id, Err: fmt.Errorf("%w: empty payload", ErrCorrupt)}
	}
	if len(decoded.Closure) == 0 {
		decoded.Closure = nil
	}
	return &Record{ID: id, Payload: decoded.Payload, Closure: decoded.Closure}, nil
}

// Closure maps descendant ids to their minimum depth below the owning
// record. Direct children have depth 1.
type Closure map[ID]int

// Add records id at depth, keeping the smaller depth when id is
// already present.
func (c Closure) Add(id ID, depth int) {
	if existing, ok := c[id]; ok && existing <= depth {
		return
	}
	c[id] = depth
}

// Merge adds every entry of child shifted down by offset levels. A
// parent merging the closure of a direct child passes offset 1.
func (c Closure) Merge(child Closure, offset int) {
	for id, depth := range child {
		c.Add(id, depth+offset)
	}
}

// IDs returns the closure ids ordered by depth, then by id. The order
// is deterministic so copies and listings are reproducible.
func (c Closure) IDs() []ID {
	ids := make([]ID, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if c[ids[i]] != c[ids[j]] {
			return c[ids[i]] < c[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
