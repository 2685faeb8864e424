// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package graphcopy

import (
	"context"

	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/serializer"
)

// walk discovers the closure of a record that does not carry one by
// reading references level by level from the source. A record met on
// the way that does carry a closure contributes it whole and is not
// descended into.
func (c *copier) walk(ctx context.Context, root *object.Record) ([]object.ID, error) {
	frontier, err := serializer.References(root.Payload)
	if err != nil {
		return nil, &object.DeserializationError{Op: "walk references", ID: root.ID, Err: err}
	}
	seen := map[object.ID]bool{root.ID: true}
	var closure []object.ID
	add := func(id object.ID) bool {
		if seen[id] {
			return false
		}
		seen[id] = true
		closure = append(closure, id)
		return true
	}
	frontier = keep(frontier, add)

	for depth := 1; len(frontier) > 0; depth++ {
		var next []object.ID
		for start := 0; start < len(frontier); start += c.batchSize {
			batch := frontier[start:min(start+c.batchSize, len(frontier))]
			err := fetch(ctx, c.source, batch, func(id object.ID, data []byte) error {
				record, err := decodeVerified(id, data)
				if err != nil {
					return err
				}
				if len(record.Closure) > 0 {
					for _, descendant := range record.Closure.IDs() {
						add(descendant)
					}
					return nil
				}
				references, err := serializer.References(record.Payload)
				if err != nil {
					return &object.DeserializationError{Op: "walk references", ID: id, Err: err}
				}
				next = append(next, keep(references, add)...)
				return nil
			})
			if err != nil {
				return nil, err
			}
		}
		c.logger.Debug("walked closure level", "id", root.ID, "depth", depth, "records", len(frontier))
		frontier = next
	}
	return closure, nil
}

// keep returns the ids for which add reports true.
func keep(ids []object.ID, add func(object.ID) bool) []object.ID {
	var kept []object.ID
	for _, id := range ids {
		if add(id) {
			kept = append(kept, id)
		}
	}
	return kept
}
