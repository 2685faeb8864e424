// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serializer

import (
	"fmt"

	"github.com/bureau-foundation/objectgraph/lib/codec"
	"github.com/bureau-foundation/objectgraph/lib/object"
)

// References returns the ids of the records a payload references
// directly, in the order they first appear, without duplicates. Chunk
// references are included. No nodes are built and no registry is
// needed.
func References(payload []byte) ([]object.ID, error) {
	var tree any
	if err := codec.Unmarshal(payload, &tree); err != nil {
		return nil, fmt.Errorf("%w: %v", object.ErrCorrupt, err)
	}
	collector := &referenceCollector{seen: make(map[object.ID]bool)}
	if err := collector.walk(tree); err != nil {
		return nil, err
	}
	return collector.ids, nil
}

type referenceCollector struct {
	ids  []object.ID
	seen map[object.ID]bool
}

func (c *referenceCollector) add(id object.ID) {
	if !c.seen[id] {
		c.seen[id] = true
		c.ids = append(c.ids, id)
	}
}

func (c *referenceCollector) walk(value any) error {
	switch v := value.(type) {
	case codec.Tag:
		switch v.Number {
		case tagReference:
			id, err := parseReference(v.Content)
			if err != nil {
				return err
			}
			c.add(id)
		case tagChunkList:
			ids, err := parseChunkList(v.Content)
			if err != nil {
				return err
			}
			for _, id := range ids {
				c.add(id)
			}
		default:
			return c.walk(v.Content)
		}
	case []any:
		for _, element := range v {
			if err := c.walk(element); err != nil {
				return err
			}
		}
	case map[string]any:
		for _, key := range sortedKeys(v) {
			if err := c.walk(v[key]); err != nil {
				return err
			}
		}
	}
	return nil
}
