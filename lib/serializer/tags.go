// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serializer

import (
	"fmt"

	"github.com/bureau-foundation/objectgraph/lib/codec"
	"github.com/bureau-foundation/objectgraph/lib/object"
)

// CBOR tag numbers for the structural markers in a payload. They sit
// in the first-come-first-served range and are private to this format.
const (
	tagInlineNode = 51001
	tagReference  = 51002
	tagChunkList  = 51003
)

// ChunkType is the type chain of chunk records. The composer resolves
// chunk records itself; it never asks the registry for this type.
const ChunkType = "DataChunk"

// Payload field names.
const (
	fieldType         = "type"
	fieldProps        = "props"
	fieldReferencedID = "referencedId"
	fieldData         = "data"
)

func nodeBody(typeChain string, props map[string]any) map[string]any {
	return map[string]any{fieldType: typeChain, fieldProps: props}
}

func referenceTag(id object.ID) codec.Tag {
	return codec.Tag{Number: tagReference, Content: map[string]any{fieldReferencedID: string(id)}}
}

// parseBody extracts the type chain and properties from a decoded
// payload or inline node.
func parseBody(value any) (string, map[string]any, error) {
	body, ok := value.(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("%w: node body is %T, want map", object.ErrCorrupt, value)
	}
	typeChain, ok := body[fieldType].(string)
	if !ok || typeChain == "" {
		return "", nil, fmt.Errorf("%w: node body has no type", object.ErrCorrupt)
	}
	props, ok := body[fieldProps].(map[string]any)
	if !ok {
		if body[fieldProps] != nil {
			return "", nil, fmt.Errorf("%w: props is %T, want map", object.ErrCorrupt, body[fieldProps])
		}
		props = map[string]any{}
	}
	return typeChain, props, nil
}

// parseReference extracts the id from the content of a reference tag.
func parseReference(content any) (object.ID, error) {
	fields, ok := content.(map[string]any)
	if !ok {
		return "", fmt.Errorf("%w: reference is %T, want map", object.ErrCorrupt, content)
	}
	raw, ok := fields[fieldReferencedID].(string)
	if !ok {
		return "", fmt.Errorf("%w: reference has no %s", object.ErrCorrupt, fieldReferencedID)
	}
	id, err := object.ParseID(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", object.ErrCorrupt, err)
	}
	return id, nil
}

// parseChunkList extracts the ordered chunk ids from the content of a
// chunked list tag.
func parseChunkList(content any) ([]object.ID, error) {
	entries, ok := content.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: chunk list is %T, want array", object.ErrCorrupt, content)
	}
	ids := make([]object.ID, len(entries))
	for i, entry := range entries {
		tag, ok := entry.(codec.Tag)
		if !ok || tag.Number != tagReference {
			return nil, fmt.Errorf("%w: chunk list entry %d is not a reference", object.ErrCorrupt, i)
		}
		id, err := parseReference(tag.Content)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}
