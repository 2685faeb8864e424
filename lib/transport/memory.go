// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"io"
	"sort"
	"sync"

	"github.com/bureau-foundation/objectgraph/lib/object"
)

// Memory is a [Transport] backed by a map. Writes are durable as soon
// as SaveObject returns, so batches and WriteComplete are no-ops. Safe
// for concurrent use; stored and returned slices are copies.
type Memory struct {
	name string

	mu      sync.RWMutex
	objects map[object.ID][]byte
	writes  int
	batch   Batch
}

// NewMemory returns an empty in-memory transport.
func NewMemory(name string) *Memory {
	if name == "" {
		name = "memory"
	}
	return &Memory{name: name, objects: make(map[object.ID][]byte)}
}

// Name returns the transport name.
func (m *Memory) Name() string { return m.name }

// SaveObject stores a copy of data.
func (m *Memory) SaveObject(ctx context.Context, id object.ID, data []byte) error {
	if err := object.CheckContext(ctx, "save", id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[id]; exists {
		return nil
	}
	m.objects[id] = append([]byte(nil), data...)
	m.writes++
	return nil
}

// SaveObjectFrom reads the record from source and stores it.
func (m *Memory) SaveObjectFrom(ctx context.Context, id object.ID, source Transport) error {
	m.mu.RLock()
	_, exists := m.objects[id]
	m.mu.RUnlock()
	if exists {
		return nil
	}
	reader, err := OpenObject(ctx, source, id)
	if err != nil {
		return err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return &object.TransportError{Op: "save from " + source.Name(), Transport: m.name, ID: id, Err: err}
	}
	return m.SaveObject(ctx, id, data)
}

// GetObject returns a copy of the stored data.
func (m *Memory) GetObject(ctx context.Context, id object.ID) ([]byte, error) {
	if err := object.CheckContext(ctx, "get", id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[id]
	if !ok {
		return nil, NotFound(m.name, "get", id)
	}
	return append([]byte(nil), data...), nil
}

// HasObjects reports which ids are stored.
func (m *Memory) HasObjects(ctx context.Context, ids []object.ID) (map[object.ID]bool, error) {
	if err := object.CheckContext(ctx, "has", ""); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	present := make(map[object.ID]bool, len(ids))
	for _, id := range ids {
		_, present[id] = m.objects[id]
	}
	return present, nil
}

// BeginWrite opens a batch.
func (m *Memory) BeginWrite() { m.batch.Begin() }

// EndWrite closes a batch.
func (m *Memory) EndWrite(ctx context.Context) error {
	_, err := m.batch.End()
	return err
}

// WriteComplete returns immediately: every write is already durable.
func (m *Memory) WriteComplete(ctx context.Context) error { return nil }

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// Writes returns how many records were newly stored. Saves of ids that
// were already present are not counted.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

// IDs returns the stored ids in sorted order.
func (m *Memory) IDs() []object.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]object.ID, 0, len(m.objects))
	for id := range m.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Delete removes a record. Stores only grow in normal operation; tests
// use Delete to simulate a partially populated cache.
func (m *Memory) Delete(id object.ID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, id)
}
