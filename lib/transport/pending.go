// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"sort"
	"sync"

	"github.com/bureau-foundation/objectgraph/lib/object"
)

// PendingWrites buffers records a transport has accepted but not yet
// made durable. Records stay readable from the time they are added
// until the flush that took them is released, so a transport built on
// it always reads its own writes.
//
// A record moves through two states: pending (added, not yet taken) and
// in flight (taken by a flush, not yet released). Safe for concurrent
// use.
type PendingWrites struct {
	mu       sync.Mutex
	pending  map[object.ID][]byte
	inflight map[object.ID][]byte
	size     int
}

// NewPendingWrites returns an empty buffer.
func NewPendingWrites() *PendingWrites {
	return &PendingWrites{
		pending:  make(map[object.ID][]byte),
		inflight: make(map[object.ID][]byte),
	}
}

// Add buffers data under id. It returns false without copying if id is
// already buffered in either state.
func (p *PendingWrites) Add(id object.ID, data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[id]; ok {
		return false
	}
	if _, ok := p.inflight[id]; ok {
		return false
	}
	p.pending[id] = append([]byte(nil), data...)
	p.size += len(data)
	return true
}

// Get returns buffered data for id.
func (p *PendingWrites) Get(id object.ID) ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if data, ok := p.pending[id]; ok {
		return data, true
	}
	data, ok := p.inflight[id]
	return data, ok
}

// Has reports whether id is buffered.
func (p *PendingWrites) Has(id object.ID) bool {
	_, ok := p.Get(id)
	return ok
}

// Len returns the number of pending (not in flight) records.
func (p *PendingWrites) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Size returns the total bytes of pending records.
func (p *PendingWrites) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Entry is one buffered record.
type Entry struct {
	ID   object.ID
	Data []byte
}

// Take moves every pending record in flight and returns them sorted by
// id. The caller writes them out and then calls [PendingWrites.Release]
// with the same entries, whether or not the write succeeded.
func (p *PendingWrites) Take() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	entries := make([]Entry, 0, len(p.pending))
	for id, data := range p.pending {
		entries = append(entries, Entry{ID: id, Data: data})
		p.inflight[id] = data
	}
	clear(p.pending)
	p.size = 0
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// Release drops entries from the in-flight set. A failed flush may
// instead call [PendingWrites.Restore] to keep the records readable and
// retry them on the next flush.
func (p *PendingWrites) Release(entries []Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range entries {
		delete(p.inflight, entry.ID)
	}
}

// Restore moves entries from the in-flight set back to pending.
func (p *PendingWrites) Restore(entries []Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range entries {
		if _, ok := p.inflight[entry.ID]; !ok {
			continue
		}
		delete(p.inflight, entry.ID)
		if _, ok := p.pending[entry.ID]; !ok {
			p.pending[entry.ID] = entry.Data
			p.size += len(entry.Data)
		}
	}
}
