// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"errors"
	"sync"
)

// ErrUnbalancedBatch is returned by [Batch.End] when no batch is open.
var ErrUnbalancedBatch = errors.New("EndWrite without matching BeginWrite")

// Batch tracks write batch nesting for a transport. The depth is shared
// by every caller, so interleaved batches from different goroutines
// keep the transport in batch mode until the last one ends.
type Batch struct {
	mu    sync.Mutex
	depth int
}

// Begin opens a batch.
func (b *Batch) Begin() {
	b.mu.Lock()
	b.depth++
	b.mu.Unlock()
}

// End closes a batch and reports whether it was the outermost one.
func (b *Batch) End() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.depth == 0 {
		return false, ErrUnbalancedBatch
	}
	b.depth--
	return b.depth == 0, nil
}

// Active reports whether any batch is open.
func (b *Batch) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.depth > 0
}
