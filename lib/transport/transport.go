// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"io"

	"github.com/bureau-foundation/objectgraph/lib/object"
)

// Transport persists and retrieves record envelopes. Implementations
// are safe for concurrent use by independent operations.
type Transport interface {
	// Name identifies the transport in errors, logs, and progress.
	Name() string

	// SaveObject stores data under id. Saving an id that is already
	// stored is a no-op.
	SaveObject(ctx context.Context, id object.ID, data []byte) error

	// SaveObjectFrom stores the record for id read from source,
	// streaming when both sides support it.
	SaveObjectFrom(ctx context.Context, id object.ID, source Transport) error

	// GetObject returns the data stored under id. A missing id fails
	// with an *object.TransportError wrapping object.ErrNotFound.
	GetObject(ctx context.Context, id object.ID) ([]byte, error)

	// HasObjects reports which of ids are stored. The returned map has
	// an entry for every requested id.
	HasObjects(ctx context.Context, ids []object.ID) (map[object.ID]bool, error)

	// BeginWrite opens a write batch. Batches nest.
	BeginWrite()

	// EndWrite closes a write batch. Closing the outermost batch
	// flushes buffered writes and returns any flush error.
	EndWrite(ctx context.Context) error

	// WriteComplete blocks until every write issued before the call is
	// durable, and returns the first write error since the previous
	// successful WriteComplete.
	WriteComplete(ctx context.Context) error
}

// Streamer is implemented by transports that can read a record without
// holding it in memory.
type Streamer interface {
	OpenObject(ctx context.Context, id object.ID) (io.ReadCloser, error)
}

// BatchGetter is implemented by transports that fetch many records per
// round trip. GetObjects calls fn once for each id it finds, in any
// order, from a single goroutine. Ids that are not stored are skipped.
// An error from fn stops the fetch and is returned.
type BatchGetter interface {
	GetObjects(ctx context.Context, ids []object.ID, fn func(id object.ID, data []byte) error) error
}

// Progress reports how far a long-running transport operation got.
type Progress struct {
	// Transport is the Name of the reporting transport.
	Transport string

	// Operation is what is being counted: "upload", "download",
	// "flush", or "copy".
	Operation string

	// Done and Total count records. Total is zero when unknown.
	Done  int
	Total int
}

// ProgressFunc receives progress reports. It runs on the goroutine
// doing the work and must return quickly.
type ProgressFunc func(Progress)

// OpenObject returns a reader for the record stored under id, streaming
// when source implements [Streamer].
func OpenObject(ctx context.Context, source Transport, id object.ID) (io.ReadCloser, error) {
	if streamer, ok := source.(Streamer); ok {
		return streamer.OpenObject(ctx, id)
	}
	data, err := source.GetObject(ctx, id)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// NotFound returns the error a transport reports for a missing id.
func NotFound(transport, op string, id object.ID) error {
	return &object.TransportError{Op: op, Transport: transport, ID: id, Err: object.ErrNotFound}
}

// Put stores a record's envelope under its id.
func Put(ctx context.Context, t Transport, record *object.Record) error {
	data, err := record.Encode()
	if err != nil {
		return err
	}
	return t.SaveObject(ctx, record.ID, data)
}
