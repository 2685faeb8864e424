// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package graphcopy copies a record and everything it references from
// one transport to another.
//
// [CopyObjectAndChildren] reads the root record, determines its closure
// (from the record, or by walking references when the record carries
// none), asks the destination which closure records it lacks, and
// transfers only those, in parallel. The root is written last, after
// every other record is durable, so a destination that holds a root
// always holds its whole closure. That makes an interrupted copy safe
// to repeat: the next run finds the root missing and transfers only
// what the previous run did not.
//
// The copy does not retry. Transports retry their own transient
// failures; any error they surface ends the copy.
package graphcopy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/transport"
)

// Defaults for [Options].
const (
	DefaultConcurrency = 8
	DefaultBatchSize   = 500
)

const tracerName = "github.com/bureau-foundation/objectgraph/lib/graphcopy"

// Options tunes a copy. The zero value is ready to use.
type Options struct {
	// Concurrency bounds simultaneous transfers. With a source that
	// implements transport.BatchGetter one transfer moves a batch of
	// records; otherwise it moves one.
	Concurrency int

	// BatchSize bounds the ids in one HasObjects or GetObjects call.
	BatchSize int

	// Complete checks every closure record even when the destination
	// already holds the root, and transfers the ones it lacks. Use it
	// for a destination that may hold a root without its closure, such
	// as a cache with evicted records.
	Complete bool

	// OnProgress receives a "copy" report after each record is
	// written, with Total set to the number of records to transfer.
	// Calls are serialized.
	OnProgress transport.ProgressFunc

	// Logger receives a summary of each copy. Nil discards.
	Logger *slog.Logger

	// TracerProvider supplies the span for each copy. Defaults to the
	// global provider.
	TracerProvider trace.TracerProvider
}

// Result describes a finished copy.
type Result struct {
	// RootID is the copied root.
	RootID object.ID

	// Data is the root record as stored.
	Data []byte

	// Closure is the number of records the root references,
	// transitively. When the copy is skipped because the destination
	// already holds the root, only the closure the root record carries
	// is counted.
	Closure int

	// Copied is the number of records written to the destination,
	// including the root when it was missing. Zero when the destination
	// already held the root, unless [Options.Complete] found closure
	// records to fill in.
	Copied int
}

// CopyObjectAndChildren copies the record id and its closure from
// source to destination. On success the destination can compose id
// without consulting any other transport.
//
// If the destination already holds id, nothing is written unless
// [Options.Complete] is set, in which case only the closure records the
// destination lacks are written. Records of
// the closure already in the destination are not transferred again.
// Cancellation is checked between records; a record is written whole
// or not at all.
func CopyObjectAndChildren(ctx context.Context, id object.ID, source, destination transport.Transport, options Options) (result *Result, err error) {
	provider := options.TracerProvider
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	ctx, span := provider.Tracer(tracerName).Start(ctx, "graphcopy.CopyObjectAndChildren", trace.WithAttributes(
		attribute.String("objectgraph.root_id", string(id)),
		attribute.String("objectgraph.source", source.Name()),
		attribute.String("objectgraph.destination", destination.Name()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(
				attribute.Int("objectgraph.closure", result.Closure),
				attribute.Int("objectgraph.copied", result.Copied),
			)
		}
		span.End()
	}()

	c := newCopier(source, destination, options)
	result, err = c.run(ctx, id)
	if err != nil {
		c.logger.Warn("copy failed", "id", id, "source", source.Name(), "destination", destination.Name(), "error", err)
		return nil, err
	}
	c.logger.Info("copied graph",
		"id", id,
		"source", source.Name(),
		"destination", destination.Name(),
		"closure", result.Closure,
		"copied", result.Copied,
	)
	return result, nil
}

type copier struct {
	source      transport.Transport
	destination transport.Transport
	concurrency int
	batchSize   int
	complete    bool
	onProgress  transport.ProgressFunc
	logger      *slog.Logger

	progressMu sync.Mutex
	done       int
	total      int
}

func newCopier(source, destination transport.Transport, options Options) *copier {
	c := &copier{
		source:      source,
		destination: destination,
		concurrency: options.Concurrency,
		batchSize:   options.BatchSize,
		complete:    options.Complete,
		onProgress:  options.OnProgress,
		logger:      options.Logger,
	}
	if c.concurrency <= 0 {
		c.concurrency = DefaultConcurrency
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

func (c *copier) run(ctx context.Context, id object.ID) (*Result, error) {
	if err := object.CheckContext(ctx, "copy", id); err != nil {
		return nil, err
	}
	data, err := c.source.GetObject(ctx, id)
	if err != nil {
		return nil, err
	}
	root, err := decodeVerified(id, data)
	if err != nil {
		return nil, err
	}

	result := &Result{RootID: id, Data: data, Closure: len(root.Closure)}

	present, err := c.has(ctx, []object.ID{id})
	if err != nil {
		return nil, err
	}
	holdsRoot := present[id]
	if holdsRoot && !c.complete {
		c.logger.Debug("destination already holds root", "id", id, "destination", c.destination.Name())
		return result, nil
	}

	closure, err := c.closure(ctx, root)
	if err != nil {
		return nil, err
	}
	result.Closure = len(closure)

	missing, err := c.missing(ctx, closure)
	if err != nil {
		return nil, err
	}
	c.total = len(missing)
	if !holdsRoot {
		c.total++
	}

	if len(missing) > 0 {
		if err := c.transfer(ctx, missing); err != nil {
			return nil, err
		}
		if err := c.destination.WriteComplete(ctx); err != nil {
			return nil, err
		}
	}

	result.Copied = len(missing)
	if holdsRoot {
		if len(missing) > 0 {
			c.logger.Debug("filled closure under existing root", "id", id, "destination", c.destination.Name(), "missing", len(missing))
		}
		return result, nil
	}

	if err := object.CheckContext(ctx, "copy", id); err != nil {
		return nil, err
	}
	if err := c.destination.SaveObject(ctx, id, data); err != nil {
		return nil, err
	}
	if err := c.destination.WriteComplete(ctx); err != nil {
		return nil, err
	}
	c.report()
	result.Copied++
	return result, nil
}

// closure returns the ids root references transitively.
func (c *copier) closure(ctx context.Context, root *object.Record) ([]object.ID, error) {
	if len(root.Closure) > 0 {
		return root.Closure.IDs(), nil
	}
	return c.walk(ctx, root)
}

// missing returns the ids the destination does not hold, in the order
// given.
func (c *copier) missing(ctx context.Context, ids []object.ID) ([]object.ID, error) {
	var missing []object.ID
	for start := 0; start < len(ids); start += c.batchSize {
		batch := ids[start:min(start+c.batchSize, len(ids))]
		present, err := c.has(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, id := range batch {
			if !present[id] {
				missing = append(missing, id)
			}
		}
	}
	return missing, nil
}

func (c *copier) has(ctx context.Context, ids []object.ID) (map[object.ID]bool, error) {
	if err := object.CheckContext(ctx, "copy", ""); err != nil {
		return nil, err
	}
	return c.destination.HasObjects(ctx, ids)
}

// transfer copies ids inside one destination batch, bounded by the
// configured concurrency. The first failure cancels the rest.
func (c *copier) transfer(ctx context.Context, ids []object.ID) error {
	c.destination.BeginWrite()
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)

	_, batched := c.source.(transport.BatchGetter)
	step := 1
	if batched {
		step = c.batchSize
	}
	for start := 0; start < len(ids); start += step {
		batch := ids[start:min(start+step, len(ids))]
		if groupCtx.Err() != nil {
			break
		}
		group.Go(func() error {
			return fetch(groupCtx, c.source, batch, func(id object.ID, data []byte) error {
				if _, err := decodeVerified(id, data); err != nil {
					return err
				}
				if err := c.destination.SaveObject(groupCtx, id, data); err != nil {
					return err
				}
				c.report()
				return nil
			})
		})
	}
	transferErr := group.Wait()
	if transferErr == nil {
		transferErr = object.CheckContext(ctx, "copy", "")
	}
	if err := c.destination.EndWrite(ctx); err != nil && transferErr == nil {
		transferErr = err
	}
	return transferErr
}

func (c *copier) report() {
	if c.onProgress == nil {
		return
	}
	c.progressMu.Lock()
	defer c.progressMu.Unlock()
	c.done++
	c.onProgress(transport.Progress{
		Transport: c.destination.Name(),
		Operation: "copy",
		Done:      c.done,
		Total:     c.total,
	})
}

// fetch reads ids from source and calls fn for each, failing with a
// not-found error for any id the source does not hold. Cancellation
// is checked before each record.
func fetch(ctx context.Context, source transport.Transport, ids []object.ID, fn func(object.ID, []byte) error) error {
	if getter, ok := source.(transport.BatchGetter); ok {
		received := make(map[object.ID]bool, len(ids))
		err := getter.GetObjects(ctx, ids, func(id object.ID, data []byte) error {
			if err := object.CheckContext(ctx, "copy", id); err != nil {
				return err
			}
			received[id] = true
			return fn(id, data)
		})
		if err != nil {
			return err
		}
		for _, id := range ids {
			if !received[id] {
				return transport.NotFound(source.Name(), "get", id)
			}
		}
		return nil
	}
	for _, id := range ids {
		if err := object.CheckContext(ctx, "copy", id); err != nil {
			return err
		}
		data, err := source.GetObject(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(id, data); err != nil {
			return err
		}
	}
	return nil
}

// decodeVerified decodes a stored record and checks that its payload
// hashes to id, so a corrupt source never corrupts the destination.
func decodeVerified(id object.ID, data []byte) (*object.Record, error) {
	record, err := object.DecodeRecord(id, data)
	if err != nil {
		return nil, err
	}
	if !id.Verify(record.Payload) {
		return nil, &object.DeserializationError{Op: "copy", ID: id, Err: fmt.Errorf("%w: payload does not hash to its id", object.ErrCorrupt)}
	}
	return record, nil
}
