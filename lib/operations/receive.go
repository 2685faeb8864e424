// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package operations

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bureau-foundation/objectgraph/lib/graphcopy"
	"github.com/bureau-foundation/objectgraph/lib/node"
	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/serializer"
	"github.com/bureau-foundation/objectgraph/lib/transport"
)

// cacheCheckBatch bounds the ids in one HasObjects call when checking
// the local cache.
const cacheCheckBatch = 500

// ReceiveOptions configures [Receive]. At least one of Remote and Local
// must be set.
type ReceiveOptions struct {
	// Registry turns stored type chains into nodes. Required.
	Registry *node.Registry

	// Remote is where records missing from Local are copied from.
	Remote transport.Transport

	// Local is the cache. When nil the graph is composed directly from
	// Remote.
	Local transport.Transport

	// Tolerant composes what can be composed: a branch that cannot be
	// copied or read becomes nil and is reported to OnError. The root
	// record must still be readable.
	Tolerant bool

	// OnError receives each tolerated failure. Optional.
	OnError func(id object.ID, err error)

	// Concurrency bounds simultaneous record transfers and fetches.
	// Zero means the library defaults.
	Concurrency int

	// OnProgress receives the copy's progress reports. Optional.
	OnProgress transport.ProgressFunc

	// Logger receives a summary of the receive. Nil discards.
	Logger *slog.Logger

	// TracerProvider supplies the span. Defaults to the global
	// provider.
	TracerProvider trace.TracerProvider
}

// ReceiveResult describes a finished receive.
type ReceiveResult struct {
	// RootID identifies the received graph.
	RootID object.ID

	// Copied is the number of records copied from Remote into Local.
	Copied int

	// FromCache is true when Local already held the whole graph and
	// Remote was not consulted.
	FromCache bool
}

// Receive rebuilds the graph rooted at id. See [ReceiveWithStats].
func Receive(ctx context.Context, id object.ID, options ReceiveOptions) (*node.Node, error) {
	root, _, err := ReceiveWithStats(ctx, id, options)
	return root, err
}

// ReceiveWithStats rebuilds the graph rooted at id and reports how it
// was obtained. When Local holds the root and every record of its
// closure, the graph is composed from Local alone. Otherwise the
// missing records are first copied from Remote into Local.
//
// In tolerant mode a failed copy does not end the receive: the graph is
// composed from Local with Remote as a fallback source, and each branch
// that still cannot be read is replaced with nil.
func ReceiveWithStats(ctx context.Context, id object.ID, options ReceiveOptions) (root *node.Node, result *ReceiveResult, err error) {
	if options.Registry == nil {
		return nil, nil, fmt.Errorf("operations: receive needs a registry")
	}
	if options.Remote == nil && options.Local == nil {
		return nil, nil, fmt.Errorf("operations: receive needs a remote or local transport")
	}
	operationID := uuid.NewString()
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("operation", "receive", "operation_id", operationID)

	ctx, span := tracer(options.TracerProvider).Start(ctx, "operations.Receive", trace.WithAttributes(
		attribute.String("objectgraph.operation_id", operationID),
		attribute.String("objectgraph.root_id", string(id)),
	))
	defer func() {
		if result != nil {
			span.SetAttributes(
				attribute.Int("objectgraph.copied", result.Copied),
				attribute.Bool("objectgraph.from_cache", result.FromCache),
			)
		}
		endSpan(span, err)
	}()

	result = &ReceiveResult{RootID: id}
	var sources []serializer.Source
	switch {
	case options.Local == nil:
		sources = []serializer.Source{options.Remote}
	default:
		cached, err := holdsGraph(ctx, options.Local, id)
		if err != nil {
			return nil, nil, err
		}
		sources = []serializer.Source{options.Local}
		switch {
		case cached:
			result.FromCache = true
		case options.Remote != nil:
			copied, err := graphcopy.CopyObjectAndChildren(ctx, id, options.Remote, options.Local, graphcopy.Options{
				Concurrency:    options.Concurrency,
				Complete:       true,
				OnProgress:     options.OnProgress,
				Logger:         logger,
				TracerProvider: options.TracerProvider,
			})
			if err != nil {
				if !options.Tolerant || object.IsCancelled(err) {
					return nil, nil, err
				}
				logger.Warn("copy to local cache failed, composing with remote fallback", "id", id, "error", err)
			} else {
				result.Copied = copied.Copied
			}
			// Local can hold the root without its whole closure when
			// something other than a copy wrote it.
			sources = append(sources, options.Remote)
		}
	}

	composer := &serializer.Composer{
		Registry:    options.Registry,
		Sources:     sources,
		Concurrency: options.Concurrency,
		Tolerant:    options.Tolerant,
		OnError:     options.OnError,
		Logger:      logger,
	}
	root, err = composer.Compose(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("received graph", "id", id, "copied", result.Copied, "from_cache", result.FromCache)
	return root, result, nil
}

// holdsGraph reports whether local holds the record id and every record
// of its closure.
func holdsGraph(ctx context.Context, local transport.Transport, id object.ID) (bool, error) {
	data, err := local.GetObject(ctx, id)
	if object.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	record, err := object.DecodeRecord(id, data)
	if err != nil {
		return false, err
	}
	ids := record.Closure.IDs()
	if len(ids) == 0 {
		references, err := serializer.References(record.Payload)
		if err != nil {
			return false, &object.DeserializationError{Op: "receive", ID: id, Err: err}
		}
		// A root that references records without listing a closure
		// cannot be checked cheaply.
		return len(references) == 0, nil
	}
	for start := 0; start < len(ids); start += cacheCheckBatch {
		batch := ids[start:min(start+cacheCheckBatch, len(ids))]
		present, err := local.HasObjects(ctx, batch)
		if err != nil {
			return false, err
		}
		for _, id := range batch {
			if !present[id] {
				return false, nil
			}
		}
	}
	return true, nil
}
