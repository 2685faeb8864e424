// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package operations

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/objectgraph/lib/node"
	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/serializer"
	"github.com/bureau-foundation/objectgraph/lib/transport"
)

const tracerName = "github.com/bureau-foundation/objectgraph/lib/operations"

// SendOptions tunes [Send]. The zero value is ready to use.
type SendOptions struct {
	// Primary is the index of the transport that must succeed.
	Primary int

	// Logger receives a summary of the send and each tolerated
	// transport failure. Nil discards.
	Logger *slog.Logger

	// TracerProvider supplies the span. Defaults to the global
	// provider.
	TracerProvider trace.TracerProvider
}

// SendResult describes a finished send.
type SendResult struct {
	// RootID identifies the sent graph.
	RootID object.ID

	// Records is the number of distinct records in the graph.
	Records int

	// Failures maps the name of each non-primary transport that failed
	// to its error.
	Failures map[string]error
}

// Send decomposes root and writes its records to every transport, all
// transports in parallel. It returns once the primary transport has
// made every record durable. A failure of any other transport does
// not fail the send; it is logged and reported in
// [SendResult.Failures].
func Send(ctx context.Context, root *node.Node, transports []transport.Transport, options SendOptions) (result *SendResult, err error) {
	if len(transports) == 0 {
		return nil, fmt.Errorf("operations: send needs at least one transport")
	}
	if options.Primary < 0 || options.Primary >= len(transports) {
		return nil, fmt.Errorf("operations: primary transport index %d out of range for %d transports", options.Primary, len(transports))
	}
	operationID := uuid.NewString()
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("operation", "send", "operation_id", operationID)

	ctx, span := tracer(options.TracerProvider).Start(ctx, "operations.Send", trace.WithAttributes(
		attribute.String("objectgraph.operation_id", operationID),
		attribute.Int("objectgraph.transports", len(transports)),
	))
	defer func() { endSpan(span, err) }()

	if err := object.CheckContext(ctx, "send", ""); err != nil {
		return nil, err
	}
	decomposed, err := serializer.Decompose(root)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("objectgraph.root_id", string(decomposed.RootID)),
		attribute.Int("objectgraph.records", len(decomposed.Records)),
	)

	var (
		failuresMu sync.Mutex
		failures   = make(map[int]error)
	)
	var group errgroup.Group
	for index, target := range transports {
		group.Go(func() error {
			if err := write(ctx, target, decomposed.Records); err != nil {
				failuresMu.Lock()
				failures[index] = err
				failuresMu.Unlock()
			}
			return nil
		})
	}
	group.Wait()

	if err := failures[options.Primary]; err != nil {
		return nil, err
	}
	result = &SendResult{RootID: decomposed.RootID, Records: len(decomposed.Records)}
	for index, failure := range failures {
		if result.Failures == nil {
			result.Failures = make(map[string]error)
		}
		result.Failures[transports[index].Name()] = failure
		logger.Warn("secondary transport failed", "transport", transports[index].Name(), "id", decomposed.RootID, "error", failure)
	}
	logger.Info("sent graph",
		"id", decomposed.RootID,
		"records", len(decomposed.Records),
		"transports", len(transports),
		"failed", len(failures),
	)
	return result, nil
}

// write stores records in target and waits for them to be durable.
// Records end with the root, which is written only after every other
// record is durable, so a failed write never leaves the root without
// its closure.
func write(ctx context.Context, target transport.Transport, records []*object.Record) error {
	if len(records) == 0 {
		return nil
	}
	children, root := records[:len(records)-1], records[len(records)-1]
	target.BeginWrite()
	var writeErr error
	for _, record := range children {
		if writeErr = transport.Put(ctx, target, record); writeErr != nil {
			break
		}
	}
	if err := target.EndWrite(ctx); err != nil && writeErr == nil {
		writeErr = err
	}
	if writeErr != nil {
		return writeErr
	}
	if err := target.WriteComplete(ctx); err != nil {
		return err
	}
	if err := transport.Put(ctx, target, root); err != nil {
		return err
	}
	return target.WriteComplete(ctx)
}

func tracer(provider trace.TracerProvider) trace.Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return provider.Tracer(tracerName)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
