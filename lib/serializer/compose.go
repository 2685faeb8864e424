// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serializer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/bureau-foundation/objectgraph/lib/codec"
	"github.com/bureau-foundation/objectgraph/lib/node"
	"github.com/bureau-foundation/objectgraph/lib/object"
)

// DefaultConcurrency is the number of simultaneous record fetches a
// [Composer] issues when Concurrency is zero.
const DefaultConcurrency = 8

// Source is where a [Composer] reads records from. Every transport
// satisfies it.
type Source interface {
	GetObject(ctx context.Context, id object.ID) ([]byte, error)
}

// Composer rebuilds node graphs from records. A Composer holds only
// configuration and may be used for any number of concurrent Compose
// calls.
type Composer struct {
	// Registry turns stored type chains into nodes. Required.
	Registry *node.Registry

	// Sources are consulted in order for each record. A record missing
	// from one source is looked up in the next.
	Sources []Source

	// Concurrency bounds simultaneous record fetches. Zero means
	// DefaultConcurrency.
	Concurrency int

	// Tolerant makes a failure to resolve one reference replace that
	// branch with nil instead of failing the whole compose. The root
	// record must still resolve, and cancellation is always fatal.
	Tolerant bool

	// OnError receives each tolerated failure with the id of the
	// branch that was replaced. Calls are serialized. Optional.
	OnError func(id object.ID, err error)

	// Logger receives tolerated failures at warn level. Nil discards.
	Logger *slog.Logger
}

// Compose fetches the record for id and rebuilds its node graph. A node
// referenced from several places in the graph is composed once and the
// same *node.Node appears at each place.
//
// Failures are *object.DeserializationError (missing from every source,
// corrupt, hash mismatch, unresolved type) or *object.CancellationError.
func (c *Composer) Compose(ctx context.Context, id object.ID) (*node.Node, error) {
	if c.Registry == nil {
		return nil, fmt.Errorf("serializer: Composer.Registry is nil")
	}
	if len(c.Sources) == 0 {
		return nil, fmt.Errorf("serializer: Composer has no sources")
	}
	concurrency := c.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	r := &composeRun{
		composer: c,
		logger:   logger,
		fetches:  semaphore.NewWeighted(int64(concurrency)),
		done:     make(map[object.ID]composed),
	}
	value, err := r.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	root, ok := value.(*node.Node)
	if !ok {
		return nil, &object.DeserializationError{Op: "compose", ID: id, Err: fmt.Errorf("%w: root record is a %s", object.ErrCorrupt, ChunkType)}
	}
	return root, nil
}

type composed struct {
	value any
	err   error
}

// composeRun is the state of one Compose call.
type composeRun struct {
	composer *Composer
	logger   *slog.Logger
	fetches  *semaphore.Weighted
	flight   singleflight.Group

	mu   sync.Mutex
	done map[object.ID]composed

	reportMu sync.Mutex
}

// reference is an unresolved placeholder found while decoding a
// payload: a single detached node, or the ordered chunks of a list.
type reference struct {
	ids     []object.ID
	chunked bool
	assign  func(value any)

	values []any
	errs   []error
}

// resolve returns the composed value of one record: a *node.Node, or
// the element list of a chunk record.
func (r *composeRun) resolve(ctx context.Context, id object.ID) (any, error) {
	r.mu.Lock()
	if result, ok := r.done[id]; ok {
		r.mu.Unlock()
		return result.value, result.err
	}
	r.mu.Unlock()

	value, err, _ := r.flight.Do(string(id), func() (any, error) {
		r.mu.Lock()
		result, ok := r.done[id]
		r.mu.Unlock()
		if ok {
			return result.value, result.err
		}
		value, err := r.composeRecord(ctx, id)
		r.mu.Lock()
		r.done[id] = composed{value: value, err: err}
		r.mu.Unlock()
		return value, err
	})
	return value, err
}

func (r *composeRun) composeRecord(ctx context.Context, id object.ID) (any, error) {
	if err := object.CheckContext(ctx, "compose", id); err != nil {
		return nil, err
	}
	record, err := r.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	var tree any
	if err := codec.Unmarshal(record.Payload, &tree); err != nil {
		return nil, &object.DeserializationError{Op: "decode payload", ID: id, Err: fmt.Errorf("%w: %v", object.ErrCorrupt, err)}
	}
	typeChain, props, err := parseBody(tree)
	if err != nil {
		return nil, &object.DeserializationError{Op: "decode payload", ID: id, Err: err}
	}

	var references []*reference
	var result any
	if typeChain == ChunkType {
		data, ok := props[fieldData].([]any)
		if !ok {
			return nil, &object.DeserializationError{Op: "decode payload", ID: id, Err: fmt.Errorf("%w: chunk has no data list", object.ErrCorrupt)}
		}
		for i := range data {
			if err := r.decodeInto(data[i], func(v any) { data[i] = v }, &references); err != nil {
				return nil, &object.DeserializationError{Op: "decode payload", ID: id, Err: err}
			}
		}
		result = data
	} else {
		built, err := r.buildNode(typeChain, props, &references)
		if err != nil {
			return nil, &object.DeserializationError{Op: "decode payload", ID: id, Err: err}
		}
		result = built
	}

	if err := r.resolveReferences(ctx, references); err != nil {
		return nil, err
	}
	return result, nil
}

// fetch reads and verifies the record for id, trying each source in
// order. A source holding a corrupt copy is skipped like one holding
// none.
func (r *composeRun) fetch(ctx context.Context, id object.ID) (*object.Record, error) {
	if err := r.fetches.Acquire(ctx, 1); err != nil {
		return nil, &object.CancellationError{Op: "fetch record", ID: id, Err: err}
	}
	defer r.fetches.Release(1)

	var failures []error
	for _, source := range r.composer.Sources {
		data, err := source.GetObject(ctx, id)
		if err != nil {
			if cancelled := object.CheckContext(ctx, "fetch record", id); cancelled != nil {
				return nil, cancelled
			}
			if !object.IsNotFound(err) {
				failures = append(failures, err)
			}
			continue
		}
		record, err := object.DecodeRecord(id, data)
		if err != nil {
			r.logger.Warn("corrupt record, trying next source", "id", id, "error", err)
			failures = append(failures, err)
			continue
		}
		if !id.Verify(record.Payload) {
			r.logger.Warn("record does not hash to its id, trying next source", "id", id)
			failures = append(failures, &object.DeserializationError{Op: "verify record", ID: id, Err: fmt.Errorf("%w: payload does not hash to its id", object.ErrCorrupt)})
			continue
		}
		return record, nil
	}
	if len(failures) > 0 {
		return nil, &object.DeserializationError{Op: "fetch record", ID: id, Err: errors.Join(failures...)}
	}
	return nil, &object.DeserializationError{Op: "fetch record", ID: id, Err: fmt.Errorf("%w in %d sources", object.ErrNotFound, len(r.composer.Sources))}
}

// buildNode instantiates a node for typeChain and decodes its
// properties.
func (r *composeRun) buildNode(typeChain string, props map[string]any, references *[]*reference) (*node.Node, error) {
	built, err := r.composer.Registry.Instantiate(typeChain)
	if err != nil {
		return nil, err
	}
	for name, value := range props {
		if err := r.decodeInto(value, func(v any) { built.Set(name, v) }, references); err != nil {
			return nil, fmt.Errorf("property %s: %w", name, err)
		}
	}
	return built, nil
}

// decodeInto converts one decoded CBOR value back into a property
// value and stores it with set. Values behind references are stored
// later, once resolved.
func (r *composeRun) decodeInto(value any, set func(any), references *[]*reference) error {
	switch v := value.(type) {
	case codec.Tag:
		switch v.Number {
		case tagInlineNode:
			typeChain, props, err := parseBody(v.Content)
			if err != nil {
				return err
			}
			inline, err := r.buildNode(typeChain, props, references)
			if err != nil {
				return err
			}
			set(inline)
		case tagReference:
			id, err := parseReference(v.Content)
			if err != nil {
				return err
			}
			set(nil)
			*references = append(*references, &reference{ids: []object.ID{id}, assign: set})
		case tagChunkList:
			ids, err := parseChunkList(v.Content)
			if err != nil {
				return err
			}
			set(nil)
			*references = append(*references, &reference{ids: ids, chunked: true, assign: set})
		default:
			return fmt.Errorf("%w: unknown tag %d", object.ErrCorrupt, v.Number)
		}
	case []any:
		for i := range v {
			if err := r.decodeInto(v[i], func(element any) { v[i] = element }, references); err != nil {
				return err
			}
		}
		set(v)
	case map[string]any:
		for key := range v {
			if err := r.decodeInto(v[key], func(element any) { v[key] = element }, references); err != nil {
				return err
			}
		}
		set(v)
	case uint64:
		if v <= math.MaxInt64 {
			set(int64(v))
		} else {
			set(v)
		}
	default:
		set(value)
	}
	return nil
}

// resolveReferences composes every referenced record concurrently and
// stores the results. Assignment happens after all branches finish, on
// the calling goroutine, so containers are never written concurrently.
func (r *composeRun) resolveReferences(ctx context.Context, references []*reference) error {
	if len(references) == 0 {
		return nil
	}
	group, groupCtx := errgroup.WithContext(ctx)
	for _, ref := range references {
		ref.values = make([]any, len(ref.ids))
		ref.errs = make([]error, len(ref.ids))
		for i, id := range ref.ids {
			group.Go(func() error {
				value, err := r.resolveBranch(groupCtx, id, ref.chunked)
				if err != nil {
					if !r.composer.Tolerant || object.IsCancelled(err) {
						return err
					}
					ref.errs[i] = err
					return nil
				}
				ref.values[i] = value
				return nil
			})
		}
	}
	if err := group.Wait(); err != nil {
		return err
	}

	for _, ref := range references {
		if r.reportFailures(ref) {
			ref.assign(nil)
			continue
		}
		if !ref.chunked {
			ref.assign(ref.values[0])
			continue
		}
		var list []any
		for _, chunk := range ref.values {
			list = append(list, chunk.([]any)...)
		}
		if list == nil {
			list = []any{}
		}
		ref.assign(list)
	}
	return nil
}

// resolveBranch composes one referenced record and checks that it is
// the kind the reference expects.
func (r *composeRun) resolveBranch(ctx context.Context, id object.ID, chunk bool) (any, error) {
	value, err := r.resolve(ctx, id)
	if err != nil {
		return nil, err
	}
	switch value.(type) {
	case []any:
		if !chunk {
			return nil, &object.DeserializationError{Op: "compose", ID: id, Err: fmt.Errorf("%w: reference points at a %s", object.ErrCorrupt, ChunkType)}
		}
	case *node.Node:
		if chunk {
			return nil, &object.DeserializationError{Op: "compose", ID: id, Err: fmt.Errorf("%w: chunk reference points at a node", object.ErrCorrupt)}
		}
	}
	return value, nil
}

// reportFailures reports the tolerated failures of ref and returns
// whether there were any. A chunked list with any failed chunk
// is replaced by nil as a whole.
func (r *composeRun) reportFailures(ref *reference) bool {
	failed := false
	for i, err := range ref.errs {
		if err == nil {
			continue
		}
		failed = true
		r.logger.Warn("substituting nil for unresolvable branch", "id", ref.ids[i], "error", err)
		if r.composer.OnError != nil {
			r.reportMu.Lock()
			r.composer.OnError(ref.ids[i], err)
			r.reportMu.Unlock()
		}
	}
	return failed
}
