// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package object

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel causes. Every typed error below unwraps to one of these (or
// to an underlying I/O or network error), so callers can branch with
// errors.Is without caring which layer produced the failure.
var (
	// ErrNotFound means a transport does not hold the requested id.
	ErrNotFound = errors.New("object not found")

	// ErrCycle means decomposition found a node that is its own
	// ancestor. Object graphs must be acyclic.
	ErrCycle = errors.New("reference cycle")

	// ErrUnsupportedValue means a property holds a Go value the
	// serializer cannot encode.
	ErrUnsupportedValue = errors.New("unsupported value type")

	// ErrUnresolvedType means no segment of a type chain is known to
	// the type registry.
	ErrUnresolvedType = errors.New("unresolved type discriminator")

	// ErrCorrupt means stored bytes are unparseable or do not hash to
	// their id.
	ErrCorrupt = errors.New("corrupt record")
)

// SerializationError reports a failure to decompose a node graph.
// Records do not have ids until decomposition finishes, so the error
// locates the failure by property path instead.
type SerializationError struct {
	Op   string
	Path string
	Err  error
}

func (e *SerializationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("serialization: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("serialization: %s at %s: %v", e.Op, e.Path, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// DeserializationError reports a failure to rebuild a node from a
// record: the record is missing from every source, unparseable, fails
// hash verification, or names an unknown type.
type DeserializationError struct {
	Op  string
	ID  ID
	Err error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("deserialization: %s %s: %v", e.Op, e.ID.Short(), e.Err)
}

func (e *DeserializationError) Unwrap() error { return e.Err }

// TransportError reports a storage or network failure. Transient
// remote failures have already been retried by the transport when
// this error surfaces.
type TransportError struct {
	Op        string
	Transport string
	ID        ID
	Err       error
}

func (e *TransportError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("transport %s: %s: %v", e.Transport, e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s: %s %s: %v", e.Transport, e.Op, e.ID.Short(), e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CancellationError reports that an operation stopped because its
// context was cancelled. It unwraps to the context error, so
// errors.Is(err, context.Canceled) holds.
type CancellationError struct {
	Op  string
	ID  ID
	Err error
}

func (e *CancellationError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s cancelled: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s cancelled: %v", e.Op, e.ID.Short(), e.Err)
}

func (e *CancellationError) Unwrap() error { return e.Err }

// CheckContext returns a *CancellationError if ctx is done. Long
// operations call it between record-level steps, never in the middle
// of a single record transfer.
func CheckContext(ctx context.Context, op string, id ID) error {
	if err := ctx.Err(); err != nil {
		return &CancellationError{Op: op, ID: id, Err: err}
	}
	return nil
}

// IsNotFound reports whether err means the requested object is absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsCancelled reports whether err came from context cancellation or
// deadline expiry.
func IsCancelled(err error) bool {
	var cancelled *CancellationError
	if errors.As(err, &cancelled) {
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
