// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transporttest checks that a transport.Transport
// implementation honors the storage contract. Every backend's tests run
// the same suite:
//
//	func TestContract(t *testing.T) {
//		transporttest.Run(t, func(t *testing.T) transport.Transport {
//			return newTestTransport(t)
//		})
//	}
package transporttest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bureau-foundation/objectgraph/lib/codec"
	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/transport"
)

// Records returns n distinct valid records. Records with the same label
// and index are identical across calls.
func Records(label string, n int) []*object.Record {
	records := make([]*object.Record, n)
	for i := range records {
		payload, err := codec.Marshal(map[string]any{
			"type":  "Test",
			"props": map[string]any{"label": label, "index": i},
		})
		if err != nil {
			panic(fmt.Sprintf("transporttest: encoding payload: %v", err))
		}
		records[i] = &object.Record{ID: object.HashPayload(payload), Payload: payload}
	}
	return records
}

// Encoded returns the stored form of record.
func Encoded(t *testing.T, record *object.Record) []byte {
	t.Helper()
	data, err := record.Encode()
	if err != nil {
		t.Fatalf("encoding record: %v", err)
	}
	return data
}

// Save stores records and waits for durability.
func Save(t *testing.T, target transport.Transport, records ...*object.Record) {
	t.Helper()
	ctx := context.Background()
	target.BeginWrite()
	for _, record := range records {
		if err := target.SaveObject(ctx, record.ID, Encoded(t, record)); err != nil {
			t.Fatalf("SaveObject(%s): %v", record.ID.Short(), err)
		}
	}
	if err := target.EndWrite(ctx); err != nil {
		t.Fatalf("EndWrite: %v", err)
	}
	if err := target.WriteComplete(ctx); err != nil {
		t.Fatalf("WriteComplete: %v", err)
	}
}

// Run runs the contract suite. newTransport must return an empty
// transport; it is called once per subtest.
func Run(t *testing.T, newTransport func(t *testing.T) transport.Transport) {
	t.Run("SaveAndGet", func(t *testing.T) {
		target := newTransport(t)
		records := Records("save", 5)
		Save(t, target, records...)
		for _, record := range records {
			data, err := target.GetObject(context.Background(), record.ID)
			if err != nil {
				t.Fatalf("GetObject(%s): %v", record.ID.Short(), err)
			}
			if !bytes.Equal(data, Encoded(t, record)) {
				t.Errorf("GetObject(%s) returned different bytes", record.ID.Short())
			}
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		target := newTransport(t)
		missing := Records("missing", 1)[0].ID
		_, err := target.GetObject(context.Background(), missing)
		if !object.IsNotFound(err) {
			t.Fatalf("error = %v, want not found", err)
		}
		var transportErr *object.TransportError
		if !errors.As(err, &transportErr) {
			t.Fatalf("error %T is not a *TransportError", err)
		}
		if transportErr.ID != missing || transportErr.Transport != target.Name() {
			t.Errorf("error names %s on %q, want %s on %q", transportErr.ID.Short(), transportErr.Transport, missing.Short(), target.Name())
		}
	})

	t.Run("SaveIsIdempotent", func(t *testing.T) {
		target := newTransport(t)
		record := Records("idempotent", 1)[0]
		Save(t, target, record)
		Save(t, target, record)
		data, err := target.GetObject(context.Background(), record.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(data, Encoded(t, record)) {
			t.Error("record changed after a second save")
		}
	})

	t.Run("HasObjects", func(t *testing.T) {
		target := newTransport(t)
		stored := Records("stored", 3)
		absent := Records("absent", 2)
		Save(t, target, stored...)

		var ids []object.ID
		for _, record := range append(append([]*object.Record{}, stored...), absent...) {
			ids = append(ids, record.ID)
		}
		present, err := target.HasObjects(context.Background(), ids)
		if err != nil {
			t.Fatalf("HasObjects: %v", err)
		}
		if len(present) != len(ids) {
			t.Errorf("HasObjects returned %d entries for %d ids", len(present), len(ids))
		}
		for _, record := range stored {
			if !present[record.ID] {
				t.Errorf("stored record %s reported absent", record.ID.Short())
			}
		}
		for _, record := range absent {
			if present[record.ID] {
				t.Errorf("absent record %s reported present", record.ID.Short())
			}
		}

		empty, err := target.HasObjects(context.Background(), nil)
		if err != nil || len(empty) != 0 {
			t.Errorf("HasObjects(nil) = %v, %v; want empty", empty, err)
		}
	})

	t.Run("HasObjectsLargeBatch", func(t *testing.T) {
		target := newTransport(t)
		records := Records("large", 1200)
		Save(t, target, records[:700]...)
		ids := make([]object.ID, len(records))
		for i, record := range records {
			ids[i] = record.ID
		}
		present, err := target.HasObjects(context.Background(), ids)
		if err != nil {
			t.Fatal(err)
		}
		for i, id := range ids {
			if present[id] != (i < 700) {
				t.Fatalf("record %d: present = %v", i, present[id])
			}
		}
	})

	t.Run("ReadsOwnWritesInsideBatch", func(t *testing.T) {
		target := newTransport(t)
		ctx := context.Background()
		record := Records("batched", 1)[0]

		target.BeginWrite()
		if err := target.SaveObject(ctx, record.ID, Encoded(t, record)); err != nil {
			t.Fatal(err)
		}
		if _, err := target.GetObject(ctx, record.ID); err != nil {
			t.Errorf("GetObject inside batch: %v", err)
		}
		present, err := target.HasObjects(ctx, []object.ID{record.ID})
		if err != nil || !present[record.ID] {
			t.Errorf("HasObjects inside batch = %v, %v", present, err)
		}
		if err := target.EndWrite(ctx); err != nil {
			t.Fatal(err)
		}
		if err := target.WriteComplete(ctx); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("NestedBatches", func(t *testing.T) {
		target := newTransport(t)
		ctx := context.Background()
		records := Records("nested", 4)

		target.BeginWrite()
		target.BeginWrite()
		for _, record := range records[:2] {
			if err := target.SaveObject(ctx, record.ID, Encoded(t, record)); err != nil {
				t.Fatal(err)
			}
		}
		if err := target.EndWrite(ctx); err != nil {
			t.Fatalf("inner EndWrite: %v", err)
		}
		for _, record := range records[2:] {
			if err := target.SaveObject(ctx, record.ID, Encoded(t, record)); err != nil {
				t.Fatal(err)
			}
		}
		if err := target.EndWrite(ctx); err != nil {
			t.Fatalf("outer EndWrite: %v", err)
		}
		if err := target.WriteComplete(ctx); err != nil {
			t.Fatal(err)
		}
		for _, record := range records {
			if _, err := target.GetObject(ctx, record.ID); err != nil {
				t.Errorf("GetObject(%s): %v", record.ID.Short(), err)
			}
		}
	})

	t.Run("UnbalancedEndWrite", func(t *testing.T) {
		target := newTransport(t)
		if err := target.EndWrite(context.Background()); !errors.Is(err, transport.ErrUnbalancedBatch) {
			t.Errorf("error = %v, want ErrUnbalancedBatch", err)
		}
	})

	t.Run("InterleavedWriters", func(t *testing.T) {
		target := newTransport(t)
		ctx := context.Background()
		shared := Records("shared", 10)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for writer := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				target.BeginWrite()
				records := append(Records(fmt.Sprintf("writer-%d", writer), 10), shared...)
				for _, record := range records {
					data, err := record.Encode()
					if err != nil {
						errs <- err
						return
					}
					if err := target.SaveObject(ctx, record.ID, data); err != nil {
						errs <- err
						return
					}
				}
				if err := target.EndWrite(ctx); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Errorf("writer: %v", err)
		}
		if err := target.WriteComplete(ctx); err != nil {
			t.Fatal(err)
		}

		var ids []object.ID
		for writer := range 8 {
			for _, record := range Records(fmt.Sprintf("writer-%d", writer), 10) {
				ids = append(ids, record.ID)
			}
		}
		for _, record := range shared {
			ids = append(ids, record.ID)
		}
		present, err := target.HasObjects(ctx, ids)
		if err != nil {
			t.Fatal(err)
		}
		for _, id := range ids {
			if !present[id] {
				t.Errorf("record %s lost", id.Short())
			}
		}
	})

	t.Run("SaveObjectFrom", func(t *testing.T) {
		target := newTransport(t)
		ctx := context.Background()
		source := transport.NewMemory("source")
		record := Records("streamed", 1)[0]
		Save(t, source, record)

		if err := target.SaveObjectFrom(ctx, record.ID, source); err != nil {
			t.Fatalf("SaveObjectFrom: %v", err)
		}
		if err := target.WriteComplete(ctx); err != nil {
			t.Fatal(err)
		}
		data, err := target.GetObject(ctx, record.ID)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(data, Encoded(t, record)) {
			t.Error("streamed record differs from the source")
		}

		missing := Records("not-in-source", 1)[0].ID
		if err := target.SaveObjectFrom(ctx, missing, source); !object.IsNotFound(err) {
			t.Errorf("SaveObjectFrom of a missing id: error = %v, want not found", err)
		}
	})

	t.Run("CancelledContext", func(t *testing.T) {
		target := newTransport(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		record := Records("cancelled", 1)[0]
		if _, err := target.GetObject(ctx, record.ID); err == nil {
			t.Error("GetObject with a cancelled context succeeded")
		}
	})
}
