// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitetransport

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/transport"
	"github.com/bureau-foundation/objectgraph/lib/transport/transporttest"
)

func openTestTransport(t *testing.T, config Config) *Transport {
	t.Helper()
	if config.Path == "" {
		config.Path = filepath.Join(t.TempDir(), "objects.db")
	}
	store, err := Open(config)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return store
}

func TestContract(t *testing.T) {
	transporttest.Run(t, func(t *testing.T) transport.Transport {
		return openTestTransport(t, Config{})
	})
}

// committed reports whether id is visible to a separate transport on
// the same database, which only sees flushed rows.
func committed(t *testing.T, path string, id object.ID) bool {
	t.Helper()
	observer := openTestTransport(t, Config{Path: path})
	present, err := observer.HasObjects(context.Background(), []object.ID{id})
	if err != nil {
		t.Fatal(err)
	}
	return present[id]
}

func TestBatchedWritesFlushAtOutermostEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.db")
	store := openTestTransport(t, Config{Path: path})
	ctx := context.Background()
	record := transporttest.Records("batched", 1)[0]

	store.BeginWrite()
	store.BeginWrite()
	if err := store.SaveObject(ctx, record.ID, transporttest.Encoded(t, record)); err != nil {
		t.Fatal(err)
	}
	if err := store.EndWrite(ctx); err != nil {
		t.Fatal(err)
	}
	if committed(t, path, record.ID) {
		t.Fatal("record committed before the outermost EndWrite")
	}
	if err := store.EndWrite(ctx); err != nil {
		t.Fatal(err)
	}
	if !committed(t, path, record.ID) {
		t.Fatal("record not committed after the outermost EndWrite")
	}
}

func TestUnbatchedWriteIsImmediate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.db")
	store := openTestTransport(t, Config{Path: path})
	record := transporttest.Records("immediate", 1)[0]
	if err := store.SaveObject(context.Background(), record.ID, transporttest.Encoded(t, record)); err != nil {
		t.Fatal(err)
	}
	if !committed(t, path, record.ID) {
		t.Error("write outside a batch was buffered")
	}
}

func TestFlushThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.db")
	var reports []transport.Progress
	store := openTestTransport(t, Config{
		Path:       path,
		FlushCount: 3,
		OnProgress: func(progress transport.Progress) { reports = append(reports, progress) },
	})
	ctx := context.Background()
	records := transporttest.Records("threshold", 4)

	store.BeginWrite()
	for _, record := range records[:3] {
		if err := store.SaveObject(ctx, record.ID, transporttest.Encoded(t, record)); err != nil {
			t.Fatal(err)
		}
	}
	if !committed(t, path, records[2].ID) {
		t.Error("buffer not flushed on reaching FlushCount")
	}
	if err := store.SaveObject(ctx, records[3].ID, transporttest.Encoded(t, records[3])); err != nil {
		t.Fatal(err)
	}
	if committed(t, path, records[3].ID) {
		t.Error("record below the threshold committed early")
	}
	if err := store.WriteComplete(ctx); err != nil {
		t.Fatal(err)
	}
	if !committed(t, path, records[3].ID) {
		t.Error("WriteComplete did not flush")
	}
	if err := store.EndWrite(ctx); err != nil {
		t.Fatal(err)
	}

	if len(reports) != 2 {
		t.Fatalf("got %d progress reports, want 2", len(reports))
	}
	if last := reports[1]; last.Done != 4 || last.Operation != "flush" || last.Transport != store.Name() {
		t.Errorf("last report = %+v", last)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "objects.db")
	records := transporttest.Records("reopen", 5)

	first, err := Open(Config{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	first.BeginWrite()
	for _, record := range records {
		if err := first.SaveObject(context.Background(), record.ID, transporttest.Encoded(t, record)); err != nil {
			t.Fatal(err)
		}
	}
	// Close flushes the open batch.
	if err := first.Close(); err != nil {
		t.Fatal(err)
	}

	second := openTestTransport(t, Config{Path: path})
	for _, record := range records {
		data, err := second.GetObject(context.Background(), record.ID)
		if err != nil {
			t.Fatalf("GetObject(%s): %v", record.ID.Short(), err)
		}
		if !bytes.Equal(data, transporttest.Encoded(t, record)) {
			t.Errorf("record %s differs after reopen", record.ID.Short())
		}
	}
}

func TestGetObjects(t *testing.T) {
	store := openTestTransport(t, Config{})
	records := transporttest.Records("batch-get", 1100)
	transporttest.Save(t, store, records[:1000]...)

	// One buffered record must be returned too.
	store.BeginWrite()
	if err := store.SaveObject(context.Background(), records[1000].ID, transporttest.Encoded(t, records[1000])); err != nil {
		t.Fatal(err)
	}

	ids := make([]object.ID, len(records))
	for i, record := range records {
		ids[i] = record.ID
	}
	got := make(map[object.ID][]byte)
	err := store.GetObjects(context.Background(), ids, func(id object.ID, data []byte) error {
		got[id] = data
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1001 {
		t.Errorf("GetObjects returned %d records, want 1001", len(got))
	}
	if !bytes.Equal(got[records[1000].ID], transporttest.Encoded(t, records[1000])) {
		t.Error("buffered record missing or different")
	}
	if err := store.EndWrite(context.Background()); err != nil {
		t.Fatal(err)
	}
}
