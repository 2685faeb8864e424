// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package redistransport_test

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/transport"
	"github.com/bureau-foundation/objectgraph/lib/transport/redistransport"
	"github.com/bureau-foundation/objectgraph/lib/transport/transporttest"
)

func openTest(t *testing.T, config redistransport.Config) (*redistransport.Transport, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	if config.Client == nil {
		config.URL = "redis://" + server.Addr()
	}
	config.MaxRetries = 1
	store, err := redistransport.Open(context.Background(), config)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, server
}

func TestRedisContract(t *testing.T) {
	transporttest.Run(t, func(t *testing.T) transport.Transport {
		store, _ := openTest(t, redistransport.Config{FlushCount: 100})
		return store
	})
}

func TestKeysUsePrefix(t *testing.T) {
	store, server := openTest(t, redistransport.Config{KeyPrefix: "cache:"})
	record := transporttest.Records("prefix", 1)[0]
	transporttest.Save(t, store, record)

	stored, err := server.Get("cache:" + string(record.ID))
	if err != nil {
		t.Fatalf("key not found under prefix: %v", err)
	}
	if stored != string(transporttest.Encoded(t, record)) {
		t.Error("stored value differs from the record")
	}
}

func TestBatchWritesWaitForEndWrite(t *testing.T) {
	var flushes []int
	store, server := openTest(t, redistransport.Config{
		OnProgress: func(p transport.Progress) { flushes = append(flushes, p.Done) },
	})
	ctx := context.Background()
	records := transporttest.Records("deferred", 3)

	store.BeginWrite()
	for _, record := range records {
		if err := store.SaveObject(ctx, record.ID, transporttest.Encoded(t, record)); err != nil {
			t.Fatal(err)
		}
	}
	if keys := server.Keys(); len(keys) != 0 {
		t.Errorf("%d keys written before EndWrite, want 0", len(keys))
	}
	if err := store.EndWrite(ctx); err != nil {
		t.Fatal(err)
	}
	if keys := server.Keys(); len(keys) != 3 {
		t.Errorf("%d keys after EndWrite, want 3", len(keys))
	}
	if len(flushes) != 1 || flushes[0] != 3 {
		t.Errorf("flush progress = %v, want [3]", flushes)
	}
}

func TestFailedFlushKeepsRecordsBuffered(t *testing.T) {
	store, server := openTest(t, redistransport.Config{})
	ctx := context.Background()
	record := transporttest.Records("buffered", 1)[0]

	server.SetError("READONLY replica")
	err := store.SaveObject(ctx, record.ID, transporttest.Encoded(t, record))
	var transportErr *object.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("SaveObject error = %v, want *TransportError", err)
	}
	if _, err := store.GetObject(ctx, record.ID); err != nil {
		t.Errorf("record of a failed flush is not readable: %v", err)
	}

	server.SetError("")
	if err := store.WriteComplete(ctx); err != nil {
		t.Fatalf("WriteComplete after recovery: %v", err)
	}
	if !server.Exists(redistransport.DefaultKeyPrefix + string(record.ID)) {
		t.Error("record missing from Redis after the retried flush")
	}
}

func TestGetObjectsSkipsMissing(t *testing.T) {
	store, _ := openTest(t, redistransport.Config{})
	records := transporttest.Records("mget", 3)
	transporttest.Save(t, store, records[0], records[2])

	got := make(map[object.ID]bool)
	err := store.GetObjects(context.Background(), []object.ID{records[0].ID, records[1].ID, records[2].ID}, func(id object.ID, data []byte) error {
		got[id] = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || !got[records[0].ID] || !got[records[2].ID] {
		t.Errorf("GetObjects delivered %v, want records 0 and 2", got)
	}
}

func TestSharedClientIsNotClosed(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	store, err := redistransport.Open(context.Background(), redistransport.Config{Client: client})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Errorf("shared client unusable after Close: %v", err)
	}
}

func TestOpenFailsWithoutServer(t *testing.T) {
	server := miniredis.RunT(t)
	address := server.Addr()
	server.Close()
	_, err := redistransport.Open(context.Background(), redistransport.Config{URL: "redis://" + address, MaxRetries: 1})
	if err == nil {
		t.Fatal("Open succeeded with no server listening")
	}
}
