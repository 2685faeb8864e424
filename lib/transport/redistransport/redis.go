// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package redistransport stores records in Redis, one string key per
// record. It suits a cache shared by several hosts on a network where a
// full object server is unwarranted.
//
// Writes inside a batch are buffered and sent as one pipeline of SETNX
// commands when the outermost batch ends, when the buffer reaches
// FlushCount records or FlushBytes bytes, or at WriteComplete. A write
// outside any batch is sent before SaveObject returns. Buffered records
// are readable at once. Existence checks pipeline one EXISTS per id and
// batch reads use MGET.
//
// Redis is reached over the network, so commands that fail on a broken
// connection are retried with exponential backoff by the client
// library, up to MaxRetries times. The error that remains after that is
// returned as an *object.TransportError and a failed flush keeps its
// records buffered for the next one.
package redistransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/transport"
)

// Defaults for [Config].
const (
	DefaultKeyPrefix  = "objectgraph:obj:"
	DefaultFlushCount = 500
	DefaultFlushBytes = 4 << 20
	DefaultMaxRetries = 5
)

// queryBatchSize bounds the keys in one MGET or EXISTS pipeline.
const queryBatchSize = 500

// Config configures a Redis transport.
type Config struct {
	// URL is a redis:// or rediss:// connection string. Ignored when
	// Client is set. Defaults to "redis://localhost:6379".
	URL string

	// Client is an existing client to use. The transport does not
	// close it.
	Client *redis.Client

	// KeyPrefix is prepended to each id to form its key.
	KeyPrefix string

	// Name identifies the transport. Defaults to "redis:<address>".
	Name string

	// FlushCount and FlushBytes trigger a flush of buffered batch
	// writes. Zero means the package default.
	FlushCount int
	FlushBytes int

	// MaxRetries bounds the client library's retries of a command that
	// failed on the network. Ignored when Client is set.
	MaxRetries int

	// OnProgress receives a report after each flush. Optional.
	OnProgress transport.ProgressFunc

	// Logger receives flush messages. Nil discards.
	Logger *slog.Logger
}

// Transport is a [transport.Transport] over Redis. Safe for concurrent
// use; flushes are serialized.
type Transport struct {
	client     *redis.Client
	ownsClient bool
	prefix     string
	name       string
	flushCount int
	flushBytes int
	onProgress transport.ProgressFunc
	logger     *slog.Logger

	pending *transport.PendingWrites
	batch   transport.Batch

	flushMu sync.Mutex
	flushed int
}

// Open connects to Redis and checks the connection with PING.
func Open(ctx context.Context, config Config) (*Transport, error) {
	client := config.Client
	ownsClient := false
	if client == nil {
		url := config.URL
		if url == "" {
			url = "redis://localhost:6379"
		}
		options, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("redistransport: parsing URL: %w", err)
		}
		options.MaxRetries = config.MaxRetries
		if options.MaxRetries <= 0 {
			options.MaxRetries = DefaultMaxRetries
		}
		options.MinRetryBackoff = 50 * time.Millisecond
		options.MaxRetryBackoff = 2 * time.Second
		client = redis.NewClient(options)
		ownsClient = true
	}
	if err := client.Ping(ctx).Err(); err != nil {
		if ownsClient {
			client.Close()
		}
		return nil, fmt.Errorf("redistransport: connecting to %s: %w", client.Options().Addr, err)
	}

	name := config.Name
	if name == "" {
		name = "redis:" + client.Options().Addr
	}
	prefix := config.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	flushCount := config.FlushCount
	if flushCount <= 0 {
		flushCount = DefaultFlushCount
	}
	flushBytes := config.FlushBytes
	if flushBytes <= 0 {
		flushBytes = DefaultFlushBytes
	}
	return &Transport{
		client:     client,
		ownsClient: ownsClient,
		prefix:     prefix,
		name:       name,
		flushCount: flushCount,
		flushBytes: flushBytes,
		onProgress: config.OnProgress,
		logger:     logger,
		pending:    transport.NewPendingWrites(),
	}, nil
}

// Name returns the transport name.
func (t *Transport) Name() string { return t.name }

func (t *Transport) key(id object.ID) string { return t.prefix + string(id) }

// SaveObject buffers data under id and flushes when the buffer is full
// or no batch is open.
func (t *Transport) SaveObject(ctx context.Context, id object.ID, data []byte) error {
	if err := object.CheckContext(ctx, "save", id); err != nil {
		return err
	}
	t.pending.Add(id, data)
	if !t.batch.Active() || t.pending.Len() >= t.flushCount || t.pending.Size() >= t.flushBytes {
		return t.flush(ctx)
	}
	return nil
}

// SaveObjectFrom copies the record from source unless it is already
// stored.
func (t *Transport) SaveObjectFrom(ctx context.Context, id object.ID, source transport.Transport) error {
	present, err := t.HasObjects(ctx, []object.ID{id})
	if err != nil {
		return err
	}
	if present[id] {
		return nil
	}
	reader, err := transport.OpenObject(ctx, source, id)
	if err != nil {
		return err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return t.fail("save from "+source.Name(), id, err)
	}
	return t.SaveObject(ctx, id, data)
}

// GetObject returns the record for id from the buffer or Redis.
func (t *Transport) GetObject(ctx context.Context, id object.ID) ([]byte, error) {
	if err := object.CheckContext(ctx, "get", id); err != nil {
		return nil, err
	}
	if data, ok := t.pending.Get(id); ok {
		return append([]byte(nil), data...), nil
	}
	data, err := t.client.Get(ctx, t.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, transport.NotFound(t.name, "get", id)
		}
		return nil, t.commandError(ctx, "get", id, err)
	}
	return data, nil
}

// GetObjects implements [transport.BatchGetter] with one MGET per
// batch of ids.
func (t *Transport) GetObjects(ctx context.Context, ids []object.ID, fn func(id object.ID, data []byte) error) error {
	var stored []object.ID
	for _, id := range ids {
		if data, ok := t.pending.Get(id); ok {
			if err := fn(id, append([]byte(nil), data...)); err != nil {
				return err
			}
			continue
		}
		stored = append(stored, id)
	}
	for start := 0; start < len(stored); start += queryBatchSize {
		batch := stored[start:min(start+queryBatchSize, len(stored))]
		keys := make([]string, len(batch))
		for i, id := range batch {
			keys[i] = t.key(id)
		}
		values, err := t.client.MGet(ctx, keys...).Result()
		if err != nil {
			return t.commandError(ctx, "get", "", err)
		}
		for i, value := range values {
			text, ok := value.(string)
			if !ok {
				continue
			}
			if err := fn(batch[i], []byte(text)); err != nil {
				return err
			}
		}
	}
	return nil
}

// HasObjects checks the buffer, then pipelines EXISTS for the rest.
func (t *Transport) HasObjects(ctx context.Context, ids []object.ID) (map[object.ID]bool, error) {
	if err := object.CheckContext(ctx, "has", ""); err != nil {
		return nil, err
	}
	present := make(map[object.ID]bool, len(ids))
	var unknown []object.ID
	for _, id := range ids {
		if t.pending.Has(id) {
			present[id] = true
			continue
		}
		present[id] = false
		unknown = append(unknown, id)
	}
	for start := 0; start < len(unknown); start += queryBatchSize {
		batch := unknown[start:min(start+queryBatchSize, len(unknown))]
		results := make([]*redis.IntCmd, len(batch))
		_, err := t.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, id := range batch {
				results[i] = pipe.Exists(ctx, t.key(id))
			}
			return nil
		})
		if err != nil {
			return nil, t.commandError(ctx, "has", "", err)
		}
		for i, result := range results {
			if result.Val() > 0 {
				present[batch[i]] = true
			}
		}
	}
	return present, nil
}

// BeginWrite opens a batch.
func (t *Transport) BeginWrite() { t.batch.Begin() }

// EndWrite closes a batch; the outermost EndWrite flushes.
func (t *Transport) EndWrite(ctx context.Context) error {
	outermost, err := t.batch.End()
	if err != nil {
		return err
	}
	if outermost {
		return t.flush(ctx)
	}
	return nil
}

// WriteComplete flushes everything buffered.
func (t *Transport) WriteComplete(ctx context.Context) error {
	return t.flush(ctx)
}

// Close flushes buffered writes and closes the client if the transport
// created it.
func (t *Transport) Close() error {
	err := t.flush(context.Background())
	if t.ownsClient {
		if closeErr := t.client.Close(); err == nil {
			err = closeErr
		}
	}
	return err
}

// flush sends every buffered record in one pipeline. SETNX leaves an
// existing key untouched, which is correct since equal ids mean equal
// content.
func (t *Transport) flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	entries := t.pending.Take()
	if len(entries) == 0 {
		return nil
	}
	_, err := t.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, entry := range entries {
			pipe.SetNX(ctx, t.key(entry.ID), entry.Data, 0)
		}
		return nil
	})
	if err != nil {
		t.pending.Restore(entries)
		t.logger.Error("flush failed", "transport", t.name, "records", len(entries), "error", err)
		return t.commandError(ctx, "flush", "", err)
	}
	t.pending.Release(entries)
	t.flushed += len(entries)
	t.logger.Debug("flushed records", "transport", t.name, "records", len(entries))
	if t.onProgress != nil {
		t.onProgress(transport.Progress{Transport: t.name, Operation: "flush", Done: t.flushed})
	}
	return nil
}

// commandError classifies a failed command: cancellation of ctx, or a
// transport failure.
func (t *Transport) commandError(ctx context.Context, op string, id object.ID, err error) error {
	if cancelled := object.CheckContext(ctx, op, id); cancelled != nil {
		return cancelled
	}
	return t.fail(op, id, err)
}

func (t *Transport) fail(op string, id object.ID, err error) error {
	return &object.TransportError{Op: op, Transport: t.name, ID: id, Err: err}
}
