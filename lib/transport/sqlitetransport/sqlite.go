// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitetransport stores records in a single SQLite database,
// the local cache of choice once a store outgrows one-file-per-record:
// existence checks for thousands of ids become a few indexed queries
// instead of thousands of stat calls.
//
// Records live in one WITHOUT ROWID table keyed by id. Writes made
// inside a batch are buffered in memory and inserted in one IMMEDIATE
// transaction when the outermost batch ends, when the buffer reaches
// FlushCount records or FlushBytes bytes, or at WriteComplete. Buffered
// records are visible to reads immediately. A write outside any batch
// is inserted before SaveObject returns.
//
// A failed flush leaves its records buffered, so they stay readable and
// the next flush retries them; the failure itself is returned to the
// caller that triggered the flush. SQLite errors are local I/O errors
// and are never retried internally.
package sqlitetransport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/sqlitepool"
	"github.com/bureau-foundation/objectgraph/lib/transport"
)

const schema = `
CREATE TABLE IF NOT EXISTS objects (
	hash    TEXT PRIMARY KEY,
	content BLOB NOT NULL
) WITHOUT ROWID;
`

// Defaults for [Config].
const (
	DefaultFlushCount = 500
	DefaultFlushBytes = 4 << 20
)

// queryBatchSize bounds the number of ids in one IN (...) query, well
// under SQLite's default variable limit.
const queryBatchSize = 500

// Config configures a SQLite transport.
type Config struct {
	// Path is the database file. Required.
	Path string

	// Name identifies the transport. Defaults to "sqlite:<Path>".
	Name string

	// PoolSize is passed to sqlitepool.
	PoolSize int

	// FlushCount and FlushBytes trigger a flush of buffered batch
	// writes. Zero means the package default.
	FlushCount int
	FlushBytes int

	// OnProgress receives a report after each flush. Optional.
	OnProgress transport.ProgressFunc

	// Logger receives flush and pool messages. Nil discards.
	Logger *slog.Logger
}

// Transport is a [transport.Transport] over a SQLite database. Safe for
// concurrent use; flushes are serialized.
type Transport struct {
	pool       *sqlitepool.Pool
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

// Open opens or creates the database at config.Path.
func Open(config Config) (*Transport, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("sqlitetransport: Path is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     config.Path,
		PoolSize: config.PoolSize,
		Schema:   schema,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	name := config.Name
	if name == "" {
		name = "sqlite:" + config.Path
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
		pool:       pool,
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

// SaveObjectFrom copies the record from source. SQLite stores a record
// as one blob, so the record is read whole.
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
		return &object.TransportError{Op: "save from " + source.Name(), Transport: t.name, ID: id, Err: err}
	}
	return t.SaveObject(ctx, id, data)
}

// GetObject returns the record for id from the buffer or the database.
func (t *Transport) GetObject(ctx context.Context, id object.ID) ([]byte, error) {
	if err := object.CheckContext(ctx, "get", id); err != nil {
		return nil, err
	}
	if data, ok := t.pending.Get(id); ok {
		return append([]byte(nil), data...), nil
	}
	var data []byte
	found := false
	err := t.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "SELECT content FROM objects WHERE hash = ?", &sqlitex.ExecOptions{
			Args: []any{string(id)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				data = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, data)
				found = true
				return nil
			},
		})
	})
	if err != nil {
		return nil, t.fail("get", id, err)
	}
	if !found {
		return nil, transport.NotFound(t.name, "get", id)
	}
	return data, nil
}

// GetObjects implements [transport.BatchGetter] with one query per
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
	return t.queryBatches(ctx, "SELECT hash, content FROM objects WHERE hash IN ", stored, func(stmt *sqlite.Stmt) error {
		data := make([]byte, stmt.ColumnLen(1))
		stmt.ColumnBytes(1, data)
		return fn(object.ID(stmt.ColumnText(0)), data)
	})
}

// HasObjects checks the buffer, then the database in batches.
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
	err := t.queryBatches(ctx, "SELECT hash FROM objects WHERE hash IN ", unknown, func(stmt *sqlite.Stmt) error {
		present[object.ID(stmt.ColumnText(0))] = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return present, nil
}

// queryBatches runs prefix + "(?, ?, ...)" for each batch of ids.
func (t *Transport) queryBatches(ctx context.Context, prefix string, ids []object.ID, row func(stmt *sqlite.Stmt) error) error {
	if len(ids) == 0 {
		return nil
	}
	return t.pool.Read(ctx, func(conn *sqlite.Conn) error {
		for start := 0; start < len(ids); start += queryBatchSize {
			if err := object.CheckContext(ctx, "query", ""); err != nil {
				return err
			}
			batch := ids[start:min(start+queryBatchSize, len(ids))]
			args := make([]any, len(batch))
			for i, id := range batch {
				args[i] = string(id)
			}
			query := prefix + "(" + strings.TrimSuffix(strings.Repeat("?,", len(batch)), ",") + ")"
			err := sqlitex.ExecuteTransient(conn, query, &sqlitex.ExecOptions{Args: args, ResultFunc: row})
			if err != nil {
				if object.IsCancelled(err) {
					return err
				}
				return t.fail("query", "", err)
			}
		}
		return nil
	})
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

// Close flushes buffered writes and closes the database.
func (t *Transport) Close() error {
	flushErr := t.flush(context.Background())
	closeErr := t.pool.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// flush inserts every buffered record in one transaction.
func (t *Transport) flush(ctx context.Context) error {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	entries := t.pending.Take()
	if len(entries) == 0 {
		return nil
	}
	err := t.pool.Write(ctx, func(conn *sqlite.Conn) error {
		for _, entry := range entries {
			if err := sqlitex.Execute(conn, "INSERT OR IGNORE INTO objects (hash, content) VALUES (?, ?)", &sqlitex.ExecOptions{
				Args: []any{string(entry.ID), entry.Data},
			}); err != nil {
				return fmt.Errorf("inserting %s: %w", entry.ID.Short(), err)
			}
		}
		return nil
	})
	if err != nil {
		t.pending.Restore(entries)
		t.logger.Error("flush failed", "transport", t.name, "records", len(entries), "error", err)
		return t.fail("flush", "", err)
	}
	t.pending.Release(entries)
	t.flushed += len(entries)
	t.logger.Debug("flushed records", "transport", t.name, "records", len(entries))
	if t.onProgress != nil {
		t.onProgress(transport.Progress{Transport: t.name, Operation: "flush", Done: t.flushed})
	}
	return nil
}

func (t *Transport) fail(op string, id object.ID, err error) error {
	return &object.TransportError{Op: op, Transport: t.name, ID: id, Err: err}
}
