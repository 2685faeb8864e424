// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// pragmas run on every new connection, before Schema.
var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA cache_size=-8192",
	"PRAGMA mmap_size=268435456",
	"PRAGMA temp_store=MEMORY",
}

// Config holds the parameters for opening a pool. Path is required.
type Config struct {
	// Path is the database file. Its directory must exist; the file is
	// created if missing.
	Path string

	// PoolSize is the number of connections. Zero means
	// max(runtime.NumCPU(), 4). SQLite serializes writers regardless;
	// extra connections only help concurrent readers.
	PoolSize int

	// Schema is a SQL script run on every connection after the
	// pragmas. It must be idempotent (CREATE ... IF NOT EXISTS).
	Schema string

	// Logger receives open and close messages. Nil discards.
	Logger *slog.Logger
}

// Pool is a fixed-size set of prepared connections. Safe for
// concurrent use.
type Pool struct {
	inner  *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open creates the pool. Connections are prepared lazily on first use,
// so a bad Schema surfaces from the first Take, Read, or Write.
func Open(config Config) (*Pool, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("sqlitepool: Path is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	inner, err := sqlitex.NewPool(config.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			return prepare(conn, config.Schema)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: opening %s: %w", config.Path, err)
	}
	logger.Info("sqlite pool opened", "path", config.Path, "pool_size", poolSize)
	return &Pool{inner: inner, logger: logger, path: config.Path}, nil
}

// Take borrows a connection, blocking until one is free or ctx is
// done. The caller must Put it back.
func (p *Pool) Take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := p.inner.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitepool: take: %w", err)
	}
	return conn, nil
}

// Put returns a connection to the pool. Put(nil) is a no-op.
func (p *Pool) Put(conn *sqlite.Conn) {
	p.inner.Put(conn)
}

// Read runs fn with a borrowed connection.
func (p *Pool) Read(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)
	return fn(conn)
}

// Write runs fn inside an IMMEDIATE transaction on a borrowed
// connection. The transaction commits if fn returns nil and rolls back
// otherwise.
func (p *Pool) Write(ctx context.Context, fn func(conn *sqlite.Conn) error) (err error) {
	conn, err := p.Take(ctx)
	if err != nil {
		return err
	}
	defer p.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitepool: begin: %w", err)
	}
	defer endTransaction(&err)
	return fn(conn)
}

// Close closes every connection, waiting for borrowed ones to return.
func (p *Pool) Close() error {
	if err := p.inner.Close(); err != nil {
		p.logger.Error("sqlite pool close failed", "path", p.path, "error", err)
		return fmt.Errorf("sqlitepool: closing %s: %w", p.path, err)
	}
	p.logger.Info("sqlite pool closed", "path", p.path)
	return nil
}

func prepare(conn *sqlite.Conn, schema string) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitepool: %s: %w", pragma, err)
		}
	}
	if schema != "" {
		if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
			return fmt.Errorf("sqlitepool: schema: %w", err)
		}
	}
	return nil
}
