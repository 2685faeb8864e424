// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite databases for local record caches.
//
// It wraps the zombiezen.com/go/sqlite connection pool with the
// pragmas every cache wants: WAL journaling so readers never block the
// writer, synchronous=NORMAL (a committed transaction survives a
// process crash; a power loss may drop the last few, which a cache of
// content-addressed records can always refetch), a busy timeout
// instead of immediate SQLITE_BUSY, and memory-mapped reads.
//
// Connections are not safe for concurrent use. Either Take a connection
// and Put it back, or let [Pool.Read] and [Pool.Write] do it:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   filepath.Join(dir, "objects.db"),
//	    Schema: `CREATE TABLE IF NOT EXISTS objects (...);`,
//	})
//	...
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "INSERT OR IGNORE INTO objects ...", ...)
//	})
//
// Write runs its function inside BEGIN IMMEDIATE so the write lock is
// taken up front rather than upgraded mid-transaction, which is where
// SQLite deadlocks between two writers come from.
package sqlitepool
