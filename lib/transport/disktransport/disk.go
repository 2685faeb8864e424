// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package disktransport stores records as individual files in a local
// directory.
//
// Each record lives at objects/<aa>/<bb>/<id> under the root, where aa
// and bb are the first two byte pairs of the id, keeping directories
// small for stores with millions of records. A file holds a one-byte
// compression header followed by the (possibly compressed) envelope.
// Files are written to tmp/ and renamed into place, so a reader never
// sees a partial record and a crash never leaves one behind.
//
// Writes go straight to disk: batches only track nesting, and
// WriteComplete has nothing to wait for. I/O failures are reported
// immediately as *object.TransportError without retry.
package disktransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/transport"
)

// Directory names within the store root.
const (
	objectsDir = "objects"
	tmpDir     = "tmp"
)

// Config configures a disk transport.
type Config struct {
	// Root is the store directory. Created if missing. Required.
	Root string

	// Name identifies the transport in errors and logs. Defaults to
	// "disk:<Root>".
	Name string

	// Compression applies to newly written files. Existing files are
	// read according to their own header.
	Compression Compression

	// Sync fsyncs each file before renaming it into place. Without it
	// a record survives a process crash but not necessarily a power
	// loss.
	Sync bool

	// Logger receives debug output. Nil discards.
	Logger *slog.Logger
}

// Transport is a [transport.Transport] over a directory tree. Safe for
// concurrent use, including by several processes sharing one root:
// rename is atomic and concurrent writers of one id write identical
// bytes.
type Transport struct {
	root        string
	name        string
	compression Compression
	sync        bool
	logger      *slog.Logger
	batch       transport.Batch
}

// New opens or creates a store at config.Root.
func New(config Config) (*Transport, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("disktransport: Root is required")
	}
	for _, dir := range []string{
		config.Root,
		filepath.Join(config.Root, objectsDir),
		filepath.Join(config.Root, tmpDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
		}
	}
	name := config.Name
	if name == "" {
		name = "disk:" + config.Root
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Transport{
		root:        config.Root,
		name:        name,
		compression: config.Compression,
		sync:        config.Sync,
		logger:      logger,
	}, nil
}

// Name returns the transport name.
func (t *Transport) Name() string { return t.name }

// ObjectPath returns the file path for id.
func (t *Transport) ObjectPath(id object.ID) string {
	if len(id) < 4 {
		return filepath.Join(t.root, objectsDir, string(id))
	}
	return filepath.Join(t.root, objectsDir, string(id[:2]), string(id[2:4]), string(id))
}

// SaveObject writes data under id unless the file already exists.
func (t *Transport) SaveObject(ctx context.Context, id object.ID, data []byte) error {
	if err := object.CheckContext(ctx, "save", id); err != nil {
		return err
	}
	return t.write(id, bytes.NewReader(data), "save")
}

// SaveObjectFrom streams the record from source into a new file. The
// record is never held in memory whole when source implements
// [transport.Streamer].
func (t *Transport) SaveObjectFrom(ctx context.Context, id object.ID, source transport.Transport) error {
	if err := object.CheckContext(ctx, "save", id); err != nil {
		return err
	}
	if t.exists(id) {
		return nil
	}
	reader, err := transport.OpenObject(ctx, source, id)
	if err != nil {
		return err
	}
	defer reader.Close()
	return t.write(id, reader, "save from "+source.Name())
}

// write stores the content of source under id through a temporary file
// and an atomic rename.
func (t *Transport) write(id object.ID, source io.Reader, op string) error {
	finalPath := t.ObjectPath(id)
	if t.exists(id) {
		return nil
	}

	tmpFile, err := os.CreateTemp(filepath.Join(t.root, tmpDir), "object-*")
	if err != nil {
		return t.fail(op, id, fmt.Errorf("creating temp file: %w", err))
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write([]byte{byte(t.compression)}); err != nil {
		tmpFile.Close()
		return t.fail(op, id, fmt.Errorf("writing header: %w", err))
	}
	if err := compressTo(tmpFile, source, t.compression); err != nil {
		tmpFile.Close()
		var transportErr *object.TransportError
		if errors.As(err, &transportErr) {
			return err
		}
		return t.fail(op, id, err)
	}
	if t.sync {
		if err := tmpFile.Sync(); err != nil {
			tmpFile.Close()
			return t.fail(op, id, fmt.Errorf("syncing temp file: %w", err))
		}
	}
	if err := tmpFile.Close(); err != nil {
		return t.fail(op, id, fmt.Errorf("closing temp file: %w", err))
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return t.fail(op, id, fmt.Errorf("creating shard directory: %w", err))
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return t.fail(op, id, fmt.Errorf("renaming into place: %w", err))
	}
	success = true
	t.logger.Debug("stored record", "transport", t.name, "id", id)
	return nil
}

// OpenObject returns a reader over the decompressed envelope.
func (t *Transport) OpenObject(ctx context.Context, id object.ID) (io.ReadCloser, error) {
	if err := object.CheckContext(ctx, "get", id); err != nil {
		return nil, err
	}
	file, err := os.Open(t.ObjectPath(id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, transport.NotFound(t.name, "get", id)
		}
		return nil, t.fail("get", id, err)
	}
	var header [1]byte
	if _, err := io.ReadFull(file, header[:]); err != nil {
		file.Close()
		return nil, t.fail("get", id, fmt.Errorf("%w: reading header: %v", object.ErrCorrupt, err))
	}
	reader, release, err := decompressFrom(file, Compression(header[0]))
	if err != nil {
		file.Close()
		return nil, t.fail("get", id, fmt.Errorf("%w: %v", object.ErrCorrupt, err))
	}
	return &objectReader{Reader: reader, file: file, release: release}, nil
}

// GetObject reads and decompresses the record for id.
func (t *Transport) GetObject(ctx context.Context, id object.ID) ([]byte, error) {
	reader, err := t.OpenObject(ctx, id)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, t.fail("get", id, fmt.Errorf("%w: %v", object.ErrCorrupt, err))
	}
	return data, nil
}

// HasObjects stats the file of each id.
func (t *Transport) HasObjects(ctx context.Context, ids []object.ID) (map[object.ID]bool, error) {
	present := make(map[object.ID]bool, len(ids))
	for _, id := range ids {
		if err := object.CheckContext(ctx, "has", id); err != nil {
			return nil, err
		}
		present[id] = t.exists(id)
	}
	return present, nil
}

// BeginWrite opens a batch.
func (t *Transport) BeginWrite() { t.batch.Begin() }

// EndWrite closes a batch. Writes are never buffered, so there is
// nothing to flush.
func (t *Transport) EndWrite(ctx context.Context) error {
	_, err := t.batch.End()
	return err
}

// WriteComplete returns immediately: every SaveObject has already
// renamed its file into place before returning.
func (t *Transport) WriteComplete(ctx context.Context) error { return nil }

func (t *Transport) exists(id object.ID) bool {
	_, err := os.Stat(t.ObjectPath(id))
	return err == nil
}

func (t *Transport) fail(op string, id object.ID, err error) error {
	return &object.TransportError{Op: op, Transport: t.name, ID: id, Err: err}
}

// objectReader closes the decompressor and the file together.
type objectReader struct {
	io.Reader
	file    *os.File
	release func()
}

func (r *objectReader) Close() error {
	r.release()
	return r.file.Close()
}
