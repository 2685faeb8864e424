// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotetransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/semaphore"

	"github.com/bureau-foundation/objectgraph/lib/clock"
	"github.com/bureau-foundation/objectgraph/lib/codec"
	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/transport"
)

// Defaults for [Config].
const (
	DefaultMaxAttempts    = 5
	DefaultInitialBackoff = 250 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	DefaultBatchCount     = 500
	DefaultBatchBytes     = 8 << 20
	DefaultMaxInflight    = 4
)

// Config configures a remote transport client.
type Config struct {
	// BaseURL is the server root, e.g. "https://objects.example.com".
	// Required.
	BaseURL string

	// Namespace partitions the server's store. Defaults to
	// DefaultNamespace.
	Namespace string

	// Token is sent as a bearer token when non-empty.
	Token string

	// Name identifies the transport. Defaults to "remote:<BaseURL>/<Namespace>".
	Name string

	// HTTPClient performs requests. Defaults to a client with no
	// overall timeout, since downloads stream for as long as they
	// make progress.
	HTTPClient *http.Client

	// MaxAttempts bounds tries per request, including the first.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry; each further
	// retry doubles it, up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BatchCount and BatchBytes bound one upload request and trigger
	// an upload of buffered writes when reached. BatchCount also bounds
	// the ids in one has or download request.
	BatchCount int
	BatchBytes int

	// MaxInflight bounds concurrent uploads. SaveObject blocks while
	// that many are running.
	MaxInflight int

	// Clock times retry backoff. Defaults to clock.Real().
	Clock clock.Clock

	// OnProgress receives "upload" and "download" reports. Optional.
	OnProgress transport.ProgressFunc

	// Logger receives retry and upload messages. Nil discards.
	Logger *slog.Logger
}

// Transport is a [transport.Transport] client for a remote object
// server. Safe for concurrent use.
type Transport struct {
	endpoint       string
	name           string
	token          string
	httpClient     *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	batchCount     int
	batchBytes     int
	clock          clock.Clock
	onProgress     transport.ProgressFunc
	logger         *slog.Logger

	pending *transport.PendingWrites
	batch   transport.Batch
	slots   *semaphore.Weighted

	uploadMu    sync.Mutex
	running     map[uint64]*runningUpload
	nextUpload  uint64
	failures    uint64
	lastFailure error
	uploaded    int
	downloaded  int
}

// runningUpload is one background upload request. err is set before
// done is closed.
type runningUpload struct {
	done chan struct{}
	err  error
}

// New returns a client for the server at config.BaseURL. No request is
// made until the transport is used.
func New(config Config) (*Transport, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("remotetransport: BaseURL is required")
	}
	base, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("remotetransport: parsing BaseURL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("remotetransport: BaseURL scheme must be http or https, got %q", base.Scheme)
	}
	namespace := config.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	root := strings.TrimRight(config.BaseURL, "/")
	name := config.Name
	if name == "" {
		name = "remote:" + root + "/" + namespace
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timer := config.Clock
	if timer == nil {
		timer = clock.Real()
	}
	maxInflight := positive(config.MaxInflight, DefaultMaxInflight)

	return &Transport{
		endpoint:       root + apiPrefix + url.PathEscape(namespace) + "/objects/",
		name:           name,
		token:          config.Token,
		httpClient:     httpClient,
		maxAttempts:    positive(config.MaxAttempts, DefaultMaxAttempts),
		initialBackoff: positiveDuration(config.InitialBackoff, DefaultInitialBackoff),
		maxBackoff:     positiveDuration(config.MaxBackoff, DefaultMaxBackoff),
		batchCount:     positive(config.BatchCount, DefaultBatchCount),
		batchBytes:     positive(config.BatchBytes, DefaultBatchBytes),
		clock:          timer,
		onProgress:     config.OnProgress,
		logger:         logger,
		pending:        transport.NewPendingWrites(),
		slots:          semaphore.NewWeighted(int64(maxInflight)),
		running:        make(map[uint64]*runningUpload),
	}, nil
}

func positive(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func positiveDuration(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

// Name returns the transport name.
func (t *Transport) Name() string { return t.name }

// SaveObject buffers data under id. The record is readable at once and
// uploaded in the background: when no batch is open, or when the buffer
// reaches BatchCount records or BatchBytes bytes. Upload failures are
// reported by WriteComplete.
func (t *Transport) SaveObject(ctx context.Context, id object.ID, data []byte) error {
	if err := object.CheckContext(ctx, "save", id); err != nil {
		return err
	}
	t.pending.Add(id, data)
	if !t.batch.Active() || t.pending.Len() >= t.batchCount || t.pending.Size() >= t.batchBytes {
		return t.startUploads(ctx)
	}
	return nil
}

// SaveObjectFrom copies the record from source unless the server
// already holds it.
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

// GetObject returns a buffered record or downloads it.
func (t *Transport) GetObject(ctx context.Context, id object.ID) ([]byte, error) {
	if err := object.CheckContext(ctx, "get", id); err != nil {
		return nil, err
	}
	var data []byte
	found := false
	err := t.GetObjects(ctx, []object.ID{id}, func(_ object.ID, received []byte) error {
		data, found = received, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, transport.NotFound(t.name, "get", id)
	}
	return data, nil
}

// GetObjects implements [transport.BatchGetter]: buffered records are
// served locally and the rest are downloaded BatchCount ids per
// request.
func (t *Transport) GetObjects(ctx context.Context, ids []object.ID, fn func(id object.ID, data []byte) error) error {
	var remote []object.ID
	for _, id := range ids {
		if data, ok := t.pending.Get(id); ok {
			if err := fn(id, append([]byte(nil), data...)); err != nil {
				return err
			}
			continue
		}
		remote = append(remote, id)
	}
	for start := 0; start < len(remote); start += t.batchCount {
		if err := object.CheckContext(ctx, "download", ""); err != nil {
			return err
		}
		if err := t.download(ctx, remote[start:min(start+t.batchCount, len(remote))], fn); err != nil {
			return err
		}
	}
	return nil
}

// HasObjects checks the buffer, then asks the server about the rest.
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
	for start := 0; start < len(unknown); start += t.batchCount {
		found, err := t.has(ctx, unknown[start:min(start+t.batchCount, len(unknown))])
		if err != nil {
			return nil, err
		}
		for _, id := range found {
			if _, requested := present[id]; requested {
				present[id] = true
			}
		}
	}
	return present, nil
}

func (t *Transport) has(ctx context.Context, ids []object.ID) ([]object.ID, error) {
	body, err := codec.Marshal(idList{IDs: idStrings(ids)})
	if err != nil {
		return nil, &object.TransportError{Op: "has", Transport: t.name, Err: err}
	}
	response, err := t.do(ctx, request{op: "has", endpoint: t.endpoint + "has", body: body})
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()
	var result presentList
	if err := codec.NewDecoder(response.Body).Decode(&result); err != nil {
		return nil, &object.TransportError{Op: "has", Transport: t.name, Err: fmt.Errorf("decoding response: %w", err)}
	}
	found, err := parseIDs(result.Present)
	if err != nil {
		return nil, &object.TransportError{Op: "has", Transport: t.name, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return found, nil
}

// download fetches ids, handing each record to fn as it arrives. When
// the stream breaks partway, the ids not yet received are requested
// again, up to MaxAttempts streams in total.
func (t *Transport) download(ctx context.Context, ids []object.ID, fn func(id object.ID, data []byte) error) error {
	remaining := ids
	for attempt := 1; ; attempt++ {
		received, err := t.downloadStream(ctx, remaining, fn)
		if err == nil {
			return nil
		}
		var callback *callbackError
		if errors.As(err, &callback) {
			return callback.err
		}
		if object.IsCancelled(err) {
			return err
		}
		var transportErr *object.TransportError
		if errors.As(err, &transportErr) || attempt >= t.maxAttempts {
			if transportErr != nil {
				return err
			}
			return &object.TransportError{Op: "download", Transport: t.name, Err: fmt.Errorf("stream failed %d times: %w", attempt, err)}
		}

		next := remaining[:0:0]
		for _, id := range remaining {
			if !received[id] {
				next = append(next, id)
			}
		}
		remaining = next
		if len(remaining) == 0 {
			return nil
		}
		t.logger.Warn("download stream broken, resuming",
			"transport", t.name,
			"received", len(received),
			"remaining", len(remaining),
			"error", err,
		)
		if err := t.wait(ctx, "download", t.backoff(attempt)); err != nil {
			return err
		}
	}
}

// callbackError carries an error returned by the caller's fn, which
// ends the download without retry.
type callbackError struct{ err error }

func (e *callbackError) Error() string { return e.err.Error() }

// downloadStream makes one download request and reads its stream. It
// returns the ids received before any failure. Failures of the request
// itself come back as *object.TransportError after the retries in do;
// a stream that breaks afterwards returns the raw read error.
func (t *Transport) downloadStream(ctx context.Context, ids []object.ID, fn func(id object.ID, data []byte) error) (map[object.ID]bool, error) {
	received := make(map[object.ID]bool, len(ids))
	requested := make(map[object.ID]bool, len(ids))
	for _, id := range ids {
		requested[id] = true
	}
	body, err := codec.Marshal(idList{IDs: idStrings(ids)})
	if err != nil {
		return received, &object.TransportError{Op: "download", Transport: t.name, Err: err}
	}
	response, err := t.do(ctx, request{op: "download", endpoint: t.endpoint + "download", body: body, accept: encodingZstd})
	if err != nil {
		return received, err
	}
	defer response.Body.Close()

	var stream io.Reader = response.Body
	if response.Header.Get("Content-Encoding") == encodingZstd {
		decoder, err := zstd.NewReader(response.Body, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return received, err
		}
		defer decoder.Close()
		stream = decoder
	}

	decoder := codec.NewDecoder(stream)
	for {
		var item wireObject
		if err := decoder.Decode(&item); err != nil {
			if errors.Is(err, io.EOF) {
				return received, nil
			}
			if cancelled := object.CheckContext(ctx, "download", ""); cancelled != nil {
				return received, cancelled
			}
			return received, err
		}
		id := object.ID(item.ID)
		if !requested[id] {
			return received, &object.TransportError{Op: "download", Transport: t.name, ID: id, Err: fmt.Errorf("%w: server sent an unrequested record", object.ErrCorrupt)}
		}
		if received[id] {
			continue
		}
		if err := fn(id, item.Data); err != nil {
			return received, &callbackError{err: err}
		}
		received[id] = true
		t.reportDownloaded(1)
	}
}

// BeginWrite opens a batch.
func (t *Transport) BeginWrite() { t.batch.Begin() }

// EndWrite closes a batch. The outermost EndWrite starts uploading
// everything still buffered; WriteComplete waits for it.
func (t *Transport) EndWrite(ctx context.Context) error {
	outermost, err := t.batch.End()
	if err != nil {
		return err
	}
	if outermost {
		return t.startUploads(ctx)
	}
	return nil
}

// WriteComplete uploads anything still buffered and waits for every
// upload running. It returns the failures of the uploads it waited on.
// Records of failed uploads stay buffered and are retried by the next
// upload.
//
// An upload another caller started may carry this caller's records.
// When such an upload fails after this caller stopped tracking it, its
// records are back in the buffer, so WriteComplete uploads again, up to
// MaxAttempts rounds.
func (t *Transport) WriteComplete(ctx context.Context) error {
	for round := 1; ; round++ {
		t.uploadMu.Lock()
		before := t.failures
		t.uploadMu.Unlock()

		if err := t.startUploads(ctx); err != nil {
			return err
		}
		t.uploadMu.Lock()
		waiting := make([]*runningUpload, 0, len(t.running))
		for _, upload := range t.running {
			waiting = append(waiting, upload)
		}
		t.uploadMu.Unlock()

		var failures []error
		for _, upload := range waiting {
			select {
			case <-upload.done:
			case <-ctx.Done():
				return &object.CancellationError{Op: "write complete", Err: ctx.Err()}
			}
			if upload.err != nil {
				failures = append(failures, upload.err)
			}
		}
		if len(failures) > 0 {
			return errors.Join(failures...)
		}

		t.uploadMu.Lock()
		missed := t.failures - before
		lastFailure := t.lastFailure
		t.uploadMu.Unlock()
		if missed == 0 {
			return nil
		}
		if round >= t.maxAttempts {
			return &object.TransportError{Op: "write complete", Transport: t.name, Err: fmt.Errorf("%d concurrent uploads failed: %w", missed, lastFailure)}
		}
		t.logger.Debug("concurrent upload failed, uploading again", "transport", t.name, "round", round, "error", lastFailure)
	}
}

// Close waits for pending uploads and releases idle connections.
func (t *Transport) Close() error {
	err := t.WriteComplete(context.Background())
	t.httpClient.CloseIdleConnections()
	return err
}

// startUploads takes everything buffered and uploads it in the
// background, one request per BatchCount records or BatchBytes bytes.
// It blocks while MaxInflight uploads are running.
func (t *Transport) startUploads(ctx context.Context) error {
	entries := t.pending.Take()
	if len(entries) == 0 {
		return nil
	}
	groups := t.split(entries)
	for i, group := range groups {
		if err := t.slots.Acquire(ctx, 1); err != nil {
			for _, unstarted := range groups[i:] {
				t.pending.Restore(unstarted)
			}
			return &object.CancellationError{Op: "upload", Err: err}
		}
		running := &runningUpload{done: make(chan struct{})}
		t.uploadMu.Lock()
		t.nextUpload++
		key := t.nextUpload
		t.running[key] = running
		t.uploadMu.Unlock()

		go func() {
			defer t.slots.Release(1)
			err := t.upload(context.WithoutCancel(ctx), group)
			t.uploadMu.Lock()
			delete(t.running, key)
			if err != nil {
				running.err = err
				t.failures++
				t.lastFailure = err
			}
			t.uploadMu.Unlock()
			close(running.done)
		}()
	}
	return nil
}

// split groups entries into upload requests.
func (t *Transport) split(entries []transport.Entry) [][]transport.Entry {
	var groups [][]transport.Entry
	start, size := 0, 0
	for i, entry := range entries {
		if i > start && (i-start >= t.batchCount || size+len(entry.Data) > t.batchBytes) {
			groups = append(groups, entries[start:i])
			start, size = i, 0
		}
		size += len(entry.Data)
	}
	return append(groups, entries[start:])
}

// upload sends one group. On failure the group returns to the buffer.
func (t *Transport) upload(ctx context.Context, group []transport.Entry) error {
	objects := make([]wireObject, len(group))
	for i, entry := range group {
		objects[i] = wireObject{ID: string(entry.ID), Data: entry.Data}
	}
	body, err := encodeObjects(objects)
	if err == nil {
		err = t.postUpload(ctx, body, len(group))
	}
	if err != nil {
		t.pending.Restore(group)
		t.logger.Error("upload failed", "transport", t.name, "records", len(group), "error", err)
		return err
	}
	t.pending.Release(group)
	t.logger.Debug("uploaded records", "transport", t.name, "records", len(group))

	t.uploadMu.Lock()
	t.uploaded += len(group)
	done := t.uploaded
	t.uploadMu.Unlock()
	if t.onProgress != nil {
		t.onProgress(transport.Progress{Transport: t.name, Operation: "upload", Done: done})
	}
	return nil
}

// postUpload sends an encoded group of count records and checks that
// the server stored all of them.
func (t *Transport) postUpload(ctx context.Context, body []byte, count int) error {
	response, err := t.do(ctx, request{op: "upload", endpoint: t.endpoint + "upload", body: body, encoding: encodingZstd})
	if err != nil {
		return err
	}
	defer response.Body.Close()
	var result uploadResult
	if err := codec.NewDecoder(response.Body).Decode(&result); err != nil {
		return &object.TransportError{Op: "upload", Transport: t.name, Err: fmt.Errorf("decoding response: %w", err)}
	}
	if result.Stored != count {
		return &object.TransportError{Op: "upload", Transport: t.name, Err: fmt.Errorf("server stored %d of %d records", result.Stored, count)}
	}
	return nil
}

func (t *Transport) reportDownloaded(n int) {
	if t.onProgress == nil {
		return
	}
	t.uploadMu.Lock()
	t.downloaded += n
	done := t.downloaded
	t.uploadMu.Unlock()
	t.onProgress(transport.Progress{Transport: t.name, Operation: "download", Done: done})
}
