// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotetransport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/objectgraph/lib/clock"
	"github.com/bureau-foundation/objectgraph/lib/codec"
	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/testutil"
	"github.com/bureau-foundation/objectgraph/lib/transport"
	"github.com/bureau-foundation/objectgraph/lib/transport/remotetransport"
	"github.com/bureau-foundation/objectgraph/lib/transport/transporttest"
)

// server is a test server backed by an in-memory transport. Each
// request passes through intercept first, which may answer it instead.
type server struct {
	backend   *transport.Memory
	url       string
	requests  atomic.Int64
	intercept func(w http.ResponseWriter, r *http.Request) bool
}

func newServer(t *testing.T, config remotetransport.HandlerConfig) *server {
	t.Helper()
	s := &server{backend: transport.NewMemory("backend")}
	if config.Backend == nil {
		config.Backend = remotetransport.Static(s.backend)
	}
	handler, err := remotetransport.NewHandler(config)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if s.intercept != nil && s.intercept(w, r) {
			return
		}
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(httpServer.Close)
	s.url = httpServer.URL
	return s
}

func newClient(t *testing.T, config remotetransport.Config) *remotetransport.Transport {
	t.Helper()
	client, err := remotetransport.New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRemoteContract(t *testing.T) {
	transporttest.Run(t, func(t *testing.T) transport.Transport {
		s := newServer(t, remotetransport.HandlerConfig{})
		return newClient(t, remotetransport.Config{
			BaseURL:        s.url,
			Name:           "remote-test",
			BatchCount:     100,
			InitialBackoff: time.Millisecond,
		})
	})
}

func TestNewValidatesBaseURL(t *testing.T) {
	for _, baseURL := range []string{"", "ftp://example.com", "://broken"} {
		if _, err := remotetransport.New(remotetransport.Config{BaseURL: baseURL}); err == nil {
			t.Errorf("New(%q) succeeded", baseURL)
		}
	}
}

// failFirst answers the first n requests with status.
func failFirst(n int64, status int, header http.Header) func(w http.ResponseWriter, r *http.Request) bool {
	var count atomic.Int64
	return func(w http.ResponseWriter, r *http.Request) bool {
		if count.Add(1) > n {
			return false
		}
		for key, values := range header {
			w.Header()[key] = values
		}
		http.Error(w, "try later", status)
		return true
	}
}

func TestRetriesTransientFailuresWithBackoff(t *testing.T) {
	s := newServer(t, remotetransport.HandlerConfig{})
	s.intercept = failFirst(2, http.StatusServiceUnavailable, nil)
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	client := newClient(t, remotetransport.Config{BaseURL: s.url, Clock: fake})

	record := transporttest.Records("retry", 1)[0]
	transporttest.Save(t, s.backend, record)

	type result struct {
		present map[object.ID]bool
		err     error
	}
	results := make(chan result, 1)
	go func() {
		present, err := client.HasObjects(context.Background(), []object.ID{record.ID})
		results <- result{present, err}
	}()

	fake.WaitForWaiters(1)
	fake.Advance(remotetransport.DefaultInitialBackoff - time.Millisecond)
	if fake.Pending() != 1 {
		t.Fatal("first retry fired before its backoff elapsed")
	}
	fake.Advance(time.Millisecond)

	fake.WaitForWaiters(1)
	fake.Advance(2 * remotetransport.DefaultInitialBackoff)

	got := testutil.RequireReceive(t, results, 5*time.Second, "HasObjects did not return")
	if got.err != nil {
		t.Fatalf("HasObjects: %v", got.err)
	}
	if !got.present[record.ID] {
		t.Error("record reported absent after retries")
	}
	if s.requests.Load() != 3 {
		t.Errorf("server saw %d requests, want 3", s.requests.Load())
	}
}

func TestHonorsRetryAfter(t *testing.T) {
	s := newServer(t, remotetransport.HandlerConfig{})
	s.intercept = failFirst(1, http.StatusTooManyRequests, http.Header{"Retry-After": {"2"}})
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	client := newClient(t, remotetransport.Config{BaseURL: s.url, Clock: fake})

	errs := make(chan error, 1)
	go func() {
		_, err := client.HasObjects(context.Background(), transporttestIDs(1))
		errs <- err
	}()

	fake.WaitForWaiters(1)
	fake.Advance(time.Second)
	if fake.Pending() != 1 {
		t.Fatal("retry fired before Retry-After elapsed")
	}
	fake.Advance(time.Second)
	if err := testutil.RequireReceive(t, errs, 5*time.Second, "HasObjects did not return"); err != nil {
		t.Fatalf("HasObjects: %v", err)
	}
}

func TestCancelDuringBackoff(t *testing.T) {
	s := newServer(t, remotetransport.HandlerConfig{})
	s.intercept = failFirst(100, http.StatusServiceUnavailable, nil)
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	client := newClient(t, remotetransport.Config{BaseURL: s.url, Clock: fake})

	ctx, cancel := context.WithCancel(context.Background())
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err = client.HasObjects(ctx, transporttestIDs(1))
	}()

	fake.WaitForWaiters(1)
	cancel()
	testutil.RequireClosed(t, done, 5*time.Second, "HasObjects still waiting after cancellation")
	if !object.IsCancelled(err) {
		t.Errorf("error = %v, want a cancellation", err)
	}
	if s.requests.Load() != 1 {
		t.Errorf("server saw %d requests, want 1", s.requests.Load())
	}
}

func transporttestIDs(n int) []object.ID {
	ids := make([]object.ID, n)
	for i, record := range transporttest.Records("ids", n) {
		ids[i] = record.ID
	}
	return ids
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	s := newServer(t, remotetransport.HandlerConfig{})
	s.intercept = failFirst(100, http.StatusInternalServerError, nil)
	client := newClient(t, remotetransport.Config{
		BaseURL:        s.url,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
	})

	_, err := client.HasObjects(context.Background(), transporttestIDs(2))
	var transportErr *object.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want *TransportError", err)
	}
	var statusErr *remotetransport.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("error = %v, want the final 500 wrapped", err)
	}
	if s.requests.Load() != 3 {
		t.Errorf("server saw %d requests, want 3", s.requests.Load())
	}
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	s := newServer(t, remotetransport.HandlerConfig{})
	s.intercept = failFirst(100, http.StatusForbidden, nil)
	client := newClient(t, remotetransport.Config{BaseURL: s.url, InitialBackoff: time.Millisecond})

	if _, err := client.GetObject(context.Background(), transporttestIDs(1)[0]); err == nil {
		t.Fatal("GetObject succeeded against a 403")
	}
	if s.requests.Load() != 1 {
		t.Errorf("server saw %d requests, want 1", s.requests.Load())
	}
}

func TestBearerToken(t *testing.T) {
	s := newServer(t, remotetransport.HandlerConfig{Token: "secret"})
	record := transporttest.Records("auth", 1)[0]
	transporttest.Save(t, s.backend, record)

	anonymous := newClient(t, remotetransport.Config{BaseURL: s.url})
	_, err := anonymous.GetObject(context.Background(), record.ID)
	var statusErr *remotetransport.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("error without token = %v, want 401", err)
	}

	authorized := newClient(t, remotetransport.Config{BaseURL: s.url, Token: "secret"})
	if _, err := authorized.GetObject(context.Background(), record.ID); err != nil {
		t.Fatalf("GetObject with token: %v", err)
	}
}

func TestUnknownNamespace(t *testing.T) {
	s := newServer(t, remotetransport.HandlerConfig{
		Backend: func(namespace string) (transport.Transport, error) {
			return nil, errors.New("no such namespace")
		},
	})
	client := newClient(t, remotetransport.Config{BaseURL: s.url, Namespace: "nowhere"})
	_, err := client.HasObjects(context.Background(), transporttestIDs(1))
	var statusErr *remotetransport.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("error = %v, want 404", err)
	}
}

// flakyBatches serves GetObjects from a memory transport, failing the
// first call after it has sent failAfter records.
type flakyBatches struct {
	*transport.Memory
	failAfter int

	mu        sync.Mutex
	calls     int
	requested [][]object.ID
}

func (f *flakyBatches) GetObjects(ctx context.Context, ids []object.ID, fn func(object.ID, []byte) error) error {
	f.mu.Lock()
	f.calls++
	first := f.calls == 1
	f.requested = append(f.requested, append([]object.ID(nil), ids...))
	f.mu.Unlock()

	for i, id := range ids {
		if first && i == f.failAfter {
			return errors.New("disk went away")
		}
		data, err := f.GetObject(ctx, id)
		if err != nil {
			if object.IsNotFound(err) {
				continue
			}
			return err
		}
		if err := fn(id, data); err != nil {
			return err
		}
	}
	return nil
}

func TestDownloadResumesBrokenStream(t *testing.T) {
	backend := &flakyBatches{Memory: transport.NewMemory("flaky"), failAfter: 2}
	records := transporttest.Records("resume", 5)
	transporttest.Save(t, backend.Memory, records...)

	s := newServer(t, remotetransport.HandlerConfig{Backend: remotetransport.Static(backend)})
	client := newClient(t, remotetransport.Config{BaseURL: s.url, InitialBackoff: time.Millisecond})

	ids := make([]object.ID, len(records))
	for i, record := range records {
		ids[i] = record.ID
	}
	received := make(map[object.ID]int)
	err := client.GetObjects(context.Background(), ids, func(id object.ID, data []byte) error {
		received[id]++
		return nil
	})
	if err != nil {
		t.Fatalf("GetObjects: %v", err)
	}
	for _, id := range ids {
		if received[id] != 1 {
			t.Errorf("record %s delivered %d times, want 1", id.Short(), received[id])
		}
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.requested) != 2 {
		t.Fatalf("backend saw %d download calls, want 2", len(backend.requested))
	}
	if len(backend.requested[1]) != 3 {
		t.Errorf("resumed download asked for %d ids, want the 3 not yet received", len(backend.requested[1]))
	}
}

func TestGetObjectsCallbackErrorStopsDownload(t *testing.T) {
	s := newServer(t, remotetransport.HandlerConfig{})
	records := transporttest.Records("stop", 4)
	transporttest.Save(t, s.backend, records...)
	client := newClient(t, remotetransport.Config{BaseURL: s.url})

	ids := make([]object.ID, len(records))
	for i, record := range records {
		ids[i] = record.ID
	}
	stop := errors.New("enough")
	calls := 0
	err := client.GetObjects(context.Background(), ids, func(object.ID, []byte) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Errorf("error = %v, want the callback's error", err)
	}
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
	if s.requests.Load() != 1 {
		t.Errorf("server saw %d requests, want 1", s.requests.Load())
	}
}

func TestRejectedUploadIsReportedAndRetried(t *testing.T) {
	s := newServer(t, remotetransport.HandlerConfig{})
	var reject atomic.Bool
	reject.Store(true)
	s.intercept = func(w http.ResponseWriter, r *http.Request) bool {
		if !reject.Load() {
			return false
		}
		http.Error(w, "rejected", http.StatusBadRequest)
		return true
	}
	client := newClient(t, remotetransport.Config{BaseURL: s.url})
	ctx := context.Background()
	record := transporttest.Records("rejected", 1)[0]

	if err := client.SaveObject(ctx, record.ID, transporttest.Encoded(t, record)); err != nil {
		t.Fatalf("SaveObject: %v", err)
	}
	err := client.WriteComplete(ctx)
	var statusErr *remotetransport.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("WriteComplete error = %v, want the 400", err)
	}
	if _, err := client.GetObject(ctx, record.ID); err != nil {
		t.Errorf("record of a failed upload is not readable: %v", err)
	}

	reject.Store(false)
	if err := client.WriteComplete(ctx); err != nil {
		t.Fatalf("second WriteComplete: %v", err)
	}
	if s.backend.Len() != 1 {
		t.Errorf("server holds %d records, want 1", s.backend.Len())
	}
}

// rejectingBackend is a memory transport that refuses one id.
type rejectingBackend struct {
	*transport.Memory
	reject object.ID
}

func (b *rejectingBackend) SaveObject(ctx context.Context, id object.ID, data []byte) error {
	if id == b.reject {
		return &object.TransportError{Op: "save", Transport: b.Name(), ID: id, Err: errors.New("quota exceeded")}
	}
	return b.Memory.SaveObject(ctx, id, data)
}

func TestConcurrentWriteCompleteReportsOwnFailure(t *testing.T) {
	ctx := context.Background()
	record := transporttest.Records("contended", 1)[0]
	data := transporttest.Encoded(t, record)

	for iteration := range 20 {
		backend := &rejectingBackend{Memory: transport.NewMemory("backend"), reject: record.ID}
		s := newServer(t, remotetransport.HandlerConfig{Backend: remotetransport.Static(backend)})
		client := newClient(t, remotetransport.Config{BaseURL: s.url, MaxAttempts: 1})

		var (
			group   sync.WaitGroup
			saveErr error
		)
		group.Add(2)
		go func() {
			defer group.Done()
			if saveErr = client.SaveObject(ctx, record.ID, data); saveErr != nil {
				return
			}
			saveErr = client.WriteComplete(ctx)
		}()
		go func() {
			defer group.Done()
			client.WriteComplete(ctx)
		}()
		group.Wait()

		if saveErr == nil {
			t.Fatalf("iteration %d: WriteComplete returned nil, want the rejected upload's failure", iteration)
		}
		present, err := backend.HasObjects(ctx, []object.ID{record.ID})
		if err != nil {
			t.Fatal(err)
		}
		if present[record.ID] {
			t.Fatalf("iteration %d: server holds the rejected record", iteration)
		}
	}
}

func TestShortUploadIsAFailure(t *testing.T) {
	s := newServer(t, remotetransport.HandlerConfig{})
	s.intercept = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path != "/api/v1/namespaces/default/objects/upload" {
			return false
		}
		response, err := codec.Marshal(map[string]int{"stored": 1})
		if err != nil {
			t.Errorf("encoding response: %v", err)
		}
		w.Header().Set("Content-Type", "application/cbor")
		w.Write(response)
		return true
	}
	client := newClient(t, remotetransport.Config{BaseURL: s.url, MaxAttempts: 1})
	ctx := context.Background()

	client.BeginWrite()
	for _, record := range transporttest.Records("short", 3) {
		if err := client.SaveObject(ctx, record.ID, transporttest.Encoded(t, record)); err != nil {
			t.Fatal(err)
		}
	}
	if err := client.EndWrite(ctx); err != nil {
		t.Fatal(err)
	}
	err := client.WriteComplete(ctx)
	var transportErr *object.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("WriteComplete error = %v, want *TransportError for a partial store", err)
	}
}

func TestUploadsInBatches(t *testing.T) {
	s := newServer(t, remotetransport.HandlerConfig{})
	var uploads atomic.Int64
	s.intercept = func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path == "/api/v1/namespaces/default/objects/upload" {
			uploads.Add(1)
		}
		return false
	}
	var progressMu sync.Mutex
	var lastProgress transport.Progress
	client := newClient(t, remotetransport.Config{
		BaseURL:    s.url,
		BatchCount: 10,
		OnProgress: func(p transport.Progress) {
			progressMu.Lock()
			defer progressMu.Unlock()
			if p.Operation == "upload" && p.Done > lastProgress.Done {
				lastProgress = p
			}
		},
	})

	records := transporttest.Records("batched-upload", 35)
	transporttest.Save(t, client, records...)

	if s.backend.Len() != 35 {
		t.Errorf("server holds %d records, want 35", s.backend.Len())
	}
	if uploads.Load() != 4 {
		t.Errorf("client made %d upload requests, want 4", uploads.Load())
	}
	progressMu.Lock()
	defer progressMu.Unlock()
	if lastProgress.Done != 35 || lastProgress.Transport != client.Name() {
		t.Errorf("final progress = %+v, want 35 uploads from %q", lastProgress, client.Name())
	}
}

func TestWriteCompleteHonorsCancellation(t *testing.T) {
	s := newServer(t, remotetransport.HandlerConfig{})
	release := make(chan struct{})
	s.intercept = func(w http.ResponseWriter, r *http.Request) bool {
		<-release
		return false
	}
	client := newClient(t, remotetransport.Config{BaseURL: s.url})
	defer close(release)

	record := transporttest.Records("slow", 1)[0]
	if err := client.SaveObject(context.Background(), record.ID, transporttest.Encoded(t, record)); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := client.WriteComplete(ctx); !object.IsCancelled(err) {
		t.Errorf("WriteComplete error = %v, want cancellation", err)
	}
}
