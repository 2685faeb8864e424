// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotetransport

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/objectgraph/lib/codec"
	"github.com/bureau-foundation/objectgraph/lib/object"
	"github.com/bureau-foundation/objectgraph/lib/transport"
)

// Defaults for [HandlerConfig].
const (
	DefaultMaxRequestBytes = 256 << 20
	DefaultMaxRequestIDs   = 10000
)

// HandlerConfig configures the server side of the protocol.
type HandlerConfig struct {
	// Backend returns the transport holding a namespace's records. An
	// error answers 404. Required.
	Backend func(namespace string) (transport.Transport, error)

	// Token, when set, must be presented as a bearer token.
	Token string

	// MaxRequestBytes bounds a request body, both as sent and
	// decompressed. A larger body answers 413.
	MaxRequestBytes int64

	// MaxRequestIDs bounds the ids in one has or download request.
	MaxRequestIDs int

	// Logger receives request failures. Nil discards.
	Logger *slog.Logger
}

// Handler serves the object protocol from local transports.
type Handler struct {
	backend  func(namespace string) (transport.Transport, error)
	token    string
	maxBytes int64
	maxIDs   int
	logger   *slog.Logger
	mux      *http.ServeMux
}

// Static returns a HandlerConfig.Backend serving every namespace from
// one transport.
func Static(backend transport.Transport) func(string) (transport.Transport, error) {
	return func(string) (transport.Transport, error) { return backend, nil }
}

// NewHandler returns a Handler for config.
func NewHandler(config HandlerConfig) (*Handler, error) {
	if config.Backend == nil {
		return nil, fmt.Errorf("remotetransport: HandlerConfig.Backend is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxBytes := config.MaxRequestBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxRequestBytes
	}
	handler := &Handler{
		backend:  config.Backend,
		token:    config.Token,
		maxBytes: maxBytes,
		maxIDs:   positive(config.MaxRequestIDs, DefaultMaxRequestIDs),
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	handler.mux.HandleFunc("POST "+apiPrefix+"{namespace}/objects/has", handler.handleHas)
	handler.mux.HandleFunc("POST "+apiPrefix+"{namespace}/objects/upload", handler.handleUpload)
	handler.mux.HandleFunc("POST "+apiPrefix+"{namespace}/objects/download", handler.handleDownload)
	return handler, nil
}

// ServeHTTP checks the bearer token and dispatches to the endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.token != "" {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
			h.sendError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleHas(w http.ResponseWriter, r *http.Request) {
	backend, ok := h.resolve(w, r)
	if !ok {
		return
	}
	ids, ok := h.readIDs(w, r)
	if !ok {
		return
	}
	present, err := backend.HasObjects(r.Context(), ids)
	if err != nil {
		h.sendBackendError(w, r, "has", err)
		return
	}
	result := presentList{Present: []string{}}
	for _, id := range ids {
		if present[id] {
			result.Present = append(result.Present, string(id))
		}
	}
	h.sendCBOR(w, result)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	backend, ok := h.resolve(w, r)
	if !ok {
		return
	}
	body, release, err := h.requestBody(w, r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "reading body: %v", err)
		return
	}
	defer release()

	// Every record is verified before any is stored, so a bad upload
	// stores nothing.
	var objects []wireObject
	decoder := codec.NewDecoder(body)
	for {
		var item wireObject
		if err := decoder.Decode(&item); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			h.sendError(w, bodyStatus(body, err), "decoding record %d: %v", len(objects), err)
			return
		}
		if err := verifyUpload(item); err != nil {
			h.sendError(w, http.StatusBadRequest, "record %d: %v", len(objects), err)
			return
		}
		objects = append(objects, item)
	}

	ctx := r.Context()
	backend.BeginWrite()
	for _, item := range objects {
		if err := backend.SaveObject(ctx, object.ID(item.ID), item.Data); err != nil {
			backend.EndWrite(ctx)
			h.sendBackendError(w, r, "upload", err)
			return
		}
	}
	if err := backend.EndWrite(ctx); err != nil {
		h.sendBackendError(w, r, "upload", err)
		return
	}
	if err := backend.WriteComplete(ctx); err != nil {
		h.sendBackendError(w, r, "upload", err)
		return
	}
	h.logger.Debug("stored upload", "namespace", r.PathValue("namespace"), "records", len(objects))
	h.sendCBOR(w, uploadResult{Stored: len(objects)})
}

// verifyUpload checks that an uploaded record is well formed and that
// its payload hashes to its id.
func verifyUpload(item wireObject) error {
	id, err := object.ParseID(item.ID)
	if err != nil {
		return err
	}
	record, err := object.DecodeRecord(id, item.Data)
	if err != nil {
		return err
	}
	if !id.Verify(record.Payload) {
		return fmt.Errorf("%w: payload of %s does not hash to its id", object.ErrCorrupt, id.Short())
	}
	return nil
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	backend, ok := h.resolve(w, r)
	if !ok {
		return
	}
	ids, ok := h.readIDs(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", contentTypeSeq)
	var stream io.Writer = w
	var compressor *zstd.Encoder
	if strings.Contains(r.Header.Get("Accept-Encoding"), encodingZstd) {
		w.Header().Set("Content-Encoding", encodingZstd)
		var err error
		compressor, err = zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
		if err != nil {
			h.sendError(w, http.StatusInternalServerError, "creating compressor: %v", err)
			return
		}
		stream = compressor
	}
	w.WriteHeader(http.StatusOK)

	encoder := codec.NewEncoder(stream)
	send := func(id object.ID, data []byte) error {
		return encoder.Encode(wireObject{ID: string(id), Data: data})
	}
	if err := streamObjects(r.Context(), backend, ids, send); err != nil {
		// The status is already sent. The records encoded so far are
		// flushed whole, then the connection is aborted so the client
		// sees a broken stream rather than a clean end and asks again
		// for what it is missing.
		h.logger.Warn("download stream aborted", "namespace", r.PathValue("namespace"), "error", err)
		if compressor != nil {
			compressor.Flush()
		}
		http.NewResponseController(w).Flush()
		panic(http.ErrAbortHandler)
	}
	if compressor != nil {
		if err := compressor.Close(); err != nil {
			h.logger.Warn("finishing download stream", "error", err)
		}
	}
}

// streamObjects sends every stored record among ids, skipping the
// missing ones.
func streamObjects(ctx context.Context, backend transport.Transport, ids []object.ID, send func(object.ID, []byte) error) error {
	if getter, ok := backend.(transport.BatchGetter); ok {
		return getter.GetObjects(ctx, ids, send)
	}
	for _, id := range ids {
		data, err := backend.GetObject(ctx, id)
		if err != nil {
			if object.IsNotFound(err) {
				continue
			}
			return err
		}
		if err := send(id, data); err != nil {
			return err
		}
	}
	return nil
}

// resolve finds the backend for the request's namespace.
func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (transport.Transport, bool) {
	namespace := r.PathValue("namespace")
	backend, err := h.backend(namespace)
	if err != nil {
		h.sendError(w, http.StatusNotFound, "namespace %q: %v", namespace, err)
		return nil, false
	}
	return backend, true
}

// readIDs decodes an id list request body.
func (h *Handler) readIDs(w http.ResponseWriter, r *http.Request) ([]object.ID, bool) {
	body, release, err := h.requestBody(w, r)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "reading body: %v", err)
		return nil, false
	}
	defer release()
	var request idList
	if err := codec.NewDecoder(body).Decode(&request); err != nil {
		h.sendError(w, bodyStatus(body, err), "decoding id list: %v", err)
		return nil, false
	}
	if len(request.IDs) > h.maxIDs {
		h.sendError(w, http.StatusRequestEntityTooLarge, "%d ids in one request, limit is %d", len(request.IDs), h.maxIDs)
		return nil, false
	}
	ids, err := parseIDs(request.IDs)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, "%v", err)
		return nil, false
	}
	return ids, true
}

// requestBody returns the decompressed request body. Reading past
// MaxRequestBytes, before or after decompression, fails with an
// *http.MaxBytesError.
func (h *Handler) requestBody(w http.ResponseWriter, r *http.Request) (io.Reader, func(), error) {
	raw := http.MaxBytesReader(w, r.Body, h.maxBytes)
	switch encoding := r.Header.Get("Content-Encoding"); encoding {
	case "":
		return raw, func() {}, nil
	case encodingZstd:
		decoder, err := zstd.NewReader(raw, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(uint64(h.maxBytes)))
		if err != nil {
			return nil, nil, err
		}
		body := http.MaxBytesReader(w, decoder.IOReadCloser(), h.maxBytes)
		return body, func() { body.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported content encoding %q", encoding)
	}
}

// bodyStatus is the status for a request body that failed to decode
// with err.
func bodyStatus(body io.Reader, err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	// A MaxBytesReader keeps failing once over its limit, whatever
	// error the decoder reported for it.
	if _, err := body.Read(nil); errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func (h *Handler) sendCBOR(w http.ResponseWriter, value any) {
	data, err := codec.Marshal(value)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, "encoding response: %v", err)
		return
	}
	w.Header().Set("Content-Type", contentTypeCBOR)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("writing response", "error", err)
	}
}

// sendBackendError answers a failure of the backing transport.
func (h *Handler) sendBackendError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if object.IsCancelled(err) {
		return
	}
	h.logger.Error("backend failure", "op", op, "namespace", r.PathValue("namespace"), "error", err)
	h.sendError(w, http.StatusInternalServerError, "%s: %v", op, err)
}

func (h *Handler) sendError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, format, args...)
}
