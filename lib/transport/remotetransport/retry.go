// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotetransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/objectgraph/lib/object"
)

// backoff returns the wait before the given retry (1 for the first
// retry): InitialBackoff doubled per retry, capped at MaxBackoff.
func (t *Transport) backoff(retry int) time.Duration {
	wait := t.initialBackoff << (retry - 1)
	if wait <= 0 || wait > t.maxBackoff {
		return t.maxBackoff
	}
	return wait
}

// wait sleeps on the transport clock, returning early with a
// cancellation error if ctx is done.
func (t *Transport) wait(ctx context.Context, op string, d time.Duration) error {
	select {
	case <-ctx.Done():
		return &object.CancellationError{Op: op, Err: ctx.Err()}
	case <-t.clock.After(d):
		return nil
	}
}

// request describes one retryable call.
type request struct {
	op       string
	endpoint string
	body     []byte
	encoding string
	accept   string
}

// do sends the request until it succeeds, fails permanently, or
// exhausts its attempts. On success the caller owns the response body.
func (t *Transport) do(ctx context.Context, call request) (*http.Response, error) {
	var lastErr error
	for attempt := range t.maxAttempts {
		if attempt > 0 {
			delay := t.backoff(attempt)
			var statusErr *StatusError
			if errors.As(lastErr, &statusErr) && statusErr.retryAfter > 0 {
				delay = min(statusErr.retryAfter, t.maxBackoff)
			}
			t.logger.Warn("transient remote failure, retrying",
				"transport", t.name,
				"op", call.op,
				"attempt", attempt+1,
				"backoff", delay,
				"error", lastErr,
			)
			if err := t.wait(ctx, call.op, delay); err != nil {
				return nil, err
			}
		}

		response, err := t.send(ctx, call)
		if err == nil {
			return response, nil
		}
		if ctxErr := object.CheckContext(ctx, call.op, ""); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		if !transient(err) {
			return nil, &object.TransportError{Op: call.op, Transport: t.name, Err: err}
		}
	}
	return nil, &object.TransportError{
		Op:        call.op,
		Transport: t.name,
		Err:       fmt.Errorf("giving up after %d attempts: %w", t.maxAttempts, lastErr),
	}
}

// send performs a single attempt.
func (t *Transport) send(ctx context.Context, call request) (*http.Response, error) {
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, call.endpoint, bytes.NewReader(call.body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", contentTypeCBOR)
	if call.encoding != "" {
		httpRequest.Header.Set("Content-Encoding", call.encoding)
	}
	if call.accept != "" {
		httpRequest.Header.Set("Accept-Encoding", call.accept)
	}
	if t.token != "" {
		httpRequest.Header.Set("Authorization", "Bearer "+t.token)
	}
	httpRequest.Header.Set("X-Request-ID", uuid.NewString())

	response, err := t.httpClient.Do(httpRequest)
	if err != nil {
		return nil, err
	}
	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return response, nil
	}
	defer response.Body.Close()
	message, _ := io.ReadAll(io.LimitReader(response.Body, 1024))
	statusErr := &StatusError{StatusCode: response.StatusCode, Message: strings.TrimSpace(string(message))}
	if seconds, err := strconv.Atoi(response.Header.Get("Retry-After")); err == nil && seconds > 0 {
		statusErr.retryAfter = time.Duration(seconds) * time.Second
	}
	return nil, statusErr
}

// transient reports whether a failed attempt is worth repeating:
// 429 and 5xx responses, and transport-level failures such as refused
// or reset connections. Other HTTP statuses are permanent.
func transient(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
