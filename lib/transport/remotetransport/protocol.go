// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package remotetransport

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/objectgraph/lib/codec"
	"github.com/bureau-foundation/objectgraph/lib/object"
)

// Endpoint path pattern and content types.
const (
	apiPrefix       = "/api/v1/namespaces/"
	contentTypeCBOR = "application/cbor"
	contentTypeSeq  = "application/cbor-seq"
	encodingZstd    = "zstd"
)

// DefaultNamespace is used when Config.Namespace is empty.
const DefaultNamespace = "default"

// wireObject is one record in an upload or download stream.
type wireObject struct {
	ID   string `cbor:"id"`
	Data []byte `cbor:"data"`
}

type idList struct {
	IDs []string `cbor:"ids"`
}

type presentList struct {
	Present []string `cbor:"present"`
}

type uploadResult struct {
	Stored int `cbor:"stored"`
}

// StatusError is a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string

	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Transient reports whether the request may succeed if repeated.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// zstdEncoder and zstdDecoder are shared for whole-buffer operations;
// EncodeAll and DecodeAll are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		panic("remotetransport: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("remotetransport: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeObjects builds a compressed upload body.
func encodeObjects(objects []wireObject) ([]byte, error) {
	var sequence bytes.Buffer
	encoder := codec.NewEncoder(&sequence)
	for _, item := range objects {
		if err := encoder.Encode(item); err != nil {
			return nil, fmt.Errorf("encoding %s: %w", object.ID(item.ID).Short(), err)
		}
	}
	return zstdEncoder.EncodeAll(sequence.Bytes(), nil), nil
}

func idStrings(ids []object.ID) []string {
	values := make([]string, len(ids))
	for i, id := range ids {
		values[i] = string(id)
	}
	return values
}

func parseIDs(values []string) ([]object.ID, error) {
	ids := make([]object.ID, len(values))
	for i, value := range values {
		id, err := object.ParseID(value)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}
