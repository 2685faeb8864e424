// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"math"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// MaxNestedLevels bounds the nesting depth accepted by the decoder.
// Inline nodes nest three CBOR levels per node (tag, node map, props
// map), so the library default of 32 is far too shallow for real
// object graphs.
const MaxNestedLevels = 1024

// encMode is the CBOR encoder configured with Core Deterministic
// Encoding. Same logical data always produces identical bytes.
var encMode cbor.EncMode

// decMode is the CBOR decoder. Unknown struct fields are ignored for
// forward compatibility.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Property bags are always string keyed. Without this the
		// decoder produces map[interface{}]interface{} for any-typed
		// targets, which nothing downstream can consume.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// Keep unregistered tags as cbor.Tag so the serializer can
		// recognize its node, reference, and chunk markers.
		UnrecognizedTagToAny: cbor.UnrecognizedTagNumAndContentToAny,
		MaxNestedLevels:      MaxNestedLevels,
		// Unchunked leaf lists can be arbitrarily long.
		MaxArrayElements: math.MaxInt32,
		MaxMapPairs:      math.MaxInt32,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder. Type alias so consumers import
// only lib/codec, not fxamacker/cbor directly.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// Tag is a CBOR tag number with its decoded content. Values of this
// type encode as tagged items and are produced by the decoder for
// every tag number the library does not handle itself.
type Tag = cbor.Tag

// RawMessage is a raw encoded CBOR value, used to delay decoding or
// to embed pre-encoded output.
type RawMessage = cbor.RawMessage

// NewEncoder returns a CBOR encoder that writes to w using the
// deterministic configuration.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for the
// entire contents of data. The CLI uses it to print record payloads.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
