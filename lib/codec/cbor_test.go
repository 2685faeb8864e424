// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

type sampleEnvelope struct {
	Payload []byte         `cbor:"payload"`
	Closure map[string]int `cbor:"closure,omitempty"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleEnvelope{
		Payload: []byte{0xa1, 0x61, 0x61, 0x01},
		Closure: map[string]int{"b": 2, "a": 1},
	}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleEnvelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("payload = %x, want %x", decoded.Payload, original.Payload)
	}
	if decoded.Closure["a"] != 1 || decoded.Closure["b"] != 2 || len(decoded.Closure) != 2 {
		t.Errorf("closure = %v, want %v", decoded.Closure, original.Closure)
	}
}

func TestMarshalMapKeyOrderIndependent(t *testing.T) {
	// Go map iteration order is random; the encoding must not be.
	first := map[string]any{}
	second := map[string]any{}
	keys := []string{"zeta", "alpha", "mid", "beta", "omega", "a", "bb"}
	for i, key := range keys {
		first[key] = i
	}
	for i := len(keys) - 1; i >= 0; i-- {
		second[keys[i]] = i
	}

	for attempt := 0; attempt < 20; attempt++ {
		a, err := Marshal(first)
		if err != nil {
			t.Fatalf("Marshal first: %v", err)
		}
		b, err := Marshal(second)
		if err != nil {
			t.Fatalf("Marshal second: %v", err)
		}
		if !bytes.Equal(a, b) {
			t.Fatalf("deterministic encoding violated: %x != %x", a, b)
		}
	}
}

func TestUnmarshalAnyUsesStringMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": "value"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	outer, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded type = %T, want map[string]any", decoded)
	}
	inner, ok := outer["outer"].(map[string]any)
	if !ok {
		t.Fatalf("nested type = %T, want map[string]any", outer["outer"])
	}
	if inner["inner"] != "value" {
		t.Errorf("inner = %v, want value", inner["inner"])
	}
}

func TestUnrecognizedTagSurvivesRoundtrip(t *testing.T) {
	original := Tag{Number: 51002, Content: map[string]any{"referencedId": "abc"}}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	tag, ok := decoded.(Tag)
	if !ok {
		t.Fatalf("decoded type = %T, want codec.Tag", decoded)
	}
	if tag.Number != 51002 {
		t.Errorf("tag number = %d, want 51002", tag.Number)
	}
	content, ok := tag.Content.(map[string]any)
	if !ok || content["referencedId"] != "abc" {
		t.Errorf("tag content = %#v", tag.Content)
	}
}

func TestDeepNestingAccepted(t *testing.T) {
	var value any = "leaf"
	for i := 0; i < 200; i++ {
		value = []any{value}
	}

	data, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal of 200 nested lists: %v", err)
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var envelope sampleEnvelope
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &envelope); err == nil {
		t.Error("Unmarshal should reject invalid CBOR")
	}
}

func TestEncoderDecoderStreamRoundtrip(t *testing.T) {
	messages := []sampleEnvelope{
		{Payload: []byte("one")},
		{Payload: []byte("two"), Closure: map[string]int{"x": 1}},
		{Payload: []byte("three")},
	}

	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, message := range messages {
		if err := encoder.Encode(message); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i, want := range messages {
		var got sampleEnvelope
		if err := decoder.Decode(&got); err != nil {
			t.Fatalf("Decode message %d: %v", i, err)
		}
		if !bytes.Equal(got.Payload, want.Payload) {
			t.Errorf("message %d payload = %q, want %q", i, got.Payload, want.Payload)
		}
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(map[string]any{"type": "Base"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	notation, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(notation, `"Base"`) {
		t.Errorf("notation %q does not contain \"Base\"", notation)
	}
}

func BenchmarkMarshal(b *testing.B) {
	payload := map[string]any{
		"type":  "Objects.Geometry.Mesh:Base",
		"props": map[string]any{"name": "wall", "faces": []any{0, 1, 2, 3}},
	}

	b.ReportAllocs()
	for b.Loop() {
		Marshal(payload)
	}
}
