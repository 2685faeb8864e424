// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"bytes"
	"fmt"
	"math"
	"reflect"

	"github.com/bureau-foundation/objectgraph/lib/object"
)

// Canonical converts one property value to the representation the
// serializer encodes and the composer produces: signed integers become
// int64, unsigned integers become int64 (or uint64 when they do not
// fit), floats become float64, typed slices become []any, and
// string-keyed maps become map[string]any. Conversion is shallow: list
// elements and map values are returned as-is for the caller to
// canonicalize in turn.
//
// A typed nil *Node canonicalizes to nil. Values of any other kind
// (channels, functions, structs, pointers) return an error wrapping
// [object.ErrUnsupportedValue].
func Canonical(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool, string, int64, float64:
		return v, nil
	case []any:
		if v == nil {
			return nil, nil
		}
		return v, nil
	case map[string]any:
		if v == nil {
			return nil, nil
		}
		return v, nil
	case *Node:
		if v == nil {
			return nil, nil
		}
		return v, nil
	case []byte:
		if v == nil {
			return nil, nil
		}
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float32:
		return float64(v), nil
	}
	return canonicalReflect(reflect.ValueOf(value))
}

func canonicalReflect(v reflect.Value) (any, error) {
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		unsigned := v.Uint()
		if unsigned <= math.MaxInt64 {
			return int64(unsigned), nil
		}
		return unsigned, nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil, nil
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			buffer := make([]byte, v.Len())
			for i := range buffer {
				buffer[i] = byte(v.Index(i).Uint())
			}
			return buffer, nil
		}
		list := make([]any, v.Len())
		for i := range list {
			list[i] = v.Index(i).Interface()
		}
		return list, nil
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map with %s keys", object.ErrUnsupportedValue, v.Type().Key())
		}
		if v.IsNil() {
			return nil, nil
		}
		converted := make(map[string]any, v.Len())
		iterator := v.MapRange()
		for iterator.Next() {
			converted[iterator.Key().String()] = iterator.Value().Interface()
		}
		return converted, nil
	case reflect.Invalid:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %s", object.ErrUnsupportedValue, v.Type())
}

// Equal reports whether two values are structurally equal after
// canonicalization. Nodes are equal when their type chains and
// properties are equal; schemas are not compared. Two NaNs are equal.
// Unsupported values are never equal to anything.
func Equal(a, b any) bool {
	left, err := Canonical(a)
	if err != nil {
		return false
	}
	right, err := Canonical(b)
	if err != nil {
		return false
	}

	switch l := left.(type) {
	case nil:
		return right == nil
	case *Node:
		r, ok := right.(*Node)
		if !ok {
			return false
		}
		return equalNodes(l, r)
	case []any:
		r, ok := right.([]any)
		if !ok || len(l) != len(r) {
			return false
		}
		for i := range l {
			if !Equal(l[i], r[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		r, ok := right.(map[string]any)
		if !ok || len(l) != len(r) {
			return false
		}
		for key, value := range l {
			other, present := r[key]
			if !present || !Equal(value, other) {
				return false
			}
		}
		return true
	case []byte:
		r, ok := right.([]byte)
		return ok && bytes.Equal(l, r)
	case float64:
		r, ok := right.(float64)
		if !ok {
			return false
		}
		if math.IsNaN(l) && math.IsNaN(r) {
			return true
		}
		return l == r
	default:
		return left == right
	}
}

func equalNodes(a, b *Node) bool {
	if a == b {
		return true
	}
	if a.typeChain != b.typeChain || len(a.props) != len(b.props) {
		return false
	}
	for name, value := range a.props {
		other, present := b.props[name]
		if !present || !Equal(value, other) {
			return false
		}
	}
	return true
}
