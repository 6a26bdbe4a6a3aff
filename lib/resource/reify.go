// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/castdeck/castdeck/lib/wire"
)

// MaxDepth bounds the nesting Reify will walk.
const MaxDepth = 64

var (
	// ErrCycle is returned when a value refers back to itself.
	ErrCycle = errors.New("resource: cyclic value cannot be serialized")

	// ErrTooDeep is returned when a value nests deeper than MaxDepth.
	ErrTooDeep = errors.New("resource: value nests too deeply")

	// ErrNestedEmitter is returned when a *Promise or *Stream appears
	// anywhere but the top level of a result.
	ErrNestedEmitter = errors.New("resource: promises and streams must be returned at the top level")
)

// ReifyOptions controls reference rendering.
type ReifyOptions struct {
	// Compact omits the plain-data fields of references.
	Compact bool
}

// Reify returns a JSON-ready copy of v in which every Resource,
// however deeply nested, is replaced by its wire.Reference. Structs
// become maps keyed the way encoding/json would key them. Values that
// implement json.Marshaler are kept as-is.
func Reify(v any, opts ReifyOptions) (any, error) {
	r := reifier{compact: opts.Compact, visiting: make(map[uintptr]struct{})}
	return r.walk(v, 0)
}

// ReferenceTo returns the reference for res.
func ReferenceTo(res Resource, opts ReifyOptions) (wire.Reference, error) {
	r := reifier{compact: opts.Compact, visiting: make(map[uintptr]struct{})}
	return r.reference(res, 0)
}

type reifier struct {
	compact  bool
	visiting map[uintptr]struct{}
}

func (r *reifier) walk(v any, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}
	if v == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && rv.IsNil() {
		return nil, nil
	}

	switch typed := v.(type) {
	case *Promise, *Stream:
		return nil, ErrNestedEmitter
	case Resource:
		return r.reference(typed, depth)
	case json.RawMessage, json.Marshaler:
		return typed, nil
	case string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number:
		return typed, nil
	}
	return r.walkValue(rv, depth)
}

func (r *reifier) reference(res Resource, depth int) (wire.Reference, error) {
	id := res.ResourceID()
	ref := wire.Reference{Type: wire.TypeService, ResourceID: id.String()}
	if id.Kind() == KindHelper {
		ref.Type = wire.TypeHelper
	}
	if r.compact {
		return ref, nil
	}
	describer, ok := res.(Describer)
	if !ok {
		return ref, nil
	}
	fields := describer.ResourceFields()
	if len(fields) == 0 {
		return ref, nil
	}
	ref.Fields = make(map[string]any, len(fields))
	for key, value := range fields {
		walked, err := r.walk(value, depth+1)
		if err != nil {
			return wire.Reference{}, fmt.Errorf("field %q of %s: %w", key, id, err)
		}
		ref.Fields[key] = walked
	}
	return ref, nil
}

func (r *reifier) enter(pointer uintptr) error {
	if _, seen := r.visiting[pointer]; seen {
		return ErrCycle
	}
	r.visiting[pointer] = struct{}{}
	return nil
}

func (r *reifier) leave(pointer uintptr) {
	delete(r.visiting, pointer)
}

func (r *reifier) walkValue(rv reflect.Value, depth int) (any, error) {
	switch rv.Kind() {
	case reflect.Pointer:
		pointer := rv.Pointer()
		if err := r.enter(pointer); err != nil {
			return nil, err
		}
		defer r.leave(pointer)
		return r.walkElem(rv.Elem(), depth+1)

	case reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return r.walkElem(rv.Elem(), depth+1)

	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return rv.Interface(), nil
		}
		pointer := rv.Pointer()
		if err := r.enter(pointer); err != nil {
			return nil, err
		}
		defer r.leave(pointer)
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			value, err := r.walkElem(iter.Value(), depth+1)
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = value
		}
		return out, nil

	case reflect.Slice:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface(), nil
		}
		if rv.Len() > 0 {
			pointer := rv.Pointer()
			if err := r.enter(pointer); err != nil {
				return nil, err
			}
			defer r.leave(pointer)
		}
		return r.walkSequence(rv, depth)

	case reflect.Array:
		return r.walkSequence(rv, depth)

	case reflect.Struct:
		out := make(map[string]any)
		if err := r.walkStruct(rv, out, depth); err != nil {
			return nil, err
		}
		return out, nil

	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128:
		return nil, fmt.Errorf("resource: %s values cannot be serialized", rv.Kind())
	}
	return rv.Interface(), nil
}

func (r *reifier) walkElem(rv reflect.Value, depth int) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}
	if !rv.CanInterface() {
		return r.walkValue(rv, depth)
	}
	return r.walk(rv.Interface(), depth)
}

func (r *reifier) walkSequence(rv reflect.Value, depth int) (any, error) {
	out := make([]any, rv.Len())
	for i := range out {
		value, err := r.walkElem(rv.Index(i), depth+1)
		if err != nil {
			return nil, err
		}
		out[i] = value
	}
	return out, nil
}

// walkStruct renders exported fields under their json names. Embedded
// structs without a json name are flattened, with outer fields taking
// precedence.
func (r *reifier) walkStruct(rv reflect.Value, out map[string]any, depth int) error {
	if depth > MaxDepth {
		return ErrTooDeep
	}
	structType := rv.Type()
	var embedded []reflect.Value
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, options, _ := strings.Cut(tag, ",")
		value := rv.Field(i)

		if field.Anonymous && name == "" {
			if value.Kind() == reflect.Pointer {
				if value.IsNil() {
					continue
				}
				value = value.Elem()
			}
			if value.Kind() == reflect.Struct {
				embedded = append(embedded, value)
				continue
			}
		}
		if !field.IsExported() {
			continue
		}
		if name == "" {
			name = field.Name
		}
		if omitted(options, value) {
			continue
		}
		walked, err := r.walkElem(value, depth+1)
		if err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
		out[name] = walked
	}

	for _, value := range embedded {
		inner := make(map[string]any)
		if err := r.walkStruct(value, inner, depth+1); err != nil {
			return err
		}
		for key, walked := range inner {
			if _, exists := out[key]; !exists {
				out[key] = walked
			}
		}
	}
	return nil
}

// omitted applies encoding/json's omitempty and omitzero rules.
func omitted(options string, value reflect.Value) bool {
	for option := range strings.SplitSeq(options, ",") {
		switch option {
		case "omitempty":
			if isEmptyValue(value) {
				return true
			}
		case "omitzero":
			if value.IsZero() {
				return true
			}
		}
	}
	return false
}

func isEmptyValue(value reflect.Value) bool {
	switch value.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return value.Len() == 0
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Interface, reflect.Pointer:
		return value.IsZero()
	}
	return false
}
