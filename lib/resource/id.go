// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes the two addressable resource shapes.
type Kind int

const (
	KindSingleton Kind = iota
	KindHelper
)

func (k Kind) String() string {
	switch k {
	case KindSingleton:
		return "singleton"
	case KindHelper:
		return "helper"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ErrInvalidID is returned when a resource id string cannot be parsed.
var ErrInvalidID = errors.New("resource: invalid id")

// ID addresses a resource. A singleton id is its type name. A helper
// id is the type name followed by the JSON array of its constructor
// arguments: Scene["b7c1"].
type ID struct {
	kind Kind
	name string
	args string
}

// Singleton returns the id of the named singleton service.
func Singleton(name string) ID {
	return ID{kind: KindSingleton, name: name}
}

// Helper returns the id of a helper built from args. The arguments are
// encoded deterministically (object keys sorted), so equal arguments
// always produce the same id.
func Helper(name string, args ...any) (ID, error) {
	if len(args) == 0 {
		args = []any{}
	}
	normalized, err := normalize(args)
	if err != nil {
		return ID{}, fmt.Errorf("encoding arguments of helper %s: %w", name, err)
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return ID{}, fmt.Errorf("encoding arguments of helper %s: %w", name, err)
	}
	return ID{kind: KindHelper, name: name, args: string(data)}, nil
}

// MustHelper is Helper for arguments that are known to encode.
func MustHelper(name string, args ...any) ID {
	id, err := Helper(name, args...)
	if err != nil {
		panic(err)
	}
	return id
}

// ParseID parses the string form produced by ID.String.
func ParseID(s string) (ID, error) {
	open := strings.IndexByte(s, '[')
	if open < 0 {
		if s == "" || strings.ContainsAny(s, "]\"") {
			return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
		}
		return Singleton(s), nil
	}
	name := s[:open]
	if name == "" || !strings.HasSuffix(s, "]") {
		return ID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	var args []any
	decoder := json.NewDecoder(bytes.NewReader([]byte(s[open:])))
	decoder.UseNumber()
	if err := decoder.Decode(&args); err != nil {
		return ID{}, fmt.Errorf("%w: %q: %v", ErrInvalidID, s, err)
	}
	return Helper(name, args...)
}

// Kind returns whether the id names a singleton or a helper.
func (id ID) Kind() Kind { return id.kind }

// Name returns the registered type name.
func (id ID) Name() string { return id.name }

// IsZero reports whether id is the zero ID.
func (id ID) IsZero() bool { return id.name == "" }

func (id ID) String() string {
	if id.kind == KindHelper {
		return id.name + id.args
	}
	return id.name
}

// Args decodes the helper constructor arguments. Numbers decode as
// float64, matching what every other JSON boundary produces.
func (id ID) Args() (Args, error) {
	if id.kind != KindHelper {
		return nil, nil
	}
	var args []any
	if err := json.Unmarshal([]byte(id.args), &args); err != nil {
		return nil, fmt.Errorf("decoding arguments of %s: %w", id, err)
	}
	return Args(args), nil
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// normalize round-trips v through JSON so ids built from Go values and
// ids parsed from the wire encode identically. encoding/json sorts map
// keys, which makes the result deterministic.
func normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
