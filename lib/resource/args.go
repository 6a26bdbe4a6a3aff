// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgument is wrapped by every Args accessor failure. The
// executor reports it to the caller as an invalid-params error.
var ErrInvalidArgument = errors.New("invalid argument")

// Args are the decoded arguments of a call. Plain values arrive in
// their JSON-decoded form (string, float64, bool, nil, []any,
// map[string]any). Arguments that were resource references arrive as
// the resolved Target.
type Args []any

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

func (a Args) at(i int) (any, error) {
	if i < 0 || i >= len(a) {
		return nil, fmt.Errorf("%w: missing argument %d", ErrInvalidArgument, i)
	}
	return a[i], nil
}

// String returns argument i as a string.
func (a Args) String(i int) (string, error) {
	v, err := a.at(i)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: argument %d is %T, want string", ErrInvalidArgument, i, v)
	}
	return s, nil
}

// Float returns argument i as a number.
func (a Args) Float(i int) (float64, error) {
	v, err := a.at(i)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case json.Number:
		return n.Float64()
	case int:
		return float64(n), nil
	}
	return 0, fmt.Errorf("%w: argument %d is %T, want number", ErrInvalidArgument, i, v)
}

// Int returns argument i as an integer. Fractional numbers are
// rejected.
func (a Args) Int(i int) (int, error) {
	f, err := a.Float(i)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("%w: argument %d (%v) is not an integer", ErrInvalidArgument, i, f)
	}
	return int(f), nil
}

// Bool returns argument i as a boolean.
func (a Args) Bool(i int) (bool, error) {
	v, err := a.at(i)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: argument %d is %T, want bool", ErrInvalidArgument, i, v)
	}
	return b, nil
}

// Optional reports whether argument i is present and not null.
func (a Args) Optional(i int) bool {
	return i < len(a) && a[i] != nil
}

// Decode converts argument i into v through its JSON form.
func (a Args) Decode(i int, v any) error {
	raw, err := a.at(i)
	if err != nil {
		return err
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("%w: argument %d: %v", ErrInvalidArgument, i, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: argument %d: %v", ErrInvalidArgument, i, err)
	}
	return nil
}

// Target returns argument i as a resolved resource.
func (a Args) Target(i int) (Target, error) {
	v, err := a.at(i)
	if err != nil {
		return nil, err
	}
	target, ok := v.(Target)
	if !ok {
		return nil, fmt.Errorf("%w: argument %d is %T, want a resource reference", ErrInvalidArgument, i, v)
	}
	return target, nil
}
