// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"errors"
	"fmt"
)

// Code is a JSON-RPC style error code.
type Code int

const (
	CodeInvalidRequest Code = -32600
	CodeMethodNotFound Code = -32601
	CodeInvalidParams  Code = -32602
	CodeInternal       Code = -32603
)

func (c Code) String() string {
	switch c {
	case CodeInvalidRequest:
		return "INVALID_REQUEST"
	case CodeMethodNotFound:
		return "NOT_FOUND"
	case CodeInvalidParams:
		return "INVALID_PARAMS"
	case CodeInternal:
		return "INTERNAL_ERROR"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Error is the error object of a Response. It implements error so a
// client can return it to its caller unchanged.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds an *Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsError returns err as an *Error, wrapping anything else as an
// internal error with err's message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr
	}
	return &Error{Code: CodeInternal, Message: err.Error()}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var wireErr *Error
	return errors.As(err, &wireErr) && wireErr.Code == code
}
