// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package deverr defines the error taxonomy shared by every device operation
// and the (ok, message) result form that callers render.
package deverr

import (
	"errors"
	"fmt"
)

// Kind classifies a device operation failure
type Kind int

const (
	// Failed is any tool or I/O failure not covered by a more specific kind
	Failed Kind = iota
	// NotFound means the flashing tool, the port, the source file or the device profile is absent
	NotFound
	// Timeout means a bounded operation ran out of time and was terminated
	Timeout
	// Busy means the port is already claimed by another operation
	Busy
	// ChunkIntegrity means a read produced a file whose size differs from the requested length
	ChunkIntegrity
	// Unsupported means the device's flash method is incompatible with the requested path
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Timeout:
		return "timeout"
	case Busy:
		return "busy"
	case ChunkIntegrity:
		return "chunk_integrity"
	case Unsupported:
		return "unsupported"
	default:
		return "failed"
	}
}

// ParseKind is the inverse of Kind.String; unknown names map to Failed
func ParseKind(name string) Kind {
	for k := NotFound; k <= Unsupported; k++ {
		if k.String() == name {
			return k
		}
	}
	return Failed
}

// Sentinels for errors.Is checks against a kind
var (
	ErrFailed         = &Error{Kind: Failed}
	ErrNotFound       = &Error{Kind: NotFound}
	ErrTimeout        = &Error{Kind: Timeout}
	ErrBusy           = &Error{Kind: Busy}
	ErrChunkIntegrity = &Error{Kind: ChunkIntegrity}
	ErrUnsupported    = &Error{Kind: Unsupported}
)

// Error is a classified device operation failure.
// Msg is the operator-facing text; Err is the underlying cause, if any.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the package sentinels work with errors.Is
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// New creates a classified error
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Newf creates a classified error with a formatted message
func Newf(kind Kind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Failed
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Failed
}

// Message returns the operator-facing message of err without the op prefix
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Msg != "" {
			return e.Msg
		}
		if e.Err != nil {
			return e.Err.Error()
		}
		return e.Kind.String()
	}
	return err.Error()
}
