// Package cmn provides shared types, the property-value model, and the
// error taxonomy used across the query execution core.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package cmn

import (
	"errors"
	"fmt"
)

// Status mirrors the command-level result codes returned in every response
// fragment's `status` field: zero is success, positive values are
// informational (the command still ran), negative values abort the batch.
type Status int

const (
	// Success indicates the operation completed as requested.
	Success Status = 0
	// Empty indicates an iterator produced no rows. Informational for
	// Add/Update; treated as a hard failure by operations that require a
	// non-empty input set (e.g. AddEdge).
	Empty Status = 1
	// Exists indicates an AddNode guard query matched an existing unique
	// node; no insert was performed.
	Exists Status = 2
	// NotUnique indicates uniqueness was asserted but two or more rows
	// matched.
	NotUnique Status = 3
	// Error indicates a semantic error: bad reference, _ref reuse,
	// predicate type mismatch, schema validation failure, or an
	// unrecognized command. Aborts the batch.
	Error Status = -1
	// Exception indicates the storage engine itself raised a fault
	// (PropertyTypeInvalid, lock timeout, codec error). Aborts the batch.
	Exception Status = -2
)

func (s Status) String() string {
	switch s {
	case Success:
		return "Success"
	case Empty:
		return "Empty"
	case Exists:
		return "Exists"
	case NotUnique:
		return "NotUnique"
	case Error:
		return "Error"
	case Exception:
		return "Exception"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Aborts reports whether a command carrying this status must abort the
// whole batch.
func (s Status) Aborts() bool { return s == Error || s == Exception }

// Err is the error type threaded through the query handler, the graph
// engine, and the media pipelines. It always carries a Status so callers
// can fill a response fragment without re-classifying the failure.
type Err struct {
	Status Status
	Info   string
	Cause  error
}

func (e *Err) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Status, e.Info, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Status, e.Info)
}

func (e *Err) Unwrap() error { return e.Cause }

// NewErr builds an *Err with no wrapped cause.
func NewErr(status Status, format string, args ...any) *Err {
	return &Err{Status: status, Info: fmt.Sprintf(format, args...)}
}

// WrapErr builds an *Err around an existing error, used where the storage
// engine or a codec threw and the caller needs to surface it as an
// Exception without losing the original cause (errors.Is/As still work).
func WrapErr(status Status, cause error, format string, args ...any) *Err {
	return &Err{Status: status, Info: fmt.Sprintf(format, args...), Cause: cause}
}

// ErrNotImplemented is returned by media operations that are legal in
// general but unsupported on the object's current format (e.g. Flip on a
// tiled-raw image).
func ErrNotImplemented(op, format string) *Err {
	return NewErr(Error, "%s is not implemented for format %s", op, format)
}

// AsErr unwraps err into an *Err, synthesizing an Exception-status wrapper
// around any error that didn't already originate as one. This is what lets
// a transaction step wrap an arbitrary panic/error from a lower layer into
// the response taxonomy without every call site doing the type switch.
func AsErr(err error) *Err {
	if err == nil {
		return nil
	}
	var e *Err
	if errors.As(err, &e) {
		return e
	}
	return WrapErr(Exception, err, "%v", err)
}
