// Copyright (c) 2026 BinSchema Authors
// SPDX-License-Identifier: MIT

package schema

import (
	"errors"
	"fmt"

	"github.com/aeolun/json5"
)

// Kind identifies the broad category of a binschema error, per the error
// taxonomy: SchemaInvalid, BoundsExceeded, NotSeekable, EncodingError,
// DecodingError, CircularReference, TypeMismatch.
type Kind string

const (
	KindSchemaInvalid     Kind = "SchemaInvalid"
	KindBoundsExceeded    Kind = "BoundsExceeded"
	KindNotSeekable       Kind = "NotSeekable"
	KindEncodingError     Kind = "EncodingError"
	KindDecodingError     Kind = "DecodingError"
	KindCircularReference Kind = "CircularReference"
	KindTypeMismatch      Kind = "TypeMismatch"
)

// Error is the single error type raised by every subsystem in this
// package. Path is a dotted path into the schema or value being processed
// (e.g. "types.Chunk.payload.variants[0].when"); it is empty when no
// meaningful path applies.
type Error struct {
	Kind    Kind
	Path    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Kind (and, when
// target.Path is non-empty, the same Path), so errors.Is(err,
// &schema.Error{Kind: schema.KindBoundsExceeded}) matches anywhere in a
// wrapped chain. IsKind below is the shorthand for a Kind-only check.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	if other.Path != "" && other.Path != e.Path {
		return false
	}
	return other.Kind == e.Kind
}

func newErr(kind Kind, path string, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...)}
}

func wrapErr(kind Kind, path string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Path: path, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// errorDump is the JSON5-serializable view of an *Error used by
// DebugJSON5, nesting wrapped causes that are themselves *Error values.
type errorDump struct {
	Kind    Kind   `json:"kind"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
	Cause   any    `json:"cause,omitempty"`
}

func errorView(e *Error) errorDump {
	d := errorDump{Kind: e.Kind, Path: e.Path, Message: e.Message}
	switch cause := e.Cause.(type) {
	case *Error:
		d.Cause = errorView(cause)
	case nil:
	default:
		d.Cause = cause.Error()
	}
	return d
}

// DebugJSON5 renders e (and any chain of wrapped *Error causes) as a
// relaxed JSON5 document, for pasting into an issue or log line without
// losing the Kind/Path/Cause structure a plain Error() string drops.
func (e *Error) DebugJSON5() string {
	out, err := json5.Marshal(errorView(e))
	if err != nil {
		return e.Error()
	}
	return string(out)
}

// IsKind reports whether err, or any error in its Unwrap chain, is a
// *schema.Error of the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if se, ok := err.(*Error); ok && se.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
