package domain

import (
	"errors"
	"fmt"
)

// Code classifies a query error for reply mapping and metrics.
type Code string

const (
	CodeGeneric        Code = "generic"
	CodeWrongArity     Code = "wrong_arity"
	CodeNoIndex        Code = "no_index"
	CodeParse          Code = "parse"
	CodeCompile        Code = "compile"
	CodeContext        Code = "context"
	CodeCursorCap      Code = "cursor_cap"
	CodeCursorNotFound Code = "cursor_not_found"
	CodeBadCursorID    Code = "bad_cursor_id"
	CodeBadCount       Code = "bad_count"
	CodeRuntime        Code = "runtime"
)

var (
	// ErrIndexNotFound signals a missing index.
	ErrIndexNotFound = errors.New("no such index")
	// ErrIndexExists signals a duplicate index name.
	ErrIndexExists = errors.New("index already exists")
	// ErrCursorNotFound signals a lookup miss in the cursor registry.
	ErrCursorNotFound = errors.New("cursor not found")
	// ErrCursorLeased signals that another caller holds the cursor lease.
	ErrCursorLeased = errors.New("cursor is busy")
	// ErrCursorCapExceeded signals that the per-index cursor cap is reached.
	ErrCursorCapExceeded = errors.New("too many cursors for index")
	// ErrIndexDropped signals that an index was dropped while a cursor held it.
	ErrIndexDropped = errors.New("index was dropped")
)

// QueryError carries a classified error from compile, context apply, or
// pipeline execution. The zero value has no error.
type QueryError struct {
	Code Code
	Msg  string
	Err  error
}

func (e *QueryError) Error() string {
	if e.Err != nil && e.Msg == "" {
		return e.Err.Error()
	}
	return e.Msg
}

func (e *QueryError) Unwrap() error { return e.Err }

// NewQueryError creates a QueryError with a formatted message.
func NewQueryError(code Code, format string, args ...any) *QueryError {
	return &QueryError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapQueryError attaches a code to an underlying error.
func WrapQueryError(code Code, err error) *QueryError {
	return &QueryError{Code: code, Msg: err.Error(), Err: err}
}

// AsQueryError extracts a *QueryError from err, wrapping with CodeGeneric
// when err is not already classified.
func AsQueryError(err error) *QueryError {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}
	return &QueryError{Code: CodeGeneric, Msg: err.Error(), Err: err}
}
