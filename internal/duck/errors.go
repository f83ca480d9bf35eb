package duck

import (
	"errors"
	"fmt"
)

// Kind names a failure category surfaced to callers.
type Kind string

const (
	KindStorageUnavailable  Kind = "StorageUnavailableError"
	KindStatementKind       Kind = "StatementKindError"
	KindSyntax              Kind = "SyntaxError"
	KindParameterBinding    Kind = "ParameterBindingError"
	KindQueryTimeout        Kind = "QueryTimeoutError"
	KindConstraintViolation Kind = "ConstraintViolationError"
	KindNotFound            Kind = "NotFoundError"
	KindUnsupportedType     Kind = "UnsupportedTypeError"
	KindUnsupportedFormat   Kind = "UnsupportedFormatError"
	KindImport              Kind = "ImportError"
	KindPermission          Kind = "PermissionError"

	// KindCancelled is reported when the caller abandons a call before it completes.
	KindCancelled Kind = "CancelledError"
	// KindExecution covers engine runtime failures outside the categories above
	// (division by zero, out-of-range casts, out of memory).
	KindExecution Kind = "ExecutionError"
)

// Error is the single error type returned across the gateway boundary.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Optional context. Zero values mean "not applicable".
	Statement      string
	ParameterIndex *int
	Row            *int64
	Column         string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func NewError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

func (e *Error) clone() *Error {
	c := *e
	return &c
}

func (e *Error) WithStatement(stmt string) *Error {
	c := e.clone()
	c.Statement = stmt
	return c
}

func (e *Error) WithParameter(index int) *Error {
	c := e.clone()
	c.ParameterIndex = &index
	return c
}

func (e *Error) WithRow(row int64) *Error {
	c := e.clone()
	c.Row = &row
	return c
}

func (e *Error) WithColumn(column string) *Error {
	c := e.clone()
	c.Column = column
	return c
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
