package duck

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/duckdb/duckdb-go/v2"
)

// database/sql reports arity mismatches with this message when it prepares on our behalf.
var argCountRe = regexp.MustCompile(`expected (\d+) arguments?, got (\d+)`)

// FromEngine converts a failure returned by the driver into an *Error. ctx is the
// context the failing call ran under; its state takes precedence so that an
// interrupted statement is reported as a timeout or cancellation rather than as
// whatever the engine said while unwinding. fallback is used for engine errors
// that have no better category.
func FromEngine(ctx context.Context, err error, fallback Kind) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	if ctx != nil {
		switch ctx.Err() {
		case context.DeadlineExceeded:
			return NewError(KindQueryTimeout, err, "execution exceeded its deadline and was interrupted")
		case context.Canceled:
			return NewError(KindCancelled, err, "execution was cancelled by the caller")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindQueryTimeout, err, "execution exceeded its deadline and was interrupted")
	}
	if errors.Is(err, context.Canceled) {
		return NewError(KindCancelled, err, "execution was cancelled by the caller")
	}

	var de *duckdb.Error
	if errors.As(err, &de) {
		return &Error{Kind: kindForEngine(de, fallback), Message: de.Msg, Cause: err}
	}

	msg := err.Error()
	if argCountRe.MatchString(msg) {
		return NewError(KindParameterBinding, err, "%s", msg)
	}
	return NewError(fallback, err, "%s", msg)
}

func kindForEngine(de *duckdb.Error, fallback Kind) Kind {
	switch de.Type {
	case duckdb.ErrorTypeParser, duckdb.ErrorTypeSyntax, duckdb.ErrorTypeBinder, duckdb.ErrorTypeExpression:
		return KindSyntax
	case duckdb.ErrorTypeCatalog:
		if strings.Contains(de.Msg, "already exists") {
			return KindConstraintViolation
		}
		return KindNotFound
	case duckdb.ErrorTypeConstraint:
		return KindConstraintViolation
	case duckdb.ErrorTypeInterrupt:
		return KindQueryTimeout
	case duckdb.ErrorTypeParameterNotResolved, duckdb.ErrorTypeParameterNotAllowed:
		return KindParameterBinding
	case duckdb.ErrorTypePermission:
		return KindPermission
	case duckdb.ErrorTypeFatal, duckdb.ErrorTypeConnection:
		return KindStorageUnavailable
	case duckdb.ErrorTypeConversion, duckdb.ErrorTypeMismatchType, duckdb.ErrorTypeInvalidInput,
		duckdb.ErrorTypeOutOfRange, duckdb.ErrorTypeDivideByZero, duckdb.ErrorTypeOutOfMemory:
		if fallback == KindImport {
			return KindImport
		}
		return KindExecution
	}
	return fallback
}
