package duck

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/require"
)

func TestDuckMCP_Duck_FromEngine(t *testing.T) {
	t.Parallel()

	t.Run("nil stays nil", func(t *testing.T) {
		t.Parallel()
		require.Nil(t, FromEngine(context.Background(), nil, KindExecution))
	})

	t.Run("existing errors pass through", func(t *testing.T) {
		t.Parallel()
		orig := NewError(KindPermission, nil, "nope")
		got := FromEngine(context.Background(), fmt.Errorf("wrapped: %w", orig), KindExecution)
		require.Same(t, orig, got)
	})

	t.Run("context state wins over engine message", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithTimeout(context.Background(), 0)
		defer cancel()
		<-ctx.Done()
		got := FromEngine(ctx, &duckdb.Error{Type: duckdb.ErrorTypeInterrupt, Msg: "INTERRUPT Error: Interrupted!"}, KindExecution)
		require.Equal(t, KindQueryTimeout, got.Kind)

		cctx, ccancel := context.WithCancel(context.Background())
		ccancel()
		got = FromEngine(cctx, errors.New("interrupted"), KindExecution)
		require.Equal(t, KindCancelled, got.Kind)
	})

	t.Run("wrapped context errors", func(t *testing.T) {
		t.Parallel()
		got := FromEngine(context.Background(), fmt.Errorf("x: %w", context.DeadlineExceeded), KindExecution)
		require.Equal(t, KindQueryTimeout, got.Kind)
		got = FromEngine(context.Background(), fmt.Errorf("x: %w", context.Canceled), KindExecution)
		require.Equal(t, KindCancelled, got.Kind)
	})

	t.Run("engine error types", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name     string
			typ      duckdb.ErrorType
			msg      string
			fallback Kind
			want     Kind
		}{
			{"parser", duckdb.ErrorTypeParser, "syntax error at or near \"SELEC\"", KindExecution, KindSyntax},
			{"binder", duckdb.ErrorTypeBinder, "Referenced column \"x\" not found", KindExecution, KindSyntax},
			{"missing table", duckdb.ErrorTypeCatalog, "Table with name nope does not exist!", KindExecution, KindNotFound},
			{"duplicate table", duckdb.ErrorTypeCatalog, "Table with name t already exists!", KindExecution, KindConstraintViolation},
			{"constraint", duckdb.ErrorTypeConstraint, "Duplicate key \"id: 1\"", KindExecution, KindConstraintViolation},
			{"interrupt", duckdb.ErrorTypeInterrupt, "Interrupted!", KindExecution, KindQueryTimeout},
			{"unresolved parameter", duckdb.ErrorTypeParameterNotResolved, "", KindExecution, KindParameterBinding},
			{"permission", duckdb.ErrorTypePermission, "", KindExecution, KindPermission},
			{"fatal", duckdb.ErrorTypeFatal, "", KindExecution, KindStorageUnavailable},
			{"division by zero", duckdb.ErrorTypeDivideByZero, "", KindExecution, KindExecution},
			{"conversion during import", duckdb.ErrorTypeConversion, "Could not convert", KindImport, KindImport},
			{"conversion during query", duckdb.ErrorTypeConversion, "Could not convert", KindExecution, KindExecution},
			{"unknown type uses fallback", duckdb.ErrorTypeIO, "", KindImport, KindImport},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				got := FromEngine(context.Background(), &duckdb.Error{Type: tt.typ, Msg: tt.msg}, tt.fallback)
				require.Equal(t, tt.want, got.Kind)
				require.Equal(t, tt.msg, got.Message)
			})
		}
	})

	t.Run("argument count mismatch", func(t *testing.T) {
		t.Parallel()
		got := FromEngine(context.Background(), errors.New("sql: expected 2 arguments, got 1"), KindExecution)
		require.Equal(t, KindParameterBinding, got.Kind)
	})

	t.Run("anything else uses the fallback", func(t *testing.T) {
		t.Parallel()
		got := FromEngine(context.Background(), errors.New("disk on fire"), KindImport)
		require.Equal(t, KindImport, got.Kind)
		require.Equal(t, "disk on fire", got.Message)
	})
}

func TestDuckMCP_Duck_Error(t *testing.T) {
	t.Parallel()

	t.Run("builders copy", func(t *testing.T) {
		t.Parallel()
		base := NewError(KindImport, nil, "bad row")
		withRow := base.WithRow(3).WithColumn("age").WithStatement("COPY t")
		require.Nil(t, base.Row)
		require.Empty(t, base.Column)
		require.NotNil(t, withRow.Row)
		require.Equal(t, int64(3), *withRow.Row)
		require.Equal(t, "age", withRow.Column)
		require.Equal(t, "COPY t", withRow.Statement)

		p := base.WithParameter(0)
		require.NotNil(t, p.ParameterIndex)
		require.Equal(t, 0, *p.ParameterIndex)
	})

	t.Run("message and unwrap", func(t *testing.T) {
		t.Parallel()
		cause := errors.New("root")
		err := NewError(KindNotFound, cause, "table %q does not exist", "x")
		require.Equal(t, `NotFoundError: table "x" does not exist`, err.Error())
		require.ErrorIs(t, err, cause)
		require.True(t, IsKind(fmt.Errorf("ctx: %w", err), KindNotFound))
		require.Equal(t, Kind(""), KindOf(errors.New("plain")))
	})
}
