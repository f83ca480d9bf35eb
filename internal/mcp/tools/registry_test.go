package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
	"github.com/malbeclabs/duckdb-mcp/internal/gateway"
	"github.com/malbeclabs/duckdb-mcp/internal/mcp/metrics"
)

func TestDuckMCP_Tools_NewRegistry(t *testing.T) {
	t.Parallel()

	t.Run("requires logger", func(t *testing.T) {
		t.Parallel()
		_, err := NewRegistry(RegistryConfig{Gateway: &failingGateway{}})
		require.ErrorContains(t, err, "logger is required")
	})

	t.Run("requires gateway", func(t *testing.T) {
		t.Parallel()
		_, err := NewRegistry(RegistryConfig{Logger: testLogger()})
		require.ErrorContains(t, err, "gateway is required")
	})

	t.Run("lists every operation sorted", func(t *testing.T) {
		t.Parallel()
		r := failingRegistry(t, errDatabase)
		require.Equal(t, []string{
			"describe_table",
			"execute_query",
			"execute_statement",
			"export_table",
			"get_server_info",
			"get_table_stats",
			"import_csv",
			"import_parquet",
			"list_tables",
			"list_views",
		}, r.Names())
	})
}

func TestDuckMCP_Tools_Invoke(t *testing.T) {
	t.Parallel()

	t.Run("users scenario", func(t *testing.T) {
		t.Parallel()
		r, _ := testRegistry(t)

		invoke(t, r, "execute_statement", `{"statement":"CREATE TABLE users (id INTEGER, name VARCHAR)"}`)
		res := invoke(t, r, "execute_statement", `{"statement":"INSERT INTO users VALUES (1,'Alice')"}`)
		require.Equal(t, gateway.AffectedResult{AffectedRows: 1, Success: true}, res)

		res = invoke(t, r, "execute_query", `{"query":"SELECT * FROM users"}`)
		require.Equal(t, gateway.ResultSet{
			Columns:  []string{"id", "name"},
			Rows:     [][]any{{int64(1), "Alice"}},
			RowCount: 1,
		}, res)

		res = invoke(t, r, "list_tables", ``)
		require.Equal(t, ListTablesOutput{Tables: []string{"users"}}, res)
	})

	t.Run("keeps large integer parameters exact", func(t *testing.T) {
		t.Parallel()
		r, _ := testRegistry(t)

		res := invoke(t, r, "execute_query", `{"query":"SELECT CAST(? AS BIGINT) AS v","parameters":[9007199254740993]}`)
		rs := res.(gateway.ResultSet)
		require.Equal(t, int64(9007199254740993), rs.Rows[0][0])
	})

	t.Run("binds typed parameters", func(t *testing.T) {
		t.Parallel()
		r, _ := testRegistry(t)

		res := invoke(t, r, "execute_query", `{"query":"SELECT CAST(? AS DATE) AS d","parameters":[{"type":"date","value":"2024-02-29"}]}`)
		rs := res.(gateway.ResultSet)
		require.Equal(t, [][]any{{"2024-02-29"}}, rs.Rows)
	})

	t.Run("unknown operation", func(t *testing.T) {
		t.Parallel()
		r := failingRegistry(t, errDatabase)

		_, err := r.Invoke(t.Context(), "drop_everything", nil)
		var te *ToolError
		require.ErrorAs(t, err, &te)
		require.Equal(t, duck.KindNotFound, te.Kind())
		require.Contains(t, te.Envelope.Error.Message, "execute_query")
	})

	t.Run("malformed arguments", func(t *testing.T) {
		t.Parallel()
		r := failingRegistry(t, errDatabase)

		for _, args := range []string{`{"query":`, `{"query": 12}`, `{"sql":"SELECT 1"}`} {
			_, err := r.Invoke(t.Context(), "execute_query", []byte(args))
			require.True(t, duck.IsKind(err, duck.KindParameterBinding), "args %s: %v", args, err)
		}
	})

	t.Run("classifies plain gateway failures", func(t *testing.T) {
		t.Parallel()
		r := failingRegistry(t, errDatabase)

		_, err := r.Invoke(t.Context(), "list_tables", nil)
		var te *ToolError
		require.ErrorAs(t, err, &te)
		require.Equal(t, duck.KindExecution, te.Kind())
		require.Equal(t, "database error", te.Envelope.Error.Message)
	})

	t.Run("preserves typed failures", func(t *testing.T) {
		t.Parallel()
		cause := duck.NewError(duck.KindNotFound, nil, "table missing does not exist").WithStatement("SELECT * FROM missing")
		r := failingRegistry(t, cause)

		_, err := r.Invoke(t.Context(), "describe_table", []byte(`{"table_name":"missing"}`))
		var te *ToolError
		require.ErrorAs(t, err, &te)
		require.Equal(t, ErrorBody{
			Kind:      "NotFoundError",
			Message:   "table missing does not exist",
			Statement: "SELECT * FROM missing",
		}, te.Envelope.Error)

		var de *duck.Error
		require.True(t, errors.As(err, &de))
		require.Equal(t, cause, de)
	})

	t.Run("reports cancellation", func(t *testing.T) {
		t.Parallel()
		r, _ := testRegistry(t)

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := r.Invoke(ctx, "execute_query", []byte(`{"query":"SELECT 1"}`))
		require.True(t, duck.IsKind(err, duck.KindCancelled), "got %v", err)
	})
}

func TestDuckMCP_Tools_ErrorEnvelope(t *testing.T) {
	t.Parallel()

	idx := 1
	row := int64(3)
	te := &ToolError{Envelope: ErrorEnvelope{Error: ErrorBody{
		Kind:           "ImportError",
		Message:        "could not convert",
		ParameterIndex: &idx,
		Row:            &row,
		Column:         "age",
	}}}

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(te.Error()), &decoded))
	require.Equal(t, map[string]any{
		"kind":            "ImportError",
		"message":         "could not convert",
		"parameter_index": float64(1),
		"row":             float64(3),
		"column":          "age",
	}, decoded["error"])

	bare := &ToolError{Envelope: ErrorEnvelope{Error: ErrorBody{Kind: "SyntaxError", Message: "bad"}}}
	require.JSONEq(t, `{"error":{"kind":"SyntaxError","message":"bad"}}`, bare.Error())
}

// Not parallel: reads process-wide counters.
func TestDuckMCP_Tools_Metrics(t *testing.T) {
	failing := failingRegistry(t, duck.NewError(duck.KindSyntax, nil, "bad"))
	ok, _ := testRegistry(t)

	errorsBefore := testutil.ToFloat64(metrics.ToolCallsTotal.WithLabelValues("list_views", "error"))
	kindBefore := testutil.ToFloat64(metrics.ToolErrorsTotal.WithLabelValues("list_views", "SyntaxError"))
	successBefore := testutil.ToFloat64(metrics.ToolCallsTotal.WithLabelValues("list_views", "success"))

	_, err := failing.Invoke(t.Context(), "list_views", nil)
	require.Error(t, err)
	invoke(t, ok, "list_views", `{}`)

	require.Equal(t, errorsBefore+1, testutil.ToFloat64(metrics.ToolCallsTotal.WithLabelValues("list_views", "error")))
	require.Equal(t, kindBefore+1, testutil.ToFloat64(metrics.ToolErrorsTotal.WithLabelValues("list_views", "SyntaxError")))
	require.Equal(t, successBefore+1, testutil.ToFloat64(metrics.ToolCallsTotal.WithLabelValues("list_views", "success")))
}
