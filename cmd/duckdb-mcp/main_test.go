package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
	"github.com/malbeclabs/duckdb-mcp/internal/gateway"
)

func execute(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetArgs(append([]string{"--db-path", dbPath, "--allowed-dir", t.TempDir(), "--log-format", "json"}, args...))
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func TestDuckMCP_CLI_Call(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "cli.duckdb")

	_, err := execute(t, dbPath, "call", "execute_statement", `{"statement":"CREATE TABLE users (id INTEGER, name VARCHAR)"}`)
	require.NoError(t, err)
	_, err = execute(t, dbPath, "call", "execute_statement", `{"statement":"INSERT INTO users VALUES (?, ?)","parameters":[1,"Alice"]}`)
	require.NoError(t, err)

	out, err := execute(t, dbPath, "call", "execute_query", `{"query":"SELECT * FROM users"}`)
	require.NoError(t, err)
	require.JSONEq(t, `{"columns":["id","name"],"rows":[[1,"Alice"]],"row_count":1,"truncated":false}`, out)

	out, err = execute(t, dbPath, "call", "list_tables")
	require.NoError(t, err)
	require.JSONEq(t, `{"tables":["users"]}`, out)

	out, err = execute(t, dbPath, "call", "execute_query", `{"query":"DROP TABLE users"}`)
	require.True(t, duck.IsKind(err, duck.KindStatementKind), "got %v", err)
	var envelope map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &envelope))
	require.Equal(t, "StatementKindError", envelope["error"]["kind"])

	out, err = execute(t, dbPath, "status")
	require.NoError(t, err)
	var st gateway.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.Equal(t, 1, st.TableCount)

	out, err = execute(t, dbPath, "query", "SELECT name, NULL AS missing FROM users")
	require.NoError(t, err)
	require.Contains(t, out, "Alice")
	require.Contains(t, out, "NULL")
	require.Contains(t, out, "1 row\n")
}

func TestDuckMCP_CLI_RenderResultSet(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	renderResultSet(&out, gateway.ResultSet{
		Columns:   []string{"id", "note"},
		Rows:      [][]any{{int64(1), "a\nb"}, {int64(2), nil}},
		RowCount:  2,
		Truncated: true,
	})
	require.Contains(t, out.String(), `a\nb`)
	require.Contains(t, out.String(), "NULL")
	require.Contains(t, out.String(), "2 rows (truncated)\n")
}
