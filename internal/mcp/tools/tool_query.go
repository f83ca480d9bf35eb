package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/duckdb-mcp/internal/gateway"
)

type ExecuteQueryInput struct {
	Query      string `json:"query" jsonschema:"a single read-only SQL statement (SELECT, WITH, SHOW, DESCRIBE, EXPLAIN) using ? placeholders"`
	Parameters Params `json:"parameters,omitempty" jsonschema:"positional values bound to the ? placeholders, either JSON primitives or {type, value} objects"`
	MaxRows    int    `json:"max_rows,omitempty" jsonschema:"optional row cap, can only lower the server's configured limit"`
}

type ExecuteStatementInput struct {
	Statement  string `json:"statement" jsonschema:"a single mutating SQL statement (DDL or DML) using ? placeholders"`
	Parameters Params `json:"parameters,omitempty" jsonschema:"positional values bound to the ? placeholders, either JSON primitives or {type, value} objects"`
}

func (r *Registry) executeQueryTool() Tool {
	return newTool(r, mcp.Tool{
		Name: "execute_query",
		Description: "Run a read-only SQL query against the DuckDB database and return its columns and rows. " +
			"Mutating statements are rejected; use execute_statement for those. Results are capped and flagged as truncated when the cap is hit.",
		Annotations: &mcp.ToolAnnotations{Title: "Execute query", ReadOnlyHint: true, IdempotentHint: true},
	}, func(ctx context.Context, in ExecuteQueryInput) (gateway.ResultSet, error) {
		return r.gw.Query(ctx, gateway.QueryRequest{
			SQL:     in.Query,
			Params:  []any(in.Parameters),
			MaxRows: in.MaxRows,
		})
	})
}

func (r *Registry) executeStatementTool() Tool {
	return newTool(r, mcp.Tool{
		Name: "execute_statement",
		Description: "Run one mutating SQL statement (CREATE, INSERT, UPDATE, DELETE, ALTER, DROP) in its own transaction. " +
			"The statement either fully applies or leaves the database unchanged.",
		Annotations: &mcp.ToolAnnotations{Title: "Execute statement", DestructiveHint: boolPtr(true)},
	}, func(ctx context.Context, in ExecuteStatementInput) (gateway.AffectedResult, error) {
		return r.gw.Exec(ctx, gateway.StatementRequest{
			SQL:    in.Statement,
			Params: []any(in.Parameters),
		})
	})
}

func boolPtr(b bool) *bool {
	return &b
}
