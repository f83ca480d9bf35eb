package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/duckdb-mcp/internal/gateway"
)

type NoInput struct{}

type TableInput struct {
	TableName string `json:"table_name" jsonschema:"name of a table in the configured schema"`
}

type ListTablesOutput struct {
	Tables []string `json:"tables"`
}

type ListViewsOutput struct {
	Views []string `json:"views"`
}

var inspectAnnotations = &mcp.ToolAnnotations{ReadOnlyHint: true, IdempotentHint: true}

func (r *Registry) listTablesTool() Tool {
	return newTool(r, mcp.Tool{
		Name:        "list_tables",
		Description: "List the base tables in the database, sorted by name.",
		Annotations: inspectAnnotations,
	}, func(ctx context.Context, _ NoInput) (ListTablesOutput, error) {
		names, err := r.gw.ListTables(ctx)
		if err != nil {
			return ListTablesOutput{}, err
		}
		if names == nil {
			names = []string{}
		}
		return ListTablesOutput{Tables: names}, nil
	})
}

func (r *Registry) listViewsTool() Tool {
	return newTool(r, mcp.Tool{
		Name:        "list_views",
		Description: "List the views in the database, sorted by name.",
		Annotations: inspectAnnotations,
	}, func(ctx context.Context, _ NoInput) (ListViewsOutput, error) {
		names, err := r.gw.ListViews(ctx)
		if err != nil {
			return ListViewsOutput{}, err
		}
		if names == nil {
			names = []string{}
		}
		return ListViewsOutput{Views: names}, nil
	})
}

func (r *Registry) describeTableTool() Tool {
	return newTool(r, mcp.Tool{
		Name:        "describe_table",
		Description: "Describe a table's columns in declaration order: name, type, nullability, primary key membership and default.",
		Annotations: inspectAnnotations,
	}, func(ctx context.Context, in TableInput) (gateway.TableDescriptor, error) {
		return r.gw.DescribeTable(ctx, in.TableName)
	})
}

func (r *Registry) tableStatsTool() Tool {
	return newTool(r, mcp.Tool{
		Name: "get_table_stats",
		Description: "Report a table's exact row count and an approximate size in bytes. " +
			"size_method tells whether the size comes from storage blocks or a per-row width estimate.",
		Annotations: inspectAnnotations,
	}, func(ctx context.Context, in TableInput) (gateway.TableStats, error) {
		return r.gw.TableStats(ctx, in.TableName)
	})
}
