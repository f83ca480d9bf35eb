package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/duckdb-mcp/internal/gateway"
)

type ImportCSVInput struct {
	FilePath  string `json:"file_path" jsonschema:"path of the CSV file, relative to the server's allowed directory or absolute inside it"`
	TableName string `json:"table_name" jsonschema:"target table; created from the file's columns if it does not exist"`
	Header    *bool  `json:"header,omitempty" jsonschema:"whether the first line holds column names (default true)"`
	Delimiter string `json:"delimiter,omitempty" jsonschema:"single character field separator (default ,)"`
}

type ImportParquetInput struct {
	FilePath  string `json:"file_path" jsonschema:"path of the parquet file, relative to the server's allowed directory or absolute inside it"`
	TableName string `json:"table_name" jsonschema:"target table; created from the file's schema if it does not exist"`
}

type ExportTableInput struct {
	TableName string `json:"table_name,omitempty" jsonschema:"table to export; mutually exclusive with query"`
	Query     string `json:"query,omitempty" jsonschema:"read-only query whose result is exported; mutually exclusive with table_name"`
	FilePath  string `json:"file_path" jsonschema:"destination path inside the server's allowed directory"`
	Format    string `json:"format,omitempty" jsonschema:"csv or parquet (default csv)"`
	Header    *bool  `json:"header,omitempty" jsonschema:"write a header line for csv output (default true)"`
	Delimiter string `json:"delimiter,omitempty" jsonschema:"single character field separator for csv output (default ,)"`
	Overwrite bool   `json:"overwrite,omitempty" jsonschema:"replace the destination file if it already exists"`
}

func (r *Registry) importCSVTool() Tool {
	return newTool(r, mcp.Tool{
		Name: "import_csv",
		Description: "Load a CSV file into a table in a single transaction. " +
			"Any bad row rolls back the whole load and is reported with its line and column when known.",
		Annotations: &mcp.ToolAnnotations{Title: "Import CSV", DestructiveHint: boolPtr(false)},
	}, func(ctx context.Context, in ImportCSVInput) (gateway.AffectedResult, error) {
		return r.gw.Import(ctx, gateway.TransferSpec{
			FilePath:  in.FilePath,
			TableName: in.TableName,
			Format:    gateway.FormatCSV,
			Header:    boolOr(in.Header, true),
			Delimiter: in.Delimiter,
		})
	})
}

func (r *Registry) importParquetTool() Tool {
	return newTool(r, mcp.Tool{
		Name:        "import_parquet",
		Description: "Load a parquet file into a table in a single transaction.",
		Annotations: &mcp.ToolAnnotations{Title: "Import parquet", DestructiveHint: boolPtr(false)},
	}, func(ctx context.Context, in ImportParquetInput) (gateway.AffectedResult, error) {
		return r.gw.Import(ctx, gateway.TransferSpec{
			FilePath:  in.FilePath,
			TableName: in.TableName,
			Format:    gateway.FormatParquet,
		})
	})
}

func (r *Registry) exportTableTool() Tool {
	return newTool(r, mcp.Tool{
		Name: "export_table",
		Description: "Write a table, or the result of a read-only query, to a CSV or parquet file. " +
			"Existing files are only replaced when overwrite is set.",
		Annotations: &mcp.ToolAnnotations{Title: "Export table", DestructiveHint: boolPtr(true)},
	}, func(ctx context.Context, in ExportTableInput) (gateway.AffectedResult, error) {
		return r.gw.Export(ctx, gateway.TransferSpec{
			FilePath:  in.FilePath,
			TableName: in.TableName,
			Query:     in.Query,
			Format:    gateway.Format(in.Format),
			Header:    boolOr(in.Header, true),
			Delimiter: in.Delimiter,
			Overwrite: in.Overwrite,
		})
	})
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
