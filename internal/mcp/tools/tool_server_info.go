package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type ServerInfoOutput struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Description  string   `json:"description"`
	Capabilities []string `json:"capabilities"`
	Tools        []string `json:"tools"`
	DatabasePath string   `json:"database_path"`
}

func (r *Registry) serverInfoTool() Tool {
	return newTool(r, mcp.Tool{
		Name:        "get_server_info",
		Description: "Describe this server: name, version, capabilities, available tools and the database file it serves.",
		Annotations: inspectAnnotations,
	}, func(ctx context.Context, _ NoInput) (ServerInfoOutput, error) {
		return ServerInfoOutput{
			Name:         r.cfg.ServerName,
			Version:      r.cfg.ServerVersion,
			Description:  "SQL access to an embedded DuckDB database: queries, statements, schema inspection and csv/parquet transfer.",
			Capabilities: []string{"query", "statement", "schema", "import", "export"},
			Tools:        r.Names(),
			DatabasePath: r.cfg.DatabasePath,
		}, nil
	})
}
