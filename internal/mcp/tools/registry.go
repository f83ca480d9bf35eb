package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
	"github.com/malbeclabs/duckdb-mcp/internal/gateway"
)

const defaultMaxConcurrency = 16

// Gateway is the part of the query-execution core the tools call into.
type Gateway interface {
	Query(ctx context.Context, req gateway.QueryRequest) (gateway.ResultSet, error)
	Exec(ctx context.Context, req gateway.StatementRequest) (gateway.AffectedResult, error)
	ListTables(ctx context.Context) ([]string, error)
	ListViews(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) (gateway.TableDescriptor, error)
	TableStats(ctx context.Context, table string) (gateway.TableStats, error)
	Import(ctx context.Context, spec gateway.TransferSpec) (gateway.AffectedResult, error)
	Export(ctx context.Context, spec gateway.TransferSpec) (gateway.AffectedResult, error)
	Status(ctx context.Context) (gateway.Status, error)
	SchemaDump(ctx context.Context) (gateway.SchemaDump, error)
}

type RegistryConfig struct {
	Logger  *slog.Logger
	Gateway Gateway
	Clock   clockwork.Clock

	// MaxConcurrency bounds the number of tool calls executing at once.
	MaxConcurrency int

	ServerName    string
	ServerVersion string
	DatabasePath  string
}

func (cfg *RegistryConfig) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Gateway == nil {
		return fmt.Errorf("gateway is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.ServerName == "" {
		cfg.ServerName = "duckdb-mcp"
	}
	if cfg.ServerVersion == "" {
		cfg.ServerVersion = "dev"
	}
	return nil
}

// Tool is one entry of the dispatch table.
type Tool interface {
	Name() string
	Register(server *mcp.Server) error
	Invoke(ctx context.Context, args json.RawMessage) (any, error)
}

// Registry is the static table of operations, built once and shared by the MCP
// server and the local CLI.
type Registry struct {
	log   *slog.Logger
	cfg   RegistryConfig
	gw    Gateway
	clock clockwork.Clock
	pool  pond.ResultPool[any]

	tools  []Tool
	byName map[string]Tool
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate registry config: %w", err)
	}
	r := &Registry{
		log:   cfg.Logger,
		cfg:   cfg,
		gw:    cfg.Gateway,
		clock: cfg.Clock,
		pool:  pond.NewResultPool[any](cfg.MaxConcurrency),
	}

	r.tools = []Tool{
		r.executeQueryTool(),
		r.executeStatementTool(),
		r.listTablesTool(),
		r.listViewsTool(),
		r.describeTableTool(),
		r.tableStatsTool(),
		r.importCSVTool(),
		r.importParquetTool(),
		r.exportTableTool(),
		r.serverInfoTool(),
	}
	r.byName = make(map[string]Tool, len(r.tools))
	for _, t := range r.tools {
		if _, ok := r.byName[t.Name()]; ok {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name())
		}
		r.byName[t.Name()] = t
	}
	return r, nil
}

// Register adds every tool to server.
func (r *Registry) Register(server *mcp.Server) error {
	for _, t := range r.tools {
		if err := t.Register(server); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", t.Name(), err)
		}
	}
	return nil
}

// Invoke runs the named tool with JSON arguments, outside of any MCP session.
func (r *Registry) Invoke(ctx context.Context, name string, args json.RawMessage) (any, error) {
	t, ok := r.byName[name]
	if !ok {
		return nil, newToolError(ctx, duck.NewError(duck.KindNotFound, nil, "unknown operation %q, expected one of: %v", name, r.Names()))
	}
	return t.Invoke(ctx, args)
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		names = append(names, t.Name())
	}
	sort.Strings(names)
	return names
}

// Close waits for running calls and stops the worker pool.
func (r *Registry) Close() {
	r.pool.StopAndWait()
}
