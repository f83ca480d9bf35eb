package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
	"github.com/malbeclabs/duckdb-mcp/internal/mcp/metrics"
)

const (
	SizeMethodStorageBlocks    = "storage_blocks"
	SizeMethodRowWidthEstimate = "row_width_estimate"

	schemaDumpCacheKey = "schema_dump"
)

type ColumnDescriptor struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Nullable     bool    `json:"nullable"`
	IsPrimaryKey bool    `json:"is_primary_key"`
	Default      *string `json:"default"`
	Ordinal      int     `json:"ordinal"`
}

type TableDescriptor struct {
	TableName string             `json:"table_name"`
	Columns   []ColumnDescriptor `json:"columns"`
}

type TableStats struct {
	TableName string `json:"table_name"`
	RowCount  int64  `json:"row_count"`
	// ApproximateSizeBytes is the storage taken by the table's persisted blocks, or
	// an estimate from row count and column widths when the engine reports none.
	ApproximateSizeBytes int64  `json:"approximate_size_bytes"`
	SizeMethod           string `json:"size_method"`
}

type Status struct {
	Open       bool   `json:"open"`
	Path       string `json:"path"`
	Schema     string `json:"schema"`
	TableCount int    `json:"table_count"`
	ViewCount  int    `json:"view_count"`
}

type SchemaDump struct {
	Schema string            `json:"schema"`
	Tables []TableDescriptor `json:"tables"`
	Views  []TableDescriptor `json:"views"`
}

const (
	tableTypeBase = "BASE TABLE"
	tableTypeView = "VIEW"
)

func (g *Gateway) ListTables(ctx context.Context) (names []string, err error) {
	start := g.clock.Now()
	defer func() { g.observe("list_tables", start, err) }()
	return g.listRelations(ctx, tableTypeBase)
}

func (g *Gateway) ListViews(ctx context.Context) (names []string, err error) {
	start := g.clock.Now()
	defer func() { g.observe("list_views", start, err) }()
	return g.listRelations(ctx, tableTypeView)
}

func (g *Gateway) listRelations(ctx context.Context, tableType string) ([]string, error) {
	qctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	names := []string{}
	err := g.mgr.Do(qctx, duck.ModeRead, func(conn *sql.Conn) error {
		var err error
		names, err = relationNames(qctx, conn, g.cfg.Schema, tableType)
		return err
	})
	if err != nil {
		return nil, duck.FromEngine(qctx, err, duck.KindExecution)
	}
	return names, nil
}

func relationNames(ctx context.Context, conn *sql.Conn, schema, tableType string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_catalog = current_database()
			AND table_schema = ?
			AND table_type = ?
		ORDER BY table_name
	`, schema, tableType)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return names, nil
}

// DescribeTable returns the columns of a table or view in declaration order.
func (g *Gateway) DescribeTable(ctx context.Context, table string) (desc TableDescriptor, err error) {
	start := g.clock.Now()
	defer func() { g.observe("describe_table", start, err) }()

	if strings.TrimSpace(table) == "" {
		return TableDescriptor{}, duck.NewError(duck.KindNotFound, nil, "table name is required")
	}

	qctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	err = g.mgr.Do(qctx, duck.ModeRead, func(conn *sql.Conn) error {
		var err error
		desc, err = describe(qctx, conn, g.cfg.Schema, table)
		return err
	})
	if err != nil {
		return TableDescriptor{}, duck.FromEngine(qctx, err, duck.KindExecution)
	}
	return desc, nil
}

func describe(ctx context.Context, conn *sql.Conn, schema, table string) (TableDescriptor, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT column_name, data_type, is_nullable, column_default, ordinal_position
		FROM information_schema.columns
		WHERE table_catalog = current_database()
			AND table_schema = ?
			AND table_name = ?
		ORDER BY ordinal_position
	`, schema, table)
	if err != nil {
		return TableDescriptor{}, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	desc := TableDescriptor{TableName: table, Columns: []ColumnDescriptor{}}
	for rows.Next() {
		var (
			col      ColumnDescriptor
			nullable string
			def      sql.NullString
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &def, &col.Ordinal); err != nil {
			return TableDescriptor{}, fmt.Errorf("failed to scan column: %w", err)
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		if def.Valid {
			col.Default = &def.String
		}
		desc.Columns = append(desc.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return TableDescriptor{}, fmt.Errorf("error iterating columns: %w", err)
	}
	if len(desc.Columns) == 0 {
		return TableDescriptor{}, duck.NewError(duck.KindNotFound, nil, "table %q does not exist in schema %q", table, schema)
	}

	pks, err := primaryKeyColumns(ctx, conn, schema, table)
	if err != nil {
		return TableDescriptor{}, err
	}
	for i := range desc.Columns {
		if _, ok := pks[desc.Columns[i].Name]; ok {
			desc.Columns[i].IsPrimaryKey = true
			// A primary key implies NOT NULL even when information_schema reports otherwise.
			desc.Columns[i].Nullable = false
		}
	}
	return desc, nil
}

func primaryKeyColumns(ctx context.Context, conn *sql.Conn, schema, table string) (map[string]struct{}, error) {
	rows, err := conn.QueryContext(ctx, `
		SELECT unnest(constraint_column_names)
		FROM duckdb_constraints()
		WHERE database_name = current_database()
			AND schema_name = ?
			AND table_name = ?
			AND constraint_type = 'PRIMARY KEY'
	`, schema, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query primary key: %w", err)
	}
	defer rows.Close()

	pks := map[string]struct{}{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan primary key column: %w", err)
		}
		pks[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating primary key columns: %w", err)
	}
	return pks, nil
}

// TableStats counts rows and reports the table's storage size. The size is taken
// from the persisted blocks the engine reports for the table; when there are none
// (in-memory databases, data not yet checkpointed, views) it falls back to row
// count times an estimated row width. SizeMethod tells the two apart.
func (g *Gateway) TableStats(ctx context.Context, table string) (stats TableStats, err error) {
	start := g.clock.Now()
	defer func() { g.observe("table_stats", start, err) }()

	qctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	err = g.mgr.Do(qctx, duck.ModeRead, func(conn *sql.Conn) error {
		desc, err := describe(qctx, conn, g.cfg.Schema, table)
		if err != nil {
			return err
		}
		stats.TableName = table

		if err := conn.QueryRowContext(qctx, "SELECT count(*) FROM "+g.qualified(table)).Scan(&stats.RowCount); err != nil {
			return fmt.Errorf("failed to count rows: %w", err)
		}

		size, err := g.storageSize(qctx, conn, table)
		if err != nil {
			g.log.Debug("gateway: storage size unavailable, estimating", "table", table, "error", err)
		}
		if size > 0 {
			stats.ApproximateSizeBytes = size
			stats.SizeMethod = SizeMethodStorageBlocks
			return nil
		}
		stats.ApproximateSizeBytes = stats.RowCount * estimateRowWidth(desc.Columns)
		stats.SizeMethod = SizeMethodRowWidthEstimate
		return nil
	})
	if err != nil {
		return TableStats{}, duck.FromEngine(qctx, err, duck.KindExecution)
	}
	return stats, nil
}

func (g *Gateway) storageSize(ctx context.Context, conn *sql.Conn, table string) (int64, error) {
	var blocks int64
	err := conn.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT count(DISTINCT block_id) FILTER (WHERE persistent AND block_id >= 0)
		FROM pragma_storage_info(%s)
	`, quoteLiteral(storageName(g.cfg.Schema, table)))).Scan(&blocks)
	if err != nil {
		return 0, fmt.Errorf("failed to query storage info: %w", err)
	}
	if blocks == 0 {
		return 0, nil
	}

	var blockSize sql.NullInt64
	err = conn.QueryRowContext(ctx, `
		SELECT block_size FROM pragma_database_size() WHERE database_name = current_database()
	`).Scan(&blockSize)
	if err != nil {
		return 0, fmt.Errorf("failed to query block size: %w", err)
	}
	return blocks * blockSize.Int64, nil
}

// storageName is the qualified name pragma_storage_info parses; plain identifiers
// are left unquoted.
func storageName(schema, table string) string {
	if identifierRe.MatchString(table) {
		return schema + "." + table
	}
	return quoteIdent(schema) + "." + quoteIdent(table)
}

// Fixed widths for an uncompressed row estimate. Variable-width types use a
// nominal average.
func columnWidth(dataType string) int64 {
	t := strings.ToUpper(dataType)
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	switch strings.TrimSpace(t) {
	case "BOOLEAN", "TINYINT", "UTINYINT":
		return 1
	case "SMALLINT", "USMALLINT":
		return 2
	case "INTEGER", "UINTEGER", "FLOAT", "DATE":
		return 4
	case "BIGINT", "UBIGINT", "DOUBLE", "TIME", "TIMESTAMP", "TIMESTAMP WITH TIME ZONE", "TIMESTAMP_NS",
		"TIMESTAMP_MS", "TIMESTAMP_S", "TIME WITH TIME ZONE":
		return 8
	case "HUGEINT", "UHUGEINT", "UUID", "INTERVAL", "DECIMAL":
		return 16
	}
	return 32
}

func estimateRowWidth(cols []ColumnDescriptor) int64 {
	var w int64
	for _, c := range cols {
		w += columnWidth(c.Type)
	}
	return w
}

func (g *Gateway) Status(ctx context.Context) (st Status, err error) {
	state := g.mgr.State()
	st = Status{Open: state.Open, Path: state.Path, Schema: g.cfg.Schema}
	if state.Closed {
		return st, nil
	}

	tables, err := g.ListTables(ctx)
	if err != nil {
		return Status{}, err
	}
	views, err := g.ListViews(ctx)
	if err != nil {
		return Status{}, err
	}
	st.Open = g.mgr.State().Open
	st.TableCount = len(tables)
	st.ViewCount = len(views)
	return st, nil
}

// SchemaDump describes every table and view in the schema. Results are cached
// until the next mutation or the cache TTL, whichever comes first.
func (g *Gateway) SchemaDump(ctx context.Context) (dump SchemaDump, err error) {
	if item := g.cache.Get(schemaDumpCacheKey); item != nil {
		metrics.SchemaCacheTotal.WithLabelValues("hit").Inc()
		return item.Value().(SchemaDump), nil
	}
	metrics.SchemaCacheTotal.WithLabelValues("miss").Inc()
	gen := g.schemaGeneration()

	start := g.clock.Now()
	defer func() { g.observe("schema_dump", start, err) }()

	qctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	dump = SchemaDump{Schema: g.cfg.Schema, Tables: []TableDescriptor{}, Views: []TableDescriptor{}}
	err = g.mgr.Do(qctx, duck.ModeRead, func(conn *sql.Conn) error {
		for _, rel := range []struct {
			tableType string
			out       *[]TableDescriptor
		}{
			{tableTypeBase, &dump.Tables},
			{tableTypeView, &dump.Views},
		} {
			names, err := relationNames(qctx, conn, g.cfg.Schema, rel.tableType)
			if err != nil {
				return err
			}
			for _, name := range names {
				desc, err := describe(qctx, conn, g.cfg.Schema, name)
				if err != nil {
					return err
				}
				*rel.out = append(*rel.out, desc)
			}
		}
		return nil
	})
	if err != nil {
		return SchemaDump{}, duck.FromEngine(qctx, err, duck.KindExecution)
	}

	if !g.cacheSchemaDump(gen, dump) {
		g.log.Debug("gateway: schema changed during dump, not caching")
	}
	return dump, nil
}
