package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatParquet:
		return f, nil
	case "":
		return FormatCSV, nil
	}
	return "", duck.NewError(duck.KindUnsupportedFormat, nil, "format %q is not supported, use csv or parquet", s)
}

// TransferSpec describes one bulk import or export. Exports read either TableName
// or Query, never both.
type TransferSpec struct {
	FilePath  string
	TableName string
	Query     string
	Format    Format
	Header    bool
	Delimiter string
	Overwrite bool
}

var (
	engineLineRe   = regexp.MustCompile(`(?i)\bline:?\s*(\d+)`)
	engineColumnRe = regexp.MustCompile(`(?i)column\s+"?([^"\s,.:]+)"?`)
)

// Import loads a csv or parquet file into a table in one transaction. A missing
// table is created from the file's columns with inferred types; an existing table
// is appended to using its declared column types. On
// any failure the transaction is rolled back so the table is left as it was.
func (g *Gateway) Import(ctx context.Context, spec TransferSpec) (res AffectedResult, err error) {
	start := g.clock.Now()
	defer func() { g.observe("import", start, err) }()

	format, err := ParseFormat(string(spec.Format))
	if err != nil {
		return AffectedResult{}, err
	}
	if err := ValidateIdentifier(spec.TableName); err != nil {
		return AffectedResult{}, err
	}
	delim, err := validateDelimiter(spec.Delimiter)
	if err != nil {
		return AffectedResult{}, err
	}
	path, err := g.resolvePath(spec.FilePath)
	if err != nil {
		return AffectedResult{}, err
	}
	if err := checkReadable(path); err != nil {
		return AffectedResult{}, err
	}

	target := g.qualified(spec.TableName)
	reader := readerExpr(format, path, spec.Header, delim)

	g.log.Debug("gateway: importing file", "path", path, "table", spec.TableName, "format", format)

	sctx, cancel := context.WithTimeout(ctx, g.cfg.StatementTimeout)
	defer cancel()

	var stmt string
	err = g.mgr.Do(sctx, duck.ModeWrite, func(conn *sql.Conn) error {
		return g.inTx(sctx, conn, "import", func(tx *sql.Tx) error {
			exists, err := relationExists(sctx, tx, g.cfg.Schema, spec.TableName)
			if err != nil {
				return err
			}

			var before int64
			if exists {
				if err := tx.QueryRowContext(sctx, "SELECT count(*) FROM "+target).Scan(&before); err != nil {
					return fmt.Errorf("failed to count rows: %w", err)
				}
				stmt = copyFromStmt(target, format, path, spec.Header, delim)
			} else {
				stmt = fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", target, reader)
			}
			if _, err := tx.ExecContext(sctx, stmt); err != nil {
				return err
			}

			var after int64
			if err := tx.QueryRowContext(sctx, "SELECT count(*) FROM "+target).Scan(&after); err != nil {
				return fmt.Errorf("failed to count rows: %w", err)
			}
			res = AffectedResult{AffectedRows: after - before, Success: true}
			return nil
		})
	})
	g.invalidateSchema()
	if err != nil {
		return AffectedResult{}, importError(sctx, err, stmt)
	}
	return res, nil
}

// COPY maps file columns to table columns by position and reports the file line
// of a row that fails to convert.
func copyFromStmt(target string, format Format, path string, header bool, delim string) string {
	if format == FormatParquet {
		return fmt.Sprintf("COPY %s FROM %s (FORMAT PARQUET)", target, quoteLiteral(path))
	}
	return fmt.Sprintf("COPY %s FROM %s (FORMAT CSV, HEADER %t, DELIMITER %s)", target, quoteLiteral(path), header, quoteLiteral(delim))
}

func readerExpr(format Format, path string, header bool, delim string) string {
	if format == FormatParquet {
		return fmt.Sprintf("read_parquet(%s)", quoteLiteral(path))
	}
	return fmt.Sprintf("read_csv(%s, header = %t, delim = %s)", quoteLiteral(path), header, quoteLiteral(delim))
}

func checkReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return duck.NewError(duck.KindNotFound, err, "file %s does not exist", path)
		}
		return duck.NewError(duck.KindPermission, err, "failed to stat %s: %v", path, err)
	}
	if info.IsDir() {
		return duck.NewError(duck.KindImport, nil, "%s is a directory, not a file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return duck.NewError(duck.KindPermission, err, "file %s is not readable: %v", path, err)
	}
	return f.Close()
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func relationExists(ctx context.Context, q queryRower, schema, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT count(*)
		FROM information_schema.tables
		WHERE table_catalog = current_database()
			AND table_schema = ?
			AND table_name = ?
	`, schema, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}
	return n > 0, nil
}

// importError classifies a failed load, attaching the file row and column when
// the engine's message names them.
func importError(ctx context.Context, err error, stmt string) error {
	e := duck.FromEngine(ctx, err, duck.KindImport)
	if e.Kind == duck.KindSyntax || e.Kind == duck.KindExecution {
		e = &duck.Error{Kind: duck.KindImport, Message: e.Message, Cause: err}
	}
	if e.Kind != duck.KindImport {
		return e
	}
	if m := engineLineRe.FindStringSubmatch(e.Message); m != nil {
		if row, perr := strconv.ParseInt(m[1], 10, 64); perr == nil {
			e = e.WithRow(row)
		}
	}
	if m := engineColumnRe.FindStringSubmatch(e.Message); m != nil {
		e = e.WithColumn(m[1])
	}
	if stmt != "" {
		e = e.WithStatement(stmt)
	}
	return e
}

// Export writes a table or the result of a read-only query to a file and reports
// the number of rows written. An existing file is replaced only when the caller or
// the configuration allows it. A file created by a failed export is removed.
func (g *Gateway) Export(ctx context.Context, spec TransferSpec) (res AffectedResult, err error) {
	start := g.clock.Now()
	defer func() { g.observe("export", start, err) }()

	format, err := ParseFormat(string(spec.Format))
	if err != nil {
		return AffectedResult{}, err
	}

	var source string
	switch {
	case spec.TableName != "" && spec.Query != "":
		return AffectedResult{}, duck.NewError(duck.KindParameterBinding, nil, "pass either table_name or query, not both")
	case spec.Query != "":
		kind, err := ClassifyStatement(spec.Query)
		if err != nil {
			return AffectedResult{}, withStatement(err, spec.Query)
		}
		if kind != StatementRead {
			return AffectedResult{}, duck.NewError(duck.KindStatementKind, nil, "export query must be read-only").WithStatement(spec.Query)
		}
		source = "(" + trimStatementTail(spec.Query) + "\n)"
	default:
		if err := ValidateIdentifier(spec.TableName); err != nil {
			return AffectedResult{}, err
		}
		source = g.qualified(spec.TableName)
	}

	var delim string
	if format == FormatCSV {
		if delim, err = validateDelimiter(spec.Delimiter); err != nil {
			return AffectedResult{}, err
		}
	}

	path, err := g.resolvePath(spec.FilePath)
	if err != nil {
		return AffectedResult{}, err
	}
	existed, err := checkWritable(path, spec.Overwrite || g.cfg.AllowOverwrite)
	if err != nil {
		return AffectedResult{}, err
	}

	var opts string
	if format == FormatParquet {
		opts = "FORMAT PARQUET"
	} else {
		opts = fmt.Sprintf("FORMAT CSV, HEADER %t, DELIMITER %s", spec.Header, quoteLiteral(delim))
	}
	stmt := fmt.Sprintf("COPY (SELECT * FROM %s) TO %s (%s)", source, quoteLiteral(path), opts)

	g.log.Debug("gateway: exporting", "path", path, "format", format, "source", source)

	sctx, cancel := context.WithTimeout(ctx, g.cfg.StatementTimeout)
	defer cancel()

	err = g.mgr.Do(sctx, duck.ModeRead, func(conn *sql.Conn) error {
		if spec.TableName != "" {
			exists, err := relationExists(sctx, conn, g.cfg.Schema, spec.TableName)
			if err != nil {
				return err
			}
			if !exists {
				return duck.NewError(duck.KindNotFound, nil, "table %q does not exist in schema %q", spec.TableName, g.cfg.Schema)
			}
		}
		// One transaction so the count and the file come from the same snapshot.
		return g.inTx(sctx, conn, "export", func(tx *sql.Tx) error {
			var n int64
			if err := tx.QueryRowContext(sctx, "SELECT count(*) FROM "+source).Scan(&n); err != nil {
				return err
			}
			if _, err := tx.ExecContext(sctx, stmt); err != nil {
				return err
			}
			res = AffectedResult{AffectedRows: n, Success: true}
			return nil
		})
	})
	if err != nil {
		if !existed {
			if rerr := os.Remove(path); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
				g.log.Warn("gateway: failed to remove partial export", "path", path, "error", rerr)
			}
		}
		return AffectedResult{}, withStatement(duck.FromEngine(sctx, err, duck.KindExecution), stmt)
	}
	return res, nil
}

// checkWritable verifies the destination directory accepts new files and that path
// may be written. It reports whether path already existed.
func checkWritable(path string, overwrite bool) (bool, error) {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, duck.NewError(duck.KindNotFound, err, "destination directory %s does not exist", dir)
		}
		return false, duck.NewError(duck.KindPermission, err, "failed to stat %s: %v", dir, err)
	}
	if !info.IsDir() {
		return false, duck.NewError(duck.KindPermission, nil, "%s is not a directory", dir)
	}

	probe, err := os.CreateTemp(dir, ".duckdb-mcp-probe-*")
	if err != nil {
		return false, duck.NewError(duck.KindPermission, err, "destination directory %s is not writable: %v", dir, err)
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())

	info, err = os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, duck.NewError(duck.KindPermission, err, "failed to stat %s: %v", path, err)
	case info.IsDir():
		return true, duck.NewError(duck.KindPermission, nil, "%s is a directory", path)
	case !overwrite:
		return true, duck.NewError(duck.KindPermission, nil, "%s already exists; pass overwrite to replace it", path)
	}
	return true, nil
}
