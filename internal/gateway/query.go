package gateway

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
)

type QueryRequest struct {
	SQL    string
	Params []any
	// MaxRows lowers the configured row cap for this call. Zero keeps the cap.
	MaxRows int
}

type ResultSet struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"row_count"`
	Truncated bool     `json:"truncated"`
}

// Query runs a read-only statement under the query timeout and collects at most
// the row cap. Mutating statements are refused before reaching the engine.
func (g *Gateway) Query(ctx context.Context, req QueryRequest) (res ResultSet, err error) {
	start := g.clock.Now()
	defer func() { g.observe("query", start, err) }()

	kind, err := ClassifyStatement(req.SQL)
	if err != nil {
		return ResultSet{}, withStatement(err, req.SQL)
	}
	if kind == StatementSession {
		return ResultSet{}, errSessionStatement(req.SQL)
	}
	if kind != StatementRead {
		return ResultSet{}, duck.NewError(duck.KindStatementKind, nil,
			"execute_query accepts read-only statements only; use execute_statement for %s statements", kind).WithStatement(req.SQL)
	}

	args, err := bindParams(req.Params)
	if err != nil {
		return ResultSet{}, withStatement(err, req.SQL)
	}

	limit := g.cfg.MaxRows
	if req.MaxRows > 0 && req.MaxRows < limit {
		limit = req.MaxRows
	}

	g.log.Debug("gateway: running query", "sql", req.SQL, "params", len(args), "limit", limit)

	qctx, cancel := context.WithTimeout(ctx, g.cfg.QueryTimeout)
	defer cancel()

	err = g.mgr.Do(qctx, duck.ModeRead, func(conn *sql.Conn) error {
		if err := checkArity(qctx, conn, req.SQL, len(args)); err != nil {
			return err
		}
		res, err = g.collect(qctx, conn, req.SQL, args, limit)
		return err
	})
	if err != nil {
		return ResultSet{}, withStatement(duck.FromEngine(qctx, err, duck.KindExecution), req.SQL)
	}
	return res, nil
}

func (g *Gateway) collect(ctx context.Context, conn *sql.Conn, query string, args []any, limit int) (ResultSet, error) {
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return ResultSet{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return ResultSet{}, fmt.Errorf("failed to get columns: %w", err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return ResultSet{}, fmt.Errorf("failed to get column types: %w", err)
	}

	res := ResultSet{Columns: columns, Rows: [][]any{}}
	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if len(res.Rows) == limit {
			res.Truncated = true
			break
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return ResultSet{}, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make([]any, len(columns))
		for i, v := range values {
			out, err := duck.ToTransport(v, types[i].DatabaseTypeName(), g.cfg.NestedAsJSON)
			if err != nil {
				return ResultSet{}, withColumn(err, columns[i])
			}
			row[i] = out
		}
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return ResultSet{}, err
	}
	res.RowCount = len(res.Rows)
	return res, nil
}

// bindParams converts positional parameters for the driver.
func bindParams(params []any) ([]any, error) {
	args := make([]any, len(params))
	for i, p := range params {
		v, err := duck.ToNative(p)
		if err != nil {
			return nil, duck.NewError(duck.KindParameterBinding, err, "parameter %d: %s", i+1, messageOf(err)).WithParameter(i)
		}
		args[i] = v
	}
	return args, nil
}

// checkArity prepares the statement on the leased connection and compares its
// placeholder count with the number of supplied parameters.
func checkArity(ctx context.Context, conn *sql.Conn, query string, got int) error {
	want := -1
	err := conn.Raw(func(dc any) error {
		pc, ok := dc.(driver.ConnPrepareContext)
		if !ok {
			return nil
		}
		stmt, err := pc.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()
		want = stmt.NumInput()
		return nil
	})
	if err != nil {
		return err
	}
	if want < 0 || want == got {
		return nil
	}
	index := got
	if got > want {
		index = want
	}
	return duck.NewError(duck.KindParameterBinding, nil, "statement expects %d parameters, got %d", want, got).WithParameter(index)
}

func messageOf(err error) string {
	var e *duck.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func withStatement(err error, stmt string) error {
	e := duck.FromEngine(context.Background(), err, duck.KindExecution)
	if e.Statement != "" {
		return e
	}
	return e.WithStatement(stmt)
}

func withColumn(err error, column string) error {
	return duck.FromEngine(context.Background(), err, duck.KindUnsupportedType).WithColumn(column)
}
