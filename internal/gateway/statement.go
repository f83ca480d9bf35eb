package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
	"github.com/malbeclabs/duckdb-mcp/internal/mcp/metrics"
)

type StatementRequest struct {
	SQL    string
	Params []any
}

type AffectedResult struct {
	AffectedRows int64 `json:"affected_rows"`
	Success      bool  `json:"success"`
}

// Exec runs one statement of any kind inside its own transaction while holding the
// write lease. The transaction is committed only if the statement and the commit
// both succeed; otherwise it is rolled back and the failure is returned as final.
func (g *Gateway) Exec(ctx context.Context, req StatementRequest) (res AffectedResult, err error) {
	start := g.clock.Now()
	defer func() { g.observe("statement", start, err) }()

	kind, err := ClassifyStatement(req.SQL)
	if err != nil {
		return AffectedResult{}, withStatement(err, req.SQL)
	}
	switch kind {
	case StatementTransaction:
		return AffectedResult{}, duck.NewError(duck.KindStatementKind, nil,
			"transaction control statements are not accepted; every statement already runs in its own transaction").WithStatement(req.SQL)
	case StatementSession:
		return AffectedResult{}, errSessionStatement(req.SQL)
	}

	args, err := bindParams(req.Params)
	if err != nil {
		return AffectedResult{}, withStatement(err, req.SQL)
	}

	g.log.Debug("gateway: running statement", "sql", req.SQL, "params", len(args))

	sctx, cancel := context.WithTimeout(ctx, g.cfg.StatementTimeout)
	defer cancel()

	err = g.mgr.Do(sctx, duck.ModeWrite, func(conn *sql.Conn) error {
		if len(args) > 0 {
			if err := checkArity(sctx, conn, req.SQL, len(args)); err != nil {
				return err
			}
		}
		return g.inTx(sctx, conn, "statement", func(tx *sql.Tx) error {
			r, err := tx.ExecContext(sctx, req.SQL, args...)
			if err != nil {
				return err
			}
			n, err := r.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get affected rows: %w", err)
			}
			res = AffectedResult{AffectedRows: n, Success: true}
			return nil
		})
	})
	g.invalidateSchema()
	if err != nil {
		return AffectedResult{}, withStatement(duck.FromEngine(sctx, err, duck.KindExecution), req.SQL)
	}
	return res, nil
}

// inTx runs fn inside a transaction on conn, rolling back on any failure of fn or
// of the commit.
func (g *Gateway) inTx(ctx context.Context, conn *sql.Conn, operation string, fn func(tx *sql.Tx) error) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		g.rollback(tx, operation)
		return err
	}
	if err := tx.Commit(); err != nil {
		g.rollback(tx, operation)
		return err
	}
	return nil
}

func (g *Gateway) rollback(tx *sql.Tx, operation string) {
	metrics.TransactionRollbacksTotal.WithLabelValues(operation).Inc()
	// database/sql has already rolled back when the context ended.
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		g.log.Warn("gateway: failed to roll back transaction", "operation", operation, "error", err)
	}
}
