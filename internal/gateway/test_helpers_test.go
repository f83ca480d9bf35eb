package gateway

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testOption func(*Config)

func withQueryTimeout(d time.Duration) testOption {
	return func(c *Config) { c.QueryTimeout = d }
}

func withStatementTimeout(d time.Duration) testOption {
	return func(c *Config) { c.StatementTimeout = d }
}

func withMaxRows(n int) testOption {
	return func(c *Config) { c.MaxRows = n }
}

func withNestedAsJSON() testOption {
	return func(c *Config) { c.NestedAsJSON = true }
}

// testGateway creates a gateway over a fresh database whose allowed directory is a
// separate temporary directory, returned alongside it.
func testGateway(t *testing.T, opts ...testOption) (*Gateway, string) {
	t.Helper()
	mgr, err := duck.NewManager(duck.ManagerConfig{
		Logger: testLogger(),
		Path:   filepath.Join(t.TempDir(), "db", "test.duckdb"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	dir := t.TempDir()
	cfg := Config{
		Logger:     testLogger(),
		Manager:    mgr,
		AllowedDir: dir,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	g, err := New(cfg)
	require.NoError(t, err)
	return g, g.AllowedDir()
}

func mustExec(t *testing.T, g *Gateway, sql string, params ...any) AffectedResult {
	t.Helper()
	res, err := g.Exec(context.Background(), StatementRequest{SQL: sql, Params: params})
	require.NoError(t, err)
	return res
}

func countRows(t *testing.T, g *Gateway, table string) int64 {
	t.Helper()
	res, err := g.Query(context.Background(), QueryRequest{SQL: "SELECT count(*) FROM " + table})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	return res.Rows[0][0].(int64)
}

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}
