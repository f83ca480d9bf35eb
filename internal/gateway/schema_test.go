package gateway

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
)

func TestDuckMCP_Gateway_ListRelations(t *testing.T) {
	t.Parallel()

	g, _ := testGateway(t)
	ctx := context.Background()

	tables, err := g.ListTables(ctx)
	require.NoError(t, err)
	require.NotNil(t, tables)
	require.Empty(t, tables)

	mustExec(t, g, "CREATE TABLE b (id INTEGER)")
	mustExec(t, g, "CREATE TABLE a (id INTEGER)")
	mustExec(t, g, "CREATE VIEW v AS SELECT * FROM a")

	tables, err = g.ListTables(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, tables)

	views, err := g.ListViews(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"v"}, views)
}

func TestDuckMCP_Gateway_DescribeTable(t *testing.T) {
	t.Parallel()

	t.Run("reflects declared columns in order", func(t *testing.T) {
		t.Parallel()
		g, _ := testGateway(t)
		mustExec(t, g, `CREATE TABLE users (
			id INTEGER PRIMARY KEY,
			name VARCHAR NOT NULL,
			score DOUBLE DEFAULT 0,
			joined DATE
		)`)

		got, err := g.DescribeTable(context.Background(), "users")
		require.NoError(t, err)
		want := TableDescriptor{
			TableName: "users",
			Columns: []ColumnDescriptor{
				{Name: "id", Type: "INTEGER", Nullable: false, IsPrimaryKey: true, Ordinal: 1},
				{Name: "name", Type: "VARCHAR", Nullable: false, Ordinal: 2},
				{Name: "score", Type: "DOUBLE", Nullable: true, Ordinal: 3},
				{Name: "joined", Type: "DATE", Nullable: true, Ordinal: 4},
			},
		}
		// Default expressions are engine-formatted; only their presence is asserted.
		require.Len(t, got.Columns, 4)
		require.NotNil(t, got.Columns[2].Default)
		got.Columns[2].Default = nil
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("unexpected descriptor (-want +got):\n%s", diff)
		}
	})

	t.Run("composite primary keys", func(t *testing.T) {
		t.Parallel()
		g, _ := testGateway(t)
		mustExec(t, g, "CREATE TABLE m (a INTEGER, b INTEGER, c VARCHAR, PRIMARY KEY (a, b))")
		got, err := g.DescribeTable(context.Background(), "m")
		require.NoError(t, err)
		var pks []string
		for _, c := range got.Columns {
			if c.IsPrimaryKey {
				pks = append(pks, c.Name)
			}
		}
		require.Equal(t, []string{"a", "b"}, pks)
	})

	t.Run("missing table", func(t *testing.T) {
		t.Parallel()
		g, _ := testGateway(t)
		_, err := g.DescribeTable(context.Background(), "nope")
		require.Error(t, err)
		require.Equal(t, duck.KindNotFound, duck.KindOf(err))
	})
}

func TestDuckMCP_Gateway_TableStats(t *testing.T) {
	t.Parallel()

	t.Run("counts rows and reports a size", func(t *testing.T) {
		t.Parallel()
		g, _ := testGateway(t)
		mustExec(t, g, "CREATE TABLE t (id INTEGER, name VARCHAR)")
		mustExec(t, g, "INSERT INTO t SELECT range, 'row ' || range FROM range(500)")

		got, err := g.TableStats(context.Background(), "t")
		require.NoError(t, err)
		require.Equal(t, "t", got.TableName)
		require.Equal(t, int64(500), got.RowCount)
		require.Positive(t, got.ApproximateSizeBytes)
		require.Contains(t, []string{SizeMethodStorageBlocks, SizeMethodRowWidthEstimate}, got.SizeMethod)
	})

	t.Run("persisted tables report storage blocks", func(t *testing.T) {
		t.Parallel()
		path := filepath.Join(t.TempDir(), "stats.duckdb")
		open := func() (*duck.Manager, *Gateway) {
			mgr, err := duck.NewManager(duck.ManagerConfig{Logger: testLogger(), Path: path})
			require.NoError(t, err)
			g, err := New(Config{Logger: testLogger(), Manager: mgr, AllowedDir: t.TempDir()})
			require.NoError(t, err)
			return mgr, g
		}

		mgr, g := open()
		mustExec(t, g, "CREATE TABLE t (id BIGINT)")
		mustExec(t, g, "INSERT INTO t SELECT range FROM range(100000)")
		// Closing the database checkpoints it, so the table's blocks are persistent on reopen.
		require.NoError(t, mgr.Shutdown(context.Background()))

		mgr, g = open()
		defer func() { _ = mgr.Shutdown(context.Background()) }()
		got, err := g.TableStats(context.Background(), "t")
		require.NoError(t, err)
		require.Equal(t, int64(100000), got.RowCount)
		require.Equal(t, SizeMethodStorageBlocks, got.SizeMethod)
		require.Positive(t, got.ApproximateSizeBytes)
	})

	t.Run("empty tables", func(t *testing.T) {
		t.Parallel()
		g, _ := testGateway(t)
		mustExec(t, g, "CREATE TABLE t (id INTEGER)")
		got, err := g.TableStats(context.Background(), "t")
		require.NoError(t, err)
		require.Zero(t, got.RowCount)
		require.Zero(t, got.ApproximateSizeBytes)
	})

	t.Run("missing table", func(t *testing.T) {
		t.Parallel()
		g, _ := testGateway(t)
		_, err := g.TableStats(context.Background(), "nope")
		require.Error(t, err)
		require.Equal(t, duck.KindNotFound, duck.KindOf(err))
	})
}

func TestDuckMCP_Gateway_EstimateRowWidth(t *testing.T) {
	t.Parallel()

	cols := []ColumnDescriptor{{Type: "INTEGER"}, {Type: "BIGINT"}, {Type: "DECIMAL(18,3)"}, {Type: "VARCHAR"}, {Type: "BOOLEAN"}}
	require.Equal(t, int64(4+8+16+32+1), estimateRowWidth(cols))
}

func TestDuckMCP_Gateway_StatusAndSchemaDump(t *testing.T) {
	t.Parallel()

	t.Run("status snapshot", func(t *testing.T) {
		t.Parallel()
		g, _ := testGateway(t)
		mustExec(t, g, "CREATE TABLE a (id INTEGER)")
		mustExec(t, g, "CREATE VIEW v AS SELECT * FROM a")

		st, err := g.Status(context.Background())
		require.NoError(t, err)
		require.True(t, st.Open)
		require.Equal(t, g.Manager().Path(), st.Path)
		require.Equal(t, 1, st.TableCount)
		require.Equal(t, 1, st.ViewCount)
		require.Equal(t, "main", st.Schema)
	})

	t.Run("status after shutdown", func(t *testing.T) {
		t.Parallel()
		g, _ := testGateway(t)
		require.NoError(t, g.Manager().Shutdown(context.Background()))
		st, err := g.Status(context.Background())
		require.NoError(t, err)
		require.False(t, st.Open)
		require.Zero(t, st.TableCount)
	})

	t.Run("schema dump is invalidated by mutations", func(t *testing.T) {
		t.Parallel()
		g, _ := testGateway(t)
		mustExec(t, g, "CREATE TABLE a (id INTEGER, name VARCHAR)")

		dump, err := g.SchemaDump(context.Background())
		require.NoError(t, err)
		require.Len(t, dump.Tables, 1)
		require.Equal(t, "a", dump.Tables[0].TableName)
		require.Len(t, dump.Tables[0].Columns, 2)
		require.Empty(t, dump.Views)

		mustExec(t, g, "CREATE VIEW v AS SELECT id FROM a")
		dump, err = g.SchemaDump(context.Background())
		require.NoError(t, err)
		require.Len(t, dump.Views, 1)
		require.Equal(t, []ColumnDescriptor{{Name: "id", Type: "INTEGER", Nullable: true, Ordinal: 1}}, dump.Views[0].Columns)
	})

	t.Run("dump read before a mutation is not cached after it", func(t *testing.T) {
		t.Parallel()
		g, _ := testGateway(t)
		mustExec(t, g, "CREATE TABLE a (id INTEGER)")

		gen := g.schemaGeneration()
		stale, err := g.SchemaDump(context.Background())
		require.NoError(t, err)
		require.Len(t, stale.Tables, 1)

		// A write lands between the read and the cache store.
		mustExec(t, g, "CREATE TABLE b (id INTEGER)")
		require.False(t, g.cacheSchemaDump(gen, stale))

		dump, err := g.SchemaDump(context.Background())
		require.NoError(t, err)
		require.Len(t, dump.Tables, 2)
		require.Equal(t, "b", dump.Tables[1].TableName)
	})

	t.Run("concurrent dumps and writes never cache a stale schema", func(t *testing.T) {
		t.Parallel()
		g, _ := testGateway(t)

		var wg sync.WaitGroup
		done := make(chan struct{})
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				_, _ = g.SchemaDump(context.Background())
			}
		}()
		for i := range 10 {
			mustExec(t, g, fmt.Sprintf("CREATE TABLE t%d (id INTEGER)", i))
		}
		close(done)
		wg.Wait()

		dump, err := g.SchemaDump(context.Background())
		require.NoError(t, err)
		require.Len(t, dump.Tables, 10)
	})
}
