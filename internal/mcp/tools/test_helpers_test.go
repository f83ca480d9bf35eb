package tools

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
	"github.com/malbeclabs/duckdb-mcp/internal/gateway"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testRegistry returns a registry over a fresh database along with the gateway's
// allowed directory.
func testRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	mgr, err := duck.NewManager(duck.ManagerConfig{
		Logger: testLogger(),
		Path:   filepath.Join(t.TempDir(), "test.duckdb"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Shutdown(context.Background()) })

	gw, err := gateway.New(gateway.Config{
		Logger:     testLogger(),
		Manager:    mgr,
		AllowedDir: t.TempDir(),
	})
	require.NoError(t, err)

	r, err := NewRegistry(RegistryConfig{
		Logger:        testLogger(),
		Gateway:       gw,
		Clock:         clockwork.NewFakeClock(),
		ServerVersion: "1.2.3",
		DatabasePath:  mgr.Path(),
	})
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, gw.AllowedDir()
}

// testSession connects an in-memory MCP client to a server carrying r's tools.
func testSession(t *testing.T, r *Registry) *mcp.ClientSession {
	t.Helper()
	server := mcp.NewServer(&mcp.Implementation{Name: "test-server", Version: "1.0.0"}, nil)
	require.NoError(t, r.Register(server))

	st, ct := mcp.NewInMemoryTransports()
	ctx := context.Background()
	ss, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func invoke(t *testing.T, r *Registry, name, args string) any {
	t.Helper()
	res, err := r.Invoke(t.Context(), name, []byte(args))
	require.NoError(t, err)
	return res
}

var errDatabase = errors.New("database error")

// failingGateway fails every call with err.
type failingGateway struct {
	err error
}

func (f *failingGateway) Query(context.Context, gateway.QueryRequest) (gateway.ResultSet, error) {
	return gateway.ResultSet{}, f.err
}

func (f *failingGateway) Exec(context.Context, gateway.StatementRequest) (gateway.AffectedResult, error) {
	return gateway.AffectedResult{}, f.err
}

func (f *failingGateway) ListTables(context.Context) ([]string, error) {
	return nil, f.err
}

func (f *failingGateway) ListViews(context.Context) ([]string, error) {
	return nil, f.err
}

func (f *failingGateway) DescribeTable(context.Context, string) (gateway.TableDescriptor, error) {
	return gateway.TableDescriptor{}, f.err
}

func (f *failingGateway) TableStats(context.Context, string) (gateway.TableStats, error) {
	return gateway.TableStats{}, f.err
}

func (f *failingGateway) Import(context.Context, gateway.TransferSpec) (gateway.AffectedResult, error) {
	return gateway.AffectedResult{}, f.err
}

func (f *failingGateway) Export(context.Context, gateway.TransferSpec) (gateway.AffectedResult, error) {
	return gateway.AffectedResult{}, f.err
}

func (f *failingGateway) Status(context.Context) (gateway.Status, error) {
	return gateway.Status{}, f.err
}

func (f *failingGateway) SchemaDump(context.Context) (gateway.SchemaDump, error) {
	return gateway.SchemaDump{}, f.err
}

func failingRegistry(t *testing.T, err error) *Registry {
	t.Helper()
	r, rerr := NewRegistry(RegistryConfig{
		Logger:  testLogger(),
		Gateway: &failingGateway{err: err},
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, rerr)
	t.Cleanup(r.Close)
	return r
}
