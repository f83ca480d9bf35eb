package duck

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testManager creates a manager backed by a file in a fresh temporary directory.
func testManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(ManagerConfig{
		Logger:       testLogger(),
		Path:         filepath.Join(t.TempDir(), "test.duckdb"),
		MaxOpenConns: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
