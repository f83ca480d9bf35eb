package duck

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"golang.org/x/sync/semaphore"

	"github.com/malbeclabs/duckdb-mcp/internal/mcp/metrics"
)

const (
	InMemoryPath = ":memory:"

	defaultMaxOpenConns = 4
)

// Mode selects how a lease shares the database with concurrent callers.
type Mode int

const (
	// ModeRead leases run concurrently with each other.
	ModeRead Mode = iota
	// ModeWrite leases exclude every other lease for their whole lifetime.
	ModeWrite
)

func (m Mode) String() string {
	if m == ModeWrite {
		return "write"
	}
	return "read"
}

// Paths currently owned by a Manager in this process.
var (
	ownedPaths   = map[string]struct{}{}
	ownedPathsMu sync.Mutex
)

type ManagerConfig struct {
	Logger *slog.Logger

	// Path is the database file. Empty or ":memory:" selects an in-memory database.
	Path string
	// MaxOpenConns bounds the connection pool and the number of concurrent readers.
	MaxOpenConns int
}

func (c *ManagerConfig) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Path == "" {
		c.Path = InMemoryPath
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	return nil
}

// Manager owns the single database handle of the process. The handle is opened
// lazily by the first Acquire (or an explicit Open) and closed by Shutdown once
// every outstanding lease has been released.
type Manager struct {
	log *slog.Logger
	cfg ManagerConfig

	mu       sync.Mutex // guards db, closed, key and openedAt
	db       *sql.DB
	key      string
	closed   bool
	openedAt time.Time
	inflight sync.WaitGroup

	// gate has one slot per pool connection; readers take one slot, writers take all.
	gate *semaphore.Weighted
}

// State is a point-in-time view of the manager.
type State struct {
	Open     bool
	Closed   bool
	Path     string
	OpenedAt time.Time
}

func NewManager(cfg ManagerConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate manager config: %w", err)
	}
	return &Manager{
		log:  cfg.Logger,
		cfg:  cfg,
		gate: semaphore.NewWeighted(int64(cfg.MaxOpenConns)),
	}, nil
}

// Open opens the database if it is not open yet.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewError(KindStorageUnavailable, nil, "connection manager has been shut down")
	}
	return m.openLocked(ctx)
}

func (m *Manager) openLocked(ctx context.Context) error {
	if m.db != nil {
		return nil
	}

	path := m.cfg.Path
	key := path
	if path != InMemoryPath {
		abs, err := filepath.Abs(path)
		if err != nil {
			return NewError(KindStorageUnavailable, err, "failed to resolve database path %s: %v", path, err)
		}
		key = abs
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return NewError(KindStorageUnavailable, err, "failed to create database directory %s: %v", filepath.Dir(abs), err)
		}
	}

	if key != InMemoryPath {
		ownedPathsMu.Lock()
		if _, ok := ownedPaths[key]; ok {
			ownedPathsMu.Unlock()
			return NewError(KindStorageUnavailable, nil, "database %s is already managed by another connection manager", key)
		}
		ownedPaths[key] = struct{}{}
		ownedPathsMu.Unlock()
	}

	db, err := sql.Open("duckdb", dsn(path))
	if err == nil {
		err = db.PingContext(ctx)
	}
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		m.releasePath(key)
		if ctx.Err() != nil {
			return FromEngine(ctx, err, KindStorageUnavailable)
		}
		return NewError(KindStorageUnavailable, err, "failed to open database %s: %v", path, err)
	}

	db.SetMaxOpenConns(m.cfg.MaxOpenConns)
	db.SetMaxIdleConns(m.cfg.MaxOpenConns)
	db.SetConnMaxLifetime(0)

	m.db = db
	m.key = key
	m.openedAt = time.Now()
	m.log.Info("duck: database opened", "path", path, "maxOpenConns", m.cfg.MaxOpenConns)
	return nil
}

func dsn(path string) string {
	if path == InMemoryPath {
		return ""
	}
	return path
}

func (m *Manager) releasePath(key string) {
	if key == "" || key == InMemoryPath {
		return
	}
	ownedPathsMu.Lock()
	delete(ownedPaths, key)
	ownedPathsMu.Unlock()
}

// Lease is a scoped borrow of one pooled connection. Release must be called on
// every path; it is safe to call more than once.
type Lease struct {
	conn    *sql.Conn
	mode    Mode
	release func()
	once    sync.Once
}

func (l *Lease) Conn() *sql.Conn {
	return l.conn
}

func (l *Lease) Mode() Mode {
	return l.mode
}

func (l *Lease) Release() {
	l.once.Do(l.release)
}

// Acquire borrows a connection. Write leases wait until no other lease is held and
// block new ones until released, so a mutation and its transaction are never
// interleaved with another caller.
func (m *Manager) Acquire(ctx context.Context, mode Mode) (*Lease, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, NewError(KindStorageUnavailable, nil, "connection manager has been shut down")
	}
	if err := m.openLocked(ctx); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	db := m.db
	m.inflight.Add(1)
	m.mu.Unlock()

	weight := int64(1)
	if mode == ModeWrite {
		weight = int64(m.cfg.MaxOpenConns)
	}
	if err := m.gate.Acquire(ctx, weight); err != nil {
		m.inflight.Done()
		return nil, FromEngine(ctx, err, KindCancelled)
	}

	conn, err := db.Conn(ctx)
	if err != nil {
		m.gate.Release(weight)
		m.inflight.Done()
		if ctx.Err() != nil {
			return nil, FromEngine(ctx, err, KindCancelled)
		}
		return nil, NewError(KindStorageUnavailable, err, "failed to get connection: %v", err)
	}

	metrics.LeasesInFlight.WithLabelValues(mode.String()).Inc()
	return &Lease{
		conn: conn,
		mode: mode,
		release: func() {
			if err := conn.Close(); err != nil {
				m.log.Warn("duck: failed to return connection to pool", "error", err)
			}
			metrics.LeasesInFlight.WithLabelValues(mode.String()).Dec()
			m.gate.Release(weight)
			m.inflight.Done()
		},
	}, nil
}

// Do runs fn with a leased connection and releases it afterwards, including when
// fn panics.
func (m *Manager) Do(ctx context.Context, mode Mode, fn func(conn *sql.Conn) error) error {
	lease, err := m.Acquire(ctx, mode)
	if err != nil {
		return err
	}
	defer lease.Release()
	return fn(lease.conn)
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		Open:     m.db != nil && !m.closed,
		Closed:   m.closed,
		Path:     m.cfg.Path,
		OpenedAt: m.openedAt,
	}
}

func (m *Manager) Path() string {
	return m.cfg.Path
}

// Shutdown refuses new leases, waits for outstanding ones and closes the database.
// It returns early with ctx's error if the wait does not finish in time; the
// handle is then closed in the background once the last lease is released.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	db, key := m.db, m.key
	m.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		m.inflight.Wait()
		var err error
		if db != nil {
			err = db.Close()
			m.releasePath(key)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
		m.log.Info("duck: database closed", "path", m.cfg.Path)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to drain in-flight leases: %w", ctx.Err())
	}
}
