package gateway

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/duckdb-mcp/internal/duck"
	"github.com/malbeclabs/duckdb-mcp/internal/mcp/metrics"
)

const (
	DefaultSchema           = "main"
	DefaultQueryTimeout     = 30 * time.Second
	DefaultStatementTimeout = 5 * time.Minute
	DefaultMaxRows          = 1000
	DefaultSchemaCacheTTL   = 30 * time.Second
)

type Config struct {
	Logger  *slog.Logger
	Manager *duck.Manager
	Clock   clockwork.Clock

	// Schema is the database schema inspected by the schema operations and used
	// for unqualified table names in bulk transfers.
	Schema string

	QueryTimeout     time.Duration
	StatementTimeout time.Duration
	MaxRows          int
	NestedAsJSON     bool

	// AllowedDir bounds every import and export path.
	AllowedDir string
	// AllowOverwrite lets exports replace existing files without the caller asking.
	AllowOverwrite bool

	SchemaCacheTTL time.Duration
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if cfg.Manager == nil {
		return fmt.Errorf("manager is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Schema == "" {
		cfg.Schema = DefaultSchema
	}
	if !identifierRe.MatchString(cfg.Schema) {
		return fmt.Errorf("schema %q is not a valid identifier", cfg.Schema)
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = DefaultStatementTimeout
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	if cfg.SchemaCacheTTL <= 0 {
		cfg.SchemaCacheTTL = DefaultSchemaCacheTTL
	}
	if cfg.AllowedDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		cfg.AllowedDir = wd
	}
	return nil
}

// Gateway is the query-execution core. Every operation borrows a connection from
// the manager for its own duration and converts failures into *duck.Error.
type Gateway struct {
	log        *slog.Logger
	cfg        Config
	mgr        *duck.Manager
	clock      clockwork.Clock
	allowedDir string

	cache *ttlcache.Cache[string, any]

	// schemaGen counts invalidations so a dump read before a mutation is never
	// cached after it.
	schemaMu  sync.Mutex
	schemaGen uint64
}

func New(cfg Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate gateway config: %w", err)
	}

	abs, err := filepath.Abs(cfg.AllowedDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve allowed directory: %w", err)
	}
	allowedDir, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve allowed directory: %w", err)
	}
	info, err := os.Stat(allowedDir)
	if err != nil {
		return nil, fmt.Errorf("failed to stat allowed directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("allowed directory %s is not a directory", allowedDir)
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, any](cfg.SchemaCacheTTL),
		ttlcache.WithDisableTouchOnHit[string, any](),
	)

	return &Gateway{
		log:        cfg.Logger,
		cfg:        cfg,
		mgr:        cfg.Manager,
		clock:      cfg.Clock,
		allowedDir: allowedDir,
		cache:      cache,
	}, nil
}

func (g *Gateway) Manager() *duck.Manager {
	return g.mgr
}

func (g *Gateway) AllowedDir() string {
	return g.allowedDir
}

func (g *Gateway) MaxRows() int {
	return g.cfg.MaxRows
}

// observe records the outcome of one database operation.
func (g *Gateway) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	metrics.DatabaseOperationDuration.WithLabelValues(operation).Observe(g.clock.Since(start).Seconds())
}

func (g *Gateway) invalidateSchema() {
	g.schemaMu.Lock()
	defer g.schemaMu.Unlock()
	g.schemaGen++
	g.cache.DeleteAll()
}

func (g *Gateway) schemaGeneration() uint64 {
	g.schemaMu.Lock()
	defer g.schemaMu.Unlock()
	return g.schemaGen
}

// cacheSchemaDump stores dump only if no invalidation happened since gen was read.
func (g *Gateway) cacheSchemaDump(gen uint64, dump SchemaDump) bool {
	g.schemaMu.Lock()
	defer g.schemaMu.Unlock()
	if g.schemaGen != gen {
		return false
	}
	g.cache.Set(schemaDumpCacheKey, dump, g.cfg.SchemaCacheTTL)
	return true
}
