package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/duckdb-mcp/internal/gateway"
	"github.com/malbeclabs/duckdb-mcp/internal/mcp/tools"
)

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"

	defaultName              = "duckdb-mcp"
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

// Inspector serves the read-only resources and the readiness probe.
type Inspector interface {
	Status(ctx context.Context) (gateway.Status, error)
	SchemaDump(ctx context.Context) (gateway.SchemaDump, error)
}

type Config struct {
	Logger *slog.Logger

	Registry  *tools.Registry
	Inspector Inspector

	Name              string
	Version           string
	Transport         string
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	AllowedTokens     []string // Bearer tokens accepted on the HTTP endpoint; empty disables auth
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Registry == nil {
		return fmt.Errorf("registry is required")
	}
	if c.Inspector == nil {
		return fmt.Errorf("inspector is required")
	}
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.Transport == "" {
		c.Transport = TransportStdio
	}
	switch c.Transport {
	case TransportStdio:
	case TransportHTTP:
		if c.ListenAddr == "" {
			return fmt.Errorf("listen address is required for the http transport")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
