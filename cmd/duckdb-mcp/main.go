package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/duckdb-mcp/internal/config"
	"github.com/malbeclabs/duckdb-mcp/internal/duck"
	"github.com/malbeclabs/duckdb-mcp/internal/gateway"
	"github.com/malbeclabs/duckdb-mcp/internal/logger"
	"github.com/malbeclabs/duckdb-mcp/internal/mcp/metrics"
	"github.com/malbeclabs/duckdb-mcp/internal/mcp/server"
	"github.com/malbeclabs/duckdb-mcp/internal/mcp/tools"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; real environment variables always win.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return newRootCmd(os.Stdout).ExecuteContext(ctx)
}

func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "duckdb-mcp",
		Short:         "MCP server exposing an embedded DuckDB database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.SetOut(out)
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(),
		newCallCmd(),
		newQueryCmd(),
		newStatusCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (commit %s, built %s)\n", version, commit, date)
			},
		},
	)
	return root
}

// app holds the components every subcommand is built from.
type app struct {
	log *slog.Logger
	cfg config.Config
	mgr *duck.Manager
	gw  *gateway.Gateway
	reg *tools.Registry
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(config.LoadOptions{Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Options{Verbose: cfg.Verbose, Format: cfg.LogFormat})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	mgr, err := duck.NewManager(duck.ManagerConfig{
		Logger:       log,
		Path:         cfg.DBPath,
		MaxOpenConns: cfg.MaxOpenConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create connection manager: %w", err)
	}

	gw, err := gateway.New(gateway.Config{
		Logger:           log,
		Manager:          mgr,
		Schema:           cfg.Schema,
		QueryTimeout:     cfg.QueryTimeout,
		StatementTimeout: cfg.StatementTimeout,
		MaxRows:          cfg.MaxRows,
		NestedAsJSON:     cfg.NestedAsJSON,
		AllowedDir:       cfg.AllowedDir,
		AllowOverwrite:   cfg.AllowOverwrite,
		SchemaCacheTTL:   cfg.SchemaCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	reg, err := tools.NewRegistry(tools.RegistryConfig{
		Logger:         log,
		Gateway:        gw,
		MaxConcurrency: cfg.MaxConcurrency,
		ServerVersion:  version,
		DatabasePath:   cfg.DBPath,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tool registry: %w", err)
	}

	return &app{log: log, cfg: cfg, mgr: mgr, gw: gw, reg: reg}, nil
}

// close stops the worker pool and closes the database once in-flight calls finish.
func (a *app) close() error {
	a.reg.Close()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.mgr.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown connection manager: %w", err)
	}
	return nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the MCP tools over stdio or streamable HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}
}

func (a *app) serve(ctx context.Context) (err error) {
	defer func() {
		if cerr := a.close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	// Storage is opened up front: no operation can run without it.
	if err := a.mgr.Open(ctx); err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:        a.log,
		Registry:      a.reg,
		Inspector:     a.gw,
		Version:       version,
		Transport:     a.cfg.Transport,
		ListenAddr:    a.cfg.ListenAddr,
		AllowedTokens: a.cfg.AllowedTokens,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// The stdio session ending also ends the process.
		defer cancel()
		return srv.Run(gctx)
	})
	if a.cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		g.Go(func() error {
			return serveMetrics(gctx, a.log, a.cfg.MetricsAddr)
		})
	}

	if err := g.Wait(); err != nil {
		a.log.Error("server: error causing shutdown", "error", err)
		return err
	}
	a.log.Info("server: shutting down")
	return nil
}

func serveMetrics(ctx context.Context, log *slog.Logger, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start prometheus metrics server listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("prometheus metrics server listening", "address", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve prometheus metrics: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
