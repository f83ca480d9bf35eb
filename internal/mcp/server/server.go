package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/malbeclabs/duckdb-mcp/internal/mcp/metrics"
)

const (
	StatusResourceURI = "duckdb://status"
	SchemaResourceURI = "duckdb://schema"
)

type Server struct {
	log  *slog.Logger
	cfg  Config
	mcp  *mcp.Server
	http *http.Server
}

func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate server config: %w", err)
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, &mcp.ServerOptions{
		Instructions: "Query and manage an embedded DuckDB database. Use execute_query for reads, execute_statement for changes, " +
			"and describe_table before writing SQL against an unfamiliar table.",
	})

	s := &Server{
		log: cfg.Logger,
		cfg: cfg,
		mcp: mcpServer,
	}

	if err := cfg.Registry.Register(mcpServer); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	s.registerResources()

	if cfg.Transport == TransportHTTP {
		s.http = &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           s.Handler(),
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
	}
	return s, nil
}

func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         StatusResourceURI,
		Name:        "status",
		Description: "Database status: whether it is open, its file path and the number of tables and views.",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		st, err := s.cfg.Inspector.Status(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read status: %w", err)
		}
		return jsonResource(req.Params.URI, st)
	})

	s.mcp.AddResource(&mcp.Resource{
		URI:         SchemaResourceURI,
		Name:        "schema",
		Description: "Every table and view in the configured schema with its column metadata.",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		dump, err := s.cfg.Inspector.SchemaDump(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read schema: %w", err)
		}
		return jsonResource(req.Params.URI, dump)
	})
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource %s: %w", uri, err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{URI: uri, MIMEType: "application/json", Text: string(data)}},
	}, nil
}

// Handler returns the HTTP surface: the streamable MCP endpoint at / plus the
// health probes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	handler := mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.mcp
	}, &mcp.StreamableHTTPOptions{
		Stateless: true,
	})

	var root http.Handler = s.metricsMiddleware(handler)
	if len(s.cfg.AllowedTokens) > 0 {
		root = s.authMiddleware(root)
	}
	mux.Handle("/", root)
	mux.Handle("/healthz", s.metricsMiddleware(http.HandlerFunc(s.healthzHandler)))
	mux.Handle("/readyz", s.metricsMiddleware(http.HandlerFunc(s.readyzHandler)))
	return mux
}

// Run serves until ctx is done or the transport fails.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Transport == TransportStdio {
		s.log.Info("server: serving mcp over stdio")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("failed to serve stdio: %w", err)
		}
		s.log.Info("server: stdio session ended")
		return nil
	}
	return s.runHTTP(ctx)
}

func (s *Server) runHTTP(ctx context.Context) error {
	serveErrCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrCh <- fmt.Errorf("failed to listen and serve: %w", err)
		}
	}()

	s.log.Info("server: mcp streamable http listening", "listenAddr", s.cfg.ListenAddr, "auth", len(s.cfg.AllowedTokens) > 0)

	select {
	case <-ctx.Done():
		s.log.Info("server: stopping", "reason", ctx.Err(), "listenAddr", s.cfg.ListenAddr)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		s.log.Info("server: http server shutdown complete")
		return nil
	case err := <-serveErrCh:
		s.log.Error("server: http server error causing shutdown", "error", err, "listenAddr", s.cfg.ListenAddr)
		return err
	}
}

func (s *Server) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	s.writeText(w, http.StatusOK, "ok\n")
}

func (s *Server) readyzHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.cfg.Inspector.Status(r.Context())
	if err != nil || !st.Open {
		s.log.Debug("readyz: database not open", "error", err)
		s.writeText(w, http.StatusServiceUnavailable, "database not open\n")
		return
	}
	s.writeText(w, http.StatusOK, "ok\n")
}

func (s *Server) writeText(w http.ResponseWriter, code int, body string) {
	w.WriteHeader(code)
	if _, err := w.Write([]byte(body)); err != nil {
		s.log.Error("server: failed to write response", "error", err)
	}
}

// authMiddleware wraps an HTTP handler with Bearer token authentication.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reason, msg := s.authenticate(r.Header.Get("Authorization"))
		if reason != "" {
			metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
			w.Header().Set("WWW-Authenticate", `Bearer`)
			s.writeText(w, http.StatusUnauthorized, "unauthorized: "+msg+"\n")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authenticate returns an empty reason when header carries an allowed token.
func (s *Server) authenticate(header string) (reason, msg string) {
	if header == "" {
		return "missing_header", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "invalid_format", "invalid authorization header format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "empty_token", "empty token"
	}
	for _, allowed := range s.cfg.AllowedTokens {
		if subtle.ConstantTimeCompare([]byte(token), []byte(allowed)) == 1 {
			return "", ""
		}
	}
	return "invalid_token", "invalid token"
}

// metricsMiddleware wraps an HTTP handler with request metrics.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.HTTPRequestDuration.Observe(time.Since(start).Seconds())
	})
}

// responseWriter captures the status code written by the wrapped handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush lets streamed MCP responses through the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
