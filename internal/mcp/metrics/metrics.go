package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duckdb_mcp_build_info",
			Help: "Build information of the DuckDB MCP gateway",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_mcp_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckdb_mcp_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
	)

	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_mcp_auth_failures_total",
			Help: "Total number of authentication failures",
		},
		[]string{"reason"},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_mcp_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool_name", "status"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_mcp_tool_call_duration_seconds",
			Help:    "Duration of tool calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
		[]string{"tool_name"},
	)

	ToolErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_mcp_tool_errors_total",
			Help: "Total number of failed tool calls by error kind",
		},
		[]string{"tool_name", "kind"},
	)

	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_mcp_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_mcp_database_operation_duration_seconds",
			Help:    "Duration of database operations",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 0.001s to ~16s
		},
		[]string{"operation"},
	)

	LeasesInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "duckdb_mcp_leases_in_flight",
			Help: "Number of connection leases currently held",
		},
		[]string{"mode"},
	)

	TransactionRollbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_mcp_transaction_rollbacks_total",
			Help: "Total number of rolled back transactions",
		},
		[]string{"operation"},
	)

	SchemaCacheTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_mcp_schema_cache_total",
			Help: "Schema cache lookups",
		},
		[]string{"result"},
	)
)
