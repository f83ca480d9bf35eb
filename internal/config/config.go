package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

const (
	EnvPrefix     = "DUCKDB_MCP_"
	ConfigEnvVar  = EnvPrefix + "CONFIG"
	ConfigFlag    = "config"
	DefaultDBPath = "./data/duckdb-mcp.duckdb"

	TransportStdio = "stdio"
	TransportHTTP  = "http"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

type Config struct {
	DBPath           string        `yaml:"db_path"`
	AllowedDir       string        `yaml:"allowed_dir"`
	Schema           string        `yaml:"schema"`
	QueryTimeout     time.Duration `yaml:"query_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	MaxRows          int           `yaml:"max_rows"`
	MaxOpenConns     int           `yaml:"max_open_conns"`
	MaxConcurrency   int           `yaml:"max_concurrency"`
	NestedAsJSON     bool          `yaml:"nested_as_json"`
	AllowOverwrite   bool          `yaml:"allow_overwrite"`
	SchemaCacheTTL   time.Duration `yaml:"schema_cache_ttl"`

	Transport     string   `yaml:"transport"`
	ListenAddr    string   `yaml:"listen_addr"`
	MetricsAddr   string   `yaml:"metrics_addr"`
	AllowedTokens []string `yaml:"allowed_tokens"`

	LogFormat string `yaml:"log_format"`
	Verbose   bool   `yaml:"verbose"`
}

func Defaults() Config {
	return Config{
		DBPath:           DefaultDBPath,
		Schema:           "main",
		QueryTimeout:     30 * time.Second,
		StatementTimeout: 5 * time.Minute,
		MaxRows:          1000,
		MaxOpenConns:     4,
		MaxConcurrency:   16,
		SchemaCacheTTL:   30 * time.Second,
		Transport:        TransportStdio,
		ListenAddr:       "127.0.0.1:8010",
		LogFormat:        LogFormatText,
	}
}

// Validate fills zero values with defaults and rejects settings no component can
// run with.
func (c *Config) Validate() error {
	d := Defaults()
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Schema == "" {
		c.Schema = d.Schema
	}
	for _, f := range []struct {
		name string
		v    *time.Duration
		def  time.Duration
	}{
		{"query timeout", &c.QueryTimeout, d.QueryTimeout},
		{"statement timeout", &c.StatementTimeout, d.StatementTimeout},
		{"schema cache ttl", &c.SchemaCacheTTL, d.SchemaCacheTTL},
	} {
		if *f.v < 0 {
			return fmt.Errorf("%s must be positive, got %s", f.name, *f.v)
		}
		if *f.v == 0 {
			*f.v = f.def
		}
	}
	for _, f := range []struct {
		name string
		v    *int
		def  int
	}{
		{"max rows", &c.MaxRows, d.MaxRows},
		{"max open conns", &c.MaxOpenConns, d.MaxOpenConns},
		{"max concurrency", &c.MaxConcurrency, d.MaxConcurrency},
	} {
		if *f.v < 0 {
			return fmt.Errorf("%s must be positive, got %d", f.name, *f.v)
		}
		if *f.v == 0 {
			*f.v = f.def
		}
	}

	if c.Transport == "" {
		c.Transport = d.Transport
	}
	switch c.Transport {
	case TransportStdio:
	case TransportHTTP:
		if c.ListenAddr == "" {
			return fmt.Errorf("listen address is required for the http transport")
		}
	default:
		return fmt.Errorf("unknown transport %q, expected %s or %s", c.Transport, TransportStdio, TransportHTTP)
	}

	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.LogFormat != LogFormatText && c.LogFormat != LogFormatJSON {
		return fmt.Errorf("unknown log format %q, expected %s or %s", c.LogFormat, LogFormatText, LogFormatJSON)
	}
	return nil
}

// binding ties one field to its environment variable and flag.
type binding struct {
	name   string // flag name; the env var is EnvPrefix + upper snake case of it
	short  string
	usage  string
	field  any
	noFlag bool
}

func (b binding) env() string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(b.name, "-", "_"))
}

func (c *Config) bindings() []binding {
	return []binding{
		{name: "db-path", usage: "path to the DuckDB database file (:memory: for an in-memory database)", field: &c.DBPath},
		{name: "allowed-dir", usage: "directory that import and export paths must stay inside (default: working directory)", field: &c.AllowedDir},
		{name: "schema", usage: "schema that tables are listed from and created in", field: &c.Schema},
		{name: "query-timeout", usage: "deadline for execute_query", field: &c.QueryTimeout},
		{name: "statement-timeout", usage: "deadline for statements, imports and exports", field: &c.StatementTimeout},
		{name: "max-rows", usage: "maximum rows returned by a query", field: &c.MaxRows},
		{name: "max-open-conns", usage: "database connection pool size", field: &c.MaxOpenConns},
		{name: "max-concurrency", usage: "maximum tool calls executing at once", field: &c.MaxConcurrency},
		{name: "nested-as-json", usage: "return LIST, STRUCT and MAP values as JSON strings instead of failing", field: &c.NestedAsJSON},
		{name: "allow-overwrite", usage: "let exports replace existing files without an explicit overwrite", field: &c.AllowOverwrite},
		{name: "schema-cache-ttl", usage: "how long the schema resource is cached", field: &c.SchemaCacheTTL},
		{name: "transport", usage: "MCP transport: stdio or http", field: &c.Transport},
		{name: "listen-addr", usage: "listen address for the http transport", field: &c.ListenAddr},
		{name: "metrics-addr", usage: "address to serve prometheus metrics on (empty disables)", field: &c.MetricsAddr},
		{name: "allowed-tokens", usage: "comma separated bearer tokens for the http transport", field: &c.AllowedTokens, noFlag: true},
		{name: "log-format", usage: "log format: text or json", field: &c.LogFormat},
		{name: "verbose", short: "v", usage: "enable debug logging", field: &c.Verbose},
	}
}

// RegisterFlags adds the configuration flags to fs. Only flags that are explicitly
// set override the other layers.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Defaults()
	fs.String(ConfigFlag, "", "path to a YAML config file (or set "+ConfigEnvVar+")")
	for _, b := range d.bindings() {
		if b.noFlag {
			continue
		}
		switch v := b.field.(type) {
		case *string:
			fs.StringP(b.name, b.short, *v, b.usage)
		case *int:
			fs.IntP(b.name, b.short, *v, b.usage)
		case *bool:
			fs.BoolP(b.name, b.short, *v, b.usage)
		case *time.Duration:
			fs.DurationP(b.name, b.short, *v, b.usage)
		}
	}
}

// LoadOptions selects the sources Load reads. Nil fields mean "skip that layer",
// except Lookup which defaults to os.LookupEnv.
type LoadOptions struct {
	Flags  *pflag.FlagSet
	Lookup func(key string) (string, bool)
}

// Load layers defaults, the YAML file, the environment and explicitly set flags,
// in that order, and validates the result.
func Load(opts LoadOptions) (Config, error) {
	lookup := opts.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	cfg := Defaults()

	path, _ := lookup(ConfigEnvVar)
	if opts.Flags != nil && opts.Flags.Changed(ConfigFlag) {
		var err error
		if path, err = opts.Flags.GetString(ConfigFlag); err != nil {
			return Config{}, fmt.Errorf("failed to get %s flag: %w", ConfigFlag, err)
		}
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.loadEnv(lookup); err != nil {
		return Config{}, err
	}
	if opts.Flags != nil {
		if err := cfg.loadFlags(opts.Flags); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("failed to validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv(lookup func(string) (string, bool)) error {
	for _, b := range c.bindings() {
		raw, ok := lookup(b.env())
		if !ok {
			continue
		}
		if err := setFromString(b.field, raw); err != nil {
			return fmt.Errorf("invalid %s: %w", b.env(), err)
		}
	}
	return nil
}

func (c *Config) loadFlags(fs *pflag.FlagSet) error {
	for _, b := range c.bindings() {
		if b.noFlag || !fs.Changed(b.name) {
			continue
		}
		var err error
		switch v := b.field.(type) {
		case *string:
			*v, err = fs.GetString(b.name)
		case *int:
			*v, err = fs.GetInt(b.name)
		case *bool:
			*v, err = fs.GetBool(b.name)
		case *time.Duration:
			*v, err = fs.GetDuration(b.name)
		}
		if err != nil {
			return fmt.Errorf("failed to get %s flag: %w", b.name, err)
		}
	}
	return nil
}

func setFromString(field any, raw string) error {
	raw = strings.TrimSpace(raw)
	switch v := field.(type) {
	case *string:
		*v = raw
	case *int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("expected an integer, got %q", raw)
		}
		*v = n
	case *bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("expected a boolean, got %q", raw)
		}
		*v = b
	case *time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("expected a duration such as 30s, got %q", raw)
		}
		*v = d
	case *[]string:
		var out []string
		for s := range strings.SplitSeq(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*v = out
	default:
		return fmt.Errorf("unsupported field type %T", field)
	}
	return nil
}
