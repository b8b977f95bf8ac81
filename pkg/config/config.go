// Package config defines the tap configuration, its defaults and validation.
//
// The configuration is organized into sections:
//   - Destination: warehouse driver and credentials
//   - Loader: batch size, table naming, error table, null policy
//   - HTTP: source API timeouts, retry and rate limiting
//   - Orchestrator: delay between fetcher groups
//   - Singer, Archive: message output and raw response landing
//   - Logging, Metrics, Tracing: observability
//
// Example usage:
//
//	cfg, err := config.Load("config_snowflake.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
)

// tableIdent matches the table names the warehouse loader accepts
var tableIdent = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

// DefaultBaseURL is the public SpaceX v4 API
const DefaultBaseURL = "https://api.spacexdata.com/v4/"

// Config is the complete tap configuration
type Config struct {
	// BaseURL is the root of the source API, with a trailing slash
	BaseURL string `mapstructure:"base_url" yaml:"base_url" json:"base_url"`

	Destination  DestinationConfig  `mapstructure:"destination" yaml:"destination" json:"destination"`
	Loader       LoaderConfig       `mapstructure:"loader" yaml:"loader" json:"loader"`
	HTTP         HTTPConfig         `mapstructure:"http" yaml:"http" json:"http"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator" json:"orchestrator"`
	Singer       SingerConfig       `mapstructure:"singer" yaml:"singer" json:"singer"`
	Archive      ArchiveConfig      `mapstructure:"archive" yaml:"archive" json:"archive"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging" json:"logging"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	Tracing      TracingConfig      `mapstructure:"tracing" yaml:"tracing" json:"tracing"`
}

// DestinationConfig holds warehouse connection settings
type DestinationConfig struct {
	// Driver is one of snowflake, postgres, mysql, sqlite, bigquery
	Driver    string `mapstructure:"driver" yaml:"driver" json:"driver"`
	User      string `mapstructure:"user" yaml:"user" json:"user"`
	Password  string `mapstructure:"password" yaml:"password" json:"-"`
	Account   string `mapstructure:"account" yaml:"account" json:"account"`
	Warehouse string `mapstructure:"warehouse" yaml:"warehouse" json:"warehouse"`
	Database  string `mapstructure:"database" yaml:"database" json:"database"`
	Schema    string `mapstructure:"schema" yaml:"schema" json:"schema"`
	Role      string `mapstructure:"role" yaml:"role" json:"role"`
	Host      string `mapstructure:"host" yaml:"host" json:"host"`
	Port      int    `mapstructure:"port" yaml:"port" json:"port"`
	// DSN overrides the individual fields for postgres, mysql and sqlite
	DSN string `mapstructure:"dsn" yaml:"dsn" json:"-"`
	// Project, Dataset and CredentialsFile configure BigQuery
	Project         string `mapstructure:"project" yaml:"project" json:"project"`
	Dataset         string `mapstructure:"dataset" yaml:"dataset" json:"dataset"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file" json:"credentials_file"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" json:"connect_timeout"`
	// StatementTimeout bounds each truncate, insert and error-table write
	StatementTimeout time.Duration `mapstructure:"statement_timeout" yaml:"statement_timeout" json:"statement_timeout"`
}

// LoaderConfig controls buffering and table naming
type LoaderConfig struct {
	BatchSize   int    `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size"`
	TablePrefix string `mapstructure:"table_prefix" yaml:"table_prefix" json:"table_prefix"`
	ErrorTable  string `mapstructure:"error_table" yaml:"error_table" json:"error_table"`
	// NullNumericSentinel writes -999999999 for missing numeric values
	NullNumericSentinel bool `mapstructure:"null_numeric_sentinel" yaml:"null_numeric_sentinel" json:"null_numeric_sentinel"`
}

// HTTPConfig controls calls to the source API
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff" yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff" yaml:"max_backoff" json:"max_backoff"`
	// RateLimitPerSec limits requests per second (0 = unlimited)
	RateLimitPerSec float64 `mapstructure:"rate_limit_per_sec" yaml:"rate_limit_per_sec" json:"rate_limit_per_sec"`
	UserAgent       string  `mapstructure:"user_agent" yaml:"user_agent" json:"user_agent"`
}

// OrchestratorConfig controls group sequencing
type OrchestratorConfig struct {
	GroupDelay time.Duration `mapstructure:"group_delay" yaml:"group_delay" json:"group_delay"`
	// Schedule is an optional cron expression for repeated runs
	Schedule string `mapstructure:"schedule" yaml:"schedule" json:"schedule"`
}

// SingerConfig controls where SCHEMA, RECORD and STATE messages go
type SingerConfig struct {
	// Output is one of stdout, file, kafka, none
	Output    string   `mapstructure:"output" yaml:"output" json:"output"`
	Path      string   `mapstructure:"path" yaml:"path" json:"path"`
	StateFile string   `mapstructure:"state_file" yaml:"state_file" json:"state_file"`
	Brokers   []string `mapstructure:"brokers" yaml:"brokers" json:"brokers"`
	Topic     string   `mapstructure:"topic" yaml:"topic" json:"topic"`
}

// ArchiveConfig controls landing of raw API responses
type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	// Backend is one of local, s3, gcs
	Backend string `mapstructure:"backend" yaml:"backend" json:"backend"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
	Bucket  string `mapstructure:"bucket" yaml:"bucket" json:"bucket"`
	Prefix  string `mapstructure:"prefix" yaml:"prefix" json:"prefix"`
	Region  string `mapstructure:"region" yaml:"region" json:"region"`
	// Compression is one of none, gzip, zstd, lz4
	Compression     string `mapstructure:"compression" yaml:"compression" json:"compression"`
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file" json:"credentials_file"`
}

// LoggingConfig mirrors logger.Config
type LoggingConfig struct {
	Level       string `mapstructure:"level" yaml:"level" json:"level"`
	Encoding    string `mapstructure:"encoding" yaml:"encoding" json:"encoding"`
	Development bool   `mapstructure:"development" yaml:"development" json:"development"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr" json:"addr"`
}

// TracingConfig controls OpenTelemetry tracing
type TracingConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate" json:"sample_rate"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	return &Config{
		BaseURL: DefaultBaseURL,
		Destination: DestinationConfig{
			Driver:           "snowflake",
			ConnectTimeout:   30 * time.Second,
			StatementTimeout: 5 * time.Minute,
		},
		Loader: LoaderConfig{
			BatchSize:           1000,
			TablePrefix:         "STG_SPACEX_DATA_",
			ErrorTable:          "STG_SPACEX_DATA_LOAD_ERRORS",
			NullNumericSentinel: true,
		},
		HTTP: HTTPConfig{
			Timeout:        30 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     60 * time.Second,
			UserAgent:      "spacex-tap",
		},
		Orchestrator: OrchestratorConfig{
			GroupDelay: 5 * time.Second,
		},
		Singer: SingerConfig{
			Output:    "stdout",
			StateFile: "state.json",
		},
		Archive: ArchiveConfig{
			Backend:     "local",
			Path:        "archive",
			Compression: "gzip",
		},
		Logging: LoggingConfig{
			Level:    "info",
			Encoding: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9090",
		},
		Tracing: TracingConfig{
			SampleRate: 1.0,
		},
	}
}

// Validate checks required fields and value ranges. The returned error is
// of type config and names every problem found.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.BaseURL == "" {
		add("base_url is required")
	}
	for _, key := range c.Destination.missingKeys() {
		add("destination.%s is required for driver %s", key, c.Destination.Driver)
	}
	if c.Loader.BatchSize < 1 {
		add("loader.batch_size must be positive")
	}
	if c.Loader.ErrorTable == "" {
		add("loader.error_table is required")
	} else if !tableIdent.MatchString(c.Loader.ErrorTable) {
		add("loader.error_table %q is not a valid table name", c.Loader.ErrorTable)
	}
	if !tableIdent.MatchString(c.Loader.TableName("x")) {
		add("loader.table_prefix %q does not form valid table names", c.Loader.TablePrefix)
	}
	if c.HTTP.Timeout < 0 {
		add("http.timeout cannot be negative")
	}
	if c.HTTP.MaxAttempts < 1 {
		add("http.max_attempts must be at least 1")
	}
	if c.HTTP.RateLimitPerSec < 0 {
		add("http.rate_limit_per_sec cannot be negative")
	}
	if c.Orchestrator.GroupDelay < 0 {
		add("orchestrator.group_delay cannot be negative")
	}
	if !oneOf(c.Singer.Output, "stdout", "file", "kafka", "none") {
		add("singer.output must be one of stdout, file, kafka, none")
	}
	if c.Singer.Output == "file" && c.Singer.Path == "" {
		add("singer.path is required for file output")
	}
	if c.Singer.Output == "kafka" && (len(c.Singer.Brokers) == 0 || c.Singer.Topic == "") {
		add("singer.brokers and singer.topic are required for kafka output")
	}
	if c.Archive.Enabled {
		if !oneOf(c.Archive.Backend, "local", "s3", "gcs") {
			add("archive.backend must be one of local, s3, gcs")
		}
		if c.Archive.Backend != "local" && c.Archive.Bucket == "" {
			add("archive.bucket is required for %s", c.Archive.Backend)
		}
		if !oneOf(c.Archive.Compression, "", "none", "gzip", "zstd", "lz4") {
			add("archive.compression must be one of none, gzip, zstd, lz4")
		}
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrorTypeConfig, strings.Join(problems, "; ")).
			WithDetail("problems", problems)
	}
	return nil
}

// missingKeys lists the required connection fields left empty
func (d *DestinationConfig) missingKeys() []string {
	var required map[string]string
	switch d.Driver {
	case "snowflake":
		required = map[string]string{
			"user": d.User, "password": d.Password, "account": d.Account,
			"warehouse": d.Warehouse, "database": d.Database, "schema": d.Schema,
		}
	case "postgres", "mysql":
		if d.DSN != "" {
			return nil
		}
		required = map[string]string{"user": d.User, "host": d.Host, "database": d.Database}
	case "sqlite":
		required = map[string]string{"dsn": d.DSN}
	case "bigquery":
		required = map[string]string{"project": d.Project, "dataset": d.Dataset}
	default:
		return []string{"driver"}
	}

	var missing []string
	for _, key := range []string{"driver", "user", "password", "account", "warehouse", "database", "schema", "host", "dsn", "project", "dataset"} {
		if v, ok := required[key]; ok && v == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// TableName returns the destination table for an entity
func (l *LoaderConfig) TableName(entity string) string {
	return l.TablePrefix + strings.ToUpper(entity)
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}
