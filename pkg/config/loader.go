package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
)

// EnvPrefix prefixes environment overrides, e.g. SPACEX_TAP_LOADER_BATCH_SIZE
const EnvPrefix = "SPACEX_TAP"

// legacyKeys are the flat connection keys of config_snowflake.json
var legacyKeys = []string{"user", "password", "account", "warehouse", "database", "schema", "role"}

// Load reads a JSON or YAML file, applies ${VAR} substitution and
// SPACEX_TAP_* environment overrides, then validates the result. An empty
// path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the operator
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file").
				WithDetail("path", path)
		}
		v.SetConfigType(configType(path))
		if err := v.ReadConfig(bytes.NewReader([]byte(substituteEnvVars(string(data))))); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse config file").
				WithDetail("path", path)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := Default()

	// Flat keys sit at the top level, outside any section.
	legacy := map[string]string{}
	for _, key := range legacyKeys {
		if s, ok := v.Get(key).(string); ok && s != "" {
			legacy[key] = s
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode config")
	}
	applyLegacy(&cfg.Destination, legacy)
	return cfg, nil
}

func applyLegacy(d *DestinationConfig, legacy map[string]string) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = legacy[key]
		}
	}
	fill(&d.User, "user")
	fill(&d.Password, "password")
	fill(&d.Account, "account")
	fill(&d.Warehouse, "warehouse")
	fill(&d.Database, "database")
	fill(&d.Schema, "schema")
	fill(&d.Role, "role")
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("base_url", d.BaseURL)

	v.SetDefault("destination.driver", d.Destination.Driver)
	for _, key := range []string{"user", "password", "account", "warehouse", "database", "schema",
		"role", "host", "dsn", "project", "dataset", "credentials_file"} {
		v.SetDefault("destination."+key, "")
	}
	v.SetDefault("destination.port", 0)
	v.SetDefault("destination.connect_timeout", d.Destination.ConnectTimeout)
	v.SetDefault("destination.statement_timeout", d.Destination.StatementTimeout)

	v.SetDefault("loader.batch_size", d.Loader.BatchSize)
	v.SetDefault("loader.table_prefix", d.Loader.TablePrefix)
	v.SetDefault("loader.error_table", d.Loader.ErrorTable)
	v.SetDefault("loader.null_numeric_sentinel", d.Loader.NullNumericSentinel)

	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("http.max_attempts", d.HTTP.MaxAttempts)
	v.SetDefault("http.initial_backoff", d.HTTP.InitialBackoff)
	v.SetDefault("http.max_backoff", d.HTTP.MaxBackoff)
	v.SetDefault("http.rate_limit_per_sec", d.HTTP.RateLimitPerSec)
	v.SetDefault("http.user_agent", d.HTTP.UserAgent)

	v.SetDefault("orchestrator.group_delay", d.Orchestrator.GroupDelay)
	v.SetDefault("orchestrator.schedule", d.Orchestrator.Schedule)

	v.SetDefault("singer.output", d.Singer.Output)
	v.SetDefault("singer.path", d.Singer.Path)
	v.SetDefault("singer.state_file", d.Singer.StateFile)
	v.SetDefault("singer.brokers", d.Singer.Brokers)
	v.SetDefault("singer.topic", d.Singer.Topic)

	v.SetDefault("archive.enabled", d.Archive.Enabled)
	v.SetDefault("archive.backend", d.Archive.Backend)
	v.SetDefault("archive.path", d.Archive.Path)
	v.SetDefault("archive.bucket", d.Archive.Bucket)
	v.SetDefault("archive.prefix", d.Archive.Prefix)
	v.SetDefault("archive.region", d.Archive.Region)
	v.SetDefault("archive.compression", d.Archive.Compression)
	v.SetDefault("archive.credentials_file", d.Archive.CredentialsFile)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.encoding", d.Logging.Encoding)
	v.SetDefault("logging.development", d.Logging.Development)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values.
// Substituted values are not expanded again.
func substituteEnvVars(content string) string {
	var b strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		b.WriteString(content[:start])
		b.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	b.WriteString(content)
	return b.String()
}
