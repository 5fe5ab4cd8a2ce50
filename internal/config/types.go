package config

import (
	"time"

	"flatfetch/internal/graph"
	"flatfetch/internal/naming"
)

// Config holds the application configuration.
type Config struct {
	Database      DatabaseConfig      `mapstructure:"database"`
	Fetch         FetchConfig         `mapstructure:"fetch"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Naming        naming.Config       `mapstructure:"naming"`
}

// FetchConfig controls graph fetches run by the command line tool.
type FetchConfig struct {
	// BatchSize bounds the number of keys per lookup.
	BatchSize int `mapstructure:"batch_size"`
	// GraphsFile names a YAML/JSON/TOML file with a top level "graphs" list.
	GraphsFile string `mapstructure:"graphs_file"`
	// Graphs declares fetch graphs inline, in the same form as GraphsFile.
	Graphs []graph.Spec `mapstructure:"graphs"`

	// Graph is the graph to run.
	Graph string `mapstructure:"graph"`
	// Entity is the root entity; it defaults to the graph's declared type.
	Entity string `mapstructure:"entity"`
	// IDs selects roots by primary key. Empty loads up to Limit roots.
	IDs   []string `mapstructure:"ids"`
	Limit int      `mapstructure:"limit"`
	// Role runs lookups under a database role (SET ROLE).
	Role string `mapstructure:"role"`
}

// PoolConfig holds connection pool parameters.
type PoolConfig struct {
	MaxOpen     int           `mapstructure:"max_open"`
	MaxIdle     int           `mapstructure:"max_idle"`
	MaxLifetime time.Duration `mapstructure:"max_lifetime"`
}

// DatabaseTLSConfig holds TLS settings for database connections.
type DatabaseTLSConfig struct {
	// Mode is one of off, skip-verify, verify-ca, verify-full. Empty leaves
	// the DSN untouched.
	Mode string `mapstructure:"mode"`

	CAFile string `mapstructure:"ca_file"`
	// CAFileEnv names an environment variable holding the CA file path.
	CAFileEnv string `mapstructure:"ca_file_env"`

	CertFile    string `mapstructure:"cert_file"`
	CertFileEnv string `mapstructure:"cert_file_env"`
	KeyFile     string `mapstructure:"key_file"`
	KeyFileEnv  string `mapstructure:"key_file_env"`

	// ServerName overrides the name verified in verify-full mode.
	ServerName string `mapstructure:"server_name"`
}

// Database drivers.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// DatabaseConfig holds database connection parameters.
type DatabaseConfig struct {
	// Driver is mysql (MySQL or TiDB) or sqlite. For sqlite the DSN is the
	// database file path or a modernc.org/sqlite URI, and the discrete
	// connection fields are ignored.
	Driver string `mapstructure:"driver"`

	// ConnectionString is a complete go-sql-driver/mysql DSN. When set it
	// takes precedence over the discrete fields.
	ConnectionString string `mapstructure:"dsn"`
	// ConnectionStringFile holds the DSN; "@-" reads it from stdin.
	ConnectionStringFile string `mapstructure:"dsn_file"`

	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PasswordFile   string `mapstructure:"password_file"`
	PasswordPrompt bool   `mapstructure:"password_prompt"`
	Database       string `mapstructure:"database"`

	// AllowedRoles restricts the roles fetch.role may name.
	AllowedRoles []string `mapstructure:"allowed_roles"`

	TLS  DatabaseTLSConfig `mapstructure:"tls"`
	Pool PoolConfig        `mapstructure:"pool"`

	// ConnectionTimeout is the max time to wait for the database on startup.
	ConnectionTimeout time.Duration `mapstructure:"connection_timeout"`
	// ConnectionRetryInterval is the initial interval between connection retries.
	ConnectionRetryInterval time.Duration `mapstructure:"connection_retry_interval"`
}

// LoggingConfig holds logging parameters.
type LoggingConfig struct {
	Level          string `mapstructure:"level"`           // debug, info, warn, error
	Format         string `mapstructure:"format"`          // json, text
	ExportsEnabled bool   `mapstructure:"exports_enabled"` // OTLP log export
}

// ObservabilityConfig holds observability parameters.
type ObservabilityConfig struct {
	ServiceName         string        `mapstructure:"service_name"`
	ServiceVersion      string        `mapstructure:"service_version"`
	Environment         string        `mapstructure:"environment"`
	MetricsEnabled      bool          `mapstructure:"metrics_enabled"`
	MetricsDump         bool          `mapstructure:"metrics_dump"` // print metrics after the run
	TracingEnabled      bool          `mapstructure:"tracing_enabled"`
	TraceSampleRatio    float64       `mapstructure:"trace_sample_ratio"`
	SQLCommenterEnabled bool          `mapstructure:"sqlcommenter_enabled"`
	Logging             LoggingConfig `mapstructure:"logging"`

	// OTLP holds exporter defaults for every signal.
	OTLP OTLPConfig `mapstructure:"otlp"`

	// Signal-specific overrides.
	Traces *OTLPConfig `mapstructure:"traces,omitempty"`
	Logs   *OTLPConfig `mapstructure:"logs,omitempty"`
}

// OTLPConfig holds OTLP exporter configuration.
type OTLPConfig struct {
	Endpoint          string            `mapstructure:"endpoint"`
	Protocol          string            `mapstructure:"protocol"` // grpc, http/protobuf
	Insecure          bool              `mapstructure:"insecure"`
	TLSCertFile       string            `mapstructure:"tls_cert_file"`
	TLSClientCertFile string            `mapstructure:"tls_client_cert_file"`
	TLSClientKeyFile  string            `mapstructure:"tls_client_key_file"`
	Headers           map[string]string `mapstructure:"headers"`
	Timeout           time.Duration     `mapstructure:"timeout"`
	Compression       string            `mapstructure:"compression"` // none, gzip
	RetryEnabled      bool              `mapstructure:"retry_enabled"`
	RetryMaxAttempts  int               `mapstructure:"retry_max_attempts"`
}

// GetTracesConfig returns the effective OTLP config for traces.
func (c *ObservabilityConfig) GetTracesConfig() OTLPConfig {
	if c.Traces != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Traces)
	}
	return c.OTLP
}

// GetLogsConfig returns the effective OTLP config for logs.
func (c *ObservabilityConfig) GetLogsConfig() OTLPConfig {
	if c.Logs != nil {
		return mergeOTLPConfigs(c.OTLP, *c.Logs)
	}
	return c.OTLP
}

// mergeOTLPConfigs lays the non-zero fields of override over base. Insecure
// always comes from the override, since false cannot be told apart from
// unset.
func mergeOTLPConfigs(base OTLPConfig, override OTLPConfig) OTLPConfig {
	result := base
	if override.Endpoint != "" {
		result.Endpoint = override.Endpoint
	}
	if override.Protocol != "" {
		result.Protocol = override.Protocol
	}
	result.Insecure = override.Insecure
	if override.TLSCertFile != "" {
		result.TLSCertFile = override.TLSCertFile
	}
	if override.TLSClientCertFile != "" {
		result.TLSClientCertFile = override.TLSClientCertFile
	}
	if override.TLSClientKeyFile != "" {
		result.TLSClientKeyFile = override.TLSClientKeyFile
	}
	if override.Headers != nil {
		result.Headers = make(map[string]string, len(base.Headers)+len(override.Headers))
		for k, v := range base.Headers {
			result.Headers[k] = v
		}
		for k, v := range override.Headers {
			result.Headers[k] = v
		}
	}
	if override.Timeout != 0 {
		result.Timeout = override.Timeout
	}
	if override.Compression != "" {
		result.Compression = override.Compression
	}
	if override.RetryMaxAttempts != 0 {
		result.RetryEnabled = override.RetryEnabled
		result.RetryMaxAttempts = override.RetryMaxAttempts
	}
	return result
}
