// Package config loads configuration from files, env vars and flags, and
// validates it.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"syscall"

	"flatfetch/internal/fetcher"
	"flatfetch/internal/graph"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

// EnvPrefix prefixes environment overrides: FLATFETCH_DATABASE_HOST sets
// database.host.
const EnvPrefix = "FLATFETCH"

// stdin is swapped by tests.
var stdin io.Reader = os.Stdin

// Load loads configuration with the following precedence:
// 1. Explicit overrides (v.Set), used for secrets read from files or a prompt
// 2. Command line flags
// 3. Environment variables
// 4. Config file
// 5. Default values
//
// Config flags are defined on fs, which is then parsed with args. Callers
// may define their own flags on fs first; only dotted flag names are
// treated as configuration keys.
func Load(fs *pflag.FlagSet, args []string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	defineFlags(fs)
	if !fs.Parsed() {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
	}

	cfgPath, _ := fs.GetString("config")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("flatfetch")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/flatfetch/")
		v.AddConfigPath("$HOME/.flatfetch")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if cfgPath != "" {
			return nil, fmt.Errorf("failed to read config file %q: %w", cfgPath, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	bindChangedFlagsToViper(fs, v)
	if err := validateSingleStdinFileSource(v); err != nil {
		return nil, err
	}

	if v.GetString("database.dsn") == "" && v.GetString("database.dsn_file") != "" {
		dsn, err := readSecretFile(v.GetString("database.dsn_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database DSN file: %w", err)
		}
		v.Set("database.dsn", dsn)
	}
	if v.GetString("database.password") == "" && v.GetString("database.password_file") != "" {
		pwd, err := readSecretFile(v.GetString("database.password_file"))
		if err != nil {
			return nil, fmt.Errorf("failed to read database password file: %w", err)
		}
		v.Set("database.password", pwd)
	}
	if v.GetString("database.password") == "" && v.GetBool("database.password_prompt") {
		pwd, err := promptPassword()
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		v.Set("database.password", pwd)
	}

	var cfg Config
	if err := v.UnmarshalExact(
		&cfg,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				stringToStringSliceHookFunc(","),
				graph.NodeSpecHook(),
			),
		),
	); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// bindChangedFlagsToViper copies explicitly set configuration flags into
// viper, preserving precedence: flags > env > file > defaults.
func bindChangedFlagsToViper(fs *pflag.FlagSet, v *viper.Viper) {
	fs.Visit(func(f *pflag.Flag) {
		if !strings.Contains(f.Name, ".") {
			return
		}
		switch f.Value.Type() {
		case "string":
			val, _ := fs.GetString(f.Name)
			v.Set(f.Name, val)
		case "int":
			val, _ := fs.GetInt(f.Name)
			v.Set(f.Name, val)
		case "bool":
			val, _ := fs.GetBool(f.Name)
			v.Set(f.Name, val)
		case "float64":
			val, _ := fs.GetFloat64(f.Name)
			v.Set(f.Name, val)
		case "duration":
			val, _ := fs.GetDuration(f.Name)
			v.Set(f.Name, val)
		case "stringSlice":
			val, _ := fs.GetStringSlice(f.Name)
			v.Set(f.Name, val)
		default:
			v.Set(f.Name, f.Value.String())
		}
	})
}

// defineFlags defines the configuration flags on fs using canonical keys.
func defineFlags(fs *pflag.FlagSet) {
	if fs.Lookup("config") != nil {
		return
	}

	fs.String("database.driver", "", "Database driver (mysql, sqlite)")
	fs.String("database.dsn", "", "Complete DSN (user:pass@tcp(host:port)/db, or a sqlite file path)")
	fs.String("database.dsn_file", "", "Path to file containing database DSN (use @- for stdin)")
	fs.String("database.host", "", "Database host")
	fs.Int("database.port", 0, "Database port")
	fs.String("database.user", "", "Database user")
	fs.String("database.password", "", "Database password")
	fs.String("database.password_file", "", "Path to file containing database password (use @- for stdin)")
	fs.Bool("database.password_prompt", false, "Prompt for database password securely")
	fs.String("database.database", "", "Database name")
	fs.StringSlice("database.allowed_roles", nil, "Roles fetch.role may activate (comma-separated or repeated)")
	fs.String("database.tls.mode", "", "TLS mode (off, skip-verify, verify-ca, verify-full)")
	fs.String("database.tls.ca_file", "", "Path to CA certificate for server verification")
	fs.String("database.tls.cert_file", "", "Path to client certificate for mTLS")
	fs.String("database.tls.key_file", "", "Path to client private key for mTLS")
	fs.String("database.tls.server_name", "", "Override TLS server name for verification")
	fs.Int("database.pool.max_open", 0, "Maximum open database connections")
	fs.Int("database.pool.max_idle", 0, "Maximum idle connections in pool")
	fs.Duration("database.pool.max_lifetime", 0, "Connection max lifetime (e.g. 5m, 30s)")
	fs.Duration("database.connection_timeout", 0, "Max time to wait for database on startup (0 = fail immediately)")
	fs.Duration("database.connection_retry_interval", 0, "Initial interval between connection retries")

	fs.Int("fetch.batch_size", 0, "Maximum number of keys per lookup")
	fs.String("fetch.graphs_file", "", "File declaring additional fetch graphs")
	fs.String("fetch.graph", "", "Fetch graph to run")
	fs.String("fetch.entity", "", "Root entity (defaults to the graph type)")
	fs.StringSlice("fetch.ids", nil, "Root primary keys (comma-separated or repeated)")
	fs.Int("fetch.limit", 0, "Number of roots to load when no ids are given")
	fs.String("fetch.role", "", "Database role to run lookups under")

	fs.String("observability.service_name", "", "Service name for observability")
	fs.String("observability.service_version", "", "Service version for observability")
	fs.String("observability.environment", "", "Environment name (dev, staging, prod)")
	fs.Bool("observability.metrics_enabled", false, "Enable metrics collection")
	fs.Bool("observability.metrics_dump", false, "Print metrics in Prometheus text format after the run")
	fs.Bool("observability.tracing_enabled", false, "Enable distributed tracing")
	fs.Float64("observability.trace_sample_ratio", 0, "Trace sampling ratio from 0.0 to 1.0")
	fs.Bool("observability.sqlcommenter_enabled", false, "Inject trace context into SQL queries")
	fs.String("observability.logging.level", "", "Log level (debug, info, warn, error)")
	fs.String("observability.logging.format", "", "Log format (json, text)")
	fs.Bool("observability.logging.exports_enabled", false, "Enable OTLP log export")
	fs.String("observability.otlp.endpoint", "", "OTLP endpoint for all signals (e.g., localhost:4317)")
	fs.String("observability.otlp.protocol", "", "OTLP protocol for all signals (grpc, http/protobuf)")
	fs.Bool("observability.otlp.insecure", false, "Use insecure connection (no TLS)")
	fs.Duration("observability.otlp.timeout", 0, "OTLP export timeout")
	fs.String("observability.otlp.compression", "", "OTLP compression (none, gzip)")

	fs.StringP("config", "c", "", "Config file path")
}

// setDefaults sets default values (lowest precedence).
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", DriverMySQL)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.dsn_file", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 4000)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.password_file", "")
	v.SetDefault("database.password_prompt", false)
	v.SetDefault("database.database", "")
	v.SetDefault("database.allowed_roles", []string{})
	v.SetDefault("database.tls.mode", "")
	v.SetDefault("database.tls.ca_file", "")
	v.SetDefault("database.tls.ca_file_env", "")
	v.SetDefault("database.tls.cert_file", "")
	v.SetDefault("database.tls.cert_file_env", "")
	v.SetDefault("database.tls.key_file", "")
	v.SetDefault("database.tls.key_file_env", "")
	v.SetDefault("database.tls.server_name", "")
	v.SetDefault("database.pool.max_open", 10)
	v.SetDefault("database.pool.max_idle", 5)
	v.SetDefault("database.pool.max_lifetime", "30m")
	v.SetDefault("database.connection_timeout", "0s")
	v.SetDefault("database.connection_retry_interval", "2s")

	v.SetDefault("fetch.batch_size", fetcher.DefaultBatchSize)
	v.SetDefault("fetch.graphs_file", "")
	v.SetDefault("fetch.graph", "")
	v.SetDefault("fetch.entity", "")
	v.SetDefault("fetch.ids", []string{})
	v.SetDefault("fetch.limit", 10)
	v.SetDefault("fetch.role", "")

	v.SetDefault("observability.service_name", "flatfetch")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.metrics_enabled", false)
	v.SetDefault("observability.metrics_dump", false)
	v.SetDefault("observability.tracing_enabled", false)
	v.SetDefault("observability.trace_sample_ratio", 1.0)
	v.SetDefault("observability.sqlcommenter_enabled", false)
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "text")
	v.SetDefault("observability.logging.exports_enabled", false)
	v.SetDefault("observability.otlp.endpoint", "localhost:4317")
	v.SetDefault("observability.otlp.protocol", "grpc")
	v.SetDefault("observability.otlp.insecure", false)
	v.SetDefault("observability.otlp.tls_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_cert_file", "")
	v.SetDefault("observability.otlp.tls_client_key_file", "")
	v.SetDefault("observability.otlp.headers", map[string]string{})
	v.SetDefault("observability.otlp.timeout", "10s")
	v.SetDefault("observability.otlp.compression", "gzip")
	v.SetDefault("observability.otlp.retry_enabled", true)
	v.SetDefault("observability.otlp.retry_max_attempts", 5)

	v.SetDefault("naming.plural_overrides", map[string]string{})
	v.SetDefault("naming.table_overrides", map[string]string{})
}

// promptPassword prompts for a password without echoing to the terminal.
func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Enter database password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(bytePassword), nil
}

// readSecretFile reads a trimmed secret from path, or from stdin for "@-".
func readSecretFile(path string) (string, error) {
	var data []byte
	var err error
	if strings.TrimSpace(path) == "@-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func validateSingleStdinFileSource(v *viper.Viper) error {
	var configured []string
	for _, key := range []string{"database.dsn_file", "database.password_file"} {
		if strings.TrimSpace(v.GetString(key)) == "@-" {
			configured = append(configured, key)
		}
	}
	if len(configured) > 1 {
		return fmt.Errorf(
			"multiple stdin-backed file settings use @- (%s); only one @- source is allowed",
			strings.Join(configured, ", "),
		)
	}
	return nil
}

func stringToStringSliceHookFunc(sep string) mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if from.Kind() != reflect.String || to != reflect.TypeOf([]string{}) {
			return data, nil
		}
		raw := strings.TrimSpace(data.(string))
		if raw == "" {
			return []string{}, nil
		}
		parts := strings.Split(raw, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}

// LoadGraphs builds the graphs declared inline and in GraphsFile.
func (f *FetchConfig) LoadGraphs() ([]*graph.Graph, error) {
	graphs, err := graph.BuildAll(f.Graphs)
	if err != nil {
		return nil, err
	}
	if f.GraphsFile != "" {
		fromFile, err := graph.LoadFile(f.GraphsFile)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, fromFile...)
	}
	return graphs, nil
}
