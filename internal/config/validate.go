package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"

	"flatfetch/internal/graph"
)

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e ValidationError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %s (hint: %s)", e.Field, e.Message, e.Hint)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationWarning represents a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
	Hint    string
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationWarning
}

// HasErrors returns true if there are any validation errors.
func (r *ValidationResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Error returns the combined error messages.
func (r *ValidationResult) Error() string {
	if !r.HasErrors() {
		return ""
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func (r *ValidationResult) addError(field, message, hint string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message, Hint: hint})
}

func (r *ValidationResult) addWarning(field, message, hint string) {
	r.Warnings = append(r.Warnings, ValidationWarning{Field: field, Message: message, Hint: hint})
}

// Validate checks the configuration. Errors are fatal, warnings are not.
// The effective database name is written back to Database.Database.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{}
	c.Database.validate(result)
	c.Fetch.validate(&c.Database, result)
	c.Observability.validate(result)
	validateNaming(result, c.Naming.PluralOverrides, "naming.plural_overrides")
	validateNaming(result, c.Naming.TableOverrides, "naming.table_overrides")
	return result
}

func (d *DatabaseConfig) validate(result *ValidationResult) {
	d.validatePool(result)

	switch d.DriverName() {
	case DriverMySQL:
	case DriverSQLite:
		if strings.TrimSpace(d.ConnectionString) == "" {
			result.addError("database.dsn", "dsn is required for the sqlite driver",
				"set database.dsn to a database file path such as ./garage.db")
		}
		if d.Pool.MaxOpen > 1 && strings.Contains(d.ConnectionString, ":memory:") {
			result.addWarning("database.pool.max_open", "each pooled connection opens its own in-memory database",
				"set database.pool.max_open to 1")
		}
		d.Database = "main"
		return
	default:
		result.addError("database.driver", fmt.Sprintf("unsupported driver %q", d.Driver),
			"valid values are: mysql, sqlite")
		return
	}

	if d.ConnectionString == "" && (d.Port < 1 || d.Port > 65535) {
		result.addError("database.port", fmt.Sprintf("port %d is out of valid range (1-65535)", d.Port), "")
	}

	d.TLS.validate(result)

	name, err := d.EffectiveDatabaseName()
	if err != nil {
		field := "database.database"
		if strings.HasPrefix(err.Error(), "database.dsn") {
			field = "database.dsn"
		}
		result.addError(field, err.Error(), "set database.database or include a /database in database.dsn")
		return
	}
	d.Database = name
}

func (d *DatabaseConfig) validatePool(result *ValidationResult) {
	if d.Pool.MaxOpen < 0 {
		result.addError("database.pool.max_open", "max_open cannot be negative", "")
	}
	if d.Pool.MaxIdle < 0 {
		result.addError("database.pool.max_idle", "max_idle cannot be negative", "")
	}
	if d.Pool.MaxIdle > d.Pool.MaxOpen && d.Pool.MaxOpen > 0 {
		result.addWarning("database.pool.max_idle", "max_idle is greater than max_open",
			"idle connections will be limited to max_open")
	}

	if d.ConnectionTimeout < 0 {
		result.addError("database.connection_timeout", "connection_timeout cannot be negative", "")
	}
	if d.ConnectionRetryInterval < 0 {
		result.addError("database.connection_retry_interval", "connection_retry_interval cannot be negative", "")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval == 0 {
		result.addError("database.connection_retry_interval",
			"connection_retry_interval must be greater than 0 when connection_timeout is set",
			"set a retry interval such as 2s, or set connection_timeout to 0 to disable retries")
	}
	if d.ConnectionTimeout > 0 && d.ConnectionRetryInterval > d.ConnectionTimeout {
		result.addWarning("database.connection_retry_interval",
			"connection_retry_interval is greater than connection_timeout",
			"only one connection attempt will be made")
	}
}

func (t *DatabaseTLSConfig) validate(result *ValidationResult) {
	validModes := map[string]bool{"": true, "off": true, "skip-verify": true, "verify-ca": true, "verify-full": true}
	if !validModes[t.Mode] {
		result.addError("database.tls.mode", fmt.Sprintf("invalid TLS mode %q", t.Mode),
			"valid values are: off, skip-verify, verify-ca, verify-full")
	}
	if (t.Mode == "verify-ca" || t.Mode == "verify-full") && resolvePath(t.CAFile, t.CAFileEnv) == "" {
		result.addError("database.tls.ca_file", "CA file is required for verify-ca and verify-full modes",
			"set ca_file or ca_file_env to specify the CA certificate")
	}
	certFile := resolvePath(t.CertFile, t.CertFileEnv)
	keyFile := resolvePath(t.KeyFile, t.KeyFileEnv)
	if (certFile == "") != (keyFile == "") {
		result.addError("database.tls.cert_file",
			"both cert_file and key_file must be specified for client certificate authentication",
			"provide both cert_file and key_file, or neither")
	}
	if t.Mode == "skip-verify" {
		result.addWarning("database.tls.mode", "skip-verify mode does not verify server certificates",
			"use verify-ca or verify-full in production")
	}
}

func (f *FetchConfig) validate(db *DatabaseConfig, result *ValidationResult) {
	if f.BatchSize <= 0 {
		result.addError("fetch.batch_size", fmt.Sprintf("batch size %d must be positive", f.BatchSize), "")
	}
	if f.Limit < 0 {
		result.addError("fetch.limit", "limit cannot be negative", "")
	}
	if len(f.IDs) > 0 && f.Limit > 0 && f.Limit < len(f.IDs) {
		result.addWarning("fetch.limit", "limit is ignored when ids are given", "")
	}

	seen := make(map[string]bool, len(f.Graphs))
	for i, spec := range f.Graphs {
		field := fmt.Sprintf("fetch.graphs[%d]", i)
		if _, err := spec.Build(); err != nil {
			result.addError(field, err.Error(), "")
			continue
		}
		if seen[spec.Name] {
			result.addError(field, fmt.Sprintf("graph %q is declared twice", spec.Name), "")
		}
		seen[spec.Name] = true
	}
	if f.GraphsFile != "" {
		if _, err := graph.LoadFile(f.GraphsFile); err != nil {
			result.addError("fetch.graphs_file", err.Error(), "")
		}
	}

	if f.Role != "" && db.DriverName() != DriverMySQL {
		result.addError("fetch.role", "database roles require the mysql driver", "")
	}
	if f.Role != "" && len(db.AllowedRoles) > 0 && !slices.Contains(db.AllowedRoles, f.Role) {
		result.addError("fetch.role", fmt.Sprintf("role %q is not in database.allowed_roles", f.Role), "")
	}
}

func (o *ObservabilityConfig) validate(result *ValidationResult) {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[o.Logging.Level] {
		result.addError("observability.logging.level", fmt.Sprintf("invalid log level %q", o.Logging.Level),
			"valid values are: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[o.Logging.Format] {
		result.addError("observability.logging.format", fmt.Sprintf("invalid log format %q", o.Logging.Format),
			"valid values are: json, text")
	}
	if o.TraceSampleRatio < 0 || o.TraceSampleRatio > 1 {
		result.addError("observability.trace_sample_ratio",
			fmt.Sprintf("sample ratio %v is outside 0.0-1.0", o.TraceSampleRatio), "")
	}
	if o.MetricsDump && !o.MetricsEnabled {
		result.addWarning("observability.metrics_dump", "metrics_dump has no effect while metrics are disabled",
			"set observability.metrics_enabled")
	}

	o.OTLP.validate("observability.otlp", result)
	if o.Traces != nil {
		o.Traces.validate("observability.traces", result)
	}
	if o.Logs != nil {
		o.Logs.validate("observability.logs", result)
	}
}

func (o *OTLPConfig) validate(prefix string, result *ValidationResult) {
	validProtocols := map[string]bool{"": true, "grpc": true, "http/protobuf": true}
	if !validProtocols[o.Protocol] {
		result.addError(prefix+".protocol", fmt.Sprintf("invalid OTLP protocol %q", o.Protocol),
			"valid values are: grpc, http/protobuf")
	}
	if o.Protocol == "http/protobuf" && !validOTLPEndpoint(o.Endpoint) {
		result.addError(prefix+".endpoint", fmt.Sprintf("invalid OTLP endpoint %q for http/protobuf", o.Endpoint),
			"use host:port or a full URL")
	}
	validCompressions := map[string]bool{"": true, "none": true, "gzip": true}
	if !validCompressions[o.Compression] {
		result.addError(prefix+".compression", fmt.Sprintf("invalid OTLP compression %q", o.Compression),
			"valid values are: none, gzip")
	}
	if o.RetryMaxAttempts < 0 {
		result.addError(prefix+".retry_max_attempts", "retry_max_attempts cannot be negative", "")
	}
}

func validOTLPEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	if strings.Contains(endpoint, "://") {
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return parsed.Host != ""
	}
	_, _, err := net.SplitHostPort(endpoint)
	return err == nil
}

func validateNaming(result *ValidationResult, overrides map[string]string, field string) {
	for key, value := range overrides {
		if strings.TrimSpace(key) == "" {
			result.addError(field, "override key cannot be empty", "")
			continue
		}
		if strings.TrimSpace(value) == "" {
			result.addError(field, fmt.Sprintf("override for %q cannot be empty", key), "")
		}
	}
}
