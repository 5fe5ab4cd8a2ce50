package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// tlsConfigName is the name custom TLS configs are registered under with
// the MySQL driver.
const tlsConfigName = "flatfetch-custom"

// MySQLConfig returns the driver configuration described by d. A DSN is
// parsed as is; otherwise the discrete fields are used. Times are always
// parsed into time.Time in UTC unless the DSN sets loc.
func (d *DatabaseConfig) MySQLConfig() (*mysql.Config, error) {
	var cfg *mysql.Config
	if dsn := strings.TrimSpace(d.ConnectionString); dsn != "" {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("database.dsn is invalid: %w", err)
		}
		cfg = parsed
		if d.Database != "" && cfg.DBName == "" {
			cfg.DBName = d.Database
		}
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		cfg.DBName = d.Database
		cfg.Loc = time.UTC
	}
	cfg.ParseTime = true
	if param := d.effectiveTLSParam(); param != "" && cfg.TLSConfig == "" {
		cfg.TLSConfig = param
	}
	return cfg, nil
}

// DriverName returns the database/sql driver name, defaulting to mysql.
func (d *DatabaseConfig) DriverName() string {
	if d.Driver == "" {
		return DriverMySQL
	}
	return d.Driver
}

// DSN returns the data source name for DriverName.
func (d *DatabaseConfig) DSN() (string, error) {
	if d.DriverName() == DriverSQLite {
		dsn := strings.TrimSpace(d.ConnectionString)
		if dsn == "" {
			return "", fmt.Errorf("database.dsn is required for the sqlite driver")
		}
		return dsn, nil
	}
	cfg, err := d.MySQLConfig()
	if err != nil {
		return "", err
	}
	return cfg.FormatDSN(), nil
}

// EffectiveDatabaseName returns the database the connection targets,
// rejecting a database.database that contradicts the DSN. SQLite always
// targets its main schema.
func (d *DatabaseConfig) EffectiveDatabaseName() (string, error) {
	if d.DriverName() == DriverSQLite {
		return "main", nil
	}
	configured := strings.TrimSpace(d.Database)
	dsnDatabase := ""
	if dsn := strings.TrimSpace(d.ConnectionString); dsn != "" {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		dsnDatabase = strings.TrimSpace(parsed.DBName)
	}
	switch {
	case configured != "" && dsnDatabase != "" && configured != dsnDatabase:
		return "", fmt.Errorf("database mismatch: database.database=%q but database.dsn targets %q", configured, dsnDatabase)
	case configured != "":
		return configured, nil
	case dsnDatabase != "":
		return dsnDatabase, nil
	default:
		return "", fmt.Errorf("no database configured: set database.database or include /<database> in database.dsn")
	}
}

func (d *DatabaseConfig) effectiveTLSParam() string {
	switch mode := d.TLS.Mode; mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return mode
	}
}

// RegisterTLS registers the custom TLS configuration with the MySQL driver.
// It must run before the connection is opened; modes without a custom
// configuration are a no-op.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.DriverName() != DriverMySQL || (d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full") {
		return nil
	}
	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if caFile := resolvePath(d.TLS.CAFile, d.TLS.CAFileEnv); caFile != "" {
		caCert, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", caFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", caFile)
		}
		tlsCfg.RootCAs = pool
	}

	certFile := resolvePath(d.TLS.CertFile, d.TLS.CertFileEnv)
	keyFile := resolvePath(d.TLS.KeyFile, d.TLS.KeyFileEnv)
	switch {
	case certFile != "" && keyFile != "":
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	case certFile != "" || keyFile != "":
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" && d.TLS.ServerName != "" {
		tlsCfg.ServerName = d.TLS.ServerName
	}
	return tlsCfg, nil
}

// resolvePath prefers the path held by the environment variable env.
func resolvePath(path, env string) string {
	if env != "" {
		if fromEnv := os.Getenv(env); fromEnv != "" {
			return fromEnv
		}
	}
	return path
}
