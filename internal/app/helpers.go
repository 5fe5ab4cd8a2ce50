package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"flatfetch/internal/config"
	"flatfetch/internal/dbexec"
	"flatfetch/internal/fetcher"
	"flatfetch/internal/garage"
	"flatfetch/internal/graph"
	"flatfetch/internal/logging"
	"flatfetch/internal/naming"
	"flatfetch/internal/observability"
	"flatfetch/internal/schema"
	"flatfetch/internal/session"
	"flatfetch/internal/sqlstore"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	_ "modernc.org/sqlite"
)

// InitLogger builds the process logger, teeing records to an OTLP log
// exporter when log exports are enabled.
func InitLogger(cfg *config.Config) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Observability.Logging.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.GetLogsConfig()
	logger.Info("initializing OpenTelemetry logging",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observabilityConfig(cfg, logsConfig))
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	return logger, loggerProvider, nil
}

func observabilityConfig(cfg *config.Config, otlp config.OTLPConfig) observability.Config {
	return observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		Environment:      cfg.Observability.Environment,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig: observability.OTLPExporterConfig{
			Endpoint:          otlp.Endpoint,
			Protocol:          otlp.Protocol,
			Insecure:          otlp.Insecure,
			TLSCertFile:       otlp.TLSCertFile,
			TLSClientCertFile: otlp.TLSClientCertFile,
			TLSClientKeyFile:  otlp.TLSClientKeyFile,
			Headers:           otlp.Headers,
			Timeout:           otlp.Timeout,
			Compression:       otlp.Compression,
			RetryEnabled:      otlp.RetryEnabled,
			RetryMaxAttempts:  otlp.RetryMaxAttempts,
		},
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.FetchMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}

	logger.Info("initializing OpenTelemetry metrics",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("service_version", cfg.Observability.ServiceVersion),
	)

	meterProvider, err := observability.InitMeterProvider(observabilityConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, err
	}

	fetchMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, err
	}
	return meterProvider, fetchMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	logger.Info("initializing OpenTelemetry tracing",
		slog.String("service_name", cfg.Observability.ServiceName),
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)

	return observability.InitTracerProvider(observabilityConfig(cfg, tracesConfig))
}

// sqlOpen is swapped by tests.
var sqlOpen = sql.Open

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	dsn, err := cfg.Database.DSN()
	if err != nil {
		return nil, nil, err
	}

	driver := cfg.Database.DriverName()
	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		db, err := sqlOpen(driver, dsn)
		return db, nil, err
	}

	system := dbSystem(driver)
	opts := []otelsql.Option{
		otelsql.WithAttributes(system),
	}
	if cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{
			DisableErrSkip: true,
		}))
	}
	switch {
	case cfg.Observability.SQLCommenterEnabled && cfg.Observability.TracingEnabled:
		opts = append(opts, otelsql.WithSQLCommenter(true))
		logger.Info("SQLCommenter enabled - trace context will be injected into SQL queries")
	case cfg.Observability.SQLCommenterEnabled:
		logger.Warn("SQLCommenter requires tracing to be enabled - skipping SQLCommenter")
	}

	db, err := otelsql.Open(driver, dsn, opts...)
	if err != nil {
		return nil, nil, err
	}

	var dbStatsReg interface{ Unregister() error }
	if cfg.Observability.MetricsEnabled {
		dbStatsReg, err = otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(system))
		if err != nil {
			logger.Warn("failed to register DB stats metrics", slog.String("error", err.Error()))
		}
	}

	logger.Info("database instrumentation enabled",
		slog.Bool("metrics", cfg.Observability.MetricsEnabled),
		slog.Bool("tracing", cfg.Observability.TracingEnabled),
	)
	return db, dbStatsReg, nil
}

func dbSystem(driver string) attribute.KeyValue {
	if driver == config.DriverSQLite {
		return semconv.DBSystemSqlite
	}
	return semconv.DBSystemMySQL
}

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, effectiveDatabase string, dsnPresent bool) error {
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("database_effective", effectiveDatabase),
		slog.Bool("dsn_present", dsnPresent),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
		slog.Duration("pool_max_lifetime", cfg.Database.Pool.MaxLifetime),
	)
	return nil
}

func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval

	if timeout == 0 {
		return db.PingContext(ctx)
	}

	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempt++
		err := db.PingContext(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("database connection established", slog.Int("attempts", attempt))
			}
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("database not available after %v: %w", timeout, err)
		}

		logger.Warn("database not ready, retrying...",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		// Exponential backoff, capped at 30s
		interval = min(interval*2, 30*time.Second)
	}
}

func buildQueryExecutor(cfg *config.Config, db *sql.DB, effectiveDatabase string) dbexec.QueryExecutor {
	if cfg.Fetch.Role == "" {
		return dbexec.NewStandardExecutor(db)
	}
	return dbexec.NewRoleExecutor(dbexec.RoleExecutorConfig{
		DB:           db,
		DatabaseName: effectiveDatabase,
		DefaultRole:  cfg.Fetch.Role,
		AllowedRoles: cfg.Database.AllowedRoles,
	})
}

// buildRegistries registers the garage model and every configured graph,
// then checks the graphs against the schema.
func buildRegistries(cfg *config.Config) (*schema.Registry, *graph.Registry, error) {
	schemas := garage.NewSchema(naming.New(cfg.Naming))

	configured, err := cfg.Fetch.LoadGraphs()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load fetch graphs: %w", err)
	}
	graphs, err := graph.NewRegistry(append(garage.Graphs(), configured...)...)
	if err != nil {
		return nil, nil, err
	}
	if err := graphs.Validate(schemas); err != nil {
		return nil, nil, fmt.Errorf("invalid fetch graph: %w", err)
	}
	return schemas, graphs, nil
}

// wire builds the store and fetcher on top of an open database.
func (a *App) wire(db *sql.DB) error {
	schemas, graphs, err := buildRegistries(a.cfg)
	if err != nil {
		return err
	}
	executor := buildQueryExecutor(a.cfg, db, a.effectiveDatabase)
	sess := session.New(schemas)
	store := sqlstore.New(executor, schemas,
		sqlstore.WithSession(sess),
		sqlstore.WithLogger(a.logger),
	)

	opts := []fetcher.Option{
		fetcher.WithLogger(a.logger),
		fetcher.WithBatchSize(a.cfg.Fetch.BatchSize),
	}
	if a.fetchMetrics != nil {
		opts = append(opts, fetcher.WithMetrics(a.fetchMetrics))
	}

	a.stateMu.Lock()
	a.db = db
	a.schemas = schemas
	a.graphs = graphs
	a.executor = executor
	a.session = sess
	a.store = store
	a.fetcher = fetcher.New(schemas, graphs, store, opts...)
	a.stateMu.Unlock()
	return nil
}
