// Package app wires configuration, telemetry, the database and the fetcher
// into the lifecycle run by the flatfetch command.
package app

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"flatfetch/internal/config"
	"flatfetch/internal/dbexec"
	"flatfetch/internal/fetcher"
	"flatfetch/internal/graph"
	"flatfetch/internal/logging"
	"flatfetch/internal/observability"
	"flatfetch/internal/schema"
	"flatfetch/internal/session"
	"flatfetch/internal/sqlstore"
)

// App owns runtime resources for one flatfetch invocation.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	effectiveDatabase string
	dsnPresent        bool

	meterProvider  *observability.MeterProvider
	fetchMetrics   *observability.FetchMetrics
	tracerProvider *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	schemas  *schema.Registry
	graphs   *graph.Registry
	executor dbexec.QueryExecutor
	session  *session.Session
	store    *sqlstore.Store
	fetcher  *fetcher.Fetcher

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	effectiveDatabase, err := cfg.Database.EffectiveDatabaseName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve effective database configuration: %w", err)
	}

	return &App{
		cfg:               cfg,
		logger:            logger,
		effectiveDatabase: effectiveDatabase,
		dsnPresent:        strings.TrimSpace(cfg.Database.ConnectionString) != "",
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Store returns the SQL store, or nil before Init.
func (a *App) Store() *sqlstore.Store {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.store
}

// Fetcher returns the graph fetcher, or nil before Init.
func (a *App) Fetcher() *fetcher.Fetcher {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.fetcher
}
