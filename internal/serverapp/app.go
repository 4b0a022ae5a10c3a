// Package serverapp wires configuration, the database, the schema source and
// the query service into a running HTTP server.
package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	"cmsquery/internal/config"
	"cmsquery/internal/logging"
	"cmsquery/internal/observability"
	"cmsquery/internal/resolver"
	"cmsquery/internal/schema"
	"cmsquery/internal/sqlutil"
)

// App owns runtime resources for the server lifecycle.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider

	databaseName string
	dialect      sqlutil.Dialect

	meterProvider  *observability.MeterProvider
	queryMetrics   *observability.QueryMetrics
	reloadMetrics  *observability.SchemaReloadMetrics
	tracerProvider *observability.TracerProvider

	db         *sql.DB
	dbStatsReg interface{ Unregister() error }

	schemas     *schema.Resolver
	service     *resolver.Service
	watchCancel context.CancelFunc

	handler    http.Handler
	serverAddr string
	srv        *http.Server

	cleanup cleanupStack

	stateMu      sync.Mutex
	initialized  bool
	started      bool
	serverErrors chan error

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

	dialect, err := cfg.Database.Dialect()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve SQL dialect: %w", err)
	}
	databaseName, err := cfg.Database.DatabaseName()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database name: %w", err)
	}

	return &App{
		cfg:          cfg,
		logger:       logger,
		databaseName: databaseName,
		dialect:      dialect,
	}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Handler returns the fully wrapped HTTP handler. It is nil before Init.
func (a *App) Handler() http.Handler {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.handler
}
