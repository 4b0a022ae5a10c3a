package serverapp

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/go-chi/chi/v5"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"cmsquery/internal/config"
	"cmsquery/internal/dbexec"
	"cmsquery/internal/logging"
	"cmsquery/internal/middleware"
	"cmsquery/internal/observability"
	"cmsquery/internal/planner"
	"cmsquery/internal/resolver"
	"cmsquery/internal/schema"
	"cmsquery/internal/sqlutil"
)

// InitLogger builds the process logger. When log export is enabled the
// logger is rebuilt so records also flow to the OTLP logger provider.
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
		Exporter: observability.ExporterConfig{
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

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.QueryMetrics, *observability.SchemaReloadMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil, nil
	}

	meterProvider, err := observability.InitMeterProvider(observabilityConfig(cfg, config.OTLPConfig{}))
	if err != nil {
		return nil, nil, nil, err
	}
	queryMetrics, err := observability.InitMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, err
	}
	reloadMetrics, err := observability.InitSchemaReloadMetrics(logger.Logger)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("OpenTelemetry metrics initialized", slog.String("service_name", cfg.Observability.ServiceName))
	return meterProvider, queryMetrics, reloadMetrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}

	tracesConfig := cfg.Observability.GetTracesConfig()
	tracerProvider, err := observability.InitTracerProvider(observabilityConfig(cfg, tracesConfig))
	if err != nil {
		return nil, err
	}
	logger.Info("OpenTelemetry tracing initialized",
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)
	return tracerProvider, nil
}

func dbSystem(driver string) attribute.KeyValue {
	switch driver {
	case config.DriverPostgres:
		return semconv.DBSystemPostgreSQL
	case config.DriverSQLite:
		return semconv.DBSystemSqlite
	default:
		return semconv.DBSystemMySQL
	}
}

func connectDB(cfg *config.Config, logger *logging.Logger) (*sql.DB, interface{ Unregister() error }, error) {
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	driverName := cfg.Database.DriverName()
	dsn := cfg.Database.DSN()
	if !cfg.Observability.MetricsEnabled && !cfg.Observability.TracingEnabled {
		db, err := sql.Open(driverName, dsn)
		return db, nil, err
	}

	system := dbSystem(cfg.Database.Driver)
	opts := []otelsql.Option{otelsql.WithAttributes(system)}
	if cfg.Observability.TracingEnabled {
		opts = append(opts, otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}))
	}
	db, err := otelsql.Open(driverName, dsn, opts...)
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

func configureDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB, databaseName string) error {
	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := waitForDatabase(ctx, cfg, logger, db); err != nil {
		return err
	}

	logger.Info("connected to database",
		slog.String("driver", cfg.Database.Driver),
		slog.String("database", databaseName),
		slog.Int("pool_max_open", cfg.Database.Pool.MaxOpen),
		slog.Int("pool_max_idle", cfg.Database.Pool.MaxIdle),
	)
	return nil
}

// waitForDatabase pings until the database answers or ConnectionTimeout
// passes. The retry interval doubles up to 30s. A zero timeout tries once.
func waitForDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) error {
	timeout := cfg.Database.ConnectionTimeout
	interval := cfg.Database.ConnectionRetryInterval
	if timeout == 0 {
		return db.PingContext(ctx)
	}
	if interval <= 0 {
		interval = time.Second
	}

	deadline := time.Now().Add(timeout)
	for attempt := 1; ; attempt++ {
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

		logger.Warn("database not ready, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", interval),
			slog.String("error", err.Error()),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
		interval = min(interval*2, 30*time.Second)
	}
}

func buildExecutor(db *sql.DB) *dbexec.Executor {
	return dbexec.NewExecutor(dbexec.NewStandardExecutor(db))
}

// buildSchemaResolver picks the definition source. The returned provider is
// the raw source so admin reloads can reach a file provider.
func buildSchemaResolver(cfg *config.Config, exec *dbexec.Executor, dialect sqlutil.Dialect, metrics *observability.QueryMetrics) (*schema.Resolver, schema.Provider, error) {
	var observer schema.CacheObserver
	if metrics != nil {
		observer = metrics
	}

	var provider schema.Provider
	switch cfg.Schema.Source {
	case config.SchemaSourceFiles:
		fp, err := schema.NewFileProvider(cfg.Schema.Dir)
		if err != nil {
			return nil, nil, err
		}
		provider = fp
	default:
		provider = schema.NewSQLProvider(exec, cfg.Schema.Table, dialect.Placeholder)
	}
	return schema.NewResolver(provider, observer), provider, nil
}

// startSchemaWatcher runs a file watcher when the schema comes from a watched
// directory. It returns nil when nothing is watched.
func startSchemaWatcher(cfg *config.Config, logger *logging.Logger, source schema.Provider, schemas *schema.Resolver, reloads *observability.SchemaReloadMetrics) (context.CancelFunc, error) {
	fp, ok := source.(*schema.FileProvider)
	if !ok || !cfg.Schema.Watch {
		return nil, nil
	}
	w, err := schema.NewWatcher(fp.Dir(), fp, schemas)
	if err != nil {
		return nil, err
	}
	if reloads != nil {
		w.SetObserver(reloads)
	}

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))
	go w.Run(ctx)
	logger.Info("watching schema directory", slog.String("dir", fp.Dir()))
	return func() {
		cancel()
		_ = w.Close()
	}, nil
}

func buildService(cfg *config.Config, schemas *schema.Resolver, dialect sqlutil.Dialect, exec *dbexec.Executor, metrics *observability.QueryMetrics) *resolver.Service {
	return resolver.NewService(schemas, planner.New(dialect), exec, resolver.Options{
		DefaultPageSize:     cfg.Query.DefaultPageSize,
		MaxPageSize:         cfg.Query.MaxPageSize,
		BatchMaxInClause:    cfg.Query.BatchMaxInClause,
		RelationConcurrency: cfg.Query.RelationConcurrency,
		Metrics:             metrics,
	})
}

func buildRouter(cfg *config.Config, logger *logging.Logger, db *sql.DB, api *apiHandler, meterProvider *observability.MeterProvider) chi.Router {
	r := chi.NewRouter()
	r.Mount("/api", api.Routes())
	if cfg.Server.AdminEnabled {
		r.Mount("/admin", api.AdminRoutes())
		logger.Warn("admin endpoints are enabled without authentication", slog.String("path", "/admin"))
	}
	r.Get("/health", healthHandler(db, cfg.Server.HealthCheckTimeout))

	if cfg.Observability.MetricsEnabled && meterProvider != nil {
		r.Handle("/metrics", promhttp.Handler())
		logger.Info("metrics endpoint enabled", slog.String("path", "/metrics"))
	}
	return r
}

func wrapHTTPHandler(cfg *config.Config, logger *logging.Logger, handler http.Handler, metrics *observability.QueryMetrics) http.Handler {
	handler = middleware.ActiveRequestsMiddleware(metrics)(handler)
	handler = middleware.LoggingMiddleware(logger)(handler)

	if cfg.Observability.MetricsEnabled || cfg.Observability.TracingEnabled {
		handler = otelhttp.NewHandler(handler, "http.server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return httpRootSpanName(r)
			}),
		)
		logger.Info("HTTP instrumentation enabled")
	}

	return middleware.CORSMiddleware(middleware.CORSConfig{
		Enabled:          cfg.Server.CORSEnabled,
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   cfg.Server.CORSAllowedMethods,
		AllowedHeaders:   cfg.Server.CORSAllowedHeaders,
		ExposeHeaders:    cfg.Server.CORSExposeHeaders,
		AllowCredentials: cfg.Server.CORSAllowCredentials,
		MaxAge:           cfg.Server.CORSMaxAge,
	})(handler)
}

// httpRootSpanName keeps span cardinality bounded: entity and query names
// are collapsed into their route parameters.
func httpRootSpanName(r *http.Request) string {
	if r == nil {
		return "HTTP /*"
	}
	method := strings.TrimSpace(r.Method)
	if method == "" {
		method = "HTTP"
	}
	return method + " " + normalizeHTTPSpanRoute(r.URL.Path)
}

func normalizeHTTPSpanRoute(rawPath string) string {
	switch rawPath {
	case "/health", "/metrics", "/admin/schema/invalidate", "/admin/schema/entities":
		return rawPath
	}
	parts := strings.Split(strings.Trim(rawPath, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "api" && parts[1] == "entities":
		return "/api/entities/{entity}/" + parts[3]
	case len(parts) == 3 && parts[0] == "api" && parts[1] == "queries":
		return "/api/queries/{name}"
	default:
		return "/*"
	}
}

func buildServer(cfg *config.Config, handler http.Handler, serverAddr string) *http.Server {
	return &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func startServer(cfg *config.Config, logger *logging.Logger, srv *http.Server, serverAddr string) chan error {
	serverErrors := make(chan error, 1)
	go func() {
		logAttrs := []any{
			slog.String("address", serverAddr),
			slog.String("api_prefix", "/api"),
			slog.String("health_endpoint", "/health"),
			slog.String("schema_source", cfg.Schema.Source),
			slog.Int("default_page_size", cfg.Query.DefaultPageSize),
			slog.String("log_level", cfg.Observability.Logging.Level),
		}
		if cfg.Observability.MetricsEnabled {
			logAttrs = append(logAttrs, slog.String("metrics_endpoint", "/metrics"))
		}
		logger.Info("server starting", logAttrs...)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed: %w", err)
		}
	}()
	return serverErrors
}

// healthHandler pings the database within timeout.
func healthHandler(db *sql.DB, timeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqLogger := logging.FromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")

		ctx := r.Context()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if err := db.PingContext(ctx); err != nil {
			reqLogger.Error("health check failed", slog.String("error", err.Error()), slog.String("check", "database"))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = fmt.Fprint(w, `{"status":"unhealthy","database":"failed"}`)
			return
		}

		reqLogger.Debug("health check passed")
		_, _ = fmt.Fprint(w, `{"status":"healthy","database":"ok"}`)
	}
}
