package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics holds custom metrics for entity query operations
type QueryMetrics struct {
	requestDuration   metric.Float64Histogram
	requestCounter    metric.Int64Counter
	errorCounter      metric.Int64Counter
	activeRequests    metric.Int64UpDownCounter
	resultsCount      metric.Int64Histogram
	batchParentCount  metric.Int64Histogram
	batchResultRows   metric.Int64Histogram
	batchQueriesSaved metric.Int64Counter
	batchSkipped      metric.Int64Counter
	cacheHits         metric.Int64Counter
	cacheMisses       metric.Int64Counter
}

// InitQueryMetrics initializes query metrics on the global meter provider
func InitQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter("cmsquery")

	requestDuration, err := meter.Float64Histogram(
		"cmsquery.request.duration",
		metric.WithDescription("Duration of entity query requests in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	requestCounter, err := meter.Int64Counter(
		"cmsquery.requests.total",
		metric.WithDescription("Total number of entity query requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"cmsquery.errors.total",
		metric.WithDescription("Total number of failed entity query requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"cmsquery.requests.active",
		metric.WithDescription("Number of active entity query requests"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active requests counter: %w", err)
	}

	resultsCount, err := meter.Int64Histogram(
		"cmsquery.results.count",
		metric.WithDescription("Number of top-level records returned per request"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create results count histogram: %w", err)
	}

	batchParentCount, err := meter.Int64Histogram(
		"cmsquery.batch.parent_count",
		metric.WithDescription("Number of parent keys included in a relation batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch parent count histogram: %w", err)
	}

	batchResultRows, err := meter.Int64Histogram(
		"cmsquery.batch.result_rows",
		metric.WithDescription("Number of rows returned by a relation batch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch result rows histogram: %w", err)
	}

	batchQueriesSaved, err := meter.Int64Counter(
		"cmsquery.batch.queries_saved",
		metric.WithDescription("Number of per-parent queries saved by batching"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch queries saved counter: %w", err)
	}

	batchSkipped, err := meter.Int64Counter(
		"cmsquery.batch.skipped",
		metric.WithDescription("Number of relation loads that ran one query per parent"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch skipped counter: %w", err)
	}

	cacheHits, err := meter.Int64Counter(
		"cmsquery.cache.hits",
		metric.WithDescription("Number of schema cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	cacheMisses, err := meter.Int64Counter(
		"cmsquery.cache.misses",
		metric.WithDescription("Number of schema cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	return &QueryMetrics{
		requestDuration:   requestDuration,
		requestCounter:    requestCounter,
		errorCounter:      errorCounter,
		activeRequests:    activeRequests,
		resultsCount:      resultsCount,
		batchParentCount:  batchParentCount,
		batchResultRows:   batchResultRows,
		batchQueriesSaved: batchQueriesSaved,
		batchSkipped:      batchSkipped,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
	}, nil
}

// RecordRequest records a query request with its duration and outcome
func (m *QueryMetrics) RecordRequest(ctx context.Context, duration time.Duration, failed bool, operation, entityName string) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("entity", entityName),
		attribute.Bool("has_errors", failed),
	}

	m.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.requestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))

	if failed {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", operation),
		))
	}
}

// RecordResultsCount records the number of records returned
func (m *QueryMetrics) RecordResultsCount(ctx context.Context, count int64, operation string) {
	m.resultsCount.Record(ctx, count, metric.WithAttributes(
		attribute.String("operation", operation),
	))
}

func (m *QueryMetrics) RecordBatchParentCount(ctx context.Context, count int64, relationType string) {
	m.batchParentCount.Record(ctx, count, metric.WithAttributes(
		attribute.String("relation_type", relationType),
	))
}

func (m *QueryMetrics) RecordBatchResultRows(ctx context.Context, count int64, relationType string) {
	m.batchResultRows.Record(ctx, count, metric.WithAttributes(
		attribute.String("relation_type", relationType),
	))
}

func (m *QueryMetrics) RecordBatchQueriesSaved(ctx context.Context, count int64, relationType string) {
	if count <= 0 {
		return
	}
	m.batchQueriesSaved.Add(ctx, count, metric.WithAttributes(
		attribute.String("relation_type", relationType),
	))
}

func (m *QueryMetrics) RecordBatchSkipped(ctx context.Context, relationType, reason string) {
	m.batchSkipped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("relation_type", relationType),
		attribute.String("reason", reason),
	))
}

// RecordCacheLookup counts schema cache hits and misses.
func (m *QueryMetrics) RecordCacheLookup(cache string, hit bool) {
	attrs := metric.WithAttributes(attribute.String("cache", cache))
	if hit {
		m.cacheHits.Add(context.Background(), 1, attrs)
		return
	}
	m.cacheMisses.Add(context.Background(), 1, attrs)
}

// IncrementActiveRequests increments the active requests counter
func (m *QueryMetrics) IncrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, 1)
}

// DecrementActiveRequests decrements the active requests counter
func (m *QueryMetrics) DecrementActiveRequests(ctx context.Context) {
	m.activeRequests.Add(ctx, -1)
}

// InitMetrics initializes all custom metrics and returns the QueryMetrics instance
func InitMetrics(logger *slog.Logger) (*QueryMetrics, error) {
	metrics, err := InitQueryMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize query metrics: %w", err)
	}

	logger.Info("custom query metrics initialized")
	return metrics, nil
}
