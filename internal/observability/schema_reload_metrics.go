package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// SchemaReloadMetrics counts schema reloads and cache invalidations. It
// satisfies schema.ReloadObserver.
type SchemaReloadMetrics struct {
	reloadCounter   metric.Int64Counter
	errorCounter    metric.Int64Counter
	durationHist    metric.Float64Histogram
	lastSuccessUnix atomic.Int64
}

// InitSchemaReloadMetrics registers the reload instruments on the global meter.
func InitSchemaReloadMetrics(logger *slog.Logger) (*SchemaReloadMetrics, error) {
	meter := otel.Meter("cmsquery")

	reloadCounter, err := meter.Int64Counter(
		"cmsquery.schema.reload.total",
		metric.WithDescription("Total number of schema reloads and invalidations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema reload counter: %w", err)
	}
	errorCounter, err := meter.Int64Counter(
		"cmsquery.schema.reload.errors.total",
		metric.WithDescription("Total number of failed schema reloads"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema reload error counter: %w", err)
	}
	durationHist, err := meter.Float64Histogram(
		"cmsquery.schema.reload.duration",
		metric.WithDescription("Duration of schema reloads in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema reload duration histogram: %w", err)
	}
	lastSuccessGauge, err := meter.Int64ObservableGauge(
		"cmsquery.schema.reload.last_success_unix",
		metric.WithDescription("Unix timestamp of the last successful schema reload"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create schema reload gauge: %w", err)
	}

	m := &SchemaReloadMetrics{
		reloadCounter: reloadCounter,
		errorCounter:  errorCounter,
		durationHist:  durationHist,
	}
	_, err = meter.RegisterCallback(
		func(ctx context.Context, observer metric.Observer) error {
			if value := m.lastSuccessUnix.Load(); value > 0 {
				observer.ObserveInt64(lastSuccessGauge, value)
			}
			return nil
		},
		lastSuccessGauge,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register schema reload gauge callback: %w", err)
	}

	logger.Info("schema reload metrics initialized")
	return m, nil
}

// RecordReload records one reload. trigger is "watch" or "admin".
func (m *SchemaReloadMetrics) RecordReload(ctx context.Context, duration time.Duration, success bool, trigger string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.Bool("success", success),
	)
	m.reloadCounter.Add(ctx, 1, attrs)
	m.durationHist.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if !success {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
		return
	}
	m.lastSuccessUnix.Store(time.Now().Unix())
}

// LastSuccess returns the time of the last successful reload, or the zero time.
func (m *SchemaReloadMetrics) LastSuccess() time.Time {
	if m == nil {
		return time.Time{}
	}
	if unix := m.lastSuccessUnix.Load(); unix > 0 {
		return time.Unix(unix, 0)
	}
	return time.Time{}
}
