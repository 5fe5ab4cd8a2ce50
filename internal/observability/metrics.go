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

// FetchMetrics holds custom metrics for graph fetches. A nil *FetchMetrics
// is valid and records nothing.
type FetchMetrics struct {
	fetchDuration  metric.Float64Histogram
	fetchCounter   metric.Int64Counter
	errorCounter   metric.Int64Counter
	stepCounter    metric.Int64Counter
	lookupDuration metric.Float64Histogram
	lookupCounter  metric.Int64Counter
	lookupKeys     metric.Int64Histogram
	lookupRows     metric.Int64Histogram
	duplicateKeys  metric.Int64Counter
	strategyHits   metric.Int64Counter
	strategyMisses metric.Int64Counter
}

// InitFetchMetrics initializes fetch metrics on the global meter provider.
func InitFetchMetrics() (*FetchMetrics, error) {
	return NewFetchMetrics(otel.Meter("flatfetch"))
}

// NewFetchMetrics creates the fetch instruments on meter.
func NewFetchMetrics(meter metric.Meter) (*FetchMetrics, error) {
	fetchDuration, err := meter.Float64Histogram(
		"flatfetch.fetch.duration",
		metric.WithDescription("Duration of graph fetches in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch duration histogram: %w", err)
	}

	fetchCounter, err := meter.Int64Counter(
		"flatfetch.fetches.total",
		metric.WithDescription("Total number of graph fetches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"flatfetch.errors.total",
		metric.WithDescription("Total number of failed graph fetches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	stepCounter, err := meter.Int64Counter(
		"flatfetch.steps.total",
		metric.WithDescription("Number of traversal steps (queue entries) processed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create step counter: %w", err)
	}

	lookupDuration, err := meter.Float64Histogram(
		"flatfetch.lookup.duration",
		metric.WithDescription("Duration of batched key lookups in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup duration histogram: %w", err)
	}

	lookupCounter, err := meter.Int64Counter(
		"flatfetch.lookups.total",
		metric.WithDescription("Total number of batched key lookups"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup counter: %w", err)
	}

	lookupKeys, err := meter.Int64Histogram(
		"flatfetch.lookup.keys",
		metric.WithDescription("Number of keys included in a lookup"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup keys histogram: %w", err)
	}

	lookupRows, err := meter.Int64Histogram(
		"flatfetch.lookup.rows",
		metric.WithDescription("Number of objects returned by a lookup"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lookup rows histogram: %w", err)
	}

	duplicateKeys, err := meter.Int64Counter(
		"flatfetch.duplicate_keys.total",
		metric.WithDescription("Number of keys that matched more than one target"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duplicate keys counter: %w", err)
	}

	strategyHits, err := meter.Int64Counter(
		"flatfetch.strategy_cache.hits",
		metric.WithDescription("Number of strategy cache hits"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create strategy cache hits counter: %w", err)
	}

	strategyMisses, err := meter.Int64Counter(
		"flatfetch.strategy_cache.misses",
		metric.WithDescription("Number of strategy cache misses"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create strategy cache misses counter: %w", err)
	}

	return &FetchMetrics{
		fetchDuration:  fetchDuration,
		fetchCounter:   fetchCounter,
		errorCounter:   errorCounter,
		stepCounter:    stepCounter,
		lookupDuration: lookupDuration,
		lookupCounter:  lookupCounter,
		lookupKeys:     lookupKeys,
		lookupRows:     lookupRows,
		duplicateKeys:  duplicateKeys,
		strategyHits:   strategyHits,
		strategyMisses: strategyMisses,
	}, nil
}

// RecordFetch records a graph fetch with its duration and outcome
func (m *FetchMetrics) RecordFetch(ctx context.Context, duration time.Duration, graph string, failed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("graph", graph),
		attribute.Bool("failed", failed),
	)
	m.fetchDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.fetchCounter.Add(ctx, 1, attrs)
	if failed {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("graph", graph)))
	}
}

// RecordStep records one processed queue entry.
func (m *FetchMetrics) RecordStep(ctx context.Context, entity string) {
	if m == nil {
		return
	}
	m.stepCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("entity", entity)))
}

// RecordLookup records one batched lookup against entity.
func (m *FetchMetrics) RecordLookup(ctx context.Context, duration time.Duration, entity string, keys, rows int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("entity", entity))
	m.lookupDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.lookupCounter.Add(ctx, 1, attrs)
	m.lookupKeys.Record(ctx, int64(keys), attrs)
	m.lookupRows.Record(ctx, int64(rows), attrs)
}

// RecordDuplicateKey records a key that matched more than one target.
func (m *FetchMetrics) RecordDuplicateKey(ctx context.Context, association string) {
	if m == nil {
		return
	}
	m.duplicateKeys.Add(ctx, 1, metric.WithAttributes(attribute.String("association", association)))
}

// RecordStrategyCache records a strategy cache lookup.
func (m *FetchMetrics) RecordStrategyCache(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.strategyHits.Add(ctx, 1)
		return
	}
	m.strategyMisses.Add(ctx, 1)
}

// InitMetrics initializes all custom metrics and returns the FetchMetrics instance
func InitMetrics(logger *slog.Logger) (*FetchMetrics, error) {
	metrics, err := InitFetchMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fetch metrics: %w", err)
	}

	logger.Info("custom fetch metrics initialized")
	return metrics, nil
}

type fetchMetricsContextKey struct{}

// ContextWithFetchMetrics stores fetch metrics in the provided context.
func ContextWithFetchMetrics(ctx context.Context, metrics *FetchMetrics) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, fetchMetricsContextKey{}, metrics)
}

// FetchMetricsFromContext retrieves fetch metrics from the context.
func FetchMetricsFromContext(ctx context.Context) *FetchMetrics {
	if ctx == nil {
		return nil
	}
	metrics, _ := ctx.Value(fetchMetricsContextKey{}).(*FetchMetrics)
	return metrics
}
