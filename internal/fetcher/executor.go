package fetcher

import (
	"context"
	"iter"
	"time"

	"flatfetch/internal/observability"
	"flatfetch/internal/schema"
	"flatfetch/internal/strategy"

	"go.opentelemetry.io/otel/attribute"
)

// instrumentedExecutor wraps every lookup in a span and records lookup
// metrics. Tracking calls pass through unchanged.
type instrumentedExecutor struct {
	strategy.Executor
	metrics *observability.FetchMetrics
}

func (e instrumentedExecutor) Lookup(ctx context.Context, target *schema.Entity, keyAttr *schema.Attribute, keys []any) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		ctx, span := startFetchSpan(ctx, "flatfetch.lookup",
			attribute.String("flatfetch.entity", target.Name),
			attribute.String("flatfetch.key_attribute", keyAttr.Name),
			attribute.Int("flatfetch.keys", len(keys)),
		)
		start := time.Now()
		rows := 0
		var lookupErr error
		defer func() {
			span.SetAttributes(attribute.Int("flatfetch.rows", rows))
			finishFetchSpan(span, lookupErr)
			e.metrics.RecordLookup(ctx, time.Since(start), target.Name, len(keys), rows)
		}()

		for obj, err := range e.Executor.Lookup(ctx, target, keyAttr, keys) {
			if err != nil {
				lookupErr = err
			} else {
				rows++
			}
			if !yield(obj, err) {
				return
			}
		}
	}
}
