// Package fetcher loads the associations named by a fetch graph for a batch
// of root entities, level by level.
//
// The traversal is breadth first over the graph as declared: each queue
// entry pairs a set of roots with the attribute nodes to load for them.
// Every attribute node costs one batched lookup per chunk of distinct keys,
// independent of the number of roots, so loading a graph never degrades
// into one query per object and never multiplies rows the way a join fetch
// does.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"flatfetch/internal/graph"
	"flatfetch/internal/logging"
	"flatfetch/internal/observability"
	"flatfetch/internal/schema"
	"flatfetch/internal/strategy"

	"go.opentelemetry.io/otel/attribute"
)

// DefaultBatchSize bounds the number of keys sent in a single lookup.
const DefaultBatchSize = 500

// ErrInvalidBatchSize is returned by SetBatchSize for non-positive sizes.
var ErrInvalidBatchSize = errors.New("batch size must be a positive integer")

// Fetcher runs graph fetches against one execution context. It is safe for
// concurrent use; strategies are cached across calls.
type Fetcher struct {
	schema  schema.Provider
	graphs  graph.Provider
	exec    strategy.Executor
	cache   *strategy.Cache
	logger  *logging.Logger
	metrics *observability.FetchMetrics

	batchSize atomic.Int64
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger sets the logger for fetch runs. Without it the logger carried
// by the context is used.
func WithLogger(logger *logging.Logger) Option {
	return func(f *Fetcher) { f.logger = logger }
}

// WithMetrics enables fetch metrics.
func WithMetrics(metrics *observability.FetchMetrics) Option {
	return func(f *Fetcher) { f.metrics = metrics }
}

// WithBatchSize sets the initial batch size. Non-positive values keep the
// default.
func WithBatchSize(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.batchSize.Store(int64(n))
		}
	}
}

// New creates a Fetcher.
func New(schemas schema.Provider, graphs graph.Provider, exec strategy.Executor, opts ...Option) *Fetcher {
	f := &Fetcher{
		schema: schemas,
		graphs: graphs,
		exec:   exec,
		cache:  strategy.NewCache(schemas),
	}
	f.batchSize.Store(DefaultBatchSize)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// BatchSize returns the current upper bound of keys per lookup.
func (f *Fetcher) BatchSize() int {
	return int(f.batchSize.Load())
}

// SetBatchSize changes the batch size for lookups chunked from now on.
// In-flight fetches may or may not observe the change.
func (f *Fetcher) SetBatchSize(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBatchSize, n)
	}
	f.batchSize.Store(int64(n))
	return nil
}

// CachedStrategies returns the number of strategies built so far.
func (f *Fetcher) CachedStrategies() int {
	return f.cache.Len()
}

// entry is one unit of traversal: roots of one entity type and the
// attribute nodes to load for them.
type entry struct {
	name   string
	entity *schema.Entity
	nodes  []*graph.AttributeNode
	roots  []any
}

// Fetch loads the associations named by graph graphName for roots, which
// must be pointers to the entity type typ. Associations are assigned in
// place. An empty roots slice is a no-op. On error, levels processed so
// far keep their assignments.
func (f *Fetcher) Fetch(ctx context.Context, typ reflect.Type, roots []any, graphName string) (err error) {
	if len(roots) == 0 {
		return nil
	}

	start := time.Now()
	ctx, span := startFetchSpan(ctx, "flatfetch.fetch",
		attribute.String("flatfetch.graph", graphName),
		attribute.Int("flatfetch.roots", len(roots)),
	)
	defer func() {
		finishFetchSpan(span, err)
		f.metrics.RecordFetch(ctx, time.Since(start), graphName, err != nil)
	}()

	fetchID := logging.NewFetchID()
	logger := f.loggerFor(ctx).WithFetchID(fetchID)
	ctx = logging.WithFetchIDContext(ctx, fetchID)
	ctx = logging.WithLogger(ctx, logger)
	ctx = observability.ContextWithFetchMetrics(ctx, f.metrics)

	g, err := f.graphs.Graph(graphName)
	if err != nil {
		return fmt.Errorf("fetch graph %q: %w", graphName, err)
	}
	entity, err := f.schema.EntityOf(typ)
	if err != nil {
		return fmt.Errorf("fetch graph %q: %w", graphName, err)
	}
	if g.Type != "" && g.Type != entity.Name {
		return fmt.Errorf("fetch graph %q: graph is declared for %s, not %s", graphName, g.Type, entity.Name)
	}
	if err := checkRoots(entity, roots); err != nil {
		return fmt.Errorf("fetch graph %q: %w", graphName, err)
	}

	logger.Debug("begin flat fetch",
		"entity", entity.Name,
		"roots", len(roots),
		"graph", graphName,
		"cached_strategies", f.cache.Len(),
	)

	exec := instrumentedExecutor{Executor: f.exec, metrics: f.metrics}
	queue := []entry{{name: graphName, entity: entity, nodes: g.Nodes, roots: roots}}
	for cursor := 0; cursor < len(queue); cursor++ {
		current := queue[cursor]
		logger.Debug("flat fetch step",
			"entity", current.entity.Name,
			"roots", len(current.roots),
			"entry", current.name,
			"step", cursor+1,
			"queued", len(queue),
		)
		queue, err = f.step(ctx, exec, queue, current)
		if err != nil {
			return fmt.Errorf("fetch graph %q: %w", graphName, err)
		}
	}
	return nil
}

// Fetch is the typed form of Fetcher.Fetch.
func Fetch[T any](ctx context.Context, f *Fetcher, roots []*T, graphName string) error {
	anyRoots := make([]any, len(roots))
	for i, root := range roots {
		anyRoots[i] = root
	}
	return f.Fetch(ctx, reflect.TypeFor[T](), anyRoots, graphName)
}

// step loads every attribute node of current and appends one entry per
// declared subgraph whose lookup produced targets.
func (f *Fetcher) step(ctx context.Context, exec strategy.Executor, queue []entry, current entry) (_ []entry, err error) {
	ctx, span := startFetchSpan(ctx, "flatfetch.step",
		attribute.String("flatfetch.entry", current.name),
		attribute.String("flatfetch.entity", current.entity.Name),
		attribute.Int("flatfetch.roots", len(current.roots)),
	)
	defer func() { finishFetchSpan(span, err) }()
	f.metrics.RecordStep(ctx, current.entity.Name)

	for _, node := range current.nodes {
		s, err := f.cache.GetOrBuild(ctx, current.entity, node.Name)
		if err != nil {
			return queue, err
		}
		targets, err := s.Fetch(ctx, exec, current.roots, f.BatchSize())
		if err != nil {
			return queue, fmt.Errorf("%s#%s: %w", current.entity.Name, node.Name, err)
		}
		if len(targets) == 0 {
			continue
		}
		for _, sub := range node.Subgraphs {
			subEntity, err := f.schema.Entity(sub.Type)
			if err != nil {
				return queue, err
			}
			subRoots := assignableTo(subEntity, targets)
			if len(subRoots) == 0 {
				continue
			}
			queue = append(queue, entry{
				name:   current.name + "." + node.Name + "<" + subEntity.Name + ">",
				entity: subEntity,
				nodes:  sub.Nodes,
				roots:  subRoots,
			})
		}
	}
	return queue, nil
}

func (f *Fetcher) loggerFor(ctx context.Context) *logging.Logger {
	if f.logger != nil {
		return f.logger
	}
	return logging.FromContext(ctx)
}

func checkRoots(entity *schema.Entity, roots []any) error {
	want := reflect.PointerTo(entity.Type)
	for i, root := range roots {
		v := reflect.ValueOf(root)
		if !v.IsValid() || v.Type() != want || v.IsNil() {
			return fmt.Errorf("root %d is %T, expected a non-nil %s", i, root, want)
		}
	}
	return nil
}

func assignableTo(entity *schema.Entity, targets []any) []any {
	want := reflect.PointerTo(entity.Type)
	out := targets[:0:0]
	for _, t := range targets {
		if reflect.TypeOf(t) == want {
			out = append(out, t)
		}
	}
	if len(out) == len(targets) {
		return targets
	}
	return out
}
