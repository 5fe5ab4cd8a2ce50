package fetcher

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"flatfetch/internal/garage"
	"flatfetch/internal/graph"
	"flatfetch/internal/logging"
	"flatfetch/internal/memstore"
	"flatfetch/internal/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fixture struct {
	store   *memstore.Store
	fetcher *Fetcher
	schema  *schema.Registry
	cars    []*garage.Car
	engines []*garage.Engine
}

func newFixture(t *testing.T, cars int, extra ...*graph.Graph) *fixture {
	t.Helper()
	reg := garage.Schema()
	graphs := garage.GraphRegistry()
	require.NoError(t, graphs.Register(extra...))

	store := memstore.New()
	carList, all := garage.Sample(cars)
	store.Put(all...)

	var engines []*garage.Engine
	for _, obj := range all {
		if e, ok := obj.(*garage.Engine); ok {
			engines = append(engines, e)
		}
	}
	return &fixture{
		store:   store,
		fetcher: New(reg, graphs, store, WithLogger(logging.Discard())),
		schema:  reg,
		cars:    carList,
		engines: engines,
	}
}

func lookupEntities(store *memstore.Store) []string {
	var out []string
	for _, l := range store.Lookups() {
		out = append(out, l.Entity)
	}
	return out
}

func TestFetch_CarFull(t *testing.T) {
	fx := newFixture(t, 2)

	require.NoError(t, Fetch(context.Background(), fx.fetcher, fx.cars, garage.CarFull))

	assert.Equal(t, []string{"Wheel", "Door", "Engine"}, lookupEntities(fx.store))
	for _, car := range fx.cars {
		require.Len(t, car.Wheels, 4)
		require.Len(t, car.Doors, 2)
		for _, w := range car.Wheels {
			assert.Same(t, car, w.Car)
		}
		for _, d := range car.Doors {
			assert.Same(t, car, d.Car)
		}
		require.NotNil(t, car.Engine)
		assert.Same(t, car, car.Engine.Car())
	}
}

func TestFetch_EngineFull(t *testing.T) {
	fx := newFixture(t, 2)

	require.NoError(t, Fetch(context.Background(), fx.fetcher, fx.engines, garage.EngineFull))

	assert.Equal(t, []string{"Car", "Wheel", "Door"}, lookupEntities(fx.store))
	for _, engine := range fx.engines {
		car := engine.Car()
		require.NotNil(t, car)
		assert.Same(t, engine, car.Engine)
		assert.Len(t, car.Wheels, 4)
		assert.Len(t, car.Doors, 2)
	}
}

func TestFetch_LookupsIndependentOfRootCount(t *testing.T) {
	for _, n := range []int{1, 10, 120} {
		fx := newFixture(t, n)
		require.NoError(t, Fetch(context.Background(), fx.fetcher, fx.cars, garage.CarFull))
		assert.Equal(t, 3, fx.store.LookupCount(), "roots=%d", n)
	}
}

func TestFetch_ChunksEveryAssociation(t *testing.T) {
	chunked := newFixture(t, 7)
	require.NoError(t, chunked.fetcher.SetBatchSize(3))
	require.NoError(t, Fetch(context.Background(), chunked.fetcher, chunked.cars, garage.CarFull))

	// ceil(7/3) lookups for each of the three associations
	assert.Equal(t, 9, chunked.store.LookupCount())
	for _, l := range chunked.store.Lookups() {
		assert.LessOrEqual(t, len(l.Keys), 3)
	}

	for _, car := range chunked.cars {
		assert.Len(t, car.Wheels, 4)
		assert.Len(t, car.Doors, 2)
		assert.NotNil(t, car.Engine)
	}
}

func TestFetch_EmptyRootsIsNoop(t *testing.T) {
	fx := newFixture(t, 1)
	require.NoError(t, fx.fetcher.Fetch(context.Background(), reflect.TypeFor[garage.Car](), nil, "does-not-exist"))
	assert.Zero(t, fx.store.LookupCount())
}

func TestFetch_UnknownGraph(t *testing.T) {
	fx := newFixture(t, 1)
	err := Fetch(context.Background(), fx.fetcher, fx.cars, "missing")

	var unknown *graph.UnknownGraphError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "missing", unknown.Name)
	assert.Zero(t, fx.store.LookupCount())
}

func TestFetch_RootValidation(t *testing.T) {
	fx := newFixture(t, 1)

	err := Fetch(context.Background(), fx.fetcher, []*garage.Wheel{{}}, garage.CarFull)
	assert.ErrorContains(t, err, "declared for Car, not Wheel")

	err = fx.fetcher.Fetch(context.Background(), reflect.TypeFor[garage.Car](), []any{&garage.Door{}}, garage.CarFull)
	assert.ErrorContains(t, err, "root 0 is *garage.Door")

	err = Fetch(context.Background(), fx.fetcher, []*garage.Car{nil}, garage.CarFull)
	assert.ErrorContains(t, err, "expected a non-nil")
	assert.Zero(t, fx.store.LookupCount())
}

func TestFetch_PrunesEmptyLevels(t *testing.T) {
	fx := newFixture(t, 0)
	orphan := &garage.Engine{Base: garage.Base{ID: uuid.New()}}

	require.NoError(t, Fetch(context.Background(), fx.fetcher, []*garage.Engine{orphan}, garage.EngineFull))

	assert.Equal(t, []string{"Car"}, lookupEntities(fx.store))
	assert.Nil(t, orphan.Car())
}

func TestFetch_DuplicateKeysDoNotFail(t *testing.T) {
	fx := newFixture(t, 1)
	engine := fx.engines[0]
	twin := &garage.Car{
		Base:     garage.Base{ID: uuid.New()},
		Name:     "twin",
		EngineID: uuid.NullUUID{UUID: engine.ID, Valid: true},
	}
	fx.store.Put(twin)

	require.NoError(t, Fetch(context.Background(), fx.fetcher, []*garage.Engine{engine}, garage.EngineFull))
	assert.Same(t, twin, engine.Car())
	assert.Empty(t, twin.Wheels)
	assert.NotNil(t, twin.Wheels)
}

func TestFetch_SchemaErrorsSurfaceAndAreNotCached(t *testing.T) {
	fx := newFixture(t, 1, graph.New("bad", "Car", graph.Attr("Wheels"), graph.Attr("Name")))

	for range 2 {
		err := Fetch(context.Background(), fx.fetcher, fx.cars, "bad")
		var unsupported *schema.UnsupportedMappingError
		require.ErrorAs(t, err, &unsupported)
		assert.Contains(t, err.Error(), `fetch graph "bad"`)
	}
	assert.Equal(t, 1, fx.fetcher.CachedStrategies())
	assert.Len(t, fx.cars[0].Wheels, 4)
}

func TestFetch_LookupFailureKeepsEarlierAssignments(t *testing.T) {
	fx := newFixture(t, 1)
	boom := errors.New("deadline exceeded")
	fx.store.FailLookups("Door", boom)

	err := Fetch(context.Background(), fx.fetcher, fx.cars, garage.CarFull)
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "Car#Doors")
	assert.Len(t, fx.cars[0].Wheels, 4)
	assert.Nil(t, fx.cars[0].Engine)
}

func TestFetch_RevisitsObjectsOnEveryPath(t *testing.T) {
	g := graph.New("twice", "Car",
		graph.Attr("Wheels", graph.Sub("Wheel", graph.Attr("Car"))),
		graph.Attr("Doors", graph.Sub("Door", graph.Attr("Car"))),
	)
	fx := newFixture(t, 1, g)

	require.NoError(t, Fetch(context.Background(), fx.fetcher, fx.cars, "twice"))
	assert.Equal(t, []string{"Wheel", "Door", "Car", "Car"}, lookupEntities(fx.store))
	assert.Same(t, fx.cars[0], fx.cars[0].Wheels[0].Car)
}

func TestBatchSize(t *testing.T) {
	fx := newFixture(t, 0)
	assert.Equal(t, DefaultBatchSize, fx.fetcher.BatchSize())

	err := fx.fetcher.SetBatchSize(0)
	assert.ErrorIs(t, err, ErrInvalidBatchSize)
	assert.ErrorIs(t, fx.fetcher.SetBatchSize(-4), ErrInvalidBatchSize)
	assert.Equal(t, DefaultBatchSize, fx.fetcher.BatchSize())

	require.NoError(t, fx.fetcher.SetBatchSize(25))
	assert.Equal(t, 25, fx.fetcher.BatchSize())

	other := New(fx.schema, garage.GraphRegistry(), fx.store, WithBatchSize(7))
	assert.Equal(t, 7, other.BatchSize())
	assert.Equal(t, 25, fx.fetcher.BatchSize())
}

func TestFetch_Concurrent(t *testing.T) {
	fx := newFixture(t, 8)

	var wg sync.WaitGroup
	errs := make([]error, len(fx.cars))
	for i, car := range fx.cars {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = Fetch(context.Background(), fx.fetcher, []*garage.Car{car}, garage.CarFull)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err)
		assert.Len(t, fx.cars[i].Wheels, 4)
	}
	assert.Equal(t, 3*len(fx.cars), fx.store.LookupCount())
	assert.Equal(t, 3, fx.fetcher.CachedStrategies())
}

func TestAssignableTo(t *testing.T) {
	reg := garage.Schema()
	wheelEntity, _ := reg.Entity("Wheel")
	w := &garage.Wheel{}
	d := &garage.Door{}

	assert.Equal(t, []any{w}, assignableTo(wheelEntity, []any{w, d}))
	assert.Empty(t, assignableTo(wheelEntity, []any{d}))
	all := []any{w}
	assert.Equal(t, all, assignableTo(wheelEntity, all))
}

func TestFetch_Spans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.AlwaysSample()))
	tp.RegisterSpanProcessor(recorder)
	originalTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(originalTP)
	})

	fx := newFixture(t, 2)
	require.NoError(t, Fetch(context.Background(), fx.fetcher, fx.engines, garage.EngineFull))

	counts := map[string]int{}
	for _, span := range recorder.Ended() {
		counts[span.Name()]++
	}
	assert.Equal(t, 1, counts["flatfetch.fetch"])
	assert.Equal(t, 2, counts["flatfetch.step"])
	assert.Equal(t, 3, counts["flatfetch.lookup"])
}
