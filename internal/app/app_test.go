package app

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"flatfetch/internal/config"
	"flatfetch/internal/garage"
	"flatfetch/internal/graph"
	"flatfetch/internal/logging"
	"flatfetch/internal/naming"
	"flatfetch/internal/schema"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     1,
			User:     "root",
			Password: "invalid",
			Database: "garage",
			TLS:      config.DatabaseTLSConfig{Mode: "off"},
			Pool: config.PoolConfig{
				MaxOpen:     1,
				MaxIdle:     1,
				MaxLifetime: time.Second,
			},
			ConnectionRetryInterval: 10 * time.Millisecond,
		},
		Fetch: config.FetchConfig{BatchSize: 500, Limit: 10},
		Observability: config.ObservabilityConfig{
			ServiceName:    "flatfetch",
			ServiceVersion: "test",
			Environment:    "test",
			Logging:        config.LoggingConfig{Level: "info", Format: "text"},
		},
		Naming: naming.DefaultConfig(),
	}
}

func newWiredApp(t *testing.T, cfg *config.Config) (*App, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	app, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, app.wire(db))
	return app, mock
}

func TestNew_RequiresConfigAndLogger(t *testing.T) {
	_, err := New(nil, logging.Discard())
	assert.Error(t, err)

	_, err = New(testConfig(), nil)
	assert.Error(t, err)

	cfg := testConfig()
	cfg.Database.Database = ""
	_, err = New(cfg, logging.Discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "effective database")
}

func TestShutdown_Idempotent(t *testing.T) {
	app := &App{logger: logging.Discard()}
	var calls int32
	app.cleanup.push("test", func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	require.NoError(t, app.Shutdown(ctx))
	require.NoError(t, app.Shutdown(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCleanupStack_RunsInReverseOrder(t *testing.T) {
	var order []string
	var stack cleanupStack
	for _, name := range []string{"first", "second", "third"} {
		stack.push(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	stack.run(context.Background(), logging.Discard())
	assert.Equal(t, []string{"third", "second", "first"}, order)
}

func TestInitFailure_DoesNotMarkInitialized(t *testing.T) {
	app, err := New(testConfig(), logging.Discard())
	require.NoError(t, err)

	require.Error(t, app.Init(context.Background()))

	app.stateMu.Lock()
	initialized := app.initialized
	app.stateMu.Unlock()
	assert.False(t, initialized)
	assert.Nil(t, app.Fetcher())
}

func TestOperations_BeforeInit(t *testing.T) {
	app, err := New(testConfig(), logging.Discard())
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, app.InitSchema(ctx))
	assert.Error(t, app.Seed(ctx, 1))
	assert.Error(t, app.Run(ctx, &bytes.Buffer{}))
}

func TestWire_RejectsInvalidGraph(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.Graphs = []graph.Spec{{Name: "broken", Type: "Car", Attributes: []graph.NodeSpec{{Name: "Name"}}}}

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	app, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	err = app.wire(db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid fetch graph")
}

func TestRun_FetchesGraphForIDs(t *testing.T) {
	carID, engineID := uuid.New(), uuid.New()
	cfg := testConfig()
	cfg.Fetch.IDs = []string{carID.String()}
	app, mock := newWiredApp(t, cfg)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `name`, `engine_id` FROM `cars` WHERE `id` IN (?)")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "engine_id"}).AddRow(carID.String(), "alpha", engineID.String()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `position`, `car_id` FROM `wheels` WHERE `car_id` IN (?)")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "position", "car_id"}).
			AddRow(uuid.NewString(), "front-left", carID.String()).
			AddRow(uuid.NewString(), "front-right", carID.String()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `side`, `car_id` FROM `doors` WHERE `car_id` IN (?)")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "side", "car_id"}).AddRow(uuid.NewString(), "left", carID.String()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `power` FROM `engines` WHERE `id` IN (?)")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "power"}).AddRow(engineID.String(), 150))

	var out bytes.Buffer
	require.NoError(t, app.Run(context.Background(), &out))
	require.NoError(t, mock.ExpectationsWereMet())

	var cars []*garage.Car
	require.NoError(t, json.Unmarshal(out.Bytes(), &cars))
	require.Len(t, cars, 1)
	assert.Equal(t, carID, cars[0].ID)
	assert.Len(t, cars[0].Wheels, 2)
	assert.Len(t, cars[0].Doors, 1)
	require.NotNil(t, cars[0].Engine)
	assert.Equal(t, 150, cars[0].Engine.Power)
}

func TestRun_ListsRootsWithoutIDs(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.Limit = 5
	app, mock := newWiredApp(t, cfg)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `name`, `engine_id` FROM `cars` ORDER BY `id` LIMIT 5")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "engine_id"}))

	var out bytes.Buffer
	require.NoError(t, app.Run(context.Background(), &out))
	assert.JSONEq(t, "[]", out.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRoots_InvalidID(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.IDs = []string{"not-a-uuid"}
	app, _ := newWiredApp(t, cfg)

	_, _, err := app.Roots(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch.ids")
}

func TestRoots_UnknownGraph(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.Graph = "missing"
	app, _ := newWiredApp(t, cfg)

	_, _, err := app.Roots(context.Background())
	assert.Error(t, err)
}

func TestSeed_InsertsInOneTransaction(t *testing.T) {
	app, mock := newWiredApp(t, testConfig())

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `engines`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `cars`")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `wheels`")).WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `doors`")).WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, app.Seed(context.Background(), 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInitSchema_RunsEachStatement(t *testing.T) {
	app, mock := newWiredApp(t, testConfig())
	for _, table := range []string{"engines", "cars", "wheels", "doors"} {
		mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS " + table)).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, app.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteMetrics_DisabledWritesNothing(t *testing.T) {
	app, _ := newWiredApp(t, testConfig())
	var out bytes.Buffer
	require.NoError(t, app.WriteMetrics(&out))
	assert.Zero(t, out.Len())
}

func TestBuildQueryExecutor_UsesRoleWhenConfigured(t *testing.T) {
	cfg := testConfig()
	cfg.Fetch.Role = "reader"
	cfg.Database.AllowedRoles = []string{"reader"}
	app, mock := newWiredApp(t, cfg)

	mock.ExpectExec(regexp.QuoteMeta("SET ROLE `reader`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("USE `garage`")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `name`, `engine_id` FROM `cars`")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "engine_id"}))
	mock.ExpectExec(regexp.QuoteMeta("SET ROLE DEFAULT")).WillReturnResult(sqlmock.NewResult(0, 0))

	var out bytes.Buffer
	require.NoError(t, app.Run(context.Background(), &out))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestParseKey(t *testing.T) {
	id := uuid.New()
	got, err := parseKey(&schema.Attribute{Name: "ID", Type: uuidType}, " "+id.String()+" ")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	type code int32
	got, err = parseKey(&schema.Attribute{Name: "Code", Type: reflect.TypeFor[code]()}, "42")
	require.NoError(t, err)
	assert.Equal(t, code(42), got)

	got, err = parseKey(&schema.Attribute{Name: "Slug", Type: reflect.TypeFor[string]()}, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", got)

	_, err = parseKey(&schema.Attribute{Name: "Code", Type: reflect.TypeFor[uint8]()}, "300")
	assert.Error(t, err)

	_, err = parseKey(&schema.Attribute{Name: "At", Type: reflect.TypeFor[time.Time]()}, "now")
	assert.Error(t, err)
}

func TestRun_SQLiteEndToEnd(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Driver = config.DriverSQLite
	cfg.Database.ConnectionString = filepath.Join(t.TempDir(), "garage.db")
	cfg.Database.ConnectionTimeout = 0

	app, err := New(cfg, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, "main", app.effectiveDatabase)

	ctx := context.Background()
	require.NoError(t, app.Init(ctx))
	t.Cleanup(func() { _ = app.Shutdown(context.Background()) })

	require.NoError(t, app.InitSchema(ctx))
	require.NoError(t, app.Seed(ctx, 2))

	var out bytes.Buffer
	require.NoError(t, app.Run(ctx, &out))

	var cars []*garage.Car
	require.NoError(t, json.Unmarshal(out.Bytes(), &cars))
	require.Len(t, cars, 2)
	for _, car := range cars {
		assert.Len(t, car.Wheels, 4)
		assert.Len(t, car.Doors, 2)
		require.NotNil(t, car.Engine)
		assert.Contains(t, []int{100, 110}, car.Engine.Power)
		for _, wheel := range car.Wheels {
			assert.Equal(t, car.ID, wheel.CarID)
		}
	}
}

func TestDBSystem(t *testing.T) {
	assert.Equal(t, "sqlite", dbSystem(config.DriverSQLite).Value.AsString())
	assert.Equal(t, "mysql", dbSystem(config.DriverMySQL).Value.AsString())
}
