package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"flatfetch/internal/dbexec"
	"flatfetch/internal/garage"
	"flatfetch/internal/schema"
	"flatfetch/internal/sqlstore"

	"github.com/google/uuid"
)

var uuidType = reflect.TypeFor[uuid.UUID]()

func (a *App) ready() error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.fetcher == nil {
		return fmt.Errorf("app is not initialized")
	}
	return nil
}

// InitSchema creates the garage tables.
func (a *App) InitSchema(ctx context.Context) error {
	if err := a.ready(); err != nil {
		return err
	}
	driver := a.cfg.Database.DriverName()
	exec := dbexec.NewStandardExecutor(a.db)
	for _, stmt := range garage.Statements(garage.DDLFor(driver)) {
		if _, err := exec.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create garage schema: %w", err)
		}
	}
	a.logger.Info("garage schema created", slog.String("driver", driver))
	return nil
}

// Seed inserts n sample cars with their wheels, doors and engines in one
// transaction.
func (a *App) Seed(ctx context.Context, n int) error {
	if err := a.ready(); err != nil {
		return err
	}
	if n <= 0 {
		return nil
	}
	_, all := garage.Sample(n)
	err := dbexec.InTx(ctx, a.db, func(exec dbexec.QueryExecutor) error {
		return sqlstore.New(exec, a.schemas, sqlstore.WithLogger(a.logger)).Insert(ctx, all...)
	})
	if err != nil {
		return fmt.Errorf("failed to seed garage: %w", err)
	}
	a.logger.Info("garage seeded", slog.Int("cars", n), slog.Int("rows", len(all)))
	return nil
}

// graphName returns the configured graph, defaulting to the full car graph.
func (a *App) graphName() string {
	if a.cfg.Fetch.Graph != "" {
		return a.cfg.Fetch.Graph
	}
	return garage.CarFull
}

// Roots loads the root objects of the configured fetch: the rows with the
// configured ids, or up to the configured limit.
func (a *App) Roots(ctx context.Context) (*schema.Entity, []any, error) {
	if err := a.ready(); err != nil {
		return nil, nil, err
	}
	name := a.graphName()
	g, err := a.graphs.Graph(name)
	if err != nil {
		return nil, nil, err
	}
	entityName := a.cfg.Fetch.Entity
	if entityName == "" {
		entityName = g.Type
	}
	if entityName == "" {
		return nil, nil, fmt.Errorf("graph %q declares no type; set fetch.entity", name)
	}
	entity, err := a.schemas.Entity(entityName)
	if err != nil {
		return nil, nil, err
	}

	if len(a.cfg.Fetch.IDs) == 0 {
		roots, err := a.store.List(ctx, entity, a.cfg.Fetch.Limit)
		return entity, roots, err
	}

	pk, ok := entity.Attribute(entity.PrimaryKey)
	if !ok {
		return nil, nil, schema.Errorf(entity.Name, entity.PrimaryKey, "no such attribute")
	}
	ids := make([]any, 0, len(a.cfg.Fetch.IDs))
	for _, raw := range a.cfg.Fetch.IDs {
		id, err := parseKey(pk, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch.ids: %w", err)
		}
		ids = append(ids, id)
	}
	roots, err := a.store.Load(ctx, entity, ids...)
	return entity, roots, err
}

// Run loads the roots, fetches the configured graph for them and writes
// the result to w as indented JSON.
func (a *App) Run(ctx context.Context, w io.Writer) error {
	entity, roots, err := a.Roots(ctx)
	if err != nil {
		return fmt.Errorf("failed to load roots: %w", err)
	}

	name := a.graphName()
	start := time.Now()
	if err := a.fetcher.Fetch(ctx, entity.Type, roots, name); err != nil {
		return err
	}
	a.logger.Info("fetch complete",
		slog.String("graph", name),
		slog.String("entity", entity.Name),
		slog.Int("roots", len(roots)),
		slog.Int("tracked", a.session.Len()),
		slog.Duration("elapsed", time.Since(start)),
	)

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if roots == nil {
		roots = []any{}
	}
	return enc.Encode(roots)
}

// WriteMetrics writes the collected metrics in the Prometheus text format.
// It writes nothing while metrics are disabled.
func (a *App) WriteMetrics(w io.Writer) error {
	a.stateMu.Lock()
	mp := a.meterProvider
	a.stateMu.Unlock()
	if mp == nil {
		return nil
	}
	return mp.WriteText(w)
}

// parseKey converts a command line key to the Go type of attr.
func parseKey(attr *schema.Attribute, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if attr.Type == uuidType {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", attr.Name, raw, err)
		}
		return id, nil
	}
	v := reflect.New(attr.Type).Elem()
	switch attr.Type.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, attr.Type.Bits())
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", attr.Name, raw, err)
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, attr.Type.Bits())
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", attr.Name, raw, err)
		}
		v.SetUint(n)
	default:
		return nil, fmt.Errorf("%s: keys of type %s cannot be given on the command line", attr.Name, attr.Type)
	}
	return v.Interface(), nil
}
