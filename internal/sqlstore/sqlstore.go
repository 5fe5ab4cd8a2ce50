// Package sqlstore is a MySQL/TiDB execution context for graph fetches.
// Lookups become one SELECT ... WHERE key IN (...) per chunk, rows are
// scanned into fresh entity structs, and, when a session is attached,
// identical rows resolve to the instance the session already tracks.
package sqlstore

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"sync"

	"flatfetch/internal/accessor"
	"flatfetch/internal/dbexec"
	"flatfetch/internal/logging"
	"flatfetch/internal/schema"
	"flatfetch/internal/session"
	"flatfetch/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// Store runs lookups through a dbexec.QueryExecutor.
type Store struct {
	exec     dbexec.QueryExecutor
	schema   schema.Provider
	session  *session.Session
	logger   *logging.Logger
	database string

	bindings sync.Map // *schema.Entity -> *binding
}

// Option configures a Store.
type Option func(*Store)

// WithSession makes the store attach every loaded row to sess and report
// loaded associations to it.
func WithSession(sess *session.Session) Option {
	return func(s *Store) { s.session = sess }
}

// WithLogger sets the logger used for statement logging.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithDatabase qualifies every table with the database name.
func WithDatabase(name string) Option {
	return func(s *Store) { s.database = name }
}

// New creates a store.
func New(exec dbexec.QueryExecutor, schemas schema.Provider, opts ...Option) *Store {
	s := &Store{exec: exec, schema: schemas}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Session returns the attached session, if any.
func (s *Store) Session() *session.Session {
	return s.session
}

// Tracked implements accessor.Tracker.
func (s *Store) Tracked(obj any) bool {
	return s.session != nil && s.session.Tracked(obj)
}

// MarkLoaded implements accessor.Tracker.
func (s *Store) MarkLoaded(obj any, attribute string, value any) {
	if s.session != nil {
		s.session.MarkLoaded(obj, attribute, value)
	}
}

// binding caches the column layout of one entity.
type binding struct {
	entity  *schema.Entity
	table   string
	columns []*schema.Attribute
	quoted  []string
	access  []accessor.Accessor
}

func (s *Store) binding(entity *schema.Entity) (*binding, error) {
	if cached, ok := s.bindings.Load(entity); ok {
		return cached.(*binding), nil
	}
	b := &binding{
		entity:  entity,
		table:   sqlutil.QualifiedName(s.database, entity.Table),
		columns: entity.Columns(),
	}
	if len(b.columns) == 0 {
		return nil, schema.Errorf(entity.Name, "", "entity maps no columns")
	}
	for _, col := range b.columns {
		acc, err := accessor.Of(entity, col)
		if err != nil {
			return nil, err
		}
		b.quoted = append(b.quoted, sqlutil.QuoteIdentifier(col.Column))
		b.access = append(b.access, acc)
	}
	actual, _ := s.bindings.LoadOrStore(entity, b)
	return actual.(*binding), nil
}

// Lookup yields the rows of target whose keyAttr column is one of keys, as
// entity pointers.
func (s *Store) Lookup(ctx context.Context, target *schema.Entity, keyAttr *schema.Attribute, keys []any) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if keyAttr.Kind != schema.Basic || keyAttr.Column == "" {
			yield(nil, schema.Errorf(target.Name, keyAttr.Name, "lookup key must be a mapped column"))
			return
		}
		b, err := s.binding(target)
		if err != nil {
			yield(nil, err)
			return
		}
		values := make([]any, 0, len(keys))
		for _, k := range keys {
			if nk, ok := accessor.Key(k); ok {
				values = append(values, nk)
			}
		}
		if len(values) == 0 {
			return
		}

		query, args, err := sq.Select(b.quoted...).
			From(b.table).
			Where(sq.Eq{sqlutil.QuoteIdentifier(keyAttr.Column): values}).
			PlaceholderFormat(sq.Question).
			ToSql()
		if err != nil {
			yield(nil, err)
			return
		}
		for obj, err := range s.query(ctx, b, query, args) {
			if !yield(obj, err) || err != nil {
				return
			}
		}
	}
}

// List returns up to limit rows of entity ordered by primary key. A
// non-positive limit returns every row.
func (s *Store) List(ctx context.Context, entity *schema.Entity, limit int) ([]any, error) {
	b, err := s.binding(entity)
	if err != nil {
		return nil, err
	}
	pk, ok := entity.Attribute(entity.PrimaryKey)
	if !ok {
		return nil, schema.Errorf(entity.Name, entity.PrimaryKey, "no such attribute")
	}
	builder := sq.Select(b.quoted...).
		From(b.table).
		OrderBy(sqlutil.QuoteIdentifier(pk.Column))
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return nil, err
	}
	return collect(s.query(ctx, b, query, args))
}

// Load returns the rows of entity with the given primary keys, in row order.
func (s *Store) Load(ctx context.Context, entity *schema.Entity, ids ...any) ([]any, error) {
	pk, ok := entity.Attribute(entity.PrimaryKey)
	if !ok {
		return nil, schema.Errorf(entity.Name, entity.PrimaryKey, "no such attribute")
	}
	return collect(s.Lookup(ctx, entity, pk, ids))
}

// Find is the typed form of List.
func Find[T any](ctx context.Context, s *Store, limit int) ([]*T, error) {
	entity, err := s.schema.EntityOf(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	rows, err := s.List(ctx, entity, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(rows))
	for i, row := range rows {
		out[i] = row.(*T)
	}
	return out, nil
}

func (s *Store) query(ctx context.Context, b *binding, query string, args []any) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		s.log(ctx).Debug("sql query", "entity", b.entity.Name, "query", query, "args", len(args))
		rows, err := s.exec.QueryContext(ctx, query, args...)
		if err != nil {
			yield(nil, fmt.Errorf("query %s: %w", b.table, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			obj, err := s.scan(b, rows)
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(obj, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("query %s: %w", b.table, err))
		}
	}
}

func (s *Store) scan(b *binding, rows dbexec.Rows) (any, error) {
	dest := make([]any, len(b.columns))
	for i, col := range b.columns {
		dest[i] = reflect.New(col.Type).Interface()
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", b.entity.Name, err)
	}

	obj := reflect.New(b.entity.Type).Interface()
	for i, acc := range b.access {
		acc.Set(nil, obj, reflect.ValueOf(dest[i]).Elem().Interface())
	}
	if s.session == nil {
		return obj, nil
	}
	return s.session.Attach(obj)
}

// Insert writes objs with one multi-row INSERT per entity type, in the
// order the types first appear, and attaches them to the session.
func (s *Store) Insert(ctx context.Context, objs ...any) error {
	var order []*binding
	grouped := make(map[*binding][]any)
	for _, obj := range objs {
		t := reflect.TypeOf(obj)
		if t == nil || t.Kind() != reflect.Pointer || reflect.ValueOf(obj).IsNil() {
			return fmt.Errorf("insert %T: expected a non-nil entity pointer", obj)
		}
		entity, err := s.schema.EntityOf(t)
		if err != nil {
			return err
		}
		b, err := s.binding(entity)
		if err != nil {
			return err
		}
		if _, seen := grouped[b]; !seen {
			order = append(order, b)
		}
		grouped[b] = append(grouped[b], obj)
	}

	for _, b := range order {
		builder := sq.Insert(b.table).Columns(b.quoted...).PlaceholderFormat(sq.Question)
		for _, obj := range grouped[b] {
			values := make([]any, len(b.access))
			for i, acc := range b.access {
				values[i] = acc.Get(obj)
			}
			builder = builder.Values(values...)
		}
		query, args, err := builder.ToSql()
		if err != nil {
			return err
		}
		s.log(ctx).Debug("sql insert", "entity", b.entity.Name, "rows", len(grouped[b]))
		if _, err := s.exec.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %s: %w", b.table, err)
		}
		if s.session != nil {
			for _, obj := range grouped[b] {
				if _, err := s.session.Attach(obj); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (s *Store) log(ctx context.Context) *logging.Logger {
	if s.logger != nil {
		return s.logger
	}
	return logging.FromContext(ctx)
}

func collect(seq iter.Seq2[any, error]) ([]any, error) {
	var out []any
	for obj, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}
