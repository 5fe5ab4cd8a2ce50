// Package memstore is an in-memory execution context for graph fetches.
// It keeps objects in per-type tables and records every lookup, which makes
// it the reference engine for batching tests and for running the fetcher
// without a database.
package memstore

import (
	"context"
	"fmt"
	"iter"
	"reflect"
	"sync"

	"flatfetch/internal/accessor"
	"flatfetch/internal/schema"
)

// Lookup describes one recorded lookup.
type Lookup struct {
	Entity    string
	Attribute string
	Keys      []any
	Rows      int
}

// Store holds objects in memory. It is safe for concurrent use.
type Store struct {
	// Tracker receives loaded-value notifications. Nil makes the store an
	// untracked context.
	Tracker accessor.Tracker

	mu       sync.Mutex
	tables   map[reflect.Type][]any
	lookups  []Lookup
	failures map[string]error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tables:   make(map[reflect.Type][]any),
		failures: make(map[string]error),
	}
}

// Put adds entity pointers to their tables, in order.
func (s *Store) Put(objs ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obj := range objs {
		t := reflect.TypeOf(obj)
		if t == nil || t.Kind() != reflect.Pointer {
			panic(fmt.Sprintf("memstore: Put expects entity pointers, got %T", obj))
		}
		s.tables[t.Elem()] = append(s.tables[t.Elem()], obj)
	}
}

// FailLookups makes every later lookup of entity fail with err.
func (s *Store) FailLookups(entity string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[entity] = err
}

// Lookups returns the recorded lookups in issue order.
func (s *Store) Lookups() []Lookup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Lookup(nil), s.lookups...)
}

// LookupCount returns the number of recorded lookups.
func (s *Store) LookupCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lookups)
}

// ResetLookups clears the recorded lookups.
func (s *Store) ResetLookups() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = nil
}

// Tracked implements accessor.Tracker.
func (s *Store) Tracked(obj any) bool {
	return s.Tracker != nil && s.Tracker.Tracked(obj)
}

// MarkLoaded implements accessor.Tracker.
func (s *Store) MarkLoaded(obj any, attribute string, value any) {
	if s.Tracker != nil {
		s.Tracker.MarkLoaded(obj, attribute, value)
	}
}

// Lookup yields the objects of target whose keyAttr value is in keys, in
// insertion order.
func (s *Store) Lookup(ctx context.Context, target *schema.Entity, keyAttr *schema.Attribute, keys []any) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(nil, err)
			return
		}
		acc, err := accessor.Of(target, keyAttr)
		if err != nil {
			yield(nil, err)
			return
		}
		wanted := make(map[any]struct{}, len(keys))
		for _, k := range keys {
			if nk, ok := accessor.Key(k); ok {
				wanted[nk] = struct{}{}
			}
		}

		s.mu.Lock()
		failure := s.failures[target.Name]
		var rows []any
		if failure == nil {
			for _, obj := range s.tables[target.Type] {
				if k, ok := accessor.Key(acc.Get(obj)); ok {
					if _, hit := wanted[k]; hit {
						rows = append(rows, obj)
					}
				}
			}
		}
		s.lookups = append(s.lookups, Lookup{
			Entity:    target.Name,
			Attribute: keyAttr.Name,
			Keys:      append([]any(nil), keys...),
			Rows:      len(rows),
		})
		s.mu.Unlock()

		if failure != nil {
			yield(nil, failure)
			return
		}
		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}
