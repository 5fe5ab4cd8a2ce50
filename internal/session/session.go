// Package session provides a change-tracking execution context.
//
// A Session is an identity map of entities keyed by (entity, primary key)
// plus the loaded baseline of every attribute. Values installed by a graph
// fetch are recorded through MarkLoaded, so Dirty only reports changes made
// by the caller afterwards.
package session

import (
	"fmt"
	"reflect"
	"sync"

	"flatfetch/internal/accessor"
	"flatfetch/internal/schema"
)

type identity struct {
	entity *schema.Entity
	key    any
}

type record struct {
	entity *schema.Entity
	loaded map[string]any
}

// Session tracks entity instances. It is safe for concurrent use.
type Session struct {
	provider schema.Provider

	mu         sync.Mutex
	identities map[identity]any
	records    map[any]*record
}

// New creates an empty session resolving entities through provider.
func New(provider schema.Provider) *Session {
	return &Session{
		provider:   provider,
		identities: make(map[identity]any),
		records:    make(map[any]*record),
	}
}

// Attach starts tracking obj and snapshots its current attribute values as
// the loaded baseline. When an instance with the same primary key is
// already tracked, that instance is returned instead and obj is ignored.
func (s *Session) Attach(obj any) (any, error) {
	if v := reflect.ValueOf(obj); v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, fmt.Errorf("attach %T: expected a non-nil entity pointer", obj)
	}
	entity, err := s.provider.EntityOf(reflect.TypeOf(obj))
	if err != nil {
		return nil, err
	}
	pk, err := accessor.PrimaryKey(entity)
	if err != nil {
		return nil, err
	}
	key, ok := accessor.Key(pk.Get(obj))
	if !ok {
		return nil, fmt.Errorf("attach %s: primary key is not set", entity.Name)
	}
	snapshot, err := snapshotOf(entity, obj)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	id := identity{entity: entity, key: key}
	if existing, ok := s.identities[id]; ok {
		return existing, nil
	}
	s.identities[id] = obj
	s.records[obj] = &record{entity: entity, loaded: snapshot}
	return obj, nil
}

// Get returns the tracked instance of entity with the given primary key.
func (s *Session) Get(entity *schema.Entity, key any) (any, bool) {
	normalized, ok := accessor.Key(key)
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.identities[identity{entity: entity, key: normalized}]
	return obj, ok
}

// Detach stops tracking obj.
func (s *Session) Detach(obj any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[obj]
	if !ok {
		return
	}
	delete(s.records, obj)
	for id, tracked := range s.identities {
		if id.entity == rec.entity && tracked == obj {
			delete(s.identities, id)
			break
		}
	}
}

// Len returns the number of tracked instances.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Tracked reports whether obj is managed by the session.
func (s *Session) Tracked(obj any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[obj]
	return ok
}

// MarkLoaded records value as the clean state of attribute on obj.
func (s *Session) MarkLoaded(obj any, attribute string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[obj]
	if !ok {
		return
	}
	if attr, ok := rec.entity.Attribute(attribute); ok && value == nil {
		value = reflect.Zero(attr.Type).Interface()
	}
	rec.loaded[attribute] = snapshotValue(value)
}

// Dirty returns the names of attributes of obj whose current value differs
// from the loaded baseline, in declaration order.
func (s *Session) Dirty(obj any) ([]string, error) {
	s.mu.Lock()
	rec, ok := s.records[obj]
	var loaded map[string]any
	if ok {
		loaded = make(map[string]any, len(rec.loaded))
		for name, value := range rec.loaded {
			loaded[name] = value
		}
	}
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dirty check on untracked %T", obj)
	}

	var dirty []string
	for _, attr := range rec.entity.Attributes() {
		baseline, ok := loaded[attr.Name]
		if !ok {
			continue
		}
		acc, err := accessor.Of(rec.entity, attr)
		if err != nil {
			return nil, err
		}
		if !sameValue(attr, baseline, acc.Get(obj)) {
			dirty = append(dirty, attr.Name)
		}
	}
	return dirty, nil
}

func snapshotOf(entity *schema.Entity, obj any) (map[string]any, error) {
	out := make(map[string]any, len(entity.Attributes()))
	for _, attr := range entity.Attributes() {
		acc, err := accessor.Of(entity, attr)
		if err != nil {
			return nil, err
		}
		out[attr.Name] = snapshotValue(acc.Get(obj))
	}
	return out, nil
}

// snapshotValue copies collections so that later in-place changes show up
// as differences.
func snapshotValue(value any) any {
	if value == nil {
		return nil
	}
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Slice:
		if v.IsNil() {
			return value
		}
		cp := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		reflect.Copy(cp, v)
		return cp.Interface()
	case reflect.Map:
		if v.IsNil() {
			return value
		}
		cp := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			cp.SetMapIndex(iter.Key(), iter.Value())
		}
		return cp.Interface()
	}
	return value
}

func sameValue(attr *schema.Attribute, a, b any) bool {
	switch attr.Kind {
	case schema.ToOne:
		return a == b
	case schema.ToMany:
		return sameMembers(reflect.ValueOf(a), reflect.ValueOf(b))
	default:
		return reflect.DeepEqual(a, b)
	}
}

// sameMembers compares collections by element identity.
func sameMembers(a, b reflect.Value) bool {
	if !a.IsValid() || !b.IsValid() {
		return a.IsValid() == b.IsValid()
	}
	if a.Kind() != b.Kind() || a.Len() != b.Len() {
		return false
	}
	switch a.Kind() {
	case reflect.Slice:
		for i := range a.Len() {
			if a.Index(i).Interface() != b.Index(i).Interface() {
				return false
			}
		}
		return true
	case reflect.Map:
		iter := a.MapRange()
		for iter.Next() {
			if !b.MapIndex(iter.Key()).IsValid() {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a.Interface(), b.Interface())
}
