package strategy

import (
	"context"
	"reflect"

	"flatfetch/internal/accessor"
	"flatfetch/internal/schema"
)

// toMany fetches a collection association. The targets hold the foreign key
// of the inverse to-one association.
type toMany struct {
	plan
	rootKeyAcc  accessor.Accessor
	targetFKAcc accessor.Accessor
	newEmpty    func(size int) reflect.Value
	add         func(coll, elem reflect.Value) reflect.Value
}

func newToMany(p plan) (*toMany, error) {
	if p.attr.Inverse == "" {
		return nil, &schema.UnsupportedMappingError{
			Entity:    p.entity.Name,
			Attribute: p.attr.Name,
			Reason:    "to-many associations must declare inverse=<attribute on " + p.target.Name + ">",
		}
	}
	collType := p.attr.Type
	elemType := entityPointer(p.target)

	s := &toMany{}
	switch {
	case p.attr.Collection == schema.List && collType.Elem() == elemType:
		s.newEmpty = func(size int) reflect.Value { return reflect.MakeSlice(collType, 0, size) }
		s.add = func(coll, elem reflect.Value) reflect.Value { return reflect.Append(coll, elem) }
	case p.attr.Collection == schema.Set && collType.Key() == elemType:
		marker := reflect.Zero(collType.Elem())
		if collType.Elem().Kind() == reflect.Bool {
			marker = reflect.ValueOf(true).Convert(collType.Elem())
		}
		s.newEmpty = func(size int) reflect.Value { return reflect.MakeMapWithSize(collType, size) }
		s.add = func(coll, elem reflect.Value) reflect.Value {
			coll.SetMapIndex(elem, marker)
			return coll
		}
	default:
		return nil, &schema.UnsupportedCollectionKindError{Entity: p.entity.Name, Attribute: p.attr.Name, Type: collType}
	}

	inverse, err := explicitInverse(&p, true)
	if err != nil {
		return nil, err
	}
	if p.inverseAcc, err = accessor.Of(p.target, inverse); err != nil {
		return nil, err
	}
	if s.targetFKAcc, err = accessor.ForeignKey(p.target, inverse); err != nil {
		return nil, err
	}
	if s.rootKeyAcc, err = referencedKey(p.entity, p.target.Name, inverse); err != nil {
		return nil, err
	}
	if err := checkKeyTypes(&p, s.targetFKAcc.Attribute(), s.rootKeyAcc.Attribute(), p.target.Name, p.entity.Name); err != nil {
		return nil, err
	}
	s.plan = p
	return s, nil
}

func (s *toMany) Kind() Kind { return ToMany }

func (s *toMany) Fetch(ctx context.Context, exec Executor, roots []any, batchSize int) ([]any, error) {
	keys := distinctKeys(roots, s.rootKeyAcc)
	byKey := make(map[any][]any, len(keys))
	fkAttr := s.targetFKAcc.Attribute()
	err := lookupChunks(ctx, exec, s.target, fkAttr, keys, batchSize, func(obj any) {
		if k, ok := accessor.Key(s.targetFKAcc.Get(obj)); ok {
			byKey[k] = append(byKey[k], obj)
		}
	})
	if err != nil {
		return nil, err
	}

	out := newAssigned(len(keys))
	for _, root := range roots {
		var children []any
		if k, ok := accessor.Key(s.rootKeyAcc.Get(root)); ok {
			children = byKey[k]
		}
		coll := s.newEmpty(len(children))
		for _, child := range children {
			coll = s.add(coll, reflect.ValueOf(child))
		}
		s.fetchAcc.Set(exec, root, coll.Interface())
		for _, child := range children {
			s.inverseAcc.Set(exec, child, root)
			out.add(child)
		}
	}
	return out.list, nil
}
