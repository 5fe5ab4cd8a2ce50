package schema

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"flatfetch/internal/naming"
)

// TagName is the struct tag read by the registry.
//
// Grammar: `flatfetch:"column,option,key=value,..."`. Options:
//
//	pk          primary key column
//	to_one      single-valued association (field type *T)
//	to_many     collection association ([]*T or map[*T]struct{})
//	mapped      the to-one association is owned by the target side
//	fk=Name     foreign-key companion attribute (default: <Field>ID)
//	inverse=N   attribute on the target that points back
//	ref=Name    referenced attribute on the other side (default: primary key)
//
// A tag of "-" excludes the field. Untagged fields are ignored, except
// anonymous struct fields whose attributes are promoted.
const TagName = "flatfetch"

// TableNamer lets an entity override its derived table name.
type TableNamer interface {
	TableName() string
}

// Registry is a Provider built from tagged struct types.
type Registry struct {
	namer *naming.Namer

	mu     sync.RWMutex
	byType map[reflect.Type]*Entity
	byName map[string]*Entity
}

// NewRegistry creates an empty registry. A nil namer uses naming.Default.
func NewRegistry(namer *naming.Namer) *Registry {
	if namer == nil {
		namer = naming.Default()
	}
	return &Registry{
		namer:  namer,
		byType: make(map[reflect.Type]*Entity),
		byName: make(map[string]*Entity),
	}
}

// Register adds entity types. Each sample is a struct value or a pointer to one;
// only its type is used. Registering the same type twice is a no-op.
func (r *Registry) Register(samples ...any) error {
	for _, sample := range samples {
		t := reflect.TypeOf(sample)
		if t != nil && t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if t == nil || t.Kind() != reflect.Struct {
			return fmt.Errorf("register %T: entity must be a struct or pointer to struct", sample)
		}
		entity, err := r.build(t)
		if err != nil {
			return err
		}

		r.mu.Lock()
		if existing, ok := r.byName[entity.Name]; ok {
			r.mu.Unlock()
			if existing.Type == t {
				continue
			}
			return fmt.Errorf("register %s: entity name %q already used by %s", t, entity.Name, existing.Type)
		}
		r.byType[t] = entity
		r.byName[entity.Name] = entity
		r.mu.Unlock()
	}
	return nil
}

// MustRegister is like Register but panics on error. Intended for package-level
// model setup.
func (r *Registry) MustRegister(samples ...any) *Registry {
	if err := r.Register(samples...); err != nil {
		panic(err)
	}
	return r
}

// Entity resolves an entity by name.
func (r *Registry) Entity(name string) (*Entity, error) {
	r.mu.RLock()
	entity, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &SchemaError{Entity: name, Message: "entity is not registered"}
	}
	return entity, nil
}

// EntityOf resolves an entity by struct or pointer-to-struct type.
func (r *Registry) EntityOf(t reflect.Type) (*Entity, error) {
	if t == nil {
		return nil, &SchemaError{Entity: "<nil>", Message: "entity type is nil"}
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	entity, ok := r.byType[t]
	r.mu.RUnlock()
	if !ok {
		return nil, &SchemaError{Entity: t.String(), Message: "entity type is not registered"}
	}
	return entity, nil
}

// Entities returns all registered entities.
func (r *Registry) Entities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entity, 0, len(r.byName))
	for _, entity := range r.byName {
		out = append(out, entity)
	}
	return out
}

func (r *Registry) build(t reflect.Type) (*Entity, error) {
	entity := &Entity{
		Name:   t.Name(),
		Type:   t,
		Table:  r.tableName(t),
		byName: make(map[string]*Attribute),
	}
	if err := r.collect(entity, t, nil); err != nil {
		return nil, err
	}
	if entity.PrimaryKey == "" {
		if attr, ok := entity.byName["ID"]; ok && attr.Kind == Basic {
			entity.PrimaryKey = attr.Name
		} else {
			return nil, Errorf(entity.Name, "", "no primary key: tag a field with `%s:\",pk\"` or name it ID", TagName)
		}
	}
	return entity, nil
}

func (r *Registry) tableName(t reflect.Type) string {
	if tn, ok := reflect.New(t).Interface().(TableNamer); ok {
		if name := tn.TableName(); name != "" {
			return name
		}
	}
	return r.namer.TableName(t.Name())
}

func (r *Registry) collect(entity *Entity, t reflect.Type, prefix []int) error {
	for i := range t.NumField() {
		field := t.Field(i)
		index := append(append([]int(nil), prefix...), i)
		tag, tagged := field.Tag.Lookup(TagName)
		if tag == "-" {
			continue
		}
		if !tagged {
			if field.Anonymous && field.Type.Kind() == reflect.Struct {
				if err := r.collect(entity, field.Type, index); err != nil {
					return err
				}
			}
			continue
		}
		attr, pk, err := r.parseField(entity.Name, field, index, tag)
		if err != nil {
			return err
		}
		if _, dup := entity.byName[attr.Name]; dup {
			return Errorf(entity.Name, attr.Name, "attribute declared twice")
		}
		if pk {
			if entity.PrimaryKey != "" {
				return Errorf(entity.Name, attr.Name, "composite primary keys are not supported (already have %s)", entity.PrimaryKey)
			}
			entity.PrimaryKey = attr.Name
		}
		entity.attributes = append(entity.attributes, attr)
		entity.byName[attr.Name] = attr
	}
	return nil
}

func (r *Registry) parseField(entityName string, field reflect.StructField, index []int, tag string) (*Attribute, bool, error) {
	parts := strings.Split(tag, ",")
	attr := &Attribute{
		Name:     field.Name,
		Column:   strings.TrimSpace(parts[0]),
		Type:     field.Type,
		Index:    index,
		Exported: field.IsExported(),
	}
	var pk, mapped bool
	for _, opt := range parts[1:] {
		key, value, _ := strings.Cut(strings.TrimSpace(opt), "=")
		switch key {
		case "pk":
			pk = true
		case "to_one":
			attr.Kind = ToOne
		case "to_many":
			attr.Kind = ToMany
		case "mapped":
			mapped = true
		case "fk":
			attr.ForeignKey = value
		case "inverse":
			attr.Inverse = value
		case "ref":
			attr.Referenced = value
		case "":
		default:
			return nil, false, Errorf(entityName, field.Name, "unknown %s tag option %q", TagName, key)
		}
	}

	switch attr.Kind {
	case Basic:
		if attr.Column == "" {
			attr.Column = r.namer.ColumnName(field.Name)
		}
	case ToOne:
		if pk {
			return nil, false, Errorf(entityName, field.Name, "an association cannot be a primary key")
		}
		if field.Type.Kind() != reflect.Pointer || field.Type.Elem().Kind() != reflect.Struct {
			return nil, false, Errorf(entityName, field.Name, "to-one association must be a pointer to a struct, got %s", field.Type)
		}
		attr.TargetType = field.Type.Elem()
		attr.Owning = !mapped
		if attr.Owning && attr.ForeignKey == "" {
			attr.ForeignKey = field.Name + "ID"
		}
		attr.Column = ""
	case ToMany:
		if pk || mapped {
			return nil, false, Errorf(entityName, field.Name, "invalid options for a to-many association")
		}
		elem, kind := collectionShape(field.Type)
		if elem == nil {
			return nil, false, Errorf(entityName, field.Name, "cannot determine the element entity of %s", field.Type)
		}
		attr.TargetType = elem
		attr.Collection = kind
		attr.Column = ""
	}
	if attr.TargetType != nil {
		attr.Target = attr.TargetType.Name()
	}
	return attr, pk, nil
}

// collectionShape classifies a to-many field type and returns the struct type
// of its elements. Unknown containers still report their element type so that
// the unsupported kind surfaces when the association is first fetched.
func collectionShape(t reflect.Type) (reflect.Type, CollectionKind) {
	kind := Unsupported
	var elem reflect.Type
	switch t.Kind() {
	case reflect.Slice:
		elem = t.Elem()
		if elem.Kind() == reflect.Pointer {
			kind = List
		}
	case reflect.Map:
		elem = t.Key()
		value := t.Elem()
		isMarker := value.Kind() == reflect.Bool || (value.Kind() == reflect.Struct && value.NumField() == 0)
		if elem.Kind() == reflect.Pointer && isMarker {
			kind = Set
		} else if elem.Kind() != reflect.Pointer {
			elem = t.Elem()
		}
	case reflect.Array:
		elem = t.Elem()
	default:
		return nil, Unsupported
	}
	for elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return nil, Unsupported
	}
	return elem, kind
}
