// Package accessor reads and writes entity attributes through reflection.
//
// An accessor is bound to one attribute and is backed either by direct
// struct-field access (exported fields) or by a getter/setter method pair
// (Name() / SetName(v)) for unexported fields. The shape is chosen once when
// the accessor is built. Writes go through a Tracker so that values installed
// by a fetch are recorded as the loaded baseline instead of a user change.
package accessor

import (
	"fmt"
	"reflect"

	"flatfetch/internal/naming"
	"flatfetch/internal/schema"
)

// Tracker is the change-tracking capability of an execution context.
type Tracker interface {
	// Tracked reports whether obj is managed by the context.
	Tracked(obj any) bool
	// MarkLoaded records value as the clean baseline of attribute on obj.
	// Objects without a record are ignored.
	MarkLoaded(obj any, attribute string, value any)
}

// Accessor gets and sets one attribute on entity pointers.
type Accessor interface {
	Get(owner any) any
	// Set assigns value and, when owner is tracked, marks it as loaded.
	Set(tracker Tracker, owner any, value any)
	Attribute() *schema.Attribute
	String() string
}

type base struct {
	entity string
	attr   *schema.Attribute
}

func (b base) Attribute() *schema.Attribute { return b.attr }

func (b base) valueOf(value any) reflect.Value {
	if value == nil {
		return reflect.Zero(b.attr.Type)
	}
	v := reflect.ValueOf(value)
	if v.Type() != b.attr.Type && v.Type().ConvertibleTo(b.attr.Type) {
		v = v.Convert(b.attr.Type)
	}
	return v
}

func (b base) markLoaded(tracker Tracker, owner any, value any) {
	if tracker == nil || !tracker.Tracked(owner) {
		return
	}
	tracker.MarkLoaded(owner, b.attr.Name, value)
}

type fieldAccessor struct {
	base
}

func (a *fieldAccessor) field(owner any) reflect.Value {
	return reflect.ValueOf(owner).Elem().FieldByIndex(a.attr.Index)
}

func (a *fieldAccessor) Get(owner any) any {
	return a.field(owner).Interface()
}

func (a *fieldAccessor) Set(tracker Tracker, owner any, value any) {
	a.field(owner).Set(a.valueOf(value))
	a.markLoaded(tracker, owner, value)
}

func (a *fieldAccessor) String() string {
	return fmt.Sprintf("accessor(%s#%s)", a.entity, a.attr.Name)
}

type methodAccessor struct {
	base
	getter reflect.Method
	setter reflect.Method
}

func (a *methodAccessor) Get(owner any) any {
	return a.getter.Func.Call([]reflect.Value{reflect.ValueOf(owner)})[0].Interface()
}

func (a *methodAccessor) Set(tracker Tracker, owner any, value any) {
	a.setter.Func.Call([]reflect.Value{reflect.ValueOf(owner), a.valueOf(value)})
	a.markLoaded(tracker, owner, value)
}

func (a *methodAccessor) String() string {
	return fmt.Sprintf("accessor(%s#%s,%s#%s)", a.entity, a.getter.Name, a.entity, a.setter.Name)
}

// For builds an accessor for the named attribute of entity.
func For(entity *schema.Entity, name string) (Accessor, error) {
	attr, ok := entity.Attribute(name)
	if !ok {
		return nil, schema.Errorf(entity.Name, name, "no such attribute")
	}
	return Of(entity, attr)
}

// Of builds an accessor for attr, which must belong to entity.
func Of(entity *schema.Entity, attr *schema.Attribute) (Accessor, error) {
	b := base{entity: entity.Name, attr: attr}
	if attr.Exported {
		return &fieldAccessor{base: b}, nil
	}

	ptr := reflect.PointerTo(entity.Type)
	getterName := naming.ExportedName(attr.Name)
	setterName := "Set" + getterName
	getter, ok := ptr.MethodByName(getterName)
	if !ok || getter.Type.NumIn() != 1 || getter.Type.NumOut() != 1 || getter.Type.Out(0) != attr.Type {
		return nil, schema.Errorf(entity.Name, attr.Name,
			"unexported field needs a getter %s() %s", getterName, attr.Type)
	}
	setter, ok := ptr.MethodByName(setterName)
	if !ok || setter.Type.NumIn() != 2 || setter.Type.In(1) != attr.Type || setter.Type.NumOut() != 0 {
		return nil, schema.Errorf(entity.Name, attr.Name,
			"unexported field needs a setter %s(%s)", setterName, attr.Type)
	}
	return &methodAccessor{base: b, getter: getter, setter: setter}, nil
}

// PrimaryKey builds an accessor for the primary key of entity.
func PrimaryKey(entity *schema.Entity) (Accessor, error) {
	return For(entity, entity.PrimaryKey)
}

// ForeignKey builds an accessor for the key companion of an owning to-one
// association declared on entity.
func ForeignKey(entity *schema.Entity, assoc *schema.Attribute) (Accessor, error) {
	if assoc.Kind != schema.ToOne || !assoc.Owning {
		return nil, schema.Errorf(entity.Name, assoc.Name, "only owning to-one associations have a foreign key companion")
	}
	companion, ok := entity.Attribute(assoc.ForeignKey)
	if !ok {
		return nil, schema.Errorf(entity.Name, assoc.Name,
			"expected foreign key attribute %q on %s", assoc.ForeignKey, entity.Name)
	}
	if companion.Kind != schema.Basic {
		return nil, schema.Errorf(entity.Name, assoc.Name,
			"foreign key companion %q must be a column, not an association", assoc.ForeignKey)
	}
	return Of(entity, companion)
}
