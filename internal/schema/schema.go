// Package schema describes the entity types that can take part in a graph
// fetch: their tables, columns, primary keys and associations.
package schema

import (
	"fmt"
	"reflect"
)

// Kind classifies an attribute.
type Kind int

const (
	// Basic is a plain column value.
	Basic Kind = iota
	// ToOne is a single-valued association (pointer to another entity).
	ToOne
	// ToMany is a collection-valued association.
	ToMany
)

func (k Kind) String() string {
	switch k {
	case Basic:
		return "basic"
	case ToOne:
		return "to_one"
	case ToMany:
		return "to_many"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// CollectionKind is the declared container type of a to-many association.
type CollectionKind int

const (
	// NoCollection marks non-collection attributes.
	NoCollection CollectionKind = iota
	// List is a slice of entity pointers ([]*T).
	List
	// Set is a map keyed by entity pointer (map[*T]struct{} or map[*T]bool).
	Set
	// Unsupported is any other container shape.
	Unsupported
)

func (c CollectionKind) String() string {
	switch c {
	case NoCollection:
		return "none"
	case List:
		return "list"
	case Set:
		return "set"
	default:
		return "unsupported"
	}
}

// Attribute describes one mapped field of an entity.
type Attribute struct {
	// Name is the Go field name; fetch graphs refer to attributes by it.
	Name string
	// Column is the SQL column for basic attributes.
	Column string
	Kind   Kind
	// Type is the declared Go type of the field.
	Type reflect.Type
	// Index locates the field within the declaring struct.
	Index []int
	// Exported reports whether the field can be accessed directly.
	Exported bool

	// Target is the entity name of the associated type.
	Target string
	// TargetType is the struct type of the associated entity.
	TargetType reflect.Type
	// Owning is true for to-one associations that store the foreign key.
	Owning bool
	// ForeignKey names the basic attribute holding the key value of an owning
	// to-one association.
	ForeignKey string
	// Inverse names the attribute on the target pointing back, when declared.
	Inverse string
	// Referenced names the attribute on the referenced side that the foreign
	// key points at. Empty means the primary key.
	Referenced string
	Collection CollectionKind
}

// IsAssociation reports whether the attribute points at another entity.
func (a *Attribute) IsAssociation() bool {
	return a.Kind == ToOne || a.Kind == ToMany
}

// Entity describes a registered struct type.
type Entity struct {
	Name  string
	Type  reflect.Type
	Table string
	// PrimaryKey is the name of the primary key attribute.
	PrimaryKey string

	attributes []*Attribute
	byName     map[string]*Attribute
}

// Attribute looks up an attribute by name.
func (e *Entity) Attribute(name string) (*Attribute, bool) {
	attr, ok := e.byName[name]
	return attr, ok
}

// Attributes returns all attributes in declaration order.
func (e *Entity) Attributes() []*Attribute {
	return e.attributes
}

// Columns returns the basic attributes in declaration order.
func (e *Entity) Columns() []*Attribute {
	var cols []*Attribute
	for _, attr := range e.attributes {
		if attr.Kind == Basic {
			cols = append(cols, attr)
		}
	}
	return cols
}

// SingularAssociations returns the to-one attributes in declaration order.
func (e *Entity) SingularAssociations() []*Attribute {
	var out []*Attribute
	for _, attr := range e.attributes {
		if attr.Kind == ToOne {
			out = append(out, attr)
		}
	}
	return out
}

func (e *Entity) String() string {
	return e.Name
}

// Provider resolves entity metadata. Implementations must be idempotent and
// safe for concurrent use.
type Provider interface {
	// Entity resolves an entity by name.
	Entity(name string) (*Entity, error)
	// EntityOf resolves an entity by struct type or pointer-to-struct type.
	EntityOf(t reflect.Type) (*Entity, error)
}
