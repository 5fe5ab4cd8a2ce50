// Package strategy implements the batched loading of one association for a
// set of root entities.
//
// Each association maps to exactly one of three strategies, chosen once from
// the schema metadata:
//
//   - to-one, owning: the roots hold the foreign key; targets are looked up
//     by their referenced key. Many-to-one associations use this strategy
//     without an inverse.
//   - to-one, inverse: the targets hold the foreign key pointing back at the
//     roots; targets are looked up by that foreign key.
//   - to-many: the targets hold the foreign key; they are grouped per root
//     into a freshly built collection.
//
// A fetch collects the distinct non-nil keys of the roots, splits them into
// chunks of at most batchSize, issues one lookup per chunk and assigns the
// results through accessors, wiring the inverse side when one is known.
package strategy

import (
	"context"
	"fmt"
	"iter"

	"flatfetch/internal/accessor"
	"flatfetch/internal/schema"
)

// Kind identifies a strategy variant.
type Kind int

const (
	ToOneOwning Kind = iota
	ToOneInverse
	ToMany
)

func (k Kind) String() string {
	switch k {
	case ToOneOwning:
		return "to-one-owning"
	case ToOneInverse:
		return "to-one-inverse"
	case ToMany:
		return "to-many"
	default:
		return fmt.Sprintf("strategy(%d)", int(k))
	}
}

// Executor is the execution context a strategy runs against: a query engine
// that can look up entities by key, and a change tracker for assignments.
type Executor interface {
	accessor.Tracker
	// Lookup yields every instance of target whose keyAttr value is one of
	// keys. Yielded values are entity pointers. An error ends the sequence.
	Lookup(ctx context.Context, target *schema.Entity, keyAttr *schema.Attribute, keys []any) iter.Seq2[any, error]
}

// Strategy loads one association for many roots.
type Strategy interface {
	Kind() Kind
	// Entity is the declaring (root) entity.
	Entity() *schema.Entity
	// Attribute is the fetched association.
	Attribute() *schema.Attribute
	// Target is the associated entity.
	Target() *schema.Entity
	// Fetch loads the association for roots and returns the distinct
	// assigned targets in first-assigned order.
	Fetch(ctx context.Context, exec Executor, roots []any, batchSize int) ([]any, error)
}

type plan struct {
	entity *schema.Entity
	attr   *schema.Attribute
	target *schema.Entity
	// fetchAcc reads and writes the association on the roots.
	fetchAcc accessor.Accessor
	// inverseAcc writes the back reference on the targets; nil when
	// unidirectional.
	inverseAcc accessor.Accessor
}

func (p *plan) Entity() *schema.Entity       { return p.entity }
func (p *plan) Attribute() *schema.Attribute { return p.attr }
func (p *plan) Target() *schema.Entity       { return p.target }

func (p *plan) qualified() string {
	return p.entity.Name + "#" + p.attr.Name
}
