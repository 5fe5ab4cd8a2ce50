package strategy

import (
	"context"
	"reflect"

	"flatfetch/internal/accessor"
	"flatfetch/internal/logging"
	"flatfetch/internal/schema"
)

// Build constructs the strategy for the named association of entity. All
// schema problems surface here, never during Fetch.
func Build(ctx context.Context, provider schema.Provider, entity *schema.Entity, name string) (Strategy, error) {
	attr, ok := entity.Attribute(name)
	if !ok {
		return nil, schema.Errorf(entity.Name, name, "no such attribute")
	}
	if !attr.IsAssociation() {
		return nil, &schema.UnsupportedMappingError{Entity: entity.Name, Attribute: name, Reason: "attribute is not an association"}
	}
	target, err := provider.EntityOf(attr.TargetType)
	if err != nil {
		return nil, &schema.SchemaError{Entity: entity.Name, Attribute: name, Message: "cannot resolve target entity " + attr.Target, Err: err}
	}
	fetchAcc, err := accessor.Of(entity, attr)
	if err != nil {
		return nil, err
	}
	p := plan{entity: entity, attr: attr, target: target, fetchAcc: fetchAcc}

	logging.FromContext(ctx).Debug("preparing fetch strategy",
		"association", p.qualified(),
		"kind", attr.Kind.String(),
		"target", target.Name,
	)

	var s Strategy
	switch {
	case attr.Kind == schema.ToMany:
		s, err = asStrategy(newToMany(p))
	case attr.Owning:
		s, err = asStrategy(newToOneOwning(ctx, p))
	default:
		s, err = asStrategy(newToOneInverse(ctx, p))
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// asStrategy keeps a failed constructor's typed nil out of the interface.
func asStrategy[S Strategy](s S, err error) (Strategy, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

// explicitInverse resolves the inverse named on the attribute and checks that
// it is a to-one association pointing back at the declaring entity with the
// expected ownership.
func explicitInverse(p *plan, owning bool) (*schema.Attribute, error) {
	inverse, ok := p.target.Attribute(p.attr.Inverse)
	if !ok {
		return nil, schema.Errorf(p.entity.Name, p.attr.Name,
			"inverse attribute %q not found on %s", p.attr.Inverse, p.target.Name)
	}
	if err := checkInverse(p, inverse, owning); err != nil {
		return nil, err
	}
	return inverse, nil
}

// inferInverse scans the target's to-one associations with the given
// ownership for those declaring p.attr as their inverse. It returns nil
// when there is no candidate.
func inferInverse(ctx context.Context, p *plan, owning bool) (*schema.Attribute, error) {
	var candidates []*schema.Attribute
	for _, candidate := range p.target.SingularAssociations() {
		if candidate.Owning == owning && candidate.Inverse == p.attr.Name {
			candidates = append(candidates, candidate)
		}
	}
	switch len(candidates) {
	case 0:
		return nil, nil
	case 1:
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.Name
		}
		return nil, &schema.AmbiguousInverseError{
			Entity:     p.entity.Name,
			Attribute:  p.attr.Name,
			Target:     p.target.Name,
			Candidates: names,
		}
	}

	inverse := candidates[0]
	logging.FromContext(ctx).Debug("inferred inverse",
		"association", p.qualified(),
		"inverse", p.target.Name+"#"+inverse.Name,
	)
	if err := checkInverse(p, inverse, owning); err != nil {
		return nil, err
	}
	return inverse, nil
}

func checkInverse(p *plan, inverse *schema.Attribute, owning bool) error {
	if inverse.Kind != schema.ToOne {
		return schema.Errorf(p.entity.Name, p.attr.Name,
			"inverse %s#%s must be a to-one association", p.target.Name, inverse.Name)
	}
	if inverse.Owning != owning {
		side := "the mapped (non-owning) side"
		if owning {
			side = "the owning side holding the foreign key"
		}
		return schema.Errorf(p.entity.Name, p.attr.Name,
			"inverse %s#%s must be %s", p.target.Name, inverse.Name, side)
	}
	if inverse.TargetType != p.entity.Type {
		return schema.Errorf(p.entity.Name, p.attr.Name,
			"inverse %s#%s points at %s, expected %s", p.target.Name, inverse.Name, inverse.Target, p.entity.Name)
	}
	return nil
}

// referencedKey returns the accessor for the key column that an owning
// association refers to on the referenced entity.
func referencedKey(referenced *schema.Entity, owningEntity string, owning *schema.Attribute) (accessor.Accessor, error) {
	name := owning.Referenced
	if name == "" {
		name = referenced.PrimaryKey
	}
	attr, ok := referenced.Attribute(name)
	if !ok || attr.Kind != schema.Basic {
		return nil, schema.Errorf(owningEntity, owning.Name,
			"referenced key %s#%s is not a column", referenced.Name, name)
	}
	return accessor.Of(referenced, attr)
}

// checkKeyTypes verifies that the foreign key can produce values equal to
// the referenced key.
func checkKeyTypes(p *plan, fk, ref *schema.Attribute, fkEntity, refEntity string) error {
	if !accessor.CompatibleKeys(fk.Type, ref.Type) {
		return schema.Errorf(p.entity.Name, p.attr.Name,
			"foreign key %s#%s (%s) does not match referenced key %s#%s (%s)",
			fkEntity, fk.Name, fk.Type, refEntity, ref.Name, ref.Type)
	}
	return nil
}

func entityPointer(e *schema.Entity) reflect.Type {
	return reflect.PointerTo(e.Type)
}
