package strategy

import (
	"context"

	"flatfetch/internal/accessor"
	"flatfetch/internal/schema"
)

// toOneOwning fetches a to-one association whose foreign key is stored on
// the roots.
type toOneOwning struct {
	plan
	// fkAcc reads the foreign key companion on the roots.
	fkAcc accessor.Accessor
	// targetKeyAcc reads the referenced key on the targets.
	targetKeyAcc accessor.Accessor
}

func newToOneOwning(ctx context.Context, p plan) (*toOneOwning, error) {
	fkAcc, err := accessor.ForeignKey(p.entity, p.attr)
	if err != nil {
		return nil, err
	}
	targetKeyAcc, err := referencedKey(p.target, p.entity.Name, p.attr)
	if err != nil {
		return nil, err
	}
	if err := checkKeyTypes(&p, fkAcc.Attribute(), targetKeyAcc.Attribute(), p.entity.Name, p.target.Name); err != nil {
		return nil, err
	}

	var inverse *schema.Attribute
	if p.attr.Inverse != "" {
		inverse, err = explicitInverse(&p, false)
	} else {
		inverse, err = inferInverse(ctx, &p, false)
	}
	if err != nil {
		return nil, err
	}
	if inverse != nil {
		if p.inverseAcc, err = accessor.Of(p.target, inverse); err != nil {
			return nil, err
		}
	}
	return &toOneOwning{plan: p, fkAcc: fkAcc, targetKeyAcc: targetKeyAcc}, nil
}

func (s *toOneOwning) Kind() Kind { return ToOneOwning }

func (s *toOneOwning) Fetch(ctx context.Context, exec Executor, roots []any, batchSize int) ([]any, error) {
	keys := distinctKeys(roots, s.fkAcc)
	byKey, err := s.indexUnique(ctx, exec, s.targetKeyAcc, keys, batchSize)
	if err != nil {
		return nil, err
	}

	out := newAssigned(len(byKey))
	for _, root := range roots {
		var target any
		if k, ok := accessor.Key(s.fkAcc.Get(root)); ok {
			target = byKey[k]
		}
		s.fetchAcc.Set(exec, root, target)
		if target == nil {
			continue
		}
		if s.inverseAcc != nil {
			s.inverseAcc.Set(exec, target, root)
		}
		out.add(target)
	}
	return out.list, nil
}
