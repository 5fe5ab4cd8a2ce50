package strategy

import (
	"context"

	"flatfetch/internal/accessor"
	"flatfetch/internal/schema"
)

// toOneInverse fetches a to-one association whose foreign key is stored on
// the target, pointing back at the roots.
type toOneInverse struct {
	plan
	// rootKeyAcc reads the key on the roots that the target's foreign key
	// refers to.
	rootKeyAcc accessor.Accessor
	// targetFKAcc reads the foreign key companion on the targets.
	targetFKAcc accessor.Accessor
}

func newToOneInverse(ctx context.Context, p plan) (*toOneInverse, error) {
	var inverse *schema.Attribute
	var err error
	if p.attr.Inverse != "" {
		inverse, err = explicitInverse(&p, true)
	} else {
		inverse, err = inferInverse(ctx, &p, true)
		if err == nil && inverse == nil {
			err = schema.Errorf(p.entity.Name, p.attr.Name,
				"mapped association needs an inverse: no owning to-one on %s declares inverse=%s", p.target.Name, p.attr.Name)
		}
	}
	if err != nil {
		return nil, err
	}

	if p.inverseAcc, err = accessor.Of(p.target, inverse); err != nil {
		return nil, err
	}
	targetFKAcc, err := accessor.ForeignKey(p.target, inverse)
	if err != nil {
		return nil, err
	}
	rootKeyAcc, err := referencedKey(p.entity, p.target.Name, inverse)
	if err != nil {
		return nil, err
	}
	if err := checkKeyTypes(&p, targetFKAcc.Attribute(), rootKeyAcc.Attribute(), p.target.Name, p.entity.Name); err != nil {
		return nil, err
	}
	return &toOneInverse{plan: p, rootKeyAcc: rootKeyAcc, targetFKAcc: targetFKAcc}, nil
}

func (s *toOneInverse) Kind() Kind { return ToOneInverse }

func (s *toOneInverse) Fetch(ctx context.Context, exec Executor, roots []any, batchSize int) ([]any, error) {
	keys := distinctKeys(roots, s.rootKeyAcc)
	byKey, err := s.indexUnique(ctx, exec, s.targetFKAcc, keys, batchSize)
	if err != nil {
		return nil, err
	}

	out := newAssigned(len(byKey))
	for _, root := range roots {
		var target any
		if k, ok := accessor.Key(s.rootKeyAcc.Get(root)); ok {
			target = byKey[k]
		}
		s.fetchAcc.Set(exec, root, target)
		if target == nil {
			continue
		}
		s.inverseAcc.Set(exec, target, root)
		out.add(target)
	}
	return out.list, nil
}
