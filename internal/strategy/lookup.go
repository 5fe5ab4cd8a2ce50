package strategy

import (
	"context"
	"fmt"
	"slices"

	"flatfetch/internal/accessor"
	"flatfetch/internal/chunk"
	"flatfetch/internal/logging"
	"flatfetch/internal/observability"
	"flatfetch/internal/schema"
)

// distinctKeys extracts the normalized keys of roots, skipping absent keys
// and keeping the first occurrence of each.
func distinctKeys(roots []any, key accessor.Accessor) []any {
	seen := make(map[any]struct{}, len(roots))
	keys := make([]any, 0, len(roots))
	for _, root := range roots {
		k, ok := accessor.Key(key.Get(root))
		if !ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// lookupChunks issues one lookup per chunk of at most batchSize keys and
// passes every returned object to fn. Batches are built one at a time; a
// failed lookup stops before the next batch is formed.
func lookupChunks(ctx context.Context, exec Executor, target *schema.Entity, keyAttr *schema.Attribute, keys []any, batchSize int, fn func(obj any)) error {
	batches, err := chunk.Seq(slices.Values(keys), batchSize)
	if err != nil {
		return err
	}
	for batch := range batches {
		for obj, err := range exec.Lookup(ctx, target, keyAttr, batch) {
			if err != nil {
				return fmt.Errorf("lookup %s by %s: %w", target.Name, keyAttr.Name, err)
			}
			fn(obj)
		}
	}
	return nil
}

// indexUnique looks up targets by keyAcc and maps each key to its target.
// Two distinct objects for the same key are tolerated: the later one wins.
func (p *plan) indexUnique(ctx context.Context, exec Executor, keyAcc accessor.Accessor, keys []any, batchSize int) (map[any]any, error) {
	byKey := make(map[any]any, len(keys))
	err := lookupChunks(ctx, exec, p.target, keyAcc.Attribute(), keys, batchSize, func(obj any) {
		k, ok := accessor.Key(keyAcc.Get(obj))
		if !ok {
			return
		}
		if previous, dup := byKey[k]; dup && previous != obj {
			p.duplicateKey(ctx, keyAcc.Attribute(), k)
		}
		byKey[k] = obj
	})
	if err != nil {
		return nil, err
	}
	return byKey, nil
}

func (p *plan) duplicateKey(ctx context.Context, keyAttr *schema.Attribute, key any) {
	logging.FromContext(ctx).Warn("lookup returned two different objects for the same key",
		"association", p.qualified(),
		"target", p.target.Name,
		"key_attribute", keyAttr.Name,
		"key", key,
	)
	observability.FetchMetricsFromContext(ctx).RecordDuplicateKey(ctx, p.qualified())
}

// assigned collects distinct objects in first-seen order.
type assigned struct {
	seen map[any]struct{}
	list []any
}

func newAssigned(capacity int) *assigned {
	return &assigned{seen: make(map[any]struct{}, capacity), list: make([]any, 0, capacity)}
}

func (a *assigned) add(obj any) {
	if _, ok := a.seen[obj]; ok {
		return
	}
	a.seen[obj] = struct{}{}
	a.list = append(a.list, obj)
}
