package memstore

import (
	"context"
	"errors"
	"testing"

	"flatfetch/internal/garage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s *Store, entity, attr string, keys ...any) ([]any, error) {
	t.Helper()
	reg := garage.Schema()
	target, err := reg.Entity(entity)
	require.NoError(t, err)
	keyAttr, ok := target.Attribute(attr)
	require.True(t, ok)

	var out []any
	for obj, err := range s.Lookup(context.Background(), target, keyAttr, keys) {
		if err != nil {
			return out, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func TestLookup_MatchesKeysInInsertionOrder(t *testing.T) {
	carA, carB := uuid.New(), uuid.New()
	w1 := &garage.Wheel{Base: garage.Base{ID: uuid.New()}, CarID: carA}
	w2 := &garage.Wheel{Base: garage.Base{ID: uuid.New()}, CarID: carB}
	w3 := &garage.Wheel{Base: garage.Base{ID: uuid.New()}, CarID: carA}

	s := New()
	s.Put(w1, w2, w3)

	got, err := collect(t, s, "Wheel", "CarID", carA, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, []any{w1, w3}, got)

	lookups := s.Lookups()
	require.Len(t, lookups, 1)
	assert.Equal(t, "Wheel", lookups[0].Entity)
	assert.Equal(t, "CarID", lookups[0].Attribute)
	assert.Equal(t, 2, lookups[0].Rows)
	assert.Len(t, lookups[0].Keys, 2)

	s.ResetLookups()
	assert.Zero(t, s.LookupCount())
}

func TestLookup_Failure(t *testing.T) {
	s := New()
	s.Put(&garage.Door{Base: garage.Base{ID: uuid.New()}})
	boom := errors.New("boom")
	s.FailLookups("Door", boom)

	_, err := collect(t, s, "Door", "ID", uuid.New())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, s.LookupCount())
}

func TestLookup_CanceledContext(t *testing.T) {
	reg := garage.Schema()
	target, err := reg.Entity("Engine")
	require.NoError(t, err)
	pk, _ := target.Attribute("ID")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, err := range New().Lookup(ctx, target, pk, []any{uuid.New()}) {
		assert.ErrorIs(t, err, context.Canceled)
	}
}

func TestPut_RejectsNonPointers(t *testing.T) {
	assert.Panics(t, func() { New().Put(garage.Car{}) })
}

func TestTracker_Untracked(t *testing.T) {
	s := New()
	car := &garage.Car{}
	assert.False(t, s.Tracked(car))
	s.MarkLoaded(car, "Engine", nil)
}
