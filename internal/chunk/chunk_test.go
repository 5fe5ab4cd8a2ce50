package chunk

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ints(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestSeq(t *testing.T) {
	tests := []struct {
		name string
		n    int
		size int
		want [][]int
	}{
		{name: "empty", n: 0, size: 3, want: nil},
		{name: "exact multiple", n: 6, size: 3, want: [][]int{{0, 1, 2}, {3, 4, 5}}},
		{name: "remainder", n: 7, size: 3, want: [][]int{{0, 1, 2}, {3, 4, 5}, {6}}},
		{name: "smaller than size", n: 2, size: 5, want: [][]int{{0, 1}}},
		{name: "size one", n: 3, size: 1, want: [][]int{{0}, {1}, {2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := Seq(slices.Values(ints(tt.n)), tt.size)
			require.NoError(t, err)
			got := slices.Collect(seq)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeq_InvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := Seq(slices.Values(ints(3)), size)
		assert.ErrorIs(t, err, ErrInvalidSize)
	}
}

func TestSeq_PartialConsumption(t *testing.T) {
	pulled := 0
	source := func(yield func(int) bool) {
		for i := range 100 {
			pulled++
			if !yield(i) {
				return
			}
		}
	}

	seq, err := Seq(source, 4)
	require.NoError(t, err)

	var first []int
	for batch := range seq {
		first = batch
		break
	}
	assert.Equal(t, []int{0, 1, 2, 3}, first)
	assert.Equal(t, 4, pulled, "source must not be pulled past the first batch")
}

func TestSeq_BatchesAreIndependent(t *testing.T) {
	seq, err := Seq(slices.Values(ints(4)), 2)
	require.NoError(t, err)
	var batches [][]int
	for batch := range seq {
		batches = append(batches, batch)
	}
	batches[0][0] = 99
	assert.Equal(t, []int{2, 3}, batches[1])
}

func TestSlice(t *testing.T) {
	chunks, err := Slice(ints(1001), 500)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 500)
	assert.Len(t, chunks[1], 500)
	assert.Equal(t, []int{1000}, chunks[2])

	chunks, err = Slice([]int{}, 10)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	_, err = Slice(ints(3), 0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestSlice_AppendDoesNotClobberNeighbour(t *testing.T) {
	chunks, err := Slice(ints(4), 2)
	require.NoError(t, err)
	_ = append(chunks[0], 42)
	assert.Equal(t, []int{2, 3}, chunks[1])
}

func TestSplit_BoundariesOnBatches(t *testing.T) {
	values := ints(23)
	const size = 5

	for parts := 1; parts <= 8; parts++ {
		groups, err := Split(values, size, parts)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(groups), parts)

		var rejoined [][]int
		for i, group := range groups {
			if i < len(groups)-1 {
				assert.Zero(t, len(group)%size, "group %d of %d parts splits a batch", i, parts)
			}
			chunks, err := Slice(group, size)
			require.NoError(t, err)
			rejoined = append(rejoined, chunks...)
		}
		whole, err := Slice(values, size)
		require.NoError(t, err)
		assert.Equal(t, whole, rejoined, "parts=%d", parts)
	}
}

func TestSplit_InvalidArguments(t *testing.T) {
	_, err := Split(ints(3), 0, 2)
	assert.ErrorIs(t, err, ErrInvalidSize)

	_, err = Split(ints(3), 2, 0)
	assert.Error(t, err)

	groups, err := Split([]int{}, 2, 3)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestCount(t *testing.T) {
	assert.Equal(t, 0, Count(0, 500))
	assert.Equal(t, 1, Count(1, 500))
	assert.Equal(t, 1, Count(500, 500))
	assert.Equal(t, 2, Count(501, 500))
	assert.Equal(t, 0, Count(10, 0))
}
