// Package chunk splits key sequences into fixed-size batches so that a single
// "WHERE key IN (...)" lookup never carries more than a bounded number of values.
package chunk

import (
	"errors"
	"iter"
)

// ErrInvalidSize is returned when a batch size is not strictly positive.
var ErrInvalidSize = errors.New("chunk size must be strictly positive")

// Seq lazily groups the values produced by seq into batches of size elements.
// Every batch holds exactly size elements except possibly the last one.
// Consumers may stop early; the source is not pulled past the batch being built.
func Seq[T any](seq iter.Seq[T], size int) (iter.Seq[[]T], error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	return func(yield func([]T) bool) {
		buf := make([]T, 0, size)
		for v := range seq {
			buf = append(buf, v)
			if len(buf) < size {
				continue
			}
			if !yield(buf) {
				return
			}
			buf = make([]T, 0, size)
		}
		if len(buf) > 0 {
			yield(buf)
		}
	}, nil
}

// Slice eagerly splits values into batches of size elements. The returned
// batches share the backing array of values.
func Slice[T any](values []T, size int) ([][]T, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if len(values) == 0 {
		return nil, nil
	}
	chunks := make([][]T, 0, Count(len(values), size))
	for start := 0; start < len(values); start += size {
		end := min(start+size, len(values))
		chunks = append(chunks, values[start:end:end])
	}
	return chunks, nil
}

// Split partitions values into at most parts contiguous groups that can be
// consumed independently. Group boundaries only ever fall on batch boundaries,
// so chunking each group with the same size yields exactly the batches that
// chunking values as a whole would.
func Split[T any](values []T, size, parts int) ([][]T, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	if parts <= 0 {
		return nil, errors.New("chunk split requires at least one part")
	}
	if len(values) == 0 {
		return nil, nil
	}
	batches := Count(len(values), size)
	parts = min(parts, batches)
	groups := make([][]T, 0, parts)
	start := 0
	for i := range parts {
		// Spread the remainder over the leading groups.
		n := batches / parts
		if i < batches%parts {
			n++
		}
		end := min(start+n*size, len(values))
		groups = append(groups, values[start:end:end])
		start = end
	}
	return groups, nil
}

// Count reports how many batches of size are needed for n values.
func Count(n, size int) int {
	if n <= 0 || size <= 0 {
		return 0
	}
	return (n + size - 1) / size
}
