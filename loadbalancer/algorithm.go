package loadbalancer

import (
	"errors"
	"math/rand/v2"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// DefaultHashCount is the number of ring positions of a cache when the
// configuration does not set one.
const DefaultHashCount = 1000

// Hashable is implemented by the objects placed on the ring.
type Hashable interface {
	// HashValues returns the sorted ring positions.
	HashValues() []uint64
}

// Hash maps a request key onto the ring.
func Hash(key string) uint64 {
	return xxhash.Sum64String(key)
}

// HashValues derives count sorted ring positions from a hash id.
func HashValues(hashID string, count int) []uint64 {
	if count <= 0 {
		count = DefaultHashCount
	}

	values := make([]uint64, count)
	buf := make([]byte, 0, len(hashID)+12)
	for i := range values {
		buf = append(buf[:0], hashID...)
		buf = append(buf, '-')
		buf = strconv.AppendInt(buf, int64(i), 10)
		values[i] = xxhash.Sum64(buf)
	}

	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}

	return b - a
}

// closest returns the distance between h and the nearest of the sorted
// values.
func closest(values []uint64, h uint64) (uint64, bool) {
	if len(values) == 0 {
		return 0, false
	}

	i := sort.Search(len(values), func(i int) bool { return values[i] >= h })
	switch {
	case i == 0:
		return absDiff(values[0], h), true
	case i == len(values):
		return absDiff(values[i-1], h), true
	}

	lo, hi := absDiff(values[i-1], h), absDiff(values[i], h)
	if lo < hi {
		return lo, true
	}

	return hi, true
}

type ranked[T Hashable] struct {
	diff uint64
	item T
}

// Rank orders items by the ring distance to key. Items without ring
// positions are left out. The input slice is not modified.
func Rank[T Hashable](key string, items []T) []T {
	if len(items) == 0 {
		return nil
	}

	h := Hash(key)
	used := make(map[uint64]struct{}, len(items))
	r := make([]ranked[T], 0, len(items))
	for _, it := range items {
		diff, ok := closest(it.HashValues(), h)
		if !ok {
			continue
		}

		for {
			if _, taken := used[diff]; !taken {
				break
			}

			diff++
		}

		used[diff] = struct{}{}
		r = append(r, ranked[T]{diff: diff, item: it})
	}

	sort.Slice(r, func(i, j int) bool { return r[i].diff < r[j].diff })
	result := make([]T, len(r))
	for i := range r {
		result[i] = r[i].item
	}

	return result
}

// Primary returns the first ranked item.
func Primary[T Hashable](key string, items []T) (T, error) {
	var zero T
	r := Rank(key, items)
	if len(r) == 0 {
		return zero, errors.New("no hashable items")
	}

	return r[0], nil
}

// Dispersion controls how many ranked caches are returned.
type Dispersion struct {
	Limit    int  `json:"limit"`
	Shuffled bool `json:"shuffled"`
}

// DefaultDispersion returns a single cache, unshuffled.
var DefaultDispersion = Dispersion{Limit: 1}

// Count returns the number of items selected from n ranked ones.
func (d Dispersion) Count(n int) int {
	limit := d.Limit
	if limit <= 0 {
		limit = 1
	}

	return min(limit, n)
}

// Select returns the first ranked items permitted by the dispersion,
// shuffled when the dispersion says so. Shuffling never changes which
// items are selected.
func Select[T any](d Dispersion, ranked []T) []T {
	n := d.Count(len(ranked))
	selected := make([]T, n)
	copy(selected, ranked[:n])
	if d.Shuffled && n > 1 {
		rand.Shuffle(n, func(i, j int) { selected[i], selected[j] = selected[j], selected[i] })
	}

	return selected
}
