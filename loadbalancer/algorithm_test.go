package loadbalancer

import (
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCache struct {
	id     string
	values []uint64
}

func (c *testCache) HashValues() []uint64 { return c.values }

func newTestCaches(n int) []*testCache {
	caches := make([]*testCache, n)
	for i := range caches {
		id := fmt.Sprintf("edge-%02d", i)
		caches[i] = &testCache{id: id, values: HashValues(id, 0)}
	}

	return caches
}

func ids(caches []*testCache) []string {
	var s []string
	for _, c := range caches {
		s = append(s, c.id)
	}

	return s
}

func TestHashValues(t *testing.T) {
	v := HashValues("cache-a", 10)
	require.Len(t, v, 10)
	assert.True(t, slices.IsSorted(v))
	assert.Equal(t, v, HashValues("cache-a", 10))
	assert.NotEqual(t, v, HashValues("cache-b", 10))
	assert.Len(t, HashValues("cache-a", 0), DefaultHashCount)
}

func TestRankDeterministic(t *testing.T) {
	caches := newTestCaches(10)
	for i := range 100 {
		key := fmt.Sprintf("/video/%d.ts", i)
		first := Rank(key, caches)
		require.Len(t, first, len(caches))
		for range 5 {
			assert.Equal(t, ids(first), ids(Rank(key, caches)))
		}
	}
}

func TestRankDoesNotModifyInput(t *testing.T) {
	caches := newTestCaches(5)
	before := ids(caches)
	Rank("key", caches)
	assert.Equal(t, before, ids(caches))
}

func TestRankSkipsEmpty(t *testing.T) {
	caches := append(newTestCaches(2), &testCache{id: "empty"})
	assert.NotContains(t, ids(Rank("key", caches)), "empty")
	assert.Nil(t, Rank("key", []*testCache{}))

	_, err := Primary("key", []*testCache{{id: "empty"}})
	assert.Error(t, err)
}

func TestRankCollisions(t *testing.T) {
	same := []uint64{Hash("key")}
	caches := []*testCache{
		{id: "a", values: same},
		{id: "b", values: same},
		{id: "c", values: same},
	}

	assert.Equal(t, []string{"a", "b", "c"}, ids(Rank("key", caches)))
}

func TestRankBoundedPerturbation(t *testing.T) {
	caches := newTestCaches(10)
	without := caches[1:]

	const keys = 10000
	moved := 0
	for i := range keys {
		key := fmt.Sprintf("/segment/%d", i)
		before, err := Primary(key, caches)
		require.NoError(t, err)
		after, err := Primary(key, without)
		require.NoError(t, err)

		if before == caches[0] {
			continue
		}

		if before != after {
			moved++
		}
	}

	assert.Zero(t, moved, "keys not owned by the removed cache must keep their primary")
}

func TestRankAddedCacheTakesBoundedShare(t *testing.T) {
	caches := newTestCaches(10)
	more := append(slices.Clone(caches), &testCache{id: "edge-new", values: HashValues("edge-new", 0)})

	const keys = 10000
	moved := 0
	for i := range keys {
		key := fmt.Sprintf("/segment/%d", i)
		before, _ := Primary(key, caches)
		after, _ := Primary(key, more)
		if before != after {
			assert.Equal(t, "edge-new", after.id)
			moved++
		}
	}

	assert.Less(t, moved, keys/5)
}

func TestDispersion(t *testing.T) {
	caches := newTestCaches(6)
	ranked := Rank("key", caches)

	for _, tt := range []struct {
		name     string
		d        Dispersion
		expected int
	}{
		{"default", Dispersion{}, 1},
		{"limit 3", Dispersion{Limit: 3}, 3},
		{"limit above available", Dispersion{Limit: 10}, 6},
		{"shuffled", Dispersion{Limit: 4, Shuffled: true}, 4},
	} {
		t.Run(tt.name, func(t *testing.T) {
			for range 20 {
				selected := Select(tt.d, ranked)
				require.Len(t, selected, tt.expected)

				seen := make(map[string]bool)
				for _, c := range selected {
					assert.False(t, seen[c.id], "duplicate %s", c.id)
					seen[c.id] = true
				}

				assert.ElementsMatch(t, ids(ranked[:tt.expected]), ids(selected))
			}
		})
	}

	assert.Empty(t, Select(Dispersion{Limit: 3}, []*testCache{}))
	assert.Equal(t, 2, Dispersion{Limit: 5}.Count(2))
}

func BenchmarkRank(b *testing.B) {
	caches := newTestCaches(20)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Rank("/some/path/segment.ts", caches)
	}
}
