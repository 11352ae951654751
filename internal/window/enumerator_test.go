package window

import (
	"sync"
	"testing"

	"patchcert/domain/core"
	"patchcert/domain/grid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnumerate_Completeness(t *testing.T) {
	for h := 1; h <= 5; h++ {
		for w := 1; w <= 5; w++ {
			for wh := 1; wh <= h; wh++ {
				for ww := 1; ww <= w; ww++ {
					shape := grid.WindowShape{Height: wh, Width: ww}
					list, err := Enumerate(h, w, shape)
					require.NoError(t, err)
					require.Len(t, list, (h-wh+1)*(w-ww+1))

					seen := make(map[grid.Placement]bool, len(list))
					for _, p := range list {
						assert.False(t, seen[p], "duplicate placement %v", p)
						seen[p] = true
						assert.True(t, p.Row >= 0 && p.Row+wh <= h, "row out of bounds: %v", p)
						assert.True(t, p.Col >= 0 && p.Col+ww <= w, "col out of bounds: %v", p)
					}
				}
			}
		}
	}
}

func TestEnumerate_RowMajorOrder(t *testing.T) {
	list, err := Enumerate(3, 3, grid.Square(2))
	require.NoError(t, err)
	assert.Equal(t, []grid.Placement{{Row: 0, Col: 0}, {Row: 0, Col: 1}, {Row: 1, Col: 0}, {Row: 1, Col: 1}}, list)
}

func TestEnumerate_RejectsOversizedWindow(t *testing.T) {
	_, err := Enumerate(3, 4, grid.WindowShape{Height: 4, Width: 1})
	require.Error(t, err)
	assert.True(t, core.IsConfigError(err))

	_, err = Enumerate(3, 4, grid.WindowShape{Height: 1, Width: 5})
	assert.True(t, core.IsConfigError(err))
}

func TestCache_ReusesPlacements(t *testing.T) {
	cache := NewCache()
	a, err := cache.Placements(6, 6, grid.Square(3))
	require.NoError(t, err)
	b, err := cache.Placements(6, 6, grid.Square(3))
	require.NoError(t, err)
	assert.Same(t, &a[0], &b[0])
	assert.Equal(t, 1, cache.Len())

	_, err = cache.Placements(2, 2, grid.Square(3))
	assert.Error(t, err)
	assert.Equal(t, 1, cache.Len(), "failed lookups must not be cached")
}

func TestCache_ConcurrentLookups(t *testing.T) {
	cache := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			shape := grid.Square(1 + i%3)
			list, err := cache.Placements(8, 8, shape)
			assert.NoError(t, err)
			assert.Len(t, list, (8-shape.Height+1)*(8-shape.Width+1))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, cache.Len())
}

func TestCellsForPatch(t *testing.T) {
	tests := []struct {
		patch, rf, stride int
		want              int
	}{
		{32, 17, 8, 6},
		{32, 33, 8, 8},
		{32, 9, 8, 5},
		{30, 17, 8, 6},
		{1, 1, 1, 1},
	}
	for _, tt := range tests {
		got, err := CellsForPatch(tt.patch, tt.rf, tt.stride)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "patch=%d rf=%d stride=%d", tt.patch, tt.rf, tt.stride)
	}

	_, err := CellsForPatch(32, 17, 0)
	assert.True(t, core.IsConfigError(err))
}
