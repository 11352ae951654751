package window

import (
	"sync"

	"patchcert/domain/grid"
)

// Enumerate returns every placement of shape inside an h×w grid in row-major
// order: (h-shape.Height+1)*(w-shape.Width+1) placements.
func Enumerate(h, w int, shape grid.WindowShape) ([]grid.Placement, error) {
	if err := shape.Validate(h, w); err != nil {
		return nil, err
	}
	rows := h - shape.Height + 1
	cols := w - shape.Width + 1
	out := make([]grid.Placement, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out = append(out, grid.Placement{Row: r, Col: c})
		}
	}
	return out, nil
}

type cacheKey struct {
	h, w  int
	shape grid.WindowShape
}

// Cache memoizes placement lists by (grid shape, window shape). Returned
// slices are shared between callers and must be treated as read-only.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey][]grid.Placement
}

// NewCache creates an empty placement cache
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey][]grid.Placement)}
}

// Shared is the process-wide cache used by the bound providers by default.
var Shared = NewCache()

// Placements returns the cached placement list, enumerating it on first use.
func (c *Cache) Placements(h, w int, shape grid.WindowShape) ([]grid.Placement, error) {
	key := cacheKey{h: h, w: w, shape: shape}

	c.mu.RLock()
	list, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return list, nil
	}

	list, err := Enumerate(h, w, shape)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[key]; ok {
		return existing, nil
	}
	c.entries[key] = list
	return list, nil
}

// Len reports how many (grid, window) shapes are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
