package pattern

import "github.com/maypok86/otter"

// Cache is a bounded compile-through cache of compiled patterns, keyed by
// source text. Only successful compilations are cached; invalid patterns
// are re-validated on every call so the error detail stays exact.
type Cache struct {
	cache otter.Cache[string, *Pattern]
}

// NewCache creates a cache bounded to maxEntries compiled patterns.
func NewCache(maxEntries int) *Cache {
	cache, err := otter.MustBuilder[string, *Pattern](maxEntries).
		Cost(func(_ string, _ *Pattern) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("pattern: failed to create cache: " + err.Error())
	}
	return &Cache{cache: cache}
}

// Compile returns the cached compilation of src, compiling on miss.
func (c *Cache) Compile(src string) (*Pattern, error) {
	if p, ok := c.cache.Get(src); ok {
		return p, nil
	}
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	c.cache.Set(src, p)
	return p, nil
}

// Size returns the number of cached patterns.
func (c *Cache) Size() int {
	return c.cache.Size()
}

// Close releases the underlying cache resources.
func (c *Cache) Close() {
	c.cache.Close()
}
