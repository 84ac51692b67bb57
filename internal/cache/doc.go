// Package cache provides a generic LRU cache.
//
// The resource package keeps compiled shader modules in one, keyed by
// WGSL source, so streams that create the same shader repeatedly compile
// it once:
//
//	c := cache.New[string, []uint32](64)
//	words, err := c.GetOrCompute(source, func() ([]uint32, error) {
//	    return compile(source)
//	})
//
// # Thread Safety
//
// Cache is safe for concurrent use and must not be copied after creation.
package cache
