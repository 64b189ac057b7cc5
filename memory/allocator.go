package memory

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MemoryLimitExceededError is returned when an allocation would exceed the
// allocator's memory limit.
type MemoryLimitExceededError struct {
	Requested int64
	Current   int64
	Limit     int64
}

func (e *MemoryLimitExceededError) Error() string {
	return fmt.Sprintf("memory: limit exceeded (requested %d bytes, %d of %d in use)",
		e.Requested, e.Current, e.Limit)
}

// Allocator hands out float rasters and accounts for resident memory.
// Rasters up to the largest size class are recycled through sync.Pools.
// An optional limit turns runaway allocation into an error instead of an
// out-of-memory crash.
type Allocator struct {
	pools     []*sync.Pool
	used      atomic.Int64 // bytes currently handed out
	limit     atomic.Int64 // 0 = unlimited
	allocs    atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	peakBytes atomic.Int64
}

// sizeClasses are the pooled raster lengths in floats. They cover chunk
// sizes from 16x16 up to 1024x1024 color pixels.
var sizeClasses = []int{
	1 << 10,
	4 << 10,
	16 << 10,
	64 << 10,
	256 << 10,
	1 << 20,
	4 << 20,
}

// DefaultAllocator is used by proxies and buffers created without an
// explicit allocator.
var DefaultAllocator = NewAllocator(0)

// NewAllocator creates an allocator. A limit of 0 means unlimited.
func NewAllocator(limit int64) *Allocator {
	a := &Allocator{pools: make([]*sync.Pool, len(sizeClasses))}
	a.limit.Store(limit)
	for i, size := range sizeClasses {
		size := size
		a.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]float32, size)
				return &buf
			},
		}
	}
	return a
}

// sizeClass returns the pool index for n floats, or -1 when n is larger
// than every class.
func sizeClass(n int) int {
	for i, s := range sizeClasses {
		if n <= s {
			return i
		}
	}
	return -1
}

// reserve accounts bytes against the limit.
func (a *Allocator) reserve(bytes int64) error {
	for {
		cur := a.used.Load()
		limit := a.limit.Load()
		if limit > 0 && cur+bytes > limit {
			return &MemoryLimitExceededError{Requested: bytes, Current: cur, Limit: limit}
		}
		if a.used.CompareAndSwap(cur, cur+bytes) {
			next := cur + bytes
			for {
				peak := a.peakBytes.Load()
				if next <= peak || a.peakBytes.CompareAndSwap(peak, next) {
					break
				}
			}
			return nil
		}
	}
}

// Alloc returns a zeroed raster of n floats.
func (a *Allocator) Alloc(n int) ([]float32, error) {
	a.allocs.Add(1)
	idx := sizeClass(n)
	capacity := n
	if idx >= 0 {
		capacity = sizeClasses[idx]
	}
	if err := a.reserve(int64(capacity) * 4); err != nil {
		return nil, err
	}

	if idx < 0 {
		a.misses.Add(1)
		return make([]float32, n), nil
	}

	bufp := a.pools[idx].Get().(*[]float32)
	buf := (*bufp)[:n]
	clear(buf)
	a.hits.Add(1)
	return buf, nil
}

// Free returns a raster obtained from Alloc. The raster must not be used
// afterwards.
func (a *Allocator) Free(buf []float32) {
	if buf == nil {
		return
	}
	c := cap(buf)
	a.used.Add(-int64(c) * 4)

	idx := sizeClass(c)
	if idx < 0 || sizeClasses[idx] != c {
		return
	}
	full := buf[:c]
	a.pools[idx].Put(&full)
}

// Used returns the number of bytes currently handed out.
func (a *Allocator) Used() int64 {
	return a.used.Load()
}

// Peak returns the highest value Used has reached.
func (a *Allocator) Peak() int64 {
	return a.peakBytes.Load()
}

// Limit returns the memory limit in bytes (0 = unlimited).
func (a *Allocator) Limit() int64 {
	return a.limit.Load()
}

// SetLimit sets the memory limit and returns the previous one.
func (a *Allocator) SetLimit(limit int64) int64 {
	return a.limit.Swap(limit)
}

// Stats returns (allocations, pooled allocations, unpooled allocations).
func (a *Allocator) Stats() (allocs, hits, misses int64) {
	return a.allocs.Load(), a.hits.Load(), a.misses.Load()
}
