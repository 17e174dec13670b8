package export

import (
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// TrackedAllocator counts the bytes Arrow buffers hold while a result is
// encoded, plus the high-water mark.
type TrackedAllocator struct {
	underlying memory.Allocator
	inUse      atomic.Int64
	peak       atomic.Int64
}

// NewTrackedAllocator wraps underlying, or the Go allocator when nil.
func NewTrackedAllocator(underlying memory.Allocator) *TrackedAllocator {
	if underlying == nil {
		underlying = memory.NewGoAllocator()
	}
	return &TrackedAllocator{underlying: underlying}
}

func (a *TrackedAllocator) grow(delta int64) {
	now := a.inUse.Add(delta)
	for {
		peak := a.peak.Load()
		if now <= peak || a.peak.CompareAndSwap(peak, now) {
			return
		}
	}
}

// Allocate implements memory.Allocator.
func (a *TrackedAllocator) Allocate(size int) []byte {
	a.grow(int64(size))
	return a.underlying.Allocate(size)
}

// Reallocate implements memory.Allocator.
func (a *TrackedAllocator) Reallocate(size int, b []byte) []byte {
	a.grow(int64(size - len(b)))
	return a.underlying.Reallocate(size, b)
}

// Free implements memory.Allocator.
func (a *TrackedAllocator) Free(b []byte) {
	a.inUse.Add(-int64(len(b)))
	a.underlying.Free(b)
}

// BytesInUse is the number of bytes currently allocated.
func (a *TrackedAllocator) BytesInUse() int64 { return a.inUse.Load() }

// PeakBytes is the largest BytesInUse seen.
func (a *TrackedAllocator) PeakBytes() int64 { return a.peak.Load() }
