package alloc

import (
	"fmt"
	"sort"
	"sync"
)

// Span is a half-open byte range [Offset, Offset+Length).
type Span struct {
	Offset int64
	Length int64
}

func (s Span) End() int64 { return s.Offset + s.Length }

// SpanHeap is a free-list byte-range allocator over a linear address
// space that grows on demand. It backs the XPAK resident page cache and
// the archive cache's in-file payload heap: both need to hand out
// variable-sized byte ranges, free them out of order, and coalesce
// adjacent free spans rather than fragment forever.
//
// This has no teacher equivalent (SlabAllocator pools same-shaped
// slices; this allocates arbitrary-length byte ranges within one
// address space) and is grounded instead on the spanning-heap
// allocator original_source/Utility/Threading/CompletionThreadPool.cpp
// and original_source/Assets/XPak.cpp describe: a sorted free list,
// best/first-fit search, and coalescing on free.
type SpanHeap struct {
	mu       sync.Mutex
	capacity int64
	free     []Span // sorted by Offset, non-adjacent, non-overlapping
	grow     func(newCapacity int64) error
}

// NewSpanHeap creates a heap over [0, capacity). grow, if non-nil, is
// invoked when an allocation does not fit and the heap extends itself;
// it must make the underlying storage (file, buffer) at least
// newCapacity bytes before returning.
func NewSpanHeap(capacity int64, grow func(newCapacity int64) error) *SpanHeap {
	h := &SpanHeap{capacity: capacity, grow: grow}
	if capacity > 0 {
		h.free = []Span{{Offset: 0, Length: capacity}}
	}
	return h
}

// Capacity returns the current address-space size.
func (h *SpanHeap) Capacity() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.capacity
}

// Alloc reserves the first free span of at least size bytes,
// first-fit, matching the original's "walk the free list, take the
// first span that fits" allocation strategy. It grows the heap (via
// the grow callback) when no existing span fits.
func (h *SpanHeap) Alloc(size int64) (Span, error) {
	if size <= 0 {
		return Span{}, fmt.Errorf("spanheap: alloc size must be positive, got %d", size)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if idx := h.firstFitLocked(size); idx >= 0 {
		return h.takeLocked(idx, size), nil
	}

	if h.grow == nil {
		return Span{}, fmt.Errorf("spanheap: no span fits %d bytes and heap cannot grow", size)
	}
	// A free span ending at the current capacity is extended rather than
	// followed by a fresh one, so growth only adds the missing bytes.
	needed := h.capacity + size
	n := len(h.free)
	tailFree := n > 0 && h.free[n-1].Offset+h.free[n-1].Length == h.capacity
	if tailFree {
		needed = h.free[n-1].Offset + size
	}
	if err := h.grow(needed); err != nil {
		return Span{}, fmt.Errorf("spanheap: grow to %d: %w", needed, err)
	}
	if tailFree {
		h.free[n-1].Length += needed - h.capacity
	} else {
		h.free = append(h.free, Span{Offset: h.capacity, Length: needed - h.capacity})
	}
	h.capacity = needed

	idx := h.firstFitLocked(size)
	if idx < 0 {
		return Span{}, fmt.Errorf("spanheap: grow succeeded but no span fits %d bytes", size)
	}
	return h.takeLocked(idx, size), nil
}

func (h *SpanHeap) firstFitLocked(size int64) int {
	for i, s := range h.free {
		if s.Length >= size {
			return i
		}
	}
	return -1
}

func (h *SpanHeap) takeLocked(idx int, size int64) Span {
	s := h.free[idx]
	allocated := Span{Offset: s.Offset, Length: size}
	remainder := Span{Offset: s.Offset + size, Length: s.Length - size}
	if remainder.Length == 0 {
		h.free = append(h.free[:idx], h.free[idx+1:]...)
	} else {
		h.free[idx] = remainder
	}
	return allocated
}

// Reserve removes s from the free list without returning an
// allocation, splitting the containing free span as needed. It is used
// when rebuilding a heap over storage that already has occupants
// recorded elsewhere (e.g. an archive cache's directory sidecar),
// before any Alloc call is made. s must lie entirely within a single
// free span and not already be reserved; violations are a programmer
// error and are ignored rather than panicking, since a corrupt
// directory should surface as a read failure downstream, not a crash.
func (h *SpanHeap) Reserve(s Span) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, f := range h.free {
		if s.Offset < f.Offset || s.End() > f.End() {
			continue
		}
		before := Span{Offset: f.Offset, Length: s.Offset - f.Offset}
		after := Span{Offset: s.End(), Length: f.End() - s.End()}

		replacement := make([]Span, 0, 2)
		if before.Length > 0 {
			replacement = append(replacement, before)
		}
		if after.Length > 0 {
			replacement = append(replacement, after)
		}
		h.free = append(h.free[:i], append(replacement, h.free[i+1:]...)...)
		return
	}
}

// Free returns a span to the free list, coalescing with its
// immediate neighbors.
func (h *SpanHeap) Free(s Span) {
	h.mu.Lock()
	defer h.mu.Unlock()

	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].Offset >= s.Offset })
	h.free = append(h.free, Span{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = s

	// merge with next
	if i+1 < len(h.free) && h.free[i].End() == h.free[i+1].Offset {
		h.free[i].Length += h.free[i+1].Length
		h.free = append(h.free[:i+1], h.free[i+2:]...)
	}
	// merge with previous
	if i > 0 && h.free[i-1].End() == h.free[i].Offset {
		h.free[i-1].Length += h.free[i].Length
		h.free = append(h.free[:i], h.free[i+1:]...)
	}
}

// FreeBytes returns the total bytes currently available for
// allocation, for diagnostics and tests.
func (h *SpanHeap) FreeBytes() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	var total int64
	for _, s := range h.free {
		total += s.Length
	}
	return total
}

// FreeSpanCount reports fragmentation, for diagnostics and tests.
func (h *SpanHeap) FreeSpanCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.free)
}
