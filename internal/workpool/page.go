package workpool

import "github.com/standardbeagle/forgecache/internal/alloc"

// pageCapacity mirrors the original's fixed-size task-storage page
// (original_source/Utility/Threading/CompletionThreadPool.h's
// PageSize=32*1024 bytes); here it is a slot count rather than a byte
// count, since Go task values are closures rather than raw bytes the
// pool must placement-construct.
const pageCapacity = 1024

// page is one fixed-capacity slab of task slots. Slot indices are
// tracked through an alloc.SpanHeap exactly as the original tracks
// byte offsets within a Page's backing storage through its
// SimpleSpanningHeap — the same free-list allocator this codebase
// uses for XPAK's resident cache and the archive cache's payload heap,
// here suballocating task slots instead of bytes.
type page struct {
	slots []Task
	heap  *alloc.SpanHeap
}

func newPage() *page {
	return &page{
		slots: make([]Task, pageCapacity),
		heap:  alloc.NewSpanHeap(pageCapacity, nil),
	}
}

// allocSlot reserves one slot and returns its index, or false if the page
// is full.
func (p *page) allocSlot() (int, bool) {
	span, err := p.heap.Alloc(1)
	if err != nil {
		return 0, false
	}
	return int(span.Offset), true
}

func (p *page) freeSlot(idx int) {
	p.heap.Free(alloc.Span{Offset: int64(idx), Length: 1})
	p.slots[idx] = nil
}
