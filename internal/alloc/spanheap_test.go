package alloc

import "testing"

func TestSpanHeapAllocFirstFit(t *testing.T) {
	h := NewSpanHeap(100, nil)
	a, err := h.Alloc(30)
	if err != nil {
		t.Fatal(err)
	}
	if a.Offset != 0 || a.Length != 30 {
		t.Fatalf("got %+v", a)
	}
	if h.FreeBytes() != 70 {
		t.Fatalf("expected 70 free bytes, got %d", h.FreeBytes())
	}
}

func TestSpanHeapFreeCoalesces(t *testing.T) {
	h := NewSpanHeap(100, nil)
	a, _ := h.Alloc(20)
	b, _ := h.Alloc(20)
	c, _ := h.Alloc(20)

	h.Free(b)
	if h.FreeSpanCount() != 2 {
		t.Fatalf("expected 2 disjoint free spans before coalescing neighbor a/c, got %d", h.FreeSpanCount())
	}
	h.Free(a)
	h.Free(c)
	if h.FreeSpanCount() != 1 {
		t.Fatalf("expected a single coalesced free span, got %d", h.FreeSpanCount())
	}
	if h.FreeBytes() != 100 {
		t.Fatalf("expected full 100 bytes free, got %d", h.FreeBytes())
	}
}

func TestSpanHeapGrows(t *testing.T) {
	grown := int64(0)
	h := NewSpanHeap(10, func(newCapacity int64) error {
		grown = newCapacity
		return nil
	})
	_, err := h.Alloc(5)
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.Alloc(20)
	if err != nil {
		t.Fatal(err)
	}
	if grown != 25 {
		t.Fatalf("expected grow callback invoked with 25, got %d", grown)
	}
	if h.Capacity() != 25 {
		t.Fatalf("expected capacity 25, got %d", h.Capacity())
	}
}

func TestSpanHeapAllocFailsWithoutGrow(t *testing.T) {
	h := NewSpanHeap(10, nil)
	if _, err := h.Alloc(20); err == nil {
		t.Fatal("expected error allocating beyond capacity with no grow callback")
	}
}

func TestSpanHeapReserveSplitsFreeSpan(t *testing.T) {
	h := NewSpanHeap(100, nil)
	h.Reserve(Span{Offset: 20, Length: 10})

	if h.FreeBytes() != 90 {
		t.Fatalf("expected 90 free bytes after reserving 10, got %d", h.FreeBytes())
	}
	if h.FreeSpanCount() != 2 {
		t.Fatalf("expected reserve to split the free span in two, got %d", h.FreeSpanCount())
	}

	a, err := h.Alloc(15)
	if err != nil {
		t.Fatal(err)
	}
	if a.Offset != 0 {
		t.Fatalf("expected first-fit allocation before the reserved hole, got offset %d", a.Offset)
	}
}
