package heap

import (
	"wyvern/kernel"
	"wyvern/kernel/firmware"
	"testing"
)

func freshAllocator(descs []firmware.Descriptor, kernelStart, kernelEnd uintptr) *Allocator {
	return &Allocator{
		snap:        firmware.NewTestSnapshot(descs),
		overflowIdx: maxTrackedRegions,
		kernelStart: kernelStart,
		kernelEnd:   kernelEnd,
	}
}

func TestAllocUsedBeforeInit(t *testing.T) {
	var a Allocator
	if _, err := a.alloc(16, 16); err != errNotInitialized {
		t.Fatalf("expected errNotInitialized; got %v", err)
	}
}

func TestAllocRejectsBadAlignment(t *testing.T) {
	a := freshAllocator([]firmware.Descriptor{
		{Kind: firmware.Conventional, PhysicalStart: 0x100000, PageCount: 16},
	}, 0, 0)

	if _, err := a.alloc(16, 3); err != kernel.ErrMisaligned {
		t.Fatalf("expected ErrMisaligned; got %v", err)
	}
}

func TestAllocBumpsWithinRegion(t *testing.T) {
	a := freshAllocator([]firmware.Descriptor{
		{Kind: firmware.Conventional, PhysicalStart: 0x100000, PageCount: 16},
	}, 0, 0)

	p1, err := a.alloc(32, 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p2, err := a.alloc(32, 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p1 == p2 {
		t.Fatalf("expected distinct addresses; got %x twice", p1)
	}
	if p1%32 != 0 || p2%32 != 0 {
		t.Fatalf("expected 32-byte aligned addresses; got %x and %x", p1, p2)
	}
}

func TestAllocSkipsKernelImage(t *testing.T) {
	a := freshAllocator([]firmware.Descriptor{
		{Kind: firmware.Conventional, PhysicalStart: 0x100000, PageCount: 16},
	}, 0x100000, 0x100000+8*4096)

	p, err := a.alloc(16, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p < 0x100000+8*4096 {
		t.Fatalf("expected allocation past the kernel image; got %x", p)
	}
}

func TestAllocCarvesLargestRegionFirst(t *testing.T) {
	a := freshAllocator([]firmware.Descriptor{
		{Kind: firmware.Reserved, PhysicalStart: 0x0, PageCount: 16},
		{Kind: firmware.Conventional, PhysicalStart: 0x100000, PageCount: 1},
		{Kind: firmware.Conventional, PhysicalStart: 0x200000, PageCount: 16},
	}, 0, 0)

	p, err := a.alloc(4096, 4096)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p < 0x200000 {
		t.Fatalf("expected the first carve to come from the larger (16-page) region; got %x", p)
	}

	// Exhaust the rest of the larger region.
	for i := 1; i < 16; i++ {
		if _, err := a.alloc(4096, 4096); err != nil {
			t.Fatalf("unexpected error while exhausting the larger region: %v", err)
		}
	}

	p, err = a.alloc(16, 16)
	if err != nil {
		t.Fatalf("expected allocator to fall through to the smaller region: %v", err)
	}
	if p < 0x100000 || p >= 0x200000 {
		t.Fatalf("expected the allocation to land in the smaller (one-page) region; got %x", p)
	}
}

func TestAllocOutOfMemory(t *testing.T) {
	a := freshAllocator([]firmware.Descriptor{
		{Kind: firmware.Conventional, PhysicalStart: 0x100000, PageCount: 1},
	}, 0, 0)

	if _, err := a.alloc(4096, 4096); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := a.alloc(16, 16); err != kernel.ErrOutOfMemory {
		t.Fatalf("expected ErrOutOfMemory; got %v", err)
	}
}

func TestDeallocRecyclesBlock(t *testing.T) {
	a := freshAllocator([]firmware.Descriptor{
		{Kind: firmware.Conventional, PhysicalStart: 0x100000, PageCount: 16},
	}, 0, 0)

	p1, err := a.alloc(32, 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a.dealloc(p1, 32, 32)

	p2, err := a.alloc(32, 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p2 != p1 {
		t.Fatalf("expected the freed block to be reused; got %x, want %x", p2, p1)
	}
}

func TestDeallocOversizedIsNoop(t *testing.T) {
	a := freshAllocator([]firmware.Descriptor{
		{Kind: firmware.Conventional, PhysicalStart: 0x100000, PageCount: 16},
	}, 0, 0)

	// 9000 bytes exceeds the largest size class (4096), so this allocation
	// bypassed the free lists entirely; dealloc on it must not touch any
	// free list.
	p, err := a.alloc(9000, 16)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a.dealloc(p, 9000, 16)
	for i, fl := range a.freeLists {
		if fl != nil {
			t.Fatalf("expected no free list entries after an oversized dealloc; class %d is non-nil", i)
		}
	}
}

func TestClassFor(t *testing.T) {
	cases := []struct {
		need      uintptr
		wantClass uintptr
		wantOK    bool
	}{
		{1, 16, true},
		{16, 16, true},
		{17, 32, true},
		{4096, 4096, true},
		{4097, 0, false},
	}

	for _, c := range cases {
		_, size, ok := classFor(c.need)
		if ok != c.wantOK {
			t.Fatalf("classFor(%d): expected ok=%v; got %v", c.need, c.wantOK, ok)
		}
		if ok && size != c.wantClass {
			t.Fatalf("classFor(%d): expected class size %d; got %d", c.need, c.wantClass, size)
		}
	}
}

func TestClampRegion(t *testing.T) {
	cases := []struct {
		name                   string
		start, end             uintptr
		kernelStart, kernelEnd uintptr
		wantStart, wantEnd     uintptr
	}{
		{"no overlap", 0x1000, 0x2000, 0x5000, 0x6000, 0x1000, 0x2000},
		{"kernel at region start", 0x1000, 0x3000, 0x1000, 0x2000, 0x2000, 0x3000},
		{"kernel covers region", 0x1000, 0x2000, 0x0, 0x3000, 0x2000, 0x2000},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			gotStart, gotEnd := clampRegion(c.start, c.end, c.kernelStart, c.kernelEnd)
			if gotStart != c.wantStart || gotEnd != c.wantEnd {
				t.Fatalf("expected [%x, %x); got [%x, %x)", c.wantStart, c.wantEnd, gotStart, gotEnd)
			}
		})
	}
}
