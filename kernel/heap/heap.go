// Package heap implements the kernel's single general-purpose allocator: a
// segregated free-list allocator with a bump-allocation fallback, carved out
// of the Conventional regions in the firmware's memory-map snapshot.
package heap

import (
	"wyvern/kernel"
	"wyvern/kernel/cpu"
	"wyvern/kernel/firmware"
	"wyvern/kernel/mm"
	"wyvern/kernel/sync"
	"unsafe"
)

const (
	minClassShift = 4  // smallest size class: 16 bytes
	maxClassShift = 12 // largest size class: 4096 bytes (a page)
	numClasses    = maxClassShift - minClassShift + 1
)

// maxTrackedRegions bounds how many snapshot descriptors refill tracks
// individually when picking the largest remaining Conventional region.
// Comfortably above the "typically well under 200 entries" real UEFI
// firmware produces (firmware.snapshotBufSize); descriptors past this index
// are consumed in snapshot order instead of largest-first.
const maxTrackedRegions = 1024

// freeBlock is overlaid on a freed block's own storage; size classes are
// always at least 16 bytes, so there is always room for the pointer.
type freeBlock struct {
	next *freeBlock
}

// Allocator is a segregated free-list allocator over the memory-map
// snapshot's Conventional regions, falling back to bump allocation within
// the current region when a size class's free list is empty.
type Allocator struct {
	lock sync.Spinlock

	freeLists [numClasses]*freeBlock

	snap        *firmware.Snapshot
	consumed    [maxTrackedRegions]bool
	overflowIdx int
	cursor, end uintptr

	kernelStart, kernelEnd uintptr
}

var global Allocator

var errNotInitialized = &kernel.Error{Module: "heap", Message: "heap used before Init"}

// Init prepares the global heap from the firmware's memory-map snapshot,
// excluding any range that overlaps the kernel's own image, and registers
// it as the mm package's physical frame allocator — page-table child tables
// are ordinary 4096-byte heap allocations, there is no separate
// physical-frame-manager layer.
func Init(snap *firmware.Snapshot, kernelStart, kernelEnd uintptr) {
	global.snap = snap
	global.kernelStart = kernelStart
	global.kernelEnd = kernelEnd
	global.overflowIdx = maxTrackedRegions
	mm.SetFrameAllocator(allocFrame)
}

// Alloc reserves size bytes aligned to align, which must be a power of two
// no greater than 4096. Blocks are served from a free list when one exists
// for the rounded-up size class, otherwise bump-allocated from the current
// region.
func Alloc(size, align uintptr) (uintptr, *kernel.Error) {
	return global.alloc(size, align)
}

// Dealloc returns a block previously handed out by Alloc to its size
// class's free list. size and align must match the values passed to the
// original Alloc call. Blocks larger than the largest size class (i.e.
// oversized allocations that bypassed the free lists entirely) are not
// tracked and Dealloc is a deliberate no-op for them, mirroring the
// leaked-forever lifetime the kernel already uses for TSS/IST stacks and
// page tables.
func Dealloc(ptr, size, align uintptr) {
	global.dealloc(ptr, size, align)
}

func validAlign(align uintptr) bool {
	switch align {
	case 1, 2, 4, 8, 16, 32, 64, 4096:
		return true
	}
	return false
}

// classFor returns the size class index and the class's byte size for an
// allocation of at least need bytes. ok is false if need exceeds the
// largest class (4096), in which case the caller must bump-allocate
// directly instead of going through a free list.
func classFor(need uintptr) (idx int, classSize uintptr, ok bool) {
	classSize = uintptr(1) << minClassShift
	for idx = 0; idx < numClasses; idx++ {
		if need <= classSize {
			return idx, classSize, true
		}
		classSize <<= 1
	}
	return -1, 0, false
}

func (a *Allocator) alloc(size, align uintptr) (uintptr, *kernel.Error) {
	if a.snap == nil {
		return 0, errNotInitialized
	}
	if !validAlign(align) {
		return 0, kernel.ErrMisaligned
	}
	if size == 0 {
		size = 1
	}

	need := size
	if align > need {
		need = align
	}

	cpu.DisableInterrupts()
	a.lock.Acquire()
	defer func() {
		a.lock.Release()
		cpu.EnableInterrupts()
	}()

	idx, classSize, ok := classFor(need)
	if !ok {
		return a.bumpAlloc(need, align)
	}

	if blk := a.freeLists[idx]; blk != nil {
		a.freeLists[idx] = blk.next
		return uintptr(unsafe.Pointer(blk)), nil
	}

	return a.bumpAlloc(classSize, classSize)
}

func (a *Allocator) dealloc(ptr, size, align uintptr) {
	if ptr == 0 {
		return
	}

	need := size
	if align > need {
		need = align
	}

	idx, _, ok := classFor(need)
	if !ok {
		return
	}

	cpu.DisableInterrupts()
	a.lock.Acquire()

	blk := (*freeBlock)(unsafe.Pointer(ptr))
	blk.next = a.freeLists[idx]
	a.freeLists[idx] = blk

	a.lock.Release()
	cpu.EnableInterrupts()
}

// bumpAlloc carves need bytes aligned to align out of the current region,
// refilling from the memory-map snapshot as regions are exhausted. Callers
// must already hold a.lock.
func (a *Allocator) bumpAlloc(need, align uintptr) (uintptr, *kernel.Error) {
	for {
		aligned := alignUp(a.cursor, align)
		if aligned+need <= a.end {
			a.cursor = aligned + need
			return aligned, nil
		}

		if !a.refill() {
			return 0, kernel.ErrOutOfMemory
		}
	}
}

// refill carves the largest remaining Conventional region out of the
// snapshot, clamping away any overlap with the kernel's own image. It
// returns false once no usable region is left.
//
// Regions within the first maxTrackedRegions descriptors are consumed
// largest-first: a handful of huge regions, the common case on real
// firmware, are exhausted before the allocator ever falls back to the
// scraps, and the carve order is a function of region size alone rather
// than of the snapshot's incidental enumeration order. Descriptors beyond
// that index fall back to snapshot order via overflowIdx.
func (a *Allocator) refill() bool {
	best := -1
	var bestStart, bestEnd uintptr

	limit := a.snap.Len()
	if limit > maxTrackedRegions {
		limit = maxTrackedRegions
	}

	for i := 0; i < limit; i++ {
		if a.consumed[i] {
			continue
		}
		d := a.snap.At(i)
		if d.Kind != firmware.Conventional || d.PageCount == 0 {
			a.consumed[i] = true
			continue
		}

		start, end := clampRegion(d.PhysicalStart, d.PhysicalStart+d.SizeBytes(), a.kernelStart, a.kernelEnd)
		if end <= start {
			a.consumed[i] = true
			continue
		}

		if best == -1 || end-start > bestEnd-bestStart {
			best, bestStart, bestEnd = i, start, end
		}
	}

	if best != -1 {
		a.consumed[best] = true
		a.cursor, a.end = bestStart, bestEnd
		return true
	}

	for a.overflowIdx < a.snap.Len() {
		d := a.snap.At(a.overflowIdx)
		a.overflowIdx++

		if d.Kind != firmware.Conventional || d.PageCount == 0 {
			continue
		}

		start, end := clampRegion(d.PhysicalStart, d.PhysicalStart+d.SizeBytes(), a.kernelStart, a.kernelEnd)
		if end <= start {
			continue
		}

		a.cursor, a.end = start, end
		return true
	}

	return false
}

// clampRegion excludes the kernel's own image from a Conventional region.
// If the kernel image starts inside the region, only the portion past the
// end of the kernel image is used; the region is otherwise returned
// untouched. This slightly under-uses memory when the kernel sits in the
// middle of a region rather than at its start, which is the layout this
// kernel's own loader produces.
func clampRegion(start, end, kernelStart, kernelEnd uintptr) (uintptr, uintptr) {
	if kernelEnd <= start || kernelStart >= end {
		return start, end
	}
	if kernelEnd < end {
		return kernelEnd, end
	}
	return end, end
}

func alignUp(addr, align uintptr) uintptr {
	return (addr + align - 1) &^ (align - 1)
}

// allocFrame is registered with mm.SetFrameAllocator so that vmm's
// page-table walks allocate their child tables straight out of this heap.
func allocFrame() (mm.Frame, *kernel.Error) {
	addr, err := Alloc(mm.PageSize, mm.PageSize)
	if err != nil {
		return mm.InvalidFrame, err
	}

	return mm.FrameFromAddress(addr), nil
}
