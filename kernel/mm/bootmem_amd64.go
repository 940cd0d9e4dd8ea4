package mm

import (
	"wyvern/kernel"
	"wyvern/kernel/firmware"
	"wyvern/kernel/kfmt/early"
)

var errBootAllocOutOfMemory = &kernel.Error{Module: "boot_mem_alloc", Message: "out of memory"}

// BootMemAllocator is a rudimentary physical memory allocator used to
// bootstrap the kernel before the general-purpose heap is available.
//
// The allocator scans the firmware-reported memory-map snapshot for
// Conventional regions and hands out the next available free frame.
// Allocations are tracked via an internal counter holding the last
// allocated frame. Frames can never be freed through this allocator; once
// the heap is initialized, any blocks it has handed out remain permanently
// reserved (mirroring the lifetime of the page tables and TSS stacks built
// during the same init phase).
type BootMemAllocator struct {
	snap *firmware.Snapshot

	allocCount uint64

	lastAllocFrame Frame

	kernelStartFrame, kernelEndFrame Frame
}

// Init sets up the boot memory allocator, recording the kernel's own
// physical footprint so that AllocFrame never hands out a frame the kernel
// image itself occupies.
func (alloc *BootMemAllocator) Init(snap *firmware.Snapshot, kernelStart, kernelEnd uintptr) {
	pageSizeMinus1 := uintptr(PageSize - 1)
	alloc.snap = snap
	alloc.kernelStartFrame = Frame((kernelStart &^ pageSizeMinus1) >> PageShift)
	alloc.kernelEndFrame = Frame(((kernelEnd+pageSizeMinus1)&^pageSizeMinus1)>>PageShift) - 1
}

// AllocFrame scans the firmware memory-map snapshot for the next available
// free frame, skipping the kernel image's own footprint.
func (alloc *BootMemAllocator) AllocFrame() (Frame, *kernel.Error) {
	var found = false

	for i := 0; i < alloc.snap.Len(); i++ {
		desc := alloc.snap.At(i)
		if desc.Kind != firmware.Conventional || desc.PageCount == 0 {
			continue
		}

		regionStartFrame := FrameFromAddress(desc.PhysicalStart)
		regionEndFrame := regionStartFrame + Frame(desc.PageCount) - 1

		if alloc.lastAllocFrame >= regionEndFrame && alloc.allocCount > 0 {
			continue
		}

		switch {
		case (alloc.lastAllocFrame <= regionStartFrame && alloc.kernelStartFrame == regionStartFrame) ||
			(alloc.lastAllocFrame <= regionEndFrame && alloc.lastAllocFrame+1 == alloc.kernelStartFrame):
			alloc.lastAllocFrame = alloc.kernelEndFrame + 1
		case alloc.lastAllocFrame < regionStartFrame || alloc.allocCount == 0:
			alloc.lastAllocFrame = regionStartFrame
		default:
			alloc.lastAllocFrame++
		}

		if alloc.lastAllocFrame > regionEndFrame {
			continue
		}

		found = true
		break
	}

	if !found {
		return InvalidFrame, errBootAllocOutOfMemory
	}

	alloc.allocCount++
	return alloc.lastAllocFrame, nil
}

// PrintMemoryMap writes a human-readable dump of the captured memory map via
// early.Printf: to the registered output sink, or to kfmt's ring buffer if
// none is registered yet. Useful during bring-up before the general text
// sink (§4.8) is registered.
func (alloc *BootMemAllocator) PrintMemoryMap() {
	early.Printf("[boot_mem_alloc] system memory map:\n")

	var totalFree uint64
	for i := 0; i < alloc.snap.Len(); i++ {
		desc := alloc.snap.At(i)
		early.Printf("\t[0x%10x - 0x%10x], pages: %8d, kind: %d\n",
			desc.PhysicalStart, desc.PhysicalStart+desc.SizeBytes(), desc.PageCount, desc.Kind)

		if desc.Kind.Reusable() {
			totalFree += desc.PageCount
		}
	}

	early.Printf("[boot_mem_alloc] available memory: %d pages\n", totalFree)
}
