// Package firmware implements the thin boundary between the kernel and the
// UEFI firmware that hands control to it: memory-map capture, the exit from
// boot services, and lookup of the graphics-output and ACPI root pointers.
// Every call here that goes through boot services is only legal before
// ExitFirmwareServices returns successfully; after that point boot services
// are gone and the kernel must rely solely on what it captured.
package firmware

import (
	"strings"
	"unsafe"
	"wyvern/kernel"
)

// MemoryKind classifies a descriptor in a memory-map snapshot.
type MemoryKind uint32

// Memory kinds as reported by GetMemoryMap. Only Conventional, BootCode and
// BootData are safe to reuse once boot services have been exited.
const (
	Reserved MemoryKind = iota
	LoaderCode
	LoaderData
	BootCode
	BootData
	RuntimeCode
	RuntimeData
	Conventional
	Unusable
	AcpiReclaim
	AcpiNvs
	Mmio
	MmioPort
	Pal
	Persistent
)

// Reusable reports whether memory of this kind may be claimed by the heap
// allocator after the firmware relinquishes control.
func (k MemoryKind) Reusable() bool {
	return k == Conventional || k == BootCode || k == BootData
}

// pageSize is the firmware's page granularity; all PageCount fields are
// expressed in units of this size.
const pageSize = 4096

// Descriptor describes one contiguous physical memory region as reported by
// the firmware's memory map.
type Descriptor struct {
	Kind          MemoryKind
	PhysicalStart uintptr
	PageCount     uint64
	Attributes    uint64
}

// SizeBytes returns the size of the region in bytes.
func (d Descriptor) SizeBytes() uintptr {
	return uintptr(d.PageCount) * pageSize
}

// snapshotBufSize is the fixed buffer size used to capture the firmware's
// memory map. 32 KiB comfortably covers the descriptor counts observed on
// real UEFI firmware (typically well under 200 entries).
const snapshotBufSize = 32 * 1024

// Snapshot is an atomically-captured, ordered sequence of memory
// descriptors together with the map key the firmware requires when exiting
// boot services. Descriptors are disjoint in
// [PhysicalStart, PhysicalStart+PageCount*4096).
type Snapshot struct {
	buf          [snapshotBufSize]byte
	mapSize      uintptr
	mapKey       uintptr
	descSize     uintptr
	descVersion  uint32
}

// Len returns the number of descriptors in the snapshot.
func (s *Snapshot) Len() int {
	if s.descSize == 0 {
		return 0
	}
	return int(s.mapSize / s.descSize)
}

// At returns the i'th descriptor in firmware-provided order.
func (s *Snapshot) At(i int) Descriptor {
	raw := (*rawDescriptor)(unsafe.Pointer(&s.buf[uintptr(i)*s.descSize]))
	return Descriptor{
		Kind:          MemoryKind(raw.Kind),
		PhysicalStart: uintptr(raw.PhysicalStart),
		PageCount:     raw.PageCount,
		Attributes:    raw.Attributes,
	}
}

// NewTestSnapshot builds a Snapshot from an explicit descriptor list,
// bypassing CaptureMemoryMap. Used by other packages' tests to exercise
// code that consumes a Snapshot without a real firmware present.
func NewTestSnapshot(descs []Descriptor) *Snapshot {
	snap := &Snapshot{
		descSize: uintptr(unsafe.Sizeof(rawDescriptor{})),
	}
	snap.mapSize = uintptr(len(descs)) * snap.descSize

	for i, d := range descs {
		raw := (*rawDescriptor)(unsafe.Pointer(&snap.buf[uintptr(i)*snap.descSize]))
		raw.Kind = uint32(d.Kind)
		raw.PhysicalStart = uint64(d.PhysicalStart)
		raw.PageCount = d.PageCount
		raw.Attributes = d.Attributes
	}

	return snap
}

// TotalPages sums the page count of every descriptor matching kind.
func (s *Snapshot) TotalPages(kind MemoryKind) uint64 {
	var total uint64
	for i := 0; i < s.Len(); i++ {
		if d := s.At(i); d.Kind == kind {
			total += d.PageCount
		}
	}
	return total
}

// rawDescriptor mirrors the UEFI EFI_MEMORY_DESCRIPTOR layout closely
// enough for this kernel's purposes: a 32-bit type tag followed by the
// physical/virtual start addresses, the page count and the attribute
// bitmask. The firmware's descSize (usually larger, to leave room for
// future fields) governs the actual stride used when walking buf.
type rawDescriptor struct {
	Kind          uint32
	_             uint32 // padding to align PhysicalStart on UEFI
	PhysicalStart uint64
	VirtualStart  uint64
	PageCount     uint64
	Attributes    uint64
}

var (
	errMapKeyStale = &kernel.Error{Module: "firmware", Message: "memory map key invalidated before boot services could be exited"}

	// maxExitRetries bounds the capture/exit retry loop in
	// ExitFirmwareServices. Firmware is only expected to invalidate the
	// map key a handful of times while servicing timer or input events.
	maxExitRetries = 8
)

// CaptureMemoryMap calls the firmware's GetMemoryMap into snap's fixed
// buffer, recording the descriptor stride and map key needed later by
// ExitFirmwareServices.
func CaptureMemoryMap(sys *SystemTable, snap *Snapshot) *kernel.Error {
	snap.mapSize = snapshotBufSize

	status := sys.bootServices().getMemoryMap(
		&snap.mapSize,
		uintptr(unsafe.Pointer(&snap.buf[0])),
		&snap.mapKey,
		&snap.descSize,
		&snap.descVersion,
	)
	if status != statusSuccess {
		return kernel.ErrFirmwareCallFailed
	}

	return nil
}

// ExitFirmwareServices hands the machine fully over to the kernel. Firmware
// may invalidate the map key between a CaptureMemoryMap call and the actual
// exit by servicing an event (timer tick, USB poll); the only correct idiom
// is to recapture and retry until the exit call observes a still-valid key
// or the retry budget is exhausted.
func ExitFirmwareServices(sys *SystemTable, imageHandle uintptr, snap *Snapshot) *kernel.Error {
	for attempt := 0; attempt < maxExitRetries; attempt++ {
		status := sys.bootServices().exitBootServices(imageHandle, snap.mapKey)
		if status == statusSuccess {
			return nil
		}

		if err := CaptureMemoryMap(sys, snap); err != nil {
			return err
		}
	}

	return errMapKeyStale
}

// FramebufferInfo describes the active Graphics Output Protocol mode.
type FramebufferInfo struct {
	Base          uintptr
	Width         uint32
	Height        uint32
	StridePixels  uint32
	BytesPerPixel uint32
}

// gopGUID is the standardized GUID for the Graphics Output Protocol:
// 9042a9de-23dc-4a38-96fb-7aded080516a.
var gopGUID = guid{
	Data1: 0x9042a9de,
	Data2: 0x23dc,
	Data3: 0x4a38,
	Data4: [8]byte{0x96, 0xfb, 0x7a, 0xde, 0xd0, 0x80, 0x51, 0x6a},
}

// LocateGraphicsOutput looks up the Graphics Output Protocol and reads back
// the currently active mode.
func LocateGraphicsOutput(sys *SystemTable) (FramebufferInfo, *kernel.Error) {
	var iface *gopProtocol

	status := sys.bootServices().locateProtocol(&gopGUID, 0, unsafe.Pointer(&iface))
	if status != statusSuccess || iface == nil {
		return FramebufferInfo{}, kernel.ErrFirmwareCallFailed
	}

	mode := iface.Mode
	info := mode.Info

	return FramebufferInfo{
		Base:          uintptr(mode.FrameBufferBase),
		Width:         info.HorizontalResolution,
		Height:        info.VerticalResolution,
		StridePixels:  info.PixelsPerScanLine,
		BytesPerPixel: 4,
	}, nil
}

// LocateACPIRoot reads the RSDP pointer handed to the kernel through the
// firmware's configuration table. It performs no boot-services calls, so it
// remains legal to invoke it even after ExitFirmwareServices.
func LocateACPIRoot(sys *SystemTable) (uintptr, *kernel.Error) {
	for i := uintptr(0); i < uintptr(sys.NumberOfTableEntries); i++ {
		entry := sys.configTableEntry(i)
		if entry.VendorGUID == acpi20GUID || entry.VendorGUID == acpi10GUID {
			return entry.VendorTable, nil
		}
	}

	return 0, kernel.ErrFirmwareCallFailed
}

var (
	acpi20GUID = guid{Data1: 0x8868e871, Data2: 0xe4f1, Data3: 0x11d3, Data4: [8]byte{0xbc, 0x22, 0x00, 0x80, 0xc7, 0x3c, 0x88, 0x81}}
	acpi10GUID = guid{Data1: 0xeb9d2d30, Data2: 0x2d88, Data3: 0x11d3, Data4: [8]byte{0x9a, 0x16, 0x00, 0x90, 0x27, 0x3f, 0xc1, 0x4d}}
)

// loadedImageGUID is the standardized GUID for EFI_LOADED_IMAGE_PROTOCOL:
// 5b1b31a1-9562-11d2-8e3f-00a0c969723b.
var loadedImageGUID = guid{
	Data1: 0x5b1b31a1,
	Data2: 0x9562,
	Data3: 0x11d2,
	Data4: [8]byte{0x8e, 0x3f, 0x00, 0xa0, 0xc9, 0x69, 0x72, 0x3b},
}

// ParseBootArgs reads the UEFI loaded-image command line associated with
// imageHandle and splits it into whitespace-separated key=value pairs. A
// token with no '=' is stored with an empty value. Must be called before
// ExitFirmwareServices, since it relies on a boot-services call.
func ParseBootArgs(sys *SystemTable, imageHandle uintptr) (map[string]string, *kernel.Error) {
	var iface *loadedImageProtocol

	status := sys.bootServices().handleProtocol(imageHandle, &loadedImageGUID, unsafe.Pointer(&iface))
	if status != statusSuccess || iface == nil {
		return nil, kernel.ErrFirmwareCallFailed
	}

	args := make(map[string]string)
	if iface.LoadOptions == nil || iface.LoadOptionsSize == 0 {
		return args, nil
	}

	cmdLine := decodeUTF16(iface.LoadOptions, uintptr(iface.LoadOptionsSize)/2)
	for _, tok := range strings.Fields(cmdLine) {
		if eq := strings.IndexByte(tok, '='); eq >= 0 {
			args[tok[:eq]] = tok[eq+1:]
		} else {
			args[tok] = ""
		}
	}

	return args, nil
}

// decodeUTF16 converts a firmware-owned, NUL-terminated (or length-bounded)
// UTF-16 string into a Go string by keeping only the low byte of each code
// unit, so only ASCII text survives intact, rather than pulling in
// unicode/utf16's surrogate handling for a command line that is never more
// than boot option flags.
func decodeUTF16(p *uint16, maxLen uintptr) string {
	units := unsafe.Slice(p, maxLen)
	buf := make([]byte, 0, maxLen)
	for _, u := range units {
		if u == 0 {
			break
		}
		buf = append(buf, byte(u))
	}
	return string(buf)
}
