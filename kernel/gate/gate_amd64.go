package gate

import (
	"wyvern/kernel/cpu"
	"wyvern/kernel/heap"
	"wyvern/kernel/kfmt"
	"io"
	"unsafe"
)

// Registers contains a snapshot of all register values when an exception,
// interrupt or syscall occurs, in the exact order the entry stubs in
// gate_amd64.s push them. Field order here is not cosmetic: it is the ABI
// between the assembly prologue and this struct, enforced by the size and
// offset assertions in init() below.
type Registers struct {
	// FPUArea holds the legacy x87/MMX/SSE state saved by FXSAVE64 on
	// entry and restored by FXRSTOR64 before IRETQ. The dispatcher never
	// inspects it; it only has to survive the round trip unmodified.
	FPUArea [512]byte
	_       [8]byte // stub reserves this alongside FPUArea; never written

	R15 uint64
	R14 uint64
	R13 uint64
	R12 uint64
	R11 uint64
	R10 uint64
	R9  uint64
	R8  uint64
	RBP uint64
	RDI uint64
	RSI uint64
	RDX uint64
	RBX uint64
	RAX uint64
	RCX uint64

	// Info contains the exception code for exceptions, the syscall number
	// for syscall entries or the IRQ number for HW interrupts.
	Info uint64

	// The return frame used by IRETQ
	RIP    uint64
	CS     uint64
	RFlags uint64
	RSP    uint64
	SS     uint64
}

// DumpTo outputs the register contents to w.
func (r *Registers) DumpTo(w io.Writer) {
	kfmt.Fprintf(w, "RAX = %16x RBX = %16x\n", r.RAX, r.RBX)
	kfmt.Fprintf(w, "RCX = %16x RDX = %16x\n", r.RCX, r.RDX)
	kfmt.Fprintf(w, "RSI = %16x RDI = %16x\n", r.RSI, r.RDI)
	kfmt.Fprintf(w, "RBP = %16x\n", r.RBP)
	kfmt.Fprintf(w, "R8  = %16x R9  = %16x\n", r.R8, r.R9)
	kfmt.Fprintf(w, "R10 = %16x R11 = %16x\n", r.R10, r.R11)
	kfmt.Fprintf(w, "R12 = %16x R13 = %16x\n", r.R12, r.R13)
	kfmt.Fprintf(w, "R14 = %16x R15 = %16x\n", r.R14, r.R15)
	kfmt.Fprintf(w, "\n")
	kfmt.Fprintf(w, "RIP = %16x CS  = %16x\n", r.RIP, r.CS)
	kfmt.Fprintf(w, "RSP = %16x SS  = %16x\n", r.RSP, r.SS)
	kfmt.Fprintf(w, "RFL = %16x\n", r.RFlags)
}

// InterruptNumber describes an x86 interrupt/exception/trap slot.
type InterruptNumber uint8

const (
	// DivideByZero occurs when dividing any number by 0 using the DIV or
	// IDIV instruction.
	DivideByZero = InterruptNumber(0)

	// NMI (non-maskable-interrupt) is a hardware interrupt that indicates
	// issues with RAM or unrecoverable hardware problems. It may also be
	// raised by the CPU when a watchdog timer is enabled.
	NMI = InterruptNumber(2)

	// Breakpoint occurs when executing an INT3 instruction. Unlike the
	// other handled vectors, it is reachable from ring 3.
	Breakpoint = InterruptNumber(3)

	// Overflow occurs when an overflow occurs (e.g result of division
	// cannot fit into the registers used).
	Overflow = InterruptNumber(4)

	// BoundRangeExceeded occurs when the BOUND instruction is invoked with
	// an index out of range.
	BoundRangeExceeded = InterruptNumber(5)

	// InvalidOpcode occurs when the CPU attempts to execute an invalid or
	// undefined instruction opcode.
	InvalidOpcode = InterruptNumber(6)

	// DeviceNotAvailable occurs when the CPU attempts to execute an
	// FPU/MMX/SSE instruction while no FPU is available or while
	// FPU/MMX/SSE support has been disabled by manipulating the CR0
	// register.
	DeviceNotAvailable = InterruptNumber(7)

	// DoubleFault occurs when an unhandled exception occurs or when an
	// exception occurs within a running exception handler.
	DoubleFault = InterruptNumber(8)

	// InvalidTSS occurs when the TSS points to an invalid task segment
	// selector.
	InvalidTSS = InterruptNumber(10)

	// SegmentNotPresent occurs when the CPU attempts to invoke a present
	// gate with an invalid stack segment selector.
	SegmentNotPresent = InterruptNumber(11)

	// StackSegmentFault occurs when attempting to push/pop from a
	// non-canonical stack address or when the stack base/limit (set in
	// GDT) checks fail.
	StackSegmentFault = InterruptNumber(12)

	// GPFException occurs when a general protection fault occurs.
	GPFException = InterruptNumber(13)

	// PageFaultException occurs when a page directory table (PDT) or one
	// of its entries is not present or when a privilege and/or RW
	// protection check fails.
	PageFaultException = InterruptNumber(14)

	// FloatingPointException occurs while invoking an FP instruction while:
	//  - CR0.NE = 1 OR
	//  - an unmasked FP exception is pending
	FloatingPointException = InterruptNumber(16)

	// AlignmentCheck occurs when alignment checks are enabled and an
	// unaligmed memory access is performed.
	AlignmentCheck = InterruptNumber(17)

	// MachineCheck occurs when the CPU detects internal errors such as
	// memory-, bus- or cache-related errors.
	MachineCheck = InterruptNumber(18)

	// SIMDFloatingPointException occurs when an unmasked SSE exception
	// occurs while CR4.OSXMMEXCPT is set to 1. If the OSXMMEXCPT bit is
	// not set, SIMD FP exceptions cause InvalidOpcode exceptions instead.
	SIMDFloatingPointException = InterruptNumber(19)

	// LegacyIRQ0 is the vector the legacy 8259 PIC (or its APIC
	// equivalent) delivers timer ticks on. Nothing drives this vector at
	// the moment; the executor never waits on a timer interrupt, but the
	// gate is wired so a stray tick does not fall through to the
	// unimplemented-trap stub.
	LegacyIRQ0 = InterruptNumber(32)
)

const (
	selectorNull       = 0x00
	selectorKernelCode = 0x08
	selectorKernelData = 0x10
	selectorTSS        = 0x18

	// istInterrupt is used by every handled vector except DoubleFault.
	istInterrupt = 1
	// istDoubleFault gives the double-fault handler its own stack since a
	// double fault can itself be caused by a stack overflow on istInterrupt.
	istDoubleFault = 2

	gateTypeInterrupt64 = 0x0e
	gatePresent         = 0x80

	stackSize = 64 * 1024
)

// tssLayout mirrors the 64-bit Task State Segment. Only RSP0..2 and
// IST1..7 are used; this kernel never does ring transitions through the
// TSS's I/O permission bitmap.
type tssLayout struct {
	_     uint32
	rsp0  uint64
	rsp1  uint64
	rsp2  uint64
	_     uint64
	ist1  uint64
	ist2  uint64
	ist3  uint64
	ist4  uint64
	ist5  uint64
	ist6  uint64
	ist7  uint64
	_     uint64
	_     uint16
	_     uint16
}

// idtGate mirrors a single 64-bit IDT interrupt-gate descriptor.
type idtGate struct {
	offsetLow  uint16
	selector   uint16
	ist        uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	_          uint32
}

var (
	gdt [5]uint64
	idt [256]idtGate
	tss tssLayout

	handlers [256]func(*Registers)

	// haltFn is mocked by tests.
	haltFn = cpu.Halt
)

func init() {
	if sz := unsafe.Sizeof(idtGate{}); sz != 16 {
		panic("gate: idtGate size drifted from the CPU's IDT entry ABI")
	}
	if sz := unsafe.Sizeof(tssLayout{}); sz != 104 {
		panic("gate: tssLayout size drifted from the CPU's TSS ABI")
	}
	if sz := unsafe.Sizeof(Registers{}); sz != 688 {
		panic("gate: Registers size drifted from the entry stubs' pushed frame layout")
	}
	if off := unsafe.Offsetof(Registers{}.R15); off != 520 {
		panic("gate: Registers.R15 is no longer where FXSAVE64's reserved area ends")
	}
	if off := unsafe.Offsetof(Registers{}.RCX); off != unsafe.Offsetof(Registers{}.R15)+14*8 {
		panic("gate: Registers.RCX is no longer where the entry stubs push it")
	}
	if off := unsafe.Offsetof(Registers{}.Info); off != unsafe.Offsetof(Registers{}.RCX)+8 {
		panic("gate: Registers.Info is no longer adjacent to RCX; the entry stubs assume it is")
	}
	if off := unsafe.Offsetof(Registers{}.RIP); off != unsafe.Offsetof(Registers{}.Info)+8 {
		panic("gate: Registers.RIP is no longer adjacent to Info; the entry stubs assume it is")
	}
}

// Init runs the appropriate CPU-specific initialization code for enabling
// support for interrupt handling.
func Init() {
	installGDT()
	installIDT()
}

// HandleInterrupt ensures that the provided handler will be invoked when a
// particular interrupt number occurs. The istOffset argument is accepted for
// interface symmetry with the teacher's original signature; in practice the
// IST each handled vector runs on is fixed at IDT-build time (DoubleFault
// gets its own stack, every other handled vector shares istInterrupt).
func HandleInterrupt(intNumber InterruptNumber, istOffset uint8, handler func(*Registers)) {
	handlers[intNumber] = handler
}

// installGDT builds the flat GDT (null, kernel code, kernel data, TSS),
// points the TSS's ring-switch and interrupt-stack-table slots at freshly
// reserved 64 KiB stacks, loads the GDT, reloads every segment register and
// loads the task register.
//
// The five stacks come from heap.Alloc rather than static arrays: Init runs
// after heap.Init has brought the manual (non-GC) heap online but before
// goruntime.Init hijacks the Go allocator, so heap.Alloc is the only safe
// way to get backing memory at this point, and it avoids reserving 320 KiB
// in the image for stacks that exist whether or not the kernel ever probes
// hardware that takes the vectors needing them.
func installGDT() {
	tss.rsp0 = allocStackTop()
	tss.rsp1 = allocStackTop()
	tss.rsp2 = allocStackTop()
	tss.ist1 = allocStackTop()
	tss.ist2 = allocStackTop()
	// IST slots 3-7 are left pointing at IST1's stack top; nothing routes
	// through them yet (only istInterrupt and istDoubleFault are ever
	// referenced by an IDT gate), but a non-zero IST entry is cheap
	// insurance against a future gate referencing them by mistake.
	tss.ist3 = tss.ist1
	tss.ist4 = tss.ist1
	tss.ist5 = tss.ist1
	tss.ist6 = tss.ist1
	tss.ist7 = tss.ist1

	tssLo, tssHi := encodeTSSDescriptor(uintptr(unsafe.Pointer(&tss)), uint32(unsafe.Sizeof(tss)-1))

	gdt[0] = 0
	gdt[1] = 0x00209a0000000000 // present, DPL0, code, long-mode, readable
	gdt[2] = 0x0000920000000000 // present, DPL0, data, writable
	gdt[3] = tssLo
	gdt[4] = tssHi

	lgdt(uintptr(unsafe.Pointer(&gdt[0])), uint16(unsafe.Sizeof(gdt)-1))
	reloadCodeSegment()
	reloadDataSegments(selectorKernelData)
	ltr(selectorTSS)
}

// encodeTSSDescriptor builds the two 64-bit words of a 64-bit TSS system
// descriptor: a present, DPL0, type=0x9 (64-bit TSS, available) descriptor
// whose base points at a tssLayout value and whose limit covers it exactly.
func encodeTSSDescriptor(base uintptr, limit uint32) (lo uint64, hi uint64) {
	b := uint64(base)
	lo = uint64(limit&0xffff) |
		((b & 0xffffff) << 16) |
		(uint64(gatePresent|0x09) << 40) |
		(uint64(limit>>16&0xf) << 48) |
		((b >> 24 & 0xff) << 56)
	hi = b >> 32
	return lo, hi
}

// allocStackTop reserves a stackSize-byte, 16-byte-aligned stack from the
// heap and returns the address one past its end, the value RSP/ISTn must
// hold since the stack grows down from there.
func allocStackTop() uint64 {
	base, err := heap.Alloc(stackSize, 16)
	if err != nil {
		kfmt.Panic(err)
	}
	return uint64(base) + stackSize
}

// vectorStub pairs a handled interrupt vector with the address of its
// dedicated assembly entry stub and the IST slot that stub's IDT gate uses.
type vectorStub struct {
	vector InterruptNumber
	addr   uintptr
	ist    uint8
	dpl    uint8
}

// installIDT populates every IDT slot with the unimplemented-trap stub and
// then overrides the handled vectors with their dedicated entry stubs, and
// loads the table.
func installIDT() {
	unimplemented := buildGate(addrUnimplementedStub(), selectorKernelCode, istInterrupt, gatePresent|gateTypeInterrupt64)
	for i := range idt {
		idt[i] = unimplemented
	}

	handled := []vectorStub{
		{Breakpoint, addrBreakpointStub(), istInterrupt, 3},
		{InvalidOpcode, addrInvalidOpcodeStub(), istInterrupt, 0},
		{DoubleFault, addrDoubleFaultStub(), istDoubleFault, 0},
		{GPFException, addrGPFStub(), istInterrupt, 0},
		{PageFaultException, addrPageFaultStub(), istInterrupt, 0},
		{LegacyIRQ0, addrLegacyIRQ0Stub(), istInterrupt, 0},
	}

	for _, v := range handled {
		idt[v.vector] = buildGate(v.addr, selectorKernelCode, v.ist, gatePresent|(v.dpl<<5)|gateTypeInterrupt64)
	}

	lidt(uintptr(unsafe.Pointer(&idt[0])), uint16(unsafe.Sizeof(idt)-1))
}

func buildGate(offset uintptr, selector uint16, ist uint8, typeAttr uint8) idtGate {
	return idtGate{
		offsetLow:  uint16(offset),
		selector:   selector,
		ist:        ist,
		typeAttr:   typeAttr,
		offsetMid:  uint16(offset >> 16),
		offsetHigh: uint32(offset >> 32),
	}
}

// dispatchCommon is called by every handled-vector entry stub once it has
// built the frame and loaded the frame pointer into RDI and the vector
// number into RSI; the assembly prologue marshals those two registers onto
// the stack in ABI0 order before the call, so this is an ordinary Go
// function rather than one requiring a register-ABI pragma. It is
// deliberately free of further Go call depth: interrupt stubs must not
// allocate, and the stacks they run on are small.
func dispatchCommon(regs *Registers, vector InterruptNumber) {
	if h := handlers[vector]; h != nil {
		h(regs)
		return
	}

	fatalFault(vector, regs)
}

func fatalFault(vector InterruptNumber, regs *Registers) {
	w := kfmt.GetOutputSink()
	kfmt.Fprintf(w, "unhandled interrupt %d (no handler registered)\n", vector)
	regs.DumpTo(w)
	cpu.DisableInterrupts()
	haltFn()
}

// lgdt loads the GDTR from a descriptor table starting at base, sized
// limit+1 bytes.
func lgdt(base uintptr, limit uint16)

// lidt loads the IDTR from a descriptor table starting at base, sized
// limit+1 bytes.
func lidt(base uintptr, limit uint16)

// ltr loads the task register with the given GDT selector.
func ltr(selector uint16)

// reloadCodeSegment reloads CS with selectorKernelCode via a far return,
// which is the only way to change CS on x86_64.
func reloadCodeSegment()

// reloadDataSegments reloads SS, DS, ES, FS and GS with the given selector.
func reloadDataSegments(selector uint16)

// breakpointStub, invalidOpcodeStub, doubleFaultStub, gpfStub,
// pageFaultStub and legacyIRQ0Stub are the dedicated entry points installed
// for their respective vectors; unimplementedStub is shared by every other
// IDT slot. All are implemented in gate_amd64.s.
func breakpointStub()
func invalidOpcodeStub()
func doubleFaultStub()
func gpfStub()
func pageFaultStub()
func legacyIRQ0Stub()
func unimplementedStub()

func addrBreakpointStub() uintptr
func addrInvalidOpcodeStub() uintptr
func addrDoubleFaultStub() uintptr
func addrGPFStub() uintptr
func addrPageFaultStub() uintptr
func addrLegacyIRQ0Stub() uintptr
func addrUnimplementedStub() uintptr
