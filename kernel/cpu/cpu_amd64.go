package cpu

var (
	cpuidFn = ID
)

// EnableInterrupts enables interrupt handling.
func EnableInterrupts()

// DisableInterrupts disables interrupt handling.
func DisableInterrupts()

// Halt stops instruction execution.
func Halt()

// FlushTLBEntry flushes a TLB entry for a particular virtual address.
func FlushTLBEntry(virtAddr uintptr)

// SwitchPDT sets the root page table directory to point to the specified
// physical address and flushes the TLB.
func SwitchPDT(pdtPhysAddr uintptr)

// ActivePDT returns the physical address of the currently active page table.
func ActivePDT() uintptr

// ReadCR2 returns the value stored in the CR2 register.
func ReadCR2() uint64

// ID returns information about the CPU and its features. It
// is implemented as a CPUID instruction with EAX=leaf and
// returns the values in EAX, EBX, ECX and EDX.
func ID(leaf uint32) (uint32, uint32, uint32, uint32)

// IsIntel returns true if the code is running on an Intel processor.
func IsIntel() bool {
	_, ebx, ecx, edx := cpuidFn(0)
	return ebx == 0x756e6547 && // "Genu"
		edx == 0x49656e69 && // "ineI"
		ecx == 0x6c65746e // "ntel"
}

// PauseHint emits the pause instruction, hinting to the CPU that this is a
// spin-wait loop so it can de-prioritize speculative execution down the
// other logical thread.
func PauseHint()

// In8 reads a single byte from the given I/O port.
func In8(port uint16) uint8

// Out8 writes a single byte to the given I/O port.
func Out8(port uint16, val uint8)

// In32 reads a 32-bit value from the given I/O port.
func In32(port uint16) uint32

// Out32 writes a 32-bit value to the given I/O port.
func Out32(port uint16, val uint32)

// ReadCR3 returns the physical address of the currently active top-level
// page table.
func ReadCR3() uintptr

// WriteCR3 loads a new top-level page table address and flushes the TLB.
func WriteCR3(addr uintptr)

// FlushTLB reloads CR3 with its current value, flushing every non-global
// TLB entry.
func FlushTLB()

// Rdtsc returns the current value of the timestamp counter. Diagnostic use
// only; the timer package never uses this as its timekeeping source since
// the TSC frequency is not portably known without calibration.
func Rdtsc() uint64
