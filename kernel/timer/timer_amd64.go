// Package timer provides a monotonic nanosecond clock sourced from the
// ACPI power-management timer, plus a busy-wait helper built on top of it.
package timer

import (
	"wyvern/device/acpi"
	"wyvern/device/acpi/table"
	"wyvern/kernel"
	"wyvern/kernel/cpu"
	"unsafe"
)

// tmrValExt is the FADT flags bit indicating that the PM timer counter is
// 32 bits wide. When unset the counter is only 24 bits wide.
const tmrValExt uint32 = 1 << 8

// pmTimerFrequencyHz is the fixed frequency of the ACPI PM timer, defined
// by the ACPI specification.
const pmTimerFrequencyHz = 3579545

var (
	errNoFADT    = &kernel.Error{Module: "timer", Message: "ACPI FADT table not found; cannot locate PM timer"}
	errNoPMTimer = &kernel.Error{Module: "timer", Message: "FADT does not describe a PM timer block"}

	lookupTableFn = acpi.LookupTable
	portReadFn    = cpu.In32
	pauseHintFn   = cpu.PauseHint

	pmTimerPort uint16
	counterMask uint64 = 0x00ffffff

	lastCounter uint64
	elapsedNs   uint64
)

// Init locates the ACPI PM timer described by the FADT table and prepares
// the monotonic clock. It must be called exactly once, after the ACPI
// driver has located the FADT, and before NowNs or BusySleep are used.
func Init() *kernel.Error {
	header := lookupTableFn("FACP")
	if header == nil {
		return errNoFADT
	}

	fadt := (*table.FADT)(unsafe.Pointer(header))
	if fadt.PMTimerBlock == 0 {
		return errNoPMTimer
	}

	pmTimerPort = uint16(fadt.PMTimerBlock)
	counterMask = 0x00ffffff
	if fadt.Flags&tmrValExt != 0 {
		counterMask = 0xffffffff
	}

	lastCounter = uint64(portReadFn(pmTimerPort)) & counterMask
	elapsedNs = 0
	return nil
}

// NowNs returns a monotonically increasing nanosecond timestamp. The
// underlying hardware counter wraps at 2^24 or 2^32 depending on the PM
// timer width; NowNs accumulates across wraps so callers always see an
// ever-increasing value.
func NowNs() uint64 {
	cur := uint64(portReadFn(pmTimerPort)) & counterMask

	var delta uint64
	if cur >= lastCounter {
		delta = cur - lastCounter
	} else {
		delta = (counterMask + 1 - lastCounter) + cur
	}

	lastCounter = cur
	elapsedNs += (delta * 1_000_000_000) / pmTimerFrequencyHz
	return elapsedNs
}

// BusySleep blocks the calling context for at least ns nanoseconds by
// polling NowNs in a tight loop.
func BusySleep(ns uint64) {
	deadline := NowNs() + ns
	for NowNs() < deadline {
		pauseHintFn()
	}
}
