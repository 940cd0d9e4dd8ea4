// Package kmain implements the ten-step sequence that takes the machine
// from "firmware just jumped to us" to "the executor is driving the ready
// queue forever". Each step here depends on every step before it; nothing
// in this file may be reordered without breaking that chain.
package kmain

import (
	"wyvern/device/acpi"
	"wyvern/device/serial"
	"wyvern/device/video/console"
	"wyvern/kernel"
	"wyvern/kernel/executor"
	"wyvern/kernel/firmware"
	"wyvern/kernel/gate"
	"wyvern/kernel/goruntime"
	"wyvern/kernel/hal"
	"wyvern/kernel/heap"
	"wyvern/kernel/kfmt"
	"wyvern/kernel/mm/vmm"
	"wyvern/kernel/qemu"
	"wyvern/kernel/timer"
	"io"
)

var errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

// bootServicesExited tracks whether ExitFirmwareServices has succeeded yet.
// Before that point a fatal error can still fall back to a clean firmware
// exit; after it, the only remaining option is panic-and-halt, since boot
// services (and therefore any notion of "returning control to firmware")
// no longer exist.
var bootServicesExited bool

// Kmain is the only Go symbol the entry trampoline (entry_amd64.s) calls.
// imageHandle and sys are exactly what the firmware hands to efi_main;
// kernelStart/kernelEnd are the kernel image's own link-time physical
// bounds, read by the trampoline from the symbols the image's linker
// script defines, the same role the teacher's rt0 played for a Multiboot
// kernelStart/kernelEnd pair.
//
// Kmain is not expected to return. If it does, the trampoline halts the
// CPU.
//
//go:noinline
func Kmain(imageHandle uintptr, sys *firmware.SystemTable, kernelStart, kernelEnd uintptr) {
	// Step 1: locate graphics output, capture framebuffer info.
	fbInfo, err := firmware.LocateGraphicsOutput(sys)
	if err != nil {
		fail(err)
	}
	console.SetFramebufferInfo(fbInfo)

	// Step 2: locate the ACPI root table.
	rsdpAddr, err := firmware.LocateACPIRoot(sys)
	if err != nil {
		fail(err)
	}
	acpi.SetRSDPAddr(rsdpAddr)

	// Read the loaded-image command line while boot services are still
	// available; hal.DetectHardware consults hal.BootArgs when it probes
	// the console driver (consoleLogo/consoleFont options).
	if args, err := firmware.ParseBootArgs(sys, imageHandle); err == nil {
		hal.BootArgs = args
	}

	// Step 3: snapshot the memory map.
	var snap firmware.Snapshot
	if err = firmware.CaptureMemoryMap(sys, &snap); err != nil {
		fail(err)
	}

	// Step 4: exit firmware services. No firmware call is legal after
	// this point succeeds.
	if err = firmware.ExitFirmwareServices(sys, imageHandle, &snap); err != nil {
		fail(err)
	}
	bootServicesExited = true

	// Step 5: bring the heap online against the captured snapshot.
	heap.Init(&snap, kernelStart, kernelEnd)

	// Step 6: install the GDT+TSS, then the IDT.
	gate.Init()

	// Step 7: build and activate the kernel page tables. Every page vmm.Init
	// does not explicitly map stays NotPresent, and it explicitly unmaps
	// virtual page 0 after activating the new tables.
	if err = vmm.Init(&snap); err != nil {
		kfmt.Panic(err)
	}

	// The Go runtime's own allocator can only be hijacked onto mm/vmm
	// once both the heap (step 5) and paging (step 7) are live; from here
	// on, ordinary Go maps, slices and append are safe to use.
	if err = goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}

	// Step 8: probe for hardware, which locates the ACPI driver (ordered
	// ahead of every other probe) before timer.Init needs its FADT, and
	// also probes the console/tty drivers that step 9 builds the sink
	// from.
	hal.DetectHardware()
	if err = timer.Init(); err != nil {
		kfmt.Panic(err)
	}

	// Step 9: register the global text sink. hal.DetectHardware already
	// pointed kfmt at the active TTY; this composes the serial half in
	// alongside it, so diagnostics survive a framebuffer that never
	// probed.
	serial.COM1.Init()
	var sink io.Writer = &serial.COM1
	if tty := hal.ActiveTTY(); tty != nil {
		sink = io.MultiWriter(&serial.COM1, tty)
	}
	kfmt.SetOutputSink(sink)

	// Step 10: spawn the startup tasks and hand off to the executor. It
	// never returns.
	spawnStartupTasks()
	executor.Run()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating this as dead code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// spawnStartupTasks enqueues whatever the kernel wants running once the
// executor takes over. There is nothing to run yet beyond keeping the
// ready queue from starting out empty on every boot; real workloads spawn
// their own tasks once this kernel grows past bring-up.
func spawnStartupTasks() {}

// fail is the error path for the first four steps, which still have a
// notion of "hand control back to firmware" available. It prefers that
// over a bare panic, since no text sink exists yet to make a panic banner
// visible; qemu.ExitFailure signals the failure to a test harness running
// outside the VM, and kfmt.Panic is the fallback for a real machine that
// isn't running under the test harness.
func fail(err *kernel.Error) {
	if !bootServicesExited {
		qemu.ExitFailure()
	}
	kfmt.Panic(err)
}
