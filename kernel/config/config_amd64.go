// +build amd64

// Package config collects the compile-time constants every freestanding
// package needs but that do not belong to any single subsystem: serial
// wiring, the kernel-image skip range the heap must clamp around, the
// diagnostic log level, and the page attributes used when identity-mapping
// firmware-owned regions. Nothing here is read from a flag or a config
// file — the kernel image has no command line (§6) — it is all fixed at
// build time.
package config

// SerialPort is the I/O base address of the COM1 UART used for the
// serial half of the global text sink.
const SerialPort uint16 = 0x3f8

// SerialBaud is the baud rate the serial port is programmed to on init.
const SerialBaud = 115200

// LogLevel gates the severity-tagged Printf variants (kfmt.Warn/Error);
// anything below this level is compiled in but suppressed at runtime.
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
)

// DefaultLogLevel is the level the kernel boots with; there is no runtime
// flag to change it.
const DefaultLogLevel = LogLevelInfo

// HeapSkipKernelImage, when true, makes the heap's bump allocator clamp
// every Conventional region against the kernel's own [kernelStart,
// kernelEnd) footprint (see kernel/heap). The kernel never boots any other
// way, so this is not actually a switch — it documents the invariant
// heap.Init always enforces.
const HeapSkipKernelImage = true
