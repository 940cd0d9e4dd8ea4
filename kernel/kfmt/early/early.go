// Package early provides a Printf usable by code that runs before the heap,
// the text sink or even the rest of kfmt's consumers are wired up. It is a
// thin entry point over kfmt's own allocation-free formatter, which already
// falls back to a ring buffer when no output sink has been registered;
// packages reached during very early boot (the boot-memory allocator)
// import this instead of kfmt directly to keep their dependency surface
// minimal.
package early

import "wyvern/kernel/kfmt"

// Printf formats according to a format specifier and writes to whatever
// sink kfmt currently has registered, buffering in the pre-heap ring buffer
// if none has been set yet.
func Printf(format string, args ...interface{}) {
	kfmt.Printf(format, args...)
}
