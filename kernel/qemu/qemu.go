// Package qemu talks to the isa-debug-exit device QEMU exposes at I/O port
// 0xF4, letting the kernel signal a definite pass/fail exit code to a test
// harness running outside the virtual machine.
package qemu

import "wyvern/kernel/cpu"

const exitPort uint16 = 0xf4

// Writing 0x1 to the exit port makes QEMU terminate with host exit code 3;
// writing 0x2 yields host exit code 5.
const (
	codeSuccess uint8 = 0x1
	codeFailure uint8 = 0x2
)

// outFn is mocked by tests.
var outFn = cpu.Out8

// ExitSuccess halts the virtual machine with the host exit code reserved
// for a successful run (3). It does not return.
func ExitSuccess() {
	outFn(exitPort, codeSuccess)
}

// ExitFailure halts the virtual machine with the host exit code reserved
// for a failed run (5). It does not return.
func ExitFailure() {
	outFn(exitPort, codeFailure)
}
