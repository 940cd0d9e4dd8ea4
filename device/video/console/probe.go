package console

import (
	"wyvern/device"
	"wyvern/kernel/firmware"
)

var (
	// activeFramebuffer is populated once during early boot, before boot
	// services (and therefore the GOP protocol pointer) go away. Probe
	// funcs run later, during driver detection, and can no longer reach
	// the firmware directly so they read this cached copy instead.
	activeFramebuffer firmware.FramebufferInfo

	getFramebufferInfoFn = func() firmware.FramebufferInfo { return activeFramebuffer }

	// ProbeFuncs is a slice of device probe functions that is used by
	// the hal package to probe for console device hardware. Each driver
	// should use an init() block to append its probe function to this list.
	ProbeFuncs []device.ProbeFn
)

// SetFramebufferInfo records the graphics-output mode located during early
// boot so that console probe funcs can discover it later on.
func SetFramebufferInfo(info firmware.FramebufferInfo) {
	activeFramebuffer = info
}
