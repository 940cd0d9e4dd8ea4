package device

import (
	"wyvern/kernel"
	"io"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Any diagnostic output
	// produced during initialization is written to w.
	DriverInit(w io.Writer) *kernel.Error
}

// ProbeFn is a function that probes for the presence of a particular piece
// of hardware and, if found, returns back a Driver instance for managing it.
// A probe function that detects no supported hardware returns nil.
type ProbeFn func() Driver

// DetectOrder values control the order in which registered drivers are
// probed by the hal package. Drivers with a lower DetectOrder are probed
// first.
const (
	DetectOrderEarly = iota
	DetectOrderBeforeACPI
	DetectOrderACPI
	DetectOrderLast
)

// DriverInfo wraps a driver probe function together with the detection
// order that the hal package should use when invoking it.
type DriverInfo struct {
	// Order specifies when this driver should be probed relative to the
	// other registered drivers.
	Order int

	// Probe is invoked by the hal package to detect whether the driver's
	// hardware is present.
	Probe ProbeFn
}

// DriverInfoList is a sortable list of DriverInfo entries, ordered by
// ascending Order.
type DriverInfoList []*DriverInfo

// Len implements sort.Interface.
func (l DriverInfoList) Len() int { return len(l) }

// Less implements sort.Interface.
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }

// Swap implements sort.Interface.
func (l DriverInfoList) Swap(i, j int) { l[i], l[j] = l[j], l[i] }

var registeredDrivers DriverInfoList

// RegisterDriver appends info to the list of registered drivers. Drivers
// should call this function from an init() block.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of all currently registered drivers.
func DriverList() DriverInfoList {
	return registeredDrivers
}
