package kernel

// Error describes a kernel error. All kernel errors are defined as global
// variables that are pointers to Error. This stems from the fact that the Go
// allocator is not available until step 5 of the init sequence, so errors
// constructed before that point cannot use errors.New or fmt.Errorf.
type Error struct {
	// Module is the package/subsystem where the error originated.
	Module string

	// Message is the human-readable error text.
	Message string

	// Fatal marks errors that can never be recovered from once they are
	// observed (hardware faults, a broken descriptor-table build). A
	// non-fatal error may still be retried by its caller.
	Fatal bool
}

// Error implements the error interface so an *Error can also be passed to
// code that only understands the stdlib error type (e.g. fmt verbs used by
// hosted tooling).
func (e *Error) Error() string {
	return e.Message
}

var (
	// ErrFirmwareCallFailed is returned when a UEFI boot-services call
	// returns a non-success status. Non-fatal: exiting boot services
	// retries on map-key invalidation.
	ErrFirmwareCallFailed = &Error{Module: "firmware", Message: "firmware call returned non-success status"}

	// ErrOutOfMemory is returned by the allocator or by lazy page-table
	// population when no free block satisfies the request.
	ErrOutOfMemory = &Error{Module: "mem", Message: "out of memory", Fatal: true}

	// ErrMisaligned is returned when MapRange or Alloc receive an address
	// or size that violates the required alignment. Always a programmer
	// error.
	ErrMisaligned = &Error{Module: "mem", Message: "misaligned address or size", Fatal: true}

	// ErrOutOfRange is returned by framebuffer writes whose coordinates
	// fall outside the active mode. Never fatal.
	ErrOutOfRange = &Error{Module: "video", Message: "coordinates out of range"}

	// ErrHardwareFault is the dispatcher's error for any unhandled or
	// unrecoverable CPU exception. Always fatal.
	ErrHardwareFault = &Error{Module: "irq", Message: "unrecoverable hardware fault", Fatal: true}
)
