package mavlink

import "errors"

// Sentinel errors for the MAVLink bridge.
//
// These errors can be checked with errors.Is() for programmatic handling:
//
//	if errors.Is(err, mavlink.ErrSessionBusy) {
//	    // reject the new request, leave the active session alone
//	}
var (
	// ErrFrameParse indicates malformed wire bytes. Parse failures are
	// counted and dropped, never fatal.
	ErrFrameParse = errors.New("mavlink: frame parse error")

	// ErrTransportIO indicates a socket or serial fault on one transport.
	// Isolated to that transport; the others keep running.
	ErrTransportIO = errors.New("mavlink: transport I/O error")

	// ErrTransportStopped indicates an operation on a stopped transport.
	ErrTransportStopped = errors.New("mavlink: transport stopped")

	// ErrSessionBusy indicates a mission request arrived while another
	// session is active for the same (sysid, compid). The new request is
	// rejected, never queued.
	ErrSessionBusy = errors.New("mavlink: mission session busy")

	// ErrMissionTimeout indicates the vehicle stopped responding and the
	// session exhausted its retries.
	ErrMissionTimeout = errors.New("mavlink: mission timeout")

	// ErrMissionNack indicates the vehicle rejected the transfer with a
	// terminal MISSION_ACK error code.
	ErrMissionNack = errors.New("mavlink: mission rejected by vehicle")

	// ErrMissionMismatch indicates the verify read-back differed from what
	// was uploaded.
	ErrMissionMismatch = errors.New("mavlink: mission verify mismatch")

	// ErrValidation indicates a waypoint file or inline waypoint list
	// failed validation. Blocks session creation, reported on the
	// validation topic.
	ErrValidation = errors.New("mavlink: waypoint validation failed")

	// ErrNoRoute indicates a command targets a system ID that has never
	// been observed on any transport.
	ErrNoRoute = errors.New("mavlink: no route to system")

	// ErrDeferred indicates a command could not be delivered now and was
	// queued until its target sysid is observed on a link.
	ErrDeferred = errors.New("mavlink: command deferred until target observed")
)
