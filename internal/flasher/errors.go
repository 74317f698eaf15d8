package flasher

import "errors"

// Domain-specific errors for flashing sessions.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrConnectBusy means the port was already open elsewhere when the
	// chip connect ran. Recoverable: retried by the negotiator.
	ErrConnectBusy = errors.New("flasher: port busy")

	// ErrConnectFailed is a generic chip connect failure (no sync, wrong
	// baud, chip not in bootloader). Recoverable: retried by the negotiator.
	ErrConnectFailed = errors.New("flasher: connect failed")

	// ErrMaxRetries is returned when the negotiator exhausts its attempt
	// budget. It wraps the last underlying failure.
	ErrMaxRetries = errors.New("flasher: max connect retries exceeded")

	// ErrStubVerification is returned when the flasher stub stays silent
	// through the probe and its one recovery cycle.
	ErrStubVerification = errors.New("flasher: stub verification failed")

	// ErrEraseFailed is returned when a flash erase fails. Always fatal.
	ErrEraseFailed = errors.New("flasher: erase failed")

	// ErrWriteFailed is returned when a flash write fails. Always fatal;
	// remaining files in the sequence are not attempted.
	ErrWriteFailed = errors.New("flasher: write failed")

	// ErrPlatformUnsupported is returned when a flash is requested for a
	// platform this host cannot flash over serial.
	ErrPlatformUnsupported = errors.New("flasher: platform not flashable over serial, use offline flashing")

	// ErrSessionActive is returned when a flash or monitor request arrives
	// while another session owns the port.
	ErrSessionActive = errors.New("flasher: another session is active")

	// ErrNoSession is returned when stopping a monitor or disconnecting
	// with nothing active.
	ErrNoSession = errors.New("flasher: no active session")

	// ErrPortDisconnected is returned when the owned port physically
	// disappears mid-session.
	ErrPortDisconnected = errors.New("flasher: port disconnected")

	// ErrInvalidState is returned for operations not allowed from the
	// session's current state.
	ErrInvalidState = errors.New("flasher: operation not valid in current state")
)

// isRecoverableConnect classifies a connect failure for the retry loop.
// Only port-busy and generic connect failures are retried; anything else
// aborts negotiation immediately.
func isRecoverableConnect(err error) bool {
	return errors.Is(err, ErrConnectBusy) || errors.Is(err, ErrConnectFailed)
}
