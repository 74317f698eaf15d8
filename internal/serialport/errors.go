package serialport

import "errors"

// Domain-specific errors for serial port operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrOpenFailed is returned when the OS refuses to open the device.
	ErrOpenFailed = errors.New("serialport: open failed")

	// ErrPortBusy is returned when Close exhausts its release-wait budget
	// because a consumer still holds the read stream.
	ErrPortBusy = errors.New("serialport: port busy, read stream not released")

	// ErrClosed is returned for operations on a closed port.
	ErrClosed = errors.New("serialport: port closed")

	// ErrEnumerationFailed is returned when listing attached ports fails.
	ErrEnumerationFailed = errors.New("serialport: enumeration failed")

	// ErrWatcherStopped is returned when subscribing to a stopped watcher.
	ErrWatcherStopped = errors.New("serialport: watcher stopped")
)
