package firmware

import "errors"

// Domain-specific errors for firmware handling.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrInvalidPayload is returned when firmware data cannot be decoded
	// into bytes from any supported encoding.
	ErrInvalidPayload = errors.New("firmware: invalid payload encoding")

	// ErrEmptyFirmware is returned when a compile response carries no
	// flash files or a flash file with an empty payload.
	ErrEmptyFirmware = errors.New("firmware: empty firmware image")

	// ErrCompileFailed is returned when the compile service rejects a
	// request or responds with a non-success status.
	ErrCompileFailed = errors.New("firmware: compile failed")
)
