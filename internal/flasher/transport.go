package flasher

import (
	"context"
	"io"
	"time"

	"github.com/nerrad567/sensorflash-core/internal/firmware"
)

// SerialPort is the port handle surface the flasher consumes.
// Satisfied by *serialport.Port; tests use fakes.
type SerialPort interface {
	io.Reader
	SetSignals(dtr, rts bool) error
	SetReadTimeout(t time.Duration) error
	DrainInput() error
	Hold()
	Release()
	Path() string
	Baud() int
	Close() error
}

// PortOpener opens serial ports on demand. The boot sequencer and the
// live monitor open ports through it so sessions never touch the OS
// directly.
type PortOpener interface {
	OpenPort(path string, baud int) (SerialPort, error)
}

// ChipTransport is the chip-level operation surface of one serial device.
//
// A transport is bound to a port path at creation (see TransportDialer)
// and owns the port for the duration of each call. Implementations must
// classify connect failures into ErrConnectBusy / ErrConnectFailed so the
// negotiator can tell recoverable from fatal.
type ChipTransport interface {
	// Connect attaches to the chip's bootloader at the given baud rate
	// and returns the chip identity string.
	Connect(ctx context.Context, baud int) (chipID string, err error)

	// UploadStub re-uploads the flasher stub into chip RAM.
	UploadStub(ctx context.Context) error

	// ApplyBaud records the negotiated baud rate for subsequent operations.
	ApplyBaud(baud int) error

	// ReadReg reads one chip register. Used as the stub liveness probe.
	ReadReg(ctx context.Context, addr uint32) (uint32, error)

	// EraseRegion erases size bytes of flash starting at addr.
	EraseRegion(ctx context.Context, addr uint32, size int) error

	// WriteFlash writes one file, reporting file-local progress in [0,100].
	WriteFlash(ctx context.Context, file firmware.FlashFile, onProgress func(pct float64)) error

	// Reset hard-resets the chip out of the bootloader.
	Reset(ctx context.Context) error

	// Disconnect aborts any in-flight operation and releases the port.
	Disconnect() error
}

// TransportDialer creates a ChipTransport bound to a port path.
type TransportDialer interface {
	Dial(portPath string) ChipTransport
}

// Registrar performs post-flash device registration.
// Satisfied by *registry.Finalizer.
type Registrar interface {
	Register(ctx context.Context, cfg firmware.DeviceConfig, firmwareVersion string) error
}
