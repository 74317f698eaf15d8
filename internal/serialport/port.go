package serialport

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// Default release-wait bounds for Close. Overridable via Options.
const (
	defaultClosePollInterval = 50 * time.Millisecond
	defaultClosePollAttempts = 20
)

// rawPort is the subset of the underlying serial driver the handle uses.
// Tests substitute a fake; production uses go.bug.st/serial.
type rawPort interface {
	io.ReadWriteCloser
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Options configures a Port handle.
type Options struct {
	// ClosePollInterval is the delay between release-wait polls during Close.
	// Default: 50ms.
	ClosePollInterval time.Duration

	// ClosePollAttempts bounds the release-wait polling during Close.
	// Default: 20.
	ClosePollAttempts int
}

func (o *Options) applyDefaults() {
	if o.ClosePollInterval <= 0 {
		o.ClosePollInterval = defaultClosePollInterval
	}
	if o.ClosePollAttempts <= 0 {
		o.ClosePollAttempts = defaultClosePollAttempts
	}
}

// Port is an exclusive handle on one serial device.
//
// The line format is fixed at 8N1; only the baud rate varies between the
// bootloader and monitor roles.
//
// Thread Safety:
//   - SetSignals, Hold, Release, Close, Path and Baud are safe for
//     concurrent use.
//   - Read and Write are not serialised against each other; the port has a
//     single consumer at a time and that consumer coordinates its own I/O.
type Port struct {
	raw  rawPort
	path string
	baud int
	opts Options

	// holds counts consumers currently attached to the read stream.
	holds atomic.Int32

	mu     sync.Mutex
	closed bool
}

// Open opens the serial device at path with the given baud rate, 8N1.
//
// Returns:
//   - *Port: Open handle ready for use
//   - error: ErrOpenFailed wrapping the driver error
func Open(path string, baud int, opts Options) (*Port, error) {
	opts.applyDefaults()

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	raw, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpenFailed, path, err)
	}

	return &Port{raw: raw, path: path, baud: baud, opts: opts}, nil
}

// newPort wraps an already-open raw port. Used by tests.
func newPort(raw rawPort, path string, baud int, opts Options) *Port {
	opts.applyDefaults()
	return &Port{raw: raw, path: path, baud: baud, opts: opts}
}

// Path returns the OS device path the handle was opened on.
func (p *Port) Path() string { return p.path }

// Baud returns the baud rate the handle was opened at.
func (p *Port) Baud() int { return p.baud }

// Read reads from the device into buf.
func (p *Port) Read(buf []byte) (int, error) {
	if p.isClosed() {
		return 0, ErrClosed
	}
	return p.raw.Read(buf)
}

// Write writes buf to the device.
func (p *Port) Write(buf []byte) (int, error) {
	if p.isClosed() {
		return 0, ErrClosed
	}
	return p.raw.Write(buf)
}

// SetSignals drives both modem control lines in one call.
//
// DTR is applied before RTS; the boot sequencer depends on both lines
// settling between steps, not on intra-call ordering.
func (p *Port) SetSignals(dtr, rts bool) error {
	if p.isClosed() {
		return ErrClosed
	}
	if err := p.raw.SetDTR(dtr); err != nil {
		return fmt.Errorf("serialport: set DTR=%t: %w", dtr, err)
	}
	if err := p.raw.SetRTS(rts); err != nil {
		return fmt.Errorf("serialport: set RTS=%t: %w", rts, err)
	}
	return nil
}

// SetReadTimeout sets the timeout for subsequent Read calls.
// Pass 0 to block indefinitely.
func (p *Port) SetReadTimeout(t time.Duration) error {
	if p.isClosed() {
		return ErrClosed
	}
	return p.raw.SetReadTimeout(t)
}

// DrainInput discards any bytes buffered by the driver.
// Called before handing the port to a new consumer so stale bootloader
// output doesn't leak into the monitor stream.
func (p *Port) DrainInput() error {
	if p.isClosed() {
		return ErrClosed
	}
	return p.raw.ResetInputBuffer()
}

// Hold marks the read stream as in use by a consumer.
// Every Hold must be paired with exactly one Release.
func (p *Port) Hold() {
	p.holds.Add(1)
}

// Release marks the consumer's read loop as finished.
func (p *Port) Release() {
	p.holds.Add(-1)
}

// Holds returns the number of outstanding stream holds.
func (p *Port) Holds() int {
	return int(p.holds.Load())
}

// Close releases the device. Close is idempotent: the second and later
// calls return nil without touching the driver.
//
// If a consumer still holds the read stream, Close waits for the hold to
// drain, polling at ClosePollInterval for at most ClosePollAttempts polls.
// Exhausting the budget returns ErrPortBusy with the port left open so the
// caller can surface the stuck consumer instead of leaking a half-closed
// handle.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	if !p.waitForRelease() {
		return fmt.Errorf("%w: %s: %d holds after %d polls",
			ErrPortBusy, p.path, p.holds.Load(), p.opts.ClosePollAttempts)
	}

	p.closed = true
	if err := p.raw.Close(); err != nil {
		return fmt.Errorf("serialport: close %s: %w", p.path, err)
	}
	return nil
}

// waitForRelease polls until all stream holds drain or the budget runs out.
// Returns true when the port is free to close.
func (p *Port) waitForRelease() bool {
	if p.holds.Load() == 0 {
		return true
	}
	for i := 0; i < p.opts.ClosePollAttempts; i++ {
		time.Sleep(p.opts.ClosePollInterval)
		if p.holds.Load() == 0 {
			return true
		}
	}
	return false
}

func (p *Port) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
