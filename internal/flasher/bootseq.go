package flasher

import (
	"time"
)

// bootStep is one DTR/RTS assertion followed by a settle delay.
type bootStep struct {
	dtr, rts bool
	settle   time.Duration
}

// bootSteps is the entry sequence for the chip's serial bootloader.
// DTR and RTS are wired to the chip's reset and boot-select lines through
// the USB bridge; this pattern holds boot-select low across a reset pulse,
// then releases both lines.
var bootSteps = []bootStep{
	{dtr: false, rts: true, settle: 120 * time.Millisecond},
	{dtr: true, rts: false, settle: 120 * time.Millisecond},
	{dtr: false, rts: false, settle: 80 * time.Millisecond},
}

// BootSequencer drives the signal pattern that puts the chip into its
// bootloader before a connect attempt.
//
// Signal assertion failures are warnings, not errors: some USB bridges
// reject control-line ioctls yet the chip still enters the bootloader via
// the transport's own retry, so aborting here would fail sessions that
// would have succeeded.
type BootSequencer struct {
	opener PortOpener
	logger Logger

	// sleep is a test seam; production uses time.Sleep.
	sleep func(time.Duration)
}

// NewBootSequencer creates a sequencer. logger may be nil.
func NewBootSequencer(opener PortOpener, logger Logger) *BootSequencer {
	if logger == nil {
		logger = nopLogger{}
	}
	return &BootSequencer{opener: opener, logger: logger, sleep: time.Sleep}
}

// Run opens the port, applies the boot pattern, and closes the port again
// so the chip transport can claim it.
//
// The scoped open exists because the transport (an esptool subprocess)
// needs exclusive access; holding the port across the connect would turn
// every attempt into a port-busy failure.
func (b *BootSequencer) Run(path string, baud int) {
	port, err := b.opener.OpenPort(path, baud)
	if err != nil {
		b.logger.Warn("boot sequence: open failed, relying on transport reset", "port", path, "error", err)
		return
	}
	defer func() {
		if err := port.Close(); err != nil {
			b.logger.Warn("boot sequence: close failed", "port", path, "error", err)
		}
	}()

	b.RunOn(port)
}

// RunOn applies the boot pattern to an already-open port.
func (b *BootSequencer) RunOn(port SerialPort) {
	for i, step := range bootSteps {
		if err := port.SetSignals(step.dtr, step.rts); err != nil {
			b.logger.Warn("boot sequence: signal assertion failed",
				"port", port.Path(), "step", i, "dtr", step.dtr, "rts", step.rts, "error", err)
		}
		b.sleep(step.settle)
	}
}
