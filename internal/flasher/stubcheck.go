package flasher

import (
	"context"
	"fmt"
	"time"
)

// Stub liveness defaults.
const (
	// defaultProbeTimeout bounds one liveness probe round-trip.
	defaultProbeTimeout = 1 * time.Second

	// defaultProbeRegister is the chip date register, readable on every
	// supported chip regardless of flash state.
	defaultProbeRegister uint32 = 0x60000078
)

// StubCheck verifies the flasher stub is alive before erase/write begins.
//
// A dead stub discovered here costs one second; discovered mid-write it
// costs a half-flashed device. The check probes with a bounded register
// read, and on silence runs exactly one recovery cycle (re-upload the
// stub, re-apply the negotiated baud, probe again) before giving up.
type StubCheck struct {
	probeTimeout time.Duration
	register     uint32
	logger       Logger
	emit         func(severity Severity, msg string)
}

// NewStubCheck creates a liveness checker. logger and emit may be nil;
// probeTimeout <= 0 selects the default.
func NewStubCheck(probeTimeout time.Duration, logger Logger, emit func(Severity, string)) *StubCheck {
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	if logger == nil {
		logger = nopLogger{}
	}
	if emit == nil {
		emit = func(Severity, string) {}
	}
	return &StubCheck{
		probeTimeout: probeTimeout,
		register:     defaultProbeRegister,
		logger:       logger,
		emit:         emit,
	}
}

// Verify probes the stub, recovering once if it stays silent.
//
// Parameters:
//   - ctx: Session context
//   - transport: Connected chip transport
//   - baud: The negotiated baud rate, re-applied during recovery
//
// Returns:
//   - error: nil if the stub answers; ErrStubVerification after the
//     recovery cycle also fails
func (s *StubCheck) Verify(ctx context.Context, transport ChipTransport, baud int) error {
	if err := s.probe(ctx, transport); err == nil {
		s.emit(SeveritySuccess, "flasher stub verified")
		return nil
	}

	s.emit(SeverityWarning, "flasher stub not responding, re-syncing")
	s.logger.Warn("stub probe failed, running recovery cycle")

	if err := transport.UploadStub(ctx); err != nil {
		return fmt.Errorf("%w: stub re-upload: %w", ErrStubVerification, err)
	}
	if err := transport.ApplyBaud(baud); err != nil {
		return fmt.Errorf("%w: baud re-apply: %w", ErrStubVerification, err)
	}
	if err := s.probe(ctx, transport); err != nil {
		return fmt.Errorf("%w: %w", ErrStubVerification, err)
	}

	s.emit(SeveritySuccess, "flasher stub verified after recovery")
	return nil
}

// probe performs one bounded register read.
func (s *StubCheck) probe(ctx context.Context, transport ChipTransport) error {
	probeCtx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()

	_, err := transport.ReadReg(probeCtx, s.register)
	return err
}
