package flasher

import (
	"context"
	"fmt"
	"time"
)

// NegotiateConfig bounds the connect loop. All values come from
// configuration; the defaults there are empirically chosen, not derived.
type NegotiateConfig struct {
	// DefaultBaud is the rate tried first (fast path).
	DefaultBaud int

	// FallbackBaud is the slower rate used once the fallback window passes.
	FallbackBaud int

	// MaxAttempts caps the connect loop.
	MaxAttempts int

	// FallbackWindow is how long negotiation may run at DefaultBaud before
	// dropping to FallbackBaud for the rest of the session.
	FallbackWindow time.Duration
}

// NegotiateResult describes a successful negotiation.
type NegotiateResult struct {
	ChipID       string
	Baud         int
	Attempts     int
	FallbackUsed bool
}

// Negotiator establishes the chip connection: boot sequence, bounded
// retries with linear backoff, and a one-way baud fallback once the
// elapsed window expires.
type Negotiator struct {
	seq    *BootSequencer
	cfg    NegotiateConfig
	logger Logger

	// emit appends to the session log. Never nil.
	emit func(severity Severity, msg string)

	// now and backoff are test seams.
	now     func() time.Time
	backoff func(attempt int) time.Duration
}

// NewNegotiator creates a negotiator. logger and emit may be nil.
func NewNegotiator(seq *BootSequencer, cfg NegotiateConfig, logger Logger, emit func(Severity, string)) *Negotiator {
	if logger == nil {
		logger = nopLogger{}
	}
	if emit == nil {
		emit = func(Severity, string) {}
	}
	return &Negotiator{
		seq:     seq,
		cfg:     cfg,
		logger:  logger,
		emit:    emit,
		now:     time.Now,
		backoff: connectBackoff,
	}
}

// Negotiate connects to the chip on portPath through transport.
//
// Each attempt re-runs the boot sequence first; a chip that half-entered
// the bootloader on a previous try gets a clean reset. Once the elapsed
// window passes FallbackWindow the loop drops to FallbackBaud and stays
// there; the fallback is permanent for the session.
//
// Returns:
//   - *NegotiateResult: Chip identity, effective baud, attempt count
//   - error: ErrMaxRetries wrapping the last failure, a fatal connect
//     error as-is, or the context error
func (n *Negotiator) Negotiate(ctx context.Context, transport ChipTransport, portPath string) (*NegotiateResult, error) {
	start := n.now()
	baud := n.cfg.DefaultBaud
	fallbackUsed := false

	var chipID string
	attempts, err := Attempt(ctx, n.cfg.MaxAttempts, n.backoff, isRecoverableConnect, func(attempt int) error {
		if !fallbackUsed && n.cfg.FallbackBaud > 0 && n.now().Sub(start) > n.cfg.FallbackWindow {
			fallbackUsed = true
			baud = n.cfg.FallbackBaud
			n.emit(SeverityWarning, fmt.Sprintf("connection is slow, falling back to %d baud", baud))
			n.logger.Warn("baud fallback engaged", "port", portPath, "baud", baud)
		}

		n.emit(SeverityInfo, fmt.Sprintf("connecting to device (attempt %d/%d, %d baud)", attempt, n.cfg.MaxAttempts, baud))
		n.seq.Run(portPath, baud)

		id, err := transport.Connect(ctx, baud)
		if err != nil {
			n.emit(SeverityWarning, fmt.Sprintf("connect attempt %d failed: %v", attempt, err))
			return err
		}
		chipID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := transport.ApplyBaud(baud); err != nil {
		// The transport could not switch to the negotiated rate; the
		// connection itself is up, so carry on at the transport's rate.
		n.logger.Warn("apply baud failed", "port", portPath, "baud", baud, "error", err)
	}

	n.emit(SeveritySuccess, fmt.Sprintf("connected to %s on attempt %d", chipID, attempts))
	return &NegotiateResult{
		ChipID:       chipID,
		Baud:         baud,
		Attempts:     attempts,
		FallbackUsed: fallbackUsed,
	}, nil
}
