// Package flasher orchestrates firmware flashing sessions for SensorFlash
// Core.
//
// The package is organised around a single SessionManager that owns the
// session state machine and delegates each phase to a focused component:
//
//   - BootSequencer: drives the DTR/RTS pattern that puts the chip into its
//     serial bootloader.
//   - Negotiator: bounded-retry chip connect with baud fallback.
//   - StubCheck: verifies the flasher stub answers a register read, with
//     one recovery cycle.
//   - Writer: erase, ordered flash writes with monotonic progress, and a
//     best-effort reset.
//   - Monitor: the post-flash live serial monitor.
//
// # Port Ownership
//
// At most one session owns an open port at a time, and a session is either
// flashing or monitoring, never both. All port acquisition and release runs
// through the SessionManager; phase components receive the port (or the
// chip transport bound to it) for the duration of one call only.
//
// # Transports
//
// The chip-level operations (connect, erase, write, reset) are behind the
// ChipTransport interface. Production uses the esptool-backed transport in
// internal/esptool; tests use in-package fakes.
package flasher
