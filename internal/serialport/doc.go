// Package serialport provides serial port access for SensorFlash Core.
//
// It wraps go.bug.st/serial with the two primitives the flashing
// orchestrator needs:
//
//   - Port: an exclusive handle on one serial device with DTR/RTS control,
//     idempotent close, and bounded release-wait when a consumer still holds
//     the read stream at close time.
//   - Watcher: a polling hot-plug monitor that enumerates attached ports,
//     keys them by a stable hardware identity (VID:PID:serial), and notifies
//     subscribers when a matched port disappears.
//
// # Port Ownership
//
// A Port is owned by exactly one consumer at a time. Consumers that start a
// background read loop (the live monitor) call Hold() before reading and
// Release() when their loop exits. Close() waits for outstanding holds to
// drain, polling at a configured interval for a bounded number of attempts;
// exhausting the budget returns ErrPortBusy rather than hanging shutdown.
//
// # Hot-Plug Identity
//
// OS device paths (/dev/ttyUSB0) are recycled across re-plugs, so the
// watcher keys ports by VID:PID:serial where the hardware reports one,
// falling back to the path for ports without USB metadata.
package serialport
