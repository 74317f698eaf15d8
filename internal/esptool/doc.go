// Package esptool implements the chip transport by driving the esptool
// command-line utility as a per-operation subprocess.
//
// The service deliberately does not speak the ROM bootloader wire protocol
// (SLIP framing, command opcodes) itself; esptool already implements it for
// every chip revision in the field. This package owns the process
// lifecycle the same way the service would own any external helper binary:
// build the argument list, stream and parse output, classify failures, and
// kill the process on disconnect.
//
// # Failure Classification
//
// Connect failures are mapped onto the flasher package's error taxonomy so
// the negotiator can retry the recoverable ones:
//
//   - port locked/busy/permission output → flasher.ErrConnectBusy
//   - "Failed to connect" style output   → flasher.ErrConnectFailed
//   - anything else                      → fatal, returned as-is
package esptool
