// Package registry registers freshly-flashed devices with the sensor
// inventory service.
//
// Registration is deliberately forgiving. The flashed device self-registers
// on first boot anyway, so everything here is a best-effort head start:
// conflict responses (HTTP 409) are success, and any failure surfaces as a
// session warning, never as a failed flash.
//
// The Finalizer runs the full post-flash sequence: ensure the location
// exists, create the device, then create each configured sensor with its
// pin normalised for the platform.
package registry
