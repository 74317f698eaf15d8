// Package api implements the HTTP REST API and WebSocket server for
// SensorFlash Core.
//
// This package provides:
//   - REST endpoints for flashing, live monitoring, and session control
//   - Port enumeration for the front-end port picker
//   - Session history queries backed by SQLite
//   - WebSocket hub streaming log, phase, progress, and monitor events
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server sits between the browser UI and the flashing session
// manager. A flash request is handled synchronously: the handler compiles
// the firmware, runs the full session, and returns the final session
// status. Real-time feedback during the session flows over the WebSocket
// hub, which the session manager feeds through its event sink.
//
// # Graceful Degradation
//
// The server operates without the compile service or the history store.
// Endpoints that need a missing collaborator return 503 rather than
// taking the whole API down.
package api
