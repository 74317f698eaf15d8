// Package database provides SQLite connection management for SensorFlash Core.
//
// It wraps database/sql with:
//   - Directory creation and restrictive file permissions
//   - WAL mode and busy-timeout pragmas
//   - Idempotent schema application for repository packages
//   - Health checks for the /health endpoint
//
// SQLite suits this service: a single writer (the session manager goroutine)
// with occasional reads from API handlers, no external database dependency,
// and a history that must survive restarts.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
package database
