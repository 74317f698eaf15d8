// Package influxdb provides optional time-series storage for SensorFlash Core.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched writes, and health monitoring.
//
// # Purpose
//
// This package records flash session telemetry for fleet dashboards:
//   - Progress samples during erase/write phases (throughput over time)
//   - Terminal session outcomes (success rate, duration per device)
//
// The SQLite history repository remains the source of truth for session
// records; InfluxDB is a fan-out for graphing and alerting, and the
// service runs fine without it (influxdb.enabled: false).
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteProgressSample("ses-1a2b3c4d", "/dev/ttyUSB0", "writing", 72.5)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via
// SetOnError. Connection and health check errors are returned directly.
package influxdb
