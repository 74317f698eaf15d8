package influxdb

import "errors"

// Domain-specific errors for InfluxDB operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDisabled is returned when Connect is called with influxdb.enabled: false.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected is returned when attempting operations on a disconnected client.
	ErrNotConnected = errors.New("influxdb: client not connected")
)
