package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteProgressSample records a single flash progress sample.
//
// Samples are written during the Erasing and Writing phases so a dashboard
// can graph write throughput per device over time. The write is non-blocking;
// data is batched and sent asynchronously.
//
// Parameters:
//   - sessionID: The flash session identifier (e.g., "ses-1a2b3c4d")
//   - port: OS path of the serial port (e.g., "/dev/ttyUSB0")
//   - phase: Session phase at sample time (e.g., "writing")
//   - percent: Overall session progress, 0-100
func (c *Client) WriteProgressSample(sessionID, port, phase string, percent float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"flash_progress",
		map[string]string{
			"session_id": sessionID,
			"port":       port,
			"phase":      phase,
		},
		map[string]interface{}{
			"percent": percent,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionOutcome records the terminal result of a flash session.
//
// One point per session, written when the session reaches Completed or
// Failed. Duration covers connect through reset.
//
// Parameters:
//   - sessionID: The flash session identifier
//   - port: OS path of the serial port
//   - chipID: Chip identity reported during negotiation (empty if connect failed)
//   - state: Terminal state ("completed" or "failed")
//   - duration: Wall-clock session duration
func (c *Client) WriteSessionOutcome(sessionID, port, chipID, state string, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"duration_seconds": duration.Seconds(),
		"success":          state == "completed",
	}
	if chipID != "" {
		fields["chip_id"] = chipID
	}

	point := write.NewPoint(
		"flash_outcome",
		map[string]string{
			"session_id": sessionID,
			"port":       port,
			"state":      state,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with arbitrary tags and fields.
//
// Use the typed helpers above where they fit; this exists for one-off
// measurements that don't warrant a dedicated method.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, ts time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, ts)
	c.writeAPI.WritePoint(point)
}
