package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/zkgate/zkgate-core/internal/zk"
)

// WritePunchEvent writes a realtime punch as a time-series point. The
// event time is the point timestamp, so punches land at the moment the
// terminal recorded them rather than when the gateway saw them.
func (c *Client) WritePunchEvent(ev zk.RealtimeEvent) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"punch_events",
		map[string]string{
			"device":        ev.Device,
			"verify_method": ev.Verify.String(),
			"in_out_mode":   ev.InOut.String(),
		},
		map[string]interface{}{
			"enroll_number": ev.EnrollNumber,
			"work_code":     ev.WorkCode,
			"valid":         ev.Valid,
		},
		ev.Timestamp,
	)

	c.writeAPI.WritePoint(point)
}

// WriteTerminalStatus writes a terminal status snapshot.
//
// Used for dashboarding capacity trends (user slots filling up, log
// storage approaching the terminal's limit).
func (c *Client) WriteTerminalStatus(device string, status zk.DeviceStatus) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"terminal_status",
		map[string]string{
			"device":        device,
			"serial_number": status.SerialNumber,
		},
		map[string]interface{}{
			"user_count":    status.UserCount,
			"log_count":     status.LogCount,
			"user_capacity": status.UserCapacity,
			"log_capacity":  status.LogCapacity,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point timestamped now. Tags should stay
// low-cardinality; the data goes in fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., backfilled attendance
// logs pulled from a terminal's store).
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
