package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteLinkStats records per-transport link counters.
//
// Called periodically by the status reporter. The write is non-blocking;
// data is batched and sent asynchronously.
//
// Parameters:
//   - transport: Transport name from config (e.g., "gcs", "radio")
//   - rxFrames: Frames received since startup
//   - txFrames: Frames written since startup
//   - parseErrors: Malformed frames seen on this link
//   - drops: Frames dropped due to a full inbound queue
func (c *Client) WriteLinkStats(transport string, rxFrames, txFrames, parseErrors, drops uint64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"link_stats",
		map[string]string{
			"transport": transport,
		},
		map[string]interface{}{
			"rx_frames":    rxFrames,
			"tx_frames":    txFrames,
			"parse_errors": parseErrors,
			"drops":        drops,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteMessageRate records the per-message-type observation rate for a vehicle.
//
// Parameters:
//   - sysid: MAVLink system ID of the vehicle
//   - msgName: Canonical message name (e.g., "HEARTBEAT")
//   - count: Messages seen in the reporting interval
func (c *Client) WriteMessageRate(sysid uint8, msgName string, count uint64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"message_rates",
		map[string]string{
			"sysid":   strconv.Itoa(int(sysid)),
			"message": msgName,
		},
		map[string]interface{}{
			"count": count,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteMissionEvent records a mission transfer state change.
//
// Parameters:
//   - sysid: Target vehicle system ID
//   - direction: "upload" or "download"
//   - state: Terminal or transitional session state name
//   - itemCount: Number of mission items in the transfer
func (c *Client) WriteMissionEvent(sysid uint8, direction, state string, itemCount int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"mission_events",
		map[string]string{
			"sysid":     strconv.Itoa(int(sysid)),
			"direction": direction,
		},
		map[string]interface{}{
			"state":      state,
			"item_count": itemCount,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
