// Package mavlink bridges MAVLink vehicle links to MQTT.
//
// The package owns the full pipeline between the wire and the broker:
//
//	Transport → Router (dedup + fan-out) → {Bridge publish, Mission manager}
//	Bridge subscribe ← MQTT commands → encode → Transport outbound
//
// Each Transport wraps one gomavlib node (UDP server or serial device) and
// feeds a shared inbound queue. The Router is the single consumer of that
// queue: it records which link each system ID was last seen on, suppresses
// duplicate frames arriving through multiple links, and forwards every
// frame unmodified to all other transports. Identity is sacred: the router
// never rewrites sysid, compid, or message ID in a forwarded frame.
//
// Decoded traffic is published under device/<sysid>/<compid>/<MSG_NAME>
// and sources/<src>/<dst>/... topics. Commands arrive on
// command/<sysid>/<compid>/details and .../load_waypoints; the latter
// drives the mission upload/download state machine.
package mavlink
