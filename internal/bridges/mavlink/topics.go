package mavlink

import (
	"fmt"
	"regexp"
	"strconv"
)

// Fixed bridge topics.
const (
	// StatusTopic carries the periodic diagnostics heartbeat of the bridge
	// process (uptime, per-transport counters, forward/drop counts).
	StatusTopic = "mavgate/status"

	// validationTopic carries waypoint validation verdicts.
	validationTopic = "mavgate/events/validation"

	// commandEventTopic carries accepted/rejected command outcomes.
	commandEventTopic = "mavgate/events/command"

	// missionEventTopic carries mission session reports.
	missionEventTopic = "mavgate/events/mission"

	// commandDetailsSub matches inbound command messages for any target.
	commandDetailsSub = "command/+/+/details"

	// loadWaypointsSub matches inbound waypoint load/download requests.
	loadWaypointsSub = "command/+/+/load_waypoints"
)

// Topic parsing regexes. These are part of the external contract and must
// not change: downstream consumers parse topics with the same expressions.
var (
	deviceTopicRegex        = regexp.MustCompile(`^device/([0-9]+)/([0-9]+)/([A-Z0-9_]+)/?(.*)$`)
	sourcesTopicRegex       = regexp.MustCompile(`^sources/([0-9]+)/([0-9]+)/([0-9]+)/([0-9]+)/([A-Z0-9_]+)/([a-zA-Z0-9_]+)$`)
	commandTopicRegex       = regexp.MustCompile(`^command/([0-9]+)/([0-9]+)/details$`)
	loadWaypointsTopicRegex = regexp.MustCompile(`^command/([0-9]+)/([0-9]+)/load_waypoints$`)
)

// deviceTopic builds the device-centric topic for a decoded message:
// device/<sysid>/<compid>/<MSG_NAME>.
func deviceTopic(sysid, compid uint8, msgName string) string {
	return fmt.Sprintf("device/%d/%d/%s", sysid, compid, msgName)
}

// deviceFieldTopic builds the per-field sub-topic:
// device/<sysid>/<compid>/<MSG_NAME>/<field>.
func deviceFieldTopic(sysid, compid uint8, msgName, field string) string {
	return fmt.Sprintf("device/%d/%d/%s/%s", sysid, compid, msgName, field)
}

// sourcesTopic builds the link-diagnostics topic:
// sources/<src_sysid>/<src_compid>/<dst_sysid>/<dst_compid>/<MSG_NAME>/<port>.
//
// port is the name of the transport the frame arrived on.
func sourcesTopic(srcSys, srcComp, dstSys, dstComp uint8, msgName, port string) string {
	return fmt.Sprintf("sources/%d/%d/%d/%d/%s/%s", srcSys, srcComp, dstSys, dstComp, msgName, port)
}

// commandAckTopic builds the per-target command acknowledgement topic:
// command/<sysid>/<compid>/ack.
func commandAckTopic(sysid, compid uint8) string {
	return fmt.Sprintf("command/%d/%d/ack", sysid, compid)
}

// parseCommandTopic extracts target addressing from a details command topic.
//
// Returns:
//   - sysid, compid: Target addressing from the topic
//   - ok: false if the topic does not match the command contract
func parseCommandTopic(topic string) (sysid, compid uint8, ok bool) {
	m := commandTopicRegex.FindStringSubmatch(topic)
	if m == nil {
		return 0, 0, false
	}
	return parseTopicAddr(m[1], m[2])
}

// parseLoadWaypointsTopic extracts target addressing from a load_waypoints
// command topic.
func parseLoadWaypointsTopic(topic string) (sysid, compid uint8, ok bool) {
	m := loadWaypointsTopicRegex.FindStringSubmatch(topic)
	if m == nil {
		return 0, 0, false
	}
	return parseTopicAddr(m[1], m[2])
}

// parseTopicAddr converts two numeric topic segments to a (sysid, compid)
// pair, rejecting values outside uint8 range.
func parseTopicAddr(sysStr, compStr string) (uint8, uint8, bool) {
	sys, err := strconv.ParseUint(sysStr, 10, 8)
	if err != nil {
		return 0, 0, false
	}
	comp, err := strconv.ParseUint(compStr, 10, 8)
	if err != nil {
		return 0, 0, false
	}
	return uint8(sys), uint8(comp), true
}
