package mavlink

import "time"

// JSON payloads exchanged over the command and event topics.

// CommandRequest is the payload of command/<sysid>/<compid>/details.
//
// It describes a MAVLink message to encode and send to the target named in
// the topic. The common case is a COMMAND_LONG; RawFrame alternatively
// carries a complete pre-encoded frame as hex for message types the bridge
// has no structured encoder for.
type CommandRequest struct {
	Command      uint32  `json:"command"`
	Confirmation uint8   `json:"confirmation,omitempty"`
	Param1       float32 `json:"param1,omitempty"`
	Param2       float32 `json:"param2,omitempty"`
	Param3       float32 `json:"param3,omitempty"`
	Param4       float32 `json:"param4,omitempty"`
	Param5       float32 `json:"param5,omitempty"`
	Param6       float32 `json:"param6,omitempty"`
	Param7       float32 `json:"param7,omitempty"`

	// RawFrame is a hex-encoded complete MAVLink frame. When set, it is
	// validated and injected as-is; the Command/Param fields are ignored.
	RawFrame string `json:"raw_frame,omitempty"`
}

// CommandEvent reports the outcome of a command request, published on both
// the global command event topic and the per-target ack topic
// command/<sysid>/<compid>/ack. Every rejected command produces one; silent
// failure is a defect, not an outcome.
type CommandEvent struct {
	SystemID    uint8     `json:"sysid"`
	ComponentID uint8     `json:"compid"`
	Command     uint32    `json:"command,omitempty"`
	Accepted    bool      `json:"accepted"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Command outcome statuses carried in CommandEvent.Status.
const (
	statusAccepted  = "accepted"
	statusQueued    = "queued"
	statusRejected  = "rejected"
	statusDelivered = "delivered"
)

// LoadWaypointsCommand is the payload of command/<sysid>/<compid>/load_waypoints.
//
// Action selects the direction: "upload" (default when empty) pushes the
// given waypoints to the vehicle, "download" pulls the vehicle's current
// mission. Waypoints may be inline or loaded from a YAML file by name.
type LoadWaypointsCommand struct {
	Action    string     `json:"action,omitempty"`
	Filename  string     `json:"filename,omitempty"`
	Waypoints []Waypoint `json:"waypoints,omitempty"`
}

// Load actions.
const (
	ActionUpload   = "upload"
	ActionDownload = "download"
)

// ValidationReport is published on the validation topic for every waypoint
// load request, valid or not.
type ValidationReport struct {
	SystemID    uint8     `json:"sysid"`
	ComponentID uint8     `json:"compid"`
	Valid       bool      `json:"valid"`
	Issues      []string  `json:"issues,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	Count       int       `json:"count"`
	Timestamp   time.Time `json:"timestamp"`
}

// MissionReport is published on the mission event topic when a session
// reaches a terminal state, and recorded in the mission log.
type MissionReport struct {
	SystemID    uint8     `json:"sysid"`
	ComponentID uint8     `json:"compid"`
	Direction   string    `json:"direction"`
	State       string    `json:"state"`
	ItemCount   int       `json:"item_count"`
	Hash        string    `json:"hash,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Diff        []string  `json:"diff,omitempty"`
	Items       []Waypoint `json:"items,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}
