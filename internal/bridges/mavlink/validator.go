package mavlink

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"gopkg.in/yaml.v3"
)

// Waypoint validation limits.
const (
	minLatitude  = -90.0
	maxLatitude  = 90.0
	minLongitude = -180.0
	maxLongitude = 180.0
	minAltitude  = -1000.0
	maxAltitude  = 50000.0

	// maxWaypoints bounds a single mission transfer. The wire count field
	// is uint16 but practical autopilots reject far smaller missions.
	maxWaypoints = 65535

	// defaultFrame is MAV_FRAME_GLOBAL_RELATIVE_ALT_INT.
	defaultFrame = 6

	// defaultCommand is MAV_CMD_NAV_WAYPOINT.
	defaultCommand = 16

	// coordScale converts degrees to the 1e7 fixed-point wire encoding.
	coordScale = 1e7
)

// Waypoint is one mission item as carried in load_waypoints payloads and
// waypoint YAML files. Zero Frame and Command get the navigation defaults.
type Waypoint struct {
	Seq          uint16  `json:"seq" yaml:"seq"`
	Lat          float64 `json:"lat" yaml:"lat"`
	Lon          float64 `json:"lon" yaml:"lon"`
	Alt          float64 `json:"alt" yaml:"alt"`
	Frame        uint8   `json:"frame,omitempty" yaml:"frame,omitempty"`
	Command      uint16  `json:"command,omitempty" yaml:"command,omitempty"`
	Param1       float64 `json:"param1,omitempty" yaml:"param1,omitempty"`
	Param2       float64 `json:"param2,omitempty" yaml:"param2,omitempty"`
	Param3       float64 `json:"param3,omitempty" yaml:"param3,omitempty"`
	Param4       float64 `json:"param4,omitempty" yaml:"param4,omitempty"`
	Autocontinue bool    `json:"autocontinue,omitempty" yaml:"autocontinue,omitempty"`
}

// waypointFile is the YAML document layout for waypoint files.
type waypointFile struct {
	Waypoints []Waypoint `yaml:"waypoints"`
}

// LoadWaypointFile reads a waypoint list from a YAML file.
//
// Parameters:
//   - path: Filesystem path to the waypoint file
//
// Returns:
//   - []Waypoint: Parsed waypoints in file order
//   - error: Wrapping ErrValidation on read or parse failure
func LoadWaypointFile(path string) ([]Waypoint, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's command payload
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrValidation, path, err)
	}

	var f waypointFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", ErrValidation, path, err)
	}

	return f.Waypoints, nil
}

// ValidateWaypoints checks a waypoint list and normalizes it for upload.
//
// Validation applies defaults (frame, command), renumbers Seq to the list
// order, and collects every issue rather than stopping at the first.
//
// Parameters:
//   - wps: Waypoints to validate (modified in place: defaults and seq)
//
// Returns:
//   - []string: Human-readable issues, empty when valid
//   - error: ErrValidation when any issue was found
func ValidateWaypoints(wps []Waypoint) ([]string, error) {
	var issues []string

	if len(wps) == 0 {
		issues = append(issues, "waypoint list is empty")
	}
	if len(wps) > maxWaypoints {
		issues = append(issues, fmt.Sprintf("too many waypoints: %d (max %d)", len(wps), maxWaypoints))
	}

	for i := range wps {
		wp := &wps[i]

		if wp.Frame == 0 {
			wp.Frame = defaultFrame
		}
		if wp.Command == 0 {
			wp.Command = defaultCommand
		}
		wp.Seq = uint16(i) // #nosec G115 -- bounded by maxWaypoints above

		if wp.Lat < minLatitude || wp.Lat > maxLatitude {
			issues = append(issues, fmt.Sprintf("waypoint %d: latitude %.7f out of range [%g, %g]",
				i, wp.Lat, minLatitude, maxLatitude))
		}
		if wp.Lon < minLongitude || wp.Lon > maxLongitude {
			issues = append(issues, fmt.Sprintf("waypoint %d: longitude %.7f out of range [%g, %g]",
				i, wp.Lon, minLongitude, maxLongitude))
		}
		if wp.Alt < minAltitude || wp.Alt > maxAltitude {
			issues = append(issues, fmt.Sprintf("waypoint %d: altitude %.1f out of range [%g, %g]",
				i, wp.Alt, minAltitude, maxAltitude))
		}
	}

	if len(issues) > 0 {
		return issues, fmt.Errorf("%w: %d issue(s)", ErrValidation, len(issues))
	}
	return nil, nil
}

// WaypointHash returns the content hash of a waypoint list.
//
// The hash is computed over the wire-relevant fields in sequence order, so
// two lists that would produce identical MISSION_ITEM_INT streams hash
// identically regardless of their source (inline JSON or YAML file). The
// mission session manager uses it to tag transfers and to verify read-backs.
func WaypointHash(wps []Waypoint) string {
	h := sha256.New()
	for _, wp := range wps {
		fmt.Fprintf(h, "%d|%d|%d|%d|%d|%d|%g|%g|%g|%g|%t\n",
			wp.Seq, wp.Frame, wp.Command,
			int32(wp.Lat*coordScale), int32(wp.Lon*coordScale), int32(wp.Alt*1000),
			wp.Param1, wp.Param2, wp.Param3, wp.Param4, wp.Autocontinue)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// waypointToItem encodes a waypoint as a MISSION_ITEM_INT for the target.
// Latitude/longitude use the 1e7 fixed-point encoding; altitude stays float.
func waypointToItem(targetSys, targetComp uint8, wp Waypoint, current bool) *common.MessageMissionItemInt {
	autocontinue := uint8(0)
	if wp.Autocontinue {
		autocontinue = 1
	}
	cur := uint8(0)
	if current {
		cur = 1
	}

	return &common.MessageMissionItemInt{
		TargetSystem:    targetSys,
		TargetComponent: targetComp,
		Seq:             wp.Seq,
		Frame:           common.MAV_FRAME(wp.Frame),
		Command:         common.MAV_CMD(wp.Command),
		Current:         cur,
		Autocontinue:    autocontinue,
		Param1:          float32(wp.Param1),
		Param2:          float32(wp.Param2),
		Param3:          float32(wp.Param3),
		Param4:          float32(wp.Param4),
		X:               int32(wp.Lat * coordScale),
		Y:               int32(wp.Lon * coordScale),
		Z:               float32(wp.Alt),
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	}
}

// itemToWaypoint decodes a received MISSION_ITEM_INT back into a waypoint.
func itemToWaypoint(item *common.MessageMissionItemInt) Waypoint {
	return Waypoint{
		Seq:          item.Seq,
		Lat:          float64(item.X) / coordScale,
		Lon:          float64(item.Y) / coordScale,
		Alt:          float64(item.Z),
		Frame:        uint8(item.Frame),
		Command:      uint16(item.Command),
		Param1:       float64(item.Param1),
		Param2:       float64(item.Param2),
		Param3:       float64(item.Param3),
		Param4:       float64(item.Param4),
		Autocontinue: item.Autocontinue != 0,
	}
}

// itemsMatch compares a sent item against its read-back, tolerating the
// float32 round-trip on parameters and altitude.
func itemsMatch(sent Waypoint, got Waypoint) bool {
	const epsilon = 1e-5

	if sent.Seq != got.Seq || sent.Frame != got.Frame || sent.Command != got.Command {
		return false
	}
	if int32(sent.Lat*coordScale) != int32(got.Lat*coordScale) {
		return false
	}
	if int32(sent.Lon*coordScale) != int32(got.Lon*coordScale) {
		return false
	}
	if diff := sent.Alt - got.Alt; diff > epsilon || diff < -epsilon {
		return false
	}
	return true
}
