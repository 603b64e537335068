package mavlink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/mavgate/mavgate/internal/infrastructure/config"
	"github.com/mavgate/mavgate/internal/infrastructure/logging"
)

// SessionState is the lifecycle state of a mission transfer session.
type SessionState int

// Session states. A session never returns to IDLE automatically: terminal
// states persist until a subsequent request replaces the session, so the
// last result stays available for inspection.
const (
	StateIdle SessionState = iota
	StateRequesting
	StateUploading
	StateAwaitingAck
	StateVerifying
	StateDone
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRequesting:
		return "REQUESTING"
	case StateUploading:
		return "UPLOADING"
	case StateAwaitingAck:
		return "AWAITING_ACK"
	case StateVerifying:
		return "VERIFYING"
	case StateDone:
		return "DONE"
	default:
		return "FAILED"
	}
}

func (s SessionState) terminal() bool {
	return s == StateDone || s == StateFailed
}

// Mission failure reasons.
const (
	reasonTimeout  = "timeout"
	reasonMismatch = "mismatch"
)

// deadlineTickInterval is how often session deadlines are checked.
const deadlineTickInterval = 250 * time.Millisecond

// sessionKey addresses one vehicle component.
type sessionKey struct {
	sysid  uint8
	compid uint8
}

// missionSender abstracts the router's targeted send for testability.
type missionSender interface {
	sendTo(sysid uint8, msg message.Message) error
}

// missionSession holds the state machine for one transfer. All fields are
// owned by the manager goroutine; snapshots for status reporting go through
// the manager's mutex.
type missionSession struct {
	key       sessionKey
	direction string
	state     SessionState

	// items: upload = what we send; download = what we have received.
	items         []Waypoint
	expectedCount int
	nextIndex     int

	// Verify read-back bookkeeping (upload only).
	verifyIndex int

	retriesRemaining int
	deadline         time.Time
	lastOutbound     message.Message

	hash       string
	reason     string
	diff       []string
	startedAt  time.Time
	finishedAt time.Time
}

// stateName is the reported name of the session's state. The item-transfer
// state is shared by both directions; a download reports it as RECEIVING.
func (s *missionSession) stateName() string {
	if s.direction == ActionDownload && s.state == StateUploading {
		return "RECEIVING"
	}
	return s.state.String()
}

// missionRequest starts a new session; sent from the MQTT handler
// goroutine to the manager goroutine.
type missionRequest struct {
	key       sessionKey
	direction string
	items     []Waypoint
	hash      string
	reply     chan error
}

// MissionStatus is the JSON snapshot of one session for status reports.
type MissionStatus struct {
	SystemID    uint8  `json:"sysid"`
	ComponentID uint8  `json:"compid"`
	Direction   string `json:"direction"`
	State       string `json:"state"`
	ItemCount   int    `json:"item_count"`
	NextIndex   int    `json:"next_index"`
	Retries     int    `json:"retries_remaining"`
}

// MissionManager drives the mission upload/download protocol.
//
// One session may be active per (sysid, compid); a request while one is
// active is rejected with ErrSessionBusy, never queued. All session state
// is owned by the manager's single goroutine — frames arrive on the
// router's mission tap, start requests arrive on an internal channel, and
// deadlines are checked on a ticker.
type MissionManager struct {
	sender missionSender
	cfg    config.MissionConfig
	log    *logging.Logger

	tap      <-chan *inboundFrame
	requests chan missionRequest

	mu       sync.Mutex
	sessions map[sessionKey]*missionSession

	// onReport is invoked on the manager goroutine when a session reaches
	// a terminal state. Set once before Run.
	onReport func(MissionReport)

	// now is replaceable for deadline tests.
	now func() time.Time
}

func newMissionManager(sender missionSender, cfg config.MissionConfig, tap <-chan *inboundFrame, log *logging.Logger) *MissionManager {
	return &MissionManager{
		sender:   sender,
		cfg:      cfg,
		log:      log.With("component", "mission"),
		tap:      tap,
		requests: make(chan missionRequest),
		sessions: make(map[sessionKey]*missionSession),
		now:      time.Now,
	}
}

// StartUpload begins uploading validated waypoints to a vehicle.
//
// Parameters:
//   - sysid, compid: Target vehicle addressing
//   - items: Validated, seq-numbered waypoints
//   - hash: Content hash from the validator
//
// Returns:
//   - error: ErrSessionBusy if a session is already active for the target
func (m *MissionManager) StartUpload(ctx context.Context, sysid, compid uint8, items []Waypoint, hash string) error {
	return m.submit(ctx, missionRequest{
		key:       sessionKey{sysid: sysid, compid: compid},
		direction: ActionUpload,
		items:     items,
		hash:      hash,
		reply:     make(chan error, 1),
	})
}

// StartDownload begins pulling the vehicle's current mission.
func (m *MissionManager) StartDownload(ctx context.Context, sysid, compid uint8) error {
	return m.submit(ctx, missionRequest{
		key:       sessionKey{sysid: sysid, compid: compid},
		direction: ActionDownload,
		reply:     make(chan error, 1),
	})
}

func (m *MissionManager) submit(ctx context.Context, req missionRequest) error {
	select {
	case m.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes mission traffic until the context is cancelled.
func (m *MissionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(deadlineTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-m.requests:
			req.reply <- m.startSession(req)
		case in := <-m.tap:
			m.handleFrame(in)
		case <-ticker.C:
			m.tick()
		}
	}
}

// timeout returns the per-step deadline duration.
func (m *MissionManager) timeout() time.Duration {
	if m.cfg.Timeout <= 0 {
		return 5 * time.Second
	}
	return time.Duration(m.cfg.Timeout) * time.Second
}

// startSession creates a session unless one is already active.
func (m *MissionManager) startSession(req missionRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[req.key]; ok && !existing.state.terminal() {
		return fmt.Errorf("%w: %s in progress for sysid %d compid %d",
			ErrSessionBusy, existing.direction, req.key.sysid, req.key.compid)
	}

	s := &missionSession{
		key:              req.key,
		direction:        req.direction,
		items:            req.items,
		hash:             req.hash,
		retriesRemaining: m.cfg.Retries,
		startedAt:        m.now(),
		state:            StateRequesting,
	}
	m.sessions[req.key] = s

	var first message.Message
	if req.direction == ActionUpload {
		s.expectedCount = len(req.items)
		first = &common.MessageMissionCount{
			TargetSystem:    req.key.sysid,
			TargetComponent: req.key.compid,
			Count:           uint16(len(req.items)), // #nosec G115 -- validator bounds the list
			MissionType:     common.MAV_MISSION_TYPE_MISSION,
		}
	} else {
		first = &common.MessageMissionRequestList{
			TargetSystem:    req.key.sysid,
			TargetComponent: req.key.compid,
			MissionType:     common.MAV_MISSION_TYPE_MISSION,
		}
	}

	m.send(s, first)
	m.log.Info("mission session started",
		"sysid", req.key.sysid, "compid", req.key.compid,
		"direction", req.direction, "items", len(req.items))
	return nil
}

// send transmits a message to the session's vehicle and arms the deadline.
func (m *MissionManager) send(s *missionSession, msg message.Message) {
	s.lastOutbound = msg
	s.deadline = m.now().Add(m.timeout())

	if err := m.sender.sendTo(s.key.sysid, msg); err != nil {
		m.log.Warn("mission send failed", "sysid", s.key.sysid, "error", err)
	}
}

// handleFrame dispatches a mission-protocol frame to its session.
func (m *MissionManager) handleFrame(in *inboundFrame) {
	sysid := in.frame.GetSystemID()
	compid := in.frame.GetComponentID()

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionKey{sysid: sysid, compid: compid}]
	if !ok {
		// Autopilots sometimes answer from a different compid than the
		// one addressed; fall back to a sysid-only match.
		for key, cand := range m.sessions {
			if key.sysid == sysid && !cand.state.terminal() {
				s = cand
				break
			}
		}
	}
	if s == nil {
		return
	}

	switch msg := in.frame.GetMessage().(type) {
	case *common.MessageMissionRequest:
		m.onMissionRequest(s, int(msg.Seq))
	case *common.MessageMissionRequestInt:
		m.onMissionRequest(s, int(msg.Seq))
	case *common.MessageMissionAck:
		m.onMissionAck(s, msg)
	case *common.MessageMissionCount:
		m.onMissionCount(s, int(msg.Count))
	case *common.MessageMissionItemInt:
		m.onMissionItem(s, msg)
	}
}

// onMissionRequest answers the vehicle's request for item `seq` during an
// upload. A seq lower than next_index is a retransmit of an already-sent
// item, not an error.
func (m *MissionManager) onMissionRequest(s *missionSession, seq int) {
	if s.state.terminal() || s.direction != ActionUpload {
		return
	}
	if seq < 0 || seq >= len(s.items) {
		m.log.Warn("mission request out of range", "sysid", s.key.sysid, "seq", seq)
		return
	}

	if s.state == StateRequesting {
		s.state = StateUploading
	}

	s.retriesRemaining = m.cfg.Retries
	m.send(s, waypointToItem(s.key.sysid, s.key.compid, s.items[seq], seq == 0))

	if seq >= s.nextIndex {
		s.nextIndex = seq + 1
	}
	if s.nextIndex == len(s.items) {
		s.state = StateAwaitingAck
	}
}

// onMissionAck handles the vehicle's transfer verdict. A duplicate ack
// after the session is terminal is ignored.
func (m *MissionManager) onMissionAck(s *missionSession, msg *common.MessageMissionAck) {
	if s.state.terminal() {
		return
	}

	if msg.Type != common.MAV_MISSION_ACCEPTED {
		m.fail(s, fmt.Sprintf("nack: %v", msg.Type))
		return
	}

	if s.direction == ActionUpload && (s.state == StateUploading || s.state == StateAwaitingAck) {
		// Accepted: read the mission back and compare item by item.
		s.state = StateVerifying
		s.verifyIndex = 0
		s.retriesRemaining = m.cfg.Retries
		m.send(s, &common.MessageMissionRequestList{
			TargetSystem:    s.key.sysid,
			TargetComponent: s.key.compid,
			MissionType:     common.MAV_MISSION_TYPE_MISSION,
		})
	}
}

// onMissionCount handles the vehicle's item count, which opens the item
// stream for downloads and for the upload verify read-back.
func (m *MissionManager) onMissionCount(s *missionSession, count int) {
	if s.state.terminal() {
		return
	}

	switch {
	case s.direction == ActionDownload && s.state == StateRequesting:
		s.expectedCount = count
		s.items = nil
		if count == 0 {
			m.sendAck(s)
			m.complete(s)
			return
		}
		s.state = StateUploading
		m.requestItem(s, 0)

	case s.direction == ActionUpload && s.state == StateVerifying:
		if count != len(s.items) {
			s.diff = append(s.diff, fmt.Sprintf("count mismatch: sent %d, vehicle reports %d", len(s.items), count))
			m.sendAck(s)
			m.fail(s, reasonMismatch)
			return
		}
		m.requestItem(s, 0)
	}
}

// onMissionItem consumes one read-back or download item.
func (m *MissionManager) onMissionItem(s *missionSession, msg *common.MessageMissionItemInt) {
	if s.state.terminal() {
		return
	}

	got := itemToWaypoint(msg)

	switch {
	case s.direction == ActionDownload && s.state == StateUploading:
		if int(msg.Seq) != len(s.items) {
			// Duplicate or out-of-order item: re-request what we need.
			m.requestItem(s, len(s.items))
			return
		}
		s.items = append(s.items, got)
		if len(s.items) == s.expectedCount {
			m.sendAck(s)
			s.hash = WaypointHash(s.items)
			m.complete(s)
			return
		}
		m.requestItem(s, len(s.items))

	case s.direction == ActionUpload && s.state == StateVerifying:
		if int(msg.Seq) != s.verifyIndex {
			m.requestItem(s, s.verifyIndex)
			return
		}
		if !itemsMatch(s.items[s.verifyIndex], got) {
			s.diff = append(s.diff, fmt.Sprintf(
				"item %d: sent (%.7f, %.7f, %.1f) got (%.7f, %.7f, %.1f)",
				s.verifyIndex,
				s.items[s.verifyIndex].Lat, s.items[s.verifyIndex].Lon, s.items[s.verifyIndex].Alt,
				got.Lat, got.Lon, got.Alt))
		}
		s.verifyIndex++
		if s.verifyIndex == len(s.items) {
			m.sendAck(s)
			if len(s.diff) > 0 {
				m.fail(s, reasonMismatch)
				return
			}
			m.complete(s)
			return
		}
		m.requestItem(s, s.verifyIndex)
	}
}

// requestItem asks the vehicle for one mission item.
func (m *MissionManager) requestItem(s *missionSession, seq int) {
	s.retriesRemaining = m.cfg.Retries
	m.send(s, &common.MessageMissionRequestInt{
		TargetSystem:    s.key.sysid,
		TargetComponent: s.key.compid,
		Seq:             uint16(seq), // #nosec G115 -- bounded by expectedCount
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	})
}

// sendAck acknowledges the item stream. Not deadline-armed: nothing follows.
func (m *MissionManager) sendAck(s *missionSession) {
	msg := &common.MessageMissionAck{
		TargetSystem:    s.key.sysid,
		TargetComponent: s.key.compid,
		Type:            common.MAV_MISSION_ACCEPTED,
		MissionType:     common.MAV_MISSION_TYPE_MISSION,
	}
	if err := m.sender.sendTo(s.key.sysid, msg); err != nil {
		m.log.Warn("mission ack send failed", "sysid", s.key.sysid, "error", err)
	}
}

// tick retries timed-out sessions, failing them once retries are exhausted.
func (m *MissionManager) tick() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.state.terminal() || now.Before(s.deadline) {
			continue
		}

		if s.retriesRemaining <= 0 {
			m.fail(s, reasonTimeout)
			continue
		}

		s.retriesRemaining--
		m.log.Warn("mission step timed out, retrying",
			"sysid", s.key.sysid, "state", s.stateName(),
			"retries_remaining", s.retriesRemaining)
		if s.lastOutbound != nil {
			m.send(s, s.lastOutbound)
		}
	}
}

// complete moves a session to DONE and emits its report.
func (m *MissionManager) complete(s *missionSession) {
	s.state = StateDone
	s.finishedAt = m.now()
	m.log.Info("mission session done",
		"sysid", s.key.sysid, "direction", s.direction, "items", len(s.items))
	m.emit(s)
}

// fail moves a session to FAILED with a structured reason.
func (m *MissionManager) fail(s *missionSession, reason string) {
	s.state = StateFailed
	s.reason = reason
	s.finishedAt = m.now()
	m.log.Warn("mission session failed",
		"sysid", s.key.sysid, "direction", s.direction, "reason", reason)
	m.emit(s)
}

func (m *MissionManager) emit(s *missionSession) {
	if m.onReport == nil {
		return
	}

	report := MissionReport{
		SystemID:    s.key.sysid,
		ComponentID: s.key.compid,
		Direction:   s.direction,
		State:       s.stateName(),
		ItemCount:   len(s.items),
		Hash:        s.hash,
		Reason:      s.reason,
		Diff:        s.diff,
		StartedAt:   s.startedAt,
		FinishedAt:  s.finishedAt,
	}
	if s.direction == ActionDownload && s.state == StateDone {
		report.Items = s.items
	}

	m.onReport(report)
}

// status snapshots all sessions, including terminal ones awaiting
// replacement.
func (m *MissionManager) status() []MissionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]MissionStatus, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, MissionStatus{
			SystemID:    s.key.sysid,
			ComponentID: s.key.compid,
			Direction:   s.direction,
			State:       s.stateName(),
			ItemCount:   len(s.items),
			NextIndex:   s.nextIndex,
			Retries:     s.retriesRemaining,
		})
	}
	return out
}
