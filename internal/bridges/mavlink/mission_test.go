package mavlink

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"

	"github.com/mavgate/mavgate/internal/infrastructure/config"
	"github.com/mavgate/mavgate/internal/infrastructure/logging"
)

// fakeSender records every message the manager transmits.
type fakeSender struct {
	mu   sync.Mutex
	sent []message.Message
}

func (f *fakeSender) sendTo(_ uint8, msg message.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) last() message.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// missionTestRig bundles a manager with its fake collaborators. Handlers
// are driven directly rather than through Run's channels so state
// transitions are synchronous and deterministic.
type missionTestRig struct {
	m       *MissionManager
	sender  *fakeSender
	reports []MissionReport
}

func newMissionRig(t *testing.T, retries int) *missionTestRig {
	t.Helper()

	rig := &missionTestRig{sender: &fakeSender{}}
	rig.m = newMissionManager(rig.sender, config.MissionConfig{Timeout: 5, Retries: retries}, nil, logging.Default())
	rig.m.onReport = func(r MissionReport) {
		rig.reports = append(rig.reports, r)
	}
	return rig
}

func (rig *missionTestRig) startUpload(t *testing.T, sysid, compid uint8, items []Waypoint) error {
	t.Helper()
	return rig.m.startSession(missionRequest{
		key:       sessionKey{sysid: sysid, compid: compid},
		direction: ActionUpload,
		items:     items,
		hash:      WaypointHash(items),
	})
}

func (rig *missionTestRig) startDownload(t *testing.T, sysid, compid uint8) error {
	t.Helper()
	return rig.m.startSession(missionRequest{
		key:       sessionKey{sysid: sysid, compid: compid},
		direction: ActionDownload,
	})
}

func (rig *missionTestRig) feed(sysid, compid uint8, msg message.Message) {
	rig.m.handleFrame(&inboundFrame{
		frame: &frame.V2Frame{
			SystemID:    sysid,
			ComponentID: compid,
			Message:     msg,
		},
		receivedAt: time.Now(),
	})
}

func (rig *missionTestRig) session(sysid, compid uint8) *missionSession {
	return rig.m.sessions[sessionKey{sysid: sysid, compid: compid}]
}

func uploadItems(t *testing.T) []Waypoint {
	t.Helper()
	wps := validWaypoints()
	if _, err := ValidateWaypoints(wps); err != nil {
		t.Fatal(err)
	}
	return wps
}

func TestMissionUpload_HappyPath(t *testing.T) {
	rig := newMissionRig(t, 3)
	wps := uploadItems(t)

	if err := rig.startUpload(t, 3, 1, wps); err != nil {
		t.Fatalf("startUpload failed: %v", err)
	}

	count, ok := rig.sender.last().(*common.MessageMissionCount)
	if !ok || count.Count != 3 || count.TargetSystem != 3 {
		t.Fatalf("first outbound = %T %+v, want MISSION_COUNT(3)", rig.sender.last(), rig.sender.last())
	}

	// Vehicle requests each item in order.
	for seq := uint16(0); seq < 3; seq++ {
		rig.feed(3, 1, &common.MessageMissionRequest{Seq: seq})

		item, ok := rig.sender.last().(*common.MessageMissionItemInt)
		if !ok || item.Seq != seq {
			t.Fatalf("after request %d: outbound = %T %+v", seq, rig.sender.last(), rig.sender.last())
		}
	}

	s := rig.session(3, 1)
	if s.state != StateAwaitingAck {
		t.Fatalf("state after last item = %v, want AWAITING_ACK", s.state)
	}

	// Accepted ack starts the verify read-back.
	rig.feed(3, 1, &common.MessageMissionAck{Type: common.MAV_MISSION_ACCEPTED})
	if s.state != StateVerifying {
		t.Fatalf("state after ack = %v, want VERIFYING", s.state)
	}
	if _, ok := rig.sender.last().(*common.MessageMissionRequestList); !ok {
		t.Fatalf("verify should open with MISSION_REQUEST_LIST, got %T", rig.sender.last())
	}

	// Vehicle reports the same mission back.
	rig.feed(3, 1, &common.MessageMissionCount{Count: 3})
	for i, wp := range wps {
		req, ok := rig.sender.last().(*common.MessageMissionRequestInt)
		if !ok || int(req.Seq) != i {
			t.Fatalf("verify request %d: outbound = %T %+v", i, rig.sender.last(), rig.sender.last())
		}
		rig.feed(3, 1, waypointToItem(250, 0, wp, i == 0))
	}

	if s.state != StateDone {
		t.Fatalf("final state = %v, want DONE", s.state)
	}
	if _, ok := rig.sender.last().(*common.MessageMissionAck); !ok {
		t.Errorf("read-back should end with our MISSION_ACK, got %T", rig.sender.last())
	}

	if len(rig.reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(rig.reports))
	}
	if rig.reports[0].State != "DONE" || rig.reports[0].ItemCount != 3 {
		t.Errorf("report = %+v", rig.reports[0])
	}
}

func TestMissionUpload_BusyRejection(t *testing.T) {
	rig := newMissionRig(t, 3)
	wps := uploadItems(t)

	if err := rig.startUpload(t, 3, 1, wps); err != nil {
		t.Fatal(err)
	}

	err := rig.startUpload(t, 3, 1, wps)
	if !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second start = %v, want ErrSessionBusy", err)
	}

	// The existing session is unaffected.
	if s := rig.session(3, 1); s.state != StateRequesting {
		t.Errorf("existing session state = %v, want REQUESTING", s.state)
	}

	// A different vehicle is not blocked.
	if err := rig.startUpload(t, 4, 1, wps); err != nil {
		t.Errorf("start for different sysid = %v, want nil", err)
	}
}

func TestMissionUpload_OutOfOrderRequestRetransmits(t *testing.T) {
	rig := newMissionRig(t, 3)
	wps := uploadItems(t)

	if err := rig.startUpload(t, 3, 1, wps); err != nil {
		t.Fatal(err)
	}

	rig.feed(3, 1, &common.MessageMissionRequest{Seq: 0})
	rig.feed(3, 1, &common.MessageMissionRequest{Seq: 1})

	s := rig.session(3, 1)
	if s.nextIndex != 2 {
		t.Fatalf("next index = %d, want 2", s.nextIndex)
	}

	// Stale re-request: retransmit, do not regress.
	rig.feed(3, 1, &common.MessageMissionRequest{Seq: 0})

	item, ok := rig.sender.last().(*common.MessageMissionItemInt)
	if !ok || item.Seq != 0 {
		t.Fatalf("retransmit outbound = %T %+v, want item 0", rig.sender.last(), rig.sender.last())
	}
	if s.nextIndex != 2 {
		t.Errorf("next index after retransmit = %d, want 2", s.nextIndex)
	}
	if s.state != StateUploading {
		t.Errorf("state = %v, want UPLOADING", s.state)
	}
}

func TestMissionUpload_Nack(t *testing.T) {
	rig := newMissionRig(t, 3)

	if err := rig.startUpload(t, 3, 1, uploadItems(t)); err != nil {
		t.Fatal(err)
	}

	rig.feed(3, 1, &common.MessageMissionRequest{Seq: 0})
	rig.feed(3, 1, &common.MessageMissionAck{Type: common.MAV_MISSION_ERROR})

	s := rig.session(3, 1)
	if s.state != StateFailed {
		t.Fatalf("state = %v, want FAILED", s.state)
	}
	if s.reason == "" {
		t.Error("failed session should carry a reason")
	}
	if len(rig.reports) != 1 || rig.reports[0].State != "FAILED" {
		t.Errorf("reports = %+v", rig.reports)
	}
}

func TestMissionUpload_TimeoutExhaustsRetries(t *testing.T) {
	rig := newMissionRig(t, 2)

	current := time.Now()
	rig.m.now = func() time.Time { return current }

	if err := rig.startUpload(t, 3, 1, uploadItems(t)); err != nil {
		t.Fatal(err)
	}

	initialSends := rig.sender.count()

	// Each expired deadline resends the last outbound message.
	for i := 0; i < 2; i++ {
		current = current.Add(10 * time.Second)
		rig.m.tick()

		if rig.sender.count() != initialSends+i+1 {
			t.Fatalf("retry %d: sends = %d, want %d", i, rig.sender.count(), initialSends+i+1)
		}
	}

	// Retries exhausted.
	current = current.Add(10 * time.Second)
	rig.m.tick()

	s := rig.session(3, 1)
	if s.state != StateFailed {
		t.Fatalf("state = %v, want FAILED", s.state)
	}
	if s.reason != reasonTimeout {
		t.Errorf("reason = %q, want %q", s.reason, reasonTimeout)
	}
}

func TestMissionUpload_VerifyMismatch(t *testing.T) {
	rig := newMissionRig(t, 3)
	wps := uploadItems(t)

	if err := rig.startUpload(t, 3, 1, wps); err != nil {
		t.Fatal(err)
	}
	for seq := uint16(0); seq < 3; seq++ {
		rig.feed(3, 1, &common.MessageMissionRequest{Seq: seq})
	}
	rig.feed(3, 1, &common.MessageMissionAck{Type: common.MAV_MISSION_ACCEPTED})
	rig.feed(3, 1, &common.MessageMissionCount{Count: 3})

	// Vehicle reads back a corrupted item 1.
	for i, wp := range wps {
		if i == 1 {
			wp.Lat += 0.01
		}
		rig.feed(3, 1, waypointToItem(250, 0, wp, i == 0))
	}

	s := rig.session(3, 1)
	if s.state != StateFailed {
		t.Fatalf("state = %v, want FAILED", s.state)
	}
	if s.reason != reasonMismatch {
		t.Errorf("reason = %q, want %q", s.reason, reasonMismatch)
	}
	if len(s.diff) == 0 {
		t.Error("mismatch must produce a non-empty diff")
	}
}

func TestMissionUpload_VerifyCountMismatch(t *testing.T) {
	rig := newMissionRig(t, 3)

	if err := rig.startUpload(t, 3, 1, uploadItems(t)); err != nil {
		t.Fatal(err)
	}
	for seq := uint16(0); seq < 3; seq++ {
		rig.feed(3, 1, &common.MessageMissionRequest{Seq: seq})
	}
	rig.feed(3, 1, &common.MessageMissionAck{Type: common.MAV_MISSION_ACCEPTED})
	rig.feed(3, 1, &common.MessageMissionCount{Count: 2})

	s := rig.session(3, 1)
	if s.state != StateFailed || s.reason != reasonMismatch {
		t.Errorf("state = %v reason = %q, want FAILED/mismatch", s.state, s.reason)
	}
	if len(s.diff) == 0 {
		t.Error("count mismatch must produce a diff entry")
	}
}

func TestMissionDownload_HappyPath(t *testing.T) {
	rig := newMissionRig(t, 3)

	if err := rig.startDownload(t, 5, 1); err != nil {
		t.Fatal(err)
	}

	if _, ok := rig.sender.last().(*common.MessageMissionRequestList); !ok {
		t.Fatalf("download should open with MISSION_REQUEST_LIST, got %T", rig.sender.last())
	}

	rig.feed(5, 1, &common.MessageMissionCount{Count: 2})

	vehicle := uploadItems(t)[:2]
	for i, wp := range vehicle {
		req, ok := rig.sender.last().(*common.MessageMissionRequestInt)
		if !ok || int(req.Seq) != i {
			t.Fatalf("request %d: outbound = %T %+v", i, rig.sender.last(), rig.sender.last())
		}
		item := waypointToItem(250, 0, wp, i == 0)
		item.Seq = uint16(i)
		rig.feed(5, 1, item)
	}

	s := rig.session(5, 1)
	if s.state != StateDone {
		t.Fatalf("state = %v, want DONE", s.state)
	}
	if len(s.items) != 2 {
		t.Errorf("downloaded items = %d, want 2", len(s.items))
	}
	if s.hash == "" {
		t.Error("downloaded mission should carry a content hash")
	}

	if len(rig.reports) != 1 || len(rig.reports[0].Items) != 2 {
		t.Errorf("report = %+v", rig.reports)
	}
}

func TestMissionDownload_StatusReportsReceiving(t *testing.T) {
	rig := newMissionRig(t, 3)

	if err := rig.startDownload(t, 5, 1); err != nil {
		t.Fatal(err)
	}
	rig.feed(5, 1, &common.MessageMissionCount{Count: 2})

	status := rig.m.status()
	if len(status) != 1 {
		t.Fatalf("status entries = %d, want 1", len(status))
	}
	if status[0].State != "RECEIVING" || status[0].Direction != ActionDownload {
		t.Errorf("status = %+v, want RECEIVING download", status[0])
	}

	// Upload item streaming keeps its own name.
	if err := rig.startUpload(t, 6, 1, uploadItems(t)); err != nil {
		t.Fatal(err)
	}
	rig.feed(6, 1, &common.MessageMissionRequest{Seq: 0})
	if s := rig.session(6, 1); s.stateName() != "UPLOADING" {
		t.Errorf("upload state name = %q, want UPLOADING", s.stateName())
	}
}

func TestMissionDownload_EmptyMission(t *testing.T) {
	rig := newMissionRig(t, 3)

	if err := rig.startDownload(t, 5, 1); err != nil {
		t.Fatal(err)
	}
	rig.feed(5, 1, &common.MessageMissionCount{Count: 0})

	if s := rig.session(5, 1); s.state != StateDone {
		t.Errorf("state = %v, want DONE for empty mission", s.state)
	}
}

func TestMissionAck_DuplicateIgnoredWhenTerminal(t *testing.T) {
	rig := newMissionRig(t, 3)

	if err := rig.startUpload(t, 3, 1, uploadItems(t)); err != nil {
		t.Fatal(err)
	}
	rig.feed(3, 1, &common.MessageMissionAck{Type: common.MAV_MISSION_ERROR})

	if len(rig.reports) != 1 {
		t.Fatalf("reports = %d, want 1", len(rig.reports))
	}

	// Duplicate ack after the terminal state changes nothing.
	rig.feed(3, 1, &common.MessageMissionAck{Type: common.MAV_MISSION_ERROR})
	rig.feed(3, 1, &common.MessageMissionAck{Type: common.MAV_MISSION_ACCEPTED})

	if len(rig.reports) != 1 {
		t.Errorf("reports after duplicates = %d, want 1", len(rig.reports))
	}
	if s := rig.session(3, 1); s.state != StateFailed {
		t.Errorf("state = %v, want FAILED preserved", s.state)
	}
}

func TestMission_TerminalSessionReplaced(t *testing.T) {
	rig := newMissionRig(t, 3)
	wps := uploadItems(t)

	if err := rig.startUpload(t, 3, 1, wps); err != nil {
		t.Fatal(err)
	}
	rig.feed(3, 1, &common.MessageMissionAck{Type: common.MAV_MISSION_ERROR})

	// Terminal state persists until explicitly replaced by a new request.
	if s := rig.session(3, 1); !s.state.terminal() {
		t.Fatalf("state = %v, want terminal", s.state)
	}

	if err := rig.startUpload(t, 3, 1, wps); err != nil {
		t.Errorf("start after terminal session = %v, want nil", err)
	}
	if s := rig.session(3, 1); s.state != StateRequesting {
		t.Errorf("replacement session state = %v, want REQUESTING", s.state)
	}
}

func TestMissionStatus(t *testing.T) {
	rig := newMissionRig(t, 3)

	if err := rig.startUpload(t, 3, 1, uploadItems(t)); err != nil {
		t.Fatal(err)
	}

	status := rig.m.status()
	if len(status) != 1 {
		t.Fatalf("status entries = %d, want 1", len(status))
	}
	if status[0].SystemID != 3 || status[0].State != "REQUESTING" || status[0].ItemCount != 3 {
		t.Errorf("status = %+v", status[0])
	}
}
