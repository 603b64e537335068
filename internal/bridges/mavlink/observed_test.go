package mavlink

import (
	"testing"
	"time"
)

func TestObservedTable(t *testing.T) {
	tbl := newObservedTable()
	now := time.Now()

	if !tbl.observe(1, 1, "udp0", now) {
		t.Error("first observation should report a new vehicle")
	}
	if tbl.observe(1, 1, "udp0", now.Add(time.Second)) {
		t.Error("second observation should not report a new vehicle")
	}

	transport, ok := tbl.lookup(1)
	if !ok || transport != "udp0" {
		t.Errorf("lookup(1) = %q/%v, want udp0/true", transport, ok)
	}

	if _, ok := tbl.lookup(2); ok {
		t.Error("lookup of unseen sysid should fail")
	}
}

func TestObservedTable_TransportMigration(t *testing.T) {
	tbl := newObservedTable()
	now := time.Now()

	tbl.observe(1, 1, "udp0", now)
	tbl.observe(1, 1, "serial0", now.Add(time.Second))

	transport, _ := tbl.lookup(1)
	if transport != "serial0" {
		t.Errorf("after migration lookup = %q, want serial0", transport)
	}
}

func TestObservedTable_Snapshot(t *testing.T) {
	tbl := newObservedTable()
	now := time.Now()

	tbl.observe(3, 1, "udp0", now)
	tbl.observe(1, 1, "udp0", now)
	tbl.observe(1, 1, "udp0", now)

	snap := tbl.snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot length = %d, want 2", len(snap))
	}
	// Ordered by sysid.
	if snap[0].SystemID != 1 || snap[1].SystemID != 3 {
		t.Errorf("snapshot order = %d, %d", snap[0].SystemID, snap[1].SystemID)
	}
	if snap[0].Frames != 2 {
		t.Errorf("frames = %d, want 2", snap[0].Frames)
	}
}
