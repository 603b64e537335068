package mavlink

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/mavgate/mavgate/internal/infrastructure/database"
)

func testMissionLog(t *testing.T) *MissionLog {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "mavgate.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	log, err := NewMissionLog(db)
	if err != nil {
		t.Fatalf("creating mission log: %v", err)
	}
	return log
}

func TestMissionLog_RecordAndRecent(t *testing.T) {
	log := testMissionLog(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	report := MissionReport{
		SystemID:    3,
		ComponentID: 1,
		Direction:   ActionUpload,
		State:       "DONE",
		ItemCount:   3,
		Hash:        "abc123",
		StartedAt:   started,
		FinishedAt:  started.Add(2 * time.Second),
	}
	if err := log.Record(ctx, report); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := log.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}

	r := got[0]
	if r.SystemID != 3 || r.Direction != ActionUpload || r.State != "DONE" {
		t.Errorf("record = %+v", r)
	}
	if r.ItemCount != 3 || r.Hash != "abc123" {
		t.Errorf("record detail = %+v", r)
	}
	if !r.StartedAt.Equal(started) {
		t.Errorf("started_at = %v, want %v", r.StartedAt, started)
	}
	if len(r.Diff) != 0 {
		t.Errorf("diff = %v, want empty", r.Diff)
	}
}

func TestMissionLog_DiffRoundTrip(t *testing.T) {
	log := testMissionLog(t)
	ctx := context.Background()

	report := MissionReport{
		SystemID:  3,
		Direction: ActionUpload,
		State:     "FAILED",
		Reason:    reasonMismatch,
		Diff: []string{
			"count mismatch: sent 3, vehicle reports 2",
			"item 1: sent (51.5080000, -0.1290000, 60.0) got (51.5080100, -0.1290000, 60.0)",
		},
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	if err := log.Record(ctx, report); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := log.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("records = %d, want 1", len(got))
	}
	if len(got[0].Diff) != 2 || got[0].Diff[0] != report.Diff[0] {
		t.Errorf("diff = %v", got[0].Diff)
	}
	if got[0].Reason != reasonMismatch {
		t.Errorf("reason = %q", got[0].Reason)
	}
}

func TestMissionLog_RecentOrderAndLimit(t *testing.T) {
	log := testMissionLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		report := MissionReport{
			SystemID:   uint8(i + 1),
			Direction:  ActionDownload,
			State:      "DONE",
			StartedAt:  time.Now(),
			FinishedAt: time.Now(),
		}
		if err := log.Record(ctx, report); err != nil {
			t.Fatalf("Record %d failed: %v", i, err)
		}
	}

	got, err := log.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("records = %d, want 3", len(got))
	}
	// Most recent first.
	if got[0].SystemID != 5 || got[2].SystemID != 3 {
		t.Errorf("order = %d, %d, %d", got[0].SystemID, got[1].SystemID, got[2].SystemID)
	}
}
