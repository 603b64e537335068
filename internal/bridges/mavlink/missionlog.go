package mavlink

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mavgate/mavgate/internal/infrastructure/database"
)

// missionLogSchema is the single table the bridge persists. Append-only:
// one row per terminal mission session.
const missionLogSchema = `
CREATE TABLE IF NOT EXISTS mission_transfers (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    sysid       INTEGER NOT NULL,
    compid      INTEGER NOT NULL,
    direction   TEXT    NOT NULL,
    state       TEXT    NOT NULL,
    item_count  INTEGER NOT NULL,
    hash        TEXT    NOT NULL DEFAULT '',
    reason      TEXT    NOT NULL DEFAULT '',
    diff        TEXT    NOT NULL DEFAULT '',
    started_at  TEXT    NOT NULL,
    finished_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mission_transfers_sysid
    ON mission_transfers(sysid, finished_at);
`

// MissionLog records terminal mission sessions in SQLite so transfer
// history survives bridge restarts.
type MissionLog struct {
	db *database.DB
}

// NewMissionLog creates the log and ensures its schema exists.
//
// Parameters:
//   - db: Open database connection
//
// Returns:
//   - *MissionLog: Ready log
//   - error: If schema creation fails
func NewMissionLog(db *database.DB) (*MissionLog, error) {
	if _, err := db.ExecContext(context.Background(), missionLogSchema); err != nil {
		return nil, fmt.Errorf("creating mission log schema: %w", err)
	}
	return &MissionLog{db: db}, nil
}

// Record appends one terminal session report.
func (l *MissionLog) Record(ctx context.Context, report MissionReport) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO mission_transfers
		    (sysid, compid, direction, state, item_count, hash, reason, diff, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.SystemID,
		report.ComponentID,
		report.Direction,
		report.State,
		report.ItemCount,
		report.Hash,
		report.Reason,
		strings.Join(report.Diff, "\n"),
		report.StartedAt.UTC().Format(time.RFC3339Nano),
		report.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("recording mission transfer: %w", err)
	}
	return nil
}

// Recent returns the newest transfer records, most recent first.
func (l *MissionLog) Recent(ctx context.Context, limit int) ([]MissionReport, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT sysid, compid, direction, state, item_count, hash, reason, diff, started_at, finished_at
		FROM mission_transfers
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying mission transfers: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	var out []MissionReport
	for rows.Next() {
		var (
			r                    MissionReport
			diff                 string
			startedAt, finishedAt string
		)
		if err := rows.Scan(&r.SystemID, &r.ComponentID, &r.Direction, &r.State,
			&r.ItemCount, &r.Hash, &r.Reason, &diff, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scanning mission transfer: %w", err)
		}
		if diff != "" {
			r.Diff = strings.Split(diff, "\n")
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mission transfers: %w", err)
	}

	return out, nil
}
