package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/odometry.report/internal/lidar/odometry"
)

// Run identifies one odometry session (a live capture or a replay).
type Run struct {
	RunID    string
	Label    string
	Source   string
	Started  time.Time
	Finished *time.Time
}

// StoredPose is one persisted per-scan pose.
type StoredPose struct {
	RunID      string
	ScanIndex  int64
	ScanTime   time.Time
	Pose       odometry.Pose
}

// TraceStore persists odometry runs and their per-scan poses.
type TraceStore struct {
	db *DB
}

// NewTraceStore creates a TraceStore backed by the given database.
func NewTraceStore(db *DB) *TraceStore {
	return &TraceStore{db: db}
}

// CreateRun inserts a new run and returns its generated id.
func (s *TraceStore) CreateRun(label, source string, started time.Time) (string, error) {
	runID := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO odom_runs (run_id, label, source, started_unix_nanos) VALUES (?, ?, ?, ?)`,
		runID, label, source, started.UnixNano())
	if err != nil {
		return "", fmt.Errorf("create run: %w", err)
	}
	return runID, nil
}

// FinishRun stamps the run's end time.
func (s *TraceStore) FinishRun(runID string, finished time.Time) error {
	res, err := s.db.Exec(
		`UPDATE odom_runs SET finished_unix_nanos = ? WHERE run_id = ?`,
		finished.UnixNano(), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("finish run %s: no such run", runID)
	}
	return err
}

// RecordPose appends one scan's pose to a run.
func (s *TraceStore) RecordPose(runID string, scanIndex int64, pose odometry.Pose) error {
	_, err := s.db.Exec(
		`INSERT INTO odom_poses
			(run_id, scan_index, scan_unix_nanos, x, y, z, qx, qy, qz, qw, rx, ry, rz, degenerate)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, scanIndex, pose.Time.UnixNano(),
		pose.Position.X, pose.Position.Y, pose.Position.Z,
		pose.Orientation.X, pose.Orientation.Y, pose.Orientation.Z, pose.Orientation.W,
		pose.Transform[0], pose.Transform[1], pose.Transform[2],
		boolToInt(pose.Degenerate))
	if err != nil {
		return fmt.Errorf("record pose %d for run %s: %w", scanIndex, runID, err)
	}
	return nil
}

// PosesForRun returns all poses of a run in scan order.
func (s *TraceStore) PosesForRun(runID string) ([]StoredPose, error) {
	rows, err := s.db.Query(
		`SELECT run_id, scan_index, scan_unix_nanos, x, y, z, qx, qy, qz, qw, rx, ry, rz, degenerate
		   FROM odom_poses WHERE run_id = ? ORDER BY scan_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query poses for run %s: %w", runID, err)
	}
	defer rows.Close()

	var poses []StoredPose
	for rows.Next() {
		p, err := scanPose(rows)
		if err != nil {
			return nil, err
		}
		poses = append(poses, p)
	}
	return poses, rows.Err()
}

// LatestPose returns the most recent pose of a run, or sql.ErrNoRows when
// the run has none.
func (s *TraceStore) LatestPose(runID string) (StoredPose, error) {
	row := s.db.QueryRow(
		`SELECT run_id, scan_index, scan_unix_nanos, x, y, z, qx, qy, qz, qw, rx, ry, rz, degenerate
		   FROM odom_poses WHERE run_id = ? ORDER BY scan_index DESC LIMIT 1`, runID)
	return scanPose(row)
}

// Runs lists all runs, newest first.
func (s *TraceStore) Runs() ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT run_id, label, source, started_unix_nanos, finished_unix_nanos
		   FROM odom_runs ORDER BY started_unix_nanos DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&r.RunID, &r.Label, &r.Source, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		r.Started = time.Unix(0, started)
		if finished.Valid {
			t := time.Unix(0, finished.Int64)
			r.Finished = &t
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPose(row rowScanner) (StoredPose, error) {
	var p StoredPose
	var nanos int64
	var degenerate int
	err := row.Scan(&p.RunID, &p.ScanIndex, &nanos,
		&p.Pose.Position.X, &p.Pose.Position.Y, &p.Pose.Position.Z,
		&p.Pose.Orientation.X, &p.Pose.Orientation.Y, &p.Pose.Orientation.Z, &p.Pose.Orientation.W,
		&p.Pose.Transform[0], &p.Pose.Transform[1], &p.Pose.Transform[2],
		&degenerate)
	if err != nil {
		return StoredPose{}, err
	}
	p.ScanTime = time.Unix(0, nanos)
	p.Pose.Time = p.ScanTime
	p.Pose.Degenerate = degenerate != 0
	return p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
