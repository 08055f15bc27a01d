package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/odometry.report/internal/lidar"
	"github.com/banshee-data/odometry.report/internal/lidar/odometry"
)

// migrationsDir points at the repository-root migrations from this package.
const migrationsDir = "../../../../migrations"

func testStore(t *testing.T) *TraceStore {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, db.MigrateUp(migrationsDir))
	return NewTraceStore(db)
}

func testPose(seq int) odometry.Pose {
	return odometry.Pose{
		Time:        time.Unix(1700000000+int64(seq), 0),
		Position:    lidar.Vec3{X: float64(seq), Y: 0.5, Z: -float64(seq) * 2},
		Orientation: lidar.Quaternion{W: 1},
		Transform:   [6]float64{0.01 * float64(seq), 0, 0, float64(seq), 0.5, -2 * float64(seq)},
		Degenerate:  seq%3 == 0,
	}
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.MigrateUp(migrationsDir))
	require.NoError(t, db.MigrateUp(migrationsDir))

	version, dirty, err := db.MigrateVersion(migrationsDir)
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)
}

func TestCreateRunAndRecordPoses(t *testing.T) {
	store := testStore(t)

	runID, err := store.CreateRun("test drive", "pcap:fixture", time.Unix(1700000000, 0))
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.RecordPose(runID, int64(i), testPose(i)))
	}

	poses, err := store.PosesForRun(runID)
	require.NoError(t, err)
	require.Len(t, poses, 5)

	for i, p := range poses {
		assert.Equal(t, int64(i), p.ScanIndex)
		assert.Equal(t, runID, p.RunID)
		assert.InDelta(t, float64(i), p.Pose.Position.X, 1e-12)
		assert.Equal(t, i%3 == 0, p.Pose.Degenerate)
	}
}

func TestLatestPose(t *testing.T) {
	store := testStore(t)

	runID, err := store.CreateRun("", "", time.Now())
	require.NoError(t, err)

	_, err = store.LatestPose(runID)
	assert.ErrorIs(t, err, sql.ErrNoRows)

	for i := 0; i < 3; i++ {
		require.NoError(t, store.RecordPose(runID, int64(i), testPose(i)))
	}

	last, err := store.LatestPose(runID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), last.ScanIndex)
	assert.InDelta(t, -4.0, last.Pose.Position.Z, 1e-12)
}

func TestDuplicateScanIndexRejected(t *testing.T) {
	store := testStore(t)

	runID, err := store.CreateRun("", "", time.Now())
	require.NoError(t, err)

	require.NoError(t, store.RecordPose(runID, 0, testPose(0)))
	assert.Error(t, store.RecordPose(runID, 0, testPose(1)))
}

func TestFinishRun(t *testing.T) {
	store := testStore(t)

	started := time.Unix(1700000000, 0)
	runID, err := store.CreateRun("label", "udp::2368", started)
	require.NoError(t, err)

	finished := started.Add(time.Minute)
	require.NoError(t, store.FinishRun(runID, finished))

	runs, err := store.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)

	assert.Equal(t, runID, runs[0].RunID)
	assert.Equal(t, "label", runs[0].Label)
	require.NotNil(t, runs[0].Finished)
	assert.Equal(t, finished.UnixNano(), runs[0].Finished.UnixNano())
}

func TestFinishUnknownRun(t *testing.T) {
	store := testStore(t)
	assert.Error(t, store.FinishRun("no-such-run", time.Now()))
}

func TestRunsOrderedNewestFirst(t *testing.T) {
	store := testStore(t)

	older, err := store.CreateRun("older", "", time.Unix(1700000000, 0))
	require.NoError(t, err)
	newer, err := store.CreateRun("newer", "", time.Unix(1700001000, 0))
	require.NoError(t, err)

	runs, err := store.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, newer, runs[0].RunID)
	assert.Equal(t, older, runs[1].RunID)
}
