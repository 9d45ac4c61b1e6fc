package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/GriffinCanCode/good-listener/backend/sod/internal/errors"
)

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "onsets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func record(device string, frame int64, at time.Time) Onset {
	return Onset{
		Device:      device,
		Source:      "user",
		Frame:       frame,
		StartFrame:  frame - 4,
		LevelDB:     -20.5,
		FloorDB:     -70,
		Sensitivity: 16384,
		OnsetGapMS:  400,
		DetectedAt:  at,
	}
}

func TestInsertAndList(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	n, err := db.InsertOnsets(ctx, []Onset{
		record("mic", 104, base),
		record("mic", 300, base.Add(3*time.Second)),
		record("loopback", 50, base.Add(time.Second)),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	count, err := db.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	all, err := db.ListOnsets(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, int64(300), all[0].Frame, "newest first")
	assert.Equal(t, "loopback", all[1].Device)
	assert.Equal(t, base, all[2].DetectedAt)
	assert.Equal(t, int64(100), all[2].StartFrame)
	assert.InDelta(t, -20.5, all[2].LevelDB, 1e-9)
	assert.NotZero(t, all[2].ID)

	mic, err := db.ListOnsets(ctx, "mic", 1)
	require.NoError(t, err)
	require.Len(t, mic, 1)
	assert.Equal(t, int64(300), mic[0].Frame)
}

func TestInsertEmpty(t *testing.T) {
	db := setupTestDB(t)
	n, err := db.InsertOnsets(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListUnknownDevice(t *testing.T) {
	db := setupTestDB(t)
	got, err := db.ListOnsets(context.Background(), "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "onsets.db")
	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.InsertOnsets(context.Background(), []Onset{record("mic", 10, time.Now())})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, path, db.Path())

	count, err := db.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestMemoryDatabase(t *testing.T) {
	db, err := Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping(context.Background()))
	_, err = db.InsertOnsets(context.Background(), []Onset{record("mic", 10, time.Now())})
	require.NoError(t, err)
	count, err := db.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestCancelledContext(t *testing.T) {
	db := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := db.InsertOnsets(ctx, []Onset{record("mic", 10, time.Now())})
	require.Error(t, err)
	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
}

func TestClosedDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "onsets.db"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Count(context.Background())
	assert.True(t, apperrors.IsCode(err, apperrors.CodeStorageFailed))
}
