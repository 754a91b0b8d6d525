package storage

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestTouchInsertsAndUpdates(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.Touch("/runs/a", 0, "running"))

	info, err := r.Get("/runs/a")
	require.NoError(t, err)
	assert.Equal(t, 0, info.RunIndex)
	assert.Equal(t, "running", info.Status)

	require.NoError(t, r.Touch("/runs/a", 1, "completed"))

	info, err = r.Get("/runs/a")
	require.NoError(t, err)
	assert.Equal(t, 1, info.RunIndex)
	assert.Equal(t, "completed", info.Status)
}

func TestGetUnknownDir(t *testing.T) {
	r := testRegistry(t)

	_, err := r.Get("/runs/unknown")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestList(t *testing.T) {
	r := testRegistry(t)

	require.NoError(t, r.Touch("/runs/a", 0, "running"))
	require.NoError(t, r.Touch("/runs/b", 2, "failed"))

	infos, err := r.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)

	dirs := []string{infos[0].Dir, infos[1].Dir}
	assert.Contains(t, dirs, "/runs/a")
	assert.Contains(t, dirs, "/runs/b")
}

func TestCheckpoints(t *testing.T) {
	r := testRegistry(t)
	require.NoError(t, r.Touch("/runs/a", 0, "running"))

	require.NoError(t, r.RecordCheckpoint("/runs/a", 0, 10, 100, 0.52))
	require.NoError(t, r.RecordCheckpoint("/runs/a", 0, 20, 100, 0.41))

	cps, err := r.CheckpointsFor("/runs/a")
	require.NoError(t, err)
	require.Len(t, cps, 2)
	assert.Equal(t, 10, cps[0].Batch)
	assert.Equal(t, 20, cps[1].Batch)
	assert.Equal(t, 100, cps[1].TotalBatches)
	assert.InDelta(t, 0.41, cps[1].Loss, 1e-9)

	latest, err := r.LatestCheckpoint("/runs/a")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 20, latest.Batch)
}

func TestLatestCheckpointEmpty(t *testing.T) {
	r := testRegistry(t)

	latest, err := r.LatestCheckpoint("/runs/none")
	require.NoError(t, err)
	assert.Nil(t, latest)
}
