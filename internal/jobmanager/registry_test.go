package jobmanager

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videovoice/internal/models"
)

func TestRegistry_PutGetPersistsAcrossLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")

	r1 := NewRegistry(path, 100)
	job := models.NewJob("input.mp4", models.Settings{Mode: models.ModeDub})
	require.NoError(t, r1.Put(job))

	r2 := NewRegistry(path, 100)
	require.NoError(t, r2.Load())

	got, ok := r2.Get(job.ID)
	require.True(t, ok)
	assert.Equal(t, job.InputPath, got.InputPath)
}

func TestRegistry_LoadMissingFileIsNotError(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "missing.json"), 100)
	assert.NoError(t, r.Load())
	assert.Empty(t, r.All())
}

func TestRegistry_AppendLogDropsOldestOnOverflow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	r := NewRegistry(path, 10)
	job := models.NewJob("input.mp4", models.Settings{})
	require.NoError(t, r.Put(job))

	for i := 0; i < 15; i++ {
		require.NoError(t, r.AppendLog(job.ID, "info", "message"))
	}

	got, ok := r.Get(job.ID)
	require.True(t, ok)
	assert.LessOrEqual(t, len(got.Logs), 10)
}

func TestRegistry_DeleteRemovesJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	r := NewRegistry(path, 100)
	job := models.NewJob("input.mp4", models.Settings{})
	require.NoError(t, r.Put(job))
	require.NoError(t, r.Delete(job.ID))

	_, ok := r.Get(job.ID)
	assert.False(t, ok)
}
