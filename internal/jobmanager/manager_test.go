package jobmanager

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"videovoice/internal/apperr"
	"videovoice/internal/models"
)

type scriptedPipeline struct {
	run func(ctx context.Context, job *models.Job) error
}

func (p scriptedPipeline) Run(ctx context.Context, job *models.Job) error {
	if p.run == nil {
		return nil
	}
	return p.run(ctx, job)
}

func newTestManager(t *testing.T, pipeline Pipeline) (*Manager, *Registry) {
	t.Helper()
	registry := NewRegistry(filepath.Join(t.TempDir(), "jobs.json"), 100)
	return New(registry, pipeline, 2, time.Hour), registry
}

func waitForTerminal(t *testing.T, registry *Registry, id string) *models.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, ok := registry.Get(id)
		if ok && job.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", id)
	return nil
}

func TestManager_SuccessfulRunCompletesJob(t *testing.T) {
	m, registry := newTestManager(t, scriptedPipeline{})
	m.Start()
	defer m.Stop()

	job := models.NewJob("input.mp4", models.Settings{Mode: models.ModeDub})
	require.NoError(t, m.Submit(job))

	got := waitForTerminal(t, registry, job.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
}

func TestManager_PipelineErrorFailsJobWithTruncatedMessage(t *testing.T) {
	longMsg := make([]byte, 2000)
	for i := range longMsg {
		longMsg[i] = 'x'
	}
	m, registry := newTestManager(t, scriptedPipeline{run: func(context.Context, *models.Job) error {
		return fmt.Errorf("%s", longMsg)
	}})
	m.Start()
	defer m.Stop()

	job := models.NewJob("input.mp4", models.Settings{})
	require.NoError(t, m.Submit(job))

	got := waitForTerminal(t, registry, job.ID)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Len(t, got.ErrorMessage, maxErrorLen)
}

func TestManager_CancellationErrorYieldsCancelledStatus(t *testing.T) {
	m, registry := newTestManager(t, scriptedPipeline{run: func(context.Context, *models.Job) error {
		return apperr.New(apperr.KindCancellation, "cancelled by user")
	}})
	m.Start()
	defer m.Stop()

	job := models.NewJob("input.mp4", models.Settings{})
	require.NoError(t, m.Submit(job))

	got := waitForTerminal(t, registry, job.ID)
	assert.Equal(t, models.StatusCancelled, got.Status)
	assert.Empty(t, got.ErrorMessage, "cancellation is never reported as failure")
}

func TestManager_CancelBeforeDispatchNeverRuns(t *testing.T) {
	ran := make(chan struct{}, 1)
	m, registry := newTestManager(t, scriptedPipeline{run: func(context.Context, *models.Job) error {
		ran <- struct{}{}
		return nil
	}})

	job := models.NewJob("input.mp4", models.Settings{})
	require.NoError(t, m.Submit(job))
	require.NoError(t, m.Cancel(job.ID))

	m.Start()
	defer m.Stop()

	got := waitForTerminal(t, registry, job.ID)
	assert.Equal(t, models.StatusCancelled, got.Status)
	select {
	case <-ran:
		t.Fatal("cancelled job must not reach the pipeline")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManager_CancelTerminalJobRejected(t *testing.T) {
	m, registry := newTestManager(t, scriptedPipeline{})
	job := models.NewJob("input.mp4", models.Settings{})
	job.Status = models.StatusCompleted
	require.NoError(t, registry.Put(job))

	assert.Error(t, m.Cancel(job.ID))
}

func TestManager_RestartRecoveryFailsInterruptedJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.json")
	r1 := NewRegistry(path, 100)
	running := models.NewJob("a.mp4", models.Settings{})
	running.Status = models.StatusRunning
	done := models.NewJob("b.mp4", models.Settings{})
	done.Status = models.StatusCompleted
	require.NoError(t, r1.Put(running))
	require.NoError(t, r1.Put(done))

	r2 := NewRegistry(path, 100)
	require.NoError(t, r2.Load())
	m := New(r2, scriptedPipeline{}, 1, time.Hour)
	m.Start()
	defer m.Stop()

	got, ok := r2.Get(running.ID)
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "server restart interrupted")
	require.NotEmpty(t, got.Logs)
	assert.Contains(t, got.Logs[len(got.Logs)-1].Message, "server restart interrupted")

	unchanged, _ := r2.Get(done.ID)
	assert.Equal(t, models.StatusCompleted, unchanged.Status)
}

func TestManager_StatusMachineNeverLeavesTerminal(t *testing.T) {
	// drive many jobs through random cancel timing; terminal states must
	// only be completed or cancelled, never flip back
	m, registry := newTestManager(t, scriptedPipeline{run: func(ctx context.Context, job *models.Job) error {
		time.Sleep(time.Millisecond)
		return nil
	}})
	m.Start()
	defer m.Stop()

	var ids []string
	for i := 0; i < 20; i++ {
		job := models.NewJob(fmt.Sprintf("in%d.mp4", i), models.Settings{})
		require.NoError(t, m.Submit(job))
		ids = append(ids, job.ID)
		if i%3 == 0 {
			_ = m.Cancel(job.ID)
		}
	}

	for _, id := range ids {
		got := waitForTerminal(t, registry, id)
		assert.Contains(t, []models.Status{models.StatusCompleted, models.StatusCancelled}, got.Status)
	}
}
