package jobmanager

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/semaphore"

	"videovoice/internal/apperr"
	"videovoice/internal/models"
	"videovoice/pkg/logger"
)

// maxErrorLen bounds the terminal error description stored on a job.
const maxErrorLen = 1000

func truncateError(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}

// Pipeline is the interface jobmanager dispatches queued jobs to. Kept
// narrow so internal/pipeline has no dependency back on jobmanager.
type Pipeline interface {
	Run(ctx context.Context, job *models.Job) error
}

// Manager owns the registry, the cancellation set, and a semaphore-bounded
// worker dispatch loop, generalizing the teacher's TaskQueue from a
// GORM-table-polling design to one driven by the in-memory registry plus
// an explicit capacity policy (expire, then evict oldest terminal job).
type Manager struct {
	registry      *Registry
	cancelSet     *models.CancellationSet
	pipeline      Pipeline
	sem           *semaphore.Weighted
	maxConcurrent int
	expiration    time.Duration
	jobChan       chan string
	ctx           context.Context
	cancel        context.CancelFunc
}

func New(registry *Registry, pipeline Pipeline, maxConcurrent int, expiration time.Duration) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:      registry,
		cancelSet:     models.NewCancellationSet(),
		pipeline:      pipeline,
		sem:           semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent: maxConcurrent,
		expiration:    expiration,
		jobChan:       make(chan string, 256),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start recovers interrupted jobs from a prior run, then begins the
// dispatch loop.
func (m *Manager) Start() {
	m.recoverInterruptedJobs()
	go m.dispatchLoop()
}

// Stop cancels the dispatch loop and the context handed to in-flight
// pipeline runs. It does not wait for those runs to return.
func (m *Manager) Stop() {
	m.cancel()
}

// recoverInterruptedJobs marks every non-terminal job left over from a
// prior process as failed, per spec.md's restart-recovery requirement,
// mirroring KillJob's "forcefully terminated" error message convention.
func (m *Manager) recoverInterruptedJobs() {
	for _, job := range m.registry.All() {
		if job.Terminal() {
			continue
		}
		err := m.registry.Update(job.ID, func(j *models.Job) {
			j.Status = models.StatusFailed
			j.ErrorMessage = "server restart interrupted job"
			j.AppendLog("error", "server restart interrupted job before it finished")
		})
		if err != nil {
			logger.Error("Failed to persist restart-recovered job", "job_id", job.ID, "error", err.Error())
		}
	}
}

// Submit enqueues a job for processing, first running the capacity
// policy (expiry, then eviction of the oldest terminal jobs over the soft
// cap) so the registry is trimmed on every job creation.
func (m *Manager) Submit(job *models.Job) error {
	m.applyCapacityPolicy()
	if err := m.registry.Put(job); err != nil {
		return fmt.Errorf("persisting new job: %w", err)
	}
	select {
	case m.jobChan <- job.ID:
		return nil
	default:
		return fmt.Errorf("job queue is full")
	}
}

// Cancel marks a job cancelled in the shared cancellation set; the
// pipeline observes this at its next stage-boundary poll.
func (m *Manager) Cancel(jobID string) error {
	job, ok := m.registry.Get(jobID)
	if !ok {
		return fmt.Errorf("job %s not found", jobID)
	}
	if job.Terminal() {
		return fmt.Errorf("job %s already finished", jobID)
	}
	m.cancelSet.Mark(jobID)
	return m.registry.Update(jobID, func(j *models.Job) {
		if j.Terminal() {
			return
		}
		j.Status = models.StatusCancelled
		j.AppendLog("info", "cancellation requested by user")
	})
}

// CancellationSet exposes the shared set so internal/pipeline can poll it
// without importing jobmanager's heavier Manager type.
func (m *Manager) CancellationSet() *models.CancellationSet {
	return m.cancelSet
}

func (m *Manager) dispatchLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		case jobID := <-m.jobChan:
			if err := m.sem.Acquire(m.ctx, 1); err != nil {
				return
			}
			go m.runJob(jobID)
		}
	}
}

func (m *Manager) runJob(jobID string) {
	defer m.sem.Release(1)

	// Get hands back a deep-copied snapshot; the pipeline goroutine owns
	// it exclusively for the duration of the run and publishes state
	// through the registry's locked methods.
	job, ok := m.registry.Get(jobID)
	if !ok {
		logger.Error("Dispatched job not found in registry", "job_id", jobID)
		return
	}

	// finish records the terminal transition unless a concurrent cancel
	// already closed the job out.
	finish := func(status models.Status, errMsg string) {
		_ = m.registry.Update(jobID, func(j *models.Job) {
			if j.Terminal() {
				return
			}
			j.Status = status
			if errMsg != "" {
				j.ErrorMessage = errMsg
			}
			if status == models.StatusCompleted {
				j.Progress = 100
			}
		})
	}

	if m.cancelSet.IsCancelled(jobID) {
		finish(models.StatusCancelled, "")
		m.cancelSet.Clear(jobID)
		return
	}

	job.Status = models.StatusRunning
	_ = m.registry.Update(jobID, func(j *models.Job) {
		if j.Terminal() {
			return
		}
		j.Status = models.StatusRunning
	})

	start := time.Now()
	err := m.pipeline.Run(m.ctx, job)
	duration := time.Since(start)

	if err != nil {
		if apperr.Is(err, apperr.KindCancellation) || m.cancelSet.IsCancelled(jobID) {
			finish(models.StatusCancelled, "")
			_ = m.registry.AppendLog(jobID, "info", "cancelled by user")
		} else {
			finish(models.StatusFailed, truncateError(err.Error()))
		}
		logger.StageFailed(jobID, "pipeline", duration, err)
	} else if m.cancelSet.IsCancelled(jobID) {
		// cancel arrived after the final stage boundary; the run finished
		// but the user's request still wins
		finish(models.StatusCancelled, "")
	} else {
		finish(models.StatusCompleted, "")
		logger.StageCompleted(jobID, "pipeline", duration)
	}
	m.cancelSet.Clear(jobID)

	m.applyCapacityPolicy()
}

// applyCapacityPolicy expires jobs older than m.expiration, then, if the
// registry still holds more than softCap jobs, evicts the oldest terminal
// jobs (as many as needed to get back to softCap, or until none are left)
// to bound growth of the JSON file.
func (m *Manager) applyCapacityPolicy() {
	const softCap = 500

	all := m.registry.All()
	for _, j := range all {
		if j.Terminal() && time.Since(j.UpdatedAt) > m.expiration {
			_ = m.registry.Delete(j.ID)
		}
	}

	all = m.registry.All()
	if len(all) <= softCap {
		return
	}

	terminal := make([]*models.Job, 0, len(all))
	for _, j := range all {
		if j.Terminal() {
			terminal = append(terminal, j)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].UpdatedAt.Before(terminal[j].UpdatedAt)
	})
	for i := 0; i < len(all)-softCap && i < len(terminal); i++ {
		_ = m.registry.Delete(terminal[i].ID)
	}
}
