// Package jobmanager owns the job registry's single JSON file and the
// worker pool that drains queued jobs into the pipeline. Grounded on the
// teacher's queue.TaskQueue (worker pool shape, mutex discipline,
// RunningJob cancel-context pattern, KillJob) re-targeted from a
// GORM-backed table to the single-file JSON registry this system
// requires.
package jobmanager

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"videovoice/internal/models"
)

const maxLogsDropFraction = 0.1 // drop the oldest 10% of logs on overflow

// persistedLogTail is how many trailing log entries survive into the
// registry file; the full in-memory buffer stays bounded separately by
// maxLogsPerJob.
const persistedLogTail = 20

// Registry persists Jobs to a single JSON file, written atomically via
// temp-file-then-rename.
//
// The registry is the one lock in the system: it hands out deep-copied
// snapshots to readers and applies every mutation to its own stored
// copies under the lock, so the pipeline, the control plane, and the
// persistence path never touch a live map concurrently.
type Registry struct {
	mu            sync.RWMutex
	path          string
	jobs          map[string]*models.Job
	maxLogsPerJob int
}

func NewRegistry(path string, maxLogsPerJob int) *Registry {
	return &Registry{path: path, jobs: make(map[string]*models.Job), maxLogsPerJob: maxLogsPerJob}
}

// Load reads the registry file if present. A missing file is not an
// error; it means this is the first run.
func (r *Registry) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading job registry: %w", err)
	}

	var jobs []*models.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("parsing job registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return nil
}

// persistLocked serializes the whole registry and writes it atomically,
// clipping each job's logs to a short tail so the file stays small. The
// caller must hold r.mu (write); marshaling happens under the lock so no
// stored map is ever read while a mutator writes it.
func (r *Registry) persistLocked() error {
	jobs := make([]*models.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		snapshot := j.Clone()
		if len(snapshot.Logs) > persistedLogTail {
			snapshot.Logs = snapshot.Logs[len(snapshot.Logs)-persistedLogTail:]
		}
		jobs = append(jobs, snapshot)
	}

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling job registry: %w", err)
	}

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating registry directory: %w", err)
		}
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing temp registry file: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("renaming temp registry file: %w", err)
	}
	return nil
}

// Put inserts or replaces a job with a deep copy of the caller's value
// and persists the registry. The caller keeps sole ownership of the
// value it passed in.
func (r *Registry) Put(job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job.Clone()
	return r.persistLocked()
}

// Get returns a deep-copied snapshot of the job with the given ID, if
// present. Readers see a consistent view and can never race a mutator.
func (r *Registry) Get(id string) (*models.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// All returns deep-copied snapshots of every job in the registry.
func (r *Registry) All() []*models.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Clone())
	}
	return out
}

// Update applies fn to the stored job under the write lock, then
// persists. This is the only way callers mutate a registered job.
func (r *Registry) Update(id string, fn func(*models.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	fn(job)
	return r.persistLocked()
}

// Sync replaces the stored job's pipeline-owned fields with the caller's
// working copy and persists. The registry retains ownership of the log
// buffer (append via AppendLog) and never lets a terminal status be
// overwritten, so a cancel or failure recorded concurrently survives a
// late sync from the running pipeline.
func (r *Registry) Sync(job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	incoming := job.Clone()
	stored, ok := r.jobs[job.ID]
	if ok {
		incoming.Logs = stored.Logs
		if stored.Terminal() {
			incoming.Status = stored.Status
			incoming.ErrorMessage = stored.ErrorMessage
		}
	}
	r.jobs[job.ID] = incoming
	return r.persistLocked()
}

// Delete removes a job from the registry and persists the change.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, id)
	return r.persistLocked()
}

// AppendLog appends a bounded log entry to a job, dropping the oldest 10%
// of entries when the per-job cap is exceeded, then persists the change.
func (r *Registry) AppendLog(id, level, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}
	job.AppendLog(level, msg)
	if r.maxLogsPerJob > 0 && len(job.Logs) > r.maxLogsPerJob {
		drop := int(float64(len(job.Logs)) * maxLogsDropFraction)
		if drop < 1 {
			drop = 1
		}
		job.Logs = job.Logs[drop:]
	}
	return r.persistLocked()
}
