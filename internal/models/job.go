// Package models defines the plain, JSON-serializable types the job
// registry persists. These are intentionally not GORM models: the
// registry owns its own atomic file persistence (see internal/jobmanager),
// separate from the sqlite-backed usage store in internal/usage.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Mode selects the output shape of a job.
type Mode string

const (
	ModeDub      Mode = "dubbing"
	ModeSubtitle Mode = "subtitle"
)

// SyncMode controls how dubbed audio is fitted back to the source timeline.
type SyncMode string

const (
	SyncOptimize    SyncMode = "optimize"
	SyncStretch     SyncMode = "stretch"
	SyncSpeedAudio  SyncMode = "speed_audio"
)

// LogEntry is one bounded, truncated message in a Job's log ring buffer.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// QualityResult is one round of the evaluate/refine loop's scoring.
type QualityResult struct {
	Round          int                `json:"round"`
	Score          int                `json:"score"`
	Breakdown      map[string]float64 `json:"breakdown,omitempty"`
	Issues         []string           `json:"issues,omitempty"`
	Recommendation string             `json:"recommendation,omitempty"`
	SampledFront   bool               `json:"sampled_front"`
	SampledMid     bool               `json:"sampled_mid"`
	SampledEnd     bool               `json:"sampled_end"`
}

// Settings captures every per-job knob the control plane accepts.
type Settings struct {
	SourceLanguage string   `json:"source_language"`
	TargetLanguage string   `json:"target_language"`
	Mode           Mode     `json:"mode"`
	SyncMode       SyncMode `json:"sync_mode"`
	STTEngine      string   `json:"stt_engine"`
	TranslateEngine string  `json:"translate_engine"`
	TTSEngine      string   `json:"tts_engine"`
	VoiceID        string   `json:"voice_id,omitempty"`
	CloneVoice     bool     `json:"clone_voice"`
	BurnSubtitles  bool     `json:"burn_subtitles"`
	EmbedSubtitles bool     `json:"embed_subtitles"`
	QualityLoop    bool     `json:"quality_loop"`
}

// Step states for the per-stage progress map.
const (
	StepPending    = "pending"
	StepProcessing = "processing"
	StepDone       = "done"
	StepFailed     = "failed"
)

// Steps tracks each named pipeline stage ("extract", "transcribe",
// "translate", ...) through pending/processing/done/failed.
type Steps map[string]string

// Job is one unit of work tracked by the job registry.
type Job struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Progress    int       `json:"progress"`
	Settings    Settings  `json:"settings"`
	CurrentStep string    `json:"current_step,omitempty"`
	Steps       Steps     `json:"steps"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	InputPath     string `json:"input_path"`
	InputFilename string `json:"input_filename,omitempty"`
	OutputPath    string `json:"output_path,omitempty"`
	SRTPath       string `json:"srt_path,omitempty"`

	QualityRounds []QualityResult `json:"quality_rounds,omitempty"`
	BestRound     int             `json:"best_round,omitempty"`

	ErrorMessage string     `json:"error_message,omitempty"`
	Logs         []LogEntry `json:"logs,omitempty"`
}

// NewJob creates a Job with a fresh ID in StatusQueued.
func NewJob(inputPath string, settings Settings) *Job {
	now := time.Now()
	return &Job{
		ID:         uuid.NewString(),
		Status:     StatusQueued,
		Settings:   settings,
		Steps:      Steps{},
		CreatedAt:  now,
		UpdatedAt:  now,
		InputPath:  inputPath,
	}
}

// AppendLog appends a truncated log entry. Jobs are mutated only through
// the job manager's lock; callers outside jobmanager should prefer its
// AppendLog, which also enforces the overall per-job cap — this method
// only truncates the individual message.
func (j *Job) AppendLog(level, msg string) {
	const maxMsgLen = 500
	if len(msg) > maxMsgLen {
		msg = msg[:maxMsgLen]
	}
	j.Logs = append(j.Logs, LogEntry{Time: time.Now(), Level: level, Message: msg})
}

// Clone returns a deep copy: the Steps map, log buffer, and quality
// rounds (including their breakdown maps) are all fresh, so readers and
// the persistence path never share mutable state with a running
// pipeline.
func (j *Job) Clone() *Job {
	c := *j
	if j.Steps != nil {
		c.Steps = make(Steps, len(j.Steps))
		for k, v := range j.Steps {
			c.Steps[k] = v
		}
	}
	if j.Logs != nil {
		c.Logs = append([]LogEntry(nil), j.Logs...)
	}
	if j.QualityRounds != nil {
		c.QualityRounds = make([]QualityResult, len(j.QualityRounds))
		for i, q := range j.QualityRounds {
			cq := q
			if q.Breakdown != nil {
				cq.Breakdown = make(map[string]float64, len(q.Breakdown))
				for k, v := range q.Breakdown {
					cq.Breakdown[k] = v
				}
			}
			if q.Issues != nil {
				cq.Issues = append([]string(nil), q.Issues...)
			}
			c.QualityRounds[i] = cq
		}
	}
	return &c
}

// Terminal reports whether the job has reached a final status.
func (j *Job) Terminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
