package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JobStatus is the lifecycle status of a transcription Job.
type JobStatus string

const (
	StatusQueued               JobStatus = "queued"
	StatusPreprocessing        JobStatus = "preprocessing"
	StatusTranscribingOpenAI   JobStatus = "transcribing_openai"
	StatusTranscribingFallback JobStatus = "transcribing_fallback"
	StatusMerging              JobStatus = "merging"
	StatusReady                JobStatus = "ready"
	StatusPausedRetryOpenAI    JobStatus = "paused_retry_openai"
	StatusFailed               JobStatus = "failed"
)

// nonTerminalStatuses are the statuses latest_incomplete_job searches over.
var nonTerminalStatuses = []JobStatus{
	StatusQueued,
	StatusPreprocessing,
	StatusTranscribingOpenAI,
	StatusTranscribingFallback,
	StatusMerging,
	StatusPausedRetryOpenAI,
}

// NonTerminalStatuses returns the statuses considered resumable/incomplete.
func NonTerminalStatuses() []JobStatus {
	out := make([]JobStatus, len(nonTerminalStatuses))
	copy(out, nonTerminalStatuses)
	return out
}

// ChunkStatus is the lifecycle status of a single Chunk row.
type ChunkStatus string

const (
	ChunkQueued             ChunkStatus = "queued"
	ChunkTranscribingOpenAI ChunkStatus = "transcribing_openai"
	ChunkDone               ChunkStatus = "done"
	ChunkPausedRetryOpenAI  ChunkStatus = "paused_retry_openai"
)

// Job is the durable record of one transcription run.
type Job struct {
	ID               string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	SourcePath       string    `json:"sourcePath" gorm:"column:source_path;type:text;not null"`
	SourceName       string    `json:"sourceName" gorm:"column:source_name;type:text;not null"`
	SourceHash       string    `json:"sourceHash" gorm:"column:source_hash;type:text"`
	Status           JobStatus `json:"status" gorm:"type:varchar(32);not null;default:'queued'"`
	CreatedAt        time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime"`
	DurationSec      float64   `json:"durationSec" gorm:"column:duration_sec;type:real;default:0"`
	ChunksTotal      int       `json:"chunksTotal" gorm:"column:chunks_total;default:0"`
	ChunksDone       int       `json:"chunksDone" gorm:"column:chunks_done;default:0"`
	TranscriptJSON   *string   `json:"-" gorm:"column:transcript_json;type:text"`
	ErrorMessage     *string   `json:"errorMessage,omitempty" gorm:"column:error_message;type:text"`
	InterviewerCount int       `json:"interviewerCount" gorm:"column:interviewer_count;default:1"`
	ParticipantCount int       `json:"participantCount" gorm:"column:participant_count;default:1"`
}

func (Job) TableName() string { return "jobs" }

// BeforeCreate generates an id if not set.
func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	return nil
}

// Chunk is a durable per-window row belonging to a Job.
type Chunk struct {
	JobID          string      `json:"jobId" gorm:"column:job_id;primaryKey;type:varchar(36)"`
	Idx            int         `json:"idx" gorm:"primaryKey"`
	StartSec       float64     `json:"startSec" gorm:"column:start_sec;type:real;not null"`
	EndSec         float64     `json:"endSec" gorm:"column:end_sec;type:real;not null"`
	ChunkPath      string      `json:"chunkPath" gorm:"column:chunk_path;type:text;not null"`
	ChunkHash      string      `json:"chunkHash" gorm:"column:chunk_hash;type:text"`
	Status         ChunkStatus `json:"status" gorm:"type:varchar(32);not null;default:'queued'"`
	Engine         string      `json:"engine" gorm:"type:varchar(16)"`
	AttemptCount   int         `json:"attemptCount" gorm:"column:attempt_count;default:0"`
	TranscriptJSON *string     `json:"-" gorm:"column:transcript_json;type:text"`
	Confidence     *float64    `json:"confidence,omitempty" gorm:"type:real"`
	UpdatedAt      time.Time   `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime"`

	Job Job `json:"-" gorm:"foreignKey:JobID;references:ID;constraint:OnDelete:CASCADE"`
}

func (Chunk) TableName() string { return "chunks" }

// Segment is one engine-produced span of speech, in chunk-local time.
type Segment struct {
	StartSec   float64  `json:"start_sec"`
	EndSec     float64  `json:"end_sec"`
	Speaker    string   `json:"speaker"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Utterance is a stored, job-global-time speech span. Speaker is either a
// raw engine speaker id or, after labeling, "I"/"D".
type Utterance struct {
	StartSec   float64  `json:"startSec"`
	EndSec     float64  `json:"endSec"`
	Speaker    string   `json:"speaker"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// ChunkPlan is the transient output of the ChunkPlanner before persistence.
type ChunkPlan struct {
	Idx      int
	StartSec float64
	EndSec   float64
	Path     string
	SHA256   string
}

func (c ChunkPlan) DurationSec() float64 {
	if d := c.EndSec - c.StartSec; d > 0 {
		return d
	}
	return 0
}
