package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"transkriptor/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// JobStore is the single-writer, durable store for Jobs and Chunks. It
// wraps BaseRepository[models.Job] for job insert/fetch; chunk access goes
// straight through gorm since every chunk operation needs an upsert-by-key
// or an ordered scan that a generic repository can't express.
type JobStore struct {
	db   *gorm.DB
	jobs *BaseRepository[models.Job]
}

// NewJobStore constructs a JobStore over an open gorm connection.
func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{
		db:   db,
		jobs: NewBaseRepository[models.Job](db),
	}
}

// CreateJob inserts a new job row in status queued. The id may be left empty
// (one is generated on insert); interviewer_count/participant_count are
// clamped to a minimum of 1.
func (s *JobStore) CreateJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	if job.InterviewerCount < 1 {
		job.InterviewerCount = 1
	}
	if job.ParticipantCount < 1 {
		job.ParticipantCount = 1
	}
	job.Status = models.StatusQueued
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: create job: %v", models.ErrStore, err)
	}
	return job, nil
}

// GetJob fetches a job by id.
func (s *JobStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.jobs.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get job: %v", models.ErrStore, err)
	}
	return job, nil
}

// LatestIncompleteJob returns the most recently updated job whose status is
// non-terminal, or nil if none exists.
func (s *JobStore) LatestIncompleteJob(ctx context.Context) (*models.Job, error) {
	var job models.Job
	err := s.db.WithContext(ctx).
		Where("status IN ?", models.NonTerminalStatuses()).
		Order("updated_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: latest incomplete job: %v", models.ErrStore, err)
	}
	return &job, nil
}

// ListReadyJobs lists jobs in status ready, newest first, clamped to [1,500].
func (s *JobStore) ListReadyJobs(ctx context.Context, limit int) ([]models.Job, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Where("status = ?", models.StatusReady).
		Order("updated_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list ready jobs: %v", models.ErrStore, err)
	}
	return jobs, nil
}

// JobStatusUpdate carries the optional fields update_job_status may set.
type JobStatusUpdate struct {
	ChunksDone   *int
	ChunksTotal  *int
	ErrorMessage *string
}

// UpdateJobStatus sets a job's status and any of the optional fields given.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus, upd JobStatusUpdate) error {
	values := map[string]any{"status": status}
	if upd.ChunksDone != nil {
		values["chunks_done"] = *upd.ChunksDone
	}
	if upd.ChunksTotal != nil {
		values["chunks_total"] = *upd.ChunksTotal
	}
	if upd.ErrorMessage != nil {
		values["error_message"] = *upd.ErrorMessage
	}
	err := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", jobID).Updates(values).Error
	if err != nil {
		return fmt.Errorf("%w: update job status: %v", models.ErrStore, err)
	}
	return nil
}

// UpdateJobMetadata sets duration_sec and chunks_total, used once chunks
// have been planned (or re-probed on resume).
func (s *JobStore) UpdateJobMetadata(ctx context.Context, jobID string, durationSec float64, chunksTotal int) error {
	err := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"duration_sec": durationSec,
		"chunks_total": chunksTotal,
	}).Error
	if err != nil {
		return fmt.Errorf("%w: update job metadata: %v", models.ErrStore, err)
	}
	return nil
}

// UpsertChunk inserts or replaces a chunk row by its (job_id, idx) key.
func (s *JobStore) UpsertChunk(ctx context.Context, chunk *models.Chunk) error {
	err := s.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}, {Name: "idx"}},
			UpdateAll: true,
		}).
		Create(chunk).Error
	if err != nil {
		return fmt.Errorf("%w: upsert chunk: %v", models.ErrStore, err)
	}
	return nil
}

// ListChunks returns all chunks for a job, ordered by idx ascending.
func (s *JobStore) ListChunks(ctx context.Context, jobID string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := s.db.WithContext(ctx).Where("job_id = ?", jobID).Order("idx ASC").Find(&chunks).Error
	if err != nil {
		return nil, fmt.Errorf("%w: list chunks: %v", models.ErrStore, err)
	}
	return chunks, nil
}

// MarshalUtterances encodes a chunk-level or job-level utterance list for
// storage in a transcript_json column.
func MarshalUtterances(utterances []models.Utterance) (*string, error) {
	if utterances == nil {
		utterances = []models.Utterance{}
	}
	raw, err := json.Marshal(utterances)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal utterances: %v", models.ErrStore, err)
	}
	s := string(raw)
	return &s, nil
}

// UnmarshalUtterances decodes a transcript_json column back into utterances.
func UnmarshalUtterances(raw *string) ([]models.Utterance, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	var out []models.Utterance
	if err := json.Unmarshal([]byte(*raw), &out); err != nil {
		return nil, fmt.Errorf("%w: unmarshal utterances: %v", models.ErrStore, err)
	}
	return out, nil
}

// SetFinalTranscript stores the job's final labeled transcript, sets status
// to ready, and clears error_message.
func (s *JobStore) SetFinalTranscript(ctx context.Context, jobID string, transcript []models.Utterance) error {
	raw, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("%w: marshal transcript: %v", models.ErrStore, err)
	}
	j := string(raw)
	err = s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", jobID).Updates(map[string]any{
		"transcript_json": j,
		"status":          models.StatusReady,
		"error_message":   nil,
	}).Error
	if err != nil {
		return fmt.Errorf("%w: set final transcript: %v", models.ErrStore, err)
	}
	return nil
}

// GetTranscript returns a job's stored final transcript, or nil if unset.
func (s *JobStore) GetTranscript(ctx context.Context, jobID string) ([]models.Utterance, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil || job.TranscriptJSON == nil {
		return nil, nil
	}
	var out []models.Utterance
	if err := json.Unmarshal([]byte(*job.TranscriptJSON), &out); err != nil {
		return nil, fmt.Errorf("%w: unmarshal transcript: %v", models.ErrStore, err)
	}
	return out, nil
}

// SwapRoles flips every utterance's "I"/"D" speaker label in place and
// rewrites the transcript, leaving status at ready. Applying it twice is a
// no-op.
func (s *JobStore) SwapRoles(ctx context.Context, jobID string) error {
	transcript, err := s.GetTranscript(ctx, jobID)
	if err != nil {
		return err
	}
	if transcript == nil {
		return fmt.Errorf("%w: job %s has no transcript to swap", models.ErrStore, jobID)
	}
	for i := range transcript {
		switch transcript[i].Speaker {
		case "I":
			transcript[i].Speaker = "D"
		case "D":
			transcript[i].Speaker = "I"
		}
	}
	return s.SetFinalTranscript(ctx, jobID, transcript)
}

// RemoveReadyJobDirs deletes the on-disk directory of every job currently
// in status ready, as pre-run housekeeping ahead of a fresh (non-resume) run.
func (s *JobStore) RemoveReadyJobDirs(ctx context.Context, jobsRoot string) error {
	var jobs []models.Job
	if err := s.db.WithContext(ctx).Where("status = ?", models.StatusReady).Find(&jobs).Error; err != nil {
		return fmt.Errorf("%w: list ready jobs: %v", models.ErrStore, err)
	}
	for _, job := range jobs {
		dir := filepath.Join(jobsRoot, job.ID)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("%w: remove ready job dir %s: %v", models.ErrStore, dir, err)
		}
	}
	return nil
}

// JobResult is the shape written to result.json and emitted as the
// "result" event.
type JobResult struct {
	JobID       string              `json:"jobId"`
	SourcePath  string              `json:"sourcePath"`
	DurationSec float64             `json:"durationSec"`
	Transcript  []models.Utterance  `json:"transcript"`
}

// ReadJobResult returns the job's result shape, or nil if the job is missing.
func (s *JobStore) ReadJobResult(ctx context.Context, jobID string) (*JobResult, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, nil
	}
	transcript, err := s.GetTranscript(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &JobResult{
		JobID:       job.ID,
		SourcePath:  job.SourcePath,
		DurationSec: job.DurationSec,
		Transcript:  transcript,
	}, nil
}

// AtomicWriteJSON writes payload as JSON to path atomically: it writes to
// path+".tmp" then renames onto path. Callers must ensure the parent
// directory exists.
func AtomicWriteJSON(path string, payload any) error {
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal checkpoint: %v", models.ErrStore, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return fmt.Errorf("%w: write checkpoint tmp: %v", models.ErrStore, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: rename checkpoint: %v", models.ErrStore, err)
	}
	return nil
}
