// Package driver runs the per-job state machine that owns a Job end to
// end: it plans and renders chunks, transcribes each chunk through the
// remote engine (falling back to the local engine on failure), writes
// checkpoints, emits progress events, and finally hands the concatenated
// transcript to the postprocessor.
package driver

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"transkriptor/internal/chunkplanner"
	"transkriptor/internal/config"
	"transkriptor/internal/eventstream"
	"transkriptor/internal/fallbackengine"
	"transkriptor/internal/models"
	"transkriptor/internal/postprocess"
	"transkriptor/internal/remoteengine"
	"transkriptor/internal/repository"
	"transkriptor/pkg/logger"

	"errors"
)

// Process exit codes for a job run.
const (
	ExitOK              = 0
	ExitFatal           = 1
	ExitPausedResumable = 2
)

const (
	remoteMaxRetries = 5
	engineOpenAI     = "openai"
	engineFallback   = "fallback"
)

// Driver wires C1-C4, C6 and the JobStore together to run one job.
type Driver struct {
	Store    *repository.JobStore
	Planner  *chunkplanner.Planner
	Remote   *remoteengine.Engine
	Fallback *fallbackengine.Manager
	Config   *config.Config
	Events   *eventstream.Emitter
}

// New constructs a Driver from its collaborators.
func New(store *repository.JobStore, planner *chunkplanner.Planner, remote *remoteengine.Engine, fallback *fallbackengine.Manager, cfg *config.Config, events *eventstream.Emitter) *Driver {
	return &Driver{Store: store, Planner: planner, Remote: remote, Fallback: fallback, Config: cfg, Events: events}
}

// RunJob executes the full state machine for jobID and returns the
// process exit code (0 ok, 1 fatal, 2 paused-resumable).
func (d *Driver) RunJob(ctx context.Context, jobID string, resume bool) (int, error) {
	start := time.Now()

	job, err := d.Store.GetJob(ctx, jobID)
	if err != nil {
		return ExitFatal, err
	}
	if job == nil {
		return ExitFatal, fmt.Errorf("%w: job %s not found", models.ErrStore, jobID)
	}

	if _, err := os.Stat(job.SourcePath); err != nil {
		msg := fmt.Sprintf("Kildedata findes ikke: %s", job.SourcePath)
		d.failJob(ctx, job.ID, msg)
		return ExitFatal, fmt.Errorf("%w: %s", models.ErrSourceMissing, msg)
	}

	logger.JobStarted(job.ID, job.SourcePath, job.InterviewerCount, job.ParticipantCount)

	if !resume {
		if err := d.Store.RemoveReadyJobDirs(ctx, d.Config.JobsDir()); err != nil {
			return ExitFatal, err
		}
	}

	if err := d.Store.UpdateJobStatus(ctx, job.ID, models.StatusPreprocessing, repository.JobStatusUpdate{}); err != nil {
		return ExitFatal, err
	}
	d.Events.Progress(eventstream.ProgressPayload{
		JobID: job.ID, Status: string(models.StatusPreprocessing), Stage: eventstream.StagePreprocess,
		Percent: 3, ChunksDone: 0, ChunksTotal: 0, Message: "Forbereder lyd og opretter chunks...",
	})

	duration, chunkRows, err := d.preprocessOrResume(ctx, job)
	if err != nil {
		d.failJob(ctx, job.ID, err.Error())
		return ExitFatal, err
	}

	done := 0
	for _, row := range chunkRows {
		if row.Status == models.ChunkDone {
			done++
		}
	}
	if err := d.Store.UpdateJobStatus(ctx, job.ID, models.StatusTranscribingOpenAI, repository.JobStatusUpdate{
		ChunksDone:  intPtr(done),
		ChunksTotal: intPtr(len(chunkRows)),
	}); err != nil {
		return ExitFatal, err
	}

	runStart := time.Now()
	processedThisRun := 0

	for _, chunk := range chunkRows {
		if chunk.Status == models.ChunkDone {
			continue
		}

		if err := d.ensureChunkFile(&chunk, job.SourcePath); err != nil {
			d.failJob(ctx, job.ID, err.Error())
			return ExitFatal, err
		}

		chunk.AttemptCount++
		chunk.Status = models.ChunkTranscribingOpenAI
		chunk.Engine = engineOpenAI
		if err := d.Store.UpsertChunk(ctx, &chunk); err != nil {
			return ExitFatal, err
		}
		logger.ChunkStarted(job.ID, chunk.Idx, engineOpenAI, chunk.AttemptCount)

		segments, avgConf, remoteErr := d.Remote.TranscribeChunk(ctx, chunk.ChunkPath, "da", remoteMaxRetries)
		engine := engineOpenAI

		if remoteErr != nil {
			d.Events.Progress(eventstream.ProgressPayload{
				JobID: job.ID, Status: string(models.StatusTranscribingFallback), Stage: eventstream.StageTranscribe,
				Percent: progressPercent(done, len(chunkRows)), ChunksDone: done, ChunksTotal: len(chunkRows),
				Message: fmt.Sprintf("OpenAI-fejl på chunk %d, prøver lokal fallback...", chunk.Idx+1),
			})

			fbSegments, quality, fbErr := d.Fallback.TranscribeChunk(ctx, chunk.ChunkPath, "da", d.Config.HuggingFaceToken)
			switch {
			case fbErr == nil:
				segments = fbSegments
				coverage := quality.Coverage
				avgConf = &coverage
				engine = engineFallback

			case errors.Is(fbErr, models.ErrLowSpeakerConfidence):
				chunk.Status = models.ChunkPausedRetryOpenAI
				chunk.Engine = engineFallback
				if err := d.Store.UpsertChunk(ctx, &chunk); err != nil {
					return ExitFatal, err
				}
				reason := fbErr.Error()
				if err := d.Store.UpdateJobStatus(ctx, job.ID, models.StatusPausedRetryOpenAI, repository.JobStatusUpdate{
					ChunksDone: intPtr(done), ChunksTotal: intPtr(len(chunkRows)),
					ErrorMessage: strPtr(reason),
				}); err != nil {
					return ExitFatal, err
				}
				d.Events.Paused(eventstream.ProgressPayload{
					JobID: job.ID, Status: string(models.StatusPausedRetryOpenAI), Stage: eventstream.StageTranscribe,
					Percent: progressPercent(done, len(chunkRows)), ChunksDone: done, ChunksTotal: len(chunkRows),
					Message: "Lokal fallback kunne ikke skelne talere sikkert nok. Genoptag når OpenAI API er tilgængelig igen.",
				})
				logger.JobPaused(job.ID, reason)
				return ExitPausedResumable, fbErr

			default:
				combined := fmt.Sprintf("OpenAI: %v; Fallback: %v", remoteErr, fbErr)
				if err := d.Store.UpdateJobStatus(ctx, job.ID, models.StatusFailed, repository.JobStatusUpdate{
					ChunksDone: intPtr(done), ChunksTotal: intPtr(len(chunkRows)),
					ErrorMessage: strPtr(combined),
				}); err != nil {
					return ExitFatal, err
				}
				d.Events.Error(eventstream.ErrorPayload{
					JobID:   &job.ID,
					Message: fmt.Sprintf("Chunk %d fejlede i både OpenAI og fallback. %s", chunk.Idx+1, combined),
				})
				logger.JobFailed(job.ID, time.Since(start), fbErr)
				return ExitFatal, fmt.Errorf("%s", combined)
			}
		}

		globalized := globalizeSegments(chunk.StartSec, segments)

		chunk.Status = models.ChunkDone
		chunk.Engine = engine
		chunk.Confidence = avgConf
		raw, err := repository.MarshalUtterances(globalized)
		if err != nil {
			return ExitFatal, err
		}
		chunk.TranscriptJSON = raw
		if err := d.Store.UpsertChunk(ctx, &chunk); err != nil {
			return ExitFatal, err
		}
		logger.ChunkDone(job.ID, chunk.Idx, engine, avgConf)

		checkpoint := map[string]any{
			"jobId":      job.ID,
			"chunkIndex": chunk.Idx,
			"engine":     engine,
			"segments":   globalized,
		}
		checkpointPath := filepath.Join(d.Config.CheckpointsDir(job.ID), fmt.Sprintf("chunk_%04d.json", chunk.Idx))
		if err := os.MkdirAll(filepath.Dir(checkpointPath), 0755); err != nil {
			return ExitFatal, err
		}
		if err := repository.AtomicWriteJSON(checkpointPath, checkpoint); err != nil {
			return ExitFatal, err
		}

		done++
		processedThisRun++
		if err := d.Store.UpdateJobStatus(ctx, job.ID, models.StatusTranscribingOpenAI, repository.JobStatusUpdate{
			ChunksDone: intPtr(done), ChunksTotal: intPtr(len(chunkRows)),
		}); err != nil {
			return ExitFatal, err
		}

		elapsed := time.Since(runStart)
		eta := estimateETA(elapsed, processedThisRun, done, len(chunkRows))
		d.Events.Progress(eventstream.ProgressPayload{
			JobID: job.ID, Status: string(models.StatusTranscribingOpenAI), Stage: eventstream.StageTranscribe,
			Percent: progressPercent(done, len(chunkRows)), EtaSeconds: eta,
			ChunksDone: done, ChunksTotal: len(chunkRows),
			Message: fmt.Sprintf("Chunk %d/%d færdig via %s", chunk.Idx+1, len(chunkRows), engine),
		})
	}

	if err := d.Store.UpdateJobStatus(ctx, job.ID, models.StatusMerging, repository.JobStatusUpdate{
		ChunksDone: intPtr(done), ChunksTotal: intPtr(len(chunkRows)),
	}); err != nil {
		return ExitFatal, err
	}
	mergeETA := 5
	d.Events.Progress(eventstream.ProgressPayload{
		JobID: job.ID, Status: string(models.StatusMerging), Stage: eventstream.StageMerge,
		Percent: 94, EtaSeconds: &mergeETA, ChunksDone: done, ChunksTotal: len(chunkRows),
		Message: "Sammenfletter segmenter og fjerner overlap...",
	})

	allChunks, err := d.Store.ListChunks(ctx, job.ID)
	if err != nil {
		return ExitFatal, err
	}
	var concatenated []models.Utterance
	for _, c := range allChunks {
		utterances, err := repository.UnmarshalUtterances(c.TranscriptJSON)
		if err != nil {
			return ExitFatal, err
		}
		concatenated = append(concatenated, utterances...)
	}

	labeled := postprocess.MergeAndLabel(concatenated, job.InterviewerCount, job.ParticipantCount)

	if err := d.Store.SetFinalTranscript(ctx, job.ID, labeled); err != nil {
		return ExitFatal, err
	}
	if err := d.Store.UpdateJobStatus(ctx, job.ID, models.StatusReady, repository.JobStatusUpdate{
		ChunksDone: intPtr(len(chunkRows)), ChunksTotal: intPtr(len(chunkRows)),
	}); err != nil {
		return ExitFatal, err
	}

	resultPath := filepath.Join(d.Config.CheckpointsDir(job.ID), "result.json")
	result := repository.JobResult{JobID: job.ID, SourcePath: job.SourcePath, DurationSec: duration, Transcript: labeled}
	if err := repository.AtomicWriteJSON(resultPath, result); err != nil {
		return ExitFatal, err
	}

	d.Events.Result(eventstream.ResultPayload{
		JobID: job.ID, SourcePath: job.SourcePath, DurationSec: duration, Transcript: labeled,
	})
	logger.JobCompleted(job.ID, time.Since(start), len(chunkRows))
	return ExitOK, nil
}

// preprocessOrResume reuses existing chunk rows if present (re-probing
// duration if it was stored as 0), else plans and renders fresh chunks and
// persists each as queued.
func (d *Driver) preprocessOrResume(ctx context.Context, job *models.Job) (float64, []models.Chunk, error) {
	existing, err := d.Store.ListChunks(ctx, job.ID)
	if err != nil {
		return 0, nil, err
	}
	if len(existing) > 0 {
		duration := job.DurationSec
		if duration <= 0 {
			duration, err = d.Planner.ProbeDuration(job.SourcePath)
			if err != nil {
				return 0, nil, err
			}
			if err := d.Store.UpdateJobMetadata(ctx, job.ID, duration, len(existing)); err != nil {
				return 0, nil, err
			}
		}
		return duration, existing, nil
	}

	chunkDir := d.Config.ChunksDir(job.ID)
	duration, plans, err := d.Planner.PlanAndRender(job.SourcePath, chunkDir, chunkplanner.DefaultChunkDurationSec, chunkplanner.DefaultOverlapSec)
	if err != nil {
		return 0, nil, err
	}

	if err := d.Store.UpdateJobMetadata(ctx, job.ID, duration, len(plans)); err != nil {
		return 0, nil, err
	}

	rows := make([]models.Chunk, len(plans))
	for i, p := range plans {
		row := models.Chunk{
			JobID:        job.ID,
			Idx:          p.Idx,
			StartSec:     p.StartSec,
			EndSec:       p.EndSec,
			ChunkPath:    p.Path,
			ChunkHash:    p.SHA256,
			Status:       models.ChunkQueued,
			AttemptCount: 0,
		}
		if err := d.Store.UpsertChunk(ctx, &row); err != nil {
			return 0, nil, err
		}
		rows[i] = row
	}
	return duration, rows, nil
}

// ensureChunkFile re-renders a chunk's file if it is missing on disk, and
// computes its hash if it was stored empty.
func (d *Driver) ensureChunkFile(chunk *models.Chunk, sourcePath string) error {
	if _, err := os.Stat(chunk.ChunkPath); err == nil {
		if chunk.ChunkHash == "" {
			hash, err := chunkplanner.HashFile(chunk.ChunkPath)
			if err != nil {
				return err
			}
			chunk.ChunkHash = hash
		}
		return nil
	}
	if err := d.Planner.RenderChunk(sourcePath, chunk.ChunkPath, chunk.StartSec, chunk.EndSec-chunk.StartSec); err != nil {
		return err
	}
	hash, err := chunkplanner.HashFile(chunk.ChunkPath)
	if err != nil {
		return err
	}
	chunk.ChunkHash = hash
	return nil
}

func (d *Driver) failJob(ctx context.Context, jobID, message string) {
	_ = d.Store.UpdateJobStatus(ctx, jobID, models.StatusFailed, repository.JobStatusUpdate{ErrorMessage: &message})
	d.Events.Error(eventstream.ErrorPayload{JobID: &jobID, Message: message})
}

// globalizeSegments shifts chunk-local Segments into job-global Utterances
// by adding the chunk's start offset to both endpoints.
func globalizeSegments(chunkStart float64, segments []models.Segment) []models.Utterance {
	out := make([]models.Utterance, len(segments))
	for i, s := range segments {
		out[i] = models.Utterance{
			StartSec:   round3(chunkStart + s.StartSec),
			EndSec:     round3(chunkStart + s.EndSec),
			Speaker:    s.Speaker,
			Text:       s.Text,
			Confidence: s.Confidence,
		}
	}
	return out
}

func round3(v float64) float64 {
	return float64(int64(v*1000+0.5)) / 1000
}

func progressPercent(done, total int) float64 {
	if total == 0 {
		return 10
	}
	return 10 + (float64(done)/float64(total))*80
}

// estimateETA extrapolates from the chunks processed during this run only,
// so a resumed job's already-done chunks don't deflate the average.
func estimateETA(elapsed time.Duration, processedThisRun, done, total int) *int {
	if processedThisRun == 0 || total <= done {
		return nil
	}
	avg := elapsed.Seconds() / float64(processedThisRun)
	eta := int(avg * float64(total-done))
	return &eta
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
