package repository

import (
	"os"
	"testing"

	"transkriptor/internal/models"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T) *JobStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}, &models.Chunk{}))
	return NewJobStore(db)
}

func TestCreateJob_ClampsRoleCountsToAtLeastOne(t *testing.T) {
	store := newTestStore(t)
	job, err := store.CreateJob(t.Context(), &models.Job{SourcePath: "/tmp/a.wav", SourceName: "a.wav", InterviewerCount: 0, ParticipantCount: -3})
	require.NoError(t, err)
	assert.Equal(t, 1, job.InterviewerCount)
	assert.Equal(t, 1, job.ParticipantCount)
	assert.Equal(t, models.StatusQueued, job.Status)
	assert.NotEmpty(t, job.ID)
}

func TestUpsertChunk_InsertThenReplaceByKey(t *testing.T) {
	store := newTestStore(t)
	job, err := store.CreateJob(t.Context(), &models.Job{SourcePath: "/tmp/a.wav", SourceName: "a.wav", InterviewerCount: 1, ParticipantCount: 1})
	require.NoError(t, err)

	chunk := &models.Chunk{JobID: job.ID, Idx: 0, StartSec: 0, EndSec: 10, ChunkPath: "chunk_0000.wav", Status: models.ChunkQueued}
	require.NoError(t, store.UpsertChunk(t.Context(), chunk))

	chunk.Status = models.ChunkDone
	chunk.Engine = "openai"
	require.NoError(t, store.UpsertChunk(t.Context(), chunk))

	rows, err := store.ListChunks(t.Context(), job.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ChunkDone, rows[0].Status)
	assert.Equal(t, "openai", rows[0].Engine)
}

func TestListChunks_OrderedByIdxAscending(t *testing.T) {
	store := newTestStore(t)
	job, err := store.CreateJob(t.Context(), &models.Job{SourcePath: "/tmp/a.wav", SourceName: "a.wav", InterviewerCount: 1, ParticipantCount: 1})
	require.NoError(t, err)

	for _, idx := range []int{2, 0, 1} {
		chunk := &models.Chunk{JobID: job.ID, Idx: idx, StartSec: float64(idx) * 10, EndSec: float64(idx)*10 + 10, ChunkPath: "x", Status: models.ChunkQueued}
		require.NoError(t, store.UpsertChunk(t.Context(), chunk))
	}

	rows, err := store.ListChunks(t.Context(), job.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{rows[0].Idx, rows[1].Idx, rows[2].Idx})
}

func TestListReadyJobs_ClampsLimit(t *testing.T) {
	store := newTestStore(t)
	job, err := store.CreateJob(t.Context(), &models.Job{SourcePath: "/tmp/a.wav", SourceName: "a.wav", InterviewerCount: 1, ParticipantCount: 1})
	require.NoError(t, err)
	require.NoError(t, store.SetFinalTranscript(t.Context(), job.ID, []models.Utterance{{Speaker: "I", Text: "hej"}}))

	jobs, err := store.ListReadyJobs(t.Context(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	jobs, err = store.ListReadyJobs(t.Context(), 5000)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

// Swapping roles twice restores the original transcript.
func TestSwapRoles_IsAnInvolution(t *testing.T) {
	store := newTestStore(t)
	job, err := store.CreateJob(t.Context(), &models.Job{SourcePath: "/tmp/a.wav", SourceName: "a.wav", InterviewerCount: 1, ParticipantCount: 1})
	require.NoError(t, err)

	original := []models.Utterance{
		{StartSec: 0, EndSec: 1, Speaker: "I", Text: "hej"},
		{StartSec: 1, EndSec: 2, Speaker: "D", Text: "hej selv"},
	}
	require.NoError(t, store.SetFinalTranscript(t.Context(), job.ID, original))

	require.NoError(t, store.SwapRoles(t.Context(), job.ID))
	swapped, err := store.GetTranscript(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "D", swapped[0].Speaker)
	assert.Equal(t, "I", swapped[1].Speaker)

	require.NoError(t, store.SwapRoles(t.Context(), job.ID))
	restored, err := store.GetTranscript(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, original, restored)

	job, err = store.GetJob(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, job.Status)
}

func TestSetFinalTranscript_ClearsErrorMessage(t *testing.T) {
	store := newTestStore(t)
	job, err := store.CreateJob(t.Context(), &models.Job{SourcePath: "/tmp/a.wav", SourceName: "a.wav", InterviewerCount: 1, ParticipantCount: 1})
	require.NoError(t, err)

	msg := "noget gik galt"
	require.NoError(t, store.UpdateJobStatus(t.Context(), job.ID, models.StatusFailed, JobStatusUpdate{ErrorMessage: &msg}))

	require.NoError(t, store.SetFinalTranscript(t.Context(), job.ID, []models.Utterance{{Speaker: "I", Text: "hej"}}))

	job, err = store.GetJob(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, job.Status)
	assert.Nil(t, job.ErrorMessage)
}

func TestLatestIncompleteJob_SkipsTerminalStatuses(t *testing.T) {
	store := newTestStore(t)

	ready, err := store.CreateJob(t.Context(), &models.Job{SourcePath: "/tmp/ready.wav", SourceName: "ready.wav", InterviewerCount: 1, ParticipantCount: 1})
	require.NoError(t, err)
	require.NoError(t, store.SetFinalTranscript(t.Context(), ready.ID, []models.Utterance{{Speaker: "I", Text: "x"}}))

	queued, err := store.CreateJob(t.Context(), &models.Job{SourcePath: "/tmp/queued.wav", SourceName: "queued.wav", InterviewerCount: 1, ParticipantCount: 1})
	require.NoError(t, err)

	latest, err := store.LatestIncompleteJob(t.Context())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, queued.ID, latest.ID)
}

func TestAtomicWriteJSON_WritesViaTmpRename(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/result.json"
	require.NoError(t, AtomicWriteJSON(path, map[string]any{"ok": true}))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"ok": true`)

	_, err = os.ReadFile(path + ".tmp")
	assert.Error(t, err)
}
