package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"transkriptor/internal/chunkplanner"
	"transkriptor/internal/config"
	"transkriptor/internal/eventstream"
	"transkriptor/internal/fallbackengine"
	"transkriptor/internal/models"
	"transkriptor/internal/remoteengine"
	"transkriptor/internal/repository"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// testEnv wires a Driver against fake ffmpeg/ffprobe scripts, an httptest
// remote API, and an in-memory store, so a full job run never leaves the
// test process.
type testEnv struct {
	cfg     *config.Config
	store   *repository.JobStore
	driver  *Driver
	events  *bytes.Buffer
	remote  *remoteengine.Engine
	handler *atomic.Value // holds http.HandlerFunc
}

func writeFakeBinary(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func newTestEnv(t *testing.T, durationSec float64) *testEnv {
	t.Helper()

	bin := t.TempDir()
	ffprobe := writeFakeBinary(t, bin, "ffprobe", fmt.Sprintf(`cat <<EOF
{"format": {"duration": "%g"}}
EOF
`, durationSec))
	ffmpeg := writeFakeBinary(t, bin, "ffmpeg", `for arg in "$@"; do out="$arg"; done
printf 'RIFF....WAVEfmt ' > "$out"
`)

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Job{}, &models.Chunk{}))
	store := repository.NewJobStore(db)

	handler := &atomic.Value{}
	handler.Store(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no handler installed", http.StatusInternalServerError)
	}))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.Load().(http.HandlerFunc)(w, r)
	}))
	t.Cleanup(srv.Close)

	remote := &remoteengine.Engine{
		APIKey:     "test-key",
		HTTPClient: srv.Client(),
		Endpoint:   srv.URL,
		SleepFunc:  func(time.Duration) {},
	}

	cfg := &config.Config{
		AppDataDir:       t.TempDir(),
		FFmpegBin:        ffmpeg,
		FFprobeBin:       ffprobe,
		HuggingFaceToken: "hf-test",
	}
	events := &bytes.Buffer{}
	fallback := fallbackengine.New(nil)

	drv := New(store, chunkplanner.New(ffmpeg, ffprobe), remote, fallback, cfg, eventstream.New(events))
	return &testEnv{cfg: cfg, store: store, driver: drv, events: events, remote: remote, handler: handler}
}

// serveTwoSpeakerInterview answers both remote calls for every chunk: the
// diarize model gets two speaker windows, the verbose model gets the actual
// Danish text, with the question always landing in spk_a's window.
func serveTwoSpeakerInterview(failChunks map[string]bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseMultipartForm(1 << 20)
		fileName := ""
		if files := r.MultipartForm.File["file"]; len(files) > 0 {
			fileName = files[0].Filename
		}
		if failChunks[fileName] {
			http.Error(w, `{"error":{"message":"timed out"}}`, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if r.FormValue("model") == remoteengine.TextModel {
			var body string
			switch fileName {
			case "chunk_0000.wav":
				body = `{"segments":[
					{"start":0,"end":3,"text":"Kan du starte med at fortælle om din baggrund?","avg_logprob":-0.1},
					{"start":3,"end":8,"text":"Ja, jeg arbejder som fysioterapeut i Aarhus.","avg_logprob":-0.2}]}`
			default:
				body = `{"segments":[
					{"start":0,"end":3,"text":"Hvornår fik du første symptomer?","avg_logprob":-0.1},
					{"start":3,"end":8,"text":"Det startede for cirka to år siden med smerter.","avg_logprob":-0.2}]}`
			}
			fmt.Fprint(w, body)
			return
		}
		fmt.Fprint(w, `{"segments":[
			{"start":0,"end":3,"speaker":"spk_a","text":"..."},
			{"start":3,"end":8,"speaker":"spk_b","text":"..."}]}`)
	}
}

func createJob(t *testing.T, env *testEnv) *models.Job {
	t.Helper()
	source := filepath.Join(t.TempDir(), "interview.wav")
	require.NoError(t, os.WriteFile(source, []byte("fake recording"), 0644))
	job, err := env.store.CreateJob(t.Context(), &models.Job{SourcePath: source, SourceName: "interview.wav", InterviewerCount: 1, ParticipantCount: 1})
	require.NoError(t, err)
	return job
}

func decodeEvents(t *testing.T, raw []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var ev map[string]any
		require.NoError(t, dec.Decode(&ev))
		out = append(out, ev)
	}
	return out
}

func TestRunJob_CompletesWithLabeledTranscriptAndCheckpoints(t *testing.T) {
	env := newTestEnv(t, 300) // 2 chunks at 240s/1.5s overlap
	env.handler.Store(serveTwoSpeakerInterview(nil))
	job := createJob(t, env)

	code, err := env.driver.RunJob(t.Context(), job.ID, false)
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)

	stored, err := env.store.GetJob(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, stored.Status)
	assert.Equal(t, 2, stored.ChunksTotal)
	assert.Equal(t, 2, stored.ChunksDone)
	assert.Nil(t, stored.ErrorMessage)

	transcript, err := env.store.GetTranscript(t.Context(), job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, transcript)
	for _, u := range transcript {
		assert.Contains(t, []string{"I", "D"}, u.Speaker)
	}

	for _, name := range []string{"chunk_0000.json", "chunk_0001.json", "result.json"} {
		_, err := os.Stat(filepath.Join(env.cfg.CheckpointsDir(job.ID), name))
		assert.NoError(t, err, name)
	}
}

// Globalization: every stored per-chunk utterance is the chunk-local segment
// shifted by the chunk's start offset.
func TestRunJob_StoresChunkTranscriptsInGlobalTime(t *testing.T) {
	env := newTestEnv(t, 300)
	env.handler.Store(serveTwoSpeakerInterview(nil))
	job := createJob(t, env)

	code, err := env.driver.RunJob(t.Context(), job.ID, false)
	require.NoError(t, err)
	require.Equal(t, ExitOK, code)

	chunks, err := env.store.ListChunks(t.Context(), job.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	localStarts := []float64{0, 3}
	for _, c := range chunks {
		assert.Equal(t, models.ChunkDone, c.Status)
		utterances, err := repository.UnmarshalUtterances(c.TranscriptJSON)
		require.NoError(t, err)
		require.Len(t, utterances, 2)
		for i, u := range utterances {
			assert.InDelta(t, c.StartSec+localStarts[i], u.StartSec, 1e-6)
		}
	}
}

func TestRunJob_ProgressIsMonotonic(t *testing.T) {
	env := newTestEnv(t, 300)
	env.handler.Store(serveTwoSpeakerInterview(nil))
	job := createJob(t, env)

	code, err := env.driver.RunJob(t.Context(), job.ID, false)
	require.NoError(t, err)
	require.Equal(t, ExitOK, code)

	lastPercent := map[string]float64{}
	lastDone := -1.0
	for _, ev := range decodeEvents(t, env.events.Bytes()) {
		if ev["type"] != "progress" {
			continue
		}
		payload := ev["payload"].(map[string]any)
		stage := payload["stage"].(string)
		percent := payload["percent"].(float64)
		done := payload["chunksDone"].(float64)

		assert.GreaterOrEqual(t, percent, lastPercent[stage], "percent within stage %s", stage)
		lastPercent[stage] = percent
		assert.GreaterOrEqual(t, done, lastDone)
		lastDone = done
	}
}

// A remote failure whose fallback can't separate speakers pauses the job
// (exit 2), and a later resume with a healthy remote finishes it with the
// same transcript an uninterrupted run produces.
func TestRunJob_PausesOnLowSpeakerConfidenceThenResumes(t *testing.T) {
	env := newTestEnv(t, 300)
	env.driver.Fallback = fallbackengine.New(func() (fallbackengine.LocalEngine, error) {
		return singleSpeakerStub{}, nil
	})
	env.handler.Store(serveTwoSpeakerInterview(map[string]bool{"chunk_0001.wav": true}))
	job := createJob(t, env)

	code, err := env.driver.RunJob(t.Context(), job.ID, false)
	require.Error(t, err)
	assert.Equal(t, ExitPausedResumable, code)

	paused, err := env.store.GetJob(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPausedRetryOpenAI, paused.Status)
	require.NotNil(t, paused.ErrorMessage)

	chunks, err := env.store.ListChunks(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ChunkDone, chunks[0].Status)
	assert.Equal(t, models.ChunkPausedRetryOpenAI, chunks[1].Status)

	// remote recovers; resume finishes from the paused chunk
	env.handler.Store(serveTwoSpeakerInterview(nil))
	code, err = env.driver.RunJob(t.Context(), job.ID, true)
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)

	resumed, err := env.store.GetTranscript(t.Context(), job.ID)
	require.NoError(t, err)

	// reference: the same recording processed in one uninterrupted run
	ref := newTestEnv(t, 300)
	ref.handler.Store(serveTwoSpeakerInterview(nil))
	refJob := createJob(t, ref)
	code, err = ref.driver.RunJob(t.Context(), refJob.ID, false)
	require.NoError(t, err)
	require.Equal(t, ExitOK, code)
	uninterrupted, err := ref.store.GetTranscript(t.Context(), refJob.ID)
	require.NoError(t, err)

	assert.Equal(t, uninterrupted, resumed)
}

func TestRunJob_FailsWhenRemoteAndFallbackBothFail(t *testing.T) {
	env := newTestEnv(t, 300)
	env.handler.Store(serveTwoSpeakerInterview(map[string]bool{
		"chunk_0000.wav": true, "chunk_0001.wav": true,
	}))
	job := createJob(t, env)

	code, err := env.driver.RunJob(t.Context(), job.ID, false)
	require.Error(t, err)
	assert.Equal(t, ExitFatal, code)

	failed, err := env.store.GetJob(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorMessage)
	assert.Contains(t, *failed.ErrorMessage, "OpenAI:")
	assert.Contains(t, *failed.ErrorMessage, "Fallback:")
}

func TestRunJob_SourceMissingIsFatal(t *testing.T) {
	env := newTestEnv(t, 300)
	job, err := env.store.CreateJob(t.Context(), &models.Job{SourcePath: "/nonexistent/recording.wav", SourceName: "recording.wav", InterviewerCount: 1, ParticipantCount: 1})
	require.NoError(t, err)

	code, err := env.driver.RunJob(t.Context(), job.ID, false)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrSourceMissing)
	assert.Equal(t, ExitFatal, code)
}

// singleSpeakerStub produces segments that all share one speaker, so the
// fallback quality gate always rejects them.
type singleSpeakerStub struct{}

func (singleSpeakerStub) Transcribe(ctx context.Context, path, language string) ([]models.Segment, error) {
	return []models.Segment{
		{StartSec: 0, EndSec: 3, Speaker: "speaker_0", Text: "hej"},
		{StartSec: 3, EndSec: 8, Speaker: "speaker_0", Text: "hej igen"},
	}, nil
}
