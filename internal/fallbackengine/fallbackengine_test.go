package fallbackengine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"transkriptor/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	segments []models.Segment
	err      error
}

func (s *stubEngine) Transcribe(ctx context.Context, path, language string) ([]models.Segment, error) {
	return s.segments, s.err
}

func TestTranscribeChunk_MissingTokenIsFallbackUnavailable(t *testing.T) {
	m := New(func() (LocalEngine, error) { return &stubEngine{}, nil })
	_, _, err := m.TranscribeChunk(t.Context(), "chunk.wav", "da", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrFallbackUnavailable)
}

func TestTranscribeChunk_PassingQualityGate(t *testing.T) {
	segs := []models.Segment{
		{StartSec: 0, EndSec: 1, Speaker: "speaker_0", Text: "hej"},
		{StartSec: 1, EndSec: 2, Speaker: "speaker_1", Text: "hej igen"},
	}
	m := New(func() (LocalEngine, error) { return &stubEngine{segments: segs}, nil })

	out, quality, err := m.TranscribeChunk(t.Context(), "chunk.wav", "da", "hf-token")
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.True(t, quality.Passed)
	assert.Equal(t, 1.0, quality.Coverage)
	assert.Equal(t, 2, quality.SpeakerCount)
}

func TestTranscribeChunk_LowSpeakerConfidenceBelowCoverageThreshold(t *testing.T) {
	segs := []models.Segment{
		{StartSec: 0, EndSec: 1, Speaker: "unknown", Text: "hej"},
		{StartSec: 1, EndSec: 2, Speaker: "speaker_0", Text: "hej igen"},
	}
	m := New(func() (LocalEngine, error) { return &stubEngine{segments: segs}, nil })

	_, quality, err := m.TranscribeChunk(t.Context(), "chunk.wav", "da", "hf-token")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrLowSpeakerConfidence)
	assert.False(t, quality.Passed)
}

func TestTranscribeChunk_LowSpeakerConfidenceBelowSpeakerCount(t *testing.T) {
	segs := []models.Segment{
		{StartSec: 0, EndSec: 1, Speaker: "speaker_0", Text: "hej"},
		{StartSec: 1, EndSec: 2, Speaker: "speaker_0", Text: "hej igen"},
	}
	m := New(func() (LocalEngine, error) { return &stubEngine{segments: segs}, nil })

	_, quality, err := m.TranscribeChunk(t.Context(), "chunk.wav", "da", "hf-token")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrLowSpeakerConfidence)
	assert.Equal(t, 1, quality.SpeakerCount)
}

func TestTranscribeChunk_EmptyTextSegmentsAreDropped(t *testing.T) {
	segs := []models.Segment{
		{StartSec: 0, EndSec: 1, Speaker: "speaker_0", Text: "   "},
	}
	m := New(func() (LocalEngine, error) { return &stubEngine{segments: segs}, nil })

	_, _, err := m.TranscribeChunk(t.Context(), "chunk.wav", "da", "hf-token")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrLowSpeakerConfidence)
}

func TestTranscribeChunk_FactoryLoadFailureIsFallbackUnavailable(t *testing.T) {
	m := New(func() (LocalEngine, error) { return nil, errors.New("model missing") })
	_, _, err := m.TranscribeChunk(t.Context(), "chunk.wav", "da", "hf-token")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrFallbackUnavailable)
}

// The process-wide model load happens at most once per Manager: concurrent
// first-use is deduped by the singleflight group, not re-invoked per call.
func TestEnsureLoaded_FactoryCalledOnlyOnce(t *testing.T) {
	var calls int64
	m := New(func() (LocalEngine, error) {
		atomic.AddInt64(&calls, 1)
		return &stubEngine{segments: []models.Segment{
			{StartSec: 0, EndSec: 1, Speaker: "speaker_0", Text: "a"},
			{StartSec: 1, EndSec: 2, Speaker: "speaker_1", Text: "b"},
		}}, nil
	})

	for i := 0; i < 5; i++ {
		_, _, err := m.TranscribeChunk(t.Context(), "chunk.wav", "da", "hf-token")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}
