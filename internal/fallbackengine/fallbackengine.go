// Package fallbackengine transcribes a chunk locally with diarization
// when the remote engine fails, gated by a coverage/speaker quality
// metric. The local model handle is owned by a Manager value rather than
// package-level mutable state.
package fallbackengine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"transkriptor/internal/models"
)

const (
	MinCoverage     = 0.85
	MinSpeakerCount = 2
)

// Quality is the metric FallbackEngine emits alongside its segments.
type Quality struct {
	Coverage     float64 `json:"coverage"`
	SpeakerCount int     `json:"speakerCount"`
	Passed       bool    `json:"passed"`
}

// LocalEngine is the contract the external local ASR+diarization library
// must satisfy. This package never constructs a concrete implementation;
// one is injected via a LocalEngineFactory.
type LocalEngine interface {
	Transcribe(ctx context.Context, path, language string) ([]models.Segment, error)
}

// LocalEngineFactory lazily constructs the process-wide local engine handle.
type LocalEngineFactory func() (LocalEngine, error)

// Manager owns the lazy, process-wide local-ASR-model singleton. It is
// loaded at most once per process; concurrent first-use is deduped by a
// singleflight.Group.
type Manager struct {
	mu      sync.Mutex
	factory LocalEngineFactory
	engine  LocalEngine
	loadErr error
	loaded  bool
	group   singleflight.Group
}

// New constructs a Manager around a (possibly nil) factory.
func New(factory LocalEngineFactory) *Manager {
	return &Manager{factory: factory}
}

var (
	defaultOnce    sync.Once
	defaultManager *Manager
)

// Default returns the process-wide Manager, constructing it (without a
// factory) on first use.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = New(nil)
	})
	return defaultManager
}

// SetFactory installs the local-engine constructor. A no-op once the engine
// has already been loaded.
func (m *Manager) SetFactory(factory LocalEngineFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return
	}
	m.factory = factory
}

func (m *Manager) ensureLoaded() (LocalEngine, error) {
	m.mu.Lock()
	if m.loaded {
		engine, err := m.engine, m.loadErr
		m.mu.Unlock()
		return engine, err
	}
	factory := m.factory
	m.mu.Unlock()

	v, err, _ := m.group.Do("load", func() (any, error) {
		m.mu.Lock()
		if m.loaded {
			engine, err := m.engine, m.loadErr
			m.mu.Unlock()
			return engine, err
		}
		m.mu.Unlock()

		if factory == nil {
			return nil, fmt.Errorf("%w: no local engine configured", models.ErrFallbackUnavailable)
		}
		engine, loadErr := factory()
		if loadErr != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrFallbackUnavailable, loadErr)
		}

		m.mu.Lock()
		m.engine, m.loaded = engine, true
		m.mu.Unlock()
		return engine, nil
	})
	if err != nil {
		return nil, err
	}
	engine, _ := v.(LocalEngine)
	return engine, nil
}

// TranscribeChunk transcribes one chunk through the local engine.
// huggingFaceToken is required (absence is ErrFallbackUnavailable); the
// local model is loaded lazily; empty results and results failing the
// coverage/speaker-count gate return ErrLowSpeakerConfidence, the latter
// carrying the computed Quality.
func (m *Manager) TranscribeChunk(ctx context.Context, path, language, huggingFaceToken string) ([]models.Segment, Quality, error) {
	if strings.TrimSpace(huggingFaceToken) == "" {
		return nil, Quality{}, fmt.Errorf("%w: HUGGINGFACE_TOKEN er ikke sat", models.ErrFallbackUnavailable)
	}

	engine, err := m.ensureLoaded()
	if err != nil {
		return nil, Quality{}, err
	}

	segments, err := engine.Transcribe(ctx, path, language)
	if err != nil {
		return nil, Quality{}, fmt.Errorf("%w: %v", models.ErrFallbackUnavailable, err)
	}

	segments = dropBlankText(segments)
	if len(segments) == 0 {
		return nil, Quality{}, fmt.Errorf("%w: fallback gav ingen segmenter", models.ErrLowSpeakerConfidence)
	}

	withSpeaker := 0
	speakerSet := map[string]struct{}{}
	for _, s := range segments {
		if s.Speaker != "" && s.Speaker != "unknown" && s.Speaker != "None" {
			withSpeaker++
			speakerSet[s.Speaker] = struct{}{}
		}
	}
	quality := Quality{
		Coverage:     float64(withSpeaker) / float64(len(segments)),
		SpeakerCount: len(speakerSet),
	}
	quality.Passed = quality.Coverage >= MinCoverage && quality.SpeakerCount >= MinSpeakerCount

	if !quality.Passed {
		return segments, quality, fmt.Errorf("%w: lav diarization-sikkerhed i fallback (coverage=%.2f, speakers=%d)",
			models.ErrLowSpeakerConfidence, quality.Coverage, quality.SpeakerCount)
	}
	return segments, quality, nil
}

func dropBlankText(segments []models.Segment) []models.Segment {
	out := make([]models.Segment, 0, len(segments))
	for _, s := range segments {
		if trimmed := strings.TrimSpace(s.Text); trimmed != "" {
			s.Text = trimmed
			out = append(out, s)
		}
	}
	return out
}
