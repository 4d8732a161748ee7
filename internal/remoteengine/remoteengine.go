// Package remoteengine transcribes a chunk through the remote
// diarization+ASR API: a diarize call and a verbose-transcription call per
// chunk, merged by time overlap, with response_format negotiation and
// jittered exponential backoff.
package remoteengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"transkriptor/internal/models"
)

const (
	DiarizeModel      = "gpt-4o-transcribe-diarize"
	TextModel         = "whisper-1"
	DefaultLanguage   = "da"
	DefaultMaxRetries = 5
	backoffInitialSec = 1.0
	backoffCapSec     = 12.0
	jitterMinSec      = 0.05
	jitterMaxSec      = 0.4
	endpoint          = "https://api.openai.com/v1/audio/transcriptions"
)

// Engine calls the remote transcription+diarization API.
type Engine struct {
	APIKey     string
	HTTPClient *http.Client
	// Endpoint overrides the API URL; tests point it at an httptest server.
	Endpoint string
	// Rand is used for retry jitter; overridable in tests for determinism.
	Rand *rand.Rand
	// SleepFunc overrides the retry backoff sleep; tests set it to a no-op.
	SleepFunc func(time.Duration)
}

// New constructs an Engine with a wall-clock client timeout, taken from
// OPENAI_REQUEST_TIMEOUT_SEC by the caller.
func New(apiKey string, timeoutSec int) *Engine {
	if timeoutSec <= 0 {
		timeoutSec = 600
	}
	return &Engine{
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		Endpoint:   endpoint,
	}
}

func (e *Engine) sleep(d time.Duration) {
	if e.SleepFunc != nil {
		e.SleepFunc(d)
		return
	}
	time.Sleep(d)
}

func (e *Engine) endpointURL() string {
	if e.Endpoint != "" {
		return e.Endpoint
	}
	return endpoint
}

// TranscribeChunk transcribes one chunk: a diarize call then a verbose
// text call, merged by overlap, with jittered exponential backoff across
// whole-attempt failures.
func (e *Engine) TranscribeChunk(ctx context.Context, path, language string, maxRetries int) ([]models.Segment, *float64, error) {
	if language == "" {
		language = DefaultLanguage
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if strings.TrimSpace(e.APIKey) == "" {
		return nil, nil, fmt.Errorf("%w: OPENAI_API_KEY mangler", models.ErrRemoteFailed)
	}

	backoff := backoffInitialSec
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		diarized, derr := e.requestDiarizedPayload(ctx, path, language)
		if derr != nil {
			lastErr = derr
		} else {
			verbose, verr := e.requestVerbosePayload(ctx, path, language)
			if verr != nil {
				lastErr = verr
			} else {
				merged := mergeTextWithSpeakers(verbose, diarized)
				return merged, averageConfidence(merged), nil
			}
		}

		if attempt >= maxRetries {
			break
		}
		jitter := jitterMinSec + e.randFloat()*(jitterMaxSec-jitterMinSec)
		e.sleep(time.Duration((backoff + jitter) * float64(time.Second)))
		backoff = math.Min(backoff*2, backoffCapSec)
	}

	return nil, nil, fmt.Errorf("%w: transskription fejlede efter %d forsøg: %v", models.ErrRemoteFailed, maxRetries, lastErr)
}

func (e *Engine) randFloat() float64 {
	if e.Rand != nil {
		return e.Rand.Float64()
	}
	return rand.Float64()
}

// requestDiarizedPayload tries response_format="diarized_json" then falls
// back to "json" if the provider rejects the format (message containing
// "response_format" or "unsupported_value"); any other error is fatal for
// this attempt.
func (e *Engine) requestDiarizedPayload(ctx context.Context, path, language string) ([]models.Segment, error) {
	formats := []string{"diarized_json", "json"}
	var lastErr error
	for _, format := range formats {
		raw, err := e.doMultipart(ctx, path, map[string]string{
			"model":           DiarizeModel,
			"language":        language,
			"chunking_strategy": "auto",
			"response_format": format,
		})
		if err == nil {
			return parseDiarizePayload(raw), nil
		}
		lastErr = err
		if !isResponseFormatError(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (e *Engine) requestVerbosePayload(ctx context.Context, path, language string) ([]models.Segment, error) {
	fields := map[string]string{
		"model":           TextModel,
		"language":        language,
		"response_format": "verbose_json",
	}
	raw, err := e.doMultipart(ctx, path, fields)
	if err != nil {
		return nil, err
	}
	return parseVerbosePayload(raw), nil
}

func isResponseFormatError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "response_format") || strings.Contains(msg, "unsupported_value")
}

func (e *Engine) doMultipart(ctx context.Context, filePath string, fields map[string]string) (map[string]any, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open chunk file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to copy file content: %w", err)
	}
	for key, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(key, value); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpointURL(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+e.APIKey)

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	// A bare-text response ("text" format) is not valid JSON; treat it as
	// a single-field payload so callers can still extract "text".
	var parsed map[string]any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return map[string]any{"text": string(respBody)}, nil
	}
	return parsed, nil
}
