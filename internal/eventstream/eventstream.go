// Package eventstream implements the line-delimited JSON progress
// protocol: {"type": <kind>, "payload": <object>}, one event per line.
package eventstream

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"transkriptor/internal/models"
)

// Emitter writes one JSON object per line to an underlying writer (stdout
// in the CLI, a buffer in tests).
type Emitter struct {
	w io.Writer
}

func New(w io.Writer) *Emitter {
	return &Emitter{w: w}
}

type event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (e *Emitter) emit(kind string, payload any) {
	line, err := json.Marshal(event{Type: kind, Payload: payload})
	if err != nil {
		return
	}
	fmt.Fprintln(e.w, string(line))
}

// Stage is one of "preprocess", "transcribe", "merge".
type Stage string

const (
	StagePreprocess Stage = "preprocess"
	StageTranscribe Stage = "transcribe"
	StageMerge      Stage = "merge"
)

// ProgressPayload is the shared shape for "progress" and "paused" events.
type ProgressPayload struct {
	JobID       string  `json:"jobId"`
	Status      string  `json:"status"`
	Stage       Stage   `json:"stage"`
	Percent     float64 `json:"percent"`
	EtaSeconds  *int    `json:"etaSeconds"`
	ChunksDone  int     `json:"chunksDone"`
	ChunksTotal int     `json:"chunksTotal"`
	Message     string  `json:"message"`
}

func clampPercent(p float64) float64 {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	mult := 100.0
	return math.Round(p*mult) / mult
}

// Progress emits a "progress" event with percent clamped to [0,100] and
// rounded to 2 decimals.
func (e *Emitter) Progress(p ProgressPayload) {
	p.Percent = clampPercent(p.Percent)
	e.emit("progress", p)
}

// Paused emits a "paused" event -- same shape as progress, status
// "paused_retry_openai".
func (e *Emitter) Paused(p ProgressPayload) {
	p.Percent = clampPercent(p.Percent)
	e.emit("paused", p)
}

// ResultPayload is the "result" event shape, identical to result.json.
type ResultPayload struct {
	JobID       string             `json:"jobId"`
	SourcePath  string             `json:"sourcePath"`
	DurationSec float64            `json:"durationSec"`
	Transcript  []models.Utterance `json:"transcript"`
}

func (e *Emitter) Result(p ResultPayload) {
	e.emit("result", p)
}

// ErrorPayload is the "error" event shape.
type ErrorPayload struct {
	JobID   *string `json:"jobId,omitempty"`
	Message string  `json:"message"`
}

func (e *Emitter) Error(p ErrorPayload) {
	e.emit("error", p)
}
