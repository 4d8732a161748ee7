package models

import "errors"

// Error kinds from the core's error-handling design. Callers use
// errors.Is/errors.As against these sentinels rather than string matching.
var (
	ErrProbeFailed          = errors.New("probe failed")
	ErrRenderFailed         = errors.New("render failed")
	ErrRemoteFailed         = errors.New("remote engine failed")
	ErrFallbackUnavailable  = errors.New("fallback engine unavailable")
	ErrLowSpeakerConfidence = errors.New("low speaker confidence")
	ErrSourceMissing        = errors.New("source media missing")
	ErrEditorParse          = errors.New("editor parse error")
	ErrStore                = errors.New("store error")
)
