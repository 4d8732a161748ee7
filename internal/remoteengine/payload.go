package remoteengine

import (
	"math"
	"strings"

	"transkriptor/internal/models"
)

// parseDiarizePayload tries "segments", then "utterances", then falls
// back to a single [0,0) segment built from a bare "text" field, else
// returns no segments.
func parseDiarizePayload(payload map[string]any) []models.Segment {
	if raw, ok := asSliceOfMaps(payload["segments"]); ok {
		return parseRawSegmentRows(raw, true)
	}
	if raw, ok := asSliceOfMaps(payload["utterances"]); ok {
		return parseRawSegmentRows(raw, true)
	}
	if text, ok := payload["text"].(string); ok && strings.TrimSpace(text) != "" {
		return []models.Segment{{StartSec: 0, EndSec: 0, Speaker: "speaker_0", Text: strings.TrimSpace(text)}}
	}
	return nil
}

// parseVerbosePayload implements _parse_whisper_segments: speaker is always
// "unknown"; confidence derives from clamp(exp(avg_logprob),0,1) when no
// explicit confidence is present.
func parseVerbosePayload(payload map[string]any) []models.Segment {
	raw, ok := asSliceOfMaps(payload["segments"])
	if !ok {
		if text, ok := payload["text"].(string); ok && strings.TrimSpace(text) != "" {
			return []models.Segment{{StartSec: 0, EndSec: 0, Speaker: "unknown", Text: strings.TrimSpace(text)}}
		}
		return nil
	}

	out := make([]models.Segment, 0, len(raw))
	for _, row := range raw {
		text := strings.TrimSpace(asString(row["text"]))
		if text == "" {
			continue
		}
		start := asFloatDefault(row["start"], asFloatDefault(row["start_sec"], 0))
		end := asFloatDefault(row["end"], asFloatDefault(row["end_sec"], start))

		var confidence *float64
		if c, ok := asFloatOK(row["confidence"]); ok {
			confidence = &c
		} else if c, ok := asFloatOK(row["probability"]); ok {
			confidence = &c
		} else if logprob, ok := asFloatOK(row["avg_logprob"]); ok {
			clamped := math.Min(math.Max(math.Exp(logprob), 0), 1)
			confidence = &clamped
		}

		out = append(out, models.Segment{
			StartSec:   math.Max(0, start),
			EndSec:     math.Max(start, end),
			Speaker:    "unknown",
			Text:       text,
			Confidence: confidence,
		})
	}
	return out
}

// parseRawSegmentRows implements the shared body of _parse_segments: per-row
// speaker resolution and numeric coercion, optionally averaging word-level
// confidences.
func parseRawSegmentRows(rows []map[string]any, withSpeaker bool) []models.Segment {
	out := make([]models.Segment, 0, len(rows))
	for _, row := range rows {
		text := strings.TrimSpace(asString(row["text"]))
		if text == "" {
			continue
		}
		start := asFloatDefault(row["start"], asFloatDefault(row["start_sec"], 0))
		end := asFloatDefault(row["end"], asFloatDefault(row["end_sec"], start))

		var confidence *float64
		if c, ok := asFloatOK(row["confidence"]); ok {
			confidence = &c
		} else if c, ok := asFloatOK(row["probability"]); ok {
			confidence = &c
		} else if words, ok := asSliceOfMaps(row["words"]); ok {
			if avg, ok := averageWordConfidence(words); ok {
				confidence = &avg
			}
		}

		speaker := "speaker_0"
		if withSpeaker {
			speaker = parseSpeaker(row)
		}

		out = append(out, models.Segment{
			StartSec:   math.Max(0, start),
			EndSec:     math.Max(start, end),
			Speaker:    speaker,
			Text:       text,
			Confidence: confidence,
		})
	}
	return out
}

func parseSpeaker(row map[string]any) string {
	for _, key := range []string{"speaker", "speaker_id", "speaker_label"} {
		if v, ok := row[key]; ok {
			if s := asString(v); s != "" {
				return s
			}
		}
	}
	return "speaker_0"
}

func averageWordConfidence(words []map[string]any) (float64, bool) {
	var sum float64
	var n int
	for _, w := range words {
		if c, ok := asFloatOK(w["confidence"]); ok {
			sum += c
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// overlap implements _overlap: the duration two [start,end) windows share.
func overlap(aStart, aEnd, bStart, bEnd float64) float64 {
	o := math.Min(aEnd, bEnd) - math.Max(aStart, bStart)
	if o < 0 {
		return 0
	}
	return o
}

// assignSpeaker implements _assign_speaker: best-overlap candidate, falling
// back to nearest-midpoint when no overlap exists, and to "speaker_0" when
// there is no diarization at all.
func assignSpeaker(seg models.Segment, diarized []models.Segment) string {
	if len(diarized) == 0 {
		return "speaker_0"
	}

	bestOverlap := -1.0
	bestSpeaker := ""
	for _, d := range diarized {
		o := overlap(seg.StartSec, seg.EndSec, d.StartSec, d.EndSec)
		if o > bestOverlap {
			bestOverlap = o
			bestSpeaker = d.Speaker
		}
	}
	if bestOverlap > 0 {
		return bestSpeaker
	}

	segMid := (seg.StartSec + seg.EndSec) / 2
	nearest := math.MaxFloat64
	nearestSpeaker := diarized[0].Speaker
	for _, d := range diarized {
		mid := (d.StartSec + d.EndSec) / 2
		dist := math.Abs(mid - segMid)
		if dist < nearest {
			nearest = dist
			nearestSpeaker = d.Speaker
		}
	}
	return nearestSpeaker
}

// mergeTextWithSpeakers implements _merge_text_with_speakers: text segments
// (word-timed, speakerless) get a raw speaker id assigned from the diarized
// segments by overlap; if there is no text, the diarized segments stand in
// as-is; if there is no diarization, every text segment defaults to
// "speaker_0" via assignSpeaker's empty-diarized branch.
func mergeTextWithSpeakers(text, diarized []models.Segment) []models.Segment {
	if len(text) == 0 {
		return diarized
	}
	out := make([]models.Segment, len(text))
	for i, seg := range text {
		seg.Speaker = assignSpeaker(seg, diarized)
		out[i] = seg
	}
	return out
}

func averageConfidence(segments []models.Segment) *float64 {
	var sum float64
	var n int
	for _, s := range segments {
		if s.Confidence != nil {
			sum += *s.Confidence
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}

// --- duck-typed coercion helpers, mirroring _to_dict's tolerance for
// heterogeneous JSON shapes ---

func asSliceOfMaps(v any) ([]map[string]any, bool) {
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out, true
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloatOK(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asFloatDefault(v any, def float64) float64 {
	if f, ok := asFloatOK(v); ok {
		return f
	}
	return def
}
