// Package postprocess turns raw concatenated chunk transcripts into the
// final labeled transcript: dedupe overlapping segments, strip
// backchannels/technical-meta noise, remove interruption backchannels
// between same-speaker bookends, merge consecutive same-speaker runs,
// infer which raw speaker ids are interviewers, and emit {I,D} labels.
package postprocess

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"transkriptor/internal/models"
)

var nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
var nonWordCharRe = regexp.MustCompile(`[^\p{L}\p{N}_]`)

// normalize lowercases, replaces punctuation with spaces, and collapses
// whitespace.
func normalize(text string) string {
	lower := strings.ToLower(text)
	replaced := nonWordRe.ReplaceAllString(lower, " ")
	return strings.Join(strings.Fields(replaced), " ")
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

// stripFillers drops filler tokens word-by-word (matched after
// lowercasing and stripping non-word characters from each token), then
// trims trailing punctuation.
func stripFillers(text string) string {
	words := strings.Fields(text)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		cleaned := strings.ToLower(nonWordCharRe.ReplaceAllString(w, ""))
		if _, isFiller := models.FillerTokens[cleaned]; isFiller {
			continue
		}
		kept = append(kept, w)
	}
	return strings.TrimRight(strings.Join(kept, " "), " ,.-")
}

// isBackchannel: empty text counts as a backchannel; otherwise membership
// in the backchannel set plus a two-word cap.
func isBackchannel(text string) bool {
	norm := normalize(text)
	if norm == "" {
		return true
	}
	if wordCount(norm) > models.ShortBackchannelMaxWords {
		return false
	}
	_, ok := models.Backchannels[norm]
	return ok
}

// isTechnicalMeta flags short utterances about call/connection logistics.
func isTechnicalMeta(text string) bool {
	norm := normalize(text)
	if norm == "" {
		return true
	}
	wc := wordCount(norm)
	if containsAny(norm, models.TechMetaKeywords) && wc <= models.TechnicalMetaMaxWords {
		return true
	}
	if containsAny(norm, models.TechMetaStrongKeywords) && wc <= models.TechnicalMetaStrongMaxWords {
		return true
	}
	return false
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func sortByStartEnd(utterances []models.Utterance) []models.Utterance {
	out := append([]models.Utterance(nil), utterances...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartSec != out[j].StartSec {
			return out[i].StartSec < out[j].StartSec
		}
		return out[i].EndSec < out[j].EndSec
	})
	return out
}

// DedupeSegments collapses overlapping repeats and retransmissions of the
// same text across the chunk seam.
func DedupeSegments(utterances []models.Utterance) []models.Utterance {
	sorted := sortByStartEnd(utterances)
	var out []models.Utterance

	for _, curr := range sorted {
		if strings.TrimSpace(curr.Text) == "" {
			continue
		}
		if len(out) == 0 {
			out = append(out, curr)
			continue
		}
		prevIdx := len(out) - 1
		prev := out[prevIdx]

		prevNorm := normalize(prev.Text)
		currNorm := normalize(curr.Text)
		sameText := prevNorm == currNorm
		overlapping := curr.StartSec <= prev.EndSec+models.DedupeOverlapToleranceSec
		sameSpeaker := prev.Speaker == curr.Speaker

		switch {
		case sameText && overlapping:
			if curr.EndSec > prev.EndSec {
				out[prevIdx].EndSec = curr.EndSec
			}
			out[prevIdx].Confidence = mergeConfidenceIfCurrHas(prev.Confidence, curr.Confidence)
		case overlapping && sameSpeaker && prevNorm != "" && currNorm != "":
			switch {
			case strings.HasPrefix(currNorm, prevNorm):
				out[prevIdx].Text = curr.Text
				if curr.EndSec > prev.EndSec {
					out[prevIdx].EndSec = curr.EndSec
				}
				out[prevIdx].Confidence = preferNonZero(curr.Confidence, prev.Confidence)
			case strings.HasPrefix(prevNorm, currNorm):
				// drop curr: it is a strict prefix of what we already have
			default:
				out = append(out, curr)
			}
		default:
			out = append(out, curr)
		}
	}
	return out
}

func mergeConfidenceIfCurrHas(prev, curr *float64) *float64 {
	if curr == nil {
		return prev
	}
	prevVal := 0.0
	if prev != nil {
		prevVal = *prev
	}
	result := math.Max(prevVal, *curr)
	return &result
}

// preferNonZero takes curr's confidence unless it is absent or exactly 0,
// in which case prev's stands.
func preferNonZero(curr, prev *float64) *float64 {
	if curr != nil && *curr != 0 {
		return curr
	}
	return prev
}

// FilterStyleNoise strips fillers/backchannels/tech-meta chatter, then
// (with at least three survivors) removes interruption backchannels and
// merges same-speaker runs.
func FilterStyleNoise(utterances []models.Utterance) []models.Utterance {
	sorted := sortByStartEnd(utterances)

	var survivors []models.Utterance
	for _, u := range sorted {
		stripped := stripFillers(strings.TrimSpace(u.Text))
		if stripped == "" {
			continue
		}
		if isBackchannel(stripped) {
			continue
		}
		if isTechnicalMeta(stripped) {
			continue
		}
		u.Text = stripped
		survivors = append(survivors, u)
	}

	if len(survivors) < 3 {
		return survivors
	}

	compacted := removeInterruptionBackchannels(survivors)
	return mergeSpeakerRuns(compacted)
}

// removeInterruptionBackchannels drops short backchannels wedged between
// two utterances by the same other speaker, close in time on both sides.
func removeInterruptionBackchannels(survivors []models.Utterance) []models.Utterance {
	compacted := append([]models.Utterance(nil), survivors...)
	i := 1
	for i < len(compacted)-1 {
		curr := compacted[i]
		prev := compacted[i-1]
		next := compacted[i+1]

		if wordCount(normalize(curr.Text)) <= models.InterruptionMaxWords &&
			isBackchannel(curr.Text) &&
			prev.Speaker == next.Speaker &&
			prev.Speaker != curr.Speaker &&
			(curr.StartSec-prev.EndSec) <= models.InterruptionMaxGapSec &&
			(next.StartSec-curr.EndSec) <= models.InterruptionMaxGapSec {
			compacted = append(compacted[:i], compacted[i+1:]...)
			continue
		}
		i++
	}
	return compacted
}

// mergeSpeakerRuns concatenates consecutive utterances by the same
// speaker when the gap between them is small.
func mergeSpeakerRuns(compacted []models.Utterance) []models.Utterance {
	var out []models.Utterance
	for _, seg := range compacted {
		if len(out) > 0 {
			prevIdx := len(out) - 1
			prev := out[prevIdx]
			if prev.Speaker == seg.Speaker && (seg.StartSec-prev.EndSec) <= models.SpeakerRunMergeMaxGapSec {
				out[prevIdx].Text = strings.TrimSpace(prev.Text + " " + seg.Text)
				if seg.EndSec > prev.EndSec {
					out[prevIdx].EndSec = seg.EndSec
				}
				out[prevIdx].Confidence = mergeConfidenceIfCurrHas(prev.Confidence, seg.Confidence)
				continue
			}
		}
		out = append(out, seg)
	}
	return out
}

type speakerStat struct {
	firstStart     float64
	utteranceCount int
	questionCount  int
	totalWords     int
}

// expectedInterviewerSlots scales the declared interviewer/participant
// ratio onto the observed speaker count, leaving at least one participant.
func expectedInterviewerSlots(uniqueSpeakers, interviewerCount, participantCount int) int {
	if uniqueSpeakers <= 1 {
		return 1
	}
	i := interviewerCount
	if i < 1 {
		i = 1
	}
	p := participantCount
	if p < 1 {
		p = 1
	}
	total := i + p
	if total < 1 {
		total = 1
	}
	scaled := int(math.Round(float64(uniqueSpeakers) * float64(i) / float64(total)))
	slots := scaled
	if slots < 1 {
		slots = 1
	}
	maxSlots := uniqueSpeakers - 1
	if maxSlots < 1 {
		maxSlots = 1
	}
	if slots > maxSlots {
		slots = maxSlots
	}
	if slots < 1 {
		slots = 1
	}
	return slots
}

// inferInterviewerSpeakers scores each raw speaker by question density,
// early first appearance and brevity, and picks the top scorers as
// interviewers.
func inferInterviewerSpeakers(ordered []models.Utterance, interviewerCount, participantCount int) map[string]struct{} {
	if len(ordered) == 0 {
		return map[string]struct{}{"speaker_0": {}}
	}

	var order []string
	stats := map[string]*speakerStat{}
	for _, u := range ordered {
		st, ok := stats[u.Speaker]
		if !ok {
			st = &speakerStat{firstStart: u.StartSec}
			stats[u.Speaker] = st
			order = append(order, u.Speaker)
		}
		st.utteranceCount++
		if strings.Contains(u.Text, "?") {
			st.questionCount++
		}
		st.totalWords += wordCount(normalize(u.Text))
	}

	if len(order) <= 1 {
		return map[string]struct{}{order[0]: {}}
	}

	slots := expectedInterviewerSlots(len(order), interviewerCount, participantCount)

	type scored struct {
		speaker    string
		score      float64
		firstStart float64
	}
	scoredList := make([]scored, 0, len(order))
	for _, speaker := range order {
		st := stats[speaker]
		utterances := st.utteranceCount
		if utterances < 1 {
			utterances = 1
		}
		avgWords := float64(st.totalWords) / float64(utterances)
		questionDensity := float64(st.questionCount) / float64(utterances)
		startBonus := math.Max(0, 1-math.Min(st.firstStart, 120)/120)
		brevityBonus := 1 / math.Max(1, avgWords)
		score := 3*questionDensity + startBonus + 2*brevityBonus
		scoredList = append(scoredList, scored{speaker: speaker, score: score, firstStart: st.firstStart})
	}

	sort.SliceStable(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		return scoredList[i].firstStart < scoredList[j].firstStart
	})

	n := slots
	if n > len(scoredList) {
		n = len(scoredList)
	}
	if n < 1 {
		n = 1
	}
	result := make(map[string]struct{}, n)
	for idx := 0; idx < n; idx++ {
		result[scoredList[idx].speaker] = struct{}{}
	}
	return result
}

func round(v float64, decimals int) float64 {
	mult := math.Pow(10, float64(decimals))
	return math.Round(v*mult) / mult
}

// mapToInterviewerParticipant infers the interviewer set and relabels
// every utterance as "I" or "D", rounding times and confidences.
func mapToInterviewerParticipant(utterances []models.Utterance, interviewerCount, participantCount int) []models.Utterance {
	sorted := sortByStartEnd(utterances)
	interviewers := inferInterviewerSpeakers(sorted, interviewerCount, participantCount)

	out := make([]models.Utterance, len(sorted))
	for i, u := range sorted {
		label := "D"
		if _, ok := interviewers[u.Speaker]; ok {
			label = "I"
		}
		var conf *float64
		if u.Confidence != nil {
			rounded := round(*u.Confidence, 4)
			conf = &rounded
		}
		out[i] = models.Utterance{
			StartSec:   round(u.StartSec, 3),
			EndSec:     round(u.EndSec, 3),
			Speaker:    label,
			Text:       strings.TrimSpace(u.Text),
			Confidence: conf,
		}
	}
	return out
}

// MergeAndLabel runs the full pipeline in order: dedupe, filter, label.
func MergeAndLabel(utterances []models.Utterance, interviewerCount, participantCount int) []models.Utterance {
	deduped := DedupeSegments(utterances)
	filtered := FilterStyleNoise(deduped)
	return mapToInterviewerParticipant(filtered, interviewerCount, participantCount)
}
