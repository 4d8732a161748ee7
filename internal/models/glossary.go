package models

// Word lists from the glossary driving the PostProcessor's style-noise
// filter. Danish: this core transcribes Danish-language interviews.

var Backchannels = map[string]struct{}{
	"ja": {}, "jo": {}, "nej": {}, "ok": {}, "okay": {}, "nå": {}, "nåh": {},
	"mhm": {}, "mm": {}, "mmm": {}, "klart": {}, "fedt": {}, "præcis": {},
	"super": {}, "tak": {}, "det gør jeg": {}, "det vil jeg gøre": {},
	"ja okay": {}, "ja ja": {}, "nej nej": {},
}

var FillerTokens = map[string]struct{}{
	"øh": {}, "øhm": {}, "øhh": {}, "eh": {}, "hmm": {},
}

var TechMetaKeywords = []string{
	"kan du høre", "hører mig", "høre mig", "lyden", "mikrofon", "kamera",
	"dele skærm", "del skærm", "skærm", "link", "chat", "chatten", "nettet",
	"internet", "forbindelse", "hakker", "langsom", "opkald", "teams",
	"zoom", "kan ikke åbne", "kan ikke se", "driller",
}

var TechMetaStrongKeywords = []string{
	"kan du prøve at gentage", "kan du gentage", "kan du se min skærm",
	"kan du se den nu", "er det mig igen", "løber tør for strøm",
	"deler skærm",
}

const (
	ShortBackchannelMaxWords    = 2
	TechnicalMetaMaxWords       = 10
	TechnicalMetaStrongMaxWords = 20
	InterruptionMaxWords        = 3
	InterruptionMaxGapSec       = 8.0
	SpeakerRunMergeMaxGapSec    = 10.0
	DedupeOverlapToleranceSec   = 0.25
)
