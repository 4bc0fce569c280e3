package learning

import "strings"

// PreferenceDetector infers a stylistic preference from one
// original/corrected pair. A nil or empty map means the pair carries
// no signal for this detector.
type PreferenceDetector interface {
	Detect(original, corrected string) map[string]any
}

// defaultDetectors covers the built-in signals. The slice order is not
// significant, detected maps are merged key by key.
func defaultDetectors() []PreferenceDetector {
	return []PreferenceDetector{
		formalityDetector{},
		phraseDetector{phrase: "恐れ入りますが", key: "preferred_phrases", whenAdded: true},
		phraseDetector{phrase: "よろしくお願いします", key: "avoided_phrases", whenAdded: false},
		dateFormatDetector{},
	}
}

// formalityDetector watches for a shift between the polite です・ます
// register and the plain である register.
type formalityDetector struct{}

func (formalityDetector) Detect(original, corrected string) map[string]any {
	origPolite := isPolite(original)
	corrPolite := isPolite(corrected)

	switch {
	case corrPolite && !origPolite:
		return map[string]any{"formality_level": "high"}
	case !corrPolite && origPolite && isPlain(corrected):
		return map[string]any{"formality_level": "low"}
	}
	return nil
}

func isPolite(text string) bool {
	return strings.Contains(text, "です") || strings.Contains(text, "ます")
}

func isPlain(text string) bool {
	return strings.Contains(text, "である") || strings.Contains(text, "だ。")
}

// phraseDetector records a phrase the user keeps adding to drafts
// (whenAdded) or keeps removing from them (!whenAdded).
type phraseDetector struct {
	phrase    string
	key       string
	whenAdded bool
}

func (d phraseDetector) Detect(original, corrected string) map[string]any {
	inOriginal := strings.Contains(original, d.phrase)
	inCorrected := strings.Contains(corrected, d.phrase)

	if d.whenAdded && inCorrected && !inOriginal {
		return map[string]any{d.key: []string{d.phrase}}
	}
	if !d.whenAdded && inOriginal && !inCorrected {
		return map[string]any{d.key: []string{d.phrase}}
	}
	return nil
}

// dayOfWeekMarkers are the parenthesized day-of-week forms used in
// Japanese business dates, e.g. 1月15日（水）.
var dayOfWeekMarkers = []string{"（月）", "（火）", "（水）", "（木）", "（金）", "（土）", "（日）", "(月)", "(火)", "(水)", "(木)", "(金)", "(土)", "(日)"}

// dateFormatDetector notices when the user rewrites dates to include
// the day of week.
type dateFormatDetector struct{}

func (dateFormatDetector) Detect(original, corrected string) map[string]any {
	if hasDayOfWeek(corrected) && !hasDayOfWeek(original) {
		return map[string]any{"date_format": "with_day_of_week"}
	}
	return nil
}

func hasDayOfWeek(text string) bool {
	for _, marker := range dayOfWeekMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
