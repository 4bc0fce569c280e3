package domain

import "time"

// CorrectionRecord is one user edit of a drafted reply. Append-only:
// records are never mutated or deleted. They serve both as training
// signal for the recipient profile and as retrievable exemplars.
type CorrectionRecord struct {
	ID             string    `json:"id"`
	Original       string    `json:"original"`
	Corrected      string    `json:"corrected"`
	Recipient      string    `json:"recipient"`
	CorrectionType string    `json:"correction_type"`
	Context        string    `json:"context,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// SimilarCorrection is a correction returned from a similarity query,
// ordered by increasing distance (most similar first).
type SimilarCorrection struct {
	Original       string  `json:"original"`
	Corrected      string  `json:"corrected"`
	CorrectionType string  `json:"correction_type"`
	Timestamp      string  `json:"timestamp"`
	Distance       float64 `json:"distance"`
}

// RecipientProfile accumulates per-recipient stylistic preferences
// inferred from corrections. Preference values are either scalars
// (overwritten on update) or lists (accumulate distinct values).
type RecipientProfile struct {
	Recipient   string         `json:"recipient"`
	Preferences map[string]any `json:"preferences"`
	Importance  float64        `json:"importance"`
	LastUpdated time.Time      `json:"last_updated"`
}

// MergePreferences folds detected key/value pairs into the profile.
// List-valued keys accumulate distinct entries, scalar keys are
// overwritten (last write wins).
func (p *RecipientProfile) MergePreferences(detected map[string]any) {
	if p.Preferences == nil {
		p.Preferences = make(map[string]any)
	}
	for key, value := range detected {
		existing, ok := p.Preferences[key]
		if !ok {
			p.Preferences[key] = value
			continue
		}

		existingList, isList := toStringList(existing)
		if !isList {
			p.Preferences[key] = value
			continue
		}

		for _, v := range toAppendList(value) {
			if !containsValue(existingList, v) {
				existingList = append(existingList, v)
			}
		}
		p.Preferences[key] = existingList
	}
}

func toStringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

func toAppendList(v any) []string {
	if list, ok := toStringList(v); ok {
		return list
	}
	if s, ok := v.(string); ok {
		return []string{s}
	}
	return nil
}

func containsValue(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// LearningStats summarizes the learning store.
type LearningStats struct {
	TotalCorrections int       `json:"total_corrections"`
	TotalProfiles    int       `json:"total_profiles"`
	LastUpdated      time.Time `json:"last_updated"`
}
