package domain

import (
	"strings"
	"time"
)

// FilterType selects which email field(s) a rule matches against.
type FilterType string

const (
	FilterBySender   FilterType = "sender"
	FilterBySubject  FilterType = "subject"
	FilterByContent  FilterType = "content"
	FilterByCombined FilterType = "combined"
)

// FilterAction is what happens when a rule matches.
type FilterAction string

const (
	FilterActionExclude FilterAction = "exclude"
	FilterActionInclude FilterAction = "include"
)

// FilterMatcher is the structured form of a natural-language rule.
type FilterMatcher struct {
	FilterType FilterType   `json:"filter_type"`
	Patterns   []string     `json:"patterns"`
	Action     FilterAction `json:"action"`
}

// Matches reports whether the email matches any of the matcher's
// patterns. Matching is case-insensitive substring containment over
// the field selected by FilterType.
func (m *FilterMatcher) Matches(email *Email) bool {
	var haystack string
	switch m.FilterType {
	case FilterBySender:
		haystack = email.From
	case FilterBySubject:
		haystack = email.Subject
	case FilterByContent:
		haystack = email.Body
	case FilterByCombined:
		haystack = email.From + " " + email.Subject + " " + email.Body
	default:
		return false
	}

	haystack = strings.ToLower(haystack)
	for _, p := range m.Patterns {
		if p == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// FilterRule is an applied rule. Only active rules participate in
// evaluation.
type FilterRule struct {
	ID          string        `json:"id"`
	Description string        `json:"description"`
	Matcher     FilterMatcher `json:"matcher"`
	Active      bool          `json:"active"`
	CreatedAt   time.Time     `json:"created_at"`
}

// SuggestionStatus is the lifecycle state of a proposed rule.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionAccepted SuggestionStatus = "accepted"
	SuggestionRejected SuggestionStatus = "rejected"
)

// FilterSuggestion is a rule proposed by pattern analysis, awaiting a
// user decision.
type FilterSuggestion struct {
	ID            string           `json:"id"`
	Description   string           `json:"rule_description"`
	Confidence    float64          `json:"confidence"`
	AffectedCount int              `json:"affected_count"`
	Reasoning     string           `json:"reasoning"`
	Status        SuggestionStatus `json:"status"`
	CreatedAt     time.Time        `json:"created_at"`
}
