// Package filtering decides which emails are worth the user's
// attention. It is an advisory subsystem: every failure path resolves
// to "do not filter".
package filtering

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"secretary_server/core/agent/llm"
	"secretary_server/core/domain"
	"secretary_server/core/port/out"
	"secretary_server/pkg/logger"
)

// automatedIndicators mark senders and subjects that are almost
// certainly machine-generated.
var automatedIndicators = []string{
	"noreply", "no-reply", "donotreply", "newsletter", "unsubscribe",
	"配信停止", "メールマガジン", "自動送信", "自動配信", "mailmag",
}

// Service is the filtering engine.
type Service struct {
	gateway out.LLMGateway
	store   out.VectorStore
}

// NewService creates a filtering Service.
func NewService(gateway out.LLMGateway, store out.VectorStore) *Service {
	return &Service{gateway: gateway, store: store}
}

type suggestionResponse struct {
	Suggestions []struct {
		RuleDescription string  `json:"rule_description"`
		Confidence      float64 `json:"confidence"`
		AffectedCount   int     `json:"affected_count"`
		Reasoning       string  `json:"reasoning"`
	} `json:"suggestions"`
}

// AnalyzeEmailPatterns scans the emails for automated senders and asks
// the LLM to propose exclusion rules. Proposals are persisted as
// pending suggestions. Any LLM failure yields an empty suggestion set.
func (s *Service) AnalyzeEmailPatterns(ctx context.Context, emails []*domain.Email) ([]domain.FilterSuggestion, error) {
	automated := findAutomated(emails)
	if len(automated) == 0 {
		return nil, nil
	}

	if s.gateway == nil || !s.gateway.IsConfigured() {
		return nil, nil
	}

	response, err := s.gateway.CompleteJSON(ctx, suggestionPrompt(automated))
	if err != nil {
		logger.WithError(err).Warn("filtering: pattern analysis call failed")
		return nil, nil
	}

	var parsed suggestionResponse
	if err := llm.DecodeJSON(response, &parsed); err != nil {
		logger.WithError(err).Warn("filtering: malformed pattern analysis response")
		return nil, nil
	}

	now := time.Now()
	suggestions := make([]domain.FilterSuggestion, 0, len(parsed.Suggestions))
	for _, p := range parsed.Suggestions {
		if p.RuleDescription == "" {
			continue
		}
		suggestion := domain.FilterSuggestion{
			ID:            uuid.New().String(),
			Description:   p.RuleDescription,
			Confidence:    p.Confidence,
			AffectedCount: p.AffectedCount,
			Reasoning:     p.Reasoning,
			Status:        domain.SuggestionPending,
			CreatedAt:     now,
		}
		if err := s.storeSuggestion(ctx, suggestion); err != nil {
			logger.WithError(err).Warn("filtering: failed to persist suggestion %s", suggestion.ID)
			continue
		}
		suggestions = append(suggestions, suggestion)
	}
	return suggestions, nil
}

// findAutomated returns one "from | subject" line per email that trips
// an automated indicator.
func findAutomated(emails []*domain.Email) []string {
	var lines []string
	for _, email := range emails {
		haystack := strings.ToLower(email.From + " " + email.Subject + " " + email.Body)
		for _, indicator := range automatedIndicators {
			if strings.Contains(haystack, indicator) {
				lines = append(lines, email.From+" | "+email.Subject)
				break
			}
		}
	}
	return lines
}

func suggestionPrompt(automated []string) string {
	return fmt.Sprintf(`These recent emails look machine-generated:

%s

Propose exclusion rules in natural language so similar emails can be
filtered out automatically.

Respond with a JSON object:
{
  "suggestions": [
    {
      "rule_description": "exclude newsletters from news@example.com",
      "confidence": 0.9,
      "affected_count": 4,
      "reasoning": "sender is a no-reply address"
    }
  ]
}`, strings.Join(automated, "\n"))
}

func (s *Service) storeSuggestion(ctx context.Context, sg domain.FilterSuggestion) error {
	return s.store.Upsert(ctx, out.CollectionSuggestions, sg.ID, sg.Description, map[string]any{
		"status":         string(sg.Status),
		"confidence":     sg.Confidence,
		"affected_count": sg.AffectedCount,
		"reasoning":      sg.Reasoning,
		"created_at":     sg.CreatedAt.Format(time.RFC3339),
	})
}

// GetSuggestions lists stored suggestions with the given status.
func (s *Service) GetSuggestions(ctx context.Context, status domain.SuggestionStatus) ([]domain.FilterSuggestion, error) {
	docs, err := s.store.Get(ctx, out.CollectionSuggestions, map[string]any{"status": string(status)})
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}

	suggestions := make([]domain.FilterSuggestion, 0, len(docs))
	for _, doc := range docs {
		suggestions = append(suggestions, domain.FilterSuggestion{
			ID:            doc.ID,
			Description:   doc.Document,
			Confidence:    toFloat(doc.Metadata["confidence"]),
			AffectedCount: int(toFloat(doc.Metadata["affected_count"])),
			Reasoning:     toString(doc.Metadata["reasoning"]),
			Status:        domain.SuggestionStatus(toString(doc.Metadata["status"])),
			CreatedAt:     parseTime(doc.Metadata["created_at"]),
		})
	}
	return suggestions, nil
}

type matcherResponse struct {
	FilterType string   `json:"filter_type"`
	Patterns   []string `json:"patterns"`
	Action     string   `json:"action"`
}

// ApplyFilteringRule converts a natural-language rule into a structured
// matcher and stores it active. Conversion or store failure means the
// rule is not created.
func (s *Service) ApplyFilteringRule(ctx context.Context, description string) bool {
	if s.gateway == nil || !s.gateway.IsConfigured() {
		return false
	}

	response, err := s.gateway.CompleteJSON(ctx, matcherPrompt(description))
	if err != nil {
		logger.WithError(err).Warn("filtering: rule conversion failed")
		return false
	}

	var parsed matcherResponse
	if err := llm.DecodeJSON(response, &parsed); err != nil {
		logger.WithError(err).Warn("filtering: malformed rule conversion response")
		return false
	}

	matcher, ok := buildMatcher(parsed)
	if !ok {
		logger.Warn("filtering: rule conversion produced an unusable matcher for %q", description)
		return false
	}

	rule := domain.FilterRule{
		ID:          uuid.New().String(),
		Description: description,
		Matcher:     matcher,
		Active:      true,
		CreatedAt:   time.Now(),
	}
	if err := s.storeRule(ctx, rule); err != nil {
		logger.WithError(err).Warn("filtering: failed to store rule %s", rule.ID)
		return false
	}
	return true
}

func matcherPrompt(description string) string {
	return fmt.Sprintf(`Convert this filtering rule into a structured matcher.

Rule: %s

filter_type is one of: sender, subject, content, combined.
action is one of: exclude, include.

Respond with a JSON object:
{
  "filter_type": "sender",
  "patterns": ["newsletter@example.com"],
  "action": "exclude"
}`, description)
}

// buildMatcher validates the LLM output. An unknown filter type or an
// empty pattern list is unusable; a missing action defaults to exclude.
func buildMatcher(parsed matcherResponse) (domain.FilterMatcher, bool) {
	filterType := domain.FilterType(parsed.FilterType)
	switch filterType {
	case domain.FilterBySender, domain.FilterBySubject, domain.FilterByContent, domain.FilterByCombined:
	default:
		return domain.FilterMatcher{}, false
	}

	patterns := make([]string, 0, len(parsed.Patterns))
	for _, p := range parsed.Patterns {
		if p != "" {
			patterns = append(patterns, p)
		}
	}
	if len(patterns) == 0 {
		return domain.FilterMatcher{}, false
	}

	action := domain.FilterAction(parsed.Action)
	if action != domain.FilterActionInclude && action != domain.FilterActionExclude {
		action = domain.FilterActionExclude
	}

	return domain.FilterMatcher{FilterType: filterType, Patterns: patterns, Action: action}, true
}

func (s *Service) storeRule(ctx context.Context, rule domain.FilterRule) error {
	return s.store.Upsert(ctx, out.CollectionRules, rule.ID, rule.Description, map[string]any{
		"filter_type": string(rule.Matcher.FilterType),
		"patterns":    rule.Matcher.Patterns,
		"action":      string(rule.Matcher.Action),
		"active":      rule.Active,
		"created_at":  rule.CreatedAt.Format(time.RFC3339),
	})
}

// ShouldFilterEmail evaluates the active rules in stored order. The
// first matching rule wins. A store failure means the email is not
// filtered.
func (s *Service) ShouldFilterEmail(ctx context.Context, email *domain.Email) bool {
	docs, err := s.store.Get(ctx, out.CollectionRules, map[string]any{"active": true})
	if err != nil {
		logger.WithError(err).Warn("filtering: rule lookup failed, not filtering")
		return false
	}

	for _, doc := range docs {
		matcher := matcherFromMetadata(doc.Metadata)
		if matcher.Matches(email) {
			return matcher.Action == domain.FilterActionExclude
		}
	}
	return false
}

// ActiveRules returns the stored active rules in insertion order.
func (s *Service) ActiveRules(ctx context.Context) ([]domain.FilterRule, error) {
	docs, err := s.store.Get(ctx, out.CollectionRules, map[string]any{"active": true})
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}

	rules := make([]domain.FilterRule, 0, len(docs))
	for _, doc := range docs {
		rules = append(rules, domain.FilterRule{
			ID:          doc.ID,
			Description: doc.Document,
			Matcher:     matcherFromMetadata(doc.Metadata),
			Active:      true,
			CreatedAt:   parseTime(doc.Metadata["created_at"]),
		})
	}
	return rules, nil
}

func matcherFromMetadata(metadata map[string]any) domain.FilterMatcher {
	return domain.FilterMatcher{
		FilterType: domain.FilterType(toString(metadata["filter_type"])),
		Patterns:   toStringSlice(metadata["patterns"]),
		Action:     domain.FilterAction(toString(metadata["action"])),
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func toStringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func parseTime(v any) time.Time {
	t, err := time.Parse(time.RFC3339, toString(v))
	if err != nil {
		return time.Time{}
	}
	return t
}
