// Package agent implements the LLM-backed mail agents and the
// supervisor that coordinates them.
package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"secretary_server/core/agent/llm"
	"secretary_server/core/domain"
	"secretary_server/core/port/out"
	"secretary_server/pkg/logger"
)

// Analyzer turns a raw email into a structured summary. It always
// produces a usable result: every LLM failure mode routes into a
// deterministic fallback.
type Analyzer struct {
	gateway out.LLMGateway
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(gateway out.LLMGateway) *Analyzer {
	return &Analyzer{gateway: gateway}
}

// Keyword sets for the fallback classification. Matching is
// case-insensitive substring containment over the subject.
var (
	urgentKeywords = []string{"至急", "緊急", "urgent", "asap", "即日", "本日中", "critical", "emergency"}
	fyiKeywords    = []string{"fyi", "ご参考", "参考まで", "お知らせ", "newsletter", "no action"}
	replyKeywords  = []string{"ご返信", "返信", "ご回答", "お返事", "reply", "respond", "rsvp", "ご確認のほど"}
	infoKeywords   = []string{"案内", "notification", "通知", "announcement", "リリース", "update"}
)

// Entity extraction patterns for the fallback path.
var (
	datePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d{4}年\d{1,2}月\d{1,2}日`),
		regexp.MustCompile(`\d{1,2}月\d{1,2}日`),
		regexp.MustCompile(`\d{4}[-/]\d{1,2}[-/]\d{1,2}`),
		regexp.MustCompile(`\d{1,2}/\d{1,2}`),
	}
	amountPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\d+(?:,\d{3})*万?円`),
		regexp.MustCompile(`[¥$]\d+(?:,\d{3})*`),
		regexp.MustCompile(`\d+(?:,\d{3})*\s?(?:USD|JPY|EUR)`),
	}
)

const (
	fallbackSummaryLen = 100
	maxEntities        = 10
)

// analysisResponse is the structure requested from the LLM.
type analysisResponse struct {
	Summary        string   `json:"summary"`
	Priority       string   `json:"priority"`
	Category       string   `json:"category"`
	Entities       []string `json:"important_entities"`
	KeyPoints      []string `json:"key_points"`
	ActionRequired string   `json:"action_required"`
	Deadline       string   `json:"deadline"`
	Confidence     float64  `json:"confidence_score"`
}

// AnalyzeEmail produces a summary for the email. It never returns a
// failed result: an unavailable gateway, a call error, and a malformed
// response all route into the deterministic fallback.
func (a *Analyzer) AnalyzeEmail(ctx context.Context, email *domain.Email) *domain.AnalysisResult {
	if a.gateway == nil || !a.gateway.IsConfigured() {
		return a.fallbackAnalysis(email)
	}

	response, err := a.gateway.CompleteJSON(ctx, a.buildPrompt(email))
	if err != nil {
		logger.WithError(err).Warn("analyzer: llm call failed for %s, using fallback", email.ID)
		return a.fallbackAnalysis(email)
	}

	var parsed analysisResponse
	if err := llm.DecodeJSON(response, &parsed); err != nil {
		logger.WithError(err).Warn("analyzer: malformed llm response for %s, using fallback", email.ID)
		return a.fallbackAnalysis(email)
	}
	if parsed.Summary == "" {
		return a.fallbackAnalysis(email)
	}

	summary := &domain.EmailSummary{
		ID:            email.ID,
		From:          email.From,
		FromName:      email.SenderName(),
		Subject:       email.Subject,
		Date:          email.Date,
		Summary:       parsed.Summary,
		Priority:      domain.ParsePriority(parsed.Priority),
		Category:      domain.ParseCategory(parsed.Category),
		HasAttachment: email.HasAttachments(),
		Entities:      capEntities(parsed.Entities),
	}

	details := map[string]any{
		"key_points":       parsed.KeyPoints,
		"action_required":  parsed.ActionRequired,
		"deadline":         parsed.Deadline,
		"confidence_score": parsed.Confidence,
	}

	return &domain.AnalysisResult{
		Success:    true,
		Summary:    summary,
		Details:    details,
		AIAnalyzed: true,
	}
}

func (a *Analyzer) buildPrompt(email *domain.Email) string {
	return fmt.Sprintf(`Analyze the following email. Summarize it, judge its priority and category, and extract key information.

From: %s
Subject: %s
Body:
%s

Respond with a JSON object:
{
  "summary": "summary in at most 3 lines",
  "priority": "urgent|normal|fyi",
  "category": "reply_needed|confirm_only|info",
  "important_entities": ["date: 2025-01-15", "amount: $1,000", "person: Tanaka"],
  "key_points": ["point 1", "point 2"],
  "action_required": "required action if any",
  "deadline": "deadline if any",
  "confidence_score": 0.95
}`, email.From, email.Subject, email.Body)
}

// fallbackAnalysis is the deterministic path. It never calls the
// gateway and never fails.
func (a *Analyzer) fallbackAnalysis(email *domain.Email) *domain.AnalysisResult {
	summary := &domain.EmailSummary{
		ID:            email.ID,
		From:          email.From,
		FromName:      email.SenderName(),
		Subject:       email.Subject,
		Date:          email.Date,
		Summary:       truncate(email.Body, fallbackSummaryLen),
		Priority:      classifyPriority(email.Subject),
		Category:      classifyCategory(email.Subject),
		HasAttachment: email.HasAttachments(),
		Entities:      extractEntities(email.Body),
	}

	return &domain.AnalysisResult{
		Success:    true,
		Summary:    summary,
		AIAnalyzed: false,
	}
}

func classifyPriority(subject string) domain.Priority {
	lower := strings.ToLower(subject)
	for _, kw := range urgentKeywords {
		if strings.Contains(lower, kw) {
			return domain.PriorityUrgent
		}
	}
	for _, kw := range fyiKeywords {
		if strings.Contains(lower, kw) {
			return domain.PriorityFYI
		}
	}
	return domain.PriorityNormal
}

func classifyCategory(subject string) domain.Category {
	lower := strings.ToLower(subject)
	for _, kw := range replyKeywords {
		if strings.Contains(lower, kw) {
			return domain.CategoryReplyNeeded
		}
	}
	for _, kw := range infoKeywords {
		if strings.Contains(lower, kw) {
			return domain.CategoryInfo
		}
	}
	return domain.CategoryConfirmOnly
}

// extractEntities pulls dates and currency amounts out of the body by
// regex, capped at maxEntities results.
func extractEntities(text string) []string {
	var entities []string

	for _, pattern := range datePatterns {
		for _, match := range pattern.FindAllString(text, -1) {
			entities = append(entities, "date: "+match)
			if len(entities) >= maxEntities {
				return entities
			}
		}
	}
	for _, pattern := range amountPatterns {
		for _, match := range pattern.FindAllString(text, -1) {
			entities = append(entities, "amount: "+match)
			if len(entities) >= maxEntities {
				return entities
			}
		}
	}

	return entities
}

func capEntities(entities []string) []string {
	if len(entities) > maxEntities {
		return entities[:maxEntities]
	}
	return entities
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
