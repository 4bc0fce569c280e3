package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"secretary_server/core/agent/llm"
	"secretary_server/core/domain"
	"secretary_server/core/port/out"
	"secretary_server/pkg/logger"
)

// LearningStore is the slice of the learning service the Responder
// needs: correction retrieval for prompt biasing and the write side of
// the feedback loop.
type LearningStore interface {
	GetSimilarCorrections(ctx context.Context, draft, recipient string, limit int) ([]domain.SimilarCorrection, error)
	GetRecipientProfile(ctx context.Context, recipient string) (*domain.RecipientProfile, error)
	SaveCorrection(ctx context.Context, original, corrected, recipient, correctionType, context string) error
}

// Responder drafts replies biased by past corrections and recipient
// preferences. Unlike the Analyzer it has no fallback: a bad
// auto-generated reply is worse than no reply.
type Responder struct {
	gateway  out.LLMGateway
	learning LearningStore
}

// NewResponder creates a Responder.
func NewResponder(gateway out.LLMGateway, learning LearningStore) *Responder {
	return &Responder{gateway: gateway, learning: learning}
}

const (
	similarCorrectionLimit = 3
	exemplarExcerptLen     = 100
)

type replyResponse struct {
	Body        string   `json:"body"`
	Confidence  float64  `json:"confidence_score"`
	Reasoning   string   `json:"reasoning"`
	Suggestions []string `json:"suggestions"`
}

// GenerateReply drafts a reply to the email. Any gateway or parse
// failure yields an explicit failed result with a nil draft.
func (r *Responder) GenerateReply(ctx context.Context, email *domain.Email) *domain.ReplyResult {
	if r.gateway == nil || !r.gateway.IsConfigured() {
		return replyFailure("llm gateway is not configured")
	}

	recipient := email.From
	similar := r.similarCorrections(ctx, email.Body, recipient)
	profile := r.recipientProfile(ctx, recipient)

	response, err := r.gateway.CompleteJSON(ctx, r.buildPrompt(email, similar, profile))
	if err != nil {
		return replyFailure(err.Error())
	}

	var parsed replyResponse
	if err := llm.DecodeJSON(response, &parsed); err != nil {
		return replyFailure("malformed reply response: " + err.Error())
	}
	if parsed.Body == "" {
		return replyFailure("reply response missing body")
	}

	return &domain.ReplyResult{
		Success: true,
		Draft: &domain.ReplyDraft{
			To:         []string{email.From},
			Cc:         []string{},
			Subject:    "Re: " + email.Subject,
			Body:       parsed.Body,
			Confidence: parsed.Confidence,
			Reasoning:  parsed.Reasoning,
		},
		Suggestions: parsed.Suggestions,
	}
}

func replyFailure(msg string) *domain.ReplyResult {
	return &domain.ReplyResult{Success: false, Error: msg, Draft: nil}
}

// similarCorrections is best-effort: a learning store failure only
// means an unbiased prompt.
func (r *Responder) similarCorrections(ctx context.Context, draft, recipient string) []domain.SimilarCorrection {
	if r.learning == nil {
		return nil
	}
	similar, err := r.learning.GetSimilarCorrections(ctx, draft, recipient, similarCorrectionLimit)
	if err != nil {
		logger.WithError(err).Warn("responder: similar correction lookup failed")
		return nil
	}
	return similar
}

func (r *Responder) recipientProfile(ctx context.Context, recipient string) *domain.RecipientProfile {
	if r.learning == nil {
		return nil
	}
	profile, err := r.learning.GetRecipientProfile(ctx, recipient)
	if err != nil {
		logger.WithError(err).Warn("responder: recipient profile lookup failed")
		return nil
	}
	return profile
}

func (r *Responder) buildPrompt(email *domain.Email, similar []domain.SimilarCorrection, profile *domain.RecipientProfile) string {
	var b strings.Builder

	fmt.Fprintf(&b, `Draft a reply to the following email.

From: %s
Subject: %s
Body:
%s
`, email.From, email.Subject, email.Body)

	if len(similar) > 0 {
		b.WriteString("\nPast corrections for similar drafts:\n")
		for _, c := range similar {
			fmt.Fprintf(&b, "- before: %s\n  after: %s\n",
				truncate(c.Original, exemplarExcerptLen),
				truncate(c.Corrected, exemplarExcerptLen))
		}
	}

	if profile != nil && len(profile.Preferences) > 0 {
		fmt.Fprintf(&b, "\nKnown preferences of %s:\n", domain.ExtractDisplayName(profile.Recipient))
		for key, value := range profile.Preferences {
			fmt.Fprintf(&b, "- %s: %v\n", key, value)
		}
	}

	b.WriteString(`
Guidelines:
1. Use an appropriate level of politeness
2. Keep the reply concise and clear
3. Propose meeting times when the email asks for scheduling
4. Honor the preferences and past corrections above
5. Structure it as a proper business email

Respond with a JSON object:
{
  "body": "reply body",
  "confidence_score": 0.85,
  "reasoning": "why this draft",
  "suggestions": ["alternative 1", "alternative 2"]
}`)

	return b.String()
}

// SuggestMeetingTimes asks the LLM for 3 proposed slots. On failure it
// deterministically proposes the next 3 weekdays at 14:00-15:00.
func (r *Responder) SuggestMeetingTimes(ctx context.Context, text string) []string {
	if r.gateway != nil && r.gateway.IsConfigured() {
		prompt := fmt.Sprintf(`Propose 3 meeting times based on this email.

%s

Constraints: weekdays within business hours (9:00-18:00), one-hour
meetings, within the next week.

Respond with a JSON array of strings like:
["Jan 15 (Wed) 14:00-15:00", "Jan 16 (Thu) 10:00-11:00", "Jan 17 (Fri) 15:00-16:00"]`, text)

		response, err := r.gateway.Complete(ctx, prompt)
		if err == nil {
			var slots []string
			if err := llm.DecodeJSON(response, &slots); err == nil && len(slots) > 0 {
				if len(slots) > 3 {
					slots = slots[:3]
				}
				return slots
			}
		}
	}

	return fallbackMeetingTimes(time.Now())
}

// fallbackMeetingTimes proposes the next 3 weekdays at a fixed slot,
// skipping weekends.
func fallbackMeetingTimes(from time.Time) []string {
	slots := make([]string, 0, 3)
	day := from
	for len(slots) < 3 {
		day = day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		slots = append(slots, day.Format("Jan 2 (Mon)")+" 14:00-15:00")
	}
	return slots
}

// SaveCorrection is the write side of the learning loop. Persistence
// failures are logged and swallowed: learning is advisory and must not
// block mail processing.
func (r *Responder) SaveCorrection(ctx context.Context, original, corrected, recipient, correctionType, context_ string) {
	if r.learning == nil {
		return
	}
	if correctionType == "" {
		correctionType = "general"
	}
	if err := r.learning.SaveCorrection(ctx, original, corrected, recipient, correctionType, context_); err != nil {
		logger.WithError(err).Warn("responder: failed to save correction for %s", recipient)
	}
}
