package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"secretary_server/core/domain"
)

// fakeLearning is an in-memory LearningStore for responder tests.
type fakeLearning struct {
	corrections []domain.SimilarCorrection
	profile     *domain.RecipientProfile
	lookupErr   error
	saved       []string
	saveErr     error
}

func (f *fakeLearning) GetSimilarCorrections(ctx context.Context, draft, recipient string, limit int) ([]domain.SimilarCorrection, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if len(f.corrections) > limit {
		return f.corrections[:limit], nil
	}
	return f.corrections, nil
}

func (f *fakeLearning) GetRecipientProfile(ctx context.Context, recipient string) (*domain.RecipientProfile, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.profile, nil
}

func (f *fakeLearning) SaveCorrection(ctx context.Context, original, corrected, recipient, correctionType, context string) error {
	f.saved = append(f.saved, corrected)
	return f.saveErr
}

func TestGenerateReplyUnconfiguredGateway(t *testing.T) {
	responder := NewResponder(&fakeGateway{configured: false}, &fakeLearning{})

	result := responder.GenerateReply(context.Background(), testEmail())

	if result.Success {
		t.Error("unconfigured gateway should fail the reply")
	}
	if result.Draft != nil {
		t.Error("a failed reply must not carry a fallback draft")
	}
	if result.Error == "" {
		t.Error("failed reply should explain why")
	}
}

func TestGenerateReplyGatewayError(t *testing.T) {
	gw := &fakeGateway{configured: true, err: errors.New("rate limited")}
	responder := NewResponder(gw, &fakeLearning{})

	result := responder.GenerateReply(context.Background(), testEmail())

	if result.Success {
		t.Error("gateway error should fail the reply")
	}
	if result.Draft != nil {
		t.Error("a failed reply must not carry a fallback draft")
	}
}

func TestGenerateReplyBiasedByCorrectionsAndProfile(t *testing.T) {
	gw := &fakeGateway{configured: true, response: `{
		"body": "お世話になっております。承知いたしました。",
		"confidence_score": 0.82,
		"reasoning": "polite confirmation",
		"suggestions": ["shorter variant"]
	}`}
	learning := &fakeLearning{
		corrections: []domain.SimilarCorrection{
			{Original: "了解です", Corrected: "承知いたしました", CorrectionType: "tone"},
		},
		profile: &domain.RecipientProfile{
			Recipient:   "tanaka@example.com",
			Preferences: map[string]any{"formality_level": "high"},
		},
	}
	responder := NewResponder(gw, learning)

	result := responder.GenerateReply(context.Background(), testEmail())

	if !result.Success {
		t.Fatalf("expected success, got error: %s", result.Error)
	}
	if result.Draft == nil {
		t.Fatal("expected a draft")
	}
	if result.Draft.Subject != "Re: 至急: ご確認ください" {
		t.Errorf("unexpected subject: %s", result.Draft.Subject)
	}
	if len(result.Draft.To) != 1 || result.Draft.To[0] != "\"Tanaka Taro\" <tanaka@example.com>" {
		t.Errorf("draft should address the sender, got %v", result.Draft.To)
	}

	prompt := gw.prompts[0]
	if !strings.Contains(prompt, "承知いたしました") {
		t.Error("prompt should include the past correction")
	}
	if !strings.Contains(prompt, "formality_level") {
		t.Error("prompt should include recipient preferences")
	}
}

func TestGenerateReplyLearningFailureIsBestEffort(t *testing.T) {
	gw := &fakeGateway{configured: true, response: `{"body": "Thanks, will do.", "confidence_score": 0.7}`}
	learning := &fakeLearning{lookupErr: errors.New("vector store down")}
	responder := NewResponder(gw, learning)

	result := responder.GenerateReply(context.Background(), testEmail())

	if !result.Success {
		t.Errorf("learning store failure should not fail the reply: %s", result.Error)
	}
}

func TestFallbackMeetingTimesSkipsWeekend(t *testing.T) {
	// Friday; the next three weekdays are Mon, Tue, Wed.
	friday := time.Date(2026, time.January, 9, 10, 0, 0, 0, time.UTC)

	slots := fallbackMeetingTimes(friday)

	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	want := []string{"Jan 12 (Mon)", "Jan 13 (Tue)", "Jan 14 (Wed)"}
	for i, prefix := range want {
		if !strings.HasPrefix(slots[i], prefix) {
			t.Errorf("slot %d = %q, want prefix %q", i, slots[i], prefix)
		}
		if !strings.HasSuffix(slots[i], "14:00-15:00") {
			t.Errorf("slot %d = %q, want the fixed afternoon slot", i, slots[i])
		}
	}
}

func TestSuggestMeetingTimesFallbackOnError(t *testing.T) {
	gw := &fakeGateway{configured: true, err: errors.New("unavailable")}
	responder := NewResponder(gw, nil)

	slots := responder.SuggestMeetingTimes(context.Background(), "来週打ち合わせをお願いします")

	if len(slots) != 3 {
		t.Errorf("expected 3 fallback slots, got %d", len(slots))
	}
}

func TestSaveCorrectionSwallowsPersistenceError(t *testing.T) {
	learning := &fakeLearning{saveErr: errors.New("write failed")}
	responder := NewResponder(&fakeGateway{}, learning)

	// Must not panic or surface the error.
	responder.SaveCorrection(context.Background(), "了解です", "承知いたしました", "tanaka@example.com", "", "")

	if len(learning.saved) != 1 {
		t.Errorf("expected 1 save attempt, got %d", len(learning.saved))
	}
}
