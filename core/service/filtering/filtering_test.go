package filtering

import (
	"context"
	"errors"
	"testing"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

type fakeGateway struct {
	configured bool
	response   string
	err        error
	calls      int
}

func (f *fakeGateway) Complete(ctx context.Context, prompt string) (string, error) {
	return f.CompleteJSON(ctx, prompt)
}

func (f *fakeGateway) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeGateway) IsConfigured() bool { return f.configured }

// fakeVectorStore keeps documents in insertion order per collection.
type fakeVectorStore struct {
	docs map[string][]out.VectorDocument
	err  error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{docs: make(map[string][]out.VectorDocument)}
}

func (f *fakeVectorStore) Upsert(ctx context.Context, collection, id, document string, metadata map[string]any) error {
	if f.err != nil {
		return f.err
	}
	for i, doc := range f.docs[collection] {
		if doc.ID == id {
			f.docs[collection][i] = out.VectorDocument{ID: id, Document: document, Metadata: metadata}
			return nil
		}
	}
	f.docs[collection] = append(f.docs[collection], out.VectorDocument{ID: id, Document: document, Metadata: metadata})
	return nil
}

func (f *fakeVectorStore) QuerySimilar(ctx context.Context, collection, text string, k int, where map[string]any) ([]out.VectorQueryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	var results []out.VectorQueryResult
	for _, doc := range f.docs[collection] {
		if metadataMatches(doc.Metadata, where) {
			results = append(results, out.VectorQueryResult{VectorDocument: doc})
		}
		if len(results) == k {
			break
		}
	}
	return results, nil
}

func (f *fakeVectorStore) Get(ctx context.Context, collection string, where map[string]any) ([]out.VectorDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	var results []out.VectorDocument
	for _, doc := range f.docs[collection] {
		if metadataMatches(doc.Metadata, where) {
			results = append(results, doc)
		}
	}
	return results, nil
}

func (f *fakeVectorStore) Count(ctx context.Context, collection string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	return len(f.docs[collection]), nil
}

func metadataMatches(metadata, where map[string]any) bool {
	for key, want := range where {
		if metadata[key] != want {
			return false
		}
	}
	return true
}

func addRule(t *testing.T, store *fakeVectorStore, id string, matcher domain.FilterMatcher) {
	t.Helper()
	err := store.Upsert(context.Background(), out.CollectionRules, id, "rule "+id, map[string]any{
		"filter_type": string(matcher.FilterType),
		"patterns":    matcher.Patterns,
		"action":      string(matcher.Action),
		"active":      true,
	})
	if err != nil {
		t.Fatalf("seed rule: %v", err)
	}
}

func newsletterEmail() *domain.Email {
	return &domain.Email{
		ID:      "msg-1",
		From:    "news@updates.example.com",
		Subject: "Weekly newsletter",
		Body:    "Click here to unsubscribe.",
	}
}

func TestShouldFilterEmailFirstMatchWins(t *testing.T) {
	store := newFakeVectorStore()
	// Both rules match; the earlier include rule must win.
	addRule(t, store, "keep", domain.FilterMatcher{
		FilterType: domain.FilterBySender,
		Patterns:   []string{"updates.example.com"},
		Action:     domain.FilterActionInclude,
	})
	addRule(t, store, "drop", domain.FilterMatcher{
		FilterType: domain.FilterBySubject,
		Patterns:   []string{"newsletter"},
		Action:     domain.FilterActionExclude,
	})
	svc := NewService(&fakeGateway{}, store)

	if svc.ShouldFilterEmail(context.Background(), newsletterEmail()) {
		t.Error("earlier include rule should override the later exclude rule")
	}
}

func TestShouldFilterEmailExcludes(t *testing.T) {
	store := newFakeVectorStore()
	addRule(t, store, "drop", domain.FilterMatcher{
		FilterType: domain.FilterByContent,
		Patterns:   []string{"unsubscribe"},
		Action:     domain.FilterActionExclude,
	})
	svc := NewService(&fakeGateway{}, store)

	if !svc.ShouldFilterEmail(context.Background(), newsletterEmail()) {
		t.Error("matching exclude rule should filter the email")
	}

	clean := &domain.Email{From: "boss@example.com", Subject: "Q3 planning", Body: "Let's meet."}
	if svc.ShouldFilterEmail(context.Background(), clean) {
		t.Error("non-matching email should not be filtered")
	}
}

func TestShouldFilterEmailStoreFailure(t *testing.T) {
	store := newFakeVectorStore()
	store.err = errors.New("store down")
	svc := NewService(&fakeGateway{}, store)

	if svc.ShouldFilterEmail(context.Background(), newsletterEmail()) {
		t.Error("store failure must not filter the email")
	}
}

func TestApplyFilteringRule(t *testing.T) {
	store := newFakeVectorStore()
	gw := &fakeGateway{configured: true, response: `{
		"filter_type": "sender",
		"patterns": ["news@updates.example.com"],
		"action": "exclude"
	}`}
	svc := NewService(gw, store)

	if !svc.ApplyFilteringRule(context.Background(), "ニュースレターを除外して") {
		t.Fatal("expected rule creation to succeed")
	}

	rules, err := svc.ActiveRules(context.Background())
	if err != nil {
		t.Fatalf("ActiveRules: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	if rules[0].Matcher.FilterType != domain.FilterBySender {
		t.Errorf("unexpected filter type: %s", rules[0].Matcher.FilterType)
	}

	// The new rule should take effect immediately.
	if !svc.ShouldFilterEmail(context.Background(), newsletterEmail()) {
		t.Error("stored rule should filter matching email")
	}
}

func TestApplyFilteringRuleUnusableMatcher(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"unknown filter type", `{"filter_type": "header", "patterns": ["x"], "action": "exclude"}`},
		{"empty patterns", `{"filter_type": "sender", "patterns": [], "action": "exclude"}`},
		{"not json", "nope"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeVectorStore()
			svc := NewService(&fakeGateway{configured: true, response: tt.response}, store)

			if svc.ApplyFilteringRule(context.Background(), "some rule") {
				t.Error("unusable conversion should not create a rule")
			}
			if len(store.docs[out.CollectionRules]) != 0 {
				t.Error("no rule should be stored")
			}
		})
	}
}

func TestApplyFilteringRuleStoreFailure(t *testing.T) {
	store := newFakeVectorStore()
	store.err = errors.New("store down")
	svc := NewService(&fakeGateway{configured: true, response: `{
		"filter_type": "sender", "patterns": ["x"], "action": "exclude"
	}`}, store)

	if svc.ApplyFilteringRule(context.Background(), "some rule") {
		t.Error("store failure should report the rule as not created")
	}
}

func TestAnalyzeEmailPatternsNoAutomated(t *testing.T) {
	gw := &fakeGateway{configured: true}
	svc := NewService(gw, newFakeVectorStore())
	emails := []*domain.Email{
		{From: "boss@example.com", Subject: "1on1", Body: "Tomorrow at 10?"},
	}

	suggestions, err := svc.AnalyzeEmailPatterns(context.Background(), emails)
	if err != nil {
		t.Fatalf("AnalyzeEmailPatterns: %v", err)
	}
	if len(suggestions) != 0 {
		t.Errorf("expected no suggestions, got %d", len(suggestions))
	}
	if gw.calls != 0 {
		t.Error("no automated emails should mean no gateway call")
	}
}

func TestAnalyzeEmailPatternsProposesSuggestions(t *testing.T) {
	store := newFakeVectorStore()
	gw := &fakeGateway{configured: true, response: `{
		"suggestions": [
			{"rule_description": "exclude emails from news@updates.example.com",
			 "confidence": 0.9, "affected_count": 3, "reasoning": "no-reply newsletter"}
		]
	}`}
	svc := NewService(gw, store)

	suggestions, err := svc.AnalyzeEmailPatterns(context.Background(), []*domain.Email{newsletterEmail()})
	if err != nil {
		t.Fatalf("AnalyzeEmailPatterns: %v", err)
	}
	if len(suggestions) != 1 {
		t.Fatalf("expected 1 suggestion, got %d", len(suggestions))
	}
	if suggestions[0].Status != domain.SuggestionPending {
		t.Errorf("new suggestions should be pending, got %s", suggestions[0].Status)
	}

	pending, err := svc.GetSuggestions(context.Background(), domain.SuggestionPending)
	if err != nil {
		t.Fatalf("GetSuggestions: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 persisted suggestion, got %d", len(pending))
	}
	if pending[0].Confidence != 0.9 {
		t.Errorf("expected confidence 0.9, got %f", pending[0].Confidence)
	}
}

func TestAnalyzeEmailPatternsLLMFailure(t *testing.T) {
	svc := NewService(&fakeGateway{configured: true, err: errors.New("down")}, newFakeVectorStore())

	suggestions, err := svc.AnalyzeEmailPatterns(context.Background(), []*domain.Email{newsletterEmail()})
	if err != nil {
		t.Fatalf("LLM failure should not surface an error: %v", err)
	}
	if len(suggestions) != 0 {
		t.Errorf("expected empty suggestion set, got %d", len(suggestions))
	}
}
