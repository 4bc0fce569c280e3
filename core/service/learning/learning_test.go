package learning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"secretary_server/core/port/out"
)

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

// QuerySimilar fakes similarity as shared-word overlap, enough to keep
// ordering deterministic in tests.
func (f *fakeVectorStore) QuerySimilar(ctx context.Context, collection, text string, k int, where map[string]any) ([]out.VectorQueryResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	var results []out.VectorQueryResult
	for _, doc := range f.docs[collection] {
		if !metadataMatches(doc.Metadata, where) {
			continue
		}
		results = append(results, out.VectorQueryResult{VectorDocument: doc, Distance: wordDistance(text, doc.Document)})
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

func wordDistance(a, b string) float64 {
	if a == b {
		return 0
	}
	if strings.Contains(b, a) || strings.Contains(a, b) {
		return 0.1
	}
	return 1
}

func TestGetSimilarCorrectionsEmptyStore(t *testing.T) {
	svc := NewService(newFakeVectorStore())

	similar, err := svc.GetSimilarCorrections(context.Background(), "draft text", "tanaka@example.com", 3)
	if err != nil {
		t.Fatalf("GetSimilarCorrections: %v", err)
	}
	if similar == nil {
		t.Error("empty store should yield an empty slice, not nil")
	}
	if len(similar) != 0 {
		t.Errorf("expected no results, got %d", len(similar))
	}
}

func TestGetSimilarCorrectionsRecipientFilter(t *testing.T) {
	store := newFakeVectorStore()
	svc := NewService(store)
	ctx := context.Background()

	if err := svc.SaveCorrection(ctx, "了解です", "承知いたしました", "tanaka@example.com", "tone", ""); err != nil {
		t.Fatalf("SaveCorrection: %v", err)
	}
	if err := svc.SaveCorrection(ctx, "了解です", "かしこまりました", "suzuki@example.com", "tone", ""); err != nil {
		t.Fatalf("SaveCorrection: %v", err)
	}

	similar, err := svc.GetSimilarCorrections(ctx, "了解です", "tanaka@example.com", 5)
	if err != nil {
		t.Fatalf("GetSimilarCorrections: %v", err)
	}
	if len(similar) != 1 {
		t.Fatalf("expected only tanaka's correction, got %d", len(similar))
	}
	if similar[0].Corrected != "承知いたしました" {
		t.Errorf("unexpected correction: %s", similar[0].Corrected)
	}
}

func TestSaveCorrectionIndexesCorrectedText(t *testing.T) {
	store := newFakeVectorStore()
	svc := NewService(store)
	ctx := context.Background()

	if err := svc.SaveCorrection(ctx, "the original draft", "the corrected text", "tanaka@example.com", "tone", ""); err != nil {
		t.Fatalf("SaveCorrection: %v", err)
	}

	docs := store.docs[out.CollectionCorrections]
	if len(docs) != 1 {
		t.Fatalf("expected 1 stored correction, got %d", len(docs))
	}
	if docs[0].Document != "the corrected text" {
		t.Errorf("similarity document = %q, want the corrected text", docs[0].Document)
	}
	if docs[0].Metadata["original"] != "the original draft" {
		t.Errorf("original draft should be kept in metadata, got %v", docs[0].Metadata["original"])
	}
}

func TestGetSimilarCorrectionsMatchesOnCorrectedText(t *testing.T) {
	store := newFakeVectorStore()
	svc := NewService(store)
	ctx := context.Background()

	if err := svc.SaveCorrection(ctx, "了解です", "承知いたしました", "tanaka@example.com", "tone", ""); err != nil {
		t.Fatalf("SaveCorrection: %v", err)
	}

	// A draft close to the corrected phrasing must rank nearest.
	similar, err := svc.GetSimilarCorrections(ctx, "承知いたしました", "tanaka@example.com", 1)
	if err != nil {
		t.Fatalf("GetSimilarCorrections: %v", err)
	}
	if len(similar) != 1 {
		t.Fatalf("expected 1 result, got %d", len(similar))
	}
	if similar[0].Distance >= 1 {
		t.Errorf("corrected-text query should be near, distance %f", similar[0].Distance)
	}
}

func TestGetRecipientProfileAbsent(t *testing.T) {
	svc := NewService(newFakeVectorStore())

	profile, err := svc.GetRecipientProfile(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("GetRecipientProfile: %v", err)
	}
	if profile != nil {
		t.Error("absent profile should be nil, not an error")
	}
}

func TestSaveCorrectionUpdatesFormalityProfile(t *testing.T) {
	store := newFakeVectorStore()
	svc := NewService(store)
	ctx := context.Background()

	// Plain register rewritten into polite register.
	err := svc.SaveCorrection(ctx, "明日の会議、よろしく。", "明日の会議の件、承知いたしました。よろしくお願いいたします。", "tanaka@example.com", "tone", "")
	if err != nil {
		t.Fatalf("SaveCorrection: %v", err)
	}

	profile, err := svc.GetRecipientProfile(ctx, "tanaka@example.com")
	if err != nil {
		t.Fatalf("GetRecipientProfile: %v", err)
	}
	if profile == nil {
		t.Fatal("expected a profile to be created")
	}
	if profile.Preferences["formality_level"] != "high" {
		t.Errorf("expected formality_level high, got %v", profile.Preferences["formality_level"])
	}
	if profile.Importance != defaultImportance {
		t.Errorf("new profile should get the default importance, got %f", profile.Importance)
	}
}

func TestSaveCorrectionAccumulatesPhraseLists(t *testing.T) {
	store := newFakeVectorStore()
	svc := NewService(store)
	ctx := context.Background()

	// The user keeps adding 恐れ入りますが; repeated saves must not
	// duplicate the list entry.
	for i := 0; i < 2; i++ {
		err := svc.SaveCorrection(ctx, "確認してください", "恐れ入りますが、ご確認ください", "tanaka@example.com", "phrase", "")
		if err != nil {
			t.Fatalf("SaveCorrection: %v", err)
		}
	}

	profile, err := svc.GetRecipientProfile(ctx, "tanaka@example.com")
	if err != nil {
		t.Fatalf("GetRecipientProfile: %v", err)
	}
	raw, _ := json.Marshal(profile.Preferences["preferred_phrases"])
	var phrases []string
	if err := json.Unmarshal(raw, &phrases); err != nil {
		t.Fatalf("preferred_phrases should be a string list: %v", err)
	}
	if len(phrases) != 1 || phrases[0] != "恐れ入りますが" {
		t.Errorf("expected single accumulated phrase, got %v", phrases)
	}
}

func TestSaveCorrectionRecordWriteFailure(t *testing.T) {
	store := newFakeVectorStore()
	store.err = errors.New("store down")
	svc := NewService(store)

	err := svc.SaveCorrection(context.Background(), "a", "b", "tanaka@example.com", "", "")
	if err == nil {
		t.Error("record write failure should surface an error")
	}
}

func TestGetLearningStats(t *testing.T) {
	store := newFakeVectorStore()
	svc := NewService(store)
	ctx := context.Background()

	if err := svc.SaveCorrection(ctx, "了解", "承知いたします", "tanaka@example.com", "tone", ""); err != nil {
		t.Fatalf("SaveCorrection: %v", err)
	}

	stats, err := svc.GetLearningStats(ctx)
	if err != nil {
		t.Fatalf("GetLearningStats: %v", err)
	}
	if stats.TotalCorrections != 1 {
		t.Errorf("expected 1 correction, got %d", stats.TotalCorrections)
	}
	if stats.TotalProfiles != 1 {
		t.Errorf("expected 1 profile, got %d", stats.TotalProfiles)
	}
}

func TestFormalityDetector(t *testing.T) {
	d := formalityDetector{}

	tests := []struct {
		name      string
		original  string
		corrected string
		want      any
	}{
		{"plain to polite", "会議は明日だ。", "会議は明日です。", "high"},
		{"polite to plain", "会議は明日です。", "会議は明日である。", "low"},
		{"no shift", "会議は明日です。", "打ち合わせは明日です。", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detected := d.Detect(tt.original, tt.corrected)
			if tt.want == nil {
				if detected != nil {
					t.Errorf("expected no signal, got %v", detected)
				}
				return
			}
			if detected["formality_level"] != tt.want {
				t.Errorf("expected %v, got %v", tt.want, detected["formality_level"])
			}
		})
	}
}

func TestDateFormatDetector(t *testing.T) {
	d := dateFormatDetector{}

	detected := d.Detect("1月15日に伺います", "1月15日（水）に伺います")
	if detected["date_format"] != "with_day_of_week" {
		t.Errorf("expected with_day_of_week, got %v", detected)
	}

	if d.Detect("1月15日（水）に伺います", "1月15日（水）で大丈夫です") != nil {
		t.Error("no new day-of-week should mean no signal")
	}
}

func TestAvoidedPhraseDetector(t *testing.T) {
	d := phraseDetector{phrase: "よろしくお願いします", key: "avoided_phrases", whenAdded: false}

	detected := d.Detect("ご確認ください。よろしくお願いします。", "ご確認のほどお願い申し上げます。")
	if detected == nil {
		t.Fatal("removed phrase should be detected")
	}
}
