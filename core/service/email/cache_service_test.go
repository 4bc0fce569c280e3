package email

import (
	"context"
	"sort"
	"testing"
	"time"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

type fakeProvider struct {
	emails      []*domain.Email
	byID        map[string]*domain.Email
	listCalls   int
	sinceCalls  int
	getCalls    int
	lastSince   time.Time
	draftCalls  int
	draftFailed error
}

func (f *fakeProvider) ListRecent(ctx context.Context, daysBack, maxResults int) (*out.MailListResult, error) {
	f.listCalls++
	return &out.MailListResult{Emails: f.emails}, nil
}

func (f *fakeProvider) ListSince(ctx context.Context, since time.Time, maxResults int) ([]*domain.Email, error) {
	f.sinceCalls++
	f.lastSince = since
	var newer []*domain.Email
	for _, e := range f.emails {
		if e.Date.After(since) {
			newer = append(newer, e)
		}
	}
	return newer, nil
}

func (f *fakeProvider) GetByID(ctx context.Context, id string) (*domain.Email, error) {
	f.getCalls++
	return f.byID[id], nil
}

func (f *fakeProvider) CreateDraft(ctx context.Context, to []string, subject, body string) (string, error) {
	f.draftCalls++
	if f.draftFailed != nil {
		return "", f.draftFailed
	}
	return "draft-1", nil
}

type fakeRepo struct {
	records map[string]*out.CachedEmailRecord
	upserts int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*out.CachedEmailRecord)}
}

func (f *fakeRepo) Upsert(ctx context.Context, rec *out.CachedEmailRecord) error {
	f.upserts++
	f.records[rec.ID] = rec
	return nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id string) (*out.CachedEmailRecord, error) {
	return f.records[id], nil
}

func (f *fakeRepo) ListRecent(ctx context.Context, cutoff time.Time, limit int) ([]*out.CachedEmailRecord, error) {
	var recent []*out.CachedEmailRecord
	for _, rec := range f.records {
		if !rec.Date.Before(cutoff) {
			recent = append(recent, rec)
		}
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].Date.After(recent[j].Date) })
	if len(recent) > limit {
		recent = recent[:limit]
	}
	return recent, nil
}

func (f *fakeRepo) CountRecent(ctx context.Context, cutoff time.Time) (int, error) {
	count := 0
	for _, rec := range f.records {
		if !rec.Date.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepo) LatestDate(ctx context.Context) (*time.Time, error) {
	var latest *time.Time
	for _, rec := range f.records {
		if latest == nil || rec.Date.After(*latest) {
			d := rec.Date
			latest = &d
		}
	}
	return latest, nil
}

type fakeBodies struct {
	bodies map[string]*domain.Email
}

func newFakeBodies() *fakeBodies {
	return &fakeBodies{bodies: make(map[string]*domain.Email)}
}

func (f *fakeBodies) Save(ctx context.Context, email *domain.Email) error {
	f.bodies[email.ID] = email
	return nil
}

func (f *fakeBodies) Get(ctx context.Context, id string) (*domain.Email, error) {
	return f.bodies[id], nil
}

func (f *fakeBodies) Delete(ctx context.Context, id string) error {
	delete(f.bodies, id)
	return nil
}

type fakeContent struct {
	values map[string]*domain.Email
	hits   int
}

func newFakeContent() *fakeContent {
	return &fakeContent{values: make(map[string]*domain.Email)}
}

func (f *fakeContent) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	email, ok := f.values[key]
	if !ok {
		return false, nil
	}
	f.hits++
	*dest.(*domain.Email) = *email
	return true, nil
}

func (f *fakeContent) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	f.values[key] = value.(*domain.Email)
	return nil
}

func (f *fakeContent) Delete(ctx context.Context, key string) error {
	delete(f.values, key)
	return nil
}

type fakeAnalyzer struct {
	calls int
}

func (f *fakeAnalyzer) AnalyzeEmail(ctx context.Context, email *domain.Email) *domain.AnalysisResult {
	f.calls++
	return &domain.AnalysisResult{
		Success: true,
		Summary: &domain.EmailSummary{
			ID:       email.ID,
			Summary:  "summary of " + email.ID,
			Priority: domain.PriorityNormal,
			Category: domain.CategoryConfirmOnly,
		},
	}
}

type fakeFilter struct {
	drop map[string]bool
}

func (f *fakeFilter) ShouldFilterEmail(ctx context.Context, email *domain.Email) bool {
	return f.drop[email.ID]
}

func providerEmail(id string, age time.Duration) *domain.Email {
	return &domain.Email{
		ID:      id,
		From:    "sender@example.com",
		Subject: "subject " + id,
		Body:    "body " + id,
		Date:    time.Now().Add(-age),
	}
}

func newTestService(provider *fakeProvider, repo *fakeRepo) (*Service, *fakeAnalyzer) {
	analyzer := &fakeAnalyzer{}
	svc := NewService(provider, repo, newFakeBodies(), newFakeContent(), analyzer, &fakeFilter{}, Options{})
	return svc, analyzer
}

func seedCache(repo *fakeRepo, n int) {
	for i := 0; i < n; i++ {
		email := providerEmail(string(rune('a'+i)), time.Duration(i)*time.Hour)
		rec, _ := recordFromEmail(email, nil, defaultExcerptLen)
		repo.records[rec.ID] = rec
	}
}

func TestGetRecentEmailsFastPathZeroCalls(t *testing.T) {
	provider := &fakeProvider{}
	repo := newFakeRepo()
	seedCache(repo, defaultMinCacheCount)
	svc, analyzer := newTestService(provider, repo)

	records, err := svc.GetRecentEmails(context.Background(), 5, false)
	if err != nil {
		t.Fatalf("GetRecentEmails: %v", err)
	}
	if len(records) != 5 {
		t.Errorf("expected 5 records, got %d", len(records))
	}
	if provider.listCalls != 0 || provider.sinceCalls != 0 {
		t.Error("fast path must not call the provider")
	}
	if analyzer.calls != 0 {
		t.Error("fast path must not call the analyzer")
	}
}

func TestGetRecentEmailsSyncsEmptyCache(t *testing.T) {
	provider := &fakeProvider{emails: []*domain.Email{
		providerEmail("m1", time.Hour),
		providerEmail("m2", 2*time.Hour),
	}}
	repo := newFakeRepo()
	svc, analyzer := newTestService(provider, repo)

	records, err := svc.GetRecentEmails(context.Background(), 10, false)
	if err != nil {
		t.Fatalf("GetRecentEmails: %v", err)
	}
	if provider.listCalls != 1 {
		t.Errorf("empty cache should use the full lookback, got %d calls", provider.listCalls)
	}
	if provider.sinceCalls != 0 {
		t.Error("empty cache has no high-water mark for ListSince")
	}
	if analyzer.calls != 2 {
		t.Errorf("each new email should be analyzed once, got %d", analyzer.calls)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %d", len(records))
	}
	if !records[0].Processed {
		t.Error("synced records should carry their analysis")
	}
}

func TestGetRecentEmailsDifferentialSync(t *testing.T) {
	old := providerEmail("old", 48*time.Hour)
	fresh := providerEmail("fresh", time.Hour)
	provider := &fakeProvider{emails: []*domain.Email{old, fresh}}
	repo := newFakeRepo()
	rec, _ := recordFromEmail(old, nil, defaultExcerptLen)
	repo.records[rec.ID] = rec
	svc, analyzer := newTestService(provider, repo)

	records, err := svc.GetRecentEmails(context.Background(), 10, true)
	if err != nil {
		t.Fatalf("GetRecentEmails: %v", err)
	}
	if provider.sinceCalls != 1 {
		t.Error("non-empty cache should sync differentially")
	}
	if !provider.lastSince.Equal(old.Date) {
		t.Errorf("ListSince should use the cache high-water mark, got %v", provider.lastSince)
	}
	// The post-sync window is a superset of the pre-sync cache.
	ids := make(map[string]bool)
	for _, r := range records {
		ids[r.ID] = true
	}
	if !ids["old"] || !ids["fresh"] {
		t.Errorf("expected both old and fresh records, got %v", ids)
	}
	if analyzer.calls != 1 {
		t.Errorf("only the new email should be analyzed, got %d calls", analyzer.calls)
	}
}

func TestGetRecentEmailsSyncIdempotent(t *testing.T) {
	provider := &fakeProvider{emails: []*domain.Email{providerEmail("m1", time.Hour)}}
	repo := newFakeRepo()
	svc, _ := newTestService(provider, repo)
	ctx := context.Background()

	// Redelivery of the same message id must not create a second row.
	if _, err := svc.GetRecentEmails(ctx, 10, true); err != nil {
		t.Fatalf("first sync: %v", err)
	}
	provider.emails[0].Date = time.Now() // same id, newer delivery
	if _, err := svc.GetRecentEmails(ctx, 10, true); err != nil {
		t.Fatalf("second sync: %v", err)
	}

	if len(repo.records) != 1 {
		t.Errorf("expected 1 cached record, got %d", len(repo.records))
	}
}

func TestGetRecentEmailsFilterDrops(t *testing.T) {
	provider := &fakeProvider{emails: []*domain.Email{
		providerEmail("keep", time.Hour),
		providerEmail("spam", 2*time.Hour),
	}}
	repo := newFakeRepo()
	analyzer := &fakeAnalyzer{}
	svc := NewService(provider, repo, newFakeBodies(), newFakeContent(), analyzer, &fakeFilter{drop: map[string]bool{"spam": true}}, Options{})

	records, err := svc.GetRecentEmails(context.Background(), 10, true)
	if err != nil {
		t.Fatalf("GetRecentEmails: %v", err)
	}
	if len(records) != 1 || records[0].ID != "keep" {
		t.Errorf("filtered email should not be cached, got %d records", len(records))
	}
	if analyzer.calls != 1 {
		t.Error("filtered email should not be analyzed")
	}
}

func TestGetEmailByIDContentCacheHit(t *testing.T) {
	provider := &fakeProvider{byID: map[string]*domain.Email{}}
	repo := newFakeRepo()
	content := newFakeContent()
	email := providerEmail("m1", time.Hour)
	content.values[contentKey("m1")] = email
	svc := NewService(provider, repo, newFakeBodies(), content, &fakeAnalyzer{}, nil, Options{})

	got, err := svc.GetEmailByID(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetEmailByID: %v", err)
	}
	if got == nil || got.ID != "m1" {
		t.Fatal("expected the cached email")
	}
	if provider.getCalls != 0 {
		t.Error("hot cache hit must not reach the provider")
	}
}

func TestGetEmailByIDBodyStore(t *testing.T) {
	provider := &fakeProvider{byID: map[string]*domain.Email{}}
	repo := newFakeRepo()
	bodies := newFakeBodies()
	email := providerEmail("m1", time.Hour)
	rec, _ := recordFromEmail(email, nil, defaultExcerptLen)
	repo.records["m1"] = rec
	bodies.bodies["m1"] = email
	content := newFakeContent()
	svc := NewService(provider, repo, bodies, content, &fakeAnalyzer{}, nil, Options{})

	got, err := svc.GetEmailByID(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetEmailByID: %v", err)
	}
	if got == nil || got.Body != email.Body {
		t.Fatal("expected the stored body")
	}
	if provider.getCalls != 0 {
		t.Error("stored body must not reach the provider")
	}
	if len(content.values) != 1 {
		t.Error("resolved email should be promoted to the hot cache")
	}
}

func TestGetEmailByIDProviderFallback(t *testing.T) {
	email := providerEmail("m1", time.Hour)
	provider := &fakeProvider{byID: map[string]*domain.Email{"m1": email}}
	bodies := newFakeBodies()
	svc := NewService(provider, newFakeRepo(), bodies, newFakeContent(), &fakeAnalyzer{}, nil, Options{})

	got, err := svc.GetEmailByID(context.Background(), "m1")
	if err != nil {
		t.Fatalf("GetEmailByID: %v", err)
	}
	if got == nil || got.ID != "m1" {
		t.Fatal("expected the provider email")
	}
	if provider.getCalls != 1 {
		t.Errorf("expected 1 provider fetch, got %d", provider.getCalls)
	}
	if bodies.bodies["m1"] == nil {
		t.Error("provider fetch should backfill the body store")
	}
}

func TestGetEmailByIDProviderFetchCachesRecord(t *testing.T) {
	email := providerEmail("m1", time.Hour)
	provider := &fakeProvider{byID: map[string]*domain.Email{"m1": email}}
	repo := newFakeRepo()
	// No hot cache, as after the content TTL has lapsed. The persisted
	// record and body must then answer without a second provider fetch.
	svc := NewService(provider, repo, newFakeBodies(), nil, &fakeAnalyzer{}, nil, Options{})
	ctx := context.Background()

	if _, err := svc.GetEmailByID(ctx, "m1"); err != nil {
		t.Fatalf("first GetEmailByID: %v", err)
	}
	rec := repo.records["m1"]
	if rec == nil {
		t.Fatal("provider fetch should land a cache record")
	}
	if rec.Processed {
		t.Error("a record cached without analysis should stay unprocessed")
	}

	got, err := svc.GetEmailByID(ctx, "m1")
	if err != nil {
		t.Fatalf("second GetEmailByID: %v", err)
	}
	if got == nil || got.Body != email.Body {
		t.Fatal("expected the stored body on the second lookup")
	}
	if provider.getCalls != 1 {
		t.Errorf("expected 1 provider fetch across both lookups, got %d", provider.getCalls)
	}
}

func TestGetEmailByIDMissEverywhere(t *testing.T) {
	provider := &fakeProvider{byID: map[string]*domain.Email{}}
	svc := NewService(provider, newFakeRepo(), newFakeBodies(), newFakeContent(), &fakeAnalyzer{}, nil, Options{})

	got, err := svc.GetEmailByID(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetEmailByID: %v", err)
	}
	if got != nil {
		t.Error("a miss everywhere should be nil without error")
	}
}
