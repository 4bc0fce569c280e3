// Package email implements the cached, differential view over the mail
// provider. The cache is the system's source of truth for listings;
// the provider is only consulted when the cache cannot answer.
package email

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
	"secretary_server/pkg/logger"
)

// EmailAnalyzer is the slice of the analyzer agent the sync path needs.
type EmailAnalyzer interface {
	AnalyzeEmail(ctx context.Context, email *domain.Email) *domain.AnalysisResult
}

// EmailFilter decides whether an incoming email should be dropped
// before analysis and caching.
type EmailFilter interface {
	ShouldFilterEmail(ctx context.Context, email *domain.Email) bool
}

// Options tune the cache window and sync behavior. Zero values take
// the defaults.
type Options struct {
	RetentionDays  int
	MinCacheCount  int
	SyncMaxResults int
	ContentTTL     time.Duration
	ExcerptLen     int
}

const (
	defaultRetentionDays  = 14
	defaultMinCacheCount  = 10
	defaultSyncMaxResults = 200
	defaultContentTTL     = 15 * time.Minute
	defaultExcerptLen     = 200
)

func (o *Options) applyDefaults() {
	if o.RetentionDays <= 0 {
		o.RetentionDays = defaultRetentionDays
	}
	if o.MinCacheCount <= 0 {
		o.MinCacheCount = defaultMinCacheCount
	}
	if o.SyncMaxResults <= 0 {
		o.SyncMaxResults = defaultSyncMaxResults
	}
	if o.ContentTTL <= 0 {
		o.ContentTTL = defaultContentTTL
	}
	if o.ExcerptLen <= 0 {
		o.ExcerptLen = defaultExcerptLen
	}
}

// Service is the email cache/sync service.
type Service struct {
	provider out.MailProviderPort
	repo     out.EmailCacheRepository
	bodies   out.EmailBodyRepository
	content  out.ContentCache
	analyzer EmailAnalyzer
	filter   EmailFilter
	opts     Options

	// One in-flight sync at a time; concurrent callers wait and then
	// hit the freshly filled cache.
	syncMu sync.Mutex
}

// NewService creates the cache/sync service.
func NewService(provider out.MailProviderPort, repo out.EmailCacheRepository, bodies out.EmailBodyRepository, content out.ContentCache, analyzer EmailAnalyzer, filter EmailFilter, opts Options) *Service {
	opts.applyDefaults()
	return &Service{
		provider: provider,
		repo:     repo,
		bodies:   bodies,
		content:  content,
		analyzer: analyzer,
		filter:   filter,
		opts:     opts,
	}
}

// GetRecentEmails returns the cached window, syncing from the provider
// first when the cache is too thin or a refresh is forced. The fast
// path makes zero provider and zero LLM calls.
func (s *Service) GetRecentEmails(ctx context.Context, limit int, forceRefresh bool) ([]*out.CachedEmailRecord, error) {
	if limit <= 0 {
		limit = s.opts.MinCacheCount
	}
	cutoff := time.Now().AddDate(0, 0, -s.opts.RetentionDays)

	if !forceRefresh && s.cacheCanAnswer(ctx, cutoff, limit) {
		return s.repo.ListRecent(ctx, cutoff, limit)
	}

	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	// A sync that finished while this caller was waiting on the lock
	// already filled the window.
	if !forceRefresh && s.cacheCanAnswer(ctx, cutoff, limit) {
		return s.repo.ListRecent(ctx, cutoff, limit)
	}

	if err := s.sync(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListRecent(ctx, cutoff, limit)
}

func (s *Service) cacheCanAnswer(ctx context.Context, cutoff time.Time, limit int) bool {
	count, err := s.repo.CountRecent(ctx, cutoff)
	if err != nil {
		logger.WithError(err).Warn("email cache: count failed, forcing sync")
		return false
	}
	need := limit
	if s.opts.MinCacheCount < need {
		need = s.opts.MinCacheCount
	}
	return count >= need
}

// sync pulls new messages since the cache high-water mark, or the full
// lookback window for an empty cache, then filters, analyzes and
// upserts each one. Per-message failures are logged and skipped.
func (s *Service) sync(ctx context.Context) error {
	emails, err := s.fetchNew(ctx)
	if err != nil {
		return fmt.Errorf("sync emails: %w", err)
	}

	for _, email := range emails {
		if s.filter != nil && s.filter.ShouldFilterEmail(ctx, email) {
			logger.Debug("email cache: filtered %s", email.ID)
			continue
		}

		analysis := s.analyzer.AnalyzeEmail(ctx, email)
		record, err := recordFromEmail(email, analysis, s.opts.ExcerptLen)
		if err != nil {
			logger.WithError(err).Warn("email cache: could not build record for %s", email.ID)
			continue
		}
		if err := s.repo.Upsert(ctx, record); err != nil {
			logger.WithError(err).Warn("email cache: upsert failed for %s", email.ID)
			continue
		}
		if err := s.bodies.Save(ctx, email); err != nil {
			logger.WithError(err).Warn("email cache: body save failed for %s", email.ID)
		}
	}
	return nil
}

func (s *Service) fetchNew(ctx context.Context) ([]*domain.Email, error) {
	latest, err := s.repo.LatestDate(ctx)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		return s.provider.ListSince(ctx, *latest, s.opts.SyncMaxResults)
	}

	result, err := s.provider.ListRecent(ctx, s.opts.RetentionDays, s.opts.SyncMaxResults)
	if err != nil {
		return nil, err
	}
	return result.Emails, nil
}

// GetEmailByID resolves one full email: hot cache, then body store,
// then the live provider. A miss everywhere is (nil, nil).
func (s *Service) GetEmailByID(ctx context.Context, id string) (*domain.Email, error) {
	key := contentKey(id)
	if s.content != nil {
		var cached domain.Email
		if hit, err := s.content.GetJSON(ctx, key, &cached); err == nil && hit {
			return &cached, nil
		}
	}

	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get cached email %s: %w", id, err)
	}
	if record != nil {
		full, err := s.bodies.Get(ctx, id)
		if err != nil {
			logger.WithError(err).Warn("email cache: body lookup failed for %s", id)
		}
		if full != nil {
			s.cacheContent(ctx, key, full)
			return full, nil
		}
	}

	full, err := s.provider.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch email %s: %w", id, err)
	}
	if full == nil {
		return nil, nil
	}

	// Without a metadata record the saved body is never consulted
	// again, so a live fetch also lands an unprocessed cache row.
	record, err = recordFromEmail(full, nil, s.opts.ExcerptLen)
	if err != nil {
		logger.WithError(err).Warn("email cache: could not build record for %s", id)
	} else if err := s.repo.Upsert(ctx, record); err != nil {
		logger.WithError(err).Warn("email cache: upsert failed for %s", id)
	}
	if err := s.bodies.Save(ctx, full); err != nil {
		logger.WithError(err).Warn("email cache: body save failed for %s", id)
	}
	s.cacheContent(ctx, key, full)
	return full, nil
}

// GetCachedRecord returns the persisted metadata record, (nil, nil)
// when absent.
func (s *Service) GetCachedRecord(ctx context.Context, id string) (*out.CachedEmailRecord, error) {
	return s.repo.GetByID(ctx, id)
}

// CreateDraft stores a reply draft on the provider.
func (s *Service) CreateDraft(ctx context.Context, to []string, subject, body string) (string, error) {
	id, err := s.provider.CreateDraft(ctx, to, subject, body)
	if err != nil {
		return "", fmt.Errorf("create draft: %w", err)
	}
	return id, nil
}

func (s *Service) cacheContent(ctx context.Context, key string, email *domain.Email) {
	if s.content == nil {
		return
	}
	if err := s.content.SetJSON(ctx, key, email, s.opts.ContentTTL); err != nil {
		logger.WithError(err).Debug("email cache: content cache set failed")
	}
}

func contentKey(id string) string {
	return "email:content:" + id
}

// recordFromEmail projects an email and its analysis into the cache
// row shape.
func recordFromEmail(email *domain.Email, analysis *domain.AnalysisResult, excerptLen int) (*out.CachedEmailRecord, error) {
	record := &out.CachedEmailRecord{
		ID:            email.ID,
		From:          email.From,
		FromName:      email.SenderName(),
		Subject:       email.Subject,
		BodyExcerpt:   excerpt(email.Body, excerptLen),
		Date:          email.Date,
		HasAttachment: email.HasAttachments(),
	}

	if analysis != nil {
		payload, err := json.Marshal(analysis)
		if err != nil {
			return nil, fmt.Errorf("encode analysis: %w", err)
		}
		record.AnalysisResult = payload
		record.Processed = true
		if analysis.Summary != nil {
			record.Entities = analysis.Summary.Entities
		}
	}
	return record, nil
}

func excerpt(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
