package out

import (
	"context"
	"time"

	"secretary_server/core/domain"
)

// CachedEmailRecord is the persisted projection of an Email plus its
// last analysis. Keyed by the provider-assigned email id; upsert-only,
// the same id never produces two rows.
type CachedEmailRecord struct {
	ID             string    `db:"id" json:"id"`
	From           string    `db:"from_email" json:"from_email"`
	FromName       string    `db:"from_name" json:"from_name"`
	Subject        string    `db:"subject" json:"subject"`
	BodyExcerpt    string    `db:"body_excerpt" json:"body_excerpt"`
	Date           time.Time `db:"date" json:"date"`
	HasAttachment  bool      `db:"has_attachment" json:"has_attachment"`
	Processed      bool      `db:"processed" json:"processed"`
	AnalysisResult []byte    `db:"analysis_result" json:"-"` // serialized AnalysisResult, nullable
	Entities       []string  `db:"-" json:"important_entities"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// EmailCacheRepository persists CachedEmailRecords. Records outside the
// retention window are simply not returned; pruning is implicit.
type EmailCacheRepository interface {
	// Upsert inserts or replaces the record for its id.
	Upsert(ctx context.Context, rec *CachedEmailRecord) error

	// GetByID returns the record or (nil, nil) when absent.
	GetByID(ctx context.Context, id string) (*CachedEmailRecord, error)

	// ListRecent returns up to limit records no older than the cutoff,
	// newest first.
	ListRecent(ctx context.Context, cutoff time.Time, limit int) ([]*CachedEmailRecord, error)

	// CountRecent counts records no older than the cutoff.
	CountRecent(ctx context.Context, cutoff time.Time) (int, error)

	// LatestDate returns the newest cached message date, or (nil, nil)
	// for an empty cache.
	LatestDate(ctx context.Context) (*time.Time, error)
}

// EmailBodyRepository stores full message bodies out of band from the
// metadata cache.
type EmailBodyRepository interface {
	Save(ctx context.Context, email *domain.Email) error

	// Get returns the full email or (nil, nil) when absent.
	Get(ctx context.Context, id string) (*domain.Email, error)

	Delete(ctx context.Context, id string) error
}
