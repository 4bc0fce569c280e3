// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"time"

	"secretary_server/core/port/out"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// Email Cache Adapter (PostgreSQL)
// =============================================================================

// EmailCacheAdapter implements out.EmailCacheRepository using PostgreSQL.
type EmailCacheAdapter struct {
	db *sqlx.DB
}

var _ out.EmailCacheRepository = (*EmailCacheAdapter)(nil)

// NewEmailCacheAdapter creates a new EmailCacheAdapter.
func NewEmailCacheAdapter(db *sqlx.DB) *EmailCacheAdapter {
	return &EmailCacheAdapter{db: db}
}

// =============================================================================
// Database Row Mapping
// =============================================================================

const emailCacheColumns = `
	id, from_email, from_name, subject, body_excerpt, date,
	has_attachment, processed, analysis_result, entities, created_at, updated_at`

// emailCacheRow represents the database row for cached emails.
type emailCacheRow struct {
	ID             string         `db:"id"`
	FromEmail      string         `db:"from_email"`
	FromName       sql.NullString `db:"from_name"`
	Subject        string         `db:"subject"`
	BodyExcerpt    string         `db:"body_excerpt"`
	Date           time.Time      `db:"date"`
	HasAttachment  bool           `db:"has_attachment"`
	Processed      bool           `db:"processed"`
	AnalysisResult []byte         `db:"analysis_result"`
	Entities       pq.StringArray `db:"entities"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r *emailCacheRow) toRecord() *out.CachedEmailRecord {
	return &out.CachedEmailRecord{
		ID:             r.ID,
		From:           r.FromEmail,
		FromName:       r.FromName.String,
		Subject:        r.Subject,
		BodyExcerpt:    r.BodyExcerpt,
		Date:           r.Date,
		HasAttachment:  r.HasAttachment,
		Processed:      r.Processed,
		AnalysisResult: r.AnalysisResult,
		Entities:       r.Entities,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

// =============================================================================
// Operations
// =============================================================================

// Upsert inserts or replaces the record for its id.
func (a *EmailCacheAdapter) Upsert(ctx context.Context, rec *out.CachedEmailRecord) error {
	query := `
		INSERT INTO email_cache (id, from_email, from_name, subject, body_excerpt, date,
			has_attachment, processed, analysis_result, entities)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			from_email = EXCLUDED.from_email,
			from_name = EXCLUDED.from_name,
			subject = EXCLUDED.subject,
			body_excerpt = EXCLUDED.body_excerpt,
			date = EXCLUDED.date,
			has_attachment = EXCLUDED.has_attachment,
			processed = EXCLUDED.processed,
			analysis_result = EXCLUDED.analysis_result,
			entities = EXCLUDED.entities,
			updated_at = NOW()
		RETURNING created_at, updated_at`

	return a.db.QueryRowContext(ctx, query,
		rec.ID,
		rec.From,
		nullString(rec.FromName),
		rec.Subject,
		rec.BodyExcerpt,
		rec.Date,
		rec.HasAttachment,
		rec.Processed,
		rec.AnalysisResult,
		pq.Array(rec.Entities),
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

// GetByID retrieves a cached record, (nil, nil) when absent.
func (a *EmailCacheAdapter) GetByID(ctx context.Context, id string) (*out.CachedEmailRecord, error) {
	var row emailCacheRow
	query := `SELECT ` + emailCacheColumns + ` FROM email_cache WHERE id = $1`

	err := a.db.GetContext(ctx, &row, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return row.toRecord(), nil
}

// ListRecent returns up to limit records no older than the cutoff,
// newest first.
func (a *EmailCacheAdapter) ListRecent(ctx context.Context, cutoff time.Time, limit int) ([]*out.CachedEmailRecord, error) {
	var rows []emailCacheRow
	query := `
		SELECT ` + emailCacheColumns + `
		FROM email_cache
		WHERE date >= $1
		ORDER BY date DESC
		LIMIT $2`

	if err := a.db.SelectContext(ctx, &rows, query, cutoff, limit); err != nil {
		return nil, err
	}

	records := make([]*out.CachedEmailRecord, 0, len(rows))
	for i := range rows {
		records = append(records, rows[i].toRecord())
	}
	return records, nil
}

// CountRecent counts records no older than the cutoff.
func (a *EmailCacheAdapter) CountRecent(ctx context.Context, cutoff time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM email_cache WHERE date >= $1`

	if err := a.db.GetContext(ctx, &count, query, cutoff); err != nil {
		return 0, err
	}
	return count, nil
}

// LatestDate returns the newest cached message date, (nil, nil) for an
// empty cache.
func (a *EmailCacheAdapter) LatestDate(ctx context.Context) (*time.Time, error) {
	var latest sql.NullTime
	query := `SELECT MAX(date) FROM email_cache`

	if err := a.db.GetContext(ctx, &latest, query); err != nil {
		return nil, err
	}
	if !latest.Valid {
		return nil, nil
	}
	return &latest.Time, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
