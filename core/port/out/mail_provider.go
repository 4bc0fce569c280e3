package out

import (
	"context"
	"time"

	"secretary_server/core/domain"
)

// MailListResult is one page of provider messages.
type MailListResult struct {
	Emails        []*domain.Email
	NextPageToken string
}

// MailProviderPort wraps the external mail provider. The sync service
// prefers ListSince when it has a high-water mark and falls back to
// ListRecent over the default lookback window.
type MailProviderPort interface {
	// ListRecent returns messages received within the last daysBack days.
	ListRecent(ctx context.Context, daysBack, maxResults int) (*MailListResult, error)

	// ListSince returns messages received strictly after since.
	ListSince(ctx context.Context, since time.Time, maxResults int) ([]*domain.Email, error)

	// GetByID fetches one message. A missing message returns (nil, nil).
	GetByID(ctx context.Context, id string) (*domain.Email, error)

	// CreateDraft stores a draft on the provider side and returns its id.
	CreateDraft(ctx context.Context, to []string, subject, body string) (string, error)
}
