package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

// =============================================================================
// Gmail Adapter
// =============================================================================

// GmailConfig holds OAuth2 credentials for the Gmail API. The refresh
// token is obtained out of band; the adapter only refreshes access tokens.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	RefreshToken string
}

// GmailAdapter reads and drafts mail through the Gmail API. List
// operations fetch message bodies in parallel with a bounded degree of
// concurrency to stay under the per-user rate limit.
type GmailAdapter struct {
	config *oauth2.Config
	token  *oauth2.Token
	cb     *gobreaker.CircuitBreaker
}

var _ out.MailProviderPort = (*GmailAdapter)(nil)

// NewGmailAdapter creates a Gmail adapter.
func NewGmailAdapter(cfg GmailConfig) *GmailAdapter {
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			gmail.GmailComposeScope,
		},
		Endpoint: google.Endpoint,
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})

	return &GmailAdapter{
		config: oauthConfig,
		token: &oauth2.Token{
			RefreshToken: cfg.RefreshToken,
			Expiry:       time.Now().Add(-time.Hour),
		},
		cb: cb,
	}
}

// IsConfigured reports whether credentials are present.
func (a *GmailAdapter) IsConfigured() bool {
	return a.config.ClientID != "" && a.token.RefreshToken != ""
}

// =============================================================================
// Listing
// =============================================================================

// ListRecent returns messages received within the last daysBack days,
// newest first.
func (a *GmailAdapter) ListRecent(ctx context.Context, daysBack, maxResults int) (*out.MailListResult, error) {
	svc, err := a.getService(ctx)
	if err != nil {
		return nil, err
	}

	if daysBack <= 0 {
		daysBack = 14
	}
	query := fmt.Sprintf("newer_than:%dd", daysBack)

	refs, nextToken, err := a.listMessageRefs(ctx, svc, query, maxResults)
	if err != nil {
		return nil, err
	}

	emails := a.fetchMessages(ctx, svc, refs)
	return &out.MailListResult{
		Emails:        emails,
		NextPageToken: nextToken,
	}, nil
}

// ListSince returns messages received strictly after since, newest first.
// Gmail's after: filter has second granularity and is inclusive, so the
// boundary message is dropped client-side.
func (a *GmailAdapter) ListSince(ctx context.Context, since time.Time, maxResults int) ([]*domain.Email, error) {
	svc, err := a.getService(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("after:%d", since.Unix())

	refs, _, err := a.listMessageRefs(ctx, svc, query, maxResults)
	if err != nil {
		return nil, err
	}

	fetched := a.fetchMessages(ctx, svc, refs)
	emails := make([]*domain.Email, 0, len(fetched))
	for _, email := range fetched {
		if email.Date.After(since) {
			emails = append(emails, email)
		}
	}
	return emails, nil
}

// GetByID fetches one message in full. A missing message returns (nil, nil).
func (a *GmailAdapter) GetByID(ctx context.Context, id string) (*domain.Email, error) {
	svc, err := a.getService(ctx)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	cbErr := a.executeWithCircuitBreaker("GetByID", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		if isNotFound(cbErr) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message %s: %w", id, cbErr)
	}

	return a.convertMessage(msg), nil
}

// =============================================================================
// Drafts
// =============================================================================

// CreateDraft stores a plain-text draft on the Gmail side and returns
// the provider draft id.
func (a *GmailAdapter) CreateDraft(ctx context.Context, to []string, subject, body string) (string, error) {
	svc, err := a.getService(ctx)
	if err != nil {
		return "", err
	}

	raw := buildRawMessage(to, subject, body)
	draft := &gmail.Draft{
		Message: &gmail.Message{
			Raw: base64.URLEncoding.EncodeToString([]byte(raw)),
		},
	}

	var created *gmail.Draft
	cbErr := a.executeWithCircuitBreaker("CreateDraft", func() error {
		var apiErr error
		created, apiErr = svc.Users.Drafts.Create("me", draft).Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return "", fmt.Errorf("failed to create draft: %w", cbErr)
	}

	return created.Id, nil
}

// =============================================================================
// Internal Helpers
// =============================================================================

func (a *GmailAdapter) getService(ctx context.Context) (*gmail.Service, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return gmail.NewService(ctx, option.WithTokenSource(
		a.config.TokenSource(ctx, a.token),
	))
}

func (a *GmailAdapter) listMessageRefs(ctx context.Context, svc *gmail.Service, query string, maxResults int) ([]*gmail.Message, string, error) {
	if maxResults <= 0 {
		maxResults = 200
	}

	req := svc.Users.Messages.List("me").
		Q(query).
		MaxResults(int64(maxResults))

	var resp *gmail.ListMessagesResponse
	cbErr := a.executeWithCircuitBreaker("ListMessages", func() error {
		var apiErr error
		resp, apiErr = req.Context(ctx).Do()
		return apiErr
	})
	if cbErr != nil {
		return nil, "", fmt.Errorf("failed to list messages: %w", cbErr)
	}

	return resp.Messages, resp.NextPageToken, nil
}

// fetchMessages resolves message refs to full emails. A ref that fails
// to fetch is skipped rather than failing the whole page.
func (a *GmailAdapter) fetchMessages(ctx context.Context, svc *gmail.Service, refs []*gmail.Message) []*domain.Email {
	if len(refs) == 0 {
		return []*domain.Email{}
	}

	const maxConcurrency = 10
	const perMessageTimeout = 15 * time.Second

	type result struct {
		index int
		email *domain.Email
	}

	results := make(chan result, len(refs))
	sem := make(chan struct{}, maxConcurrency)

	for i, ref := range refs {
		go func(idx int, id string) {
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results <- result{index: idx}
				return
			}

			msgCtx, cancel := context.WithTimeout(ctx, perMessageTimeout)
			defer cancel()

			msg, err := svc.Users.Messages.Get("me", id).
				Format("full").
				Context(msgCtx).Do()
			if err != nil {
				log.Warn().Err(err).Str("message_id", id).Msg("failed to fetch message, skipping")
				results <- result{index: idx}
				return
			}
			results <- result{index: idx, email: a.convertMessage(msg)}
		}(i, ref.Id)
	}

	ordered := make([]*domain.Email, len(refs))
	for range refs {
		r := <-results
		ordered[r.index] = r.email
	}

	emails := make([]*domain.Email, 0, len(refs))
	for _, email := range ordered {
		if email != nil {
			emails = append(emails, email)
		}
	}

	sort.Slice(emails, func(i, j int) bool {
		return emails[i].Date.After(emails[j].Date)
	})
	return emails
}

func (a *GmailAdapter) convertMessage(msg *gmail.Message) *domain.Email {
	email := &domain.Email{
		ID:   msg.Id,
		Date: time.Unix(0, msg.InternalDate*int64(time.Millisecond)),
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch h.Name {
			case "From":
				email.From = h.Value
			case "To":
				email.To = parseAddressList(h.Value)
			case "Cc":
				email.Cc = parseAddressList(h.Value)
			case "Subject":
				email.Subject = h.Value
			case "Date":
				if t, err := mail.ParseDate(h.Value); err == nil {
					email.Date = t
				}
			}
		}

		extractBody(msg.Payload, email)
		email.Attachments = extractAttachments(msg.Payload)
	}

	if email.Body == "" {
		email.Body = msg.Snippet
	}

	return email
}

func extractBody(part *gmail.MessagePart, email *domain.Email) {
	if part == nil {
		return
	}

	if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err == nil {
			switch part.MimeType {
			case "text/plain":
				if email.Body == "" {
					email.Body = string(data)
				}
			case "text/html":
				if email.HTMLBody == "" {
					email.HTMLBody = string(data)
				}
			}
		}
	}

	for _, p := range part.Parts {
		extractBody(p, email)
	}
}

func extractAttachments(part *gmail.MessagePart) []domain.Attachment {
	var attachments []domain.Attachment

	if part.Filename != "" {
		att := domain.Attachment{
			Filename: part.Filename,
			MimeType: part.MimeType,
		}
		if part.Body != nil {
			att.Size = part.Body.Size
		}
		attachments = append(attachments, att)
	}

	for _, p := range part.Parts {
		attachments = append(attachments, extractAttachments(p)...)
	}

	return attachments
}

func parseAddressList(s string) []string {
	list, err := mail.ParseAddressList(s)
	if err != nil {
		if s != "" {
			return []string{s}
		}
		return nil
	}

	addrs := make([]string, len(list))
	for i, addr := range list {
		addrs[i] = addr.Address
	}
	return addrs
}

func buildRawMessage(to []string, subject, body string) string {
	var buf strings.Builder

	if len(to) > 0 {
		buf.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	}
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(body)

	return buf.String()
}

// executeWithCircuitBreaker wraps an API call with circuit breaker
// protection. Client errors do not trip the breaker.
func (a *GmailAdapter) executeWithCircuitBreaker(operation string, fn func() error) error {
	_, err := a.cb.Execute(func() (interface{}, error) {
		if err := fn(); err != nil {
			if apiErr, ok := err.(*googleapi.Error); ok {
				switch apiErr.Code {
				case 400, 401, 403, 404:
					return nil, &nonCircuitError{err: err}
				}
			}
			return nil, err
		}
		return nil, nil
	})

	if nce, ok := err.(*nonCircuitError); ok {
		return nce.err
	}

	if err != nil {
		log.Warn().
			Err(err).
			Str("operation", operation).
			Str("state", a.cb.State().String()).
			Msg("gmail api call failed")
	}

	return err
}

type nonCircuitError struct {
	err error
}

func (e *nonCircuitError) Error() string {
	return e.err.Error()
}

func (e *nonCircuitError) Unwrap() error {
	return e.err
}

func isNotFound(err error) bool {
	if nce, ok := err.(*nonCircuitError); ok {
		err = nce.err
	}
	if apiErr, ok := err.(*googleapi.Error); ok {
		return apiErr.Code == 404
	}
	return false
}
