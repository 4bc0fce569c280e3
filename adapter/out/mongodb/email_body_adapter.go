// Package mongodb implements MongoDB adapters for the application.
package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"secretary_server/core/domain"
	"secretary_server/core/port/out"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Email Body Adapter
// =============================================================================

const (
	collectionEmailBodies = "email_bodies"

	// Only compress bodies larger than this
	compressionThreshold = 1024 // 1KB
)

// EmailBodyAdapter implements out.EmailBodyRepository using MongoDB.
// Full bodies live here, out of band from the relational metadata cache.
type EmailBodyAdapter struct {
	collection *mongo.Collection
}

var _ out.EmailBodyRepository = (*EmailBodyAdapter)(nil)

// NewEmailBodyAdapter creates a new MongoDB email body adapter.
func NewEmailBodyAdapter(db *mongo.Database) *EmailBodyAdapter {
	return &EmailBodyAdapter{collection: db.Collection(collectionEmailBodies)}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *EmailBodyAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "email_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "cached_at", Value: 1}},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

// emailBodyDocument represents the MongoDB document structure.
type emailBodyDocument struct {
	EmailID string `bson:"email_id"`

	FromEmail string    `bson:"from_email"`
	ToEmails  []string  `bson:"to_emails,omitempty"`
	CcEmails  []string  `bson:"cc_emails,omitempty"`
	Subject   string    `bson:"subject"`
	Date      time.Time `bson:"date"`

	// Content (potentially compressed)
	Body         []byte `bson:"body"`
	HTMLBody     []byte `bson:"html_body"`
	IsCompressed bool   `bson:"is_compressed"`

	Attachments []attachmentDocument `bson:"attachments,omitempty"`

	CachedAt time.Time `bson:"cached_at"`
}

type attachmentDocument struct {
	Filename string `bson:"filename"`
	Size     int64  `bson:"size"`
	MimeType string `bson:"mime_type"`
}

// =============================================================================
// Operations
// =============================================================================

// Save stores the full email, replacing any previous copy.
func (a *EmailBodyAdapter) Save(ctx context.Context, email *domain.Email) error {
	doc, err := toDocument(email)
	if err != nil {
		return fmt.Errorf("failed to convert email to document: %w", err)
	}

	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"email_id": email.ID}

	if _, err := a.collection.ReplaceOne(ctx, filter, doc, opts); err != nil {
		return fmt.Errorf("failed to save email body: %w", err)
	}
	return nil
}

// Get retrieves the full email, (nil, nil) when absent.
func (a *EmailBodyAdapter) Get(ctx context.Context, id string) (*domain.Email, error) {
	var doc emailBodyDocument
	filter := bson.M{"email_id": id}

	err := a.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get email body: %w", err)
	}

	return toEmail(&doc)
}

// Delete removes the stored body.
func (a *EmailBodyAdapter) Delete(ctx context.Context, id string) error {
	filter := bson.M{"email_id": id}

	if _, err := a.collection.DeleteOne(ctx, filter); err != nil {
		return fmt.Errorf("failed to delete email body: %w", err)
	}
	return nil
}

// DeleteOlderThan removes all bodies cached before the given time.
func (a *EmailBodyAdapter) DeleteOlderThan(ctx context.Context, before time.Time) (int64, error) {
	filter := bson.M{"cached_at": bson.M{"$lt": before}}

	result, err := a.collection.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old bodies: %w", err)
	}
	return result.DeletedCount, nil
}

// =============================================================================
// Conversion Helpers
// =============================================================================

func toDocument(email *domain.Email) (*emailBodyDocument, error) {
	bodyBytes := []byte(email.Body)
	htmlBytes := []byte(email.HTMLBody)

	isCompressed := false
	if len(bodyBytes)+len(htmlBytes) > compressionThreshold {
		var err error
		if bodyBytes, err = compress(bodyBytes); err != nil {
			return nil, fmt.Errorf("failed to compress body: %w", err)
		}
		if htmlBytes, err = compress(htmlBytes); err != nil {
			return nil, fmt.Errorf("failed to compress html body: %w", err)
		}
		isCompressed = true
	}

	attachments := make([]attachmentDocument, len(email.Attachments))
	for i, att := range email.Attachments {
		attachments[i] = attachmentDocument{
			Filename: att.Filename,
			Size:     att.Size,
			MimeType: att.MimeType,
		}
	}

	return &emailBodyDocument{
		EmailID:      email.ID,
		FromEmail:    email.From,
		ToEmails:     email.To,
		CcEmails:     email.Cc,
		Subject:      email.Subject,
		Date:         email.Date,
		Body:         bodyBytes,
		HTMLBody:     htmlBytes,
		IsCompressed: isCompressed,
		Attachments:  attachments,
		CachedAt:     time.Now(),
	}, nil
}

func toEmail(doc *emailBodyDocument) (*domain.Email, error) {
	bodyBytes := doc.Body
	htmlBytes := doc.HTMLBody

	if doc.IsCompressed {
		var err error
		if bodyBytes, err = decompress(doc.Body); err != nil {
			return nil, fmt.Errorf("failed to decompress body: %w", err)
		}
		if htmlBytes, err = decompress(doc.HTMLBody); err != nil {
			return nil, fmt.Errorf("failed to decompress html body: %w", err)
		}
	}

	attachments := make([]domain.Attachment, len(doc.Attachments))
	for i, att := range doc.Attachments {
		attachments[i] = domain.Attachment{
			Filename: att.Filename,
			Size:     att.Size,
			MimeType: att.MimeType,
		}
	}

	return &domain.Email{
		ID:          doc.EmailID,
		From:        doc.FromEmail,
		To:          doc.ToEmails,
		Cc:          doc.CcEmails,
		Subject:     doc.Subject,
		Date:        doc.Date,
		Body:        string(bodyBytes),
		HTMLBody:    string(htmlBytes),
		Attachments: attachments,
	}, nil
}

// =============================================================================
// Compression Helpers
// =============================================================================

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)

	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}
