// Package domain holds the core entities of the mail secretary.
package domain

import (
	"strings"
	"time"
)

// Priority classifies how quickly an email needs attention.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityNormal Priority = "normal"
	PriorityFYI    Priority = "fyi"
)

// IsValid reports whether p is one of the enumerated priorities.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityUrgent, PriorityNormal, PriorityFYI:
		return true
	}
	return false
}

// ParsePriority coerces free text into a valid Priority. Unknown values
// map to normal so consumers never see out-of-range priorities.
func ParsePriority(s string) Priority {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p.IsValid() {
		return p
	}
	return PriorityNormal
}

// Category classifies what kind of handling an email needs.
type Category string

const (
	CategoryReplyNeeded Category = "reply_needed"
	CategoryConfirmOnly Category = "confirm_only"
	CategoryInfo        Category = "info"
)

// IsValid reports whether c is one of the enumerated categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryReplyNeeded, CategoryConfirmOnly, CategoryInfo:
		return true
	}
	return false
}

// ParseCategory coerces free text into a valid Category. Unknown values
// map to confirm_only.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if c.IsValid() {
		return c
	}
	return CategoryConfirmOnly
}

// Attachment describes an email attachment. Metadata only, the content
// stays with the provider.
type Attachment struct {
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Email is an immutable message record fetched from the mail provider.
type Email struct {
	ID          string       `json:"id"`
	From        string       `json:"from_email"`
	To          []string     `json:"to_email"`
	Cc          []string     `json:"cc_email,omitempty"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	HTMLBody    string       `json:"html_body,omitempty"`
	Date        time.Time    `json:"date"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// HasAttachments reports whether the email carries any attachments.
func (e *Email) HasAttachments() bool {
	return len(e.Attachments) > 0
}

// SenderName extracts a display name from the From header.
// `"Display Name" <addr>` yields the unquoted display name, a bare
// address yields the local part before '@'.
func (e *Email) SenderName() string {
	return ExtractDisplayName(e.From)
}

// ExtractDisplayName derives a human-readable name from an address.
func ExtractDisplayName(address string) string {
	if i := strings.Index(address, "<"); i >= 0 && strings.Contains(address, ">") {
		name := strings.TrimSpace(address[:i])
		name = strings.Trim(name, `"`)
		if name != "" {
			return name
		}
		// Fall through to the local part of the bracketed address.
		addr := address[i+1:]
		if j := strings.Index(addr, ">"); j >= 0 {
			address = addr[:j]
		}
	}
	if at := strings.Index(address, "@"); at > 0 {
		return address[:at]
	}
	return address
}

// EmailSummary is the analyzed projection of an Email. Re-analysis
// replaces the whole summary, fields are never patched individually.
type EmailSummary struct {
	ID            string    `json:"id"`
	From          string    `json:"from_email"`
	FromName      string    `json:"from_name"`
	Subject       string    `json:"subject"`
	Date          time.Time `json:"date"`
	Summary       string    `json:"summary"`
	Priority      Priority  `json:"priority"`
	Category      Category  `json:"category"`
	HasAttachment bool      `json:"has_attachment"`
	Entities      []string  `json:"important_entities"`
}
