package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"secretary_server/core/domain"
)

func emailWithAttachments() *domain.Email {
	return &domain.Email{
		ID:      "msg-2",
		From:    "suzuki@example.com",
		Subject: "契約書の送付",
		Body:    "契約書を添付いたします。",
		Date:    time.Date(2026, time.March, 3, 9, 0, 0, 0, time.UTC),
		Attachments: []domain.Attachment{
			{Filename: "contract.pdf", Size: 2048, MimeType: "application/pdf"},
			{Filename: "appendix.xlsx", Size: 1024, MimeType: "application/vnd.ms-excel"},
		},
	}
}

func TestManageAttachmentsNoneIsTrivialSuccess(t *testing.T) {
	gw := &fakeGateway{configured: true}
	organizer := NewOrganizer(gw)

	result := organizer.ManageAttachments(context.Background(), testEmail())

	if !result.Success {
		t.Error("no attachments should be a trivial success")
	}
	if result.FilesProcessed != 0 {
		t.Errorf("expected 0 files processed, got %d", result.FilesProcessed)
	}
	if gw.callCount() != 0 {
		t.Error("no attachments should not call the gateway")
	}
}

func TestManageAttachmentsFallbackPlan(t *testing.T) {
	organizer := NewOrganizer(&fakeGateway{configured: true, err: errors.New("down")})

	result := organizer.ManageAttachments(context.Background(), emailWithAttachments())

	if !result.Success {
		t.Fatal("fallback plan should succeed")
	}
	if result.FilesProcessed != 2 {
		t.Fatalf("expected 2 files, got %d", result.FilesProcessed)
	}
	if result.Plan.Folders.MainFolder != "general/2026-03" {
		t.Errorf("expected dated general folder, got %s", result.Plan.Folders.MainFolder)
	}
	for _, f := range result.Files {
		if f.Category != "other" {
			t.Errorf("fallback category should be 'other', got %s", f.Category)
		}
		if !strings.HasPrefix(f.ProcessedFilename, "20260303_") {
			t.Errorf("stored name should be date-prefixed, got %s", f.ProcessedFilename)
		}
	}
}

func TestManageAttachmentsMapsPlan(t *testing.T) {
	gw := &fakeGateway{configured: true, response: `{
		"project_name": "acme-contract",
		"folder_structure": {"main_folder": "acme", "sub_folders": ["contracts"]},
		"file_classification": [
			{"filename": "contract.pdf", "category": "contract", "importance": "high", "suggested_folder": "acme/contracts"}
		],
		"metadata_tags": ["acme", "2026"]
	}`}
	organizer := NewOrganizer(gw)

	result := organizer.ManageAttachments(context.Background(), emailWithAttachments())

	if !result.Success {
		t.Fatal("expected success")
	}
	byName := make(map[string]domain.ProcessedFile)
	for _, f := range result.Files {
		byName[f.OriginalFilename] = f
	}

	contract := byName["contract.pdf"]
	if contract.SavedLocation != "acme/contracts" {
		t.Errorf("classified file should use its suggested folder, got %s", contract.SavedLocation)
	}
	if contract.Category != "contract" {
		t.Errorf("expected classified category, got %s", contract.Category)
	}

	// Unclassified files land in the main folder with the catch-all
	// category.
	appendix := byName["appendix.xlsx"]
	if appendix.SavedLocation != "acme" {
		t.Errorf("unclassified file should use the main folder, got %s", appendix.SavedLocation)
	}
	if appendix.Category != "other" {
		t.Errorf("expected catch-all category, got %s", appendix.Category)
	}
}
