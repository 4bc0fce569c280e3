package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"secretary_server/core/agent/llm"
	"secretary_server/core/domain"
	"secretary_server/core/port/out"
)

// Organizer plans folder placement for email attachments. The plan is
// advisory, an external storage collaborator executes it.
type Organizer struct {
	gateway out.LLMGateway
}

// NewOrganizer creates an Organizer.
func NewOrganizer(gateway out.LLMGateway) *Organizer {
	return &Organizer{gateway: gateway}
}

type organizeResponse struct {
	ProjectName     string                      `json:"project_name"`
	FolderStructure domain.FolderStructure      `json:"folder_structure"`
	Classifications []domain.FileClassification `json:"file_classification"`
	MetadataTags    []string                    `json:"metadata_tags"`
}

// ManageAttachments produces a placement plan for the email's
// attachments. No attachments is a trivial success, and any LLM
// failure degrades to a deterministic dated plan.
func (o *Organizer) ManageAttachments(ctx context.Context, email *domain.Email) *domain.OrganizeResult {
	if !email.HasAttachments() {
		return &domain.OrganizeResult{Success: true}
	}

	if o.gateway == nil || !o.gateway.IsConfigured() {
		return o.fallbackPlan(email)
	}

	response, err := o.gateway.CompleteJSON(ctx, o.buildPrompt(email))
	if err != nil {
		return o.fallbackPlan(email)
	}

	var parsed organizeResponse
	if err := llm.DecodeJSON(response, &parsed); err != nil {
		return o.fallbackPlan(email)
	}
	if parsed.FolderStructure.MainFolder == "" {
		return o.fallbackPlan(email)
	}

	plan := &domain.OrganizationPlan{
		ProjectName:     parsed.ProjectName,
		Folders:         parsed.FolderStructure,
		Classifications: parsed.Classifications,
		MetadataTags:    parsed.MetadataTags,
	}
	files := mapFiles(email, plan)

	return &domain.OrganizeResult{
		Success:        true,
		FilesProcessed: len(files),
		Files:          files,
		Plan:           plan,
	}
}

func (o *Organizer) buildPrompt(email *domain.Email) string {
	var b strings.Builder

	fmt.Fprintf(&b, `Plan folder organization for these email attachments.

From: %s
Subject: %s
Attachments:
`, email.From, email.Subject)
	for _, a := range email.Attachments {
		fmt.Fprintf(&b, "- %s (%s, %d bytes)\n", a.Filename, a.MimeType, a.Size)
	}

	b.WriteString(`
Respond with a JSON object:
{
  "project_name": "project-x",
  "folder_structure": {"main_folder": "project-x", "sub_folders": ["contracts", "invoices"]},
  "file_classification": [
    {"filename": "a.pdf", "category": "contract", "importance": "high", "suggested_folder": "contracts"}
  ],
  "metadata_tags": ["contract", "2026"]
}`)

	return b.String()
}

// fallbackPlan files everything under a dated general folder with the
// catch-all category.
func (o *Organizer) fallbackPlan(email *domain.Email) *domain.OrganizeResult {
	folder := "general/" + email.Date.Format("2006-01")
	classifications := make([]domain.FileClassification, 0, len(email.Attachments))
	for _, a := range email.Attachments {
		classifications = append(classifications, domain.FileClassification{
			Filename:        a.Filename,
			Category:        "other",
			Importance:      "medium",
			SuggestedFolder: folder,
		})
	}

	plan := &domain.OrganizationPlan{
		Folders:         domain.FolderStructure{MainFolder: folder},
		Classifications: classifications,
	}
	files := mapFiles(email, plan)

	return &domain.OrganizeResult{
		Success:        true,
		FilesProcessed: len(files),
		Files:          files,
		Plan:           plan,
	}
}

// mapFiles resolves each attachment against the plan's classifications,
// prefixing the stored name with the email's date.
func mapFiles(email *domain.Email, plan *domain.OrganizationPlan) []domain.ProcessedFile {
	byName := make(map[string]domain.FileClassification, len(plan.Classifications))
	for _, c := range plan.Classifications {
		byName[c.Filename] = c
	}

	now := time.Now()
	files := make([]domain.ProcessedFile, 0, len(email.Attachments))
	for _, a := range email.Attachments {
		folder := plan.Folders.MainFolder
		category := "other"
		importance := "medium"
		if c, ok := byName[a.Filename]; ok {
			if c.SuggestedFolder != "" {
				folder = c.SuggestedFolder
			}
			if c.Category != "" {
				category = c.Category
			}
			if c.Importance != "" {
				importance = c.Importance
			}
		}
		files = append(files, domain.ProcessedFile{
			OriginalFilename:  a.Filename,
			ProcessedFilename: email.Date.Format("20060102") + "_" + a.Filename,
			Size:              a.Size,
			MimeType:          a.MimeType,
			Category:          category,
			Importance:        importance,
			SavedLocation:     folder,
			ProcessedAt:       now,
			Tags:              plan.MetadataTags,
		})
	}
	return files
}
