package domain

import "time"

// Agent names the Supervisor can route to.
const (
	AgentAnalyzer  = "analyzer"
	AgentResponder = "responder"
	AgentOrganizer = "organizer"
)

// RoutingDecision is the Supervisor's per-email processing plan.
// Produced once per request, never persisted.
type RoutingDecision struct {
	Agents            []string `json:"agents_to_use"`
	Priority          Priority `json:"priority"`
	ParallelExecution bool     `json:"parallel_execution"`
	Reasoning         string   `json:"reasoning"`
}

// Selected reports whether the decision includes the named agent.
func (d *RoutingDecision) Selected(agent string) bool {
	for _, a := range d.Agents {
		if a == agent {
			return true
		}
	}
	return false
}

// AgentResult is one agent's outcome inside an aggregate. A failed
// agent still occupies its slot so callers can tell "ran and failed"
// from "was not selected".
type AgentResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// FinalRecommendation is the Supervisor's synthesis of all agent
// results. Always well-formed, including the fallback default.
type FinalRecommendation struct {
	RecommendedActions []string `json:"recommended_actions"`
	PriorityLevel      Priority `json:"priority_level"`
	Summary            string   `json:"summary"`
	NextSteps          string   `json:"next_steps"`
}

// AggregateResult collects everything one CoordinateAgents call produced.
type AggregateResult struct {
	RoutingDecision *RoutingDecision       `json:"routing_decision"`
	AgentResults    map[string]AgentResult `json:"agent_results"`
	Recommendation  *FinalRecommendation   `json:"final_recommendation"`
}

// AnalysisResult is the Analyzer agent's outcome. Success is always
// true: a deterministic fallback covers every LLM failure mode.
type AnalysisResult struct {
	Success    bool           `json:"success"`
	Summary    *EmailSummary  `json:"email_summary"`
	Details    map[string]any `json:"analysis_details,omitempty"`
	AIAnalyzed bool           `json:"ai_analyzed"`
}

// ReplyDraft is a proposed reply. Ephemeral, the caller decides whether
// to persist it as a provider-side draft.
type ReplyDraft struct {
	To         []string `json:"to_email"`
	Cc         []string `json:"cc_email"`
	Subject    string   `json:"subject"`
	Body       string   `json:"body"`
	Confidence float64  `json:"confidence_score"`
	Reasoning  string   `json:"reasoning"`
}

// ReplyResult is the Responder agent's outcome. There is no fallback
// draft: a bad auto-generated reply is worse than no reply.
type ReplyResult struct {
	Success     bool        `json:"success"`
	Error       string      `json:"error,omitempty"`
	Draft       *ReplyDraft `json:"reply_draft"`
	Suggestions []string    `json:"suggestions,omitempty"`
}

// FileClassification describes where one attachment should go.
type FileClassification struct {
	Filename        string `json:"filename"`
	Category        string `json:"category"`
	Importance      string `json:"importance"`
	SuggestedFolder string `json:"suggested_folder"`
}

// FolderStructure is the proposed folder layout for an organization plan.
type FolderStructure struct {
	MainFolder string   `json:"main_folder"`
	SubFolders []string `json:"sub_folders"`
}

// OrganizationPlan is the Organizer agent's advisory filing plan.
// No file I/O happens here, an external storage collaborator executes it.
type OrganizationPlan struct {
	ProjectName     string               `json:"project_name"`
	Folders         FolderStructure      `json:"folder_structure"`
	Classifications []FileClassification `json:"file_classifications"`
	MetadataTags    []string             `json:"metadata_tags"`
}

// ProcessedFile records how one attachment was mapped against the plan.
type ProcessedFile struct {
	OriginalFilename  string    `json:"original_filename"`
	ProcessedFilename string    `json:"processed_filename"`
	Size              int64     `json:"file_size"`
	MimeType          string    `json:"mime_type"`
	Category          string    `json:"category"`
	Importance        string    `json:"importance"`
	SavedLocation     string    `json:"saved_location"`
	ProcessedAt       time.Time `json:"processed_at"`
	Tags              []string  `json:"tags,omitempty"`
}

// OrganizeResult is the Organizer agent's outcome.
type OrganizeResult struct {
	Success        bool              `json:"success"`
	Error          string            `json:"error,omitempty"`
	FilesProcessed int               `json:"files_processed"`
	Files          []ProcessedFile   `json:"processed_files,omitempty"`
	Plan           *OrganizationPlan `json:"organization_plan,omitempty"`
}
