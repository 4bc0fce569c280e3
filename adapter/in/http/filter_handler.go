package http

import (
	"github.com/gofiber/fiber/v2"

	"secretary_server/core/domain"
	"secretary_server/core/service/email"
	"secretary_server/core/service/filtering"
	"secretary_server/pkg/apperr"
	"secretary_server/pkg/response"
)

type FilterHandler struct {
	filters *filtering.Service
	emails  *email.Service
}

func NewFilterHandler(filters *filtering.Service, emails *email.Service) *FilterHandler {
	return &FilterHandler{
		filters: filters,
		emails:  emails,
	}
}

func (h *FilterHandler) Register(router fiber.Router) {
	router.Post("/filters/rules", h.CreateRule)
	router.Get("/filters/rules", h.ListRules)
	router.Get("/filters/suggestions", h.ListSuggestions)
	router.Post("/filters/analyze", h.AnalyzePatterns)
}

type createRuleRequest struct {
	Description string `json:"description"`
}

// CreateRule translates a natural-language description into a stored
// rule. A description the LLM cannot turn into a usable matcher is
// reported as not applied, never as a server error.
func (h *FilterHandler) CreateRule(c *fiber.Ctx) error {
	var req createRuleRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.Description == "" {
		return apperr.MissingField("description")
	}

	applied := h.filters.ApplyFilteringRule(c.Context(), req.Description)
	return response.OK(c, fiber.Map{"applied": applied})
}

func (h *FilterHandler) ListRules(c *fiber.Ctx) error {
	rules, err := h.filters.ActiveRules(c.Context())
	if err != nil {
		return apperr.InternalWithError(err)
	}
	return response.OKWithMeta(c, rules, &response.Meta{Total: len(rules)})
}

func (h *FilterHandler) ListSuggestions(c *fiber.Ctx) error {
	status := domain.SuggestionStatus(c.Query("status", string(domain.SuggestionPending)))
	switch status {
	case domain.SuggestionPending, domain.SuggestionAccepted, domain.SuggestionRejected:
	default:
		return apperr.BadRequest("unknown suggestion status")
	}

	suggestions, err := h.filters.GetSuggestions(c.Context(), status)
	if err != nil {
		return apperr.InternalWithError(err)
	}
	return response.OKWithMeta(c, suggestions, &response.Meta{Total: len(suggestions)})
}

// AnalyzePatterns scans the cached window for automated senders and
// stores pending rule suggestions.
func (h *FilterHandler) AnalyzePatterns(c *fiber.Ctx) error {
	records, err := h.emails.GetRecentEmails(c.Context(), 0, false)
	if err != nil {
		return apperr.ServiceUnavailable("mail provider", err)
	}

	// The indicator scan only needs headers and an excerpt.
	emails := make([]*domain.Email, 0, len(records))
	for _, rec := range records {
		emails = append(emails, &domain.Email{
			ID:      rec.ID,
			From:    rec.From,
			Subject: rec.Subject,
			Body:    rec.BodyExcerpt,
			Date:    rec.Date,
		})
	}

	suggestions, err := h.filters.AnalyzeEmailPatterns(c.Context(), emails)
	if err != nil {
		return apperr.InternalWithError(err)
	}
	return response.OKWithMeta(c, suggestions, &response.Meta{Total: len(suggestions)})
}
