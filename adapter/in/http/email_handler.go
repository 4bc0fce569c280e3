package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"secretary_server/core/agent"
	"secretary_server/core/service/email"
	"secretary_server/pkg/apperr"
	"secretary_server/pkg/response"
)

type EmailHandler struct {
	emails     *email.Service
	supervisor *agent.Supervisor
	responder  *agent.Responder
}

func NewEmailHandler(emails *email.Service, supervisor *agent.Supervisor, responder *agent.Responder) *EmailHandler {
	return &EmailHandler{
		emails:     emails,
		supervisor: supervisor,
		responder:  responder,
	}
}

func (h *EmailHandler) Register(router fiber.Router) {
	router.Get("/emails", h.ListEmails)
	router.Get("/emails/:id", h.GetEmail)
	router.Post("/emails/:id/process", h.ProcessEmail)
	router.Post("/emails/:id/reply", h.ReplyToEmail)
	router.Post("/drafts", h.CreateDraft)
}

// ListEmails returns the recent cached window, syncing from the
// provider first when the cache cannot answer or force_refresh is set.
func (h *EmailHandler) ListEmails(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	forceRefresh := c.QueryBool("force_refresh", false)

	records, err := h.emails.GetRecentEmails(c.Context(), limit, forceRefresh)
	if err != nil {
		return apperr.ServiceUnavailable("mail provider", err)
	}

	return response.OKWithMeta(c, records, &response.Meta{Total: len(records)})
}

func (h *EmailHandler) GetEmail(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return apperr.MissingField("id")
	}

	msg, err := h.emails.GetEmailByID(c.Context(), id)
	if err != nil {
		return apperr.ServiceUnavailable("mail provider", err)
	}
	if msg == nil {
		return apperr.NotFound("email")
	}

	return response.OK(c, msg)
}

// ProcessEmail runs the full agent pipeline over one email: routing,
// agent execution, synthesis. The pipeline itself never fails; its
// per-agent failures are reported inside the result.
func (h *EmailHandler) ProcessEmail(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return apperr.MissingField("id")
	}

	msg, err := h.emails.GetEmailByID(c.Context(), id)
	if err != nil {
		return apperr.ServiceUnavailable("mail provider", err)
	}
	if msg == nil {
		return apperr.NotFound("email")
	}

	decision := h.supervisor.RouteEmail(c.Context(), msg)
	result := h.supervisor.CoordinateAgents(c.Context(), msg, decision)

	return response.OK(c, fiber.Map{
		"routing": decision,
		"result":  result,
	})
}

// ReplyToEmail generates a reply for one email and stores it as a
// provider-side draft in a single call. The draft is never sent.
func (h *EmailHandler) ReplyToEmail(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return apperr.MissingField("id")
	}

	msg, err := h.emails.GetEmailByID(c.Context(), id)
	if err != nil {
		return apperr.ServiceUnavailable("mail provider", err)
	}
	if msg == nil {
		return apperr.NotFound("email")
	}

	result := h.responder.GenerateReply(c.Context(), msg)
	if !result.Success || result.Draft == nil {
		return apperr.ServiceUnavailable("llm gateway", errors.New(result.Error))
	}

	draftID, err := h.emails.CreateDraft(c.Context(), result.Draft.To, result.Draft.Subject, result.Draft.Body)
	if err != nil {
		return apperr.ServiceUnavailable("mail provider", err)
	}

	return response.Created(c, fiber.Map{
		"draft_id": draftID,
		"draft":    result.Draft,
	})
}

type createDraftRequest struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

func (h *EmailHandler) CreateDraft(c *fiber.Ctx) error {
	var req createDraftRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if len(req.To) == 0 {
		return apperr.MissingField("to")
	}
	if req.Body == "" {
		return apperr.MissingField("body")
	}

	draftID, err := h.emails.CreateDraft(c.Context(), req.To, req.Subject, req.Body)
	if err != nil {
		return apperr.ServiceUnavailable("mail provider", err)
	}

	return response.Created(c, fiber.Map{"draft_id": draftID})
}
