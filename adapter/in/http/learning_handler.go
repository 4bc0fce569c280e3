package http

import (
	"github.com/gofiber/fiber/v2"

	"secretary_server/core/service/learning"
	"secretary_server/pkg/apperr"
	"secretary_server/pkg/response"
)

type LearningHandler struct {
	learning *learning.Service
}

func NewLearningHandler(learning *learning.Service) *LearningHandler {
	return &LearningHandler{learning: learning}
}

func (h *LearningHandler) Register(router fiber.Router) {
	router.Post("/corrections", h.SaveCorrection)
	router.Get("/corrections/similar", h.SimilarCorrections)
	router.Get("/learning/stats", h.Stats)
	router.Get("/learning/profiles/:recipient", h.RecipientProfile)
}

type saveCorrectionRequest struct {
	Original       string `json:"original"`
	Corrected      string `json:"corrected"`
	Recipient      string `json:"recipient"`
	CorrectionType string `json:"correction_type"`
	Context        string `json:"context"`
}

func (h *LearningHandler) SaveCorrection(c *fiber.Ctx) error {
	var req saveCorrectionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperr.BadRequest("invalid request body")
	}
	if req.Original == "" {
		return apperr.MissingField("original")
	}
	if req.Corrected == "" {
		return apperr.MissingField("corrected")
	}

	if err := h.learning.SaveCorrection(c.Context(), req.Original, req.Corrected, req.Recipient, req.CorrectionType, req.Context); err != nil {
		return apperr.InternalWithError(err)
	}

	return response.Created(c, fiber.Map{"saved": true})
}

func (h *LearningHandler) SimilarCorrections(c *fiber.Ctx) error {
	draft := c.Query("draft")
	if draft == "" {
		return apperr.MissingField("draft")
	}
	recipient := c.Query("recipient")
	limit := c.QueryInt("limit", 3)

	corrections, err := h.learning.GetSimilarCorrections(c.Context(), draft, recipient, limit)
	if err != nil {
		return apperr.InternalWithError(err)
	}
	return response.OKWithMeta(c, corrections, &response.Meta{Total: len(corrections)})
}

func (h *LearningHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.learning.GetLearningStats(c.Context())
	if err != nil {
		return apperr.InternalWithError(err)
	}
	return response.OK(c, stats)
}

func (h *LearningHandler) RecipientProfile(c *fiber.Ctx) error {
	recipient := c.Params("recipient")
	if recipient == "" {
		return apperr.MissingField("recipient")
	}

	profile, err := h.learning.GetRecipientProfile(c.Context(), recipient)
	if err != nil {
		return apperr.InternalWithError(err)
	}
	if profile == nil {
		return apperr.NotFound("recipient profile")
	}
	return response.OK(c, profile)
}
