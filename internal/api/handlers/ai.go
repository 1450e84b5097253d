package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/gendialogue/dialogue-backend/internal/enrichment"
)

type textRequest struct {
	Text string `json:"text"`
}

// AIHandlers serves /api/ai over the enrichment service
type AIHandlers struct {
	enricher enrichment.Enricher
}

func NewAIHandlers(enricher enrichment.Enricher) *AIHandlers {
	return &AIHandlers{enricher: enricher}
}

// RegisterRoutes mounts summarize and format on router
func (h *AIHandlers) RegisterRoutes(router fiber.Router) {
	router.Post("/summarize", h.Summarize)
	router.Post("/format", h.Format)
}

// Summarize handles POST /api/ai/summarize
func (h *AIHandlers) Summarize(c *fiber.Ctx) error {
	var req textRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Text is required"})
	}

	summary, err := h.enricher.Summarize(c.UserContext(), req.Text)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "Error summarizing text",
			"details": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"summary": summary})
}

// Format handles POST /api/ai/format
func (h *AIHandlers) Format(c *fiber.Ctx) error {
	var req textRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Text is required"})
	}

	formatted, err := h.enricher.Format(c.UserContext(), req.Text)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "Error formatting text",
			"details": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"formatted": formatted})
}
