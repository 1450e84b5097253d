package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/gendialogue/dialogue-backend/internal/api/middleware"
	"github.com/gendialogue/dialogue-backend/internal/models"
	"github.com/gendialogue/dialogue-backend/internal/services"
)

// DialogueHandlers serves /api/dialogues
type DialogueHandlers struct {
	service *services.DialogueService
}

// NewDialogueHandlers creates dialogue handlers
func NewDialogueHandlers(service *services.DialogueService) *DialogueHandlers {
	return &DialogueHandlers{service: service}
}

// RegisterRoutes mounts the dialogue CRUD routes on router
func (h *DialogueHandlers) RegisterRoutes(router fiber.Router) {
	router.Post("/", h.Create)
	router.Get("/", h.List)
	router.Get("/:id", h.Get)
	router.Put("/:id", h.Update)
	router.Delete("/:id", h.Delete)
}

// Create handles POST /api/dialogues
func (h *DialogueHandlers) Create(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authenticated"})
	}

	var req models.DialogueInput
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	dialogue, err := h.service.Create(c.UserContext(), userContext.UserID, req)
	if err != nil {
		return dialogueError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dialogue)
}

// List handles GET /api/dialogues
func (h *DialogueHandlers) List(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authenticated"})
	}

	dialogues, err := h.service.List(c.UserContext(), userContext.UserID)
	if err != nil {
		return dialogueError(c, err)
	}
	return c.JSON(dialogues)
}

// Get handles GET /api/dialogues/:id
func (h *DialogueHandlers) Get(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authenticated"})
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dialogue ID"})
	}

	dialogue, err := h.service.Get(c.UserContext(), userContext.UserID, id)
	if err != nil {
		return dialogueError(c, err)
	}
	return c.JSON(dialogue)
}

// Update handles PUT /api/dialogues/:id
func (h *DialogueHandlers) Update(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authenticated"})
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dialogue ID"})
	}

	var req models.DialogueUpdate
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	dialogue, err := h.service.Update(c.UserContext(), userContext.UserID, id, req)
	if err != nil {
		return dialogueError(c, err)
	}
	return c.JSON(dialogue)
}

// Delete handles DELETE /api/dialogues/:id
func (h *DialogueHandlers) Delete(c *fiber.Ctx) error {
	userContext := middleware.GetUserContext(c)
	if userContext == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Not authenticated"})
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid dialogue ID"})
	}

	if err := h.service.Delete(c.UserContext(), userContext.UserID, id); err != nil {
		return dialogueError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Dialogue deleted"})
}

func dialogueError(c *fiber.Ctx, err error) error {
	var ve *services.ValidationError
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": ve.Error(),
			"field": ve.Field,
		})
	case errors.Is(err, services.ErrDialogueNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Dialogue not found"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Dialogue request failed"})
}
