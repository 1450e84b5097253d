package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/gendialogue/dialogue-backend/internal/api/middleware"
	"github.com/gendialogue/dialogue-backend/internal/rooms"
)

// RoomCloser disconnects the live peers of a room
type RoomCloser interface {
	CloseRoom(roomID string)
}

// RoomRequest names a media room
type RoomRequest struct {
	RoomName string `json:"roomName"`
	Identity string `json:"identity,omitempty"`
}

// VideoHandlers serves /api/video
type VideoHandlers struct {
	rooms  *rooms.Service
	closer RoomCloser
}

// NewVideoHandlers creates video handlers. closer may be nil.
func NewVideoHandlers(roomService *rooms.Service, closer RoomCloser) *VideoHandlers {
	return &VideoHandlers{rooms: roomService, closer: closer}
}

// RegisterRoutes mounts the video routes on router
func (h *VideoHandlers) RegisterRoutes(router fiber.Router) {
	router.Post("/video-token", h.Token)
	router.Post("/create-room", h.CreateRoom)
	router.Post("/end-room", h.EndRoom)
}

// Token handles POST /api/video/video-token
func (h *VideoHandlers) Token(c *fiber.Ctx) error {
	req, ok := parseRoomRequest(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "roomName is required"})
	}

	identity := req.Identity
	if identity == "" {
		if user := middleware.GetUserContext(c); user != nil {
			identity = user.UserID.String()
		}
	}

	token, err := h.rooms.IssueToken(c.UserContext(), req.RoomName, identity)
	if err != nil {
		return roomError(c, err, "Failed to generate token")
	}
	return c.JSON(fiber.Map{"token": token})
}

// CreateRoom handles POST /api/video/create-room
func (h *VideoHandlers) CreateRoom(c *fiber.Ctx) error {
	req, ok := parseRoomRequest(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "roomName is required"})
	}

	info, err := h.rooms.EnsureRoom(c.UserContext(), req.RoomName)
	if err != nil {
		return roomError(c, err, "Failed to create room")
	}
	return c.JSON(info)
}

// EndRoom handles POST /api/video/end-room
func (h *VideoHandlers) EndRoom(c *fiber.Ctx) error {
	req, ok := parseRoomRequest(c)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "roomName is required"})
	}

	if err := h.rooms.EndRoom(c.UserContext(), req.RoomName); err != nil {
		return roomError(c, err, "Failed to end room")
	}
	if h.closer != nil {
		h.closer.CloseRoom(req.RoomName)
	}
	return c.JSON(fiber.Map{"message": "Room ended", "roomName": req.RoomName})
}

func parseRoomRequest(c *fiber.Ctx) (RoomRequest, bool) {
	var req RoomRequest
	if err := c.BodyParser(&req); err != nil {
		return req, false
	}
	return req, req.RoomName != ""
}

func roomError(c *fiber.Ctx, err error, message string) error {
	switch {
	case errors.Is(err, rooms.ErrRoomAtCapacity):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Room is at capacity"})
	case errors.Is(err, rooms.ErrRoomNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Room not found"})
	case errors.Is(err, rooms.ErrInvalidRoomID):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   message,
		"details": err.Error(),
	})
}
