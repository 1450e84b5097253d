package signaling

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/gendialogue/dialogue-backend/internal/rooms"
)

const claimsLocal = "room_claims"

// TokenVerifier checks room credentials
type TokenVerifier interface {
	VerifyToken(token string) (*rooms.Claims, error)
}

// Register mounts the signaling socket at path. The room credential is read
// from the token query parameter before the upgrade.
func (h *Hub) Register(app fiber.Router, path string, verifier TokenVerifier) {
	app.Use(path, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		claims, err := verifier.VerifyToken(c.Query("token"))
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid room token",
			})
		}

		c.Locals(claimsLocal, claims)
		return c.Next()
	})

	app.Get(path, websocket.New(h.serve))
}

func (h *Hub) serve(c *websocket.Conn) {
	defer c.Close()

	claims, ok := c.Locals(claimsLocal).(*rooms.Claims)
	if !ok {
		return
	}

	if err := h.Admit(context.Background(), claims.RoomID, claims.Identity, c); err != nil {
		return
	}
	defer h.Remove(claims.RoomID, claims.Identity, c)

	for {
		var msg Message
		if err := c.ReadJSON(&msg); err != nil {
			return
		}
		if leave := h.Handle(claims.RoomID, claims.Identity, msg); leave {
			return
		}
	}
}
