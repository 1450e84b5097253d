package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/gendialogue/dialogue-backend/internal/auth"
	"github.com/gendialogue/dialogue-backend/internal/models"
)

// TokenValidator verifies bearer tokens. *auth.Service implements it.
type TokenValidator interface {
	ValidateToken(token string) (*models.UserContext, error)
}

// AuthConfig holds the auth middleware configuration
type AuthConfig struct {
	Validator TokenValidator
	Optional  bool // If true, auth is optional (doesn't fail if no token)
	// AllowQueryToken accepts ?token= for clients that cannot set headers,
	// such as browser WebSockets.
	AllowQueryToken bool
}

// AuthRequired creates a middleware that requires authentication
func AuthRequired(validator TokenValidator) fiber.Handler {
	return AuthMiddleware(AuthConfig{Validator: validator})
}

// AuthMiddleware is the main authentication middleware
func AuthMiddleware(config AuthConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := auth.ExtractTokenFromBearer(c.Get("Authorization"))

		// Also check for token in cookie (for web clients)
		if token == "" {
			token = c.Cookies("access_token")
		}
		if token == "" && config.AllowQueryToken {
			token = c.Query("token")
		}

		if token == "" {
			if config.Optional {
				return c.Next()
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		user, err := config.Validator.ValidateToken(token)
		if err != nil {
			if config.Optional {
				return c.Next()
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		storeUserContext(c, user)
		return c.Next()
	}
}

func storeUserContext(c *fiber.Ctx, user *models.UserContext) {
	c.Locals("user_id", user.UserID.String())
	c.Locals("user_context", user)
}

// GetUserContext retrieves the user context from the fiber context
func GetUserContext(c *fiber.Ctx) *models.UserContext {
	if ctx := c.Locals("user_context"); ctx != nil {
		if userContext, ok := ctx.(*models.UserContext); ok {
			return userContext
		}
	}
	return nil
}

// GetUserID retrieves the user ID from the fiber context
func GetUserID(c *fiber.Ctx) (uuid.UUID, error) {
	if user := GetUserContext(c); user != nil {
		return user.UserID, nil
	}
	return uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "User not authenticated")
}
