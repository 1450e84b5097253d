package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/gendialogue/dialogue-backend/internal/api/handlers"
	"github.com/gendialogue/dialogue-backend/internal/api/middleware"
	"github.com/gendialogue/dialogue-backend/internal/services"
)

// SetupRoutes configures all routes. gatherer backs /metrics and may be nil.
func SetupRoutes(app *fiber.App, svc *services.Services, gatherer prometheus.Gatherer, logger logrus.FieldLogger) {
	api := app.Group("/api")

	// ========================================
	// Public routes
	// ========================================

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"service": "dialogue-backend",
		})
	})

	authRoutes := api.Group("/auth", middleware.AuthRateLimit())
	authRoutes.Post("/register", handlers.Register(svc.Auth))
	authRoutes.Post("/login", handlers.Login(svc.Auth))

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// ========================================
	// Protected routes
	// ========================================

	protected := api.Group("", middleware.AuthRequired(svc.Auth))

	protected.Get("/user/profile", handlers.Profile(svc.Auth))

	handlers.NewDialogueHandlers(svc.Dialogues).RegisterRoutes(protected.Group("/dialogues"))
	handlers.NewVideoHandlers(svc.Rooms, svc.Hub).RegisterRoutes(protected.Group("/video"))
	handlers.NewAIHandlers(svc.Text).RegisterRoutes(protected.Group("/ai", middleware.EnrichmentRateLimit()))

	// ========================================
	// WebSocket routes
	// ========================================

	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, middleware.AuthMiddleware(middleware.AuthConfig{
		Validator:       svc.Auth,
		AllowQueryToken: true,
	}))

	conferenceHandler := handlers.NewConferenceHandler(svc.Conferences, svc.Dialogues, logger)
	app.Get("/ws/conference/:id", conferenceHandler.Authorize, websocket.New(conferenceHandler.Serve))

	// Media signaling authenticates with room credentials, not user tokens.
	svc.Hub.Register(app, "/rtc", svc.Rooms)
}
