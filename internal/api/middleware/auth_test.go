package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gendialogue/dialogue-backend/internal/models"
)

type staticValidator struct {
	token string
	user  *models.UserContext
}

func (v staticValidator) ValidateToken(token string) (*models.UserContext, error) {
	if token != v.token {
		return nil, errors.New("invalid token")
	}
	return v.user, nil
}

func TestAuthMiddleware(t *testing.T) {
	user := &models.UserContext{UserID: uuid.New(), Username: "host"}
	validator := staticValidator{token: "good", user: user}

	tests := []struct {
		name   string
		config AuthConfig
		setup  func(*http.Request)
		status int
		authed bool
	}{
		{
			name:   "bearer header",
			config: AuthConfig{Validator: validator},
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Bearer good") },
			status: http.StatusOK,
			authed: true,
		},
		{
			name:   "cookie",
			config: AuthConfig{Validator: validator},
			setup:  func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "access_token", Value: "good"}) },
			status: http.StatusOK,
			authed: true,
		},
		{
			name:   "query token ignored by default",
			config: AuthConfig{Validator: validator},
			setup:  func(r *http.Request) { r.URL.RawQuery = "token=good"; r.RequestURI = r.URL.RequestURI() },
			status: http.StatusUnauthorized,
		},
		{
			name:   "query token when allowed",
			config: AuthConfig{Validator: validator, AllowQueryToken: true},
			setup:  func(r *http.Request) { r.URL.RawQuery = "token=good"; r.RequestURI = r.URL.RequestURI() },
			status: http.StatusOK,
			authed: true,
		},
		{
			name:   "invalid token",
			config: AuthConfig{Validator: validator},
			setup:  func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad") },
			status: http.StatusUnauthorized,
		},
		{
			name:   "optional without token",
			config: AuthConfig{Validator: validator, Optional: true},
			setup:  func(r *http.Request) {},
			status: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", AuthMiddleware(tt.config), func(c *fiber.Ctx) error {
				return c.JSON(fiber.Map{"authed": GetUserContext(c) != nil})
			})

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(req)

			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)

			if tt.status == http.StatusOK {
				var body struct {
					Authed bool `json:"authed"`
				}
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
				assert.Equal(t, tt.authed, body.Authed)
			}
		})
	}
}

func TestGetUserID(t *testing.T) {
	user := &models.UserContext{UserID: uuid.New()}
	app := fiber.New()
	app.Get("/", AuthRequired(staticValidator{token: "good", user: user}), func(c *fiber.Ctx) error {
		id, err := GetUserID(c)
		if err != nil {
			return err
		}
		return c.SendString(id.String())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer good")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
